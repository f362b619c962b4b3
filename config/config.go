// Package config loads service configuration from defaults, an optional YAML
// file, a .env file and EDUSYNC_* environment variables, in increasing order
// of precedence.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"edusync/pkg/notifier"
)

// EnvPrefix prefixes every environment override, e.g. EDUSYNC_PORT or
// EDUSYNC_EMAIL_PROVIDER.
const EnvPrefix = "EDUSYNC"

// Data sources.
const (
	SourceMock   = "mock"
	SourceSQLite = "sqlite"
)

// Email providers. EmailNone disables the email forwarder.
const (
	EmailNone  = "none"
	EmailMock  = "mock"
	EmailGmail = "gmail"
	EmailBrevo = "brevo"
)

// DataConfig selects the profile, activity and signal provider.
type DataConfig struct {
	Source     string `mapstructure:"source"`
	SQLitePath string `mapstructure:"sqlite_path"`
	Seed       uint64 `mapstructure:"seed"` // demo data seed for the mock source
}

// StorageConfig configures the notification archive. Bucket wins over
// LocalPath when both are set.
type StorageConfig struct {
	Bucket    string `mapstructure:"bucket"`
	LocalPath string `mapstructure:"local_path"`
}

// StoreConfig holds retention settings.
type StoreConfig struct {
	MaxPerRecipient int           `mapstructure:"max_per_recipient"`
	ReadTTL         time.Duration `mapstructure:"read_ttl"`
	SweepInterval   time.Duration `mapstructure:"sweep_interval"`
}

// HubConfig tunes subscriber delivery.
type HubConfig struct {
	QueueSize int `mapstructure:"queue_size"`
}

// SyncConfig tunes the snapshot aggregator.
type SyncConfig struct {
	SourceTimeout time.Duration `mapstructure:"source_timeout"`
	RetryAttempts uint          `mapstructure:"retry_attempts"`
	RetryDelay    time.Duration `mapstructure:"retry_delay"`
}

// EmailConfig configures the email forwarder.
type EmailConfig struct {
	Provider              string `mapstructure:"provider"`
	MinPriority           string `mapstructure:"min_priority"`
	BrevoAPIKey           string `mapstructure:"brevo_api_key"`
	FromAddress           string `mapstructure:"from_address"`
	FromName              string `mapstructure:"from_name"`
	GoogleCredentialsJSON string `mapstructure:"google_credentials_json"`
	// Recipients maps recipient ids to addresses as "id=addr,id2=addr2".
	Recipients string `mapstructure:"recipients"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	WriteLimit int `mapstructure:"write_limit"`
}

// Config is the top-level service configuration.
type Config struct {
	Port     string        `mapstructure:"port"`
	LogLevel string        `mapstructure:"log_level"`
	BaseURL  string        `mapstructure:"base_url"`
	Data     DataConfig    `mapstructure:"data"`
	Storage  StorageConfig `mapstructure:"storage"`
	Store    StoreConfig   `mapstructure:"store"`
	Hub      HubConfig     `mapstructure:"hub"`
	Sync     SyncConfig    `mapstructure:"sync"`
	Email    EmailConfig   `mapstructure:"email"`
	Server   ServerConfig  `mapstructure:"server"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", "8080")
	v.SetDefault("log_level", "info")
	v.SetDefault("base_url", "http://localhost:8080")

	v.SetDefault("data.source", SourceMock)
	v.SetDefault("data.sqlite_path", "./data/edusync.db")
	v.SetDefault("data.seed", 42)

	v.SetDefault("storage.bucket", "")
	v.SetDefault("storage.local_path", "./data/archive")

	v.SetDefault("store.max_per_recipient", 1000)
	v.SetDefault("store.read_ttl", 30*24*time.Hour)
	v.SetDefault("store.sweep_interval", time.Hour)

	v.SetDefault("hub.queue_size", 256)

	v.SetDefault("sync.source_timeout", 3*time.Second)
	v.SetDefault("sync.retry_attempts", 2)
	v.SetDefault("sync.retry_delay", 200*time.Millisecond)

	v.SetDefault("email.provider", EmailMock)
	v.SetDefault("email.min_priority", string(notifier.PriorityHigh))
	v.SetDefault("email.brevo_api_key", "")
	v.SetDefault("email.from_address", "noreply@localhost")
	v.SetDefault("email.from_name", "EduSync")
	v.SetDefault("email.google_credentials_json", "")
	v.SetDefault("email.recipients", "")

	v.SetDefault("server.write_limit", 120)
}

// Load reads configuration. path names an optional YAML file; a missing file
// is not an error. A .env file in the working directory, if present, is
// loaded into the environment first.
func Load(path string) (*Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			var pathErr *os.PathError
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &pathErr) && !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadDotEnv loads file into the process environment without overriding
// variables that are already set. A missing file is ignored.
func loadDotEnv(file string) error {
	if _, err := os.Stat(file); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("stat %s: %w", file, err)
	}
	if err := godotenv.Load(file); err != nil {
		return fmt.Errorf("load %s: %w", file, err)
	}
	return nil
}

// Validate checks enumerated settings and ranges.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Port) == "" {
		return errors.New("port is required")
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	switch c.Data.Source {
	case SourceMock:
	case SourceSQLite:
		if c.Data.SQLitePath == "" {
			return errors.New("data.sqlite_path is required for the sqlite source")
		}
	default:
		return fmt.Errorf("unknown data.source %q", c.Data.Source)
	}
	switch c.Email.Provider {
	case EmailNone, EmailMock, EmailGmail:
	case EmailBrevo:
		if c.Email.BrevoAPIKey == "" {
			return errors.New("email.brevo_api_key is required for the brevo provider")
		}
	default:
		return fmt.Errorf("unknown email.provider %q", c.Email.Provider)
	}
	if _, ok := notifier.ParsePriority(c.Email.MinPriority); !ok {
		return fmt.Errorf("invalid email.min_priority %q", c.Email.MinPriority)
	}
	if _, err := c.Email.Directory(); err != nil {
		return err
	}
	if c.Store.MaxPerRecipient < 0 || c.Hub.QueueSize < 0 || c.Server.WriteLimit < 0 {
		return errors.New("limits must not be negative")
	}
	if c.Sync.SourceTimeout <= 0 {
		return errors.New("sync.source_timeout must be positive")
	}
	if c.Sync.RetryAttempts == 0 {
		return errors.New("sync.retry_attempts must be at least 1")
	}
	return nil
}

// Level returns the configured log level.
func (c *Config) Level() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return l, fmt.Errorf("invalid log_level %q: %w", c.LogLevel, err)
	}
	return l, nil
}

// Threshold returns the parsed email priority threshold.
func (e EmailConfig) Threshold() notifier.Priority {
	p, _ := notifier.ParsePriority(e.MinPriority)
	return p
}

// Directory parses Recipients into a recipient id to address map.
func (e EmailConfig) Directory() (map[string]string, error) {
	out := make(map[string]string)
	for _, pair := range strings.Split(e.Recipients, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		id, addr, ok := strings.Cut(pair, "=")
		id, addr = strings.TrimSpace(id), strings.TrimSpace(addr)
		if !ok || id == "" || addr == "" {
			return nil, fmt.Errorf("invalid email.recipients entry %q", pair)
		}
		out[id] = addr
	}
	return out, nil
}
