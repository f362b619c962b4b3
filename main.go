// Package main runs the edusync notification service: the notification store
// and hub, the alert generator, the cross-role sync aggregator, retention
// sweeping and email forwarding behind one HTTP API.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	gcs "cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"

	"edusync/aggregate"
	"edusync/alert"
	"edusync/config"
	"edusync/email"
	"edusync/hub"
	"edusync/metrics"
	"edusync/pkg/notifier"
	"edusync/provider/mock"
	"edusync/provider/sqlite"
	"edusync/server"
	"edusync/storage"
	"edusync/store"
	"edusync/sweep"
)

// dataProvider is everything the aggregator and alert generator read.
type dataProvider interface {
	aggregate.Directory
	aggregate.ActivitySource
	aggregate.ProgressSource
	alert.SignalSource
}

func main() {
	if err := run(); err != nil {
		slog.Error("Service failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(os.Getenv("EDUSYNC_CONFIG"))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	level, err := cfg.Level()
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	m := metrics.New(prometheus.DefaultRegisterer)

	archive, closeArchive, err := newArchive(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeArchive()

	h := hub.New(logger, hub.WithQueueSize(cfg.Hub.QueueSize), hub.WithMetrics(m))
	defer h.Close()

	st := store.New(h, logger,
		store.WithMaxPerRecipient(cfg.Store.MaxPerRecipient),
		store.WithMetrics(m),
		store.WithEvictionHook(func(recipientID string, evicted []notifier.Notification) {
			go func() {
				actx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer cancel()
				if err := archive.Append(actx, recipientID, evicted); err != nil {
					logger.Warn("Failed to archive evicted notifications", "recipient_id", recipientID, "count", len(evicted), "error", err)
				}
			}()
		}),
	)

	provider, closeProvider, err := newProvider(cfg, logger)
	if err != nil {
		return err
	}
	defer closeProvider()

	generator := alert.New(st, logger, alert.WithSource(provider), alert.WithMetrics(m))
	aggregator := aggregate.New(provider, provider, provider, st, logger,
		aggregate.WithSourceTimeout(cfg.Sync.SourceTimeout),
		aggregate.WithRetry(cfg.Sync.RetryAttempts, cfg.Sync.RetryDelay),
		aggregate.WithMetrics(m),
	)
	sweeper := sweep.New(st, archive, cfg.Store.ReadTTL, logger, sweep.WithMetrics(m))
	go sweeper.Run(ctx, cfg.Store.SweepInterval)

	if err := startEmail(ctx, cfg, h, m, logger); err != nil {
		return err
	}

	srv := server.New(&server.Config{
		Store:      st,
		Hub:        h,
		Alerts:     generator,
		Syncer:     aggregator,
		Sweeper:    sweeper,
		Logger:     logger,
		WriteLimit: cfg.Server.WriteLimit,
	})
	return srv.ServeHTTP(ctx, cfg.Port)
}

// newArchive stores archived notifications in GCS when a bucket is
// configured, otherwise in a local directory.
func newArchive(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*storage.Archive, func(), error) {
	if cfg.Storage.Bucket == "" {
		if err := os.MkdirAll(cfg.Storage.LocalPath, 0o750); err != nil {
			return nil, nil, fmt.Errorf("create archive directory: %w", err)
		}
		logger.Info("Archiving to local storage", "storage_path", cfg.Storage.LocalPath)
		return storage.New(nil, "", cfg.Storage.LocalPath, logger), func() {}, nil
	}

	client, err := gcs.NewClient(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("create storage client: %w", err)
	}
	logger.Info("Archiving to Cloud Storage", "bucket", cfg.Storage.Bucket)
	closeFn := func() {
		if err := client.Close(); err != nil {
			logger.Warn("Failed to close storage client", "error", err)
		}
	}
	return storage.New(client, cfg.Storage.Bucket, "", logger), closeFn, nil
}

func newProvider(cfg *config.Config, logger *slog.Logger) (dataProvider, func(), error) {
	switch cfg.Data.Source {
	case config.SourceSQLite:
		db, err := sqlite.Open(cfg.Data.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite provider: %w", err)
		}
		logger.Info("Using SQLite data provider", "path", cfg.Data.SQLitePath)
		return db, func() {
			if err := db.Close(); err != nil {
				logger.Warn("Failed to close sqlite provider", "error", err)
			}
		}, nil
	case config.SourceMock:
		logger.Info("Using demo data provider", "seed", cfg.Data.Seed)
		return mock.Demo(cfg.Data.Seed, time.Now()), func() {}, nil
	}
	return nil, nil, fmt.Errorf("unknown data source %q", cfg.Data.Source)
}

// startEmail subscribes the email forwarder to every recipient with a
// configured address.
func startEmail(ctx context.Context, cfg *config.Config, h *hub.Hub, m *metrics.Metrics, logger *slog.Logger) error {
	if cfg.Email.Provider == config.EmailNone {
		logger.Info("Email forwarding disabled")
		return nil
	}
	dir, err := cfg.Email.Directory()
	if err != nil {
		return err
	}
	directory := email.StaticDirectory(dir)
	if len(directory) == 0 {
		logger.Info("No email recipients configured")
		return nil
	}

	var provider email.Provider
	switch cfg.Email.Provider {
	case config.EmailGmail:
		svc, err := email.NewGmailService(ctx, cfg.Email.GoogleCredentialsJSON)
		if err != nil {
			return fmt.Errorf("init gmail: %w", err)
		}
		provider = email.NewGmailProvider(svc, logger)
	case config.EmailBrevo:
		provider = email.NewBrevoProvider(cfg.Email.BrevoAPIKey, cfg.Email.FromAddress, cfg.Email.FromName, logger)
	case config.EmailMock:
		logger.Info("Mock email mode enabled")
		provider = email.NewMockProvider(logger)
	default:
		return errors.New("unknown email provider " + cfg.Email.Provider)
	}

	sender := email.New(provider, directory, logger, cfg.BaseURL,
		email.WithMinPriority(cfg.Email.Threshold()),
		email.WithMetrics(m))
	for _, id := range directory.Recipients() {
		h.Subscribe(id, sender.Callback(ctx))
	}
	logger.Info("Email forwarding enabled",
		"provider", cfg.Email.Provider,
		"recipients", len(directory),
		"min_priority", cfg.Email.Threshold())
	return nil
}
