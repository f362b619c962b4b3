// Package storage archives notifications removed from the live store, in
// Cloud Storage or a local directory.
package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/storage"
	"github.com/codeGROOVE-dev/retry"
	"google.golang.org/api/iterator"

	"edusync/pkg/notifier"
)

const keyPrefix = "archive-"

var errNotExist = errors.New("storage: object doesn't exist")

// Record is the archived history of one recipient.
type Record struct {
	UpdatedAt     time.Time               `json:"updated_at"`
	RecipientID   string                  `json:"recipient_id"`
	Notifications []notifier.Notification `json:"notifications"`
}

// Archive handles notification archive persistence.
type Archive struct {
	client    *storage.Client
	logger    *slog.Logger
	localPath string
	bucket    string
	mu        sync.Mutex // serializes read-modify-write in Append
}

// New creates an archive. When localPath is set, the bucket is ignored and
// records are written to the local filesystem.
func New(client *storage.Client, bucket string, localPath string, logger *slog.Logger) *Archive {
	return &Archive{
		client:    client,
		logger:    logger,
		localPath: localPath,
		bucket:    bucket,
	}
}

// RecordKey derives a stable object name from a recipient id. Hashing keeps
// arbitrary ids from escaping the archive directory.
func RecordKey(recipientID string) string {
	if strings.TrimSpace(recipientID) == "" {
		return ""
	}
	h := sha256.Sum256([]byte(recipientID))
	return keyPrefix + hex.EncodeToString(h[:]) + ".json"
}

// Append merges ns into the recipient's record. Notifications already
// archived (same id) are replaced by the newer copy.
func (a *Archive) Append(ctx context.Context, recipientID string, ns []notifier.Notification) error {
	if len(ns) == 0 {
		return nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	rec, err := a.Load(ctx, recipientID)
	if err != nil {
		if !IsNotFound(err) {
			return fmt.Errorf("load archive: %w", err)
		}
		rec = &Record{RecipientID: recipientID}
	}

	byID := make(map[string]int, len(rec.Notifications))
	for i, n := range rec.Notifications {
		byID[n.ID] = i
	}
	for _, n := range ns {
		if i, ok := byID[n.ID]; ok {
			rec.Notifications[i] = n
			continue
		}
		byID[n.ID] = len(rec.Notifications)
		rec.Notifications = append(rec.Notifications, n)
	}
	sort.SliceStable(rec.Notifications, func(i, j int) bool {
		return rec.Notifications[i].CreatedAt.Before(rec.Notifications[j].CreatedAt)
	})
	rec.UpdatedAt = time.Now().UTC()

	return a.save(ctx, rec)
}

func (a *Archive) save(ctx context.Context, rec *Record) error {
	key := RecordKey(rec.RecipientID)
	if key == "" {
		return errors.New("invalid recipient id")
	}
	a.logger.Debug("Saving archive record", "key", key, "recipient_id", rec.RecipientID)

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal archive record: %w", err)
	}

	if a.localPath != "" {
		filePath := filepath.Join(a.localPath, key)
		if err := os.WriteFile(filePath, data, 0o600); err != nil {
			return fmt.Errorf("write to local storage: %w", err)
		}
		a.logger.Info("Archive saved to local storage", "path", filePath, "recipient_id", rec.RecipientID, "count", len(rec.Notifications))
		return nil
	}

	err = retry.Do(
		func() error {
			w := a.client.Bucket(a.bucket).Object(key).NewWriter(ctx)
			w.ContentType = "application/json"
			if _, writeErr := w.Write(data); writeErr != nil {
				if closeErr := w.Close(); closeErr != nil {
					a.logger.Warn("Failed to close writer after error", "error", closeErr)
				}
				return fmt.Errorf("write to storage: %w", writeErr)
			}
			if closeErr := w.Close(); closeErr != nil {
				return fmt.Errorf("close storage writer: %w", closeErr)
			}
			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(30*time.Second),
		retry.MaxJitter(5*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, retryErr error) {
			a.logger.Info("Retrying archive save after error", "attempt", n, "key", key, "error", retryErr)
		}),
	)
	if err != nil {
		return fmt.Errorf("save after retries: %w", err)
	}

	a.logger.Info("Archive saved", "key", key, "recipient_id", rec.RecipientID, "count", len(rec.Notifications))
	return nil
}

// Load loads the archived record of a recipient.
func (a *Archive) Load(ctx context.Context, recipientID string) (*Record, error) {
	return a.loadKey(ctx, RecordKey(recipientID))
}

func (a *Archive) loadKey(ctx context.Context, key string) (*Record, error) {
	if key == "" {
		return nil, errors.New("invalid key format")
	}

	var data []byte
	if a.localPath != "" {
		var err error
		data, err = os.ReadFile(filepath.Join(a.localPath, key))
		if err != nil {
			if os.IsNotExist(err) {
				return nil, errNotExist
			}
			return nil, fmt.Errorf("read from local storage: %w", err)
		}
	} else {
		err := retry.Do(
			func() error {
				r, openErr := a.client.Bucket(a.bucket).Object(key).NewReader(ctx)
				if openErr != nil {
					if errors.Is(openErr, storage.ErrObjectNotExist) {
						return retry.Unrecoverable(errNotExist)
					}
					return fmt.Errorf("open storage reader: %w", openErr)
				}
				defer func() {
					if closeErr := r.Close(); closeErr != nil {
						a.logger.Warn("Failed to close storage reader", "error", closeErr)
					}
				}()

				var readErr error
				data, readErr = io.ReadAll(r)
				if readErr != nil {
					return fmt.Errorf("read from storage: %w", readErr)
				}
				return nil
			},
			retry.Attempts(3),
			retry.Delay(time.Second),
			retry.MaxDelay(30*time.Second),
			retry.MaxJitter(5*time.Second),
			retry.Context(ctx),
			retry.OnRetry(func(n uint, retryErr error) {
				a.logger.Info("Retrying archive load after error", "attempt", n, "key", key, "error", retryErr)
			}),
		)
		if err != nil {
			if errors.Is(err, errNotExist) {
				return nil, errNotExist
			}
			return nil, fmt.Errorf("load after retries: %w", err)
		}
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal archive record: %w", err)
	}
	return &rec, nil
}

// Delete removes a recipient's archive. Missing records are not an error.
func (a *Archive) Delete(ctx context.Context, recipientID string) error {
	key := RecordKey(recipientID)
	if key == "" {
		return errors.New("invalid recipient id")
	}

	if a.localPath != "" {
		if err := os.Remove(filepath.Join(a.localPath, key)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("delete from local storage: %w", err)
		}
		a.logger.Info("Archive deleted from local storage", "recipient_id", recipientID)
		return nil
	}

	err := retry.Do(
		func() error {
			if deleteErr := a.client.Bucket(a.bucket).Object(key).Delete(ctx); deleteErr != nil {
				if errors.Is(deleteErr, storage.ErrObjectNotExist) {
					return nil
				}
				return fmt.Errorf("delete from storage: %w", deleteErr)
			}
			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.Context(ctx),
	)
	if err != nil {
		return fmt.Errorf("delete after retries: %w", err)
	}

	a.logger.Info("Archive deleted", "key", key, "recipient_id", recipientID)
	return nil
}

// List loads every archived record. Unreadable records are logged and skipped.
func (a *Archive) List(ctx context.Context) ([]*Record, error) {
	var recs []*Record

	if a.localPath != "" {
		entries, err := os.ReadDir(a.localPath)
		if err != nil {
			return nil, fmt.Errorf("read local storage directory: %w", err)
		}
		for _, entry := range entries {
			if entry.IsDir() || !strings.HasPrefix(entry.Name(), keyPrefix) || !strings.HasSuffix(entry.Name(), ".json") {
				continue
			}
			rec, err := a.loadKey(ctx, entry.Name())
			if err != nil {
				a.logger.Warn("Failed to load archive record", "file", entry.Name(), "error", err)
				continue
			}
			recs = append(recs, rec)
		}
		return recs, nil
	}

	it := a.client.Bucket(a.bucket).Objects(ctx, &storage.Query{Prefix: keyPrefix})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("iterate storage: %w", err)
		}
		rec, err := a.loadKey(ctx, attrs.Name)
		if err != nil {
			a.logger.Warn("Failed to load archive record", "key", attrs.Name, "error", err)
			continue
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

// IsNotFound reports whether err means the record does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, errNotExist)
}
