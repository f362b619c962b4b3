// Package server exposes the notification store, alert generator and sync
// aggregator over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"edusync/alert"
	"edusync/hub"
	"edusync/pkg/notifier"
	"edusync/store"
	"edusync/sweep"
)

// Store is the notification store.
type Store interface {
	Create(in store.CreateInput) (notifier.Notification, error)
	List(recipientID string, f store.Filter) []notifier.Notification
	MarkRead(id string) (notifier.Notification, error)
	MarkAllRead(recipientID string) int
	Delete(id string) error
	UnreadCount(recipientID string) int
}

// Subscriber registers live listeners for a recipient.
type Subscriber interface {
	Subscribe(recipientID string, cb hub.Callback) string
	Unsubscribe(token string)
}

// AlertGenerator turns signals into stored alerts.
type AlertGenerator interface {
	Generate(ctx context.Context, subjectID string, signals alert.Signals) ([]notifier.Alert, error)
	GenerateFromSource(ctx context.Context, subjectID string) ([]notifier.Alert, error)
}

// Syncer builds sync snapshots.
type Syncer interface {
	Sync(ctx context.Context, viewerID, subjectID string) (*notifier.Snapshot, error)
}

// Sweeper triggers a retention sweep.
type Sweeper interface {
	CheckAll(ctx context.Context) (sweep.Result, error)
}

// Server handles HTTP requests.
type Server struct {
	store      Store
	hub        Subscriber
	alerts     AlertGenerator
	syncer     Syncer
	sweeper    Sweeper
	metrics    http.Handler
	logger     *slog.Logger
	limiter    *rateLimiter
	keepAlive  time.Duration
	streamSize int
}

// Config holds server configuration.
type Config struct {
	Store   Store
	Hub     Subscriber
	Alerts  AlertGenerator
	Syncer  Syncer
	Sweeper Sweeper // optional; enables POST /sweepz
	Logger  *slog.Logger
	// Metrics serves /metrics. Defaults to promhttp.Handler().
	Metrics http.Handler
	// WriteLimit is the number of write requests allowed per client IP per
	// minute. Zero uses the default of 120.
	WriteLimit int
	// KeepAlive is the SSE comment interval. Zero uses 15s.
	KeepAlive time.Duration
}

// New creates a new HTTP server handler.
func New(cfg *Config) *Server {
	s := &Server{
		store:      cfg.Store,
		hub:        cfg.Hub,
		alerts:     cfg.Alerts,
		syncer:     cfg.Syncer,
		sweeper:    cfg.Sweeper,
		metrics:    cfg.Metrics,
		logger:     cfg.Logger,
		limiter:    newRateLimiter(cfg.WriteLimit, time.Minute),
		keepAlive:  cfg.KeepAlive,
		streamSize: 64,
	}
	if s.metrics == nil {
		s.metrics = promhttp.Handler()
	}
	if s.keepAlive <= 0 {
		s.keepAlive = 15 * time.Second
	}
	return s
}

// Router builds the route table.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", s.metrics)
	if s.sweeper != nil {
		r.With(s.rateLimit).Post("/sweepz", s.handleSweep)
	}

	r.Route("/api", func(r chi.Router) {
		r.With(s.rateLimit).Post("/notifications", s.handleCreate)
		r.With(s.rateLimit).Post("/notifications/{id}/read", s.handleMarkRead)
		r.With(s.rateLimit).Delete("/notifications/{id}", s.handleDelete)

		r.Route("/recipients/{recipientID}", func(r chi.Router) {
			r.Get("/notifications", s.handleList)
			r.Get("/unread-count", s.handleUnreadCount)
			r.With(s.rateLimit).Post("/read-all", s.handleMarkAllRead)
			r.Get("/stream", s.handleStream)
		})

		r.With(s.rateLimit).Post("/subjects/{subjectID}/alerts", s.handleAlerts)
		r.Get("/viewers/{viewerID}/subjects/{subjectID}/snapshot", s.handleSnapshot)
	})

	return r
}

// ServeHTTP listens on port until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ServeHTTP(ctx context.Context, port string) error {
	server := &http.Server{
		Addr:              ":" + port,
		Handler:           s.Router(),
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second, // streams clear their own deadline
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting HTTP server", "port", port)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	s.logger.Info("Sweep endpoint triggered")

	res, err := s.sweeper.CheckAll(r.Context())
	if err != nil {
		s.logger.Error("Sweep failed", "error", err)
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}
