package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"edusync/hub"
	"edusync/pkg/notifier"
)

// handleStream relays a recipient's new notifications as Server-Sent Events
// until the client disconnects.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	recipientID := chi.URLParam(r, "recipientID")

	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		s.logger.Debug("Write deadline not supported", "error", err)
	}

	events := make(chan notifier.Notification, s.streamSize)
	token := s.hub.Subscribe(recipientID, func(n notifier.Notification) error {
		select {
		case events <- n:
			return nil
		default:
			return hub.ErrSubscriberLagging
		}
	})
	defer s.hub.Unsubscribe(token)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		s.logger.Warn("Streaming not supported", "error", err)
		return
	}

	s.logger.Info("Stream opened", "recipient_id", recipientID, "token", token)
	defer s.logger.Info("Stream closed", "recipient_id", recipientID, "token", token)

	ticker := time.NewTicker(s.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
		case n := <-events:
			data, err := json.Marshal(n)
			if err != nil {
				s.logger.Warn("Failed to encode stream event", "notification_id", n.ID, "error", err)
				continue
			}
			if _, err := fmt.Fprintf(w, "id: %s\nevent: notification\ndata: %s\n\n", n.ID, data); err != nil {
				return
			}
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}
