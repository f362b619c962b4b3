package server

import (
	"bytes"
	"net/http"

	"github.com/go-chi/chi/v5"

	"edusync/alert"
	"edusync/pkg/notifier"
)

// handleAlerts generates alerts from the posted signals, or from the
// configured signal source when the body is empty.
func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	subjectID := chi.URLParam(r, "subjectID")

	body, err := readBody(w, r)
	if err != nil {
		s.badRequest(w, err.Error())
		return
	}

	var alerts []notifier.Alert
	if len(bytes.TrimSpace(body)) == 0 {
		alerts, err = s.alerts.GenerateFromSource(r.Context(), subjectID)
	} else {
		var signals alert.Signals
		if err := decodeJSON(body, &signals); err != nil {
			s.badRequest(w, err.Error())
			return
		}
		alerts, err = s.alerts.Generate(r.Context(), subjectID, signals)
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	if alerts == nil {
		alerts = []notifier.Alert{}
	}
	s.writeJSON(w, http.StatusOK, alerts)
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := s.syncer.Sync(r.Context(), chi.URLParam(r, "viewerID"), chi.URLParam(r, "subjectID"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, snap)
}
