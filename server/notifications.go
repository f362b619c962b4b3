package server

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"

	"edusync/pkg/notifier"
	"edusync/store"
)

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		s.badRequest(w, err.Error())
		return
	}
	var in store.CreateInput
	if err := decodeJSON(body, &in); err != nil {
		s.badRequest(w, err.Error())
		return
	}

	n, err := s.store.Create(in)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, n)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r.URL.Query())
	if err != nil {
		s.badRequest(w, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, s.store.List(chi.URLParam(r, "recipientID"), f))
}

func (s *Server) handleUnreadCount(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]int{"unread": s.store.UnreadCount(chi.URLParam(r, "recipientID"))})
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	n, err := s.store.MarkRead(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, n)
}

func (s *Server) handleMarkAllRead(w http.ResponseWriter, r *http.Request) {
	updated := s.store.MarkAllRead(chi.URLParam(r, "recipientID"))
	s.writeJSON(w, http.StatusOK, map[string]int{"updated": updated})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Delete(chi.URLParam(r, "id")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// parseFilter reads list filters from query parameters. Unknown enumeration
// values are rejected rather than silently matching nothing.
func parseFilter(q url.Values) (store.Filter, error) {
	var f store.Filter

	if v := q.Get("unread"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return f, fmt.Errorf("invalid unread value %q", v)
		}
		f.UnreadOnly = b
	}
	if v := q.Get("priority"); v != "" {
		p, ok := notifier.ParsePriority(v)
		if !ok {
			return f, fmt.Errorf("invalid priority %q", v)
		}
		f.Priority = p
	}
	if v := q.Get("min_priority"); v != "" {
		p, ok := notifier.ParsePriority(v)
		if !ok {
			return f, fmt.Errorf("invalid min_priority %q", v)
		}
		f.MinPriority = p
	}
	if v := q.Get("category"); v != "" {
		c := notifier.ParseCategory(v)
		if c == notifier.CategoryOther && v != string(notifier.CategoryOther) {
			return f, fmt.Errorf("invalid category %q", v)
		}
		f.Category = c
	}
	if v := q.Get("type"); v != "" {
		t := notifier.Type(v)
		if !t.Valid() {
			return f, fmt.Errorf("invalid type %q", v)
		}
		f.Type = t
	}
	f.Query = q.Get("q")

	var err error
	if f.Limit, err = nonNegative(q, "limit"); err != nil {
		return f, err
	}
	if f.Offset, err = nonNegative(q, "offset"); err != nil {
		return f, err
	}
	return f, nil
}

func nonNegative(q url.Values, key string) (int, error) {
	v := q.Get(key)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid %s %q", key, v)
	}
	return n, nil
}
