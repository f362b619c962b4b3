package store

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	"edusync/pkg/notifier"
)

// Filter narrows a List call. Zero values match everything.
type Filter struct {
	Priority    notifier.Priority
	MinPriority notifier.Priority
	Category    notifier.Category
	Type        notifier.Type
	Query       string // case-insensitive substring of title or message
	Limit       int
	Offset      int
	UnreadOnly  bool
}

func (f Filter) match(e *entry, query string) bool {
	n := &e.n
	if f.UnreadOnly && n.Read {
		return false
	}
	if f.Priority != "" && n.Priority != f.Priority {
		return false
	}
	if f.MinPriority != "" && !n.Priority.AtLeast(f.MinPriority) {
		return false
	}
	if f.Category != "" && n.Category != f.Category {
		return false
	}
	if f.Type != "" && n.Type != f.Type {
		return false
	}
	if query != "" && !strings.Contains(e.text, query) {
		return false
	}
	return true
}

// List returns recipientID's notifications matching f, newest first. Equal
// timestamps keep insertion order reversed (the later insert first). The
// result is never nil.
func (s *Store) List(recipientID string, f Filter) []notifier.Notification {
	out := []notifier.Notification{}

	s.mu.RLock()
	box, ok := s.boxes[recipientID]
	s.mu.RUnlock()
	if !ok {
		return out
	}

	query := strings.ToLower(strings.TrimSpace(f.Query))
	skipped := 0

	box.mu.RLock()
	defer box.mu.RUnlock()

	// Entries are appended in creation order with non-decreasing CreatedAt,
	// so walking backwards yields newest first with ties broken by sequence.
	for i := len(box.entries) - 1; i >= 0; i-- {
		e := box.entries[i]
		if !f.match(e, query) {
			continue
		}
		if skipped < f.Offset {
			skipped++
			continue
		}
		out = append(out, e.n.Clone())
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out
}

// searchText flattens title and message into lowercase plain text. Producers
// may send light HTML, which is stripped so markup never matches a query.
func searchText(title, message string) string {
	return strings.ToLower(plainText(title) + "\n" + plainText(message))
}

func plainText(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return s
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return s
	}
	return strings.TrimSpace(doc.Text())
}
