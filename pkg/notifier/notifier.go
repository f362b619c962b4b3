// Package notifier contains the core domain types shared by the store, hub,
// alert generator and sync aggregator.
package notifier

import (
	"maps"
	"time"
)

// Notification is a single message addressed to one recipient stream.
type Notification struct {
	CreatedAt   time.Time      `json:"created_at"`
	Data        map[string]any `json:"data,omitempty"`
	ID          string         `json:"id"`
	RecipientID string         `json:"recipient_id"`
	Type        Type           `json:"type"`
	Priority    Priority       `json:"priority"`
	Category    Category       `json:"category"`
	Title       string         `json:"title"`
	Message     string         `json:"message"`
	Read        bool           `json:"read"`
}

// Clone returns a copy that shares no mutable state with n. Data is expected
// in JSON form, as the store keeps it.
func (n Notification) Clone() Notification {
	if n.Data != nil {
		n.Data = cloneData(n.Data)
	}
	return n
}

func cloneData(m map[string]any) map[string]any {
	out := maps.Clone(m)
	for k, v := range out {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch vv := v.(type) {
	case map[string]any:
		return cloneData(vv)
	case []any:
		out := make([]any, len(vv))
		for i, e := range vv {
			out[i] = cloneValue(e)
		}
		return out
	case []string:
		return append([]string(nil), vv...)
	}
	return v
}

// Profile describes the subject of a snapshot.
type Profile struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Grade       string `json:"grade"`
	Institution string `json:"institution"`
	Status      string `json:"status"`
}

// ActivityStatus is the lifecycle state of an assigned activity.
type ActivityStatus string

// Activity statuses.
const (
	ActivityPending    ActivityStatus = "pending"
	ActivityInProgress ActivityStatus = "in_progress"
	ActivityCompleted  ActivityStatus = "completed"
)

// Activity is a unit of assigned work for a subject.
type Activity struct {
	DueDate     time.Time      `json:"due_date"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	ID          string         `json:"id"`
	Title       string         `json:"title"`
	Status      ActivityStatus `json:"status"`
	Progress    int            `json:"progress"`
}

// Metrics are the raw percentage components reported by a progress source.
// Values are not trusted to be in range.
type Metrics struct {
	Academic  float64 `json:"academic"`
	Emotional float64 `json:"emotional"`
	Social    float64 `json:"social"`
}

// Progress is the clamped, derived progress record placed in a snapshot.
type Progress struct {
	Overall             int `json:"overall"`
	Academic            int `json:"academic"`
	Emotional           int `json:"emotional"`
	Social              int `json:"social"`
	CompletedActivities int `json:"completed_activities"`
	TotalActivities     int `json:"total_activities"`
	WeeklyStreak        int `json:"weekly_streak"`
}

// Snapshot is a point-in-time read model of a subject for a viewer.
type Snapshot struct {
	GeneratedAt   time.Time            `json:"generated_at"`
	SubjectID     string               `json:"subject_id"`
	ViewerID      string               `json:"viewer_id"`
	Profile       Profile              `json:"profile"`
	Activities    []Activity           `json:"activities"`
	Notifications []Notification       `json:"notifications"`
	Alerts        []Alert              `json:"alerts"`
	Warnings      []PartialDataWarning `json:"warnings,omitempty"`
	Progress      Progress             `json:"progress"`
}

// Partial reports whether any secondary source failed while building s.
func (s *Snapshot) Partial() bool {
	return len(s.Warnings) > 0
}

// ClampPercent bounds v to [0,100] and rounds to the nearest integer.
func ClampPercent(v float64) int {
	switch {
	case v != v: // NaN
		return 0
	case v <= 0:
		return 0
	case v >= 100:
		return 100
	}
	return int(v + 0.5)
}
