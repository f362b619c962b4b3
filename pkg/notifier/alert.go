package notifier

import (
	"fmt"
	"time"
)

// ActionKind is how soon a suggested action should be taken.
type ActionKind string

// Action kinds.
const (
	ActionImmediate ActionKind = "immediate"
	ActionUrgent    ActionKind = "urgent"
	ActionFollowUp  ActionKind = "follow_up"
)

// Action is a suggested next step attached to an alert.
type Action struct {
	ID    string     `json:"id"`
	Label string     `json:"label"`
	Kind  ActionKind `json:"kind"`
}

// Alert is a system-generated notification with a confidence score,
// recommendations and suggested actions.
type Alert struct {
	CreatedAt       time.Time `json:"created_at"`
	ID              string    `json:"id"`
	SubjectID       string    `json:"subject_id"`
	Category        Category  `json:"category"`
	Priority        Priority  `json:"priority"`
	Title           string    `json:"title"`
	Message         string    `json:"message"`
	Recommendations []string  `json:"recommendations"`
	Actions         []Action  `json:"actions"`
	Confidence      int       `json:"confidence"`
	Read            bool      `json:"read"`
}

// Data renders the alert-specific fields as a notification payload.
// Values are kept JSON-shaped so the payload survives encoding unchanged.
func (a Alert) Data() map[string]any {
	recs := make([]any, len(a.Recommendations))
	for i, r := range a.Recommendations {
		recs[i] = r
	}
	actions := make([]any, len(a.Actions))
	for i, act := range a.Actions {
		actions[i] = map[string]any{"id": act.ID, "label": act.Label, "kind": string(act.Kind)}
	}
	return map[string]any{
		"subjectId":       a.SubjectID,
		"category":        string(a.Category),
		"confidence":      a.Confidence,
		"recommendations": recs,
		"actions":         actions,
	}
}

// AlertFromNotification decodes an intelligent_alert notification back into
// an Alert.
func AlertFromNotification(n Notification) (Alert, error) {
	if n.Type != TypeIntelligentAlert {
		return Alert{}, fmt.Errorf("decode alert %s: unexpected type %q", n.ID, n.Type)
	}
	a := Alert{
		ID:        n.ID,
		SubjectID: n.RecipientID,
		Category:  CategoryFor(n.Type, n.Data),
		Priority:  n.Priority,
		Title:     n.Title,
		Message:   n.Message,
		CreatedAt: n.CreatedAt,
		Read:      n.Read,
	}
	if s, ok := n.Data["subjectId"].(string); ok && s != "" {
		a.SubjectID = s
	}

	switch c := n.Data["confidence"].(type) {
	case int:
		a.Confidence = c
	case int64:
		a.Confidence = int(c)
	case float64:
		a.Confidence = int(c)
	}

	switch recs := n.Data["recommendations"].(type) {
	case []string:
		a.Recommendations = append(a.Recommendations, recs...)
	case []any:
		for _, r := range recs {
			if s, ok := r.(string); ok {
				a.Recommendations = append(a.Recommendations, s)
			}
		}
	}

	switch acts := n.Data["actions"].(type) {
	case []Action:
		a.Actions = append(a.Actions, acts...)
	case []any:
		for _, raw := range acts {
			m, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			var act Action
			act.ID, _ = m["id"].(string)
			act.Label, _ = m["label"].(string)
			kind, _ := m["kind"].(string)
			act.Kind = ActionKind(kind)
			a.Actions = append(a.Actions, act)
		}
	}

	return a, nil
}
