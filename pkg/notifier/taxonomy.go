package notifier

import "strings"

// Priority is the severity of a notification. Priorities are totally ordered.
type Priority string

// Priorities, in descending severity.
const (
	PriorityUrgent Priority = "urgent"
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Priorities lists every priority from most to least severe.
var Priorities = []Priority{PriorityUrgent, PriorityHigh, PriorityMedium, PriorityLow}

// Rank orders priorities: urgent=4, high=3, medium=2, low=1. Unknown values rank 0.
func (p Priority) Rank() int {
	switch p {
	case PriorityUrgent:
		return 4
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 1
	}
	return 0
}

// Valid reports whether p is one of the known priorities.
func (p Priority) Valid() bool { return p.Rank() > 0 }

// AtLeast reports whether p is as severe as min or more.
func (p Priority) AtLeast(min Priority) bool { return p.Rank() >= min.Rank() }

// ParsePriority parses a priority name, case-insensitively.
func ParsePriority(s string) (Priority, bool) {
	p := Priority(strings.ToLower(strings.TrimSpace(s)))
	return p, p.Valid()
}

// Category groups notifications and alerts for filtering and display.
type Category string

// Categories. CategoryOther is reserved for unrecognized legacy data.
const (
	CategoryAcademic   Category = "academic"
	CategoryEmotional  Category = "emotional"
	CategoryBehavioral Category = "behavioral"
	CategoryPositive   Category = "positive"
	CategoryAttendance Category = "attendance"
	CategorySystem     Category = "system"
	CategoryOther      Category = "other"
)

// Categories lists every recognized category.
var Categories = []Category{
	CategoryAcademic, CategoryEmotional, CategoryBehavioral,
	CategoryPositive, CategoryAttendance, CategorySystem,
}

// Valid reports whether c is a recognized category. CategoryOther is not.
func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// ParseCategory maps s onto the taxonomy; unknown values land in CategoryOther.
func ParseCategory(s string) Category {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	if c.Valid() {
		return c
	}
	return CategoryOther
}

// Type is the kind of a notification.
type Type string

// Notification types.
const (
	TypeAcademicProgress    Type = "academic_progress"
	TypeEmotionalAlert      Type = "emotional_alert"
	TypeAppointmentReminder Type = "appointment_reminder"
	TypeAchievement         Type = "achievement"
	TypeSupportPlanUpdate   Type = "support_plan_update"
	TypeCommunication       Type = "communication"
	TypeReportAvailable     Type = "report_available"
	TypeIntelligentAlert    Type = "intelligent_alert"
)

var typeCategories = map[Type]Category{
	TypeAcademicProgress:    CategoryAcademic,
	TypeEmotionalAlert:      CategoryEmotional,
	TypeAppointmentReminder: CategorySystem,
	TypeAchievement:         CategoryPositive,
	TypeSupportPlanUpdate:   CategoryAcademic,
	TypeCommunication:       CategorySystem,
	TypeReportAvailable:     CategoryAcademic,
	TypeIntelligentAlert:    CategoryOther,
}

// Valid reports whether t is a known notification type.
func (t Type) Valid() bool {
	_, ok := typeCategories[t]
	return ok
}

// Category returns the fixed category for t. Intelligent alerts carry their
// own category in the payload, see CategoryFor.
func (t Type) Category() Category {
	if c, ok := typeCategories[t]; ok {
		return c
	}
	return CategoryOther
}

// CategoryFor resolves the category of a notification of type t with payload data.
func CategoryFor(t Type, data map[string]any) Category {
	if t == TypeIntelligentAlert {
		if s, ok := data["category"].(string); ok {
			return ParseCategory(s)
		}
		if c, ok := data["category"].(Category); ok {
			return ParseCategory(string(c))
		}
	}
	return t.Category()
}
