package alert

import (
	"fmt"
	"time"

	"edusync/pkg/notifier"
)

const (
	highConfidence = 85
	baseConfidence = 55

	academicFloor      = 50.0
	academicSevere     = 30.0
	academicDrop       = 15.0
	academicSevereDrop = 30.0

	moodFloor  = 40.0
	moodSevere = 25.0
	moodDrop   = 25.0

	attendanceHigh   = 75.0
	attendanceMedium = 90.0

	positiveRise = 15.0
	positiveRate = 90.0

	window = 7 * 24 * time.Hour
)

// Signals are the upstream indicators alerts are derived from. Nil rates are
// unknown and skip their rule.
type Signals struct {
	CompletionRate         *float64  `json:"completion_rate,omitempty"`
	PreviousCompletionRate *float64  `json:"previous_completion_rate,omitempty"`
	AttendanceRate         *float64  `json:"attendance_rate,omitempty"`
	MoodScores             []float64 `json:"mood_scores,omitempty"` // oldest first
	BehavioralIncidents    int       `json:"behavioral_incidents"`
	Observations           int       `json:"observations"`
}

// Rate returns a pointer to v, for filling Signals.
func Rate(v float64) *float64 { return &v }

// Empty reports whether s carries no indicator at all.
func (s Signals) Empty() bool {
	return s.CompletionRate == nil && s.PreviousCompletionRate == nil && s.AttendanceRate == nil &&
		len(s.MoodScores) == 0 && s.BehavioralIncidents == 0
}

// confidence grows with sample size and with how far past its threshold a
// signal is.
func confidence(observations int, magnitude float64) int {
	if observations < 0 {
		observations = 0
	}
	if magnitude < 0 {
		magnitude = 0
	}
	return notifier.ClampPercent(baseConfidence + 3*float64(observations) + magnitude/2)
}

// Evaluate applies the banding rules to s. It is pure: alerts are returned
// without ids or timestamps, in a fixed category order.
func Evaluate(subjectID string, s Signals) []notifier.Alert {
	var out []notifier.Alert

	academicDecline := false
	if a, ok := academic(subjectID, s); ok {
		academicDecline = true
		out = append(out, a)
	}
	emotionalDecline := false
	if a, ok := emotional(subjectID, s); ok {
		emotionalDecline = true
		out = append(out, a)
	}
	if a, ok := behavioral(subjectID, s); ok {
		out = append(out, a)
	}
	if a, ok := attendance(subjectID, s); ok {
		out = append(out, a)
	}
	if !academicDecline && !emotionalDecline {
		if a, ok := positive(subjectID, s); ok {
			out = append(out, a)
		}
	}
	return out
}

func academic(subjectID string, s Signals) (notifier.Alert, bool) {
	if s.CompletionRate == nil {
		return notifier.Alert{}, false
	}
	rate := *s.CompletionRate
	drop := 0.0
	if s.PreviousCompletionRate != nil {
		drop = *s.PreviousCompletionRate - rate
	}
	if rate >= academicFloor && drop < academicDrop {
		return notifier.Alert{}, false
	}

	conf := confidence(s.Observations, max(academicFloor-rate, drop))
	var p notifier.Priority
	switch {
	case conf >= highConfidence && (rate < academicSevere || drop >= academicSevereDrop):
		p = notifier.PriorityUrgent
	case conf >= highConfidence:
		p = notifier.PriorityHigh
	default:
		p = notifier.PriorityMedium
	}

	msg := fmt.Sprintf("Activity completion is at %d%%.", notifier.ClampPercent(rate))
	if drop > 0 {
		msg = fmt.Sprintf("Activity completion fell %d points to %d%% over the last week.", notifier.ClampPercent(drop), notifier.ClampPercent(rate))
	}
	return build(subjectID, notifier.CategoryAcademic, p, conf, "Academic performance decline", msg), true
}

func emotional(subjectID string, s Signals) (notifier.Alert, bool) {
	if len(s.MoodScores) == 0 {
		return notifier.Alert{}, false
	}
	recent := s.MoodScores[max(0, len(s.MoodScores)-3):]
	var sum float64
	for _, m := range recent {
		sum += m
	}
	mean := sum / float64(len(recent))
	drop := 0.0
	if len(s.MoodScores) > 1 {
		drop = s.MoodScores[0] - s.MoodScores[len(s.MoodScores)-1]
	}
	if mean >= moodFloor && drop < moodDrop {
		return notifier.Alert{}, false
	}

	conf := confidence(s.Observations, max(moodFloor-mean, drop))
	var p notifier.Priority
	switch {
	case conf >= highConfidence && mean < moodSevere:
		p = notifier.PriorityUrgent
	case conf >= highConfidence:
		p = notifier.PriorityHigh
	default:
		p = notifier.PriorityMedium
	}

	msg := fmt.Sprintf("Recent mood reports average %d out of 100.", notifier.ClampPercent(mean))
	return build(subjectID, notifier.CategoryEmotional, p, conf, "Emotional wellbeing concern", msg), true
}

func behavioral(subjectID string, s Signals) (notifier.Alert, bool) {
	n := s.BehavioralIncidents
	if n <= 0 {
		return notifier.Alert{}, false
	}

	conf := confidence(s.Observations, float64(n)*5)
	var p notifier.Priority
	switch {
	case n >= 5:
		p = notifier.PriorityUrgent
	case n >= 3:
		p = notifier.PriorityHigh
	case conf >= highConfidence:
		p = notifier.PriorityMedium
	default:
		return notifier.Alert{}, false
	}

	msg := fmt.Sprintf("%d behavioral incidents were reported recently.", n)
	if n == 1 {
		msg = "1 behavioral incident was reported recently."
	}
	return build(subjectID, notifier.CategoryBehavioral, p, conf, "Behavioral incidents reported", msg), true
}

func attendance(subjectID string, s Signals) (notifier.Alert, bool) {
	if s.AttendanceRate == nil {
		return notifier.Alert{}, false
	}
	rate := *s.AttendanceRate

	var p notifier.Priority
	switch {
	case rate < attendanceHigh:
		p = notifier.PriorityHigh
	case rate < attendanceMedium:
		p = notifier.PriorityMedium
	default:
		return notifier.Alert{}, false
	}

	conf := confidence(s.Observations, attendanceMedium-rate)
	msg := fmt.Sprintf("Attendance is at %d%%.", notifier.ClampPercent(rate))
	return build(subjectID, notifier.CategoryAttendance, p, conf, "Low attendance", msg), true
}

func positive(subjectID string, s Signals) (notifier.Alert, bool) {
	if s.CompletionRate == nil {
		return notifier.Alert{}, false
	}
	rate := *s.CompletionRate
	rise := 0.0
	if s.PreviousCompletionRate != nil {
		rise = rate - *s.PreviousCompletionRate
	}
	if rise < positiveRise && rate < positiveRate {
		return notifier.Alert{}, false
	}

	conf := confidence(s.Observations, max(rise, rate-positiveRate))
	if conf < highConfidence {
		return notifier.Alert{}, false
	}

	msg := fmt.Sprintf("Activity completion reached %d%%.", notifier.ClampPercent(rate))
	if rise > 0 {
		msg = fmt.Sprintf("Activity completion rose %d points to %d%%.", notifier.ClampPercent(rise), notifier.ClampPercent(rate))
	}
	return build(subjectID, notifier.CategoryPositive, notifier.PriorityLow, conf, "Positive progress", msg), true
}

func build(subjectID string, c notifier.Category, p notifier.Priority, conf int, title, msg string) notifier.Alert {
	g := guidance[c]
	return notifier.Alert{
		SubjectID:       subjectID,
		Category:        c,
		Priority:        p,
		Title:           title,
		Message:         msg,
		Confidence:      conf,
		Recommendations: append([]string(nil), g.recommendations...),
		Actions:         actionsFor(g.actions, p),
	}
}

// actionsFor sets the kind of the primary action from the alert priority.
func actionsFor(base []notifier.Action, p notifier.Priority) []notifier.Action {
	out := append([]notifier.Action(nil), base...)
	switch p {
	case notifier.PriorityUrgent:
		out[0].Kind = notifier.ActionImmediate
	case notifier.PriorityHigh:
		out[0].Kind = notifier.ActionUrgent
	}
	return out
}

type advice struct {
	recommendations []string
	actions         []notifier.Action
}

var guidance = map[notifier.Category]advice{
	notifier.CategoryAcademic: {
		recommendations: []string{
			"Review the pending activities together and agree on a schedule",
			"Ask the teacher about additional support sessions",
		},
		actions: []notifier.Action{
			{ID: "schedule_tutoring", Label: "Schedule tutoring", Kind: notifier.ActionFollowUp},
			{ID: "contact_teacher", Label: "Contact teacher", Kind: notifier.ActionFollowUp},
		},
	},
	notifier.CategoryEmotional: {
		recommendations: []string{
			"Have a calm conversation about how the week is going",
			"Consider a session with the school counselor",
		},
		actions: []notifier.Action{
			{ID: "contact_counselor", Label: "Contact counselor", Kind: notifier.ActionFollowUp},
			{ID: "view_mood_history", Label: "View mood history", Kind: notifier.ActionFollowUp},
		},
	},
	notifier.CategoryBehavioral: {
		recommendations: []string{
			"Review the incident reports with the school",
			"Agree on clear expectations and follow-up at home",
		},
		actions: []notifier.Action{
			{ID: "request_meeting", Label: "Request meeting", Kind: notifier.ActionFollowUp},
			{ID: "view_incidents", Label: "View incidents", Kind: notifier.ActionFollowUp},
		},
	},
	notifier.CategoryAttendance: {
		recommendations: []string{
			"Check the absence record for unexcused days",
			"Talk with the school about barriers to attendance",
		},
		actions: []notifier.Action{
			{ID: "contact_school", Label: "Contact school", Kind: notifier.ActionFollowUp},
		},
	},
	notifier.CategoryPositive: {
		recommendations: []string{
			"Celebrate the progress and keep the current routine",
		},
		actions: []notifier.Action{
			{ID: "send_congratulations", Label: "Send congratulations", Kind: notifier.ActionFollowUp},
		},
	},
}

// SignalsFromActivities derives completion indicators from an activity list:
// the rate over activities due in the last 7 days and over the 7 days before.
// A window with nothing due leaves its rate unknown.
func SignalsFromActivities(activities []notifier.Activity, now time.Time) Signals {
	var cur, prev, curDone, prevDone int
	for _, a := range activities {
		age := now.Sub(a.DueDate)
		if age < 0 {
			continue
		}
		done := a.Status == notifier.ActivityCompleted
		switch {
		case age < window:
			cur++
			if done {
				curDone++
			}
		case age < 2*window:
			prev++
			if done {
				prevDone++
			}
		}
	}

	var s Signals
	if cur > 0 {
		s.CompletionRate = Rate(100 * float64(curDone) / float64(cur))
	}
	if prev > 0 {
		s.PreviousCompletionRate = Rate(100 * float64(prevDone) / float64(prev))
	}
	s.Observations = cur + prev
	return s
}
