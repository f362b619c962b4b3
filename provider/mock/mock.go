// Package mock provides an in-memory data provider with explicit,
// deterministic data. It implements every source the aggregator and the
// alert generator consume, and supports failure and latency injection.
package mock

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"edusync/alert"
	"edusync/pkg/notifier"
)

// Source names accepted by Fail and Delay.
const (
	SourceProfile    = "profile"
	SourceActivities = "activities"
	SourceProgress   = "progress"
	SourceSignals    = "signals"
)

// Provider is a deterministic stand-in for the directory, activity, progress
// and signal services. It is safe for concurrent use.
type Provider struct {
	now        func() time.Time
	profiles   map[string]notifier.Profile
	links      map[string]map[string]bool // viewer -> subjects
	activities map[string][]notifier.Activity
	progress   map[string]notifier.Metrics
	signals    map[string]alert.Signals
	failures   map[string]error
	delays     map[string]time.Duration
	mu         sync.RWMutex
}

// New creates an empty provider.
func New() *Provider {
	return &Provider{
		now:        time.Now,
		profiles:   make(map[string]notifier.Profile),
		links:      make(map[string]map[string]bool),
		activities: make(map[string][]notifier.Activity),
		progress:   make(map[string]notifier.Metrics),
		signals:    make(map[string]alert.Signals),
		failures:   make(map[string]error),
		delays:     make(map[string]time.Duration),
	}
}

// SetClock overrides time.Now for derived signals.
func (p *Provider) SetClock(now func() time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.now = now
}

// AddSubject registers a subject profile.
func (p *Provider) AddSubject(profile notifier.Profile) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.profiles[profile.ID] = profile
}

// Link allows viewerID to see subjectID.
func (p *Provider) Link(viewerID, subjectID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.links[viewerID] == nil {
		p.links[viewerID] = make(map[string]bool)
	}
	p.links[viewerID][subjectID] = true
}

// SetActivities replaces the activities of subjectID.
func (p *Provider) SetActivities(subjectID string, activities []notifier.Activity) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.activities[subjectID] = append([]notifier.Activity(nil), activities...)
}

// SetProgress replaces the raw progress metrics of subjectID.
func (p *Provider) SetProgress(subjectID string, m notifier.Metrics) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.progress[subjectID] = m
}

// SetSignals sets explicit alert signals for subjectID. Without them,
// signals are derived from the subject's activities.
func (p *Provider) SetSignals(subjectID string, s alert.Signals) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.signals[subjectID] = s
}

// Fail makes every call to source return err. A nil err clears the failure.
func (p *Provider) Fail(source string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err == nil {
		delete(p.failures, source)
		return
	}
	p.failures[source] = err
}

// Delay makes every call to source wait d, or until its context is done.
func (p *Provider) Delay(source string, d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.delays[source] = d
}

func (p *Provider) enter(ctx context.Context, source string) error {
	p.mu.RLock()
	d := p.delays[source]
	err := p.failures[source]
	p.mu.RUnlock()

	if d > 0 {
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}

// ResolveSubject returns the subject's profile when viewerID is linked to it
// or is the subject itself.
func (p *Provider) ResolveSubject(ctx context.Context, viewerID, subjectID string) (notifier.Profile, error) {
	if err := p.enter(ctx, SourceProfile); err != nil {
		return notifier.Profile{}, err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	profile, ok := p.profiles[subjectID]
	if !ok || (viewerID != subjectID && !p.links[viewerID][subjectID]) {
		return notifier.Profile{}, &notifier.SubjectNotFoundError{ViewerID: viewerID, SubjectID: subjectID}
	}
	return profile, nil
}

// Activities returns a copy of the subject's activities.
func (p *Provider) Activities(ctx context.Context, subjectID string) ([]notifier.Activity, error) {
	if err := p.enter(ctx, SourceActivities); err != nil {
		return nil, err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]notifier.Activity{}, p.activities[subjectID]...), nil
}

// Progress returns the subject's raw metrics. Unknown subjects report zeros.
func (p *Provider) Progress(ctx context.Context, subjectID string) (notifier.Metrics, error) {
	if err := p.enter(ctx, SourceProgress); err != nil {
		return notifier.Metrics{}, err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.progress[subjectID], nil
}

// Signals returns explicit signals for the subject, or signals derived from
// its activities.
func (p *Provider) Signals(ctx context.Context, subjectID string) (alert.Signals, error) {
	if err := p.enter(ctx, SourceSignals); err != nil {
		return alert.Signals{}, err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	if s, ok := p.signals[subjectID]; ok {
		s.MoodScores = append([]float64(nil), s.MoodScores...)
		return s, nil
	}
	if _, ok := p.profiles[subjectID]; !ok {
		return alert.Signals{}, &notifier.SubjectNotFoundError{SubjectID: subjectID}
	}
	return alert.SignalsFromActivities(p.activities[subjectID], p.now()), nil
}

var activityTitles = []string{
	"Reading comprehension worksheet",
	"Fractions practice set",
	"Science journal entry",
	"History timeline project",
	"Vocabulary quiz",
	"Geometry exercises",
	"Book report draft",
	"Lab safety review",
	"Map skills activity",
	"Creative writing prompt",
}

// Demo builds a provider with one parent (parent-1) linked to two students
// (student-1 and student-2) and a counselor (counselor-1) linked to both.
// The same seed and now always produce the same data.
func Demo(seed uint64, now time.Time) *Provider {
	p := New()
	p.now = func() time.Time { return now }
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))

	students := []notifier.Profile{
		{ID: "student-1", Name: "Ana Torres", Grade: "5th", Institution: "Lincoln Elementary", Status: "active"},
		{ID: "student-2", Name: "Leo Torres", Grade: "8th", Institution: "Roosevelt Middle School", Status: "active"},
	}
	today := time.Date(now.Year(), now.Month(), now.Day(), 17, 0, 0, 0, now.Location())

	for _, s := range students {
		p.profiles[s.ID] = s
		p.Link("parent-1", s.ID)
		p.Link("counselor-1", s.ID)

		var acts []notifier.Activity
		for i, title := range activityTitles {
			due := today.AddDate(0, 0, i-7)
			act := notifier.Activity{
				ID:      fmt.Sprintf("%s-act-%02d", s.ID, i+1),
				Title:   title,
				DueDate: due,
			}
			switch r := rng.IntN(10); {
			case i < 3 || r < 6:
				completed := due.Add(-time.Duration(rng.IntN(6)) * time.Hour)
				if completed.After(now) {
					completed = now
				}
				act.Status = notifier.ActivityCompleted
				act.Progress = 100
				act.CompletedAt = &completed
			case r < 8:
				act.Status = notifier.ActivityInProgress
				act.Progress = 10 + rng.IntN(80)
			default:
				act.Status = notifier.ActivityPending
			}
			acts = append(acts, act)
		}
		p.activities[s.ID] = acts

		p.progress[s.ID] = notifier.Metrics{
			Academic:  float64(55 + rng.IntN(40)),
			Emotional: float64(50 + rng.IntN(45)),
			Social:    float64(45 + rng.IntN(50)),
		}
	}
	return p
}
