// Package sqlite implements the directory, activity, progress and signal
// sources on a local SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"edusync/alert"
	"edusync/pkg/notifier"
)

const signalWindow = 14 * 24 * time.Hour

// Provider reads subject data from SQLite.
type Provider struct {
	db  *sqlx.DB
	now func() time.Time
}

// Open opens (or creates) a SQLite database at dbPath, enables WAL mode and
// foreign keys, and runs any pending schema migrations.
func Open(dbPath string) (*Provider, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	// Every connection to :memory: is a separate database.
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	p := &Provider{db: db, now: time.Now}
	if err := p.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return p, nil
}

// SetClock overrides time.Now for derived signals.
func (p *Provider) SetClock(now func() time.Time) { p.now = now }

// Close closes the underlying database connection.
func (p *Provider) Close() error {
	return p.db.Close()
}

// SchemaVersion returns the highest applied migration.
func (p *Provider) SchemaVersion(ctx context.Context) (int, error) {
	var v int
	if err := p.db.GetContext(ctx, &v, "SELECT COALESCE(MAX(version), 0) FROM schema_version"); err != nil {
		return 0, fmt.Errorf("reading schema version: %w", err)
	}
	return v, nil
}

func (p *Provider) runMigrations() error {
	currentVersion := 0

	var tableCount int
	err := p.db.Get(
		&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	)
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}

	if tableCount > 0 {
		err = p.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
		if err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := p.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}
	return nil
}

// UpsertProfile inserts or replaces a subject profile.
func (p *Provider) UpsertProfile(ctx context.Context, profile notifier.Profile) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO profiles (id, name, grade, institution, status, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			grade = excluded.grade,
			institution = excluded.institution,
			status = excluded.status,
			updated_at = excluded.updated_at`,
		profile.ID, profile.Name, profile.Grade, profile.Institution, profile.Status, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("upserting profile %s: %w", profile.ID, err)
	}
	return nil
}

// Link allows viewerID to see subjectID.
func (p *Provider) Link(ctx context.Context, viewerID, subjectID string) error {
	_, err := p.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO viewer_links (viewer_id, subject_id, created_at) VALUES (?, ?, ?)",
		viewerID, subjectID, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("linking %s to %s: %w", viewerID, subjectID, err)
	}
	return nil
}

// UpsertActivity inserts or replaces an activity of subjectID.
func (p *Provider) UpsertActivity(ctx context.Context, subjectID string, a notifier.Activity) error {
	var completedAt *time.Time
	if a.CompletedAt != nil {
		t := a.CompletedAt.UTC()
		completedAt = &t
	}
	status := a.Status
	if status == "" {
		status = notifier.ActivityPending
	}

	_, err := p.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO activities (id, subject_id, title, status, due_date, completed_at, progress)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.ID, subjectID, a.Title, string(status), a.DueDate.UTC(), completedAt, a.Progress,
	)
	if err != nil {
		return fmt.Errorf("upserting activity %s: %w", a.ID, err)
	}
	return nil
}

// SetProgress stores the raw progress metrics of subjectID.
func (p *Provider) SetProgress(ctx context.Context, subjectID string, m notifier.Metrics) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO progress (subject_id, academic, emotional, social, updated_at)
		VALUES (?, ?, ?, ?, ?)`,
		subjectID, m.Academic, m.Emotional, m.Social, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("setting progress for %s: %w", subjectID, err)
	}
	return nil
}

// RecordMood stores a self-reported mood score.
func (p *Provider) RecordMood(ctx context.Context, subjectID string, score float64, at time.Time) error {
	_, err := p.db.ExecContext(ctx,
		"INSERT INTO mood_reports (subject_id, score, reported_at) VALUES (?, ?, ?)",
		subjectID, score, at.UTC(),
	)
	if err != nil {
		return fmt.Errorf("recording mood for %s: %w", subjectID, err)
	}
	return nil
}

// RecordIncident stores a behavioral incident.
func (p *Provider) RecordIncident(ctx context.Context, subjectID, note string, at time.Time) error {
	_, err := p.db.ExecContext(ctx,
		"INSERT INTO incidents (subject_id, note, reported_at) VALUES (?, ?, ?)",
		subjectID, note, at.UTC(),
	)
	if err != nil {
		return fmt.Errorf("recording incident for %s: %w", subjectID, err)
	}
	return nil
}

// SetAttendance stores the attendance rate of subjectID.
func (p *Provider) SetAttendance(ctx context.Context, subjectID string, rate float64) error {
	_, err := p.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO attendance (subject_id, rate, updated_at) VALUES (?, ?, ?)",
		subjectID, rate, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("setting attendance for %s: %w", subjectID, err)
	}
	return nil
}

type profileRow struct {
	ID          string `db:"id"`
	Name        string `db:"name"`
	Grade       string `db:"grade"`
	Institution string `db:"institution"`
	Status      string `db:"status"`
}

// ResolveSubject returns the subject's profile when viewerID is linked to it
// or is the subject itself.
func (p *Provider) ResolveSubject(ctx context.Context, viewerID, subjectID string) (notifier.Profile, error) {
	var row profileRow
	err := p.db.GetContext(ctx, &row,
		"SELECT id, name, grade, institution, status FROM profiles WHERE id = ?", subjectID)
	if errors.Is(err, sql.ErrNoRows) {
		return notifier.Profile{}, &notifier.SubjectNotFoundError{ViewerID: viewerID, SubjectID: subjectID}
	}
	if err != nil {
		return notifier.Profile{}, fmt.Errorf("getting profile %s: %w", subjectID, err)
	}

	if viewerID != subjectID {
		var linked int
		err := p.db.GetContext(ctx, &linked,
			"SELECT COUNT(*) FROM viewer_links WHERE viewer_id = ? AND subject_id = ?", viewerID, subjectID)
		if err != nil {
			return notifier.Profile{}, fmt.Errorf("checking link %s to %s: %w", viewerID, subjectID, err)
		}
		if linked == 0 {
			return notifier.Profile{}, &notifier.SubjectNotFoundError{ViewerID: viewerID, SubjectID: subjectID}
		}
	}

	return notifier.Profile{
		ID:          row.ID,
		Name:        row.Name,
		Grade:       row.Grade,
		Institution: row.Institution,
		Status:      row.Status,
	}, nil
}

type activityRow struct {
	DueDate     time.Time  `db:"due_date"`
	CompletedAt *time.Time `db:"completed_at"`
	ID          string     `db:"id"`
	Title       string     `db:"title"`
	Status      string     `db:"status"`
	Progress    int        `db:"progress"`
}

// Activities lists the subject's activities by due date.
func (p *Provider) Activities(ctx context.Context, subjectID string) ([]notifier.Activity, error) {
	var rows []activityRow
	err := p.db.SelectContext(ctx, &rows, `
		SELECT id, title, status, due_date, completed_at, progress
		FROM activities
		WHERE subject_id = ?
		ORDER BY due_date, id`, subjectID)
	if err != nil {
		return nil, fmt.Errorf("querying activities for %s: %w", subjectID, err)
	}

	out := make([]notifier.Activity, 0, len(rows))
	for _, r := range rows {
		out = append(out, notifier.Activity{
			ID:          r.ID,
			Title:       r.Title,
			Status:      notifier.ActivityStatus(r.Status),
			DueDate:     r.DueDate,
			CompletedAt: r.CompletedAt,
			Progress:    r.Progress,
		})
	}
	return out, nil
}

// Progress returns the subject's raw metrics. Subjects without a progress
// row report zeros.
func (p *Provider) Progress(ctx context.Context, subjectID string) (notifier.Metrics, error) {
	var m struct {
		Academic  float64 `db:"academic"`
		Emotional float64 `db:"emotional"`
		Social    float64 `db:"social"`
	}
	err := p.db.GetContext(ctx, &m,
		"SELECT academic, emotional, social FROM progress WHERE subject_id = ?", subjectID)
	if errors.Is(err, sql.ErrNoRows) {
		return notifier.Metrics{}, nil
	}
	if err != nil {
		return notifier.Metrics{}, fmt.Errorf("querying progress for %s: %w", subjectID, err)
	}
	return notifier.Metrics{Academic: m.Academic, Emotional: m.Emotional, Social: m.Social}, nil
}

// Signals derives alert signals from the last two weeks of activities, mood
// reports and incidents, plus the stored attendance rate.
func (p *Provider) Signals(ctx context.Context, subjectID string) (alert.Signals, error) {
	now := p.now()
	since := now.Add(-signalWindow)

	activities, err := p.Activities(ctx, subjectID)
	if err != nil {
		return alert.Signals{}, err
	}
	s := alert.SignalsFromActivities(activities, now)

	var moods []struct {
		Score      float64   `db:"score"`
		ReportedAt time.Time `db:"reported_at"`
	}
	if err := p.db.SelectContext(ctx, &moods,
		"SELECT score, reported_at FROM mood_reports WHERE subject_id = ?", subjectID); err != nil {
		return alert.Signals{}, fmt.Errorf("querying moods for %s: %w", subjectID, err)
	}
	sort.SliceStable(moods, func(i, j int) bool { return moods[i].ReportedAt.Before(moods[j].ReportedAt) })
	for _, m := range moods {
		if m.ReportedAt.Before(since) || m.ReportedAt.After(now) {
			continue
		}
		s.MoodScores = append(s.MoodScores, m.Score)
	}
	s.Observations += len(s.MoodScores)

	var incidents []time.Time
	if err := p.db.SelectContext(ctx, &incidents,
		"SELECT reported_at FROM incidents WHERE subject_id = ?", subjectID); err != nil {
		return alert.Signals{}, fmt.Errorf("querying incidents for %s: %w", subjectID, err)
	}
	for _, at := range incidents {
		if !at.Before(since) && !at.After(now) {
			s.BehavioralIncidents++
		}
	}

	var rate float64
	err = p.db.GetContext(ctx, &rate, "SELECT rate FROM attendance WHERE subject_id = ?", subjectID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return alert.Signals{}, fmt.Errorf("querying attendance for %s: %w", subjectID, err)
	default:
		s.AttendanceRate = alert.Rate(rate)
	}

	return s, nil
}
