package sqlite

// migration holds a single schema migration with its target version and SQL.
type migration struct {
	version int
	sql     string
}

// migrations is the ordered list of schema migrations.
// Each migration's version must be sequential starting from 1.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS profiles (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	grade       TEXT NOT NULL DEFAULT '',
	institution TEXT NOT NULL DEFAULT '',
	status      TEXT NOT NULL DEFAULT 'active',
	updated_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS viewer_links (
	viewer_id  TEXT NOT NULL,
	subject_id TEXT NOT NULL REFERENCES profiles(id) ON DELETE CASCADE,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (viewer_id, subject_id)
);

CREATE TABLE IF NOT EXISTS activities (
	id           TEXT PRIMARY KEY,
	subject_id   TEXT NOT NULL REFERENCES profiles(id) ON DELETE CASCADE,
	title        TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'pending' CHECK(status IN ('pending', 'in_progress', 'completed')),
	due_date     DATETIME NOT NULL,
	completed_at DATETIME,
	progress     INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS progress (
	subject_id TEXT PRIMARY KEY REFERENCES profiles(id) ON DELETE CASCADE,
	academic   REAL NOT NULL DEFAULT 0,
	emotional  REAL NOT NULL DEFAULT 0,
	social     REAL NOT NULL DEFAULT 0,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_viewer_links_subject ON viewer_links(subject_id);
CREATE INDEX IF NOT EXISTS idx_activities_subject ON activities(subject_id);
CREATE INDEX IF NOT EXISTS idx_activities_due_date ON activities(due_date);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
	{
		version: 2,
		sql: `
CREATE TABLE IF NOT EXISTS mood_reports (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	subject_id  TEXT NOT NULL REFERENCES profiles(id) ON DELETE CASCADE,
	score       REAL NOT NULL,
	reported_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS incidents (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	subject_id  TEXT NOT NULL REFERENCES profiles(id) ON DELETE CASCADE,
	note        TEXT NOT NULL DEFAULT '',
	reported_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS attendance (
	subject_id TEXT PRIMARY KEY REFERENCES profiles(id) ON DELETE CASCADE,
	rate       REAL NOT NULL,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_mood_reports_subject ON mood_reports(subject_id);
CREATE INDEX IF NOT EXISTS idx_incidents_subject ON incidents(subject_id);

INSERT INTO schema_version (version) VALUES (2);
`,
	},
}
