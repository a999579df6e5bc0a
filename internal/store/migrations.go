package store

// migration holds a single schema migration with its target version and SQL.
type migration struct {
	version int
	sql     string
}

// migrations is the ordered list of schema migrations.
// Each migration's version must be sequential starting from 1.
// Timestamps are stored as INTEGER unix milliseconds (UTC).
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS users (
	id                TEXT PRIMARY KEY,
	name              TEXT NOT NULL DEFAULT '',
	email             TEXT NOT NULL DEFAULT '',
	phone             TEXT NOT NULL DEFAULT '',
	streak            INTEGER NOT NULL DEFAULT 0,
	last_completed_at INTEGER,
	created_at        INTEGER NOT NULL,
	updated_at        INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS tasks (
	id            TEXT PRIMARY KEY,
	user_id       TEXT REFERENCES users(id) ON DELETE SET NULL,
	title         TEXT NOT NULL,
	priority      TEXT NOT NULL DEFAULT 'medium' CHECK(priority IN ('low', 'medium', 'high')),
	due_date      INTEGER NOT NULL,
	reminder_time INTEGER,
	completed     INTEGER NOT NULL DEFAULT 0 CHECK(completed IN (0, 1)),
	completed_at  INTEGER,
	notified      INTEGER NOT NULL DEFAULT 0 CHECK(notified IN (0, 1)),
	created_at    INTEGER NOT NULL,
	updated_at    INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_tasks_user_created ON tasks(user_id, created_at);
CREATE INDEX IF NOT EXISTS idx_tasks_created_at ON tasks(created_at);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
	{
		version: 2,
		sql: `
ALTER TABLE tasks ADD COLUMN claimed_at INTEGER;
ALTER TABLE tasks ADD COLUMN claim_expires_at INTEGER;
ALTER TABLE tasks ADD COLUMN dispatch_attempts INTEGER NOT NULL DEFAULT 0;
ALTER TABLE tasks ADD COLUMN dispatch_failed_at INTEGER;

CREATE INDEX IF NOT EXISTS idx_tasks_pending_reminders
	ON tasks(reminder_time)
	WHERE completed = 0 AND notified = 0;

INSERT INTO schema_version (version) VALUES (2);
`,
	},
}
