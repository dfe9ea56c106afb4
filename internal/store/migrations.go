package store

// migration holds a single schema migration with its target version and SQL.
type migration struct {
	version int
	sql     string
}

// sqliteMigrations is the ordered list of SQLite schema migrations.
var sqliteMigrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS users (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	email      TEXT NOT NULL UNIQUE,
	role       TEXT NOT NULL DEFAULT 'member',
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS tasks (
	id                TEXT PRIMARY KEY,
	title             TEXT NOT NULL,
	description       TEXT NOT NULL DEFAULT '',
	status            TEXT NOT NULL DEFAULT 'todo',
	priority          TEXT NOT NULL DEFAULT 'medium',
	due_date          DATETIME NOT NULL,
	assigned_to       TEXT NOT NULL DEFAULT '',
	created_by        TEXT NOT NULL,
	is_recurring      INTEGER NOT NULL DEFAULT 0,
	recurring_pattern TEXT NOT NULL DEFAULT '',
	version           INTEGER NOT NULL DEFAULT 1,
	created_at        DATETIME NOT NULL,
	updated_at        DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS notifications (
	id           TEXT PRIMARY KEY,
	user_id      TEXT NOT NULL,
	title        TEXT NOT NULL,
	message      TEXT NOT NULL,
	type         TEXT NOT NULL DEFAULT 'system',
	read         INTEGER NOT NULL DEFAULT 0,
	related_task TEXT NOT NULL DEFAULT '',
	timestamp    DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS recurring_occurrences (
	template_id     TEXT NOT NULL,
	occurrence_date TEXT NOT NULL,
	task_id         TEXT NOT NULL,
	created_at      DATETIME NOT NULL,
	PRIMARY KEY (template_id, occurrence_date)
);

CREATE TABLE IF NOT EXISTS audit_logs (
	id          TEXT PRIMARY KEY,
	user_id     TEXT NOT NULL,
	action      TEXT NOT NULL,
	entity_type TEXT NOT NULL,
	entity_id   TEXT NOT NULL DEFAULT '',
	details     TEXT NOT NULL DEFAULT '{}',
	ip_address  TEXT NOT NULL DEFAULT '',
	user_agent  TEXT NOT NULL DEFAULT '',
	timestamp   DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS job_runs (
	job           TEXT PRIMARY KEY,
	last_run_date TEXT NOT NULL,
	scanned       INTEGER NOT NULL DEFAULT 0,
	created       INTEGER NOT NULL DEFAULT 0,
	failed        INTEGER NOT NULL DEFAULT 0,
	finished_at   DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
CREATE INDEX IF NOT EXISTS idx_tasks_updated_at ON tasks(updated_at);
CREATE INDEX IF NOT EXISTS idx_tasks_recurring ON tasks(is_recurring);
CREATE INDEX IF NOT EXISTS idx_notifications_user ON notifications(user_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_notifications_related_task ON notifications(related_task);
CREATE INDEX IF NOT EXISTS idx_audit_logs_timestamp ON audit_logs(timestamp);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
	{
		version: 2,
		sql: `
CREATE TABLE IF NOT EXISTS user_preferences (
	user_id    TEXT PRIMARY KEY,
	settings   TEXT NOT NULL,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);

INSERT INTO schema_version (version) VALUES (2);
`,
	},
}

// pgMigrations mirrors sqliteMigrations in PostgreSQL dialect.
var pgMigrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS users (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	email      TEXT NOT NULL UNIQUE,
	role       TEXT NOT NULL DEFAULT 'member',
	created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS tasks (
	id                TEXT PRIMARY KEY,
	title             TEXT NOT NULL,
	description       TEXT NOT NULL DEFAULT '',
	status            TEXT NOT NULL DEFAULT 'todo',
	priority          TEXT NOT NULL DEFAULT 'medium',
	due_date          TIMESTAMPTZ NOT NULL,
	assigned_to       TEXT NOT NULL DEFAULT '',
	created_by        TEXT NOT NULL,
	is_recurring      BOOLEAN NOT NULL DEFAULT FALSE,
	recurring_pattern TEXT NOT NULL DEFAULT '',
	version           BIGINT NOT NULL DEFAULT 1,
	created_at        TIMESTAMPTZ NOT NULL,
	updated_at        TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS notifications (
	id           TEXT PRIMARY KEY,
	user_id      TEXT NOT NULL,
	title        TEXT NOT NULL,
	message      TEXT NOT NULL,
	type         TEXT NOT NULL DEFAULT 'system',
	read         BOOLEAN NOT NULL DEFAULT FALSE,
	related_task TEXT NOT NULL DEFAULT '',
	timestamp    TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS recurring_occurrences (
	template_id     TEXT NOT NULL,
	occurrence_date TEXT NOT NULL,
	task_id         TEXT NOT NULL,
	created_at      TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (template_id, occurrence_date)
);

CREATE TABLE IF NOT EXISTS audit_logs (
	id          TEXT PRIMARY KEY,
	user_id     TEXT NOT NULL,
	action      TEXT NOT NULL,
	entity_type TEXT NOT NULL,
	entity_id   TEXT NOT NULL DEFAULT '',
	details     JSONB NOT NULL DEFAULT '{}',
	ip_address  TEXT NOT NULL DEFAULT '',
	user_agent  TEXT NOT NULL DEFAULT '',
	timestamp   TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS job_runs (
	job           TEXT PRIMARY KEY,
	last_run_date TEXT NOT NULL,
	scanned       INTEGER NOT NULL DEFAULT 0,
	created       INTEGER NOT NULL DEFAULT 0,
	failed        INTEGER NOT NULL DEFAULT 0,
	finished_at   TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
CREATE INDEX IF NOT EXISTS idx_tasks_updated_at ON tasks(updated_at);
CREATE INDEX IF NOT EXISTS idx_tasks_recurring ON tasks(is_recurring) WHERE is_recurring;
CREATE INDEX IF NOT EXISTS idx_notifications_user ON notifications(user_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_notifications_related_task ON notifications(related_task) WHERE related_task != '';
CREATE INDEX IF NOT EXISTS idx_audit_logs_timestamp ON audit_logs(timestamp);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
	{
		version: 2,
		sql: `
CREATE TABLE IF NOT EXISTS user_preferences (
	user_id    TEXT PRIMARY KEY,
	settings   JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

INSERT INTO schema_version (version) VALUES (2);
`,
	},
}
