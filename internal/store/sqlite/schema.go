package sqlite

import (
	"database/sql"
)

// EnsureSchema creates all tables if they do not exist. Instants are stored as
// unix seconds and days as YYYY-MM-DD text so range scans stay plain integer
// and string comparisons.
func EnsureSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS persons (
            id          INTEGER PRIMARY KEY AUTOINCREMENT,
            external_id TEXT NOT NULL UNIQUE,
            username    TEXT NOT NULL,
            avatar_url  TEXT,
            email       TEXT UNIQUE,
            telegram_id TEXT UNIQUE,
            created_at  INTEGER NOT NULL,
            updated_at  INTEGER NOT NULL
        );`,
		`CREATE TABLE IF NOT EXISTS conversation_events (
            id             INTEGER PRIMARY KEY AUTOINCREMENT,
            person_id      INTEGER NOT NULL REFERENCES persons(id) ON DELETE CASCADE,
            external_id    TEXT NOT NULL,
            title          TEXT NOT NULL,
            occurred_at    INTEGER NOT NULL,
            metadata       TEXT,
            last_synced_at INTEGER NOT NULL,
            UNIQUE (external_id, person_id)
        );`,
		`CREATE INDEX IF NOT EXISTS conversation_events_person_occurred_idx
            ON conversation_events (person_id, occurred_at);`,
		`CREATE TABLE IF NOT EXISTS task_events (
            id                 INTEGER PRIMARY KEY AUTOINCREMENT,
            person_id          INTEGER NOT NULL REFERENCES persons(id) ON DELETE CASCADE,
            external_id        TEXT NOT NULL UNIQUE,
            title              TEXT NOT NULL,
            project_name       TEXT,
            completed_at       INTEGER NOT NULL,
            last_status_change INTEGER,
            metadata           TEXT,
            last_synced_at     INTEGER NOT NULL
        );`,
		`CREATE INDEX IF NOT EXISTS task_events_person_completed_idx
            ON task_events (person_id, completed_at);`,
		`CREATE TABLE IF NOT EXISTS daily_summaries (
            person_id       INTEGER NOT NULL REFERENCES persons(id) ON DELETE CASCADE,
            day             TEXT NOT NULL,
            conversations   INTEGER NOT NULL DEFAULT 0,
            tasks_completed INTEGER NOT NULL DEFAULT 0,
            score           INTEGER NOT NULL DEFAULT 0,
            updated_at      INTEGER NOT NULL,
            PRIMARY KEY (person_id, day)
        );`,
		`CREATE INDEX IF NOT EXISTS daily_summaries_day_idx ON daily_summaries (day);`,
		`CREATE TABLE IF NOT EXISTS cached_projects (
            page_id           TEXT PRIMARY KEY,
            name              TEXT NOT NULL,
            health_status     TEXT NOT NULL DEFAULT '',
            health_color      TEXT NOT NULL DEFAULT '',
            status            TEXT NOT NULL DEFAULT '',
            priority          TEXT NOT NULL DEFAULT '',
            priority_color    TEXT NOT NULL DEFAULT '',
            assignees         TEXT,
            task_count        INTEGER NOT NULL DEFAULT 0,
            url               TEXT NOT NULL DEFAULT '',
            source_created_at INTEGER,
            source_edited_at  INTEGER,
            cached_at         INTEGER NOT NULL
        );`,
		`CREATE TABLE IF NOT EXISTS cached_tasks (
            page_id           TEXT PRIMARY KEY,
            name              TEXT NOT NULL,
            status            TEXT NOT NULL DEFAULT '',
            priority          TEXT NOT NULL DEFAULT '',
            effort            TEXT NOT NULL DEFAULT '',
            description       TEXT NOT NULL DEFAULT '',
            due_date          INTEGER,
            types             TEXT,
            assignees         TEXT,
            source_created_at INTEGER,
            source_edited_at  INTEGER,
            cached_at         INTEGER NOT NULL
        );`,
		`CREATE TABLE IF NOT EXISTS cached_members (
            member_name TEXT PRIMARY KEY,
            position    TEXT NOT NULL DEFAULT '',
            status      TEXT NOT NULL DEFAULT '',
            telegram_id TEXT NOT NULL DEFAULT '',
            start_date  INTEGER,
            cached_at   INTEGER NOT NULL
        );`,
		`CREATE TABLE IF NOT EXISTS cached_todos (
            todo_id     TEXT PRIMARY KEY,
            member_name TEXT NOT NULL,
            name        TEXT NOT NULL,
            status      TEXT NOT NULL DEFAULT '',
            deadline    INTEGER,
            done_at     INTEGER,
            overdue     INTEGER NOT NULL DEFAULT 0,
            project_ids TEXT,
            url         TEXT NOT NULL DEFAULT '',
            cached_at   INTEGER NOT NULL
        );`,
		`CREATE INDEX IF NOT EXISTS cached_todos_member_idx ON cached_todos (member_name);`,
		`CREATE TABLE IF NOT EXISTS cache_metadata (
            cache_type        TEXT PRIMARY KEY,
            last_updated      INTEGER,
            is_updating       INTEGER NOT NULL DEFAULT 0,
            total_records     INTEGER NOT NULL DEFAULT 0,
            last_duration_sec REAL NOT NULL DEFAULT 0,
            last_error        TEXT
        );`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}
