package store

import (
	"fmt"
)

type migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "users: identity, timezone, quiet hours, interaction tracking",
		SQL: `
CREATE TABLE users (
    phone_number        TEXT PRIMARY KEY,
    display_name        TEXT,
    timezone            TEXT NOT NULL DEFAULT 'Europe/Amsterdam',
    quiet_start         INTEGER NOT NULL DEFAULT 22 CHECK (quiet_start BETWEEN 0 AND 23),
    quiet_end           INTEGER NOT NULL DEFAULT 9 CHECK (quiet_end BETWEEN 0 AND 23),
    onboarded           INTEGER NOT NULL DEFAULT 0,
    last_interaction_at INTEGER,
    last_message_at     INTEGER,
    created_at          INTEGER NOT NULL
);
`,
	},
	{
		Version:     2,
		Description: "open_loops: tracked topics per user",
		SQL: `
CREATE TABLE open_loops (
    phone_number    TEXT NOT NULL,
    topic           TEXT NOT NULL,
    status          TEXT NOT NULL DEFAULT 'active' CHECK (status IN ('active', 'decaying', 'resolved')),
    last_updated    INTEGER NOT NULL DEFAULT 0,
    next_event_date TEXT,
    weight          INTEGER NOT NULL DEFAULT 3 CHECK (weight BETWEEN 1 AND 5),
    description     TEXT,

    PRIMARY KEY (phone_number, topic),
    FOREIGN KEY (phone_number) REFERENCES users(phone_number) ON DELETE CASCADE
);

CREATE INDEX idx_loops_status ON open_loops(status);
`,
	},
	{
		Version:     3,
		Description: "messages + corpus: conversation log and knowledge graph",
		SQL: `
CREATE TABLE messages (
    id           INTEGER PRIMARY KEY,
    phone_number TEXT NOT NULL,
    direction    TEXT NOT NULL CHECK (direction IN ('incoming', 'outgoing')),
    body         TEXT NOT NULL,
    created_at   INTEGER NOT NULL,

    FOREIGN KEY (phone_number) REFERENCES users(phone_number) ON DELETE CASCADE
);

CREATE INDEX idx_messages_user ON messages(phone_number, created_at DESC);

CREATE TABLE corpus (
    phone_number TEXT PRIMARY KEY,
    markdown     TEXT NOT NULL,
    updated_at   INTEGER NOT NULL,

    FOREIGN KEY (phone_number) REFERENCES users(phone_number) ON DELETE CASCADE
);
`,
	},
	{
		Version:     4,
		Description: "pending_nudges: approval queue with open-nudge dedup index",
		SQL: `
CREATE TABLE pending_nudges (
    id           INTEGER PRIMARY KEY,
    phone_number TEXT NOT NULL,
    topic        TEXT NOT NULL,
    weight       INTEGER NOT NULL CHECK (weight BETWEEN 1 AND 5),
    message_text TEXT NOT NULL,
    scheduled_at INTEGER NOT NULL,
    status       TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending', 'approved', 'sent', 'skipped')),
    created_at   INTEGER NOT NULL,
    approved_at  INTEGER,
    sent_at      INTEGER,

    FOREIGN KEY (phone_number) REFERENCES users(phone_number) ON DELETE CASCADE
);

CREATE INDEX idx_nudges_status    ON pending_nudges(status, scheduled_at);
CREATE UNIQUE INDEX ux_nudges_open ON pending_nudges(phone_number, topic)
    WHERE status IN ('pending', 'approved');
`,
	},
}

func (db *DB) migrate() error {
	// Create schema_versions table if it doesn't exist
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_versions (
			version     INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at  INTEGER NOT NULL DEFAULT (strftime('%s', 'now') * 1000)
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	for _, m := range migrations {
		var count int
		err := db.QueryRow("SELECT COUNT(*) FROM schema_versions WHERE version = ?", m.Version).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %d: %w", m.Version, err)
		}
		if count > 0 {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.Version, err)
		}

		if _, err := tx.Exec(m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
		}

		if _, err := tx.Exec(
			"INSERT INTO schema_versions (version, description) VALUES (?, ?)",
			m.Version, m.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}

// SchemaVersion returns the current schema version.
func (db *DB) SchemaVersion() (int, error) {
	var version int
	err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_versions").Scan(&version)
	return version, err
}
