package storage

import (
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
)

// Migrate runs all database migrations
func Migrate(db *sqlx.DB) error {
	migrations := []string{
		createNetworksTable,
		createBuffersTable,
		createMessagesTable,
		createIndexes,
	}

	for i, migration := range migrations {
		if _, err := db.Exec(migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}

	// Columns added after the first schema
	columns := []struct {
		table, column, alter string
	}{
		{"buffers", "topic", "ALTER TABLE buffers ADD COLUMN topic TEXT NOT NULL DEFAULT ''"},
		{"messages", "type_extra", "ALTER TABLE messages ADD COLUMN type_extra TEXT NOT NULL DEFAULT ''"},
		{"messages", "tags", "ALTER TABLE messages ADD COLUMN tags TEXT NOT NULL DEFAULT ''"},
	}
	for _, c := range columns {
		if err := addColumnIfMissing(db, c.table, c.column, c.alter); err != nil {
			return fmt.Errorf("%s migration failed: %w", c.column, err)
		}
	}

	return nil
}

// addColumnIfMissing runs alterSQL when table has no column named column
func addColumnIfMissing(db *sqlx.DB, table, column, alterSQL string) error {
	var columnExists int
	err := db.Get(&columnExists,
		"SELECT COUNT(*) FROM pragma_table_info(?) WHERE name=?", table, column)
	if err != nil {
		return fmt.Errorf("failed to check for %s column: %w", column, err)
	}
	if columnExists > 0 {
		return nil
	}
	if _, err := db.Exec(alterSQL); err != nil {
		// Ignore "duplicate column" errors in case of race conditions
		if !strings.Contains(err.Error(), "duplicate column") {
			return fmt.Errorf("failed to add %s column: %w", column, err)
		}
	}
	return nil
}

const createNetworksTable = `
CREATE TABLE IF NOT EXISTS networks (
    id INTEGER PRIMARY KEY,
    name TEXT NOT NULL,
    nick TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

const createBuffersTable = `
CREATE TABLE IF NOT EXISTS buffers (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    network_id INTEGER NOT NULL,
    name TEXT NOT NULL COLLATE NOCASE,
    enabled BOOLEAN NOT NULL DEFAULT 1,
    channel_key TEXT NOT NULL DEFAULT '',
    topic TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (network_id) REFERENCES networks(id) ON DELETE CASCADE,
    UNIQUE(network_id, name)
);
`

const createMessagesTable = `
CREATE TABLE IF NOT EXISTS messages (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    msgid TEXT NOT NULL,
    network_id INTEGER NOT NULL,
    buffer TEXT NOT NULL COLLATE NOCASE,
    nick TEXT NOT NULL DEFAULT '',
    body TEXT NOT NULL DEFAULT '',
    message_type TEXT NOT NULL DEFAULT '',
    type_extra TEXT NOT NULL DEFAULT '',
    tags TEXT NOT NULL DEFAULT '',
    timestamp INTEGER NOT NULL,
    FOREIGN KEY (network_id) REFERENCES networks(id) ON DELETE CASCADE
);
`

const createIndexes = `
CREATE INDEX IF NOT EXISTS idx_messages_network_buffer_time ON messages(network_id, buffer, timestamp);
CREATE INDEX IF NOT EXISTS idx_buffers_network ON buffers(network_id);
`
