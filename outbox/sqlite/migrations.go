package sqlite

import "fmt"

// CreateTableSQL returns the DDL for creating the outbox messages
// table. Timestamps are stored as unix milliseconds so availability
// comparisons stay exact across connections.
func CreateTableSQL(tableName string) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id TEXT PRIMARY KEY,
	owner_id INTEGER NOT NULL,
	event_type TEXT NOT NULL,
	payload TEXT NOT NULL DEFAULT '{}',
	status TEXT NOT NULL DEFAULT 'pending',
	attempts INTEGER NOT NULL DEFAULT 0,
	available_at INTEGER NOT NULL,
	last_error TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	claimed_at INTEGER
);

CREATE INDEX IF NOT EXISTS idx_%s_ready
	ON %s (available_at)
	WHERE status IN ('pending', 'failed');

CREATE INDEX IF NOT EXISTS idx_%s_owner
	ON %s (owner_id, available_at);`,
		tableName, tableName, tableName, tableName, tableName)
}
