package pgx

import "fmt"

// CreateTableSQL returns the DDL for creating the outbox messages table.
// claimed_at is internal bookkeeping for stale-claim recovery and is not
// part of the message contract.
func CreateTableSQL(tableName string) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id UUID PRIMARY KEY,
	owner_id BIGINT NOT NULL,
	event_type TEXT NOT NULL,
	payload JSONB NOT NULL DEFAULT '{}',
	status TEXT NOT NULL DEFAULT 'pending',
	attempts INTEGER NOT NULL DEFAULT 0,
	available_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	last_error TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	claimed_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_%s_ready
	ON %s (available_at)
	WHERE status IN ('pending', 'failed');

CREATE INDEX IF NOT EXISTS idx_%s_owner
	ON %s (owner_id, available_at);`,
		tableName, tableName, tableName, tableName, tableName)
}
