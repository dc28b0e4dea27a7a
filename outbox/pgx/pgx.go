package pgx

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/enverbisevac/eventbox/outbox"
	"github.com/enverbisevac/eventbox/sqlutil"
)

var _ outbox.Store = (*Store)(nil)

const columns = "id, owner_id, event_type, payload, status, attempts, available_at, last_error, created_at"

// Store implements outbox.Store using PostgreSQL. Claims use
// FOR UPDATE SKIP LOCKED, so concurrent dispatchers never block on or
// receive each other's rows.
type Store struct {
	config Config
	pool   *pgxpool.Pool
	db     *sql.DB
}

// New creates a new outbox store using pgxpool.
func New(pool *pgxpool.Pool, options ...Option) *Store {
	return &Store{
		config: newConfig(options),
		pool:   pool,
	}
}

// NewStdLib creates a new outbox store using database/sql.
func NewStdLib(db *sql.DB, options ...Option) *Store {
	return &Store{
		config: newConfig(options),
		db:     db,
	}
}

func newConfig(options []Option) Config {
	config := Config{
		TableName:   "outbox_messages",
		MaxAttempts: 5,
		BackoffBase: 2,
		BackoffMax:  15 * time.Minute,
	}
	for _, opt := range options {
		opt.Apply(&config)
	}
	return config
}

// Enqueue persists a new pending message within the given transaction.
// tx can be pgx.Tx, *sql.Tx, or nil.
func (s *Store) Enqueue(ctx context.Context, tx any, ownerID int64, eventType string, payload outbox.Document) (uuid.UUID, error) {
	msg, err := outbox.NewMessage(ownerID, eventType, payload)
	if err != nil {
		return uuid.Nil, err
	}

	doc, err := json.Marshal(msg.Payload)
	if err != nil {
		return uuid.Nil, fmt.Errorf("outbox: marshal payload: %w", err)
	}

	query := fmt.Sprintf(
		`INSERT INTO %s (id, owner_id, event_type, payload, status, attempts, available_at, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		s.config.TableName,
	)
	args := []any{
		msg.ID, msg.OwnerID, msg.EventType, doc,
		msg.Status, msg.Attempts, msg.AvailableAt, msg.CreatedAt,
	}

	switch t := tx.(type) {
	case pgx.Tx:
		_, err = t.Exec(ctx, query, args...)
	case *sql.Tx:
		_, err = t.ExecContext(ctx, query, args...)
	case nil:
		if s.pool != nil {
			_, err = s.pool.Exec(ctx, query, args...)
		} else {
			_, err = s.db.ExecContext(ctx, query, args...)
		}
	default:
		return uuid.Nil, fmt.Errorf("outbox: unsupported tx type %T", tx)
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("outbox: enqueue: %w", err)
	}
	return msg.ID, nil
}

// DequeueBatch atomically claims up to limit ready messages, oldest
// available first, skipping rows locked by concurrent callers.
func (s *Store) DequeueBatch(ctx context.Context, limit int, opts ...outbox.DequeueOption) ([]outbox.Message, error) {
	var config outbox.DequeueConfig
	for _, opt := range opts {
		opt.Apply(&config)
	}

	owner := ""
	args := []any{limit}
	if config.OwnerID != nil {
		owner = "AND owner_id = $2"
		args = append(args, *config.OwnerID)
	}

	query := fmt.Sprintf(`UPDATE %s
SET status = 'sending', claimed_at = now()
WHERE id IN (
	SELECT id FROM %s
	WHERE status IN ('pending', 'failed') AND available_at <= now() %s
	ORDER BY available_at
	FOR UPDATE SKIP LOCKED
	LIMIT $1
)
RETURNING `+columns,
		s.config.TableName, s.config.TableName, owner)

	if s.pool != nil {
		rows, err := s.pool.Query(ctx, query, args...)
		if err != nil {
			return nil, fmt.Errorf("outbox: dequeue batch: %w", err)
		}
		defer rows.Close()
		return scanMessages(rows)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("outbox: dequeue batch: %w", err)
	}
	return scanSQLMessages(rows)
}

// MarkSent transitions sending messages to sent. Already-sent ids are
// left untouched, so repeat calls are no-ops.
func (s *Store) MarkSent(ctx context.Context, ids ...uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}

	if s.pool != nil {
		query := fmt.Sprintf(
			`UPDATE %s SET status = 'sent', claimed_at = NULL
WHERE id = ANY($1) AND status IN ('sending', 'sent')`,
			s.config.TableName,
		)
		if _, err := s.pool.Exec(ctx, query, ids); err != nil {
			return fmt.Errorf("outbox: mark sent: %w", err)
		}
		return nil
	}

	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id
	}
	query := fmt.Sprintf(
		`UPDATE %s SET status = 'sent', claimed_at = NULL
WHERE id IN (%s) AND status IN ('sending', 'sent')`,
		s.config.TableName, strings.Join(placeholders, ", "),
	)
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("outbox: mark sent: %w", err)
	}
	return nil
}

// MarkFailed increments attempts and records the error. The message
// becomes claimable again after backoff_base^attempts seconds (capped),
// or is dead-lettered once attempts exceed the configured maximum.
func (s *Store) MarkFailed(ctx context.Context, id uuid.UUID, cause error) error {
	query := fmt.Sprintf(`UPDATE %s SET
	attempts = attempts + 1,
	last_error = $2,
	claimed_at = NULL,
	status = CASE WHEN attempts >= $3 THEN 'dead' ELSE 'pending' END,
	available_at = CASE WHEN attempts >= $3 THEN available_at
		ELSE now() + make_interval(secs => LEAST(power($4::float8, attempts + 1), $5::float8)) END
WHERE id = $1 AND status = 'sending'`,
		s.config.TableName,
	)

	errMsg := ""
	if cause != nil {
		errMsg = cause.Error()
	}
	args := []any{
		id, errMsg, s.config.MaxAttempts,
		float64(s.config.BackoffBase), s.config.BackoffMax.Seconds(),
	}

	if s.pool != nil {
		tag, err := s.pool.Exec(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("outbox: mark failed: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return outbox.ErrNotFound
		}
		return nil
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("outbox: mark failed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("outbox: mark failed: %w", err)
	}
	if n == 0 {
		return outbox.ErrNotFound
	}
	return nil
}

// ListDead returns dead-lettered messages, oldest first.
func (s *Store) ListDead(ctx context.Context, limit int) ([]outbox.Message, error) {
	query := fmt.Sprintf(
		`SELECT `+columns+` FROM %s WHERE status = 'dead' ORDER BY created_at LIMIT $1`,
		s.config.TableName,
	)

	if s.pool != nil {
		rows, err := s.pool.Query(ctx, query, limit)
		if err != nil {
			return nil, fmt.Errorf("outbox: list dead: %w", err)
		}
		defer rows.Close()
		return scanMessages(rows)
	}

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("outbox: list dead: %w", err)
	}
	return scanSQLMessages(rows)
}

// Requeue resets a dead message to pending, available immediately.
func (s *Store) Requeue(ctx context.Context, id uuid.UUID) error {
	query := fmt.Sprintf(
		`UPDATE %s SET status = 'pending', available_at = now(), claimed_at = NULL
WHERE id = $1 AND status = 'dead'`,
		s.config.TableName,
	)

	if s.pool != nil {
		tag, err := s.pool.Exec(ctx, query, id)
		if err != nil {
			return fmt.Errorf("outbox: requeue: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return outbox.ErrNotFound
		}
		return nil
	}

	res, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("outbox: requeue: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("outbox: requeue: %w", err)
	}
	if n == 0 {
		return outbox.ErrNotFound
	}
	return nil
}

// ReclaimStale resets sending messages whose claim is older than
// olderThan back to pending. Attempts are not touched.
func (s *Store) ReclaimStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	query := fmt.Sprintf(
		`UPDATE %s SET status = 'pending', claimed_at = NULL
WHERE status = 'sending' AND claimed_at IS NOT NULL
	AND claimed_at < now() - make_interval(secs => $1::float8)`,
		s.config.TableName,
	)

	if s.pool != nil {
		tag, err := s.pool.Exec(ctx, query, olderThan.Seconds())
		if err != nil {
			return 0, fmt.Errorf("outbox: reclaim stale: %w", err)
		}
		return tag.RowsAffected(), nil
	}

	res, err := s.db.ExecContext(ctx, query, olderThan.Seconds())
	if err != nil {
		return 0, fmt.Errorf("outbox: reclaim stale: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("outbox: reclaim stale: %w", err)
	}
	return n, nil
}

func scanMessages(rows pgx.Rows) ([]outbox.Message, error) {
	var msgs []outbox.Message
	for rows.Next() {
		var msg outbox.Message
		var doc []byte
		if err := rows.Scan(
			&msg.ID, &msg.OwnerID, &msg.EventType, &doc,
			&msg.Status, &msg.Attempts, &msg.AvailableAt,
			&msg.LastError, &msg.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("outbox: scan: %w", err)
		}
		if len(doc) > 0 {
			if err := json.Unmarshal(doc, &msg.Payload); err != nil {
				return nil, fmt.Errorf("outbox: unmarshal payload: %w", err)
			}
		}
		msgs = append(msgs, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("outbox: rows: %w", err)
	}
	return msgs, nil
}

func scanSQLMessages(rows *sql.Rows) ([]outbox.Message, error) {
	var msgs []outbox.Message
	err := sqlutil.ScanRows(rows, func(row sqlutil.Scannable) error {
		var msg outbox.Message
		var doc []byte
		if err := row.Scan(
			&msg.ID, &msg.OwnerID, &msg.EventType, &doc,
			&msg.Status, &msg.Attempts, &msg.AvailableAt,
			&msg.LastError, &msg.CreatedAt,
		); err != nil {
			return fmt.Errorf("outbox: scan: %w", err)
		}
		if len(doc) > 0 {
			if err := json.Unmarshal(doc, &msg.Payload); err != nil {
				return fmt.Errorf("outbox: unmarshal payload: %w", err)
			}
		}
		msgs = append(msgs, msg)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return msgs, nil
}
