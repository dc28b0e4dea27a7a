// Package sqlite implements the outbox store on SQLite for single-host
// deployments. SQLite has no row-level locking to skip, but it
// serializes writers, so the claim is a single compare-and-swap UPDATE
// with the same no-double-claim guarantee. A claim that loses the write
// lock to a concurrent caller reports SQLITE_BUSY; that is contention,
// not failure, so the store retries it and the loser simply sees
// whatever rows remain.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	sqlite3 "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/enverbisevac/eventbox/outbox"
	"github.com/enverbisevac/eventbox/sqlutil"
)

var _ outbox.Store = (*Store)(nil)

const columns = "id, owner_id, event_type, payload, status, attempts, available_at, last_error, created_at"

const (
	claimRetries    = 5
	claimRetryDelay = 10 * time.Millisecond
)

func isBusy(err error) bool {
	var serr *sqlite3.Error
	return errors.As(err, &serr) && serr.Code() == sqlite3lib.SQLITE_BUSY
}

// Store implements outbox.Store using SQLite via database/sql
// (modernc.org/sqlite driver).
type Store struct {
	config Config
	db     *sql.DB
}

// New creates a new outbox store.
func New(db *sql.DB, options ...Option) *Store {
	config := Config{
		TableName:   "outbox_messages",
		MaxAttempts: 5,
		BackoffBase: 2,
		BackoffMax:  15 * time.Minute,
	}
	for _, opt := range options {
		opt.Apply(&config)
	}
	return &Store{
		config: config,
		db:     db,
	}
}

// Enqueue persists a new pending message within the given transaction.
// tx can be *sql.Tx or nil.
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
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		s.config.TableName,
	)
	args := []any{
		msg.ID.String(), msg.OwnerID, msg.EventType, string(doc),
		string(msg.Status), msg.Attempts, msg.AvailableAt.UnixMilli(), msg.CreatedAt.UnixMilli(),
	}

	switch t := tx.(type) {
	case *sql.Tx:
		_, err = t.ExecContext(ctx, query, args...)
	case nil:
		_, err = s.db.ExecContext(ctx, query, args...)
	default:
		return uuid.Nil, fmt.Errorf("outbox: unsupported tx type %T", tx)
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("outbox: enqueue: %w", err)
	}
	return msg.ID, nil
}

// DequeueBatch claims up to limit ready messages, oldest available
// first. The claim is one atomic UPDATE, so two concurrent callers
// never receive the same row; a caller that hits SQLITE_BUSY on the
// write lock retries and claims what is left.
func (s *Store) DequeueBatch(ctx context.Context, limit int, opts ...outbox.DequeueOption) ([]outbox.Message, error) {
	var config outbox.DequeueConfig
	for _, opt := range opts {
		opt.Apply(&config)
	}

	now := time.Now().UnixMilli()
	owner := ""
	args := []any{now, now}
	if config.OwnerID != nil {
		owner = "AND owner_id = ?"
		args = append(args, *config.OwnerID)
	}
	args = append(args, limit)

	query := fmt.Sprintf(`UPDATE %s
SET status = 'sending', claimed_at = ?
WHERE id IN (
	SELECT id FROM %s
	WHERE status IN ('pending', 'failed') AND available_at <= ? %s
	ORDER BY available_at
	LIMIT ?
)
RETURNING `+columns,
		s.config.TableName, s.config.TableName, owner)

	for attempt := 0; ; attempt++ {
		msgs, err := s.claim(ctx, query, args)
		if err == nil {
			return msgs, nil
		}
		if !isBusy(err) || attempt >= claimRetries {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(claimRetryDelay):
		}
	}
}

func (s *Store) claim(ctx context.Context, query string, args []any) ([]outbox.Message, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("outbox: dequeue batch: %w", err)
	}
	return scanMessages(rows)
}

// MarkSent transitions sending messages to sent. Already-sent ids are
// left untouched, so repeat calls are no-ops.
func (s *Store) MarkSent(ctx context.Context, ids ...uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}

	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id.String()
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

// MarkFailed increments attempts and records the error. SQLite has no
// power() builtin, so the backoff delay is computed here and written
// with the attempt count in one transaction.
func (s *Store) MarkFailed(ctx context.Context, id uuid.UUID, cause error) error {
	errMsg := ""
	if cause != nil {
		errMsg = cause.Error()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("outbox: begin tx: %w", err)
	}
	defer tx.Rollback()

	var attempts int
	query := fmt.Sprintf(`SELECT attempts FROM %s WHERE id = ? AND status = 'sending'`, s.config.TableName)
	if err := tx.QueryRowContext(ctx, query, id.String()).Scan(&attempts); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return outbox.ErrNotFound
		}
		return fmt.Errorf("outbox: mark failed: %w", err)
	}

	status := outbox.StatusPending
	availableAt := time.Now().Add(outbox.RetryDelay(s.config.BackoffBase, attempts+1, s.config.BackoffMax))
	if attempts >= s.config.MaxAttempts {
		status = outbox.StatusDead
	}

	if status == outbox.StatusDead {
		query = fmt.Sprintf(
			`UPDATE %s SET attempts = attempts + 1, last_error = ?, claimed_at = NULL, status = ?
WHERE id = ? AND status = 'sending'`,
			s.config.TableName,
		)
		_, err = tx.ExecContext(ctx, query, errMsg, string(status), id.String())
	} else {
		query = fmt.Sprintf(
			`UPDATE %s SET attempts = attempts + 1, last_error = ?, claimed_at = NULL, status = ?, available_at = ?
WHERE id = ? AND status = 'sending'`,
			s.config.TableName,
		)
		_, err = tx.ExecContext(ctx, query, errMsg, string(status), availableAt.UnixMilli(), id.String())
	}
	if err != nil {
		return fmt.Errorf("outbox: mark failed: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("outbox: mark failed: %w", err)
	}
	return nil
}

// ListDead returns dead-lettered messages, oldest first.
func (s *Store) ListDead(ctx context.Context, limit int) ([]outbox.Message, error) {
	query := fmt.Sprintf(
		`SELECT `+columns+` FROM %s WHERE status = 'dead' ORDER BY created_at LIMIT ?`,
		s.config.TableName,
	)
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("outbox: list dead: %w", err)
	}
	return scanMessages(rows)
}

// Requeue resets a dead message to pending, available immediately.
func (s *Store) Requeue(ctx context.Context, id uuid.UUID) error {
	query := fmt.Sprintf(
		`UPDATE %s SET status = 'pending', available_at = ?, claimed_at = NULL
WHERE id = ? AND status = 'dead'`,
		s.config.TableName,
	)
	res, err := s.db.ExecContext(ctx, query, time.Now().UnixMilli(), id.String())
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
// olderThan back to pending.
func (s *Store) ReclaimStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan).UnixMilli()
	query := fmt.Sprintf(
		`UPDATE %s SET status = 'pending', claimed_at = NULL
WHERE status = 'sending' AND claimed_at IS NOT NULL AND claimed_at < ?`,
		s.config.TableName,
	)
	res, err := s.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("outbox: reclaim stale: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("outbox: reclaim stale: %w", err)
	}
	return n, nil
}

func scanMessages(rows *sql.Rows) ([]outbox.Message, error) {
	var msgs []outbox.Message
	err := sqlutil.ScanRows(rows, func(row sqlutil.Scannable) error {
		var (
			msg        outbox.Message
			id, status string
			doc        string
			available  int64
			created    int64
		)
		if err := row.Scan(
			&id, &msg.OwnerID, &msg.EventType, &doc,
			&status, &msg.Attempts, &available,
			&msg.LastError, &created,
		); err != nil {
			return fmt.Errorf("outbox: scan: %w", err)
		}

		parsed, err := uuid.Parse(id)
		if err != nil {
			return fmt.Errorf("outbox: parse id: %w", err)
		}
		msg.ID = parsed
		msg.Status = outbox.Status(status)
		msg.AvailableAt = time.UnixMilli(available)
		msg.CreatedAt = time.UnixMilli(created)
		if doc != "" {
			if err := json.Unmarshal([]byte(doc), &msg.Payload); err != nil {
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
