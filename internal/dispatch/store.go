// Package dispatch delivers patient notifications exactly once per
// idempotency key. The notification_log table is the audit trail and the
// dedupe mechanism: a key is claimed in the database before any network
// push, so two racing senders cannot both deliver.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Entry statuses.
const (
	StatusPending      = "pending"
	StatusSent         = "sent"
	StatusRetryPending = "retry_pending"
	StatusFailed       = "failed"
)

// Entry is one notification_log row.
type Entry struct {
	ID             uuid.UUID
	PatientID      uuid.UUID
	ChatUserID     string
	MessageType    string
	Direction      string
	Content        string
	Status         string
	IdempotencyKey string
	SendAttempts   int
	LastAttemptAt  *time.Time
	NextRetryAt    *time.Time
	CreatedAt      time.Time
}

// AuditHit is a patient that received the same message type more than once
// inside the audited window.
type AuditHit struct {
	PatientID uuid.UUID
	Count     int
}

type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PgxPool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store persists the notification log.
type Store struct {
	pool PgxPool
}

func NewStore(pool PgxPool) *Store {
	if pool == nil {
		panic("dispatch: pgx pool required")
	}
	return &Store{pool: pool}
}

const entryColumns = `id, patient_id, chat_user_id, message_type, direction, content, status, idempotency_key, send_attempts, last_attempt_at, next_retry_at, created_at`

// Claim inserts a pending entry for the idempotency key. The insert is the
// dedupe point: when the key already exists nothing is written and Claim
// returns ErrAlreadySent.
func (s *Store) Claim(ctx context.Context, q Querier, e *Entry) error {
	if q == nil {
		q = s.pool
	}
	tag, err := q.Exec(ctx, `
		INSERT INTO notification_log (id, patient_id, chat_user_id, message_type, direction, content, status, idempotency_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (idempotency_key) DO NOTHING`,
		e.ID, e.PatientID, e.ChatUserID, e.MessageType, e.Direction, e.Content, StatusPending, e.IdempotencyKey,
	)
	if err != nil {
		return fmt.Errorf("dispatch: claim key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadySent
	}
	return nil
}

// MarkSent records a successful push.
func (s *Store) MarkSent(ctx context.Context, q Querier, id uuid.UUID) error {
	return s.markStatus(ctx, q, id, `
		UPDATE notification_log
		SET status = $2, send_attempts = send_attempts + 1, last_attempt_at = now(), next_retry_at = NULL
		WHERE id = $1`, StatusSent)
}

// MarkRetryPending records a failed push and schedules the next attempt.
func (s *Store) MarkRetryPending(ctx context.Context, q Querier, id uuid.UUID, nextRetryAt time.Time) error {
	if q == nil {
		q = s.pool
	}
	tag, err := q.Exec(ctx, `
		UPDATE notification_log
		SET status = $2, send_attempts = send_attempts + 1, last_attempt_at = now(), next_retry_at = $3
		WHERE id = $1`,
		id, StatusRetryPending, nextRetryAt,
	)
	if err != nil {
		return fmt.Errorf("dispatch: mark retry pending: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkFailed retires an entry that exhausted its attempts. Failed entries
// stay in the log so audits can find and resend them.
func (s *Store) MarkFailed(ctx context.Context, q Querier, id uuid.UUID) error {
	return s.markStatus(ctx, q, id, `
		UPDATE notification_log
		SET status = $2, next_retry_at = NULL
		WHERE id = $1`, StatusFailed)
}

func (s *Store) markStatus(ctx context.Context, q Querier, id uuid.UUID, query, status string) error {
	if q == nil {
		q = s.pool
	}
	tag, err := q.Exec(ctx, query, id, status)
	if err != nil {
		return fmt.Errorf("dispatch: mark %s: %w", status, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// GetByKey loads the entry claimed under an idempotency key.
func (s *Store) GetByKey(ctx context.Context, q Querier, key string) (*Entry, error) {
	if q == nil {
		q = s.pool
	}
	row := q.QueryRow(ctx, `SELECT `+entryColumns+` FROM notification_log WHERE idempotency_key = $1`, key)
	e, err := scanEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("dispatch: get by key: %w", err)
	}
	return e, nil
}

// ListRetryCandidates returns retry_pending entries whose next_retry_at has
// passed, oldest first, bounded by limit.
func (s *Store) ListRetryCandidates(ctx context.Context, q Querier, now time.Time, limit int) ([]*Entry, error) {
	if q == nil {
		q = s.pool
	}
	rows, err := q.Query(ctx, `
		SELECT `+entryColumns+`
		FROM notification_log
		WHERE status = $1 AND next_retry_at <= $2
		ORDER BY next_retry_at
		LIMIT $3`,
		StatusRetryPending, now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("dispatch: list retry candidates: %w", err)
	}
	defer rows.Close()
	var out []*Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.PatientID, &e.ChatUserID, &e.MessageType, &e.Direction, &e.Content, &e.Status, &e.IdempotencyKey, &e.SendAttempts, &e.LastAttemptAt, &e.NextRetryAt, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("dispatch: scan retry candidate: %w", err)
		}
		out = append(out, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dispatch: iterate retry candidates: %w", err)
	}
	return out, nil
}

// Audit reports patients who got the same message type sent more than once
// inside [from, to).
func (s *Store) Audit(ctx context.Context, q Querier, messageType string, from, to time.Time) ([]AuditHit, error) {
	if q == nil {
		q = s.pool
	}
	rows, err := q.Query(ctx, `
		SELECT patient_id, count(*)
		FROM notification_log
		WHERE message_type = $1 AND status = $2 AND created_at >= $3 AND created_at < $4
		GROUP BY patient_id
		HAVING count(*) > 1
		ORDER BY count(*) DESC`,
		messageType, StatusSent, from, to,
	)
	if err != nil {
		return nil, fmt.Errorf("dispatch: audit: %w", err)
	}
	defer rows.Close()
	var hits []AuditHit
	for rows.Next() {
		var h AuditHit
		if err := rows.Scan(&h.PatientID, &h.Count); err != nil {
			return nil, fmt.Errorf("dispatch: scan audit hit: %w", err)
		}
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dispatch: iterate audit: %w", err)
	}
	return hits, nil
}

func scanEntry(row pgx.Row) (*Entry, error) {
	var e Entry
	err := row.Scan(&e.ID, &e.PatientID, &e.ChatUserID, &e.MessageType, &e.Direction, &e.Content, &e.Status, &e.IdempotencyKey, &e.SendAttempts, &e.LastAttemptAt, &e.NextRetryAt, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &e, nil
}
