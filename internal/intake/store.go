package intake

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrOpenIntakeExists is returned when the patient already has an
	// unanswered questionnaire in flight.
	ErrOpenIntakeExists = errors.New("patient already has an open intake")

	// ErrNotFound is returned when no intake record matches the id.
	ErrNotFound = errors.New("intake record not found")
)

const openConstraint = "intake_open_ux"

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

// Record is a questionnaire submission tied to one patient and, optionally,
// one reservation.
type Record struct {
	ID            uuid.UUID
	PatientID     uuid.UUID
	ReservationID *uuid.UUID
	Answers       json.RawMessage
	AnsweredAt    *time.Time
	CreatedAt     time.Time
}

// Empty reports whether the record carries no answered fields.
func (r *Record) Empty() bool {
	if r.AnsweredAt != nil {
		return false
	}
	trimmed := string(r.Answers)
	return trimmed == "" || trimmed == "{}" || trimmed == "null"
}

// Store persists intake records. The open-intake invariant (at most one
// unanswered record per patient) is enforced by a partial unique index.
type Store struct {
	pool PgxPool
}

func NewStore(pool PgxPool) *Store {
	if pool == nil {
		panic("intake: pgx pool required")
	}
	return &Store{pool: pool}
}

// Create opens a new intake for the patient.
func (s *Store) Create(ctx context.Context, q Querier, patientID uuid.UUID, reservationID *uuid.UUID) (*Record, error) {
	if q == nil {
		q = s.pool
	}
	rec := &Record{
		ID:            uuid.New(),
		PatientID:     patientID,
		ReservationID: reservationID,
		Answers:       json.RawMessage(`{}`),
	}
	query := `
		INSERT INTO intake_records (id, patient_id, reservation_id, answers)
		VALUES ($1, $2, $3, '{}'::jsonb)
		RETURNING created_at
	`
	if err := q.QueryRow(ctx, query, rec.ID, patientID, reservationID).Scan(&rec.CreatedAt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == openConstraint {
			return nil, ErrOpenIntakeExists
		}
		return nil, fmt.Errorf("intake: create: %w", err)
	}
	return rec, nil
}

// Answer closes the open intake with the submitted answers and reports
// which patient owns the record, so callers can invalidate the right
// cached view without trusting request input.
func (s *Store) Answer(ctx context.Context, q Querier, id uuid.UUID, answers json.RawMessage) (uuid.UUID, error) {
	if q == nil {
		q = s.pool
	}
	query := `
		UPDATE intake_records
		SET answers = $2, answered_at = now()
		WHERE id = $1 AND answered_at IS NULL
		RETURNING patient_id
	`
	var patientID uuid.UUID
	if err := q.QueryRow(ctx, query, id, answers).Scan(&patientID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, ErrNotFound
		}
		return uuid.Nil, fmt.Errorf("intake: answer: %w", err)
	}
	return patientID, nil
}

// OpenForPatient returns the patient's unanswered intake, if any.
func (s *Store) OpenForPatient(ctx context.Context, patientID uuid.UUID) (*Record, error) {
	query := `
		SELECT id, patient_id, reservation_id, answers, answered_at, created_at
		FROM intake_records
		WHERE patient_id = $1 AND answered_at IS NULL
	`
	var rec Record
	err := s.pool.QueryRow(ctx, query, patientID).Scan(&rec.ID, &rec.PatientID, &rec.ReservationID, &rec.Answers, &rec.AnsweredAt, &rec.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("intake: open for patient: %w", err)
	}
	return &rec, nil
}

// ListByPatientsWithMultiple returns all records belonging to patients that
// have more than one intake on file, ordered by patient then creation time.
// Feeds the reconciler's duplicate classification.
func (s *Store) ListByPatientsWithMultiple(ctx context.Context) ([]Record, error) {
	query := `
		SELECT id, patient_id, reservation_id, answers, answered_at, created_at
		FROM intake_records
		WHERE patient_id IN (
			SELECT patient_id FROM intake_records GROUP BY patient_id HAVING count(*) > 1
		)
		ORDER BY patient_id, created_at
	`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("intake: list duplicates: %w", err)
	}
	defer rows.Close()
	var out []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.PatientID, &rec.ReservationID, &rec.Answers, &rec.AnsweredAt, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("intake: scan duplicate: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// OrphanedRecords returns intake records whose patient row no longer exists.
func (s *Store) OrphanedRecords(ctx context.Context) ([]uuid.UUID, error) {
	query := `
		SELECT i.id
		FROM intake_records i
		WHERE NOT EXISTS (SELECT 1 FROM patients p WHERE p.id = i.patient_id)
		ORDER BY i.created_at
	`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("intake: orphaned records: %w", err)
	}
	defer rows.Close()
	var out []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("intake: scan orphan: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// DeleteEmpty removes an intake record only when it is still empty. The
// guard is in SQL so a record answered between classification and deletion
// survives.
func (s *Store) DeleteEmpty(ctx context.Context, q Querier, id uuid.UUID) (bool, error) {
	if q == nil {
		q = s.pool
	}
	query := `
		DELETE FROM intake_records
		WHERE id = $1 AND answered_at IS NULL AND answers = '{}'::jsonb
	`
	ct, err := q.Exec(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("intake: delete empty: %w", err)
	}
	return ct.RowsAffected() > 0, nil
}
