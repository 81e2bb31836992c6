package slotledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const (
	slotConstraint       = "reservations_slot_active_ux"
	patientDayConstraint = "reservations_patient_day_ux"
)

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

// Store persists reservations in Postgres. Slot exclusivity is enforced by
// the partial unique indexes on the reservations table; racing inserts lose
// with a unique violation that is translated to a typed error here.
type Store struct {
	pool PgxPool
}

func NewStore(pool PgxPool) *Store {
	if pool == nil {
		panic("slotledger: pgx pool required")
	}
	return &Store{pool: pool}
}

func (s *Store) Begin(ctx context.Context) (pgx.Tx, error) {
	return s.pool.Begin(ctx)
}

const reservationColumns = `id, token, patient_id, resource_id, visit_date, slot_time, status, created_at, updated_at`

func scanReservation(row pgx.Row) (*Reservation, error) {
	var r Reservation
	var status string
	if err := row.Scan(&r.ID, &r.Token, &r.PatientID, &r.ResourceID, &r.VisitDate, &r.SlotTime, &status, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	r.Status = Status(status)
	return &r, nil
}

// Insert writes a new reservation row, translating slot contention into
// ErrSlotTaken / ErrPatientAlreadyBooked.
func (s *Store) Insert(ctx context.Context, q Querier, r *Reservation) error {
	if q == nil {
		q = s.pool
	}
	query := `
		INSERT INTO reservations (id, token, patient_id, resource_id, visit_date, slot_time, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := q.Exec(ctx, query, r.ID, r.Token, r.PatientID, r.ResourceID, r.VisitDate, r.SlotTime, string(r.Status))
	if err != nil {
		return fmt.Errorf("slotledger: insert reservation: %w", translateUnique(err))
	}
	return nil
}

// GetByToken loads a reservation by its external token.
func (s *Store) GetByToken(ctx context.Context, q Querier, token string) (*Reservation, error) {
	if q == nil {
		q = s.pool
	}
	query := `SELECT ` + reservationColumns + ` FROM reservations WHERE token = $1`
	r, err := scanReservation(q.QueryRow(ctx, query, token))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("slotledger: load reservation: %w", err)
	}
	return r, nil
}

// GetByTokenForUpdate locks the reservation row for the rest of the
// transaction. Must be called with a tx querier.
func (s *Store) GetByTokenForUpdate(ctx context.Context, q Querier, token string) (*Reservation, error) {
	query := `SELECT ` + reservationColumns + ` FROM reservations WHERE token = $1 FOR UPDATE`
	r, err := scanReservation(q.QueryRow(ctx, query, token))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("slotledger: lock reservation: %w", err)
	}
	return r, nil
}

// Move changes the slot of an existing reservation. The partial unique index
// rejects the move when the target slot is held; the caller's transaction
// rolls back and the reservation keeps its old slot.
func (s *Store) Move(ctx context.Context, q Querier, id uuid.UUID, slot Slot) error {
	if q == nil {
		q = s.pool
	}
	query := `
		UPDATE reservations
		SET resource_id = $2, visit_date = $3, slot_time = $4, updated_at = now()
		WHERE id = $1
	`
	ct, err := q.Exec(ctx, query, id, slot.ResourceID, slot.VisitDate, slot.SlotTime)
	if err != nil {
		return fmt.Errorf("slotledger: move reservation: %w", translateUnique(err))
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetStatus transitions a reservation only when the current status allows it.
func (s *Store) SetStatus(ctx context.Context, q Querier, id uuid.UUID, from, to Status) error {
	if q == nil {
		q = s.pool
	}
	query := `
		UPDATE reservations
		SET status = $3, updated_at = now()
		WHERE id = $1 AND status = $2
	`
	ct, err := q.Exec(ctx, query, id, string(from), string(to))
	if err != nil {
		return fmt.Errorf("slotledger: set status: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrInvalidTransition
	}
	return nil
}

// Cancel marks a reservation canceled regardless of its current non-terminal
// state. Returns the number of rows changed so callers can treat a repeat
// cancel as a no-op.
func (s *Store) Cancel(ctx context.Context, q Querier, id uuid.UUID) (int64, error) {
	if q == nil {
		q = s.pool
	}
	query := `
		UPDATE reservations
		SET status = 'canceled', updated_at = now()
		WHERE id = $1 AND status IN ('pending', 'confirmed')
	`
	ct, err := q.Exec(ctx, query, id)
	if err != nil {
		return 0, fmt.Errorf("slotledger: cancel reservation: %w", err)
	}
	return ct.RowsAffected(), nil
}

// CompleteElapsed transitions confirmed reservations whose slot time has
// passed to completed. Pending reservations are never completed.
func (s *Store) CompleteElapsed(ctx context.Context, now time.Time) (int64, error) {
	query := `
		UPDATE reservations
		SET status = 'completed', updated_at = now()
		WHERE status = 'confirmed'
			AND (visit_date < $1 OR (visit_date = $1 AND slot_time <= $2))
	`
	ct, err := s.pool.Exec(ctx, query, now.Format("2006-01-02"), now.Format("15:04"))
	if err != nil {
		return 0, fmt.Errorf("slotledger: complete elapsed: %w", err)
	}
	return ct.RowsAffected(), nil
}

// CountActiveForSlot returns the number of non-canceled reservations holding
// the slot. Used by reconciliation checks and tests.
func (s *Store) CountActiveForSlot(ctx context.Context, slot Slot) (int, error) {
	query := `
		SELECT count(*) FROM reservations
		WHERE resource_id = $1 AND visit_date = $2 AND slot_time = $3 AND status <> 'canceled'
	`
	var n int
	if err := s.pool.QueryRow(ctx, query, slot.ResourceID, slot.VisitDate, slot.SlotTime).Scan(&n); err != nil {
		return 0, fmt.Errorf("slotledger: count active: %w", err)
	}
	return n, nil
}

// ListForPatient returns a patient's reservations, newest first.
func (s *Store) ListForPatient(ctx context.Context, patientID uuid.UUID) ([]Reservation, error) {
	query := `
		SELECT ` + reservationColumns + `
		FROM reservations
		WHERE patient_id = $1
		ORDER BY visit_date DESC, slot_time DESC
	`
	rows, err := s.pool.Query(ctx, query, patientID)
	if err != nil {
		return nil, fmt.Errorf("slotledger: list for patient: %w", err)
	}
	defer rows.Close()
	var out []Reservation
	for rows.Next() {
		var r Reservation
		var status string
		if err := rows.Scan(&r.ID, &r.Token, &r.PatientID, &r.ResourceID, &r.VisitDate, &r.SlotTime, &status, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("slotledger: scan reservation: %w", err)
		}
		r.Status = Status(status)
		out = append(out, r)
	}
	return out, rows.Err()
}

func translateUnique(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		switch pgErr.ConstraintName {
		case slotConstraint:
			return ErrSlotTaken
		case patientDayConstraint:
			return ErrPatientAlreadyBooked
		}
	}
	return err
}
