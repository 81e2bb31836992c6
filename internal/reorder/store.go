// Package reorder persists product reorder requests. Request status is
// authoritative in Postgres; the row number each request occupies in the
// external spreadsheet ledger is authoritative in the sheet and only
// mirrored here.
package reorder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrNotFound is returned when a reorder request does not exist.
var ErrNotFound = errors.New("reorder: request not found")

// Request is a reorder request row. SheetRow is nil until the request has
// been appended to the spreadsheet ledger.
type Request struct {
	ID        int64
	PatientID uuid.UUID
	Product   string
	Status    string
	SheetRow  *int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// RowMapping pairs a request id with the sheet row recorded for it.
type RowMapping struct {
	RequestID int64
	SheetRow  int
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

// Store persists reorder requests in Postgres.
type Store struct {
	pool PgxPool
}

func NewStore(pool PgxPool) *Store {
	if pool == nil {
		panic("reorder: pgx pool required")
	}
	return &Store{pool: pool}
}

func (s *Store) Begin(ctx context.Context) (pgx.Tx, error) {
	return s.pool.Begin(ctx)
}

const requestColumns = `id, patient_id, product, status, sheet_row, created_at, updated_at`

// Create inserts a new request in 'requested' status with no sheet row yet
// and returns the assigned id.
func (s *Store) Create(ctx context.Context, q Querier, patientID uuid.UUID, product string) (int64, error) {
	if q == nil {
		q = s.pool
	}
	var id int64
	err := q.QueryRow(ctx,
		`INSERT INTO reorder_requests (patient_id, product) VALUES ($1, $2) RETURNING id`,
		patientID, product,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("reorder: insert request: %w", err)
	}
	return id, nil
}

// SetSheetRow records the row number the spreadsheet ledger assigned.
func (s *Store) SetSheetRow(ctx context.Context, q Querier, id int64, sheetRow int) error {
	if q == nil {
		q = s.pool
	}
	tag, err := q.Exec(ctx,
		`UPDATE reorder_requests SET sheet_row = $2, updated_at = now() WHERE id = $1`,
		id, sheetRow,
	)
	if err != nil {
		return fmt.Errorf("reorder: set sheet row: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateStatus moves a request to a new status.
func (s *Store) UpdateStatus(ctx context.Context, q Querier, id int64, status string) error {
	if q == nil {
		q = s.pool
	}
	tag, err := q.Exec(ctx,
		`UPDATE reorder_requests SET status = $2, updated_at = now() WHERE id = $1`,
		id, status,
	)
	if err != nil {
		return fmt.Errorf("reorder: update status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// GetByID loads a single request.
func (s *Store) GetByID(ctx context.Context, q Querier, id int64) (*Request, error) {
	if q == nil {
		q = s.pool
	}
	row := q.QueryRow(ctx,
		`SELECT `+requestColumns+` FROM reorder_requests WHERE id = $1`, id)
	req, err := scanRequest(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reorder: get request: %w", err)
	}
	return req, nil
}

// ListForPatient returns a patient's requests, newest first.
func (s *Store) ListForPatient(ctx context.Context, q Querier, patientID uuid.UUID) ([]*Request, error) {
	if q == nil {
		q = s.pool
	}
	rows, err := q.Query(ctx,
		`SELECT `+requestColumns+` FROM reorder_requests WHERE patient_id = $1 ORDER BY created_at DESC`,
		patientID)
	if err != nil {
		return nil, fmt.Errorf("reorder: list for patient: %w", err)
	}
	defer rows.Close()
	return collectRequests(rows)
}

// RowMappings returns every (request id, sheet row) pair recorded in the
// mirror, ordered by id. The reconciler diffs these against the sheet.
func (s *Store) RowMappings(ctx context.Context, q Querier) ([]RowMapping, error) {
	if q == nil {
		q = s.pool
	}
	rows, err := q.Query(ctx,
		`SELECT id, sheet_row FROM reorder_requests WHERE sheet_row IS NOT NULL ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("reorder: row mappings: %w", err)
	}
	defer rows.Close()
	var mappings []RowMapping
	for rows.Next() {
		var m RowMapping
		if err := rows.Scan(&m.RequestID, &m.SheetRow); err != nil {
			return nil, fmt.Errorf("reorder: scan row mapping: %w", err)
		}
		mappings = append(mappings, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reorder: row mappings: %w", err)
	}
	return mappings, nil
}

// ListMissingSheetRow returns requests never recorded in the sheet, oldest
// first. These are append failures the reconciler can replay.
func (s *Store) ListMissingSheetRow(ctx context.Context, q Querier) ([]*Request, error) {
	if q == nil {
		q = s.pool
	}
	rows, err := q.Query(ctx,
		`SELECT `+requestColumns+` FROM reorder_requests WHERE sheet_row IS NULL ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("reorder: list missing sheet row: %w", err)
	}
	defer rows.Close()
	return collectRequests(rows)
}

func scanRequest(row pgx.Row) (*Request, error) {
	var r Request
	err := row.Scan(&r.ID, &r.PatientID, &r.Product, &r.Status, &r.SheetRow, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func collectRequests(rows pgx.Rows) ([]*Request, error) {
	var out []*Request
	for rows.Next() {
		var r Request
		if err := rows.Scan(&r.ID, &r.PatientID, &r.Product, &r.Status, &r.SheetRow, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("reorder: scan request: %w", err)
		}
		out = append(out, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reorder: iterate requests: %w", err)
	}
	return out, nil
}
