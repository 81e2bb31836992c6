package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
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

// Store persists canonical patient identities.
type Store struct {
	pool PgxPool
}

func NewStore(pool PgxPool) *Store {
	if pool == nil {
		panic("identity: pgx pool required")
	}
	return &Store{pool: pool}
}

func (s *Store) Begin(ctx context.Context) (pgx.Tx, error) {
	return s.pool.Begin(ctx)
}

const patientColumns = `id, chat_user_id, name, name_kana, sex, birthdate, phone, status, merged_into, created_at, updated_at`

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	if err := row.Scan(&p.ID, &p.ChatUserID, &p.Name, &p.NameKana, &p.Sex, &p.Birthdate, &p.Phone, &p.Status, &p.MergedInto, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

// GetByID loads a patient by internal id.
func (s *Store) GetByID(ctx context.Context, q Querier, id uuid.UUID) (*Patient, error) {
	if q == nil {
		q = s.pool
	}
	query := `SELECT ` + patientColumns + ` FROM patients WHERE id = $1`
	p, err := scanPatient(q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("identity: load patient: %w", err)
	}
	return p, nil
}

// ResolveOrCreate returns the active patient bound to the chat identity,
// creating a placeholder when none exists. Concurrent first-contact events
// for the same identity serialize on an advisory lock, so exactly one row is
// created; every caller gets the same winner.
func (s *Store) ResolveOrCreate(ctx context.Context, chatUserID string) (uuid.UUID, bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("identity: begin resolve: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, chatUserID); err != nil {
		return uuid.Nil, false, fmt.Errorf("identity: advisory lock: %w", err)
	}

	var id uuid.UUID
	query := `
		SELECT id FROM patients
		WHERE chat_user_id = $1 AND status = 'active'
		ORDER BY created_at
		LIMIT 1
	`
	err = tx.QueryRow(ctx, query, chatUserID).Scan(&id)
	switch {
	case err == nil:
		if err := tx.Commit(ctx); err != nil {
			return uuid.Nil, false, fmt.Errorf("identity: commit resolve: %w", err)
		}
		return id, false, nil
	case errors.Is(err, pgx.ErrNoRows):
		id = uuid.New()
		insert := `INSERT INTO patients (id, chat_user_id) VALUES ($1, $2)`
		if _, err := tx.Exec(ctx, insert, id, chatUserID); err != nil {
			return uuid.Nil, false, fmt.Errorf("identity: insert placeholder: %w", err)
		}
		if err := tx.Commit(ctx); err != nil {
			return uuid.Nil, false, fmt.Errorf("identity: commit create: %w", err)
		}
		return id, true, nil
	default:
		return uuid.Nil, false, fmt.Errorf("identity: resolve: %w", err)
	}
}

// UpdateProfile fills placeholder demographics. Empty arguments leave the
// stored value untouched.
func (s *Store) UpdateProfile(ctx context.Context, q Querier, id uuid.UUID, name, nameKana, sex, birthdate, phone string) error {
	if q == nil {
		q = s.pool
	}
	query := `
		UPDATE patients
		SET name = COALESCE(NULLIF($2, ''), name),
			name_kana = COALESCE(NULLIF($3, ''), name_kana),
			sex = COALESCE(NULLIF($4, ''), sex),
			birthdate = COALESCE(NULLIF($5, ''), birthdate),
			phone = COALESCE(NULLIF($6, ''), phone),
			updated_at = now()
		WHERE id = $1
	`
	ct, err := q.Exec(ctx, query, id, name, nameKana, sex, birthdate, phone)
	if err != nil {
		return fmt.Errorf("identity: update profile: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DetectDuplicates groups active patients that share a chat identity.
// Reporting only; merging is a separate, operator-confirmed step.
func (s *Store) DetectDuplicates(ctx context.Context) ([]DuplicateGroup, error) {
	query := `
		SELECT chat_user_id, id
		FROM patients
		WHERE status = 'active'
			AND chat_user_id IN (
				SELECT chat_user_id FROM patients
				WHERE status = 'active' AND chat_user_id IS NOT NULL
				GROUP BY chat_user_id
				HAVING count(*) > 1
			)
		ORDER BY chat_user_id, created_at
	`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("identity: detect duplicates: %w", err)
	}
	defer rows.Close()

	var groups []DuplicateGroup
	for rows.Next() {
		var chatID string
		var id uuid.UUID
		if err := rows.Scan(&chatID, &id); err != nil {
			return nil, fmt.Errorf("identity: scan duplicate: %w", err)
		}
		if len(groups) == 0 || groups[len(groups)-1].ChatUserID != chatID {
			groups = append(groups, DuplicateGroup{ChatUserID: chatID})
		}
		last := &groups[len(groups)-1]
		last.PatientIDs = append(last.PatientIDs, id)
	}
	return groups, rows.Err()
}

// MergeCounts reports how many rows each merge step re-pointed.
type MergeCounts struct {
	IntakeRecords   int64
	Reservations    int64
	ReorderRequests int64
	Notifications   int64
}

// Merge re-points every record from source to target and marks source
// merged, all inside one transaction. A partial merge is never observable.
func (s *Store) Merge(ctx context.Context, sourceID, targetID uuid.UUID) (MergeCounts, error) {
	var counts MergeCounts
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return counts, fmt.Errorf("identity: begin merge: %w", err)
	}
	defer tx.Rollback(ctx)

	// Lock both rows in a stable order to avoid deadlocks between
	// concurrent merges. Either side already merged means the pair needs
	// manual resolution, not a second merge.
	lock := `SELECT id, status FROM patients WHERE id = ANY($1) ORDER BY id FOR UPDATE`
	rows, err := tx.Query(ctx, lock, []uuid.UUID{sourceID, targetID})
	if err != nil {
		return counts, fmt.Errorf("identity: lock patients: %w", err)
	}
	var locked, active int
	for rows.Next() {
		var (
			id     uuid.UUID
			status string
		)
		if err := rows.Scan(&id, &status); err != nil {
			rows.Close()
			return counts, fmt.Errorf("identity: scan lock: %w", err)
		}
		locked++
		if status == StatusActive {
			active++
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return counts, fmt.Errorf("identity: lock patients: %w", err)
	}
	if locked != 2 {
		return counts, ErrNotFound
	}
	if active != 2 {
		return counts, fmt.Errorf("identity: merge inactive patient: %w", ErrMergeConflict)
	}

	counts.IntakeRecords, err = execRowsAffected(ctx, tx, `
		UPDATE intake_records SET patient_id = $2 WHERE patient_id = $1
	`, sourceID, targetID)
	if err != nil {
		return counts, repointError("intake records", err)
	}

	counts.Reservations, err = execRowsAffected(ctx, tx, `
		UPDATE reservations SET patient_id = $2, updated_at = now() WHERE patient_id = $1
	`, sourceID, targetID)
	if err != nil {
		return counts, repointError("reservations", err)
	}

	counts.ReorderRequests, err = execRowsAffected(ctx, tx, `
		UPDATE reorder_requests SET patient_id = $2, updated_at = now() WHERE patient_id = $1
	`, sourceID, targetID)
	if err != nil {
		return counts, repointError("reorder requests", err)
	}

	counts.Notifications, err = execRowsAffected(ctx, tx, `
		UPDATE notification_log SET patient_id = $2 WHERE patient_id = $1
	`, sourceID, targetID)
	if err != nil {
		return counts, repointError("notifications", err)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE patients SET status = 'merged', merged_into = $2, updated_at = now() WHERE id = $1
	`, sourceID, targetID); err != nil {
		return counts, fmt.Errorf("identity: mark source merged: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return counts, fmt.Errorf("identity: commit merge: %w", err)
	}
	return counts, nil
}

// ChatIdentitiesWithoutPatient lists chat identities seen in the
// notification log that no longer resolve to any patient.
func (s *Store) ChatIdentitiesWithoutPatient(ctx context.Context) ([]string, error) {
	query := `
		SELECT DISTINCT n.chat_user_id
		FROM notification_log n
		WHERE n.chat_user_id <> ''
			AND NOT EXISTS (
				SELECT 1 FROM patients p WHERE p.chat_user_id = n.chat_user_id
			)
		ORDER BY n.chat_user_id
	`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("identity: orphan chat identities: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("identity: scan orphan: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func execRowsAffected(ctx context.Context, q Querier, sql string, args ...any) (int64, error) {
	ct, err := q.Exec(ctx, sql, args...)
	if err != nil {
		return 0, err
	}
	return ct.RowsAffected(), nil
}

// repointError translates unique violations raised while re-pointing rows
// into ErrMergeConflict. Both patients holding an active reservation on the
// same day, or both holding an open intake, collides on repoint and must be
// resolved by hand.
func repointError(what string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("identity: repoint %s: %w", what, ErrMergeConflict)
	}
	return fmt.Errorf("identity: repoint %s: %w", what, err)
}
