package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	pgxmock "github.com/pashagolub/pgxmock/v4"
)

func entryColumnsList() []string {
	return []string{"id", "patient_id", "chat_user_id", "message_type", "direction", "content", "status", "idempotency_key", "send_attempts", "last_attempt_at", "next_retry_at", "created_at"}
}

func TestClaimLoserGetsAlreadySent(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()
	store := &Store{pool: mock}

	// ON CONFLICT DO NOTHING reports zero rows for the losing insert.
	mock.ExpectExec("INSERT INTO notification_log").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), "U1234", "reorder_confirm", "outbound", "msg", StatusPending, "key-1").
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	e := &Entry{ID: uuid.New(), PatientID: uuid.New(), ChatUserID: "U1234", MessageType: "reorder_confirm", Direction: "outbound", Content: "msg", IdempotencyKey: "key-1"}
	if err := store.Claim(context.Background(), nil, e); !errors.Is(err, ErrAlreadySent) {
		t.Fatalf("expected ErrAlreadySent, got %v", err)
	}
}

func TestClaimWinnerInsertsPending(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()
	store := &Store{pool: mock}

	mock.ExpectExec("INSERT INTO notification_log").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), "U1234", "reorder_confirm", "outbound", "msg", StatusPending, "key-1").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	e := &Entry{ID: uuid.New(), PatientID: uuid.New(), ChatUserID: "U1234", MessageType: "reorder_confirm", Direction: "outbound", Content: "msg", IdempotencyKey: "key-1"}
	if err := store.Claim(context.Background(), nil, e); err != nil {
		t.Fatalf("claim: %v", err)
	}
}

func TestListRetryCandidatesFilters(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()
	store := &Store{pool: mock}
	now := time.Date(2026, 2, 14, 10, 0, 0, 0, time.UTC)
	past := now.Add(-time.Minute)

	mock.ExpectQuery("SELECT (.+) FROM notification_log").
		WithArgs(StatusRetryPending, now, 50).
		WillReturnRows(pgxmock.NewRows(entryColumnsList()).
			AddRow(uuid.New(), uuid.New(), "U1", "visit_reminder", "outbound", "msg", StatusRetryPending, "k1", 1, &past, &past, past))

	out, err := store.ListRetryCandidates(context.Background(), nil, now, 50)
	if err != nil {
		t.Fatalf("list retry candidates: %v", err)
	}
	if len(out) != 1 || out[0].SendAttempts != 1 {
		t.Fatalf("unexpected candidates: %+v", out)
	}
}

func TestAuditGroupsDuplicates(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()
	store := &Store{pool: mock}
	from := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 1, 0)
	dup := uuid.New()

	mock.ExpectQuery("SELECT patient_id, count").
		WithArgs("visit_reminder", StatusSent, from, to).
		WillReturnRows(pgxmock.NewRows([]string{"patient_id", "count"}).AddRow(dup, 2))

	hits, err := store.Audit(context.Background(), nil, "visit_reminder", from, to)
	if err != nil {
		t.Fatalf("audit: %v", err)
	}
	if len(hits) != 1 || hits[0].PatientID != dup || hits[0].Count != 2 {
		t.Fatalf("unexpected hits: %+v", hits)
	}
}

func TestMarkRetryPendingMissingEntry(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()
	store := &Store{pool: mock}
	id := uuid.New()
	next := time.Now().Add(5 * time.Minute)

	mock.ExpectExec("UPDATE notification_log").
		WithArgs(id, StatusRetryPending, next).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	if err := store.MarkRetryPending(context.Background(), nil, id, next); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
