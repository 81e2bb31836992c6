package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	pgxmock "github.com/pashagolub/pgxmock/v4"

	"github.com/wolfman30/clinic-reservation-engine/internal/dispatch"
	"github.com/wolfman30/clinic-reservation-engine/internal/identity"
	"github.com/wolfman30/clinic-reservation-engine/internal/intake"
	"github.com/wolfman30/clinic-reservation-engine/internal/reconcile"
	"github.com/wolfman30/clinic-reservation-engine/internal/sheets"
	"github.com/wolfman30/clinic-reservation-engine/internal/slotledger"
)

func TestDomainErrorTaxonomy(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"slot taken", slotledger.ErrSlotTaken, http.StatusConflict, "slot_taken"},
		{"patient already booked", slotledger.ErrPatientAlreadyBooked, http.StatusConflict, "patient_already_booked"},
		{"invalid transition", slotledger.ErrInvalidTransition, http.StatusConflict, "invalid_transition"},
		{"merge conflict", identity.ErrMergeConflict, http.StatusConflict, "merge_conflict"},
		{"self merge", identity.ErrSelfMerge, http.StatusBadRequest, "self_merge"},
		{"row mapping conflict", reconcile.ErrRowMappingConflict, http.StatusConflict, "row_mapping_conflict"},
		{"open intake", intake.ErrOpenIntakeExists, http.StatusConflict, "open_intake_exists"},
		{"not found", slotledger.ErrNotFound, http.StatusNotFound, "not_found"},
		{"sheet timeout", sheets.ErrTimeout, http.StatusGatewayTimeout, "upstream_timeout"},
		{"context deadline", context.DeadlineExceeded, http.StatusGatewayTimeout, "upstream_timeout"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			writeDomainError(rr, tc.err)
			if rr.Code != tc.status {
				t.Fatalf("expected status %d, got %d", tc.status, rr.Code)
			}
			var resp errorResponse
			if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
				t.Fatalf("decode response: %v", err)
			}
			if resp.Code != tc.code {
				t.Fatalf("expected code %q, got %q", tc.code, resp.Code)
			}
		})
	}
}

type stubVerifier bool

func (s stubVerifier) VerifySignature(body []byte, signature string) bool { return bool(s) }

func TestChatWebhookRejectsBadSignature(t *testing.T) {
	handler := NewChatWebhookHandler(stubVerifier(false), nil, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/chat", strings.NewReader(`{"events":[]}`))
	rr := httptest.NewRecorder()
	handler.Receive(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestChatWebhookRecordsInboundMessage(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	resolver := identity.NewService(identity.NewStore(mock), nil, nil, nil)
	handler := NewChatWebhookHandler(stubVerifier(true), resolver, dispatch.NewStore(mock), nil)
	patientID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec("pg_advisory_xact_lock").
		WithArgs("U777").
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectQuery("SELECT id FROM patients").
		WithArgs("U777").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(patientID))
	mock.ExpectCommit()
	mock.ExpectExec("INSERT INTO notification_log").
		WithArgs(pgxmock.AnyArg(), patientID, "U777", "chat_message", "inbound", "再注文お願いします", dispatch.StatusPending, "inbound:msg-001").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("UPDATE notification_log").
		WithArgs(pgxmock.AnyArg(), dispatch.StatusSent).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	body := `{"events":[{"type":"message","source":{"userId":"U777"},"message":{"id":"msg-001","type":"text","text":"再注文お願いします"}}]}`
	req := httptest.NewRequest(http.MethodPost, "/webhooks/chat", strings.NewReader(body))
	rr := httptest.NewRecorder()
	handler.Receive(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp map[string]int
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["accepted"] != 1 {
		t.Fatalf("expected 1 accepted event, got %d", resp["accepted"])
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestChatWebhookToleratesRedelivery(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	resolver := identity.NewService(identity.NewStore(mock), nil, nil, nil)
	handler := NewChatWebhookHandler(stubVerifier(true), resolver, dispatch.NewStore(mock), nil)
	patientID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec("pg_advisory_xact_lock").
		WithArgs("U777").
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectQuery("SELECT id FROM patients").
		WithArgs("U777").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(patientID))
	mock.ExpectCommit()
	// The claim loses: the platform redelivered an event already recorded.
	mock.ExpectExec("INSERT INTO notification_log").
		WithArgs(pgxmock.AnyArg(), patientID, "U777", "chat_message", "inbound", "hi", dispatch.StatusPending, "inbound:msg-001").
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	body := `{"events":[{"type":"message","source":{"userId":"U777"},"message":{"id":"msg-001","type":"text","text":"hi"}}]}`
	req := httptest.NewRequest(http.MethodPost, "/webhooks/chat", strings.NewReader(body))
	rr := httptest.NewRecorder()
	handler.Receive(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestCreateReservationNormalizesSlotTime(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()
	patientID := uuid.New()

	ledger := slotledger.NewService(slotledger.NewStore(mock), nil, nil, nil)
	handler := NewReservationHandler(ledger, nil)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO reservations").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), patientID, "dr-yamada", pgxmock.AnyArg(), "09:45", string(slotledger.StatusPending)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	body := `{"patient_id":"` + patientID.String() + `","resource_id":"dr-yamada","visit_date":"2026-09-12","slot_time":"9:45"}`
	req := httptest.NewRequest(http.MethodPost, "/admin/reservations", strings.NewReader(body))
	rr := httptest.NewRecorder()
	handler.Create(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp reservationResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.SlotTime != "09:45" {
		t.Fatalf("expected normalized slot time 09:45, got %q", resp.SlotTime)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestCreateReservationRejectsMalformedSlotTime(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	ledger := slotledger.NewService(slotledger.NewStore(mock), nil, nil, nil)
	handler := NewReservationHandler(ledger, nil)

	body := `{"patient_id":"` + uuid.NewString() + `","resource_id":"dr-yamada","visit_date":"2026-09-12","slot_time":"quarter past nine"}`
	req := httptest.NewRequest(http.MethodPost, "/admin/reservations", strings.NewReader(body))
	rr := httptest.NewRecorder()
	handler.Create(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rr.Code, rr.Body.String())
	}
}

type spyInvalidator struct {
	dropped []uuid.UUID
}

func (s *spyInvalidator) Invalidate(_ context.Context, patientID uuid.UUID) error {
	s.dropped = append(s.dropped, patientID)
	return nil
}

func TestAnswerIntakeInvalidatesOwningPatient(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()
	intakeID := uuid.New()
	owner := uuid.New()

	mock.ExpectQuery("UPDATE intake_records").
		WithArgs(intakeID, pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"patient_id"}).AddRow(owner))

	inv := &spyInvalidator{}
	handler := NewIntakeHandler(intake.NewStore(mock), inv, nil)

	// No patient id in the body; the handler learns the owner from the
	// answered record itself.
	body := `{"answers":{"q1":"yes"}}`
	req := httptest.NewRequest(http.MethodPost, "/admin/intakes/"+intakeID.String()+"/answers", strings.NewReader(body))
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("id", intakeID.String())
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
	rr := httptest.NewRecorder()
	handler.Answer(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if len(inv.dropped) != 1 || inv.dropped[0] != owner {
		t.Fatalf("expected invalidation for %s, got %v", owner, inv.dropped)
	}
}

func TestNotificationSendDuplicateReturnsAlreadySent(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	svc := dispatch.NewService(dispatch.NewStore(mock), noopPusher{}, nil, nil, 3, time.Minute)
	handler := NewNotificationHandler(svc, nil)
	patientID := uuid.New()
	now := time.Now()

	mock.ExpectExec("INSERT INTO notification_log").
		WithArgs(pgxmock.AnyArg(), patientID, "U1", "reminder", "outbound", "明日ご来院ください", dispatch.StatusPending, "key-9").
		WillReturnResult(pgxmock.NewResult("INSERT", 0))
	mock.ExpectQuery("FROM notification_log").
		WithArgs("key-9").
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "patient_id", "chat_user_id", "message_type", "direction", "content", "status", "idempotency_key", "send_attempts", "last_attempt_at", "next_retry_at", "created_at",
		}).AddRow(uuid.New(), patientID, "U1", "reminder", "outbound", "明日ご来院ください", dispatch.StatusSent, "key-9", 1, &now, (*time.Time)(nil), now))

	body := `{"patient_id":"` + patientID.String() + `","chat_user_id":"U1","message_type":"reminder","content":"明日ご来院ください","idempotency_key":"key-9"}`
	req := httptest.NewRequest(http.MethodPost, "/admin/notifications/send", strings.NewReader(body))
	rr := httptest.NewRecorder()
	handler.Send(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 for duplicate send, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp sendResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.AlreadySent || resp.Status != dispatch.StatusSent {
		t.Fatalf("expected already_sent response, got %+v", resp)
	}
}

type noopPusher struct{}

func (noopPusher) Push(ctx context.Context, chatUserID, text string) error { return nil }
