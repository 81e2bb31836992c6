package cachegate

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"

	"github.com/wolfman30/clinic-reservation-engine/internal/identity"
	"github.com/wolfman30/clinic-reservation-engine/internal/intake"
	"github.com/wolfman30/clinic-reservation-engine/internal/reorder"
	"github.com/wolfman30/clinic-reservation-engine/internal/slotledger"
)

func TestPatientViewLoaderAssemblesAggregate(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	loader := NewPatientViewLoader(
		identity.NewStore(mock),
		slotledger.NewStore(mock),
		intake.NewStore(mock),
		reorder.NewStore(mock),
	)

	pid := uuid.New()
	chatID := "U1234"
	now := time.Now()
	visit := time.Date(2026, 9, 12, 0, 0, 0, 0, time.UTC)
	sheetRow := 468

	mock.ExpectQuery("SELECT id, chat_user_id").
		WithArgs(pid).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "chat_user_id", "name", "name_kana", "sex", "birthdate", "phone", "status", "merged_into", "created_at", "updated_at",
		}).AddRow(pid, &chatID, "山田 太郎", "ヤマダ タロウ", "male", "1980-04-01", "09012345678", "active", (*uuid.UUID)(nil), now, now))

	mock.ExpectQuery("FROM reservations").
		WithArgs(pid).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "token", "patient_id", "resource_id", "visit_date", "slot_time", "status", "created_at", "updated_at",
		}).AddRow(uuid.New(), "tok-1", pid, "dr-sato", visit, "10:30", "confirmed", now, now))

	mock.ExpectQuery("FROM intake_records").
		WithArgs(pid).
		WillReturnError(pgx.ErrNoRows)

	mock.ExpectQuery("FROM reorder_requests").
		WithArgs(pid).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "patient_id", "product", "status", "sheet_row", "created_at", "updated_at",
		}).AddRow(int64(467), pid, "lotion", "shipped", &sheetRow, now, now))

	raw, err := loader(context.Background(), pid)
	if err != nil {
		t.Fatalf("loader: %v", err)
	}

	var view PatientView
	if err := json.Unmarshal(raw, &view); err != nil {
		t.Fatalf("unmarshal view: %v", err)
	}
	if view.Patient.ID != pid || view.Patient.Name != "山田 太郎" {
		t.Fatalf("unexpected patient summary: %+v", view.Patient)
	}
	if len(view.Reservations) != 1 || view.Reservations[0].VisitDate != "2026-09-12" || view.Reservations[0].Status != "confirmed" {
		t.Fatalf("unexpected reservations: %+v", view.Reservations)
	}
	if view.OpenIntake != nil {
		t.Fatalf("expected no open intake, got %+v", view.OpenIntake)
	}
	if len(view.Reorders) != 1 || view.Reorders[0].ID != 467 {
		t.Fatalf("unexpected reorders: %+v", view.Reorders)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPatientViewLoaderIncludesOpenIntake(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	defer mock.Close()

	loader := NewPatientViewLoader(
		identity.NewStore(mock),
		slotledger.NewStore(mock),
		intake.NewStore(mock),
		reorder.NewStore(mock),
	)

	pid := uuid.New()
	intakeID := uuid.New()
	now := time.Now()

	mock.ExpectQuery("SELECT id, chat_user_id").
		WithArgs(pid).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "chat_user_id", "name", "name_kana", "sex", "birthdate", "phone", "status", "merged_into", "created_at", "updated_at",
		}).AddRow(pid, (*string)(nil), "", "", "", "", "", "active", (*uuid.UUID)(nil), now, now))

	mock.ExpectQuery("FROM reservations").
		WithArgs(pid).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "token", "patient_id", "resource_id", "visit_date", "slot_time", "status", "created_at", "updated_at",
		}))

	mock.ExpectQuery("FROM intake_records").
		WithArgs(pid).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "patient_id", "reservation_id", "answers", "answered_at", "created_at",
		}).AddRow(intakeID, pid, (*uuid.UUID)(nil), json.RawMessage(`{}`), (*time.Time)(nil), now))

	mock.ExpectQuery("FROM reorder_requests").
		WithArgs(pid).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "patient_id", "product", "status", "sheet_row", "created_at", "updated_at",
		}))

	raw, err := loader(context.Background(), pid)
	if err != nil {
		t.Fatalf("loader: %v", err)
	}

	var view PatientView
	if err := json.Unmarshal(raw, &view); err != nil {
		t.Fatalf("unmarshal view: %v", err)
	}
	if view.OpenIntake == nil || view.OpenIntake.ID != intakeID {
		t.Fatalf("expected open intake %s, got %+v", intakeID, view.OpenIntake)
	}
	if len(view.Reservations) != 0 || len(view.Reorders) != 0 {
		t.Fatalf("expected empty lists, got %+v", view)
	}
}
