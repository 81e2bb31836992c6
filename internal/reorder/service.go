package reorder

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"

	"github.com/wolfman30/clinic-reservation-engine/internal/sheets"
	"github.com/wolfman30/clinic-reservation-engine/pkg/logging"
)

var reorderTracer = otel.Tracer("engine.internal.reorder")

// Ledger is the slice of the spreadsheet client the service uses.
type Ledger interface {
	AppendRow(ctx context.Context, row sheets.Row) (int, error)
	UpdateRow(ctx context.Context, number int, row sheets.Row) error
}

// Invalidator drops the cached aggregate view for a patient after a write.
type Invalidator interface {
	Invalidate(ctx context.Context, patientID uuid.UUID) error
}

// Service coordinates the relational mirror with the spreadsheet ledger.
// The mirror is authoritative for status; the sheet is authoritative for
// row numbers. Every successful write invalidates the patient's cached view.
type Service struct {
	store       *Store
	ledger      Ledger
	invalidator Invalidator
	logger      *logging.Logger
}

func NewService(store *Store, ledger Ledger, invalidator Invalidator, logger *logging.Logger) *Service {
	if store == nil {
		panic("reorder: store is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{store: store, ledger: ledger, invalidator: invalidator, logger: logger}
}

// Create records a reorder request and appends it to the spreadsheet ledger.
// The relational row is committed first so the request id exists before the
// sheet append; if the append fails the request is kept with no sheet row
// and the reconciler replays the append later.
func (s *Service) Create(ctx context.Context, patientID uuid.UUID, product, date string) (*Request, error) {
	ctx, span := reorderTracer.Start(ctx, "reorder.Create")
	defer span.End()

	id, err := s.store.Create(ctx, nil, patientID, product)
	if err != nil {
		return nil, err
	}
	if s.ledger != nil {
		rowNum, appendErr := s.ledger.AppendRow(ctx, sheets.Row{
			RequestID:  id,
			PatientRef: patientID.String(),
			Product:    product,
			Status:     "requested",
			Date:       date,
		})
		if appendErr != nil {
			s.logger.Warn("reorder sheet append failed, reconciler will replay",
				"request_id", id, "error", appendErr)
		} else if err := s.store.SetSheetRow(ctx, nil, id, rowNum); err != nil {
			return nil, fmt.Errorf("reorder: record sheet row: %w", err)
		}
	}
	s.invalidate(ctx, patientID)
	return s.store.GetByID(ctx, nil, id)
}

// UpdateStatus changes a request's status and mirrors the change to its
// sheet row when one is recorded. Sheet failures are logged, not fatal:
// the reconciler detects the resulting drift.
func (s *Service) UpdateStatus(ctx context.Context, id int64, status string) error {
	ctx, span := reorderTracer.Start(ctx, "reorder.UpdateStatus")
	defer span.End()

	if err := s.store.UpdateStatus(ctx, nil, id, status); err != nil {
		return err
	}
	req, err := s.store.GetByID(ctx, nil, id)
	if err != nil {
		return err
	}
	s.invalidate(ctx, req.PatientID)
	if s.ledger != nil && req.SheetRow != nil {
		row := sheets.Row{
			Number:     *req.SheetRow,
			RequestID:  req.ID,
			PatientRef: req.PatientID.String(),
			Product:    req.Product,
			Status:     status,
		}
		if err := s.ledger.UpdateRow(ctx, *req.SheetRow, row); err != nil {
			s.logger.Warn("reorder sheet update failed",
				"request_id", id, "sheet_row", *req.SheetRow, "error", err)
		}
	}
	return nil
}

// Get loads one request.
func (s *Service) Get(ctx context.Context, id int64) (*Request, error) {
	return s.store.GetByID(ctx, nil, id)
}

// ListForPatient returns a patient's requests.
func (s *Service) ListForPatient(ctx context.Context, patientID uuid.UUID) ([]*Request, error) {
	return s.store.ListForPatient(ctx, nil, patientID)
}

func (s *Service) invalidate(ctx context.Context, patientID uuid.UUID) {
	if s.invalidator == nil {
		return
	}
	if err := s.invalidator.Invalidate(ctx, patientID); err != nil {
		s.logger.Warn("cache invalidation failed", "error", err, "patient_id", patientID)
	}
}
