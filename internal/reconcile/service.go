// Package reconcile diffs the relational store, the spreadsheet ledger, and
// the chat identity surface, and repairs divergence. Every repair path is a
// dry run unless the caller passes Commit; the reconciler touches production
// medical and scheduling data, so reporting before mutating is the default.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"

	"github.com/wolfman30/clinic-reservation-engine/internal/intake"
	"github.com/wolfman30/clinic-reservation-engine/internal/observability/metrics"
	"github.com/wolfman30/clinic-reservation-engine/internal/reorder"
	"github.com/wolfman30/clinic-reservation-engine/internal/sheets"
	"github.com/wolfman30/clinic-reservation-engine/pkg/logging"
)

var reconcileTracer = otel.Tracer("engine.internal.reconcile")

// ErrRowMappingConflict reports a repair that would point two requests at
// the same sheet row. Integrity faults like this need manual repair.
var ErrRowMappingConflict = errors.New("reconcile: row mapping conflict")

// RowDrift is one request whose sheet row diverged from the id-derived
// expectation.
type RowDrift struct {
	RequestID   int64 `json:"request_id"`
	ExpectedRow int   `json:"expected_row"`
	ActualRow   int   `json:"actual_row"`
}

// RepairResult describes one row-mapping repair, planned or applied.
type RepairResult struct {
	RequestID int64 `json:"request_id"`
	FromRow   int   `json:"from_row"`
	ToRow     int   `json:"to_row"`
	Committed bool  `json:"committed"`
}

// Orphans reports ids present in one store with no counterpart in another.
type Orphans struct {
	ChatIdentitiesWithoutPatient []string    `json:"chat_identities_without_patient"`
	IntakesWithoutPatient        []uuid.UUID `json:"intakes_without_patient"`
}

// DuplicateIntake is one record in a patient's duplicate group, classified
// by whether it carries any answered fields.
type DuplicateIntake struct {
	Record intake.Record `json:"record"`
	Empty  bool          `json:"empty"`
}

// DuplicateIntakeGroup collects a patient's duplicate intake records.
type DuplicateIntakeGroup struct {
	PatientID uuid.UUID         `json:"patient_id"`
	Records   []DuplicateIntake `json:"records"`
}

// CleanupResult reports the empty-duplicate cleanup change set.
type CleanupResult struct {
	Deleted   []uuid.UUID `json:"deleted"`
	Kept      []uuid.UUID `json:"kept"`
	Committed bool        `json:"committed"`
}

// Mirror is the reorder store surface the reconciler reads and repairs.
type Mirror interface {
	RowMappings(ctx context.Context, q reorder.Querier) ([]reorder.RowMapping, error)
	ListMissingSheetRow(ctx context.Context, q reorder.Querier) ([]*reorder.Request, error)
	GetByID(ctx context.Context, q reorder.Querier, id int64) (*reorder.Request, error)
	SetSheetRow(ctx context.Context, q reorder.Querier, id int64, sheetRow int) error
}

// Ledger is the spreadsheet client surface the reconciler uses.
type Ledger interface {
	ListRows(ctx context.Context, from, to string) ([]sheets.Row, error)
	AppendRow(ctx context.Context, row sheets.Row) (int, error)
	UpdateRow(ctx context.Context, number int, row sheets.Row) error
}

// IdentityScanner finds chat identities with no patient record.
type IdentityScanner interface {
	ChatIdentitiesWithoutPatient(ctx context.Context) ([]string, error)
}

// IntakeScanner exposes the intake queries the reconciler scans with.
type IntakeScanner interface {
	OrphanedRecords(ctx context.Context) ([]uuid.UUID, error)
	ListByPatientsWithMultiple(ctx context.Context) ([]intake.Record, error)
	DeleteEmpty(ctx context.Context, q intake.Querier, id uuid.UUID) (bool, error)
}

// Service implements the diff and repair operations.
type Service struct {
	mirror    Mirror
	ledger    Ledger
	identity  IdentityScanner
	intakes   IntakeScanner
	metrics   *metrics.ReconcileMetrics
	logger    *logging.Logger
	rowOffset int
}

func NewService(mirror Mirror, ledger Ledger, identity IdentityScanner, intakes IntakeScanner, m *metrics.ReconcileMetrics, logger *logging.Logger, rowOffset int) *Service {
	if mirror == nil || ledger == nil {
		panic("reconcile: mirror and ledger are required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{
		mirror:    mirror,
		ledger:    ledger,
		identity:  identity,
		intakes:   intakes,
		metrics:   m,
		logger:    logger,
		rowOffset: rowOffset,
	}
}

// ExpectedRow is the id-derived row a request should occupy in the sheet.
func (s *Service) ExpectedRow(requestID int64) int {
	return int(requestID) + s.rowOffset
}

// DiffRowMapping compares each request's expected row against the row the
// sheet actually holds it at. Requests absent from the sheet are not drift;
// they surface through ReplayMissingAppends and FindOrphans.
func (s *Service) DiffRowMapping(ctx context.Context) ([]RowDrift, error) {
	ctx, span := reconcileTracer.Start(ctx, "reconcile.DiffRowMapping")
	defer span.End()

	rows, err := s.ledger.ListRows(ctx, "", "")
	if err != nil {
		return nil, fmt.Errorf("reconcile: list sheet rows: %w", err)
	}
	actualByID := make(map[int64]int, len(rows))
	for _, row := range rows {
		if row.RequestID != 0 {
			actualByID[row.RequestID] = row.Number
		}
	}
	mappings, err := s.mirror.RowMappings(ctx, nil)
	if err != nil {
		return nil, err
	}
	var drifts []RowDrift
	for _, m := range mappings {
		actual, ok := actualByID[m.RequestID]
		if !ok {
			continue
		}
		if expected := s.ExpectedRow(m.RequestID); actual != expected {
			drifts = append(drifts, RowDrift{RequestID: m.RequestID, ExpectedRow: expected, ActualRow: actual})
		}
	}
	s.metrics.SetDrift(len(drifts))
	return drifts, nil
}

// RepairRowMapping moves one request to the given row. Uniqueness is
// re-verified against the live sheet before anything is written: a repair
// that would leave two requests on one row fails with ErrRowMappingConflict.
// Without commit the planned change is returned untouched.
func (s *Service) RepairRowMapping(ctx context.Context, requestID int64, correctRow int, commit bool) (*RepairResult, error) {
	ctx, span := reconcileTracer.Start(ctx, "reconcile.RepairRowMapping")
	defer span.End()

	if correctRow <= 0 {
		return nil, fmt.Errorf("reconcile: correct row must be positive, got %d", correctRow)
	}
	req, err := s.mirror.GetByID(ctx, nil, requestID)
	if err != nil {
		return nil, err
	}
	rows, err := s.ledger.ListRows(ctx, "", "")
	if err != nil {
		return nil, fmt.Errorf("reconcile: list sheet rows: %w", err)
	}
	fromRow := 0
	for _, row := range rows {
		if row.RequestID == requestID {
			fromRow = row.Number
			continue
		}
		if row.Number == correctRow {
			return nil, fmt.Errorf("%w: row %d already holds request %d", ErrRowMappingConflict, correctRow, row.RequestID)
		}
	}
	result := &RepairResult{RequestID: requestID, FromRow: fromRow, ToRow: correctRow}
	if !commit {
		s.metrics.ObserveRepair(false)
		return result, nil
	}

	sheetRow := sheets.Row{
		Number:     correctRow,
		RequestID:  req.ID,
		PatientRef: req.PatientID.String(),
		Product:    req.Product,
		Status:     req.Status,
	}
	if err := s.ledger.UpdateRow(ctx, correctRow, sheetRow); err != nil {
		return nil, fmt.Errorf("reconcile: write corrected row: %w", err)
	}
	if err := s.mirror.SetSheetRow(ctx, nil, requestID, correctRow); err != nil {
		return nil, err
	}
	result.Committed = true
	s.metrics.ObserveRepair(true)
	s.logger.Info("row mapping repaired", "request_id", requestID, "from_row", fromRow, "to_row", correctRow)
	return result, nil
}

// ReplayMissingAppends appends requests that never reached the sheet.
// Dry run returns the requests that would be appended.
func (s *Service) ReplayMissingAppends(ctx context.Context, commit bool) ([]*reorder.Request, error) {
	ctx, span := reconcileTracer.Start(ctx, "reconcile.ReplayMissingAppends")
	defer span.End()

	missing, err := s.mirror.ListMissingSheetRow(ctx, nil)
	if err != nil {
		return nil, err
	}
	if !commit {
		return missing, nil
	}
	for _, req := range missing {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		rowNum, err := s.ledger.AppendRow(ctx, sheets.Row{
			RequestID:  req.ID,
			PatientRef: req.PatientID.String(),
			Product:    req.Product,
			Status:     req.Status,
			Date:       req.CreatedAt.Format("2006-01-02"),
		})
		if err != nil {
			return nil, fmt.Errorf("reconcile: replay append for request %d: %w", req.ID, err)
		}
		if err := s.mirror.SetSheetRow(ctx, nil, req.ID, rowNum); err != nil {
			return nil, err
		}
	}
	return missing, nil
}

// FindOrphans scans both directions: chat identities that never resolved to
// a patient, and intake records pointing at a missing patient.
func (s *Service) FindOrphans(ctx context.Context) (*Orphans, error) {
	ctx, span := reconcileTracer.Start(ctx, "reconcile.FindOrphans")
	defer span.End()

	out := &Orphans{}
	if s.identity != nil {
		ids, err := s.identity.ChatIdentitiesWithoutPatient(ctx)
		if err != nil {
			return nil, err
		}
		out.ChatIdentitiesWithoutPatient = ids
	}
	if s.intakes != nil {
		ids, err := s.intakes.OrphanedRecords(ctx)
		if err != nil {
			return nil, err
		}
		out.IntakesWithoutPatient = ids
	}
	return out, nil
}

// FindDuplicateIntakes groups each patient's intake records when they hold
// more than one, classifying every record as empty or substantive. The
// reconciler only classifies; deletion policy lives in CleanupEmptyIntakes.
func (s *Service) FindDuplicateIntakes(ctx context.Context) ([]DuplicateIntakeGroup, error) {
	ctx, span := reconcileTracer.Start(ctx, "reconcile.FindDuplicateIntakes")
	defer span.End()

	records, err := s.intakes.ListByPatientsWithMultiple(ctx)
	if err != nil {
		return nil, err
	}
	byPatient := make(map[uuid.UUID]*DuplicateIntakeGroup)
	var order []uuid.UUID
	for i := range records {
		rec := records[i]
		group, ok := byPatient[rec.PatientID]
		if !ok {
			group = &DuplicateIntakeGroup{PatientID: rec.PatientID}
			byPatient[rec.PatientID] = group
			order = append(order, rec.PatientID)
		}
		group.Records = append(group.Records, DuplicateIntake{Record: rec, Empty: rec.Empty()})
	}
	groups := make([]DuplicateIntakeGroup, 0, len(order))
	for _, id := range order {
		groups = append(groups, *byPatient[id])
	}
	return groups, nil
}

// CleanupEmptyIntakes deletes empty duplicate records, keeping at least one
// record per patient and never touching a record with any answered field.
// Dry run reports the change set without deleting.
func (s *Service) CleanupEmptyIntakes(ctx context.Context, commit bool) (*CleanupResult, error) {
	ctx, span := reconcileTracer.Start(ctx, "reconcile.CleanupEmptyIntakes")
	defer span.End()

	groups, err := s.FindDuplicateIntakes(ctx)
	if err != nil {
		return nil, err
	}
	result := &CleanupResult{Committed: commit}
	for _, group := range groups {
		empties := 0
		for _, r := range group.Records {
			if r.Empty {
				empties++
			}
		}
		// When every record is empty, the newest one survives.
		keepOneEmpty := empties == len(group.Records)
		kept := false
		for _, r := range group.Records {
			if !r.Empty {
				result.Kept = append(result.Kept, r.Record.ID)
				continue
			}
			if keepOneEmpty && !kept {
				kept = true
				result.Kept = append(result.Kept, r.Record.ID)
				continue
			}
			result.Deleted = append(result.Deleted, r.Record.ID)
		}
	}
	if !commit {
		return result, nil
	}
	for _, id := range result.Deleted {
		deleted, err := s.intakes.DeleteEmpty(ctx, nil, id)
		if err != nil {
			return nil, err
		}
		if !deleted {
			// Answered between scan and delete; the SQL guard kept it.
			s.logger.Warn("empty intake no longer deletable", "intake_id", id.String())
		}
	}
	return result, nil
}

// Run executes one full reconcile pass: drift diff, missing-append replay
// report, orphan scan, duplicate classification. Read-only; repairs go
// through the explicit repair operations.
func (s *Service) Run(ctx context.Context) (*Report, error) {
	ctx, span := reconcileTracer.Start(ctx, "reconcile.Run")
	defer span.End()

	started := time.Now()
	report := &Report{StartedAt: started}
	var err error
	if report.Drift, err = s.DiffRowMapping(ctx); err != nil {
		s.metrics.ObserveRun("error")
		return nil, err
	}
	if report.MissingAppends, err = s.ReplayMissingAppends(ctx, false); err != nil {
		s.metrics.ObserveRun("error")
		return nil, err
	}
	if report.Orphans, err = s.FindOrphans(ctx); err != nil {
		s.metrics.ObserveRun("error")
		return nil, err
	}
	if report.DuplicateIntakes, err = s.FindDuplicateIntakes(ctx); err != nil {
		s.metrics.ObserveRun("error")
		return nil, err
	}
	report.Elapsed = time.Since(started)
	s.metrics.ObserveRun("ok")
	return report, nil
}

// Report is the outcome of one read-only reconcile pass.
type Report struct {
	StartedAt        time.Time              `json:"started_at"`
	Elapsed          time.Duration          `json:"elapsed"`
	Drift            []RowDrift             `json:"drift"`
	MissingAppends   []*reorder.Request     `json:"missing_appends"`
	Orphans          *Orphans               `json:"orphans"`
	DuplicateIntakes []DuplicateIntakeGroup `json:"duplicate_intakes"`
}
