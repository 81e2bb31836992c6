package slotledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/clinic-reservation-engine/internal/observability/metrics"
	"github.com/wolfman30/clinic-reservation-engine/pkg/logging"
)

var ledgerTracer = otel.Tracer("engine.internal.slotledger")

// Invalidator drops the cached aggregate view for a patient after a write.
type Invalidator interface {
	Invalidate(ctx context.Context, patientID uuid.UUID) error
}

// Service owns reservation lifecycle operations. Every write runs in a
// transaction and synchronously invalidates the patient's cached view.
type Service struct {
	store       *Store
	invalidator Invalidator
	metrics     *metrics.ReservationMetrics
	logger      *logging.Logger
}

func NewService(store *Store, invalidator Invalidator, m *metrics.ReservationMetrics, logger *logging.Logger) *Service {
	if store == nil {
		panic("slotledger: store required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{store: store, invalidator: invalidator, metrics: m, logger: logger}
}

// Create atomically allocates a slot for the patient. Exactly one of any set
// of concurrent callers for the same slot succeeds; the rest get ErrSlotTaken.
func (s *Service) Create(ctx context.Context, slot Slot, patientID uuid.UUID) (*Reservation, error) {
	ctx, span := ledgerTracer.Start(ctx, "slotledger.create")
	defer span.End()
	span.SetAttributes(
		attribute.String("engine.resource_id", slot.ResourceID),
		attribute.String("engine.patient_id", patientID.String()),
	)

	r := &Reservation{
		ID:         uuid.New(),
		Token:      uuid.NewString(),
		PatientID:  patientID,
		ResourceID: slot.ResourceID,
		VisitDate:  slot.VisitDate,
		SlotTime:   slot.SlotTime,
		Status:     StatusPending,
	}

	tx, err := s.store.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("slotledger: begin create: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := s.store.Insert(ctx, tx, r); err != nil {
		span.RecordError(err)
		s.metrics.ObserveReservation("create", "rejected")
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("slotledger: commit create: %w", err)
	}

	s.metrics.ObserveReservation("create", "ok")
	s.invalidate(ctx, patientID)
	s.logger.Info("reservation created",
		"token", r.Token,
		"patient_id", patientID,
		"resource_id", slot.ResourceID,
		"visit_date", slot.VisitDate.Format("2006-01-02"),
		"slot_time", slot.SlotTime,
	)
	return r, nil
}

// Update moves a reservation to a new slot. The new slot is claimed before
// the old one is released; if claiming fails nothing changes.
func (s *Service) Update(ctx context.Context, token string, slot Slot) (*Reservation, error) {
	ctx, span := ledgerTracer.Start(ctx, "slotledger.update")
	defer span.End()

	tx, err := s.store.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("slotledger: begin update: %w", err)
	}
	defer tx.Rollback(ctx)

	current, err := s.store.GetByTokenForUpdate(ctx, tx, token)
	if err != nil {
		return nil, err
	}
	if current.Status.Terminal() {
		return nil, ErrNotFound
	}
	if err := s.store.Move(ctx, tx, current.ID, slot); err != nil {
		span.RecordError(err)
		s.metrics.ObserveReservation("update", "rejected")
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("slotledger: commit update: %w", err)
	}

	current.ResourceID = slot.ResourceID
	current.VisitDate = slot.VisitDate
	current.SlotTime = slot.SlotTime
	s.metrics.ObserveReservation("update", "ok")
	s.invalidate(ctx, current.PatientID)
	s.logger.Info("reservation moved", "token", token, "resource_id", slot.ResourceID, "slot_time", slot.SlotTime)
	return current, nil
}

// Cancel releases the slot. Canceling an already-canceled reservation is a
// successful no-op; a completed reservation is terminal and cannot be
// canceled.
func (s *Service) Cancel(ctx context.Context, token string) error {
	ctx, span := ledgerTracer.Start(ctx, "slotledger.cancel")
	defer span.End()

	r, err := s.store.GetByToken(ctx, nil, token)
	if err != nil {
		return err
	}
	if r.Status == StatusCanceled {
		return nil
	}
	if !CanTransition(r.Status, StatusCanceled) {
		return ErrInvalidTransition
	}
	affected, err := s.store.Cancel(ctx, nil, r.ID)
	if err != nil {
		return err
	}
	if affected == 0 {
		// The row changed state between the read and the update. A
		// concurrent cancel already released the slot; anything else
		// reached a terminal state first.
		current, err := s.store.GetByToken(ctx, nil, token)
		if err != nil {
			return err
		}
		if current.Status == StatusCanceled {
			return nil
		}
		return ErrInvalidTransition
	}
	s.metrics.ObserveReservation("cancel", "ok")
	s.invalidate(ctx, r.PatientID)
	s.logger.Info("reservation canceled", "token", token, "patient_id", r.PatientID)
	return nil
}

// Confirm transitions a pending reservation to confirmed.
func (s *Service) Confirm(ctx context.Context, token string) (*Reservation, error) {
	r, err := s.store.GetByToken(ctx, nil, token)
	if err != nil {
		return nil, err
	}
	if !CanTransition(r.Status, StatusConfirmed) {
		return nil, ErrInvalidTransition
	}
	if err := s.store.SetStatus(ctx, nil, r.ID, r.Status, StatusConfirmed); err != nil {
		return nil, err
	}
	r.Status = StatusConfirmed
	s.metrics.ObserveReservation("confirm", "ok")
	s.invalidate(ctx, r.PatientID)
	s.logger.Info("reservation confirmed", "token", token, "patient_id", r.PatientID)
	return r, nil
}

// Get returns a reservation by token.
func (s *Service) Get(ctx context.Context, token string) (*Reservation, error) {
	return s.store.GetByToken(ctx, nil, token)
}

// CompleteSweep marks confirmed reservations whose slot time has elapsed as
// completed. Run on a schedule; completion is never set speculatively.
func (s *Service) CompleteSweep(ctx context.Context, now time.Time) (int64, error) {
	n, err := s.store.CompleteElapsed(ctx, now)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info("completed elapsed reservations", "count", n)
	}
	return n, nil
}

func (s *Service) invalidate(ctx context.Context, patientID uuid.UUID) {
	if s.invalidator == nil {
		return
	}
	if err := s.invalidator.Invalidate(ctx, patientID); err != nil {
		s.logger.Warn("cache invalidation failed", "error", err, "patient_id", patientID)
	}
}
