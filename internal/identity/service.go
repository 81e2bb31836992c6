package identity

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/clinic-reservation-engine/pkg/logging"
)

var identityTracer = otel.Tracer("engine.internal.identity")

// ProfileFetcher looks up display information on the messaging platform.
type ProfileFetcher interface {
	GetProfile(ctx context.Context, chatUserID string) (displayName string, err error)
}

// Invalidator drops the cached aggregate view for a patient after a write.
type Invalidator interface {
	Invalidate(ctx context.Context, patientID uuid.UUID) error
}

// Service resolves chat identities to canonical patients and performs
// operator-confirmed merges.
type Service struct {
	store       *Store
	profiles    ProfileFetcher
	invalidator Invalidator
	logger      *logging.Logger
}

func NewService(store *Store, profiles ProfileFetcher, invalidator Invalidator, logger *logging.Logger) *Service {
	if store == nil {
		panic("identity: store required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{store: store, profiles: profiles, invalidator: invalidator, logger: logger}
}

// ResolveOrCreate maps the chat identity to a patient id, creating a
// placeholder on first contact. The placeholder name is filled from the
// platform profile when available; profile failures never block resolution.
func (s *Service) ResolveOrCreate(ctx context.Context, chatUserID string) (uuid.UUID, error) {
	ctx, span := identityTracer.Start(ctx, "identity.resolve_or_create")
	defer span.End()
	span.SetAttributes(attribute.String("engine.chat_user_id", chatUserID))

	id, created, err := s.store.ResolveOrCreate(ctx, chatUserID)
	if err != nil {
		span.RecordError(err)
		return uuid.Nil, err
	}
	if created {
		s.logger.Info("placeholder patient created", "patient_id", id, "chat_user_id", chatUserID)
		if s.profiles != nil {
			if name, err := s.profiles.GetProfile(ctx, chatUserID); err == nil && name != "" {
				if err := s.store.UpdateProfile(ctx, nil, id, name, "", "", "", ""); err != nil {
					s.logger.Warn("profile backfill failed", "error", err, "patient_id", id)
				}
			} else if err != nil {
				s.logger.Warn("profile fetch failed", "error", err, "chat_user_id", chatUserID)
			}
		}
	}
	return id, nil
}

// DetectDuplicates reports chat identities bound to more than one active
// patient. It never merges.
func (s *Service) DetectDuplicates(ctx context.Context) ([]DuplicateGroup, error) {
	return s.store.DetectDuplicates(ctx)
}

// Merge re-points all of source's records to target and retires source.
// Refused when both patients carry conflicting substantive demographics.
func (s *Service) Merge(ctx context.Context, sourceID, targetID uuid.UUID) (MergeCounts, error) {
	ctx, span := identityTracer.Start(ctx, "identity.merge")
	defer span.End()
	span.SetAttributes(
		attribute.String("engine.source_id", sourceID.String()),
		attribute.String("engine.target_id", targetID.String()),
	)

	if sourceID == targetID {
		return MergeCounts{}, ErrSelfMerge
	}

	source, err := s.store.GetByID(ctx, nil, sourceID)
	if err != nil {
		return MergeCounts{}, err
	}
	target, err := s.store.GetByID(ctx, nil, targetID)
	if err != nil {
		return MergeCounts{}, err
	}
	if source.Status != StatusActive || target.Status != StatusActive {
		return MergeCounts{}, fmt.Errorf("identity: merge inactive patient: %w", ErrMergeConflict)
	}
	if conflicting(source, target) {
		return MergeCounts{}, ErrMergeConflict
	}

	counts, err := s.store.Merge(ctx, sourceID, targetID)
	if err != nil {
		span.RecordError(err)
		return counts, err
	}

	// Carry over any demographics the target is missing.
	if source.Substantive() {
		if err := s.store.UpdateProfile(ctx, nil, targetID, source.Name, source.NameKana, source.Sex, source.Birthdate, source.Phone); err != nil {
			s.logger.Warn("demographic carry-over failed", "error", err, "target_id", targetID)
		}
	}

	s.invalidate(ctx, sourceID)
	s.invalidate(ctx, targetID)
	s.logger.Info("patients merged",
		"source_id", sourceID,
		"target_id", targetID,
		"reservations", counts.Reservations,
		"intake_records", counts.IntakeRecords,
		"reorder_requests", counts.ReorderRequests,
		"notifications", counts.Notifications,
	)
	return counts, nil
}

// Get returns a patient by internal id.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return s.store.GetByID(ctx, nil, id)
}

// conflicting reports whether both patients hold substantive records with
// differing non-empty fields. COALESCE-style overlap (one side empty) is
// mergeable.
func conflicting(source, target *Patient) bool {
	if !source.Substantive() || !target.Substantive() {
		return false
	}
	differs := func(a, b string) bool {
		return a != "" && b != "" && a != b
	}
	return differs(source.Name, target.Name) ||
		differs(source.NameKana, target.NameKana) ||
		differs(source.Birthdate, target.Birthdate) ||
		differs(source.Phone, target.Phone)
}

func (s *Service) invalidate(ctx context.Context, patientID uuid.UUID) {
	if s.invalidator == nil {
		return
	}
	if err := s.invalidator.Invalidate(ctx, patientID); err != nil {
		s.logger.Warn("cache invalidation failed", "error", err, "patient_id", patientID)
	}
}
