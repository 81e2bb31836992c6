package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"

	"github.com/wolfman30/clinic-reservation-engine/internal/chat"
	"github.com/wolfman30/clinic-reservation-engine/internal/observability/metrics"
	"github.com/wolfman30/clinic-reservation-engine/pkg/logging"
)

var dispatchTracer = otel.Tracer("engine.internal.dispatch")

// Pusher delivers a message to a chat user. Satisfied by chat.Client.
type Pusher interface {
	Push(ctx context.Context, chatUserID, text string) error
}

// FailureAlerter notifies operators when entries retire as failed.
type FailureAlerter interface {
	AlertFailedSends(ctx context.Context, count int, details string) error
}

// SendRequest describes one notification to deliver.
type SendRequest struct {
	PatientID   uuid.UUID
	ChatUserID  string
	MessageType string
	Content     string

	// IdempotencyKey dedupes the send. Leave empty to derive one from the
	// patient, message type, and today's date bucket.
	IdempotencyKey string
}

// DeriveKey builds the idempotency key for recurring notices: one send per
// patient per message type per day bucket.
func DeriveKey(patientID uuid.UUID, messageType string, bucket time.Time) string {
	return fmt.Sprintf("%s:%s:%s", patientID, messageType, bucket.Format("2006-01-02"))
}

// Service sends notifications with at-most-once semantics per key.
type Service struct {
	store       *Store
	pusher      Pusher
	metrics     *metrics.DispatchMetrics
	logger      *logging.Logger
	alerter     FailureAlerter
	maxAttempts int
	retryDelay  time.Duration
}

func NewService(store *Store, pusher Pusher, m *metrics.DispatchMetrics, logger *logging.Logger, maxAttempts int, retryDelay time.Duration) *Service {
	if store == nil {
		panic("dispatch: store is required")
	}
	if pusher == nil {
		panic("dispatch: pusher is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if retryDelay <= 0 {
		retryDelay = 5 * time.Minute
	}
	return &Service{store: store, pusher: pusher, metrics: m, logger: logger, maxAttempts: maxAttempts, retryDelay: retryDelay}
}

// WithAlerter routes retired-send alerts to ops. Alert failures only log.
func (s *Service) WithAlerter(alerter FailureAlerter) *Service {
	s.alerter = alerter
	return s
}

// Send claims the idempotency key and pushes the message. The claim happens
// before the network call, so of two racing sends exactly one delivers; the
// loser gets ErrAlreadySent. A failed push leaves the claimed entry in
// retry_pending for the sweep; the patient never risks a duplicate because
// the key stays claimed either way.
func (s *Service) Send(ctx context.Context, req SendRequest) (*Entry, error) {
	ctx, span := dispatchTracer.Start(ctx, "dispatch.Send")
	defer span.End()

	key := req.IdempotencyKey
	if key == "" {
		key = DeriveKey(req.PatientID, req.MessageType, time.Now().UTC())
	}
	entry := &Entry{
		ID:             uuid.New(),
		PatientID:      req.PatientID,
		ChatUserID:     req.ChatUserID,
		MessageType:    req.MessageType,
		Direction:      "outbound",
		Content:        req.Content,
		IdempotencyKey: key,
	}
	if err := s.store.Claim(ctx, nil, entry); err != nil {
		if errors.Is(err, ErrAlreadySent) {
			s.metrics.ObserveSend(StatusSent, true)
			existing, getErr := s.store.GetByKey(ctx, nil, key)
			if getErr != nil {
				return nil, err
			}
			return existing, err
		}
		return nil, err
	}

	if err := s.pusher.Push(ctx, req.ChatUserID, req.Content); err != nil {
		return entry, s.handlePushFailure(ctx, entry.ID, 0, err)
	}
	if err := s.store.MarkSent(ctx, nil, entry.ID); err != nil {
		return entry, err
	}
	s.metrics.ObserveSend(StatusSent, false)
	entry.Status = StatusSent
	return entry, nil
}

// RetrySweep re-pushes due retry_pending entries and retires the ones that
// exhausted their attempts. Returns how many entries were processed.
func (s *Service) RetrySweep(ctx context.Context, now time.Time, limit int) (int, error) {
	ctx, span := dispatchTracer.Start(ctx, "dispatch.RetrySweep")
	defer span.End()

	if limit <= 0 {
		limit = 100
	}
	candidates, err := s.store.ListRetryCandidates(ctx, nil, now, limit)
	if err != nil {
		return 0, err
	}
	for _, e := range candidates {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		if err := s.pusher.Push(ctx, e.ChatUserID, e.Content); err != nil {
			if markErr := s.handlePushFailure(ctx, e.ID, e.SendAttempts, err); markErr != nil && !errors.Is(markErr, err) {
				s.logger.Error("retry sweep bookkeeping failed", "entry_id", e.ID.String(), "error", markErr)
			}
			continue
		}
		if err := s.store.MarkSent(ctx, nil, e.ID); err != nil {
			s.logger.Error("retry sweep mark sent failed", "entry_id", e.ID.String(), "error", err)
			continue
		}
		s.metrics.ObserveSend(StatusSent, false)
	}
	s.metrics.ObserveRetrySweep(len(candidates))
	return len(candidates), nil
}

// Audit reports patients who received a message type more than once in the
// window, which should be impossible while keys are derived consistently.
func (s *Service) Audit(ctx context.Context, messageType string, from, to time.Time) ([]AuditHit, error) {
	return s.store.Audit(ctx, nil, messageType, from, to)
}

// handlePushFailure decides between scheduling a retry and retiring the
// entry. attempts is the count before this attempt.
func (s *Service) handlePushFailure(ctx context.Context, id uuid.UUID, attempts int, pushErr error) error {
	permanent := errors.Is(pushErr, chat.ErrPushRejected)
	if permanent || attempts+1 >= s.maxAttempts {
		s.metrics.ObserveSend(StatusFailed, false)
		if err := s.store.MarkFailed(ctx, nil, id); err != nil {
			return fmt.Errorf("dispatch: mark failed after push error %v: %w", pushErr, err)
		}
		s.logger.Error("notification retired", "entry_id", id.String(), "attempts", attempts+1, "error", pushErr)
		if s.alerter != nil {
			details := fmt.Sprintf("entry %s retired after %d attempts: %v", id, attempts+1, pushErr)
			if err := s.alerter.AlertFailedSends(ctx, 1, details); err != nil {
				s.logger.Error("failed-send alert not delivered", "entry_id", id.String(), "error", err)
			}
		}
		return pushErr
	}
	delay := s.retryDelay << attempts
	s.metrics.ObserveSend(StatusRetryPending, false)
	if err := s.store.MarkRetryPending(ctx, nil, id, time.Now().UTC().Add(delay)); err != nil {
		return fmt.Errorf("dispatch: mark retry after push error %v: %w", pushErr, err)
	}
	s.logger.Warn("notification push failed, retry scheduled", "entry_id", id.String(), "attempts", attempts+1, "error", pushErr)
	return pushErr
}
