package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wolfman30/clinic-reservation-engine/pkg/logging"
)

// Service sends operator alerts when the engine detects conditions that
// need a human: row-mapping drift past the configured threshold and
// notifications that exhausted their retries.
type Service struct {
	email      EmailSender
	recipients []string
	logger     *logging.Logger
}

// NewService creates an operator alert service. With no sender or no
// recipients every alert is a logged no-op.
func NewService(email EmailSender, recipients []string, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{email: email, recipients: recipients, logger: logger}
}

// AlertDrift tells the operators the reconciler found more row-mapping
// drift than the threshold allows.
func (s *Service) AlertDrift(ctx context.Context, driftCount, threshold int, details string) error {
	subject := fmt.Sprintf("Reorder ledger drift: %d rows out of place", driftCount)
	body := fmt.Sprintf(`The reconciler found %d reorder requests whose spreadsheet row differs from the expected row (alert threshold %d).

%s

Review the diff and repair with the admin API; repairs are dry-run by default.

Detected: %s`, driftCount, threshold, details, time.Now().Format("2006-01-02 15:04:05 MST"))
	return s.broadcast(ctx, subject, body)
}

// AlertFailedSends tells the operators about notifications retired after
// exhausting their retry budget.
func (s *Service) AlertFailedSends(ctx context.Context, count int, details string) error {
	subject := fmt.Sprintf("%d patient notifications failed permanently", count)
	body := fmt.Sprintf(`%d notifications exhausted their retries and were marked failed. Patients have NOT received these messages.

%s

Use the dispatch audit endpoint to review and resend.`, count, details)
	return s.broadcast(ctx, subject, body)
}

func (s *Service) broadcast(ctx context.Context, subject, body string) error {
	if s.email == nil || len(s.recipients) == 0 {
		s.logger.Warn("operator alert dropped, no email recipients configured", "subject", subject)
		return nil
	}
	var errs []error
	for _, to := range s.recipients {
		to = strings.TrimSpace(to)
		if to == "" {
			continue
		}
		if err := s.email.Send(ctx, EmailMessage{To: to, Subject: subject, Body: body}); err != nil {
			s.logger.Error("operator alert send failed", "to", to, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
