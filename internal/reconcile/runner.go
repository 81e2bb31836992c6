package reconcile

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/wolfman30/clinic-reservation-engine/pkg/logging"
)

// Alerter notifies operators when a pass finds more drift than allowed.
type Alerter interface {
	AlertDrift(ctx context.Context, driftCount, threshold int, details string) error
}

// Runner executes read-only reconcile passes on an interval until its
// context is canceled. Repairs stay manual; the runner only detects.
type Runner struct {
	service        *Service
	alerter        Alerter
	logger         *logging.Logger
	interval       time.Duration
	driftThreshold int
}

func NewRunner(service *Service, alerter Alerter, logger *logging.Logger, interval time.Duration, driftThreshold int) *Runner {
	if service == nil {
		panic("reconcile: service is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if interval <= 0 {
		interval = time.Hour
	}
	if driftThreshold <= 0 {
		driftThreshold = 1
	}
	return &Runner{service: service, alerter: alerter, logger: logger, interval: interval, driftThreshold: driftThreshold}
}

// Run blocks until ctx is canceled. The first pass runs immediately.
func (r *Runner) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	r.pass(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.pass(ctx)
		}
	}
}

func (r *Runner) pass(ctx context.Context) {
	report, err := r.service.Run(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		r.logger.Error("reconcile pass failed", "error", err)
		return
	}
	r.logger.Info("reconcile pass finished",
		"drift", len(report.Drift),
		"missing_appends", len(report.MissingAppends),
		"duplicate_intake_groups", len(report.DuplicateIntakes),
		"elapsed", report.Elapsed.String(),
	)
	if len(report.Drift) >= r.driftThreshold && r.alerter != nil {
		details := driftDetails(report.Drift)
		if err := r.alerter.AlertDrift(ctx, len(report.Drift), r.driftThreshold, details); err != nil {
			r.logger.Error("drift alert failed", "error", err)
		}
	}
}

func driftDetails(drifts []RowDrift) string {
	const maxListed = 20
	var b strings.Builder
	for i, d := range drifts {
		if i == maxListed {
			fmt.Fprintf(&b, "... and %d more\n", len(drifts)-maxListed)
			break
		}
		fmt.Fprintf(&b, "request %d: expected row %d, actual row %d\n", d.RequestID, d.ExpectedRow, d.ActualRow)
	}
	return b.String()
}
