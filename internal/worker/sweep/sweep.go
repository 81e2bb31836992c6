// Package sweep runs the periodic maintenance loops: re-pushing
// retry-pending notifications and completing elapsed reservations.
package sweep

import (
	"context"
	"time"

	"github.com/wolfman30/clinic-reservation-engine/pkg/logging"
)

type retrySweeper interface {
	RetrySweep(ctx context.Context, now time.Time, limit int) (int, error)
}

type completionSweeper interface {
	CompleteSweep(ctx context.Context, now time.Time) (int64, error)
}

// DispatchSweeper drives the notification retry sweep on an interval.
type DispatchSweeper struct {
	dispatcher retrySweeper
	logger     *logging.Logger
	interval   time.Duration
	batchSize  int
}

func NewDispatchSweeper(dispatcher retrySweeper, logger *logging.Logger) *DispatchSweeper {
	if logger == nil {
		logger = logging.Default()
	}
	return &DispatchSweeper{
		dispatcher: dispatcher,
		logger:     logger,
		interval:   time.Minute,
		batchSize:  100,
	}
}

func (d *DispatchSweeper) WithInterval(interval time.Duration) *DispatchSweeper {
	if interval > 0 {
		d.interval = interval
	}
	return d
}

func (d *DispatchSweeper) WithBatchSize(n int) *DispatchSweeper {
	if n > 0 {
		d.batchSize = n
	}
	return d
}

func (d *DispatchSweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	d.sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.sweep(ctx)
		}
	}
}

func (d *DispatchSweeper) sweep(ctx context.Context) {
	if d.dispatcher == nil {
		return
	}
	n, err := d.dispatcher.RetrySweep(ctx, time.Now(), d.batchSize)
	if err != nil {
		d.logger.Error("notification retry sweep failed", "error", err)
		return
	}
	if n > 0 {
		d.logger.Info("notification retry sweep", "resent", n)
	}
}

// CompletionSweeper marks confirmed reservations whose visit time has
// elapsed as completed.
type CompletionSweeper struct {
	ledger   completionSweeper
	logger   *logging.Logger
	interval time.Duration
}

func NewCompletionSweeper(ledger completionSweeper, logger *logging.Logger) *CompletionSweeper {
	if logger == nil {
		logger = logging.Default()
	}
	return &CompletionSweeper{
		ledger:   ledger,
		logger:   logger,
		interval: 15 * time.Minute,
	}
}

func (c *CompletionSweeper) WithInterval(interval time.Duration) *CompletionSweeper {
	if interval > 0 {
		c.interval = interval
	}
	return c
}

func (c *CompletionSweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	c.sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.sweep(ctx)
		}
	}
}

func (c *CompletionSweeper) sweep(ctx context.Context) {
	if c.ledger == nil {
		return
	}
	if _, err := c.ledger.CompleteSweep(ctx, time.Now()); err != nil {
		c.logger.Error("completion sweep failed", "error", err)
	}
}
