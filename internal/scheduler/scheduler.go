// Package scheduler runs the engine's periodic jobs: cycle generation,
// penalty evaluation and the payout recovery sweep.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mmynk/ajo/internal/cycle"
	"github.com/mmynk/ajo/internal/metrics"
	"github.com/mmynk/ajo/internal/models"
	"github.com/mmynk/ajo/internal/payout"
	"github.com/mmynk/ajo/internal/penalty"
	"github.com/mmynk/ajo/internal/storage"
)

const (
	JobCycles    = "cycles"
	JobPenalties = "penalties"
	JobPayouts   = "payouts"
)

// Report summarises one pass.
type Report struct {
	// CyclesCreated counts cycles generated for groups with none open.
	CyclesCreated int
	// GroupsCompleted counts groups whose final cycle was already closed.
	GroupsCompleted int
	Penalties       penalty.Summary
	Payouts         payout.SweepResult
}

// Scheduler drives the jobs at a fixed interval. Every job is safe to repeat,
// so a pass that overlaps a request or a cron-triggered tick is harmless.
type Scheduler struct {
	store      storage.Store
	penalties  *penalty.Engine
	dispatcher *payout.Dispatcher
	metrics    *metrics.Metrics
	interval   time.Duration
	nowFn      func() time.Time
}

// New creates a Scheduler.
func New(store storage.Store, penalties *penalty.Engine, dispatcher *payout.Dispatcher, m *metrics.Metrics, interval time.Duration) *Scheduler {
	return &Scheduler{
		store:      store,
		penalties:  penalties,
		dispatcher: dispatcher,
		metrics:    m,
		interval:   interval,
		nowFn:      func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the scheduler's time source.
func (s *Scheduler) SetClock(now func() time.Time) {
	s.nowFn = now
}

// Run executes a pass immediately and then once per interval until ctx is
// cancelled. Job failures are logged and retried on the next tick.
func (s *Scheduler) Run(ctx context.Context) error {
	if s.interval <= 0 {
		return fmt.Errorf("%w: scheduler interval must be positive", models.ErrInvalidInput)
	}
	slog.Info("Scheduler started", "interval", s.interval)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
			slog.Warn("Scheduler pass finished with errors", "error", err)
		}
		select {
		case <-ctx.Done():
			slog.Info("Scheduler stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// RunOnce executes every job once, in order. Later jobs run even when an
// earlier one fails; the failures are joined in the returned error.
func (s *Scheduler) RunOnce(ctx context.Context) (Report, error) {
	var (
		report Report
		errs   []error
	)

	created, completed, err := s.advanceCycles(ctx)
	report.CyclesCreated, report.GroupsCompleted = created, completed
	s.metrics.SchedulerRun(JobCycles, err)
	if err != nil {
		errs = append(errs, fmt.Errorf("%s: %w", JobCycles, err))
	}

	if err := ctx.Err(); err != nil {
		return report, err
	}
	report.Penalties, err = s.penalties.Evaluate(ctx)
	s.metrics.SchedulerRun(JobPenalties, err)
	if err != nil {
		errs = append(errs, fmt.Errorf("%s: %w", JobPenalties, err))
	}

	if err := ctx.Err(); err != nil {
		return report, err
	}
	report.Payouts, err = s.dispatcher.Sweep(ctx)
	s.metrics.SchedulerRun(JobPayouts, err)
	if err != nil {
		errs = append(errs, fmt.Errorf("%s: %w", JobPayouts, err))
	}

	slog.Debug("Scheduler pass finished",
		"cycles_created", report.CyclesCreated,
		"groups_completed", report.GroupsCompleted,
		"penalties_applied", report.Penalties.Applied,
		"payouts_dispatched", report.Payouts.Dispatched,
		"payouts_recovered", report.Payouts.Recovered,
	)
	return report, errors.Join(errs...)
}

// advanceCycles makes sure every active group has an open cycle. Each group
// is handled in its own transaction so one broken group does not stall the rest.
func (s *Scheduler) advanceCycles(ctx context.Context) (created, completed int, err error) {
	var groups []*models.Group
	err = s.store.WithTx(ctx, func(tx storage.Tx) error {
		var err error
		groups, err = tx.ListGroups(ctx, models.GroupActive)
		return err
	})
	if err != nil {
		return 0, 0, fmt.Errorf("failed to list active groups: %w", err)
	}

	var errs []error
	for _, g := range groups {
		if err := ctx.Err(); err != nil {
			return created, completed, err
		}
		var (
			before, after *models.Cycle
			done          bool
		)
		err := s.store.WithTx(ctx, func(tx storage.Tx) error {
			var err error
			before, err = tx.CurrentCycle(ctx, g.ID)
			if err != nil && !errors.Is(err, models.ErrNotFound) {
				return err
			}
			after, done, err = cycle.Advance(ctx, tx, g.ID, s.nowFn())
			return err
		})
		if err != nil {
			slog.Error("Failed to advance group", "group_id", g.ID, "error", err)
			errs = append(errs, fmt.Errorf("group %s: %w", g.ID, err))
			continue
		}
		switch {
		case done:
			completed++
		case before == nil && after != nil:
			created++
		}
	}
	return created, completed, errors.Join(errs...)
}
