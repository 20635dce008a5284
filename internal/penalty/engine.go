// Package penalty raises late charges against unpaid contributions.
package penalty

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mmynk/ajo/internal/calculator"
	"github.com/mmynk/ajo/internal/metrics"
	"github.com/mmynk/ajo/internal/models"
	"github.com/mmynk/ajo/internal/storage"
)

// Summary reports one evaluation run.
type Summary struct {
	// Evaluated counts unpaid contributions past their due date.
	Evaluated int
	// Applied counts penalties created by this run.
	Applied int
	// InGrace counts contributions still within their grace period.
	InGrace int
}

// Engine evaluates overdue contributions. Runs may overlap and repeat: a
// penalty is inserted only if none exists for its contribution and overdue
// window, so each window yields at most one penalty.
type Engine struct {
	store   storage.Store
	metrics *metrics.Metrics
	nowFn   func() time.Time
}

// NewEngine creates an Engine.
func NewEngine(store storage.Store, m *metrics.Metrics) *Engine {
	return &Engine{
		store:   store,
		metrics: m,
		nowFn:   func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the engine's time source.
func (e *Engine) SetClock(now func() time.Time) {
	e.nowFn = now
}

// Evaluate runs one pass over every unpaid contribution of every active group.
// Each contribution is handled in its own transaction; a failing contribution
// is reported in the joined error and the pass moves on.
func (e *Engine) Evaluate(ctx context.Context) (Summary, error) {
	var summary Summary
	now := e.nowFn()

	var due []*models.Contribution
	err := e.store.WithTx(ctx, func(tx storage.Tx) error {
		var err error
		due, err = tx.ListUnpaidDue(ctx, now)
		return err
	})
	if err != nil {
		return summary, fmt.Errorf("failed to list overdue contributions: %w", err)
	}

	policies := make(map[string]models.PenaltyPolicy)
	var errs []error
	for _, c := range due {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		summary.Evaluated++

		applied, inGrace, err := e.evaluateOne(ctx, c.ID, policies, now)
		if err != nil {
			slog.Error("Failed to evaluate contribution", "contribution_id", c.ID, "error", err)
			errs = append(errs, fmt.Errorf("contribution %s: %w", c.ID, err))
			continue
		}
		if inGrace {
			summary.InGrace++
		}
		if applied {
			summary.Applied++
		}
	}

	e.metrics.PenaltiesApplied(summary.Applied)
	if summary.Applied > 0 {
		slog.Info("Penalty evaluation finished",
			"evaluated", summary.Evaluated, "applied", summary.Applied, "in_grace", summary.InGrace)
	}
	return summary, errors.Join(errs...)
}

func (e *Engine) evaluateOne(ctx context.Context, contributionID string, policies map[string]models.PenaltyPolicy, now time.Time) (applied, inGrace bool, err error) {
	err = e.store.WithTx(ctx, func(tx storage.Tx) error {
		c, err := tx.GetContribution(ctx, contributionID)
		if err != nil {
			return err
		}
		if !c.Status.Payable() {
			// Paid or waived since the listing.
			return nil
		}

		policy, ok := policies[c.GroupID]
		if !ok {
			group, err := tx.GetGroup(ctx, c.GroupID)
			if err != nil {
				return err
			}
			policy = group.Penalty
			policies[c.GroupID] = policy
		}

		window, overdue := calculator.OverdueWindow(c.DueDate, policy, now)
		if !overdue {
			inGrace = true
			return nil
		}

		amount, err := calculator.PenaltyAmount(policy, c.Amount)
		if err != nil {
			return err
		}
		p := &models.Penalty{
			ContributionID: c.ID,
			GroupID:        c.GroupID,
			MemberID:       c.MemberID,
			Type:           policy.Type,
			Amount:         amount,
			Window:         window,
			Status:         models.PenaltyApplied,
			CreatedAt:      now,
		}
		applied, err = tx.InsertPenalty(ctx, p)
		if err != nil {
			return err
		}

		if c.Status == models.ContributionPending {
			if err := tx.SetContributionStatus(ctx, c.ID, models.ContributionPending, models.ContributionOverdue); err != nil {
				return err
			}
		}

		if applied {
			slog.Info("Penalty applied",
				"contribution_id", c.ID,
				"member_id", c.MemberID,
				"window", window,
				"type", policy.Type,
				"amount", amount,
			)
		}
		return nil
	})
	return applied, inGrace, err
}
