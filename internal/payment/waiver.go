package payment

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mmynk/ajo/internal/models"
	"github.com/mmynk/ajo/internal/storage"
)

// WaiveContribution releases a member from a pending or overdue contribution
// and re-evaluates the cycle's funding, which may create its payout. A cycle
// must keep at least one contribution it can pay out, so waiving the last
// non-waived contribution is refused.
func (a *Applier) WaiveContribution(ctx context.Context, contributionID string) (*Result, error) {
	res := &Result{}
	err := a.store.WithTx(ctx, func(tx storage.Tx) error {
		contribution, err := tx.GetContribution(ctx, contributionID)
		if err != nil {
			return err
		}
		if !contribution.Status.Payable() {
			return fmt.Errorf("%w: contribution %s is %s", models.ErrInvalidState, contribution.ID, contribution.Status)
		}
		c, err := tx.GetCycle(ctx, contribution.CycleID)
		if err != nil {
			return err
		}
		if !c.Status.Accepting() {
			return fmt.Errorf("%w: cycle %d is %s", models.ErrInvalidState, c.Sequence, c.Status)
		}
		contributions, err := tx.ListContributions(ctx, c.ID)
		if err != nil {
			return err
		}
		remaining := 0
		for _, other := range contributions {
			if other.ID != contribution.ID && other.Status != models.ContributionWaived {
				remaining++
			}
		}
		if remaining == 0 {
			return fmt.Errorf("%w: waiving contribution %s would leave cycle %d with nothing to pay out",
				models.ErrInvalidState, contribution.ID, c.Sequence)
		}
		if err := tx.SetContributionStatus(ctx, contribution.ID, contribution.Status, models.ContributionWaived); err != nil {
			return err
		}
		return a.evaluate(ctx, tx, contribution.CycleID, a.nowFn(), res)
	})
	if err != nil {
		return nil, err
	}

	slog.Info("Contribution waived", "contribution_id", contributionID)
	if res.Payout != nil {
		a.dispatch(ctx, res)
	}
	return res, nil
}

// WaivePenalty cancels an applied penalty.
func (a *Applier) WaivePenalty(ctx context.Context, penaltyID string) (*models.Penalty, error) {
	var penalty *models.Penalty
	err := a.store.WithTx(ctx, func(tx storage.Tx) error {
		var err error
		penalty, err = tx.GetPenalty(ctx, penaltyID)
		if err != nil {
			return err
		}
		if err := tx.SetPenaltyStatus(ctx, penaltyID, penalty.Status, models.PenaltyWaived); err != nil {
			return err
		}
		penalty.Status = models.PenaltyWaived
		return nil
	})
	if err != nil {
		return nil, err
	}
	slog.Info("Penalty waived", "penalty_id", penaltyID, "contribution_id", penalty.ContributionID)
	return penalty, nil
}
