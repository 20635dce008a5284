package cycle

import (
	"context"
	"time"

	"github.com/mmynk/ajo/internal/models"
	"github.com/mmynk/ajo/internal/storage"
)

// Funded reports whether every non-waived contribution is paid. A cycle with
// nothing paid is never funded.
func Funded(contributions []*models.Contribution) bool {
	paid := 0
	for _, c := range contributions {
		switch c.Status {
		case models.ContributionPaid:
			paid++
		case models.ContributionWaived:
		default:
			return false
		}
	}
	return paid > 0
}

// Gross sums the cycle's paid contributions.
func Gross(contributions []*models.Contribution) int64 {
	var total int64
	for _, c := range contributions {
		if c.Status == models.ContributionPaid {
			total += c.Amount
		}
	}
	return total
}

// Evaluate re-checks a cycle's funding inside tx. An open cycle with a paid
// contribution moves to collecting; an accepting cycle whose funding condition
// holds moves on to ready. It reports whether the cycle became ready in this call.
func Evaluate(ctx context.Context, tx storage.Tx, cycleID string, now time.Time) (*models.Cycle, bool, error) {
	c, err := tx.GetCycle(ctx, cycleID)
	if err != nil {
		return nil, false, err
	}
	if !c.Status.Accepting() {
		return c, false, nil
	}

	contributions, err := tx.ListContributions(ctx, cycleID)
	if err != nil {
		return nil, false, err
	}

	if c.Status == models.CycleOpen && Gross(contributions) > 0 {
		if err := tx.SetCycleStatus(ctx, c.ID, models.CycleOpen, models.CycleCollecting, now); err != nil {
			return nil, false, err
		}
		c.Status = models.CycleCollecting
	}

	if !Funded(contributions) {
		return c, false, nil
	}
	if err := tx.SetCycleStatus(ctx, c.ID, models.CycleCollecting, models.CycleReady, now); err != nil {
		return nil, false, err
	}
	c.Status = models.CycleReady
	return c, true, nil
}
