// Package cycle generates contribution cycles and tracks their funding.
package cycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mmynk/ajo/internal/models"
	"github.com/mmynk/ajo/internal/rotation"
	"github.com/mmynk/ajo/internal/storage"
)

// Next creates the group's next cycle and one pending contribution per active
// member. The first cycle is due one cadence after activation; each later cycle
// one cadence after the previous due date.
//
// If the group already has a cycle that is not closed, Next returns it with
// created == false: schedulers retry freely. When every position has had its
// cycle, Next returns models.ErrSequenceExhausted.
func Next(ctx context.Context, tx storage.Tx, groupID string, now time.Time) (c *models.Cycle, created bool, err error) {
	group, err := tx.GetGroup(ctx, groupID)
	if err != nil {
		return nil, false, err
	}
	if group.Status != models.GroupActive {
		return nil, false, fmt.Errorf("%w: group %s is %s", models.ErrInvalidState, groupID, group.Status)
	}

	current, err := tx.CurrentCycle(ctx, groupID)
	if err == nil {
		return current, false, nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return nil, false, err
	}

	sequence := 1
	from := now
	if group.ActivatedAt != nil {
		from = *group.ActivatedAt
	}
	last, err := tx.LastCycle(ctx, groupID)
	switch {
	case err == nil:
		sequence = last.Sequence + 1
		from = last.DueDate
	case !errors.Is(err, models.ErrNotFound):
		return nil, false, err
	}

	if sequence > group.Capacity {
		return nil, false, fmt.Errorf("%w: group %s has run %d of %d cycles",
			models.ErrSequenceExhausted, groupID, sequence-1, group.Capacity)
	}

	due, err := group.Cadence.Next(from)
	if err != nil {
		return nil, false, err
	}

	members, err := tx.ListMembers(ctx, groupID)
	if err != nil {
		return nil, false, err
	}

	c = &models.Cycle{
		GroupID:   groupID,
		Sequence:  sequence,
		DueDate:   due,
		Status:    models.CycleOpen,
		CreatedAt: now,
	}
	if c.Recipient(members) == nil {
		return nil, false, fmt.Errorf("%w: no member holds position %d in group %s",
			models.ErrInvariantViolation, sequence, groupID)
	}
	if err := tx.CreateCycle(ctx, c); err != nil {
		return nil, false, err
	}

	obligations := 0
	for _, m := range members {
		if m.Status != models.MemberActive {
			continue
		}
		if err := tx.CreateContribution(ctx, &models.Contribution{
			CycleID:  c.ID,
			GroupID:  groupID,
			MemberID: m.ID,
			Amount:   group.ContributionAmount,
			Status:   models.ContributionPending,
			DueDate:  due,
		}); err != nil {
			return nil, false, err
		}
		obligations++
	}

	slog.Info("Cycle generated",
		"group_id", groupID,
		"cycle_id", c.ID,
		"sequence", sequence,
		"due_date", due,
		"contributions", obligations,
	)
	return c, true, nil
}

// Advance generates the next cycle, or completes the group when the sequence
// is exhausted. completed reports the latter.
func Advance(ctx context.Context, tx storage.Tx, groupID string, now time.Time) (c *models.Cycle, completed bool, err error) {
	c, _, err = Next(ctx, tx, groupID, now)
	if errors.Is(err, models.ErrSequenceExhausted) {
		if err := tx.SetGroupStatus(ctx, groupID, models.GroupActive, models.GroupCompleted, now); err != nil {
			return nil, false, err
		}
		slog.Info("Group completed", "group_id", groupID)
		return nil, true, nil
	}
	if err != nil {
		return nil, false, err
	}
	return c, false, nil
}

// Start activates a forming group and generates its first cycle inside tx.
func Start(ctx context.Context, tx storage.Tx, groupID string, now time.Time) (*models.Cycle, error) {
	if _, err := rotation.Activate(ctx, tx, groupID, now); err != nil {
		return nil, err
	}
	c, _, err := Next(ctx, tx, groupID, now)
	return c, err
}
