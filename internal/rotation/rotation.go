// Package rotation assigns payout positions when a group activates.
package rotation

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/mmynk/ajo/internal/models"
	"github.com/mmynk/ajo/internal/storage"
)

// Assign maps each member ID to a position 1..N. The first member to qualify
// gets position 1; join order does not matter. Ties on qualification order
// fall back to qualification time, then join time, then ID, so the result is
// deterministic for the same input.
//
// It fails with models.ErrInvariantViolation if the group is not forming, the
// member count differs from capacity, or any member has not qualified.
func Assign(group *models.Group, members []*models.Member) (map[string]int, error) {
	if group.Status != models.GroupForming {
		return nil, fmt.Errorf("%w: group %s is %s, not forming", models.ErrInvariantViolation, group.ID, group.Status)
	}
	if len(members) != group.Capacity {
		return nil, fmt.Errorf("%w: group %s has %d members, capacity is %d",
			models.ErrInvariantViolation, group.ID, len(members), group.Capacity)
	}
	for _, m := range members {
		if m.QualifiedAt == nil {
			return nil, fmt.Errorf("%w: member %s has no qualifying deposit", models.ErrInvariantViolation, m.ID)
		}
		if m.Position != 0 {
			return nil, fmt.Errorf("%w: member %s already holds position %d", models.ErrInvariantViolation, m.ID, m.Position)
		}
	}

	ordered := make([]*models.Member, len(members))
	copy(ordered, members)
	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		if a.QualifyOrder != b.QualifyOrder {
			return a.QualifyOrder < b.QualifyOrder
		}
		if !a.QualifiedAt.Equal(*b.QualifiedAt) {
			return a.QualifiedAt.Before(*b.QualifiedAt)
		}
		if !a.JoinedAt.Equal(b.JoinedAt) {
			return a.JoinedAt.Before(b.JoinedAt)
		}
		return a.ID < b.ID
	})

	positions := make(map[string]int, len(ordered))
	for i, m := range ordered {
		positions[m.ID] = i + 1
	}
	return positions, nil
}

// Activate assigns positions and moves the group from forming to active inside
// tx. Both succeed or neither does: a failure leaves tx for the caller to roll
// back. It returns the members in position order.
func Activate(ctx context.Context, tx storage.Tx, groupID string, now time.Time) ([]*models.Member, error) {
	group, err := tx.GetGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}

	all, err := tx.ListMembers(ctx, groupID)
	if err != nil {
		return nil, err
	}
	members := make([]*models.Member, 0, len(all))
	for _, m := range all {
		if m.Status != models.MemberRemoved {
			members = append(members, m)
		}
	}

	positions, err := Assign(group, members)
	if err != nil {
		return nil, err
	}
	if err := tx.AssignPositions(ctx, groupID, positions); err != nil {
		return nil, err
	}
	if err := tx.SetGroupStatus(ctx, groupID, models.GroupForming, models.GroupActive, now); err != nil {
		return nil, err
	}

	assigned, err := tx.ListMembers(ctx, groupID)
	if err != nil {
		return nil, err
	}
	active := assigned[:0]
	for _, m := range assigned {
		if m.Status == models.MemberActive {
			active = append(active, m)
		}
	}
	if err := models.ValidatePositions(active); err != nil {
		return nil, err
	}

	slog.Info("Group activated", "group_id", groupID, "members", len(active))
	return active, nil
}
