package models

import (
	"fmt"
	"time"
)

// Member is a group membership record.
type Member struct {
	ID      string
	GroupID string

	// UserID references the user in the external identity system.
	UserID string

	// DisplayName is shown in ledgers and reports.
	DisplayName string

	// PayoutDestination is the gateway destination (account/recipient code)
	// the member's payout is sent to.
	PayoutDestination string

	// Position is the rotation order, 1..N. Zero until the group activates;
	// immutable afterwards.
	Position int

	Status MemberStatus

	JoinedAt time.Time

	// QualifiedAt is when the member met the activation requirement (paid the
	// security deposit). Nil while unqualified. Positions are assigned in
	// QualifiedAt order.
	QualifiedAt *time.Time

	// QualifyOrder is 1 for the first member of the group to qualify, 2 for the
	// next, and so on. Zero while unqualified. Breaks QualifiedAt ties exactly.
	QualifyOrder int
}

// ValidatePositions checks that members' positions form a permutation of 1..N.
func ValidatePositions(members []*Member) error {
	seen := make(map[int]string, len(members))
	for _, m := range members {
		if m.Position < 1 || m.Position > len(members) {
			return fmt.Errorf("%w: member %s has position %d outside 1..%d",
				ErrInvariantViolation, m.ID, m.Position, len(members))
		}
		if other, dup := seen[m.Position]; dup {
			return fmt.Errorf("%w: position %d held by both %s and %s",
				ErrInvariantViolation, m.Position, other, m.ID)
		}
		seen[m.Position] = m.ID
	}
	return nil
}
