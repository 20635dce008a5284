package models

import "time"

// Cycle is one contribution-and-payout period for a group.
type Cycle struct {
	ID      string
	GroupID string

	// Sequence is 1..N and increases by one per cycle. The recipient is the
	// member whose Position equals Sequence.
	Sequence int

	DueDate time.Time
	Status  CycleStatus

	CreatedAt time.Time
	ClosedAt  *time.Time
}

// Recipient returns the member designated to receive this cycle's pool.
// The recipient is derived from positions and never stored on the cycle.
func (c *Cycle) Recipient(members []*Member) *Member {
	for _, m := range members {
		if m.Position == c.Sequence {
			return m
		}
	}
	return nil
}

// Contribution is one member's obligation for one cycle.
type Contribution struct {
	ID       string
	CycleID  string
	GroupID  string
	MemberID string

	// Amount owed, equal to the group's contribution amount. Penalties never
	// change it.
	Amount int64

	Status ContributionStatus

	// DueDate is copied from the cycle for penalty evaluation.
	DueDate time.Time

	PaidAt *time.Time

	// PaymentReference is the external reference that paid this contribution.
	// Globally unique across the ledger.
	PaymentReference string
}
