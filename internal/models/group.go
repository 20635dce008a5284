package models

import (
	"fmt"
	"time"
)

// Cadence is how often a group contributes.
type Cadence string

const (
	CadenceWeekly   Cadence = "weekly"
	CadenceBiweekly Cadence = "biweekly"
	CadenceMonthly  Cadence = "monthly"
)

// Next returns the due date one cadence interval after t.
func (c Cadence) Next(t time.Time) (time.Time, error) {
	switch c {
	case CadenceWeekly:
		return t.AddDate(0, 0, 7), nil
	case CadenceBiweekly:
		return t.AddDate(0, 0, 14), nil
	case CadenceMonthly:
		return t.AddDate(0, 1, 0), nil
	}
	return time.Time{}, fmt.Errorf("%w: unknown cadence %q", ErrInvalidInput, c)
}

// PenaltyType selects how a late charge is computed.
type PenaltyType string

const (
	// PenaltyFlat charges Value minor units per overdue window.
	PenaltyFlat PenaltyType = "flat"
	// PenaltyPercentage charges Value basis points of the owed amount per overdue window.
	PenaltyPercentage PenaltyType = "percentage"
)

// PenaltyPolicy is the late-payment configuration copied onto a group at creation.
type PenaltyPolicy struct {
	Type PenaltyType

	// Value is minor units for flat penalties, basis points for percentage penalties.
	Value int64

	// GracePeriod is how long after the due date a contribution stays penalty-free.
	GracePeriod time.Duration

	// Window is the length of one overdue period. A contribution earns at most
	// one penalty per window.
	Window time.Duration
}

// Validate checks the policy is usable by the penalty engine.
func (p PenaltyPolicy) Validate() error {
	if p.Type != PenaltyFlat && p.Type != PenaltyPercentage {
		return fmt.Errorf("%w: unknown penalty type %q", ErrInvalidInput, p.Type)
	}
	if p.Value < 0 {
		return fmt.Errorf("%w: penalty value must not be negative", ErrInvalidInput)
	}
	if p.GracePeriod < 0 {
		return fmt.Errorf("%w: grace period must not be negative", ErrInvalidInput)
	}
	if p.Window <= 0 {
		return fmt.Errorf("%w: penalty window must be positive", ErrInvalidInput)
	}
	return nil
}

// Group is a rotating savings association.
type Group struct {
	// ID is the unique identifier for the group (UUID format).
	ID string

	// Name is the display name of the group (e.g., "Market Women Ajo").
	Name string

	// ContributionAmount is what each member owes every cycle, in minor units.
	ContributionAmount int64

	Cadence Cadence

	// Capacity is the fixed number of members; the group runs Capacity cycles.
	Capacity int

	// DepositAmount is the security deposit a member pays to qualify for a
	// position. Zero means members qualify on joining.
	DepositAmount int64

	// PlatformFeeBps is the fee withheld from each payout, in basis points.
	PlatformFeeBps int64

	Penalty PenaltyPolicy

	Status GroupStatus

	// CreatedBy is the caller identity that created the group.
	CreatedBy string

	CreatedAt   time.Time
	ActivatedAt *time.Time
	CompletedAt *time.Time
}

// Validate checks the fields required to create a group.
func (g *Group) Validate() error {
	if g.Name == "" {
		return fmt.Errorf("%w: group name required", ErrInvalidInput)
	}
	if g.ContributionAmount <= 0 {
		return fmt.Errorf("%w: contribution amount must be positive", ErrInvalidInput)
	}
	if g.Capacity < 2 {
		return fmt.Errorf("%w: capacity must be at least 2", ErrInvalidInput)
	}
	if g.DepositAmount < 0 {
		return fmt.Errorf("%w: deposit amount must not be negative", ErrInvalidInput)
	}
	if g.PlatformFeeBps < 0 || g.PlatformFeeBps >= 10000 {
		return fmt.Errorf("%w: platform fee must be in [0, 10000) bps", ErrInvalidInput)
	}
	if _, err := g.Cadence.Next(time.Now()); err != nil {
		return err
	}
	return g.Penalty.Validate()
}
