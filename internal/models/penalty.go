package models

import "time"

// Penalty is a late charge against one contribution for one overdue window.
type Penalty struct {
	ID             string
	ContributionID string
	GroupID        string
	MemberID       string

	Type   PenaltyType
	Amount int64

	// Window is the overdue period index the penalty was raised for, starting at
	// 0 for the first window after the grace period.
	Window int64

	Status PenaltyStatus

	// PaymentReference is set once the penalty is paid.
	PaymentReference string

	CreatedAt time.Time
}
