package models

import "time"

// TransactionKind names the source of a ledger row.
type TransactionKind string

const (
	KindDeposit      TransactionKind = "deposit"
	KindContribution TransactionKind = "contribution"
	KindPenalty      TransactionKind = "penalty"
	KindPayout       TransactionKind = "payout"
	KindFee          TransactionKind = "fee"
)

// Direction is the money flow relative to the group pool.
type Direction string

const (
	DirectionIn  Direction = "in"
	DirectionOut Direction = "out"
)

// Transaction is an append-only ledger row. Rows are never edited apart from
// their status transition.
type Transaction struct {
	ID      string
	GroupID string

	// CycleID and MemberID are empty when the source is not cycle- or member-scoped.
	CycleID  string
	MemberID string

	Kind TransactionKind

	// SourceID is the contribution, penalty, payout or member the row records.
	SourceID string

	Amount    int64
	Direction Direction
	Status    TransactionStatus

	// Reference is the external reference, unique across the ledger.
	Reference string

	CreatedAt time.Time
	UpdatedAt time.Time
}
