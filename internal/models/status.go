package models

import "fmt"

// GroupStatus is the lifecycle state of a group.
type GroupStatus string

const (
	GroupForming   GroupStatus = "forming"
	GroupActive    GroupStatus = "active"
	GroupPaused    GroupStatus = "paused"
	GroupCompleted GroupStatus = "completed"
	GroupCancelled GroupStatus = "cancelled"
)

// MemberStatus is the state of a membership record.
type MemberStatus string

const (
	MemberPending   MemberStatus = "pending"
	MemberActive    MemberStatus = "active"
	MemberSuspended MemberStatus = "suspended"
	MemberRemoved   MemberStatus = "removed"
)

// CycleStatus is the state of one contribution-and-payout period.
// open and collecting differ only in whether any contribution has been paid.
type CycleStatus string

const (
	CycleOpen       CycleStatus = "open"
	CycleCollecting CycleStatus = "collecting"
	CycleReady      CycleStatus = "ready"
	CyclePaid       CycleStatus = "paid"
	CycleClosed     CycleStatus = "closed"
)

// ContributionStatus is the state of one member's obligation for one cycle.
type ContributionStatus string

const (
	ContributionPending ContributionStatus = "pending"
	ContributionPaid    ContributionStatus = "paid"
	ContributionOverdue ContributionStatus = "overdue"
	ContributionWaived  ContributionStatus = "waived"
)

// PenaltyStatus is the state of a late charge.
type PenaltyStatus string

const (
	PenaltyApplied PenaltyStatus = "applied"
	PenaltyPaid    PenaltyStatus = "paid"
	PenaltyWaived  PenaltyStatus = "waived"
)

// PayoutStatus is the state of a cycle disbursement.
type PayoutStatus string

const (
	PayoutPending    PayoutStatus = "pending"
	PayoutProcessing PayoutStatus = "processing"
	PayoutCompleted  PayoutStatus = "completed"
	PayoutFailed     PayoutStatus = "failed"
)

// TransactionStatus is the state of a ledger row.
type TransactionStatus string

const (
	TransactionPending   TransactionStatus = "pending"
	TransactionCompleted TransactionStatus = "completed"
	TransactionFailed    TransactionStatus = "failed"
)

var groupTransitions = map[GroupStatus][]GroupStatus{
	GroupForming: {GroupActive, GroupCancelled},
	GroupActive:  {GroupPaused, GroupCompleted, GroupCancelled},
	GroupPaused:  {GroupActive, GroupCancelled},
}

var cycleTransitions = map[CycleStatus][]CycleStatus{
	CycleOpen:       {CycleCollecting},
	CycleCollecting: {CycleReady},
	CycleReady:      {CyclePaid},
	CyclePaid:       {CycleClosed},
}

var contributionTransitions = map[ContributionStatus][]ContributionStatus{
	ContributionPending: {ContributionPaid, ContributionOverdue, ContributionWaived},
	ContributionOverdue: {ContributionPaid, ContributionWaived},
}

var penaltyTransitions = map[PenaltyStatus][]PenaltyStatus{
	PenaltyApplied: {PenaltyPaid, PenaltyWaived},
}

// failed -> pending is only reachable through an explicit operator retry.
var payoutTransitions = map[PayoutStatus][]PayoutStatus{
	PayoutPending:    {PayoutProcessing, PayoutFailed},
	PayoutProcessing: {PayoutCompleted, PayoutFailed},
	PayoutFailed:     {PayoutProcessing, PayoutPending},
}

var transactionTransitions = map[TransactionStatus][]TransactionStatus{
	TransactionPending: {TransactionCompleted, TransactionFailed},
}

func allowed[S comparable](table map[S][]S, from, to S) bool {
	for _, next := range table[from] {
		if next == to {
			return true
		}
	}
	return false
}

func transitionError[S ~string](kind string, from, to S) error {
	return fmt.Errorf("%w: %s cannot move from %s to %s", ErrInvalidState, kind, from, to)
}

// Valid reports whether s is a known group status.
func (s GroupStatus) Valid() bool {
	switch s {
	case GroupForming, GroupActive, GroupPaused, GroupCompleted, GroupCancelled:
		return true
	}
	return false
}

// Terminal reports whether no further transitions are possible.
func (s GroupStatus) Terminal() bool {
	return s == GroupCompleted || s == GroupCancelled
}

// CheckGroupTransition validates a group status change.
func CheckGroupTransition(from, to GroupStatus) error {
	if !allowed(groupTransitions, from, to) {
		return transitionError("group", from, to)
	}
	return nil
}

// CheckCycleTransition validates a cycle status change. No transition skips a state.
func CheckCycleTransition(from, to CycleStatus) error {
	if !allowed(cycleTransitions, from, to) {
		return transitionError("cycle", from, to)
	}
	return nil
}

// CheckContributionTransition validates a contribution status change.
func CheckContributionTransition(from, to ContributionStatus) error {
	if !allowed(contributionTransitions, from, to) {
		return transitionError("contribution", from, to)
	}
	return nil
}

// CheckPenaltyTransition validates a penalty status change.
func CheckPenaltyTransition(from, to PenaltyStatus) error {
	if !allowed(penaltyTransitions, from, to) {
		return transitionError("penalty", from, to)
	}
	return nil
}

// CheckPayoutTransition validates a payout status change.
func CheckPayoutTransition(from, to PayoutStatus) error {
	if !allowed(payoutTransitions, from, to) {
		return transitionError("payout", from, to)
	}
	return nil
}

// CheckTransactionTransition validates a ledger row status change.
func CheckTransactionTransition(from, to TransactionStatus) error {
	if !allowed(transactionTransitions, from, to) {
		return transitionError("transaction", from, to)
	}
	return nil
}

// Payable reports whether a contribution in this state still accepts a payment.
func (s ContributionStatus) Payable() bool {
	return s == ContributionPending || s == ContributionOverdue
}

// Accepting reports whether a cycle in this state still accepts contributions.
func (s CycleStatus) Accepting() bool {
	return s == CycleOpen || s == CycleCollecting
}
