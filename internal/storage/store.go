// Package storage provides abstractions for the ledger store.
package storage

import (
	"context"
	"time"

	"github.com/mmynk/ajo/internal/models"
)

// Store is the ledger store. It exclusively owns mutation of groups, members,
// cycles, contributions, penalties, payouts and transactions; every other
// component acts through a Tx.
//
// This abstraction allows swapping storage backends (SQLite, PostgreSQL, etc.)
// without changing the engine.
type Store interface {
	// WithTx runs fn inside one serialised transaction. The transaction commits
	// when fn returns nil and rolls back otherwise, so multi-row invariants are
	// never partially committed.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	// Close releases any resources held by the store.
	Close() error
}

// Tx is the set of ledger operations available inside a transaction. Every
// status-changing method checks the expected current status and the
// transition table in models; a mismatch returns models.ErrInvalidState.
type Tx interface {
	GroupTx
	MemberTx
	CycleTx
	ContributionTx
	PenaltyTx
	PayoutTx
	TransactionTx
}

// GroupTx manages groups.
type GroupTx interface {
	// CreateGroup persists a new group. ID and CreatedAt are generated if empty.
	CreateGroup(ctx context.Context, group *models.Group) error

	// GetGroup returns models.ErrNotFound when the group does not exist.
	GetGroup(ctx context.Context, groupID string) (*models.Group, error)

	// ListGroups returns groups in any of the given statuses, or all groups
	// when none are given.
	ListGroups(ctx context.Context, statuses ...models.GroupStatus) ([]*models.Group, error)

	// SetGroupStatus moves a group from one status to another.
	SetGroupStatus(ctx context.Context, groupID string, from, to models.GroupStatus, at time.Time) error
}

// MemberTx manages membership records.
type MemberTx interface {
	// AddMember persists a pending member. A user joins a group at most once.
	AddMember(ctx context.Context, member *models.Member) error

	GetMember(ctx context.Context, memberID string) (*models.Member, error)

	// ListMembers returns the group's members ordered by position, then by the
	// order they qualified, then by join time.
	ListMembers(ctx context.Context, groupID string) ([]*models.Member, error)

	// MarkMemberQualified stamps the member as having met the activation
	// requirement and assigns the next qualify order for the group.
	MarkMemberQualified(ctx context.Context, memberID string, at time.Time) error

	// AssignPositions sets every listed member's position and activates them.
	// The storage layer rejects duplicate positions within a group.
	AssignPositions(ctx context.Context, groupID string, positions map[string]int) error
}

// CycleTx manages cycles.
type CycleTx interface {
	// CreateCycle persists a cycle. Sequence is unique within a group.
	CreateCycle(ctx context.Context, cycle *models.Cycle) error

	GetCycle(ctx context.Context, cycleID string) (*models.Cycle, error)

	// CurrentCycle returns the highest-sequence cycle that is not closed, or
	// models.ErrNotFound.
	CurrentCycle(ctx context.Context, groupID string) (*models.Cycle, error)

	// LastCycle returns the highest-sequence cycle in any status, or
	// models.ErrNotFound.
	LastCycle(ctx context.Context, groupID string) (*models.Cycle, error)

	ListCycles(ctx context.Context, groupID string) ([]*models.Cycle, error)

	SetCycleStatus(ctx context.Context, cycleID string, from, to models.CycleStatus, at time.Time) error
}

// ContributionTx manages contribution obligations.
type ContributionTx interface {
	CreateContribution(ctx context.Context, c *models.Contribution) error

	GetContribution(ctx context.Context, contributionID string) (*models.Contribution, error)

	ListContributions(ctx context.Context, cycleID string) ([]*models.Contribution, error)

	// MarkContributionPaid moves a pending or overdue contribution to paid and
	// stores the payment reference.
	MarkContributionPaid(ctx context.Context, contributionID, reference string, at time.Time) error

	SetContributionStatus(ctx context.Context, contributionID string, from, to models.ContributionStatus) error

	// ListUnpaidDue returns pending and overdue contributions of active groups
	// whose due date is at or before cutoff.
	ListUnpaidDue(ctx context.Context, cutoff time.Time) ([]*models.Contribution, error)
}

// PenaltyTx manages late charges.
type PenaltyTx interface {
	// InsertPenalty persists the penalty unless one already exists for the same
	// contribution and window. It reports whether a row was inserted.
	InsertPenalty(ctx context.Context, p *models.Penalty) (bool, error)

	GetPenalty(ctx context.Context, penaltyID string) (*models.Penalty, error)

	ListPenalties(ctx context.Context, groupID string) ([]*models.Penalty, error)

	// MarkPenaltyPaid moves an applied penalty to paid and stores the reference.
	MarkPenaltyPaid(ctx context.Context, penaltyID, reference string) error

	SetPenaltyStatus(ctx context.Context, penaltyID string, from, to models.PenaltyStatus) error
}

// PayoutTx manages cycle disbursements.
type PayoutTx interface {
	// CreatePayout persists a payout. A second payout for the same cycle
	// returns models.ErrDuplicateOperation.
	CreatePayout(ctx context.Context, p *models.Payout) error

	GetPayout(ctx context.Context, payoutID string) (*models.Payout, error)

	GetPayoutByCycle(ctx context.Context, cycleID string) (*models.Payout, error)

	// UpdatePayout writes p, provided the stored status is still from.
	UpdatePayout(ctx context.Context, p *models.Payout, from models.PayoutStatus) error

	// ListDuePayouts returns pending and failed payouts whose next attempt is
	// at or before now.
	ListDuePayouts(ctx context.Context, now time.Time) ([]*models.Payout, error)

	// ListStaleProcessing returns processing payouts last updated before cutoff.
	ListStaleProcessing(ctx context.Context, cutoff time.Time) ([]*models.Payout, error)

	ListPayouts(ctx context.Context, groupID string) ([]*models.Payout, error)

	// RecordCallback stores a gateway callback reference. It reports false when
	// the reference was already recorded.
	RecordCallback(ctx context.Context, reference, payoutID, status string, at time.Time) (bool, error)
}

// TransactionTx manages the append-only ledger.
type TransactionTx interface {
	// AppendTransaction adds a ledger row. A reused reference returns
	// models.ErrDuplicateOperation.
	AppendTransaction(ctx context.Context, t *models.Transaction) error

	GetTransactionByReference(ctx context.Context, reference string) (*models.Transaction, error)

	// GetTransactionBySource returns the latest row recorded for a source.
	GetTransactionBySource(ctx context.Context, kind models.TransactionKind, sourceID string) (*models.Transaction, error)

	SetTransactionStatus(ctx context.Context, transactionID string, from, to models.TransactionStatus, at time.Time) error

	ListTransactions(ctx context.Context, groupID string) ([]*models.Transaction, error)
}
