package models

import (
	"fmt"
	"strings"
	"time"
)

// Payout is the disbursement of one cycle's pool to its recipient.
type Payout struct {
	ID       string
	CycleID  string
	GroupID  string
	MemberID string

	// Gross is the sum of the cycle's paid contributions.
	Gross int64
	// Fee is the platform fee withheld.
	Fee int64
	// Amount is what the recipient receives: Gross - Fee.
	Amount int64

	Destination string
	Status      PayoutStatus

	// Attempts counts transfer initiations sent to the gateway.
	Attempts int

	// TransferSeq numbers the transfer the payout is trying to make. It only
	// moves on once the gateway has settled the previous transfer as failed,
	// so every retry after a timeout reuses the same idempotency key.
	TransferSeq int

	// TransferID is the gateway's identifier for the latest initiated transfer.
	TransferID string

	// FailureReason keeps the last gateway or timeout error visible to operators.
	FailureReason string

	// NextAttemptAt schedules the next initiation. Nil when no retry is scheduled.
	NextAttemptAt *time.Time

	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time
}

// IdempotencyKey identifies the current transfer to the gateway. A replayed
// initiation with the same key is deduplicated by the gateway.
func (p *Payout) IdempotencyKey() string {
	return fmt.Sprintf("payout:%s:%d", p.ID, p.TransferSeq)
}

// OwnsKey reports whether key names one of this payout's transfers.
func (p *Payout) OwnsKey(key string) bool {
	return strings.HasPrefix(key, "payout:"+p.ID+":")
}
