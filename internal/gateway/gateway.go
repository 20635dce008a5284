// Package gateway is the boundary to the external payment gateway: outbound
// transfers for payouts and inbound webhook events for payments and transfer
// callbacks.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mmynk/ajo/internal/models"
)

var (
	// ErrRejected marks a transfer the gateway refused outright (bad
	// destination, insufficient float). Retrying the same request will not help.
	ErrRejected = errors.New("transfer rejected by gateway")

	// ErrUnavailable marks a gateway that is failing or short-circuited. Retryable.
	ErrUnavailable = errors.New("gateway unavailable")

	// ErrTransferFailed marks an initiation answered with a transfer the
	// gateway has already failed. Retryable under a new idempotency key.
	ErrTransferFailed = errors.New("transfer already failed at gateway")
)

// TransferRequest asks the gateway to send money to a member.
type TransferRequest struct {
	Destination string `json:"destination"`
	Amount      int64  `json:"amount"`

	// IdempotencyKey deduplicates repeated initiations of the same attempt.
	IdempotencyKey string `json:"idempotency_key"`

	// PayoutID is echoed back on the transfer callback.
	PayoutID string `json:"payout_id"`
}

// TransferStatus is the gateway's view of a transfer.
type TransferStatus string

const (
	TransferQueued    TransferStatus = "queued"
	TransferSucceeded TransferStatus = "success"
	TransferFailed    TransferStatus = "failed"
)

// Transfer is the gateway's acknowledgement or current state of a transfer.
type Transfer struct {
	ID             string         `json:"id"`
	IdempotencyKey string         `json:"idempotency_key"`
	Status         TransferStatus `json:"status"`
	Reason         string         `json:"reason,omitempty"`
}

// Gateway is the outbound side of the payment gateway.
type Gateway interface {
	// InitiateTransfer starts a transfer and returns the gateway's
	// acknowledgement. The final outcome arrives later as an Event. Errors
	// wrapping models.ErrExternalTimeout or ErrUnavailable are retryable;
	// ErrRejected is not.
	InitiateTransfer(ctx context.Context, req TransferRequest) (*Transfer, error)

	// GetTransfer looks up a transfer by idempotency key. Used to recover
	// payouts whose callback never arrived.
	GetTransfer(ctx context.Context, idempotencyKey string) (*Transfer, error)
}

// EventStatus is the outcome carried by an inbound event.
type EventStatus string

const (
	EventSuccess EventStatus = "success"
	EventFailed  EventStatus = "failed"
)

// Event is one inbound gateway webhook. Delivery is at-least-once and may be
// out of order. Exactly one of ContributionID, PenaltyID, PayoutID is set.
type Event struct {
	// Reference is unique per event and is the deduplication key.
	Reference string `json:"reference"`

	ContributionID string `json:"contributionId,omitempty"`
	PenaltyID      string `json:"penaltyId,omitempty"`
	PayoutID       string `json:"payoutId,omitempty"`

	// IdempotencyKey names the transfer a payout callback settles.
	IdempotencyKey string `json:"idempotencyKey,omitempty"`

	Amount int64       `json:"amount"`
	Status EventStatus `json:"status"`

	// Reason explains a failed event.
	Reason string `json:"reason,omitempty"`
}

// Validate checks an inbound event is well formed.
func (e *Event) Validate() error {
	if strings.TrimSpace(e.Reference) == "" {
		return fmt.Errorf("%w: event reference required", models.ErrInvalidInput)
	}
	targets := 0
	for _, id := range []string{e.ContributionID, e.PenaltyID, e.PayoutID} {
		if id != "" {
			targets++
		}
	}
	if targets != 1 {
		return fmt.Errorf("%w: event must target exactly one of contribution, penalty or payout", models.ErrInvalidInput)
	}
	if e.PayoutID != "" && strings.TrimSpace(e.IdempotencyKey) == "" {
		return fmt.Errorf("%w: payout callback must name its transfer", models.ErrInvalidInput)
	}
	if e.Status != EventSuccess && e.Status != EventFailed {
		return fmt.Errorf("%w: unknown event status %q", models.ErrInvalidInput, e.Status)
	}
	if e.Amount < 0 {
		return fmt.Errorf("%w: negative amount", models.ErrInvalidInput)
	}
	return nil
}

// Retryable reports whether a failed InitiateTransfer may be attempted again.
func Retryable(err error) bool {
	return err != nil && !errors.Is(err, ErrRejected)
}

// Settled reports whether a failed InitiateTransfer leaves no live transfer
// under the request's key. After a timeout or an unavailable gateway the
// transfer may still exist, so the next attempt must reuse the key.
func Settled(err error) bool {
	return errors.Is(err, ErrRejected) || errors.Is(err, ErrTransferFailed)
}
