package gateway

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/mmynk/ajo/internal/models"
)

// Ensure Fake implements Gateway
var _ Gateway = (*Fake)(nil)

// Fake is an in-memory gateway for tests and local runs. Transfers are
// deduplicated by idempotency key like the real gateway.
type Fake struct {
	mu        sync.Mutex
	transfers map[string]*Transfer
	requests  []TransferRequest
	failures  []error
}

// NewFake creates an empty fake gateway.
func NewFake() *Fake {
	return &Fake{transfers: make(map[string]*Transfer)}
}

// FailNext makes the next InitiateTransfer calls return errs, in order.
func (f *Fake) FailNext(errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = append(f.failures, errs...)
}

// InitiateTransfer records the request and acknowledges it as queued.
func (f *Fake) InitiateTransfer(ctx context.Context, req TransferRequest) (*Transfer, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrExternalTimeout, err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.requests = append(f.requests, req)
	if len(f.failures) > 0 {
		err := f.failures[0]
		f.failures = f.failures[1:]
		return nil, err
	}

	if existing, ok := f.transfers[req.IdempotencyKey]; ok {
		copied := *existing
		return &copied, nil
	}
	transfer := &Transfer{
		ID:             "trf_" + uuid.New().String(),
		IdempotencyKey: req.IdempotencyKey,
		Status:         TransferQueued,
	}
	f.transfers[req.IdempotencyKey] = transfer
	copied := *transfer
	return &copied, nil
}

// GetTransfer returns a recorded transfer.
func (f *Fake) GetTransfer(ctx context.Context, idempotencyKey string) (*Transfer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	transfer, ok := f.transfers[idempotencyKey]
	if !ok {
		return nil, fmt.Errorf("%w: transfer %s", ErrRejected, idempotencyKey)
	}
	copied := *transfer
	return &copied, nil
}

// Settle sets the final status of a transfer, as the gateway would before
// sending its callback.
func (f *Fake) Settle(idempotencyKey string, status TransferStatus, reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if transfer, ok := f.transfers[idempotencyKey]; ok {
		transfer.Status = status
		transfer.Reason = reason
	}
}

// Requests returns every InitiateTransfer call received, including failed ones.
func (f *Fake) Requests() []TransferRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]TransferRequest, len(f.requests))
	copy(out, f.requests)
	return out
}

// Transfers returns the number of distinct transfers accepted.
func (f *Fake) Transfers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.transfers)
}
