// Package payout creates and disburses cycle payouts.
//
// A payout row is created in the same transaction that marks its cycle ready,
// so a ready cycle always has exactly one payout. The gateway call happens
// after that transaction commits; a payout that could not be initiated stays
// pending with NextAttemptAt set and the scheduler's Sweep picks it up.
//
// Every initiation carries the payout's idempotency key. The key changes only
// after the gateway has settled the previous transfer as failed, so at most
// one transfer per payout is ever live at the gateway.
package payout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mmynk/ajo/internal/calculator"
	"github.com/mmynk/ajo/internal/cycle"
	"github.com/mmynk/ajo/internal/gateway"
	"github.com/mmynk/ajo/internal/metrics"
	"github.com/mmynk/ajo/internal/models"
	"github.com/mmynk/ajo/internal/storage"
)

// Config bounds payout retries.
type Config struct {
	// MaxAttempts is the transfer initiation budget per payout.
	MaxAttempts int

	// RetryBackoff is the delay before the first retry; it doubles per attempt.
	RetryBackoff time.Duration

	// MaxBackoff caps the retry delay.
	MaxBackoff time.Duration

	// CallbackTimeout is how long a processing payout waits for its callback
	// before Sweep polls the gateway.
	CallbackTimeout time.Duration
}

// Dispatcher owns the payout lifecycle.
type Dispatcher struct {
	store   storage.Store
	gateway gateway.Gateway
	metrics *metrics.Metrics
	cfg     Config
	nowFn   func() time.Time
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(store storage.Store, gw gateway.Gateway, m *metrics.Metrics, cfg Config) *Dispatcher {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = time.Minute
	}
	if cfg.MaxBackoff < cfg.RetryBackoff {
		cfg.MaxBackoff = cfg.RetryBackoff
	}
	if cfg.CallbackTimeout <= 0 {
		cfg.CallbackTimeout = time.Hour
	}
	return &Dispatcher{
		store:   store,
		gateway: gw,
		metrics: m,
		cfg:     cfg,
		nowFn:   func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the dispatcher's time source.
func (d *Dispatcher) SetClock(now func() time.Time) {
	d.nowFn = now
}

// Prepare creates the pending payout for a ready cycle inside tx. The amount
// is the sum of the cycle's paid contributions minus the platform fee. The
// payout is immediately due for initiation.
func (d *Dispatcher) Prepare(ctx context.Context, tx storage.Tx, c *models.Cycle) (*models.Payout, error) {
	if c.Status != models.CycleReady {
		return nil, fmt.Errorf("%w: cycle %s is %s, not ready", models.ErrInvalidState, c.ID, c.Status)
	}

	group, err := tx.GetGroup(ctx, c.GroupID)
	if err != nil {
		return nil, err
	}
	members, err := tx.ListMembers(ctx, c.GroupID)
	if err != nil {
		return nil, err
	}
	recipient := c.Recipient(members)
	if recipient == nil {
		return nil, fmt.Errorf("%w: cycle %d of group %s has no recipient", models.ErrInvariantViolation, c.Sequence, c.GroupID)
	}

	contributions, err := tx.ListContributions(ctx, c.ID)
	if err != nil {
		return nil, err
	}
	gross := cycle.Gross(contributions)
	fee, net, err := calculator.PayoutSplit(gross, group.PlatformFeeBps)
	if err != nil {
		return nil, err
	}

	now := d.nowFn()
	p := &models.Payout{
		CycleID:       c.ID,
		GroupID:       c.GroupID,
		MemberID:      recipient.ID,
		Gross:         gross,
		Fee:           fee,
		Amount:        net,
		Destination:   recipient.PayoutDestination,
		Status:        models.PayoutPending,
		TransferSeq:   1,
		NextAttemptAt: &now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := tx.CreatePayout(ctx, p); err != nil {
		return nil, err
	}

	slog.Info("Payout created",
		"payout_id", p.ID,
		"cycle_id", c.ID,
		"member_id", recipient.ID,
		"gross", gross,
		"fee", fee,
		"amount", net,
	)
	d.metrics.PayoutStatus(string(models.PayoutPending))
	return p, nil
}

// Dispatch sends one transfer initiation for a payout that has an attempt
// scheduled. Payouts in any other state are returned unchanged, so repeated or
// concurrent calls are harmless: the gateway deduplicates on the payout's
// idempotency key and only one caller records the outcome.
func (d *Dispatcher) Dispatch(ctx context.Context, payoutID string) (*models.Payout, error) {
	return d.dispatch(ctx, payoutID, false)
}

// dispatch performs one attempt. force skips the schedule and budget checks
// for an operator retry.
func (d *Dispatcher) dispatch(ctx context.Context, payoutID string, force bool) (*models.Payout, error) {
	var p *models.Payout
	err := d.store.WithTx(ctx, func(tx storage.Tx) error {
		var err error
		p, err = tx.GetPayout(ctx, payoutID)
		if err != nil {
			return err
		}
		if force || p.NextAttemptAt == nil || p.Attempts < d.cfg.MaxAttempts {
			return nil
		}
		// Budget lowered since the retry was scheduled.
		from := p.Status
		p.Status = models.PayoutFailed
		p.NextAttemptAt = nil
		p.UpdatedAt = d.nowFn()
		return tx.UpdatePayout(ctx, p, from)
	})
	if err != nil {
		return nil, err
	}
	if p.Status != models.PayoutPending && p.Status != models.PayoutFailed {
		return p, nil
	}
	if !force && p.NextAttemptAt == nil {
		return p, nil
	}

	transfer, callErr := d.gateway.InitiateTransfer(ctx, gateway.TransferRequest{
		Destination:    p.Destination,
		Amount:         p.Amount,
		IdempotencyKey: p.IdempotencyKey(),
		PayoutID:       p.ID,
	})
	if callErr == nil && transfer.Status == gateway.TransferFailed {
		// A transfer lost to an earlier timeout has since failed.
		reason := transfer.Reason
		if reason == "" {
			reason = "no reason given"
		}
		callErr = fmt.Errorf("%w: %s: %s", gateway.ErrTransferFailed, transfer.ID, reason)
	}

	// The outcome is recorded even when ctx was cancelled mid-call.
	recordCtx := context.WithoutCancel(ctx)
	err = d.store.WithTx(recordCtx, func(tx storage.Tx) error {
		current, err := tx.GetPayout(recordCtx, payoutID)
		if err != nil {
			return err
		}
		if current.Status != p.Status || current.Attempts != p.Attempts || current.TransferSeq != p.TransferSeq {
			// Another caller already recorded this attempt.
			p = current
			return nil
		}
		from := current.Status
		now := d.nowFn()
		current.Attempts++
		current.UpdatedAt = now

		if callErr == nil {
			current.Status = models.PayoutProcessing
			current.TransferID = transfer.ID
			current.FailureReason = ""
			current.NextAttemptAt = nil
			if err := tx.UpdatePayout(recordCtx, current, from); err != nil {
				return err
			}
			if err := d.appendDisbursementAs(recordCtx, tx, current, models.TransactionPending, current.IdempotencyKey(), now); err != nil {
				return err
			}
			p = current
			return nil
		}

		current.FailureReason = callErr.Error()
		if gateway.Settled(callErr) {
			current.TransferSeq++
		}
		if !force && gateway.Retryable(callErr) && current.Attempts < d.cfg.MaxAttempts {
			next := now.Add(d.backoff(current.Attempts))
			current.NextAttemptAt = &next
		} else {
			current.Status = models.PayoutFailed
			current.NextAttemptAt = nil
		}
		if err := tx.UpdatePayout(recordCtx, current, from); err != nil {
			return err
		}
		p = current
		return nil
	})
	if err != nil {
		return nil, err
	}

	switch {
	case callErr == nil:
		slog.Info("Payout transfer acknowledged",
			"payout_id", p.ID, "transfer_id", p.TransferID, "attempt", p.Attempts)
		d.metrics.DispatchAttempt("acknowledged")
		d.metrics.PayoutStatus(string(models.PayoutProcessing))
	case p.NextAttemptAt != nil:
		slog.Warn("Payout transfer attempt failed, retry scheduled",
			"payout_id", p.ID, "attempt", p.Attempts, "next_attempt_at", *p.NextAttemptAt, "error", callErr)
		d.metrics.DispatchAttempt("retry_scheduled")
	default:
		d.alertFailed(p, callErr)
		d.metrics.DispatchAttempt("exhausted")
	}
	return p, callErr
}

// alertFailed reports a payout that needs operator action.
func (d *Dispatcher) alertFailed(p *models.Payout, cause error) {
	slog.Error("Payout failed, operator action required",
		"payout_id", p.ID,
		"cycle_id", p.CycleID,
		"group_id", p.GroupID,
		"member_id", p.MemberID,
		"attempts", p.Attempts,
		"reason", p.FailureReason,
		"error", cause,
	)
	d.metrics.PayoutStatus(string(models.PayoutFailed))
}

// appendDisbursementAs records a transfer attempt as an outbound ledger row.
func (d *Dispatcher) appendDisbursementAs(ctx context.Context, tx storage.Tx, p *models.Payout, status models.TransactionStatus, reference string, now time.Time) error {
	err := tx.AppendTransaction(ctx, &models.Transaction{
		GroupID:   p.GroupID,
		CycleID:   p.CycleID,
		MemberID:  p.MemberID,
		Kind:      models.KindPayout,
		SourceID:  p.ID,
		Amount:    p.Amount,
		Direction: models.DirectionOut,
		Status:    status,
		Reference: reference,
		CreatedAt: now,
	})
	if errors.Is(err, models.ErrDuplicateOperation) {
		return nil
	}
	return err
}

func (d *Dispatcher) backoff(attempts int) time.Duration {
	delay := d.cfg.RetryBackoff
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= d.cfg.MaxBackoff {
			return d.cfg.MaxBackoff
		}
	}
	return delay
}
