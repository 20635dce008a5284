package payout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mmynk/ajo/internal/cycle"
	"github.com/mmynk/ajo/internal/gateway"
	"github.com/mmynk/ajo/internal/models"
	"github.com/mmynk/ajo/internal/storage"
)

// HandleCallback applies a transfer outcome reported by the gateway. Callbacks
// are deduplicated by reference; a replayed reference returns the payout
// unchanged.
//
// A success completes the payout, settles its ledger rows, closes the cycle
// and generates the next one (or completes the group) in one transaction. A
// failure marks the payout failed and schedules a retry under a new key while
// budget remains. A failure naming an earlier transfer than the current one is
// stale and changes nothing.
func (d *Dispatcher) HandleCallback(ctx context.Context, ev gateway.Event) (*models.Payout, error) {
	if err := ev.Validate(); err != nil {
		return nil, err
	}
	if ev.PayoutID == "" {
		return nil, fmt.Errorf("%w: callback does not reference a payout", models.ErrInvalidInput)
	}

	var (
		p         *models.Payout
		result    string
		completed bool
	)
	err := d.store.WithTx(ctx, func(tx storage.Tx) error {
		var err error
		p, err = tx.GetPayout(ctx, ev.PayoutID)
		if err != nil {
			return err
		}
		if !p.OwnsKey(ev.IdempotencyKey) {
			return fmt.Errorf("%w: transfer %s does not belong to payout %s",
				models.ErrInvalidInput, ev.IdempotencyKey, p.ID)
		}
		if ev.Status == gateway.EventSuccess && ev.Amount != p.Amount {
			return fmt.Errorf("%w: payout %s is %d, callback reported %d",
				models.ErrAmountMismatch, p.ID, p.Amount, ev.Amount)
		}

		now := d.nowFn()
		fresh, err := tx.RecordCallback(ctx, ev.Reference, p.ID, string(ev.Status), now)
		if err != nil {
			return err
		}
		if !fresh {
			result = "duplicate"
			return nil
		}

		current := ev.IdempotencyKey == p.IdempotencyKey()
		switch {
		case ev.Status == gateway.EventSuccess:
			if !current {
				slog.Warn("Success reported for a superseded transfer",
					"payout_id", p.ID, "transfer_key", ev.IdempotencyKey, "current_key", p.IdempotencyKey())
			}
			result = "completed"
			completed, err = d.complete(ctx, tx, p, now)
			return err
		case !current:
			result = "stale"
			return nil
		default:
			result = "failed"
			return d.fail(ctx, tx, p, ev.Reason, now)
		}
	})
	if err != nil {
		d.metrics.Callback("error")
		return nil, err
	}

	d.metrics.Callback(result)
	switch result {
	case "duplicate":
		slog.Debug("Duplicate payout callback ignored", "reference", ev.Reference, "payout_id", p.ID)
	case "stale":
		slog.Info("Failure for a superseded transfer ignored",
			"reference", ev.Reference, "payout_id", p.ID, "transfer_key", ev.IdempotencyKey)
	case "completed":
		slog.Info("Payout completed",
			"payout_id", p.ID, "cycle_id", p.CycleID, "amount", p.Amount, "fee", p.Fee)
		d.metrics.PayoutStatus(string(models.PayoutCompleted))
		if completed {
			slog.Info("Group completed after final payout", "group_id", p.GroupID)
		}
	case "failed":
		if p.Status == models.PayoutFailed && p.NextAttemptAt == nil {
			d.alertFailed(p, errors.New(p.FailureReason))
		} else if p.NextAttemptAt != nil {
			slog.Warn("Payout transfer failed, retry scheduled",
				"payout_id", p.ID, "attempts", p.Attempts, "next_attempt_at", *p.NextAttemptAt, "reason", ev.Reason)
		}
	}
	return p, nil
}

// complete finishes a payout and its cycle. A callback can overtake the
// acknowledgement of its own initiation, so a pending or failed payout is
// stepped through processing first.
func (d *Dispatcher) complete(ctx context.Context, tx storage.Tx, p *models.Payout, now time.Time) (groupCompleted bool, err error) {
	if p.Status == models.PayoutCompleted {
		return false, nil
	}
	if p.Status != models.PayoutProcessing {
		from := p.Status
		p.Status = models.PayoutProcessing
		if p.Attempts == 0 {
			p.Attempts = 1
		}
		p.UpdatedAt = now
		if err := tx.UpdatePayout(ctx, p, from); err != nil {
			return false, err
		}
	}

	p.Status = models.PayoutCompleted
	p.FailureReason = ""
	p.NextAttemptAt = nil
	p.UpdatedAt = now
	p.CompletedAt = &now
	if err := tx.UpdatePayout(ctx, p, models.PayoutProcessing); err != nil {
		return false, err
	}

	if err := d.settleDisbursement(ctx, tx, p, models.TransactionCompleted, now); err != nil {
		return false, err
	}
	if p.Fee > 0 {
		err := tx.AppendTransaction(ctx, &models.Transaction{
			GroupID:   p.GroupID,
			CycleID:   p.CycleID,
			MemberID:  p.MemberID,
			Kind:      models.KindFee,
			SourceID:  p.ID,
			Amount:    p.Fee,
			Direction: models.DirectionOut,
			Status:    models.TransactionCompleted,
			Reference: "fee:" + p.ID,
			CreatedAt: now,
		})
		if err != nil && !errors.Is(err, models.ErrDuplicateOperation) {
			return false, err
		}
	}

	if err := tx.SetCycleStatus(ctx, p.CycleID, models.CycleReady, models.CyclePaid, now); err != nil {
		return false, err
	}
	if err := tx.SetCycleStatus(ctx, p.CycleID, models.CyclePaid, models.CycleClosed, now); err != nil {
		return false, err
	}

	group, err := tx.GetGroup(ctx, p.GroupID)
	if err != nil {
		return false, err
	}
	if group.Status != models.GroupActive {
		// A paused group gets its next cycle on resume.
		return false, nil
	}
	_, groupCompleted, err = cycle.Advance(ctx, tx, p.GroupID, now)
	return groupCompleted, err
}

// fail records a failed transfer. Late failures for a completed payout are
// ignored.
func (d *Dispatcher) fail(ctx context.Context, tx storage.Tx, p *models.Payout, reason string, now time.Time) error {
	if p.Status == models.PayoutCompleted {
		slog.Warn("Failure callback for completed payout ignored", "payout_id", p.ID)
		return nil
	}
	if reason == "" {
		reason = "transfer failed"
	}

	from := p.Status
	p.Status = models.PayoutFailed
	p.FailureReason = reason
	p.UpdatedAt = now
	p.NextAttemptAt = nil
	p.TransferSeq++
	if p.Attempts < d.cfg.MaxAttempts {
		next := now.Add(d.backoff(p.Attempts))
		p.NextAttemptAt = &next
	}
	if err := tx.UpdatePayout(ctx, p, from); err != nil {
		return err
	}
	if from == models.PayoutProcessing {
		return d.settleDisbursement(ctx, tx, p, models.TransactionFailed, now)
	}
	return nil
}

// settleDisbursement moves the payout's latest pending ledger row to status.
// If the acknowledgement was never recorded, the row is appended directly.
func (d *Dispatcher) settleDisbursement(ctx context.Context, tx storage.Tx, p *models.Payout, status models.TransactionStatus, now time.Time) error {
	txn, err := tx.GetTransactionBySource(ctx, models.KindPayout, p.ID)
	switch {
	case errors.Is(err, models.ErrNotFound):
		if status != models.TransactionCompleted {
			return nil
		}
		return d.appendDisbursementAs(ctx, tx, p, status, p.IdempotencyKey(), now)
	case err != nil:
		return err
	}
	if txn.Status == status {
		return nil
	}
	if txn.Status != models.TransactionPending {
		if status != models.TransactionCompleted {
			return nil
		}
		return d.appendDisbursementAs(ctx, tx, p, status, p.IdempotencyKey()+":settled", now)
	}
	return tx.SetTransactionStatus(ctx, txn.ID, models.TransactionPending, status, now)
}

// Retry is the operator path for a failed payout: it moves the payout back to
// pending and sends one more attempt regardless of the retry budget. The
// attempt keeps the previous key unless the gateway settled that transfer as
// failed.
func (d *Dispatcher) Retry(ctx context.Context, payoutID string) (*models.Payout, error) {
	err := d.store.WithTx(ctx, func(tx storage.Tx) error {
		p, err := tx.GetPayout(ctx, payoutID)
		if err != nil {
			return err
		}
		if p.Status != models.PayoutFailed {
			return fmt.Errorf("%w: payout %s is %s, only failed payouts can be retried",
				models.ErrInvalidState, p.ID, p.Status)
		}
		p.Status = models.PayoutPending
		p.NextAttemptAt = nil
		p.UpdatedAt = d.nowFn()
		return tx.UpdatePayout(ctx, p, models.PayoutFailed)
	})
	if err != nil {
		return nil, err
	}

	slog.Info("Operator retry of payout", "payout_id", payoutID)
	d.metrics.PayoutStatus(string(models.PayoutPending))
	return d.dispatch(ctx, payoutID, true)
}

// SweepResult summarises one recovery sweep.
type SweepResult struct {
	Dispatched int
	Recovered  int
	Errors     int
}

// Sweep sends every due initiation and polls the gateway for processing
// payouts whose callback is overdue. It is safe to run repeatedly.
func (d *Dispatcher) Sweep(ctx context.Context) (SweepResult, error) {
	var (
		res   SweepResult
		due   []*models.Payout
		stale []*models.Payout
	)
	now := d.nowFn()
	err := d.store.WithTx(ctx, func(tx storage.Tx) error {
		var err error
		if due, err = tx.ListDuePayouts(ctx, now); err != nil {
			return err
		}
		stale, err = tx.ListStaleProcessing(ctx, now.Add(-d.cfg.CallbackTimeout))
		return err
	})
	if err != nil {
		return res, fmt.Errorf("failed to list payouts to sweep: %w", err)
	}
	d.metrics.PayoutsDue(len(due))

	for _, p := range due {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if _, err := d.Dispatch(ctx, p.ID); err != nil {
			res.Errors++
			continue
		}
		res.Dispatched++
	}

	for _, p := range stale {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		recovered, err := d.poll(ctx, p)
		if err != nil {
			slog.Warn("Failed to poll stale payout", "payout_id", p.ID, "error", err)
			res.Errors++
			continue
		}
		if recovered {
			res.Recovered++
		}
	}

	if res.Dispatched+res.Recovered+res.Errors > 0 {
		slog.Info("Payout sweep finished",
			"dispatched", res.Dispatched, "recovered", res.Recovered, "errors", res.Errors)
	}
	return res, nil
}

// poll asks the gateway for the outcome of a processing payout and applies it
// as a synthetic callback. A transfer still queued is left alone.
func (d *Dispatcher) poll(ctx context.Context, p *models.Payout) (bool, error) {
	transfer, err := d.gateway.GetTransfer(ctx, p.IdempotencyKey())
	if err != nil {
		return false, err
	}

	ev := gateway.Event{
		PayoutID:       p.ID,
		IdempotencyKey: p.IdempotencyKey(),
		Amount:         p.Amount,
		Reason:         transfer.Reason,
	}
	switch transfer.Status {
	case gateway.TransferSucceeded:
		ev.Status = gateway.EventSuccess
	case gateway.TransferFailed:
		ev.Status = gateway.EventFailed
	default:
		return false, nil
	}
	ev.Reference = fmt.Sprintf("poll:%s:%s", p.IdempotencyKey(), ev.Status)

	if _, err := d.HandleCallback(ctx, ev); err != nil {
		return false, err
	}
	return true, nil
}
