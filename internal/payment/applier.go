// Package payment applies inbound payment confirmations to the ledger.
package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mmynk/ajo/internal/cycle"
	"github.com/mmynk/ajo/internal/gateway"
	"github.com/mmynk/ajo/internal/metrics"
	"github.com/mmynk/ajo/internal/models"
	"github.com/mmynk/ajo/internal/storage"
)

// Dispatcher creates and sends payouts for cycles that became ready.
type Dispatcher interface {
	// Prepare creates the cycle's payout inside tx.
	Prepare(ctx context.Context, tx storage.Tx, c *models.Cycle) (*models.Payout, error)

	// Dispatch initiates the transfer after tx has committed.
	Dispatch(ctx context.Context, payoutID string) (*models.Payout, error)
}

// Result describes the effect of one payment confirmation.
type Result struct {
	// Transaction is the ledger row for the payment, new or previously recorded.
	Transaction *models.Transaction

	// Duplicate is set when the reference had already been applied.
	Duplicate bool

	// Declined is set for a failed confirmation, which changes nothing.
	Declined bool

	// Cycle is the contribution's cycle after evaluation.
	Cycle *models.Cycle

	// Payout is set when this payment funded the cycle.
	Payout *models.Payout

	// Activated is set when a deposit completed the group and started it.
	Activated bool
}

// Applier converts payment confirmations into ledger mutations exactly once
// per payment reference.
type Applier struct {
	store      storage.Store
	dispatcher Dispatcher
	metrics    *metrics.Metrics
	nowFn      func() time.Time
}

// NewApplier creates an Applier.
func NewApplier(store storage.Store, dispatcher Dispatcher, m *metrics.Metrics) *Applier {
	return &Applier{
		store:      store,
		dispatcher: dispatcher,
		metrics:    m,
		nowFn:      func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the applier's time source.
func (a *Applier) SetClock(now func() time.Time) {
	a.nowFn = now
}

// Apply applies a confirmation targeting a contribution or a penalty.
//
// Everything happens in one transaction whose first step is the lookup by
// reference. A replayed reference returns the recorded transaction with
// Duplicate set while the contribution's cycle is still collecting; once the
// cycle has been paid out, or when the reference was used for a different
// target, the replay is rejected with models.ErrInvalidState.
func (a *Applier) Apply(ctx context.Context, ev gateway.Event) (*Result, error) {
	if err := ev.Validate(); err != nil {
		return nil, err
	}
	kind := models.KindContribution
	target := ev.ContributionID
	switch {
	case ev.PenaltyID != "":
		kind, target = models.KindPenalty, ev.PenaltyID
	case ev.PayoutID != "":
		return nil, fmt.Errorf("%w: payout callbacks are not payments", models.ErrInvalidInput)
	}

	if ev.Status == gateway.EventFailed {
		slog.Warn("Payment declined by gateway",
			"reference", ev.Reference, "kind", kind, "target_id", target, "reason", ev.Reason)
		a.metrics.PaymentApplied(string(kind), "declined")
		return &Result{Declined: true}, nil
	}

	res := &Result{}
	err := a.store.WithTx(ctx, func(tx storage.Tx) error {
		prior, err := tx.GetTransactionByReference(ctx, ev.Reference)
		switch {
		case err == nil:
			return a.replay(ctx, tx, prior, kind, target, res)
		case !errors.Is(err, models.ErrNotFound):
			return err
		}

		now := a.nowFn()
		if kind == models.KindPenalty {
			return a.applyPenalty(ctx, tx, ev, now, res)
		}
		return a.applyContribution(ctx, tx, ev, now, res)
	})
	if err != nil {
		a.reportFailure(string(kind), ev.Reference, target, err)
		return nil, err
	}

	if res.Duplicate {
		slog.Debug("Duplicate payment ignored", "reference", ev.Reference, "target_id", target)
		a.metrics.PaymentApplied(string(kind), "duplicate")
		return res, nil
	}

	slog.Info("Payment applied",
		"reference", ev.Reference,
		"kind", kind,
		"target_id", target,
		"amount", ev.Amount,
	)
	a.metrics.PaymentApplied(string(kind), "applied")

	if res.Payout != nil {
		a.dispatch(ctx, res)
	}
	return res, nil
}

func (a *Applier) replay(ctx context.Context, tx storage.Tx, prior *models.Transaction, kind models.TransactionKind, target string, res *Result) error {
	if prior.Kind != kind || prior.SourceID != target {
		return fmt.Errorf("%w: reference %s already applied to %s %s",
			models.ErrInvalidState, prior.Reference, prior.Kind, prior.SourceID)
	}
	res.Transaction = prior
	res.Duplicate = true
	if kind != models.KindContribution {
		return nil
	}

	c, err := tx.GetCycle(ctx, prior.CycleID)
	if err != nil {
		return err
	}
	if c.Status == models.CyclePaid || c.Status == models.CycleClosed {
		return fmt.Errorf("%w: reference %s belongs to cycle %d which is already %s",
			models.ErrInvalidState, prior.Reference, c.Sequence, c.Status)
	}
	res.Cycle = c
	return nil
}

func (a *Applier) applyContribution(ctx context.Context, tx storage.Tx, ev gateway.Event, now time.Time, res *Result) error {
	contribution, err := tx.GetContribution(ctx, ev.ContributionID)
	if err != nil {
		return err
	}
	if !contribution.Status.Payable() {
		return fmt.Errorf("%w: contribution %s is already %s", models.ErrInvalidState, contribution.ID, contribution.Status)
	}
	if ev.Amount != contribution.Amount {
		return fmt.Errorf("%w: contribution %s owes %d, payment is %d",
			models.ErrAmountMismatch, contribution.ID, contribution.Amount, ev.Amount)
	}

	c, err := tx.GetCycle(ctx, contribution.CycleID)
	if err != nil {
		return err
	}
	if !c.Status.Accepting() {
		return fmt.Errorf("%w: cycle %d is %s", models.ErrInvalidState, c.Sequence, c.Status)
	}

	if err := tx.MarkContributionPaid(ctx, contribution.ID, ev.Reference, now); err != nil {
		return err
	}
	txn := &models.Transaction{
		GroupID:   contribution.GroupID,
		CycleID:   contribution.CycleID,
		MemberID:  contribution.MemberID,
		Kind:      models.KindContribution,
		SourceID:  contribution.ID,
		Amount:    ev.Amount,
		Direction: models.DirectionIn,
		Status:    models.TransactionCompleted,
		Reference: ev.Reference,
		CreatedAt: now,
	}
	if err := tx.AppendTransaction(ctx, txn); err != nil {
		return err
	}
	res.Transaction = txn

	return a.evaluate(ctx, tx, contribution.CycleID, now, res)
}

// evaluate re-checks the cycle's funding and creates its payout in the same
// transaction when it becomes ready.
func (a *Applier) evaluate(ctx context.Context, tx storage.Tx, cycleID string, now time.Time, res *Result) error {
	c, ready, err := cycle.Evaluate(ctx, tx, cycleID, now)
	if err != nil {
		return err
	}
	res.Cycle = c
	if !ready {
		return nil
	}
	p, err := a.dispatcher.Prepare(ctx, tx, c)
	if err != nil {
		return err
	}
	res.Payout = p
	return nil
}

func (a *Applier) applyPenalty(ctx context.Context, tx storage.Tx, ev gateway.Event, now time.Time, res *Result) error {
	penalty, err := tx.GetPenalty(ctx, ev.PenaltyID)
	if err != nil {
		return err
	}
	if penalty.Status != models.PenaltyApplied {
		return fmt.Errorf("%w: penalty %s is already %s", models.ErrInvalidState, penalty.ID, penalty.Status)
	}
	if ev.Amount != penalty.Amount {
		return fmt.Errorf("%w: penalty %s is %d, payment is %d",
			models.ErrAmountMismatch, penalty.ID, penalty.Amount, ev.Amount)
	}

	if err := tx.MarkPenaltyPaid(ctx, penalty.ID, ev.Reference); err != nil {
		return err
	}
	contribution, err := tx.GetContribution(ctx, penalty.ContributionID)
	if err != nil {
		return err
	}
	txn := &models.Transaction{
		GroupID:   penalty.GroupID,
		CycleID:   contribution.CycleID,
		MemberID:  penalty.MemberID,
		Kind:      models.KindPenalty,
		SourceID:  penalty.ID,
		Amount:    ev.Amount,
		Direction: models.DirectionIn,
		Status:    models.TransactionCompleted,
		Reference: ev.Reference,
		CreatedAt: now,
	}
	if err := tx.AppendTransaction(ctx, txn); err != nil {
		return err
	}
	res.Transaction = txn
	return nil
}

// dispatch sends the payout created by this payment. A failed attempt stays
// scheduled on the payout and the sweep retries it, so the error is only logged.
func (a *Applier) dispatch(ctx context.Context, res *Result) {
	p, err := a.dispatcher.Dispatch(ctx, res.Payout.ID)
	if err != nil {
		slog.Warn("Payout dispatch after funding failed", "payout_id", res.Payout.ID, "error", err)
	}
	if p != nil {
		res.Payout = p
	}
}

func (a *Applier) reportFailure(kind, reference, target string, err error) {
	switch {
	case errors.Is(err, models.ErrAmountMismatch):
		slog.Warn("Payment rejected: amount mismatch", "reference", reference, "target_id", target, "error", err)
		a.metrics.PaymentApplied(kind, "amount_mismatch")
	case errors.Is(err, models.ErrInvalidState):
		slog.Warn("Payment conflict", "reference", reference, "target_id", target, "error", err)
		a.metrics.PaymentApplied(kind, "conflict")
	default:
		slog.Error("Failed to apply payment", "reference", reference, "target_id", target, "error", err)
		a.metrics.PaymentApplied(kind, "failed")
	}
}
