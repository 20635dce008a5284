package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mmynk/ajo/internal/cycle"
	"github.com/mmynk/ajo/internal/models"
	"github.com/mmynk/ajo/internal/storage"
)

// Deposit is a confirmed security deposit for a forming group.
type Deposit struct {
	MemberID  string
	Reference string
	Amount    int64
}

// RecordDeposit qualifies a pending member by their security deposit, exactly
// once per reference. When the deposit makes the group full and every member
// qualified, the group is activated and its first cycle generated in the same
// transaction.
func (a *Applier) RecordDeposit(ctx context.Context, d Deposit) (*Result, error) {
	if strings.TrimSpace(d.Reference) == "" || d.MemberID == "" {
		return nil, fmt.Errorf("%w: deposit requires member and reference", models.ErrInvalidInput)
	}

	res := &Result{}
	err := a.store.WithTx(ctx, func(tx storage.Tx) error {
		prior, err := tx.GetTransactionByReference(ctx, d.Reference)
		switch {
		case err == nil:
			return a.replay(ctx, tx, prior, models.KindDeposit, d.MemberID, res)
		case !errors.Is(err, models.ErrNotFound):
			return err
		}

		member, err := tx.GetMember(ctx, d.MemberID)
		if err != nil {
			return err
		}
		group, err := tx.GetGroup(ctx, member.GroupID)
		if err != nil {
			return err
		}
		if group.Status != models.GroupForming {
			return fmt.Errorf("%w: group %s is %s, deposits close at activation",
				models.ErrInvalidState, group.ID, group.Status)
		}
		if member.Status != models.MemberPending {
			return fmt.Errorf("%w: member %s is %s", models.ErrInvalidState, member.ID, member.Status)
		}
		if member.QualifiedAt != nil {
			return fmt.Errorf("%w: member %s has already paid a deposit", models.ErrInvalidState, member.ID)
		}
		if d.Amount != group.DepositAmount {
			return fmt.Errorf("%w: group %s deposit is %d, payment is %d",
				models.ErrAmountMismatch, group.ID, group.DepositAmount, d.Amount)
		}

		now := a.nowFn()
		if err := tx.MarkMemberQualified(ctx, member.ID, now); err != nil {
			return err
		}
		txn := &models.Transaction{
			GroupID:   group.ID,
			MemberID:  member.ID,
			Kind:      models.KindDeposit,
			SourceID:  member.ID,
			Amount:    d.Amount,
			Direction: models.DirectionIn,
			Status:    models.TransactionCompleted,
			Reference: d.Reference,
			CreatedAt: now,
		}
		if err := tx.AppendTransaction(ctx, txn); err != nil {
			return err
		}
		res.Transaction = txn

		ready, err := ReadyToActivate(ctx, tx, group)
		if err != nil || !ready {
			return err
		}
		c, err := cycle.Start(ctx, tx, group.ID, now)
		if err != nil {
			return err
		}
		res.Cycle = c
		res.Activated = true
		return nil
	})
	if err != nil {
		a.reportFailure(string(models.KindDeposit), d.Reference, d.MemberID, err)
		return nil, err
	}

	if res.Duplicate {
		a.metrics.PaymentApplied(string(models.KindDeposit), "duplicate")
		return res, nil
	}
	slog.Info("Deposit recorded", "reference", d.Reference, "member_id", d.MemberID, "amount", d.Amount)
	a.metrics.PaymentApplied(string(models.KindDeposit), "applied")
	return res, nil
}

// ReadyToActivate reports whether a forming group is full and every member
// has qualified.
func ReadyToActivate(ctx context.Context, tx storage.Tx, group *models.Group) (bool, error) {
	if group.Status != models.GroupForming {
		return false, nil
	}
	members, err := tx.ListMembers(ctx, group.ID)
	if err != nil {
		return false, err
	}
	count := 0
	for _, m := range members {
		if m.Status == models.MemberRemoved {
			continue
		}
		if m.QualifiedAt == nil {
			return false, nil
		}
		count++
	}
	return count == group.Capacity, nil
}
