package payment_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmynk/ajo/internal/gateway"
	"github.com/mmynk/ajo/internal/models"
	"github.com/mmynk/ajo/internal/payment"
	"github.com/mmynk/ajo/internal/payout"
	"github.com/mmynk/ajo/internal/storage"
	"github.com/mmynk/ajo/internal/storage/sqlite"
	"github.com/mmynk/ajo/internal/testutil"
)

type harness struct {
	store      *sqlite.SQLiteStore
	gw         *gateway.Fake
	clock      *testutil.Clock
	dispatcher *payout.Dispatcher
	applier    *payment.Applier
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store: testutil.NewStore(t),
		gw:    gateway.NewFake(),
		clock: testutil.NewClock(testutil.Epoch),
	}
	h.dispatcher = payout.NewDispatcher(h.store, h.gw, nil, payout.Config{
		MaxAttempts:     3,
		RetryBackoff:    time.Minute,
		CallbackTimeout: time.Hour,
	})
	h.dispatcher.SetClock(h.clock.Now)
	h.applier = payment.NewApplier(h.store, h.dispatcher, nil)
	h.applier.SetClock(h.clock.Now)
	return h
}

// startGroup forms a group of n members and activates it through deposits.
func (h *harness) startGroup(t *testing.T, n int) (*models.Group, []*models.Member, *models.Cycle) {
	t.Helper()
	ctx := context.Background()
	group := testutil.NewGroup(n)
	joined := testutil.SeedForming(t, h.store, group, n)

	var res *payment.Result
	for i, m := range joined {
		var err error
		res, err = h.applier.RecordDeposit(ctx, payment.Deposit{
			MemberID:  m.ID,
			Reference: "dep-" + m.DisplayName,
			Amount:    group.DepositAmount,
		})
		require.NoError(t, err)
		assert.Equal(t, i == n-1, res.Activated)
	}
	require.NotNil(t, res.Cycle)
	return group, testutil.Members(t, h.store, group.ID), res.Cycle
}

func (h *harness) pay(t *testing.T, cycleID string, m *models.Member, reference string) (*payment.Result, error) {
	t.Helper()
	c := testutil.ContributionOf(t, h.store, cycleID, m.ID)
	return h.applier.Apply(context.Background(), gateway.Event{
		Reference:      reference,
		ContributionID: c.ID,
		Amount:         c.Amount,
		Status:         gateway.EventSuccess,
	})
}

func (h *harness) transactions(t *testing.T, groupID string) []*models.Transaction {
	t.Helper()
	var txns []*models.Transaction
	testutil.Read(t, h.store, func(ctx context.Context, tx storage.Tx) error {
		var err error
		txns, err = tx.ListTransactions(ctx, groupID)
		return err
	})
	return txns
}

func countKind(txns []*models.Transaction, kind models.TransactionKind) int {
	n := 0
	for _, txn := range txns {
		if txn.Kind == kind {
			n++
		}
	}
	return n
}

func TestApplyIsIdempotent(t *testing.T) {
	h := newHarness(t)
	group, members, first := h.startGroup(t, 3)

	var results []*payment.Result
	for i := 0; i < 5; i++ {
		res, err := h.pay(t, first.ID, members[0], "p1")
		require.NoError(t, err)
		results = append(results, res)
	}

	assert.False(t, results[0].Duplicate)
	for _, res := range results[1:] {
		assert.True(t, res.Duplicate)
		assert.Equal(t, results[0].Transaction.ID, res.Transaction.ID)
	}

	c := testutil.ContributionOf(t, h.store, first.ID, members[0].ID)
	assert.Equal(t, models.ContributionPaid, c.Status)
	assert.Equal(t, "p1", c.PaymentReference)
	require.NotNil(t, c.PaidAt)

	assert.Equal(t, 1, countKind(h.transactions(t, group.ID), models.KindContribution))
}

func TestConcurrentDeliveries(t *testing.T) {
	ctx := context.Background()
	const deliveries = 20

	t.Run("one reference applies once", func(t *testing.T) {
		h := newHarness(t)
		group, members, first := h.startGroup(t, 3)
		c := testutil.ContributionOf(t, h.store, first.ID, members[0].ID)
		ev := gateway.Event{Reference: "p1", ContributionID: c.ID, Amount: c.Amount, Status: gateway.EventSuccess}

		results := make([]*payment.Result, deliveries)
		errs := make([]error, deliveries)
		var wg sync.WaitGroup
		for i := range deliveries {
			wg.Add(1)
			go func() {
				defer wg.Done()
				results[i], errs[i] = h.applier.Apply(ctx, ev)
			}()
		}
		wg.Wait()

		fresh := 0
		for i := range deliveries {
			require.NoError(t, errs[i])
			if !results[i].Duplicate {
				fresh++
			}
		}
		assert.Equal(t, 1, fresh)
		assert.Equal(t, models.ContributionPaid, testutil.ContributionOf(t, h.store, first.ID, members[0].ID).Status)
		assert.Equal(t, 1, countKind(h.transactions(t, group.ID), models.KindContribution))
	})

	t.Run("racing payments fund the cycle once", func(t *testing.T) {
		h := newHarness(t)
		group, members, first := h.startGroup(t, 3)

		var events []gateway.Event
		for i, m := range members {
			c := testutil.ContributionOf(t, h.store, first.ID, m.ID)
			ev := gateway.Event{Reference: fmt.Sprintf("p%d", i+1), ContributionID: c.ID, Amount: c.Amount, Status: gateway.EventSuccess}
			for range deliveries / len(members) {
				events = append(events, ev)
			}
		}

		errs := make([]error, len(events))
		var wg sync.WaitGroup
		for i, ev := range events {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, errs[i] = h.applier.Apply(ctx, ev)
			}()
		}
		wg.Wait()
		for _, err := range errs {
			require.NoError(t, err)
		}

		var payouts []*models.Payout
		testutil.Read(t, h.store, func(ctx context.Context, tx storage.Tx) error {
			var err error
			payouts, err = tx.ListPayouts(ctx, group.ID)
			return err
		})
		require.Len(t, payouts, 1)
		assert.Equal(t, int64(300), payouts[0].Gross)
		assert.Len(t, h.gw.Requests(), 1)
		assert.Equal(t, 3, countKind(h.transactions(t, group.ID), models.KindContribution))
	})
}

func TestApplyRejects(t *testing.T) {
	ctx := context.Background()

	t.Run("amount mismatch leaves the contribution unchanged", func(t *testing.T) {
		h := newHarness(t)
		group, members, first := h.startGroup(t, 2)
		c := testutil.ContributionOf(t, h.store, first.ID, members[0].ID)

		_, err := h.applier.Apply(ctx, gateway.Event{
			Reference: "p-partial", ContributionID: c.ID, Amount: 60, Status: gateway.EventSuccess,
		})
		require.ErrorIs(t, err, models.ErrAmountMismatch)

		c = testutil.ContributionOf(t, h.store, first.ID, members[0].ID)
		assert.Equal(t, models.ContributionPending, c.Status)
		assert.Empty(t, c.PaymentReference)
		assert.Zero(t, countKind(h.transactions(t, group.ID), models.KindContribution))
	})

	t.Run("contribution already paid under another reference", func(t *testing.T) {
		h := newHarness(t)
		_, members, first := h.startGroup(t, 3)

		_, err := h.pay(t, first.ID, members[0], "p1")
		require.NoError(t, err)
		_, err = h.pay(t, first.ID, members[0], "p1-again")
		assert.ErrorIs(t, err, models.ErrInvalidState)
	})

	t.Run("reference reused for another contribution", func(t *testing.T) {
		h := newHarness(t)
		_, members, first := h.startGroup(t, 3)

		_, err := h.pay(t, first.ID, members[0], "p1")
		require.NoError(t, err)
		_, err = h.pay(t, first.ID, members[1], "p1")
		assert.ErrorIs(t, err, models.ErrInvalidState)

		c := testutil.ContributionOf(t, h.store, first.ID, members[1].ID)
		assert.Equal(t, models.ContributionPending, c.Status)
	})

	t.Run("declined payment changes nothing", func(t *testing.T) {
		h := newHarness(t)
		group, members, first := h.startGroup(t, 2)
		c := testutil.ContributionOf(t, h.store, first.ID, members[0].ID)

		res, err := h.applier.Apply(ctx, gateway.Event{
			Reference: "p-declined", ContributionID: c.ID, Amount: c.Amount, Status: gateway.EventFailed, Reason: "card declined",
		})
		require.NoError(t, err)
		assert.True(t, res.Declined)
		assert.Zero(t, countKind(h.transactions(t, group.ID), models.KindContribution))
	})

	t.Run("malformed events", func(t *testing.T) {
		h := newHarness(t)
		for _, ev := range []gateway.Event{
			{ContributionID: "c1", Amount: 100, Status: gateway.EventSuccess},
			{Reference: "r", Amount: 100, Status: gateway.EventSuccess},
			{Reference: "r", ContributionID: "c1", PenaltyID: "p1", Amount: 100, Status: gateway.EventSuccess},
			{Reference: "r", ContributionID: "c1", Amount: 100, Status: "pending"},
			{Reference: "r", PayoutID: "po1", Amount: 100, Status: gateway.EventSuccess},
		} {
			_, err := h.applier.Apply(ctx, ev)
			assert.ErrorIs(t, err, models.ErrInvalidInput, "%+v", ev)
		}
	})
}

func TestFundingCreatesOnePayout(t *testing.T) {
	h := newHarness(t)
	group, members, first := h.startGroup(t, 3)

	for i, m := range members[:2] {
		res, err := h.pay(t, first.ID, m, fmt.Sprintf("p%d", i+1))
		require.NoError(t, err)
		assert.Nil(t, res.Payout)
		assert.Equal(t, models.CycleCollecting, res.Cycle.Status)
	}

	res, err := h.pay(t, first.ID, members[2], "p3")
	require.NoError(t, err)
	require.NotNil(t, res.Payout)
	assert.Equal(t, models.CycleReady, res.Cycle.Status)

	p := res.Payout
	assert.Equal(t, members[0].ID, p.MemberID)
	assert.Equal(t, int64(300), p.Gross)
	assert.Equal(t, int64(3), p.Fee)
	assert.Equal(t, int64(297), p.Amount)
	assert.Equal(t, models.PayoutProcessing, p.Status)
	assert.Equal(t, 1, p.Attempts)

	requests := h.gw.Requests()
	require.Len(t, requests, 1)
	assert.Equal(t, "acct-A", requests[0].Destination)
	assert.Equal(t, int64(297), requests[0].Amount)
	assert.Equal(t, fmt.Sprintf("payout:%s:1", p.ID), requests[0].IdempotencyKey)

	// Replays while the cycle awaits its payout are harmless.
	for _, ref := range []string{"p1", "p2", "p3"} {
		res, err := h.pay(t, first.ID, members[0], ref)
		if ref != "p1" {
			assert.ErrorIs(t, err, models.ErrInvalidState, "reference %s belongs to another member", ref)
			continue
		}
		require.NoError(t, err)
		assert.True(t, res.Duplicate)
		assert.Nil(t, res.Payout)
	}

	var payouts []*models.Payout
	testutil.Read(t, h.store, func(ctx context.Context, tx storage.Tx) error {
		var err error
		payouts, err = tx.ListPayouts(ctx, group.ID)
		return err
	})
	assert.Len(t, payouts, 1)
	assert.Len(t, h.gw.Requests(), 1)
}

func TestDispatchFailureKeepsPayoutScheduled(t *testing.T) {
	h := newHarness(t)
	_, members, first := h.startGroup(t, 2)
	h.gw.FailNext(fmt.Errorf("%w: connection reset", gateway.ErrUnavailable))

	_, err := h.pay(t, first.ID, members[0], "p1")
	require.NoError(t, err)
	res, err := h.pay(t, first.ID, members[1], "p2")
	require.NoError(t, err, "a failed transfer attempt does not fail the payment")

	require.NotNil(t, res.Payout)
	assert.Equal(t, models.PayoutPending, res.Payout.Status)
	assert.Equal(t, 1, res.Payout.Attempts)
	require.NotNil(t, res.Payout.NextAttemptAt)
	assert.True(t, res.Payout.NextAttemptAt.Equal(h.clock.Now().Add(time.Minute)))
	assert.Contains(t, res.Payout.FailureReason, "connection reset")
}

func TestPenaltyPayment(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	group, members, first := h.startGroup(t, 2)
	c := testutil.ContributionOf(t, h.store, first.ID, members[0].ID)

	penalty := &models.Penalty{
		ContributionID: c.ID,
		GroupID:        group.ID,
		MemberID:       members[0].ID,
		Type:           models.PenaltyFlat,
		Amount:         10,
	}
	testutil.Read(t, h.store, func(ctx context.Context, tx storage.Tx) error {
		_, err := tx.InsertPenalty(ctx, penalty)
		return err
	})

	ev := gateway.Event{Reference: "pen-1", PenaltyID: penalty.ID, Amount: 10, Status: gateway.EventSuccess}
	_, err := h.applier.Apply(ctx, gateway.Event{Reference: "pen-short", PenaltyID: penalty.ID, Amount: 5, Status: gateway.EventSuccess})
	require.ErrorIs(t, err, models.ErrAmountMismatch)

	res, err := h.applier.Apply(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, models.KindPenalty, res.Transaction.Kind)
	assert.Equal(t, first.ID, res.Transaction.CycleID)

	res, err = h.applier.Apply(ctx, ev)
	require.NoError(t, err)
	assert.True(t, res.Duplicate)

	testutil.Read(t, h.store, func(ctx context.Context, tx storage.Tx) error {
		got, err := tx.GetPenalty(ctx, penalty.ID)
		require.NoError(t, err)
		assert.Equal(t, models.PenaltyPaid, got.Status)
		assert.Equal(t, "pen-1", got.PaymentReference)
		return nil
	})

	_, err = h.applier.WaivePenalty(ctx, penalty.ID)
	assert.ErrorIs(t, err, models.ErrInvalidState, "a paid penalty cannot be waived")
	assert.Equal(t, 1, countKind(h.transactions(t, group.ID), models.KindPenalty))

	contribution := testutil.ContributionOf(t, h.store, first.ID, members[0].ID)
	assert.Equal(t, models.ContributionPending, contribution.Status, "penalties never change the owed contribution")
}

func TestWaivers(t *testing.T) {
	ctx := context.Background()

	t.Run("waiving the last unpaid contribution funds the cycle", func(t *testing.T) {
		h := newHarness(t)
		_, members, first := h.startGroup(t, 3)
		for i, m := range members[:2] {
			_, err := h.pay(t, first.ID, m, fmt.Sprintf("p%d", i+1))
			require.NoError(t, err)
		}

		c := testutil.ContributionOf(t, h.store, first.ID, members[2].ID)
		res, err := h.applier.WaiveContribution(ctx, c.ID)
		require.NoError(t, err)
		require.NotNil(t, res.Payout)
		assert.Equal(t, int64(200), res.Payout.Gross)

		_, err = h.applier.WaiveContribution(ctx, c.ID)
		assert.ErrorIs(t, err, models.ErrInvalidState)

		_, err = h.pay(t, first.ID, members[2], "p3")
		assert.ErrorIs(t, err, models.ErrInvalidState)
	})

	t.Run("the last payable contribution cannot be waived", func(t *testing.T) {
		h := newHarness(t)
		_, members, first := h.startGroup(t, 2)

		c := testutil.ContributionOf(t, h.store, first.ID, members[0].ID)
		res, err := h.applier.WaiveContribution(ctx, c.ID)
		require.NoError(t, err)
		assert.Nil(t, res.Payout)

		last := testutil.ContributionOf(t, h.store, first.ID, members[1].ID)
		_, err = h.applier.WaiveContribution(ctx, last.ID)
		require.ErrorIs(t, err, models.ErrInvalidState)
		last = testutil.ContributionOf(t, h.store, first.ID, members[1].ID)
		assert.Equal(t, models.ContributionPending, last.Status)

		paid, err := h.pay(t, first.ID, members[1], "p2")
		require.NoError(t, err)
		require.NotNil(t, paid.Payout, "the remaining payment funds the cycle")
		assert.Equal(t, int64(100), paid.Payout.Gross)
	})

	t.Run("penalty waiver", func(t *testing.T) {
		h := newHarness(t)
		group, members, first := h.startGroup(t, 2)
		c := testutil.ContributionOf(t, h.store, first.ID, members[0].ID)
		penalty := &models.Penalty{ContributionID: c.ID, GroupID: group.ID, MemberID: members[0].ID, Type: models.PenaltyFlat, Amount: 10}
		testutil.Read(t, h.store, func(ctx context.Context, tx storage.Tx) error {
			_, err := tx.InsertPenalty(ctx, penalty)
			return err
		})

		got, err := h.applier.WaivePenalty(ctx, penalty.ID)
		require.NoError(t, err)
		assert.Equal(t, models.PenaltyWaived, got.Status)

		_, err = h.applier.WaivePenalty(ctx, penalty.ID)
		assert.ErrorIs(t, err, models.ErrInvalidState)

		_, err = h.applier.Apply(ctx, gateway.Event{Reference: "pen-1", PenaltyID: penalty.ID, Amount: 10, Status: gateway.EventSuccess})
		assert.ErrorIs(t, err, models.ErrInvalidState)
	})
}
