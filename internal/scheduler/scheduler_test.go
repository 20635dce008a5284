package scheduler_test

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmynk/ajo/internal/cycle"
	"github.com/mmynk/ajo/internal/gateway"
	"github.com/mmynk/ajo/internal/metrics"
	"github.com/mmynk/ajo/internal/models"
	"github.com/mmynk/ajo/internal/payment"
	"github.com/mmynk/ajo/internal/payout"
	"github.com/mmynk/ajo/internal/penalty"
	"github.com/mmynk/ajo/internal/scheduler"
	"github.com/mmynk/ajo/internal/storage"
	"github.com/mmynk/ajo/internal/storage/sqlite"
	"github.com/mmynk/ajo/internal/testutil"
)

type harness struct {
	store     *sqlite.SQLiteStore
	group     *models.Group
	members   []*models.Member
	first     *models.Cycle
	clock     *testutil.Clock
	gw        *gateway.Fake
	applier   *payment.Applier
	scheduler *scheduler.Scheduler
}

func setup(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store: testutil.NewStore(t),
		group: testutil.NewGroup(2),
		clock: testutil.NewClock(testutil.Epoch),
		gw:    gateway.NewFake(),
	}
	members := testutil.SeedForming(t, h.store, h.group, 2)
	testutil.Qualify(t, h.store, members...)
	testutil.Read(t, h.store, func(ctx context.Context, tx storage.Tx) error {
		var err error
		h.first, err = cycle.Start(ctx, tx, h.group.ID, testutil.Epoch)
		return err
	})
	h.members = testutil.Members(t, h.store, h.group.ID)

	m := metrics.New(prometheus.NewRegistry())
	dispatcher := payout.NewDispatcher(h.store, h.gw, m, payout.Config{
		MaxAttempts:  3,
		RetryBackoff: time.Minute,
	})
	dispatcher.SetClock(h.clock.Now)
	h.applier = payment.NewApplier(h.store, dispatcher, m)
	h.applier.SetClock(h.clock.Now)
	engine := penalty.NewEngine(h.store, m)
	engine.SetClock(h.clock.Now)

	h.scheduler = scheduler.New(h.store, engine, dispatcher, m, time.Hour)
	h.scheduler.SetClock(h.clock.Now)
	return h
}

// closeCycle walks a cycle to closed without a payout, as a cancelled
// disbursement or a manual repair would leave it.
func (h *harness) closeCycle(t *testing.T, cycleID string) {
	t.Helper()
	testutil.Read(t, h.store, func(ctx context.Context, tx storage.Tx) error {
		steps := []models.CycleStatus{models.CycleOpen, models.CycleCollecting, models.CycleReady, models.CyclePaid, models.CycleClosed}
		for i := 1; i < len(steps); i++ {
			if err := tx.SetCycleStatus(ctx, cycleID, steps[i-1], steps[i], h.clock.Now()); err != nil {
				return err
			}
		}
		return nil
	})
}

func (h *harness) cycles(t *testing.T) []*models.Cycle {
	t.Helper()
	var out []*models.Cycle
	testutil.Read(t, h.store, func(ctx context.Context, tx storage.Tx) error {
		var err error
		out, err = tx.ListCycles(ctx, h.group.ID)
		return err
	})
	return out
}

func TestRunOnceIdle(t *testing.T) {
	h := setup(t)

	report, err := h.scheduler.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, scheduler.Report{}, report)
	assert.Len(t, h.cycles(t), 1)
}

func TestRunOnceAdvancesCycles(t *testing.T) {
	h := setup(t)
	ctx := context.Background()

	h.closeCycle(t, h.first.ID)
	report, err := h.scheduler.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.CyclesCreated)

	cycles := h.cycles(t)
	require.Len(t, cycles, 2)
	second := cycles[1]
	assert.Equal(t, 2, second.Sequence)
	assert.Equal(t, h.first.DueDate.AddDate(0, 0, 7), second.DueDate)
	assert.Equal(t, h.members[1].ID, second.Recipient(h.members).ID)

	report, err = h.scheduler.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.CyclesCreated, "open cycle is left alone")

	h.closeCycle(t, second.ID)
	report, err = h.scheduler.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.GroupsCompleted)

	testutil.Read(t, h.store, func(ctx context.Context, tx storage.Tx) error {
		g, err := tx.GetGroup(ctx, h.group.ID)
		require.NoError(t, err)
		assert.Equal(t, models.GroupCompleted, g.Status)
		return nil
	})
	assert.Len(t, h.cycles(t), 2)
}

func TestRunOnceSkipsPausedGroups(t *testing.T) {
	h := setup(t)
	h.closeCycle(t, h.first.ID)
	testutil.Read(t, h.store, func(ctx context.Context, tx storage.Tx) error {
		return tx.SetGroupStatus(ctx, h.group.ID, models.GroupActive, models.GroupPaused, h.clock.Now())
	})

	h.clock.Set(h.first.DueDate.Add(72 * time.Hour))
	report, err := h.scheduler.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.CyclesCreated)
	assert.Zero(t, report.Penalties.Applied)
	assert.Len(t, h.cycles(t), 1)
}

func TestRunOnceAppliesPenalties(t *testing.T) {
	h := setup(t)
	ctx := context.Background()

	h.clock.Set(h.first.DueDate.Add(48 * time.Hour))
	report, err := h.scheduler.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, penalty.Summary{Evaluated: 2, Applied: 2}, report.Penalties)

	report, err = h.scheduler.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Penalties.Applied, "one penalty per window")
}

func TestRunOnceRetriesPayouts(t *testing.T) {
	h := setup(t)
	ctx := context.Background()

	h.gw.FailNext(gateway.ErrUnavailable)
	h.clock.Set(testutil.Epoch.Add(time.Hour))
	for i, m := range h.members {
		c := testutil.ContributionOf(t, h.store, h.first.ID, m.ID)
		_, err := h.applier.Apply(ctx, gateway.Event{
			Reference:      []string{"p-A", "p-B"}[i],
			ContributionID: c.ID,
			Amount:         c.Amount,
			Status:         gateway.EventSuccess,
		})
		require.NoError(t, err)
	}

	var p *models.Payout
	testutil.Read(t, h.store, func(ctx context.Context, tx storage.Tx) error {
		var err error
		p, err = tx.GetPayoutByCycle(ctx, h.first.ID)
		return err
	})
	require.Equal(t, models.PayoutPending, p.Status)
	require.NotNil(t, p.NextAttemptAt)

	report, err := h.scheduler.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Payouts.Dispatched, "retry not yet due")

	h.clock.Advance(2 * time.Minute)
	report, err = h.scheduler.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Payouts.Dispatched)
	assert.Zero(t, report.CyclesCreated, "ready cycle is not replaced")

	testutil.Read(t, h.store, func(ctx context.Context, tx storage.Tx) error {
		var err error
		p, err = tx.GetPayout(ctx, p.ID)
		return err
	})
	assert.Equal(t, models.PayoutProcessing, p.Status)
	assert.Equal(t, 2, p.Attempts)
	assert.Equal(t, 1, h.gw.Transfers())
}

func TestRun(t *testing.T) {
	t.Run("rejects a non-positive interval", func(t *testing.T) {
		h := setup(t)
		s := scheduler.New(h.store, penalty.NewEngine(h.store, nil), nil, nil, 0)
		assert.ErrorIs(t, s.Run(context.Background()), models.ErrInvalidInput)
	})

	t.Run("runs until cancelled", func(t *testing.T) {
		h := setup(t)
		h.closeCycle(t, h.first.ID)
		s := h.scheduler

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- s.Run(ctx) }()

		assert.Eventually(t, func() bool {
			var cycles []*models.Cycle
			err := h.store.WithTx(ctx, func(tx storage.Tx) error {
				var err error
				cycles, err = tx.ListCycles(ctx, h.group.ID)
				return err
			})
			return err == nil && len(cycles) == 2
		}, 2*time.Second, 10*time.Millisecond)

		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Fatal("scheduler did not stop")
		}
	})
}
