package cycle_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmynk/ajo/internal/cycle"
	"github.com/mmynk/ajo/internal/models"
	"github.com/mmynk/ajo/internal/storage"
	"github.com/mmynk/ajo/internal/testutil"
)

const week = 7 * 24 * time.Hour

// startGroup seeds a group of n qualified members and starts it at Epoch.
func startGroup(t *testing.T, store storage.Store, group *models.Group, n int) (*models.Cycle, []*models.Member) {
	t.Helper()
	members := testutil.SeedForming(t, store, group, n)
	testutil.Qualify(t, store, members...)

	var first *models.Cycle
	testutil.Read(t, store, func(ctx context.Context, tx storage.Tx) error {
		var err error
		first, err = cycle.Start(ctx, tx, group.ID, testutil.Epoch)
		return err
	})
	return first, testutil.Members(t, store, group.ID)
}

// closeCycle walks a cycle through every state to closed.
func closeCycle(ctx context.Context, tx storage.Tx, c *models.Cycle, at time.Time) error {
	steps := []models.CycleStatus{models.CycleOpen, models.CycleCollecting, models.CycleReady, models.CyclePaid, models.CycleClosed}
	for i := 0; i+1 < len(steps); i++ {
		if err := tx.SetCycleStatus(ctx, c.ID, steps[i], steps[i+1], at); err != nil {
			return err
		}
	}
	return nil
}

func TestFunded(t *testing.T) {
	contrib := func(statuses ...models.ContributionStatus) []*models.Contribution {
		out := make([]*models.Contribution, len(statuses))
		for i, s := range statuses {
			out[i] = &models.Contribution{Amount: 100, Status: s}
		}
		return out
	}

	tests := []struct {
		name   string
		in     []*models.Contribution
		funded bool
		gross  int64
	}{
		{"all paid", contrib(models.ContributionPaid, models.ContributionPaid), true, 200},
		{"one pending", contrib(models.ContributionPaid, models.ContributionPending), false, 100},
		{"overdue blocks", contrib(models.ContributionPaid, models.ContributionOverdue), false, 100},
		{"waived is excluded", contrib(models.ContributionPaid, models.ContributionWaived), true, 100},
		{"all waived is never funded", contrib(models.ContributionWaived, models.ContributionWaived), false, 0},
		{"empty", nil, false, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.funded, cycle.Funded(tt.in))
			assert.Equal(t, tt.gross, cycle.Gross(tt.in))
		})
	}
}

func TestNext(t *testing.T) {
	ctx := context.Background()

	t.Run("first cycle is due one cadence after activation", func(t *testing.T) {
		store := testutil.NewStore(t)
		group := testutil.NewGroup(3)
		first, members := startGroup(t, store, group, 3)

		assert.Equal(t, 1, first.Sequence)
		assert.Equal(t, models.CycleOpen, first.Status)
		assert.True(t, first.DueDate.Equal(testutil.Epoch.Add(week)), "due %s", first.DueDate)
		assert.Equal(t, members[0].ID, first.Recipient(members).ID)

		contributions := testutil.Contributions(t, store, first.ID)
		require.Len(t, contributions, 3)
		for _, c := range contributions {
			assert.Equal(t, models.ContributionPending, c.Status)
			assert.Equal(t, int64(100), c.Amount)
			assert.True(t, c.DueDate.Equal(first.DueDate))
		}
	})

	t.Run("is a no-op while a cycle is open", func(t *testing.T) {
		store := testutil.NewStore(t)
		first, _ := startGroup(t, store, testutil.NewGroup(2), 2)

		testutil.Read(t, store, func(ctx context.Context, tx storage.Tx) error {
			for i := 0; i < 3; i++ {
				again, created, err := cycle.Next(ctx, tx, first.GroupID, testutil.Epoch.Add(time.Hour))
				require.NoError(t, err)
				assert.False(t, created)
				assert.Equal(t, first.ID, again.ID)
			}
			return nil
		})
		assert.Len(t, testutil.Contributions(t, store, first.ID), 2)
	})

	t.Run("later cycles follow the previous due date", func(t *testing.T) {
		store := testutil.NewStore(t)
		group := testutil.NewGroup(2)
		group.Cadence = models.CadenceMonthly
		first, members := startGroup(t, store, group, 2)

		testutil.Read(t, store, func(ctx context.Context, tx storage.Tx) error {
			require.NoError(t, closeCycle(ctx, tx, first, first.DueDate))
			second, created, err := cycle.Next(ctx, tx, group.ID, first.DueDate)
			require.NoError(t, err)
			assert.True(t, created)
			assert.Equal(t, 2, second.Sequence)
			assert.True(t, second.DueDate.Equal(first.DueDate.AddDate(0, 1, 0)))
			assert.Equal(t, members[1].ID, second.Recipient(members).ID)
			return nil
		})
	})

	t.Run("requires an active group", func(t *testing.T) {
		store := testutil.NewStore(t)
		group := testutil.NewGroup(2)
		testutil.SeedForming(t, store, group, 2)

		err := store.WithTx(ctx, func(tx storage.Tx) error {
			_, _, err := cycle.Next(ctx, tx, group.ID, testutil.Epoch)
			return err
		})
		assert.ErrorIs(t, err, models.ErrInvalidState)
	})
}

func TestAdvanceCompletesGroup(t *testing.T) {
	store := testutil.NewStore(t)
	group := testutil.NewGroup(2)
	first, _ := startGroup(t, store, group, 2)

	testutil.Read(t, store, func(ctx context.Context, tx storage.Tx) error {
		require.NoError(t, closeCycle(ctx, tx, first, first.DueDate))
		second, completed, err := cycle.Advance(ctx, tx, group.ID, first.DueDate)
		require.NoError(t, err)
		require.False(t, completed)
		require.Equal(t, 2, second.Sequence)

		require.NoError(t, closeCycle(ctx, tx, second, second.DueDate))
		_, _, err = cycle.Next(ctx, tx, group.ID, second.DueDate)
		require.ErrorIs(t, err, models.ErrSequenceExhausted)

		_, completed, err = cycle.Advance(ctx, tx, group.ID, second.DueDate)
		require.NoError(t, err)
		assert.True(t, completed)

		g, err := tx.GetGroup(ctx, group.ID)
		require.NoError(t, err)
		assert.Equal(t, models.GroupCompleted, g.Status)
		require.NotNil(t, g.CompletedAt)
		return nil
	})
}

func TestEvaluate(t *testing.T) {
	t.Run("open, collecting, then ready", func(t *testing.T) {
		store := testutil.NewStore(t)
		first, members := startGroup(t, store, testutil.NewGroup(2), 2)
		now := testutil.Epoch.Add(time.Hour)

		testutil.Read(t, store, func(ctx context.Context, tx storage.Tx) error {
			c, ready, err := cycle.Evaluate(ctx, tx, first.ID, now)
			require.NoError(t, err)
			assert.False(t, ready)
			assert.Equal(t, models.CycleOpen, c.Status)

			contributions, err := tx.ListContributions(ctx, first.ID)
			require.NoError(t, err)
			byMember := map[string]*models.Contribution{}
			for _, c := range contributions {
				byMember[c.MemberID] = c
			}

			require.NoError(t, tx.MarkContributionPaid(ctx, byMember[members[0].ID].ID, "p1", now))
			c, ready, err = cycle.Evaluate(ctx, tx, first.ID, now)
			require.NoError(t, err)
			assert.False(t, ready)
			assert.Equal(t, models.CycleCollecting, c.Status)

			require.NoError(t, tx.MarkContributionPaid(ctx, byMember[members[1].ID].ID, "p2", now))
			c, ready, err = cycle.Evaluate(ctx, tx, first.ID, now)
			require.NoError(t, err)
			assert.True(t, ready)
			assert.Equal(t, models.CycleReady, c.Status)

			c, ready, err = cycle.Evaluate(ctx, tx, first.ID, now)
			require.NoError(t, err)
			assert.False(t, ready, "a ready cycle becomes ready only once")
			assert.Equal(t, models.CycleReady, c.Status)
			return nil
		})
	})

	t.Run("waived contributions do not block funding", func(t *testing.T) {
		store := testutil.NewStore(t)
		first, members := startGroup(t, store, testutil.NewGroup(3), 3)
		now := testutil.Epoch.Add(time.Hour)

		testutil.Read(t, store, func(ctx context.Context, tx storage.Tx) error {
			contributions, err := tx.ListContributions(ctx, first.ID)
			require.NoError(t, err)
			for _, c := range contributions {
				if c.MemberID == members[2].ID {
					require.NoError(t, tx.SetContributionStatus(ctx, c.ID, models.ContributionPending, models.ContributionWaived))
					continue
				}
				require.NoError(t, tx.MarkContributionPaid(ctx, c.ID, "ref-"+c.ID, now))
			}

			_, ready, err := cycle.Evaluate(ctx, tx, first.ID, now)
			require.NoError(t, err)
			assert.True(t, ready)
			return nil
		})
	})
}
