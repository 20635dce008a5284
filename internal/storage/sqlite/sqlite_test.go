package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmynk/ajo/internal/models"
	"github.com/mmynk/ajo/internal/storage"
)

var epoch = time.Date(2026, time.January, 5, 9, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func testGroup() *models.Group {
	return &models.Group{
		Name:               "Test Ajo",
		ContributionAmount: 100,
		Cadence:            models.CadenceWeekly,
		Capacity:           2,
		DepositAmount:      50,
		PlatformFeeBps:     250,
		Penalty: models.PenaltyPolicy{
			Type:        models.PenaltyPercentage,
			Value:       500,
			GracePeriod: 36 * time.Hour,
			Window:      24 * time.Hour,
		},
		CreatedBy: "user-1",
		CreatedAt: epoch,
	}
}

// seed creates a group with two members, positions 1 and 2, and one open
// cycle with a pending contribution per member.
func seed(t *testing.T, store *SQLiteStore) (*models.Group, []*models.Member, *models.Cycle, []*models.Contribution) {
	t.Helper()
	ctx := context.Background()
	group := testGroup()
	var members []*models.Member
	var cycle *models.Cycle
	var contributions []*models.Contribution

	err := store.WithTx(ctx, func(tx storage.Tx) error {
		if err := tx.CreateGroup(ctx, group); err != nil {
			return err
		}
		for i, name := range []string{"alice", "bob"} {
			m := &models.Member{GroupID: group.ID, UserID: name, DisplayName: name, JoinedAt: epoch}
			if err := tx.AddMember(ctx, m); err != nil {
				return err
			}
			m.Position = i + 1
			members = append(members, m)
		}
		if err := tx.AssignPositions(ctx, group.ID, map[string]int{members[0].ID: 1, members[1].ID: 2}); err != nil {
			return err
		}
		if err := tx.SetGroupStatus(ctx, group.ID, models.GroupForming, models.GroupActive, epoch); err != nil {
			return err
		}
		cycle = &models.Cycle{GroupID: group.ID, Sequence: 1, DueDate: epoch.Add(7 * 24 * time.Hour), CreatedAt: epoch}
		if err := tx.CreateCycle(ctx, cycle); err != nil {
			return err
		}
		for _, m := range members {
			c := &models.Contribution{
				CycleID:  cycle.ID,
				GroupID:  group.ID,
				MemberID: m.ID,
				Amount:   100,
				Status:   models.ContributionPending,
				DueDate:  cycle.DueDate,
			}
			if err := tx.CreateContribution(ctx, c); err != nil {
				return err
			}
			contributions = append(contributions, c)
		}
		return nil
	})
	require.NoError(t, err)
	return group, members, cycle, contributions
}

func TestSQLiteStore(t *testing.T) {
	ctx := context.Background()

	t.Run("CreateGroup round-trips policy", func(t *testing.T) {
		store := newTestStore(t)
		group := testGroup()

		require.NoError(t, store.WithTx(ctx, func(tx storage.Tx) error {
			return tx.CreateGroup(ctx, group)
		}))
		assert.NotEmpty(t, group.ID)
		assert.Equal(t, models.GroupForming, group.Status)

		var got *models.Group
		require.NoError(t, store.WithTx(ctx, func(tx storage.Tx) error {
			var err error
			got, err = tx.GetGroup(ctx, group.ID)
			return err
		}))
		assert.Equal(t, group.Name, got.Name)
		assert.Equal(t, int64(250), got.PlatformFeeBps)
		assert.Equal(t, group.Penalty, got.Penalty)
		assert.True(t, got.CreatedAt.Equal(epoch))
		assert.Nil(t, got.ActivatedAt)
	})

	t.Run("GetGroup returns ErrNotFound", func(t *testing.T) {
		store := newTestStore(t)
		err := store.WithTx(ctx, func(tx storage.Tx) error {
			_, err := tx.GetGroup(ctx, "missing")
			return err
		})
		assert.ErrorIs(t, err, models.ErrNotFound)
	})

	t.Run("WithTx rolls back on error", func(t *testing.T) {
		store := newTestStore(t)
		group := testGroup()
		boom := errors.New("boom")

		err := store.WithTx(ctx, func(tx storage.Tx) error {
			if err := tx.CreateGroup(ctx, group); err != nil {
				return err
			}
			return boom
		})
		require.ErrorIs(t, err, boom)

		err = store.WithTx(ctx, func(tx storage.Tx) error {
			_, err := tx.GetGroup(ctx, group.ID)
			return err
		})
		assert.ErrorIs(t, err, models.ErrNotFound)
	})

	t.Run("a user joins a group once", func(t *testing.T) {
		store := newTestStore(t)
		group, members, _, _ := seed(t, store)

		err := store.WithTx(ctx, func(tx storage.Tx) error {
			return tx.AddMember(ctx, &models.Member{GroupID: group.ID, UserID: members[0].UserID})
		})
		assert.ErrorIs(t, err, models.ErrDuplicateOperation)
	})

	t.Run("duplicate positions are rejected atomically", func(t *testing.T) {
		store := newTestStore(t)
		group := testGroup()
		var ids []string
		require.NoError(t, store.WithTx(ctx, func(tx storage.Tx) error {
			if err := tx.CreateGroup(ctx, group); err != nil {
				return err
			}
			for _, name := range []string{"a", "b"} {
				m := &models.Member{GroupID: group.ID, UserID: name}
				if err := tx.AddMember(ctx, m); err != nil {
					return err
				}
				ids = append(ids, m.ID)
			}
			return nil
		}))

		err := store.WithTx(ctx, func(tx storage.Tx) error {
			return tx.AssignPositions(ctx, group.ID, map[string]int{ids[0]: 1, ids[1]: 1})
		})
		require.ErrorIs(t, err, models.ErrInvariantViolation)

		require.NoError(t, store.WithTx(ctx, func(tx storage.Tx) error {
			members, err := tx.ListMembers(ctx, group.ID)
			if err != nil {
				return err
			}
			for _, m := range members {
				assert.Zero(t, m.Position)
				assert.Equal(t, models.MemberPending, m.Status)
			}
			return nil
		}))
	})

	t.Run("MarkMemberQualified assigns qualify order", func(t *testing.T) {
		store := newTestStore(t)
		group := testGroup()
		var first, second *models.Member
		require.NoError(t, store.WithTx(ctx, func(tx storage.Tx) error {
			if err := tx.CreateGroup(ctx, group); err != nil {
				return err
			}
			first = &models.Member{GroupID: group.ID, UserID: "early-joiner", JoinedAt: epoch}
			second = &models.Member{GroupID: group.ID, UserID: "late-joiner", JoinedAt: epoch.Add(time.Minute)}
			if err := tx.AddMember(ctx, first); err != nil {
				return err
			}
			return tx.AddMember(ctx, second)
		}))

		require.NoError(t, store.WithTx(ctx, func(tx storage.Tx) error {
			if err := tx.MarkMemberQualified(ctx, second.ID, epoch.Add(time.Hour)); err != nil {
				return err
			}
			return tx.MarkMemberQualified(ctx, first.ID, epoch.Add(2*time.Hour))
		}))

		err := store.WithTx(ctx, func(tx storage.Tx) error {
			return tx.MarkMemberQualified(ctx, first.ID, epoch.Add(3*time.Hour))
		})
		assert.ErrorIs(t, err, models.ErrDuplicateOperation)

		require.NoError(t, store.WithTx(ctx, func(tx storage.Tx) error {
			got, err := tx.GetMember(ctx, second.ID)
			if err != nil {
				return err
			}
			assert.Equal(t, 1, got.QualifyOrder)
			got, err = tx.GetMember(ctx, first.ID)
			if err != nil {
				return err
			}
			assert.Equal(t, 2, got.QualifyOrder)
			return nil
		}))
	})

	t.Run("CurrentCycle is derived from cycle rows", func(t *testing.T) {
		store := newTestStore(t)
		group, _, cycle, _ := seed(t, store)

		require.NoError(t, store.WithTx(ctx, func(tx storage.Tx) error {
			current, err := tx.CurrentCycle(ctx, group.ID)
			if err != nil {
				return err
			}
			assert.Equal(t, cycle.ID, current.ID)

			_, err = tx.GetCycle(ctx, "missing")
			assert.ErrorIs(t, err, models.ErrNotFound)
			return nil
		}))
	})

	t.Run("cycle transitions cannot skip states", func(t *testing.T) {
		store := newTestStore(t)
		_, _, cycle, _ := seed(t, store)

		err := store.WithTx(ctx, func(tx storage.Tx) error {
			return tx.SetCycleStatus(ctx, cycle.ID, models.CycleOpen, models.CycleReady, epoch)
		})
		assert.ErrorIs(t, err, models.ErrInvalidState)

		err = store.WithTx(ctx, func(tx storage.Tx) error {
			return tx.SetCycleStatus(ctx, cycle.ID, models.CycleCollecting, models.CycleReady, epoch)
		})
		assert.ErrorIs(t, err, models.ErrInvalidState, "stored status is open, not collecting")
	})

	t.Run("payment references are globally unique", func(t *testing.T) {
		store := newTestStore(t)
		_, _, _, contributions := seed(t, store)

		require.NoError(t, store.WithTx(ctx, func(tx storage.Tx) error {
			return tx.MarkContributionPaid(ctx, contributions[0].ID, "ref-1", epoch)
		}))

		err := store.WithTx(ctx, func(tx storage.Tx) error {
			return tx.MarkContributionPaid(ctx, contributions[1].ID, "ref-1", epoch)
		})
		assert.ErrorIs(t, err, models.ErrDuplicateOperation)

		err = store.WithTx(ctx, func(tx storage.Tx) error {
			return tx.MarkContributionPaid(ctx, contributions[0].ID, "ref-2", epoch)
		})
		assert.ErrorIs(t, err, models.ErrInvalidState, "already paid")
	})

	t.Run("one penalty per contribution and window", func(t *testing.T) {
		store := newTestStore(t)
		group, members, _, contributions := seed(t, store)
		penalty := func(window int64) *models.Penalty {
			return &models.Penalty{
				ContributionID: contributions[0].ID,
				GroupID:        group.ID,
				MemberID:       members[0].ID,
				Type:           models.PenaltyFlat,
				Amount:         10,
				Window:         window,
			}
		}

		var inserted []bool
		require.NoError(t, store.WithTx(ctx, func(tx storage.Tx) error {
			for _, w := range []int64{0, 0, 1} {
				ok, err := tx.InsertPenalty(ctx, penalty(w))
				if err != nil {
					return err
				}
				inserted = append(inserted, ok)
			}
			return nil
		}))
		assert.Equal(t, []bool{true, false, true}, inserted)

		require.NoError(t, store.WithTx(ctx, func(tx storage.Tx) error {
			penalties, err := tx.ListPenalties(ctx, group.ID)
			if err != nil {
				return err
			}
			assert.Len(t, penalties, 2)
			return nil
		}))
	})

	t.Run("one payout per cycle", func(t *testing.T) {
		store := newTestStore(t)
		group, members, cycle, _ := seed(t, store)
		payout := func() *models.Payout {
			return &models.Payout{CycleID: cycle.ID, GroupID: group.ID, MemberID: members[0].ID, Gross: 200, Fee: 5, Amount: 195}
		}

		require.NoError(t, store.WithTx(ctx, func(tx storage.Tx) error {
			return tx.CreatePayout(ctx, payout())
		}))
		err := store.WithTx(ctx, func(tx storage.Tx) error {
			return tx.CreatePayout(ctx, payout())
		})
		assert.ErrorIs(t, err, models.ErrDuplicateOperation)
	})

	t.Run("UpdatePayout checks the stored status", func(t *testing.T) {
		store := newTestStore(t)
		group, members, cycle, _ := seed(t, store)
		p := &models.Payout{CycleID: cycle.ID, GroupID: group.ID, MemberID: members[0].ID, Gross: 200, Amount: 200}
		require.NoError(t, store.WithTx(ctx, func(tx storage.Tx) error {
			return tx.CreatePayout(ctx, p)
		}))

		p.Status = models.PayoutCompleted
		err := store.WithTx(ctx, func(tx storage.Tx) error {
			return tx.UpdatePayout(ctx, p, models.PayoutPending)
		})
		assert.ErrorIs(t, err, models.ErrInvalidState, "pending cannot complete directly")

		p.Status = models.PayoutProcessing
		p.Attempts = 1
		require.NoError(t, store.WithTx(ctx, func(tx storage.Tx) error {
			return tx.UpdatePayout(ctx, p, models.PayoutPending)
		}))

		err = store.WithTx(ctx, func(tx storage.Tx) error {
			return tx.UpdatePayout(ctx, p, models.PayoutPending)
		})
		assert.ErrorIs(t, err, models.ErrInvalidState, "stored status is processing")
	})

	t.Run("due and stale payouts", func(t *testing.T) {
		store := newTestStore(t)
		group, members, cycle, _ := seed(t, store)
		next := epoch.Add(time.Hour)
		p := &models.Payout{
			CycleID: cycle.ID, GroupID: group.ID, MemberID: members[0].ID,
			Gross: 200, Amount: 200, NextAttemptAt: &next, CreatedAt: epoch,
		}
		require.NoError(t, store.WithTx(ctx, func(tx storage.Tx) error {
			return tx.CreatePayout(ctx, p)
		}))

		require.NoError(t, store.WithTx(ctx, func(tx storage.Tx) error {
			due, err := tx.ListDuePayouts(ctx, epoch)
			if err != nil {
				return err
			}
			assert.Empty(t, due)
			due, err = tx.ListDuePayouts(ctx, next)
			if err != nil {
				return err
			}
			assert.Len(t, due, 1)

			p.Status = models.PayoutProcessing
			p.NextAttemptAt = nil
			p.UpdatedAt = next
			if err := tx.UpdatePayout(ctx, p, models.PayoutPending); err != nil {
				return err
			}
			stale, err := tx.ListStaleProcessing(ctx, epoch)
			if err != nil {
				return err
			}
			assert.Empty(t, stale)
			stale, err = tx.ListStaleProcessing(ctx, next.Add(time.Minute))
			if err != nil {
				return err
			}
			assert.Len(t, stale, 1)
			return nil
		}))
	})

	t.Run("RecordCallback deduplicates by reference", func(t *testing.T) {
		store := newTestStore(t)
		group, members, cycle, _ := seed(t, store)
		p := &models.Payout{CycleID: cycle.ID, GroupID: group.ID, MemberID: members[0].ID, Gross: 200, Amount: 200}

		var results []bool
		require.NoError(t, store.WithTx(ctx, func(tx storage.Tx) error {
			if err := tx.CreatePayout(ctx, p); err != nil {
				return err
			}
			for i := 0; i < 2; i++ {
				ok, err := tx.RecordCallback(ctx, "cb-1", p.ID, "success", epoch)
				if err != nil {
					return err
				}
				results = append(results, ok)
			}
			return nil
		}))
		assert.Equal(t, []bool{true, false}, results)
	})

	t.Run("ledger rows are append-only by reference", func(t *testing.T) {
		store := newTestStore(t)
		group, members, cycle, contributions := seed(t, store)
		row := func() *models.Transaction {
			return &models.Transaction{
				GroupID:   group.ID,
				CycleID:   cycle.ID,
				MemberID:  members[0].ID,
				Kind:      models.KindContribution,
				SourceID:  contributions[0].ID,
				Amount:    100,
				Direction: models.DirectionIn,
				Status:    models.TransactionPending,
				Reference: "ref-1",
				CreatedAt: epoch,
			}
		}

		first := row()
		require.NoError(t, store.WithTx(ctx, func(tx storage.Tx) error {
			return tx.AppendTransaction(ctx, first)
		}))
		err := store.WithTx(ctx, func(tx storage.Tx) error {
			return tx.AppendTransaction(ctx, row())
		})
		assert.ErrorIs(t, err, models.ErrDuplicateOperation)

		require.NoError(t, store.WithTx(ctx, func(tx storage.Tx) error {
			if err := tx.SetTransactionStatus(ctx, first.ID, models.TransactionPending, models.TransactionCompleted, epoch); err != nil {
				return err
			}
			got, err := tx.GetTransactionByReference(ctx, "ref-1")
			if err != nil {
				return err
			}
			assert.Equal(t, models.TransactionCompleted, got.Status)

			bySource, err := tx.GetTransactionBySource(ctx, models.KindContribution, contributions[0].ID)
			if err != nil {
				return err
			}
			assert.Equal(t, first.ID, bySource.ID)
			return nil
		}))

		err = store.WithTx(ctx, func(tx storage.Tx) error {
			return tx.SetTransactionStatus(ctx, first.ID, models.TransactionCompleted, models.TransactionFailed, epoch)
		})
		assert.ErrorIs(t, err, models.ErrInvalidState)
	})

	t.Run("ListUnpaidDue skips paused groups", func(t *testing.T) {
		store := newTestStore(t)
		group, _, cycle, _ := seed(t, store)

		require.NoError(t, store.WithTx(ctx, func(tx storage.Tx) error {
			due, err := tx.ListUnpaidDue(ctx, cycle.DueDate)
			if err != nil {
				return err
			}
			assert.Len(t, due, 2)

			due, err = tx.ListUnpaidDue(ctx, cycle.DueDate.Add(-time.Millisecond))
			if err != nil {
				return err
			}
			assert.Empty(t, due)

			if err := tx.SetGroupStatus(ctx, group.ID, models.GroupActive, models.GroupPaused, epoch); err != nil {
				return err
			}
			due, err = tx.ListUnpaidDue(ctx, cycle.DueDate)
			if err != nil {
				return err
			}
			assert.Empty(t, due)
			return nil
		}))
	})
}
