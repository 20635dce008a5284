package rotation_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmynk/ajo/internal/models"
	"github.com/mmynk/ajo/internal/rotation"
	"github.com/mmynk/ajo/internal/storage"
	"github.com/mmynk/ajo/internal/testutil"
)

func qualified(id string, order int, joined time.Time) *models.Member {
	at := testutil.Epoch.Add(time.Duration(order) * time.Minute)
	return &models.Member{ID: id, JoinedAt: joined, QualifiedAt: &at, QualifyOrder: order}
}

func TestAssign(t *testing.T) {
	group := testutil.NewGroup(3)
	group.ID = "g1"
	group.Status = models.GroupForming

	t.Run("first to qualify gets position 1", func(t *testing.T) {
		members := []*models.Member{
			qualified("early-joiner", 3, testutil.Epoch),
			qualified("middle", 1, testutil.Epoch.Add(time.Minute)),
			qualified("late-joiner", 2, testutil.Epoch.Add(2*time.Minute)),
		}

		positions, err := rotation.Assign(group, members)
		require.NoError(t, err)
		assert.Equal(t, map[string]int{"middle": 1, "late-joiner": 2, "early-joiner": 3}, positions)
	})

	t.Run("deterministic for the same input", func(t *testing.T) {
		members := []*models.Member{
			qualified("c", 3, testutil.Epoch),
			qualified("a", 1, testutil.Epoch),
			qualified("b", 2, testutil.Epoch),
		}
		first, err := rotation.Assign(group, members)
		require.NoError(t, err)
		for i := 0; i < 5; i++ {
			again, err := rotation.Assign(group, members)
			require.NoError(t, err)
			assert.Equal(t, first, again)
		}
	})

	t.Run("rejects", func(t *testing.T) {
		full := []*models.Member{
			qualified("a", 1, testutil.Epoch),
			qualified("b", 2, testutil.Epoch),
			qualified("c", 3, testutil.Epoch),
		}

		tests := []struct {
			name    string
			group   func() *models.Group
			members func() []*models.Member
		}{
			{
				name: "group not forming",
				group: func() *models.Group {
					g := *group
					g.Status = models.GroupActive
					return &g
				},
				members: func() []*models.Member { return full },
			},
			{
				name:    "member count differs from capacity",
				group:   func() *models.Group { return group },
				members: func() []*models.Member { return full[:2] },
			},
			{
				name:  "unqualified member",
				group: func() *models.Group { return group },
				members: func() []*models.Member {
					return []*models.Member{full[0], full[1], {ID: "c", JoinedAt: testutil.Epoch}}
				},
			},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := rotation.Assign(tt.group(), tt.members())
				assert.ErrorIs(t, err, models.ErrInvariantViolation)
			})
		}
	})
}

func TestActivate(t *testing.T) {
	ctx := context.Background()

	t.Run("assigns a permutation and activates", func(t *testing.T) {
		store := testutil.NewStore(t)
		group := testutil.NewGroup(3)
		members := testutil.SeedForming(t, store, group, 3)
		// C qualifies first, then A, then B.
		testutil.Qualify(t, store, members[2], members[0], members[1])

		var active []*models.Member
		require.NoError(t, store.WithTx(ctx, func(tx storage.Tx) error {
			var err error
			active, err = rotation.Activate(ctx, tx, group.ID, testutil.Epoch.Add(2*time.Hour))
			return err
		}))

		require.Len(t, active, 3)
		assert.Equal(t, []string{"C", "A", "B"}, []string{active[0].DisplayName, active[1].DisplayName, active[2].DisplayName})
		require.NoError(t, models.ValidatePositions(active))

		testutil.Read(t, store, func(ctx context.Context, tx storage.Tx) error {
			g, err := tx.GetGroup(ctx, group.ID)
			require.NoError(t, err)
			assert.Equal(t, models.GroupActive, g.Status)
			require.NotNil(t, g.ActivatedAt)
			return nil
		})
	})

	t.Run("partial qualification leaves the group untouched", func(t *testing.T) {
		store := testutil.NewStore(t)
		group := testutil.NewGroup(3)
		members := testutil.SeedForming(t, store, group, 3)
		testutil.Qualify(t, store, members[0], members[1])

		err := store.WithTx(ctx, func(tx storage.Tx) error {
			_, err := rotation.Activate(ctx, tx, group.ID, testutil.Epoch)
			return err
		})
		require.ErrorIs(t, err, models.ErrInvariantViolation)

		for _, m := range testutil.Members(t, store, group.ID) {
			assert.Zero(t, m.Position)
			assert.Equal(t, models.MemberPending, m.Status)
		}
	})

	t.Run("cannot activate twice", func(t *testing.T) {
		store := testutil.NewStore(t)
		group := testutil.NewGroup(2)
		members := testutil.SeedForming(t, store, group, 2)
		testutil.Qualify(t, store, members...)

		activate := func() error {
			return store.WithTx(ctx, func(tx storage.Tx) error {
				_, err := rotation.Activate(ctx, tx, group.ID, testutil.Epoch)
				return err
			})
		}
		require.NoError(t, activate())
		assert.ErrorIs(t, activate(), models.ErrInvariantViolation)
	})
}
