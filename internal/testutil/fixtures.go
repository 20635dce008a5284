// Package testutil builds ledger fixtures for engine tests.
package testutil

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mmynk/ajo/internal/models"
	"github.com/mmynk/ajo/internal/storage"
	"github.com/mmynk/ajo/internal/storage/sqlite"
)

// Epoch is the fixed start time used by fixtures.
var Epoch = time.Date(2026, time.January, 5, 9, 0, 0, 0, time.UTC)

// Clock is a settable time source.
type Clock struct {
	now time.Time
}

// NewClock starts a clock at t.
func NewClock(t time.Time) *Clock {
	return &Clock{now: t}
}

// Now returns the clock's current time.
func (c *Clock) Now() time.Time { return c.now }

// Set moves the clock to t.
func (c *Clock) Set(t time.Time) { c.now = t }

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) { c.now = c.now.Add(d) }

// NewStore opens a SQLite ledger store in a temp directory.
func NewStore(t testing.TB) *sqlite.SQLiteStore {
	t.Helper()
	store, err := sqlite.New(filepath.Join(t.TempDir(), "ajo.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

// NewGroup returns a valid weekly group of capacity n with a flat penalty.
func NewGroup(n int) *models.Group {
	return &models.Group{
		Name:               "Market Women Ajo",
		ContributionAmount: 100,
		Cadence:            models.CadenceWeekly,
		Capacity:           n,
		DepositAmount:      50,
		PlatformFeeBps:     100,
		Penalty: models.PenaltyPolicy{
			Type:        models.PenaltyFlat,
			Value:       10,
			GracePeriod: 48 * time.Hour,
			Window:      24 * time.Hour,
		},
		CreatedBy: "user-admin",
		CreatedAt: Epoch,
	}
}

// SeedForming persists group and n pending members named A, B, C, ...
// Members are returned in join order.
func SeedForming(t testing.TB, store storage.Store, group *models.Group, n int) []*models.Member {
	t.Helper()
	ctx := context.Background()
	members := make([]*models.Member, 0, n)
	err := store.WithTx(ctx, func(tx storage.Tx) error {
		if err := tx.CreateGroup(ctx, group); err != nil {
			return err
		}
		for i := 0; i < n; i++ {
			name := string(rune('A' + i))
			m := &models.Member{
				GroupID:           group.ID,
				UserID:            "user-" + name,
				DisplayName:       name,
				PayoutDestination: fmt.Sprintf("acct-%s", name),
				JoinedAt:          Epoch.Add(time.Duration(i) * time.Minute),
			}
			if err := tx.AddMember(ctx, m); err != nil {
				return err
			}
			members = append(members, m)
		}
		return nil
	})
	require.NoError(t, err)
	return members
}

// Qualify marks members qualified in the given order, one minute apart.
func Qualify(t testing.TB, store storage.Store, members ...*models.Member) {
	t.Helper()
	ctx := context.Background()
	err := store.WithTx(ctx, func(tx storage.Tx) error {
		for i, m := range members {
			if err := tx.MarkMemberQualified(ctx, m.ID, Epoch.Add(time.Hour+time.Duration(i)*time.Minute)); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
}

// Members reloads a group's members in position order.
func Members(t testing.TB, store storage.Store, groupID string) []*models.Member {
	t.Helper()
	var members []*models.Member
	err := store.WithTx(context.Background(), func(tx storage.Tx) error {
		var err error
		members, err = tx.ListMembers(context.Background(), groupID)
		return err
	})
	require.NoError(t, err)
	return members
}

// Contributions reloads a cycle's contributions.
func Contributions(t testing.TB, store storage.Store, cycleID string) []*models.Contribution {
	t.Helper()
	var contributions []*models.Contribution
	err := store.WithTx(context.Background(), func(tx storage.Tx) error {
		var err error
		contributions, err = tx.ListContributions(context.Background(), cycleID)
		return err
	})
	require.NoError(t, err)
	return contributions
}

// ContributionOf returns the contribution of memberID in cycleID.
func ContributionOf(t testing.TB, store storage.Store, cycleID, memberID string) *models.Contribution {
	t.Helper()
	for _, c := range Contributions(t, store, cycleID) {
		if c.MemberID == memberID {
			return c
		}
	}
	t.Fatalf("no contribution for member %s in cycle %s", memberID, cycleID)
	return nil
}

// Read runs fn in a transaction and fails the test on error.
func Read(t testing.TB, store storage.Store, fn func(ctx context.Context, tx storage.Tx) error) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.WithTx(ctx, func(tx storage.Tx) error { return fn(ctx, tx) }))
}
