package calculator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmynk/ajo/internal/models"
)

// settledCycle is a two-member group whose first cycle paid A 198 after a
// fee of 2. B also owes an unpaid penalty of 10.
func settledCycle() LedgerInput {
	txn := func(ref string, kind models.TransactionKind, source, member string, amount int64, dir models.Direction) *models.Transaction {
		return &models.Transaction{
			ID:        "t-" + ref,
			CycleID:   "c1",
			MemberID:  member,
			Kind:      kind,
			SourceID:  source,
			Amount:    amount,
			Direction: dir,
			Status:    models.TransactionCompleted,
			Reference: ref,
		}
	}
	deposit := func(ref, member string) *models.Transaction {
		t := txn(ref, models.KindDeposit, member, member, 50, models.DirectionIn)
		t.CycleID = ""
		return t
	}

	return LedgerInput{
		Members: []*models.Member{{ID: "A", Position: 1}, {ID: "B", Position: 2}},
		Cycles:  []*models.Cycle{{ID: "c1", Sequence: 1}, {ID: "c2", Sequence: 2}},
		Contributions: []*models.Contribution{
			{ID: "k-A", CycleID: "c1", MemberID: "A", Amount: 100, Status: models.ContributionPaid, PaymentReference: "p1"},
			{ID: "k-B", CycleID: "c1", MemberID: "B", Amount: 100, Status: models.ContributionPaid, PaymentReference: "p2"},
			{ID: "k-A2", CycleID: "c2", MemberID: "A", Amount: 100, Status: models.ContributionPending},
		},
		Penalties: []*models.Penalty{
			{ID: "pen-1", MemberID: "B", Amount: 10, Status: models.PenaltyApplied},
			{ID: "pen-0", MemberID: "B", Amount: 10, Status: models.PenaltyWaived},
		},
		Payouts: []*models.Payout{
			{ID: "po1", CycleID: "c1", MemberID: "A", Gross: 200, Fee: 2, Amount: 198, Status: models.PayoutCompleted},
		},
		Transactions: []*models.Transaction{
			deposit("d-A", "A"),
			deposit("d-B", "B"),
			txn("p1", models.KindContribution, "k-A", "A", 100, models.DirectionIn),
			txn("p2", models.KindContribution, "k-B", "B", 100, models.DirectionIn),
			txn("payout:po1:1", models.KindPayout, "po1", "A", 198, models.DirectionOut),
			txn("fee:po1", models.KindFee, "po1", "A", 2, models.DirectionOut),
		},
	}
}

func TestReconcile(t *testing.T) {
	report := Reconcile(settledCycle())

	assert.Empty(t, report.Discrepancies)
	assert.Equal(t, int64(100), report.PoolBalance, "deposits remain after the payout")
	assert.Equal(t, []MemberBalance{
		{MemberID: "A", Contributed: 100, Received: 198, Deposited: 50, NetBalance: 98},
		{MemberID: "B", Contributed: 100, Deposited: 50, PenaltiesOutstanding: 10, NetBalance: -100},
	}, report.Members)
	assert.Equal(t, []CycleBalance{
		{CycleID: "c1", Sequence: 1, Collected: 200, Expected: 200, Disbursed: 198, Fee: 2},
		{CycleID: "c2", Sequence: 2},
	}, report.Cycles)
}

func TestReconcileDiscrepancies(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(in *LedgerInput)
		want   []string
	}{
		{
			name: "paid contribution without transaction",
			mutate: func(in *LedgerInput) {
				in.Contributions[1].PaymentReference = "p9"
			},
			want: []string{`contribution k-B is paid but reference "p9" has no transaction`},
		},
		{
			name: "reference used by another row",
			mutate: func(in *LedgerInput) {
				in.Contributions[1].PaymentReference = "p1"
			},
			want: []string{`contribution k-B reference "p1" belongs to contribution k-A`},
		},
		{
			name: "payout amount disagrees with ledger",
			mutate: func(in *LedgerInput) {
				in.Payouts[0].Amount = 190
			},
			want: []string{"cycle 1 disbursed 198 but payout po1 amount is 190"},
		},
		{
			name: "missing fee row",
			mutate: func(in *LedgerInput) {
				in.Transactions = in.Transactions[:len(in.Transactions)-1]
			},
			want: []string{"cycle 1 fee ledger 0 but payout po1 fee is 2"},
		},
		{
			name: "pending transactions do not count",
			mutate: func(in *LedgerInput) {
				in.Transactions[3].Status = models.TransactionPending
			},
			want: []string{
				"cycle 1 collected 100 but payout po1 gross is 200",
				"cycle 1 ledger collected 100 but paid contributions total 200",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := settledCycle()
			tt.mutate(&in)
			report := Reconcile(in)
			require.NotEmpty(t, report.Discrepancies)
			assert.Equal(t, tt.want, report.Discrepancies)
		})
	}
}
