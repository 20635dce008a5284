package calculator

import (
	"fmt"
	"sort"

	"github.com/mmynk/ajo/internal/models"
)

// MemberBalance summarises one member's money movements in a group.
type MemberBalance struct {
	MemberID string

	// Contributed is the sum of completed contribution transactions.
	Contributed int64
	// Received is the sum of completed payout transactions.
	Received int64
	// Deposited is the security deposit paid.
	Deposited int64
	// PenaltiesOutstanding is the sum of applied, unpaid penalties.
	PenaltiesOutstanding int64
	// PenaltiesPaid is the sum of completed penalty transactions.
	PenaltiesPaid int64

	// NetBalance = Received - Contributed. Positive = the member has taken more
	// out of the pool than put in so far.
	NetBalance int64
}

// CycleBalance compares what a cycle collected with what it disbursed.
type CycleBalance struct {
	CycleID  string
	Sequence int

	// Collected is the sum of the cycle's completed contribution transactions.
	Collected int64
	// Expected is the sum of the cycle's paid contribution rows.
	Expected int64
	// Disbursed is the completed payout transaction amount.
	Disbursed int64
	// Fee is the completed fee transaction amount.
	Fee int64
}

// Report is a group reconciliation: balances plus every mismatch found.
type Report struct {
	Members []MemberBalance
	Cycles  []CycleBalance

	// PoolBalance is money held by the group: all completed inflows minus all
	// completed outflows.
	PoolBalance int64

	// Discrepancies lists human-readable reconciliation failures. Empty means
	// the ledger agrees with the entity rows.
	Discrepancies []string
}

// LedgerInput is everything Reconcile needs about one group.
type LedgerInput struct {
	Members       []*models.Member
	Cycles        []*models.Cycle
	Contributions []*models.Contribution
	Penalties     []*models.Penalty
	Payouts       []*models.Payout
	Transactions  []*models.Transaction
}

// Reconcile checks the append-only ledger against contribution and payout
// rows and computes member and cycle balances.
//
// Checks:
//   - every paid contribution has exactly one completed contribution transaction
//     of the same amount carrying its payment reference
//   - a completed payout's gross equals the cycle's collected amount, and its
//     payout and fee transactions match its net amount and fee
func Reconcile(in LedgerInput) Report {
	var report Report

	balances := make(map[string]*MemberBalance, len(in.Members))
	memberBalance := func(id string) *MemberBalance {
		if _, exists := balances[id]; !exists {
			balances[id] = &MemberBalance{MemberID: id}
		}
		return balances[id]
	}
	for _, m := range in.Members {
		memberBalance(m.ID)
	}

	cycles := make(map[string]*CycleBalance, len(in.Cycles))
	for _, c := range in.Cycles {
		cycles[c.ID] = &CycleBalance{CycleID: c.ID, Sequence: c.Sequence}
	}

	byReference := make(map[string]*models.Transaction, len(in.Transactions))
	for _, txn := range in.Transactions {
		byReference[txn.Reference] = txn
		if txn.Status != models.TransactionCompleted {
			continue
		}

		switch txn.Direction {
		case models.DirectionIn:
			report.PoolBalance += txn.Amount
		case models.DirectionOut:
			report.PoolBalance -= txn.Amount
		}

		cb := cycles[txn.CycleID]
		switch txn.Kind {
		case models.KindContribution:
			memberBalance(txn.MemberID).Contributed += txn.Amount
			if cb != nil {
				cb.Collected += txn.Amount
			}
		case models.KindPayout:
			memberBalance(txn.MemberID).Received += txn.Amount
			if cb != nil {
				cb.Disbursed += txn.Amount
			}
		case models.KindFee:
			if cb != nil {
				cb.Fee += txn.Amount
			}
		case models.KindDeposit:
			memberBalance(txn.MemberID).Deposited += txn.Amount
		case models.KindPenalty:
			memberBalance(txn.MemberID).PenaltiesPaid += txn.Amount
		}
	}

	for _, c := range in.Contributions {
		if c.Status != models.ContributionPaid {
			continue
		}
		if cb := cycles[c.CycleID]; cb != nil {
			cb.Expected += c.Amount
		}
		txn, ok := byReference[c.PaymentReference]
		switch {
		case !ok:
			report.Discrepancies = append(report.Discrepancies,
				fmt.Sprintf("contribution %s is paid but reference %q has no transaction", c.ID, c.PaymentReference))
		case txn.Kind != models.KindContribution || txn.SourceID != c.ID:
			report.Discrepancies = append(report.Discrepancies,
				fmt.Sprintf("contribution %s reference %q belongs to %s %s", c.ID, c.PaymentReference, txn.Kind, txn.SourceID))
		case txn.Amount != c.Amount:
			report.Discrepancies = append(report.Discrepancies,
				fmt.Sprintf("contribution %s owes %d but transaction %s recorded %d", c.ID, c.Amount, txn.ID, txn.Amount))
		}
	}

	for _, p := range in.Penalties {
		if p.Status == models.PenaltyApplied {
			memberBalance(p.MemberID).PenaltiesOutstanding += p.Amount
		}
	}

	for _, p := range in.Payouts {
		if p.Status != models.PayoutCompleted {
			continue
		}
		cb := cycles[p.CycleID]
		if cb == nil {
			report.Discrepancies = append(report.Discrepancies,
				fmt.Sprintf("payout %s references unknown cycle %s", p.ID, p.CycleID))
			continue
		}
		if p.Gross != cb.Collected {
			report.Discrepancies = append(report.Discrepancies,
				fmt.Sprintf("cycle %d collected %d but payout %s gross is %d", cb.Sequence, cb.Collected, p.ID, p.Gross))
		}
		if p.Amount != cb.Disbursed {
			report.Discrepancies = append(report.Discrepancies,
				fmt.Sprintf("cycle %d disbursed %d but payout %s amount is %d", cb.Sequence, cb.Disbursed, p.ID, p.Amount))
		}
		if p.Fee != cb.Fee {
			report.Discrepancies = append(report.Discrepancies,
				fmt.Sprintf("cycle %d fee ledger %d but payout %s fee is %d", cb.Sequence, cb.Fee, p.ID, p.Fee))
		}
	}

	for _, cb := range cycles {
		if cb.Collected != cb.Expected {
			report.Discrepancies = append(report.Discrepancies,
				fmt.Sprintf("cycle %d ledger collected %d but paid contributions total %d", cb.Sequence, cb.Collected, cb.Expected))
		}
	}

	for _, bal := range balances {
		bal.NetBalance = bal.Received - bal.Contributed
		report.Members = append(report.Members, *bal)
	}
	sort.Slice(report.Members, func(i, j int) bool {
		return report.Members[i].MemberID < report.Members[j].MemberID
	})

	for _, cb := range cycles {
		report.Cycles = append(report.Cycles, *cb)
	}
	sort.Slice(report.Cycles, func(i, j int) bool {
		return report.Cycles[i].Sequence < report.Cycles[j].Sequence
	})
	sort.Strings(report.Discrepancies)

	return report
}
