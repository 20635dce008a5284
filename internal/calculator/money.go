// Package calculator holds the money arithmetic of the engine: payout net of
// fee, penalty amounts, overdue windows, and ledger balances.
//
// All amounts are int64 minor units. Percentages are basis points and are
// evaluated with decimal arithmetic so rounding is explicit.
package calculator

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmynk/ajo/internal/models"
)

var bpsDenominator = decimal.NewFromInt(10000)

// basisPoints returns amount * bps / 10000 as a decimal, unrounded.
func basisPoints(amount, bps int64) decimal.Decimal {
	return decimal.NewFromInt(amount).Mul(decimal.NewFromInt(bps)).Div(bpsDenominator)
}

// PayoutSplit divides a cycle's gross pool into the platform fee and the
// recipient's net payout. The fee rounds down so rounding favours the member.
func PayoutSplit(gross, feeBps int64) (fee, net int64, err error) {
	if gross < 0 {
		return 0, 0, fmt.Errorf("%w: gross %d is negative", models.ErrInvalidInput, gross)
	}
	if feeBps < 0 || feeBps >= 10000 {
		return 0, 0, fmt.Errorf("%w: fee %d bps out of range", models.ErrInvalidInput, feeBps)
	}
	fee = basisPoints(gross, feeBps).Floor().IntPart()
	return fee, gross - fee, nil
}

// PenaltyAmount computes one window's late charge for an owed amount.
// Percentage penalties round half away from zero.
func PenaltyAmount(policy models.PenaltyPolicy, owed int64) (int64, error) {
	switch policy.Type {
	case models.PenaltyFlat:
		return policy.Value, nil
	case models.PenaltyPercentage:
		return basisPoints(owed, policy.Value).Round(0).IntPart(), nil
	}
	return 0, fmt.Errorf("%w: unknown penalty type %q", models.ErrInvalidInput, policy.Type)
}

// OverdueWindow returns the index of the overdue period containing now, and
// false while the contribution is still within its grace period. Window 0
// starts at due + grace.
func OverdueWindow(due time.Time, policy models.PenaltyPolicy, now time.Time) (int64, bool) {
	start := due.Add(policy.GracePeriod)
	if now.Before(start) || policy.Window <= 0 {
		return 0, false
	}
	return int64(now.Sub(start) / policy.Window), true
}
