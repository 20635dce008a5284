// Package models defines the core domain models for the Ajo contribution engine.
//
// # Entities
//
//   - Group: a fixed set of members contributing a fixed amount on a fixed cadence
//   - Member: one membership record with its once-assigned rotation position
//   - Cycle: one contribution-and-payout period; its recipient is the member whose
//     position equals the cycle sequence
//   - Contribution: one member's obligation for one cycle
//   - Penalty: a late charge for one contribution in one overdue window
//   - Payout: the pool disbursement for one cycle
//   - Transaction: an append-only ledger row recording money movement
//
// # Design Principles
//
// 1. **Closed status enums**: every status is a typed constant and transitions are
// validated by the tables in status.go, never trusted from caller input.
// 2. **Integer money**: amounts are int64 minor units (e.g. kobo, cents).
// 3. **IDs, not pointers**: relationships are expressed as ID strings.
// 4. **Derived current cycle**: no group field points at the current cycle; it is the
// highest-sequence cycle that is not closed.
package models
