package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mmynk/ajo/internal/models"
)

const payoutColumns = `id, cycle_id, group_id, member_id, gross, fee, amount, destination, status,
	attempts, transfer_seq, transfer_id, failure_reason, next_attempt_at, created_at, updated_at, completed_at`

// CreatePayout inserts the single payout of a cycle.
func (t *txStore) CreatePayout(ctx context.Context, p *models.Payout) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = p.CreatedAt
	}
	if p.Status == "" {
		p.Status = models.PayoutPending
	}
	if p.TransferSeq == 0 {
		p.TransferSeq = 1
	}

	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO payouts (`+payoutColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.CycleID, p.GroupID, p.MemberID, p.Gross, p.Fee, p.Amount, p.Destination,
		string(p.Status), p.Attempts, p.TransferSeq, p.TransferID, p.FailureReason, nullMillis(p.NextAttemptAt),
		toMillis(p.CreatedAt), toMillis(p.UpdatedAt), nullMillis(p.CompletedAt),
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: payout for cycle %s exists", models.ErrDuplicateOperation, p.CycleID)
	}
	if err != nil {
		return fmt.Errorf("failed to insert payout: %w", err)
	}
	return nil
}

func scanPayout(row rowScanner) (*models.Payout, error) {
	p := &models.Payout{}
	var status string
	var createdAt, updatedAt int64
	var nextAttemptAt, completedAt sql.NullInt64

	if err := row.Scan(&p.ID, &p.CycleID, &p.GroupID, &p.MemberID, &p.Gross, &p.Fee, &p.Amount,
		&p.Destination, &status, &p.Attempts, &p.TransferSeq, &p.TransferID, &p.FailureReason, &nextAttemptAt,
		&createdAt, &updatedAt, &completedAt); err != nil {
		return nil, err
	}

	p.Status = models.PayoutStatus(status)
	p.NextAttemptAt = timePtr(nextAttemptAt)
	p.CreatedAt = fromMillis(createdAt)
	p.UpdatedAt = fromMillis(updatedAt)
	p.CompletedAt = timePtr(completedAt)
	return p, nil
}

func (t *txStore) getPayoutWhere(ctx context.Context, where string, args ...any) (*models.Payout, error) {
	p, err := scanPayout(t.tx.QueryRowContext(ctx,
		`SELECT `+payoutColumns+` FROM payouts WHERE `+where, args...))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: payout", models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get payout: %w", err)
	}
	return p, nil
}

// GetPayout retrieves a payout by ID.
func (t *txStore) GetPayout(ctx context.Context, payoutID string) (*models.Payout, error) {
	return t.getPayoutWhere(ctx, `id = ?`, payoutID)
}

// GetPayoutByCycle retrieves the payout of a cycle.
func (t *txStore) GetPayoutByCycle(ctx context.Context, cycleID string) (*models.Payout, error) {
	return t.getPayoutWhere(ctx, `cycle_id = ?`, cycleID)
}

// UpdatePayout writes the mutable payout fields if the stored status is still from.
// Callers stamp UpdatedAt; stale-processing detection reads it.
func (t *txStore) UpdatePayout(ctx context.Context, p *models.Payout, from models.PayoutStatus) error {
	if p.Status != from {
		if err := models.CheckPayoutTransition(from, p.Status); err != nil {
			return err
		}
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now().UTC()
	}

	res, err := t.tx.ExecContext(ctx,
		`UPDATE payouts SET status = ?, attempts = ?, transfer_seq = ?, transfer_id = ?, failure_reason = ?,
		        next_attempt_at = ?, updated_at = ?, completed_at = ?
		 WHERE id = ? AND status = ?`,
		string(p.Status), p.Attempts, p.TransferSeq, p.TransferID, p.FailureReason, nullMillis(p.NextAttemptAt),
		toMillis(p.UpdatedAt), nullMillis(p.CompletedAt), p.ID, string(from),
	)
	if err != nil {
		return fmt.Errorf("failed to update payout: %w", err)
	}
	return expectOneRow(res, "payout "+p.ID)
}

func (t *txStore) queryPayouts(ctx context.Context, query string, args ...any) ([]*models.Payout, error) {
	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query payouts: %w", err)
	}
	defer rows.Close()

	var payouts []*models.Payout
	for rows.Next() {
		p, err := scanPayout(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan payout: %w", err)
		}
		payouts = append(payouts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate payouts: %w", err)
	}
	return payouts, nil
}

// ListDuePayouts retrieves payouts with an initiation attempt due.
func (t *txStore) ListDuePayouts(ctx context.Context, now time.Time) ([]*models.Payout, error) {
	return t.queryPayouts(ctx,
		`SELECT `+payoutColumns+` FROM payouts
		 WHERE status IN (?, ?) AND next_attempt_at IS NOT NULL AND next_attempt_at <= ?
		 ORDER BY next_attempt_at, id`,
		string(models.PayoutPending), string(models.PayoutFailed), toMillis(now))
}

// ListStaleProcessing retrieves processing payouts without progress since cutoff.
func (t *txStore) ListStaleProcessing(ctx context.Context, cutoff time.Time) ([]*models.Payout, error) {
	return t.queryPayouts(ctx,
		`SELECT `+payoutColumns+` FROM payouts WHERE status = ? AND updated_at <= ? ORDER BY updated_at, id`,
		string(models.PayoutProcessing), toMillis(cutoff))
}

// ListPayouts retrieves a group's payouts.
func (t *txStore) ListPayouts(ctx context.Context, groupID string) ([]*models.Payout, error) {
	return t.queryPayouts(ctx,
		`SELECT `+payoutColumns+` FROM payouts WHERE group_id = ? ORDER BY created_at, id`, groupID)
}

// RecordCallback stores a gateway callback reference exactly once.
func (t *txStore) RecordCallback(ctx context.Context, reference, payoutID, status string, at time.Time) (bool, error) {
	res, err := t.tx.ExecContext(ctx,
		`INSERT INTO gateway_callbacks (reference, payout_id, status, received_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (reference) DO NOTHING`,
		reference, payoutID, status, toMillis(at),
	)
	if err != nil {
		return false, fmt.Errorf("failed to record callback: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n == 1, nil
}
