package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mmynk/ajo/internal/models"
)

const contributionColumns = `id, cycle_id, group_id, member_id, amount, status, due_date, paid_at, payment_reference`

// CreateContribution inserts one member's obligation for a cycle.
func (t *txStore) CreateContribution(ctx context.Context, c *models.Contribution) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.Status == "" {
		c.Status = models.ContributionPending
	}

	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO contributions (`+contributionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.CycleID, c.GroupID, c.MemberID, c.Amount, string(c.Status),
		toMillis(c.DueDate), nullMillis(c.PaidAt), nullString(c.PaymentReference),
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: contribution for member %s in cycle %s exists",
			models.ErrDuplicateOperation, c.MemberID, c.CycleID)
	}
	if err != nil {
		return fmt.Errorf("failed to insert contribution: %w", err)
	}
	return nil
}

func scanContribution(row rowScanner) (*models.Contribution, error) {
	c := &models.Contribution{}
	var status string
	var dueDate int64
	var paidAt sql.NullInt64
	var reference sql.NullString

	if err := row.Scan(&c.ID, &c.CycleID, &c.GroupID, &c.MemberID, &c.Amount, &status,
		&dueDate, &paidAt, &reference); err != nil {
		return nil, err
	}

	c.Status = models.ContributionStatus(status)
	c.DueDate = fromMillis(dueDate)
	c.PaidAt = timePtr(paidAt)
	if reference.Valid {
		c.PaymentReference = reference.String
	}
	return c, nil
}

// GetContribution retrieves a contribution by ID.
func (t *txStore) GetContribution(ctx context.Context, contributionID string) (*models.Contribution, error) {
	c, err := scanContribution(t.tx.QueryRowContext(ctx,
		`SELECT `+contributionColumns+` FROM contributions WHERE id = ?`, contributionID))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: contribution %s", models.ErrNotFound, contributionID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get contribution: %w", err)
	}
	return c, nil
}

func (t *txStore) queryContributions(ctx context.Context, query string, args ...any) ([]*models.Contribution, error) {
	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query contributions: %w", err)
	}
	defer rows.Close()

	var contributions []*models.Contribution
	for rows.Next() {
		c, err := scanContribution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan contribution: %w", err)
		}
		contributions = append(contributions, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate contributions: %w", err)
	}
	return contributions, nil
}

// ListContributions retrieves a cycle's contributions.
func (t *txStore) ListContributions(ctx context.Context, cycleID string) ([]*models.Contribution, error) {
	return t.queryContributions(ctx,
		`SELECT `+contributionColumns+` FROM contributions WHERE cycle_id = ? ORDER BY member_id`, cycleID)
}

// MarkContributionPaid records a payment against a pending or overdue contribution.
func (t *txStore) MarkContributionPaid(ctx context.Context, contributionID, reference string, at time.Time) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE contributions SET status = ?, paid_at = ?, payment_reference = ?
		 WHERE id = ? AND status IN (?, ?)`,
		string(models.ContributionPaid), toMillis(at), reference,
		contributionID, string(models.ContributionPending), string(models.ContributionOverdue),
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: payment reference %s already used", models.ErrDuplicateOperation, reference)
	}
	if err != nil {
		return fmt.Errorf("failed to mark contribution paid: %w", err)
	}
	return expectOneRow(res, "contribution "+contributionID)
}

// SetContributionStatus moves a contribution between statuses.
func (t *txStore) SetContributionStatus(ctx context.Context, contributionID string, from, to models.ContributionStatus) error {
	if err := models.CheckContributionTransition(from, to); err != nil {
		return err
	}
	res, err := t.tx.ExecContext(ctx,
		`UPDATE contributions SET status = ? WHERE id = ? AND status = ?`,
		string(to), contributionID, string(from),
	)
	if err != nil {
		return fmt.Errorf("failed to update contribution status: %w", err)
	}
	return expectOneRow(res, "contribution "+contributionID)
}

// ListUnpaidDue retrieves unpaid contributions of active groups due by cutoff.
func (t *txStore) ListUnpaidDue(ctx context.Context, cutoff time.Time) ([]*models.Contribution, error) {
	return t.queryContributions(ctx,
		`SELECT c.id, c.cycle_id, c.group_id, c.member_id, c.amount, c.status, c.due_date, c.paid_at, c.payment_reference
		 FROM contributions c
		 JOIN groups g ON g.id = c.group_id
		 WHERE c.status IN (?, ?) AND c.due_date <= ? AND g.status = ?
		 ORDER BY c.due_date, c.id`,
		string(models.ContributionPending), string(models.ContributionOverdue),
		toMillis(cutoff), string(models.GroupActive),
	)
}
