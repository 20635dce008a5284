package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mmynk/ajo/internal/models"
)

const penaltyColumns = `id, contribution_id, group_id, member_id, type, amount, overdue_window, status,
	payment_reference, created_at`

// InsertPenalty inserts a penalty unless the (contribution, window) pair is
// already penalised. Existence check and insert are one statement.
func (t *txStore) InsertPenalty(ctx context.Context, p *models.Penalty) (bool, error) {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	if p.Status == "" {
		p.Status = models.PenaltyApplied
	}

	res, err := t.tx.ExecContext(ctx,
		`INSERT INTO penalties (`+penaltyColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (contribution_id, overdue_window) DO NOTHING`,
		p.ID, p.ContributionID, p.GroupID, p.MemberID, string(p.Type), p.Amount, p.Window,
		string(p.Status), nullString(p.PaymentReference), toMillis(p.CreatedAt),
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert penalty: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n == 1, nil
}

func scanPenalty(row rowScanner) (*models.Penalty, error) {
	p := &models.Penalty{}
	var penaltyType, status string
	var reference sql.NullString
	var createdAt int64

	if err := row.Scan(&p.ID, &p.ContributionID, &p.GroupID, &p.MemberID, &penaltyType, &p.Amount,
		&p.Window, &status, &reference, &createdAt); err != nil {
		return nil, err
	}

	p.Type = models.PenaltyType(penaltyType)
	p.Status = models.PenaltyStatus(status)
	if reference.Valid {
		p.PaymentReference = reference.String
	}
	p.CreatedAt = fromMillis(createdAt)
	return p, nil
}

// GetPenalty retrieves a penalty by ID.
func (t *txStore) GetPenalty(ctx context.Context, penaltyID string) (*models.Penalty, error) {
	p, err := scanPenalty(t.tx.QueryRowContext(ctx,
		`SELECT `+penaltyColumns+` FROM penalties WHERE id = ?`, penaltyID))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: penalty %s", models.ErrNotFound, penaltyID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get penalty: %w", err)
	}
	return p, nil
}

// ListPenalties retrieves all penalties raised in a group.
func (t *txStore) ListPenalties(ctx context.Context, groupID string) ([]*models.Penalty, error) {
	rows, err := t.tx.QueryContext(ctx,
		`SELECT `+penaltyColumns+` FROM penalties WHERE group_id = ?
		 ORDER BY created_at, contribution_id, overdue_window`, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to list penalties: %w", err)
	}
	defer rows.Close()

	var penalties []*models.Penalty
	for rows.Next() {
		p, err := scanPenalty(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan penalty: %w", err)
		}
		penalties = append(penalties, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate penalties: %w", err)
	}
	return penalties, nil
}

// MarkPenaltyPaid settles an applied penalty.
func (t *txStore) MarkPenaltyPaid(ctx context.Context, penaltyID, reference string) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE penalties SET status = ?, payment_reference = ? WHERE id = ? AND status = ?`,
		string(models.PenaltyPaid), reference, penaltyID, string(models.PenaltyApplied),
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: payment reference %s already used", models.ErrDuplicateOperation, reference)
	}
	if err != nil {
		return fmt.Errorf("failed to mark penalty paid: %w", err)
	}
	return expectOneRow(res, "penalty "+penaltyID)
}

// SetPenaltyStatus moves a penalty between statuses.
func (t *txStore) SetPenaltyStatus(ctx context.Context, penaltyID string, from, to models.PenaltyStatus) error {
	if err := models.CheckPenaltyTransition(from, to); err != nil {
		return err
	}
	res, err := t.tx.ExecContext(ctx,
		`UPDATE penalties SET status = ? WHERE id = ? AND status = ?`,
		string(to), penaltyID, string(from),
	)
	if err != nil {
		return fmt.Errorf("failed to update penalty status: %w", err)
	}
	return expectOneRow(res, "penalty "+penaltyID)
}
