package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mmynk/ajo/internal/models"
)

const groupColumns = `id, name, contribution_amount, cadence, capacity, deposit_amount, platform_fee_bps,
	penalty_type, penalty_value, grace_period_ms, penalty_window_ms, status, created_by,
	created_at, activated_at, completed_at`

// CreateGroup persists a new group.
func (t *txStore) CreateGroup(ctx context.Context, group *models.Group) error {
	// Generate ID if not set
	if group.ID == "" {
		group.ID = uuid.New().String()
	}
	if group.CreatedAt.IsZero() {
		group.CreatedAt = time.Now().UTC()
	}
	if group.Status == "" {
		group.Status = models.GroupForming
	}

	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO groups (`+groupColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		group.ID, group.Name, group.ContributionAmount, string(group.Cadence), group.Capacity,
		group.DepositAmount, group.PlatformFeeBps,
		string(group.Penalty.Type), group.Penalty.Value,
		group.Penalty.GracePeriod.Milliseconds(), group.Penalty.Window.Milliseconds(),
		string(group.Status), group.CreatedBy,
		toMillis(group.CreatedAt), nullMillis(group.ActivatedAt), nullMillis(group.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert group: %w", err)
	}

	return nil
}

func scanGroup(row rowScanner) (*models.Group, error) {
	g := &models.Group{}
	var cadence, penaltyType, status string
	var graceMs, windowMs, createdAt int64
	var activatedAt, completedAt sql.NullInt64

	err := row.Scan(&g.ID, &g.Name, &g.ContributionAmount, &cadence, &g.Capacity,
		&g.DepositAmount, &g.PlatformFeeBps, &penaltyType, &g.Penalty.Value, &graceMs, &windowMs,
		&status, &g.CreatedBy, &createdAt, &activatedAt, &completedAt)
	if err != nil {
		return nil, err
	}

	g.Cadence = models.Cadence(cadence)
	g.Penalty.Type = models.PenaltyType(penaltyType)
	g.Penalty.GracePeriod = time.Duration(graceMs) * time.Millisecond
	g.Penalty.Window = time.Duration(windowMs) * time.Millisecond
	g.Status = models.GroupStatus(status)
	g.CreatedAt = fromMillis(createdAt)
	g.ActivatedAt = timePtr(activatedAt)
	g.CompletedAt = timePtr(completedAt)
	return g, nil
}

// GetGroup retrieves a group by ID.
func (t *txStore) GetGroup(ctx context.Context, groupID string) (*models.Group, error) {
	g, err := scanGroup(t.tx.QueryRowContext(ctx,
		`SELECT `+groupColumns+` FROM groups WHERE id = ?`, groupID))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: group %s", models.ErrNotFound, groupID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get group: %w", err)
	}
	return g, nil
}

// ListGroups retrieves groups, optionally filtered by status.
func (t *txStore) ListGroups(ctx context.Context, statuses ...models.GroupStatus) ([]*models.Group, error) {
	query := `SELECT ` + groupColumns + ` FROM groups`
	args := make([]any, len(statuses))
	for i, s := range statuses {
		args[i] = string(s)
	}
	if len(statuses) > 0 {
		query += ` WHERE status IN (` + placeholders(len(statuses)) + `)`
	}
	query += ` ORDER BY created_at, id`

	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list groups: %w", err)
	}
	defer rows.Close()

	var groups []*models.Group
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan group: %w", err)
		}
		groups = append(groups, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate groups: %w", err)
	}

	return groups, nil
}

// SetGroupStatus moves a group between statuses, stamping activation and
// completion times.
func (t *txStore) SetGroupStatus(ctx context.Context, groupID string, from, to models.GroupStatus, at time.Time) error {
	if err := models.CheckGroupTransition(from, to); err != nil {
		return err
	}

	query := `UPDATE groups SET status = ?`
	args := []any{string(to)}
	switch to {
	case models.GroupActive:
		query += `, activated_at = COALESCE(activated_at, ?)`
		args = append(args, toMillis(at))
	case models.GroupCompleted:
		query += `, completed_at = ?`
		args = append(args, toMillis(at))
	}
	query += ` WHERE id = ? AND status = ?`
	args = append(args, groupID, string(from))

	res, err := t.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update group status: %w", err)
	}
	return expectOneRow(res, "group "+groupID)
}
