package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mmynk/ajo/internal/models"
)

const cycleColumns = `id, group_id, sequence, due_date, status, created_at, closed_at`

// CreateCycle inserts a cycle. A second cycle with the same sequence is a
// duplicate operation.
func (t *txStore) CreateCycle(ctx context.Context, cycle *models.Cycle) error {
	if cycle.ID == "" {
		cycle.ID = uuid.New().String()
	}
	if cycle.CreatedAt.IsZero() {
		cycle.CreatedAt = time.Now().UTC()
	}
	if cycle.Status == "" {
		cycle.Status = models.CycleOpen
	}

	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO cycles (`+cycleColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		cycle.ID, cycle.GroupID, cycle.Sequence, toMillis(cycle.DueDate), string(cycle.Status),
		toMillis(cycle.CreatedAt), nullMillis(cycle.ClosedAt),
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: cycle %d of group %s exists", models.ErrDuplicateOperation, cycle.Sequence, cycle.GroupID)
	}
	if err != nil {
		return fmt.Errorf("failed to insert cycle: %w", err)
	}
	return nil
}

func scanCycle(row rowScanner) (*models.Cycle, error) {
	c := &models.Cycle{}
	var status string
	var dueDate, createdAt int64
	var closedAt sql.NullInt64

	if err := row.Scan(&c.ID, &c.GroupID, &c.Sequence, &dueDate, &status, &createdAt, &closedAt); err != nil {
		return nil, err
	}

	c.DueDate = fromMillis(dueDate)
	c.Status = models.CycleStatus(status)
	c.CreatedAt = fromMillis(createdAt)
	c.ClosedAt = timePtr(closedAt)
	return c, nil
}

func (t *txStore) getCycleWhere(ctx context.Context, where string, args ...any) (*models.Cycle, error) {
	c, err := scanCycle(t.tx.QueryRowContext(ctx,
		`SELECT `+cycleColumns+` FROM cycles WHERE `+where, args...))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: cycle", models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cycle: %w", err)
	}
	return c, nil
}

// GetCycle retrieves a cycle by ID.
func (t *txStore) GetCycle(ctx context.Context, cycleID string) (*models.Cycle, error) {
	return t.getCycleWhere(ctx, `id = ?`, cycleID)
}

// CurrentCycle derives the group's current cycle from the cycle rows.
func (t *txStore) CurrentCycle(ctx context.Context, groupID string) (*models.Cycle, error) {
	return t.getCycleWhere(ctx,
		`group_id = ? AND status != ? ORDER BY sequence DESC LIMIT 1`,
		groupID, string(models.CycleClosed))
}

// LastCycle retrieves the group's highest-sequence cycle.
func (t *txStore) LastCycle(ctx context.Context, groupID string) (*models.Cycle, error) {
	return t.getCycleWhere(ctx, `group_id = ? ORDER BY sequence DESC LIMIT 1`, groupID)
}

// ListCycles retrieves all cycles of a group in sequence order.
func (t *txStore) ListCycles(ctx context.Context, groupID string) ([]*models.Cycle, error) {
	rows, err := t.tx.QueryContext(ctx,
		`SELECT `+cycleColumns+` FROM cycles WHERE group_id = ? ORDER BY sequence`, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to list cycles: %w", err)
	}
	defer rows.Close()

	var cycles []*models.Cycle
	for rows.Next() {
		c, err := scanCycle(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan cycle: %w", err)
		}
		cycles = append(cycles, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate cycles: %w", err)
	}
	return cycles, nil
}

// SetCycleStatus moves a cycle one step along its state machine.
func (t *txStore) SetCycleStatus(ctx context.Context, cycleID string, from, to models.CycleStatus, at time.Time) error {
	if err := models.CheckCycleTransition(from, to); err != nil {
		return err
	}

	var closedAt any
	if to == models.CycleClosed {
		closedAt = toMillis(at)
	}
	res, err := t.tx.ExecContext(ctx,
		`UPDATE cycles SET status = ?, closed_at = COALESCE(?, closed_at) WHERE id = ? AND status = ?`,
		string(to), closedAt, cycleID, string(from),
	)
	if err != nil {
		return fmt.Errorf("failed to update cycle status: %w", err)
	}
	return expectOneRow(res, "cycle "+cycleID)
}
