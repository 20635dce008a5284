package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mmynk/ajo/internal/models"
)

const memberColumns = `id, group_id, user_id, display_name, payout_destination, position, status,
	joined_at, qualified_at, qualify_order`

// AddMember inserts a new membership record.
func (t *txStore) AddMember(ctx context.Context, member *models.Member) error {
	if member.ID == "" {
		member.ID = uuid.New().String()
	}
	if member.JoinedAt.IsZero() {
		member.JoinedAt = time.Now().UTC()
	}
	if member.Status == "" {
		member.Status = models.MemberPending
	}

	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO members (`+memberColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		member.ID, member.GroupID, member.UserID, member.DisplayName, member.PayoutDestination,
		member.Position, string(member.Status), toMillis(member.JoinedAt),
		nullMillis(member.QualifiedAt), member.QualifyOrder,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: user %s already in group %s", models.ErrDuplicateOperation, member.UserID, member.GroupID)
	}
	if err != nil {
		return fmt.Errorf("failed to insert member: %w", err)
	}

	return nil
}

func scanMember(row rowScanner) (*models.Member, error) {
	m := &models.Member{}
	var status string
	var joinedAt int64
	var qualifiedAt sql.NullInt64

	err := row.Scan(&m.ID, &m.GroupID, &m.UserID, &m.DisplayName, &m.PayoutDestination,
		&m.Position, &status, &joinedAt, &qualifiedAt, &m.QualifyOrder)
	if err != nil {
		return nil, err
	}

	m.Status = models.MemberStatus(status)
	m.JoinedAt = fromMillis(joinedAt)
	m.QualifiedAt = timePtr(qualifiedAt)
	return m, nil
}

// GetMember retrieves a member by ID.
func (t *txStore) GetMember(ctx context.Context, memberID string) (*models.Member, error) {
	m, err := scanMember(t.tx.QueryRowContext(ctx,
		`SELECT `+memberColumns+` FROM members WHERE id = ?`, memberID))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: member %s", models.ErrNotFound, memberID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get member: %w", err)
	}
	return m, nil
}

// ListMembers retrieves the group's members. Unassigned positions (0) sort
// after assigned ones.
func (t *txStore) ListMembers(ctx context.Context, groupID string) ([]*models.Member, error) {
	rows, err := t.tx.QueryContext(ctx,
		`SELECT `+memberColumns+` FROM members
		 WHERE group_id = ?
		 ORDER BY position = 0, position,
		          qualify_order = 0, qualify_order,
		          joined_at, id`,
		groupID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	defer rows.Close()

	var members []*models.Member
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate members: %w", err)
	}

	return members, nil
}

// MarkMemberQualified records that the member met the activation requirement.
// Qualifying twice is a duplicate operation.
func (t *txStore) MarkMemberQualified(ctx context.Context, memberID string, at time.Time) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE members
		 SET qualified_at = ?,
		     qualify_order = (SELECT COALESCE(MAX(qualify_order), 0) + 1 FROM members m2
		                      WHERE m2.group_id = members.group_id)
		 WHERE id = ? AND qualified_at IS NULL`,
		toMillis(at), memberID,
	)
	if err != nil {
		return fmt.Errorf("failed to qualify member: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		if _, err := t.GetMember(ctx, memberID); err != nil {
			return err
		}
		return fmt.Errorf("%w: member %s already qualified", models.ErrDuplicateOperation, memberID)
	}
	return nil
}

// AssignPositions writes rotation positions and activates the members. The
// partial unique index on (group_id, position) rejects duplicates.
func (t *txStore) AssignPositions(ctx context.Context, groupID string, positions map[string]int) error {
	for memberID, position := range positions {
		res, err := t.tx.ExecContext(ctx,
			`UPDATE members SET position = ?, status = ?
			 WHERE id = ? AND group_id = ? AND position = 0`,
			position, string(models.MemberActive), memberID, groupID,
		)
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: position %d already taken in group %s", models.ErrInvariantViolation, position, groupID)
		}
		if err != nil {
			return fmt.Errorf("failed to assign position: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to read rows affected: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("%w: member %s is not an unpositioned member of group %s",
				models.ErrInvariantViolation, memberID, groupID)
		}
	}
	return nil
}
