package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mmynk/ajo/internal/models"
)

const transactionColumns = `id, group_id, cycle_id, member_id, kind, source_id, amount, direction, status,
	reference, created_at, updated_at`

// AppendTransaction adds a ledger row. The reference is unique across the ledger.
func (t *txStore) AppendTransaction(ctx context.Context, txn *models.Transaction) error {
	if txn.ID == "" {
		txn.ID = uuid.New().String()
	}
	if txn.CreatedAt.IsZero() {
		txn.CreatedAt = time.Now().UTC()
	}
	txn.UpdatedAt = txn.CreatedAt
	if txn.Status == "" {
		txn.Status = models.TransactionCompleted
	}

	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO transactions (`+transactionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		txn.ID, txn.GroupID, txn.CycleID, txn.MemberID, string(txn.Kind), txn.SourceID, txn.Amount,
		string(txn.Direction), string(txn.Status), txn.Reference,
		toMillis(txn.CreatedAt), toMillis(txn.UpdatedAt),
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: transaction reference %s", models.ErrDuplicateOperation, txn.Reference)
	}
	if err != nil {
		return fmt.Errorf("failed to append transaction: %w", err)
	}
	return nil
}

func scanTransaction(row rowScanner) (*models.Transaction, error) {
	txn := &models.Transaction{}
	var kind, direction, status string
	var createdAt, updatedAt int64

	if err := row.Scan(&txn.ID, &txn.GroupID, &txn.CycleID, &txn.MemberID, &kind, &txn.SourceID,
		&txn.Amount, &direction, &status, &txn.Reference, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	txn.Kind = models.TransactionKind(kind)
	txn.Direction = models.Direction(direction)
	txn.Status = models.TransactionStatus(status)
	txn.CreatedAt = fromMillis(createdAt)
	txn.UpdatedAt = fromMillis(updatedAt)
	return txn, nil
}

func (t *txStore) getTransactionWhere(ctx context.Context, where string, args ...any) (*models.Transaction, error) {
	txn, err := scanTransaction(t.tx.QueryRowContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE `+where, args...))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: transaction", models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	return txn, nil
}

// GetTransactionByReference retrieves the ledger row carrying an external reference.
func (t *txStore) GetTransactionByReference(ctx context.Context, reference string) (*models.Transaction, error) {
	return t.getTransactionWhere(ctx, `reference = ?`, reference)
}

// GetTransactionBySource retrieves the latest ledger row for a source.
func (t *txStore) GetTransactionBySource(ctx context.Context, kind models.TransactionKind, sourceID string) (*models.Transaction, error) {
	return t.getTransactionWhere(ctx,
		`kind = ? AND source_id = ? ORDER BY created_at DESC, rowid DESC LIMIT 1`, string(kind), sourceID)
}

// SetTransactionStatus is the only mutation a ledger row ever sees.
func (t *txStore) SetTransactionStatus(ctx context.Context, transactionID string, from, to models.TransactionStatus, at time.Time) error {
	if err := models.CheckTransactionTransition(from, to); err != nil {
		return err
	}
	res, err := t.tx.ExecContext(ctx,
		`UPDATE transactions SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(to), toMillis(at), transactionID, string(from),
	)
	if err != nil {
		return fmt.Errorf("failed to update transaction status: %w", err)
	}
	return expectOneRow(res, "transaction "+transactionID)
}

// ListTransactions retrieves a group's ledger in append order.
func (t *txStore) ListTransactions(ctx context.Context, groupID string) ([]*models.Transaction, error) {
	rows, err := t.tx.QueryContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE group_id = ? ORDER BY created_at, rowid`, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	var txns []*models.Transaction
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		txns = append(txns, txn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate transactions: %w", err)
	}
	return txns, nil
}
