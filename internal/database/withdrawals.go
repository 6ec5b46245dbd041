package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"taptoken/internal/model"
)

// WithdrawalUpdate describes a partial update of a withdrawal record.
// Nil pointer fields are left untouched; pointing at the zero value clears
// the column (used to reset error_message on completion and retry).
type WithdrawalUpdate struct {
	Status       string
	TxHash       *string
	ErrorMessage *string
	ProcessedAt  *time.Time
}

// CreateWithdrawal inserts a new withdrawal request in status pending.
// The user's balance is NOT touched here; it is debited only after the
// on-chain transfer confirms.
func (d *Database) CreateWithdrawal(ctx context.Context, userID, amount int64, walletAddress string) (model.Withdrawal, error) {
	res, err := d.db.ExecContext(ctx, `
		INSERT INTO withdrawals (user_id, amount, wallet_address, status)
		VALUES (?, ?, ?, ?)`,
		userID, amount, walletAddress, model.WithdrawalStatusPending)
	if err != nil {
		return model.Withdrawal{}, fmt.Errorf("failed to create withdrawal: %v", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return model.Withdrawal{}, fmt.Errorf("failed to get withdrawal id: %v", err)
	}

	return d.GetWithdrawal(ctx, id)
}

func (d *Database) GetWithdrawal(ctx context.Context, id int64) (model.Withdrawal, error) {
	row := d.db.QueryRowContext(ctx, `
		SELECT id, user_id, amount, wallet_address, status, tx_hash, error_message, created_at, processed_at
		FROM withdrawals WHERE id = ?`, id)
	return scanWithdrawal(row)
}

// UpdateWithdrawal applies a partial update to one record. When expectStatus
// values are given, the update only happens if the record currently holds one
// of them; the returned bool reports whether a row actually changed. This is
// the single compare-and-swap primitive every status transition goes through.
func (d *Database) UpdateWithdrawal(ctx context.Context, id int64, upd WithdrawalUpdate, expectStatus ...string) (bool, error) {
	sets := make([]string, 0, 4)
	args := make([]interface{}, 0, 8)

	if upd.Status != "" {
		sets = append(sets, "status = ?")
		args = append(args, upd.Status)
	}
	if upd.TxHash != nil {
		sets = append(sets, "tx_hash = ?")
		args = append(args, *upd.TxHash)
	}
	if upd.ErrorMessage != nil {
		sets = append(sets, "error_message = ?")
		args = append(args, *upd.ErrorMessage)
	}
	if upd.ProcessedAt != nil {
		sets = append(sets, "processed_at = ?")
		args = append(args, *upd.ProcessedAt)
	}
	if len(sets) == 0 {
		return false, nil
	}

	query := "UPDATE withdrawals SET " + strings.Join(sets, ", ") + " WHERE id = ?"
	args = append(args, id)

	if len(expectStatus) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(expectStatus)), ", ")
		query += " AND status IN (" + placeholders + ")"
		for _, s := range expectStatus {
			args = append(args, s)
		}
	}

	res, err := d.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to update withdrawal: %v", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to update withdrawal: %v", err)
	}
	return n > 0, nil
}

// PendingWithdrawals returns up to limit pending records, oldest first
func (d *Database) PendingWithdrawals(ctx context.Context, limit int) ([]model.Withdrawal, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, user_id, amount, wallet_address, status, tx_hash, error_message, created_at, processed_at
		FROM withdrawals WHERE status = ?
		ORDER BY created_at ASC, id ASC
		LIMIT ?`, model.WithdrawalStatusPending, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending withdrawals: %v", err)
	}
	defer rows.Close()
	return collectWithdrawals(rows)
}

// WithdrawalsByUser returns a user's withdrawal history, newest first
func (d *Database) WithdrawalsByUser(ctx context.Context, userID int64) ([]model.Withdrawal, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, user_id, amount, wallet_address, status, tx_hash, error_message, created_at, processed_at
		FROM withdrawals WHERE user_id = ?
		ORDER BY created_at DESC, id DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query withdrawals: %v", err)
	}
	defer rows.Close()
	return collectWithdrawals(rows)
}

// WithdrawalStats aggregates record counts and amounts by status
func (d *Database) WithdrawalStats(ctx context.Context) (model.WithdrawalStats, error) {
	rows, err := d.db.QueryContext(ctx,
		"SELECT status, COUNT(*), COALESCE(SUM(amount), 0) FROM withdrawals GROUP BY status")
	if err != nil {
		return model.WithdrawalStats{}, fmt.Errorf("failed to query withdrawal stats: %v", err)
	}
	defer rows.Close()

	var stats model.WithdrawalStats
	for rows.Next() {
		var status string
		var count int
		var amount int64
		if err := rows.Scan(&status, &count, &amount); err != nil {
			return model.WithdrawalStats{}, fmt.Errorf("failed to scan withdrawal stats: %v", err)
		}
		stats.Total += count
		stats.TotalAmount += amount
		switch status {
		case model.WithdrawalStatusPending:
			stats.Pending += count
		case model.WithdrawalStatusProcessing, model.WithdrawalStatusSent:
			stats.Processing += count
		case model.WithdrawalStatusCompleted:
			stats.Completed += count
			stats.CompletedAmount += amount
		case model.WithdrawalStatusFailed:
			stats.Failed += count
		}
	}
	if err := rows.Err(); err != nil {
		return model.WithdrawalStats{}, fmt.Errorf("failed to read withdrawal stats: %v", err)
	}
	return stats, nil
}

func collectWithdrawals(rows *sql.Rows) ([]model.Withdrawal, error) {
	var out []model.Withdrawal
	for rows.Next() {
		w, err := scanWithdrawalRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read withdrawals: %v", err)
	}
	return out, nil
}

func scanWithdrawal(row *sql.Row) (model.Withdrawal, error) {
	var w model.Withdrawal
	var processedAt sql.NullTime
	err := row.Scan(&w.ID, &w.UserID, &w.Amount, &w.WalletAddress, &w.Status,
		&w.TxHash, &w.ErrorMessage, &w.CreatedAt, &processedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Withdrawal{}, ErrNotFound
		}
		return model.Withdrawal{}, fmt.Errorf("failed to scan withdrawal: %v", err)
	}
	if processedAt.Valid {
		w.ProcessedAt = &processedAt.Time
	}
	return w, nil
}

func scanWithdrawalRows(rows *sql.Rows) (model.Withdrawal, error) {
	var w model.Withdrawal
	var processedAt sql.NullTime
	err := rows.Scan(&w.ID, &w.UserID, &w.Amount, &w.WalletAddress, &w.Status,
		&w.TxHash, &w.ErrorMessage, &w.CreatedAt, &processedAt)
	if err != nil {
		return model.Withdrawal{}, fmt.Errorf("failed to scan withdrawal: %v", err)
	}
	if processedAt.Valid {
		w.ProcessedAt = &processedAt.Time
	}
	return w, nil
}
