package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// The processor lock is a single shared row. At most one live (non-stale)
// owner exists at a time; a row whose acquired_at is older than the timeout
// is treated as abandoned and may be seized.

// AcquireLock attempts to take the processor lock for ownerID. It returns
// false when another owner holds a live lock. Re-acquiring a lock this owner
// already holds refreshes it.
func (d *Database) AcquireLock(ctx context.Context, ownerID string, timeout time.Duration) (bool, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin lock transaction: %v", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()

	var currentOwner string
	var acquiredAt time.Time
	err = tx.QueryRowContext(ctx,
		"SELECT owner_id, acquired_at FROM processor_lock WHERE id = 1").
		Scan(&currentOwner, &acquiredAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO processor_lock (id, owner_id, acquired_at) VALUES (1, ?, ?)",
			ownerID, now); err != nil {
			return false, fmt.Errorf("failed to insert lock: %v", err)
		}
	case err != nil:
		return false, fmt.Errorf("failed to read lock: %v", err)
	case currentOwner != ownerID && now.Sub(acquiredAt) < timeout:
		// live lock held by someone else
		return false, nil
	default:
		// our own lock, or a stale one we can seize
		if _, err := tx.ExecContext(ctx,
			"UPDATE processor_lock SET owner_id = ?, acquired_at = ? WHERE id = 1",
			ownerID, now); err != nil {
			return false, fmt.Errorf("failed to take lock: %v", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit lock: %v", err)
	}
	return true, nil
}

// RefreshLock renews the lock timestamp if ownerID still holds it
func (d *Database) RefreshLock(ctx context.Context, ownerID string) (bool, error) {
	res, err := d.db.ExecContext(ctx,
		"UPDATE processor_lock SET acquired_at = ? WHERE id = 1 AND owner_id = ?",
		time.Now().UTC(), ownerID)
	if err != nil {
		return false, fmt.Errorf("failed to refresh lock: %v", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to refresh lock: %v", err)
	}
	return n > 0, nil
}

// ReleaseLock deletes the lock row if ownerID holds it
func (d *Database) ReleaseLock(ctx context.Context, ownerID string) error {
	if _, err := d.db.ExecContext(ctx,
		"DELETE FROM processor_lock WHERE id = 1 AND owner_id = ?", ownerID); err != nil {
		return fmt.Errorf("failed to release lock: %v", err)
	}
	return nil
}
