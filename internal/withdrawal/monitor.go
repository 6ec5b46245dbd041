package withdrawal

import (
	"context"

	"taptoken/internal/database"
	"taptoken/internal/model"
)

// Monitor exposes read-side views over the withdrawal table plus the manual
// retry path for failed records.
type Monitor struct {
	records RecordStore
}

func NewMonitor(records RecordStore) *Monitor {
	return &Monitor{records: records}
}

func (m *Monitor) Stats(ctx context.Context) (model.WithdrawalStats, error) {
	return m.records.WithdrawalStats(ctx)
}

// RetryFailed puts a failed withdrawal back into the queue. Only status and
// error are reset; the ledger was never debited for a failed record, so there
// is no balance to restore.
func (m *Monitor) RetryFailed(ctx context.Context, id int64) (bool, error) {
	empty := ""
	return m.records.UpdateWithdrawal(ctx, id, database.WithdrawalUpdate{
		Status:       model.WithdrawalStatusPending,
		ErrorMessage: &empty,
	}, model.WithdrawalStatusFailed)
}
