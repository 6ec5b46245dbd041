package withdrawal

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"taptoken/internal/database"
	"taptoken/internal/model"
	"taptoken/internal/solana"
)

type fakeLedger struct {
	mu         sync.Mutex
	balances   map[int64]int64
	decrements int
	getErr     error
}

func (f *fakeLedger) GetBalance(_ context.Context, userID int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return 0, f.getErr
	}
	return f.balances[userID], nil
}

func (f *fakeLedger) DecrementBalanceForWithdrawal(_ context.Context, userID, amount int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.balances[userID] < amount {
		return database.ErrInsufficientBalance
	}
	f.balances[userID] -= amount
	f.decrements++
	return nil
}

func (f *fakeLedger) balance(userID int64) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balances[userID]
}

type fakeStore struct {
	mu           sync.Mutex
	recs         map[int64]model.Withdrawal
	pendingCalls int
	updateErr    error
}

func newFakeStore(recs ...model.Withdrawal) *fakeStore {
	s := &fakeStore{recs: make(map[int64]model.Withdrawal)}
	for _, r := range recs {
		s.recs[r.ID] = r
	}
	return s
}

func (f *fakeStore) GetWithdrawal(_ context.Context, id int64) (model.Withdrawal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.recs[id]
	if !ok {
		return model.Withdrawal{}, database.ErrNotFound
	}
	return rec, nil
}

func (f *fakeStore) UpdateWithdrawal(_ context.Context, id int64, upd database.WithdrawalUpdate, expectStatus ...string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return false, f.updateErr
	}
	rec, ok := f.recs[id]
	if !ok {
		return false, nil
	}
	if len(expectStatus) > 0 {
		match := false
		for _, s := range expectStatus {
			if rec.Status == s {
				match = true
				break
			}
		}
		if !match {
			return false, nil
		}
	}
	if upd.Status != "" {
		rec.Status = upd.Status
	}
	if upd.TxHash != nil {
		rec.TxHash = *upd.TxHash
	}
	if upd.ErrorMessage != nil {
		rec.ErrorMessage = *upd.ErrorMessage
	}
	if upd.ProcessedAt != nil {
		rec.ProcessedAt = upd.ProcessedAt
	}
	f.recs[id] = rec
	return true, nil
}

func (f *fakeStore) PendingWithdrawals(_ context.Context, limit int) ([]model.Withdrawal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pendingCalls++
	var out []model.Withdrawal
	for _, r := range f.recs {
		if r.Status == model.WithdrawalStatusPending {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeStore) WithdrawalStats(_ context.Context) (model.WithdrawalStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var stats model.WithdrawalStats
	for _, r := range f.recs {
		stats.Total++
		stats.TotalAmount += r.Amount
		switch r.Status {
		case model.WithdrawalStatusPending:
			stats.Pending++
		case model.WithdrawalStatusProcessing, model.WithdrawalStatusSent:
			stats.Processing++
		case model.WithdrawalStatusCompleted:
			stats.Completed++
			stats.CompletedAmount += r.Amount
		case model.WithdrawalStatusFailed:
			stats.Failed++
		}
	}
	return stats, nil
}

func (f *fakeStore) get(id int64) model.Withdrawal {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.recs[id]
}

func (f *fakeStore) set(rec model.Withdrawal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recs[rec.ID] = rec
}

type fakeWallet struct {
	mu            sync.Mutex
	invalidAddrs  map[string]bool
	reserveErr    error
	reserveCalls  int
	transferErrs  []error
	transferCalls int
	txHash        string
}

func (f *fakeWallet) ValidateAddress(addr string) bool {
	return !f.invalidAddrs[addr]
}

func (f *fakeWallet) ToBaseUnits(amount int64) uint64 {
	return uint64(amount) * 1_000_000
}

func (f *fakeWallet) CheckReserves(_ context.Context, _ uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reserveCalls++
	return f.reserveErr
}

func (f *fakeWallet) Transfer(_ context.Context, _ string, _ uint64) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transferCalls++
	if f.transferCalls <= len(f.transferErrs) {
		return "", f.transferErrs[f.transferCalls-1]
	}
	return f.txHash, nil
}

func (f *fakeWallet) transfers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.transferCalls
}

type fakeAlerter struct {
	mu       sync.Mutex
	messages []string
}

func (f *fakeAlerter) Alert(_ context.Context, message string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, message)
}

func (f *fakeAlerter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.messages)
}

func testEngineConfig() EngineConfig {
	return EngineConfig{
		MinWithdrawal: 1000,
		RetryAttempts: 3,
		RetryBackoff:  time.Millisecond,
	}
}

func pendingRecord(id, userID, amount int64) model.Withdrawal {
	return model.Withdrawal{
		ID:            id,
		UserID:        userID,
		Amount:        amount,
		WalletAddress: "DestWallet1111111111111111111111111111111111",
		Status:        model.WithdrawalStatusPending,
		CreatedAt:     time.Now().UTC(),
	}
}

func TestSettleSuccess(t *testing.T) {
	ledger := &fakeLedger{balances: map[int64]int64{7: 5000}}
	rec := pendingRecord(1, 7, 1000)
	store := newFakeStore(rec)
	wallet := &fakeWallet{txHash: "sig123"}

	engine := NewEngine(ledger, store, wallet, nil, testEngineConfig(), zap.NewNop().Sugar())
	res := engine.Settle(context.Background(), rec)

	require.True(t, res.Success)
	assert.Equal(t, "sig123", res.TxHash)

	got := store.get(1)
	assert.Equal(t, model.WithdrawalStatusCompleted, got.Status)
	assert.Equal(t, "sig123", got.TxHash)
	assert.Empty(t, got.ErrorMessage)
	require.NotNil(t, got.ProcessedAt)

	assert.Equal(t, int64(4000), ledger.balance(7))
	assert.Equal(t, 1, ledger.decrements)
	assert.Equal(t, 1, wallet.transfers())
}

func TestSettleBelowMinimum(t *testing.T) {
	ledger := &fakeLedger{balances: map[int64]int64{7: 5000}}
	rec := pendingRecord(1, 7, 500)
	store := newFakeStore(rec)
	wallet := &fakeWallet{txHash: "sig123"}

	engine := NewEngine(ledger, store, wallet, nil, testEngineConfig(), zap.NewNop().Sugar())
	res := engine.Settle(context.Background(), rec)

	require.False(t, res.Success)
	assert.Contains(t, res.Message, "minimum withdrawal")

	got := store.get(1)
	assert.Equal(t, model.WithdrawalStatusFailed, got.Status)
	assert.NotEmpty(t, got.ErrorMessage)

	// no network calls, ledger untouched
	assert.Equal(t, 0, wallet.transfers())
	assert.Equal(t, 0, wallet.reserveCalls)
	assert.Equal(t, int64(5000), ledger.balance(7))
}

func TestSettleInvalidAddress(t *testing.T) {
	ledger := &fakeLedger{balances: map[int64]int64{7: 5000}}
	rec := pendingRecord(1, 7, 1000)
	store := newFakeStore(rec)
	wallet := &fakeWallet{txHash: "sig123", invalidAddrs: map[string]bool{rec.WalletAddress: true}}

	engine := NewEngine(ledger, store, wallet, nil, testEngineConfig(), zap.NewNop().Sugar())
	res := engine.Settle(context.Background(), rec)

	require.False(t, res.Success)
	assert.Equal(t, model.WithdrawalStatusFailed, store.get(1).Status)
	assert.Equal(t, 0, wallet.transfers())
	assert.Equal(t, int64(5000), ledger.balance(7))
}

func TestSettleInsufficientBalance(t *testing.T) {
	ledger := &fakeLedger{balances: map[int64]int64{7: 500}}
	rec := pendingRecord(1, 7, 1000)
	store := newFakeStore(rec)
	wallet := &fakeWallet{txHash: "sig123"}

	engine := NewEngine(ledger, store, wallet, nil, testEngineConfig(), zap.NewNop().Sugar())
	res := engine.Settle(context.Background(), rec)

	require.False(t, res.Success)
	assert.Contains(t, res.Message, "insufficient balance")
	assert.Equal(t, model.WithdrawalStatusFailed, store.get(1).Status)
	assert.Equal(t, 0, wallet.transfers())
	assert.Equal(t, int64(500), ledger.balance(7))
}

func TestSettleReplayWithTxHashDoesNotResubmit(t *testing.T) {
	ledger := &fakeLedger{balances: map[int64]int64{7: 5000}}
	rec := pendingRecord(1, 7, 1000)
	rec.Status = model.WithdrawalStatusProcessing
	rec.TxHash = "sig-previous"
	store := newFakeStore(rec)
	wallet := &fakeWallet{txHash: "sig-should-not-be-used"}

	engine := NewEngine(ledger, store, wallet, nil, testEngineConfig(), zap.NewNop().Sugar())
	res := engine.Settle(context.Background(), rec)

	require.True(t, res.Success)
	assert.Equal(t, "sig-previous", res.TxHash)
	assert.Equal(t, 0, wallet.transfers())

	// the interrupted completion is finished now, debit happens exactly here
	got := store.get(1)
	assert.Equal(t, model.WithdrawalStatusCompleted, got.Status)
	assert.Equal(t, int64(4000), ledger.balance(7))
	assert.Equal(t, 1, ledger.decrements)
}

func TestSettleReplayOnCompletedRecordKeepsLedger(t *testing.T) {
	ledger := &fakeLedger{balances: map[int64]int64{7: 4000}}
	rec := pendingRecord(1, 7, 1000)
	rec.Status = model.WithdrawalStatusCompleted
	rec.TxHash = "sig-previous"
	store := newFakeStore(rec)
	wallet := &fakeWallet{txHash: "sig-should-not-be-used"}

	engine := NewEngine(ledger, store, wallet, nil, testEngineConfig(), zap.NewNop().Sugar())
	res := engine.Settle(context.Background(), rec)

	require.True(t, res.Success)
	assert.Equal(t, 0, wallet.transfers())
	// the completion CAS misses, so no second debit
	assert.Equal(t, int64(4000), ledger.balance(7))
	assert.Equal(t, 0, ledger.decrements)
}

func TestSettleLosesClaimRace(t *testing.T) {
	ledger := &fakeLedger{balances: map[int64]int64{7: 5000}}
	rec := pendingRecord(1, 7, 1000)
	store := newFakeStore(rec)
	wallet := &fakeWallet{txHash: "sig123"}

	// another instance claimed the record after our caller read it
	claimed := rec
	claimed.Status = model.WithdrawalStatusCompleted
	claimed.TxHash = "sig-other"
	store.set(claimed)

	engine := NewEngine(ledger, store, wallet, nil, testEngineConfig(), zap.NewNop().Sugar())
	res := engine.Settle(context.Background(), rec)

	require.False(t, res.Success)
	assert.Contains(t, res.Message, "already being processed")
	assert.Equal(t, 0, wallet.transfers())
	assert.Equal(t, int64(5000), ledger.balance(7))
	// the other instance's terminal state is left alone
	assert.Equal(t, model.WithdrawalStatusCompleted, store.get(1).Status)
}

func TestSettleReserveExhaustionAlertsOperator(t *testing.T) {
	ledger := &fakeLedger{balances: map[int64]int64{7: 5000}}
	rec := pendingRecord(1, 7, 1000)
	store := newFakeStore(rec)
	wallet := &fakeWallet{
		txHash:     "sig123",
		reserveErr: &solana.ReserveError{Detail: "treasury token account has 0 units, needs 1000000000"},
	}
	alerter := &fakeAlerter{}

	engine := NewEngine(ledger, store, wallet, alerter, testEngineConfig(), zap.NewNop().Sugar())
	res := engine.Settle(context.Background(), rec)

	require.False(t, res.Success)
	assert.Equal(t, model.WithdrawalStatusFailed, store.get(1).Status)
	assert.Equal(t, 1, alerter.count())
	assert.Equal(t, 0, wallet.transfers())
	assert.Equal(t, int64(5000), ledger.balance(7))
}

func TestSettleRetriesTransientTransferErrors(t *testing.T) {
	ledger := &fakeLedger{balances: map[int64]int64{7: 5000}}
	rec := pendingRecord(1, 7, 1000)
	store := newFakeStore(rec)
	wallet := &fakeWallet{
		txHash: "sig123",
		transferErrs: []error{
			retryableForTest(t, "blockhash not found"),
			retryableForTest(t, "transaction not confirmed within 60s"),
		},
	}

	engine := NewEngine(ledger, store, wallet, nil, testEngineConfig(), zap.NewNop().Sugar())
	res := engine.Settle(context.Background(), rec)

	require.True(t, res.Success)
	assert.Equal(t, 3, wallet.transfers())
	assert.Equal(t, model.WithdrawalStatusCompleted, store.get(1).Status)
	assert.Equal(t, int64(4000), ledger.balance(7))
}

func TestSettleTerminalTransferErrorDoesNotRetry(t *testing.T) {
	ledger := &fakeLedger{balances: map[int64]int64{7: 5000}}
	rec := pendingRecord(1, 7, 1000)
	store := newFakeStore(rec)
	wallet := &fakeWallet{
		txHash:       "sig123",
		transferErrs: []error{errors.New("transaction failed on-chain: InsufficientFundsForRent")},
	}

	engine := NewEngine(ledger, store, wallet, nil, testEngineConfig(), zap.NewNop().Sugar())
	res := engine.Settle(context.Background(), rec)

	require.False(t, res.Success)
	assert.Equal(t, 1, wallet.transfers())

	got := store.get(1)
	assert.Equal(t, model.WithdrawalStatusFailed, got.Status)
	assert.Contains(t, got.ErrorMessage, "transfer failed")
	assert.Equal(t, int64(5000), ledger.balance(7))
	assert.Equal(t, 0, ledger.decrements)
}

func TestSettleRetryExhaustionFails(t *testing.T) {
	ledger := &fakeLedger{balances: map[int64]int64{7: 5000}}
	rec := pendingRecord(1, 7, 1000)
	store := newFakeStore(rec)
	wallet := &fakeWallet{
		txHash: "sig123",
		transferErrs: []error{
			retryableForTest(t, "timed out"),
			retryableForTest(t, "timed out"),
			retryableForTest(t, "timed out"),
		},
	}

	engine := NewEngine(ledger, store, wallet, nil, testEngineConfig(), zap.NewNop().Sugar())
	res := engine.Settle(context.Background(), rec)

	require.False(t, res.Success)
	assert.Equal(t, 3, wallet.transfers())
	assert.Equal(t, model.WithdrawalStatusFailed, store.get(1).Status)
	assert.Equal(t, int64(5000), ledger.balance(7))
}

// retryableForTest produces an error the engine's whitelist treats as transient
func retryableForTest(t *testing.T, msg string) error {
	t.Helper()
	err := solana.Retryable(errors.New(msg))
	require.True(t, solana.IsRetryable(err))
	return err
}
