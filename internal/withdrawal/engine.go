package withdrawal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"taptoken/internal/database"
	"taptoken/internal/model"
	"taptoken/internal/solana"
)

// Ledger is the off-chain balance store the engine reconciles against
type Ledger interface {
	GetBalance(ctx context.Context, userID int64) (int64, error)
	DecrementBalanceForWithdrawal(ctx context.Context, userID, amount int64) error
}

// RecordStore is the persistent withdrawal table. UpdateWithdrawal is a
// compare-and-swap: it only applies when the record currently holds one of
// the expected statuses and reports whether a row changed.
type RecordStore interface {
	GetWithdrawal(ctx context.Context, id int64) (model.Withdrawal, error)
	UpdateWithdrawal(ctx context.Context, id int64, upd database.WithdrawalUpdate, expectStatus ...string) (bool, error)
	PendingWithdrawals(ctx context.Context, limit int) ([]model.Withdrawal, error)
	WithdrawalStats(ctx context.Context) (model.WithdrawalStats, error)
}

// Wallet is the on-chain transfer executor
type Wallet interface {
	ValidateAddress(addr string) bool
	ToBaseUnits(amount int64) uint64
	CheckReserves(ctx context.Context, amountUnits uint64) error
	Transfer(ctx context.Context, destWallet string, amountUnits uint64) (string, error)
}

// Alerter notifies an operator about conditions the engine cannot fix itself,
// such as exhausted treasury reserves
type Alerter interface {
	Alert(ctx context.Context, message string)
}

type EngineConfig struct {
	MinWithdrawal int64
	RetryAttempts int
	RetryBackoff  time.Duration
}

// Result is what the immediate caller of a claim sees
type Result struct {
	Success bool
	TxHash  string
	Message string
}

// Engine turns one validated withdrawal request into an on-chain transfer
// and a consistent final record state. Every path through Settle ends in
// either a completed or a failed record; nothing is left in processing.
type Engine struct {
	ledger  Ledger
	records RecordStore
	wallet  Wallet
	alerter Alerter
	cfg     EngineConfig
	log     *zap.SugaredLogger
}

func NewEngine(ledger Ledger, records RecordStore, wallet Wallet, alerter Alerter, cfg EngineConfig, log *zap.SugaredLogger) *Engine {
	if cfg.RetryAttempts < 1 {
		cfg.RetryAttempts = 1
	}
	return &Engine{
		ledger:  ledger,
		records: records,
		wallet:  wallet,
		alerter: alerter,
		cfg:     cfg,
		log:     log,
	}
}

// claimable are the statuses a settlement attempt may take over: fresh
// requests plus claim markers left behind by an interrupted attempt.
var claimable = []string{
	model.WithdrawalStatusPending,
	model.WithdrawalStatusProcessing,
	model.WithdrawalStatusSent,
}

// Settle drives one withdrawal record to a terminal state.
//
// Order matters: the record is claimed before any network call, the transfer
// is submitted exactly once, and the ledger is debited only after the
// completed status has been recorded through a successful compare-and-swap.
// That CAS is the exactly-once guard for the debit.
func (e *Engine) Settle(ctx context.Context, rec model.Withdrawal) Result {
	log := e.log.With("withdrawal_id", rec.ID, "user_id", rec.UserID, "amount", rec.Amount)

	// Replay guard: a recorded transfer hash means the transfer may already
	// have succeeded even if the completion update was lost. Never resubmit.
	if rec.TxHash != "" {
		log.Infow("withdrawal already has a transfer hash, completing without resubmission", "tx_hash", rec.TxHash)
		e.complete(ctx, rec, rec.TxHash, log)
		return Result{Success: true, TxHash: rec.TxHash, Message: "withdrawal already processed"}
	}

	// Preconditions: local, non-retryable rejections. No network calls yet
	// and the ledger is untouched.
	if rec.Amount < e.cfg.MinWithdrawal {
		return e.reject(ctx, rec, fmt.Sprintf("minimum withdrawal amount is %d tokens", e.cfg.MinWithdrawal), log)
	}
	if !e.wallet.ValidateAddress(rec.WalletAddress) {
		return e.reject(ctx, rec, "invalid wallet address", log)
	}
	balance, err := e.ledger.GetBalance(ctx, rec.UserID)
	if err != nil {
		return e.reject(ctx, rec, fmt.Sprintf("failed to read balance: %v", err), log)
	}
	if balance < rec.Amount {
		return e.reject(ctx, rec, fmt.Sprintf("insufficient balance: have %d, requested %d", balance, rec.Amount), log)
	}

	// Claim: pending -> processing. Losing this CAS means another settlement
	// attempt got here first; back off with no side effects.
	claimed, err := e.records.UpdateWithdrawal(ctx, rec.ID,
		database.WithdrawalUpdate{Status: model.WithdrawalStatusProcessing},
		model.WithdrawalStatusPending, model.WithdrawalStatusSent)
	if err != nil {
		return e.reject(ctx, rec, fmt.Sprintf("failed to claim withdrawal: %v", err), log)
	}
	if !claimed {
		log.Infow("withdrawal already claimed by another processor, skipping")
		return Result{Success: false, Message: "withdrawal is already being processed"}
	}

	amountUnits := e.wallet.ToBaseUnits(rec.Amount)

	if err := e.wallet.CheckReserves(ctx, amountUnits); err != nil {
		var reserveErr *solana.ReserveError
		if errors.As(err, &reserveErr) {
			// Operational failure, not the user's fault: tell the operator.
			log.Errorw("treasury reserves exhausted", "error", err)
			e.alert(ctx, fmt.Sprintf("Withdrawal %d for %d tokens blocked: %v", rec.ID, rec.Amount, err))
			return e.fail(ctx, rec, err.Error(), log)
		}
		return e.fail(ctx, rec, fmt.Sprintf("reserve check failed: %v", err), log)
	}

	txHash, err := e.submitWithRetry(ctx, rec.WalletAddress, amountUnits, log)
	if err != nil {
		log.Errorw("transfer failed", "error", err)
		return e.fail(ctx, rec, fmt.Sprintf("transfer failed: %v", err), log)
	}

	e.complete(ctx, rec, txHash, log)
	log.Infow("withdrawal completed", "tx_hash", txHash)
	return Result{Success: true, TxHash: txHash, Message: "withdrawal processed successfully"}
}

// submitWithRetry submits the transfer, retrying only whitelisted transient
// failures a bounded number of times with a fixed backoff.
func (e *Engine) submitWithRetry(ctx context.Context, destWallet string, amountUnits uint64, log *zap.SugaredLogger) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= e.cfg.RetryAttempts; attempt++ {
		txHash, err := e.wallet.Transfer(ctx, destWallet, amountUnits)
		if err == nil {
			return txHash, nil
		}
		lastErr = err
		if !solana.IsRetryable(err) || attempt == e.cfg.RetryAttempts {
			break
		}
		log.Warnw("retryable transfer error, backing off", "attempt", attempt, "error", err)
		select {
		case <-ctx.Done():
			return "", lastErr
		case <-time.After(e.cfg.RetryBackoff):
		}
	}
	return "", lastErr
}

// complete records the terminal completed state and, if this call is the one
// that actually flipped the status, debits the ledger exactly once.
func (e *Engine) complete(ctx context.Context, rec model.Withdrawal, txHash string, log *zap.SugaredLogger) {
	now := time.Now().UTC()
	empty := ""
	changed, err := e.records.UpdateWithdrawal(ctx, rec.ID, database.WithdrawalUpdate{
		Status:       model.WithdrawalStatusCompleted,
		TxHash:       &txHash,
		ErrorMessage: &empty,
		ProcessedAt:  &now,
	}, claimable...)
	if err != nil {
		// The transfer confirmed; losing this update means the replay guard
		// has to finish the bookkeeping on the next attempt.
		log.Errorw("transfer confirmed but failed to record completion", "tx_hash", txHash, "error", err)
		return
	}
	if !changed {
		// Already completed by an earlier attempt; the debit happened then.
		return
	}

	if err := e.ledger.DecrementBalanceForWithdrawal(ctx, rec.UserID, rec.Amount); err != nil {
		log.Errorw("transfer confirmed but ledger debit failed, manual reconciliation required",
			"tx_hash", txHash, "error", err)
		e.alert(ctx, fmt.Sprintf("Ledger debit failed for completed withdrawal %d (user %d, %d tokens, tx %s): %v",
			rec.ID, rec.UserID, rec.Amount, txHash, err))
	}
}

// reject handles precondition failures: terminal, ledger untouched
func (e *Engine) reject(ctx context.Context, rec model.Withdrawal, message string, log *zap.SugaredLogger) Result {
	log.Warnw("withdrawal rejected", "reason", message)
	e.markFailed(ctx, rec.ID, message, log)
	return Result{Success: false, Message: message}
}

// fail handles failures after the record was claimed
func (e *Engine) fail(ctx context.Context, rec model.Withdrawal, message string, log *zap.SugaredLogger) Result {
	e.markFailed(ctx, rec.ID, message, log)
	return Result{Success: false, Message: message}
}

func (e *Engine) markFailed(ctx context.Context, id int64, message string, log *zap.SugaredLogger) {
	now := time.Now().UTC()
	if _, err := e.records.UpdateWithdrawal(ctx, id, database.WithdrawalUpdate{
		Status:       model.WithdrawalStatusFailed,
		ErrorMessage: &message,
		ProcessedAt:  &now,
	}, claimable...); err != nil {
		log.Errorw("failed to record withdrawal failure", "error", err)
	}
}

func (e *Engine) alert(ctx context.Context, message string) {
	if e.alerter != nil {
		e.alerter.Alert(ctx, message)
	}
}
