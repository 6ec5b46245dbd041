package withdrawal

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"taptoken/internal/database"
	"taptoken/internal/model"
)

// LockStore is the shared coordination primitive between processor instances.
// Implementations must treat a lock older than the timeout as abandoned.
type LockStore interface {
	AcquireLock(ctx context.Context, ownerID string, timeout time.Duration) (bool, error)
	RefreshLock(ctx context.Context, ownerID string) (bool, error)
	ReleaseLock(ctx context.Context, ownerID string) error
}

type ProcessorConfig struct {
	PollInterval time.Duration
	InitialDelay time.Duration
	MinRunGap    time.Duration
	LockTimeout  time.Duration
	BatchSize    int
}

// Processor discovers pending withdrawals and drives them through the
// settlement engine. Multiple independent instances may exist (an API server
// plus a standalone worker); the shared lock makes sure only one of them
// runs the poll loop at a time.
type Processor struct {
	locks  LockStore
	store  RecordStore
	engine *Engine
	cfg    ProcessorConfig
	log    *zap.SugaredLogger

	instanceID string

	mu      sync.Mutex
	running bool
	lastRun time.Time
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewProcessor(locks LockStore, store RecordStore, engine *Engine, cfg ProcessorConfig, log *zap.SugaredLogger) *Processor {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 5
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 30 * time.Second
	}
	instanceID := "processor_" + uuid.NewString()
	return &Processor{
		locks:      locks,
		store:      store,
		engine:     engine,
		cfg:        cfg,
		log:        log.With("instance_id", instanceID),
		instanceID: instanceID,
	}
}

// InstanceID returns this processor's lock owner identity
func (p *Processor) InstanceID() string {
	return p.instanceID
}

// Running reports whether this instance holds the lock and polls
func (p *Processor) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Start tries to acquire the shared lock and begin polling. When another
// live instance holds the lock this is a no-op: the instance stands down
// and the caller keeps running without a background processor.
func (p *Processor) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}

	acquired, err := p.locks.AcquireLock(ctx, p.instanceID, p.cfg.LockTimeout)
	if err != nil {
		return fmt.Errorf("failed to acquire processor lock: %v", err)
	}
	if !acquired {
		p.log.Infow("another processor holds the lock, standing down")
		return nil
	}

	runCtx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan struct{})
	p.running = true

	p.log.Infow("withdrawal processor started",
		"poll_interval", p.cfg.PollInterval, "batch_size", p.cfg.BatchSize)

	go p.run(runCtx)
	return nil
}

// Stop cancels the poll loop and releases the lock if this instance owns it
func (p *Processor) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	cancel := p.cancel
	done := p.done
	p.mu.Unlock()

	cancel()
	<-done

	ctx, ctxCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer ctxCancel()
	if err := p.locks.ReleaseLock(ctx, p.instanceID); err != nil {
		p.log.Warnw("failed to release processor lock", "error", err)
	}
	p.log.Infow("withdrawal processor stopped")
}

func (p *Processor) run(ctx context.Context) {
	defer close(p.done)

	// The first run is delayed a few seconds so that instances starting at
	// the same moment don't race each other over the same batch.
	select {
	case <-ctx.Done():
		return
	case <-time.After(p.cfg.InitialDelay):
	}
	p.runCycle(ctx)

	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.runCycle(ctx)
		}
	}
}

// runCycle performs one poll: renew the lock, fetch the oldest pending
// records, and settle them one by one. Failures are isolated per record;
// store trouble skips the whole cycle and the next tick retries.
func (p *Processor) runCycle(ctx context.Context) {
	p.mu.Lock()
	if time.Since(p.lastRun) < p.cfg.MinRunGap {
		p.mu.Unlock()
		p.log.Debugw("skipping cycle, previous run finished too recently")
		return
	}
	p.lastRun = time.Now()
	p.mu.Unlock()

	if ok, err := p.locks.RefreshLock(ctx, p.instanceID); err != nil {
		p.log.Warnw("failed to refresh processor lock", "error", err)
		return
	} else if !ok {
		// Someone seized the lock while we were idle; stop touching records.
		p.log.Warnw("processor lock lost, skipping cycle")
		return
	}

	pending, err := p.store.PendingWithdrawals(ctx, p.cfg.BatchSize)
	if err != nil {
		p.log.Warnw("failed to fetch pending withdrawals", "error", err)
		return
	}
	if len(pending) == 0 {
		return
	}

	p.log.Infow("processing pending withdrawals", "count", len(pending))
	for _, rec := range pending {
		p.settleOne(ctx, rec)
		if ctx.Err() != nil {
			return
		}
	}
}

// settleOne re-checks the record's status immediately before settling and
// shields the loop from panics. A record that blew up mid-settlement is
// forced to failed, but only if it is still pending: the conditional update
// keeps us from clobbering a state another instance wrote in the meantime.
func (p *Processor) settleOne(ctx context.Context, rec model.Withdrawal) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Errorw("panic while settling withdrawal", "withdrawal_id", rec.ID, "panic", r)
			msg := fmt.Sprintf("internal error: %v", r)
			now := time.Now().UTC()
			if _, err := p.store.UpdateWithdrawal(ctx, rec.ID, database.WithdrawalUpdate{
				Status:       model.WithdrawalStatusFailed,
				ErrorMessage: &msg,
				ProcessedAt:  &now,
			}, model.WithdrawalStatusPending); err != nil {
				p.log.Errorw("failed to mark withdrawal failed after panic", "withdrawal_id", rec.ID, "error", err)
			}
		}
	}()

	current, err := p.store.GetWithdrawal(ctx, rec.ID)
	if err != nil {
		p.log.Warnw("failed to re-check withdrawal status", "withdrawal_id", rec.ID, "error", err)
		return
	}
	if current.Status != model.WithdrawalStatusPending {
		p.log.Infow("withdrawal no longer pending, skipping",
			"withdrawal_id", rec.ID, "status", current.Status)
		return
	}

	res := p.engine.Settle(ctx, current)
	if res.Success {
		p.log.Infow("withdrawal settled", "withdrawal_id", rec.ID, "tx_hash", res.TxHash)
	} else {
		p.log.Warnw("withdrawal not settled", "withdrawal_id", rec.ID, "message", res.Message)
	}
}

// ProcessOne settles a single record outside the poll loop, for
// user-triggered "claim now" flows. It follows the same
// status-check-then-settle path as the scheduler.
func (p *Processor) ProcessOne(ctx context.Context, id int64) (Result, error) {
	rec, err := p.store.GetWithdrawal(ctx, id)
	if err != nil {
		return Result{}, err
	}
	if rec.Status != model.WithdrawalStatusPending && rec.TxHash == "" {
		return Result{Success: false, Message: fmt.Sprintf("withdrawal is %s", rec.Status)}, nil
	}
	return p.engine.Settle(ctx, rec), nil
}
