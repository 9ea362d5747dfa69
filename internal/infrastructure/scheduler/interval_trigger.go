package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// JobSubmitter queues incremental jobs for every expense class
type JobSubmitter interface {
	SubmitIncremental() error
}

// IntervalTrigger submits incremental recomputes on a fixed interval
type IntervalTrigger struct {
	interval  time.Duration
	submitter JobSubmitter
	logger    *zap.Logger

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	isRunning bool
	lastRun   time.Time
}

// NewIntervalTrigger creates a new interval trigger
func NewIntervalTrigger(interval time.Duration, submitter JobSubmitter, logger *zap.Logger) *IntervalTrigger {
	return &IntervalTrigger{
		interval:  interval,
		submitter: submitter,
		logger:    logger,
	}
}

// Start starts the trigger. The first round is submitted immediately.
func (t *IntervalTrigger) Start(ctx context.Context) error {
	if t.interval <= 0 {
		return ErrInvalidConfig
	}

	t.mu.Lock()
	if t.isRunning {
		t.mu.Unlock()
		return nil
	}
	t.isRunning = true
	t.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	t.cancel = cancel

	t.wg.Add(1)
	go t.runLoop(ctx)

	t.logger.Info("Interval trigger started", zap.Duration("interval", t.interval))
	return nil
}

// Stop stops the trigger
func (t *IntervalTrigger) Stop(ctx context.Context) error {
	t.mu.Lock()
	if !t.isRunning {
		t.mu.Unlock()
		return nil
	}
	t.isRunning = false
	t.mu.Unlock()

	if t.cancel != nil {
		t.cancel()
	}

	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		t.logger.Info("Interval trigger stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// LastRun returns when the last round was submitted
func (t *IntervalTrigger) LastRun() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastRun
}

func (t *IntervalTrigger) runLoop(ctx context.Context) {
	defer t.wg.Done()

	t.trigger()

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.trigger()
		}
	}
}

func (t *IntervalTrigger) trigger() {
	if err := t.submitter.SubmitIncremental(); err != nil {
		t.logger.Error("Failed to submit incremental recomputes", zap.Error(err))
		return
	}
	t.mu.Lock()
	t.lastRun = time.Now()
	t.mu.Unlock()
}
