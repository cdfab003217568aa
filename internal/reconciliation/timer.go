package reconciliation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Timer periodically runs reconciliation.
type Timer struct {
	runner   *Runner
	interval time.Duration
	logger   *slog.Logger
	stop     chan struct{}
	stopOnce sync.Once
	running  atomic.Bool
}

// NewTimer creates a reconciliation timer. An interval of zero or less
// makes Start return immediately.
func NewTimer(runner *Runner, interval time.Duration, logger *slog.Logger) *Timer {
	return &Timer{
		runner:   runner,
		interval: interval,
		logger:   logger,
		stop:     make(chan struct{}),
	}
}

// Enabled reports whether the timer has a positive interval.
func (t *Timer) Enabled() bool {
	return t.interval > 0
}

// Running reports whether the timer loop is actively running.
func (t *Timer) Running() bool {
	return t.running.Load()
}

// Start begins the periodic reconciliation loop. Call in a goroutine.
func (t *Timer) Start(ctx context.Context) {
	if !t.Enabled() {
		t.logger.Info("reconciliation timer disabled")
		return
	}
	t.running.Store(true)
	defer t.running.Store(false)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stop:
			return
		case <-ticker.C:
			t.safeRun(ctx)
		}
	}
}

// Stop signals the timer to stop. Safe to call more than once.
func (t *Timer) Stop() {
	t.stopOnce.Do(func() { close(t.stop) })
}

func (t *Timer) safeRun(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("panic in reconciliation timer", "panic", fmt.Sprint(r))
		}
	}()

	report, err := t.runner.RunAll(ctx)
	switch {
	case errors.Is(err, ErrAlreadyRunning):
		t.logger.Debug("reconciliation skipped, previous run still in progress")
	case err != nil:
		t.logger.Warn("reconciliation run failed", "error", err)
	case !report.Healthy:
		t.logger.Warn("reconciliation found failures", "failed", report.Failed, "tenants", report.Tenants)
	}
}
