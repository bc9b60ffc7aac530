package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// Runner runs a single dispatch pass.
type Runner interface {
	RunPass(ctx context.Context) (Result, error)
}

// Ticker triggers a dispatch pass immediately and then on every interval. It
// stands in for an external cron when the service runs on its own.
type Ticker struct {
	log        *slog.Logger
	interval   time.Duration
	wg         sync.WaitGroup
	cancelOnce sync.Once
	cancel     context.CancelFunc
	started    bool
	mu         sync.Mutex
}

func NewTicker(logger *slog.Logger, interval time.Duration) *Ticker {
	return &Ticker{log: logger, interval: interval}
}

// Start launches the trigger loop.
func (t *Ticker) Start(ctx context.Context, r Runner) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.started {
		return errors.New("ticker already started")
	}
	if t.interval <= 0 {
		return errors.New("ticker interval must be positive")
	}
	ctx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.wg.Add(1)
	go t.loop(ctx, r)
	t.started = true
	return nil
}

func (t *Ticker) loop(ctx context.Context, r Runner) {
	defer t.wg.Done()
	tick := time.NewTicker(t.interval)
	defer tick.Stop()
	for {
		t.runOnce(ctx, r)
		select {
		case <-ctx.Done():
			t.log.Debug("ticker stopping due to context cancellation")
			return
		case <-tick.C:
		}
	}
}

func (t *Ticker) runOnce(ctx context.Context, r Runner) {
	start := time.Now()
	res, err := r.RunPass(ctx)
	switch {
	case err != nil:
		t.log.Error("dispatch pass failed", "err", err, "duration", time.Since(start))
	case res.Skipped:
		t.log.Debug("dispatch pass skipped")
	case len(res.Errors) > 0:
		t.log.Warn("dispatch pass finished with errors", "processed", res.Processed, "errors", res.Errors, "duration", time.Since(start))
	default:
		t.log.Debug("dispatch pass finished", "processed", res.Processed, "duration", time.Since(start))
	}
}

// Shutdown stops the loop and waits for an in-flight pass up to deadline.
func (t *Ticker) Shutdown(deadline time.Duration) {
	t.cancelOnce.Do(func() {
		if t.cancel != nil {
			t.cancel()
		}

		done := make(chan struct{})
		go func() {
			defer close(done)
			t.wg.Wait()
		}()

		if deadline <= 0 {
			<-done
			return
		}

		timer := time.NewTimer(deadline)
		defer timer.Stop()
		select {
		case <-done:
			return
		case <-timer.C:
			t.log.Warn("ticker shutdown deadline reached; a dispatch pass may still be running")
		}
	})
}
