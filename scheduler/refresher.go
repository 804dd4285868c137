package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/yllada/anonvpn/common"
)

// RefreshFunc performs one credential refresh cycle.
type RefreshFunc func(ctx context.Context) error

// Refresher runs a RefreshFunc once per epoch at the time the Scheduler picks.
type Refresher struct {
	mu        sync.RWMutex
	scheduler *Scheduler
	refresh   RefreshFunc
	log       common.Logger
	now       func() time.Time
	running   bool
	cancel    context.CancelFunc
	done      chan struct{}
	next      time.Time
	lastErr   error
	onStopped func(err error)
}

// NewRefresher creates a refresher. It does nothing until Start is called.
func NewRefresher(s *Scheduler, refresh RefreshFunc, log common.Logger) *Refresher {
	if log == nil {
		log = common.NopLogger{}
	}
	return &Refresher{
		scheduler: s,
		refresh:   refresh,
		log:       log,
		now:       time.Now,
	}
}

// SetOnStopped sets a callback invoked when the loop ends on its own
// because a refresh failed.
func (r *Refresher) SetOnStopped(callback func(err error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onStopped = callback
}

// Start launches the refresh loop. It stops when ctx is cancelled, when
// Stop is called, or when a refresh returns an error.
func (r *Refresher) Start(ctx context.Context) {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	r.running = true
	r.cancel = cancel
	r.done = make(chan struct{})
	r.lastErr = nil
	done := r.done
	r.mu.Unlock()

	r.log.Info("Refresher started")
	go r.runLoop(ctx, done)
}

// Stop ends the loop and waits for it to exit.
func (r *Refresher) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	cancel, done := r.cancel, r.done
	r.mu.Unlock()

	cancel()
	<-done
	r.log.Info("Refresher stopped")
}

// Wait blocks until the loop exits and returns the error that ended it,
// or nil when it was stopped.
func (r *Refresher) Wait() error {
	r.mu.RLock()
	done := r.done
	r.mu.RUnlock()
	if done != nil {
		<-done
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastErr
}

// IsRunning returns whether the loop is active.
func (r *Refresher) IsRunning() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.running
}

// NextRefresh returns when the next refresh is due, or the zero time when
// the loop is idle.
func (r *Refresher) NextRefresh() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.next
}

func (r *Refresher) runLoop(ctx context.Context, done chan struct{}) {
	err := r.loop(ctx)

	r.mu.Lock()
	r.running = false
	r.next = time.Time{}
	r.lastErr = err
	r.cancel()
	callback := r.onStopped
	r.mu.Unlock()
	close(done)

	if err != nil {
		r.log.Error("Refresher stopped: %v", err)
		if callback != nil {
			callback(err)
		}
	}
}

func (r *Refresher) loop(ctx context.Context) error {
	for {
		now := r.now()
		delay := r.scheduler.Delay(now)

		r.mu.Lock()
		r.next = now.Add(delay)
		r.mu.Unlock()
		r.log.Info("Next refresh in %v", delay)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}

		r.log.Info("Refreshing credentials")
		if err := r.refresh(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}
