package client

import (
	"context"
	"errors"
	"sync"

	"github.com/yllada/anonvpn/common"
)

type task struct {
	id   string
	name string
	ctx  context.Context
	// run performs the operation and returns the listener call that
	// reports its outcome.
	run  func(ctx context.Context) (deliver func())
	fail func(err error)
}

// queue runs tasks one at a time, in submission order, on a single worker.
type queue struct {
	mu      sync.Mutex
	pending []*task
	closed  bool
	wake    chan struct{}
	done    chan struct{}

	// delivering is set while the worker runs a listener callback.
	delivering bool

	// base is cancelled on close so a running task can abort.
	base   context.Context
	cancel context.CancelFunc

	depth func(n int)
}

func newQueue(depth func(n int)) *queue {
	base, cancel := context.WithCancel(context.Background())
	q := &queue{
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
		base:   base,
		cancel: cancel,
		depth:  depth,
	}
	go q.worker()
	return q
}

// submit enqueues t. It returns false when the queue is closed.
func (q *queue) submit(t *task) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.pending = append(q.pending, t)
	q.depth(len(q.pending))
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return true
}

func (q *queue) next() (*task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed || len(q.pending) == 0 {
		return nil, false
	}
	t := q.pending[0]
	q.pending[0] = nil
	q.pending = q.pending[1:]
	q.depth(len(q.pending))
	return t, true
}

func (q *queue) worker() {
	defer close(q.done)
	for {
		select {
		case <-q.base.Done():
			return
		case <-q.wake:
		}
		for {
			t, ok := q.next()
			if !ok {
				break
			}
			q.execute(t)
		}
	}
}

func (q *queue) execute(t *task) {
	if err := t.ctx.Err(); err != nil {
		q.deliver(func() { t.fail(err) })
		return
	}

	ctx, cancel := context.WithCancel(t.ctx)
	stop := context.AfterFunc(q.base, cancel)
	deliver := t.run(ctx)
	stop()
	cancel()

	q.deliver(deliver)
}

func (q *queue) deliver(f func()) {
	q.mu.Lock()
	q.delivering = true
	q.mu.Unlock()
	defer func() {
		q.mu.Lock()
		q.delivering = false
		q.mu.Unlock()
	}()
	f()
}

// close fails every pending task with ErrClientClosed, cancels the running
// one and waits for the worker to exit. Called from a listener callback it
// returns without waiting, since the callback is running on the worker.
func (q *queue) close() {
	q.mu.Lock()
	wait := !q.delivering
	if q.closed {
		q.mu.Unlock()
		if wait {
			<-q.done
		}
		return
	}
	q.closed = true
	pending := q.pending
	q.pending = nil
	q.depth(0)
	q.mu.Unlock()

	q.cancel()
	for _, t := range pending {
		t.fail(common.ErrClientClosed)
	}
	if wait {
		<-q.done
	}
}

func (q *queue) isClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// closedErr reports ErrClientClosed for a task cancelled by close.
func (q *queue) closedErr(ctx context.Context, err error) error {
	if errors.Is(err, context.Canceled) && ctx.Err() == nil && q.isClosed() {
		return common.ErrClientClosed
	}
	return err
}
