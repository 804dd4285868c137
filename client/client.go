// Package client orchestrates the credential engine and the state store.
//
// Every operation is queued on a single worker owned by the Client, so at
// most one operation reads or writes persisted state at a time. Results are
// delivered asynchronously through a Listener; ResultChan adapts that to a
// blocking call.
package client

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/yllada/anonvpn/common"
	"github.com/yllada/anonvpn/engine"
	"github.com/yllada/anonvpn/scheduler"
)

// StateStore persists the engine state blobs.
type StateStore interface {
	LoadClientState(ctx context.Context) (engine.ClientState, error)
	SaveClientState(ctx context.Context, state engine.ClientState) error
	LoadServersState(ctx context.Context) (engine.ServersState, error)
	SaveServersState(ctx context.Context, state engine.ServersState) error
}

// Client is the entry point for authentication, server listing and
// tunnel negotiation.
type Client struct {
	engine    engine.Engine
	store     StateStore
	scheduler *scheduler.Scheduler
	log       common.Logger
	metrics   *Metrics
	now       func() time.Time

	maxRetries int
	retryDelay time.Duration

	queue *queue
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger.
func WithLogger(log common.Logger) Option {
	return func(c *Client) { c.log = log }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithScheduler replaces the default epoch scheduler.
func WithScheduler(s *scheduler.Scheduler) Option {
	return func(c *Client) { c.scheduler = s }
}

// WithConnectRetry sets how many extra connect attempts are made after a
// failed one and the fixed delay between them.
func WithConnectRetry(maxRetries int, delay time.Duration) Option {
	return func(c *Client) {
		c.maxRetries = maxRetries
		c.retryDelay = delay
	}
}

// WithClock overrides the time source used by TimeToNextRefresh.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// New creates a client and starts its worker. Close must be called to
// release it.
func New(eng engine.Engine, st StateStore, opts ...Option) (*Client, error) {
	c := &Client{
		engine:     eng,
		store:      st,
		log:        common.NopLogger{},
		now:        time.Now,
		maxRetries: common.ConnectMaxRetries,
		retryDelay: common.ConnectRetryDelay,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.maxRetries < 0 {
		return nil, fmt.Errorf("%w: connect retries must not be negative", common.ErrInvalidConfig)
	}
	if c.scheduler == nil {
		s, err := scheduler.New(scheduler.DefaultEpoch)
		if err != nil {
			return nil, err
		}
		c.scheduler = s
	}
	if c.metrics == nil {
		c.metrics = NewMetrics(nil)
	}
	c.queue = newQueue(func(n int) { c.metrics.queueDepth.Set(float64(n)) })
	return c, nil
}

// Close stops the worker. Operations still waiting fail with
// common.ErrClientClosed; the running one is cancelled. Close may be called
// from a Listener.
func (c *Client) Close() error {
	c.queue.close()
	return nil
}

// TimeToNextRefresh returns the seconds to wait before refreshing.
func (c *Client) TimeToNextRefresh() int64 {
	return c.scheduler.TimeToNextRefresh(c.now())
}

// RefreshAuthToken renews the stored credential without user input.
func (c *Client) RefreshAuthToken(ctx context.Context, listener Listener[AuthStatus]) {
	submit(c, ctx, "refresh", listener, func(ctx context.Context, log *taskLogger) (AuthStatus, error) {
		return c.authenticate(ctx, log, nil)
	})
}

// Authenticate logs in with user credentials.
func (c *Client) Authenticate(ctx context.Context, username, password string, listener Listener[AuthStatus]) {
	creds := &credentials{username: username, password: password}
	submit(c, ctx, "authenticate", listener, func(ctx context.Context, log *taskLogger) (AuthStatus, error) {
		return c.authenticate(ctx, log, creds)
	})
}

// GetServers lists the servers the client can connect to.
func (c *Client) GetServers(ctx context.Context, listener Listener[[]string]) {
	submit(c, ctx, "get_servers", listener, c.getServers)
}

// Connect negotiates a tunnel with server, retrying transient failures.
// The descriptor is delivered only after the state that produced it has
// been persisted.
func (c *Client) Connect(ctx context.Context, server string, listener Listener[engine.VpnConnection]) {
	submit(c, ctx, "connect", listener, func(ctx context.Context, log *taskLogger) (engine.VpnConnection, error) {
		return c.connect(ctx, log, server)
	})
}

func submit[T any](c *Client, ctx context.Context, name string, listener Listener[T],
	op func(ctx context.Context, log *taskLogger) (T, error)) {
	id := common.GenerateID()[:8]
	log := &taskLogger{log: c.log, prefix: name + " [" + id + "] "}

	t := &task{
		id:   id,
		name: name,
		ctx:  ctx,
		fail: func(err error) {
			log.Debug("not run: %v", err)
			c.metrics.operations.WithLabelValues(name, outcomeCancelled).Inc()
			listener.OnError(err)
		},
	}
	t.run = func(runCtx context.Context) func() {
		start := time.Now()
		log.Debug("started")
		value, err := op(runCtx, log)
		err = c.queue.closedErr(ctx, err)
		elapsed := time.Since(start)
		c.metrics.observe(name, outcomeOf(value, err), elapsed)
		if err != nil {
			log.Debug("failed after %v: %v", elapsed.Round(time.Millisecond), err)
			return func() { listener.OnError(err) }
		}
		log.Debug("finished in %v", elapsed.Round(time.Millisecond))
		return func() { listener.OnResult(value) }
	}

	if !c.queue.submit(t) {
		t.fail(common.ErrClientClosed)
	}
}

func outcomeOf(value any, err error) string {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded), errors.Is(err, common.ErrClientClosed):
		return outcomeCancelled
	case errors.Is(err, common.ErrSubscriptionRequired):
		return outcomeSubscription
	case errors.Is(err, common.ErrAuthenticationRequired):
		return outcomeAuthRequired
	case err != nil:
		return outcomeError
	}
	switch value {
	case SubscriptionRequired:
		return outcomeSubscription
	case AuthenticationRequired:
		return outcomeAuthRequired
	}
	return outcomeSuccess
}

// taskLogger prefixes messages with the operation name and task id.
type taskLogger struct {
	log    common.Logger
	prefix string
}

func (l *taskLogger) Debug(msg string, args ...interface{}) { l.log.Debug(l.prefix+msg, args...) }
func (l *taskLogger) Info(msg string, args ...interface{})  { l.log.Info(l.prefix+msg, args...) }
func (l *taskLogger) Warn(msg string, args ...interface{})  { l.log.Warn(l.prefix+msg, args...) }
func (l *taskLogger) Error(msg string, args ...interface{}) { l.log.Error(l.prefix+msg, args...) }
