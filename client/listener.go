package client

import (
	"context"
)

// Listener receives the outcome of an asynchronous operation. Exactly one
// of its methods is called, exactly once, from the client's worker.
// Implementations must not block on further operations of the same client;
// calling Close from a callback is allowed.
type Listener[T any] interface {
	OnResult(value T)
	OnError(err error)
}

// ListenerFuncs adapts two functions to a Listener.
type ListenerFuncs[T any] struct {
	Result func(T)
	Error  func(error)
}

// OnResult implements Listener.
func (l ListenerFuncs[T]) OnResult(value T) {
	if l.Result != nil {
		l.Result(value)
	}
}

// OnError implements Listener.
func (l ListenerFuncs[T]) OnError(err error) {
	if l.Error != nil {
		l.Error(err)
	}
}

type outcome[T any] struct {
	value T
	err   error
}

// ResultChan is a Listener that can be waited on.
type ResultChan[T any] struct {
	ch chan outcome[T]
}

// NewResultChan returns an empty ResultChan.
func NewResultChan[T any]() *ResultChan[T] {
	return &ResultChan[T]{ch: make(chan outcome[T], 1)}
}

// OnResult implements Listener.
func (r *ResultChan[T]) OnResult(value T) {
	r.ch <- outcome[T]{value: value}
}

// OnError implements Listener.
func (r *ResultChan[T]) OnError(err error) {
	r.ch <- outcome[T]{err: err}
}

// Wait blocks until the operation completes or ctx is done.
func (r *ResultChan[T]) Wait(ctx context.Context) (T, error) {
	select {
	case o := <-r.ch:
		return o.value, o.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
