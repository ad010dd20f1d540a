package client

import (
	"context"
	"sync"

	"github.com/luma/conduit/protocol"
)

// DecodeFunc converts a reply into a command result. Error replies never
// reach it.
type DecodeFunc[T any] func(v protocol.Value) (T, error)

// Future is the handle of a single result command. It resolves once, from
// the connection's read loop, with either a value or an error.
type Future[T any] struct {
	decode DecodeFunc[T]

	once sync.Once
	done chan struct{}

	val T
	err error
}

func NewFuture[T any](decode DecodeFunc[T]) *Future[T] {
	return &Future[T]{decode: decode, done: make(chan struct{})}
}

// Complete decodes v into the result. Error replies resolve the future with
// a *CommandError.
func (f *Future[T]) Complete(v protocol.Value) {
	f.once.Do(func() {
		if v.IsError() {
			f.err = &CommandError{Msg: v.Text()}
		} else {
			f.val, f.err = f.decode(v)
		}
		close(f.done)
	})
}

func (f *Future[T]) Fail(err error) {
	f.once.Do(func() {
		f.err = err
		close(f.done)
	})
}

// Cancel detaches the caller from the command. It returns false if the
// future had already resolved. The command itself still runs on the server.
func (f *Future[T]) Cancel() bool {
	cancelled := false
	f.once.Do(func() {
		f.err = ErrCancelled
		cancelled = true
		close(f.done)
	})
	return cancelled
}

func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the future resolves or ctx is done. Giving up on ctx
// does not cancel the future.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.val, f.err

	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Get blocks until the future resolves.
func (f *Future[T]) Get() (T, error) {
	<-f.done
	return f.val, f.err
}

// Err returns the error of a resolved future, nil while pending.
func (f *Future[T]) Err() error {
	select {
	case <-f.done:
		return f.err
	default:
		return nil
	}
}

var _ Output = (*Future[string])(nil)
