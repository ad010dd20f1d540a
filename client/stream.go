package client

import (
	"context"
	"sync"

	"github.com/luma/conduit/protocol"
)

// Sequence is a lazy, finite, single consumer sequence of results.
//
//	for seq.Next(ctx) {
//		use(seq.Value())
//	}
//	if err := seq.Err(); err != nil {
//		...
//	}
type Sequence[T any] interface {
	// Next advances to the next element, waiting for it if needed. It
	// returns false at the end of the sequence or on error.
	Next(ctx context.Context) bool
	Value() T
	Err() error
	// Close stops the sequence, elements not consumed yet are discarded.
	Close()
}

// Stream is the handle of a command whose reply is an aggregate. Elements
// are decoded one at a time as the consumer pulls them.
type Stream[T any] struct {
	decode DecodeFunc[T]

	once  sync.Once
	done  chan struct{}
	elems []protocol.Value
	err   error

	// Consumer side, only touched from the consuming goroutine
	pos     int
	cur     T
	iterErr error
	closed  bool
}

func NewStream[T any](decode DecodeFunc[T]) *Stream[T] {
	return &Stream[T]{decode: decode, done: make(chan struct{})}
}

// Complete accepts arrays, sets, maps (flattened) and null arrays, which
// yield an empty sequence.
func (s *Stream[T]) Complete(v protocol.Value) {
	s.once.Do(func() {
		switch {
		case v.IsError():
			s.err = &CommandError{Msg: v.Text()}
		case v.IsNull():
		case v.Kind == protocol.Array, v.Kind == protocol.Set, v.Kind == protocol.Map, v.Kind == protocol.Push:
			s.elems = v.Elems
		default:
			s.err = ErrUnexpectedReply
		}
		close(s.done)
	})
}

func (s *Stream[T]) Fail(err error) {
	s.once.Do(func() {
		s.err = err
		close(s.done)
	})
}

func (s *Stream[T]) Done() <-chan struct{} {
	return s.done
}

func (s *Stream[T]) Next(ctx context.Context) bool {
	if s.closed || s.iterErr != nil {
		return false
	}

	select {
	case <-s.done:
	case <-ctx.Done():
		s.iterErr = ctx.Err()
		return false
	}

	if s.err != nil || s.pos >= len(s.elems) {
		return false
	}

	v, err := s.decode(s.elems[s.pos])
	s.elems[s.pos] = protocol.Value{}
	s.pos++

	if err != nil {
		s.iterErr = err
		return false
	}

	s.cur = v
	return true
}

func (s *Stream[T]) Value() T {
	return s.cur
}

func (s *Stream[T]) Err() error {
	if s.iterErr != nil {
		return s.iterErr
	}

	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

// Close cancels the stream if the reply hasn't arrived yet and discards the
// remaining elements.
func (s *Stream[T]) Close() {
	s.closed = true
	s.Fail(ErrCancelled)
	s.elems = nil
}

// Len returns the number of elements in the reply, blocking until it
// arrives.
func (s *Stream[T]) Len(ctx context.Context) (int, error) {
	select {
	case <-s.done:
		return len(s.elems) - s.pos, s.err
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Collect drains seq into a slice.
func Collect[T any](ctx context.Context, seq Sequence[T]) ([]T, error) {
	defer seq.Close()

	var out []T
	for seq.Next(ctx) {
		out = append(out, seq.Value())
	}

	return out, seq.Err()
}

// ForEach calls fn for each element of seq, stopping at the first error.
// Returns the number of elements seen.
func ForEach[T any](ctx context.Context, seq Sequence[T], fn func(T) error) (int, error) {
	defer seq.Close()

	n := 0
	for seq.Next(ctx) {
		n++
		if err := fn(seq.Value()); err != nil {
			return n, err
		}
	}

	return n, seq.Err()
}

var _ Output = (*Stream[string])(nil)
var _ Sequence[string] = (*Stream[string])(nil)
