package client

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/luma/conduit/protocol"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Client multiplexes commands from any number of goroutines over a single
// connection. Replies are matched to commands in the order the commands
// were written.
type Client struct {
	opts    Options
	log     *zap.Logger
	metrics *Metrics
	subs    *registry

	mu           sync.Mutex
	state        State
	conn         *channel
	backlog      []*Command
	autoFlush    bool
	reconnecting bool

	// db is set from the read goroutine when a SELECT succeeds
	db atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a client without connecting it. Call Connect, or use Dial.
func New(opts Options) *Client {
	opts.init()

	ctx, cancel := context.WithCancel(context.Background())

	c := &Client{
		opts:      opts,
		log:       opts.Log,
		metrics:   opts.Metrics,
		subs:      newRegistry(opts.Log.Named("pubsub"), opts.Metrics),
		state:     Disconnected,
		autoFlush: true,
		ctx:       ctx,
		cancel:    cancel,
	}
	c.db.Store(int64(opts.DB))

	return c
}

// Dial connects to opts.Addr and runs the connection handshake.
func Dial(ctx context.Context, opts Options) (*Client, error) {
	c := New(opts)

	if err := c.Connect(ctx); err != nil {
		_ = c.Close()
		return nil, err
	}

	return c, nil
}

// Dispatch writes cmd to the connection, or holds it until the client
// reconnects. The outcome is delivered through cmd.Output.
func (c *Client) Dispatch(cmd *Command) {
	cmd.metrics = c.metrics
	c.metrics.commandDispatched(string(cmd.Keyword))

	c.mu.Lock()
	err := c.dispatchLocked(cmd)
	c.mu.Unlock()

	if err != nil {
		cmd.fail(err)
	}
}

func (c *Client) dispatchLocked(cmd *Command) error {
	switch c.state {
	case Closed:
		return ErrClosed

	case Connected:
		if c.full() {
			return ErrQueueOverflow
		}

		cmd.expire(c.opts.CommandTimeout)

		if err := c.conn.write(cmd); err == nil {
			if c.autoFlush {
				// A failed flush takes the channel down, the read loop settles
				// the queued commands.
				_ = c.conn.flush()
			}
			return nil
		}
	}

	if !c.opts.AutoReconnect {
		return &ConnectionError{Err: errDisconnected}
	}

	if c.full() {
		return ErrQueueOverflow
	}

	cmd.expire(c.opts.CommandTimeout)
	c.backlog = append(c.backlog, cmd)
	return nil
}

func (c *Client) full() bool {
	if c.opts.RequestQueueSize <= 0 {
		return false
	}

	n := len(c.backlog)
	if c.conn != nil {
		n += c.conn.queue.len()
	}
	return n >= c.opts.RequestQueueSize
}

// Do dispatches a single reply command and returns its future.
func Do[T any](c *Client, keyword protocol.Keyword, args *Args, decode DecodeFunc[T]) *Future[T] {
	f := NewFuture(decode)
	c.Dispatch(NewCommand(keyword, args, f))
	return f
}

// DoStream dispatches a command whose reply is an aggregate and returns a
// stream over its elements.
func DoStream[T any](c *Client, keyword protocol.Keyword, args *Args, decode DecodeFunc[T]) *Stream[T] {
	s := NewStream(decode)
	c.Dispatch(NewCommand(keyword, args, s))
	return s
}

// SetAutoFlush controls whether Dispatch writes each command right away.
// With auto flush off commands accumulate until Flush and go out in a
// single write. Turning it back on flushes.
func (c *Client) SetAutoFlush(on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.autoFlush = on
	if on && c.state == Connected {
		_ = c.conn.flush()
	}
}

// Flush writes every buffered command.
func (c *Client) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != Connected {
		return nil
	}
	return c.conn.flush()
}

// IsOpen reports whether the client has a live connection.
func (c *Client) IsOpen() bool {
	return c.State() == Connected
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.state
}

// Reset cancels every pending command, including buffered and backlogged
// ones, and drops partially decoded input. Use it when replies are suspected
// to be out of sync with commands.
func (c *Client) Reset() {
	c.mu.Lock()
	backlog := c.backlog
	c.backlog = nil
	cn := c.conn
	c.mu.Unlock()

	for _, cmd := range backlog {
		cmd.fail(ErrCancelled)
	}

	if cn != nil {
		cn.reset()
	}
}

// Close fails every pending command with ErrClosed and closes the
// connection. It is safe to call more than once.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.state == Closed {
		c.mu.Unlock()
		return nil
	}

	c.state = Closed
	cn := c.conn
	c.conn = nil
	backlog := c.backlog
	c.backlog = nil
	c.mu.Unlock()

	c.cancel()

	for _, cmd := range backlog {
		cmd.fail(ErrClosed)
	}

	var err error
	if cn != nil {
		err = multierr.Append(err, cn.close())
	}

	c.wg.Wait()
	c.log.Debug("Client closed")

	return err
}

// Select switches the database and records it so reconnects restore it.
func (c *Client) Select(db int) *Future[string] {
	f := NewFuture(func(v protocol.Value) (string, error) {
		s, err := Status(v)
		if err == nil {
			c.db.Store(int64(db))
		}
		return s, err
	})

	c.Dispatch(NewCommand(protocol.SELECT, NewArgs(db), f))
	return f
}

// Subscribe adds l to channels. A SUBSCRIBE is only sent for channels
// nobody listened to yet. The future resolves with the server's
// subscription count once every channel is confirmed.
func (c *Client) Subscribe(l Listener, channels ...string) *Future[int64] {
	return c.subscribe(false, l, channels)
}

// PSubscribe is Subscribe for glob patterns.
func (c *Client) PSubscribe(l Listener, patterns ...string) *Future[int64] {
	return c.subscribe(true, l, patterns)
}

// Unsubscribe removes l from channels, or from every channel it listens to
// when none are given. UNSUBSCRIBE is only sent for channels left without a
// listener.
func (c *Client) Unsubscribe(l Listener, channels ...string) *Future[int64] {
	return c.unsubscribe(false, l, channels)
}

func (c *Client) PUnsubscribe(l Listener, patterns ...string) *Future[int64] {
	return c.unsubscribe(true, l, patterns)
}

// OnPush registers fn for pushes of kind that are not pub/sub traffic.
func (c *Client) OnPush(kind string, fn PushFunc) {
	c.subs.onPush(kind, fn)
}

func (c *Client) subscribe(pattern bool, l Listener, names []string) *Future[int64] {
	f := NewFuture(Int64)

	added := c.subs.add(pattern, l, names)
	if len(added) == 0 {
		f.Complete(protocol.NewInteger(int64(c.subs.count())))
		return f
	}

	c.Dispatch(subscribeCommand(pattern, added, f))
	return f
}

func (c *Client) unsubscribe(pattern bool, l Listener, names []string) *Future[int64] {
	f := NewFuture(Int64)

	emptied := c.subs.remove(pattern, l, names)
	if len(emptied) == 0 {
		f.Complete(protocol.NewInteger(int64(c.subs.count())))
		return f
	}

	c.Dispatch(unsubscribeCommand(pattern, emptied, f))
	return f
}
