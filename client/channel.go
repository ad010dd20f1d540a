package client

import (
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/luma/conduit/protocol"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

// pushRouter takes the values the read loop identifies as server pushes.
type pushRouter interface {
	route(cn *channel, v protocol.Value)
}

// channel owns one transport connection. Commands are encoded into a write
// buffer and hit the wire on flush, replies are matched to the queue in
// order by a single read goroutine.
type channel struct {
	id    string
	nc    net.Conn
	resp3 bool

	queue *queue

	// Only touched by the read loop
	dec          *protocol.Decoder
	resetDecoder atomic.Bool

	writeMu      sync.Mutex
	wbuf         []byte
	writeTimeout time.Duration
	closing      bool

	// RESP2 subscribed mode, replies shaped like pushes are pushes
	subscribed  atomic.Bool
	pendingAcks atomic.Int32
	subCount    atomic.Int64

	router  pushRouter
	onClose func(cn *channel, err error, pending []entry)

	errOnce sync.Once
	err     error
	done    chan struct{}

	readBufferSize int

	log     *zap.Logger
	metrics *Metrics
}

func newChannel(nc net.Conn, opts *Options, router pushRouter, onClose func(*channel, error, []entry)) *channel {
	id := ulid.Make().String()

	c := &channel{
		id:             id,
		nc:             nc,
		resp3:          opts.Protocol == 3,
		queue:          newQueue(opts.Metrics),
		dec:            protocol.NewDecoder(),
		writeTimeout:   opts.WriteTimeout,
		router:         router,
		onClose:        onClose,
		done:           make(chan struct{}),
		readBufferSize: opts.ReadBufferSize,
		log:            opts.Log.Named("channel").With(zap.String("conn", id)),
		metrics:        opts.Metrics,
	}

	go c.readLoop()

	return c
}

// write queues cmd and appends it to the write buffer. Nothing is sent
// until flush.
func (c *channel) write(cmd *Command) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.closing {
		return errDisconnected
	}

	if cmd.ack != "" {
		c.pendingAcks.Add(1)
		c.subscribed.Store(true)
	}

	c.queue.enqueue(cmd)
	c.wbuf = cmd.appendTo(c.wbuf)
	return nil
}

// flush writes the whole buffer with a single Write call.
func (c *channel) flush() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if len(c.wbuf) == 0 {
		return nil
	}

	if c.closing {
		return errDisconnected
	}

	n := c.queue.markSent()

	if c.writeTimeout > 0 {
		_ = c.nc.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}

	_, err := c.nc.Write(c.wbuf)

	if cap(c.wbuf) > 1<<20 {
		c.wbuf = nil
	} else {
		c.wbuf = c.wbuf[:0]
	}

	c.metrics.batchWritten(n)

	if err != nil {
		c.log.Warn("Write failed", zap.Error(err))
		c.shutdown(err)
		return &ConnectionError{Err: err}
	}

	return nil
}

// reset cancels every queued and buffered command and drops the decoder
// state before the next read.
func (c *channel) reset() {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.wbuf = c.wbuf[:0]
	c.queue.reset(ErrCancelled)
	c.pendingAcks.Store(0)
	c.resetDecoder.Store(true)
}

// shutdown closes the transport, the read loop exits with err as the cause.
// The first cause wins.
func (c *channel) shutdown(err error) {
	c.errOnce.Do(func() {
		c.err = err
	})
	_ = c.nc.Close()
}

// close shuts the channel down and waits for the read loop to exit. Queued
// commands fail with ErrClosed.
func (c *channel) close() error {
	c.shutdown(ErrClosed)
	<-c.done
	return nil
}

func (c *channel) cause() error {
	c.errOnce.Do(func() {})
	return c.err
}

func (c *channel) isClosing() bool {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	return c.closing
}

func (c *channel) readLoop() {
	defer close(c.done)

	c.read()
	err := c.cause()

	// Nothing can be written once closing is set, so the drained entries
	// are the last ones.
	c.writeMu.Lock()
	c.closing = true
	c.wbuf = nil
	pending := c.queue.drainAll()
	c.writeMu.Unlock()

	if errors.Is(err, ErrClosed) {
		c.log.Debug("Connection closed")
	} else {
		c.log.Info("Connection lost", zap.Error(err), zap.Int("pending", len(pending)))
	}

	c.onClose(c, err, pending)
}

func (c *channel) read() {
	buf := make([]byte, c.readBufferSize)

	for {
		n, err := c.nc.Read(buf)
		if n > 0 {
			if c.resetDecoder.CompareAndSwap(true, false) {
				c.dec.Reset()
			}

			c.dec.Feed(buf[:n])

			if perr := c.decodeReplies(); perr != nil {
				c.log.Error("Protocol error", zap.Error(perr))
				c.shutdown(perr)
				return
			}
		}

		if err != nil {
			if err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			c.shutdown(err)
			return
		}
	}
}

func (c *channel) decodeReplies() error {
	for {
		v, err := c.dec.Next()
		if err == protocol.ErrIncomplete {
			return nil
		}
		if err != nil {
			return err
		}

		switch {
		case v.Kind == protocol.Attribute:
			// Attributes describe the next reply, nothing uses them
			continue

		case c.isPush(v):
			c.router.route(c, v)
			continue
		}

		cmd, ok := c.queue.popOldest()
		if !ok {
			c.log.Warn("Dropping reply with no pending command", zap.Stringer("kind", v.Kind))
			continue
		}

		if cmd.ack != "" {
			// Refused (un)subscribe, no confirmations will follow
			c.ackDone(c.subCount.Load())
		}

		cmd.complete(v)
	}
}

func (c *channel) isPush(v protocol.Value) bool {
	if v.Kind == protocol.Push {
		return true
	}

	if c.resp3 || !c.subscribed.Load() || v.Kind != protocol.Array || len(v.Elems) < 2 {
		return false
	}

	switch string(v.Elems[0].Str) {
	case protocol.PushMessage, protocol.PushPMessage, protocol.PushSMessage,
		protocol.PushSubscribe, protocol.PushPSubscribe,
		protocol.PushUnsubscribe, protocol.PushPUnsubscribe:
		return v.Elems[0].Kind == protocol.BulkString
	}
	return false
}

// ack counts a (un)subscribe confirmation against the oldest queued command
// waiting for that kind. The command completes with count once every named
// channel has been confirmed.
func (c *channel) ack(kind string, count int64) bool {
	c.subCount.Store(count)

	// Match, count and pop under one queue lock so a concurrent Reset can't
	// slip another command in front
	matched := false
	cmd, done := c.queue.popOldestIf(func(oldest *Command) bool {
		if oldest.ack != kind {
			return false
		}
		matched = true
		oldest.acks--
		return oldest.acks <= 0
	})
	if !matched {
		return false
	}
	if !done {
		return true
	}

	cmd.complete(protocol.NewInteger(count))
	c.ackDone(count)
	return true
}

// ackDone marks one (un)subscribe command as finished. Subscribed mode ends
// once none are in flight and the server reported no subscriptions left.
func (c *channel) ackDone(count int64) {
	if c.pendingAcks.Add(-1) <= 0 && count == 0 {
		c.subscribed.Store(false)
	}
}
