package client

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/luma/conduit/protocol"
	"go.uber.org/zap"
)

// Connect dials the server and runs the handshake: HELLO or AUTH, CLIENT
// SETNAME, SELECT and the subscriptions made so far. Commands dispatched
// before Connect go out once it succeeds.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case Closed:
		c.mu.Unlock()
		return ErrClosed
	case Connected, Connecting:
		c.mu.Unlock()
		return nil
	}
	c.state = Connecting
	c.mu.Unlock()

	cn, err := c.connect(ctx)
	if err != nil {
		c.mu.Lock()
		if c.state == Connecting {
			c.state = Disconnected
		}
		c.mu.Unlock()
		return err
	}

	if !c.activate(cn) {
		_ = cn.close()
		if c.State() == Closed {
			return ErrClosed
		}
		return &ConnectionError{Err: errDisconnected}
	}

	return nil
}

func (c *Client) connect(ctx context.Context) (*channel, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.ConnectTimeout)
	defer cancel()

	nc, err := c.opts.Dialer.DialContext(ctx, c.opts.Network, c.opts.Addr)
	if err != nil {
		return nil, &ConnectionError{Err: err}
	}

	cn := newChannel(nc, &c.opts, c.subs, c.connClosed)

	if err := c.handshake(ctx, cn); err != nil {
		_ = cn.close()
		return nil, err
	}

	c.log.Debug("Connected", zap.String("conn", cn.id), zap.String("addr", c.opts.Addr))
	return cn, nil
}

// handshake pipelines the connection setup commands in one write and waits
// for every reply.
func (c *Client) handshake(ctx context.Context, cn *channel) error {
	var (
		cmds    []*Command
		futures []*Future[protocol.Value]
	)

	add := func(cmd *Command) {
		cmd.metrics = c.metrics
		cmds = append(cmds, cmd)
	}

	newOut := func() *Future[protocol.Value] {
		f := NewFuture(Value)
		futures = append(futures, f)
		return f
	}

	if c.opts.Protocol == 3 {
		args := NewArgs(3)
		if c.opts.Password != "" {
			user := c.opts.Username
			if user == "" {
				user = "default"
			}
			args.Add("AUTH").Add(user).Add(c.opts.Password)
		}
		if c.opts.ClientName != "" {
			args.Add("SETNAME").Add(c.opts.ClientName)
		}
		add(NewCommand(protocol.HELLO, args, newOut()))
	} else {
		if c.opts.Password != "" {
			args := NewArgs()
			if c.opts.Username != "" {
				args.Add(c.opts.Username)
			}
			add(NewCommand(protocol.AUTH, args.Add(c.opts.Password), newOut()))
		}
		if c.opts.ClientName != "" {
			add(NewCommand(protocol.CLIENT, NewArgs("SETNAME", c.opts.ClientName), newOut()))
		}
	}

	if db := c.db.Load(); db != 0 {
		add(NewCommand(protocol.SELECT, NewArgs(db), newOut()))
	}

	for _, cmd := range c.subs.replay(func() Output { return newOut() }) {
		add(cmd)
	}

	if len(cmds) == 0 {
		return nil
	}

	for _, cmd := range cmds {
		if err := cn.write(cmd); err != nil {
			return &ConnectionError{Err: err}
		}
	}

	if err := cn.flush(); err != nil {
		return err
	}

	for i, f := range futures {
		if _, err := f.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return &ConnectionError{Err: err}
			}
			c.log.Warn("Handshake command failed", zap.String("command", string(cmds[i].Keyword)), zap.Error(err))
			return err
		}
	}

	return nil
}

// activate installs cn as the live connection and writes the backlog to it.
// It refuses when the client is closed, already connected or cn died.
func (c *Client) activate(cn *channel) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == Closed || c.state == Connected || cn.isClosing() {
		return false
	}

	c.conn = cn
	c.state = Connected
	c.reconnecting = false

	backlog := c.backlog
	c.backlog = nil

	for _, cmd := range backlog {
		if cmd.IsDone() {
			continue
		}
		if err := cn.write(cmd); err != nil {
			c.backlog = append(c.backlog, cmd)
		}
	}

	_ = cn.flush()

	return true
}

// connClosed runs on the read goroutine of a channel that went down. It
// settles the commands the channel still held and starts reconnecting.
func (c *Client) connClosed(cn *channel, cause error, pending []entry) {
	c.mu.Lock()

	if c.conn != cn || c.state == Closed {
		c.mu.Unlock()

		err := closeError(cause)
		for _, e := range pending {
			e.cmd.fail(err)
		}
		return
	}

	c.conn = nil
	c.state = Disconnected

	var (
		retry  []*Command
		failed []*Command
	)

	protoErr := errors.Is(cause, ErrProtocol)

	for _, e := range pending {
		switch {
		case e.cmd.IsDone():
		case protoErr:
			failed = append(failed, e.cmd)
		case !c.opts.AutoReconnect:
			failed = append(failed, e.cmd)
		case e.cmd.ack != "":
			// Subscription changes are safe to resend
			retry = append(retry, e.cmd)
		case e.sent && !c.opts.RetrySent:
			failed = append(failed, e.cmd)
		case !e.sent && !c.opts.RetryUnsent:
			failed = append(failed, e.cmd)
		default:
			retry = append(retry, e.cmd)
		}
	}

	for _, cmd := range retry {
		cmd.acks = cmdAcks(cmd)
	}

	c.backlog = append(retry, c.backlog...)

	if !c.opts.AutoReconnect {
		failed = append(failed, c.backlog...)
		c.backlog = nil
	} else if !c.reconnecting {
		c.reconnecting = true
		c.wg.Add(1)
		go c.reconnectLoop()
	}

	c.mu.Unlock()

	c.log.Info("Disconnected",
		zap.String("conn", cn.id),
		zap.Error(cause),
		zap.Int("retried", len(retry)),
		zap.Int("failed", len(failed)))

	err := closeError(cause)
	for _, cmd := range failed {
		cmd.fail(err)
	}
}

func (c *Client) reconnectLoop() {
	defer c.wg.Done()

	log := c.log.Named("supervisor")
	delay := c.opts.ReconnectMinDelay

	for attempt := 1; ; attempt++ {
		timer := time.NewTimer(jitter(delay))
		select {
		case <-c.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		c.mu.Lock()
		if c.state == Closed {
			c.mu.Unlock()
			return
		}
		c.state = Connecting
		c.mu.Unlock()

		cn, err := c.connect(c.ctx)
		if err == nil {
			if c.activate(cn) {
				c.metrics.reconnected()
				log.Info("Reconnected", zap.String("conn", cn.id), zap.Int("attempt", attempt))
				return
			}

			_ = cn.close()
			if c.State() == Closed {
				return
			}
			err = errDisconnected
		}

		c.mu.Lock()
		if c.state == Closed {
			c.mu.Unlock()
			return
		}
		if c.state == Connecting {
			c.state = Disconnected
		}
		c.mu.Unlock()

		log.Warn("Reconnect failed", zap.Int("attempt", attempt), zap.Duration("delay", delay), zap.Error(err))

		delay *= 2
		if delay > c.opts.ReconnectMaxDelay {
			delay = c.opts.ReconnectMaxDelay
		}
	}
}

// jitter spreads d over [d/2, d].
func jitter(d time.Duration) time.Duration {
	half := int64(d / 2)
	if half <= 0 {
		return d
	}
	return time.Duration(half + rand.Int63n(half+1))
}

func closeError(cause error) error {
	switch {
	case cause == nil:
		return &ConnectionError{Err: errDisconnected}
	case errors.Is(cause, ErrClosed), errors.Is(cause, ErrProtocol):
		return cause
	default:
		return &ConnectionError{Err: cause}
	}
}

// cmdAcks is the number of confirmations a subscription command waits for
// when it is (re)sent.
func cmdAcks(cmd *Command) int {
	if cmd.ack == "" {
		return 0
	}
	if n := cmd.Args.Len(); n > 0 {
		return n
	}
	return 1
}
