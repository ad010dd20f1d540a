package client

import (
	"sync"
	"time"

	"github.com/luma/conduit/protocol"
)

// Output receives the outcome of a command. It decodes the reply into the
// command's result and is the handle callers wait on.
//
// Implementations must make the first call to Complete or Fail win, later
// calls are no-ops.
type Output interface {
	Complete(v protocol.Value)
	Fail(err error)
	Done() <-chan struct{}
}

// Command is a keyword, its arguments and the output that will receive the
// reply. A command is dispatched once and completed once.
type Command struct {
	Keyword protocol.Keyword
	Args    *Args
	Output  Output

	// ack is the confirmation kind a (un)subscribe command waits for and acks
	// the number of confirmations still expected. Replies to these commands
	// are push frames, one per channel.
	ack  string
	acks int

	mu      sync.Mutex
	timer   *time.Timer
	metrics *Metrics
}

func NewCommand(keyword protocol.Keyword, args *Args, out Output) *Command {
	return &Command{Keyword: keyword, Args: args, Output: out}
}

// IsDone reports whether the command has been completed, failed or
// cancelled.
func (c *Command) IsDone() bool {
	select {
	case <-c.Output.Done():
		return true
	default:
		return false
	}
}

func (c *Command) appendTo(dst []byte) []byte {
	return protocol.AppendCommand(dst, c.Keyword, c.Args.Bytes()...)
}

func (c *Command) complete(v protocol.Value) {
	c.stopTimer()

	wasDone := c.IsDone()
	c.Output.Complete(v)

	if !wasDone && v.IsError() {
		c.metrics.commandFailed("server")
	}
}

func (c *Command) fail(err error) {
	c.stopTimer()

	if !c.IsDone() {
		c.metrics.commandFailed(failureReason(err))
	}
	c.Output.Fail(err)
}

// expire fails the command with ErrTimeout unless it completes first.
func (c *Command) expire(after time.Duration) {
	if after <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.timer != nil {
		return
	}

	c.timer = time.AfterFunc(after, func() {
		c.fail(ErrTimeout)
	})
}

func (c *Command) stopTimer() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.timer != nil {
		c.timer.Stop()
	}
}
