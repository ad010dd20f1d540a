package client

import (
	"errors"
	"strings"

	"github.com/luma/conduit/protocol"
)

var (
	// ErrClosed is returned for commands dispatched to, or still queued on, a
	// closed client.
	ErrClosed = errors.New("conduit: connection closed")

	// ErrCancelled is returned when the caller detached from a command, or
	// when Reset() cancelled it.
	ErrCancelled = errors.New("conduit: command cancelled")

	// ErrQueueOverflow is returned when RequestQueueSize commands are
	// already waiting.
	ErrQueueOverflow = errors.New("conduit: request queue is full")

	// ErrTimeout is returned for commands that got no reply within
	// CommandTimeout.
	ErrTimeout = errors.New("conduit: command timed out")

	// ErrUnexpectedReply means the reply doesn't have the shape the
	// command's output expects.
	ErrUnexpectedReply = errors.New("conduit: unexpected reply")

	// ErrProtocol is returned for every command queued on a connection that
	// received bytes that are not valid RESP.
	ErrProtocol = protocol.ErrProtocol

	errDisconnected = errors.New("not connected")
)

// CommandError is an error reply sent by the server. It only affects the
// command that produced it.
type CommandError struct {
	Msg string
}

func (e *CommandError) Error() string {
	return e.Msg
}

// Prefix returns the error code, the first word of the message
// (e.g. ERR, WRONGTYPE, NOAUTH).
func (e *CommandError) Prefix() string {
	if i := strings.IndexByte(e.Msg, ' '); i >= 0 {
		return e.Msg[:i]
	}
	return e.Msg
}

// ConnectionError is a transport failure. Commands that fail with it may or
// may not have been executed by the server.
type ConnectionError struct {
	Err error
}

func (e *ConnectionError) Error() string {
	return "conduit: connection error: " + e.Err.Error()
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// IsConnectionError reports whether err is a transport failure.
func IsConnectionError(err error) bool {
	var connErr *ConnectionError
	return errors.As(err, &connErr)
}

// failureReason maps an error to the label used by the failed commands metric.
func failureReason(err error) string {
	var cmdErr *CommandError

	switch {
	case errors.As(err, &cmdErr):
		return "server"
	case errors.Is(err, ErrProtocol):
		return "protocol"
	case errors.Is(err, ErrClosed):
		return "closed"
	case errors.Is(err, ErrCancelled):
		return "cancelled"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrQueueOverflow):
		return "overflow"
	case IsConnectionError(err):
		return "connection"
	case errors.Is(err, ErrUnexpectedReply):
		return "decode"
	default:
		return "other"
	}
}
