package client

import (
	"context"
	"net"
	"time"

	"go.uber.org/zap"
)

// Dialer opens the transport connection. *net.Dialer satisfies it, tests
// and TLS setups plug in their own.
type Dialer interface {
	DialContext(ctx context.Context, network, addr string) (net.Conn, error)
}

type Options struct {
	// Addr is the server address, host:port for tcp.
	Addr    string
	Network string
	Dialer  Dialer

	// Handshake, replayed on every reconnect
	Username   string
	Password   string
	DB         int
	ClientName string
	// Protocol is the RESP version, 2 or 3. 3 sends HELLO on connect.
	Protocol int

	ConnectTimeout time.Duration
	WriteTimeout   time.Duration
	// CommandTimeout fails commands that got no reply in time. Zero disables it.
	CommandTimeout time.Duration

	AutoReconnect bool
	// RetryUnsent replays commands that never reached the transport after a
	// reconnect. Without it they fail with a *ConnectionError.
	RetryUnsent bool
	// RetrySent also replays commands that were written but got no reply.
	// They may execute twice, only set it for idempotent workloads.
	RetrySent bool

	// RequestQueueSize bounds the commands waiting for a reply or for a
	// reconnect. Zero means unbounded.
	RequestQueueSize int

	ReconnectMinDelay time.Duration
	ReconnectMaxDelay time.Duration

	ReadBufferSize int

	Log     *zap.Logger
	Metrics *Metrics
}

// DefaultOptions returns options for addr with auto reconnect and replay of
// unsent commands enabled.
func DefaultOptions(addr string) Options {
	return Options{
		Addr:          addr,
		AutoReconnect: true,
		RetryUnsent:   true,
	}
}

func (o *Options) init() {
	if o.Network == "" {
		o.Network = "tcp"
	}

	if o.Protocol == 0 {
		o.Protocol = 2
	}

	if o.ConnectTimeout == 0 {
		o.ConnectTimeout = 5 * time.Second
	}

	if o.Dialer == nil {
		o.Dialer = &net.Dialer{KeepAlive: 30 * time.Second}
	}

	if o.ReconnectMinDelay <= 0 {
		o.ReconnectMinDelay = 100 * time.Millisecond
	}

	if o.ReconnectMaxDelay < o.ReconnectMinDelay {
		o.ReconnectMaxDelay = 30 * time.Second
		if o.ReconnectMaxDelay < o.ReconnectMinDelay {
			o.ReconnectMaxDelay = o.ReconnectMinDelay
		}
	}

	if o.ReadBufferSize <= 0 {
		o.ReadBufferSize = 32 * 1024
	}

	if o.Log == nil {
		o.Log = zap.NewNop()
	}
}

type State int32

const (
	Connecting State = iota
	Connected
	Disconnected
	Closed
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Disconnected:
		return "disconnected"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}
