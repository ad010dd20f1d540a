package client

import (
	"time"

	"github.com/luma/conduit/protocol"
)

// Ping checks the connection. In RESP2 subscribed mode the server answers
// with a [pong, ""] array, which also resolves to "PONG".
func (c *Client) Ping() *Future[string] {
	return Do(c, protocol.PING, nil, func(v protocol.Value) (string, error) {
		if isList(v) && len(v.Elems) > 0 {
			return "PONG", nil
		}
		return Status(v)
	})
}

func (c *Client) Echo(msg []byte) *Future[[]byte] {
	return Do(c, protocol.ECHO, NewArgs(msg), Bytes)
}

// Quit asks the server to close the connection. With AutoReconnect the
// client reconnects afterwards, use Close to stop for good.
func (c *Client) Quit() *Future[string] {
	return Do(c, protocol.QUIT, nil, Status)
}

// Publish posts msg to channel and returns the number of receivers.
func (c *Client) Publish(channel string, msg []byte) *Future[int64] {
	return Do(c, protocol.PUBLISH, NewArgs(channel, msg), Int64)
}

// PubSubChannels lists the active channels, optionally matching pattern.
func (c *Client) PubSubChannels(pattern string) *Future[[]string] {
	args := NewArgs("CHANNELS")
	if pattern != "" {
		args.Add(pattern)
	}
	return Do(c, protocol.PUBSUB, args, Strings)
}

func (c *Client) PubSubNumSub(channels ...string) *Future[map[string]int64] {
	return Do(c, protocol.PUBSUB, NewArgs("NUMSUB").AddStrings(channels...), Int64Map)
}

func (c *Client) PubSubNumPat() *Future[int64] {
	return Do(c, protocol.PUBSUB, NewArgs("NUMPAT"), Int64)
}

// Role returns the raw ROLE reply, its shape depends on the server's role.
func (c *Client) Role() *Future[[]protocol.Value] {
	return Do(c, protocol.ROLE, nil, Values)
}

func (c *Client) ReadOnly() *Future[string] {
	return Do(c, protocol.READONLY, nil, Status)
}

func (c *Client) ReadWrite() *Future[string] {
	return Do(c, protocol.READWRITE, nil, Status)
}

// WaitForReplication blocks server side until replicas acknowledged the
// writes of this connection, or timeout passed. Returns the number of
// replicas that did.
func (c *Client) WaitForReplication(replicas int, timeout time.Duration) *Future[int64] {
	return Do(c, protocol.WAIT, NewArgs(replicas, timeout.Milliseconds()), Int64)
}

// Get returns nil for a missing key.
func (c *Client) Get(key string) *Future[[]byte] {
	return Do(c, protocol.GET, NewArgs(key), Bytes)
}

func (c *Client) Set(key string, value []byte) *Future[string] {
	return Do(c, protocol.SET, NewArgs(key, value), Status)
}

func (c *Client) Del(keys ...string) *Future[int64] {
	return Do(c, protocol.DEL, NewArgs().AddStrings(keys...), Int64)
}
