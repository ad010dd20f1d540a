package client

import (
	"github.com/luma/conduit/protocol"
)

func keysArgs(keys []string) *Args {
	return NewArgs().AddStrings(keys...)
}

func (c *Client) SAdd(key string, members ...string) *Future[int64] {
	return Do(c, protocol.SADD, NewArgs(key).AddStrings(members...), Int64)
}

func (c *Client) SCard(key string) *Future[int64] {
	return Do(c, protocol.SCARD, NewArgs(key), Int64)
}

func (c *Client) SDiff(keys ...string) *Stream[string] {
	return DoStream(c, protocol.SDIFF, keysArgs(keys), String)
}

func (c *Client) SDiffStore(dest string, keys ...string) *Future[int64] {
	return Do(c, protocol.SDIFFSTORE, NewArgs(dest).AddStrings(keys...), Int64)
}

func (c *Client) SInter(keys ...string) *Stream[string] {
	return DoStream(c, protocol.SINTER, keysArgs(keys), String)
}

func (c *Client) SInterStore(dest string, keys ...string) *Future[int64] {
	return Do(c, protocol.SINTERSTORE, NewArgs(dest).AddStrings(keys...), Int64)
}

func (c *Client) SIsMember(key, member string) *Future[bool] {
	return Do(c, protocol.SISMEMBER, NewArgs(key, member), Bool)
}

// SMove moves member from src to dest, false if it wasn't in src.
func (c *Client) SMove(src, dest, member string) *Future[bool] {
	return Do(c, protocol.SMOVE, NewArgs(src, dest, member), Bool)
}

// SMembers streams the members of key, decoding them as they are consumed.
func (c *Client) SMembers(key string) *Stream[string] {
	return DoStream(c, protocol.SMEMBERS, NewArgs(key), String)
}

// SPop removes and returns a random member, nil for an empty set.
func (c *Client) SPop(key string) *Future[[]byte] {
	return Do(c, protocol.SPOP, NewArgs(key), Bytes)
}

func (c *Client) SPopN(key string, count int64) *Stream[string] {
	return DoStream(c, protocol.SPOP, NewArgs(key, count), String)
}

func (c *Client) SRandMember(key string) *Future[[]byte] {
	return Do(c, protocol.SRANDMEMBER, NewArgs(key), Bytes)
}

// SRandMemberN returns up to count distinct members, or exactly -count
// members with repetitions when count is negative.
func (c *Client) SRandMemberN(key string, count int64) *Stream[string] {
	return DoStream(c, protocol.SRANDMEMBER, NewArgs(key, count), String)
}

func (c *Client) SRem(key string, members ...string) *Future[int64] {
	return Do(c, protocol.SREM, NewArgs(key).AddStrings(members...), Int64)
}

func (c *Client) SUnion(keys ...string) *Stream[string] {
	return DoStream(c, protocol.SUNION, keysArgs(keys), String)
}

func (c *Client) SUnionStore(dest string, keys ...string) *Future[int64] {
	return Do(c, protocol.SUNIONSTORE, NewArgs(dest).AddStrings(keys...), Int64)
}
