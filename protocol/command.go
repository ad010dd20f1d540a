package protocol

import "strings"

// Keyword is a command name as sent on the wire.
type Keyword string

const (
	AUTH         Keyword = "AUTH"
	CLIENT       Keyword = "CLIENT"
	DEL          Keyword = "DEL"
	ECHO         Keyword = "ECHO"
	GET          Keyword = "GET"
	HELLO        Keyword = "HELLO"
	PING         Keyword = "PING"
	PSUBSCRIBE   Keyword = "PSUBSCRIBE"
	PUBLISH      Keyword = "PUBLISH"
	PUBSUB       Keyword = "PUBSUB"
	PUNSUBSCRIBE Keyword = "PUNSUBSCRIBE"
	QUIT         Keyword = "QUIT"
	READONLY     Keyword = "READONLY"
	READWRITE    Keyword = "READWRITE"
	ROLE         Keyword = "ROLE"
	SADD         Keyword = "SADD"
	SCARD        Keyword = "SCARD"
	SDIFF        Keyword = "SDIFF"
	SDIFFSTORE   Keyword = "SDIFFSTORE"
	SELECT       Keyword = "SELECT"
	SET          Keyword = "SET"
	SINTER       Keyword = "SINTER"
	SINTERSTORE  Keyword = "SINTERSTORE"
	SISMEMBER    Keyword = "SISMEMBER"
	SMEMBERS     Keyword = "SMEMBERS"
	SMOVE        Keyword = "SMOVE"
	SPOP         Keyword = "SPOP"
	SRANDMEMBER  Keyword = "SRANDMEMBER"
	SREM         Keyword = "SREM"
	SSCAN        Keyword = "SSCAN"
	SUBSCRIBE    Keyword = "SUBSCRIBE"
	SUNION       Keyword = "SUNION"
	SUNIONSTORE  Keyword = "SUNIONSTORE"
	UNSUBSCRIBE  Keyword = "UNSUBSCRIBE"
	WAIT         Keyword = "WAIT"
)

// Normalize upper cases a keyword received from a peer.
func Normalize(b []byte) Keyword {
	for _, c := range b {
		if c >= 'a' && c <= 'z' {
			return Keyword(strings.ToUpper(string(b)))
		}
	}
	return Keyword(b)
}

// Push message kinds, the first element of a pub/sub push.
const (
	PushMessage      = "message"
	PushPMessage     = "pmessage"
	PushSMessage     = "smessage"
	PushSubscribe    = "subscribe"
	PushPSubscribe   = "psubscribe"
	PushUnsubscribe  = "unsubscribe"
	PushPUnsubscribe = "punsubscribe"
	PushInvalidate   = "invalidate"
)
