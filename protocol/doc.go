package protocol

// This package implements the parsing and serialising of payloads for the
// Redis Serialization Protocol (RESP), versions 2 and 3.
//
// The decoder aims to be
//
// - binary safe
// - resumable: a truncated frame never blocks, it reports ErrIncomplete
//   and is parsed again once more bytes have been fed
// - strict: anything that isn't valid RESP is a protocol error, framing
//   can't be trusted after one so callers should drop the connection
//
// === Requests
//
// A command is always sent as an array of bulk strings, the first one
// being the command keyword:
//
//   ```
//     *3\r\n
//     $4\r\nSADD\r\n
//     $1\r\ns\r\n
//     $1\r\na\r\n
//   ```
//
// === Replies
//
// Every value starts with a one byte prefix that identifies its kind.
//
//   ```
//     +OK\r\n                   simple string
//     -ERR bad thing\r\n        error
//     :42\r\n                   integer
//     $5\r\nhello\r\n           bulk string
//     $-1\r\n                   null bulk string
//     *2\r\n:1\r\n:2\r\n        array, elements can be any value (nesting is allowed)
//     *-1\r\n                   null array
//   ```
//
// RESP3 adds `_` null, `#` boolean, `,` double, `(` big number, `!` blob error,
// `=` verbatim string, `%` map, `~` set, `|` attribute and `>` push.
//
// === Push messages
//
// In RESP3 anything the server sends that isn't a reply to a command (pub/sub
// messages, client tracking invalidations) is framed as a push `>`. In RESP2
// pub/sub messages are plain arrays; telling them apart from replies is up to
// the client as it depends on the connection being in subscribed mode.
