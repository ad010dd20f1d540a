package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
)

// Protocol limits, a server that exceeds them is treated as broken.
const (
	// MaxBulkLen matches the default proto-max-bulk-len of a Redis server.
	MaxBulkLen = 512 * 1024 * 1024

	// MaxArrayLen limits the number of elements of a single aggregate.
	MaxArrayLen = 1 << 24

	// MaxLineLen limits simple strings, errors and length headers.
	MaxLineLen = 64 * 1024
)

var (
	// ErrIncomplete means the buffer holds a truncated frame. Feed more bytes
	// and try again.
	ErrIncomplete = errors.New("resp: incomplete frame")

	// ErrProtocol is returned for bytes that are not valid RESP. It is fatal
	// to the connection, there is no way to find the start of the next frame.
	ErrProtocol = errors.New("resp: protocol error")

	// ErrLimitExceeded wraps ErrProtocol, so it is just as fatal.
	ErrLimitExceeded = fmt.Errorf("%w: limit exceeded", ErrProtocol)

	crlf = []byte("\r\n")
)

type limits struct {
	maxBulkLen  int
	maxArrayLen int
}

var defaultLimits = limits{maxBulkLen: MaxBulkLen, maxArrayLen: MaxArrayLen}

// Decode decodes the value at the start of buf and returns it with the
// number of bytes it occupied. If buf holds only part of a value Decode
// returns ErrIncomplete and consumes nothing.
//
// Decoded values never alias buf.
func Decode(buf []byte) (Value, int, error) {
	return decode(buf, defaultLimits)
}

func decode(buf []byte, lim limits) (Value, int, error) {
	v, pos, err := decodeValue(buf, 0, lim)
	if err != nil {
		return Value{}, 0, err
	}
	return v, pos, nil
}

func decodeValue(buf []byte, pos int, lim limits) (Value, int, error) {
	v, children, next, err := decodeHead(buf, pos, lim)
	if err != nil || children == 0 {
		return v, next, err
	}

	v.Elems = make([]Value, 0, elemsCapacity(children))
	for i := 0; i < children; i++ {
		var elem Value
		elem, next, err = decodeValue(buf, next, lim)
		if err != nil {
			return Value{}, pos, err
		}
		v.Elems = append(v.Elems, elem)
	}

	return v, next, nil
}

// decodeHead decodes the value starting at pos, except for the elements of
// an aggregate: for those it returns the aggregate with no Elems and the
// number of elements that follow it. Scalars and empty or null aggregates
// come back complete with children == 0.
func decodeHead(buf []byte, pos int, lim limits) (v Value, children int, next int, err error) {
	if pos >= len(buf) {
		return Value{}, 0, pos, ErrIncomplete
	}

	kind := Kind(buf[pos])
	line, next, err := readLine(buf, pos+1)
	if err != nil {
		return Value{}, 0, pos, err
	}

	switch kind {
	case SimpleString, Error:
		return Value{Kind: kind, Str: clone(line)}, 0, next, nil

	case Integer:
		n, err := parseInt(line)
		if err != nil {
			return Value{}, 0, pos, err
		}
		return Value{Kind: Integer, Int: n}, 0, next, nil

	case Null:
		if len(line) != 0 {
			return Value{}, 0, pos, fmt.Errorf("%w: malformed null %q", ErrProtocol, line)
		}
		return Value{Kind: Null}, 0, next, nil

	case Boolean:
		switch {
		case bytes.Equal(line, []byte("t")):
			return Value{Kind: Boolean, Int: 1}, 0, next, nil
		case bytes.Equal(line, []byte("f")):
			return Value{Kind: Boolean}, 0, next, nil
		}
		return Value{}, 0, pos, fmt.Errorf("%w: malformed boolean %q", ErrProtocol, line)

	case Double:
		if _, err := strconv.ParseFloat(string(line), 64); err != nil {
			return Value{}, 0, pos, fmt.Errorf("%w: malformed double %q", ErrProtocol, line)
		}
		return Value{Kind: Double, Str: clone(line)}, 0, next, nil

	case BigNumber:
		if !isBigNumber(line) {
			return Value{}, 0, pos, fmt.Errorf("%w: malformed big number %q", ErrProtocol, line)
		}
		return Value{Kind: BigNumber, Str: clone(line)}, 0, next, nil

	case BulkString, BlobError, VerbatimString:
		bulk, end, err := decodeBulk(buf, kind, line, next, lim)
		if err != nil {
			return Value{}, 0, pos, err
		}
		return bulk, 0, end, nil

	case Array, Map, Set, Attribute, Push:
		return decodeAggregateHeader(kind, line, next, lim)

	default:
		return Value{}, 0, pos, fmt.Errorf("%w: unknown prefix %q", ErrProtocol, buf[pos])
	}
}

func decodeBulk(buf []byte, kind Kind, header []byte, pos int, lim limits) (Value, int, error) {
	n, err := parseInt(header)
	if err != nil {
		return Value{}, pos, err
	}

	if n == -1 && kind == BulkString {
		return Value{Kind: BulkString, Nil: true}, pos, nil
	}

	if n < 0 {
		return Value{}, pos, fmt.Errorf("%w: invalid %s length %d", ErrProtocol, kind, n)
	}

	if n > int64(lim.maxBulkLen) {
		return Value{}, pos, fmt.Errorf("%w: %s length %d exceeds limit %d", ErrLimitExceeded, kind, n, lim.maxBulkLen)
	}

	end := pos + int(n)
	if end+2 > len(buf) {
		return Value{}, pos, ErrIncomplete
	}

	if buf[end] != '\r' || buf[end+1] != '\n' {
		return Value{}, pos, fmt.Errorf("%w: invalid %s terminator", ErrProtocol, kind)
	}

	if kind == VerbatimString && (n < 4 || buf[pos+3] != ':') {
		return Value{}, pos, fmt.Errorf("%w: verbatim string without format", ErrProtocol)
	}

	return Value{Kind: kind, Str: clone(buf[pos:end])}, end + 2, nil
}

func decodeAggregateHeader(kind Kind, header []byte, next int, lim limits) (Value, int, int, error) {
	n, err := parseInt(header)
	if err != nil {
		return Value{}, 0, next, err
	}

	if n == -1 && kind == Array {
		return Value{Kind: Array, Nil: true}, 0, next, nil
	}

	if n < 0 {
		return Value{}, 0, next, fmt.Errorf("%w: invalid %s length %d", ErrProtocol, kind, n)
	}

	if n > int64(lim.maxArrayLen) {
		return Value{}, 0, next, fmt.Errorf("%w: %s length %d exceeds limit %d", ErrLimitExceeded, kind, n, lim.maxArrayLen)
	}

	count := int(n)
	if kind == Map || kind == Attribute {
		count *= 2
	}

	if count == 0 {
		return Value{Kind: kind, Elems: []Value{}}, 0, next, nil
	}
	return Value{Kind: kind}, count, next, nil
}

// elemsCapacity doesn't trust the header for the allocation, the frame may
// be truncated or lying about its size.
func elemsCapacity(count int) int {
	if count > 1024 {
		return 1024
	}
	return count
}

// readLine returns the bytes between pos and the next CRLF, and the position
// right after the CRLF.
func readLine(buf []byte, pos int) ([]byte, int, error) {
	idx := bytes.IndexByte(buf[pos:], '\n')
	if idx < 0 {
		if len(buf)-pos > MaxLineLen {
			return nil, pos, fmt.Errorf("%w: line length exceeds limit %d", ErrLimitExceeded, MaxLineLen)
		}
		return nil, pos, ErrIncomplete
	}

	if idx > MaxLineLen {
		return nil, pos, fmt.Errorf("%w: line length exceeds limit %d", ErrLimitExceeded, MaxLineLen)
	}

	end := pos + idx
	if idx == 0 || buf[end-1] != '\r' {
		return nil, pos, fmt.Errorf("%w: missing CRLF", ErrProtocol)
	}

	return buf[pos : end-1], end + 1, nil
}

func parseInt(line []byte) (int64, error) {
	n, err := strconv.ParseInt(string(line), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid integer %q", ErrProtocol, line)
	}
	return n, nil
}

func isBigNumber(line []byte) bool {
	if len(line) > 0 && (line[0] == '-' || line[0] == '+') {
		line = line[1:]
	}
	if len(line) == 0 {
		return false
	}
	for _, c := range line {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

func clone(b []byte) []byte {
	return append([]byte{}, b...)
}
