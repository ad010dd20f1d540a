package client

import (
	"fmt"
	"strconv"

	"github.com/luma/conduit/protocol"
)

// Args is the ordered argument list of a command. Every argument ends up as
// an opaque byte string on the wire.
type Args struct {
	parts [][]byte
}

// NewArgs builds an argument list, see Add for the accepted types.
func NewArgs(values ...interface{}) *Args {
	a := &Args{parts: make([][]byte, 0, len(values))}
	for _, v := range values {
		a.Add(v)
	}
	return a
}

// Add appends one argument. Byte slices are copied, numbers are formatted in
// base 10, booleans become 1 or 0. Anything else goes through fmt.
func (a *Args) Add(v interface{}) *Args {
	var b []byte

	switch v := v.(type) {
	case []byte:
		b = append([]byte{}, v...)
	case string:
		b = []byte(v)
	case protocol.Keyword:
		b = []byte(v)
	case int:
		b = strconv.AppendInt(nil, int64(v), 10)
	case int32:
		b = strconv.AppendInt(nil, int64(v), 10)
	case int64:
		b = strconv.AppendInt(nil, v, 10)
	case uint:
		b = strconv.AppendUint(nil, uint64(v), 10)
	case uint64:
		b = strconv.AppendUint(nil, v, 10)
	case float64:
		b = strconv.AppendFloat(nil, v, 'f', -1, 64)
	case bool:
		if v {
			b = []byte("1")
		} else {
			b = []byte("0")
		}
	case fmt.Stringer:
		b = []byte(v.String())
	default:
		b = []byte(fmt.Sprint(v))
	}

	a.parts = append(a.parts, b)
	return a
}

// AddStrings appends each string as an argument.
func (a *Args) AddStrings(ss ...string) *Args {
	for _, s := range ss {
		a.parts = append(a.parts, []byte(s))
	}
	return a
}

func (a *Args) Len() int {
	if a == nil {
		return 0
	}
	return len(a.parts)
}

// Bytes returns the encoded arguments. The slices must not be modified.
func (a *Args) Bytes() [][]byte {
	if a == nil {
		return nil
	}
	return a.parts
}
