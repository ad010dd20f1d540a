package client

import (
	"fmt"
	"strconv"

	"github.com/luma/conduit/protocol"
)

// Decoders for the common reply shapes. They are DecodeFuncs and can be
// passed to Do and DoStream directly.

// Value returns the reply as is.
func Value(v protocol.Value) (protocol.Value, error) {
	return v, nil
}

func Int64(v protocol.Value) (int64, error) {
	switch v.Kind {
	case protocol.Integer:
		return v.Int, nil
	case protocol.BulkString, protocol.SimpleString:
		if v.IsNull() {
			return 0, unexpected(v, "integer")
		}
		n, err := strconv.ParseInt(string(v.Str), 10, 64)
		if err != nil {
			return 0, unexpected(v, "integer")
		}
		return n, nil
	}
	return 0, unexpected(v, "integer")
}

// Bool accepts RESP3 booleans and the 1/0 integers RESP2 uses instead.
func Bool(v protocol.Value) (bool, error) {
	switch v.Kind {
	case protocol.Boolean, protocol.Integer:
		return v.Int != 0, nil
	}
	return false, unexpected(v, "boolean")
}

func Float64(v protocol.Value) (float64, error) {
	switch v.Kind {
	case protocol.Double, protocol.BulkString, protocol.SimpleString:
		if v.IsNull() {
			return 0, unexpected(v, "double")
		}
		f, err := strconv.ParseFloat(string(v.Str), 64)
		if err != nil {
			return 0, unexpected(v, "double")
		}
		return f, nil
	case protocol.Integer:
		return float64(v.Int), nil
	}
	return 0, unexpected(v, "double")
}

// String returns string-like replies. Nulls decode to "".
func String(v protocol.Value) (string, error) {
	if v.IsNull() {
		return "", nil
	}

	switch v.Kind {
	case protocol.SimpleString, protocol.BulkString, protocol.VerbatimString, protocol.Double, protocol.BigNumber:
		return v.Text(), nil
	case protocol.Integer:
		return strconv.FormatInt(v.Int, 10), nil
	}
	return "", unexpected(v, "string")
}

// Bytes returns bulk strings, nil for a null reply (e.g. a missing key).
func Bytes(v protocol.Value) ([]byte, error) {
	if v.IsNull() {
		return nil, nil
	}

	switch v.Kind {
	case protocol.SimpleString, protocol.BulkString, protocol.VerbatimString:
		return v.Str, nil
	}
	return nil, unexpected(v, "bulk string")
}

// Status expects a simple string such as OK.
func Status(v protocol.Value) (string, error) {
	if v.Kind != protocol.SimpleString {
		return "", unexpected(v, "status")
	}
	return string(v.Str), nil
}

// Strings decodes a flat aggregate of strings.
func Strings(v protocol.Value) ([]string, error) {
	if v.IsNull() {
		return nil, nil
	}

	if !isList(v) {
		return nil, unexpected(v, "array")
	}

	out := make([]string, 0, len(v.Elems))
	for _, elem := range v.Elems {
		s, err := String(elem)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// Values returns the elements of an aggregate.
func Values(v protocol.Value) ([]protocol.Value, error) {
	if v.IsNull() {
		return nil, nil
	}

	if !isList(v) && v.Kind != protocol.Map {
		return nil, unexpected(v, "array")
	}
	return v.Elems, nil
}

// Int64Map decodes a RESP3 map or a RESP2 flat array of key, integer pairs.
func Int64Map(v protocol.Value) (map[string]int64, error) {
	if !isList(v) && v.Kind != protocol.Map {
		return nil, unexpected(v, "map")
	}

	if len(v.Elems)%2 != 0 {
		return nil, unexpected(v, "map")
	}

	out := make(map[string]int64, len(v.Elems)/2)
	for i := 0; i < len(v.Elems); i += 2 {
		key, err := String(v.Elems[i])
		if err != nil {
			return nil, err
		}
		n, err := Int64(v.Elems[i+1])
		if err != nil {
			return nil, err
		}
		out[key] = n
	}
	return out, nil
}

func isList(v protocol.Value) bool {
	switch v.Kind {
	case protocol.Array, protocol.Set, protocol.Push:
		return true
	}
	return false
}

func unexpected(v protocol.Value, want string) error {
	if v.IsNull() {
		return fmt.Errorf("%w: got null, want %s", ErrUnexpectedReply, want)
	}
	return fmt.Errorf("%w: got %s, want %s", ErrUnexpectedReply, v.Kind, want)
}
