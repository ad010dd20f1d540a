package protocol

import (
	"math"
	"strconv"
)

// Kind is the prefix byte that identifies the type of a RESP value.
type Kind byte

const (
	SimpleString   Kind = '+'
	Error          Kind = '-'
	Integer        Kind = ':'
	BulkString     Kind = '$'
	Array          Kind = '*'
	Null           Kind = '_'
	Boolean        Kind = '#'
	Double         Kind = ','
	BigNumber      Kind = '('
	BlobError      Kind = '!'
	VerbatimString Kind = '='
	Map            Kind = '%'
	Set            Kind = '~'
	Attribute      Kind = '|'
	Push           Kind = '>'
)

func (k Kind) String() string {
	switch k {
	case SimpleString:
		return "simple-string"
	case Error:
		return "error"
	case Integer:
		return "integer"
	case BulkString:
		return "bulk-string"
	case Array:
		return "array"
	case Null:
		return "null"
	case Boolean:
		return "boolean"
	case Double:
		return "double"
	case BigNumber:
		return "big-number"
	case BlobError:
		return "blob-error"
	case VerbatimString:
		return "verbatim-string"
	case Map:
		return "map"
	case Set:
		return "set"
	case Attribute:
		return "attribute"
	case Push:
		return "push"
	default:
		return "unknown(" + strconv.Quote(string(k)) + ")"
	}
}

// aggregate reports whether values of this kind carry Elems.
func (k Kind) aggregate() bool {
	switch k {
	case Array, Map, Set, Attribute, Push:
		return true
	}
	return false
}

// Value is a single decoded RESP value.
//
// Str holds the payload of the string-like kinds (including the raw text of
// doubles and big numbers so they re-encode byte for byte). Int holds integers
// and booleans (1 or 0). Elems holds the elements of aggregates; maps and
// attributes store their key/value pairs flattened. Nil marks a RESP2 null
// bulk string or null array.
type Value struct {
	Kind  Kind
	Str   []byte
	Int   int64
	Elems []Value
	Nil   bool
}

func NewSimpleString(s string) Value {
	return Value{Kind: SimpleString, Str: []byte(s)}
}

func NewError(msg string) Value {
	return Value{Kind: Error, Str: []byte(msg)}
}

func NewInteger(n int64) Value {
	return Value{Kind: Integer, Int: n}
}

func NewBulk(b []byte) Value {
	if b == nil {
		b = []byte{}
	}
	return Value{Kind: BulkString, Str: b}
}

func NewBulkString(s string) Value {
	return Value{Kind: BulkString, Str: []byte(s)}
}

func NullBulk() Value {
	return Value{Kind: BulkString, Nil: true}
}

func NewArray(elems ...Value) Value {
	if elems == nil {
		elems = []Value{}
	}
	return Value{Kind: Array, Elems: elems}
}

func NullArray() Value {
	return Value{Kind: Array, Nil: true}
}

func NewPush(elems ...Value) Value {
	if elems == nil {
		elems = []Value{}
	}
	return Value{Kind: Push, Elems: elems}
}

func NewSet(elems ...Value) Value {
	if elems == nil {
		elems = []Value{}
	}
	return Value{Kind: Set, Elems: elems}
}

// NewMap builds a map out of flattened key, value pairs.
func NewMap(pairs ...Value) Value {
	if pairs == nil {
		pairs = []Value{}
	}
	return Value{Kind: Map, Elems: pairs}
}

func NewNull() Value {
	return Value{Kind: Null}
}

func NewBoolean(b bool) Value {
	if b {
		return Value{Kind: Boolean, Int: 1}
	}
	return Value{Kind: Boolean}
}

func NewDouble(f float64) Value {
	var text string
	switch {
	case math.IsInf(f, 1):
		text = "inf"
	case math.IsInf(f, -1):
		text = "-inf"
	case math.IsNaN(f):
		text = "nan"
	default:
		text = strconv.FormatFloat(f, 'g', -1, 64)
	}
	return Value{Kind: Double, Str: []byte(text)}
}

// IsNull reports whether v is a RESP2 null (bulk or array) or a RESP3 null.
func (v Value) IsNull() bool {
	return v.Nil || v.Kind == Null
}

// IsError reports whether v is an error reply, simple or blob.
func (v Value) IsError() bool {
	return v.Kind == Error || v.Kind == BlobError
}

// Text returns the string payload of v. Verbatim strings have their three
// letter format prefix removed.
func (v Value) Text() string {
	if v.Kind == VerbatimString && len(v.Str) >= 4 && v.Str[3] == ':' {
		return string(v.Str[4:])
	}
	return string(v.Str)
}

// Len returns the number of elements of an aggregate, counting map pairs once.
func (v Value) Len() int {
	if v.Kind == Map || v.Kind == Attribute {
		return len(v.Elems) / 2
	}
	return len(v.Elems)
}
