package protocol

import (
	"io"
	"strconv"
)

// AppendCommand appends the multi-bulk encoding of a command to dst.
// Arguments are opaque byte strings.
func AppendCommand(dst []byte, keyword Keyword, args ...[]byte) []byte {
	dst = appendHeader(dst, Array, int64(len(args)+1))

	dst = appendHeader(dst, BulkString, int64(len(keyword)))
	dst = append(dst, keyword...)
	dst = append(dst, crlf...)

	for _, arg := range args {
		dst = appendHeader(dst, BulkString, int64(len(arg)))
		dst = append(dst, arg...)
		dst = append(dst, crlf...)
	}

	return dst
}

func WriteCommand(w io.Writer, keyword Keyword, args ...[]byte) error {
	_, err := w.Write(AppendCommand(nil, keyword, args...))
	return err
}

// AppendValue appends the canonical encoding of v to dst.
func AppendValue(dst []byte, v Value) []byte {
	switch v.Kind {
	case SimpleString, Error, Double, BigNumber:
		dst = append(dst, byte(v.Kind))
		dst = append(dst, v.Str...)
		return append(dst, crlf...)

	case Integer:
		dst = append(dst, byte(Integer))
		dst = strconv.AppendInt(dst, v.Int, 10)
		return append(dst, crlf...)

	case Null:
		return append(dst, '_', '\r', '\n')

	case Boolean:
		if v.Int != 0 {
			return append(dst, '#', 't', '\r', '\n')
		}
		return append(dst, '#', 'f', '\r', '\n')

	case BulkString, BlobError, VerbatimString:
		if v.Nil {
			return appendHeader(dst, v.Kind, -1)
		}
		dst = appendHeader(dst, v.Kind, int64(len(v.Str)))
		dst = append(dst, v.Str...)
		return append(dst, crlf...)

	case Array, Set, Push, Map, Attribute:
		if v.Nil {
			return appendHeader(dst, v.Kind, -1)
		}
		dst = appendHeader(dst, v.Kind, int64(v.Len()))
		for _, elem := range v.Elems {
			dst = AppendValue(dst, elem)
		}
		return dst
	}

	return dst
}

func WriteValue(w io.Writer, v Value) error {
	_, err := w.Write(AppendValue(nil, v))
	return err
}

func WriteSimpleString(w io.Writer, s string) error {
	return WriteValue(w, NewSimpleString(s))
}

func WriteOk(w io.Writer) error {
	return WriteSimpleString(w, "OK")
}

func WriteError(w io.Writer, errMsg string) error {
	return WriteValue(w, NewError(errMsg))
}

func WriteInteger(w io.Writer, n int64) error {
	return WriteValue(w, NewInteger(n))
}

func WriteBulk(w io.Writer, b []byte) error {
	if b == nil {
		return WriteNullBulk(w)
	}
	return WriteValue(w, NewBulk(b))
}

func WriteNullBulk(w io.Writer) error {
	return WriteValue(w, NullBulk())
}

// WriteArrayHeader writes only the `*<n>` header, the caller writes the n
// elements after it.
func WriteArrayHeader(w io.Writer, n int) error {
	_, err := w.Write(appendHeader(nil, Array, int64(n)))
	return err
}

// WriteLines writes an array of bulk strings.
func WriteLines(w io.Writer, lines ...[]byte) error {
	elems := make([]Value, 0, len(lines))
	for _, line := range lines {
		elems = append(elems, NewBulk(line))
	}
	return WriteValue(w, NewArray(elems...))
}

func appendHeader(dst []byte, kind Kind, n int64) []byte {
	dst = append(dst, byte(kind))
	dst = strconv.AppendInt(dst, n, 10)
	return append(dst, crlf...)
}

// WritePush writes a RESP3 push frame, kind first.
func WritePush(w io.Writer, kind string, elems ...Value) error {
	all := make([]Value, 0, len(elems)+1)
	all = append(all, NewBulkString(kind))
	all = append(all, elems...)
	return WriteValue(w, NewPush(all...))
}
