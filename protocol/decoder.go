package protocol

// Decoder accumulates bytes read from a connection and decodes complete
// values out of them. It is not safe for concurrent use.
type Decoder struct {
	// MaxBulkLen and MaxArrayLen override the package limits when non zero.
	MaxBulkLen  int
	MaxArrayLen int

	buf []byte
	pos int

	// open holds the aggregates of the current frame that are still missing
	// elements, innermost last. Their finished elements are already consumed
	// from buf, so a truncated frame resumes where it stopped.
	open []partial
}

type partial struct {
	value     Value
	remaining int
}

func NewDecoder() *Decoder {
	return &Decoder{buf: make([]byte, 0, 4096)}
}

// Feed appends p to the buffer. p is copied so callers can reuse it.
func (d *Decoder) Feed(p []byte) {
	if d.pos > 0 && d.pos >= len(d.buf)/2 {
		// Compact once the consumed prefix is at least half of the buffer
		n := copy(d.buf, d.buf[d.pos:])
		d.buf = d.buf[:n]
		d.pos = 0
	}

	d.buf = append(d.buf, p...)
}

// Next decodes the next value. It returns ErrIncomplete when the buffered
// bytes don't hold a full value yet, any other error is a protocol error.
func (d *Decoder) Next() (Value, error) {
	lim := d.limits()

	for {
		v, children, next, err := decodeHead(d.buf, d.pos, lim)
		if err != nil {
			return Value{}, err
		}
		d.pos = next

		if children > 0 {
			v.Elems = make([]Value, 0, elemsCapacity(children))
			d.open = append(d.open, partial{value: v, remaining: children})
			continue
		}

		// Close every aggregate v completes
		for len(d.open) > 0 {
			top := &d.open[len(d.open)-1]
			top.value.Elems = append(top.value.Elems, v)
			top.remaining--
			if top.remaining > 0 {
				break
			}

			v = top.value
			d.open[len(d.open)-1] = partial{}
			d.open = d.open[:len(d.open)-1]
		}

		if len(d.open) > 0 {
			continue
		}

		if d.pos == len(d.buf) {
			d.buf = d.buf[:0]
			d.pos = 0
		}
		return v, nil
	}
}

// Buffered returns the number of bytes fed but not consumed yet. Elements of
// a partially received aggregate are consumed as soon as they are complete.
func (d *Decoder) Buffered() int {
	return len(d.buf) - d.pos
}

// Reset discards everything buffered.
func (d *Decoder) Reset() {
	d.buf = d.buf[:0]
	d.pos = 0
	d.open = d.open[:0]
}

func (d *Decoder) limits() limits {
	lim := defaultLimits
	if d.MaxBulkLen > 0 {
		lim.maxBulkLen = d.MaxBulkLen
	}
	if d.MaxArrayLen > 0 {
		lim.maxArrayLen = d.MaxArrayLen
	}
	return lim
}
