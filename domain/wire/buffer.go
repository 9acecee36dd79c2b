// Package wire implements the byte buffer used by every message codec.
//
// Integers are written as protobuf varints (signed values zigzag encoded),
// floats as little-endian fixed-width words and byte slices/strings with a
// varint length prefix. A Reader keeps the first decoding error and turns
// every later read into a no-op, so codecs can read a whole message and
// check Err once.
package wire

import (
	"errors"
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

var ErrShortBuffer = errors.New("wire: short buffer")

type Writer struct {
	buf []byte
}

func NewWriter(capacity int) *Writer {
	return &Writer{buf: make([]byte, 0, capacity)}
}

func (w *Writer) Bytes() []byte { return w.buf }
func (w *Writer) Len() int      { return len(w.buf) }
func (w *Writer) Reset()        { w.buf = w.buf[:0] }

func (w *Writer) Byte(b byte) { w.buf = append(w.buf, b) }

func (w *Writer) Bool(v bool) {
	w.buf = protowire.AppendVarint(w.buf, protowire.EncodeBool(v))
}

func (w *Writer) Uvarint(v uint64) {
	w.buf = protowire.AppendVarint(w.buf, v)
}

func (w *Writer) Varint(v int64) {
	w.buf = protowire.AppendVarint(w.buf, protowire.EncodeZigZag(v))
}

func (w *Writer) Int32(v int32) { w.Varint(int64(v)) }

func (w *Writer) Float32(v float32) {
	w.buf = protowire.AppendFixed32(w.buf, math.Float32bits(v))
}

func (w *Writer) Float64(v float64) {
	w.buf = protowire.AppendFixed64(w.buf, math.Float64bits(v))
}

// Text writes a length-prefixed string.
func (w *Writer) Text(s string) {
	w.buf = protowire.AppendString(w.buf, s)
}

// Blob writes b with a length prefix.
func (w *Writer) Blob(b []byte) {
	w.buf = protowire.AppendBytes(w.buf, b)
}

// Raw appends b as is.
func (w *Writer) Raw(b []byte) {
	w.buf = append(w.buf, b...)
}

type Reader struct {
	buf []byte
	err error
}

func NewReader(b []byte) *Reader {
	return &Reader{buf: b}
}

func (r *Reader) Err() error     { return r.err }
func (r *Reader) Remaining() int { return len(r.buf) }

func (r *Reader) fail(n int, what string) {
	if r.err == nil {
		r.err = fmt.Errorf("wire: reading %s: %w", what, protowire.ParseError(n))
	}
	r.buf = nil
}

func (r *Reader) Byte() byte {
	if r.err != nil {
		return 0
	}
	if len(r.buf) == 0 {
		r.err = fmt.Errorf("wire: reading byte: %w", ErrShortBuffer)
		return 0
	}
	b := r.buf[0]
	r.buf = r.buf[1:]
	return b
}

func (r *Reader) Uvarint() uint64 {
	if r.err != nil {
		return 0
	}
	v, n := protowire.ConsumeVarint(r.buf)
	if n < 0 {
		r.fail(n, "varint")
		return 0
	}
	r.buf = r.buf[n:]
	return v
}

func (r *Reader) Varint() int64 {
	return protowire.DecodeZigZag(r.Uvarint())
}

func (r *Reader) Bool() bool {
	return protowire.DecodeBool(r.Uvarint())
}

func (r *Reader) Int32() int32 {
	v := r.Varint()
	if v < math.MinInt32 || v > math.MaxInt32 {
		if r.err == nil {
			r.err = fmt.Errorf("wire: int32 out of range: %d", v)
		}
		return 0
	}
	return int32(v)
}

func (r *Reader) Float32() float32 {
	if r.err != nil {
		return 0
	}
	v, n := protowire.ConsumeFixed32(r.buf)
	if n < 0 {
		r.fail(n, "fixed32")
		return 0
	}
	r.buf = r.buf[n:]
	return math.Float32frombits(v)
}

func (r *Reader) Float64() float64 {
	if r.err != nil {
		return 0
	}
	v, n := protowire.ConsumeFixed64(r.buf)
	if n < 0 {
		r.fail(n, "fixed64")
		return 0
	}
	r.buf = r.buf[n:]
	return math.Float64frombits(v)
}

func (r *Reader) Text() string {
	if r.err != nil {
		return ""
	}
	v, n := protowire.ConsumeString(r.buf)
	if n < 0 {
		r.fail(n, "string")
		return ""
	}
	r.buf = r.buf[n:]
	return v
}

// Blob reads a length-prefixed byte slice. The result aliases the
// underlying buffer.
func (r *Reader) Blob() []byte {
	if r.err != nil {
		return nil
	}
	v, n := protowire.ConsumeBytes(r.buf)
	if n < 0 {
		r.fail(n, "bytes")
		return nil
	}
	r.buf = r.buf[n:]
	return v
}

// Rest consumes and returns everything left in the buffer.
func (r *Reader) Rest() []byte {
	if r.err != nil {
		return nil
	}
	b := r.buf
	r.buf = nil
	return b
}
