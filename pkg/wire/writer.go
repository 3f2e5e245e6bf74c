package wire

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// Writer appends wire-format data to an in-memory buffer. Sub-items reserve
// a single length byte and are shifted on EndSubItem when the payload needs
// a longer varint.
type Writer struct {
	buf  []byte
	open []int
}

// NewWriter returns a Writer appending to buf.
func NewWriter(buf []byte) *Writer {
	return &Writer{buf: buf[:0]}
}

// Reset clears the buffer, keeping its capacity.
func (w *Writer) Reset() {
	w.buf = w.buf[:0]
	w.open = w.open[:0]
}

// Bytes returns the encoded data. It is only complete once every sub-item
// has been closed.
func (w *Writer) Bytes() []byte { return w.buf }

// Position is the number of bytes written so far.
func (w *Writer) Position() int { return len(w.buf) }

// Depth is the number of open sub-items.
func (w *Writer) Depth() int { return len(w.open) }

// WriteTag writes a field header.
func (w *Writer) WriteTag(num int, wt WireType) error {
	if !ValidFieldNumber(num) {
		return fmt.Errorf("%w: %d", ErrFieldNumber, num)
	}
	w.buf = protowire.AppendTag(w.buf, protowire.Number(num), wt)
	return nil
}

func (w *Writer) WriteVarint(v uint64) {
	w.buf = protowire.AppendVarint(w.buf, v)
}

// WriteInt writes a signed integer as a two's complement varint.
func (w *Writer) WriteInt(v int64) {
	w.buf = protowire.AppendVarint(w.buf, uint64(v))
}

func (w *Writer) WriteZigZag(v int64) {
	w.buf = protowire.AppendVarint(w.buf, protowire.EncodeZigZag(v))
}

func (w *Writer) WriteBool(v bool) {
	w.buf = protowire.AppendVarint(w.buf, protowire.EncodeBool(v))
}

func (w *Writer) WriteFixed32(v uint32) {
	w.buf = protowire.AppendFixed32(w.buf, v)
}

func (w *Writer) WriteFixed64(v uint64) {
	w.buf = protowire.AppendFixed64(w.buf, v)
}

func (w *Writer) WriteFloat32(v float32) {
	w.WriteFixed32(math.Float32bits(v))
}

func (w *Writer) WriteFloat64(v float64) {
	w.WriteFixed64(math.Float64bits(v))
}

// WriteBytes writes a length-prefixed byte payload.
func (w *Writer) WriteBytes(b []byte) {
	w.buf = protowire.AppendBytes(w.buf, b)
}

// WriteString writes a length-prefixed string payload.
func (w *Writer) WriteString(s string) {
	w.buf = protowire.AppendString(w.buf, s)
}

// WriteRaw appends already encoded bytes.
func (w *Writer) WriteRaw(b []byte) {
	w.buf = append(w.buf, b...)
}

// StartSubItem opens a length-delimited payload. The field header must have
// been written with wire type Bytes.
func (w *Writer) StartSubItem() SubItemToken {
	start := len(w.buf)
	w.buf = append(w.buf, 0)
	w.open = append(w.open, start)
	return SubItemToken(start)
}

// EndSubItem closes the innermost sub-item and patches its length.
func (w *Writer) EndSubItem(tok SubItemToken) error {
	n := len(w.open)
	if n == 0 || w.open[n-1] != int(tok) {
		return fmt.Errorf("%w: closing %d", ErrUnbalanced, tok)
	}
	w.open = w.open[:n-1]
	start := int(tok)
	length := len(w.buf) - start - 1
	size := protowire.SizeVarint(uint64(length))
	if size > 1 {
		extra := size - 1
		w.buf = append(w.buf, make([]byte, extra)...)
		copy(w.buf[start+size:], w.buf[start+1:start+1+length])
	}
	protowire.AppendVarint(w.buf[start:start], uint64(length))
	return nil
}
