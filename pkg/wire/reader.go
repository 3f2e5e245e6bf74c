package wire

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// Reader walks wire-format data. Field headers are read one at a time; the
// value readers then consume the payload of the current field.
type Reader struct {
	buf    []byte
	pos    int
	end    int
	limits []int
	field  int
	wt     WireType
}

func NewReader(data []byte) *Reader {
	return &Reader{buf: data, end: len(data)}
}

// Position is the absolute offset of the next unread byte.
func (r *Reader) Position() int { return r.pos }

// Depth is the number of open sub-items.
func (r *Reader) Depth() int { return len(r.limits) }

// Remaining is the number of unread bytes in the current sub-item.
func (r *Reader) Remaining() int { return r.end - r.pos }

// FieldNumber of the most recently read header.
func (r *Reader) FieldNumber() int { return r.field }

// WireType of the most recently read header.
func (r *Reader) WireType() WireType { return r.wt }

// ReadFieldHeader reads the next field header and returns its number, or 0
// at the end of the current sub-item.
func (r *Reader) ReadFieldHeader() (int, error) {
	if r.pos >= r.end {
		r.field = 0
		return 0, nil
	}
	num, wt, n := protowire.ConsumeTag(r.buf[r.pos:r.end])
	if n < 0 {
		return 0, parseError(n)
	}
	if wt == EndGroup {
		return 0, fmt.Errorf("%w: unmatched end-group at %d", ErrWireType, r.pos)
	}
	r.pos += n
	r.field, r.wt = int(num), wt
	return r.field, nil
}

// PeekFieldNumber returns the number of the next field header without
// consuming it, or 0 at the end of the current sub-item.
func (r *Reader) PeekFieldNumber() int {
	if r.pos >= r.end {
		return 0
	}
	num, _, n := protowire.ConsumeTag(r.buf[r.pos:r.end])
	if n < 0 {
		return 0
	}
	return int(num)
}

// TryReadFieldHeader consumes the next header only if it carries num.
func (r *Reader) TryReadFieldHeader(num int) bool {
	if r.pos >= r.end {
		return false
	}
	got, wt, n := protowire.ConsumeTag(r.buf[r.pos:r.end])
	if n < 0 || int(got) != num {
		return false
	}
	r.pos += n
	r.field, r.wt = num, wt
	return true
}

// Expect fails unless the current field has wire type wt.
func (r *Reader) Expect(wt WireType) error {
	if r.wt != wt {
		return fmt.Errorf("%w: field %d is %s, want %s", ErrWireType, r.field, wireTypeName(r.wt), wireTypeName(wt))
	}
	return nil
}

func (r *Reader) ReadVarint() (uint64, error) {
	v, n := protowire.ConsumeVarint(r.buf[r.pos:r.end])
	if n < 0 {
		return 0, parseError(n)
	}
	r.pos += n
	return v, nil
}

func (r *Reader) ReadInt() (int64, error) {
	v, err := r.ReadVarint()
	return int64(v), err
}

func (r *Reader) ReadZigZag() (int64, error) {
	v, err := r.ReadVarint()
	return protowire.DecodeZigZag(v), err
}

func (r *Reader) ReadBool() (bool, error) {
	v, err := r.ReadVarint()
	return protowire.DecodeBool(v), err
}

func (r *Reader) ReadFixed32() (uint32, error) {
	v, n := protowire.ConsumeFixed32(r.buf[r.pos:r.end])
	if n < 0 {
		return 0, parseError(n)
	}
	r.pos += n
	return v, nil
}

func (r *Reader) ReadFixed64() (uint64, error) {
	v, n := protowire.ConsumeFixed64(r.buf[r.pos:r.end])
	if n < 0 {
		return 0, parseError(n)
	}
	r.pos += n
	return v, nil
}

func (r *Reader) ReadFloat32() (float32, error) {
	v, err := r.ReadFixed32()
	return math.Float32frombits(v), err
}

func (r *Reader) ReadFloat64() (float64, error) {
	v, err := r.ReadFixed64()
	return math.Float64frombits(v), err
}

// ReadBytes returns a length-delimited payload. The slice aliases the input;
// callers that retain it must copy.
func (r *Reader) ReadBytes() ([]byte, error) {
	v, n := protowire.ConsumeBytes(r.buf[r.pos:r.end])
	if n < 0 {
		return nil, parseError(n)
	}
	r.pos += n
	return v, nil
}

func (r *Reader) ReadString() (string, error) {
	b, err := r.ReadBytes()
	return string(b), err
}

// SkipField discards the payload of the current field.
func (r *Reader) SkipField() error {
	n := protowire.ConsumeFieldValue(protowire.Number(r.field), r.wt, r.buf[r.pos:r.end])
	if n < 0 {
		return parseError(n)
	}
	r.pos += n
	return nil
}

// StartSubItem enters the length-delimited payload of the current field.
func (r *Reader) StartSubItem() (SubItemToken, error) {
	if err := r.Expect(Bytes); err != nil {
		return 0, err
	}
	length, n := protowire.ConsumeVarint(r.buf[r.pos:r.end])
	if n < 0 {
		return 0, parseError(n)
	}
	if length > uint64(r.end-r.pos-n) {
		return 0, fmt.Errorf("%w: sub-item of %d bytes at %d", ErrTruncated, length, r.pos)
	}
	r.pos += n
	r.limits = append(r.limits, r.end)
	r.end = r.pos + int(length)
	return SubItemToken(len(r.limits)), nil
}

// EndSubItem leaves the innermost sub-item, which must have been consumed
// completely.
func (r *Reader) EndSubItem(tok SubItemToken) error {
	n := len(r.limits)
	if n == 0 || int(tok) != n {
		return fmt.Errorf("%w: closing %d at depth %d", ErrUnbalanced, tok, n)
	}
	if r.pos != r.end {
		return fmt.Errorf("%w: %d bytes left at %d", ErrBadLength, r.end-r.pos, r.pos)
	}
	r.end = r.limits[n-1]
	r.limits = r.limits[:n-1]
	return nil
}

// Seek moves to an absolute offset. Only valid outside sub-items.
func (r *Reader) Seek(pos int) error {
	if len(r.limits) != 0 {
		return ErrSeekNested
	}
	if pos < 0 || pos > len(r.buf) {
		return fmt.Errorf("%w: %d of %d", ErrPositionBounds, pos, len(r.buf))
	}
	r.pos = pos
	r.field = 0
	return nil
}
