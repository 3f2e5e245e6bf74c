package serializers

import (
	"fmt"
	"math/big"
	"net/url"
	"reflect"
	"time"

	"github.com/google/uuid"
	"github.com/rawbytedev/refgraph/internal/common"
	"github.com/rawbytedev/refgraph/pkg/contract"
	"github.com/rawbytedev/refgraph/pkg/wire"
	"github.com/shopspring/decimal"
)

var (
	timeType     = reflect.TypeFor[time.Time]()
	durationType = reflect.TypeFor[time.Duration]()
	uuidType     = reflect.TypeFor[uuid.UUID]()
	decimalType  = reflect.TypeFor[decimal.Decimal]()
	urlType      = reflect.TypeFor[*url.URL]()
	typeType     = reflect.TypeFor[reflect.Type]()
)

// Leaf returns the leaf node and wire type for t, or ok=false when t is not
// a leaf type.
func Leaf(t reflect.Type, format contract.DataFormat) (n Node, wt wire.WireType, ok bool, err error) {
	switch t {
	case timeType:
		return timeNode{}, wire.Bytes, true, nil
	case durationType:
		return durationNode{}, wire.Bytes, true, nil
	case uuidType:
		return uuidNode{}, wire.Bytes, true, nil
	case decimalType:
		return decimalNode{}, wire.Bytes, true, nil
	case urlType:
		return urlNode{}, wire.Bytes, true, nil
	case typeType:
		return typeNode{}, wire.Bytes, true, nil
	}
	if isByteSlice(t) || isByteArray(t) {
		return &BytesNode{typ: t}, wire.Bytes, true, nil
	}
	if k := t.Kind(); k == reflect.String || (k != reflect.Uintptr && common.IsScalarKind(k)) {
		s, err := NewScalar(t, format)
		if err != nil {
			return nil, 0, true, err
		}
		return s, s.wt, true, nil
	}
	return nil, 0, false, nil
}

func isByteSlice(t reflect.Type) bool {
	return t.Kind() == reflect.Slice && t.Elem().Kind() == reflect.Uint8
}

func isByteArray(t reflect.Type) bool {
	return t.Kind() == reflect.Array && t.Elem().Kind() == reflect.Uint8 && t != uuidType
}

// BytesNode encodes []byte and [N]byte as a length-delimited payload.
type BytesNode struct {
	typ reflect.Type
}

func (b *BytesNode) ExpectedType() reflect.Type { return b.typ }
func (b *BytesNode) RequiresOldValue() bool     { return false }
func (b *BytesNode) ReturnsValue() bool         { return true }

func (b *BytesNode) Write(v reflect.Value, e *Encoder) error {
	if v.Kind() == reflect.Slice {
		e.WriteBytes(v.Bytes())
		return nil
	}
	buf := make([]byte, v.Len())
	reflect.Copy(reflect.ValueOf(buf), v)
	e.WriteBytes(buf)
	return nil
}

func (b *BytesNode) Read(_ reflect.Value, d *Decoder) (reflect.Value, error) {
	raw, err := d.ReadBytes()
	if err != nil {
		return reflect.Value{}, err
	}
	if b.typ.Kind() == reflect.Slice {
		out := reflect.MakeSlice(b.typ, len(raw), len(raw))
		reflect.Copy(out, reflect.ValueOf(raw))
		return out, nil
	}
	if len(raw) != b.typ.Len() {
		return reflect.Value{}, fmt.Errorf("%w: %d bytes for %s", wire.ErrBadLength, len(raw), b.typ)
	}
	out := reflect.New(b.typ).Elem()
	reflect.Copy(out, reflect.ValueOf(raw))
	return out, nil
}

// seconds/nanos pair shared by time.Time and time.Duration, laid out like
// the well-known Timestamp and Duration messages.
func writeSecondsNanos(e *Encoder, sec int64, nanos int32) error {
	tok := e.StartSubItem()
	if sec != 0 {
		_ = e.WriteTag(1, wire.Varint)
		e.WriteInt(sec)
	}
	if nanos != 0 {
		_ = e.WriteTag(2, wire.Varint)
		e.WriteInt(int64(nanos))
	}
	return e.EndSubItem(tok)
}

func readSecondsNanos(d *Decoder) (sec int64, nanos int64, err error) {
	tok, err := d.StartSubItem()
	if err != nil {
		return 0, 0, err
	}
	for {
		num, err := d.ReadFieldHeader()
		if err != nil {
			return 0, 0, err
		}
		if num == 0 {
			break
		}
		switch num {
		case 1:
			sec, err = d.ReadInt()
		case 2:
			nanos, err = d.ReadInt()
		default:
			err = d.SkipField()
		}
		if err != nil {
			return 0, 0, err
		}
	}
	return sec, nanos, d.EndSubItem(tok)
}

type timeNode struct{}

func (timeNode) ExpectedType() reflect.Type { return timeType }
func (timeNode) RequiresOldValue() bool     { return false }
func (timeNode) ReturnsValue() bool         { return true }

func (timeNode) Write(v reflect.Value, e *Encoder) error {
	t := v.Interface().(time.Time)
	return writeSecondsNanos(e, t.Unix(), int32(t.Nanosecond()))
}

func (timeNode) Read(_ reflect.Value, d *Decoder) (reflect.Value, error) {
	sec, nanos, err := readSecondsNanos(d)
	if err != nil {
		return reflect.Value{}, err
	}
	return reflect.ValueOf(time.Unix(sec, nanos).UTC()), nil
}

type durationNode struct{}

func (durationNode) ExpectedType() reflect.Type { return durationType }
func (durationNode) RequiresOldValue() bool     { return false }
func (durationNode) ReturnsValue() bool         { return true }

func (durationNode) Write(v reflect.Value, e *Encoder) error {
	dur := time.Duration(v.Int())
	return writeSecondsNanos(e, int64(dur/time.Second), int32(dur%time.Second))
}

func (durationNode) Read(_ reflect.Value, d *Decoder) (reflect.Value, error) {
	sec, nanos, err := readSecondsNanos(d)
	if err != nil {
		return reflect.Value{}, err
	}
	return reflect.ValueOf(time.Duration(sec)*time.Second + time.Duration(nanos)), nil
}

type uuidNode struct{}

func (uuidNode) ExpectedType() reflect.Type { return uuidType }
func (uuidNode) RequiresOldValue() bool     { return false }
func (uuidNode) ReturnsValue() bool         { return true }

func (uuidNode) Write(v reflect.Value, e *Encoder) error {
	id := v.Interface().(uuid.UUID)
	e.WriteBytes(id[:])
	return nil
}

func (uuidNode) Read(_ reflect.Value, d *Decoder) (reflect.Value, error) {
	raw, err := d.ReadBytes()
	if err != nil {
		return reflect.Value{}, err
	}
	id, err := uuid.FromBytes(raw)
	if err != nil {
		return reflect.Value{}, fmt.Errorf("%w: %v", wire.ErrBadLength, err)
	}
	return reflect.ValueOf(id), nil
}

// decimalNode uses the .NET decimal layout: a 96-bit magnitude split into
// lo (64 bits) and hi (32 bits), and a sign/scale word with the sign in bit
// 0 and the scale in bits 1-8.
type decimalNode struct{}

const (
	decimalMaxScale  = 28
	decimalSignBit   = 0x001
	decimalScaleMask = 0x1FE
)

var (
	mask64 = new(big.Int).SetUint64(^uint64(0))
	max96  = new(big.Int).Lsh(big.NewInt(1), 96)
)

func (decimalNode) ExpectedType() reflect.Type { return decimalType }
func (decimalNode) RequiresOldValue() bool     { return false }
func (decimalNode) ReturnsValue() bool         { return true }

func (decimalNode) Write(v reflect.Value, e *Encoder) error {
	dec := v.Interface().(decimal.Decimal)
	if exp := dec.Exponent(); exp < -decimalMaxScale {
		dec = dec.Round(decimalMaxScale)
	}
	coef := dec.Coefficient()
	scale := int64(0)
	if exp := dec.Exponent(); exp > 0 {
		coef.Mul(coef, new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(exp)), nil))
	} else {
		scale = int64(-exp)
	}
	var sign uint64
	if coef.Sign() < 0 {
		sign = decimalSignBit
		coef.Neg(coef)
	}
	if coef.Cmp(max96) >= 0 {
		return fmt.Errorf("%w: %s does not fit a 96-bit decimal", ErrOverflow, dec)
	}
	lo := new(big.Int).And(coef, mask64).Uint64()
	hi := new(big.Int).Rsh(coef, 64).Uint64()
	signScale := sign | uint64(scale<<1)&decimalScaleMask

	tok := e.StartSubItem()
	if lo != 0 {
		_ = e.WriteTag(1, wire.Varint)
		e.WriteVarint(lo)
	}
	if hi != 0 {
		_ = e.WriteTag(2, wire.Varint)
		e.WriteVarint(hi)
	}
	if signScale != 0 {
		_ = e.WriteTag(3, wire.Varint)
		e.WriteVarint(signScale)
	}
	return e.EndSubItem(tok)
}

func (decimalNode) Read(_ reflect.Value, d *Decoder) (reflect.Value, error) {
	tok, err := d.StartSubItem()
	if err != nil {
		return reflect.Value{}, err
	}
	var lo, hi, signScale uint64
	for {
		num, err := d.ReadFieldHeader()
		if err != nil {
			return reflect.Value{}, err
		}
		if num == 0 {
			break
		}
		switch num {
		case 1:
			lo, err = d.ReadVarint()
		case 2:
			hi, err = d.ReadVarint()
		case 3:
			signScale, err = d.ReadVarint()
		default:
			err = d.SkipField()
		}
		if err != nil {
			return reflect.Value{}, err
		}
	}
	if err := d.EndSubItem(tok); err != nil {
		return reflect.Value{}, err
	}
	coef := new(big.Int).Lsh(new(big.Int).SetUint64(hi), 64)
	coef.Or(coef, new(big.Int).SetUint64(lo))
	if signScale&decimalSignBit != 0 {
		coef.Neg(coef)
	}
	scale := int32((signScale & decimalScaleMask) >> 1)
	return reflect.ValueOf(decimal.NewFromBigInt(coef, -scale)), nil
}

// urlNode writes the URL's string form; an empty string decodes as nil.
type urlNode struct{}

func (urlNode) ExpectedType() reflect.Type { return urlType }
func (urlNode) RequiresOldValue() bool     { return false }
func (urlNode) ReturnsValue() bool         { return true }

func (urlNode) Write(v reflect.Value, e *Encoder) error {
	e.WriteString(v.Interface().(*url.URL).String())
	return nil
}

func (urlNode) Read(_ reflect.Value, d *Decoder) (reflect.Value, error) {
	s, err := d.ReadString()
	if err != nil || s == "" {
		return reflect.Value{}, err
	}
	u, err := url.Parse(s)
	if err != nil {
		return reflect.Value{}, fmt.Errorf("refgraph: decode url: %w", err)
	}
	v := reflect.ValueOf(u)
	return v, d.Note(v)
}

// typeNode encodes a reflect.Type by its model display name.
type typeNode struct{}

func (typeNode) ExpectedType() reflect.Type { return typeType }
func (typeNode) RequiresOldValue() bool     { return false }
func (typeNode) ReturnsValue() bool         { return true }

func (typeNode) Write(v reflect.Value, e *Encoder) error {
	name, err := e.Resolver.NameOf(v.Interface().(reflect.Type))
	if err != nil {
		return err
	}
	e.WriteString(name)
	return nil
}

func (typeNode) Read(_ reflect.Value, d *Decoder) (reflect.Value, error) {
	name, err := d.ReadString()
	if err != nil || name == "" {
		return reflect.Value{}, err
	}
	t, err := d.Resolver.TypeOf(name)
	if err != nil {
		return reflect.Value{}, err
	}
	return reflect.ValueOf(&t).Elem(), nil
}
