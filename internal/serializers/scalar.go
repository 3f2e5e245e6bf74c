package serializers

import (
	"fmt"
	"math"
	"reflect"

	"github.com/rawbytedev/refgraph/internal/common"
	"github.com/rawbytedev/refgraph/pkg/contract"
	"github.com/rawbytedev/refgraph/pkg/wire"
)

// ScalarNode encodes bool, integer, float and string kinds, including named
// types over them.
type ScalarNode struct {
	typ    reflect.Type
	kind   reflect.Kind
	format contract.DataFormat
	wt     wire.WireType
}

// NewScalar returns the leaf for t under the given data format.
func NewScalar(t reflect.Type, format contract.DataFormat) (*ScalarNode, error) {
	k := t.Kind()
	if !common.IsScalarKind(k) && k != reflect.String {
		return nil, contractErr(t, "not a scalar kind")
	}
	wt, err := scalarWireType(k, format)
	if err != nil {
		return nil, contractErr(t, "%v", err)
	}
	return &ScalarNode{typ: t, kind: k, format: format, wt: wt}, nil
}

func scalarWireType(k reflect.Kind, format contract.DataFormat) (wire.WireType, error) {
	switch {
	case k == reflect.String:
		if format != contract.FormatDefault {
			return 0, fmt.Errorf("%s format on string", format)
		}
		return wire.Bytes, nil
	case k == reflect.Bool:
		if format != contract.FormatDefault {
			return 0, fmt.Errorf("%s format on bool", format)
		}
		return wire.Varint, nil
	case k == reflect.Float32:
		return wire.Fixed32, nil
	case k == reflect.Float64:
		return wire.Fixed64, nil
	case common.IsUintKind(k) && format == contract.FormatZigZag:
		return 0, fmt.Errorf("zigzag format on unsigned kind %s", k)
	case format == contract.FormatFixed:
		if common.FixedSize(k) == 4 {
			return wire.Fixed32, nil
		}
		return wire.Fixed64, nil
	}
	return wire.Varint, nil
}

func (s *ScalarNode) ExpectedType() reflect.Type { return s.typ }
func (s *ScalarNode) RequiresOldValue() bool     { return false }
func (s *ScalarNode) ReturnsValue() bool         { return true }
func (s *ScalarNode) WireType() wire.WireType    { return s.wt }
func (s *ScalarNode) Kind() reflect.Kind         { return s.kind }
func (s *ScalarNode) Format() contract.DataFormat {
	return s.format
}

func (s *ScalarNode) Write(v reflect.Value, e *Encoder) error {
	switch {
	case common.IsIntKind(s.kind):
		putInt(e, s.format, s.kind, v.Int())
	case common.IsUintKind(s.kind):
		putUint(e, s.format, s.kind, v.Uint())
	case s.kind == reflect.Bool:
		e.WriteBool(v.Bool())
	case s.kind == reflect.Float32:
		e.WriteFloat32(float32(v.Float()))
	case s.kind == reflect.Float64:
		e.WriteFloat64(v.Float())
	case s.kind == reflect.String:
		e.WriteString(v.String())
	}
	return nil
}

func (s *ScalarNode) Read(_ reflect.Value, d *Decoder) (reflect.Value, error) {
	out := reflect.New(s.typ).Elem()
	switch {
	case common.IsIntKind(s.kind):
		x, err := getInt(d, s.format, s.kind)
		if err != nil {
			return out, err
		}
		out.SetInt(x)
	case common.IsUintKind(s.kind):
		x, err := getUint(d, s.format, s.kind)
		if err != nil {
			return out, err
		}
		out.SetUint(x)
	case s.kind == reflect.Bool:
		x, err := d.ReadBool()
		if err != nil {
			return out, err
		}
		out.SetBool(x)
	case s.kind == reflect.Float32:
		x, err := d.ReadFloat32()
		if err != nil {
			return out, err
		}
		out.SetFloat(float64(x))
	case s.kind == reflect.Float64:
		x, err := d.ReadFloat64()
		if err != nil {
			return out, err
		}
		out.SetFloat(x)
	case s.kind == reflect.String:
		x, err := d.ReadString()
		if err != nil {
			return out, err
		}
		out.SetString(x)
	}
	return out, nil
}

func putInt(e *Encoder, format contract.DataFormat, k reflect.Kind, x int64) {
	switch format {
	case contract.FormatZigZag:
		e.WriteZigZag(x)
	case contract.FormatFixed:
		if common.FixedSize(k) == 4 {
			e.WriteFixed32(uint32(int32(x)))
		} else {
			e.WriteFixed64(uint64(x))
		}
	default:
		e.WriteInt(x)
	}
}

func putUint(e *Encoder, format contract.DataFormat, k reflect.Kind, x uint64) {
	if format == contract.FormatFixed {
		if common.FixedSize(k) == 4 {
			e.WriteFixed32(uint32(x))
		} else {
			e.WriteFixed64(x)
		}
		return
	}
	e.WriteVarint(x)
}

func getInt(d *Decoder, format contract.DataFormat, k reflect.Kind) (int64, error) {
	var x int64
	switch format {
	case contract.FormatZigZag:
		v, err := d.ReadZigZag()
		if err != nil {
			return 0, err
		}
		x = v
	case contract.FormatFixed:
		if common.FixedSize(k) == 4 {
			v, err := d.ReadFixed32()
			if err != nil {
				return 0, err
			}
			x = int64(int32(v))
		} else {
			v, err := d.ReadFixed64()
			if err != nil {
				return 0, err
			}
			x = int64(v)
		}
	default:
		v, err := d.ReadInt()
		if err != nil {
			return 0, err
		}
		x = v
	}
	if bits := intBits(k); bits < 64 {
		if x < -(1<<(bits-1)) || x > 1<<(bits-1)-1 {
			return 0, fmt.Errorf("%w: %d into %s", ErrOverflow, x, k)
		}
	}
	return x, nil
}

func getUint(d *Decoder, format contract.DataFormat, k reflect.Kind) (uint64, error) {
	var x uint64
	if format == contract.FormatFixed {
		if common.FixedSize(k) == 4 {
			v, err := d.ReadFixed32()
			if err != nil {
				return 0, err
			}
			x = uint64(v)
		} else {
			v, err := d.ReadFixed64()
			if err != nil {
				return 0, err
			}
			x = v
		}
	} else {
		v, err := d.ReadVarint()
		if err != nil {
			return 0, err
		}
		x = v
	}
	if bits := intBits(k); bits < 64 && x > math.MaxUint64>>(64-bits) {
		return 0, fmt.Errorf("%w: %d into %s", ErrOverflow, x, k)
	}
	return x, nil
}

func intBits(k reflect.Kind) int {
	switch k {
	case reflect.Int8, reflect.Uint8:
		return 8
	case reflect.Int16, reflect.Uint16:
		return 16
	case reflect.Int32, reflect.Uint32:
		return 32
	}
	return 64
}
