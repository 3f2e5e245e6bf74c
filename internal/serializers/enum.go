package serializers

import (
	"fmt"
	"reflect"

	"github.com/rawbytedev/refgraph/internal/common"
	"github.com/rawbytedev/refgraph/pkg/contract"
)

// EnumNode maps the values of an integer-kinded enum type to their wire
// codes. With passthrough the underlying integer is written unchanged.
type EnumNode struct {
	typ         reflect.Type
	toWire      map[int64]int32
	fromWire    map[int32]int64
	passthrough bool
}

func NewEnum(t reflect.Type, values []contract.EnumValue, passthrough bool) (*EnumNode, error) {
	k := t.Kind()
	if !common.IsIntKind(k) && !common.IsUintKind(k) {
		return nil, contractErr(t, "enums need an integer kind")
	}
	n := &EnumNode{
		typ:         t,
		toWire:      make(map[int64]int32, len(values)),
		fromWire:    make(map[int32]int64, len(values)),
		passthrough: passthrough,
	}
	for _, ev := range values {
		if _, dup := n.fromWire[ev.Wire]; dup {
			return nil, contractErr(t, "enum wire value %d used twice", ev.Wire)
		}
		n.toWire[ev.Value] = ev.Wire
		n.fromWire[ev.Wire] = ev.Value
	}
	return n, nil
}

func (n *EnumNode) ExpectedType() reflect.Type { return n.typ }
func (n *EnumNode) RequiresOldValue() bool     { return false }
func (n *EnumNode) ReturnsValue() bool         { return true }

func (n *EnumNode) value(v reflect.Value) int64 {
	if common.IsUintKind(v.Kind()) {
		return int64(v.Uint())
	}
	return v.Int()
}

func (n *EnumNode) Write(v reflect.Value, e *Encoder) error {
	x := n.value(v)
	if n.passthrough {
		e.WriteInt(x)
		return nil
	}
	code, ok := n.toWire[x]
	if !ok {
		return fmt.Errorf("%w: %d for %s", ErrUnknownEnumValue, x, n.typ)
	}
	e.WriteInt(int64(code))
	return nil
}

func (n *EnumNode) Read(_ reflect.Value, d *Decoder) (reflect.Value, error) {
	raw, err := d.ReadInt()
	if err != nil {
		return reflect.Value{}, err
	}
	x := raw
	if !n.passthrough {
		var ok bool
		if x, ok = n.fromWire[int32(raw)]; !ok || int64(int32(raw)) != raw {
			return reflect.Value{}, fmt.Errorf("%w: wire %d for %s", ErrUnknownEnumValue, raw, n.typ)
		}
	}
	out := reflect.New(n.typ).Elem()
	if common.IsUintKind(n.typ.Kind()) {
		if x < 0 || out.OverflowUint(uint64(x)) {
			return reflect.Value{}, fmt.Errorf("%w: %d for %s", ErrOverflow, x, n.typ)
		}
		out.SetUint(uint64(x))
		return out, nil
	}
	if out.OverflowInt(x) {
		return reflect.Value{}, fmt.Errorf("%w: %d for %s", ErrOverflow, x, n.typ)
	}
	out.SetInt(x)
	return out, nil
}
