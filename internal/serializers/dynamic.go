package serializers

import (
	"fmt"
	"reflect"

	"github.com/rawbytedev/refgraph/pkg/wire"
)

// DynamicNode embeds the concrete type name next to the value, for members
// whose declared type says nothing about what they hold (typically any).
// The payload is a nested message {1: type name, 2: value}.
type DynamicNode struct {
	typ reflect.Type
}

func NewDynamic(t reflect.Type) *DynamicNode { return &DynamicNode{typ: t} }

func (n *DynamicNode) ExpectedType() reflect.Type { return n.typ }
func (n *DynamicNode) RequiresOldValue() bool     { return false }
func (n *DynamicNode) ReturnsValue() bool         { return true }

func (n *DynamicNode) Write(v reflect.Value, e *Encoder) error {
	v = unwrap(v)
	name, err := e.Resolver.NameOf(v.Type())
	if err != nil {
		return err
	}
	node, wt, err := e.Resolver.ValueNode(v.Type())
	if err != nil {
		return err
	}
	if err := e.enter(); err != nil {
		return err
	}
	defer e.leave()
	tok := e.StartSubItem()
	_ = e.WriteTag(1, wire.Bytes)
	e.WriteString(name)
	if err := e.WriteTag(2, wt); err != nil {
		return err
	}
	if err := node.Write(v, e); err != nil {
		return err
	}
	return e.EndSubItem(tok)
}

func (n *DynamicNode) Read(_ reflect.Value, d *Decoder) (reflect.Value, error) {
	if err := d.enter(); err != nil {
		return reflect.Value{}, err
	}
	defer d.leave()
	tok, err := d.StartSubItem()
	if err != nil {
		return reflect.Value{}, err
	}
	var (
		node Node
		wt   wire.WireType
		res  reflect.Value
	)
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
			name, err := d.ReadString()
			if err != nil {
				return reflect.Value{}, err
			}
			t, err := d.Resolver.TypeOf(name)
			if err != nil {
				return reflect.Value{}, err
			}
			if !t.AssignableTo(n.typ) {
				return reflect.Value{}, fmt.Errorf("%w: %s is not assignable to %s", ErrContract, t, n.typ)
			}
			if node, wt, err = d.Resolver.ValueNode(t); err != nil {
				return reflect.Value{}, err
			}
		case 2:
			if node == nil {
				return reflect.Value{}, fmt.Errorf("%w: dynamic value before its type name", ErrUnknownTypeName)
			}
			if err := d.Expect(wt); err != nil {
				return reflect.Value{}, err
			}
			if res, err = node.Read(reflect.Value{}, d); err != nil {
				return reflect.Value{}, err
			}
		default:
			if err := d.SkipField(); err != nil {
				return reflect.Value{}, err
			}
		}
	}
	if err := d.EndSubItem(tok); err != nil {
		return reflect.Value{}, err
	}
	if !res.IsValid() {
		return reflect.Value{}, nil
	}
	out := reflect.New(n.typ).Elem()
	out.Set(res)
	return out, nil
}
