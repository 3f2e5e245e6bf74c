package serializers

import (
	"fmt"
	"reflect"

	"github.com/rawbytedev/refgraph/pkg/wire"
)

// TagNode writes a field header before its tail. On read the header has
// already been consumed by the enclosing message loop; only the wire type
// is checked.
type TagNode struct {
	number int
	wt     wire.WireType
	tail   Node
}

func NewTag(number int, wt wire.WireType, tail Node) (*TagNode, error) {
	if !wire.ValidFieldNumber(number) {
		return nil, fmt.Errorf("%w: field number %d", ErrContract, number)
	}
	return &TagNode{number: number, wt: wt, tail: tail}, nil
}

func (t *TagNode) ExpectedType() reflect.Type { return t.tail.ExpectedType() }
func (t *TagNode) RequiresOldValue() bool     { return t.tail.RequiresOldValue() }
func (t *TagNode) ReturnsValue() bool         { return t.tail.ReturnsValue() }
func (t *TagNode) Number() int                { return t.number }
func (t *TagNode) WireType() wire.WireType    { return t.wt }
func (t *TagNode) Tail() Node                 { return t.tail }

func (t *TagNode) Write(v reflect.Value, e *Encoder) error {
	if err := e.WriteTag(t.number, t.wt); err != nil {
		return err
	}
	return t.tail.Write(v, e)
}

func (t *TagNode) Read(prev reflect.Value, d *Decoder) (reflect.Value, error) {
	if err := d.Expect(t.wt); err != nil {
		return reflect.Value{}, err
	}
	return t.tail.Read(prev, d)
}

// SubItemNode frames its tail as a length-delimited nested message.
type SubItemNode struct {
	tail Node
}

func NewSubItem(tail Node) *SubItemNode { return &SubItemNode{tail: tail} }

func (s *SubItemNode) ExpectedType() reflect.Type { return s.tail.ExpectedType() }
func (s *SubItemNode) RequiresOldValue() bool     { return s.tail.RequiresOldValue() }
func (s *SubItemNode) ReturnsValue() bool         { return s.tail.ReturnsValue() }
func (s *SubItemNode) Tail() Node                 { return s.tail }

func (s *SubItemNode) Write(v reflect.Value, e *Encoder) error {
	if err := e.enter(); err != nil {
		return err
	}
	defer e.leave()
	tok := e.StartSubItem()
	if err := s.tail.Write(v, e); err != nil {
		return err
	}
	return e.EndSubItem(tok)
}

func (s *SubItemNode) Read(prev reflect.Value, d *Decoder) (reflect.Value, error) {
	if err := d.enter(); err != nil {
		return reflect.Value{}, err
	}
	defer d.leave()
	tok, err := d.StartSubItem()
	if err != nil {
		return reflect.Value{}, err
	}
	res, err := s.tail.Read(prev, d)
	if err != nil {
		return reflect.Value{}, err
	}
	return res, d.EndSubItem(tok)
}

// RootFieldNode wraps a root value that is not itself a message in field 1.
// Other top-level fields are skipped.
type RootFieldNode struct {
	wt   wire.WireType
	tail Node
}

func NewRootField(wt wire.WireType, tail Node) *RootFieldNode {
	return &RootFieldNode{wt: wt, tail: tail}
}

func (r *RootFieldNode) ExpectedType() reflect.Type { return r.tail.ExpectedType() }
func (r *RootFieldNode) RequiresOldValue() bool     { return r.tail.RequiresOldValue() }
func (r *RootFieldNode) ReturnsValue() bool         { return r.tail.ReturnsValue() }
func (r *RootFieldNode) Tail() Node                 { return r.tail }

func (r *RootFieldNode) Write(v reflect.Value, e *Encoder) error {
	if err := e.WriteTag(1, r.wt); err != nil {
		return err
	}
	return r.tail.Write(v, e)
}

func (r *RootFieldNode) Read(prev reflect.Value, d *Decoder) (reflect.Value, error) {
	res := reflect.Value{}
	for {
		num, err := d.ReadFieldHeader()
		if err != nil {
			return reflect.Value{}, err
		}
		if num == 0 {
			return res, nil
		}
		if num != 1 {
			if err := d.SkipField(); err != nil {
				return reflect.Value{}, err
			}
			continue
		}
		if err := d.Expect(r.wt); err != nil {
			return reflect.Value{}, err
		}
		if res.IsValid() {
			prev = res
		}
		out, err := r.tail.Read(prev, d)
		if err != nil {
			return reflect.Value{}, err
		}
		if out.IsValid() {
			res = out
		}
	}
}

// AddrNode adapts a node that works on *T to values of struct type T held
// in fields, slice elements and map values.
type AddrNode struct {
	typ  reflect.Type
	tail Node
}

func NewAddr(tail Node) (*AddrNode, error) {
	pt := tail.ExpectedType()
	if pt.Kind() != reflect.Pointer {
		return nil, contractErr(pt, "address adapter needs a pointer node")
	}
	return &AddrNode{typ: pt.Elem(), tail: tail}, nil
}

func (a *AddrNode) ExpectedType() reflect.Type { return a.typ }
func (a *AddrNode) RequiresOldValue() bool     { return a.tail.RequiresOldValue() }
func (a *AddrNode) ReturnsValue() bool         { return true }
func (a *AddrNode) Tail() Node                 { return a.tail }

func (a *AddrNode) Write(v reflect.Value, e *Encoder) error {
	if v.CanAddr() {
		return a.tail.Write(v.Addr(), e)
	}
	p := reflect.New(a.typ)
	p.Elem().Set(v)
	return a.tail.Write(p, e)
}

func (a *AddrNode) Read(prev reflect.Value, d *Decoder) (reflect.Value, error) {
	p := reflect.New(a.typ)
	if prev.IsValid() {
		p.Elem().Set(prev)
	}
	res, err := a.tail.Read(p, d)
	if err != nil {
		return reflect.Value{}, err
	}
	if res.IsValid() && res.Kind() == reflect.Pointer && !res.IsNil() {
		return res.Elem(), nil
	}
	return p.Elem(), nil
}

// PtrNode adapts a value node to pointers to that value (*int, *string).
type PtrNode struct {
	typ  reflect.Type
	tail Node
}

func NewPtr(tail Node) *PtrNode {
	return &PtrNode{typ: reflect.PointerTo(tail.ExpectedType()), tail: tail}
}

func (p *PtrNode) ExpectedType() reflect.Type { return p.typ }
func (p *PtrNode) RequiresOldValue() bool     { return p.tail.RequiresOldValue() }
func (p *PtrNode) ReturnsValue() bool         { return true }

func (p *PtrNode) Write(v reflect.Value, e *Encoder) error {
	return p.tail.Write(v.Elem(), e)
}

func (p *PtrNode) Read(prev reflect.Value, d *Decoder) (reflect.Value, error) {
	var old reflect.Value
	if prev.IsValid() && !prev.IsNil() {
		old = prev.Elem()
	}
	res, err := p.tail.Read(old, d)
	if err != nil || !res.IsValid() {
		return reflect.Value{}, err
	}
	out := reflect.New(p.typ.Elem())
	out.Elem().Set(res)
	return out, nil
}
