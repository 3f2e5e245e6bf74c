package serializers

import (
	"fmt"
	"reflect"

	"github.com/rawbytedev/refgraph/pkg/wire"
)

// Field numbers of a tracked object reference.
const (
	refExisting = 1
	refNew      = 2
	refTypeName = 3
	refPayload  = 10
)

// NetObjectNode preserves object identity. Inline, the first occurrence of
// an object carries its payload as {2: key, 10: payload} and later ones
// write {1: key}. In late mode every occurrence writes {1: key[, 3: type]}
// and new objects are queued for the late root to append.
type NetObjectNode struct {
	typ  reflect.Type
	body Node
}

// NewNetObject wraps body, the message-body node of the declared type.
func NewNetObject(body Node) *NetObjectNode {
	return &NetObjectNode{typ: body.ExpectedType(), body: body}
}

func (n *NetObjectNode) ExpectedType() reflect.Type { return n.typ }
func (n *NetObjectNode) RequiresOldValue() bool     { return true }
func (n *NetObjectNode) ReturnsValue() bool         { return true }
func (n *NetObjectNode) Tail() Node                 { return n.body }

func tracked(v reflect.Value) bool {
	return v.Kind() == reflect.Pointer && !v.IsNil()
}

func (n *NetObjectNode) Write(v reflect.Value, e *Encoder) error {
	v = unwrap(v)
	if err := e.enter(); err != nil {
		return err
	}
	defer e.leave()
	if e.Late {
		return n.writeLate(v, e)
	}
	tok := e.StartSubItem()
	var key int
	existed := false
	if tracked(v) {
		key, existed = e.refs.Key(v)
	} else {
		key = e.refs.Reserve()
	}
	if existed {
		_ = e.WriteTag(refExisting, wire.Varint)
		e.WriteVarint(uint64(key))
		return e.EndSubItem(tok)
	}
	_ = e.WriteTag(refNew, wire.Varint)
	e.WriteVarint(uint64(key))
	_ = e.WriteTag(refPayload, wire.Bytes)
	inner := e.StartSubItem()
	if err := n.body.Write(v, e); err != nil {
		return err
	}
	if err := e.EndSubItem(inner); err != nil {
		return err
	}
	return e.EndSubItem(tok)
}

func (n *NetObjectNode) writeLate(v reflect.Value, e *Encoder) error {
	if !tracked(v) {
		return fmt.Errorf("%w: %s", ErrLateValue, v.Type())
	}
	key, existed := e.refs.Key(v)
	tok := e.StartSubItem()
	_ = e.WriteTag(refExisting, wire.Varint)
	e.WriteVarint(uint64(key))
	if v.Type() != n.typ {
		name, err := e.Resolver.NameOf(v.Type())
		if err != nil {
			return err
		}
		_ = e.WriteTag(refTypeName, wire.Bytes)
		e.WriteString(name)
	}
	if err := e.EndSubItem(tok); err != nil {
		return err
	}
	if existed {
		return nil
	}
	body := n.body
	if v.Type() != n.typ {
		var err error
		if body, err = e.Resolver.BodyNode(v.Type()); err != nil {
			return err
		}
	}
	e.queue = append(e.queue, lateItem{key: key, v: v, node: body})
	return nil
}

func (n *NetObjectNode) Read(prev reflect.Value, d *Decoder) (reflect.Value, error) {
	if err := d.enter(); err != nil {
		return reflect.Value{}, err
	}
	defer d.leave()
	tok, err := d.StartSubItem()
	if err != nil {
		return reflect.Value{}, err
	}
	var (
		res      reflect.Value
		key      = -1
		typeName string
		existing bool
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
		case refExisting, refNew:
			k, err := d.ReadVarint()
			if err != nil {
				return reflect.Value{}, err
			}
			key, existing = int(k), num == refExisting
		case refTypeName:
			if typeName, err = d.ReadString(); err != nil {
				return reflect.Value{}, err
			}
		case refPayload:
			if key < 0 || existing {
				return reflect.Value{}, fmt.Errorf("%w: payload without a new-object key", ErrUnknownReference)
			}
			if err := d.Expect(wire.Bytes); err != nil {
				return reflect.Value{}, err
			}
			if res, err = n.readNew(key, prev, d); err != nil {
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
	if !existing {
		return res, nil
	}
	if obj, ok := d.refs.Get(key); ok {
		return obj, nil
	}
	if !d.Late {
		return reflect.Value{}, fmt.Errorf("%w: %d", ErrUnknownReference, key)
	}
	return n.placeholder(key, typeName, d)
}

func (n *NetObjectNode) readNew(key int, prev reflect.Value, d *Decoder) (reflect.Value, error) {
	tok, err := d.StartSubItem()
	if err != nil {
		return reflect.Value{}, err
	}
	var res reflect.Value
	if prev.IsValid() && prev.Type() == n.body.ExpectedType() && tracked(prev) {
		if err := d.refs.Register(key, prev); err != nil {
			return reflect.Value{}, err
		}
		if res, err = n.body.Read(prev, d); err != nil {
			return reflect.Value{}, err
		}
		if !res.IsValid() {
			res = prev
		}
	} else {
		d.refs.Expect(key, n.typ)
		res, err = n.body.Read(reflect.Value{}, d)
		_, bound := d.refs.Done()
		if err != nil {
			return reflect.Value{}, err
		}
		if !bound && res.IsValid() {
			if err := d.refs.Register(key, res); err != nil {
				return reflect.Value{}, err
			}
		}
	}
	return res, d.EndSubItem(tok)
}

// placeholder allocates the object for a late key seen before its record,
// binds it and queues it for the record to fill.
func (n *NetObjectNode) placeholder(key int, typeName string, d *Decoder) (reflect.Value, error) {
	t := n.typ
	if typeName != "" {
		var err error
		if t, err = d.Resolver.TypeOf(typeName); err != nil {
			return reflect.Value{}, err
		}
		if !t.AssignableTo(n.typ) {
			return reflect.Value{}, fmt.Errorf("%w: %s is not assignable to %s", ErrContract, t, n.typ)
		}
	}
	body := n.body
	if t != n.typ {
		var err error
		if body, err = d.Resolver.BodyNode(t); err != nil {
			return reflect.Value{}, err
		}
	}
	var obj reflect.Value
	if c, ok := body.(Creator); ok {
		var err error
		if obj, err = c.Allocate(); err != nil {
			return reflect.Value{}, err
		}
	} else if t.Kind() == reflect.Pointer {
		obj = reflect.New(t.Elem())
	} else {
		return reflect.Value{}, fmt.Errorf("%w: %s", ErrLateValue, t)
	}
	if err := d.refs.Register(key, obj); err != nil {
		return reflect.Value{}, err
	}
	d.pending = append(d.pending, lateSlot{key: key, v: obj, node: body})
	return obj, nil
}
