package serializers

import (
	"fmt"
	"reflect"

	"github.com/rawbytedev/refgraph/pkg/wire"
)

// Top-level fields of a late-reference root.
const (
	lateRootField     = 1
	lateRecordField   = 2
	latePositionField = 3
)

// LateRootNode frames a root in late-reference mode: the root payload as
// field 1, then every object first seen while writing it as a field 2
// record in key order, then (seekable sessions only) the new key positions
// as a packed field 3.
type LateRootNode struct {
	typ  reflect.Type
	root Node
}

// NewLateRoot wraps root, the inline root node of the declared type.
func NewLateRoot(root Node) *LateRootNode {
	return &LateRootNode{typ: root.ExpectedType(), root: root}
}

func (l *LateRootNode) ExpectedType() reflect.Type { return l.typ }
func (l *LateRootNode) RequiresOldValue() bool     { return true }
func (l *LateRootNode) ReturnsValue() bool         { return true }

func (l *LateRootNode) Write(v reflect.Value, e *Encoder) error {
	v = unwrap(v)
	key := -1
	if tracked(v) {
		if k, existed := e.refs.Key(v); !existed {
			key = k
		}
	}
	if key < 0 {
		key = e.refs.Reserve()
	}
	if err := e.positions.SetPosition(key, e.StreamPosition()); err != nil {
		return err
	}
	if err := l.writeRecord(lateRootField, l.root, v, e); err != nil {
		return err
	}
	for i := 0; i < len(e.queue); i++ {
		item := e.queue[i]
		if err := e.positions.SetPosition(item.key, e.StreamPosition()); err != nil {
			return err
		}
		if err := l.writeRecord(lateRecordField, item.node, item.v, e); err != nil {
			return err
		}
	}
	e.queue = e.queue[:0]
	if !e.Seekable {
		return nil
	}
	deltas, err := e.positions.Export()
	if err != nil || len(deltas) == 0 {
		return err
	}
	_ = e.WriteTag(latePositionField, wire.Bytes)
	tok := e.StartSubItem()
	for _, d := range deltas {
		e.WriteVarint(uint64(d))
	}
	return e.EndSubItem(tok)
}

func (l *LateRootNode) writeRecord(field int, node Node, v reflect.Value, e *Encoder) error {
	if err := e.WriteTag(field, wire.Bytes); err != nil {
		return err
	}
	tok := e.StartSubItem()
	if err := node.Write(v, e); err != nil {
		return err
	}
	return e.EndSubItem(tok)
}

func (l *LateRootNode) Read(prev reflect.Value, d *Decoder) (reflect.Value, error) {
	var res reflect.Value
	for {
		num, err := d.ReadFieldHeader()
		if err != nil {
			return reflect.Value{}, err
		}
		if num == 0 {
			break
		}
		switch num {
		case lateRootField:
			if err := d.Expect(wire.Bytes); err != nil {
				return reflect.Value{}, err
			}
			if res, err = l.readRoot(prev, d); err != nil {
				return reflect.Value{}, err
			}
		case lateRecordField:
			if err := d.Expect(wire.Bytes); err != nil {
				return reflect.Value{}, err
			}
			if len(d.pending) == 0 {
				return reflect.Value{}, fmt.Errorf("%w: record without a pending reference", ErrUnknownReference)
			}
			slot := d.pending[0]
			d.pending = d.pending[1:]
			if err := fill(slot, d); err != nil {
				return reflect.Value{}, err
			}
		case latePositionField:
			if err := d.Expect(wire.Bytes); err != nil {
				return reflect.Value{}, err
			}
			if err := d.ImportPositions(); err != nil {
				return reflect.Value{}, err
			}
		default:
			if err := d.SkipField(); err != nil {
				return reflect.Value{}, err
			}
		}
	}
	if d.seek {
		if err := d.resolvePending(); err != nil {
			return reflect.Value{}, err
		}
	}
	if len(d.pending) > 0 {
		return reflect.Value{}, fmt.Errorf("%w: %d never written", ErrUnknownReference, d.pending[0].key)
	}
	return res, nil
}

// readRoot reads field 1. The root is bound to its key before its members
// decode so that back references to it resolve.
func (l *LateRootNode) readRoot(prev reflect.Value, d *Decoder) (reflect.Value, error) {
	key := d.refs.Reserve()
	tok, err := d.StartSubItem()
	if err != nil {
		return reflect.Value{}, err
	}
	prev = unwrap(prev)
	if !tracked(prev) || !prev.Type().AssignableTo(l.typ) {
		prev = reflect.Value{}
		if c, ok := l.root.(Creator); ok && l.typ.Kind() == reflect.Pointer {
			if prev, err = c.Allocate(); err != nil {
				return reflect.Value{}, err
			}
		}
	}
	var res reflect.Value
	if prev.IsValid() {
		if err := d.refs.Register(key, prev); err != nil {
			return reflect.Value{}, err
		}
		if res, err = l.root.Read(prev, d); err != nil {
			return reflect.Value{}, err
		}
		if !res.IsValid() {
			res = prev
		}
	} else {
		d.refs.Expect(key, l.typ)
		res, err = l.root.Read(reflect.Value{}, d)
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

// fill reads a field 2 record into its placeholder.
func fill(slot lateSlot, d *Decoder) error {
	tok, err := d.StartSubItem()
	if err != nil {
		return err
	}
	res, err := slot.node.Read(slot.v, d)
	if err != nil {
		return err
	}
	if res.IsValid() && res.Kind() == reflect.Pointer && res.Pointer() != slot.v.Pointer() {
		slot.v.Elem().Set(res.Elem())
	}
	return d.EndSubItem(tok)
}

// resolvePending jumps to the recorded position of every reference whose
// record has not been read.
func (d *Decoder) resolvePending() error {
	for len(d.pending) > 0 {
		slot := d.pending[0]
		d.pending = d.pending[1:]
		pos, err := d.positions.GetPosition(slot.key)
		if err != nil {
			return err
		}
		if pos < d.offset {
			return fmt.Errorf("%w: key %d is in an earlier root", wire.ErrPositionBounds, slot.key)
		}
		if err := d.Seek(pos - d.offset); err != nil {
			return err
		}
		num, err := d.ReadFieldHeader()
		if err != nil {
			return err
		}
		if num != lateRecordField && num != lateRootField {
			return fmt.Errorf("%w: key %d points at field %d", ErrUnknownReference, slot.key, num)
		}
		if err := d.Expect(wire.Bytes); err != nil {
			return err
		}
		if err := fill(slot, d); err != nil {
			return err
		}
	}
	return nil
}

// SeekKey decodes the record stored for key into out, a pointer of the
// record's type, using the position table of data. Objects the record
// refers to are decoded from their own positions.
func (d *Decoder) SeekKey(key int, out reflect.Value, body Node) error {
	for {
		num, err := d.ReadFieldHeader()
		if err != nil {
			return err
		}
		if num == 0 {
			break
		}
		if num == latePositionField {
			if err := d.Expect(wire.Bytes); err != nil {
				return err
			}
			if err := d.ImportPositions(); err != nil {
				return err
			}
			continue
		}
		if err := d.SkipField(); err != nil {
			return err
		}
	}
	d.seek = true
	for d.refs.Next() < key {
		d.refs.Reserve()
	}
	if err := d.refs.Register(key, out); err != nil {
		return err
	}
	d.pending = append(d.pending, lateSlot{key: key, v: out, node: body})
	return d.resolvePending()
}
