package serializers

import (
	"fmt"
	"reflect"
	"slices"

	"github.com/rawbytedev/refgraph/internal/common"
	"github.com/rawbytedev/refgraph/pkg/wire"
)

// CollectionKind classifies collection-shaped types.
type CollectionKind uint8

const (
	NotCollection CollectionKind = iota
	SliceCollection
	ArrayCollection
	MapCollection
	SetCollection
	BuilderCollection
)

var emptyStruct = reflect.TypeFor[struct{}]()

// Collection reports the collection shape of t with its item type and, for
// maps, its key type. []byte and [N]byte are leaves, not collections.
func Collection(t reflect.Type) (kind CollectionKind, item, key reflect.Type) {
	switch t.Kind() {
	case reflect.Slice:
		if !isByteSlice(t) {
			return SliceCollection, t.Elem(), nil
		}
	case reflect.Array:
		if !isByteArray(t) && t != uuidType {
			return ArrayCollection, t.Elem(), nil
		}
	case reflect.Map:
		if t.Elem() == emptyStruct {
			return SetCollection, t.Key(), nil
		}
		return MapCollection, t.Elem(), t.Key()
	}
	if b, ok := builderMethods(t); ok {
		return BuilderCollection, b.elem, nil
	}
	return NotCollection, nil, nil
}

// builder holds the methods of an immutable collection T:
// T.NewBuilder() B, B.Add(E), B.Build() T and T.All() iter.Seq[E].
type builder struct {
	newBuilder reflect.Method
	add        reflect.Method
	build      reflect.Method
	all        reflect.Method
	elem       reflect.Type
	yield      reflect.Type
}

func builderMethods(t reflect.Type) (*builder, bool) {
	nb, ok := t.MethodByName("NewBuilder")
	if !ok || nb.Type.NumIn() != 1 || nb.Type.NumOut() != 1 {
		return nil, false
	}
	bt := nb.Type.Out(0)
	add, ok := bt.MethodByName("Add")
	if !ok || add.Type.NumIn() != 2 || add.Type.NumOut() != 0 {
		return nil, false
	}
	build, ok := bt.MethodByName("Build")
	if !ok || build.Type.NumIn() != 1 || build.Type.NumOut() != 1 || !build.Type.Out(0).AssignableTo(t) {
		return nil, false
	}
	all, ok := t.MethodByName("All")
	if !ok || all.Type.NumIn() != 1 || all.Type.NumOut() != 1 {
		return nil, false
	}
	seq := all.Type.Out(0)
	elem := add.Type.In(1)
	if seq.Kind() != reflect.Func || seq.NumIn() != 1 || seq.NumOut() != 0 {
		return nil, false
	}
	yield := seq.In(0)
	if yield.Kind() != reflect.Func || yield.NumIn() != 1 || yield.In(0) != elem ||
		yield.NumOut() != 1 || yield.Out(0).Kind() != reflect.Bool {
		return nil, false
	}
	return &builder{newBuilder: nb, add: add, build: build, all: all, elem: elem, yield: yield}, true
}

// each calls fn for every item of the immutable collection v.
func (b *builder) each(v reflect.Value, fn func(reflect.Value) error) error {
	seq := b.all.Func.Call([]reflect.Value{v})[0]
	var err error
	yield := reflect.MakeFunc(b.yield, func(args []reflect.Value) []reflect.Value {
		err = fn(args[0])
		return []reflect.Value{reflect.ValueOf(err == nil)}
	})
	seq.Call([]reflect.Value{yield})
	return err
}

// RepeatedConfig describes a repeated node. Item (and Value for maps) are
// value nodes without field headers.
type RepeatedConfig struct {
	Number  int
	Type    reflect.Type
	Item    Node
	ItemWT  wire.WireType
	Value   Node
	ValueWT wire.WireType
	Packed  bool
	Append  bool
	// InPlace mutates an existing map instead of returning a new one, for
	// members without a setter.
	InPlace bool
	// NilItems allows nil items; only identity-tracked items can encode nil.
	NilItems bool
}

// RepeatedNode writes every item of a collection under the same field
// number. Maps write key/value pair messages (key field 1, value field 2).
type RepeatedNode struct {
	RepeatedConfig
	kind    CollectionKind
	elem    reflect.Type
	builder *builder
}

func NewRepeated(cfg RepeatedConfig) (*RepeatedNode, error) {
	if !wire.ValidFieldNumber(cfg.Number) {
		return nil, fmt.Errorf("%w: field number %d", ErrContract, cfg.Number)
	}
	kind, item, _ := Collection(cfg.Type)
	n := &RepeatedNode{RepeatedConfig: cfg, kind: kind, elem: item}
	switch kind {
	case NotCollection:
		return nil, contractErr(cfg.Type, "not a collection")
	case MapCollection:
		if cfg.Value == nil {
			return nil, contractErr(cfg.Type, "map without value node")
		}
		n.Packed = false
	case BuilderCollection:
		n.builder, _ = builderMethods(cfg.Type)
	case ArrayCollection:
		n.Append = false
	}
	if n.Packed && !wire.Packable(cfg.ItemWT) {
		return nil, contractErr(cfg.Type, "packed encoding needs scalar numeric items")
	}
	if cfg.InPlace && kind != MapCollection && kind != SetCollection {
		return nil, contractErr(cfg.Type, "only maps and sets can be filled in place")
	}
	return n, nil
}

func (n *RepeatedNode) ExpectedType() reflect.Type { return n.Type }
func (n *RepeatedNode) RequiresOldValue() bool     { return n.Append || n.InPlace }
func (n *RepeatedNode) ReturnsValue() bool         { return !n.InPlace }
func (n *RepeatedNode) Number() int                { return n.RepeatedConfig.Number }

func (n *RepeatedNode) Write(v reflect.Value, e *Encoder) error {
	switch n.kind {
	case SliceCollection, ArrayCollection:
		if n.Packed {
			return n.writePacked(v, e)
		}
		for i := 0; i < v.Len(); i++ {
			if err := n.writeItem(v.Index(i), e); err != nil {
				return err
			}
		}
		return nil
	case SetCollection:
		keys := sortedKeys(v)
		if n.Packed {
			packed := reflect.MakeSlice(reflect.SliceOf(n.elem), 0, len(keys))
			packed = reflect.Append(packed, keys...)
			return n.writePacked(packed, e)
		}
		for _, k := range keys {
			if err := n.writeItem(k, e); err != nil {
				return err
			}
		}
		return nil
	case MapCollection:
		for _, k := range sortedKeys(v) {
			if err := n.writeEntry(k, v.MapIndex(k), e); err != nil {
				return err
			}
		}
		return nil
	case BuilderCollection:
		return n.builder.each(v, func(item reflect.Value) error { return n.writeItem(item, e) })
	}
	return nil
}

func sortedKeys(m reflect.Value) []reflect.Value {
	keys := m.MapKeys()
	slices.SortFunc(keys, common.CompareKeys)
	return keys
}

func (n *RepeatedNode) writeItem(item reflect.Value, e *Encoder) error {
	item = unwrap(item)
	if !item.IsValid() || isNil(item) && item.Kind() != reflect.Slice {
		if !n.NilItems {
			return fmt.Errorf("%w: %s", ErrNilItem, n.Type)
		}
		item = reflect.Zero(n.Item.ExpectedType())
	}
	if err := e.WriteTag(n.RepeatedConfig.Number, n.ItemWT); err != nil {
		return err
	}
	return n.Item.Write(item, e)
}

// writePacked writes the items of v, a slice or array, as one
// length-delimited run.
func (n *RepeatedNode) writePacked(v reflect.Value, e *Encoder) error {
	if v.Len() == 0 {
		return nil
	}
	if err := e.WriteTag(n.RepeatedConfig.Number, wire.Bytes); err != nil {
		return err
	}
	tok := e.StartSubItem()
	for i := 0; i < v.Len(); i++ {
		if err := n.Item.Write(unwrap(v.Index(i)), e); err != nil {
			return err
		}
	}
	return e.EndSubItem(tok)
}

func (n *RepeatedNode) writeEntry(k, v reflect.Value, e *Encoder) error {
	if err := e.WriteTag(n.RepeatedConfig.Number, wire.Bytes); err != nil {
		return err
	}
	if err := e.enter(); err != nil {
		return err
	}
	defer e.leave()
	tok := e.StartSubItem()
	if err := e.WriteTag(1, n.ItemWT); err != nil {
		return err
	}
	if err := n.Item.Write(k, e); err != nil {
		return err
	}
	v = unwrap(v)
	if v.IsValid() && !(isNil(v) && v.Kind() != reflect.Slice) {
		if err := e.WriteTag(2, n.ValueWT); err != nil {
			return err
		}
		if err := n.Value.Write(v, e); err != nil {
			return err
		}
	}
	return e.EndSubItem(tok)
}

// accumulator collects decoded items for one run of the field.
type accumulator struct {
	n     *RepeatedNode
	slice reflect.Value
	array reflect.Value
	index int
	m     reflect.Value
	b     reflect.Value
}

func (n *RepeatedNode) start(prev reflect.Value) (*accumulator, error) {
	a := &accumulator{n: n}
	keep := n.Append || n.InPlace
	switch n.kind {
	case SliceCollection:
		if keep && prev.IsValid() && !prev.IsNil() {
			a.slice = prev
		} else {
			a.slice = reflect.MakeSlice(n.Type, 0, 4)
		}
	case ArrayCollection:
		a.array = reflect.New(n.Type).Elem()
	case MapCollection, SetCollection:
		if keep && prev.IsValid() && !prev.IsNil() {
			a.m = prev
		} else {
			a.m = reflect.MakeMap(n.Type)
		}
	case BuilderCollection:
		a.b = n.builder.newBuilder.Func.Call([]reflect.Value{reflect.Zero(n.Type)})[0]
		if keep && prev.IsValid() && !isNil(prev) {
			err := n.builder.each(prev, func(item reflect.Value) error {
				n.builder.add.Func.Call([]reflect.Value{a.b, item})
				return nil
			})
			if err != nil {
				return nil, err
			}
		}
	}
	return a, nil
}

func (a *accumulator) item(v reflect.Value) (reflect.Value, error) {
	if !v.IsValid() {
		return reflect.Zero(a.n.elem), nil
	}
	return assignable(v, a.n.elem)
}

func (a *accumulator) add(v reflect.Value) error {
	v, err := a.item(v)
	if err != nil {
		return err
	}
	switch a.n.kind {
	case SliceCollection:
		a.slice = reflect.Append(a.slice, v)
	case ArrayCollection:
		if a.index >= a.array.Len() {
			return fmt.Errorf("%w: %s", ErrArrayBounds, a.n.Type)
		}
		a.array.Index(a.index).Set(v)
		a.index++
	case SetCollection:
		a.m.SetMapIndex(v, reflect.Zero(emptyStruct))
	case BuilderCollection:
		a.n.builder.add.Func.Call([]reflect.Value{a.b, v})
	}
	return nil
}

func (a *accumulator) put(k, v reflect.Value) error {
	k, err := assignable(k, a.n.Type.Key())
	if err != nil {
		return err
	}
	if !v.IsValid() {
		v = reflect.Zero(a.n.Type.Elem())
	} else if v, err = assignable(v, a.n.Type.Elem()); err != nil {
		return err
	}
	a.m.SetMapIndex(k, v)
	return nil
}

func (a *accumulator) finish() reflect.Value {
	switch a.n.kind {
	case SliceCollection:
		return a.slice
	case ArrayCollection:
		return a.array
	case MapCollection, SetCollection:
		if a.n.InPlace {
			return reflect.Value{}
		}
		return a.m
	case BuilderCollection:
		return a.n.builder.build.Func.Call([]reflect.Value{a.b})[0]
	}
	return reflect.Value{}
}

// Read consumes the current field and every directly following field with
// the same number. Scalar items are accepted packed or unpacked.
func (n *RepeatedNode) Read(prev reflect.Value, d *Decoder) (reflect.Value, error) {
	a, err := n.start(prev)
	if err != nil {
		return reflect.Value{}, err
	}
	if err := n.readRun(a, d); err != nil {
		return reflect.Value{}, err
	}
	return a.finish(), nil
}

func (n *RepeatedNode) readRun(a *accumulator, d *Decoder) error {
	for {
		switch {
		case n.kind == MapCollection:
			if err := n.readEntry(a, d); err != nil {
				return err
			}
		case d.WireType() == wire.Bytes && wire.Packable(n.ItemWT):
			if err := n.readPacked(a, d); err != nil {
				return err
			}
		default:
			if err := d.Expect(n.ItemWT); err != nil {
				return err
			}
			v, err := n.Item.Read(reflect.Value{}, d)
			if err != nil {
				return err
			}
			if err := a.add(v); err != nil {
				return err
			}
		}
		if !d.TryReadFieldHeader(n.RepeatedConfig.Number) {
			return nil
		}
	}
}

// CollectionNode is a collection written as a message of its own, as a
// root or as the value of an item, map entry or dynamic member. Its items
// sit under the repeated node's field number; other fields are skipped.
type CollectionNode struct {
	*RepeatedNode
}

func NewCollection(rep *RepeatedNode) *CollectionNode { return &CollectionNode{RepeatedNode: rep} }

func (c *CollectionNode) Read(prev reflect.Value, d *Decoder) (reflect.Value, error) {
	a, err := c.start(prev)
	if err != nil {
		return reflect.Value{}, err
	}
	for {
		num, err := d.ReadFieldHeader()
		if err != nil {
			return reflect.Value{}, err
		}
		if num == 0 {
			return a.finish(), nil
		}
		if num != c.RepeatedConfig.Number {
			if err := d.SkipField(); err != nil {
				return reflect.Value{}, err
			}
			continue
		}
		if err := c.readRun(a, d); err != nil {
			return reflect.Value{}, err
		}
	}
}

func (n *RepeatedNode) readPacked(a *accumulator, d *Decoder) error {
	tok, err := d.StartSubItem()
	if err != nil {
		return err
	}
	for d.Remaining() > 0 {
		v, err := n.Item.Read(reflect.Value{}, d)
		if err != nil {
			return err
		}
		if err := a.add(v); err != nil {
			return err
		}
	}
	return d.EndSubItem(tok)
}

func (n *RepeatedNode) readEntry(a *accumulator, d *Decoder) error {
	if err := d.enter(); err != nil {
		return err
	}
	defer d.leave()
	tok, err := d.StartSubItem()
	if err != nil {
		return err
	}
	var k, v reflect.Value
	for {
		num, err := d.ReadFieldHeader()
		if err != nil {
			return err
		}
		if num == 0 {
			break
		}
		switch num {
		case 1:
			if err := d.Expect(n.ItemWT); err != nil {
				return err
			}
			k, err = n.Item.Read(reflect.Value{}, d)
		case 2:
			if err := d.Expect(n.ValueWT); err != nil {
				return err
			}
			v, err = n.Value.Read(reflect.Value{}, d)
		default:
			err = d.SkipField()
		}
		if err != nil {
			return err
		}
	}
	if err := d.EndSubItem(tok); err != nil {
		return err
	}
	if !k.IsValid() {
		k = reflect.Zero(n.Type.Key())
	}
	return a.put(k, v)
}
