package refgraph

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/rawbytedev/refgraph/internal/serializers"
	"github.com/rawbytedev/refgraph/pkg/contract"
	"github.com/rawbytedev/refgraph/pkg/wire"
)

// shape is the encoding family a type falls into. Every type has exactly
// one, decided by classify.
type shape uint8

const (
	shapeLeaf shape = iota
	shapeEnum
	shapeCollection
	shapeSurrogate
	shapeTuple
	shapeRecord
)

var shapeNames = [...]string{"leaf", "enum", "collection", "surrogate", "tuple", "record"}

func (s shape) String() string { return shapeNames[s] }

type built struct {
	shape  shape
	body   serializers.Node
	layout string
}

// classify picks the shape of t; the first matching case wins.
func classify(t reflect.Type, c *contract.Type) (shape, error) {
	if len(c.Enum) > 0 || c.EnumPassthrough {
		return shapeEnum, nil
	}
	kind, _, _ := serializers.Collection(t)
	if c.IgnoreListHandling && kind != serializers.NotCollection && kind != serializers.BuilderCollection {
		return 0, contractErr(t, "built-in %s types cannot opt out of list handling", t.Kind())
	}
	isColl := kind != serializers.NotCollection && !c.IgnoreListHandling
	if c.Surrogate != nil {
		if isColl {
			return 0, contractErr(t, "collection types cannot have a surrogate")
		}
		return shapeSurrogate, nil
	}
	if _, _, ok, _ := serializers.Leaf(t, contract.FormatDefault); ok {
		return shapeLeaf, nil
	}
	if isColl {
		if len(c.Members) > 0 && kind != serializers.BuilderCollection {
			return 0, contractErr(t, "collection types cannot declare members")
		}
		return shapeCollection, nil
	}
	if c.AutoTuple || len(c.Constructors) > 0 {
		return shapeTuple, nil
	}
	switch t.Kind() {
	case reflect.Struct, reflect.Interface:
		return shapeRecord, nil
	}
	return 0, fmt.Errorf("%w: %s", ErrUnsupported, t)
}

// hint carries member options down to the value nodes of a member.
type hint struct {
	format  contract.DataFormat
	ref     contract.RefMode
	dynamic bool
	packed  bool
	append  bool
	item    reflect.Type
	key     reflect.Type
	def     reflect.Type
}

func memberHint(m contract.Member) hint {
	return hint{
		format:  m.Format,
		ref:     m.Ref,
		dynamic: m.DynamicType,
		packed:  m.Packed,
		append:  m.Append,
		item:    m.ItemType,
		key:     m.KeyType,
		def:     m.DefaultType,
	}
}

// proxy stands in for the body of another type's tree. It resolves on first
// use, so a build never waits on the build of a type it refers to.
type proxy struct {
	typ      reflect.Type
	requires bool
	returns  bool
	node     func() (serializers.Node, error)
}

func newProxy(t reflect.Type, requires, returns bool, resolve func() (serializers.Node, error)) *proxy {
	return &proxy{typ: t, requires: requires, returns: returns, node: sync.OnceValues(resolve)}
}

func (p *proxy) ExpectedType() reflect.Type { return p.typ }
func (p *proxy) RequiresOldValue() bool     { return p.requires }
func (p *proxy) ReturnsValue() bool         { return p.returns }

func (p *proxy) Write(v reflect.Value, e *serializers.Encoder) error {
	n, err := p.node()
	if err != nil {
		return err
	}
	return n.Write(v, e)
}

func (p *proxy) Read(prev reflect.Value, d *serializers.Decoder) (reflect.Value, error) {
	n, err := p.node()
	if err != nil {
		return reflect.Value{}, err
	}
	return n.Read(prev, d)
}

func (p *proxy) creator() (serializers.Creator, error) {
	n, err := p.node()
	if err != nil {
		return nil, err
	}
	c, ok := n.(serializers.Creator)
	if !ok {
		return nil, contractErr(p.typ, "cannot be instantiated ahead of its data")
	}
	return c, nil
}

func (p *proxy) Allocate() (reflect.Value, error) {
	c, err := p.creator()
	if err != nil {
		return reflect.Value{}, err
	}
	return c.Allocate()
}

func (p *proxy) NewInstance(d *serializers.Decoder) (reflect.Value, error) {
	c, err := p.creator()
	if err != nil {
		return reflect.Value{}, err
	}
	return c.NewInstance(d)
}

// bodyProxy defers to the built body of md, which must handle t.
func bodyProxy(md *TypeMetadata, t reflect.Type, requires bool) *proxy {
	return newProxy(t, requires, true, func() (serializers.Node, error) {
		b, err := md.trees()
		if err != nil {
			return nil, err
		}
		if b.body.ExpectedType() != t {
			return nil, contractErr(t, "built as %s of %s", b.shape, b.body.ExpectedType())
		}
		return b.body, nil
	})
}

// adapt fits n, a node of some type X, to t when t is X, *X, or the value
// type behind a pointer node.
func adapt(n serializers.Node, t reflect.Type) (serializers.Node, error) {
	et := n.ExpectedType()
	switch {
	case et == t:
		return n, nil
	case t.Kind() == reflect.Pointer && t.Elem() == et:
		return serializers.NewPtr(n), nil
	case et.Kind() == reflect.Pointer && et.Elem() == t:
		return serializers.NewAddr(n)
	}
	return nil, contractErr(t, "no encoding matches %s", et)
}

// treeBuilder assembles the nodes of one type. stack holds the non-record
// types being expanded, which would otherwise recurse forever.
type treeBuilder struct {
	m     *Model
	stack map[reflect.Type]bool
}

func (m *Model) newBuilder() *treeBuilder {
	return &treeBuilder{m: m, stack: make(map[reflect.Type]bool)}
}

func (b *treeBuilder) push(t reflect.Type) error {
	if b.stack[t] {
		return contractErr(t, "recursive type needs a struct or interface on its cycle")
	}
	b.stack[t] = true
	return nil
}

func (b *treeBuilder) pop(t reflect.Type) { delete(b.stack, t) }

func (m *Model) buildTrees(t reflect.Type, c contract.Type) (*built, error) {
	sh, err := classify(t, &c)
	if err != nil {
		return nil, err
	}
	b := m.newBuilder()
	var body serializers.Node
	switch sh {
	case shapeLeaf:
		n, wt, _, err := serializers.Leaf(t, contract.FormatDefault)
		if err != nil {
			return nil, err
		}
		body = serializers.NewRootField(wt, n)
	case shapeEnum:
		n, err := serializers.NewEnum(t, c.Enum, c.EnumPassthrough)
		if err != nil {
			return nil, err
		}
		body = serializers.NewRootField(wire.Varint, n)
	case shapeCollection:
		var rep *serializers.RepeatedNode
		if rep, err = b.repeated(1, t, hint{}, false); err == nil {
			body = serializers.NewCollection(rep)
		}
	case shapeSurrogate:
		body, err = b.surrogateRoot(t, c.Surrogate)
	case shapeTuple:
		body, err = b.tuple(t, c)
	case shapeRecord:
		body, err = b.record(t, c)
	}
	if err != nil {
		return nil, err
	}
	return &built{shape: sh, body: body}, nil
}

// surrogateRoot converts to the surrogate and encodes it as a root of its
// own type, resolved on first use.
func (b *treeBuilder) surrogateRoot(t reflect.Type, s *contract.Surrogate) (serializers.Node, error) {
	m := b.m
	tail := newProxy(s.Type, false, true, func() (serializers.Node, error) {
		return m.rootNode(s.Type)
	})
	n, err := serializers.NewSurrogate(s, tail)
	if err != nil {
		return nil, err
	}
	if normalize(n.ExpectedType()) != t {
		return nil, contractErr(t, "surrogate converts from %s", n.ExpectedType())
	}
	return n, nil
}

func (b *treeBuilder) tuple(t reflect.Type, c contract.Type) (serializers.Node, error) {
	ctor, access, err := serializers.ResolveTuple(t, c.Constructors)
	if err != nil {
		return nil, err
	}
	if normalize(ctor.Result()) != t {
		return nil, contractErr(t, "constructor returns %s", ctor.Result())
	}
	fields := make([]serializers.TupleField, len(access))
	for i, a := range access {
		n, wt, err := b.valueNode(a.Type, hint{})
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", t, a.Name, err)
		}
		fields[i] = serializers.TupleField{Access: a, Node: n, WT: wt}
	}
	return serializers.NewTuple(ctor, fields)
}

func (b *treeBuilder) record(t reflect.Type, c contract.Type) (serializers.Node, error) {
	cfg := serializers.RecordConfig{Type: t, Factory: c.Factory, Callbacks: c.Callbacks}
	if t.Kind() == reflect.Struct {
		if len(c.Subtypes) > 0 {
			return nil, contractErr(t, "only interface bases can have subtypes")
		}
		for _, mem := range c.Members {
			n, err := b.member(t, mem)
			if err != nil {
				return nil, err
			}
			cfg.Members = append(cfg.Members, n)
		}
		hooks, err := b.m.baseHooks(c.Base)
		if err != nil {
			return nil, err
		}
		cfg.BaseHooks = hooks
	} else {
		for _, s := range c.Subtypes {
			link, err := b.subtypeLink(t, s)
			if err != nil {
				return nil, err
			}
			cfg.Subtypes = append(cfg.Subtypes, link)
		}
	}
	rec, err := serializers.NewRecord(cfg)
	if err != nil {
		return nil, err
	}
	if b.m.opts.Strategy == Compiled {
		return serializers.Compile(rec)
	}
	return rec, nil
}

// baseHooks collects the before-deserialize callbacks of the base chain,
// root-most first.
func (m *Model) baseHooks(base reflect.Type) ([]func(any), error) {
	var hooks []func(any)
	for base != nil {
		md, err := m.Metadata(base)
		if err != nil {
			return nil, err
		}
		c := md.snapshot()
		if h := c.Callbacks.BeforeDeserialize; h != nil {
			hooks = append([]func(any){h}, hooks...)
		}
		base = c.Base
	}
	return hooks, nil
}

func (b *treeBuilder) subtypeLink(base reflect.Type, s contract.Subtype) (serializers.SubtypeLink, error) {
	md, err := b.m.Metadata(s.Type)
	if err != nil {
		return serializers.SubtypeLink{}, err
	}
	sc := md.snapshot()
	sh, err := classify(md.typ, &sc)
	if err != nil {
		return serializers.SubtypeLink{}, err
	}
	switch sh {
	case shapeRecord:
	case shapeCollection:
		return serializers.SubtypeLink{}, contractErr(base, "subtype %s is a collection but its base is not", md.typ)
	default:
		return serializers.SubtypeLink{}, contractErr(base, "subtype %s is a %s, not a record", md.typ, sh)
	}
	lt := md.typ
	if lt.Kind() == reflect.Struct {
		lt = reflect.PointerTo(lt)
	}
	if !lt.Implements(base) {
		return serializers.SubtypeLink{}, contractErr(base, "subtype %s does not implement it", lt)
	}
	return serializers.SubtypeLink{Number: s.Tag, Type: lt, Node: bodyProxy(md, lt, true)}, nil
}

func (b *treeBuilder) member(owner reflect.Type, mem contract.Member) (serializers.Node, error) {
	declared, err := serializers.MemberType(owner, mem)
	if err != nil {
		return nil, err
	}
	getterOnly := mem.IsAccessor() && mem.Setter == ""
	tail, err := b.memberTail(mem.Tag, declared, memberHint(mem), getterOnly)
	if err != nil {
		return nil, fmt.Errorf("%s.%s: %w", owner, mem.Name, err)
	}
	n, err := serializers.NewMember(owner, mem, tail)
	if err != nil {
		return nil, err
	}
	return n, nil
}

// memberTail is the node under a member: a repeated node writing its own
// tags for collections, a tag over a value node otherwise.
func (b *treeBuilder) memberTail(num int, t reflect.Type, h hint, getterOnly bool) (serializers.Node, error) {
	concrete := t
	if t.Kind() == reflect.Interface && !h.dynamic {
		switch {
		case h.def != nil:
			concrete = h.def
		case h.item != nil && h.key != nil:
			concrete = reflect.MapOf(h.key, h.item)
		case h.item != nil:
			concrete = reflect.SliceOf(h.item)
		}
		if !concrete.AssignableTo(t) {
			return nil, contractErr(t, "default type %s does not implement it", concrete)
		}
	}
	coll, err := b.collection(concrete)
	if err != nil {
		return nil, err
	}
	if coll {
		return b.repeated(num, concrete, h, getterOnly)
	}
	node, wt, err := b.valueNode(concrete, h)
	if err != nil {
		return nil, err
	}
	return serializers.NewTag(num, wt, node)
}

// collection reports whether t is encoded as repeated items.
func (b *treeBuilder) collection(t reflect.Type) (bool, error) {
	kind, _, _ := serializers.Collection(t)
	if kind == serializers.NotCollection {
		return false, nil
	}
	if t.Name() == "" {
		return true, nil
	}
	md, err := b.m.Metadata(t)
	if err != nil {
		return false, err
	}
	c := md.snapshot()
	if c.Surrogate != nil || len(c.Enum) > 0 {
		return false, nil
	}
	return !(kind == serializers.BuilderCollection && c.IgnoreListHandling), nil
}

func (b *treeBuilder) repeated(num int, t reflect.Type, h hint, getterOnly bool) (*serializers.RepeatedNode, error) {
	if err := b.push(t); err != nil {
		return nil, err
	}
	defer b.pop(t)
	kind, item, key := serializers.Collection(t)
	cfg := serializers.RepeatedConfig{
		Number:  num,
		Type:    t,
		Packed:  h.packed,
		Append:  h.append,
		InPlace: getterOnly && (kind == serializers.MapCollection || kind == serializers.SetCollection),
	}
	ih := hint{format: h.format, ref: h.ref, dynamic: h.dynamic}
	var err error
	if kind == serializers.MapCollection {
		if cfg.Item, cfg.ItemWT, err = b.valueNode(key, hint{format: h.format}); err != nil {
			return nil, err
		}
		if cfg.Value, cfg.ValueWT, err = b.valueNode(item, ih); err != nil {
			return nil, err
		}
	} else {
		if cfg.Item, cfg.ItemWT, err = b.valueNode(item, ih); err != nil {
			return nil, err
		}
		_, cfg.NilItems = cfg.Item.(*serializers.NetObjectNode)
	}
	return serializers.NewRepeated(cfg)
}

// valueNode returns the node for a value of t held in a member, item, map
// entry or tuple field, with its wire type. Length-delimited nodes frame
// themselves.
func (b *treeBuilder) valueNode(t reflect.Type, h hint) (serializers.Node, wire.WireType, error) {
	if t.Kind() == reflect.Interface && h.dynamic {
		return serializers.NewDynamic(t), wire.Bytes, nil
	}
	if n, wt, ok, err := serializers.Leaf(t, h.format); ok && t.Kind() == reflect.Pointer {
		return n, wt, err
	}
	if t.Kind() == reflect.Pointer && t.Elem().Kind() != reflect.Struct {
		n, wt, err := b.valueNode(t.Elem(), h)
		if err != nil {
			return nil, 0, err
		}
		return serializers.NewPtr(n), wt, nil
	}
	md, err := b.m.Metadata(t)
	if err != nil {
		return nil, 0, err
	}
	c := md.snapshot()
	sh, err := classify(md.typ, &c)
	if err != nil {
		return nil, 0, err
	}
	// repeated guards collections itself.
	if sh != shapeRecord && sh != shapeCollection {
		if err := b.push(md.typ); err != nil {
			return nil, 0, err
		}
		defer b.pop(md.typ)
	}

	var (
		n  serializers.Node
		wt = wire.Bytes
	)
	switch sh {
	case shapeLeaf:
		if n, wt, _, err = serializers.Leaf(md.typ, h.format); err != nil {
			return nil, 0, err
		}
	case shapeEnum:
		if n, err = serializers.NewEnum(md.typ, c.Enum, c.EnumPassthrough); err != nil {
			return nil, 0, err
		}
		wt = wire.Varint
	case shapeCollection:
		rep, err := b.repeated(1, md.typ, hint{format: h.format, ref: h.ref, dynamic: h.dynamic}, false)
		if err != nil {
			return nil, 0, err
		}
		n = serializers.NewSubItem(serializers.NewCollection(rep))
	case shapeSurrogate:
		tail, twt, err := b.valueNode(c.Surrogate.Type, hint{})
		if err != nil {
			return nil, 0, err
		}
		if n, err = serializers.NewSurrogate(c.Surrogate, tail); err != nil {
			return nil, 0, err
		}
		wt = twt
	case shapeTuple:
		ctor, _, err := serializers.ResolveTuple(md.typ, c.Constructors)
		if err != nil {
			return nil, 0, err
		}
		n = serializers.NewSubItem(bodyProxy(md, ctor.Result(), false))
	case shapeRecord:
		return b.recordValue(md, t, c, h)
	}
	if n, err = adapt(n, t); err != nil {
		return nil, 0, err
	}
	return n, wt, nil
}

// recordValue frames a struct or interface value, tracking its identity
// when the member or the type asks for it.
func (b *treeBuilder) recordValue(md *TypeMetadata, t reflect.Type, c contract.Type, h hint) (serializers.Node, wire.WireType, error) {
	var body serializers.Node
	if md.typ.Kind() == reflect.Interface {
		if len(c.Subtypes) == 0 {
			return serializers.NewDynamic(t), wire.Bytes, nil
		}
		body = bodyProxy(md, md.typ, true)
	} else {
		body = bodyProxy(md, reflect.PointerTo(md.typ), true)
	}
	track := h.ref == contract.AsReference || h.ref == contract.RefDefault && c.AsReferenceDefault
	if track {
		inner, err := adapt(body, t)
		if err != nil {
			return nil, 0, err
		}
		return serializers.NewNetObject(inner), wire.Bytes, nil
	}
	n, err := adapt(serializers.NewSubItem(body), t)
	if err != nil {
		return nil, 0, err
	}
	return n, wire.Bytes, nil
}

// rootNode is the untracked top-level node for t.
func (m *Model) rootNode(t reflect.Type) (serializers.Node, error) {
	if t.Kind() == reflect.Pointer {
		if n, wt, ok, err := serializers.Leaf(t, contract.FormatDefault); ok {
			if err != nil {
				return nil, err
			}
			return serializers.NewRootField(wt, n), nil
		}
		if t.Elem().Kind() != reflect.Struct {
			inner, err := m.rootNode(t.Elem())
			if err != nil {
				return nil, err
			}
			return serializers.NewPtr(inner), nil
		}
	}
	md, err := m.Metadata(t)
	if err != nil {
		return nil, err
	}
	b, err := md.trees()
	if err != nil {
		return nil, err
	}
	if r, ok := b.body.(*serializers.RecordNode); ok && md.typ.Kind() == reflect.Interface && len(r.Subtypes()) == 0 {
		return serializers.NewRootField(wire.Bytes, serializers.NewDynamic(t)), nil
	}
	return adapt(b.body, t)
}

// rootMost walks the base chain of t to the interface its roots are
// written as.
func (m *Model) rootMost(t reflect.Type) (reflect.Type, error) {
	md, err := m.Metadata(t)
	if err != nil {
		return nil, err
	}
	for base := md.base(); base != nil; base = md.base() {
		if md, err = m.Metadata(base); err != nil {
			return nil, err
		}
	}
	if md.typ == normalize(t) {
		return t, nil
	}
	return md.typ, nil
}

// root returns the cached top-level node for values of t.
func (m *Model) root(t reflect.Type) (serializers.Node, error) {
	late := m.opts.References == LateReferences
	key := rootKey{typ: t, late: late}
	if n, ok := m.roots.Load(key); ok {
		return n.(serializers.Node), nil
	}
	rt := t
	if t.Kind() == reflect.Pointer && t.Elem().Kind() == reflect.Struct || t.Kind() == reflect.Interface {
		var err error
		if rt, err = m.rootMost(t); err != nil {
			return nil, err
		}
	}
	n, err := m.rootNode(rt)
	if err != nil {
		return nil, err
	}
	switch {
	case late:
		n = serializers.NewLateRoot(n)
	case rt.Kind() == reflect.Pointer || rt.Kind() == reflect.Interface:
		md, err := m.Metadata(rt)
		if err != nil {
			return nil, err
		}
		if md.snapshot().AsReferenceDefault {
			n = serializers.NewRootField(wire.Bytes, serializers.NewNetObject(n))
		}
	}
	m.roots.Store(key, n)
	return n, nil
}
