package serializers

import (
	"fmt"
	"iter"
	"reflect"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rawbytedev/refgraph/pkg/contract"
	"github.com/rawbytedev/refgraph/pkg/wire"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeResolver struct {
	names  map[string]reflect.Type
	values map[reflect.Type]Node
	bodies map[reflect.Type]Node
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{
		names:  map[string]reflect.Type{},
		values: map[reflect.Type]Node{},
		bodies: map[reflect.Type]Node{},
	}
}

func (f *fakeResolver) add(name string, t reflect.Type, value, body Node) {
	f.names[name] = t
	if value != nil {
		f.values[t] = value
	}
	if body != nil {
		f.bodies[t] = body
	}
}

func (f *fakeResolver) ValueNode(t reflect.Type) (Node, wire.WireType, error) {
	n, ok := f.values[t]
	if !ok {
		return nil, 0, fmt.Errorf("%w: %s", ErrUnknownTypeName, t)
	}
	if s, ok := n.(*ScalarNode); ok {
		return n, s.WireType(), nil
	}
	return n, wire.Bytes, nil
}

func (f *fakeResolver) BodyNode(t reflect.Type) (Node, error) {
	n, ok := f.bodies[t]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTypeName, t)
	}
	return n, nil
}

func (f *fakeResolver) NameOf(t reflect.Type) (string, error) {
	for name, nt := range f.names {
		if nt == t {
			return name, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownTypeName, t)
}

func (f *fakeResolver) TypeOf(name string) (reflect.Type, error) {
	t, ok := f.names[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTypeName, name)
	}
	return t, nil
}

func encode(t *testing.T, n Node, v any, s Session) []byte {
	t.Helper()
	e := NewEncoder(s)
	e.Begin(0)
	require.NoError(t, n.Write(reflect.ValueOf(v), e))
	return slices.Clone(e.Bytes())
}

func decode(t *testing.T, n Node, data []byte, s Session) reflect.Value {
	t.Helper()
	d := NewDecoder(s)
	d.Begin(data, 0)
	v, err := n.Read(reflect.Value{}, d)
	require.NoError(t, err)
	return v
}

// encodeValue writes v as field 1, the way a member or item is framed.
func encodeValue(t *testing.T, n Node, wt wire.WireType, v any, s Session) []byte {
	t.Helper()
	e := NewEncoder(s)
	e.Begin(0)
	require.NoError(t, e.WriteTag(1, wt))
	require.NoError(t, n.Write(reflect.ValueOf(v), e))
	return slices.Clone(e.Bytes())
}

// decodeValue reads the field written by encodeValue.
func decodeValue(t *testing.T, n Node, data []byte, s Session) reflect.Value {
	t.Helper()
	d := NewDecoder(s)
	d.Begin(data, 0)
	num, err := d.ReadFieldHeader()
	require.NoError(t, err)
	require.Equal(t, 1, num)
	v, err := n.Read(reflect.Value{}, d)
	require.NoError(t, err)
	return v
}

// decodeField reads one field header before handing over to n, the way an
// enclosing message loop does.
func decodeField(t *testing.T, n Node, data []byte) (reflect.Value, error) {
	t.Helper()
	d := NewDecoder(Session{})
	d.Begin(data, 0)
	num, err := d.ReadFieldHeader()
	require.NoError(t, err)
	require.NotZero(t, num)
	return n.Read(reflect.Value{}, d)
}

func scalar[T any](t *testing.T, format contract.DataFormat) *ScalarNode {
	t.Helper()
	s, err := NewScalar(reflect.TypeFor[T](), format)
	require.NoError(t, err)
	return s
}

func member(t *testing.T, owner reflect.Type, m contract.Member, value Node, wt wire.WireType) *MemberNode {
	t.Helper()
	tag, err := NewTag(m.Tag, wt, value)
	require.NoError(t, err)
	n, err := NewMember(owner, m, tag)
	require.NoError(t, err)
	return n
}

func TestScalarFormats(t *testing.T) {
	cases := []struct {
		format contract.DataFormat
		want   []byte
	}{
		{contract.FormatDefault, []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0x01}},
		{contract.FormatZigZag, []byte{0x01}},
		{contract.FormatFixed, []byte{0xff, 0xff, 0xff, 0xff}},
	}
	for _, tc := range cases {
		t.Run(tc.format.String(), func(t *testing.T) {
			n := scalar[int32](t, tc.format)
			data := encode(t, n, int32(-1), Session{})
			assert.Equal(t, tc.want, data)
			assert.Equal(t, int32(-1), decode(t, n, data, Session{}).Interface())
		})
	}

	_, err := NewScalar(reflect.TypeFor[uint16](), contract.FormatZigZag)
	require.ErrorIs(t, err, ErrContract)
	_, err = NewScalar(reflect.TypeFor[string](), contract.FormatFixed)
	require.ErrorIs(t, err, ErrContract)
}

func TestScalarOverflow(t *testing.T) {
	wide := encode(t, scalar[int64](t, contract.FormatDefault), int64(1000), Session{})
	d := NewDecoder(Session{})
	d.Begin(wide, 0)
	_, err := scalar[int8](t, contract.FormatDefault).Read(reflect.Value{}, d)
	require.ErrorIs(t, err, ErrOverflow)
}

func TestLeaves(t *testing.T) {
	when := time.Date(2024, 3, 9, 10, 11, 12, 13, time.UTC)
	dec := decimal.RequireFromString("-1234.5678")
	id := uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")
	for _, v := range []any{when, 90 * time.Second, id, dec, []byte("raw"), [3]byte{1, 2, 3}, "text", 3.5, true} {
		t.Run(reflect.TypeOf(v).String(), func(t *testing.T) {
			n, wt, ok, err := Leaf(reflect.TypeOf(v), contract.FormatDefault)
			require.NoError(t, err)
			require.True(t, ok)
			got := decodeValue(t, n, encodeValue(t, n, wt, v, Session{}), Session{}).Interface()
			if d, ok := v.(decimal.Decimal); ok {
				assert.True(t, d.Equal(got.(decimal.Decimal)), "%s != %s", d, got)
				return
			}
			assert.Equal(t, v, got)
		})
	}
}

func TestDecimalOverflow(t *testing.T) {
	n, _, _, err := Leaf(decimalType, contract.FormatDefault)
	require.NoError(t, err)
	huge := decimal.New(1, 40)
	e := NewEncoder(Session{})
	require.ErrorIs(t, n.Write(reflect.ValueOf(huge), e), ErrOverflow)
}

type account struct {
	ID      string
	Balance int64
	Level   int32
	Flags   uint16
	Active  bool
	Rate    float64
}

func accountRecord(t *testing.T, required bool) *RecordNode {
	t.Helper()
	owner := reflect.TypeFor[account]()
	fields := []struct {
		name  string
		node  *ScalarNode
		index int
	}{
		{"ID", scalar[string](t, 0), 0},
		{"Balance", scalar[int64](t, contract.FormatZigZag), 1},
		{"Level", scalar[int32](t, contract.FormatFixed), 2},
		{"Flags", scalar[uint16](t, 0), 3},
		{"Active", scalar[bool](t, 0), 4},
		{"Rate", scalar[float64](t, 0), 5},
	}
	var members []Node
	for i, f := range fields {
		m := contract.Member{Tag: i + 1, Name: f.name, Field: []int{f.index}, Required: required && i == 0}
		members = append(members, member(t, owner, m, f.node, f.node.WireType()))
	}
	r, err := NewRecord(RecordConfig{Type: owner, Members: members})
	require.NoError(t, err)
	return r
}

func TestRecordScenarioA(t *testing.T) {
	r := accountRecord(t, false)
	data := encode(t, r, &account{ID: "abc"}, Session{})
	assert.Equal(t, []byte{0x0a, 0x03, 'a', 'b', 'c'}, data[:5])

	got := decode(t, r, data, Session{}).Interface().(*account)
	assert.Equal(t, "abc", got.ID)
}

func TestCompiledMatchesDataDriven(t *testing.T) {
	r := accountRecord(t, true)
	c, err := Compile(r)
	require.NoError(t, err)
	assert.Equal(t, 6, Compiled(c))
	assert.Zero(t, Compiled(r), "compiling must not touch the source tree")

	in := &account{ID: "acc-1", Balance: -42, Level: -7, Flags: 513, Active: true, Rate: 0.25}
	slow := encode(t, r, in, Session{})
	fast := encode(t, c, in, Session{})
	require.Equal(t, slow, fast)
	assert.Equal(t, in, decode(t, c, slow, Session{}).Interface())
	assert.Equal(t, in, decode(t, r, fast, Session{}).Interface())

	d := NewDecoder(Session{})
	d.Begin([]byte{0x10, 0x02}, 0)
	_, err = c.Read(reflect.Value{}, d)
	require.ErrorIs(t, err, ErrRequiredMissing)
}

func TestRecordSkipsUnknownFields(t *testing.T) {
	r := accountRecord(t, false)
	data := encode(t, r, &account{ID: "x", Balance: 3}, Session{})
	w := wire.NewWriter(nil)
	w.WriteRaw(data)
	require.NoError(t, w.WriteTag(99, wire.Bytes))
	w.WriteString("from the future")
	require.NoError(t, w.WriteTag(77, wire.Fixed64))
	w.WriteFixed64(1)

	got := decode(t, r, w.Bytes(), Session{}).Interface().(*account)
	assert.Equal(t, &account{ID: "x", Balance: 3}, got)
}

type withAccessor struct {
	items []int32
	name  string
}

func (w *withAccessor) Items() []int32      { return w.items }
func (w *withAccessor) Name() string        { return w.name }
func (w *withAccessor) SetName(name string) { w.name = name }

func TestMemberAccessors(t *testing.T) {
	owner := reflect.TypeFor[withAccessor]()
	name := member(t, owner, contract.Member{Tag: 1, Name: "name", Getter: "Name", Setter: "SetName"}, scalar[string](t, 0), wire.Bytes)

	items, err := NewRepeated(RepeatedConfig{Number: 2, Type: reflect.TypeFor[[]int32](), Item: scalar[int32](t, 0), ItemWT: wire.Varint})
	require.NoError(t, err)
	_, err = NewMember(owner, contract.Member{Tag: 2, Name: "items", Getter: "Items"}, items)
	require.ErrorIs(t, err, ErrContract, "a getter-only slice cannot be written back")

	_, err = NewMember(owner, contract.Member{Tag: 3, Name: "items", Field: []int{0}}, items)
	require.ErrorIs(t, err, ErrContract, "unexported fields are not readable")

	r, err := NewRecord(RecordConfig{Type: owner, Members: []Node{name}})
	require.NoError(t, err)
	got := decode(t, r, encode(t, r, &withAccessor{name: "via setter"}, Session{}), Session{})
	assert.Equal(t, "via setter", got.Interface().(*withAccessor).name)
}

func TestRepeatedPackedAndUnpacked(t *testing.T) {
	cfg := RepeatedConfig{Number: 3, Type: reflect.TypeFor[[]int32](), Item: scalar[int32](t, 0), ItemWT: wire.Varint}
	plain, err := NewRepeated(cfg)
	require.NoError(t, err)
	cfg.Packed = true
	packed, err := NewRepeated(cfg)
	require.NoError(t, err)

	items := []int32{1, 2, 300}
	p := encode(t, packed, items, Session{})
	assert.Equal(t, []byte{0x1a, 0x04, 0x01, 0x02, 0xac, 0x02}, p)
	u := encode(t, plain, items, Session{})
	assert.Equal(t, []byte{0x18, 0x01, 0x18, 0x02, 0x18, 0xac, 0x02}, u)

	for _, data := range [][]byte{p, u} {
		got, err := decodeField(t, plain, data)
		require.NoError(t, err)
		assert.Equal(t, items, got.Interface())
	}

	_, err = NewRepeated(RepeatedConfig{Number: 1, Type: reflect.TypeFor[[]string](), Item: scalar[string](t, 0), ItemWT: wire.Bytes, Packed: true})
	require.ErrorIs(t, err, ErrContract)
}

func TestRepeatedAppend(t *testing.T) {
	n, err := NewRepeated(RepeatedConfig{Number: 1, Type: reflect.TypeFor[[]string](), Item: scalar[string](t, 0), ItemWT: wire.Bytes, Append: true})
	require.NoError(t, err)
	data := encode(t, n, []string{"c"}, Session{})

	d := NewDecoder(Session{})
	d.Begin(data, 0)
	_, err = d.ReadFieldHeader()
	require.NoError(t, err)
	got, err := n.Read(reflect.ValueOf([]string{"a", "b"}), d)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, got.Interface())
}

func TestRepeatedMapsAndSets(t *testing.T) {
	m, err := NewRepeated(RepeatedConfig{
		Number: 1, Type: reflect.TypeFor[map[string]int32](),
		Item: scalar[string](t, 0), ItemWT: wire.Bytes,
		Value: scalar[int32](t, 0), ValueWT: wire.Varint,
	})
	require.NoError(t, err)
	in := map[string]int32{"b": 2, "a": 1, "c": 0}
	data := encode(t, m, in, Session{})
	assert.Equal(t, []byte{0x0a, 0x05, 0x0a, 0x01, 'a', 0x10, 0x01}, data[:7], "entries are written in key order")
	for range 5 {
		require.Equal(t, data, encode(t, m, in, Session{}))
	}
	got, err := decodeField(t, m, data)
	require.NoError(t, err)
	assert.Equal(t, in, got.Interface())

	s, err := NewRepeated(RepeatedConfig{Number: 4, Type: reflect.TypeFor[map[int64]struct{}](), Item: scalar[int64](t, 0), ItemWT: wire.Varint, Packed: true})
	require.NoError(t, err)
	set := map[int64]struct{}{9: {}, -1: {}, 4: {}}
	got, err = decodeField(t, s, encode(t, s, set, Session{}))
	require.NoError(t, err)
	assert.Equal(t, set, got.Interface())
}

func TestRepeatedArrayBounds(t *testing.T) {
	wide, err := NewRepeated(RepeatedConfig{Number: 1, Type: reflect.TypeFor[[]int32](), Item: scalar[int32](t, 0), ItemWT: wire.Varint})
	require.NoError(t, err)
	arr, err := NewRepeated(RepeatedConfig{Number: 1, Type: reflect.TypeFor[[2]int32](), Item: scalar[int32](t, 0), ItemWT: wire.Varint})
	require.NoError(t, err)

	got, err := decodeField(t, arr, encode(t, wide, []int32{5, 6}, Session{}))
	require.NoError(t, err)
	assert.Equal(t, [2]int32{5, 6}, got.Interface())

	_, err = decodeField(t, arr, encode(t, wide, []int32{5, 6, 7}, Session{}))
	require.ErrorIs(t, err, ErrArrayBounds)
}

func TestRepeatedNilItems(t *testing.T) {
	n, err := NewRepeated(RepeatedConfig{Number: 1, Type: reflect.TypeFor[[]*int32](), Item: NewPtr(scalar[int32](t, 0)), ItemWT: wire.Varint})
	require.NoError(t, err)
	one := int32(1)
	e := NewEncoder(Session{})
	require.ErrorIs(t, n.Write(reflect.ValueOf([]*int32{&one, nil}), e), ErrNilItem)
}

type bag struct{ items []int }

type bagBuilder struct{ items []int }

func (bag) NewBuilder() *bagBuilder { return &bagBuilder{} }
func (b *bagBuilder) Add(x int)    { b.items = append(b.items, x) }
func (b *bagBuilder) Build() bag   { return bag{items: b.items} }
func (b bag) All() iter.Seq[int]   { return slices.Values(b.items) }

func TestRepeatedBuilder(t *testing.T) {
	kind, item, _ := Collection(reflect.TypeFor[bag]())
	require.Equal(t, BuilderCollection, kind)
	require.Equal(t, reflect.TypeFor[int](), item)

	n, err := NewRepeated(RepeatedConfig{Number: 2, Type: reflect.TypeFor[bag](), Item: scalar[int](t, 0), ItemWT: wire.Varint})
	require.NoError(t, err)
	got, err := decodeField(t, n, encode(t, n, bag{items: []int{3, 1, 2}}, Session{}))
	require.NoError(t, err)
	assert.Equal(t, []int{3, 1, 2}, got.Interface().(bag).items)
}

type level int8

func TestEnum(t *testing.T) {
	n, err := NewEnum(reflect.TypeFor[level](), []contract.EnumValue{{Name: "low", Value: 1, Wire: 10}, {Name: "high", Value: 2, Wire: 20}}, false)
	require.NoError(t, err)
	data := encode(t, n, level(2), Session{})
	assert.Equal(t, []byte{20}, data)
	assert.Equal(t, level(2), decode(t, n, data, Session{}).Interface())

	e := NewEncoder(Session{})
	require.ErrorIs(t, n.Write(reflect.ValueOf(level(3)), e), ErrUnknownEnumValue)
	d := NewDecoder(Session{})
	d.Begin([]byte{11}, 0)
	_, err = n.Read(reflect.Value{}, d)
	require.ErrorIs(t, err, ErrUnknownEnumValue)

	pass, err := NewEnum(reflect.TypeFor[level](), nil, true)
	require.NoError(t, err)
	assert.Equal(t, []byte{3}, encode(t, pass, level(3), Session{}))
}

type celsius struct{ deg float64 }

func TestSurrogate(t *testing.T) {
	s := contract.NewSurrogate(
		func(c celsius) string { return fmt.Sprintf("%.1fC", c.deg) },
		func(s string) celsius {
			var deg float64
			_, _ = fmt.Sscanf(strings.TrimSuffix(s, "C"), "%g", &deg)
			return celsius{deg: deg}
		},
	)
	n, err := NewSurrogate(s, scalar[string](t, 0))
	require.NoError(t, err)
	data := encode(t, n, celsius{deg: 21.5}, Session{})
	assert.Equal(t, "21.5C", string(data[1:]))
	assert.Equal(t, celsius{deg: 21.5}, decode(t, n, data, Session{}).Interface())
}

type point struct{ x, y int32 }

func newPoint(x, y int32) point { return point{x: x, y: y} }
func (p point) X() int32        { return p.x }
func (p point) Y() int32        { return p.y }

func TestTuple(t *testing.T) {
	good, err := contract.NewConstructor(newPoint, "x", "y")
	require.NoError(t, err)
	bad, err := contract.NewConstructor(func(a, b int32) point { return point{} }, "a", "b")
	require.NoError(t, err)

	ctor, access, err := ResolveTuple(reflect.TypeFor[point](), []contract.Constructor{bad, good})
	require.NoError(t, err)
	var fields []TupleField
	for _, a := range access {
		fields = append(fields, TupleField{Access: a, Node: scalar[int32](t, contract.FormatZigZag), WT: wire.Varint})
	}
	n, err := NewTuple(ctor, fields)
	require.NoError(t, err)
	data := encode(t, n, point{x: -1, y: 2}, Session{})
	assert.Equal(t, []byte{0x08, 0x01, 0x10, 0x04}, data)
	assert.Equal(t, point{x: -1, y: 2}, decode(t, n, data, Session{}).Interface())

	_, _, err = ResolveTuple(reflect.TypeFor[point](), []contract.Constructor{bad})
	require.ErrorIs(t, err, ErrNoTupleConstructor)
	_, _, err = ResolveTuple(reflect.TypeFor[point](), []contract.Constructor{good, good})
	require.ErrorIs(t, err, ErrNoTupleConstructor)
}

func TestDynamic(t *testing.T) {
	res := newFakeResolver()
	res.add("int32", reflect.TypeFor[int32](), scalar[int32](t, 0), nil)
	res.add("string", reflect.TypeFor[string](), scalar[string](t, 0), nil)
	s := Session{Resolver: res}

	n := NewDynamic(reflect.TypeFor[any]())
	for _, v := range []any{int32(7), "seven"} {
		got := decodeValue(t, n, encodeValue(t, n, wire.Bytes, v, s), s)
		assert.Equal(t, v, got.Interface())
	}

	e := NewEncoder(s)
	require.ErrorIs(t, n.Write(reflect.ValueOf(3.5), e), ErrUnknownTypeName)
}

func TestNestedCollection(t *testing.T) {
	inner, err := NewRepeated(RepeatedConfig{Number: 1, Type: reflect.TypeFor[[]int32](), Item: scalar[int32](t, 0), ItemWT: wire.Varint})
	require.NoError(t, err)
	outer, err := NewRepeated(RepeatedConfig{Number: 1, Type: reflect.TypeFor[[][]int32](), Item: NewSubItem(NewCollection(inner)), ItemWT: wire.Bytes})
	require.NoError(t, err)
	root := NewCollection(outer)

	in := [][]int32{{1, 2}, {}, {3}}
	data := encode(t, root, in, Session{})
	assert.Equal(t, in, decode(t, root, data, Session{}).Interface())

	// A collection body skips fields it does not own.
	extra := append(slices.Clone(data), 0x10, 0x07)
	assert.Equal(t, in, decode(t, root, extra, Session{}).Interface())
}

type link struct {
	Name string
	Next *link
}

// linkRecord builds the record for link, whose Next member refers back to
// the record itself through a tracked reference.
func linkRecord(t *testing.T) *RecordNode {
	t.Helper()
	owner := reflect.TypeFor[link]()
	r, err := NewRecord(RecordConfig{Type: owner})
	require.NoError(t, err)
	name := member(t, owner, contract.Member{Tag: 1, Name: "Name", Field: []int{0}}, scalar[string](t, 0), wire.Bytes)
	next := member(t, owner, contract.Member{Tag: 2, Name: "Next", Field: []int{1}}, NewNetObject(r), wire.Bytes)
	require.NoError(t, r.setMembers([]Node{name, next}))
	return r
}

func cycle() *link {
	a := &link{Name: "a"}
	b := &link{Name: "b", Next: a}
	a.Next = b
	return a
}

func TestNetObjectInlineCycle(t *testing.T) {
	root := NewNetObject(linkRecord(t))
	data := encodeValue(t, root, wire.Bytes, cycle(), Session{})

	got := decodeValue(t, root, data, Session{}).Interface().(*link)
	assert.Equal(t, "a", got.Name)
	assert.Equal(t, "b", got.Next.Name)
	assert.Same(t, got, got.Next.Next)
}

func TestNetObjectSharedInstance(t *testing.T) {
	r := linkRecord(t)
	items, err := NewRepeated(RepeatedConfig{Number: 1, Type: reflect.TypeFor[[]*link](), Item: NewNetObject(r), ItemWT: wire.Bytes})
	require.NoError(t, err)
	shared := &link{Name: "shared"}
	got, err := decodeField(t, items, encode(t, items, []*link{shared, shared, {Name: "other"}}, Session{}))
	require.NoError(t, err)
	out := got.Interface().([]*link)
	require.Len(t, out, 3)
	assert.Same(t, out[0], out[1])
	assert.NotSame(t, out[0], out[2])
}

func TestNetObjectUnknownKey(t *testing.T) {
	w := wire.NewWriter(nil)
	require.NoError(t, w.WriteTag(1, wire.Bytes))
	tok := w.StartSubItem()
	require.NoError(t, w.WriteTag(refExisting, wire.Varint))
	w.WriteVarint(7)
	require.NoError(t, w.EndSubItem(tok))

	d := NewDecoder(Session{})
	d.Begin(w.Bytes(), 0)
	_, err := d.ReadFieldHeader()
	require.NoError(t, err)
	_, err = NewNetObject(linkRecord(t)).Read(reflect.Value{}, d)
	require.ErrorIs(t, err, ErrUnknownReference)
}

func TestLateRoot(t *testing.T) {
	r := linkRecord(t)
	root := NewLateRoot(r)
	for _, seekable := range []bool{false, true} {
		t.Run(fmt.Sprint("seekable=", seekable), func(t *testing.T) {
			s := Session{Late: true, Seekable: seekable, Resolver: newFakeResolver()}
			data := encode(t, root, cycle(), s)
			assert.Equal(t, byte(0x0a), data[0], "root payload is field 1")

			got := decode(t, root, data, s).Interface().(*link)
			assert.Equal(t, "b", got.Next.Name)
			assert.Same(t, got, got.Next.Next)
		})
	}
}

func TestLateRootSeekKey(t *testing.T) {
	r := linkRecord(t)
	s := Session{Late: true, Seekable: true, Resolver: newFakeResolver()}
	data := encode(t, NewLateRoot(r), cycle(), s)

	d := NewDecoder(s)
	d.Begin(data, 0)
	out := &link{}
	require.NoError(t, d.SeekKey(1, reflect.ValueOf(out), r))
	assert.Equal(t, "b", out.Name)
	assert.Equal(t, "a", out.Next.Name)
	assert.Same(t, out, out.Next.Next)

	plain := encode(t, NewLateRoot(r), cycle(), Session{Late: true, Resolver: newFakeResolver()})
	d = NewDecoder(s)
	d.Begin(plain, 0)
	err := d.SeekKey(1, reflect.ValueOf(&link{}), r)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SeekableReferences")
}

func TestLateValueRejected(t *testing.T) {
	owner := reflect.TypeFor[account]()
	body := accountRecord(t, false)
	addr, err := NewAddr(body)
	require.NoError(t, err)
	n := NewNetObject(addr)
	e := NewEncoder(Session{Late: true})
	require.ErrorIs(t, n.Write(reflect.ValueOf(account{}), e), ErrLateValue)
	assert.Equal(t, owner, n.ExpectedType())
}

func TestRecursionDepth(t *testing.T) {
	root := NewNetObject(linkRecord(t))
	var head *link
	for i := range 20 {
		head = &link{Name: fmt.Sprint(i), Next: head}
	}
	e := NewEncoder(Session{MaxDepth: 8})
	require.ErrorIs(t, root.Write(reflect.ValueOf(head), e), ErrRecursionDepth)
}
