package refgraph

import (
	"fmt"
	"iter"
	"reflect"
	"slices"
	"strings"
	"testing"

	"github.com/rawbytedev/refgraph/pkg/contract"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/sync/errgroup"
)

type level int8

type ticket struct {
	Level level `refgraph:"1"`
}

func TestEnum(t *testing.T) {
	m := New()
	_, err := m.RegisterType(reflect.TypeFor[level](), WithEnum(
		contract.EnumValue{Name: "low", Value: 1, Wire: 10},
		contract.EnumValue{Name: "high", Value: 2, Wire: 20},
	))
	require.NoError(t, err)

	data, err := m.Serialize(&ticket{Level: 2})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x08, 20}, data)
	got, err := Unmarshal[ticket](m, data)
	require.NoError(t, err)
	assert.Equal(t, level(2), got.Level)

	_, err = m.Serialize(&ticket{Level: 3})
	require.ErrorIs(t, err, ErrUnknownEnumValue)
	_, err = Unmarshal[ticket](m, []byte{0x08, 11})
	require.ErrorIs(t, err, ErrUnknownEnumValue)
}

func TestEnumPassthrough(t *testing.T) {
	m := New()
	_, err := m.RegisterType(reflect.TypeFor[level](), WithEnumPassthrough())
	require.NoError(t, err)
	data, err := m.Serialize(&ticket{Level: 3})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x08, 3}, data)
}

type celsius struct{ deg float64 }

type reading struct {
	Temp celsius `refgraph:"1"`
}

func celsiusSurrogate() *contract.Surrogate {
	return contract.NewSurrogate(
		func(c celsius) string { return fmt.Sprintf("%.1fC", c.deg) },
		func(s string) celsius {
			var deg float64
			_, _ = fmt.Sscanf(strings.TrimSuffix(s, "C"), "%g", &deg)
			return celsius{deg: deg}
		},
	)
}

func TestSurrogate(t *testing.T) {
	forEachModel(t, func(t *testing.T, m *Model) {
		_, err := m.RegisterType(reflect.TypeFor[celsius](), WithSurrogate(celsiusSurrogate()))
		require.NoError(t, err)

		data, err := m.Serialize(&reading{Temp: celsius{deg: 21.5}})
		require.NoError(t, err)
		got, err := Unmarshal[reading](m, data)
		require.NoError(t, err)
		assert.Equal(t, celsius{deg: 21.5}, got.Temp)

		data, err = m.Serialize(celsius{deg: -3})
		require.NoError(t, err)
		root, err := Unmarshal[celsius](m, data)
		require.NoError(t, err)
		assert.Equal(t, celsius{deg: -3}, root)
	})
}

type money struct {
	units    int64
	currency string
}

func newMoney(units int64, currency string) money { return money{units: units, currency: currency} }

func (m money) Units() int64     { return m.units }
func (m money) Currency() string { return m.currency }

type invoiceLine struct {
	Price money `refgraph:"1"`
	Qty   int32 `refgraph:"2"`
}

func TestTuple(t *testing.T) {
	ctor, err := contract.NewConstructor(newMoney, "units", "currency")
	require.NoError(t, err)
	forEachModel(t, func(t *testing.T, m *Model) {
		_, err := m.RegisterType(reflect.TypeFor[money](), WithTuple(ctor))
		require.NoError(t, err)

		data, err := m.Serialize(&invoiceLine{Price: newMoney(1250, "EUR"), Qty: 2})
		require.NoError(t, err)
		got, err := Unmarshal[invoiceLine](m, data)
		require.NoError(t, err)
		assert.Equal(t, invoiceLine{Price: newMoney(1250, "EUR"), Qty: 2}, got)
	})
}

func TestTupleWithoutConstructor(t *testing.T) {
	m := New()
	_, err := m.RegisterType(reflect.TypeFor[money](), WithTuple())
	require.NoError(t, err)
	_, err = m.Serialize(&invoiceLine{})
	require.ErrorIs(t, err, ErrNoTupleConstructor)
}

type stack struct{ items []string }

type stackBuilder struct{ items []string }

func (stack) NewBuilder() *stackBuilder { return &stackBuilder{} }
func (b *stackBuilder) Add(s string)    { b.items = append(b.items, s) }
func (b *stackBuilder) Build() stack    { return stack{items: b.items} }
func (s stack) All() iter.Seq[string]   { return slices.Values(s.items) }
func (s stack) Peek() string            { return s.items[len(s.items)-1] }
func (s stack) Push(v string) stack     { return stack{items: append(slices.Clone(s.items), v)} }

type history struct {
	Undo stack `refgraph:"1"`
}

func TestBuilderCollection(t *testing.T) {
	forEachModel(t, func(t *testing.T, m *Model) {
		want := history{Undo: stack{}.Push("a").Push("b")}
		data, err := m.Serialize(&want)
		require.NoError(t, err)
		got, err := Unmarshal[history](m, data)
		require.NoError(t, err)
		assert.Equal(t, want, got)
		assert.Equal(t, "b", got.Undo.Peek())
	})
}

type registry struct {
	entries map[string]int32
}

func (r *registry) Entries() map[string]int32 {
	if r.entries == nil {
		r.entries = make(map[string]int32)
	}
	return r.entries
}

type counter struct{ n []int }

func (c *counter) Values() []int { return c.n }

func TestAccessorMembers(t *testing.T) {
	m := New()
	_, err := m.RegisterType(reflect.TypeFor[registry](), WithAccessor(1, "Entries", ""))
	require.NoError(t, err)

	src := &registry{}
	src.Entries()["x"] = 1
	src.Entries()["y"] = 2
	data, err := m.Serialize(src)
	require.NoError(t, err)

	dst := &registry{}
	dst.Entries()["kept"] = 9
	require.NoError(t, m.Deserialize(data, dst))
	assert.Equal(t, map[string]int32{"x": 1, "y": 2, "kept": 9}, dst.entries)

	_, err = m.RegisterType(reflect.TypeFor[counter](), WithAccessor(1, "Values", ""))
	require.NoError(t, err)
	_, err = m.Serialize(&counter{n: []int{1}})
	require.ErrorIs(t, err, ErrPoisoned)
	require.ErrorIs(t, err, ErrContract)
}

type bucket struct {
	Items  any
	Lookup any
}

func TestInterfaceCollectionHints(t *testing.T) {
	forEachModel(t, func(t *testing.T, m *Model) {
		_, err := m.RegisterType(reflect.TypeFor[bucket](),
			ClearMembers(),
			WithMember(contract.Member{Tag: 1, Name: "Items", Field: []int{0}, ItemType: reflect.TypeFor[int32]()}),
			WithMember(contract.Member{Tag: 2, Name: "Lookup", Field: []int{1},
				KeyType: reflect.TypeFor[string](), ItemType: reflect.TypeFor[int64]()}),
		)
		require.NoError(t, err)

		data, err := m.Serialize(&bucket{Items: []int32{4, 5}, Lookup: map[string]int64{"k": 6}})
		require.NoError(t, err)
		got, err := Unmarshal[bucket](m, data)
		require.NoError(t, err)
		assert.Equal(t, []int32{4, 5}, got.Items)
		assert.Equal(t, map[string]int64{"k": 6}, got.Lookup)
	})
}

type rect struct {
	W    int32 `refgraph:"1"`
	H    int32 `refgraph:"2"`
	area int32
	sent int
}

func (r *rect) AfterDeserialize() { r.area = r.W * r.H }
func (r *rect) BeforeSerialize()  { r.sent++ }

func TestCallbacks(t *testing.T) {
	forEachModel(t, func(t *testing.T, m *Model) {
		src := &rect{W: 3, H: 5}
		data, err := m.Serialize(src)
		require.NoError(t, err)
		assert.Equal(t, 1, src.sent)

		got, err := Unmarshal[rect](m, data)
		require.NoError(t, err)
		assert.Equal(t, int32(15), got.area)
	})
}

func TestRegisterAfterUseIsFrozen(t *testing.T) {
	m := New()
	_, err := m.Serialize(&order{ID: "x"})
	require.NoError(t, err)

	md, err := m.Metadata(reflect.TypeFor[order]())
	require.NoError(t, err)
	assert.Equal(t, Built, md.State())

	_, err = m.RegisterType(reflect.TypeFor[order](), WithName("renamed"))
	require.ErrorIs(t, err, ErrFrozen)
	assert.Equal(t, contract.DefaultName(reflect.TypeFor[order]()), md.Name())
}

func TestSubtypeAfterBuildIsFrozen(t *testing.T) {
	m := New()
	_, err := m.RegisterType(reflect.TypeFor[figure](), WithSubtype(5, reflect.TypeFor[square]()))
	require.NoError(t, err)
	var f figure = &square{Side: 1}
	_, err = m.Serialize(&f)
	require.NoError(t, err)

	_, err = m.RegisterType(reflect.TypeFor[figure](), WithSubtype(6, reflect.TypeFor[circle]()))
	require.ErrorIs(t, err, ErrFrozen)
	_, err = m.Metadata(reflect.TypeFor[triangle]())
	require.ErrorIs(t, err, ErrFrozen)
}

func TestFieldCollision(t *testing.T) {
	m := New()
	_, err := m.RegisterType(reflect.TypeFor[profileV1](), WithAccessor(1, "Name", ""))
	require.ErrorIs(t, err, ErrFieldCollision)

	_, err = m.RegisterType(reflect.TypeFor[figure](),
		WithSubtype(1, reflect.TypeFor[square]()),
		WithSubtype(1, reflect.TypeFor[circle]()),
	)
	require.ErrorIs(t, err, ErrFieldCollision)
}

func TestWithFieldReplacesMember(t *testing.T) {
	m := New()
	_, err := m.RegisterType(reflect.TypeFor[order](), WithField(9, "ID"))
	require.NoError(t, err)
	data, err := m.Serialize(&order{ID: "z"})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x4A, 0x01, 'z'}, data)
}

func TestNames(t *testing.T) {
	m := New()
	_, err := m.RegisterType(reflect.TypeFor[order](), WithName("shop.Order"))
	require.NoError(t, err)

	name, err := m.NameOf(reflect.TypeFor[*order]())
	require.NoError(t, err)
	assert.Equal(t, "*shop.Order", name)
	typ, err := m.TypeOf(name)
	require.NoError(t, err)
	assert.Equal(t, reflect.TypeFor[*order](), typ)

	_, err = m.RegisterType(reflect.TypeFor[address](), WithName("shop.Order"))
	require.ErrorIs(t, err, ErrContract)

	typ, err = m.TypeOf("time.Time")
	require.NoError(t, err)
	assert.Equal(t, "Time", typ.Name())
	_, err = m.TypeOf("nope.Missing")
	require.ErrorIs(t, err, ErrUnknownTypeName)
}

func TestConcurrentBuildHappensOnce(t *testing.T) {
	m := New()
	var g errgroup.Group
	for i := 0; i < 32; i++ {
		g.Go(func() error {
			data, err := m.Serialize(&profileV2{Name: "c", Tags: []string{"t"}, Home: &address{Zip: 1}})
			if err != nil {
				return err
			}
			var out profileV2
			return m.Deserialize(data, &out)
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, int64(2), m.Stats().Builds)

	before := m.Stats().LockCount
	_, err := m.Serialize(&profileV2{Name: "again"})
	require.NoError(t, err)
	assert.Equal(t, before, m.Stats().LockCount)
}

type broken struct {
	C chan int `refgraph:"1"`
}

func TestPoisonAndForget(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	m := New(WithLogger(zap.New(core)))

	_, err := m.Serialize(&broken{})
	require.ErrorIs(t, err, ErrPoisoned)
	require.ErrorIs(t, err, ErrUnsupported)
	assert.Equal(t, 1, logs.FilterMessage("type poisoned").Len())

	md, err := m.Metadata(reflect.TypeFor[broken]())
	require.NoError(t, err)
	assert.Equal(t, Poisoned, md.State())

	_, err = m.Serialize(&broken{})
	require.ErrorIs(t, err, ErrPoisoned)
	assert.Equal(t, int64(1), m.Stats().Builds)

	_, err = m.RegisterType(reflect.TypeFor[broken](), ClearMembers())
	require.ErrorIs(t, err, ErrFrozen)

	m.Forget(reflect.TypeFor[broken]())
	_, err = m.RegisterType(reflect.TypeFor[broken](), ClearMembers())
	require.NoError(t, err)
	data, err := m.Serialize(&broken{})
	require.NoError(t, err)
	assert.Empty(t, data)
	assert.Equal(t, int64(2), m.Stats().Builds)
}

func TestContractFile(t *testing.T) {
	type plain struct {
		Label string
		Count int
	}
	m := New()
	typ := reflect.TypeFor[plain]()
	_, err := m.Metadata(typ)
	require.NoError(t, err)

	f, err := contract.Parse([]byte(fmt.Sprintf(`
types:
  - type: %q
    name: shop.Plain
    members:
      - {tag: 4, field: Label}
      - {tag: 5, field: Count, options: zigzag}
`, contract.DefaultName(typ))))
	require.NoError(t, err)
	require.NoError(t, m.ApplyContractFile(f))

	data, err := m.Serialize(&plain{Label: "x", Count: -1})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x22, 0x01, 'x', 0x28, 0x01}, data)

	_, err = m.TypeOf("shop.Plain")
	require.NoError(t, err)

	bad, err := contract.Parse([]byte("types:\n  - type: missing.Type\n"))
	require.NoError(t, err)
	require.ErrorIs(t, m.ApplyContractFile(bad), ErrUnknownTypeName)
}

func TestImplicitFieldNumbers(t *testing.T) {
	type untagged struct {
		A string
		b int
		C bool
	}
	data, err := New().Serialize(&untagged{A: "a", C: true})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x0A, 0x01, 'a', 0x10, 0x01}, data)
}

func TestFingerprintIsStable(t *testing.T) {
	a, err := New().Fingerprint(reflect.TypeFor[profile]())
	require.NoError(t, err)
	b, err := New(WithStrategy(Compiled)).Fingerprint(reflect.TypeFor[profile]())
	require.NoError(t, err)
	assert.Equal(t, a, b)

	c, err := New().Fingerprint(reflect.TypeFor[profileV2]())
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
}
