package refgraph

import (
	"fmt"
	"net/url"
	"reflect"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rawbytedev/refgraph/internal/serializers"
	"github.com/rawbytedev/refgraph/pkg/contract"
	"github.com/rawbytedev/refgraph/pkg/wire"
	"github.com/shopspring/decimal"
)

var _ serializers.Resolver = (*Model)(nil)

type valueEntry struct {
	node serializers.Node
	wt   wire.WireType
}

// builtins resolve embedded type names the model has not seen yet.
var builtins = func() map[string]reflect.Type {
	out := make(map[string]reflect.Type)
	for _, t := range []reflect.Type{
		reflect.TypeFor[bool](),
		reflect.TypeFor[int](),
		reflect.TypeFor[int8](),
		reflect.TypeFor[int16](),
		reflect.TypeFor[int32](),
		reflect.TypeFor[int64](),
		reflect.TypeFor[uint](),
		reflect.TypeFor[uint8](),
		reflect.TypeFor[uint16](),
		reflect.TypeFor[uint32](),
		reflect.TypeFor[uint64](),
		reflect.TypeFor[float32](),
		reflect.TypeFor[float64](),
		reflect.TypeFor[string](),
		reflect.TypeFor[[]byte](),
		reflect.TypeFor[[]string](),
		reflect.TypeFor[[]int64](),
		reflect.TypeFor[map[string]string](),
		reflect.TypeFor[time.Time](),
		reflect.TypeFor[time.Duration](),
		reflect.TypeFor[uuid.UUID](),
		reflect.TypeFor[decimal.Decimal](),
		reflect.TypeFor[url.URL](),
	} {
		out[contract.DefaultName(t)] = t
	}
	return out
}()

// ValueNode returns the default node for a value of t, as used for dynamic
// members and late-reference records.
func (m *Model) ValueNode(t reflect.Type) (serializers.Node, wire.WireType, error) {
	if v, ok := m.values.Load(t); ok {
		e := v.(valueEntry)
		return e.node, e.wt, nil
	}
	n, wt, err := m.newBuilder().valueNode(t, hint{})
	if err != nil {
		return nil, 0, err
	}
	m.values.Store(t, valueEntry{node: n, wt: wt})
	return n, wt, nil
}

// BodyNode returns the built message body of t.
func (m *Model) BodyNode(t reflect.Type) (serializers.Node, error) {
	md, err := m.Metadata(t)
	if err != nil {
		return nil, err
	}
	b, err := md.trees()
	if err != nil {
		return nil, err
	}
	if b.body.ExpectedType() != t {
		return nil, contractErr(t, "%s body handles %s", b.shape, b.body.ExpectedType())
	}
	return b.body, nil
}

// NameOf is the name embedded on the wire for t. Pointers to structs are
// the struct's name with a leading '*'.
func (m *Model) NameOf(t reflect.Type) (string, error) {
	if t.Kind() == reflect.Pointer && t.Elem().Kind() == reflect.Struct {
		md, err := m.Metadata(t)
		if err != nil {
			return "", err
		}
		return "*" + md.Name(), nil
	}
	md, err := m.Metadata(t)
	if err != nil {
		return "", err
	}
	return md.Name(), nil
}

// TypeOf resolves a name written by NameOf.
func (m *Model) TypeOf(name string) (reflect.Type, error) {
	base, ptr := strings.CutPrefix(name, "*")
	m.mu.RLock()
	t, ok := m.names[base]
	m.mu.RUnlock()
	if !ok {
		t, ok = builtins[base]
	}
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTypeName, name)
	}
	if ptr {
		t = reflect.PointerTo(t)
	}
	return t, nil
}
