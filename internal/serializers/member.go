package serializers

import (
	"reflect"

	"github.com/rawbytedev/refgraph/internal/common"
	"github.com/rawbytedev/refgraph/pkg/contract"
)

// MemberType validates the access path of m on the struct type owner and
// returns the member's declared type.
func MemberType(owner reflect.Type, m contract.Member) (reflect.Type, error) {
	if !m.IsAccessor() {
		t := owner
		for i, x := range m.Field {
			if t.Kind() != reflect.Struct || x >= t.NumField() {
				return nil, contractErr(owner, "member %s: bad field path %v", m.Name, m.Field)
			}
			sf := t.Field(x)
			if !sf.IsExported() && !(sf.Anonymous && i < len(m.Field)-1) {
				return nil, contractErr(owner, "member %s is not readable: field %s is unexported", m.Name, sf.Name)
			}
			t = sf.Type
			if i < len(m.Field)-1 && t.Kind() == reflect.Pointer {
				return nil, contractErr(owner, "member %s: embedded pointer %s on the field path", m.Name, sf.Name)
			}
		}
		return t, nil
	}
	pt := reflect.PointerTo(owner)
	g, ok := pt.MethodByName(m.Getter)
	if !ok || g.Type.NumIn() != 1 || g.Type.NumOut() != 1 {
		return nil, contractErr(owner, "member %s is not readable: no getter %s() T", m.Name, m.Getter)
	}
	t := g.Type.Out(0)
	if m.Setter != "" {
		s, ok := pt.MethodByName(m.Setter)
		if !ok || s.Type.NumIn() != 2 || s.Type.NumOut() != 0 || s.Type.In(1) != t {
			return nil, contractErr(owner, "member %s: setter %s must be func(%s)", m.Name, m.Setter, t)
		}
	}
	return t, nil
}

// MemberNode reads and writes one member of a *T through its field path or
// its getter and setter.
type MemberNode struct {
	name     string
	number   int
	required bool
	owner    reflect.Type
	declared reflect.Type
	index    []int
	getter   reflect.Value
	setter   reflect.Value
	tail     Node
	assign   bool
	passOld  bool
	nilable  bool
}

// NewMember reconciles the tail's strategy with the member's access. It
// fails when the value can neither be assigned back nor mutated in place.
func NewMember(owner reflect.Type, m contract.Member, tail Node) (*MemberNode, error) {
	declared, err := MemberType(owner, m)
	if err != nil {
		return nil, err
	}
	n := &MemberNode{
		name:     m.Name,
		number:   m.Tag,
		required: m.Required,
		owner:    reflect.PointerTo(owner),
		declared: declared,
		index:    m.Field,
		tail:     tail,
		nilable:  common.IsNilable(declared.Kind()),
	}
	writable := true
	if m.IsAccessor() {
		g, _ := n.owner.MethodByName(m.Getter)
		n.getter = g.Func
		if m.Setter != "" {
			s, _ := n.owner.MethodByName(m.Setter)
			n.setter = s.Func
		} else {
			writable = false
		}
	}
	n.assign = tail.ReturnsValue() && writable
	if !n.assign && (!tail.RequiresOldValue() || common.IsValueType(declared)) {
		return nil, contractErr(owner, "member %s: cannot apply changes to %s without a setter", m.Name, declared)
	}
	n.passOld = tail.RequiresOldValue()
	return n, nil
}

func (n *MemberNode) ExpectedType() reflect.Type { return n.owner }
func (n *MemberNode) RequiresOldValue() bool     { return true }
func (n *MemberNode) ReturnsValue() bool         { return false }
func (n *MemberNode) Name() string               { return n.name }
func (n *MemberNode) Number() int                { return n.number }
func (n *MemberNode) Required() bool             { return n.required }
func (n *MemberNode) Tail() Node                 { return n.tail }

// FieldIndex is the struct field path, nil for accessor members.
func (n *MemberNode) FieldIndex() []int { return n.index }

func (n *MemberNode) get(owner reflect.Value) reflect.Value {
	if n.index != nil {
		return owner.Elem().FieldByIndex(n.index)
	}
	return n.getter.Call([]reflect.Value{owner})[0]
}

func (n *MemberNode) set(owner, v reflect.Value) error {
	v, err := assignable(v, n.declared)
	if err != nil {
		return err
	}
	if n.index != nil {
		owner.Elem().FieldByIndex(n.index).Set(v)
		return nil
	}
	n.setter.Call([]reflect.Value{owner, v})
	return nil
}

func (n *MemberNode) Write(owner reflect.Value, e *Encoder) error {
	v := n.get(owner)
	if n.nilable && v.IsNil() {
		return nil
	}
	return n.tail.Write(unwrap(v), e)
}

func (n *MemberNode) Read(owner reflect.Value, d *Decoder) (reflect.Value, error) {
	var old reflect.Value
	if n.passOld {
		old = unwrap(n.get(owner))
		if old.IsValid() && isNil(old) && old.Kind() != reflect.Slice {
			old = reflect.Value{}
		}
	}
	res, err := n.tail.Read(old, d)
	if err != nil {
		return reflect.Value{}, err
	}
	if n.assign && res.IsValid() {
		return reflect.Value{}, n.set(owner, res)
	}
	return reflect.Value{}, nil
}
