package serializers

import (
	"fmt"
	"reflect"
	"slices"
	"strings"

	"github.com/rawbytedev/refgraph/pkg/contract"
	"github.com/rawbytedev/refgraph/pkg/wire"
)

// SubtypeLink is one derived type of an interface base, written as a
// nested message under its field number ahead of the base's own members.
type SubtypeLink struct {
	Number int
	Type   reflect.Type
	// Node encodes the derived value as a message body; the record wraps it
	// in a sub-item.
	Node Node
}

func (l SubtypeLink) exact(t reflect.Type) bool { return l.Type == t }

func (l SubtypeLink) implemented(t reflect.Type) bool {
	return l.Type.Kind() == reflect.Interface && t.Implements(l.Type)
}

// RecordConfig describes a record node. Members must carry distinct field
// numbers that do not clash with subtype links.
type RecordConfig struct {
	Type      reflect.Type
	Members   []Node
	Subtypes  []SubtypeLink
	Factory   func() any
	Callbacks contract.Callbacks
	// BaseHooks are the before-deserialize callbacks of the base chain,
	// root-most first.
	BaseHooks []func(any)
}

type recordField struct {
	number int
	node   Node
	// link indexes subtypes, or is -1 for members.
	link int
}

// RecordNode encodes a struct through its members, or an interface base by
// dispatching to the registered subtype of the dynamic value.
type RecordNode struct {
	typ       reflect.Type
	expected  reflect.Type
	fields    []recordField
	members   []Node
	subtypes  []SubtypeLink
	required  []int
	factory   func() any
	callbacks contract.Callbacks
	baseHooks []func(any)
}

type numbered interface{ Number() int }

type requirer interface {
	Required() bool
	Name() string
}

func NewRecord(cfg RecordConfig) (*RecordNode, error) {
	r := &RecordNode{
		typ:       cfg.Type,
		factory:   cfg.Factory,
		callbacks: cfg.Callbacks,
		baseHooks: cfg.BaseHooks,
	}
	switch cfg.Type.Kind() {
	case reflect.Struct:
		r.expected = reflect.PointerTo(cfg.Type)
	case reflect.Interface:
		r.expected = cfg.Type
		if len(cfg.Members) > 0 {
			return nil, contractErr(cfg.Type, "interface bases cannot declare members")
		}
	default:
		return nil, contractErr(cfg.Type, "records are structs or interfaces")
	}
	for i, s := range cfg.Subtypes {
		s.Node = NewSubItem(s.Node)
		r.subtypes = append(r.subtypes, s)
		r.fields = append(r.fields, recordField{number: s.Number, node: s.Node, link: i})
	}
	if err := r.setMembers(cfg.Members); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *RecordNode) setMembers(members []Node) error {
	fields := slices.DeleteFunc(slices.Clone(r.fields), func(f recordField) bool { return f.link < 0 })
	r.members = members
	r.required = nil
	for _, m := range members {
		num, ok := m.(numbered)
		if !ok {
			return contractErr(r.typ, "member node %T has no field number", m)
		}
		fields = append(fields, recordField{number: num.Number(), node: m, link: -1})
		if req, ok := m.(requirer); ok && req.Required() {
			r.required = append(r.required, num.Number())
		}
	}
	slices.SortFunc(fields, func(a, b recordField) int { return a.number - b.number })
	for i := 1; i < len(fields); i++ {
		if fields[i].number == fields[i-1].number {
			return contractErr(r.typ, "field number %d used twice", fields[i].number)
		}
	}
	r.fields = fields
	return nil
}

func (r *RecordNode) ExpectedType() reflect.Type { return r.expected }
func (r *RecordNode) RequiresOldValue() bool     { return true }
func (r *RecordNode) ReturnsValue() bool         { return true }
func (r *RecordNode) Members() []Node            { return r.members }
func (r *RecordNode) Subtypes() []SubtypeLink    { return r.subtypes }

// Allocate returns a new *T from the factory or the zero value, without
// running hooks.
func (r *RecordNode) Allocate() (reflect.Value, error) {
	if r.typ.Kind() != reflect.Struct {
		return reflect.Value{}, contractErr(r.typ, "cannot instantiate an interface")
	}
	if r.factory == nil {
		return reflect.New(r.typ), nil
	}
	v := reflect.ValueOf(r.factory())
	if v.Type() == r.typ {
		p := reflect.New(r.typ)
		p.Elem().Set(v)
		v = p
	}
	if v.Type() != r.expected {
		return reflect.Value{}, contractErr(r.typ, "factory returned %s", v.Type())
	}
	return v, nil
}

// NewInstance allocates the record's struct, runs the before-deserialize
// hooks and registers it with the reference tracker.
func (r *RecordNode) NewInstance(d *Decoder) (reflect.Value, error) {
	v, err := r.Allocate()
	if err != nil {
		return reflect.Value{}, err
	}
	r.beforeDeserialize(v)
	return v, d.Note(v)
}

func (r *RecordNode) beforeDeserialize(v reflect.Value) {
	for _, h := range r.baseHooks {
		h(v.Interface())
	}
	if r.callbacks.BeforeDeserialize != nil {
		r.callbacks.BeforeDeserialize(v.Interface())
	}
}

func (r *RecordNode) Write(v reflect.Value, e *Encoder) error {
	v = unwrap(v)
	if len(r.subtypes) > 0 {
		link, ok := r.subtypeFor(v.Type())
		switch {
		case ok:
			if err := e.WriteTag(link.Number, wire.Bytes); err != nil {
				return err
			}
			if err := link.Node.Write(v, e); err != nil {
				return err
			}
		case r.typ.Kind() == reflect.Interface:
			return fmt.Errorf("%w: %s for %s", ErrUnknownSubtype, v.Type(), r.typ)
		}
	}
	if r.typ.Kind() != reflect.Struct {
		return nil
	}
	if v.Type() != r.expected {
		return fmt.Errorf("%w: %s for %s", ErrUnknownSubtype, v.Type(), r.typ)
	}
	if r.callbacks.BeforeSerialize != nil {
		r.callbacks.BeforeSerialize(v.Interface())
	}
	for _, m := range r.members {
		if err := m.Write(v, e); err != nil {
			return err
		}
	}
	if r.callbacks.AfterSerialize != nil {
		r.callbacks.AfterSerialize(v.Interface())
	}
	return nil
}

func (r *RecordNode) subtypeFor(t reflect.Type) (SubtypeLink, bool) {
	for _, l := range r.subtypes {
		if l.exact(t) {
			return l, true
		}
	}
	for _, l := range r.subtypes {
		if l.implemented(t) {
			return l, true
		}
	}
	return SubtypeLink{}, false
}

func (r *RecordNode) find(num int) int {
	i, ok := slices.BinarySearchFunc(r.fields, num, func(f recordField, n int) int { return f.number - n })
	if !ok {
		return -1
	}
	return i
}

func (r *RecordNode) Read(prev reflect.Value, d *Decoder) (reflect.Value, error) {
	inst := unwrap(prev)
	if inst.IsValid() && isNil(inst) {
		inst = reflect.Value{}
	}
	isStruct := r.typ.Kind() == reflect.Struct
	if isStruct {
		if inst.IsValid() && inst.Type() != r.expected {
			inst = reflect.Value{}
		}
		if inst.IsValid() {
			r.beforeDeserialize(inst)
		} else {
			var err error
			if inst, err = r.NewInstance(d); err != nil {
				return reflect.Value{}, err
			}
		}
	}
	var seen []int
	for {
		num, err := d.ReadFieldHeader()
		if err != nil {
			return reflect.Value{}, err
		}
		if num == 0 {
			break
		}
		i := r.find(num)
		if i < 0 {
			if err := d.SkipField(); err != nil {
				return reflect.Value{}, err
			}
			continue
		}
		f := r.fields[i]
		if f.link >= 0 {
			if err := d.Expect(wire.Bytes); err != nil {
				return reflect.Value{}, err
			}
			link := r.subtypes[f.link]
			old := inst
			if old.IsValid() && !link.exact(old.Type()) && !link.implemented(old.Type()) {
				old = reflect.Value{}
			}
			res, err := f.node.Read(old, d)
			if err != nil {
				return reflect.Value{}, err
			}
			if res.IsValid() {
				inst = res
			}
			continue
		}
		if _, err := f.node.Read(inst, d); err != nil {
			return reflect.Value{}, err
		}
		if len(r.required) > 0 {
			seen = append(seen, num)
		}
	}
	if isStruct {
		if err := r.checkRequired(seen); err != nil {
			return reflect.Value{}, err
		}
		if r.callbacks.AfterDeserialize != nil {
			r.callbacks.AfterDeserialize(inst.Interface())
		}
	}
	return inst, nil
}

func (r *RecordNode) checkRequired(seen []int) error {
	var missing []string
	for _, num := range r.required {
		if !slices.Contains(seen, num) {
			missing = append(missing, fmt.Sprint(num))
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s fields %s", ErrRequiredMissing, r.typ, strings.Join(missing, ", "))
	}
	return nil
}
