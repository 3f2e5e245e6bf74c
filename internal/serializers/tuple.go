package serializers

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/rawbytedev/refgraph/pkg/contract"
	"github.com/rawbytedev/refgraph/pkg/wire"
)

var ErrNoTupleConstructor = errors.New("refgraph: no constructor matches the readable members")

// TupleAccess is a readable member of a tuple type matched to one
// constructor parameter.
type TupleAccess struct {
	Name  string
	Type  reflect.Type
	index []int
	get   reflect.Value
}

func (a TupleAccess) read(v reflect.Value) reflect.Value {
	if a.index != nil {
		if v.Kind() == reflect.Pointer {
			v = v.Elem()
		}
		return v.FieldByIndex(a.index)
	}
	return a.get.Call([]reflect.Value{v})[0]
}

// readable lists exported fields and getter methods of t.
func readable(t reflect.Type) []TupleAccess {
	var out []TupleAccess
	st := t
	if st.Kind() == reflect.Pointer {
		st = st.Elem()
	}
	if st.Kind() == reflect.Struct {
		for _, f := range reflect.VisibleFields(st) {
			if f.IsExported() && !f.Anonymous {
				out = append(out, TupleAccess{Name: f.Name, Type: f.Type, index: f.Index})
			}
		}
	}
	for i := 0; i < t.NumMethod(); i++ {
		m := t.Method(i)
		if m.Type.NumIn() == 1 && m.Type.NumOut() == 1 {
			out = append(out, TupleAccess{Name: m.Name, Type: m.Type.Out(0), get: m.Func})
		}
	}
	return out
}

// ResolveTuple picks the single constructor whose parameters map one to one,
// by case-insensitive name and exact type, onto readable members of its
// result type. The accessors are returned in parameter order.
func ResolveTuple(t reflect.Type, ctors []contract.Constructor) (contract.Constructor, []TupleAccess, error) {
	var (
		found   contract.Constructor
		access  []TupleAccess
		matches int
	)
	for _, c := range ctors {
		acc, ok := matchConstructor(c)
		if ok {
			found, access = c, acc
			matches++
		}
	}
	switch {
	case matches == 0:
		return found, nil, fmt.Errorf("%w: %s", ErrNoTupleConstructor, t)
	case matches > 1:
		return found, nil, fmt.Errorf("%w: %s has %d candidate constructors", ErrNoTupleConstructor, t, matches)
	}
	return found, access, nil
}

func matchConstructor(c contract.Constructor) ([]TupleAccess, bool) {
	members := readable(c.Result())
	ft := c.Func.Type()
	out := make([]TupleAccess, len(c.Params))
	for i, p := range c.Params {
		hits := 0
		for _, m := range members {
			if strings.EqualFold(m.Name, p) && m.Type == ft.In(i) {
				out[i] = m
				hits++
			}
		}
		if hits != 1 {
			return nil, false
		}
	}
	return out, true
}

// TupleField pairs an accessor with the value node of its type.
type TupleField struct {
	Access TupleAccess
	Node   Node
	WT     wire.WireType
}

// TupleNode encodes an immutable type through its readable members as
// fields 1..n and rebuilds it by calling its constructor.
type TupleNode struct {
	typ    reflect.Type
	ctor   contract.Constructor
	fields []TupleField
}

func NewTuple(ctor contract.Constructor, fields []TupleField) (*TupleNode, error) {
	if len(fields) != len(ctor.Params) {
		return nil, contractErr(ctor.Result(), "tuple has %d fields for %d parameters", len(fields), len(ctor.Params))
	}
	return &TupleNode{typ: ctor.Result(), ctor: ctor, fields: fields}, nil
}

func (t *TupleNode) ExpectedType() reflect.Type { return t.typ }
func (t *TupleNode) RequiresOldValue() bool     { return false }
func (t *TupleNode) ReturnsValue() bool         { return true }

func (t *TupleNode) Write(v reflect.Value, e *Encoder) error {
	for i, f := range t.fields {
		fv := unwrap(f.Access.read(v))
		if !fv.IsValid() || isNil(fv) && fv.Kind() != reflect.Slice {
			continue
		}
		if err := e.WriteTag(i+1, f.WT); err != nil {
			return err
		}
		if err := f.Node.Write(fv, e); err != nil {
			return err
		}
	}
	return nil
}

func (t *TupleNode) Read(_ reflect.Value, d *Decoder) (reflect.Value, error) {
	ft := t.ctor.Func.Type()
	args := make([]reflect.Value, len(t.fields))
	for i := range args {
		args[i] = reflect.Zero(ft.In(i))
	}
	for {
		num, err := d.ReadFieldHeader()
		if err != nil {
			return reflect.Value{}, err
		}
		if num == 0 {
			break
		}
		if num > len(t.fields) {
			if err := d.SkipField(); err != nil {
				return reflect.Value{}, err
			}
			continue
		}
		f := t.fields[num-1]
		if err := d.Expect(f.WT); err != nil {
			return reflect.Value{}, err
		}
		res, err := f.Node.Read(reflect.Value{}, d)
		if err != nil {
			return reflect.Value{}, err
		}
		if res.IsValid() {
			if args[num-1], err = assignable(res, ft.In(num-1)); err != nil {
				return reflect.Value{}, err
			}
		}
	}
	out, err := t.ctor.Call(args)
	if err != nil {
		return reflect.Value{}, fmt.Errorf("refgraph: construct %s: %w", t.typ, err)
	}
	return out, d.Note(out)
}
