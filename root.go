package refgraph

import (
	"fmt"
	"io"
	"reflect"
	"slices"

	"github.com/rawbytedev/refgraph/internal/serializers"
	"github.com/rawbytedev/refgraph/pkg/wire"
)

// rootValue checks v can start a graph and returns it with its root type.
// Struct values are copied behind a pointer so members can be addressed.
func rootValue(v any) (reflect.Value, error) {
	rv := reflect.ValueOf(v)
	if !rv.IsValid() {
		return reflect.Value{}, ErrNilRoot
	}
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Func:
		if rv.IsNil() {
			return reflect.Value{}, fmt.Errorf("%w: nil %s", ErrNilRoot, rv.Type())
		}
	case reflect.Struct:
		p := reflect.New(rv.Type())
		p.Elem().Set(rv)
		rv = p
	}
	return rv, nil
}

func (m *Model) encodeRoot(e *serializers.Encoder, v any) error {
	rv, err := rootValue(v)
	if err != nil {
		return err
	}
	n, err := m.root(rv.Type())
	if err != nil {
		return err
	}
	return n.Write(rv, e)
}

// decodeRoot reads one root into out, a non-nil pointer. Struct targets
// are filled in place so that references back to the root resolve to out.
func (m *Model) decodeRoot(d *serializers.Decoder, out any) error {
	ov := reflect.ValueOf(out)
	if ov.Kind() != reflect.Pointer || ov.IsNil() {
		return fmt.Errorf("%w: got %T", ErrNotPointer, out)
	}
	target := ov.Elem()
	tt := target.Type()
	if tt.Kind() == reflect.Struct {
		n, err := m.root(ov.Type())
		if err != nil {
			return err
		}
		res, err := n.Read(ov, d)
		if err != nil {
			return err
		}
		for res.IsValid() && res.Kind() == reflect.Interface {
			res = res.Elem()
		}
		switch {
		case !res.IsValid():
		case res.Type() != ov.Type():
			return fmt.Errorf("%w: decoded %s into %s", ErrUnknownSubtype, res.Type(), ov.Type())
		case res.Pointer() != ov.Pointer():
			target.Set(res.Elem())
		}
		return nil
	}
	n, err := m.root(tt)
	if err != nil {
		return err
	}
	res, err := n.Read(target, d)
	if err != nil || !res.IsValid() {
		return err
	}
	for res.Kind() == reflect.Interface && tt.Kind() != reflect.Interface {
		res = res.Elem()
	}
	if !res.Type().AssignableTo(tt) {
		if !res.Type().ConvertibleTo(tt) || res.Kind() != tt.Kind() {
			return fmt.Errorf("%w: decoded %s into %s", ErrUnknownSubtype, res.Type(), tt)
		}
		res = res.Convert(tt)
	}
	target.Set(res)
	return nil
}

// Serialize encodes the graph rooted at v.
func (m *Model) Serialize(v any) ([]byte, error) {
	e := serializers.NewEncoder(m.session())
	e.Begin(0)
	if err := m.encodeRoot(e, v); err != nil {
		return nil, err
	}
	return slices.Clone(e.Bytes()), nil
}

// SerializeTo encodes v and writes the result to w.
func (m *Model) SerializeTo(w io.Writer, v any) error {
	data, err := m.Serialize(v)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// Deserialize decodes data into out, which must be a non-nil pointer.
// Existing struct contents are kept for fields the data does not carry.
func (m *Model) Deserialize(data []byte, out any) error {
	d := serializers.NewDecoder(m.session())
	d.Begin(data, 0)
	return m.decodeRoot(d, out)
}

// DeserializeType decodes data as a new value of t.
func (m *Model) DeserializeType(data []byte, t reflect.Type) (any, error) {
	if t == nil {
		return nil, fmt.Errorf("%w: nil type", ErrUnsupported)
	}
	p := reflect.New(t)
	if err := m.Deserialize(data, p.Interface()); err != nil {
		return nil, err
	}
	return p.Elem().Interface(), nil
}

// Unmarshal decodes data as a T using m, or the default model when m is
// nil.
func Unmarshal[T any](m *Model, data []byte) (T, error) {
	if m == nil {
		m = defaultModel
	}
	var out T
	err := m.Deserialize(data, &out)
	return out, err
}

// Serialize encodes v with the default model.
func Serialize(v any) ([]byte, error) { return defaultModel.Serialize(v) }

// Deserialize decodes data into out with the default model.
func Deserialize(data []byte, out any) error { return defaultModel.Deserialize(data, out) }

// DecodeKey decodes the late-reference record stored under key into out, a
// pointer to a struct, by jumping through the position table carried in
// data. The model must write seekable late references.
func (m *Model) DecodeKey(data []byte, key int, out any) error {
	if m.opts.References != LateReferences {
		return fmt.Errorf("%w: DecodeKey needs late references", ErrUnsupported)
	}
	ov := reflect.ValueOf(out)
	if ov.Kind() != reflect.Pointer || ov.IsNil() {
		return fmt.Errorf("%w: got %T", ErrNotPointer, out)
	}
	body, err := m.BodyNode(ov.Type())
	if err != nil {
		return err
	}
	s := m.session()
	s.Seekable = true
	d := serializers.NewDecoder(s)
	d.Begin(data, 0)
	return d.SeekKey(key, ov, body)
}

// ReadPositions imports the position trailer of a late-reference root and
// returns the offset of every key.
func ReadPositions(data []byte) ([]int, error) {
	d := serializers.NewDecoder(serializers.Session{Late: true})
	d.Begin(data, 0)
	for {
		num, err := d.ReadFieldHeader()
		if err != nil {
			return nil, err
		}
		if num == 0 {
			break
		}
		if num != 3 {
			if err := d.SkipField(); err != nil {
				return nil, err
			}
			continue
		}
		if err := d.Expect(wire.Bytes); err != nil {
			return nil, err
		}
		if err := d.ImportPositions(); err != nil {
			return nil, err
		}
	}
	p := d.Positions()
	out := make([]int, p.Len())
	for k := range out {
		pos, err := p.GetPosition(k)
		if err != nil {
			return nil, err
		}
		out[k] = pos
	}
	return out, nil
}
