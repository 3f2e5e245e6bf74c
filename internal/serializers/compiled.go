package serializers

import (
	"reflect"
	"slices"
	"unsafe"

	"github.com/rawbytedev/refgraph/internal/common"
	"github.com/rawbytedev/refgraph/pkg/contract"
	"github.com/rawbytedev/refgraph/pkg/wire"
	"google.golang.org/protobuf/encoding/protowire"
)

// compiledField reads and writes a scalar struct field through its
// precomputed offset, replacing the member, tag and scalar nodes of the
// data-driven tree. The encoded bytes are identical.
type compiledField struct {
	name     string
	number   int
	required bool
	owner    reflect.Type
	off      uintptr
	kind     reflect.Kind
	format   contract.DataFormat
	wt       wire.WireType
	tag      []byte
}

func (c *compiledField) ExpectedType() reflect.Type { return c.owner }
func (c *compiledField) RequiresOldValue() bool     { return true }
func (c *compiledField) ReturnsValue() bool         { return false }
func (c *compiledField) Name() string               { return c.name }
func (c *compiledField) Number() int                { return c.number }
func (c *compiledField) Required() bool             { return c.required }

func (c *compiledField) Write(owner reflect.Value, e *Encoder) error {
	p := common.FieldAt(owner.UnsafePointer(), c.off)
	e.WriteRaw(c.tag)
	switch c.kind {
	case reflect.Bool:
		e.WriteBool(*(*bool)(p))
	case reflect.Int:
		putInt(e, c.format, c.kind, int64(*(*int)(p)))
	case reflect.Int8:
		putInt(e, c.format, c.kind, int64(*(*int8)(p)))
	case reflect.Int16:
		putInt(e, c.format, c.kind, int64(*(*int16)(p)))
	case reflect.Int32:
		putInt(e, c.format, c.kind, int64(*(*int32)(p)))
	case reflect.Int64:
		putInt(e, c.format, c.kind, *(*int64)(p))
	case reflect.Uint:
		putUint(e, c.format, c.kind, uint64(*(*uint)(p)))
	case reflect.Uint8:
		putUint(e, c.format, c.kind, uint64(*(*uint8)(p)))
	case reflect.Uint16:
		putUint(e, c.format, c.kind, uint64(*(*uint16)(p)))
	case reflect.Uint32:
		putUint(e, c.format, c.kind, uint64(*(*uint32)(p)))
	case reflect.Uint64:
		putUint(e, c.format, c.kind, *(*uint64)(p))
	case reflect.Float32:
		e.WriteFloat32(*(*float32)(p))
	case reflect.Float64:
		e.WriteFloat64(*(*float64)(p))
	case reflect.String:
		e.WriteString(*(*string)(p))
	}
	return nil
}

func (c *compiledField) Read(owner reflect.Value, d *Decoder) (reflect.Value, error) {
	if err := d.Expect(c.wt); err != nil {
		return reflect.Value{}, err
	}
	p := common.FieldAt(owner.UnsafePointer(), c.off)
	switch {
	case common.IsIntKind(c.kind):
		x, err := getInt(d, c.format, c.kind)
		if err != nil {
			return reflect.Value{}, err
		}
		storeInt(p, c.kind, x)
	case common.IsUintKind(c.kind):
		x, err := getUint(d, c.format, c.kind)
		if err != nil {
			return reflect.Value{}, err
		}
		storeUint(p, c.kind, x)
	case c.kind == reflect.Bool:
		x, err := d.ReadBool()
		if err != nil {
			return reflect.Value{}, err
		}
		*(*bool)(p) = x
	case c.kind == reflect.Float32:
		x, err := d.ReadFloat32()
		if err != nil {
			return reflect.Value{}, err
		}
		*(*float32)(p) = x
	case c.kind == reflect.Float64:
		x, err := d.ReadFloat64()
		if err != nil {
			return reflect.Value{}, err
		}
		*(*float64)(p) = x
	case c.kind == reflect.String:
		x, err := d.ReadString()
		if err != nil {
			return reflect.Value{}, err
		}
		*(*string)(p) = x
	}
	return reflect.Value{}, nil
}

func storeInt(p unsafe.Pointer, k reflect.Kind, x int64) {
	switch k {
	case reflect.Int:
		*(*int)(p) = int(x)
	case reflect.Int8:
		*(*int8)(p) = int8(x)
	case reflect.Int16:
		*(*int16)(p) = int16(x)
	case reflect.Int32:
		*(*int32)(p) = int32(x)
	case reflect.Int64:
		*(*int64)(p) = x
	}
}

func storeUint(p unsafe.Pointer, k reflect.Kind, x uint64) {
	switch k {
	case reflect.Uint:
		*(*uint)(p) = uint(x)
	case reflect.Uint8:
		*(*uint8)(p) = uint8(x)
	case reflect.Uint16:
		*(*uint16)(p) = uint16(x)
	case reflect.Uint32:
		*(*uint32)(p) = uint32(x)
	case reflect.Uint64:
		*(*uint64)(p) = x
	}
}

// compileMember returns the offset-based replacement for m, or nil when m
// is not a plain scalar struct field.
func compileMember(owner reflect.Type, m Node) *compiledField {
	mn, ok := m.(*MemberNode)
	if !ok || mn.FieldIndex() == nil {
		return nil
	}
	tag, ok := mn.Tail().(*TagNode)
	if !ok {
		return nil
	}
	sc, ok := tag.Tail().(*ScalarNode)
	if !ok || sc.ExpectedType() != mn.declared {
		return nil
	}
	off, ok := common.FieldOffset(owner, mn.FieldIndex())
	if !ok {
		return nil
	}
	return &compiledField{
		name:     mn.Name(),
		number:   mn.Number(),
		required: mn.Required(),
		owner:    mn.ExpectedType(),
		off:      off,
		kind:     sc.Kind(),
		format:   sc.Format(),
		wt:       tag.WireType(),
		tag:      protowire.AppendTag(nil, protowire.Number(tag.Number()), tag.WireType()),
	}
}

// Compile returns a copy of r whose scalar field members use offset-based
// access. Other members and subtype links are shared with r.
func Compile(r *RecordNode) (*RecordNode, error) {
	if r.typ.Kind() != reflect.Struct {
		return r, nil
	}
	members := make([]Node, len(r.members))
	changed := false
	for i, m := range r.members {
		if c := compileMember(r.typ, m); c != nil {
			members[i] = c
			changed = true
		} else {
			members[i] = m
		}
	}
	if !changed {
		return r, nil
	}
	c := *r
	c.fields = slices.Clone(r.fields)
	if err := c.setMembers(members); err != nil {
		return nil, err
	}
	return &c, nil
}

// Compiled reports how many members of r use offset-based access.
func Compiled(r *RecordNode) int {
	n := 0
	for _, m := range r.members {
		if _, ok := m.(*compiledField); ok {
			n++
		}
	}
	return n
}
