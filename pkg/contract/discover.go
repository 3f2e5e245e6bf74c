package contract

import (
	"fmt"
	"reflect"
	"slices"
	"strings"
)

// Hook interfaces. They are looked up on the pointer type, so both value
// and pointer receivers work.
type (
	BeforeSerializer   interface{ BeforeSerialize() }
	AfterSerializer    interface{ AfterSerialize() }
	BeforeDeserializer interface{ BeforeDeserialize() }
	AfterDeserializer  interface{ AfterDeserialize() }
)

// Describer lets a type adjust its own discovered contract: register enum
// values, constructors, a surrogate, a base type and so on.
type Describer interface {
	DescribeContract(c *Type) error
}

var (
	beforeSerializerType   = reflect.TypeFor[BeforeSerializer]()
	afterSerializerType    = reflect.TypeFor[AfterSerializer]()
	beforeDeserializerType = reflect.TypeFor[BeforeDeserializer]()
	afterDeserializerType  = reflect.TypeFor[AfterDeserializer]()
	describerType          = reflect.TypeFor[Describer]()
)

// DefaultName is the display name of t: import path qualified for named
// types, the type literal otherwise.
func DefaultName(t reflect.Type) string {
	if t.Name() != "" && t.PkgPath() != "" {
		return t.PkgPath() + "." + t.Name()
	}
	return t.String()
}

// Discover builds the contract of t from struct tags and hook interfaces.
// Structs with no refgraph tags get every exported field numbered from 1 in
// declaration order.
func Discover(t reflect.Type) (Type, error) {
	c := Type{Name: DefaultName(t)}
	if t.Kind() == reflect.Struct {
		tagged := false
		if err := collectFields(t, nil, &c, &tagged); err != nil {
			return c, err
		}
		if !tagged {
			c.Members = c.Members[:0]
			implicitFields(t, &c)
		}
	}
	if t.Kind() != reflect.Interface {
		discoverHooks(t, &c)
		if err := describe(t, &c); err != nil {
			return c, err
		}
	}
	if err := c.Validate(); err != nil {
		return c, err
	}
	return c, nil
}

func collectFields(t reflect.Type, prefix []int, c *Type, tagged *bool) error {
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		tag, has := sf.Tag.Lookup(TagKey)
		if tag == "-" {
			continue
		}
		index := append(slices.Clone(prefix), i)
		if sf.Anonymous && !has && sf.Type.Kind() == reflect.Struct {
			if err := collectFields(sf.Type, index, c, tagged); err != nil {
				return err
			}
			continue
		}
		if !has {
			continue
		}
		*tagged = true
		m, err := ParseTag(tag)
		if err != nil {
			return fmt.Errorf("%s.%s: %w", t, sf.Name, err)
		}
		if m.Name == "" {
			m.Name = sf.Name
		}
		m.Field = index
		c.Members = append(c.Members, m)
	}
	return nil
}

func implicitFields(t reflect.Type, c *Type) {
	tag := 0
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if !sf.IsExported() || sf.Tag.Get(TagKey) == "-" {
			continue
		}
		tag++
		c.Members = append(c.Members, Member{Tag: tag, Name: sf.Name, Field: []int{i}})
	}
}

func discoverHooks(t reflect.Type, c *Type) {
	pt := reflect.PointerTo(t)
	if pt.Implements(beforeSerializerType) {
		c.Callbacks.BeforeSerialize = func(v any) { v.(BeforeSerializer).BeforeSerialize() }
	}
	if pt.Implements(afterSerializerType) {
		c.Callbacks.AfterSerialize = func(v any) { v.(AfterSerializer).AfterSerialize() }
	}
	if pt.Implements(beforeDeserializerType) {
		c.Callbacks.BeforeDeserialize = func(v any) { v.(BeforeDeserializer).BeforeDeserialize() }
	}
	if pt.Implements(afterDeserializerType) {
		c.Callbacks.AfterDeserialize = func(v any) { v.(AfterDeserializer).AfterDeserialize() }
	}
}

func describe(t reflect.Type, c *Type) error {
	var d Describer
	switch {
	case t.Implements(describerType):
		d = reflect.Zero(t).Interface().(Describer)
	case reflect.PointerTo(t).Implements(describerType):
		d = reflect.New(t).Interface().(Describer)
	default:
		return nil
	}
	if err := d.DescribeContract(c); err != nil {
		return fmt.Errorf("%s: %w", t, err)
	}
	return nil
}

// Validate checks field numbers are positive and unique across members and
// subtypes.
func (t *Type) Validate() error {
	seen := make(map[int]string, len(t.Members)+len(t.Subtypes))
	for _, m := range t.Members {
		if m.Tag <= 0 {
			return fmt.Errorf("%w: %s member %s has field number %d", ErrInvalid, t.Name, m.Name, m.Tag)
		}
		if prev, ok := seen[m.Tag]; ok {
			return fmt.Errorf("%w: %s field %d used by %s and %s", ErrInvalid, t.Name, m.Tag, prev, m.Name)
		}
		seen[m.Tag] = m.Name
	}
	for _, s := range t.Subtypes {
		if s.Tag <= 0 {
			return fmt.Errorf("%w: %s subtype %s has field number %d", ErrInvalid, t.Name, s.Type, s.Tag)
		}
		if prev, ok := seen[s.Tag]; ok {
			return fmt.Errorf("%w: %s field %d used by %s and subtype %s", ErrInvalid, t.Name, s.Tag, prev, s.Type)
		}
		seen[s.Tag] = s.Type.String()
	}
	slices.SortFunc(t.Members, func(a, b Member) int { return a.Tag - b.Tag })
	return nil
}

// EnumValues builds enum entries from Go constants and their wire numbers.
// Names come from fmt formatting, so Stringer types get readable names.
func EnumValues[T ~int | ~int8 | ~int16 | ~int32 | ~int64](wire map[T]int32) []EnumValue {
	out := make([]EnumValue, 0, len(wire))
	for v, w := range wire {
		out = append(out, EnumValue{Name: strings.TrimSpace(fmt.Sprint(v)), Value: int64(v), Wire: w})
	}
	slices.SortFunc(out, func(a, b EnumValue) int { return int(a.Wire) - int(b.Wire) })
	return out
}
