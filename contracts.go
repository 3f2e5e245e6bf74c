package refgraph

import (
	"fmt"
	"reflect"
	"slices"
	"strconv"
	"strings"

	"github.com/rawbytedev/refgraph/pkg/contract"
)

// TypeOption edits the description of a type before it is built.
type TypeOption func(t reflect.Type, c *contract.Type) error

// RegisterType configures t. It fails with ErrFrozen once t has been used.
func (m *Model) RegisterType(t reflect.Type, opts ...TypeOption) (*TypeMetadata, error) {
	md, err := m.Metadata(t)
	if err != nil {
		return nil, err
	}
	if err := md.Apply(opts...); err != nil {
		return nil, err
	}
	return md, nil
}

// Register configures T on the default model.
func Register[T any](opts ...TypeOption) (*TypeMetadata, error) {
	return defaultModel.RegisterType(reflect.TypeFor[T](), opts...)
}

// ApplyContractFile overlays a parsed contract file. Every type it names,
// including member hints and subtypes, must already be known to the model.
func (m *Model) ApplyContractFile(f *contract.File) error {
	resolve := func(name string) (reflect.Type, bool) {
		t, err := m.TypeOf(name)
		return t, err == nil
	}
	for _, spec := range f.Types {
		t, ok := resolve(spec.Type)
		if !ok {
			return fmt.Errorf("%w: %q", ErrUnknownTypeName, spec.Type)
		}
		_, err := m.RegisterType(t, func(t reflect.Type, c *contract.Type) error {
			nc, err := spec.Apply(*c, t, resolve)
			if err != nil {
				return fmt.Errorf("%w: %w", ErrContract, err)
			}
			*c = nc
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func memberSpec(tag int, flags []string) (contract.Member, error) {
	spec := strconv.Itoa(tag)
	if len(flags) > 0 {
		spec += "," + strings.Join(flags, ",")
	}
	m, err := contract.ParseTag(spec)
	if err != nil {
		return m, fmt.Errorf("%w: %w", ErrContract, err)
	}
	return m, nil
}

func WithName(name string) TypeOption {
	return func(_ reflect.Type, c *contract.Type) error {
		if name == "" {
			return fmt.Errorf("%w: empty name", ErrContract)
		}
		c.Name = name
		return nil
	}
}

// WithField numbers a struct field. Flags use the struct tag syntax
// ("packed", "zigzag", "ref", ...). A member already mapped to the field is
// replaced.
func WithField(tag int, field string, flags ...string) TypeOption {
	return func(t reflect.Type, c *contract.Type) error {
		if t.Kind() != reflect.Struct {
			return contractErr(t, "has no fields")
		}
		sf, ok := t.FieldByName(field)
		if !ok {
			return contractErr(t, "no field %s", field)
		}
		m, err := memberSpec(tag, flags)
		if err != nil {
			return err
		}
		if m.Name == "" {
			m.Name = sf.Name
		}
		m.Field = sf.Index
		c.Members = slices.DeleteFunc(c.Members, func(have contract.Member) bool {
			return slices.Equal(have.Field, sf.Index)
		})
		c.Members = append(c.Members, m)
		return nil
	}
}

// WithAccessor numbers a member read through getter and, unless setter is
// empty, written through setter. Both are methods of *T.
func WithAccessor(tag int, getter, setter string, flags ...string) TypeOption {
	return func(t reflect.Type, c *contract.Type) error {
		m, err := memberSpec(tag, flags)
		if err != nil {
			return err
		}
		if m.Name == "" {
			m.Name = getter
		}
		m.Getter, m.Setter = getter, setter
		c.Members = append(c.Members, m)
		return nil
	}
}

// WithMember adds a fully described member.
func WithMember(m contract.Member) TypeOption {
	return func(_ reflect.Type, c *contract.Type) error {
		c.Members = append(c.Members, m)
		return nil
	}
}

// ClearMembers drops every discovered member.
func ClearMembers() TypeOption {
	return func(_ reflect.Type, c *contract.Type) error {
		c.Members = nil
		return nil
	}
}

// WithSubtype registers sub as a derived type of the interface t.
func WithSubtype(tag int, sub reflect.Type) TypeOption {
	return func(t reflect.Type, c *contract.Type) error {
		if t.Kind() != reflect.Interface {
			return contractErr(t, "only interfaces can have subtypes")
		}
		c.Subtypes = append(c.Subtypes, contract.Subtype{Tag: tag, Type: normalize(sub)})
		return nil
	}
}

// WithBase makes t a subtype of the interface base under tag.
func WithBase(base reflect.Type, tag int) TypeOption {
	return func(t reflect.Type, c *contract.Type) error {
		if c.Base != nil && c.Base != base {
			return contractErr(t, "already derives from %s", c.Base)
		}
		c.Base, c.BaseTag = base, tag
		return nil
	}
}

func WithSurrogate(s *contract.Surrogate) TypeOption {
	return func(_ reflect.Type, c *contract.Type) error {
		c.Surrogate = s
		return nil
	}
}

// WithFactory creates instances with fn instead of the zero value. fn
// returns T or *T.
func WithFactory(fn func() any) TypeOption {
	return func(_ reflect.Type, c *contract.Type) error {
		c.Factory = fn
		return nil
	}
}

func WithCallbacks(cb contract.Callbacks) TypeOption {
	return func(_ reflect.Type, c *contract.Type) error {
		c.Callbacks = cb
		return nil
	}
}

func WithEnum(values ...contract.EnumValue) TypeOption {
	return func(_ reflect.Type, c *contract.Type) error {
		c.Enum = append(c.Enum, values...)
		return nil
	}
}

// WithEnumPassthrough writes enum values as their underlying integer.
func WithEnumPassthrough() TypeOption {
	return func(_ reflect.Type, c *contract.Type) error {
		c.EnumPassthrough = true
		return nil
	}
}

// WithTuple encodes t through its readable members and rebuilds it with
// one of ctors.
func WithTuple(ctors ...contract.Constructor) TypeOption {
	return func(_ reflect.Type, c *contract.Type) error {
		c.AutoTuple = true
		c.Constructors = append(c.Constructors, ctors...)
		return nil
	}
}

// AsReference tracks the identity of every value of the type unless a
// member opts out. An inline root is tracked only when its type is marked
// this way: a ref member pointing back at an unmarked root decodes to a
// separate copy of it. Late-reference roots are always tracked.
func AsReference() TypeOption {
	return func(_ reflect.Type, c *contract.Type) error {
		c.AsReferenceDefault = true
		return nil
	}
}

// IgnoreListHandling encodes a builder collection as an ordinary type.
func IgnoreListHandling() TypeOption {
	return func(_ reflect.Type, c *contract.Type) error {
		c.IgnoreListHandling = true
		return nil
	}
}
