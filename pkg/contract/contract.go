// Package contract describes how Go types participate in serialization:
// which members carry which field numbers, which derived types hang off an
// interface base, surrogates, tuple constructors and enum values.
//
// Descriptors come from struct tags and hook interfaces (Discover), from
// YAML contract files (LoadFile) or from code.
package contract

import (
	"errors"
	"fmt"
	"reflect"
)

var (
	ErrInvalid     = errors.New("contract: invalid")
	ErrConstructor = errors.New("contract: invalid constructor")
)

// DataFormat selects the wire encoding of numeric members.
type DataFormat uint8

const (
	FormatDefault DataFormat = iota
	FormatZigZag
	FormatFixed
)

func (f DataFormat) String() string {
	switch f {
	case FormatZigZag:
		return "zigzag"
	case FormatFixed:
		return "fixed"
	}
	return "default"
}

// RefMode overrides whether a member's value is identity tracked.
type RefMode uint8

const (
	RefDefault RefMode = iota
	AsReference
	NotAsReference
)

// Member is a serializable member of a struct type.
type Member struct {
	Tag  int
	Name string

	// Field is the struct field index path; empty for accessor members.
	Field []int
	// Getter and Setter name methods on the pointer receiver. Setter may be
	// empty for read-only members.
	Getter string
	Setter string

	// ItemType overrides the element type of collection members; it also
	// marks interface-declared members as collections.
	ItemType reflect.Type
	// KeyType is set for map-shaped members declared as interfaces.
	KeyType reflect.Type
	// DefaultType is the concrete type created for interface-declared
	// members when decoding.
	DefaultType reflect.Type

	Format      DataFormat
	Required    bool
	Packed      bool
	Append      bool
	DynamicType bool
	Ref         RefMode
}

// IsAccessor reports whether the member is read and written through methods.
func (m Member) IsAccessor() bool { return len(m.Field) == 0 }

// Subtype links a derived type to its base under a field number.
type Subtype struct {
	Tag    int
	Type   reflect.Type
	Format DataFormat
}

// Callbacks run around serialization of an instance. Each receives the
// instance as stored (usually a pointer).
type Callbacks struct {
	BeforeSerialize   func(any)
	AfterSerialize    func(any)
	BeforeDeserialize func(any)
	AfterDeserialize  func(any)
}

// Empty reports whether no callback is set.
func (c Callbacks) Empty() bool {
	return c.BeforeSerialize == nil && c.AfterSerialize == nil &&
		c.BeforeDeserialize == nil && c.AfterDeserialize == nil
}

// EnumValue maps a Go constant to its wire number.
type EnumValue struct {
	Name  string
	Value int64
	Wire  int32
}

// Type is the normalized description of one type.
type Type struct {
	Name     string
	Members  []Member
	Subtypes []Subtype

	// Base, when set, registers this type as a subtype of Base under
	// BaseTag. Base must be an interface the type implements.
	Base    reflect.Type
	BaseTag int

	Surrogate    *Surrogate
	AutoTuple    bool
	Constructors []Constructor

	Enum            []EnumValue
	EnumPassthrough bool

	Factory            func() any
	Callbacks          Callbacks
	AsReferenceDefault bool
	IgnoreListHandling bool
}

// Member returns the member with the given tag.
func (t *Type) Member(tag int) (Member, bool) {
	for _, m := range t.Members {
		if m.Tag == tag {
			return m, true
		}
	}
	return Member{}, false
}

// Surrogate converts values of a type to and from a stand-in type that is
// serialized in its place.
type Surrogate struct {
	Type reflect.Type
	To   reflect.Value
	From reflect.Value
}

// NewSurrogate builds a surrogate converting T to S and back.
func NewSurrogate[T, S any](to func(T) S, from func(S) T) *Surrogate {
	return &Surrogate{
		Type: reflect.TypeFor[S](),
		To:   reflect.ValueOf(to),
		From: reflect.ValueOf(from),
	}
}

// Constructor creates a tuple-like type from its members. Params name the
// members in parameter order.
type Constructor struct {
	Func   reflect.Value
	Params []string
}

var errorType = reflect.TypeFor[error]()

// NewConstructor validates fn as func(p1, ..., pn) T or func(...) (T, error).
func NewConstructor(fn any, params ...string) (Constructor, error) {
	v := reflect.ValueOf(fn)
	if v.Kind() != reflect.Func {
		return Constructor{}, fmt.Errorf("%w: %T is not a function", ErrConstructor, fn)
	}
	ft := v.Type()
	if ft.IsVariadic() || ft.NumIn() != len(params) {
		return Constructor{}, fmt.Errorf("%w: %s takes %d parameters, %d names given", ErrConstructor, ft, ft.NumIn(), len(params))
	}
	switch {
	case ft.NumOut() == 1:
	case ft.NumOut() == 2 && ft.Out(1) == errorType:
	default:
		return Constructor{}, fmt.Errorf("%w: %s must return the value and an optional error", ErrConstructor, ft)
	}
	return Constructor{Func: v, Params: params}, nil
}

// Result is the type the constructor returns.
func (c Constructor) Result() reflect.Type { return c.Func.Type().Out(0) }

// Call invokes the constructor.
func (c Constructor) Call(args []reflect.Value) (reflect.Value, error) {
	out := c.Func.Call(args)
	if len(out) == 2 && !out[1].IsNil() {
		return reflect.Value{}, out[1].Interface().(error)
	}
	return out[0], nil
}
