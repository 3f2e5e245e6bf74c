// Package serializers holds the composable encoder/decoder nodes the type
// model assembles into per-type trees: leaves for primitive values and
// decorators that add framing, member access, collections, identity
// tracking and type dispatch around a single tail node.
package serializers

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/rawbytedev/refgraph/pkg/wire"
)

// Node is one element of an encoder tree.
//
// Read receives the current value when RequiresOldValue is true. An invalid
// result means the node mutated prev in place or decoded nothing, and the
// caller must not assign.
type Node interface {
	ExpectedType() reflect.Type
	RequiresOldValue() bool
	ReturnsValue() bool
	Write(v reflect.Value, e *Encoder) error
	Read(prev reflect.Value, d *Decoder) (reflect.Value, error)
}

// Creator is implemented by nodes that can allocate the instance they
// decode before reading its contents.
type Creator interface {
	NewInstance(d *Decoder) (reflect.Value, error)
	// Allocate returns an empty instance without running hooks, used for
	// late-reference placeholders filled in later.
	Allocate() (reflect.Value, error)
}

// Resolver gives nodes access to the type model while encoding, for the
// cases that are only known from runtime values: dynamic types and late
// references.
type Resolver interface {
	// ValueNode returns the node encoding a value of t as a member or item.
	ValueNode(t reflect.Type) (Node, wire.WireType, error)
	// BodyNode returns the node encoding t as a top-level message body.
	BodyNode(t reflect.Type) (Node, error)
	NameOf(t reflect.Type) (string, error)
	TypeOf(name string) (reflect.Type, error)
}

var (
	ErrContract         = errors.New("refgraph: invalid contract")
	ErrUnknownReference = errors.New("refgraph: unknown reference key")
	ErrUnknownEnumValue = errors.New("refgraph: unknown enum value")
	ErrUnknownTypeName  = errors.New("refgraph: unknown type name")
	ErrUnknownSubtype   = errors.New("refgraph: value is not a registered subtype")
	ErrRequiredMissing  = errors.New("refgraph: required member missing")
	ErrRecursionDepth   = errors.New("refgraph: maximum recursion depth exceeded")
	ErrOverflow         = errors.New("refgraph: value overflows its type")
	ErrNilItem          = errors.New("refgraph: nil item in an untracked collection")
	ErrArrayBounds      = errors.New("refgraph: too many items for array")
	ErrLateValue        = errors.New("refgraph: late references need pointer values")
)

func contractErr(t reflect.Type, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", ErrContract, t, fmt.Sprintf(format, args...))
}

// unwrap strips interface boxing so nodes always see the dynamic value.
func unwrap(v reflect.Value) reflect.Value {
	for v.IsValid() && v.Kind() == reflect.Interface {
		v = v.Elem()
	}
	return v
}

func isNil(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		return v.IsNil()
	}
	return !v.IsValid()
}

// assignable converts v so it can be stored in a location of type t.
func assignable(v reflect.Value, t reflect.Type) (reflect.Value, error) {
	if v.Type().AssignableTo(t) {
		return v, nil
	}
	if v.Type().ConvertibleTo(t) && v.Kind() == t.Kind() {
		return v.Convert(t), nil
	}
	return reflect.Value{}, fmt.Errorf("%w: cannot assign %s to %s", ErrContract, v.Type(), t)
}
