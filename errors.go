package refgraph

import (
	"errors"

	"github.com/rawbytedev/refgraph/internal/serializers"
)

var (
	ErrFrozen         = errors.New("refgraph: type metadata is frozen")
	ErrPoisoned       = errors.New("refgraph: type failed to build")
	ErrFieldCollision = errors.New("refgraph: field number collision")
	ErrNotPointer     = errors.New("refgraph: expected a non-nil pointer")
	ErrNilRoot        = errors.New("refgraph: cannot serialize a nil root")
	ErrUnsupported    = errors.New("refgraph: unsupported type")
)

// Errors raised while encoding and decoding.
var (
	ErrContract           = serializers.ErrContract
	ErrUnknownReference   = serializers.ErrUnknownReference
	ErrUnknownEnumValue   = serializers.ErrUnknownEnumValue
	ErrUnknownTypeName    = serializers.ErrUnknownTypeName
	ErrUnknownSubtype     = serializers.ErrUnknownSubtype
	ErrRequiredMissing    = serializers.ErrRequiredMissing
	ErrRecursionDepth     = serializers.ErrRecursionDepth
	ErrOverflow           = serializers.ErrOverflow
	ErrNilItem            = serializers.ErrNilItem
	ErrArrayBounds        = serializers.ErrArrayBounds
	ErrLateValue          = serializers.ErrLateValue
	ErrNoTupleConstructor = serializers.ErrNoTupleConstructor
)
