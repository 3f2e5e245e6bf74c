// Package wire is the primitive protocol-buffers wire codec used by the
// encoder tree: field headers, varints, fixed-width values, length-delimited
// payloads and nested sub-items with back-patched lengths.
package wire

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// WireType is the 3-bit wire type carried in every field header.
type WireType = protowire.Type

const (
	Varint     WireType = protowire.VarintType
	Fixed64    WireType = protowire.Fixed64Type
	Bytes      WireType = protowire.BytesType
	StartGroup WireType = protowire.StartGroupType
	EndGroup   WireType = protowire.EndGroupType
	Fixed32    WireType = protowire.Fixed32Type
)

// MaxFieldNumber is the largest field number the wire format can carry.
const MaxFieldNumber = int(protowire.MaxValidNumber)

var (
	ErrTruncated      = errors.New("wire: truncated input")
	ErrBadLength      = errors.New("wire: sub-item length does not match its content")
	ErrFieldNumber    = errors.New("wire: invalid field number")
	ErrWireType       = errors.New("wire: unexpected wire type")
	ErrUnbalanced     = errors.New("wire: unbalanced sub-item")
	ErrSeekNested     = errors.New("wire: seek inside a sub-item")
	ErrPositionBounds = errors.New("wire: position out of bounds")
)

// SubItemToken identifies an open sub-item; it must be handed back to the
// matching EndSubItem call.
type SubItemToken int

// ValidFieldNumber reports whether n can be written as a field number.
func ValidFieldNumber(n int) bool {
	return n >= int(protowire.MinValidNumber) && n <= MaxFieldNumber
}

// Packable reports whether items with this wire type may be packed into a
// single length-delimited run.
func Packable(wt WireType) bool {
	return wt == Varint || wt == Fixed32 || wt == Fixed64
}

// parseError maps a negative protowire length to the package sentinels.
func parseError(n int) error {
	return fmt.Errorf("%w: %v", ErrTruncated, protowire.ParseError(n))
}

func wireTypeName(wt WireType) string {
	switch wt {
	case Varint:
		return "varint"
	case Fixed64:
		return "fixed64"
	case Bytes:
		return "bytes"
	case StartGroup:
		return "start-group"
	case EndGroup:
		return "end-group"
	case Fixed32:
		return "fixed32"
	}
	return fmt.Sprintf("wire-type(%d)", wt)
}
