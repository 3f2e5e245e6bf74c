package wire

import (
	"unicode/utf8"
)

const inspectDepth = 64

// Field is one decoded field of a payload read without a schema. Bytes
// payloads that parse completely as a message are expanded into Fields.
type Field struct {
	Number   int     `yaml:"field" cbor:"1,keyasint"`
	WireType string  `yaml:"type" cbor:"2,keyasint"`
	Offset   int     `yaml:"offset" cbor:"3,keyasint"`
	Value    any     `yaml:"value,omitempty" cbor:"4,keyasint,omitempty"`
	Fields   []Field `yaml:"fields,omitempty" cbor:"5,keyasint,omitempty"`
}

// Inspect walks data as a sequence of fields, skipping nothing.
func Inspect(data []byte) ([]Field, error) {
	return inspect(data, 0, 0)
}

func inspect(data []byte, base, depth int) ([]Field, error) {
	r := NewReader(data)
	var out []Field
	for {
		start := r.Position()
		num, err := r.ReadFieldHeader()
		if err != nil {
			return out, err
		}
		if num == 0 {
			return out, nil
		}
		f := Field{Number: num, WireType: wireTypeName(r.WireType()), Offset: base + start}
		switch r.WireType() {
		case Varint:
			f.Value, err = r.ReadVarint()
		case Fixed32:
			f.Value, err = r.ReadFixed32()
		case Fixed64:
			f.Value, err = r.ReadFixed64()
		case Bytes:
			var b []byte
			b, err = r.ReadBytes()
			if err != nil {
				break
			}
			payloadStart := r.Position() - len(b)
			if depth < inspectDepth && len(b) > 0 {
				if nested, nerr := inspect(b, base+payloadStart, depth+1); nerr == nil {
					f.Fields = nested
					break
				}
			}
			if utf8.Valid(b) {
				f.Value = string(b)
			} else {
				f.Value = append([]byte(nil), b...)
			}
		default:
			err = r.SkipField()
		}
		if err != nil {
			return out, err
		}
		out = append(out, f)
	}
}
