package refgraph

import (
	"encoding/binary"
	"reflect"
	"slices"
	"strings"

	"github.com/rawbytedev/refgraph/pkg/frame"
	"github.com/zeebo/blake3"
	"go.uber.org/zap"
)

// Fingerprint hashes the built layout of the given types, or of every
// built type when none are given. Building the named types first makes the
// result independent of what else the model has seen.
func (m *Model) Fingerprint(types ...reflect.Type) ([32]byte, error) {
	var layouts []string
	if len(types) == 0 {
		m.mu.RLock()
		all := make([]*TypeMetadata, 0, len(m.types))
		for _, md := range m.types {
			all = append(all, md)
		}
		m.mu.RUnlock()
		for _, md := range all {
			if md.State() != Built {
				continue
			}
			b, err := md.trees()
			if err != nil {
				continue
			}
			layouts = append(layouts, b.layout)
		}
	} else {
		for _, t := range types {
			md, err := m.Metadata(t)
			if err != nil {
				return [32]byte{}, err
			}
			b, err := md.trees()
			if err != nil {
				return [32]byte{}, err
			}
			layouts = append(layouts, b.layout)
		}
	}
	slices.Sort(layouts)
	return blake3.Sum256([]byte(strings.Join(layouts, "\n"))), nil
}

// SchemaID is the frame schema id of t: the leading bytes of its
// fingerprint, never zero.
func (m *Model) SchemaID(t reflect.Type) (uint64, error) {
	sum, err := m.Fingerprint(t)
	if err != nil {
		return 0, err
	}
	id := binary.LittleEndian.Uint64(sum[:8])
	if id == 0 {
		id = 1
	}
	return id, nil
}

// SerializeFramed encodes v and wraps it in a frame carrying the schema id
// of v's type.
func (m *Model) SerializeFramed(v any, c frame.Compression) ([]byte, error) {
	rv, err := rootValue(v)
	if err != nil {
		return nil, err
	}
	id, err := m.SchemaID(rv.Type())
	if err != nil {
		return nil, err
	}
	data, err := m.Serialize(v)
	if err != nil {
		return nil, err
	}
	return frame.Encode(data, frame.Options{Compression: c, SchemaID: id})
}

// DeserializeFramed checks the frame, including its schema id against the
// type of out, and decodes its payload into out.
func (m *Model) DeserializeFramed(data []byte, out any) error {
	ov := reflect.ValueOf(out)
	if ov.Kind() != reflect.Pointer || ov.IsNil() {
		return ErrNotPointer
	}
	id, err := m.SchemaID(rootType(ov.Elem().Type()))
	if err != nil {
		return err
	}
	payload, h, err := frame.Decode(data, id)
	if err != nil {
		return err
	}
	m.log.Debug("frame checked",
		zap.Stringer("compression", h.Compression),
		zap.Uint32("raw", h.RawLen),
		zap.Uint32("stored", h.Len),
	)
	return m.Deserialize(payload, out)
}

// rootType is the type Serialize sees for values stored in a t.
func rootType(t reflect.Type) reflect.Type {
	if t.Kind() == reflect.Struct {
		return reflect.PointerTo(t)
	}
	return t
}
