package refgraph

import (
	"fmt"
	"io"

	"github.com/rawbytedev/refgraph/internal/serializers"
	"github.com/rawbytedev/refgraph/pkg/wire"
	"google.golang.org/protobuf/encoding/protowire"
)

// StreamEncoder writes several roots that share one reference session:
// an object written under an earlier root is referenced by key from later
// ones. Each root is prefixed with its length as a varint. Key positions
// count payload bytes only, so they are independent of the prefixes.
type StreamEncoder struct {
	m      *Model
	w      io.Writer
	enc    *serializers.Encoder
	offset int
	buf    []byte
}

func (m *Model) NewStreamEncoder(w io.Writer) *StreamEncoder {
	return &StreamEncoder{m: m, w: w, enc: serializers.NewEncoder(m.session())}
}

// Encode writes the next root.
func (s *StreamEncoder) Encode(v any) error {
	s.enc.Begin(s.offset)
	if err := s.m.encodeRoot(s.enc, v); err != nil {
		return err
	}
	payload := s.enc.Bytes()
	s.buf = protowire.AppendVarint(s.buf[:0], uint64(len(payload)))
	s.buf = append(s.buf, payload...)
	if _, err := s.w.Write(s.buf); err != nil {
		return err
	}
	s.offset += len(payload)
	return nil
}

// Positions returns the key positions recorded so far.
func (s *StreamEncoder) Positions() []int { return positionsOf(s.enc.Positions().Len(), s.enc.Positions().GetPosition) }

// StreamDecoder reads the roots written by a StreamEncoder in order.
type StreamDecoder struct {
	m      *Model
	data   []byte
	dec    *serializers.Decoder
	offset int
}

func (m *Model) NewStreamDecoder(data []byte) *StreamDecoder {
	return &StreamDecoder{m: m, data: data, dec: serializers.NewDecoder(m.session())}
}

// More reports whether another root follows.
func (s *StreamDecoder) More() bool { return len(s.data) > 0 }

// Decode reads the next root into out. It returns io.EOF after the last
// root.
func (s *StreamDecoder) Decode(out any) error {
	if len(s.data) == 0 {
		return io.EOF
	}
	n, k := protowire.ConsumeVarint(s.data)
	if k < 0 {
		return fmt.Errorf("%w: root length", wire.ErrTruncated)
	}
	if n > uint64(len(s.data)-k) {
		return fmt.Errorf("%w: root of %d bytes, %d left", wire.ErrTruncated, n, len(s.data)-k)
	}
	payload := s.data[k : k+int(n)]
	s.data = s.data[k+int(n):]
	s.dec.Begin(payload, s.offset)
	s.offset += len(payload)
	return s.m.decodeRoot(s.dec, out)
}

// Positions returns the key positions imported so far.
func (s *StreamDecoder) Positions() []int { return positionsOf(s.dec.Positions().Len(), s.dec.Positions().GetPosition) }

func positionsOf(n int, get func(int) (int, error)) []int {
	out := make([]int, 0, n)
	for k := 0; k < n; k++ {
		pos, err := get(k)
		if err != nil {
			pos = -1
		}
		out = append(out, pos)
	}
	return out
}
