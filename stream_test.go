package refgraph

import (
	"bytes"
	"io"
	"reflect"
	"testing"

	"github.com/rawbytedev/refgraph/pkg/frame"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamSharesReferences(t *testing.T) {
	for _, c := range configs {
		t.Run(c.name, func(t *testing.T) {
			m := New(c.opts...)
			shared := &node{Name: "shared"}

			var buf bytes.Buffer
			enc := m.NewStreamEncoder(&buf)
			require.NoError(t, enc.Encode(&pair{A: shared}))
			require.NoError(t, enc.Encode(&pair{B: shared}))

			dec := m.NewStreamDecoder(buf.Bytes())
			var first, second pair
			require.True(t, dec.More())
			require.NoError(t, dec.Decode(&first))
			require.NoError(t, dec.Decode(&second))
			require.False(t, dec.More())
			require.ErrorIs(t, dec.Decode(&second), io.EOF)

			require.NotNil(t, first.A)
			assert.Equal(t, "shared", first.A.Name)
			assert.Same(t, first.A, second.B)
		})
	}
}

func TestStreamPositions(t *testing.T) {
	m := New(WithReferences(LateReferences))
	root := &node{Name: "root"}
	first, err := New(WithReferences(LateReferences)).Serialize(root)
	require.NoError(t, err)

	var buf bytes.Buffer
	enc := m.NewStreamEncoder(&buf)
	require.NoError(t, enc.Encode(root))
	require.NoError(t, enc.Encode(&pair{A: root}))
	assert.Equal(t, []int{0, len(first)}, enc.Positions())

	dec := m.NewStreamDecoder(buf.Bytes())
	var a node
	var p pair
	require.NoError(t, dec.Decode(&a))
	require.NoError(t, dec.Decode(&p))
	assert.Same(t, &a, p.A)
}

func TestStreamTruncated(t *testing.T) {
	var buf bytes.Buffer
	enc := New().NewStreamEncoder(&buf)
	require.NoError(t, enc.Encode(&order{ID: "abc"}))

	data := buf.Bytes()
	dec := New().NewStreamDecoder(data[:len(data)-1])
	require.Error(t, dec.Decode(&order{}))
}

func TestDecodeKey(t *testing.T) {
	m := New(WithReferences(LateReferences), WithSeekableReferences(true))
	b := &node{Name: "b"}
	a := &node{Name: "a", Next: b}
	b.Next = a
	data, err := m.Serialize(&pair{A: a, B: b})
	require.NoError(t, err)

	pos, err := ReadPositions(data)
	require.NoError(t, err)
	require.Len(t, pos, 3)
	assert.Equal(t, 0, pos[0])
	assert.Less(t, pos[1], pos[2])

	var gotB node
	require.NoError(t, m.DecodeKey(data, 2, &gotB))
	assert.Equal(t, "b", gotB.Name)
	require.NotNil(t, gotB.Next)
	assert.Equal(t, "a", gotB.Next.Name)
	assert.Same(t, &gotB, gotB.Next.Next)

	var whole pair
	require.NoError(t, m.Deserialize(data, &whole))
	assert.Same(t, whole.A.Next, whole.B)

	require.ErrorIs(t, New().DecodeKey(data, 1, &gotB), ErrUnsupported)
}

func TestFramed(t *testing.T) {
	for _, c := range []frame.Compression{frame.None, frame.LZ4, frame.Zstd} {
		t.Run(c.String(), func(t *testing.T) {
			m := New()
			want := sampleProfile(t)
			want.Tags = []string{"repeat", "repeat", "repeat", "repeat", "repeat", "repeat"}
			data, err := m.SerializeFramed(want, c)
			require.NoError(t, err)

			var got profile
			require.NoError(t, m.DeserializeFramed(data, &got))
			assert.Equal(t, want.Name, got.Name)
			assert.Equal(t, want.Tags, got.Tags)

			var other profileV2
			require.ErrorIs(t, m.DeserializeFramed(data, &other), frame.ErrSchemaMismatch)
		})
	}
}

func TestSchemaIDAcrossModels(t *testing.T) {
	writer := New()
	data, err := writer.SerializeFramed(&order{ID: "x"}, frame.Zstd)
	require.NoError(t, err)

	var out order
	require.NoError(t, New(WithStrategy(Compiled)).DeserializeFramed(data, &out))
	assert.Equal(t, "x", out.ID)

	renamed := New()
	_, err = renamed.RegisterType(reflect.TypeFor[order](), WithName("shop.Order"))
	require.NoError(t, err)
	require.ErrorIs(t, renamed.DeserializeFramed(data, &out), frame.ErrSchemaMismatch)
}
