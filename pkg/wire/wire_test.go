package wire

import (
	"bytes"
	"strings"
	"testing"
	"testing/quick"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScalarsRoundTrip(t *testing.T) {
	w := NewWriter(nil)
	require.NoError(t, w.WriteTag(1, Varint))
	w.WriteVarint(150)
	require.NoError(t, w.WriteTag(2, Varint))
	w.WriteZigZag(-3)
	require.NoError(t, w.WriteTag(3, Fixed32))
	w.WriteFloat32(1.5)
	require.NoError(t, w.WriteTag(4, Fixed64))
	w.WriteFloat64(-2.25)
	require.NoError(t, w.WriteTag(5, Bytes))
	w.WriteString("hello")
	require.NoError(t, w.WriteTag(6, Varint))
	w.WriteBool(true)
	require.NoError(t, w.WriteTag(7, Varint))
	w.WriteInt(-1)

	assert.Equal(t, []byte{0x08, 0x96, 0x01}, w.Bytes()[:3])

	r := NewReader(w.Bytes())
	num, err := r.ReadFieldHeader()
	require.NoError(t, err)
	require.Equal(t, 1, num)
	v, err := r.ReadVarint()
	require.NoError(t, err)
	assert.Equal(t, uint64(150), v)

	_, err = r.ReadFieldHeader()
	require.NoError(t, err)
	z, err := r.ReadZigZag()
	require.NoError(t, err)
	assert.Equal(t, int64(-3), z)

	_, err = r.ReadFieldHeader()
	require.NoError(t, err)
	assert.Equal(t, Fixed32, r.WireType())
	f32, err := r.ReadFloat32()
	require.NoError(t, err)
	assert.Equal(t, float32(1.5), f32)

	_, err = r.ReadFieldHeader()
	require.NoError(t, err)
	f64, err := r.ReadFloat64()
	require.NoError(t, err)
	assert.Equal(t, -2.25, f64)

	_, err = r.ReadFieldHeader()
	require.NoError(t, err)
	s, err := r.ReadString()
	require.NoError(t, err)
	assert.Equal(t, "hello", s)

	_, err = r.ReadFieldHeader()
	require.NoError(t, err)
	b, err := r.ReadBool()
	require.NoError(t, err)
	assert.True(t, b)

	_, err = r.ReadFieldHeader()
	require.NoError(t, err)
	i, err := r.ReadInt()
	require.NoError(t, err)
	assert.Equal(t, int64(-1), i)

	num, err = r.ReadFieldHeader()
	require.NoError(t, err)
	assert.Equal(t, 0, num)
}

func TestInvalidFieldNumber(t *testing.T) {
	w := NewWriter(nil)
	require.ErrorIs(t, w.WriteTag(0, Varint), ErrFieldNumber)
	require.ErrorIs(t, w.WriteTag(MaxFieldNumber+1, Varint), ErrFieldNumber)
}

func TestSubItemBackpatch(t *testing.T) {
	for _, size := range []int{0, 1, 127, 128, 300, 20000} {
		w := NewWriter(nil)
		require.NoError(t, w.WriteTag(1, Bytes))
		tok := w.StartSubItem()
		require.NoError(t, w.WriteTag(2, Bytes))
		w.WriteString(strings.Repeat("x", size))
		require.NoError(t, w.EndSubItem(tok))
		require.NoError(t, w.WriteTag(3, Varint))
		w.WriteVarint(7)

		r := NewReader(w.Bytes())
		num, err := r.ReadFieldHeader()
		require.NoError(t, err)
		require.Equal(t, 1, num)
		rt, err := r.StartSubItem()
		require.NoError(t, err)
		_, err = r.ReadFieldHeader()
		require.NoError(t, err)
		s, err := r.ReadString()
		require.NoError(t, err)
		assert.Len(t, s, size)
		num, err = r.ReadFieldHeader()
		require.NoError(t, err)
		assert.Equal(t, 0, num, "sub-item limit must hide the trailing field")
		require.NoError(t, r.EndSubItem(rt))
		num, err = r.ReadFieldHeader()
		require.NoError(t, err)
		assert.Equal(t, 3, num)
	}
}

func TestNestedSubItems(t *testing.T) {
	w := NewWriter(nil)
	require.NoError(t, w.WriteTag(1, Bytes))
	outer := w.StartSubItem()
	require.NoError(t, w.WriteTag(1, Bytes))
	inner := w.StartSubItem()
	w.WriteRaw(bytes.Repeat([]byte{0x08, 0x01}, 100))
	require.ErrorIs(t, w.EndSubItem(outer), ErrUnbalanced)
	require.NoError(t, w.EndSubItem(inner))
	require.NoError(t, w.EndSubItem(outer))
	assert.Equal(t, 0, w.Depth())

	fields, err := Inspect(w.Bytes())
	require.NoError(t, err)
	require.Len(t, fields, 1)
	require.Len(t, fields[0].Fields, 1)
	assert.Len(t, fields[0].Fields[0].Fields, 100)
}

func TestSkipUnknown(t *testing.T) {
	w := NewWriter(nil)
	require.NoError(t, w.WriteTag(9, Fixed64))
	w.WriteFixed64(1)
	require.NoError(t, w.WriteTag(10, Bytes))
	w.WriteBytes([]byte{1, 2, 3})
	require.NoError(t, w.WriteTag(11, Fixed32))
	w.WriteFixed32(1)
	require.NoError(t, w.WriteTag(1, Varint))
	w.WriteVarint(42)

	r := NewReader(w.Bytes())
	for {
		num, err := r.ReadFieldHeader()
		require.NoError(t, err)
		require.NotZero(t, num)
		if num == 1 {
			break
		}
		require.NoError(t, r.SkipField())
	}
	v, err := r.ReadVarint()
	require.NoError(t, err)
	assert.Equal(t, uint64(42), v)
}

func TestTruncated(t *testing.T) {
	r := NewReader([]byte{0x0a, 0x05, 0x01})
	_, err := r.ReadFieldHeader()
	require.NoError(t, err)
	_, err = r.StartSubItem()
	require.ErrorIs(t, err, ErrTruncated)

	r = NewReader([]byte{0x08, 0x80})
	_, err = r.ReadFieldHeader()
	require.NoError(t, err)
	_, err = r.ReadVarint()
	require.ErrorIs(t, err, ErrTruncated)
}

func TestBadLength(t *testing.T) {
	r := NewReader([]byte{0x0a, 0x02, 0x08, 0x01})
	_, err := r.ReadFieldHeader()
	require.NoError(t, err)
	tok, err := r.StartSubItem()
	require.NoError(t, err)
	require.ErrorIs(t, r.EndSubItem(tok), ErrBadLength)
}

func TestWireTypeMismatch(t *testing.T) {
	r := NewReader([]byte{0x08, 0x01})
	_, err := r.ReadFieldHeader()
	require.NoError(t, err)
	require.ErrorIs(t, r.Expect(Bytes), ErrWireType)
	_, err = r.StartSubItem()
	require.ErrorIs(t, err, ErrWireType)
}

func TestSeek(t *testing.T) {
	w := NewWriter(nil)
	require.NoError(t, w.WriteTag(1, Varint))
	w.WriteVarint(1)
	mark := w.Position()
	require.NoError(t, w.WriteTag(2, Varint))
	w.WriteVarint(2)

	r := NewReader(w.Bytes())
	require.NoError(t, r.Seek(mark))
	assert.Equal(t, 2, r.PeekFieldNumber())
	assert.False(t, r.TryReadFieldHeader(1))
	assert.True(t, r.TryReadFieldHeader(2))
	require.ErrorIs(t, r.Seek(len(w.Bytes())+1), ErrPositionBounds)
}

func TestVarintQuick(t *testing.T) {
	condition := func(v uint64, z int64) bool {
		w := NewWriter(nil)
		w.WriteVarint(v)
		w.WriteZigZag(z)
		r := NewReader(w.Bytes())
		gv, err := r.ReadVarint()
		require.NoError(t, err)
		gz, err := r.ReadZigZag()
		require.NoError(t, err)
		return gv == v && gz == z && r.Remaining() == 0
	}
	require.NoError(t, quick.Check(condition, &quick.Config{}))
}

func FuzzReader(f *testing.F) {
	f.Add([]byte{0x08, 0x96, 0x01})
	f.Add([]byte{0x0a, 0x02, 0x08, 0x01})
	f.Add([]byte{0x0b, 0x0c})
	f.Fuzz(func(t *testing.T, data []byte) {
		_, _ = Inspect(data)
	})
}
