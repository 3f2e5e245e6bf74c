package refs

import (
	"reflect"
	"sort"
	"testing"
	"testing/quick"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPositionBoundaries(t *testing.T) {
	var p KeyPositions
	require.NoError(t, p.SetPosition(0, 0))
	require.ErrorIs(t, p.SetPosition(1, 0), ErrPositionRange)
	require.ErrorIs(t, p.SetPosition(2, -1), ErrPositionRange)

	pos, err := p.GetPosition(0)
	require.NoError(t, err)
	assert.Equal(t, 0, pos)

	_, err = p.GetPosition(1)
	require.ErrorIs(t, err, ErrKeyNotFound)
	assert.Contains(t, err.Error(), "SeekableReferences")

	require.NoError(t, p.SetPosition(3, 40))
	_, err = p.GetPosition(2)
	require.ErrorIs(t, err, ErrKeyNotFound, "gap keys are unset")
	pos, err = p.GetPosition(3)
	require.NoError(t, err)
	assert.Equal(t, 40, pos)
}

func TestExportIdempotent(t *testing.T) {
	var p KeyPositions
	require.NoError(t, p.SetPosition(0, 0))
	require.NoError(t, p.SetPosition(1, 12))
	first, err := p.Export()
	require.NoError(t, err)
	assert.Equal(t, []int{0, 12}, first)

	again, err := p.Export()
	require.NoError(t, err)
	assert.Empty(t, again)

	require.NoError(t, p.SetPosition(2, 20))
	require.NoError(t, p.SetPosition(3, 35))
	next, err := p.Export()
	require.NoError(t, err)
	assert.Equal(t, []int{8, 15}, next)
}

func TestExportRejectsDisorder(t *testing.T) {
	var p KeyPositions
	require.NoError(t, p.SetPosition(0, 0))
	require.NoError(t, p.SetPosition(1, 30))
	require.NoError(t, p.SetPosition(2, 10))
	_, err := p.Export()
	require.ErrorIs(t, err, ErrPositionOrder)
}

func TestExportImportQuick(t *testing.T) {
	condition := func(gaps []uint16, split uint8) bool {
		var w, r KeyPositions
		require.NoError(t, w.SetPosition(0, 0))
		pos := 0
		cut := 0
		if len(gaps) > 0 {
			cut = int(split) % len(gaps)
		}
		var exported [][]int
		for i, g := range gaps {
			pos += int(g) + 1
			require.NoError(t, w.SetPosition(i+1, pos))
			if i == cut {
				d, err := w.Export()
				require.NoError(t, err)
				exported = append(exported, d)
			}
		}
		d, err := w.Export()
		require.NoError(t, err)
		exported = append(exported, d)

		for _, batch := range exported {
			for i, v := range batch {
				if i > 0 && v <= 0 {
					return false
				}
			}
			require.NoError(t, r.EnterImportingLock())
			require.NoError(t, r.Import(batch))
			require.NoError(t, r.ReleaseImportingLock())
		}
		if r.Len() != w.Len() {
			return false
		}
		for k := 0; k < w.Len(); k++ {
			a, err1 := w.GetPosition(k)
			b, err2 := r.GetPosition(k)
			if err1 != nil || err2 != nil || a != b {
				return false
			}
		}
		return true
	}
	require.NoError(t, quick.Check(condition, &quick.Config{}))
}

func TestImportLock(t *testing.T) {
	var p KeyPositions
	require.ErrorIs(t, p.ReleaseImportingLock(), ErrImportLock)
	require.NoError(t, p.EnterImportingLock())
	require.ErrorIs(t, p.EnterImportingLock(), ErrImportLock)
	require.NoError(t, p.ReleaseImportingLock())
}

func TestResetAndClone(t *testing.T) {
	var p KeyPositions
	require.NoError(t, p.SetPosition(0, 0))
	require.NoError(t, p.SetPosition(1, 5))
	_, err := p.Export()
	require.NoError(t, err)
	require.NoError(t, p.EnterImportingLock())

	c := p.Clone()
	p.Reset()
	assert.Equal(t, 0, p.Len())
	require.NoError(t, p.EnterImportingLock(), "reset releases the lock")

	pos, err := c.GetPosition(1)
	require.NoError(t, err)
	assert.Equal(t, 5, pos)

	require.NoError(t, p.SetPosition(0, 0))
	d, err := p.Export()
	require.NoError(t, err)
	assert.Equal(t, []int{0}, d, "watermarks start over after reset")
}

type node struct{ next *node }

func TestWriteTrackerKeys(t *testing.T) {
	tr := NewWriteTracker(1)
	a, b := &node{}, &node{}
	k, existed := tr.Key(reflect.ValueOf(a))
	assert.Equal(t, 1, k)
	assert.False(t, existed)
	k, existed = tr.Key(reflect.ValueOf(b))
	assert.Equal(t, 2, k)
	assert.False(t, existed)
	k, existed = tr.Key(reflect.ValueOf(a))
	assert.Equal(t, 1, k)
	assert.True(t, existed)
	assert.Equal(t, 3, tr.Reserve())
	assert.Equal(t, 4, tr.Next())
}

func TestReadTrackerExpectations(t *testing.T) {
	tr := NewReadTracker(1)
	typ := reflect.TypeOf(&node{})

	tr.Expect(1, typ)
	outer := reflect.ValueOf(&node{})
	require.NoError(t, tr.Note(outer))
	tr.Expect(2, typ)
	inner := reflect.ValueOf(&node{})
	require.NoError(t, tr.Note(inner))
	key, bound := tr.Done()
	assert.Equal(t, 2, key)
	assert.True(t, bound)
	require.NoError(t, tr.Note(reflect.ValueOf(&node{})), "already bound expectations ignore notes")
	key, bound = tr.Done()
	assert.Equal(t, 1, key)
	assert.True(t, bound)

	got, ok := tr.Get(1)
	require.True(t, ok)
	assert.Equal(t, outer.Pointer(), got.Pointer())
	_, ok = tr.Get(7)
	assert.False(t, ok)
	require.Error(t, tr.Register(1, outer))

	tr.Expect(3, typ)
	require.NoError(t, tr.Note(reflect.ValueOf("not a node")))
	_, bound = tr.Done()
	assert.False(t, bound)

	keys := []int{}
	for k := 1; k < tr.Next(); k++ {
		if _, ok := tr.Get(k); ok {
			keys = append(keys, k)
		}
	}
	assert.True(t, sort.IntsAreSorted(keys))
	assert.Equal(t, []int{1, 2}, keys)
}
