// Package refs holds the per-session reference-tracking state: object keys
// on both sides of the wire and the key-to-position table that makes late
// references seekable.
package refs

import (
	"errors"
	"fmt"
)

var (
	ErrPositionRange = errors.New("refs: position out of range")
	ErrKeyNotFound   = errors.New("refs: key not found")
	ErrImportLock    = errors.New("refs: importing lock misuse")
	ErrPositionOrder = errors.New("refs: positions are not strictly increasing")
)

// KeyPositions maps 0-based object keys to byte offsets. Only key 0 may sit
// at offset 0; any other zero entry is an unset key.
//
// New positions are exported as deltas: the first delta of an export is
// relative to the last absolute position of the previous export, the rest
// are relative to each other. Import is the inverse, so a reader that
// imports every export in order rebuilds the writer's table.
type KeyPositions struct {
	positions []int

	exportKnown    int
	exportPrevious int
	importKnown    int
	importPrevious int
	importing      bool
}

// SetPosition records the offset of key, growing the table as needed.
func (p *KeyPositions) SetPosition(key, pos int) error {
	if key < 0 || pos < 0 || (key > 0 && pos == 0) {
		return fmt.Errorf("%w: key %d at %d", ErrPositionRange, key, pos)
	}
	for len(p.positions) <= key {
		p.positions = append(p.positions, 0)
	}
	p.positions[key] = pos
	return nil
}

// GetPosition returns the offset recorded for key.
func (p *KeyPositions) GetPosition(key int) (int, error) {
	if key < 0 || key >= len(p.positions) || (p.positions[key] == 0 && key > 0) {
		return 0, fmt.Errorf("%w: %d; enable SeekableReferences so readers can seek to late records", ErrKeyNotFound, key)
	}
	return p.positions[key], nil
}

// Len is the number of keys the table covers.
func (p *KeyPositions) Len() int { return len(p.positions) }

// Export returns the deltas for every key added since the previous export.
// Calling it again with nothing new returns an empty slice.
func (p *KeyPositions) Export() ([]int, error) {
	fresh := p.positions[p.exportKnown:]
	if len(fresh) == 0 {
		return []int{}, nil
	}
	out := make([]int, len(fresh))
	prev := p.exportPrevious
	for i, pos := range fresh {
		out[i] = pos - prev
		if i > 0 && out[i] <= 0 {
			return nil, fmt.Errorf("%w: key %d at %d after %d", ErrPositionOrder, p.exportKnown+i, pos, prev)
		}
		prev = pos
	}
	p.exportKnown = len(p.positions)
	p.exportPrevious = prev
	return out, nil
}

// Import appends the positions described by deltas produced by Export.
func (p *KeyPositions) Import(deltas []int) error {
	acc := p.importPrevious
	for _, d := range deltas {
		acc += d
		if err := p.SetPosition(p.importKnown, acc); err != nil {
			return err
		}
		p.importKnown++
	}
	p.importPrevious = acc
	return nil
}

// EnterImportingLock guards a single importer; entering twice is an error.
func (p *KeyPositions) EnterImportingLock() error {
	if p.importing {
		return fmt.Errorf("%w: already acquired", ErrImportLock)
	}
	p.importing = true
	return nil
}

func (p *KeyPositions) ReleaseImportingLock() error {
	if !p.importing {
		return fmt.Errorf("%w: not acquired", ErrImportLock)
	}
	p.importing = false
	return nil
}

// Reset clears the table, the watermarks and the lock.
func (p *KeyPositions) Reset() {
	p.positions = p.positions[:0]
	p.exportKnown, p.exportPrevious = 0, 0
	p.importKnown, p.importPrevious = 0, 0
	p.importing = false
}

// Clone returns an independent copy.
func (p *KeyPositions) Clone() *KeyPositions {
	c := *p
	c.positions = append([]int(nil), p.positions...)
	return &c
}
