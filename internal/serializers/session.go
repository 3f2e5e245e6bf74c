package serializers

import (
	"fmt"
	"reflect"

	"github.com/rawbytedev/refgraph/pkg/refs"
	"github.com/rawbytedev/refgraph/pkg/wire"
)

// Session configures one reference-tracking scope.
type Session struct {
	Resolver Resolver
	// Late selects the single-pass late reference format.
	Late bool
	// Seekable writes position trailers after each late root.
	Seekable bool
	MaxDepth int
}

func (s Session) firstKey() int {
	if s.Late {
		return 0
	}
	return 1
}

type lateItem struct {
	key  int
	v    reflect.Value
	node Node
}

// Encoder is the write side of a session. It embeds the wire writer the
// nodes append to.
type Encoder struct {
	*wire.Writer
	Session
	refs      *refs.WriteTracker
	positions *refs.KeyPositions
	queue     []lateItem
	offset    int
	depth     int
}

func NewEncoder(s Session) *Encoder {
	return &Encoder{
		Writer:    wire.NewWriter(nil),
		Session:   s,
		refs:      refs.NewWriteTracker(s.firstKey()),
		positions: &refs.KeyPositions{},
	}
}

// Begin starts a new root in the same session. Offset is the logical stream
// position of the root's first byte.
func (e *Encoder) Begin(offset int) {
	e.Writer.Reset()
	e.offset = offset
	e.queue = e.queue[:0]
	e.depth = 0
}

// Positions exposes the session's key position table.
func (e *Encoder) Positions() *refs.KeyPositions { return e.positions }

// StreamPosition is the logical offset of the next byte.
func (e *Encoder) StreamPosition() int { return e.offset + e.Position() }

func (e *Encoder) enter() error {
	e.depth++
	if e.MaxDepth > 0 && e.depth > e.MaxDepth {
		return fmt.Errorf("%w (%d)", ErrRecursionDepth, e.MaxDepth)
	}
	return nil
}

func (e *Encoder) leave() { e.depth-- }

type lateSlot struct {
	key  int
	v    reflect.Value
	node Node
}

// Decoder is the read side of a session.
type Decoder struct {
	*wire.Reader
	Session
	refs      *refs.ReadTracker
	positions *refs.KeyPositions
	pending   []lateSlot
	offset    int
	depth     int
	// seek resolves pending late references by jumping to their recorded
	// positions instead of waiting for them in stream order.
	seek bool
}

func NewDecoder(s Session) *Decoder {
	return &Decoder{
		Session:   s,
		refs:      refs.NewReadTracker(s.firstKey()),
		positions: &refs.KeyPositions{},
		seek:      s.Seekable,
	}
}

// Begin points the decoder at the next root's data.
func (d *Decoder) Begin(data []byte, offset int) {
	d.Reader = wire.NewReader(data)
	d.offset = offset
	d.depth = 0
}

func (d *Decoder) Positions() *refs.KeyPositions { return d.positions }

// Note registers a freshly created instance with the reference tracker.
func (d *Decoder) Note(v reflect.Value) error { return d.refs.Note(v) }

func (d *Decoder) enter() error {
	d.depth++
	if d.MaxDepth > 0 && d.depth > d.MaxDepth {
		return fmt.Errorf("%w (%d)", ErrRecursionDepth, d.MaxDepth)
	}
	return nil
}

func (d *Decoder) leave() { d.depth-- }

// ImportPositions reads a packed position trailer at the current field.
func (d *Decoder) ImportPositions() error {
	tok, err := d.StartSubItem()
	if err != nil {
		return err
	}
	var deltas []int
	for d.Remaining() > 0 {
		v, err := d.ReadVarint()
		if err != nil {
			return err
		}
		deltas = append(deltas, int(v))
	}
	if err := d.EndSubItem(tok); err != nil {
		return err
	}
	if err := d.positions.EnterImportingLock(); err != nil {
		return err
	}
	defer func() { _ = d.positions.ReleaseImportingLock() }()
	return d.positions.Import(deltas)
}
