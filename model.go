// Package refgraph serializes Go object graphs to a protocol-buffers
// compatible wire format with support for shared references, cycles and
// interface subtypes. Types are described at runtime through struct tags,
// hook interfaces, contract files or explicit registration; each type gets a
// tree of encoder nodes built once on first use.
package refgraph

import (
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"

	"github.com/rawbytedev/refgraph/internal/common"
	"github.com/rawbytedev/refgraph/internal/serializers"
	"github.com/rawbytedev/refgraph/pkg/contract"
	"go.uber.org/zap"
)

// ReferenceFormat selects how tracked objects are laid out.
type ReferenceFormat uint8

const (
	// InlineReferences writes an object's payload where it is first seen.
	InlineReferences ReferenceFormat = iota
	// LateReferences writes only keys in place and appends every new object
	// after the root, so the writer never nests tracked objects.
	LateReferences
)

func (f ReferenceFormat) String() string {
	if f == LateReferences {
		return "late"
	}
	return "inline"
}

// Strategy selects the executor for record members.
type Strategy uint8

const (
	DataDriven Strategy = iota
	// Compiled accesses scalar struct fields through precomputed offsets.
	Compiled
)

func (s Strategy) String() string {
	if s == Compiled {
		return "compiled"
	}
	return "data-driven"
}

const DefaultMaxDepth = 512

type Options struct {
	References ReferenceFormat
	// SeekableReferences appends key positions after each late root so
	// readers can decode single records out of order.
	SeekableReferences bool
	Strategy           Strategy
	MaxDepth           int
	Logger             *zap.Logger
}

type Option func(*Options)

func WithReferences(f ReferenceFormat) Option {
	return func(o *Options) { o.References = f }
}

func WithSeekableReferences(on bool) Option {
	return func(o *Options) { o.SeekableReferences = on }
}

func WithStrategy(s Strategy) Option {
	return func(o *Options) { o.Strategy = s }
}

func WithMaxDepth(n int) Option {
	return func(o *Options) { o.MaxDepth = n }
}

func WithLogger(l *zap.Logger) Option {
	return func(o *Options) { o.Logger = l }
}

// Stats counts registry activity.
type Stats struct {
	// LockCount is the number of exclusive registry and metadata locks taken.
	LockCount int64
	// Builds is the number of type trees built.
	Builds int64
}

type rootKey struct {
	typ  reflect.Type
	late bool
}

// Model owns the metadata of every type it has seen. It is safe for
// concurrent use; a type's trees are built once and then read without
// locking.
type Model struct {
	opts Options
	log  *zap.Logger

	mu    sync.RWMutex
	types map[reflect.Type]*TypeMetadata
	names map[string]reflect.Type

	roots  sync.Map // rootKey -> serializers.Node
	values sync.Map // reflect.Type -> valueEntry

	lockCount atomic.Int64
	builds    atomic.Int64
}

func New(opts ...Option) *Model {
	o := Options{MaxDepth: DefaultMaxDepth}
	for _, fn := range opts {
		fn(&o)
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return &Model{
		opts:  o,
		log:   o.Logger.Named("refgraph"),
		types: make(map[reflect.Type]*TypeMetadata),
		names: make(map[string]reflect.Type),
	}
}

var defaultModel = New()

// Default is the model behind the package-level functions.
func Default() *Model { return defaultModel }

func (m *Model) Options() Options { return m.opts }

func (m *Model) Stats() Stats {
	return Stats{LockCount: m.lockCount.Load(), Builds: m.builds.Load()}
}

func (m *Model) session() serializers.Session {
	return serializers.Session{
		Resolver: m,
		Late:     m.opts.References == LateReferences,
		Seekable: m.opts.SeekableReferences,
		MaxDepth: m.opts.MaxDepth,
	}
}

// normalize maps *T to T for struct types, which share one metadata.
func normalize(t reflect.Type) reflect.Type { return common.StructOf(t) }

// Metadata returns the metadata of t, creating it from contract discovery
// on first use.
func (m *Model) Metadata(t reflect.Type) (*TypeMetadata, error) {
	if t == nil {
		return nil, fmt.Errorf("%w: nil type", ErrUnsupported)
	}
	t = normalize(t)
	m.mu.RLock()
	md, ok := m.types[t]
	m.mu.RUnlock()
	if ok {
		return md, nil
	}

	c, err := contract.Discover(t)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrContract, err)
	}

	m.mu.Lock()
	m.lockCount.Add(1)
	if md, ok := m.types[t]; ok {
		m.mu.Unlock()
		return md, nil
	}
	if prev, taken := m.names[c.Name]; taken && prev != t {
		m.mu.Unlock()
		return nil, contractErr(t, "name %q is already used by %s", c.Name, prev)
	}
	md = newMetadata(m, t, c)
	m.types[t] = md
	m.names[c.Name] = t
	m.mu.Unlock()

	if c.Base != nil {
		if err := m.linkBase(md, c); err != nil {
			m.Forget(t)
			return nil, err
		}
	}
	return md, nil
}

// Forget drops the metadata of t and the root trees built for it, so a
// poisoned type can be registered again. Trees of other types that already
// captured t keep their reference to the old metadata.
func (m *Model) Forget(t reflect.Type) {
	t = normalize(t)
	m.mu.Lock()
	m.lockCount.Add(1)
	md, ok := m.types[t]
	delete(m.types, t)
	m.mu.Unlock()
	if ok {
		name := md.Name()
		m.mu.Lock()
		if m.names[name] == t {
			delete(m.names, name)
		}
		m.mu.Unlock()
	}
	m.roots.Range(func(k, _ any) bool {
		if normalize(k.(rootKey).typ) == t {
			m.roots.Delete(k)
		}
		return true
	})
	m.values.Clear()
	m.log.Debug("forgot type", zap.Stringer("type", t))
}

func (m *Model) rename(t reflect.Type, from, to string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lockCount.Add(1)
	if prev, taken := m.names[to]; taken && prev != t {
		return contractErr(t, "name %q is already used by %s", to, prev)
	}
	if m.names[from] == t {
		delete(m.names, from)
	}
	m.names[to] = t
	return nil
}

// linkBase registers md as a subtype of its declared base.
func (m *Model) linkBase(md *TypeMetadata, c contract.Type) error {
	if c.Base.Kind() != reflect.Interface {
		return contractErr(md.typ, "base %s is not an interface", c.Base)
	}
	if !reflect.PointerTo(md.typ).Implements(c.Base) && !md.typ.Implements(c.Base) {
		return contractErr(md.typ, "does not implement its base %s", c.Base)
	}
	seen := map[reflect.Type]bool{md.typ: true}
	for b := c.Base; b != nil; {
		if seen[b] {
			return contractErr(md.typ, "base chain of %s loops", b)
		}
		seen[b] = true
		bm, err := m.Metadata(b)
		if err != nil {
			return err
		}
		b = bm.base()
	}
	base, err := m.Metadata(c.Base)
	if err != nil {
		return err
	}
	return base.addSubtype(contract.Subtype{Tag: c.BaseTag, Type: md.typ})
}

func contractErr(t reflect.Type, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", ErrContract, t, fmt.Sprintf(format, args...))
}
