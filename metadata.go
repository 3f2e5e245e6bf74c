package refgraph

import (
	"fmt"
	"reflect"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/rawbytedev/refgraph/pkg/contract"
	"go.uber.org/zap"
)

// State is the lifecycle stage of a TypeMetadata.
type State uint32

const (
	// Open metadata still accepts configuration.
	Open State = iota
	// Frozen metadata is being built.
	Frozen
	Built
	// Poisoned metadata failed to build and stays failed until the type is
	// forgotten.
	Poisoned
)

func (s State) String() string {
	switch s {
	case Open:
		return "open"
	case Frozen:
		return "frozen"
	case Built:
		return "built"
	case Poisoned:
		return "poisoned"
	}
	return fmt.Sprintf("State(%d)", uint32(s))
}

// TypeMetadata is the model's description of one type. It is configured
// while Open, frozen by the first build, and then only read.
type TypeMetadata struct {
	model *Model
	typ   reflect.Type

	mu       sync.Mutex
	contract contract.Type
	state    atomic.Uint32

	trees func() (*built, error)
}

func newMetadata(m *Model, t reflect.Type, c contract.Type) *TypeMetadata {
	md := &TypeMetadata{model: m, typ: t, contract: c}
	md.trees = sync.OnceValues(md.build)
	return md
}

func (md *TypeMetadata) Type() reflect.Type { return md.typ }

func (md *TypeMetadata) State() State { return State(md.state.Load()) }

func (md *TypeMetadata) Name() string {
	md.mu.Lock()
	defer md.mu.Unlock()
	return md.contract.Name
}

func (md *TypeMetadata) base() reflect.Type {
	md.mu.Lock()
	defer md.mu.Unlock()
	return md.contract.Base
}

// Contract returns a copy of the current description.
func (md *TypeMetadata) Contract() contract.Type {
	md.mu.Lock()
	defer md.mu.Unlock()
	return cloneContract(md.contract)
}

func cloneContract(c contract.Type) contract.Type {
	c.Members = slices.Clone(c.Members)
	c.Subtypes = slices.Clone(c.Subtypes)
	c.Constructors = slices.Clone(c.Constructors)
	c.Enum = slices.Clone(c.Enum)
	return c
}

// Apply runs opts against a copy of the description and keeps the result
// if it validates.
func (md *TypeMetadata) Apply(opts ...TypeOption) error {
	md.mu.Lock()
	md.model.lockCount.Add(1)
	if md.State() != Open {
		md.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrFrozen, md.typ)
	}
	c := cloneContract(md.contract)
	oldName, oldBase := c.Name, c.Base
	for _, opt := range opts {
		if err := opt(md.typ, &c); err != nil {
			md.mu.Unlock()
			return err
		}
	}
	if err := checkCollisions(md.typ, c); err != nil {
		md.mu.Unlock()
		return err
	}
	if err := c.Validate(); err != nil {
		md.mu.Unlock()
		return fmt.Errorf("%w: %w", ErrContract, err)
	}
	if c.Name != oldName {
		if err := md.model.rename(md.typ, oldName, c.Name); err != nil {
			md.mu.Unlock()
			return err
		}
	}
	md.contract = c
	md.mu.Unlock()

	if c.Base != nil && c.Base != oldBase {
		return md.model.linkBase(md, c)
	}
	return nil
}

func checkCollisions(t reflect.Type, c contract.Type) error {
	seen := make(map[int]string)
	for _, m := range c.Members {
		if prev, ok := seen[m.Tag]; ok {
			return fmt.Errorf("%w: %s: %d used by %s and %s", ErrFieldCollision, t, m.Tag, prev, m.Name)
		}
		seen[m.Tag] = m.Name
	}
	for _, s := range c.Subtypes {
		if prev, ok := seen[s.Tag]; ok {
			return fmt.Errorf("%w: %s: %d used by %s and subtype %s", ErrFieldCollision, t, s.Tag, prev, s.Type)
		}
		seen[s.Tag] = s.Type.String()
	}
	return nil
}

func (md *TypeMetadata) addSubtype(s contract.Subtype) error {
	md.mu.Lock()
	defer md.mu.Unlock()
	md.model.lockCount.Add(1)
	for _, have := range md.contract.Subtypes {
		if have.Type == s.Type && have.Tag == s.Tag {
			return nil
		}
	}
	if md.State() != Open {
		return fmt.Errorf("%w: %s: cannot add subtype %s", ErrFrozen, md.typ, s.Type)
	}
	c := cloneContract(md.contract)
	c.Subtypes = append(c.Subtypes, s)
	if err := checkCollisions(md.typ, c); err != nil {
		return err
	}
	md.contract = c
	return nil
}

// snapshot reads the description without freezing it, for decisions made
// while building other types.
func (md *TypeMetadata) snapshot() contract.Type {
	md.mu.Lock()
	defer md.mu.Unlock()
	return md.contract
}

func (md *TypeMetadata) freeze() contract.Type {
	md.mu.Lock()
	defer md.mu.Unlock()
	md.model.lockCount.Add(1)
	md.state.CompareAndSwap(uint32(Open), uint32(Frozen))
	return cloneContract(md.contract)
}

func (md *TypeMetadata) build() (*built, error) {
	c := md.freeze()
	md.model.builds.Add(1)
	b, err := md.model.buildTrees(md.typ, c)
	if err != nil {
		md.state.Store(uint32(Poisoned))
		md.model.log.Warn("type poisoned", zap.Stringer("type", md.typ), zap.Error(err))
		return nil, fmt.Errorf("%w: %s: %w", ErrPoisoned, md.typ, err)
	}
	b.layout = layout(md.typ, b.shape, c)
	md.state.Store(uint32(Built))
	md.model.log.Debug("built type",
		zap.Stringer("type", md.typ),
		zap.String("name", c.Name),
		zap.Stringer("shape", b.shape),
		zap.Int("members", len(c.Members)),
		zap.Int("subtypes", len(c.Subtypes)),
	)
	return b, nil
}

// layout is the canonical text of a built type's wire contract, hashed
// into schema fingerprints.
func layout(t reflect.Type, sh shape, c contract.Type) string {
	s := fmt.Sprintf("%s %s %s ref=%t\n", c.Name, sh, t.Kind(), c.AsReferenceDefault)
	for _, m := range c.Members {
		s += fmt.Sprintf(" m %d %s %s req=%t packed=%t dyn=%t ref=%d\n",
			m.Tag, m.Name, m.Format, m.Required, m.Packed, m.DynamicType, m.Ref)
	}
	for _, st := range c.Subtypes {
		s += fmt.Sprintf(" s %d %s\n", st.Tag, contract.DefaultName(st.Type))
	}
	for _, e := range c.Enum {
		s += fmt.Sprintf(" e %d %d\n", e.Value, e.Wire)
	}
	return s
}
