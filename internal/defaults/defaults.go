// Package defaults holds the process policy for which element kind and which
// concrete tensor type to use when a caller does not name one.
//
// State is an explicit object: construct one per registry and pass it to the
// code that needs it.
package defaults

import (
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/23skdu/longbow-tensorcore/internal/dtype"
	"github.com/23skdu/longbow-tensorcore/internal/errdefs"
	"github.com/23skdu/longbow-tensorcore/internal/registry"
)

// Snapshot is one consistent reading of the defaults. TensorType.Kind always
// equals ElementKind.
type Snapshot struct {
	ElementKind dtype.Kind          `json:"element_kind" cbor:"element_kind"`
	TensorType  registry.Descriptor `json:"-" cbor:"-"`
	TypeName    string              `json:"tensor_type" cbor:"tensor_type"`
}

func newSnapshot(d registry.Descriptor) *Snapshot {
	return &Snapshot{ElementKind: d.Kind, TensorType: d, TypeName: d.Name()}
}

// Initial is the descriptor a fresh State starts from.
var Initial = registry.Descriptor{Backend: "cpu", Kind: dtype.Float32}

// State is safe for concurrent use. Readers see the snapshot published by
// the last completed setter; writers are serialized.
type State struct {
	reg  *registry.Registry
	mu   sync.Mutex
	snap atomic.Pointer[Snapshot]
}

// New returns a State over reg starting at Initial. Initial does not need
// to be registered until a setter validates against reg.
func New(reg *registry.Registry) *State {
	s := &State{reg: reg}
	s.snap.Store(newSnapshot(Initial))
	return s
}

// NewWith returns a State whose starting tensor type is d, validated like
// SetDefaultTensorType.
func NewWith(reg *registry.Registry, d registry.Descriptor) (*State, error) {
	s := New(reg)
	if err := s.SetDefaultTensorType(d); err != nil {
		return nil, err
	}
	return s, nil
}

// Snapshot returns the current defaults.
func (s *State) Snapshot() Snapshot {
	return *s.snap.Load()
}

// DefaultElementKind returns the kind used when construction omits one.
func (s *State) DefaultElementKind() dtype.Kind {
	return s.snap.Load().ElementKind
}

// DefaultTensorType returns the concrete type used when construction omits
// one.
func (s *State) DefaultTensorType() registry.Descriptor {
	return s.snap.Load().TensorType
}

// SetDefaultElementKind makes k the default kind. The default tensor type
// moves to k on the same backend, which must have k registered. Only
// floating-point kinds are accepted.
func (s *State) SetDefaultElementKind(k dtype.Kind) error {
	if !k.IsFloatingPoint() {
		return &errdefs.TypeError{Err: errdefs.ErrUnsupportedDefaultKind, Kind: k.String()}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := registry.Descriptor{Backend: s.snap.Load().TensorType.Backend, Kind: k}
	if _, err := s.reg.ResolveDescriptor(next); err != nil {
		return err
	}
	s.publish(next)
	return nil
}

// SetDefaultTensorType makes d the default tensor type, and its kind the
// default element kind.
func (s *State) SetDefaultTensorType(d registry.Descriptor) error {
	if _, err := s.reg.ResolveDescriptor(d); err != nil {
		return err
	}
	if !d.Kind.IsFloatingPoint() {
		return &errdefs.TypeError{Err: errdefs.ErrUnsupportedDefaultKind, Backend: d.Backend, Kind: d.Kind.String()}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.publish(d)
	return nil
}

// SetDefaultTensorTypeByName is SetDefaultTensorType for a canonical name
// such as "cpu.DoubleTensor". Names that do not resolve report
// ErrUnknownType.
func (s *State) SetDefaultTensorTypeByName(name string) error {
	d, err := s.reg.ResolveByName(name)
	if err != nil {
		return &errdefs.NameError{Err: errdefs.ErrUnknownType, Name: name, Reason: err.Error()}
	}
	return s.SetDefaultTensorType(d)
}

// publish must be called with mu held.
func (s *State) publish(d registry.Descriptor) {
	prev := s.snap.Swap(newSnapshot(d))
	if prev.TensorType != d {
		log.Info().
			Str("from", prev.TypeName).
			Str("to", d.Name()).
			Msg("Default tensor type changed")
	}
}
