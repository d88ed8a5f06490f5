// Package registry maps (backend, element kind) pairs to the factories that
// construct them.
//
// Registration happens during startup and is append-only. Every Register
// publishes a fresh immutable snapshot, so Resolve and the listing methods
// never take a lock. Freeze ends the registration phase.
package registry

import (
	"cmp"
	"maps"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/23skdu/longbow-tensorcore/internal/dtype"
	"github.com/23skdu/longbow-tensorcore/internal/errdefs"
)

// ErrFrozen is returned by Register after Freeze. It is a kind of
// ErrDuplicateRegistration.
var ErrFrozen = errors.Wrap(errdefs.ErrDuplicateRegistration, "registry is frozen")

type snapshot struct {
	entries map[Descriptor]Factory
	frozen  bool
}

// Registry is safe for concurrent use.
type Registry struct {
	mu   sync.Mutex // serializes writers
	snap atomic.Pointer[snapshot]
}

// New returns an empty registry.
func New() *Registry {
	r := &Registry{}
	r.snap.Store(&snapshot{entries: map[Descriptor]Factory{}})
	return r
}

// Register binds (backend, kind) to f. A pair can be bound once.
func (r *Registry) Register(backend string, kind dtype.Kind, f Factory) error {
	desc := Descriptor{Backend: backend, Kind: kind}
	if err := checkBackend(backend); err != nil {
		return err
	}
	if !kind.Valid() {
		return &errdefs.TypeError{Err: errdefs.ErrUnknownType, Backend: backend, Kind: kind.String()}
	}
	if f == nil {
		return errors.Errorf("register %s: nil factory", desc)
	}
	if got := f.Descriptor(); got != desc {
		return errors.Errorf("register %s: factory builds %s", desc, got)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	cur := r.snap.Load()
	if cur.frozen {
		return &errdefs.TypeError{Err: ErrFrozen, Backend: backend, Kind: kind.String()}
	}
	if _, ok := cur.entries[desc]; ok {
		return &errdefs.TypeError{Err: errdefs.ErrDuplicateRegistration, Backend: backend, Kind: kind.String()}
	}

	next := maps.Clone(cur.entries)
	next[desc] = f
	r.snap.Store(&snapshot{entries: next})

	log.Debug().Str("type", desc.Name()).Msg("Registered tensor type")
	return nil
}

// Freeze rejects every later Register with ErrFrozen.
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur := r.snap.Load()
	if cur.frozen {
		return
	}
	r.snap.Store(&snapshot{entries: cur.entries, frozen: true})
	log.Info().Int("types", len(cur.entries)).Msg("Type registry frozen")
}

// Frozen reports whether Freeze has been called.
func (r *Registry) Frozen() bool {
	return r.snap.Load().frozen
}

// Resolve returns the factory registered for (backend, kind).
func (r *Registry) Resolve(backend string, kind dtype.Kind) (Factory, error) {
	f, ok := r.snap.Load().entries[Descriptor{Backend: backend, Kind: kind}]
	if !ok {
		return nil, &errdefs.TypeError{Err: errdefs.ErrUnknownType, Backend: backend, Kind: kind.String()}
	}
	return f, nil
}

// ResolveDescriptor is Resolve keyed by descriptor.
func (r *Registry) ResolveDescriptor(d Descriptor) (Factory, error) {
	return r.Resolve(d.Backend, d.Kind)
}

// ResolveByName parses a dotted type name and checks that it is registered.
// Unregistered names are malformed from the caller's point of view.
func (r *Registry) ResolveByName(name string) (Descriptor, error) {
	desc, err := ParseName(name)
	if err != nil {
		return Descriptor{}, err
	}
	if _, ok := r.snap.Load().entries[desc]; !ok {
		return Descriptor{}, &errdefs.NameError{Err: errdefs.ErrMalformedTypeName, Name: name, Reason: "not registered"}
	}
	return desc, nil
}

// Kinds returns the kinds registered on backend in ascending order.
func (r *Registry) Kinds(backend string) []dtype.Kind {
	var out []dtype.Kind
	for d := range r.snap.Load().entries {
		if d.Backend == backend {
			out = append(out, d.Kind)
		}
	}
	slices.Sort(out)
	return out
}

// Backends returns every backend with at least one registration, sorted.
func (r *Registry) Backends() []string {
	seen := map[string]struct{}{}
	for d := range r.snap.Load().entries {
		seen[d.Backend] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for b := range seen {
		out = append(out, b)
	}
	slices.Sort(out)
	return out
}

// Descriptors returns every registration ordered by backend, then kind.
func (r *Registry) Descriptors() []Descriptor {
	entries := r.snap.Load().entries
	out := make([]Descriptor, 0, len(entries))
	for d := range entries {
		out = append(out, d)
	}
	slices.SortFunc(out, func(a, b Descriptor) int {
		return cmp.Or(strings.Compare(a.Backend, b.Backend), cmp.Compare(a.Kind, b.Kind))
	})
	return out
}

// Len returns the number of registrations.
func (r *Registry) Len() int {
	return len(r.snap.Load().entries)
}
