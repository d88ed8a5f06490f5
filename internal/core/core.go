// Package core wires backends, the type registry and the default-type state
// into one Context, and offers the dtype-optional construction entry points
// built on it.
package core

import (
	"context"
	"fmt"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/23skdu/longbow-tensorcore/internal/config"
	"github.com/23skdu/longbow-tensorcore/internal/defaults"
	"github.com/23skdu/longbow-tensorcore/internal/device"
	"github.com/23skdu/longbow-tensorcore/internal/dtype"
	"github.com/23skdu/longbow-tensorcore/internal/registry"
	"github.com/23skdu/longbow-tensorcore/internal/storage"
	"github.com/23skdu/longbow-tensorcore/internal/tensor"
)

// Context bundles what construction needs. It is safe for concurrent use.
type Context struct {
	Registry *registry.Registry
	Defaults *defaults.State
	Backends map[string]device.Backend
}

// NewContext builds the cpu and arrow backends described by cfg, registers
// every kind each backend supports, freezes the registry and sets the
// defaults from cfg.
func NewContext(cfg config.Config) (*Context, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	budget, err := cfg.BudgetBytes()
	if err != nil {
		return nil, err
	}

	backends := []device.Backend{
		device.NewCPUBackend(cfg.CPUPooling),
		device.NewArrowBackend(nil),
	}
	if budget > 0 {
		for i, b := range backends {
			backends[i] = device.NewLimited(b, budget)
		}
	}

	reg := registry.New()
	byName := make(map[string]device.Backend, len(backends))
	for _, b := range backends {
		byName[b.Name()] = b
		for _, k := range dtype.All() {
			if !b.Supports(k) {
				continue
			}
			if err := reg.Register(b.Name(), k, registry.NewBackendFactory(b, k)); err != nil {
				return nil, err
			}
		}
	}
	reg.Freeze()

	kind, err := cfg.Kind()
	if err != nil {
		return nil, err
	}
	state, err := defaults.NewWith(reg, registry.Descriptor{Backend: cfg.DefaultBackend, Kind: kind})
	if err != nil {
		return nil, errors.Wrap(err, "default tensor type")
	}

	log.Debug().
		Strs("backends", reg.Backends()).
		Int("types", reg.Len()).
		Str("default", state.DefaultTensorType().Name()).
		Msg("Tensor core ready")
	return &Context{Registry: reg, Defaults: state, Backends: byName}, nil
}

var (
	defaultOnce sync.Once
	defaultCtx  *Context
)

// Default returns the process-wide context built from config.Default. It is
// the only package-level state in the module.
func Default() *Context {
	defaultOnce.Do(func() {
		ctx, err := NewContext(config.Default())
		if err != nil {
			panic(fmt.Sprintf("core: default context: %v", err))
		}
		defaultCtx = ctx
	})
	return defaultCtx
}

// Option overrides part of the default tensor type for one construction.
type Option func(*registry.Descriptor)

// WithKind selects the element kind.
func WithKind(k dtype.Kind) Option {
	return func(d *registry.Descriptor) { d.Kind = k }
}

// WithBackend selects the backend.
func WithBackend(backend string) Option {
	return func(d *registry.Descriptor) { d.Backend = backend }
}

// Resolve applies opts to the default tensor type and returns its factory.
// Without WithKind, the kind is the default element kind.
func (c *Context) Resolve(opts ...Option) (registry.Factory, error) {
	d := c.Defaults.DefaultTensorType()
	for _, opt := range opts {
		opt(&d)
	}
	return c.Registry.ResolveDescriptor(d)
}

// Empty returns a zero-filled contiguous tensor.
func (c *Context) Empty(ctx context.Context, shape tensor.Shape, opts ...Option) (*tensor.View, error) {
	f, err := c.Resolve(opts...)
	if err != nil {
		return nil, err
	}
	return f.NewTensor(ctx, shape)
}

// Zeros is Empty; fresh storage is always zero-filled.
func (c *Context) Zeros(ctx context.Context, shape tensor.Shape, opts ...Option) (*tensor.View, error) {
	return c.Empty(ctx, shape, opts...)
}

// FromFloat64s builds a tensor of shape holding data in row-major order,
// converted to the resolved kind. A nil shape means a 1-D tensor.
func (c *Context) FromFloat64s(ctx context.Context, data []float64, shape tensor.Shape, opts ...Option) (*tensor.View, error) {
	if shape == nil {
		shape = tensor.Shape{len(data)}
	}
	if err := shape.Validate(); err != nil {
		return nil, err
	}
	if n := shape.NumElements(); n != len(data) {
		return nil, errors.Errorf("from float64s: %d values for shape %v", len(data), shape)
	}

	v, err := c.Empty(ctx, shape, opts...)
	if err != nil {
		return nil, err
	}
	s := v.Storage()
	for i, x := range data {
		if err := s.SetAt(i, x); err != nil {
			v.Release()
			return nil, err
		}
	}
	return v, nil
}

// Storage allocates count elements with the resolved type.
func (c *Context) Storage(ctx context.Context, count int, opts ...Option) (*storage.Storage, error) {
	f, err := c.Resolve(opts...)
	if err != nil {
		return nil, err
	}
	return f.NewStorage(ctx, count)
}

// IsTensor reports whether v is a tensor view.
func IsTensor(v any) bool {
	_, ok := v.(*tensor.View)
	return ok
}

// IsStorage reports whether v is a storage.
func IsStorage(v any) bool {
	_, ok := v.(*storage.Storage)
	return ok
}

// TypeName returns the canonical type name of views and storages, e.g.
// "cpu.FloatTensor" or "arrow.HalfStorage", and the Go type name of
// anything else.
func TypeName(v any) string {
	switch x := v.(type) {
	case *tensor.View:
		return registry.Descriptor{Backend: x.Storage().Backend(), Kind: x.Kind()}.Name()
	case *storage.Storage:
		return registry.Descriptor{Backend: x.Backend(), Kind: x.Kind()}.StorageName()
	default:
		return fmt.Sprintf("%T", v)
	}
}
