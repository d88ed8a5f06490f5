package registry

import (
	"context"

	"github.com/23skdu/longbow-tensorcore/internal/device"
	"github.com/23skdu/longbow-tensorcore/internal/dtype"
	"github.com/23skdu/longbow-tensorcore/internal/storage"
	"github.com/23skdu/longbow-tensorcore/internal/tensor"
)

// Factory constructs storages and tensors of one concrete type.
type Factory interface {
	Descriptor() Descriptor
	NewStorage(ctx context.Context, count int) (*storage.Storage, error)
	NewTensor(ctx context.Context, shape tensor.Shape) (*tensor.View, error)
}

var _ Factory = (*BackendFactory)(nil)

// BackendFactory allocates from a device backend.
type BackendFactory struct {
	desc    Descriptor
	backend device.Backend
}

// NewBackendFactory returns the factory for kind on backend.
func NewBackendFactory(backend device.Backend, kind dtype.Kind) *BackendFactory {
	return &BackendFactory{
		desc:    Descriptor{Backend: backend.Name(), Kind: kind},
		backend: backend,
	}
}

func (f *BackendFactory) Descriptor() Descriptor { return f.desc }

// Backend returns the device the factory allocates from.
func (f *BackendFactory) Backend() device.Backend { return f.backend }

// NewStorage allocates count zeroed elements.
func (f *BackendFactory) NewStorage(ctx context.Context, count int) (*storage.Storage, error) {
	return storage.Allocate(ctx, f.backend, f.desc.Kind, count)
}

// NewTensor allocates a zeroed contiguous tensor of shape. The returned view
// holds the only reference to its storage.
func (f *BackendFactory) NewTensor(ctx context.Context, shape tensor.Shape) (*tensor.View, error) {
	if err := shape.Validate(); err != nil {
		return nil, err
	}
	s, err := f.NewStorage(ctx, shape.NumElements())
	if err != nil {
		return nil, err
	}
	defer s.Release()
	return tensor.Contiguous(s, shape)
}
