package registry

import (
	"strings"

	"github.com/23skdu/longbow-tensorcore/internal/dtype"
	"github.com/23skdu/longbow-tensorcore/internal/errdefs"
)

const (
	tensorSuffix  = "Tensor"
	storageSuffix = "Storage"

	legacyPrefix     = "torch."
	legacyCUDAPrefix = "torch.cuda."
)

// Descriptor names one registered concrete type.
type Descriptor struct {
	Backend string
	Kind    dtype.Kind
}

// Name returns the canonical tensor type name, e.g. "cpu.FloatTensor".
func (d Descriptor) Name() string {
	return d.Backend + "." + d.Kind.ScalarName() + tensorSuffix
}

// StorageName returns the storage type name, e.g. "cpu.FloatStorage".
func (d Descriptor) StorageName() string {
	return d.Backend + "." + d.Kind.ScalarName() + storageSuffix
}

func (d Descriptor) String() string { return d.Name() }

// ParseName parses a dotted type name without consulting any registry.
// Both the tensor and the storage form are accepted, as are the legacy
// "torch." and "torch.cuda." prefixes, which stand for the cpu and cuda
// backends.
func ParseName(name string) (Descriptor, error) {
	malformed := func(reason string) error {
		return &errdefs.NameError{Err: errdefs.ErrMalformedTypeName, Name: name, Reason: reason}
	}

	rest := strings.TrimSpace(name)
	var backend string
	switch {
	case strings.HasPrefix(rest, legacyCUDAPrefix):
		backend, rest = "cuda", strings.TrimPrefix(rest, legacyCUDAPrefix)
	case strings.HasPrefix(rest, legacyPrefix):
		backend, rest = "cpu", strings.TrimPrefix(rest, legacyPrefix)
	default:
		var ok bool
		backend, rest, ok = strings.Cut(rest, ".")
		if !ok {
			return Descriptor{}, malformed("missing backend")
		}
	}
	if err := checkBackend(backend); err != nil {
		return Descriptor{}, malformed("bad backend")
	}

	var stem string
	switch {
	case strings.HasSuffix(rest, tensorSuffix):
		stem = strings.TrimSuffix(rest, tensorSuffix)
	case strings.HasSuffix(rest, storageSuffix):
		stem = strings.TrimSuffix(rest, storageSuffix)
	default:
		return Descriptor{}, malformed("expected Tensor or Storage suffix")
	}
	kind, ok := dtype.ParseScalarName(stem)
	if !ok {
		return Descriptor{}, malformed("unknown scalar type " + stem)
	}
	return Descriptor{Backend: backend, Kind: kind}, nil
}

// checkBackend accepts lower-case identifiers such as "cpu" or "arrow".
func checkBackend(backend string) error {
	if backend == "" {
		return &errdefs.NameError{Err: errdefs.ErrMalformedTypeName, Name: backend, Reason: "empty backend"}
	}
	for _, r := range backend {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') && r != '_' {
			return &errdefs.NameError{Err: errdefs.ErrMalformedTypeName, Name: backend, Reason: "backend must be lower-case alphanumeric"}
		}
	}
	return nil
}
