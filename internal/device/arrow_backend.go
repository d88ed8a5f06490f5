package device

import (
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/23skdu/longbow-tensorcore/internal/dtype"
)

var _ Backend = (*ArrowBackend)(nil)

// ArrowName is the backend tag of arrow-allocated buffers.
const ArrowName = "arrow"

// ArrowBackend allocates 64-byte aligned buffers through an arrow memory
// allocator, so storages can be handed to arrow arrays without copying.
// Quantized kinds have no arrow counterpart and are not supported.
type ArrowBackend struct {
	mem   memory.Allocator
	stats usage
}

// NewArrowBackend wraps mem; a nil mem selects the arrow Go allocator.
func NewArrowBackend(mem memory.Allocator) *ArrowBackend {
	if mem == nil {
		mem = memory.NewGoAllocator()
	}
	return &ArrowBackend{mem: mem}
}

func (b *ArrowBackend) Name() string {
	return ArrowName
}

func (b *ArrowBackend) Supports(k dtype.Kind) bool {
	return k.Valid() && !k.IsQuantized()
}

// Allocator exposes the underlying arrow allocator.
func (b *ArrowBackend) Allocator() memory.Allocator {
	return b.mem
}

func (b *ArrowBackend) Allocate(nbytes int) ([]byte, error) {
	if err := checkSize(ArrowName, "allocate", nbytes); err != nil {
		return nil, err
	}
	if nbytes == 0 {
		return []byte{}, nil
	}
	buf, err := guardAlloc(ArrowName, nbytes, func() []byte { return b.mem.Allocate(nbytes) })
	if err != nil {
		return nil, err
	}
	b.stats.add(ArrowName, int64(nbytes))
	return buf, nil
}

func (b *ArrowBackend) Reallocate(buf []byte, nbytes int) ([]byte, error) {
	if err := checkSize(ArrowName, "reallocate", nbytes); err != nil {
		return nil, err
	}
	// arrow allocators track buffers by their first byte; empty buffers
	// never reach the allocator.
	if len(buf) == 0 {
		b.Free(buf)
		return b.Allocate(nbytes)
	}
	if nbytes == 0 {
		b.Free(buf)
		return b.Allocate(0)
	}
	out, err := guardAlloc(ArrowName, nbytes, func() []byte { return b.mem.Reallocate(nbytes, buf) })
	if err != nil {
		return nil, err
	}
	b.stats.add(ArrowName, int64(nbytes-len(buf)))
	return out, nil
}

func (b *ArrowBackend) Free(buf []byte) {
	if len(buf) == 0 {
		return
	}
	b.stats.add(ArrowName, -int64(len(buf)))
	b.mem.Free(buf)
}

func (b *ArrowBackend) Usage() Usage {
	return b.stats.snapshot()
}

func (b *ArrowBackend) Synchronize() {}
