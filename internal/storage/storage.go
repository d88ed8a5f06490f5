// Package storage implements reference-counted, typed, contiguous buffers
// shared by every tensor view that aliases them.
//
// A Storage starts with one reference. Retain adds a reference for each new
// holder and Release drops one; the buffer goes back to its backend exactly
// once, when the last reference is released.
//
// Storage does not synchronize buffer mutation. Resize and element writes
// racing with reads or writes through other holders must be ordered by the
// caller. After a Resize that reports Moved, byte slices obtained earlier
// from Bytes or the typed accessors refer to freed memory.
package storage

import (
	"context"
	"fmt"
	"math"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/23skdu/longbow-tensorcore/internal/device"
	"github.com/23skdu/longbow-tensorcore/internal/dtype"
	"github.com/23skdu/longbow-tensorcore/internal/errdefs"
)

var tracer = otel.Tracer("tensorcore-storage")

var (
	errNilBackend      = errors.New("nil backend")
	errUnsupportedKind = errors.New("kind not supported by backend")
)

// Storage is a typed buffer of Len elements of Kind, allocated on a backend.
// Invariant: ByteLen() == Len() * Kind().Size().
type Storage struct {
	id      uuid.UUID
	kind    dtype.Kind
	count   int
	backend device.Backend
	data    []byte
	refs    atomic.Int64
}

// ResizeResult describes how a resize was carried out.
type ResizeResult struct {
	// Moved is true when the buffer was reallocated; earlier raw slices are
	// no longer valid.
	Moved bool
}

// Allocate returns a zero-filled storage of count elements of kind on
// backend, holding one reference.
func Allocate(ctx context.Context, backend device.Backend, kind dtype.Kind, count int) (*Storage, error) {
	_, span := tracer.Start(ctx, "storage.Allocate")
	defer span.End()

	name := backendName(backend)
	span.SetAttributes(
		attribute.String("backend", name),
		attribute.String("kind", kind.String()),
		attribute.Int("count", count),
	)

	nbytes, err := checkRequest(backend, kind, count)
	if err != nil {
		return nil, allocFailed(span, name, kind, count, nbytes, err)
	}
	buf, err := backend.Allocate(nbytes)
	if err != nil {
		return nil, allocFailed(span, name, kind, count, nbytes, err)
	}
	clear(buf)

	s := &Storage{
		id:      uuid.New(),
		kind:    kind,
		count:   count,
		backend: backend,
		data:    buf,
	}
	s.refs.Store(1)

	allocations.WithLabelValues(name, kind.String()).Inc()
	liveStorages.WithLabelValues(name).Inc()
	log.Debug().
		Str("id", s.id.String()).
		Str("backend", name).
		Str("kind", kind.String()).
		Int("count", count).
		Msg("Allocated storage")
	return s, nil
}

func checkRequest(backend device.Backend, kind dtype.Kind, count int) (int, error) {
	if backend == nil {
		return 0, errNilBackend
	}
	if !kind.Valid() || !backend.Supports(kind) {
		return 0, errors.Wrapf(errUnsupportedKind, "%s on %s", kind, backend.Name())
	}
	return byteSize(kind, count)
}

func byteSize(kind dtype.Kind, count int) (int, error) {
	if count < 0 {
		return 0, errors.Wrapf(device.ErrNegativeSize, "count %d", count)
	}
	if count > math.MaxInt/kind.Size() {
		return 0, errors.Wrapf(device.ErrTooLarge, "count %d of %s overflows int", count, kind)
	}
	return count * kind.Size(), nil
}

func allocFailed(span trace.Span, backend string, kind dtype.Kind, count, nbytes int, cause error) error {
	err := &errdefs.AllocError{
		Backend: backend,
		Kind:    kind.String(),
		Count:   count,
		Bytes:   nbytes,
		Cause:   cause,
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, "allocation failed")
	allocFailures.WithLabelValues(backend).Inc()
	log.Warn().Err(cause).Str("backend", backend).Str("kind", kind.String()).Int("count", count).Msg("Storage allocation failed")
	return err
}

func backendName(b device.Backend) string {
	if b == nil {
		return "<nil>"
	}
	return b.Name()
}

// ID returns the storage's process-unique identifier.
func (s *Storage) ID() uuid.UUID { return s.id }

// Kind returns the element kind.
func (s *Storage) Kind() dtype.Kind { return s.kind }

// Len returns the capacity in elements.
func (s *Storage) Len() int { return s.count }

// ByteLen returns the buffer length in bytes.
func (s *Storage) ByteLen() int { return len(s.data) }

// Backend returns the backend tag the buffer was allocated on.
func (s *Storage) Backend() string { return s.backend.Name() }

// Device returns the backend itself.
func (s *Storage) Device() device.Backend { return s.backend }

// Bytes returns the raw buffer. The slice is shared with every holder and
// is invalidated by Release of the last reference and by a moving Resize.
func (s *Storage) Bytes() []byte { return s.data }

// RefCount returns the current number of references.
func (s *Storage) RefCount() int64 { return s.refs.Load() }

// SharesWith reports whether s and other reference the identical buffer.
// It compares identity, never contents.
func (s *Storage) SharesWith(other *Storage) bool {
	if s == nil || other == nil {
		return false
	}
	if s == other {
		return true
	}
	if len(s.data) == 0 || len(other.data) == 0 {
		return false
	}
	return &s.data[0] == &other.data[0]
}

// Retain adds a reference and returns s. Retaining a storage whose count
// already reached zero panics: the buffer is gone and cannot be revived.
func (s *Storage) Retain() *Storage {
	for {
		n := s.refs.Load()
		if n <= 0 {
			panic(fmt.Sprintf("storage %s: retain after release", s.id))
		}
		if s.refs.CompareAndSwap(n, n+1) {
			return s
		}
	}
}

// Release drops a reference. The last release frees the buffer; releasing
// more times than the storage was retained panics.
func (s *Storage) Release() {
	for {
		n := s.refs.Load()
		if n <= 0 {
			panic(fmt.Sprintf("storage %s: release of released storage", s.id))
		}
		if s.refs.CompareAndSwap(n, n-1) {
			if n == 1 {
				s.free()
			}
			return
		}
	}
}

func (s *Storage) free() {
	name := s.backend.Name()
	s.backend.Free(s.data)
	s.data = nil

	releases.WithLabelValues(name, s.kind.String()).Inc()
	liveStorages.WithLabelValues(name).Dec()
	log.Debug().Str("id", s.id.String()).Str("backend", name).Msg("Released storage")
}

// Released reports whether the buffer has been freed.
func (s *Storage) Released() bool {
	return s.refs.Load() <= 0
}

func (s *Storage) mustBeLive() {
	if s.refs.Load() <= 0 {
		panic(fmt.Sprintf("storage %s: use after release", s.id))
	}
}

// Resize changes the capacity to newCount elements. Elements below
// min(old, new) are preserved and grown elements are zero-filled, whether
// the backend resized in place or reallocated. On failure s is unchanged.
func (s *Storage) Resize(ctx context.Context, newCount int) (ResizeResult, error) {
	s.mustBeLive()

	_, span := tracer.Start(ctx, "storage.Resize")
	defer span.End()

	name := s.backend.Name()
	span.SetAttributes(
		attribute.String("backend", name),
		attribute.String("kind", s.kind.String()),
		attribute.Int("from", s.count),
		attribute.Int("to", newCount),
	)

	nbytes, err := byteSize(s.kind, newCount)
	if err != nil {
		return ResizeResult{}, allocFailed(span, name, s.kind, newCount, nbytes, err)
	}
	old := s.data
	oldBytes := len(old)
	out, err := s.backend.Reallocate(old, nbytes)
	if err != nil {
		return ResizeResult{}, allocFailed(span, name, s.kind, newCount, nbytes, err)
	}
	if nbytes > oldBytes {
		clear(out[oldBytes:])
	}

	res := ResizeResult{Moved: device.Moved(old, out)}
	s.data = out
	s.count = newCount

	path := "inplace"
	if res.Moved {
		path = "realloc"
	}
	span.SetAttributes(attribute.String("path", path))
	resizes.WithLabelValues(name, path).Inc()
	log.Debug().
		Str("id", s.id.String()).
		Int("count", newCount).
		Str("path", path).
		Msg("Resized storage")
	return res, nil
}

// At returns element i converted to float64.
func (s *Storage) At(i int) (float64, error) {
	if i < 0 || i >= s.count {
		return 0, &errdefs.IndexError{Index: []int{i}, Shape: []int{s.count}, Dim: 0}
	}
	size := s.kind.Size()
	return dtype.Decode(s.kind, s.data[i*size:]), nil
}

// SetAt stores v as element i, converting to the storage kind.
func (s *Storage) SetAt(i int, v float64) error {
	if i < 0 || i >= s.count {
		return &errdefs.IndexError{Index: []int{i}, Shape: []int{s.count}, Dim: 0}
	}
	size := s.kind.Size()
	dtype.Encode(s.kind, s.data[i*size:], v)
	return nil
}

// Fill sets every element to v.
func (s *Storage) Fill(v float64) {
	size := s.kind.Size()
	if s.count == 0 {
		return
	}
	dtype.Encode(s.kind, s.data[:size], v)
	for i := size; i < len(s.data); i *= 2 {
		copy(s.data[i:], s.data[:i])
	}
}
