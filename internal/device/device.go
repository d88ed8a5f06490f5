package device

import (
	"runtime"
	"sync/atomic"
	"unsafe"

	"github.com/pkg/errors"

	"github.com/23skdu/longbow-tensorcore/internal/dtype"
)

// Backend allocates and frees the byte buffers that back storages.
// A backend is identified by its Name, which doubles as the backend tag in
// type names ("cpu.FloatTensor").
type Backend interface {
	// Name returns the backend tag, e.g. "cpu".
	Name() string

	// Supports reports whether buffers of kind k may be allocated here.
	Supports(k dtype.Kind) bool

	// Allocate returns a buffer of exactly nbytes. Contents are unspecified;
	// callers that need zeroed memory clear it themselves.
	Allocate(nbytes int) ([]byte, error)

	// Reallocate resizes buf to nbytes, preserving min(len(buf), nbytes)
	// leading bytes. The result either aliases buf (in place) or is a new
	// buffer, in which case buf has already been freed and must not be used.
	Reallocate(buf []byte, nbytes int) ([]byte, error)

	// Free returns buf to the backend. buf must be a slice previously
	// returned by Allocate or Reallocate, with the same length.
	Free(buf []byte)

	// Usage reports bytes currently handed out and the high-water mark.
	Usage() Usage

	// Synchronize blocks until all queued work is complete.
	Synchronize()
}

// Usage is a snapshot of a backend's byte accounting.
type Usage struct {
	Live int64
	Peak int64
}

var (
	// ErrNegativeSize is returned for negative byte counts.
	ErrNegativeSize = errors.New("device: negative allocation size")
	// ErrBudgetExceeded is returned by Limited when a request would exceed
	// the configured byte budget.
	ErrBudgetExceeded = errors.New("device: memory budget exceeded")
	// ErrTooLarge is returned when a single buffer cannot be made at all.
	ErrTooLarge = errors.New("device: buffer too large")
)

// MaxBufferBytes bounds one host buffer.
const MaxBufferBytes int64 = 1 << 40

func checkSize(backend, op string, nbytes int) error {
	if nbytes < 0 {
		return errors.Wrapf(ErrNegativeSize, "%s %s %d", backend, op, nbytes)
	}
	if int64(nbytes) > MaxBufferBytes {
		return errors.Wrapf(ErrTooLarge, "%s %s %d bytes, limit %d", backend, op, nbytes, MaxBufferBytes)
	}
	return nil
}

// guardAlloc runs fn and turns a runtime allocation panic (makeslice out of
// range) into ErrTooLarge.
func guardAlloc(backend string, nbytes int, fn func() []byte) (buf []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			if _, ok := r.(runtime.Error); !ok {
				panic(r)
			}
			buf, err = nil, errors.Wrapf(ErrTooLarge, "%s allocate %d bytes: %v", backend, nbytes, r)
		}
	}()
	return fn(), nil
}

// usage tracks live and peak bytes with atomics so Usage never blocks.
type usage struct {
	live atomic.Int64
	peak atomic.Int64
}

func (u *usage) add(backend string, delta int64) {
	live := u.live.Add(delta)
	liveBytes.WithLabelValues(backend).Set(float64(live))
	for {
		peak := u.peak.Load()
		if live <= peak || u.peak.CompareAndSwap(peak, live) {
			return
		}
	}
}

func (u *usage) snapshot() Usage {
	return Usage{Live: u.live.Load(), Peak: u.peak.Load()}
}

// Moved reports whether a reallocation returned a different buffer than it
// was given. Shrinking to zero length in place does not count as a move.
func Moved(before, after []byte) bool {
	return unsafe.SliceData(before) != unsafe.SliceData(after)
}
