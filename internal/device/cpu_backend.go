package device

import (
	"math/bits"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/23skdu/longbow-tensorcore/internal/dtype"
)

// ensure interface compliance
var _ Backend = (*CPUBackend)(nil)

const (
	// CPUName is the backend tag of host memory buffers.
	CPUName = "cpu"

	// Buffers smaller than 1<<minBucket bytes share the smallest bucket.
	minBucket = 6
	// Buffers larger than 1<<maxBucket bytes are never pooled.
	maxBucket = 30
	// maxPerBucket caps idle buffers retained per bucket.
	maxPerBucket = 16
)

// CPUBackend hands out Go heap buffers. With pooling enabled, freed buffers
// are kept in power-of-two buckets and reused; reallocation is in place
// whenever the buffer's capacity already covers the new size.
type CPUBackend struct {
	mu      sync.Mutex
	buckets map[int][][]byte
	pooling bool
	stats   usage
}

// NewCPUBackend returns a host backend. pooling enables buffer reuse.
func NewCPUBackend(pooling bool) *CPUBackend {
	return &CPUBackend{
		buckets: make(map[int][][]byte),
		pooling: pooling,
	}
}

func (b *CPUBackend) Name() string {
	return CPUName
}

// Supports reports true for every kind; host memory has no layout limits.
func (b *CPUBackend) Supports(k dtype.Kind) bool {
	return k.Valid()
}

// getBucket maps a byte size to the exponent of the smallest power of two
// that holds it.
func getBucket(size int) int {
	if size <= 1<<minBucket {
		return minBucket
	}
	return bits.Len(uint(size - 1))
}

func (b *CPUBackend) Allocate(nbytes int) ([]byte, error) {
	if err := checkSize(CPUName, "allocate", nbytes); err != nil {
		return nil, err
	}
	var buf []byte
	if b.pooling && nbytes > 0 {
		buf = b.getPooledBuffer(nbytes)
	}
	if buf == nil {
		capacity := nbytes
		if b.pooling && nbytes > 0 && getBucket(nbytes) <= maxBucket {
			capacity = 1 << getBucket(nbytes)
		}
		var err error
		buf, err = guardAlloc(CPUName, nbytes, func() []byte { return make([]byte, nbytes, capacity) })
		if err != nil {
			return nil, err
		}
	}
	b.stats.add(CPUName, int64(nbytes))
	return buf, nil
}

func (b *CPUBackend) getPooledBuffer(nbytes int) []byte {
	bucket := getBucket(nbytes)
	if bucket > maxBucket {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	list := b.buckets[bucket]
	if len(list) == 0 {
		poolMisses.WithLabelValues(CPUName).Inc()
		return nil
	}
	buf := list[len(list)-1]
	b.buckets[bucket] = list[:len(list)-1]

	poolHits.WithLabelValues(CPUName).Inc()
	poolSizeBytes.WithLabelValues(CPUName).Sub(float64(cap(buf)))
	poolBuffers.WithLabelValues(CPUName).Dec()
	return buf[:nbytes]
}

func (b *CPUBackend) Reallocate(buf []byte, nbytes int) ([]byte, error) {
	if err := checkSize(CPUName, "reallocate", nbytes); err != nil {
		return nil, err
	}
	if nbytes <= cap(buf) {
		b.stats.add(CPUName, int64(nbytes-len(buf)))
		return buf[:nbytes], nil
	}
	out, err := b.Allocate(nbytes)
	if err != nil {
		return nil, err
	}
	copy(out, buf)
	b.Free(buf)
	return out, nil
}

func (b *CPUBackend) Free(buf []byte) {
	b.stats.add(CPUName, -int64(len(buf)))
	if !b.pooling || cap(buf) == 0 {
		return
	}
	c := cap(buf)
	// Only buffers minted by this pool have an exact power-of-two capacity.
	if c&(c-1) != 0 || c < 1<<minBucket || c > 1<<maxBucket {
		return
	}
	b.returnToPool(buf[:0])
}

func (b *CPUBackend) returnToPool(buf []byte) {
	bucket := getBucket(cap(buf))

	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.buckets[bucket]) >= maxPerBucket {
		return
	}
	b.buckets[bucket] = append(b.buckets[bucket], buf)

	poolSizeBytes.WithLabelValues(CPUName).Add(float64(cap(buf)))
	poolBuffers.WithLabelValues(CPUName).Inc()
}

// Drain drops every idle pooled buffer.
func (b *CPUBackend) Drain() {
	b.mu.Lock()
	defer b.mu.Unlock()

	var n, size int
	for bucket, list := range b.buckets {
		for _, buf := range list {
			size += cap(buf)
		}
		n += len(list)
		delete(b.buckets, bucket)
	}
	poolSizeBytes.WithLabelValues(CPUName).Sub(float64(size))
	poolBuffers.WithLabelValues(CPUName).Sub(float64(n))
	log.Debug().Int("buffers", n).Int("bytes", size).Msg("Drained CPU buffer pool")
}

func (b *CPUBackend) Usage() Usage {
	return b.stats.snapshot()
}

func (b *CPUBackend) Synchronize() {
	// CPU is always synchronous
}
