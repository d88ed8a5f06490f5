package device

import (
	"github.com/pkg/errors"
	"golang.org/x/sync/semaphore"

	"github.com/23skdu/longbow-tensorcore/internal/dtype"
)

var _ Backend = (*Limited)(nil)

// Limited caps the bytes a backend may hand out at once. Requests that would
// exceed the budget fail immediately with ErrBudgetExceeded instead of
// waiting for memory to be freed.
type Limited struct {
	Backend
	budget int64
	sem    *semaphore.Weighted
}

// NewLimited wraps inner with a budget of maxBytes.
func NewLimited(inner Backend, maxBytes int64) *Limited {
	return &Limited{
		Backend: inner,
		budget:  maxBytes,
		sem:     semaphore.NewWeighted(maxBytes),
	}
}

// Budget returns the configured byte budget.
func (l *Limited) Budget() int64 {
	return l.budget
}

func (l *Limited) Supports(k dtype.Kind) bool {
	return l.Backend.Supports(k)
}

func (l *Limited) Allocate(nbytes int) ([]byte, error) {
	if nbytes < 0 {
		return nil, errors.Wrapf(ErrNegativeSize, "%s allocate %d", l.Name(), nbytes)
	}
	if err := l.acquire(int64(nbytes)); err != nil {
		return nil, err
	}
	buf, err := l.Backend.Allocate(nbytes)
	if err != nil {
		l.sem.Release(int64(nbytes))
		return nil, err
	}
	return buf, nil
}

func (l *Limited) Reallocate(buf []byte, nbytes int) ([]byte, error) {
	if nbytes < 0 {
		return nil, errors.Wrapf(ErrNegativeSize, "%s reallocate %d", l.Name(), nbytes)
	}
	delta := int64(nbytes - len(buf))
	if delta > 0 {
		if err := l.acquire(delta); err != nil {
			return nil, err
		}
	}
	out, err := l.Backend.Reallocate(buf, nbytes)
	if err != nil {
		if delta > 0 {
			l.sem.Release(delta)
		}
		return nil, err
	}
	if delta < 0 {
		l.sem.Release(-delta)
	}
	return out, nil
}

func (l *Limited) Free(buf []byte) {
	l.Backend.Free(buf)
	if len(buf) > 0 {
		l.sem.Release(int64(len(buf)))
	}
}

func (l *Limited) acquire(n int64) error {
	if n == 0 {
		return nil
	}
	if !l.sem.TryAcquire(n) {
		budgetRejections.WithLabelValues(l.Name()).Inc()
		live := l.Usage().Live
		return errors.Wrapf(ErrBudgetExceeded, "%s: requested %d bytes, %d of %d in use", l.Name(), n, live, l.budget)
	}
	return nil
}
