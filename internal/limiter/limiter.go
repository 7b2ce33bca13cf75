// Package limiter provides the counting semaphore that bounds concurrent
// search calls and queue workers.
package limiter

import (
	"context"
	"runtime"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// Limiter is a fixed-size permit gate. Waiters are woken in FIFO order.
type Limiter struct {
	sem   *semaphore.Weighted
	size  int
	inUse atomic.Int64
}

// DefaultSize is half the available CPUs, never less than two.
func DefaultSize() int {
	return max(2, runtime.NumCPU()/2)
}

// New creates a Limiter with n permits. n <= 0 selects DefaultSize.
func New(n int) *Limiter {
	if n <= 0 {
		n = DefaultSize()
	}
	return &Limiter{sem: semaphore.NewWeighted(int64(n)), size: n}
}

// Acquire blocks until a permit is free or ctx is done. The returned release
// function must be called exactly once.
func (l *Limiter) Acquire(ctx context.Context) (release func(), err error) {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	l.inUse.Add(1)
	var done atomic.Bool
	return func() {
		if done.CompareAndSwap(false, true) {
			l.inUse.Add(-1)
			l.sem.Release(1)
		}
	}, nil
}

// Do runs fn while holding a permit.
func (l *Limiter) Do(ctx context.Context, fn func(context.Context) error) error {
	release, err := l.Acquire(ctx)
	if err != nil {
		return err
	}
	defer release()
	return fn(ctx)
}

// Size returns the number of permits.
func (l *Limiter) Size() int { return l.size }

// InUse returns the number of permits currently held.
func (l *Limiter) InUse() int { return int(l.inUse.Load()) }
