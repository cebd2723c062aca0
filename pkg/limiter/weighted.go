package limiter

import (
	"golang.org/x/sync/semaphore"
)

type weightedLimiter struct {
	sem *semaphore.Weighted
}

// NewWeighted returns a Limiter backed by a weighted semaphore.
// Capacity is fixed at creation; n == 0 refuses every Allow.
func NewWeighted(n int64) Limiter {
	return &weightedLimiter{
		sem: semaphore.NewWeighted(n),
	}
}

func (l *weightedLimiter) Allow() bool {
	return l.sem.TryAcquire(1)
}

func (l *weightedLimiter) Revert() {
	l.sem.Release(1)
}
