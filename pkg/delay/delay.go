package delay

import (
	"time"
)

type Delay interface {
	Next() time.Duration
	Reset()
}

// backoff doubles in [min, max]
type backoff struct {
	d   time.Duration
	min time.Duration // default 5ms
	max time.Duration // default 1s
}

func NewBackoff(min, max time.Duration) Delay {
	if min == 0 {
		min = 5 * time.Millisecond
	}
	if max == 0 {
		max = time.Second
	}
	if min > max {
		min = max
	}
	return &backoff{
		min: min,
		max: max,
	}
}

func (b *backoff) Next() time.Duration {
	switch b.d {
	case 0:
		b.d = b.min
	case b.max:
	default:
		b.d <<= 1
		if b.d > b.max {
			b.d = b.max
		}
	}
	return b.d
}

func (b *backoff) Reset() {
	b.d = 0
}
