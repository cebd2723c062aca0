package limiter

// Limiter bounds how many units of work may be in flight at once.
type Limiter interface {
	// Allow claims one unit without blocking, reporting success.
	Allow() bool
	// Revert returns one previously claimed unit.
	// Callers must pair it with exactly one successful Allow.
	Revert()
}

type chanLimiter struct {
	c chan struct{}
}

// NewLimiter returns a channel-token Limiter with capacity n.
func NewLimiter(n uint32) Limiter {
	return &chanLimiter{
		c: make(chan struct{}, n),
	}
}

func (l *chanLimiter) Allow() bool {
	select {
	case l.c <- struct{}{}:
		return true
	default:
		return false
	}
}

func (l *chanLimiter) Revert() {
	<-l.c
}
