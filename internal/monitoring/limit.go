package monitoring

import (
	"sync"
	"time"
)

// Limiter passes at most one message per interval through Logf and counts
// the rest. Sensor faults repeat at the tick rate; this keeps them readable.
type Limiter struct {
	every time.Duration
	now   func() time.Time

	mu         sync.Mutex
	last       time.Time
	suppressed int
}

// NewLimiter returns a limiter using the wall clock.
func NewLimiter(every time.Duration) *Limiter {
	return &Limiter{every: every, now: time.Now}
}

// Logf logs through the package logger unless a message went out less than
// the interval ago. The first message after a quiet spell reports how many
// were dropped.
func (l *Limiter) Logf(format string, v ...interface{}) {
	l.mu.Lock()
	now := l.now()
	if !l.last.IsZero() && now.Sub(l.last) < l.every {
		l.suppressed++
		l.mu.Unlock()
		return
	}
	n := l.suppressed
	l.last, l.suppressed = now, 0
	l.mu.Unlock()

	if n > 0 {
		format += " (%d similar suppressed)"
		v = append(v, n)
	}
	Logf(format, v...)
}

// Suppressed returns how many messages were dropped since the last one
// logged.
func (l *Limiter) Suppressed() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.suppressed
}
