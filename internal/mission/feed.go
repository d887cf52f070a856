package mission

import (
	"sync"
	"time"

	"github.com/banshee-data/rover/internal/autopilot"
	"github.com/banshee-data/rover/internal/timeutil"
)

// TargetFeed holds the latest detections posted by the vision service. The
// HTTP handler publishes from its own goroutine while the control loop reads.
type TargetFeed struct {
	mu      sync.Mutex
	clock   timeutil.Clock
	maxAge  time.Duration
	targets []autopilot.Target
	at      time.Time
}

// NewTargetFeed returns a feed whose detections expire after maxAge. A nil
// clock uses the wall clock.
func NewTargetFeed(maxAge time.Duration, clock timeutil.Clock) *TargetFeed {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &TargetFeed{clock: clock, maxAge: maxAge}
}

// Publish replaces the current detections.
func (f *TargetFeed) Publish(ts []autopilot.Target) {
	cp := make([]autopilot.Target, len(ts))
	copy(cp, ts)
	f.mu.Lock()
	f.targets = cp
	f.at = f.clock.Now()
	f.mu.Unlock()
}

// Latest returns the detections, or nil once they are older than maxAge.
func (f *TargetFeed) Latest() []autopilot.Target {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.targets == nil || (f.maxAge > 0 && f.clock.Since(f.at) > f.maxAge) {
		return nil
	}
	cp := make([]autopilot.Target, len(f.targets))
	copy(cp, f.targets)
	return cp
}
