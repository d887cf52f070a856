package autopilot

// ThresholdPolicy holds the obstacle trigger distance. It starts at the base
// value, grows by a fixed increment after every failed sweep and only returns
// to the base when the controller re-enters Cruising.
type ThresholdPolicy struct {
	base      float64
	increment float64
	cap       float64
	current   float64
}

// NewThresholdPolicy returns a policy at its base value. A zero cap leaves
// escalation unbounded.
func NewThresholdPolicy(base, increment, cap float64) ThresholdPolicy {
	return ThresholdPolicy{base: base, increment: increment, cap: cap, current: base}
}

// Value returns the current threshold.
func (p *ThresholdPolicy) Value() float64 { return p.current }

// Reset returns the threshold to its base value.
func (p *ThresholdPolicy) Reset() { p.current = p.base }

// Obstructed reports whether d is closer than the current threshold.
func (p *ThresholdPolicy) Obstructed(d float64) bool { return d < p.current }

// Escalate raises the threshold by one increment, clamped to the cap, and
// returns the new value.
func (p *ThresholdPolicy) Escalate() float64 {
	p.current += p.increment
	if p.cap > 0 && p.current > p.cap {
		p.current = p.cap
	}
	return p.current
}

// Capped reports whether escalation has reached the configured cap.
func (p *ThresholdPolicy) Capped() bool {
	return p.cap > 0 && p.current >= p.cap
}
