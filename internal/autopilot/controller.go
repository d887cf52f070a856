package autopilot

import (
	"errors"
	"fmt"

	"github.com/banshee-data/rover/internal/monitoring"
)

var logf = monitoring.Prefixed("autopilot")

// Controller is the tick-driven state machine. It is owned by a single
// control loop; callers on other goroutines must serialise every call.
type Controller struct {
	cfg   Config
	table map[State]Handler

	state     State
	step      int
	stepLimit int
	ticks     uint64

	threshold ThresholdPolicy
	queue     BehaviorQueue

	// Scanning working fields, valid only while state == Scanning.
	scanActive  ScanStrategy
	scanBest    float64
	scanTarget  float64
	scanHeading float64

	// Turning working field, valid only while state == Turning.
	turnDirection int

	// Strategy used by RunScan(ScanDefault).
	scanStrategy ScanStrategy

	cruiseDistance float64
	last           Command
	hooks          []func(Transition)
}

// NewController validates cfg and returns a controller in the Ready state.
// A nil registry uses the built-in states only.
func NewController(cfg Config, reg *Registry) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid autopilot config: %w", err)
	}
	if reg == nil {
		reg = NewRegistry()
	}
	if cfg.AreaScanState != "" {
		if _, ok := reg.handlers[cfg.AreaScanState]; !ok {
			return nil, fmt.Errorf("area scan state %q: %w", cfg.AreaScanState, ErrUnknownState)
		}
	}
	return &Controller{
		cfg:          cfg,
		table:        reg.table(),
		state:        Ready,
		threshold:    NewThresholdPolicy(cfg.BaseThreshold, cfg.ThresholdIncrement, cfg.ThresholdCap),
		scanStrategy: cfg.ScanStrategy,
		scanBest:     -1,
	}, nil
}

// Step consumes one snapshot and returns the command for this tick.
//
// ErrInvalidInput leaves the controller untouched and may be retried with
// the next snapshot. Every other error is fatal: the controller latches into
// Stopped and the returned command is the zero command.
func (c *Controller) Step(in *SensorSnapshot) (Command, error) {
	if in == nil {
		return Command{}, fmt.Errorf("%w: no snapshot", ErrInvalidInput)
	}
	if _, ok := in.Range(); !ok {
		return Command{}, fmt.Errorf("%w: no ranging reading", ErrInvalidInput)
	}
	c.ticks++

	cmd, err := c.dispatch(*in)
	if err != nil {
		logf("tick %d in %s: %v; stopping", c.ticks, c.state, err)
		c.halt()
		return Command{}, err
	}
	c.last = cmd
	return cmd, nil
}

func (c *Controller) dispatch(in SensorSnapshot) (Command, error) {
	for transitions := 0; ; {
		h, ok := c.table[c.state]
		if !ok {
			return Command{}, fmt.Errorf("dispatch %q: %w", c.state, ErrUnknownState)
		}
		out := h.Tick(c, in)

		var next Maneuver
		switch out.kind {
		case outcomeEmit:
			if c.step < c.stepLimit {
				c.step++
			}
			return out.cmd, nil
		case outcomeGoto:
			next = out.next
		case outcomeDone:
			m, err := c.queue.Pop()
			switch {
			case err == nil:
				next = m
			case h.Fallback != nil:
				next = h.Fallback(c)
			default:
				return Command{}, fmt.Errorf("%s finished: %w", c.state, ErrEmptyQueue)
			}
		}

		transitions++
		if transitions > c.cfg.MaxTransitionsPerTick {
			return Command{}, fmt.Errorf("%w: %d transitions, last into %s", ErrTransitionLoop, transitions, next.Target())
		}
		if err := c.enter(next); err != nil {
			return Command{}, err
		}
	}
}

// enter performs a transition: step resets to 0 and the new state's Enter
// hook fixes the step limit for the visit.
func (c *Controller) enter(m Maneuver) error {
	to := m.Target()
	h, ok := c.table[to]
	if !ok {
		return fmt.Errorf("enter %q via %s: %w", to, m, ErrUnknownState)
	}
	from := c.state
	c.state = to
	c.step = 0
	if h.Enter != nil {
		c.stepLimit = h.Enter(c, m)
	} else {
		c.stepLimit = m.Ticks
	}
	c.notify(Transition{Tick: c.ticks, From: from, To: to, Maneuver: m})
	return nil
}

func (c *Controller) notify(t Transition) {
	for _, fn := range c.hooks {
		fn(t)
	}
}

func (c *Controller) halt() {
	if c.state == Stopped {
		return
	}
	from := c.state
	c.state = Stopped
	c.step, c.stepLimit = 0, 0
	c.last = Command{}
	c.notify(Transition{Tick: c.ticks, From: from, To: Stopped, Maneuver: Resume(Stopped)})
}

// Stop moves the controller to Stopped. It stays there until Reset.
func (c *Controller) Stop() { c.halt() }

// Reset clears the behavior queue and returns the controller to Ready, from
// which the next Step resumes cruising.
func (c *Controller) Reset() {
	from := c.state
	c.queue.Clear()
	c.state = Ready
	c.step, c.stepLimit = 0, 0
	c.threshold.Reset()
	c.cruiseDistance = 0
	c.last = Command{}
	if from != Ready {
		c.notify(Transition{Tick: c.ticks, From: from, To: Ready, Maneuver: Resume(Ready)})
	}
}

// OnTransition registers fn to be called synchronously on every state change.
func (c *Controller) OnTransition(fn func(Transition)) {
	c.hooks = append(c.hooks, fn)
}

// Push appends maneuvers to the behavior queue.
func (c *Controller) Push(ms ...Maneuver) { c.queue.Push(ms...) }

// Queue exposes the behavior queue for inspection and scripting.
func (c *Controller) Queue() *BehaviorQueue { return &c.queue }

func (c *Controller) State() State { return c.state }

// Progress returns the step counter and step limit of the active state.
func (c *Controller) Progress() (step, limit int) { return c.step, c.stepLimit }

// Threshold returns the current obstacle trigger distance.
func (c *Controller) Threshold() float64 { return c.threshold.Value() }

func (c *Controller) Config() Config { return c.cfg }

// Ticks returns the number of accepted snapshots.
func (c *Controller) Ticks() uint64 { return c.ticks }

// LastCommand returns the most recently emitted command.
func (c *Controller) LastCommand() Command { return c.last }

// ScanStrategy returns the strategy RunScan(ScanDefault) will use.
func (c *Controller) ScanStrategy() ScanStrategy { return c.scanStrategy }

// SetScanStrategy swaps the default sweep strategy. A sweep already in
// progress keeps the strategy it started with.
func (c *Controller) SetScanStrategy(s ScanStrategy) error {
	if s != ScanRotate && s != ScanPanTilt {
		return fmt.Errorf("scan strategy must be rotate or pan-tilt, got %v", s)
	}
	c.scanStrategy = s
	return nil
}

// ScanResult returns the best distance and its angle from the most recent
// sweep. best is -1 before any reading was recorded.
func (c *Controller) ScanResult() (best, target float64) { return c.scanBest, c.scanTarget }

// TurnDirection is +1 or -1 while Turning.
func (c *Controller) TurnDirection() int { return c.turnDirection }

// CruiseDistance returns the distance travelled since the last area scan.
func (c *Controller) CruiseDistance() float64 { return c.cruiseDistance }

// IsFatal reports whether err latched the controller into Stopped.
func IsFatal(err error) bool {
	return err != nil && !errors.Is(err, ErrInvalidInput)
}

func enterCruise(c *Controller, _ Maneuver) int {
	c.threshold.Reset()
	return 0
}

func tickCruise(c *Controller, in SensorSnapshot) Outcome {
	d, _ := in.Range()
	switch {
	case d < c.cfg.CriticalDistance:
		return Goto(BackUp())
	case c.threshold.Obstructed(d):
		return Goto(RunScan(ScanDefault))
	}
	// Cruising never runs out of steps, so a pushed script starts here.
	if !c.queue.Empty() {
		return Done()
	}

	if c.cfg.AreaScanInterval > 0 {
		c.cruiseDistance += c.cfg.CruiseDistancePerTick
		if c.cruiseDistance >= c.cfg.AreaScanInterval {
			c.cruiseDistance = 0
			probe := RunScan(ScanPanTilt)
			if c.cfg.AreaScanState != "" {
				probe = Run(c.cfg.AreaScanState, 0)
			}
			c.queue.Push(ScanArea(c.cfg.AreaScanAngle, probe)...)
			return Done()
		}
	}
	return Emit(Command{Speed: c.cfg.CruiseSpeed})
}
