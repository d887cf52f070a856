package autopilot

import (
	"fmt"
	"sort"
)

// Handler is one entry of the dispatch table. Built-in and integrator states
// are both described this way.
type Handler struct {
	// Enter runs on every transition into the state, after step has been
	// reset, and returns the step limit for the visit. A nil Enter uses
	// the maneuver's Ticks.
	Enter func(c *Controller, m Maneuver) int

	// Tick runs one tick of the state. Required.
	Tick func(c *Controller, in SensorSnapshot) Outcome

	// Fallback names the next maneuver when the state finishes and the
	// behavior queue is empty. A nil Fallback makes an empty queue at that
	// point a fatal error.
	Fallback func(c *Controller) Maneuver
}

type outcomeKind int

const (
	outcomeEmit outcomeKind = iota
	outcomeDone
	outcomeGoto
)

// Outcome is what a Handler.Tick decided for the current tick.
type Outcome struct {
	kind outcomeKind
	cmd  Command
	next Maneuver
}

// Emit sends cmd as this tick's command and advances step.
func Emit(cmd Command) Outcome { return Outcome{kind: outcomeEmit, cmd: cmd} }

// Done reports that the state's routine is exhausted. The controller pops
// the behavior queue, or uses the handler's Fallback when it is empty, and
// runs the next state within the same tick.
func Done() Outcome { return Outcome{kind: outcomeDone} }

// Goto transitions to m immediately, regardless of the queue, and runs the
// new state within the same tick.
func Goto(m Maneuver) Outcome { return Outcome{kind: outcomeGoto, next: m} }

// Registry collects state handlers before a Controller is built. It starts
// out holding the six built-in states. NewController copies the table, so
// later registrations do not affect existing controllers.
type Registry struct {
	handlers map[State]Handler
}

// NewRegistry returns a registry holding the built-in states.
func NewRegistry() *Registry {
	r := &Registry{handlers: make(map[State]Handler)}
	for s, h := range builtinHandlers() {
		r.handlers[s] = h
	}
	return r
}

// Register adds an integrator state. Built-in states cannot be replaced.
func (r *Registry) Register(s State, h Handler) error {
	if s == "" {
		return fmt.Errorf("state name must not be empty")
	}
	if h.Tick == nil {
		return fmt.Errorf("state %q: handler has no Tick function", s)
	}
	if _, ok := r.handlers[s]; ok {
		return fmt.Errorf("state %q is already registered", s)
	}
	r.handlers[s] = h
	return nil
}

// States returns the registered states in name order.
func (r *Registry) States() []State {
	out := make([]State, 0, len(r.handlers))
	for s := range r.handlers {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (r *Registry) table() map[State]Handler {
	t := make(map[State]Handler, len(r.handlers))
	for s, h := range r.handlers {
		t[s] = h
	}
	return t
}

func builtinHandlers() map[State]Handler {
	return map[State]Handler{
		Ready: {
			Tick:     func(*Controller, SensorSnapshot) Outcome { return Done() },
			Fallback: func(*Controller) Maneuver { return Resume(Cruising) },
		},
		Stopped: {
			Tick: func(*Controller, SensorSnapshot) Outcome { return Emit(Command{}) },
		},
		Cruising: {
			Enter:    enterCruise,
			Tick:     tickCruise,
			Fallback: func(*Controller) Maneuver { return Resume(Cruising) },
		},
		Scanning: {
			Enter:    enterScan,
			Tick:     tickScan,
			Fallback: finishScan,
		},
		Turning: {
			Enter:    enterTurn,
			Tick:     tickTurn,
			Fallback: func(*Controller) Maneuver { return Resume(Cruising) },
		},
		Backing: {
			Enter:    enterBack,
			Tick:     tickBack,
			Fallback: func(*Controller) Maneuver { return RunScan(ScanDefault) },
		},
	}
}
