// Package autopilot is the per-tick decision core of the rover. A Controller
// consumes one SensorSnapshot per tick and returns one Command, running the
// multi-tick scan, turn and backing routines between ticks and draining a
// BehaviorQueue of scripted maneuvers.
//
// The package performs no I/O and never blocks: sensing happens before Step
// and actuation after it, both owned by the caller.
package autopilot

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrInvalidInput is returned by Step when the snapshot is absent or
	// carries no ranging reading at all.
	ErrInvalidInput = errors.New("invalid sensor input")

	// ErrUnknownState is a configuration error: the controller was asked to
	// enter or dispatch a state that has no handler.
	ErrUnknownState = errors.New("unknown state")

	// ErrEmptyQueue is returned when a routine finished, expected a queued
	// maneuver, and found none.
	ErrEmptyQueue = errors.New("behavior queue is empty")

	// ErrTransitionLoop is returned when a single tick chains more
	// transitions than Config.MaxTransitionsPerTick allows.
	ErrTransitionLoop = errors.New("too many transitions in one tick")
)

// Target is a detection centroid reported by the vision collaborator, in
// image pixels.
type Target struct {
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Confidence float64 `json:"confidence"`
}

// SensorSnapshot is the input of one tick. Distances are in centimetres.
// NaN marks a field that carried no reading this tick and +Inf means the
// sensor saw nothing within range.
type SensorSnapshot struct {
	UltrasonicDistance float64  `json:"ultrasonic_distance"`
	LidarDistance      float64  `json:"lidar_distance"`
	Targets            []Target `json:"targets,omitempty"`
}

// LidarSnapshot returns a snapshot carrying only a lidar distance.
func LidarSnapshot(d float64) *SensorSnapshot {
	return &SensorSnapshot{UltrasonicDistance: math.NaN(), LidarDistance: d}
}

// Range returns the distance the controller steers by: the lidar reading
// when present, otherwise the ultrasonic one. ok is false when neither
// field carries a reading.
func (s SensorSnapshot) Range() (d float64, ok bool) {
	if hasReading(s.LidarDistance) {
		return s.LidarDistance, true
	}
	if hasReading(s.UltrasonicDistance) {
		return s.UltrasonicDistance, true
	}
	return 0, false
}

func hasReading(d float64) bool {
	return !math.IsNaN(d) && d >= 0
}

// Command is the output of one tick, consumed immediately by the actuator.
// Bounds are enforced by the actuator, not here.
type Command struct {
	Speed int  `json:"speed"`
	Angle int  `json:"angle"`
	Pan   int  `json:"pan"`
	Tilt  int  `json:"tilt"`
	Pump  bool `json:"pump,omitempty"`
}

func (c Command) String() string {
	s := fmt.Sprintf("speed=%d angle=%d pan=%d tilt=%d", c.Speed, c.Angle, c.Pan, c.Tilt)
	if c.Pump {
		s += " pump"
	}
	return s
}

// State names the active controller state. The built-in states are listed
// below; integrators add their own through Registry.Register.
type State string

const (
	Ready    State = "ready"
	Stopped  State = "stopped"
	Cruising State = "cruising"
	Scanning State = "scanning"
	Turning  State = "turning"
	Backing  State = "backing"
)

// Builtin reports whether s is one of the six built-in states.
func (s State) Builtin() bool {
	switch s {
	case Ready, Stopped, Cruising, Scanning, Turning, Backing:
		return true
	}
	return false
}

// Transition describes one state change, delivered to OnTransition hooks.
type Transition struct {
	Tick     uint64   `json:"tick"`
	From     State    `json:"from"`
	To       State    `json:"to"`
	Maneuver Maneuver `json:"maneuver"`
}

// NormalizeAngle maps a in degrees into (-180, 180].
func NormalizeAngle(a float64) float64 {
	a = math.Mod(a, 360)
	if a <= -180 {
		a += 360
	} else if a > 180 {
		a -= 360
	}
	return a
}
