// Package actuator turns autopilot commands into hardware writes. Bounds
// are enforced here; the autopilot emits raw intents.
package actuator

import (
	"context"
	"fmt"
	"sync"

	"github.com/banshee-data/rover/internal/autopilot"
	"github.com/banshee-data/rover/internal/monitoring"
	"github.com/banshee-data/rover/internal/serialmux"
)

var logf = monitoring.Prefixed("actuator")

// Actuator applies one command per tick.
type Actuator interface {
	Apply(ctx context.Context, cmd autopilot.Command) error
	// Halt stops motors and the pump, whatever state the loop is in.
	Halt(ctx context.Context) error
}

// Limits bounds every command before it reaches the hardware.
type Limits struct {
	MaxSpeed int `json:"max_speed"`
	MaxAngle int `json:"max_angle"`
	MaxPan   int `json:"max_pan"`
	MaxTilt  int `json:"max_tilt"`
}

// DefaultLimits matches the PiCar-X: full motor power range and ±30° on the
// steering and camera servos.
func DefaultLimits() Limits {
	return Limits{MaxSpeed: 100, MaxAngle: 30, MaxPan: 30, MaxTilt: 30}
}

// Clamp returns cmd with every field inside the limits.
func (l Limits) Clamp(cmd autopilot.Command) autopilot.Command {
	cmd.Speed = clamp(cmd.Speed, l.MaxSpeed)
	cmd.Angle = clamp(cmd.Angle, l.MaxAngle)
	cmd.Pan = clamp(cmd.Pan, l.MaxPan)
	cmd.Tilt = clamp(cmd.Tilt, l.MaxTilt)
	return cmd
}

func clamp(v, limit int) int {
	switch {
	case v > limit:
		return limit
	case v < -limit:
		return -limit
	}
	return v
}

// LogActuator logs command changes and drives nothing. It stands in for the
// hardware in dry runs.
type LogActuator struct {
	limits Limits
	mu     sync.Mutex
	last   autopilot.Command
	seen   bool
}

func NewLogActuator(limits Limits) *LogActuator {
	return &LogActuator{limits: limits}
}

func (a *LogActuator) Apply(_ context.Context, cmd autopilot.Command) error {
	cmd = a.limits.Clamp(cmd)
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.seen && cmd == a.last {
		return nil
	}
	a.last, a.seen = cmd, true
	logf("%s", cmd)
	return nil
}

func (a *LogActuator) Halt(ctx context.Context) error {
	return a.Apply(ctx, autopilot.Command{})
}

// LineActuator writes commands to the motor controller board as text lines:
//
//	M <speed> <angle> <pan> <tilt> <pump>
//
// Repeated identical commands are not resent; the board holds its last
// setting.
type LineActuator struct {
	mux    serialmux.SerialMuxInterface
	limits Limits

	mu   sync.Mutex
	last autopilot.Command
	seen bool
}

func NewLineActuator(mux serialmux.SerialMuxInterface, limits Limits) *LineActuator {
	return &LineActuator{mux: mux, limits: limits}
}

// FormatCommand renders cmd in the board's line protocol.
func FormatCommand(cmd autopilot.Command) string {
	pump := 0
	if cmd.Pump {
		pump = 1
	}
	return fmt.Sprintf("M %d %d %d %d %d", cmd.Speed, cmd.Angle, cmd.Pan, cmd.Tilt, pump)
}

func (a *LineActuator) Apply(_ context.Context, cmd autopilot.Command) error {
	cmd = a.limits.Clamp(cmd)
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.seen && cmd == a.last {
		return nil
	}
	if err := a.mux.SendCommand(FormatCommand(cmd)); err != nil {
		return fmt.Errorf("send motor command: %w", err)
	}
	a.last, a.seen = cmd, true
	return nil
}

// Halt always writes, even if the board was last told to stop.
func (a *LineActuator) Halt(_ context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.mux.SendCommand(FormatCommand(autopilot.Command{})); err != nil {
		return fmt.Errorf("halt motors: %w", err)
	}
	a.last, a.seen = autopilot.Command{}, true
	return nil
}
