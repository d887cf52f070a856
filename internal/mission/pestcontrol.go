// Package mission holds integrator behaviours built on the autopilot
// extension seams: extra registered states plus scripted maneuver queues.
package mission

import (
	"fmt"
	"math"
	"sync/atomic"

	"github.com/banshee-data/rover/internal/autopilot"
	"github.com/banshee-data/rover/internal/monitoring"
)

var logf = monitoring.Prefixed("mission")

// States registered by PestControl.
const (
	DetectingTarget autopilot.State = "detecting-target"
	Actuating       autopilot.State = "actuating"
)

// Config tunes target tracking and spraying. Angles are in degrees and
// image coordinates in pixels.
type Config struct {
	FrameWidth  float64
	FrameHeight float64
	// FieldOfView is the camera's horizontal view angle.
	FieldOfView float64
	// Gain scales each tracking correction; below 1 it damps overshoot.
	Gain float64
	// CenterTolerance is how far from the frame centre a target may sit
	// and still count as locked.
	CenterTolerance float64
	MinConfidence   float64
	PanLimit        float64
	TiltLimit       float64

	// LockTicks consecutive centred ticks trigger the sprayer.
	LockTicks   int
	DetectTicks int
	SprayTicks  int
	// ScanAngle is how far the body turns off course before looking.
	ScanAngle float64
}

func DefaultConfig() Config {
	return Config{
		FrameWidth:      640,
		FrameHeight:     480,
		FieldOfView:     35,
		Gain:            0.6,
		CenterTolerance: 40,
		MinConfidence:   0.5,
		PanLimit:        30,
		TiltLimit:       30,
		LockTicks:       5,
		DetectTicks:     60,
		SprayTicks:      150,
		ScanAngle:       45,
	}
}

func (c Config) Validate() error {
	if c.FrameWidth <= 0 || c.FrameHeight <= 0 {
		return fmt.Errorf("frame size %vx%v must be positive", c.FrameWidth, c.FrameHeight)
	}
	if c.FieldOfView <= 0 || c.Gain <= 0 {
		return fmt.Errorf("field of view and gain must be positive")
	}
	if c.LockTicks < 1 || c.DetectTicks < 1 || c.SprayTicks < 1 {
		return fmt.Errorf("lock, detect and spray ticks must be at least 1")
	}
	if c.MinConfidence < 0 || c.MinConfidence > 1 {
		return fmt.Errorf("min confidence %v must be within [0, 1]", c.MinConfidence)
	}
	return nil
}

// PestControl looks for pests at the side of the track, centres the camera
// head on the most confident detection and runs the pump once it holds the
// lock. Its states run on the controller's goroutine; only Sprays may be
// called from elsewhere.
type PestControl struct {
	cfg Config

	pan, tilt float64
	tracking  bool
	locked    int
	sprays    atomic.Int64
}

func New(cfg Config) (*PestControl, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid mission config: %w", err)
	}
	return &PestControl{cfg: cfg}, nil
}

// Register adds DetectingTarget and Actuating to reg.
func (p *PestControl) Register(reg *autopilot.Registry) error {
	if err := reg.Register(DetectingTarget, autopilot.Handler{
		Enter:    p.enterDetect,
		Tick:     p.tickDetect,
		Fallback: func(*autopilot.Controller) autopilot.Maneuver { return autopilot.Resume(autopilot.Cruising) },
	}); err != nil {
		return err
	}
	return reg.Register(Actuating, autopilot.Handler{
		Enter:    p.enterActuate,
		Tick:     p.tickActuate,
		Fallback: func(*autopilot.Controller) autopilot.Maneuver { return autopilot.Resume(autopilot.Cruising) },
	})
}

// Script is one side look: turn off course, detect and maybe spray, turn
// back and resume cruising.
func (p *PestControl) Script() []autopilot.Maneuver {
	return autopilot.ScanArea(p.cfg.ScanAngle, autopilot.Run(DetectingTarget, p.cfg.DetectTicks))
}

// Sprays returns how many times the pump has been started.
func (p *PestControl) Sprays() int { return int(p.sprays.Load()) }

// Aim returns the current head angles.
func (p *PestControl) Aim() (pan, tilt float64) { return p.pan, p.tilt }

func (p *PestControl) enterDetect(_ *autopilot.Controller, m autopilot.Maneuver) int {
	p.pan, p.tilt, p.locked, p.tracking = 0, 0, 0, false
	if m.Ticks > 0 {
		return m.Ticks
	}
	return p.cfg.DetectTicks
}

func (p *PestControl) tickDetect(c *autopilot.Controller, in autopilot.SensorSnapshot) autopilot.Outcome {
	step, limit := c.Progress()
	if step >= limit {
		return autopilot.Done()
	}

	t, ok := p.best(in.Targets)
	if !ok {
		// Sweep the head until something shows up, then hold where the
		// target was last seen.
		p.locked = 0
		if !p.tracking {
			p.pan = -p.cfg.PanLimit + 2*p.cfg.PanLimit*float64(step)/float64(limit)
		}
		return autopilot.Emit(p.head())
	}
	p.tracking = true

	ex := t.X - p.cfg.FrameWidth/2
	ey := t.Y - p.cfg.FrameHeight/2
	if math.Abs(ex) <= p.cfg.CenterTolerance && math.Abs(ey) <= p.cfg.CenterTolerance {
		p.locked++
		if p.locked >= p.cfg.LockTicks {
			return autopilot.Goto(autopilot.Run(Actuating, p.cfg.SprayTicks))
		}
		return autopilot.Emit(p.head())
	}

	p.locked = 0
	p.pan = clamp(p.pan+ex/p.cfg.FrameWidth*p.cfg.FieldOfView*p.cfg.Gain, p.cfg.PanLimit)
	p.tilt = clamp(p.tilt-ey/p.cfg.FrameHeight*p.cfg.FieldOfView*p.cfg.Gain, p.cfg.TiltLimit)
	return autopilot.Emit(p.head())
}

func (p *PestControl) enterActuate(c *autopilot.Controller, m autopilot.Maneuver) int {
	p.sprays.Add(1)
	logf("target locked at pan=%.1f tilt=%.1f; spraying (tick %d)", p.pan, p.tilt, c.Ticks())
	if m.Ticks > 0 {
		return m.Ticks
	}
	return p.cfg.SprayTicks
}

func (p *PestControl) tickActuate(c *autopilot.Controller, _ autopilot.SensorSnapshot) autopilot.Outcome {
	step, limit := c.Progress()
	if step >= limit {
		return autopilot.Done()
	}
	cmd := p.head()
	cmd.Pump = true
	return autopilot.Emit(cmd)
}

func (p *PestControl) head() autopilot.Command {
	return autopilot.Command{Pan: int(math.Round(p.pan)), Tilt: int(math.Round(p.tilt))}
}

func (p *PestControl) best(ts []autopilot.Target) (autopilot.Target, bool) {
	var best autopilot.Target
	found := false
	for _, t := range ts {
		if t.Confidence < p.cfg.MinConfidence {
			continue
		}
		if !found || t.Confidence > best.Confidence {
			best, found = t, true
		}
	}
	return best, found
}

func clamp(v, limit float64) float64 {
	if limit <= 0 {
		return v
	}
	return math.Max(-limit, math.Min(limit, v))
}
