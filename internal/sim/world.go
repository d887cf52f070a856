// Package sim is a 2D arena for running the autopilot without hardware. The
// World answers sensor snapshots by raycasting against walls and moves the
// body when commands are applied, one tick per Apply.
package sim

import (
	"context"
	"fmt"
	"math"
	"sync"

	"gonum.org/v1/gonum/spatial/r2"

	"github.com/banshee-data/rover/internal/autopilot"
)

// Wall is a segment in centimetres.
type Wall struct {
	A, B r2.Vec
}

// Box returns the four walls of a w×h arena with a corner at the origin.
func Box(w, h float64) []Wall {
	c := []r2.Vec{{X: 0, Y: 0}, {X: w, Y: 0}, {X: w, Y: h}, {X: 0, Y: h}}
	return []Wall{{c[0], c[1]}, {c[1], c[2]}, {c[2], c[3]}, {c[3], c[0]}}
}

// Calibration maps command units onto motion per tick.
type Calibration struct {
	// DegPerAngleTick is body rotation per tick per unit of Command.Angle.
	DegPerAngleTick float64
	// CmPerSpeedTick is travel per tick per unit of Command.Speed.
	CmPerSpeedTick float64
}

// CalibrationFor matches the simulated body to cfg: FullRotationTicks at
// TurnRate make one full turn, and cruising covers cruiseCmPerTick.
func CalibrationFor(cfg autopilot.Config, cruiseCmPerTick float64) Calibration {
	return Calibration{
		DegPerAngleTick: 360 / float64(cfg.FullRotationTicks*cfg.TurnRate),
		CmPerSpeedTick:  cruiseCmPerTick / float64(cfg.CruiseSpeed),
	}
}

// Pest is a spray target on the arena floor.
type Pest struct {
	Pos     r2.Vec
	Sprayed bool
}

// Config describes an arena and the simulated body.
type Config struct {
	Walls       []Wall
	Start       r2.Vec
	HeadingDeg  float64
	Radius      float64
	MaxRange    float64
	Calibration Calibration

	Pests       []Pest
	CameraRange float64
	FrameWidth  float64
	FrameHeight float64
	FieldOfView float64
}

// Pose is the body position and heading. Heading is counter-clockwise from
// +X in degrees; a positive steering command turns clockwise.
type Pose struct {
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	HeadingDeg float64 `json:"heading_deg"`
	Pan        int     `json:"pan"`
	Tilt       int     `json:"tilt"`
}

// World is safe for concurrent use; the control loop drives it while the
// API reads the pose.
type World struct {
	cfg Config

	mu         sync.Mutex
	pos        r2.Vec
	heading    float64
	pan, tilt  int
	ticks      uint64
	collisions int
	pests      []Pest
}

func New(cfg Config) (*World, error) {
	if len(cfg.Walls) == 0 {
		return nil, fmt.Errorf("arena has no walls")
	}
	if cfg.MaxRange <= 0 {
		cfg.MaxRange = 1200
	}
	if cfg.FrameWidth <= 0 || cfg.FrameHeight <= 0 {
		cfg.FrameWidth, cfg.FrameHeight = 640, 480
	}
	if cfg.FieldOfView <= 0 {
		cfg.FieldOfView = 35
	}
	if cfg.CameraRange <= 0 {
		cfg.CameraRange = 300
	}
	w := &World{
		cfg:     cfg,
		pos:     cfg.Start,
		heading: cfg.HeadingDeg,
		pests:   append([]Pest(nil), cfg.Pests...),
	}
	if d := w.clearance(w.pos); d < cfg.Radius {
		return nil, fmt.Errorf("start position %v is %.1fcm from a wall, inside the body radius", cfg.Start, d)
	}
	return w, nil
}

func unit(deg float64) r2.Vec {
	rad := deg * math.Pi / 180
	return r2.Vec{X: math.Cos(rad), Y: math.Sin(rad)}
}

// Raycast returns the distance from p along the direction deg to the nearest
// wall, or +Inf when nothing lies within maxRange.
func Raycast(walls []Wall, p r2.Vec, deg, maxRange float64) float64 {
	d := unit(deg)
	best := math.Inf(1)
	for _, w := range walls {
		e := r2.Sub(w.B, w.A)
		denom := r2.Cross(d, e)
		if math.Abs(denom) < 1e-12 {
			continue
		}
		q := r2.Sub(w.A, p)
		t := r2.Cross(q, e) / denom
		u := r2.Cross(q, d) / denom
		if t >= 0 && u >= 0 && u <= 1 && t < best {
			best = t
		}
	}
	if best > maxRange {
		return math.Inf(1)
	}
	return best
}

// segmentDistance is the distance from p to the segment ab.
func segmentDistance(p, a, b r2.Vec) float64 {
	ab := r2.Sub(b, a)
	l2 := r2.Dot(ab, ab)
	if l2 == 0 {
		return r2.Norm(r2.Sub(p, a))
	}
	t := math.Max(0, math.Min(1, r2.Dot(r2.Sub(p, a), ab)/l2))
	return r2.Norm(r2.Sub(p, r2.Add(a, r2.Scale(t, ab))))
}

func (w *World) clearance(p r2.Vec) float64 {
	best := math.Inf(1)
	for _, wall := range w.cfg.Walls {
		best = math.Min(best, segmentDistance(p, wall.A, wall.B))
	}
	return best
}

// sensorHeading is where the head points: body heading turned clockwise by pan.
func (w *World) sensorHeading() float64 {
	return w.heading - float64(w.pan)
}

// Snapshot raycasts along the sensor head and reports pests in view.
func (w *World) Snapshot(context.Context) (*autopilot.SensorSnapshot, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	s := autopilot.LidarSnapshot(Raycast(w.cfg.Walls, w.pos, w.sensorHeading(), w.cfg.MaxRange))
	for _, p := range w.pests {
		if p.Sprayed {
			continue
		}
		if t, ok := w.project(p.Pos); ok {
			s.Targets = append(s.Targets, t)
		}
	}
	return s, nil
}

// offset is the clockwise angle in degrees from the camera axis to q.
func (w *World) offset(q r2.Vec) (offset, dist float64) {
	rel := r2.Sub(q, w.pos)
	bearing := math.Atan2(rel.Y, rel.X) * 180 / math.Pi
	return autopilot.NormalizeAngle(w.sensorHeading() - bearing), r2.Norm(rel)
}

func (w *World) project(q r2.Vec) (autopilot.Target, bool) {
	off, dist := w.offset(q)
	if dist > w.cfg.CameraRange || math.Abs(off) > w.cfg.FieldOfView/2 {
		return autopilot.Target{}, false
	}
	return autopilot.Target{
		X:          w.cfg.FrameWidth/2 + off/w.cfg.FieldOfView*w.cfg.FrameWidth,
		Y:          w.cfg.FrameHeight/2 + float64(w.tilt)/w.cfg.FieldOfView*w.cfg.FrameHeight,
		Confidence: 0.9,
	}, true
}

// Apply advances the world by one tick under cmd. Moves that would bring the
// body within its radius of a wall are refused and counted as collisions.
func (w *World) Apply(_ context.Context, cmd autopilot.Command) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.ticks++
	w.pan, w.tilt = cmd.Pan, cmd.Tilt
	w.heading = math.Mod(w.heading-float64(cmd.Angle)*w.cfg.Calibration.DegPerAngleTick, 360)

	step := r2.Scale(float64(cmd.Speed)*w.cfg.Calibration.CmPerSpeedTick, unit(w.heading))
	next := r2.Add(w.pos, step)
	if cmd.Speed != 0 {
		if w.clearance(next) < w.cfg.Radius {
			w.collisions++
		} else {
			w.pos = next
		}
	}

	if cmd.Pump {
		for i := range w.pests {
			off, dist := w.offset(w.pests[i].Pos)
			if !w.pests[i].Sprayed && dist <= w.cfg.CameraRange && math.Abs(off) <= w.cfg.FieldOfView/4 {
				w.pests[i].Sprayed = true
			}
		}
	}
	return nil
}

// Halt stops the body; the simulator has no momentum.
func (w *World) Halt(ctx context.Context) error {
	return w.Apply(ctx, autopilot.Command{})
}

func (w *World) Pose() Pose {
	w.mu.Lock()
	defer w.mu.Unlock()
	return Pose{X: w.pos.X, Y: w.pos.Y, HeadingDeg: w.heading, Pan: w.pan, Tilt: w.tilt}
}

func (w *World) Collisions() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.collisions
}

// Sprayed returns how many pests have been sprayed.
func (w *World) Sprayed() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := 0
	for _, p := range w.pests {
		if p.Sprayed {
			n++
		}
	}
	return n
}
