package autopilot

import (
	"fmt"
	"math"
	"strings"
)

// ScanStrategy selects how a sweep moves the sensor.
type ScanStrategy int

const (
	// ScanDefault defers to the controller's active strategy.
	ScanDefault ScanStrategy = iota
	// ScanRotate turns the body through a full circle.
	ScanRotate
	// ScanPanTilt sweeps only the sensor head across [PanMin, PanMax].
	ScanPanTilt
)

func (s ScanStrategy) String() string {
	switch s {
	case ScanDefault:
		return "default"
	case ScanRotate:
		return "rotate"
	case ScanPanTilt:
		return "pan-tilt"
	}
	return fmt.Sprintf("ScanStrategy(%d)", int(s))
}

func (s ScanStrategy) MarshalText() ([]byte, error) {
	if s < ScanDefault || s > ScanPanTilt {
		return nil, fmt.Errorf("unknown scan strategy %d", int(s))
	}
	return []byte(s.String()), nil
}

func (s *ScanStrategy) UnmarshalText(b []byte) error {
	switch strings.ToLower(strings.TrimSpace(string(b))) {
	case "", "default":
		*s = ScanDefault
	case "rotate":
		*s = ScanRotate
	case "pan-tilt", "pantilt", "pan_tilt":
		*s = ScanPanTilt
	default:
		return fmt.Errorf("unknown scan strategy %q", string(b))
	}
	return nil
}

func enterScan(c *Controller, m Maneuver) int {
	s := m.Scan
	if s == ScanDefault {
		s = c.scanStrategy
	}
	c.scanActive = s
	c.scanBest = -1
	c.scanTarget = 0
	c.scanHeading = 0
	if s == ScanPanTilt {
		return c.cfg.PanTiltScanTicks
	}
	return c.cfg.RotateScanTicks
}

// scanAngle is the heading sampled at step of the active sweep.
func (c *Controller) scanAngle(step int) float64 {
	if c.scanActive == ScanPanTilt {
		span := float64(c.cfg.PanMax - c.cfg.PanMin)
		return float64(c.cfg.PanMin) + span*float64(step)/float64(c.stepLimit)
	}
	return float64(step) * 360 / float64(c.stepLimit)
}

func tickScan(c *Controller, in SensorSnapshot) Outcome {
	if c.step >= c.stepLimit {
		return Done()
	}
	d, _ := in.Range()
	angle := c.scanAngle(c.step)
	if d > c.scanBest {
		c.scanBest = d
		c.scanTarget = angle
	}
	if c.scanBest > c.cfg.ClearDistance {
		// Clear enough; stop sweeping where we are.
		c.step = c.stepLimit
		if c.scanActive == ScanRotate {
			c.scanHeading = angle
		}
		return Done()
	}

	if c.scanActive == ScanPanTilt {
		return Emit(Command{Pan: int(math.Round(angle))})
	}
	c.scanHeading = c.scanAngle(c.step + 1)
	return Emit(Command{Angle: c.cfg.TurnRate})
}

// finishScan decides what follows a sweep when nothing is queued: back off
// and relax the threshold if no heading was clear enough, otherwise turn
// toward the best one relative to where the body now points.
func finishScan(c *Controller) Maneuver {
	if c.scanBest < c.threshold.Value() {
		prev := c.threshold.Value()
		next := c.threshold.Escalate()
		if c.threshold.Capped() {
			logf("scan best %.1fcm below threshold %.1fcm; threshold capped at %.1fcm", c.scanBest, prev, next)
		} else {
			logf("scan best %.1fcm below threshold %.1fcm; escalating to %.1fcm", c.scanBest, prev, next)
		}
		return BackUp()
	}
	return TurnTo(NormalizeAngle(c.scanTarget - c.scanHeading))
}
