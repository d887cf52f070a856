package autopilot

import "fmt"

// Config holds the calibrated constants of the controller. All budgets are
// counted in ticks; converting wall-clock durations is the caller's job
// (see internal/config).
type Config struct {
	// Obstacle thresholds, in centimetres.
	BaseThreshold      float64
	ThresholdIncrement float64
	// ThresholdCap bounds escalation. Zero leaves it unbounded.
	ThresholdCap     float64
	CriticalDistance float64
	// ClearDistance ends a sweep early once a reading exceeds it.
	ClearDistance float64

	CruiseSpeed int
	BackSpeed   int
	// TurnRate is the steering command magnitude used while turning or
	// rotating in place.
	TurnRate int

	// FullRotationTicks is how many ticks at TurnRate make one 360° turn.
	FullRotationTicks int
	RotateScanTicks   int
	PanTiltScanTicks  int
	PanMin            int
	PanMax            int
	BackTicks         int

	ScanStrategy ScanStrategy

	// CruiseDistancePerTick and AreaScanInterval drive periodic area scans
	// while cruising, in metres. A zero interval disables them.
	CruiseDistancePerTick float64
	AreaScanInterval      float64
	AreaScanAngle         float64
	// AreaScanState replaces the pan/tilt sweep of an area scan with a
	// registered state, e.g. a target detector.
	AreaScanState State

	MaxTransitionsPerTick int
}

// DefaultConfig returns the PiCar-X calibration: 10ms ticks, 3s for a full
// rotation at turn rate 30.
func DefaultConfig() Config {
	return Config{
		BaseThreshold:         35,
		ThresholdIncrement:    20,
		CriticalDistance:      15,
		ClearDistance:         100,
		CruiseSpeed:           50,
		BackSpeed:             50,
		TurnRate:              30,
		FullRotationTicks:     300,
		RotateScanTicks:       300,
		PanTiltScanTicks:      60,
		PanMin:                -30,
		PanMax:                30,
		BackTicks:             200,
		ScanStrategy:          ScanRotate,
		AreaScanAngle:         45,
		MaxTransitionsPerTick: 8,
	}
}

// Validate checks that the configuration can drive a controller.
func (c Config) Validate() error {
	if c.BaseThreshold <= 0 {
		return fmt.Errorf("base threshold must be positive, got %v", c.BaseThreshold)
	}
	if c.ThresholdIncrement < 0 {
		return fmt.Errorf("threshold increment must be non-negative, got %v", c.ThresholdIncrement)
	}
	if c.ThresholdCap != 0 && c.ThresholdCap < c.BaseThreshold {
		return fmt.Errorf("threshold cap %v is below the base threshold %v", c.ThresholdCap, c.BaseThreshold)
	}
	if c.CriticalDistance < 0 || c.CriticalDistance > c.BaseThreshold {
		return fmt.Errorf("critical distance %v must be between 0 and the base threshold %v", c.CriticalDistance, c.BaseThreshold)
	}
	if c.ClearDistance <= 0 {
		return fmt.Errorf("clear distance must be positive, got %v", c.ClearDistance)
	}
	if c.CruiseSpeed <= 0 {
		return fmt.Errorf("cruise speed must be positive, got %d", c.CruiseSpeed)
	}
	if c.BackSpeed < 0 {
		return fmt.Errorf("back speed must be non-negative, got %d", c.BackSpeed)
	}
	if c.TurnRate <= 0 {
		return fmt.Errorf("turn rate must be positive, got %d", c.TurnRate)
	}
	for name, v := range map[string]int{
		"full rotation ticks": c.FullRotationTicks,
		"rotate scan ticks":   c.RotateScanTicks,
		"pan/tilt scan ticks": c.PanTiltScanTicks,
		"back ticks":          c.BackTicks,
	} {
		if v <= 0 {
			return fmt.Errorf("%s must be positive, got %d", name, v)
		}
	}
	if c.PanMin >= c.PanMax {
		return fmt.Errorf("pan range [%d, %d] is empty", c.PanMin, c.PanMax)
	}
	if c.ScanStrategy != ScanRotate && c.ScanStrategy != ScanPanTilt {
		return fmt.Errorf("scan strategy must be rotate or pan-tilt, got %v", c.ScanStrategy)
	}
	if c.CruiseDistancePerTick < 0 || c.AreaScanInterval < 0 {
		return fmt.Errorf("area scan distances must be non-negative")
	}
	if c.MaxTransitionsPerTick < 1 {
		return fmt.Errorf("max transitions per tick must be at least 1, got %d", c.MaxTransitionsPerTick)
	}
	return nil
}
