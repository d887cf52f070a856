package config

import (
	"time"

	"github.com/banshee-data/rover/internal/autopilot"
	"github.com/banshee-data/rover/internal/serialmux"
)

var defaults = autopilot.DefaultConfig()

// GetTickPeriod returns the control loop period.
func (c *TuningConfig) GetTickPeriod() time.Duration {
	d := c.getDuration(c.TickPeriod, 10*time.Millisecond)
	if d <= 0 {
		return 10 * time.Millisecond
	}
	return d
}

// GetSettle returns how long actuators rest after a state change.
func (c *TuningConfig) GetSettle() time.Duration { return c.getDuration(c.Settle, 0) }

// GetSettleTicks returns GetSettle as a tick count.
func (c *TuningConfig) GetSettleTicks() int { return c.TicksFor(c.GetSettle()) }

func (c *TuningConfig) GetFlushEvery() int { return getInt(c.FlushEvery, 100) }

func (c *TuningConfig) GetBaseThreshold() float64 {
	return getFloat(c.BaseThreshold, defaults.BaseThreshold)
}

func (c *TuningConfig) GetThresholdIncrement() float64 {
	return getFloat(c.ThresholdIncrement, defaults.ThresholdIncrement)
}

// GetThresholdCap returns the escalation ceiling; zero means unbounded.
func (c *TuningConfig) GetThresholdCap() float64 {
	return getFloat(c.ThresholdCap, defaults.ThresholdCap)
}

func (c *TuningConfig) GetCriticalDistance() float64 {
	return getFloat(c.CriticalDistance, defaults.CriticalDistance)
}

func (c *TuningConfig) GetClearDistance() float64 {
	return getFloat(c.ClearDistance, defaults.ClearDistance)
}

func (c *TuningConfig) GetCruiseSpeed() int { return getInt(c.CruiseSpeed, defaults.CruiseSpeed) }
func (c *TuningConfig) GetBackSpeed() int   { return getInt(c.BackSpeed, defaults.BackSpeed) }
func (c *TuningConfig) GetTurnRate() int    { return getInt(c.TurnRate, defaults.TurnRate) }

// GetFullRotation returns how long one 360° turn at turn rate takes.
func (c *TuningConfig) GetFullRotation() time.Duration {
	return c.getDuration(c.FullRotation, 3*time.Second)
}

func (c *TuningConfig) GetBackDuration() time.Duration {
	return c.getDuration(c.BackDuration, 2*time.Second)
}

func (c *TuningConfig) GetRotateScan() time.Duration {
	return c.getDuration(c.RotateScan, 3*time.Second)
}

func (c *TuningConfig) GetPanTiltScan() time.Duration {
	return c.getDuration(c.PanTiltScan, 600*time.Millisecond)
}

// GetScanStrategy returns the sweep used when a scan does not name one.
func (c *TuningConfig) GetScanStrategy() autopilot.ScanStrategy {
	if c.ScanStrategy == nil {
		return defaults.ScanStrategy
	}
	var s autopilot.ScanStrategy
	if err := s.UnmarshalText([]byte(*c.ScanStrategy)); err != nil || s == autopilot.ScanDefault {
		return defaults.ScanStrategy
	}
	return s
}

func (c *TuningConfig) GetPanMin() int { return getInt(c.PanMin, defaults.PanMin) }
func (c *TuningConfig) GetPanMax() int { return getInt(c.PanMax, defaults.PanMax) }

func (c *TuningConfig) GetMaxTransitionsPerTick() int {
	return getInt(c.MaxTransition, defaults.MaxTransitionsPerTick)
}

// GetCruiseDistancePerTick returns metres covered per cruising tick.
func (c *TuningConfig) GetCruiseDistancePerTick() float64 {
	return getFloat(c.CruiseDistancePerTick, defaults.CruiseDistancePerTick)
}

// GetAreaScanInterval returns metres between area scans; zero disables them.
func (c *TuningConfig) GetAreaScanInterval() float64 {
	return getFloat(c.AreaScanInterval, defaults.AreaScanInterval)
}

func (c *TuningConfig) GetAreaScanAngle() float64 {
	return getFloat(c.AreaScanAngle, defaults.AreaScanAngle)
}

// GetMedianWindow returns how many lidar readings are smoothed together.
func (c *TuningConfig) GetMedianWindow() int { return getInt(c.MedianWindow, 3) }

// GetReadingMaxAge returns how old a lidar reading may be before it counts
// as missing.
func (c *TuningConfig) GetReadingMaxAge() time.Duration {
	return c.getDuration(c.ReadingMaxAge, 200*time.Millisecond)
}

// GetDetectionMaxAge returns how long a published detection stays current.
func (c *TuningConfig) GetDetectionMaxAge() time.Duration {
	return c.getDuration(c.DetectionStale, 500*time.Millisecond)
}

// GetLidarSerial returns the lidar link options with defaults applied.
func (c *TuningConfig) GetLidarSerial() serialmux.PortOptions { return portOptions(c.LidarSerial) }

// GetMotorSerial returns the motor controller link options with defaults
// applied.
func (c *TuningConfig) GetMotorSerial() serialmux.PortOptions { return portOptions(c.MotorSerial) }

func portOptions(o *serialmux.PortOptions) serialmux.PortOptions {
	var in serialmux.PortOptions
	if o != nil {
		in = *o
	}
	out, err := in.Normalize()
	if err != nil {
		out, _ = serialmux.PortOptions{}.Normalize()
	}
	return out
}
