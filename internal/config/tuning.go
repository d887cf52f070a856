// Package config loads the vehicle tuning file. Every field is optional;
// the Get* accessors fall back to the calibrated PiCar-X defaults, and
// durations are converted into tick budgets against the tick period.
package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/banshee-data/rover/internal/autopilot"
	"github.com/banshee-data/rover/internal/mission"
	"github.com/banshee-data/rover/internal/serialmux"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
const DefaultConfigPath = "config/autopilot.defaults.json"

// TuningConfig is the root of the tuning file. Durations are strings like
// "10ms" or "3s"; distances are centimetres unless noted.
type TuningConfig struct {
	// Loop
	TickPeriod *string `json:"tick_period,omitempty"`
	Settle     *string `json:"settle,omitempty"`
	FlushEvery *int    `json:"flush_every,omitempty"`

	// Obstacle handling
	BaseThreshold      *float64 `json:"base_threshold,omitempty"`
	ThresholdIncrement *float64 `json:"threshold_increment,omitempty"`
	ThresholdCap       *float64 `json:"threshold_cap,omitempty"`
	CriticalDistance   *float64 `json:"critical_distance,omitempty"`
	ClearDistance      *float64 `json:"clear_distance,omitempty"`

	// Motion
	CruiseSpeed  *int    `json:"cruise_speed,omitempty"`
	BackSpeed    *int    `json:"back_speed,omitempty"`
	TurnRate     *int    `json:"turn_rate,omitempty"`
	FullRotation *string `json:"full_rotation,omitempty"`
	BackDuration *string `json:"back_duration,omitempty"`

	// Scanning
	ScanStrategy  *string `json:"scan_strategy,omitempty"`
	RotateScan    *string `json:"rotate_scan,omitempty"`
	PanTiltScan   *string `json:"pan_tilt_scan,omitempty"`
	PanMin        *int    `json:"pan_min,omitempty"`
	PanMax        *int    `json:"pan_max,omitempty"`
	MaxTransition *int    `json:"max_transitions_per_tick,omitempty"`

	// Periodic area scans, in metres
	CruiseDistancePerTick *float64 `json:"cruise_distance_per_tick,omitempty"`
	AreaScanInterval      *float64 `json:"area_scan_interval,omitempty"`
	AreaScanAngle         *float64 `json:"area_scan_angle,omitempty"`

	// Ranging
	MedianWindow   *int    `json:"median_window,omitempty"`
	ReadingMaxAge  *string `json:"reading_max_age,omitempty"`
	DetectionStale *string `json:"detection_max_age,omitempty"`

	// Pest control mission
	FrameWidth      *float64 `json:"frame_width,omitempty"`
	FrameHeight     *float64 `json:"frame_height,omitempty"`
	FieldOfView     *float64 `json:"field_of_view,omitempty"`
	TrackingGain    *float64 `json:"tracking_gain,omitempty"`
	CenterTolerance *float64 `json:"center_tolerance,omitempty"`
	MinConfidence   *float64 `json:"min_confidence,omitempty"`
	HeadPanLimit    *float64 `json:"head_pan_limit,omitempty"`
	HeadTiltLimit   *float64 `json:"head_tilt_limit,omitempty"`
	Lock            *string  `json:"lock,omitempty"`
	Detect          *string  `json:"detect,omitempty"`
	Spray           *string  `json:"spray,omitempty"`
	MissionAngle    *float64 `json:"mission_scan_angle,omitempty"`

	// Serial links
	LidarSerial *serialmux.PortOptions `json:"lidar_serial,omitempty"`
	MotorSerial *serialmux.PortOptions `json:"motor_serial,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// DefaultTuningConfig returns a config with every field set to its default,
// matching config/autopilot.defaults.json.
func DefaultTuningConfig() *TuningConfig {
	e := EmptyTuningConfig()
	return &TuningConfig{
		TickPeriod:            ptrString(e.GetTickPeriod().String()),
		Settle:                ptrString(e.GetSettle().String()),
		FlushEvery:            ptrInt(e.GetFlushEvery()),
		BaseThreshold:         ptrFloat64(e.GetBaseThreshold()),
		ThresholdIncrement:    ptrFloat64(e.GetThresholdIncrement()),
		ThresholdCap:          ptrFloat64(e.GetThresholdCap()),
		CriticalDistance:      ptrFloat64(e.GetCriticalDistance()),
		ClearDistance:         ptrFloat64(e.GetClearDistance()),
		CruiseSpeed:           ptrInt(e.GetCruiseSpeed()),
		BackSpeed:             ptrInt(e.GetBackSpeed()),
		TurnRate:              ptrInt(e.GetTurnRate()),
		FullRotation:          ptrString(e.GetFullRotation().String()),
		BackDuration:          ptrString(e.GetBackDuration().String()),
		ScanStrategy:          ptrString(e.GetScanStrategy().String()),
		RotateScan:            ptrString(e.GetRotateScan().String()),
		PanTiltScan:           ptrString(e.GetPanTiltScan().String()),
		PanMin:                ptrInt(e.GetPanMin()),
		PanMax:                ptrInt(e.GetPanMax()),
		MaxTransition:         ptrInt(e.GetMaxTransitionsPerTick()),
		CruiseDistancePerTick: ptrFloat64(e.GetCruiseDistancePerTick()),
		AreaScanInterval:      ptrFloat64(e.GetAreaScanInterval()),
		AreaScanAngle:         ptrFloat64(e.GetAreaScanAngle()),
		MedianWindow:          ptrInt(e.GetMedianWindow()),
		ReadingMaxAge:         ptrString(e.GetReadingMaxAge().String()),
		DetectionStale:        ptrString(e.GetDetectionMaxAge().String()),
		FrameWidth:            ptrFloat64(e.MissionConfig().FrameWidth),
		FrameHeight:           ptrFloat64(e.MissionConfig().FrameHeight),
		FieldOfView:           ptrFloat64(e.MissionConfig().FieldOfView),
		TrackingGain:          ptrFloat64(e.MissionConfig().Gain),
		CenterTolerance:       ptrFloat64(e.MissionConfig().CenterTolerance),
		MinConfidence:         ptrFloat64(e.MissionConfig().MinConfidence),
		HeadPanLimit:          ptrFloat64(e.MissionConfig().PanLimit),
		HeadTiltLimit:         ptrFloat64(e.MissionConfig().TiltLimit),
		Lock:                  ptrString(e.getDuration(e.Lock, 50*time.Millisecond).String()),
		Detect:                ptrString(e.getDuration(e.Detect, 600*time.Millisecond).String()),
		Spray:                 ptrString(e.getDuration(e.Spray, 1500*time.Millisecond).String()),
		MissionAngle:          ptrFloat64(e.MissionConfig().ScanAngle),
	}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the max file size.
// Fields omitted from the JSON file fall back to their defaults, so
// partial configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical defaults from DefaultConfigPath,
// searching the current directory and its parents. Panics if the file cannot
// be loaded, intended for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath, // from internal/config/
		"../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks the fields that are set. Cross-field constraints are left
// to autopilot.Config.Validate and mission.Config.Validate, which run on the
// converted values.
func (c *TuningConfig) Validate() error {
	for name, v := range map[string]*string{
		"tick_period":       c.TickPeriod,
		"settle":            c.Settle,
		"full_rotation":     c.FullRotation,
		"back_duration":     c.BackDuration,
		"rotate_scan":       c.RotateScan,
		"pan_tilt_scan":     c.PanTiltScan,
		"reading_max_age":   c.ReadingMaxAge,
		"detection_max_age": c.DetectionStale,
		"lock":              c.Lock,
		"detect":            c.Detect,
		"spray":             c.Spray,
	} {
		if v == nil || *v == "" {
			continue
		}
		d, err := time.ParseDuration(*v)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
		}
		if d < 0 {
			return fmt.Errorf("%s must be non-negative, got %s", name, d)
		}
	}
	if c.TickPeriod != nil && c.getDuration(c.TickPeriod, 0) <= 0 {
		return fmt.Errorf("tick_period must be positive")
	}
	if c.ScanStrategy != nil {
		var s autopilot.ScanStrategy
		if err := s.UnmarshalText([]byte(*c.ScanStrategy)); err != nil {
			return fmt.Errorf("invalid scan_strategy: %w", err)
		}
		if s == autopilot.ScanDefault {
			return fmt.Errorf("scan_strategy must be rotate or pan-tilt")
		}
	}
	if c.FlushEvery != nil && *c.FlushEvery < 1 {
		return fmt.Errorf("flush_every must be at least 1, got %d", *c.FlushEvery)
	}
	if c.MedianWindow != nil && *c.MedianWindow < 1 {
		return fmt.Errorf("median_window must be at least 1, got %d", *c.MedianWindow)
	}
	for name, o := range map[string]*serialmux.PortOptions{"lidar_serial": c.LidarSerial, "motor_serial": c.MotorSerial} {
		if o == nil {
			continue
		}
		if _, err := o.Normalize(); err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
	}
	// Catch controller limits at load time; the simulator calibrates from
	// the speeds before any controller is built.
	if err := c.AutopilotConfig().Validate(); err != nil {
		return fmt.Errorf("invalid autopilot tuning: %w", err)
	}
	return nil
}

// TicksFor converts d into a whole number of ticks, rounding to nearest.
// Any positive duration lasts at least one tick.
func (c *TuningConfig) TicksFor(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	n := int(math.Round(float64(d) / float64(c.GetTickPeriod())))
	return max(n, 1)
}

// AutopilotConfig converts the tuning into controller constants.
func (c *TuningConfig) AutopilotConfig() autopilot.Config {
	return autopilot.Config{
		BaseThreshold:         c.GetBaseThreshold(),
		ThresholdIncrement:    c.GetThresholdIncrement(),
		ThresholdCap:          c.GetThresholdCap(),
		CriticalDistance:      c.GetCriticalDistance(),
		ClearDistance:         c.GetClearDistance(),
		CruiseSpeed:           c.GetCruiseSpeed(),
		BackSpeed:             c.GetBackSpeed(),
		TurnRate:              c.GetTurnRate(),
		FullRotationTicks:     c.TicksFor(c.GetFullRotation()),
		RotateScanTicks:       c.TicksFor(c.GetRotateScan()),
		PanTiltScanTicks:      c.TicksFor(c.GetPanTiltScan()),
		PanMin:                c.GetPanMin(),
		PanMax:                c.GetPanMax(),
		BackTicks:             c.TicksFor(c.GetBackDuration()),
		ScanStrategy:          c.GetScanStrategy(),
		CruiseDistancePerTick: c.GetCruiseDistancePerTick(),
		AreaScanInterval:      c.GetAreaScanInterval(),
		AreaScanAngle:         c.GetAreaScanAngle(),
		MaxTransitionsPerTick: c.GetMaxTransitionsPerTick(),
	}
}

// MissionConfig converts the tuning into pest control settings.
func (c *TuningConfig) MissionConfig() mission.Config {
	d := mission.DefaultConfig()
	return mission.Config{
		FrameWidth:      getFloat(c.FrameWidth, d.FrameWidth),
		FrameHeight:     getFloat(c.FrameHeight, d.FrameHeight),
		FieldOfView:     getFloat(c.FieldOfView, d.FieldOfView),
		Gain:            getFloat(c.TrackingGain, d.Gain),
		CenterTolerance: getFloat(c.CenterTolerance, d.CenterTolerance),
		MinConfidence:   getFloat(c.MinConfidence, d.MinConfidence),
		PanLimit:        getFloat(c.HeadPanLimit, d.PanLimit),
		TiltLimit:       getFloat(c.HeadTiltLimit, d.TiltLimit),
		LockTicks:       c.TicksFor(c.getDuration(c.Lock, 50*time.Millisecond)),
		DetectTicks:     c.TicksFor(c.getDuration(c.Detect, 600*time.Millisecond)),
		SprayTicks:      c.TicksFor(c.getDuration(c.Spray, 1500*time.Millisecond)),
		ScanAngle:       getFloat(c.MissionAngle, d.ScanAngle),
	}
}

func (c *TuningConfig) getDuration(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return def // default on parse error
	}
	return d
}

func getFloat(v *float64, def float64) float64 {
	if v == nil {
		return def
	}
	return *v
}

func getInt(v *int, def int) int {
	if v == nil {
		return def
	}
	return *v
}
