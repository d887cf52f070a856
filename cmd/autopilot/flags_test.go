package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/rover/internal/autopilot"
	"github.com/banshee-data/rover/internal/config"
	"github.com/banshee-data/rover/internal/mission"
)

// TestFlagDefaults verifies the flags in the main var block and their
// defaults.
func TestFlagDefaults(t *testing.T) {
	if devMode == nil || *devMode {
		t.Errorf("expected -dev to default to false")
	}
	if *listen != ":8080" {
		t.Errorf("expected -listen default :8080, got %q", *listen)
	}
	if *port != "/dev/ttyAMA0" {
		t.Errorf("expected -port default /dev/ttyAMA0, got %q", *port)
	}
	if *baud != 0 {
		t.Errorf("expected -baud default 0 (use config), got %d", *baud)
	}
	if *motorPort != "" {
		t.Errorf("expected -motor-port to default to empty, got %q", *motorPort)
	}
	if *dbPath != "telemetry.db" {
		t.Errorf("expected -db default telemetry.db, got %q", *dbPath)
	}
	if *missionName != "" {
		t.Errorf("expected -mission to default to none, got %q", *missionName)
	}
	if *configPath != "" || *showVersion {
		t.Errorf("expected -config empty and -version false")
	}
}

func TestLoadTuning(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		tuning, err := loadTuning("", 0)
		require.NoError(t, err)
		assert.Equal(t, autopilot.DefaultConfig(), tuning.AutopilotConfig())
	})

	t.Run("baud override", func(t *testing.T) {
		tuning, err := loadTuning("", 9600)
		require.NoError(t, err)
		assert.Equal(t, 9600, tuning.GetLidarSerial().BaudRate)
		assert.Equal(t, 115200, tuning.GetMotorSerial().BaudRate)
	})

	t.Run("file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "tuning.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"tick_period": "20ms", "scan_strategy": "pan-tilt"}`), 0o644))
		tuning, err := loadTuning(path, 0)
		require.NoError(t, err)
		assert.Equal(t, autopilot.ScanPanTilt, tuning.AutopilotConfig().ScanStrategy)
		assert.Equal(t, 150, tuning.AutopilotConfig().FullRotationTicks)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := loadTuning(filepath.Join(t.TempDir(), "nope.json"), 0)
		assert.Error(t, err)
	})
}

func TestSetupMission(t *testing.T) {
	tuning := config.DefaultTuningConfig()

	reg, cfg, pc, err := setupMission("", tuning)
	require.NoError(t, err)
	assert.Nil(t, pc)
	assert.NotContains(t, reg.States(), mission.DetectingTarget)
	assert.Equal(t, autopilot.State(""), cfg.AreaScanState)

	reg, cfg, pc, err = setupMission(missionPestControl, tuning)
	require.NoError(t, err)
	require.NotNil(t, pc)
	assert.Contains(t, reg.States(), mission.DetectingTarget)
	assert.Contains(t, reg.States(), mission.Actuating)
	assert.Equal(t, mission.DetectingTarget, cfg.AreaScanState)
	_, err = autopilot.NewController(cfg, reg)
	assert.NoError(t, err)

	_, _, _, err = setupMission("crop-dusting", tuning)
	assert.ErrorContains(t, err, "unknown mission")
}

func TestNewSimWorld(t *testing.T) {
	tuning := config.DefaultTuningConfig()
	_, cfg, _, err := setupMission(missionPestControl, tuning)
	require.NoError(t, err)

	w, err := newSimWorld(cfg, tuning.MissionConfig(), true)
	require.NoError(t, err)
	pose := w.Pose()
	assert.Equal(t, arena.w/2, pose.X)
	assert.Equal(t, arena.h/2, pose.Y)
	assert.Equal(t, 0, w.Sprayed())

	snap, err := w.Snapshot(t.Context())
	require.NoError(t, err)
	assert.Greater(t, snap.LidarDistance, 0.0)
}
