package mission

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/rover/internal/autopilot"
	"github.com/banshee-data/rover/internal/timeutil"
)

func newMission(t *testing.T) (*PestControl, *autopilot.Controller) {
	t.Helper()
	mcfg := DefaultConfig()
	mcfg.LockTicks = 3
	mcfg.DetectTicks = 20
	mcfg.SprayTicks = 4
	p, err := New(mcfg)
	require.NoError(t, err)

	reg := autopilot.NewRegistry()
	require.NoError(t, p.Register(reg))

	cfg := autopilot.DefaultConfig()
	cfg.FullRotationTicks = 36
	c, err := autopilot.NewController(cfg, reg)
	require.NoError(t, err)
	return p, c
}

func snapshot(targets ...autopilot.Target) *autopilot.SensorSnapshot {
	s := autopilot.LidarSnapshot(500)
	s.Targets = targets
	return s
}

func TestPestControl_SpraysCentredTarget(t *testing.T) {
	p, c := newMission(t)
	var states []autopilot.State
	c.OnTransition(func(tr autopilot.Transition) { states = append(states, tr.To) })
	c.Push(p.Script()...)

	centred := autopilot.Target{X: 320, Y: 240, Confidence: 0.9}
	pumping := 0
	for i := 0; i < 20; i++ {
		cmd, err := c.Step(snapshot(centred))
		require.NoError(t, err)
		if cmd.Pump {
			pumping++
		}
	}

	want := []autopilot.State{autopilot.Turning, DetectingTarget, Actuating, autopilot.Turning, autopilot.Cruising}
	if diff := cmp.Diff(want, states); diff != "" {
		t.Errorf("transitions mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, 4, pumping)
	assert.Equal(t, 1, p.Sprays())
	assert.True(t, c.Queue().Empty())
}

func TestPestControl_NoTargetGivesUp(t *testing.T) {
	p, c := newMission(t)
	c.Push(p.Script()...)

	weak := autopilot.Target{X: 320, Y: 240, Confidence: 0.2}
	for i := 0; i < 40; i++ {
		cmd, err := c.Step(snapshot(weak))
		require.NoError(t, err)
		assert.False(t, cmd.Pump)
	}
	assert.Zero(t, p.Sprays())
	assert.Equal(t, autopilot.Cruising, c.State())
}

func TestPestControl_TracksTowardTarget(t *testing.T) {
	p, c := newMission(t)
	c.Push(autopilot.Run(DetectingTarget, 10))

	cmd, err := c.Step(snapshot(
		autopilot.Target{X: 100, Y: 100, Confidence: 0.6},
		autopilot.Target{X: 480, Y: 120, Confidence: 0.8},
	))
	require.NoError(t, err)
	require.Equal(t, DetectingTarget, c.State())

	pan, tilt := p.Aim()
	assert.InDelta(t, 5.25, pan, 1e-9)
	assert.InDelta(t, 5.25, tilt, 1e-9)
	assert.Equal(t, autopilot.Command{Pan: 5, Tilt: 5}, cmd)

	// Corrections saturate at the head limits.
	for i := 0; i < 8; i++ {
		_, err = c.Step(snapshot(autopilot.Target{X: 640, Y: 0, Confidence: 0.8}))
		require.NoError(t, err)
	}
	pan, tilt = p.Aim()
	assert.Equal(t, 30.0, pan)
	assert.Equal(t, 30.0, tilt)
}

func TestConfig_Validate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	cfg := DefaultConfig()
	cfg.LockTicks = 0
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.MinConfidence = 2
	_, err := New(cfg)
	assert.Error(t, err)
}

func TestTargetFeed(t *testing.T) {
	clock := timeutil.NewMockClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	feed := NewTargetFeed(500*time.Millisecond, clock)
	assert.Nil(t, feed.Latest())

	in := []autopilot.Target{{X: 1, Y: 2, Confidence: 0.7}}
	feed.Publish(in)
	in[0].X = 99
	assert.Equal(t, []autopilot.Target{{X: 1, Y: 2, Confidence: 0.7}}, feed.Latest())

	clock.Advance(600 * time.Millisecond)
	assert.Nil(t, feed.Latest())
}

func TestPestControl_SweepsHeadWithoutTarget(t *testing.T) {
	_, c := newMission(t)
	c.Push(autopilot.Run(DetectingTarget, 10))

	var pans []int
	for i := 0; i < 10; i++ {
		cmd, err := c.Step(snapshot())
		require.NoError(t, err)
		pans = append(pans, cmd.Pan)
	}
	assert.Equal(t, []int{-30, -24, -18, -12, -6, 0, 6, 12, 18, 24}, pans)
}
