package drive

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/rover/internal/autopilot"
	"github.com/banshee-data/rover/internal/timeutil"
)

// fixedSensor reports the same distance every tick.
type fixedSensor struct {
	mu sync.Mutex
	d  float64
}

func (s *fixedSensor) Snapshot(context.Context) (*autopilot.SensorSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return autopilot.LidarSnapshot(s.d), nil
}

func (s *fixedSensor) set(d float64) {
	s.mu.Lock()
	s.d = d
	s.mu.Unlock()
}

// halted marks a Halt call in recordingActuator's log.
var halted = autopilot.Command{Speed: math.MinInt32}

type recordingActuator struct {
	mu   sync.Mutex
	cmds []autopilot.Command
}

func (a *recordingActuator) Apply(_ context.Context, cmd autopilot.Command) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cmds = append(a.cmds, cmd)
	return nil
}

func (a *recordingActuator) Halt(context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cmds = append(a.cmds, halted)
	return nil
}

func (a *recordingActuator) log() []autopilot.Command {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]autopilot.Command(nil), a.cmds...)
}

type memRecorder struct {
	mu          sync.Mutex
	ticks       []TickRecord
	transitions []autopilot.Transition
}

func (r *memRecorder) RecordTick(rec TickRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ticks = append(r.ticks, rec)
	return nil
}

func (r *memRecorder) RecordTransition(tr autopilot.Transition) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transitions = append(r.transitions, tr)
	return nil
}

func newLoop(t *testing.T, sensor SensorSource, opts Options) (*Loop, *recordingActuator) {
	t.Helper()
	cfg := autopilot.DefaultConfig()
	cfg.FullRotationTicks = 36
	cfg.RotateScanTicks = 36
	reg := autopilot.NewRegistry()
	c, err := autopilot.NewController(cfg, reg)
	require.NoError(t, err)
	act := &recordingActuator{}
	return New(c, sensor, act, opts), act
}

func TestLoop_TickAppliesCommands(t *testing.T) {
	rec := &memRecorder{}
	l, act := newLoop(t, &fixedSensor{d: 500}, Options{Recorder: rec})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, l.Tick(ctx))
	}

	want := []autopilot.Command{{Speed: 50}, {Speed: 50}, {Speed: 50}}
	if diff := cmp.Diff(want, act.log()); diff != "" {
		t.Errorf("actuator log mismatch (-want +got):\n%s", diff)
	}
	st := l.Status()
	assert.Equal(t, autopilot.Cruising, st.State)
	assert.Equal(t, uint64(3), st.Ticks)
	require.NotNil(t, st.Lidar)
	assert.Equal(t, 500.0, *st.Lidar)

	require.Len(t, rec.ticks, 3)
	assert.Equal(t, uint64(1), rec.ticks[0].Tick)
	assert.Equal(t, 500.0, rec.ticks[2].Lidar)
	require.Len(t, rec.transitions, 1)
	assert.Equal(t, autopilot.Cruising, rec.transitions[0].To)
}

func TestLoop_InvalidInputHaltsAndContinues(t *testing.T) {
	sensor := &fixedSensor{d: math.NaN()}
	l, act := newLoop(t, sensor, Options{})
	ctx := context.Background()

	require.NoError(t, l.Tick(ctx))
	sensor.set(500)
	require.NoError(t, l.Tick(ctx))

	assert.Equal(t, []autopilot.Command{halted, {Speed: 50}}, act.log())
	st := l.Status()
	assert.Equal(t, 1, st.InputErrors)
	assert.Contains(t, st.LastError, "invalid sensor input")
}

func TestLoop_FatalErrorStops(t *testing.T) {
	l, act := newLoop(t, &fixedSensor{d: 500}, Options{})
	ctx := context.Background()

	done := make(chan error, 1)
	go func() { done <- l.Push(ctx, autopilot.Resume("bogus")) }()
	require.Eventually(t, func() bool { return len(l.requests) == 1 }, time.Second, time.Millisecond)

	err := l.Tick(ctx)
	require.ErrorIs(t, err, autopilot.ErrUnknownState)
	require.NoError(t, <-done)
	assert.Equal(t, []autopilot.Command{halted}, act.log())
	assert.Equal(t, autopilot.Stopped, l.Status().State)
}

func TestLoop_PushedScriptRunsWhileCruising(t *testing.T) {
	rec := &memRecorder{}
	l, _ := newLoop(t, &fixedSensor{d: 500}, Options{Recorder: rec})
	ctx := context.Background()
	require.NoError(t, l.Tick(ctx))
	require.Equal(t, autopilot.Cruising, l.Status().State)

	done := make(chan error, 1)
	go func() {
		done <- l.Push(ctx, autopilot.ScanArea(45, autopilot.RunScan(autopilot.ScanPanTilt))...)
	}()
	require.Eventually(t, func() bool { return len(l.requests) == 1 }, time.Second, time.Millisecond)
	require.NoError(t, l.Tick(ctx))
	require.NoError(t, <-done)
	assert.Equal(t, autopilot.Turning, l.Status().State)

	for i := 0; i < 200 && len(l.Status().Queue) > 0; i++ {
		require.NoError(t, l.Tick(ctx))
	}
	assert.Empty(t, l.Status().Queue)

	var got []autopilot.State
	for _, tr := range rec.transitions {
		got = append(got, tr.To)
	}
	want := []autopilot.State{autopilot.Cruising, autopilot.Turning, autopilot.Scanning, autopilot.Turning, autopilot.Cruising}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("transitions mismatch (-want +got):\n%s", diff)
	}
}

func TestLoop_SettlesAfterTransitions(t *testing.T) {
	l, act := newLoop(t, &fixedSensor{d: 500}, Options{SettleTicks: 2})
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		require.NoError(t, l.Tick(ctx))
	}

	want := []autopilot.Command{halted, halted, {Speed: 50}, {Speed: 50}}
	if diff := cmp.Diff(want, act.log()); diff != "" {
		t.Errorf("actuator log mismatch (-want +got):\n%s", diff)
	}
	// The controller was stepped once for the held command plus once after.
	assert.Equal(t, uint64(2), l.Status().Ticks)
}

func TestLoop_RunServesRequests(t *testing.T) {
	clock := timeutil.NewMockClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	sensor := &fixedSensor{d: 500}
	l, act := newLoop(t, sensor, Options{Period: 10 * time.Millisecond, Clock: clock})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runErr := make(chan error, 1)
	go func() { runErr <- l.Run(ctx) }()
	require.Eventually(t, func() bool { return clock.Tickers() == 1 }, time.Second, time.Millisecond)

	call := func(fn func() error) {
		t.Helper()
		done := make(chan error, 1)
		go func() { done <- fn() }()
		var err error
		require.Eventually(t, func() bool {
			clock.Advance(10 * time.Millisecond)
			select {
			case err = <-done:
				return true
			default:
				return false
			}
		}, 2*time.Second, 5*time.Millisecond)
		require.NoError(t, err)
	}

	call(func() error { return l.SetScanStrategy(ctx, autopilot.ScanPanTilt) })
	assert.Equal(t, autopilot.ScanPanTilt, l.Status().ScanStrategy)
	assert.True(t, l.Status().Running)

	call(func() error { return l.Push(ctx, autopilot.TurnTo(90), autopilot.Resume(autopilot.Cruising)) })
	call(func() error { return l.Stop(ctx) })
	require.Eventually(t, func() bool {
		clock.Advance(10 * time.Millisecond)
		return l.Status().State == autopilot.Stopped
	}, time.Second, 5*time.Millisecond)

	call(func() error { return l.Reset(ctx) })
	require.Eventually(t, func() bool {
		clock.Advance(10 * time.Millisecond)
		return l.Status().State == autopilot.Cruising
	}, time.Second, 5*time.Millisecond)
	assert.Empty(t, l.Status().Queue)

	cancel()
	select {
	case err := <-runErr:
		assert.True(t, errors.Is(err, context.Canceled))
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.False(t, l.Status().Running)
	cmds := act.log()
	assert.Equal(t, halted, cmds[len(cmds)-1])
}

func TestLoop_MergesTargets(t *testing.T) {
	feed := targetFunc(func() []autopilot.Target {
		return []autopilot.Target{{X: 1, Y: 1, Confidence: 0.9}}
	})
	rec := &memRecorder{}
	l, _ := newLoop(t, &fixedSensor{d: 500}, Options{Targets: feed, Recorder: rec})
	require.NoError(t, l.Tick(context.Background()))
	assert.Equal(t, 1, rec.ticks[0].Targets)
}

type targetFunc func() []autopilot.Target

func (f targetFunc) Latest() []autopilot.Target { return f() }
