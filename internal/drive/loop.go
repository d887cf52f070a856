// Package drive runs the control loop around an autopilot.Controller: read
// sensors, step, actuate, record, once per tick. The loop goroutine is the
// controller's only owner; everything else reaches it through requests that
// are applied between ticks.
package drive

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/banshee-data/rover/internal/actuator"
	"github.com/banshee-data/rover/internal/autopilot"
	"github.com/banshee-data/rover/internal/monitoring"
	"github.com/banshee-data/rover/internal/timeutil"
)

var logf = monitoring.Prefixed("drive")

var ErrLoopStopped = errors.New("drive loop is not running")

// SensorSource produces the snapshot for one tick. It must not block for
// longer than a tick period.
type SensorSource interface {
	Snapshot(ctx context.Context) (*autopilot.SensorSnapshot, error)
}

// TargetSource supplies detections to merge into each snapshot.
type TargetSource interface {
	Latest() []autopilot.Target
}

// TickRecord is the telemetry for one loop tick. Missing distances are NaN.
type TickRecord struct {
	Tick       uint64
	At         time.Time
	State      autopilot.State
	Step       int
	Limit      int
	Threshold  float64
	Lidar      float64
	Ultrasonic float64
	Targets    int
	Command    autopilot.Command
	Settling   bool
	Err        string
}

// Recorder persists loop telemetry.
type Recorder interface {
	RecordTick(TickRecord) error
	RecordTransition(autopilot.Transition) error
}

// Options configures a Loop.
type Options struct {
	Period time.Duration
	// SettleTicks holds the vehicle still for this many ticks after every
	// state change before the new state's first command is applied.
	SettleTicks int
	Clock       timeutil.Clock
	Recorder    Recorder
	Targets     TargetSource
}

// Status is the published view of the loop, safe to read from any goroutine.
type Status struct {
	Running      bool                   `json:"running"`
	State        autopilot.State        `json:"state"`
	Step         int                    `json:"step"`
	Limit        int                    `json:"limit"`
	Threshold    float64                `json:"threshold"`
	Ticks        uint64                 `json:"ticks"`
	ScanStrategy autopilot.ScanStrategy `json:"scan_strategy"`
	Queue        []autopilot.Maneuver   `json:"queue"`
	LastCommand  autopilot.Command      `json:"last_command"`
	Lidar        *float64               `json:"lidar,omitempty"`
	Settling     int                    `json:"settling"`
	InputErrors  int                    `json:"input_errors"`
	LastError    string                 `json:"last_error,omitempty"`
	UpdatedAt    time.Time              `json:"updated_at"`
}

type request struct {
	fn   func(*autopilot.Controller) error
	done chan error
}

// Loop owns a controller and its collaborators.
type Loop struct {
	ctrl    *autopilot.Controller
	sensors SensorSource
	act     actuator.Actuator
	opts    Options

	requests chan request
	faults   *monitoring.Limiter

	// loop-goroutine state
	settle      int
	pending     *autopilot.Command
	inputErrors int
	lastErr     string

	mu      sync.RWMutex
	status  Status
	running bool
}

// New wires a loop. The controller must not be used by anything else
// afterwards.
func New(ctrl *autopilot.Controller, sensors SensorSource, act actuator.Actuator, opts Options) *Loop {
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}
	if opts.Period <= 0 {
		opts.Period = 10 * time.Millisecond
	}
	l := &Loop{
		ctrl:     ctrl,
		sensors:  sensors,
		act:      act,
		opts:     opts,
		requests: make(chan request, 16),
		faults:   monitoring.NewLimiter(time.Second),
	}
	ctrl.OnTransition(l.onTransition)
	l.publish(nil)
	return l
}

func (l *Loop) onTransition(tr autopilot.Transition) {
	logf("tick %d %s -> %s (%s)", tr.Tick, tr.From, tr.To, tr.Maneuver)
	if l.opts.SettleTicks > 0 && tr.To != autopilot.Stopped {
		l.settle = l.opts.SettleTicks
	}
	if l.opts.Recorder != nil {
		if err := l.opts.Recorder.RecordTransition(tr); err != nil {
			logf("record transition: %v", err)
		}
	}
}

// Run ticks at the configured period until ctx is cancelled or the
// controller fails fatally. Actuators are halted on the way out.
func (l *Loop) Run(ctx context.Context) error {
	l.setRunning(true)
	defer l.setRunning(false)
	defer func() {
		// ctx may already be done; halting must still reach the hardware.
		if err := l.act.Halt(context.WithoutCancel(ctx)); err != nil {
			logf("halt on exit: %v", err)
		}
	}()

	ticker := l.opts.Clock.NewTicker(l.opts.Period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			l.failRequests()
			return ctx.Err()
		case <-ticker.C():
			if err := l.Tick(ctx); err != nil {
				l.failRequests()
				return err
			}
		}
	}
}

// Tick runs one iteration. It is exported for callers that drive the loop
// from their own scheduler; it must not run concurrently with Run.
func (l *Loop) Tick(ctx context.Context) error {
	l.drainRequests()

	if l.settle > 0 || l.pending != nil {
		return l.settleTick(ctx)
	}

	snap, err := l.sensors.Snapshot(ctx)
	if err != nil {
		l.faults.Logf("drive: sensor read failed: %v", err)
		snap = nil
	}
	if snap != nil && l.opts.Targets != nil && len(snap.Targets) == 0 {
		snap.Targets = l.opts.Targets.Latest()
	}

	before := l.ctrl.Ticks()
	cmd, err := l.ctrl.Step(snap)
	switch {
	case errors.Is(err, autopilot.ErrInvalidInput):
		l.inputErrors++
		l.lastErr = err.Error()
		l.faults.Logf("drive: tick %d: %v; halting", before, err)
		if herr := l.act.Halt(ctx); herr != nil {
			logf("halt: %v", herr)
		}
		l.record(snap, autopilot.Command{}, false, err)
		l.publish(snap)
		return nil
	case err != nil:
		l.lastErr = err.Error()
		if herr := l.act.Halt(ctx); herr != nil {
			logf("halt: %v", herr)
		}
		l.record(snap, autopilot.Command{}, false, err)
		l.publish(snap)
		return fmt.Errorf("autopilot stopped at tick %d: %w", before+1, err)
	}

	if l.settle > 0 {
		// The step entered a new state; hold its first command until the
		// vehicle has settled.
		l.pending = &cmd
		if err := l.act.Halt(ctx); err != nil {
			return fmt.Errorf("halt: %w", err)
		}
		l.settle--
		l.record(snap, autopilot.Command{}, true, nil)
		l.publish(snap)
		return nil
	}

	if err := l.act.Apply(ctx, cmd); err != nil {
		return fmt.Errorf("apply %s: %w", cmd, err)
	}
	l.record(snap, cmd, false, nil)
	l.publish(snap)
	return nil
}

func (l *Loop) settleTick(ctx context.Context) error {
	if l.settle > 0 {
		l.settle--
		if err := l.act.Halt(ctx); err != nil {
			return fmt.Errorf("halt: %w", err)
		}
		l.record(nil, autopilot.Command{}, true, nil)
		l.publish(nil)
		return nil
	}
	cmd := *l.pending
	l.pending = nil
	if err := l.act.Apply(ctx, cmd); err != nil {
		return fmt.Errorf("apply %s: %w", cmd, err)
	}
	l.record(nil, cmd, false, nil)
	l.publish(nil)
	return nil
}

func (l *Loop) record(snap *autopilot.SensorSnapshot, cmd autopilot.Command, settling bool, err error) {
	if l.opts.Recorder == nil {
		return
	}
	step, limit := l.ctrl.Progress()
	rec := TickRecord{
		Tick:       l.ctrl.Ticks(),
		At:         l.opts.Clock.Now(),
		State:      l.ctrl.State(),
		Step:       step,
		Limit:      limit,
		Threshold:  l.ctrl.Threshold(),
		Lidar:      math.NaN(),
		Ultrasonic: math.NaN(),
		Command:    cmd,
		Settling:   settling,
	}
	if snap != nil {
		rec.Lidar, rec.Ultrasonic, rec.Targets = snap.LidarDistance, snap.UltrasonicDistance, len(snap.Targets)
	}
	if err != nil {
		rec.Err = err.Error()
	}
	if rerr := l.opts.Recorder.RecordTick(rec); rerr != nil {
		logf("record tick: %v", rerr)
	}
}

func (l *Loop) publish(snap *autopilot.SensorSnapshot) {
	step, limit := l.ctrl.Progress()
	st := Status{
		State:        l.ctrl.State(),
		Step:         step,
		Limit:        limit,
		Threshold:    l.ctrl.Threshold(),
		Ticks:        l.ctrl.Ticks(),
		ScanStrategy: l.ctrl.ScanStrategy(),
		Queue:        l.ctrl.Queue().Items(),
		LastCommand:  l.ctrl.LastCommand(),
		Settling:     l.settle,
		InputErrors:  l.inputErrors,
		LastError:    l.lastErr,
		UpdatedAt:    l.opts.Clock.Now(),
	}
	if snap != nil {
		if d, ok := snap.Range(); ok && !math.IsInf(d, 0) {
			st.Lidar = &d
		}
	}
	l.mu.Lock()
	st.Running = l.running
	if snap == nil && l.status.Lidar != nil {
		st.Lidar = l.status.Lidar
	}
	l.status = st
	l.mu.Unlock()
}

func (l *Loop) setRunning(v bool) {
	l.mu.Lock()
	l.running = v
	l.status.Running = v
	l.mu.Unlock()
}

// Status returns the state published after the latest tick.
func (l *Loop) Status() Status {
	l.mu.RLock()
	defer l.mu.RUnlock()
	st := l.status
	st.Queue = append([]autopilot.Maneuver(nil), st.Queue...)
	return st
}

func (l *Loop) drainRequests() {
	for {
		select {
		case r := <-l.requests:
			r.done <- r.fn(l.ctrl)
		default:
			return
		}
	}
}

func (l *Loop) failRequests() {
	for {
		select {
		case r := <-l.requests:
			r.done <- ErrLoopStopped
		default:
			return
		}
	}
}

// Do runs fn on the loop goroutine before the next tick and waits for it.
func (l *Loop) Do(ctx context.Context, fn func(*autopilot.Controller) error) error {
	r := request{fn: fn, done: make(chan error, 1)}
	select {
	case l.requests <- r:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-r.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop latches the controller into Stopped.
func (l *Loop) Stop(ctx context.Context) error {
	return l.Do(ctx, func(c *autopilot.Controller) error {
		c.Stop()
		return nil
	})
}

// Reset clears the queue and restarts from Ready.
func (l *Loop) Reset(ctx context.Context) error {
	return l.Do(ctx, func(c *autopilot.Controller) error {
		c.Reset()
		l.settle, l.pending = 0, nil
		return nil
	})
}

// Push appends a script to the behavior queue.
func (l *Loop) Push(ctx context.Context, ms ...autopilot.Maneuver) error {
	return l.Do(ctx, func(c *autopilot.Controller) error {
		c.Push(ms...)
		return nil
	})
}

// SetScanStrategy swaps the default sweep strategy.
func (l *Loop) SetScanStrategy(ctx context.Context, s autopilot.ScanStrategy) error {
	return l.Do(ctx, func(c *autopilot.Controller) error {
		return c.SetScanStrategy(s)
	})
}
