package db

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/banshee-data/rover/internal/autopilot"
	"github.com/banshee-data/rover/internal/drive"
	"github.com/banshee-data/rover/internal/timeutil"
)

// DefaultFlushEvery is how many ticks Recorder buffers before writing.
const DefaultFlushEvery = 100

// Recorder stores loop telemetry for one run. Ticks are buffered and
// written in one transaction per batch; transitions are written at once.
type Recorder struct {
	db         *DB
	run        Run
	clock      timeutil.Clock
	flushEvery int

	mu      sync.Mutex
	pending []drive.TickRecord
	closed  bool
}

// NewRecorder creates run in db and returns a recorder for it.
func NewRecorder(db *DB, run Run, flushEvery int, clock timeutil.Clock) (*Recorder, error) {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if flushEvery <= 0 {
		flushEvery = DefaultFlushEvery
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = clock.Now()
	}
	if err := db.CreateRun(&run); err != nil {
		return nil, err
	}
	return &Recorder{db: db, run: run, clock: clock, flushEvery: flushEvery}, nil
}

func (r *Recorder) RunID() string { return r.run.ID }

func (r *Recorder) RecordTick(rec drive.TickRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return fmt.Errorf("recorder for run %s is closed", r.run.ID)
	}
	r.pending = append(r.pending, rec)
	if len(r.pending) < r.flushEvery {
		return nil
	}
	return r.flushLocked()
}

func (r *Recorder) RecordTransition(tr autopilot.Transition) error {
	m, err := json.Marshal(tr.Maneuver)
	if err != nil {
		return fmt.Errorf("encode maneuver: %w", err)
	}
	_, err = r.db.Exec(
		`INSERT INTO transitions (run_id, tick, from_state, to_state, maneuver_json, at_unix_nanos) VALUES (?, ?, ?, ?, ?, ?)`,
		r.run.ID, tr.Tick, string(tr.From), string(tr.To), string(m), r.clock.Now().UnixNano(),
	)
	return err
}

// Flush writes any buffered ticks.
func (r *Recorder) Flush() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.flushLocked()
}

func (r *Recorder) flushLocked() error {
	if len(r.pending) == 0 {
		return nil
	}
	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO ticks (
			run_id, tick, at_unix_nanos, state, step, step_limit, threshold, lidar, ultrasonic,
			targets, speed, angle, pan, tilt, pump, settling, error
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, t := range r.pending {
		if _, err := stmt.Exec(
			r.run.ID, t.Tick, t.At.UnixNano(), string(t.State), t.Step, t.Limit, t.Threshold,
			nullable(t.Lidar), nullable(t.Ultrasonic), t.Targets,
			t.Command.Speed, t.Command.Angle, t.Command.Pan, t.Command.Tilt, t.Command.Pump,
			t.Settling, t.Err,
		); err != nil {
			return fmt.Errorf("insert tick %d: %w", t.Tick, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	r.pending = r.pending[:0]
	return nil
}

// Close flushes and marks the run as ended. Further records fail.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	if err := r.flushLocked(); err != nil {
		return err
	}
	return r.db.EndRun(r.run.ID, r.clock.Now())
}
