package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/rover/internal/autopilot"
)

var ErrRunNotFound = errors.New("run not found")

// Run is one drive session: everything between process start and shutdown.
type Run struct {
	ID        string          `json:"run_id"`
	Mission   string          `json:"mission"`
	Source    string          `json:"source"`
	Config    json.RawMessage `json:"config"`
	StartedAt time.Time       `json:"started_at"`
	EndedAt   *time.Time      `json:"ended_at,omitempty"`
}

// TickRow is a stored tick. Missing distances are nil.
type TickRow struct {
	Tick       uint64            `json:"tick"`
	At         time.Time         `json:"at"`
	State      autopilot.State   `json:"state"`
	Step       int               `json:"step"`
	Limit      int               `json:"limit"`
	Threshold  float64           `json:"threshold"`
	Lidar      *float64          `json:"lidar"`
	Ultrasonic *float64          `json:"ultrasonic"`
	Targets    int               `json:"targets"`
	Command    autopilot.Command `json:"command"`
	Settling   bool              `json:"settling,omitempty"`
	Err        string            `json:"error,omitempty"`
}

// TransitionRow is a stored state change.
type TransitionRow struct {
	Tick     uint64             `json:"tick"`
	From     autopilot.State    `json:"from"`
	To       autopilot.State    `json:"to"`
	Maneuver autopilot.Maneuver `json:"maneuver"`
	At       time.Time          `json:"at"`
}

// CreateRun inserts r, assigning an ID when it has none.
func (db *DB) CreateRun(r *Run) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if len(r.Config) == 0 {
		r.Config = json.RawMessage("{}")
	}
	if r.StartedAt.IsZero() {
		r.StartedAt = time.Now()
	}
	_, err := db.Exec(
		`INSERT INTO runs (run_id, mission, source, config_json, started_unix_nanos) VALUES (?, ?, ?, ?, ?)`,
		r.ID, r.Mission, r.Source, string(r.Config), r.StartedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("create run: %w", err)
	}
	return nil
}

// EndRun stamps the end time of a run.
func (db *DB) EndRun(id string, at time.Time) error {
	res, err := db.Exec(`UPDATE runs SET ended_unix_nanos = ? WHERE run_id = ?`, at.UnixNano(), id)
	if err != nil {
		return fmt.Errorf("end run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("end run %s: %w", id, ErrRunNotFound)
	}
	return nil
}

const runColumns = `run_id, mission, source, config_json, started_unix_nanos, ended_unix_nanos`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(s rowScanner) (Run, error) {
	var (
		r       Run
		cfg     string
		started int64
		ended   sql.NullInt64
	)
	if err := s.Scan(&r.ID, &r.Mission, &r.Source, &cfg, &started, &ended); err != nil {
		return Run{}, err
	}
	r.Config = json.RawMessage(cfg)
	r.StartedAt = time.Unix(0, started).UTC()
	if ended.Valid {
		t := time.Unix(0, ended.Int64).UTC()
		r.EndedAt = &t
	}
	return r, nil
}

// GetRun looks up a single run.
func (db *DB) GetRun(id string) (*Run, error) {
	r, err := scanRun(db.QueryRow(`SELECT `+runColumns+` FROM runs WHERE run_id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, ErrRunNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// Runs returns the most recent runs first.
func (db *DB) Runs(limit int) ([]Run, error) {
	rows, err := db.Query(`SELECT `+runColumns+` FROM runs ORDER BY started_unix_nanos DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// RecentTicks returns up to limit of the latest ticks of a run in the order
// they were recorded. A limit of zero or less returns the whole run.
func (db *DB) RecentTicks(runID string, limit int) ([]TickRow, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := db.Query(`
		SELECT tick, at_unix_nanos, state, step, step_limit, threshold, lidar, ultrasonic,
		       targets, speed, angle, pan, tilt, pump, settling, error
		  FROM ticks
		 WHERE run_id = ?
		 ORDER BY tick_id DESC
		 LIMIT ?`, runID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ticks []TickRow
	for rows.Next() {
		var (
			t                 TickRow
			at                int64
			lidar, ultrasonic sql.NullFloat64
		)
		if err := rows.Scan(
			&t.Tick, &at, &t.State, &t.Step, &t.Limit, &t.Threshold, &lidar, &ultrasonic,
			&t.Targets, &t.Command.Speed, &t.Command.Angle, &t.Command.Pan, &t.Command.Tilt,
			&t.Command.Pump, &t.Settling, &t.Err,
		); err != nil {
			return nil, err
		}
		t.At = time.Unix(0, at).UTC()
		t.Lidar = nullablePtr(lidar)
		t.Ultrasonic = nullablePtr(ultrasonic)
		ticks = append(ticks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	slices.Reverse(ticks)
	return ticks, nil
}

// Transitions returns every state change of a run in order.
func (db *DB) Transitions(runID string) ([]TransitionRow, error) {
	rows, err := db.Query(`
		SELECT tick, from_state, to_state, maneuver_json, at_unix_nanos
		  FROM transitions
		 WHERE run_id = ?
		 ORDER BY transition_id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TransitionRow
	for rows.Next() {
		var (
			tr TransitionRow
			m  string
			at int64
		)
		if err := rows.Scan(&tr.Tick, &tr.From, &tr.To, &m, &at); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(m), &tr.Maneuver); err != nil {
			return nil, fmt.Errorf("transition at tick %d: %w", tr.Tick, err)
		}
		tr.At = time.Unix(0, at).UTC()
		out = append(out, tr)
	}
	return out, rows.Err()
}

func nullablePtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

// nullable stores NaN and infinities as NULL; SQLite has no encoding for them.
func nullable(v float64) sql.NullFloat64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: v, Valid: true}
}
