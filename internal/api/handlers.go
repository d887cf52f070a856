package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strconv"

	"github.com/banshee-data/rover/internal/autopilot"
	"github.com/banshee-data/rover/internal/db"
	"github.com/banshee-data/rover/internal/drive"
	"github.com/banshee-data/rover/internal/ranging"
	"github.com/banshee-data/rover/internal/version"
)

// maxBodySize limits script and detection uploads.
const maxBodySize = 64 * 1024

type statusResponse struct {
	drive.Status
	RunID   string         `json:"run_id,omitempty"`
	Lidar   *ranging.Stats `json:"lidar_stats,omitempty"`
	Sprays  *int           `json:"sprays,omitempty"`
	Version version.Info   `json:"version"`
}

func (s *Server) showStatus(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodGet) {
		return
	}
	resp := statusResponse{
		Status:  s.loop.Status(),
		RunID:   s.opts.RunID,
		Version: version.Current(),
	}
	if s.opts.Lidar != nil {
		st := s.opts.Lidar.Stats()
		resp.Lidar = &st
	}
	if s.opts.Mission != nil {
		n := s.opts.Mission.Sprays()
		resp.Sprays = &n
	}
	s.writeJSON(w, resp)
}

// control runs fn against the loop with a bounded wait and maps loop errors
// onto HTTP statuses.
func (s *Server) control(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()
	err := fn(ctx)
	switch {
	case err == nil:
		s.writeJSON(w, s.loop.Status())
	case errors.Is(err, drive.ErrLoopStopped), errors.Is(err, context.DeadlineExceeded):
		s.writeJSONError(w, http.StatusServiceUnavailable, fmt.Sprintf("drive loop unavailable: %v", err))
	case errors.Is(err, autopilot.ErrInvalidInput):
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
	default:
		s.writeJSONError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) stop(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodPost) {
		return
	}
	s.control(w, r, s.loop.Stop)
}

func (s *Server) reset(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodPost) {
		return
	}
	s.control(w, r, s.loop.Reset)
}

// pushScript appends a JSON array of maneuvers to the behavior queue.
func (s *Server) pushScript(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodPost) {
		return
	}
	var script []autopilot.Maneuver
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&script); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("Invalid script: %v", err))
		return
	}
	if len(script) == 0 {
		s.writeJSONError(w, http.StatusBadRequest, "Script is empty")
		return
	}
	if err := s.checkScript(script); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.control(w, r, func(ctx context.Context) error { return s.loop.Push(ctx, script...) })
}

// checkScript rejects maneuvers whose target state the controller would not
// know; popping one would stop the vehicle.
func (s *Server) checkScript(script []autopilot.Maneuver) error {
	var known []autopilot.State
	if s.opts.Registry != nil {
		known = s.opts.Registry.States()
	} else {
		known = autopilot.NewRegistry().States()
	}
	for i, m := range script {
		target := m.Target()
		if target == "" {
			return fmt.Errorf("maneuver %d (%s) names no state", i, m)
		}
		if !slices.Contains(known, target) {
			return fmt.Errorf("maneuver %d (%s) enters unknown state %q", i, m, target)
		}
	}
	return nil
}

// scanArea queues a side look. With a mission configured and no explicit
// angle it runs the mission's script; otherwise it probes with a pan/tilt
// sweep at the given angle.
func (s *Server) scanArea(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodPost) {
		return
	}
	var script []autopilot.Maneuver
	if a := r.URL.Query().Get("angle"); a != "" {
		angle, err := strconv.ParseFloat(a, 64)
		if err != nil || angle <= 0 || angle > 180 {
			s.writeJSONError(w, http.StatusBadRequest, "Invalid 'angle' parameter")
			return
		}
		script = autopilot.ScanArea(angle, autopilot.RunScan(autopilot.ScanPanTilt))
	} else if s.opts.Mission != nil {
		script = s.opts.Mission.Script()
	} else {
		script = autopilot.ScanArea(s.opts.AreaScanAngle, autopilot.RunScan(autopilot.ScanPanTilt))
	}
	s.control(w, r, func(ctx context.Context) error { return s.loop.Push(ctx, script...) })
}

func (s *Server) scanStrategy(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.writeJSON(w, map[string]autopilot.ScanStrategy{"strategy": s.loop.Status().ScanStrategy})
	case http.MethodPost:
		var strategy autopilot.ScanStrategy
		if err := strategy.UnmarshalText([]byte(r.FormValue("strategy"))); err != nil {
			s.writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		if strategy == autopilot.ScanDefault {
			s.writeJSONError(w, http.StatusBadRequest, "strategy must be rotate or pan-tilt")
			return
		}
		s.control(w, r, func(ctx context.Context) error { return s.loop.SetScanStrategy(ctx, strategy) })
	default:
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// detections accepts target centroids from the vision process.
func (s *Server) detections(w http.ResponseWriter, r *http.Request) {
	if s.opts.Feed == nil {
		s.writeJSONError(w, http.StatusNotFound, "No detection feed configured")
		return
	}
	switch r.Method {
	case http.MethodGet:
		targets := s.opts.Feed.Latest()
		if targets == nil {
			targets = []autopilot.Target{}
		}
		s.writeJSON(w, targets)
	case http.MethodPost:
		var targets []autopilot.Target
		if err := json.NewDecoder(io.LimitReader(r.Body, maxBodySize)).Decode(&targets); err != nil {
			s.writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("Invalid detections: %v", err))
			return
		}
		for i, t := range targets {
			if t.Confidence < 0 || t.Confidence > 1 {
				s.writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("detection %d confidence %v outside [0, 1]", i, t.Confidence))
				return
			}
		}
		s.opts.Feed.Publish(targets)
		w.WriteHeader(http.StatusNoContent)
	default:
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (s *Server) showPose(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodGet) {
		return
	}
	if s.opts.World == nil {
		s.writeJSONError(w, http.StatusNotFound, "Not running in simulation")
		return
	}
	s.writeJSON(w, map[string]any{
		"pose":       s.opts.World.Pose(),
		"collisions": s.opts.World.Collisions(),
		"sprayed":    s.opts.World.Sprayed(),
	})
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodGet) || !s.requireDB(w) {
		return
	}
	limit, ok := queryInt(r, "limit", 20)
	if !ok {
		s.writeJSONError(w, http.StatusBadRequest, "Invalid 'limit' parameter")
		return
	}
	runs, err := s.opts.DB.Runs(limit)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to retrieve runs: %v", err))
		return
	}
	if runs == nil {
		runs = []db.Run{}
	}
	s.writeJSON(w, runs)
}

func (s *Server) listTicks(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodGet) || !s.requireDB(w) {
		return
	}
	limit, ok := queryInt(r, "limit", 500)
	if !ok {
		s.writeJSONError(w, http.StatusBadRequest, "Invalid 'limit' parameter")
		return
	}
	runID := s.runParam(r)
	ticks, err := s.opts.DB.RecentTicks(runID, limit)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to retrieve ticks: %v", err))
		return
	}
	if ticks == nil {
		ticks = []db.TickRow{}
	}
	s.writeJSON(w, ticks)
}

func (s *Server) listTransitions(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodGet) || !s.requireDB(w) {
		return
	}
	transitions, err := s.opts.DB.Transitions(s.runParam(r))
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to retrieve transitions: %v", err))
		return
	}
	if transitions == nil {
		transitions = []db.TransitionRow{}
	}
	s.writeJSON(w, transitions)
}

func (s *Server) requireDB(w http.ResponseWriter) bool {
	if s.opts.DB == nil {
		s.writeJSONError(w, http.StatusNotFound, "Telemetry is not being recorded")
		return false
	}
	return true
}

// runParam returns the requested run, defaulting to the current one.
func (s *Server) runParam(r *http.Request) string {
	if id := r.URL.Query().Get("run"); id != "" {
		return id
	}
	return s.opts.RunID
}
