// Package api serves the vehicle's HTTP interface: loop status and control,
// scripted maneuvers, detections from the vision process and recorded
// telemetry.
package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/rover/internal/autopilot"
	"github.com/banshee-data/rover/internal/db"
	"github.com/banshee-data/rover/internal/drive"
	"github.com/banshee-data/rover/internal/mission"
	"github.com/banshee-data/rover/internal/ranging"
	"github.com/banshee-data/rover/internal/sim"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// requestTimeout bounds how long a control request waits for the loop.
const requestTimeout = 2 * time.Second

// Driver is the control surface of the drive loop.
type Driver interface {
	Status() drive.Status
	Stop(ctx context.Context) error
	Reset(ctx context.Context) error
	Push(ctx context.Context, ms ...autopilot.Maneuver) error
	SetScanStrategy(ctx context.Context, s autopilot.ScanStrategy) error
}

// Options holds the optional collaborators. Routes whose collaborator is nil
// answer 404.
type Options struct {
	// Registry lists the states scripts may name.
	Registry *autopilot.Registry
	DB       *db.DB
	RunID    string
	Feed     *mission.TargetFeed
	Mission  *mission.PestControl
	Lidar    *ranging.Source
	World    *sim.World
	// AreaScanAngle is used by /api/scan-area when no angle is given.
	AreaScanAngle float64
}

type Server struct {
	loop Driver
	opts Options
}

func NewServer(loop Driver, opts Options) *Server {
	if opts.AreaScanAngle == 0 {
		opts.AreaScanAngle = autopilot.DefaultConfig().AreaScanAngle
	}
	return &Server{loop: loop, opts: opts}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", s.showStatus)
	mux.HandleFunc("/api/stop", s.stop)
	mux.HandleFunc("/api/reset", s.reset)
	mux.HandleFunc("/api/script", s.pushScript)
	mux.HandleFunc("/api/scan-area", s.scanArea)
	mux.HandleFunc("/api/scan-strategy", s.scanStrategy)
	mux.HandleFunc("/api/detections", s.detections)
	mux.HandleFunc("/api/runs", s.listRuns)
	mux.HandleFunc("/api/ticks", s.listTicks)
	mux.HandleFunc("/api/transitions", s.listTransitions)
	mux.HandleFunc("/api/pose", s.showPose)
	mux.HandleFunc("/charts/run", s.runChart)
	return mux
}

func (s *Server) writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to write response")
	}
}

func (s *Server) requireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return false
	}
	return true
}

// queryInt parses an optional positive integer parameter.
func queryInt(r *http.Request, name string, def int) (int, bool) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}
