package ranging

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/rover/internal/autopilot"
	"github.com/banshee-data/rover/internal/serialmux"
	"github.com/banshee-data/rover/internal/timeutil"
)

// Source keeps the most recent lidar readings and serves them as snapshots.
// Frames arrive on the serial monitor goroutine while the control loop reads,
// so all state sits behind a mutex.
type Source struct {
	mu     sync.Mutex
	clock  timeutil.Clock
	window []float64
	size   int
	maxAge time.Duration
	last   Frame
	at     time.Time
	frames uint64
	errors uint64
}

// NewSource returns a source smoothing over the last window readings.
// Readings older than maxAge are reported as missing. A nil clock uses the
// wall clock.
func NewSource(window int, maxAge time.Duration, clock timeutil.Clock) *Source {
	if window < 1 {
		window = 1
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Source{clock: clock, size: window, maxAge: maxAge}
}

// HandleFrame decodes one payload from the serial mux.
func (s *Source) HandleFrame(b []byte) error {
	f, err := DecodeFrame(b)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.errors++
		return err
	}
	s.frames++
	s.last = f
	s.at = s.clock.Now()
	s.window = append(s.window, f.Distance())
	if len(s.window) > s.size {
		s.window = s.window[len(s.window)-s.size:]
	}
	return nil
}

// Run feeds frames from mux into the source until ctx is cancelled.
func (s *Source) Run(ctx context.Context, mux serialmux.SerialMuxInterface) error {
	return serialmux.HandleEvents(ctx, mux, s.HandleFrame)
}

// Distance returns the median of the window, or NaN when there is no fresh
// reading.
func (s *Source) Distance() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.window) == 0 || (s.maxAge > 0 && s.clock.Since(s.at) > s.maxAge) {
		return math.NaN()
	}
	sorted := make([]float64, len(s.window))
	copy(sorted, s.window)
	sort.Float64s(sorted)
	return stat.Quantile(0.5, stat.Empirical, sorted, nil)
}

// Snapshot implements the drive loop's sensor source. Only the lidar field
// is populated; the context is unused since reads never block.
func (s *Source) Snapshot(context.Context) (*autopilot.SensorSnapshot, error) {
	return autopilot.LidarSnapshot(s.Distance()), nil
}

// Stats reports decoded and rejected frame counts and the latest frame.
type Stats struct {
	Frames uint64 `json:"frames"`
	Errors uint64 `json:"errors"`
	Last   Frame  `json:"last"`
}

func (s *Source) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{Frames: s.frames, Errors: s.errors, Last: s.last}
}
