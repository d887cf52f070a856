package main

import (
	"flag"
	"fmt"
	"image/color"
	"log"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/banshee-data/rover/internal/db"
)

var (
	lidarColor      = color.RGBA{R: 31, G: 119, B: 180, A: 255}
	thresholdColor  = color.RGBA{R: 214, G: 39, B: 40, A: 255}
	speedColor      = color.RGBA{R: 44, G: 160, B: 44, A: 255}
	transitionColor = color.RGBA{R: 255, G: 127, B: 14, A: 255}
)

func main() {
	var dbPath, runID, out string
	flag.StringVar(&dbPath, "db", "telemetry.db", "path to sqlite db")
	flag.StringVar(&runID, "run", "", "run id (default: most recent run)")
	flag.StringVar(&out, "out", "run.png", "output image; the extension picks the format")
	flag.Parse()

	store, err := db.NewDB(dbPath)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer store.Close()

	if runID == "" {
		runs, err := store.Runs(1)
		if err != nil {
			log.Fatalf("list runs: %v", err)
		}
		if len(runs) == 0 {
			log.Fatalf("no runs recorded in %s", dbPath)
		}
		runID = runs[0].ID
	}

	n, err := renderRun(store, runID, out)
	if err != nil {
		log.Fatalf("plot run %s: %v", runID, err)
	}
	fmt.Printf("wrote %d ticks of run %s to %s\n", n, runID, out)
}

// renderRun plots lidar distance, obstacle threshold and commanded speed by
// tick, marking each state transition on the threshold line. It returns the
// number of ticks plotted.
func renderRun(store *db.DB, runID, out string) (int, error) {
	run, err := store.GetRun(runID)
	if err != nil {
		return 0, err
	}
	ticks, err := store.RecentTicks(runID, 0)
	if err != nil {
		return 0, fmt.Errorf("load ticks: %w", err)
	}
	if len(ticks) == 0 {
		return 0, fmt.Errorf("run has no ticks")
	}
	transitions, err := store.Transitions(runID)
	if err != nil {
		return 0, fmt.Errorf("load transitions: %w", err)
	}

	lidarPts := make(plotter.XYs, 0, len(ticks))
	thresholdPts := make(plotter.XYs, 0, len(ticks))
	speedPts := make(plotter.XYs, 0, len(ticks))
	thresholdAt := make(map[uint64]float64, len(ticks))
	for _, t := range ticks {
		x := float64(t.Tick)
		// Missing readings leave a gap rather than a drop to zero.
		if t.Lidar != nil {
			lidarPts = append(lidarPts, plotter.XY{X: x, Y: *t.Lidar})
		}
		thresholdPts = append(thresholdPts, plotter.XY{X: x, Y: t.Threshold})
		speedPts = append(speedPts, plotter.XY{X: x, Y: float64(t.Command.Speed)})
		thresholdAt[t.Tick] = t.Threshold
	}
	transitionPts := make(plotter.XYs, 0, len(transitions))
	for _, tr := range transitions {
		if y, ok := thresholdAt[tr.Tick]; ok {
			transitionPts = append(transitionPts, plotter.XY{X: float64(tr.Tick), Y: y})
		}
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Run %s (%s, %s)", run.ID, run.Source, run.StartedAt.Format("2006-01-02 15:04:05"))
	p.X.Label.Text = "Tick"
	p.Y.Label.Text = "Distance (cm) / Speed"
	p.Add(plotter.NewGrid())

	series := []struct {
		name  string
		pts   plotter.XYs
		color color.Color
	}{
		{"lidar", lidarPts, lidarColor},
		{"threshold", thresholdPts, thresholdColor},
		{"speed", speedPts, speedColor},
	}
	for _, s := range series {
		if len(s.pts) == 0 {
			continue
		}
		line, err := plotter.NewLine(s.pts)
		if err != nil {
			return 0, err
		}
		line.Color = s.color
		line.Width = vg.Points(1)
		p.Add(line)
		p.Legend.Add(s.name, line)
	}

	if len(transitionPts) > 0 {
		marks, err := plotter.NewScatter(transitionPts)
		if err != nil {
			return 0, err
		}
		marks.GlyphStyle.Color = transitionColor
		marks.GlyphStyle.Shape = draw.CircleGlyph{}
		marks.GlyphStyle.Radius = vg.Points(3)
		p.Add(marks)
		p.Legend.Add("transition", marks)
	}

	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10

	if err := p.Save(14*vg.Inch, 6*vg.Inch, out); err != nil {
		return 0, fmt.Errorf("save plot: %w", err)
	}
	return len(ticks), nil
}
