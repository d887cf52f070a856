package api

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
)

// runChart renders distance, threshold and speed over the recent ticks of a
// run as an HTML line chart.
func (s *Server) runChart(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodGet) || !s.requireDB(w) {
		return
	}
	limit, ok := queryInt(r, "limit", 2000)
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

	x := make([]string, 0, len(ticks))
	distance := make([]opts.LineData, 0, len(ticks))
	threshold := make([]opts.LineData, 0, len(ticks))
	speed := make([]opts.LineData, 0, len(ticks))
	for _, t := range ticks {
		x = append(x, strconv.FormatUint(t.Tick, 10))
		// Gaps in the distance line mark missing or out-of-range readings.
		var d interface{} = "-"
		if t.Lidar != nil {
			d = *t.Lidar
		}
		distance = append(distance, opts.LineData{Value: d})
		threshold = append(threshold, opts.LineData{Value: t.Threshold})
		speed = append(speed, opts.LineData{Value: t.Command.Speed})
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Rover run", Theme: "dark", Width: "100%", Height: "640px"}),
		charts.WithTitleOpts(opts.Title{Title: "Distance and threshold", Subtitle: fmt.Sprintf("run=%s ticks=%d", runID, len(ticks))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "tick", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "cm / speed", NameLocation: "middle", NameGap: 40}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider"}),
	)
	line.SetXAxis(x).
		AddSeries("lidar", distance).
		AddSeries("threshold", threshold).
		AddSeries("speed", speed)

	var buf bytes.Buffer
	if err := line.Render(&buf); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render chart: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
