package monitor

import (
	"bytes"
	"fmt"
	"net/http"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
)

// handleADUChart renders the measured ADU and commanded exposure of one
// partition as a dual-series line chart. Debugging-only endpoint for tuning
// the target band without pulling the database.
// Query params:
//   - day_date (optional; defaults to the current night partition)
//   - night (optional; "0"/"false" selects the day side)
func (ws *WebServer) handleADUChart(w http.ResponseWriter, r *http.Request) {
	dayDate, night := ws.partitionParams(r)

	samples, err := ws.store.SQMForDay(r.Context(), ws.camera.ID, dayDate, night)
	if err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to load samples: %v", err))
		return
	}
	if len(samples) == 0 {
		ws.writeJSONError(w, http.StatusNotFound, "no samples for partition")
		return
	}

	x := make([]string, 0, len(samples))
	adu := make([]opts.LineData, 0, len(samples))
	exp := make([]opts.LineData, 0, len(samples))
	for _, s := range samples {
		x = append(x, s.CreateDate.Format("15:04:05"))
		adu = append(adu, opts.LineData{Value: s.ADU})
		exp = append(exp, opts.LineData{Value: s.Exposure})
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Exposure Loop", Theme: "dark", Width: "1200px", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    "ADU and Exposure",
			Subtitle: fmt.Sprintf("day_date=%s night=%v samples=%d target=%.0f", dayDate, night, len(samples), ws.cfg.GetTargetADU()),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithYAxisOpts(opts.YAxis{Name: "ADU"}),
	)
	line.ExtendYAxis(opts.YAxis{Name: "Exposure (s)", Type: "value"})

	line.SetXAxis(x).
		AddSeries("adu", adu).
		AddSeries("exposure", exp, charts.WithLineChartOpts(opts.LineChart{YAxisIndex: 1}))

	var buf bytes.Buffer
	if err := line.Render(&buf); err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render chart: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
