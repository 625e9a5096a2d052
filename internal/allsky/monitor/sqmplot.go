package monitor

import (
	"fmt"
	"net/http"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// handleSQMPlot renders the nightly sky-quality trend as a PNG. Unlike the
// HTML charts this is embeddable as a plain <img>, so the UI and reports can
// pull it directly.
func (ws *WebServer) handleSQMPlot(w http.ResponseWriter, r *http.Request) {
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

	pts := make(plotter.XYs, 0, len(samples))
	start := samples[0].CreateDate
	for _, s := range samples {
		if s.SQM <= 0 {
			continue
		}
		pts = append(pts, plotter.XY{
			X: s.CreateDate.Sub(start).Hours(),
			Y: s.SQM,
		})
	}
	if len(pts) == 0 {
		ws.writeJSONError(w, http.StatusNotFound, "no sqm values for partition")
		return
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Sky Quality %s", dayDate)
	p.X.Label.Text = fmt.Sprintf("Hours since %s", start.Format("15:04"))
	p.Y.Label.Text = "SQM"

	line, err := plotter.NewLine(pts)
	if err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	line.Width = vg.Points(1)
	p.Add(line)
	p.Add(plotter.NewGrid())

	wt, err := p.WriterTo(10*vg.Inch, 4*vg.Inch, "png")
	if err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render plot: %v", err))
		return
	}
	w.Header().Set("Content-Type", "image/png")
	if _, err := wt.WriteTo(w); err != nil {
		// Client went away mid-write; nothing to recover.
		return
	}
}
