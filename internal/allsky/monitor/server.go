// Package monitor exposes the daemon's observation surface: status and queue
// JSON endpoints plus debugging charts of the exposure loop and the nightly
// sky-quality trend. No auth; bind it to localhost or a trusted network.
package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/allsky.report/internal/allsky/ephem"
	"github.com/banshee-data/allsky.report/internal/allsky/exposure"
	"github.com/banshee-data/allsky.report/internal/config"
	"github.com/banshee-data/allsky.report/internal/db"
	"github.com/banshee-data/allsky.report/internal/fsutil"
	"github.com/banshee-data/allsky.report/internal/monitoring"
)

// WebServer serves the monitor endpoints for one camera.
type WebServer struct {
	cfg    *config.Config
	store  *db.DB
	camera *db.Camera
	ctrl   *exposure.Controller
	fs     fsutil.FileSystem
	addr   string

	server *http.Server
}

// NewWebServer wires the monitor routes.
func NewWebServer(cfg *config.Config, store *db.DB, camera *db.Camera,
	ctrl *exposure.Controller, fs fsutil.FileSystem, addr string) *WebServer {
	ws := &WebServer{cfg: cfg, store: store, camera: camera, ctrl: ctrl, fs: fs, addr: addr}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", ws.handleHealthz)
	mux.HandleFunc("/api/status", ws.handleStatus)
	mux.HandleFunc("/api/queues", ws.handleQueues)
	mux.HandleFunc("/api/task", ws.handleTask)
	mux.HandleFunc("/api/sqm", ws.handleSQMData)
	mux.HandleFunc("/debug/charts/adu", ws.handleADUChart)
	mux.HandleFunc("/debug/plots/sqm.png", ws.handleSQMPlot)

	ws.server = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return ws
}

// Start serves until the listener fails or Shutdown is called.
func (ws *WebServer) Start() error {
	monitoring.Logf("monitor: listening on %s", ws.addr)
	err := ws.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown stops the server gracefully.
func (ws *WebServer) Shutdown(ctx context.Context) error {
	return ws.server.Shutdown(ctx)
}

func (ws *WebServer) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "ok")
}

// handleStatus returns the per-frame status document the pipeline maintains,
// falling back to the controller's live view before the first frame lands.
func (ws *WebServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	path := ws.cfg.GetImageRoot() + "/status.json"
	if ws.fs.Exists(path) {
		data, err := ws.fs.ReadFile(path)
		if err == nil {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write(data)
			return
		}
		monitoring.Logf("monitor: read %s: %v", path, err)
	}

	mean, full := ws.ctrl.HistoryMean()
	ws.writeJSON(w, map[string]interface{}{
		"name":               ws.cfg.GetCameraName(),
		"stable_exposure":    ws.ctrl.Stable(),
		"exposure":           ws.ctrl.Exposure(),
		"target_adu":         ws.cfg.GetTargetADU(),
		"current_adu_target": ws.ctrl.CurrentTarget(),
		"adu_average":        mean,
		"adu_history_full":   full,
	})
}

// handleQueues returns the QUEUED depth of each task queue.
func (ws *WebServer) handleQueues(w http.ResponseWriter, r *http.Request) {
	depths := map[string]int{}
	for _, q := range []string{db.QueueImage, db.QueueVideo, db.QueueUpload} {
		n, err := ws.store.QueueDepth(r.Context(), q)
		if err != nil {
			ws.writeJSONError(w, http.StatusInternalServerError, err.Error())
			return
		}
		depths[q] = n
	}
	ws.writeJSON(w, depths)
}

// handleTask returns a single task row by id.
func (ws *WebServer) handleTask(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.URL.Query().Get("id"), 10, 64)
	if err != nil {
		ws.writeJSONError(w, http.StatusBadRequest, "missing or invalid id")
		return
	}
	task, err := ws.store.TaskByID(r.Context(), id)
	if err != nil {
		ws.writeJSONError(w, http.StatusNotFound, err.Error())
		return
	}
	ws.writeJSON(w, map[string]interface{}{
		"id":          task.ID,
		"create_date": task.CreateDate,
		"queue":       task.Queue,
		"state":       task.State,
		"data":        task.Data,
		"result":      task.Result,
	})
}

// handleSQMData returns the raw SQM series for a partition as JSON.
func (ws *WebServer) handleSQMData(w http.ResponseWriter, r *http.Request) {
	dayDate, night := ws.partitionParams(r)
	samples, err := ws.store.SQMForDay(r.Context(), ws.camera.ID, dayDate, night)
	if err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	ws.writeJSON(w, samples)
}

// partitionParams reads day_date/night query params, defaulting to the
// current night partition.
func (ws *WebServer) partitionParams(r *http.Request) (string, bool) {
	dayDate := r.URL.Query().Get("day_date")
	if dayDate == "" {
		dayDate = ephem.DayDate(time.Now(), true)
	}
	night := true
	if v := r.URL.Query().Get("night"); v != "" {
		night = v != "0" && v != "false"
	}
	return dayDate, night
}

func (ws *WebServer) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		monitoring.Logf("monitor: encode response: %v", err)
	}
}

func (ws *WebServer) writeJSONError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
