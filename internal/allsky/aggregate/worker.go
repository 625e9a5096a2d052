package aggregate

import (
	"context"
	"errors"
	"time"

	"github.com/banshee-data/allsky.report/internal/db"
	"github.com/banshee-data/allsky.report/internal/monitoring"
	"github.com/banshee-data/allsky.report/internal/timeutil"
)

// workerPoll is the idle polling interval of the video worker. Aggregation is
// rare and heavy, so a slow poll costs nothing.
const workerPoll = 30 * time.Second

// Worker drains the video queue through one Engine.
type Worker struct {
	store  *db.DB
	engine *Engine
	clock  timeutil.Clock

	StopChan chan struct{}
}

// NewWorker creates a video-queue worker.
func NewWorker(store *db.DB, engine *Engine, clock timeutil.Clock) *Worker {
	return &Worker{store: store, engine: engine, clock: clock, StopChan: make(chan struct{})}
}

// Run blocks, processing aggregation requests until ctx is cancelled or Stop
// is called.
func (w *Worker) Run(ctx context.Context) {
	monitoring.Logf("aggregate-worker: starting")
	ticker := w.clock.NewTicker(workerPoll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.StopChan:
			return
		case <-ticker.C():
			w.drain(ctx)
		}
	}
}

// Stop asks a running worker to exit after the current task.
func (w *Worker) Stop() { close(w.StopChan) }

func (w *Worker) drain(ctx context.Context) {
	for {
		task, err := w.store.Dequeue(ctx, db.QueueVideo)
		if err != nil {
			monitoring.Logf("aggregate-worker: dequeue: %v", err)
			return
		}
		if task == nil {
			return
		}
		w.runTask(ctx, task)
	}
}

// runTask executes one aggregation request. A held lock requeues the request
// rather than failing it, so a manual CLI run in flight only delays the
// nightly artefacts.
func (w *Worker) runTask(ctx context.Context, task *db.Task) {
	req, err := DecodeRequest(task.Data)
	if err != nil {
		w.finish(ctx, task.ID, false, err.Error())
		return
	}

	err = w.engine.Run(ctx, req)
	switch {
	case errors.Is(err, ErrLockHeld):
		w.finish(ctx, task.ID, false, "lock held, requeued")
		if _, err := w.store.Enqueue(ctx, db.QueueVideo, task.Data); err != nil {
			monitoring.Logf("aggregate-worker: requeue %s: %v", req.DayDate, err)
		}
	case err != nil:
		monitoring.Logf("aggregate-worker: %s: %v", req.DayDate, err)
		w.finish(ctx, task.ID, false, err.Error())
	default:
		w.finish(ctx, task.ID, true, "aggregated "+req.DayDate)
	}
}

func (w *Worker) finish(ctx context.Context, id int64, ok bool, result string) {
	if err := w.store.Finish(ctx, id, ok, result); err != nil {
		monitoring.Logf("aggregate-worker: finish task %d: %v", id, err)
	}
}
