package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/banshee-data/allsky.report/internal/db"
	"github.com/banshee-data/allsky.report/internal/monitoring"
	"github.com/banshee-data/allsky.report/internal/timeutil"
)

// workerPoll is the idle polling interval of an image worker. Claims are
// serialised by the queue's compare-and-set, so several workers can poll the
// same queue.
const workerPoll = 2 * time.Second

// Worker drains the image queue through one Pipeline.
type Worker struct {
	store *db.DB
	pipe  *Pipeline
	clock timeutil.Clock
	name  string

	StopChan chan struct{}
}

// NewWorker creates an image worker. The name only appears in logs.
func NewWorker(store *db.DB, pipe *Pipeline, clock timeutil.Clock, name string) *Worker {
	return &Worker{
		store:    store,
		pipe:     pipe,
		clock:    clock,
		name:     name,
		StopChan: make(chan struct{}),
	}
}

// Run blocks, processing image tasks until ctx is cancelled, Stop is called,
// or a stop sentinel task is consumed.
func (w *Worker) Run(ctx context.Context) {
	monitoring.Logf("%s: starting", w.name)
	ticker := w.clock.NewTicker(workerPoll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.StopChan:
			return
		case <-ticker.C():
			if stop := w.drain(ctx); stop {
				return
			}
		}
	}
}

// Stop asks a running worker to exit after the current task.
func (w *Worker) Stop() { close(w.StopChan) }

// drain claims tasks until the queue is empty. Returns true when a stop
// sentinel was consumed.
func (w *Worker) drain(ctx context.Context) bool {
	for {
		select {
		case <-ctx.Done():
			return true
		case <-w.StopChan:
			return true
		default:
		}

		task, err := w.store.Dequeue(ctx, db.QueueImage)
		if err != nil {
			monitoring.Logf("%s: dequeue: %v", w.name, err)
			return false
		}
		if task == nil {
			return false
		}
		if stop := w.runTask(ctx, task); stop {
			return true
		}
	}
}

// runTask executes one claimed task and records its outcome. A task failure
// is local: the worker carries on with the next frame.
func (w *Worker) runTask(ctx context.Context, task *db.Task) bool {
	t, err := DecodeImageTask(task.Data)
	if err != nil {
		w.finish(ctx, task.ID, false, err.Error())
		return false
	}
	if t.Stop {
		w.finish(ctx, task.ID, true, "stop")
		monitoring.Logf("%s: stop sentinel consumed", w.name)
		return true
	}

	if err := w.pipe.Process(ctx, t); err != nil {
		monitoring.Logf("%s: task %d: %v", w.name, task.ID, err)
		w.finish(ctx, task.ID, false, err.Error())
		return false
	}
	w.finish(ctx, task.ID, true, fmt.Sprintf("processed %s", t.Path))
	return false
}

func (w *Worker) finish(ctx context.Context, id int64, ok bool, result string) {
	if err := w.store.Finish(ctx, id, ok, result); err != nil {
		monitoring.Logf("%s: finish task %d: %v", w.name, id, err)
	}
}
