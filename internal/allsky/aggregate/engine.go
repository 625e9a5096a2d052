// Package aggregate builds the per-partition artefacts after a capture day
// closes: the timelapse video, the keogram strip and the star-trail stack.
// Runs are serialised across processes with a file lock so a manual CLI run
// and the daemon's worker never encode on top of each other.
package aggregate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"path/filepath"

	"github.com/gofrs/flock"

	"github.com/banshee-data/allsky.report/internal/config"
	"github.com/banshee-data/allsky.report/internal/db"
	"github.com/banshee-data/allsky.report/internal/fsutil"
	"github.com/banshee-data/allsky.report/internal/monitoring"
)

// ErrLockHeld means another aggregation run owns the lock file. The caller
// should requeue or retry later rather than treat this as a failure.
var ErrLockHeld = errors.New("aggregate: another aggregation run holds the lock")

// Request names one partition and the artefacts wanted for it.
type Request struct {
	DayDate   string `json:"dayDate"`
	Night     bool   `json:"night"`
	CameraID  int64  `json:"camera_id"`
	Video     bool   `json:"video"`
	Keogram   bool   `json:"keogram"`
	Startrail bool   `json:"startrail"`
}

// EncodeRequest marshals a request for the task queue.
func EncodeRequest(r Request) string {
	data, _ := json.Marshal(r)
	return string(data)
}

// DecodeRequest unmarshals a video-queue payload.
func DecodeRequest(data string) (Request, error) {
	var r Request
	if err := json.Unmarshal([]byte(data), &r); err != nil {
		return r, fmt.Errorf("decode aggregate request: %w", err)
	}
	return r, nil
}

// Engine runs aggregation requests.
type Engine struct {
	cfg   *config.Config
	store *db.DB
	fs    fsutil.FileSystem
}

// NewEngine wires an aggregation engine.
func NewEngine(cfg *config.Config, store *db.DB, fs fsutil.FileSystem) *Engine {
	return &Engine{cfg: cfg, store: store, fs: fs}
}

// Run executes one request under the cross-process lock. The three artefacts
// fail independently: a broken encoder does not cost the keogram or the
// star trails, and the combined error reports everything that went wrong.
func (e *Engine) Run(ctx context.Context, req Request) error {
	lock := flock.New(e.cfg.GetAggregateLock())
	ok, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("aggregate lock %s: %w", e.cfg.GetAggregateLock(), err)
	}
	if !ok {
		return ErrLockHeld
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			monitoring.Logf("aggregate: unlock %s: %v", e.cfg.GetAggregateLock(), err)
		}
	}()

	imgs, err := e.store.ImagesForDay(ctx, req.CameraID, req.DayDate, req.Night)
	if err != nil {
		return err
	}
	if len(imgs) == 0 {
		monitoring.Logf("aggregate: no frames for %s night=%v, nothing to do", req.DayDate, req.Night)
		return nil
	}
	monitoring.Logf("aggregate: %s night=%v, %d frames", req.DayDate, req.Night, len(imgs))

	var errs []error
	if req.Video {
		if path, err := e.makeTimelapse(ctx, req, imgs); err != nil {
			errs = append(errs, fmt.Errorf("timelapse: %w", err))
		} else {
			monitoring.Logf("aggregate: timelapse %s", path)
		}
	}
	if req.Keogram {
		if path, err := e.makeKeogram(ctx, req, imgs); err != nil {
			errs = append(errs, fmt.Errorf("keogram: %w", err))
		} else {
			monitoring.Logf("aggregate: keogram %s", path)
		}
	}
	if req.Startrail && req.Night {
		if path, err := e.makeStartrails(ctx, req, imgs); err != nil {
			errs = append(errs, fmt.Errorf("startrails: %w", err))
		} else {
			monitoring.Logf("aggregate: startrails %s", path)
		}
	}
	return errors.Join(errs...)
}

// partitionDir returns the output directory for the request's partition.
func (e *Engine) partitionDir(req Request) string {
	tod := "day"
	if req.Night {
		tod = "night"
	}
	return filepath.Join(e.cfg.GetImageRoot(), req.DayDate, tod)
}

// loadImage decodes one finished frame off disk.
func (e *Engine) loadImage(path string) (image.Image, error) {
	data, err := e.fs.ReadFile(path)
	if err != nil {
		return nil, err
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return img, nil
}
