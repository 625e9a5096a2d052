package acquisition

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/allsky.report/internal/allsky/aggregate"
	"github.com/banshee-data/allsky.report/internal/allsky/ephem"
	"github.com/banshee-data/allsky.report/internal/allsky/exposure"
	"github.com/banshee-data/allsky.report/internal/allsky/fits"
	"github.com/banshee-data/allsky.report/internal/allsky/frame"
	"github.com/banshee-data/allsky.report/internal/allsky/indi"
	"github.com/banshee-data/allsky.report/internal/allsky/pipeline"
	"github.com/banshee-data/allsky.report/internal/config"
	"github.com/banshee-data/allsky.report/internal/db"
	"github.com/banshee-data/allsky.report/internal/fsutil"
	"github.com/banshee-data/allsky.report/internal/monitoring"
	"github.com/banshee-data/allsky.report/internal/timeutil"
)

// Loop drives one camera on a fixed cadence. It never touches pixels beyond
// writing the spool file: measurement and finishing happen in the image
// workers, with the controller as the rendezvous for the next exposure.
type Loop struct {
	cfg         *config.Config
	store       *db.DB
	camera      *db.Camera
	client      indi.Client
	ctrl        *exposure.Controller
	obs         ephem.Observer
	fs          fsutil.FileSystem
	clock       timeutil.Clock
	cameraIndex int

	StopChan chan struct{}

	regimeKnown bool
	regime      Regime
}

// NewLoop wires an acquisition loop for one camera.
func NewLoop(cfg *config.Config, store *db.DB, camera *db.Camera, client indi.Client,
	ctrl *exposure.Controller, obs ephem.Observer, fs fsutil.FileSystem,
	clock timeutil.Clock, cameraIndex int) *Loop {
	return &Loop{
		cfg:         cfg,
		store:       store,
		camera:      camera,
		client:      client,
		ctrl:        ctrl,
		obs:         obs,
		fs:          fs,
		clock:       clock,
		cameraIndex: cameraIndex,
		StopChan:    make(chan struct{}),
	}
}

// Run blocks, capturing frames until ctx is cancelled or Stop is called.
// Cycle errors are logged and cost one period; the loop itself never dies.
func (l *Loop) Run(ctx context.Context) {
	period := l.cfg.GetExposurePeriod()
	monitoring.Logf("acquisition: ccd%d starting, period %s", l.cameraIndex, period)

	for {
		select {
		case <-ctx.Done():
			return
		case <-l.StopChan:
			return
		default:
		}

		start := l.clock.Now()
		if err := l.cycle(ctx, start); err != nil {
			monitoring.Logf("acquisition: ccd%d cycle: %v", l.cameraIndex, err)
		}

		elapsed := l.clock.Since(start)
		if remaining := period - elapsed; remaining > 0 {
			select {
			case <-ctx.Done():
				return
			case <-l.StopChan:
				return
			case <-l.clock.After(remaining):
			}
		}
	}
}

// Stop asks a running loop to exit after the current cycle.
func (l *Loop) Stop() { close(l.StopChan) }

// cycle performs one capture: regime bookkeeping, exposure, spool, enqueue.
func (l *Loop) cycle(ctx context.Context, start time.Time) error {
	st := l.obs.At(start)
	regime := Resolve(l.cfg, st)

	if !l.regimeKnown || regime != l.regime {
		if err := l.enterRegime(ctx, regime, start); err != nil {
			return err
		}
	}

	gain, bin := Profile(l.cfg, regime)
	exposureSec := l.ctrl.Exposure()

	expCtx, cancel := context.WithTimeout(ctx, exposureDeadline(l.cfg.GetExposureTimeout(), exposureSec))
	raw, err := l.client.Expose(expCtx, exposureSec)
	cancel()
	if err != nil {
		if errors.Is(err, indi.ErrExposureTimeout) {
			return fmt.Errorf("exposure %.6fs timed out, skipping cycle", exposureSec)
		}
		return fmt.Errorf("expose: %w", err)
	}

	tempC, err := l.client.Temperature()
	if err != nil {
		monitoring.Logf("acquisition: ccd%d temperature read failed: %v", l.cameraIndex, err)
	}

	bayer, _ := frame.ParseBayer(l.cfg.GetBayerPattern())
	raw.Meta = frame.Meta{
		CapturedAt: start,
		Exposure:   exposureSec,
		Gain:       gain,
		Bin:        bin,
		TempC:      tempC,
		Bayer:      bayer,
	}

	spool, err := l.spoolFrame(raw)
	if err != nil {
		return err
	}

	payload := pipeline.EncodeImageTask(pipeline.ImageTask{
		Path:        spool,
		CameraIndex: l.cameraIndex,
		Night:       regime.Night(),
		MoonMode:    regime == RegimeMoon,
	})
	if _, err := l.store.Enqueue(ctx, db.QueueImage, payload); err != nil {
		return fmt.Errorf("enqueue image task: %w", err)
	}
	return nil
}

// exposureDeadline is the wait for one frame: the configured timeout plus the
// commanded integration time. The stretch keeps exposures beyond the timeout
// (long-exposure configs at night) from being cut off while the sensor is
// still integrating.
func exposureDeadline(timeout time.Duration, exposureSec float64) time.Duration {
	return timeout + time.Duration(exposureSec*float64(time.Second))
}

// enterRegime reprograms the camera for the new regime and, on the night to
// day crossing, queues the aggregation of the night partition just closed.
func (l *Loop) enterRegime(ctx context.Context, regime Regime, now time.Time) error {
	gain, bin := Profile(l.cfg, regime)
	monitoring.Logf("acquisition: ccd%d entering %s (gain=%d bin=%d)", l.cameraIndex, regime, gain, bin)

	if err := l.client.SetGain(gain); err != nil {
		return fmt.Errorf("set gain %d: %w", gain, err)
	}
	if err := l.client.SetBin(bin); err != nil {
		return fmt.Errorf("set bin %d: %w", bin, err)
	}
	l.ctrl.Reset()

	nightEnded := l.regimeKnown && l.regime.Night() && !regime.Night()
	l.regime = regime
	l.regimeKnown = true

	if nightEnded {
		l.queueNightAggregation(ctx, now)
	}
	return nil
}

// queueNightAggregation enqueues the video-queue request for the night
// partition that just ended. The partition date is the capture-day rule
// applied to the final night-side instant, so a morning crossing aggregates
// yesterday evening through this morning as one unit.
func (l *Loop) queueNightAggregation(ctx context.Context, now time.Time) {
	dayDate := ephem.DayDate(now, true)
	payload := aggregate.EncodeRequest(aggregate.Request{
		DayDate:   dayDate,
		Night:     true,
		CameraID:  l.camera.ID,
		Video:     true,
		Keogram:   true,
		Startrail: true,
	})
	if _, err := l.store.Enqueue(ctx, db.QueueVideo, payload); err != nil {
		monitoring.Logf("acquisition: ccd%d enqueue aggregation for %s: %v", l.cameraIndex, dayDate, err)
		return
	}
	monitoring.Logf("acquisition: ccd%d night %s closed, aggregation queued", l.cameraIndex, dayDate)

	if l.cfg.GetSyncEnabled() {
		meta := fmt.Sprintf(`{"dayDate":%q,"camera_uuid":%q}`, dayDate, l.camera.UUID)
		payload := pipeline.EncodeUploadTask(pipeline.UploadTask{Action: "end_of_night", Metadata: meta})
		if _, err := l.store.Enqueue(ctx, db.QueueUpload, payload); err != nil {
			monitoring.Logf("acquisition: ccd%d enqueue end-of-night: %v", l.cameraIndex, err)
		}
	}
}

// spoolFrame writes the raw frame into the spool directory and returns its
// path. The image worker owns (and removes) the file from here on.
func (l *Loop) spoolFrame(raw *frame.Raw) (string, error) {
	dir := filepath.Join(l.cfg.GetImageRoot(), "spool")
	if err := l.fs.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, fmt.Sprintf("ccd%d_%s.fit", l.cameraIndex, uuid.NewString()))
	if err := fits.WriteRaw(path, raw, "Light Frame"); err != nil {
		return "", fmt.Errorf("spool frame: %w", err)
	}
	return path, nil
}
