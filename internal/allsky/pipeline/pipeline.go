// Package pipeline turns a spooled raw frame into a finished artefact:
// calibration against the dark library, debayer, measurement, enhancement,
// labelling and the atomic write of the dated file plus the latest snapshot.
package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"math"
	"path/filepath"

	"github.com/banshee-data/allsky.report/internal/allsky/darks"
	"github.com/banshee-data/allsky.report/internal/allsky/ephem"
	"github.com/banshee-data/allsky.report/internal/allsky/exposure"
	"github.com/banshee-data/allsky.report/internal/allsky/fits"
	"github.com/banshee-data/allsky.report/internal/allsky/frame"
	"github.com/banshee-data/allsky.report/internal/config"
	"github.com/banshee-data/allsky.report/internal/db"
	"github.com/banshee-data/allsky.report/internal/fsutil"
	"github.com/banshee-data/allsky.report/internal/monitoring"
)

// jpegQuality for finished frames.
const jpegQuality = 90

// ImageTask is the payload of one image-queue row. The raw frame travels by
// path, never inline.
type ImageTask struct {
	Path        string `json:"path"`
	CameraIndex int    `json:"camera_index"`
	Night       bool   `json:"night"`
	MoonMode    bool   `json:"moonmode"`
	Stop        bool   `json:"stop,omitempty"`
}

// EncodeImageTask marshals a payload for the task queue.
func EncodeImageTask(t ImageTask) string {
	data, _ := json.Marshal(t)
	return string(data)
}

// DecodeImageTask unmarshals a task row payload.
func DecodeImageTask(data string) (ImageTask, error) {
	var t ImageTask
	if err := json.Unmarshal([]byte(data), &t); err != nil {
		return t, fmt.Errorf("decode image task: %w", err)
	}
	return t, nil
}

// UploadTask is the payload handed to the out-of-scope transfer workers.
type UploadTask struct {
	Action     string `json:"action"`
	LocalFile  string `json:"local_file,omitempty"`
	RemoteFile string `json:"remote_file,omitempty"`
	Model      string `json:"model,omitempty"`
	ID         int64  `json:"id,omitempty"`
	Metadata   string `json:"metadata,omitempty"`
}

// EncodeUploadTask marshals an upload payload for the task queue.
func EncodeUploadTask(t UploadTask) string {
	data, _ := json.Marshal(t)
	return string(data)
}

// Pipeline processes image tasks for one camera.
type Pipeline struct {
	cfg    *config.Config
	store  *db.DB
	camera *db.Camera
	lib    *darks.Library
	ctrl   *exposure.Controller
	obs    ephem.Observer
	fs     fsutil.FileSystem
}

// New wires a pipeline.
func New(cfg *config.Config, store *db.DB, camera *db.Camera, lib *darks.Library,
	ctrl *exposure.Controller, obs ephem.Observer, fs fsutil.FileSystem) *Pipeline {
	return &Pipeline{
		cfg: cfg, store: store, camera: camera,
		lib: lib, ctrl: ctrl, obs: obs, fs: fs,
	}
}

// Process runs the full stage sequence for one task. Errors are local to the
// frame: the caller marks the task FAILED and continues with the next one.
func (p *Pipeline) Process(ctx context.Context, task ImageTask) error {
	data, err := p.fs.ReadFile(task.Path)
	if err != nil {
		return fmt.Errorf("Frame not found: %s: %v", task.Path, err)
	}
	raw, err := fits.DecodeRaw(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("Frame not found: %s: %v", task.Path, err)
	}
	defer func() {
		if err := p.fs.Remove(task.Path); err != nil {
			monitoring.Logf("pipeline: cannot remove spool %s: %v", task.Path, err)
		}
	}()

	meta := raw.Meta
	bits := raw.DetectBits()
	st := p.obs.At(meta.CapturedAt)

	// Calibration. A missing dark is not an error: pass through and mark
	// the artefact uncalibrated.
	calibrated := false
	key := darks.KeyFor(p.camera.ID, bits, meta.Exposure, meta.Gain, meta.Bin, meta.TempC)
	dark, _, err := p.lib.Lookup(ctx, key)
	switch {
	case err == nil:
		if err := raw.SubtractClamp(dark); err != nil {
			return fmt.Errorf("calibrate: %w", err)
		}
		calibrated = true
	case errors.Is(err, darks.ErrNoDark):
		// warn handled by the library, once per identity bucket
	default:
		return err
	}

	if p.cfg.GetFitsArchive() {
		if err := p.archiveFITS(raw, task); err != nil {
			monitoring.Logf("pipeline: fits archive failed: %v", err)
		}
	}

	sqm := computeSQM(raw, bits, meta.Exposure, meta.Gain)

	// Debayer (or the grayscale path for the regime).
	pattern := meta.Bayer
	if pattern == frame.BayerNone {
		if b, err := frame.ParseBayer(p.cfg.GetBayerPattern()); err == nil {
			pattern = b
		}
	}
	var colour *Color
	if p.cfg.GetGrayscale(task.Night) {
		colour = MonoColor(raw)
	} else {
		colour = Debayer(raw, pattern)
	}

	if p.cfg.GetExportRaw() {
		if err := p.exportRaw(colour, bits, task, meta); err != nil {
			monitoring.Logf("pipeline: raw export failed: %v", err)
		}
	}

	img := colour.ToRGBA(bits)

	stars := 0
	if task.Night && p.cfg.GetDetectStars() {
		stars = countStars(img, p.cfg.GetStarThreshold())
	}

	// ADU measurement over the configured ROI or the centred third, then
	// feed the controller. The controller's next exposure is read by the
	// acquisition loop, not by us.
	adu := p.measureADU(img)
	p.ctrl.Update(adu, meta.Exposure)

	if p.cfg.GetAutoWB() {
		autoWhiteBalance(img)
	} else {
		b, g, r := p.cfg.GetWBFactors()
		applyGains(img, b, g, r)
	}

	if p.cfg.GetContrastEnhance(task.Night) {
		applyCLAHE(img)
	}

	if c := p.cfg.ImageCrop; len(c) == 4 {
		img = crop(img, c[0], c[1], c[2], c[3])
	}
	flip(img, p.cfg.GetImageFlipV(), p.cfg.GetImageFlipH())
	img = scalePercent(img, p.cfg.GetImageScalePct())

	if p.cfg.GetImageLabel() {
		drawLabel(img, LabelInfo{
			Timestamp:    meta.CapturedAt,
			Exposure:     meta.Exposure,
			Gain:         meta.Gain,
			TempC:        meta.TempC,
			MoonFraction: st.MoonFraction,
			MoonWaxing:   st.MoonWaxing,
			MoonOK:       st.MoonOK,
		}, p.cfg.GetExtraTextFile(), p.fs)
	}
	if p.cfg.GetOrbOverlay() {
		drawOrbs(img, p.obs, st, meta.CapturedAt)
	}

	outPath, err := p.writeFinished(img, task, meta)
	if err != nil {
		return err
	}

	_, offset := meta.CapturedAt.Zone()
	row := &db.Image{
		CreateDate: meta.CapturedAt.UTC(),
		CameraID:   p.camera.ID,
		Filename:   outPath,
		DayDate:    ephem.DayDate(meta.CapturedAt, task.Night),
		Night:      task.Night,
		UTCOffset:  offset,
		Width:      img.Bounds().Dx(),
		Height:     img.Bounds().Dy(),
		Exposure:   meta.Exposure,
		Gain:       meta.Gain,
		Bin:        meta.Bin,
		TempC:      meta.TempC,
		ADU:        adu,
		Stable:     p.ctrl.Stable(),
		SQM:        sqm,
		Stars:      stars,
		Calibrated: calibrated,
		MoonMode:   task.MoonMode,
		MoonPhase:  st.MoonFraction,
	}
	imageID, err := p.store.InsertImage(ctx, row)
	if err != nil {
		return err
	}

	if p.cfg.GetSyncEnabled() {
		p.enqueueUpload(ctx, imageID, outPath, row)
	}

	aduAvg, _ := p.ctrl.HistoryMean()
	if err := p.writeStatus(Status{
		Name:             p.cfg.GetCameraName(),
		Class:            "ccd",
		Device:           fmt.Sprintf("ccd%d", task.CameraIndex),
		Night:            task.Night,
		TempC:            meta.TempC,
		Gain:             meta.Gain,
		Exposure:         meta.Exposure,
		StableExposure:   p.ctrl.Stable(),
		TargetADU:        p.cfg.GetTargetADU(),
		CurrentADUTarget: p.ctrl.CurrentTarget(),
		CurrentADU:       adu,
		ADUAverage:       aduAvg,
		SQM:              sqm,
		Stars:            stars,
	}, meta.CapturedAt); err != nil {
		monitoring.Logf("pipeline: status write failed: %v", err)
	}
	return nil
}

// measureADU averages luminance over the ADU ROI, or the centred 1/3 x 1/3
// region when none is configured.
func (p *Pipeline) measureADU(img *image.RGBA) float64 {
	b := img.Bounds()
	if roi := p.cfg.ADURoi; len(roi) == 4 {
		return luminance(img, roi[0], roi[1], roi[2], roi[3])
	}
	w, h := b.Dx(), b.Dy()
	return luminance(img, b.Min.X+w/3, b.Min.Y+h/3, b.Min.X+2*w/3, b.Min.Y+2*h/3)
}

// computeSQM scales the calibrated mono mean by exposure and gain into the
// sky-quality scalar. One number; interpretation is the UI's problem.
func computeSQM(raw *frame.Raw, bits int, exposureSec float64, gain int) float64 {
	if exposureSec <= 0 {
		return 0
	}
	mean := raw.Mean()
	if bits > 8 {
		mean /= float64(int(1) << uint(bits-8))
	}
	return mean / (exposureSec * math.Pow(10, float64(gain)/200))
}

// dayPartition returns {image_root}/YYYYMMDD/{day|night}/DD_HH for the
// capture time.
func (p *Pipeline) dayPartition(task ImageTask, meta frame.Meta) string {
	tod := "day"
	if task.Night {
		tod = "night"
	}
	dayDate := ephem.DayDate(meta.CapturedAt, task.Night)
	return filepath.Join(p.cfg.GetImageRoot(), dayDate, tod, meta.CapturedAt.Format("02_15"))
}

// writeFinished encodes the frame, writes the dated artefact and atomically
// replaces the latest snapshot.
func (p *Pipeline) writeFinished(img *image.RGBA, task ImageTask, meta frame.Meta) (string, error) {
	ext := p.cfg.GetImageExt()
	var buf bytes.Buffer
	var err error
	switch ext {
	case "png":
		err = png.Encode(&buf, img)
	default:
		err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality})
	}
	if err != nil {
		return "", fmt.Errorf("encode %s: %w", ext, err)
	}

	dir := p.dayPartition(task, meta)
	if err := p.fs.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	name := fmt.Sprintf("ccd%d_%s.%s", task.CameraIndex, meta.CapturedAt.Format("20060102_150405"), ext)
	outPath := filepath.Join(dir, name)
	if err := p.fs.WriteFile(outPath, buf.Bytes(), 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", outPath, err)
	}

	latest := filepath.Join(p.cfg.GetImageRoot(), "latest."+ext)
	if err := p.fs.ReplaceFile(latest, buf.Bytes(), 0o644); err != nil {
		return "", fmt.Errorf("replace latest: %w", err)
	}
	return outPath, nil
}

// archiveFITS writes the (possibly calibrated) raw buffer into the fits/
// companion tree.
func (p *Pipeline) archiveFITS(raw *frame.Raw, task ImageTask) error {
	tod := "day"
	if task.Night {
		tod = "night"
	}
	dir := filepath.Join(p.cfg.GetImageRoot(), "fits",
		ephem.DayDate(raw.Meta.CapturedAt, task.Night), tod)
	if err := p.fs.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	name := fmt.Sprintf("ccd%d_%s.fit", task.CameraIndex, raw.Meta.CapturedAt.Format("20060102_150405"))
	return fits.WriteRaw(filepath.Join(dir, name), raw, "Light Frame")
}

// exportRaw writes the pre-downscale 16-bit debayered frame, upshifted to
// storage width, into the export/ companion tree as PNG.
func (p *Pipeline) exportRaw(colour *Color, bits int, task ImageTask, meta frame.Meta) error {
	tod := "day"
	if task.Night {
		tod = "night"
	}
	dir := filepath.Join(p.cfg.GetImageRoot(), "export",
		ephem.DayDate(meta.CapturedAt, task.Night), tod)
	if err := p.fs.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, colour.ToRGBA64(bits)); err != nil {
		return err
	}
	name := fmt.Sprintf("ccd%d_%s.png", task.CameraIndex, meta.CapturedAt.Format("20060102_150405"))
	return p.fs.WriteFile(filepath.Join(dir, name), buf.Bytes(), 0o644)
}

// enqueueUpload hands the finished artefact to the transfer workers.
func (p *Pipeline) enqueueUpload(ctx context.Context, imageID int64, path string, row *db.Image) {
	meta, _ := json.Marshal(map[string]interface{}{
		"type":        "image",
		"createDate":  row.CreateDate,
		"utc_offset":  row.UTCOffset,
		"dayDate":     row.DayDate,
		"night":       row.Night,
		"width":       row.Width,
		"height":      row.Height,
		"camera_uuid": p.camera.UUID,
		"sqm":         row.SQM,
		"stars":       row.Stars,
	})
	payload := EncodeUploadTask(UploadTask{
		Action:    "upload",
		LocalFile: path,
		Model:     "image",
		ID:        imageID,
		Metadata:  string(meta),
	})
	if _, err := p.store.Enqueue(ctx, db.QueueUpload, payload); err != nil {
		monitoring.Logf("pipeline: enqueue upload failed: %v", err)
	}
}
