package aggregate

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"

	"github.com/banshee-data/allsky.report/internal/db"
	"github.com/banshee-data/allsky.report/internal/monitoring"
)

// stderrTail caps how much encoder output lands in the task result.
const stderrTail = 900

// makeTimelapse symlinks the partition's frames as a zero-padded sequence and
// hands the sequence to the encoder at low priority. The partial output is
// removed on failure so a half-written video never looks like an artefact.
func (e *Engine) makeTimelapse(ctx context.Context, req Request, imgs []*db.Image) (string, error) {
	ext := filepath.Ext(imgs[0].Filename)
	if ext == "" {
		ext = ".jpg"
	}

	seqDir := filepath.Join(e.cfg.GetImageRoot(), "tmp",
		fmt.Sprintf("seq_%s_%v_cam%d", req.DayDate, req.Night, req.CameraID))
	if err := e.fs.MkdirAll(seqDir, 0o755); err != nil {
		return "", err
	}
	defer func() {
		if err := e.fs.RemoveAll(seqDir); err != nil {
			monitoring.Logf("aggregate: cannot remove %s: %v", seqDir, err)
		}
	}()

	n := 0
	for _, img := range imgs {
		if !e.fs.Exists(img.Filename) {
			monitoring.Logf("aggregate: frame missing, skipping: %s", img.Filename)
			continue
		}
		link := filepath.Join(seqDir, fmt.Sprintf("%05d%s", n, ext))
		abs, err := filepath.Abs(img.Filename)
		if err != nil {
			abs = img.Filename
		}
		if err := e.fs.Symlink(abs, link); err != nil {
			return "", fmt.Errorf("symlink %s: %w", link, err)
		}
		n++
	}
	if n == 0 {
		return "", fmt.Errorf("no frames on disk for %s", req.DayDate)
	}

	outDir := e.partitionDir(req)
	if err := e.fs.MkdirAll(outDir, 0o755); err != nil {
		return "", err
	}
	outPath := filepath.Join(outDir, fmt.Sprintf("allsky-%s.mp4", req.DayDate))

	if err := e.encode(ctx, filepath.Join(seqDir, "%05d"+ext), outPath); err != nil {
		if e.fs.Exists(outPath) {
			if rmErr := e.fs.Remove(outPath); rmErr != nil {
				monitoring.Logf("aggregate: cannot remove partial %s: %v", outPath, rmErr)
			}
		}
		return "", err
	}

	if err := e.store.InsertVideo(ctx, req.CameraID, outPath, req.DayDate, req.Night, n); err != nil {
		return "", err
	}
	return outPath, nil
}

// encode runs the external encoder over an image sequence pattern. The
// encoder is niced all the way down so an overnight render never starves the
// capture cadence.
func (e *Engine) encode(ctx context.Context, pattern, outPath string) error {
	args := []string{
		"-n", "19", e.cfg.GetFFMpegBin(),
		"-y",
		"-f", "image2",
		"-r", fmt.Sprintf("%d", e.cfg.GetFFMpegFramerate()),
		"-i", pattern,
		"-vcodec", e.cfg.GetFFMpegCodec(),
		"-b:v", e.cfg.GetFFMpegBitrate(),
		"-pix_fmt", "yuv420p",
	}
	if scale := e.cfg.GetFFMpegScale(); scale != "" {
		args = append(args, "-vf", "scale="+scale)
	}
	args = append(args, outPath)

	cmd := exec.CommandContext(ctx, "nice", args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		tail := stderr.String()
		if len(tail) > stderrTail {
			tail = tail[len(tail)-stderrTail:]
		}
		return fmt.Errorf("%s: %w: %s", e.cfg.GetFFMpegBin(), err, tail)
	}
	return nil
}
