package aggregate

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"path/filepath"

	xdraw "golang.org/x/image/draw"

	"github.com/banshee-data/allsky.report/internal/db"
	"github.com/banshee-data/allsky.report/internal/monitoring"
)

// brightPixel8 is the 8-bit level above which a pixel counts as bright for
// the cloud/twilight gate.
const brightPixel8 = 230

// makeStartrails stacks the night's frames with a per-pixel maximum. Frames
// that fail the brightness gates (moonlit cloud, twilight) are left out; if
// every frame fails, the darkest one stands in as a placeholder so the night
// still produces an artefact.
func (e *Engine) makeStartrails(ctx context.Context, req Request, imgs []*db.Image) (string, error) {
	var (
		stack     *image.RGBA
		stacked   int
		darkest   *image.RGBA
		darkestLu = -1.0
		seqDir    string
		seqN      int
	)

	rolling := e.cfg.GetStartrailsTimelapse()
	if rolling {
		seqDir = filepath.Join(e.cfg.GetImageRoot(), "tmp",
			fmt.Sprintf("trails_%s_cam%d", req.DayDate, req.CameraID))
		if err := e.fs.MkdirAll(seqDir, 0o755); err != nil {
			return "", err
		}
		defer func() {
			if err := e.fs.RemoveAll(seqDir); err != nil {
				monitoring.Logf("aggregate: cannot remove %s: %v", seqDir, err)
			}
		}()
	}

	maxADU := e.cfg.GetStartrailsMaxADU()
	cutoffPct := e.cfg.GetStartrailsCutoffPct()

	for _, row := range imgs {
		src, err := e.loadImage(row.Filename)
		if err != nil {
			monitoring.Logf("aggregate: startrails skipping %s: %v", row.Filename, err)
			continue
		}
		rgba := toRGBA(src)

		mean, brightPct := frameStats(rgba)
		if darkestLu < 0 || mean < darkestLu {
			darkestLu = mean
			darkest = rgba
		}
		if mean > maxADU || brightPct > cutoffPct {
			continue
		}

		if stack == nil {
			stack = cloneRGBA(rgba)
		} else {
			maxInto(stack, rgba)
		}
		stacked++

		if rolling {
			if err := e.writeJPEG(filepath.Join(seqDir, fmt.Sprintf("%05d.jpg", seqN)), stack); err != nil {
				return "", err
			}
			seqN++
		}
	}

	placeholder := false
	if stack == nil {
		if darkest == nil {
			return "", fmt.Errorf("no readable frames for %s", req.DayDate)
		}
		monitoring.Logf("aggregate: startrails %s: no frame passed the gates, using darkest frame", req.DayDate)
		stack = darkest
		placeholder = true
	}

	outDir := e.partitionDir(req)
	if err := e.fs.MkdirAll(outDir, 0o755); err != nil {
		return "", err
	}
	outPath := filepath.Join(outDir, fmt.Sprintf("startrails-%s.jpg", req.DayDate))
	if err := e.writeJPEG(outPath, stack); err != nil {
		return "", err
	}

	if rolling && seqN > 1 {
		tlPath := filepath.Join(outDir, fmt.Sprintf("startrails-%s.mp4", req.DayDate))
		if err := e.encode(ctx, filepath.Join(seqDir, "%05d.jpg"), tlPath); err != nil {
			monitoring.Logf("aggregate: startrails timelapse failed: %v", err)
		}
	}

	if err := e.store.InsertStartrail(ctx, req.CameraID, outPath, req.DayDate, stacked, placeholder); err != nil {
		return "", err
	}
	return outPath, nil
}

// frameStats returns the mean 8-bit luminance and the percentage of bright
// pixels.
func frameStats(img *image.RGBA) (mean, brightPct float64) {
	b := img.Bounds()
	n := b.Dx() * b.Dy()
	if n == 0 {
		return 0, 0
	}
	var sum float64
	bright := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			o := img.PixOffset(x, y)
			lum := 0.299*float64(img.Pix[o]) + 0.587*float64(img.Pix[o+1]) + 0.114*float64(img.Pix[o+2])
			sum += lum
			if lum > brightPixel8 {
				bright++
			}
		}
	}
	return sum / float64(n), 100 * float64(bright) / float64(n)
}

// maxInto folds src into dst with a per-pixel, per-channel maximum. Frames
// that drifted in geometry are folded over the intersection.
func maxInto(dst, src *image.RGBA) {
	b := dst.Bounds().Intersect(src.Bounds())
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			do := dst.PixOffset(x, y)
			so := src.PixOffset(x, y)
			for i := 0; i < 3; i++ {
				if src.Pix[so+i] > dst.Pix[do+i] {
					dst.Pix[do+i] = src.Pix[so+i]
				}
			}
		}
	}
}

func toRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok {
		return rgba
	}
	b := img.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	xdraw.Draw(out, out.Bounds(), img, b.Min, xdraw.Src)
	return out
}

func cloneRGBA(img *image.RGBA) *image.RGBA {
	out := image.NewRGBA(img.Bounds())
	copy(out.Pix, img.Pix)
	return out
}

func (e *Engine) writeJPEG(path string, img *image.RGBA) error {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		return err
	}
	return e.fs.WriteFile(path, buf.Bytes(), 0o644)
}
