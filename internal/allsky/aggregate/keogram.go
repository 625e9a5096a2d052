package aggregate

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"math"
	"path/filepath"
	"time"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/inconsolata"
	"golang.org/x/image/math/fixed"

	"github.com/banshee-data/allsky.report/internal/db"
	"github.com/banshee-data/allsky.report/internal/monitoring"
)

// keogramLabelBand is the height of the caption strip under the keogram.
const keogramLabelBand = 24

// makeKeogram pastes one pixel column per frame, left to right in capture
// order, so the horizontal axis is the night's wall clock and the vertical
// axis is the sky along the configured meridian.
func (e *Engine) makeKeogram(ctx context.Context, req Request, imgs []*db.Image) (string, error) {
	first, err := e.firstReadable(imgs)
	if err != nil {
		return "", err
	}
	srcH := first.Bounds().Dy()

	strip := image.NewRGBA(image.Rect(0, 0, len(imgs), srcH))
	angle := e.cfg.GetKeogramAngle() * math.Pi / 180

	col := 0
	for _, row := range imgs {
		img, err := e.loadImage(row.Filename)
		if err != nil {
			monitoring.Logf("aggregate: keogram skipping %s: %v", row.Filename, err)
			continue
		}
		pasteColumn(strip, col, img, angle, srcH)
		col++
	}
	if col == 0 {
		return "", fmt.Errorf("no readable frames for %s", req.DayDate)
	}
	strip = crop32(strip, col, srcH)

	outW := col * e.cfg.GetKeogramHScale() / 100
	outH := srcH * e.cfg.GetKeogramVScale() / 100
	if outW < 1 {
		outW = 1
	}
	if outH < 1 {
		outH = 1
	}
	bandH := 0
	if e.cfg.GetKeogramLabel() {
		bandH = keogramLabelBand
	}
	out := image.NewRGBA(image.Rect(0, 0, outW, outH+bandH))
	xdraw.CatmullRom.Scale(out, image.Rect(0, 0, outW, outH), strip, strip.Bounds(), xdraw.Src, nil)

	if bandH > 0 {
		drawKeogramLabel(out, outH, req.DayDate)
	}

	outDir := e.partitionDir(req)
	if err := e.fs.MkdirAll(outDir, 0o755); err != nil {
		return "", err
	}
	outPath := filepath.Join(outDir, fmt.Sprintf("keogram-%s.jpg", req.DayDate))

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, out, &jpeg.Options{Quality: 90}); err != nil {
		return "", err
	}
	if err := e.fs.WriteFile(outPath, buf.Bytes(), 0o644); err != nil {
		return "", err
	}

	if err := e.store.InsertKeogram(ctx, req.CameraID, outPath, req.DayDate, req.Night,
		out.Bounds().Dx(), out.Bounds().Dy()); err != nil {
		return "", err
	}
	return outPath, nil
}

// firstReadable returns the first frame that decodes, establishing the
// partition's source geometry.
func (e *Engine) firstReadable(imgs []*db.Image) (image.Image, error) {
	for _, row := range imgs {
		img, err := e.loadImage(row.Filename)
		if err == nil {
			return img, nil
		}
	}
	return nil, fmt.Errorf("no readable frames")
}

// pasteColumn samples the source along the line through the frame centre at
// the given rotation angle and writes it as column x of the strip. Zero angle
// reads the plain centre column.
func pasteColumn(strip *image.RGBA, x int, src image.Image, angle float64, outH int) {
	b := src.Bounds()
	cx := float64(b.Min.X) + float64(b.Dx())/2
	cy := float64(b.Min.Y) + float64(b.Dy())/2
	sin, cos := math.Sin(angle), math.Cos(angle)

	for y := 0; y < outH; y++ {
		t := float64(y) - float64(outH)/2
		sx := clampToRange(int(cx+t*sin), b.Min.X, b.Max.X-1)
		sy := clampToRange(int(cy+t*cos), b.Min.Y, b.Max.Y-1)
		strip.Set(x, y, src.At(sx, sy))
	}
}

// crop32 trims the strip to the columns actually pasted.
func crop32(strip *image.RGBA, w, h int) *image.RGBA {
	if w == strip.Bounds().Dx() {
		return strip
	}
	out := image.NewRGBA(image.Rect(0, 0, w, h))
	xdraw.Draw(out, out.Bounds(), strip, image.Point{}, xdraw.Src)
	return out
}

// drawKeogramLabel writes the partition date under the strip.
func drawKeogramLabel(out *image.RGBA, stripH int, dayDate string) {
	b := out.Bounds()
	for y := stripH; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			out.SetRGBA(x, y, color.RGBA{A: 0xff})
		}
	}
	label := dayDate
	if t, err := time.Parse("20060102", dayDate); err == nil {
		label = t.Format("2 January 2006")
	}
	d := &font.Drawer{
		Dst:  out,
		Src:  image.NewUniform(color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}),
		Face: inconsolata.Regular8x16,
		Dot:  fixed.P(b.Min.X+8, stripH+17),
	}
	d.DrawString(label)
}

func clampToRange(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
