package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/banshee-data/allsky.report/internal/allsky/darks"
	"github.com/banshee-data/allsky.report/internal/allsky/ephem"
	"github.com/banshee-data/allsky.report/internal/allsky/exposure"
	"github.com/banshee-data/allsky.report/internal/allsky/fits"
	"github.com/banshee-data/allsky.report/internal/allsky/frame"
	"github.com/banshee-data/allsky.report/internal/config"
	"github.com/banshee-data/allsky.report/internal/db"
	"github.com/banshee-data/allsky.report/internal/fsutil"
)

func TestProcessMissingSpoolFile(t *testing.T) {
	p := New(&config.Config{}, nil, nil, nil, nil, observerGreenwich(), fsutil.NewMemoryFileSystem())

	err := p.Process(context.Background(), ImageTask{Path: "/spool/ccd1_gone.fit"})
	if err == nil {
		t.Fatal("expected error for missing spool file")
	}
	if !strings.Contains(err.Error(), "Frame not found") {
		t.Errorf("error %q should name the missing frame", err)
	}
}

func TestProcessFinishesFrameFromSpool(t *testing.T) {
	dir := t.TempDir()
	store, err := db.NewDB(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	ctx := context.Background()
	cam, err := store.GetOrCreateCamera(ctx, "cam")
	if err != nil {
		t.Fatal(err)
	}

	// The whole frame lifecycle runs through the injected filesystem: the
	// spool read, the dated artefact, the latest snapshot and the status
	// document all live in memory here.
	fs := fsutil.NewMemoryFileSystem()
	root := "images"
	cfg := &config.Config{ImageRoot: &root}
	ctrl := exposure.New(75, 10, 0.000032, 60, 1)
	lib := darks.NewLibrary(store, fs)
	p := New(cfg, store, cam, lib, ctrl, observerGreenwich(), fs)

	raw := frame.NewRaw(16, 12, 16)
	for i := range raw.Pix {
		raw.Pix[i] = 1200
	}
	raw.Meta = frame.Meta{
		CapturedAt: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC),
		Exposure:   1,
		Gain:       0,
		Bin:        1,
	}
	var buf bytes.Buffer
	if err := fits.EncodeRaw(&buf, raw, "Light Frame"); err != nil {
		t.Fatal(err)
	}
	spool := "images/spool/ccd0_test.fit"
	if err := fs.WriteFile(spool, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := p.Process(ctx, ImageTask{Path: spool, CameraIndex: 0}); err != nil {
		t.Fatal(err)
	}

	if !fs.Exists("images/latest.jpg") {
		t.Error("latest snapshot not written")
	}
	if fs.Exists(spool) {
		t.Error("spool file not removed after processing")
	}
	rows, err := store.ImagesForDay(ctx, cam.ID, "20260310", false)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 {
		t.Fatalf("artefact rows = %d, want 1", len(rows))
	}
	if rows[0].Calibrated {
		t.Error("frame marked calibrated with an empty dark library")
	}
}

func TestImageTaskRoundTrip(t *testing.T) {
	in := ImageTask{Path: "/spool/ccd1_x.fit", CameraIndex: 1, Night: true, MoonMode: true}
	out, err := DecodeImageTask(EncodeImageTask(in))
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(in, out); diff != "" {
		t.Errorf("round trip changed task (-want +got):\n%s", diff)
	}

	if _, err := DecodeImageTask("{broken"); err == nil {
		t.Error("expected decode error for malformed payload")
	}
}

func TestComputeSQM(t *testing.T) {
	raw := frame.NewRaw(4, 4, 16)
	for i := range raw.Pix {
		raw.Pix[i] = 2560 // mean 2560, 10 after the 16->8 downshift
	}

	// gain 0: sqm = 10 / exposure
	if got := computeSQM(raw, 16, 2, 0); got != 5 {
		t.Errorf("sqm = %f, want 5", got)
	}
	// gain 200 divides by another factor of 10
	if got := computeSQM(raw, 16, 2, 200); got != 0.5 {
		t.Errorf("sqm at gain 200 = %f, want 0.5", got)
	}
	if got := computeSQM(raw, 16, 0, 0); got != 0 {
		t.Errorf("zero exposure sqm = %f, want 0", got)
	}
}

func TestCountStarsBlobBounds(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 100, 100))
	white := color.RGBA{255, 255, 255, 255}

	// A 2x2 star, a second 3x1 star, a lone hot pixel, and a flood larger
	// than the blob cap.
	for _, p := range [][2]int{{10, 10}, {11, 10}, {10, 11}, {11, 11}} {
		img.SetRGBA(p[0], p[1], white)
	}
	for _, p := range [][2]int{{30, 30}, {31, 30}, {32, 30}} {
		img.SetRGBA(p[0], p[1], white)
	}
	img.SetRGBA(60, 60, white)
	for y := 80; y < 92; y++ {
		for x := 80; x < 92; x++ {
			img.SetRGBA(x, y, white)
		}
	}

	if got := countStars(img, 200); got != 2 {
		t.Errorf("countStars = %d, want 2", got)
	}
}

func TestCountStarsThreshold(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 20, 20))
	dim := color.RGBA{100, 100, 100, 255}
	img.SetRGBA(5, 5, dim)
	img.SetRGBA(6, 5, dim)

	if got := countStars(img, 150); got != 0 {
		t.Errorf("dim blob counted at threshold 150: %d", got)
	}
	if got := countStars(img, 90); got != 1 {
		t.Errorf("blob missed at threshold 90: %d", got)
	}
}

func TestCropClipsAndCopies(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 40, 30))
	img.SetRGBA(12, 11, color.RGBA{255, 0, 0, 255})

	out := crop(img, 10, 10, 20, 15)
	if out.Bounds().Dx() != 20 || out.Bounds().Dy() != 15 {
		t.Fatalf("crop bounds = %v", out.Bounds())
	}
	if out.RGBAAt(2, 1).R != 255 {
		t.Error("cropped pixel not translated to origin")
	}

	// A degenerate rectangle leaves the image untouched.
	if got := crop(img, 100, 100, 10, 10); got != img {
		t.Error("out-of-bounds crop should return the input")
	}
}

func TestFlip(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 4, 3))
	img.SetRGBA(0, 0, color.RGBA{255, 0, 0, 255})

	flip(img, false, true)
	if img.RGBAAt(3, 0).R != 255 {
		t.Error("horizontal flip did not move the corner pixel")
	}
	flip(img, true, false)
	if img.RGBAAt(3, 2).R != 255 {
		t.Error("vertical flip did not move the corner pixel")
	}
}

func TestScalePercent(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 100, 50))
	out := scalePercent(img, 50)
	if out.Bounds().Dx() != 50 || out.Bounds().Dy() != 25 {
		t.Errorf("scaled bounds = %v", out.Bounds())
	}
	if got := scalePercent(img, 100); got != img {
		t.Error("scale 100 should return the input untouched")
	}
	if got := scalePercent(img, 0); got != img {
		t.Error("scale 0 should return the input untouched")
	}
}

func TestAutoWhiteBalanceEqualisesMeans(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 10, 10))
	for y := 0; y < 10; y++ {
		for x := 0; x < 10; x++ {
			img.SetRGBA(x, y, color.RGBA{R: 200, G: 100, B: 50, A: 255})
		}
	}
	autoWhiteBalance(img)

	c := img.RGBAAt(5, 5)
	spread := maxU8(c.R, c.G, c.B) - minU8(c.R, c.G, c.B)
	if spread > 2 {
		t.Errorf("channels not equalised: %+v", c)
	}
}

func TestDebayerUniformField(t *testing.T) {
	// A flat mosaic must debayer to a flat colour image for every pattern.
	raw := frame.NewRaw(8, 8, 16)
	for i := range raw.Pix {
		raw.Pix[i] = 1000
	}
	for _, pattern := range []frame.Bayer{frame.BayerGRBG, frame.BayerRGGB, frame.BayerBGGR, frame.BayerGBRG} {
		c := Debayer(raw, pattern)
		for i := 0; i < c.Width*c.Height; i++ {
			if c.R[i] != 1000 || c.G[i] != 1000 || c.B[i] != 1000 {
				t.Fatalf("pattern %s: pixel %d = (%d,%d,%d), want flat 1000",
					pattern, i, c.R[i], c.G[i], c.B[i])
			}
		}
	}
}

func TestDebayerRedSitePassthrough(t *testing.T) {
	// RGGB: (2,2) carries red. A bright value there must land in the red
	// plane untouched while the interpolated planes stay dark.
	raw := frame.NewRaw(6, 6, 16)
	i := 2*6 + 2
	raw.Pix[i] = 4000
	c := Debayer(raw, frame.BayerRGGB)
	if c.R[i] != 4000 {
		t.Errorf("red site value = %d, want 4000", c.R[i])
	}
	if c.G[i] != 0 || c.B[i] != 0 {
		t.Errorf("interpolated planes at red site = (%d,%d), want 0", c.G[i], c.B[i])
	}
}

func TestToRGBADownshift(t *testing.T) {
	c := NewColor(2, 1)
	c.R[0], c.G[0], c.B[0] = 4095, 2048, 0

	img := c.ToRGBA(12)
	px := img.RGBAAt(0, 0)
	if px.R != 255 || px.G != 128 || px.B != 0 {
		t.Errorf("12-bit downshift = %+v", px)
	}
	if px.A != 255 {
		t.Errorf("alpha = %d", px.A)
	}
}

func TestOrbPositionRim(t *testing.T) {
	w, h := 400, 200

	// Hour angle zero is top-centre.
	if x, y := orbPosition(w, h, 0); x != 200 || y != 0 {
		t.Errorf("h=0 at (%d,%d), want (200,0)", x, y)
	}
	// +180 walks counter-clockwise to the middle of the left edge.
	if x, y := orbPosition(w, h, 180); x != 0 || y != 100 {
		t.Errorf("h=180 at (%d,%d), want (0,100)", x, y)
	}
	// -180 mirrors to the middle of the right edge.
	if x, y := orbPosition(w, h, -180); x != w-1 || y != 100 {
		t.Errorf("h=-180 at (%d,%d), want (%d,100)", x, y, w-1)
	}
}

func TestOrbPositionContinuous(t *testing.T) {
	w, h := 400, 200
	px, py := orbPosition(w, h, -179)
	for deg := -178.0; deg <= 180; deg++ {
		x, y := orbPosition(w, h, deg)
		// The glyph must creep along the rim, never jump through the frame.
		if dx, dy := absInt(x-px), absInt(y-py); dx+dy > 5 {
			t.Fatalf("jump at %v deg: (%d,%d) -> (%d,%d)", deg, px, py, x, y)
		}
		if x < 0 || x >= w || y < 0 || y >= h {
			t.Fatalf("h=%v off image at (%d,%d)", deg, x, y)
		}
		px, py = x, y
	}
}

func TestWriteStatus(t *testing.T) {
	fs := fsutil.NewMemoryFileSystem()
	root := "frames"
	cfg := &config.Config{ImageRoot: &root}
	p := New(cfg, nil, nil, nil, nil, observerGreenwich(), fs)

	at := time.Date(2026, 3, 10, 22, 15, 0, 0, time.UTC)
	err := p.writeStatus(Status{
		Name:     "allsky",
		Device:   "ccd1",
		Night:    true,
		Exposure: 30,
		SQM:      1.25,
	}, at)
	if err != nil {
		t.Fatal(err)
	}

	data, err := fs.ReadFile("frames/status.json")
	if err != nil {
		t.Fatal(err)
	}
	var st Status
	if err := json.Unmarshal(data, &st); err != nil {
		t.Fatal(err)
	}
	if st.Device != "ccd1" || !st.Night || st.Exposure != 30 {
		t.Errorf("status round trip: %+v", st)
	}
	if st.Time != "2026-03-10T22:15:00Z" {
		t.Errorf("time = %s", st.Time)
	}
}

func observerGreenwich() ephem.Observer {
	return ephem.Observer{LatDeg: 51.48}
}

func maxU8(vals ...uint8) uint8 {
	m := vals[0]
	for _, v := range vals[1:] {
		if v > m {
			m = v
		}
	}
	return m
}

func minU8(vals ...uint8) uint8 {
	m := vals[0]
	for _, v := range vals[1:] {
		if v < m {
			m = v
		}
	}
	return m
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
