package aggregate

import (
	"context"
	"image"
	"image/color"
	"path/filepath"
	"testing"

	"github.com/gofrs/flock"

	"github.com/banshee-data/allsky.report/internal/config"
	"github.com/banshee-data/allsky.report/internal/fsutil"
)

func TestRequestRoundTrip(t *testing.T) {
	in := Request{DayDate: "20260310", Night: true, CameraID: 3, Video: true, Keogram: true}
	out, err := DecodeRequest(EncodeRequest(in))
	if err != nil {
		t.Fatal(err)
	}
	if out != in {
		t.Errorf("round trip changed request: %+v", out)
	}
	if _, err := DecodeRequest("nope"); err == nil {
		t.Error("expected decode error")
	}
}

func TestRunLockHeld(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "agg.lock")
	held := flock.New(lockPath)
	ok, err := held.TryLock()
	if err != nil || !ok {
		t.Fatalf("could not pre-acquire lock: ok=%v err=%v", ok, err)
	}
	defer held.Unlock()

	cfg := &config.Config{AggregateLock: &lockPath}
	e := NewEngine(cfg, nil, fsutil.NewMemoryFileSystem())

	err = e.Run(context.Background(), Request{DayDate: "20260310", Night: true})
	if err != ErrLockHeld {
		t.Errorf("expected ErrLockHeld, got %v", err)
	}
}

func TestPasteColumnZeroAngle(t *testing.T) {
	// Paint the source's centre column red; a zero-angle paste must carry it
	// into the strip unchanged.
	src := image.NewRGBA(image.Rect(0, 0, 21, 11))
	for y := 0; y < 11; y++ {
		src.SetRGBA(10, y, color.RGBA{R: 255, A: 255})
	}

	strip := image.NewRGBA(image.Rect(0, 0, 3, 11))
	pasteColumn(strip, 1, src, 0, 11)

	for y := 0; y < 11; y++ {
		if got := strip.RGBAAt(1, y); got.R != 255 {
			t.Fatalf("row %d = %+v, want red centre column", y, got)
		}
	}
	if got := strip.RGBAAt(0, 5); got.R != 0 {
		t.Errorf("neighbouring column written: %+v", got)
	}
}

func TestPasteColumnClampsOffFrame(t *testing.T) {
	// A strip taller than the source must clamp, not panic.
	src := image.NewRGBA(image.Rect(0, 0, 10, 4))
	strip := image.NewRGBA(image.Rect(0, 0, 1, 20))
	pasteColumn(strip, 0, src, 0.5, 20)
}

func TestFrameStats(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 10, 10))
	for y := 0; y < 10; y++ {
		for x := 0; x < 10; x++ {
			img.SetRGBA(x, y, color.RGBA{40, 40, 40, 255})
		}
	}
	// Four saturated pixels out of a hundred.
	for i := 0; i < 4; i++ {
		img.SetRGBA(i, 0, color.RGBA{255, 255, 255, 255})
	}

	mean, brightPct := frameStats(img)
	if brightPct != 4 {
		t.Errorf("brightPct = %f, want 4", brightPct)
	}
	if mean < 40 || mean > 60 {
		t.Errorf("mean = %f, want between 40 and 60", mean)
	}
}

func TestMaxIntoPerChannel(t *testing.T) {
	a := image.NewRGBA(image.Rect(0, 0, 2, 1))
	b := image.NewRGBA(image.Rect(0, 0, 2, 1))
	a.SetRGBA(0, 0, color.RGBA{200, 10, 50, 255})
	b.SetRGBA(0, 0, color.RGBA{100, 90, 50, 255})
	b.SetRGBA(1, 0, color.RGBA{5, 5, 5, 255})

	maxInto(a, b)

	got := a.RGBAAt(0, 0)
	if got.R != 200 || got.G != 90 || got.B != 50 {
		t.Errorf("max pixel = %+v, want {200 90 50}", got)
	}
	if got := a.RGBAAt(1, 0); got.R != 5 {
		t.Errorf("second pixel = %+v", got)
	}
}

func TestMaxIntoIntersectsGeometry(t *testing.T) {
	a := image.NewRGBA(image.Rect(0, 0, 4, 4))
	b := image.NewRGBA(image.Rect(0, 0, 2, 2))
	b.SetRGBA(1, 1, color.RGBA{255, 255, 255, 255})

	maxInto(a, b)
	if a.RGBAAt(1, 1).R != 255 {
		t.Error("intersection pixel not folded")
	}
	if a.RGBAAt(3, 3).R != 0 {
		t.Error("pixel outside the intersection changed")
	}
}

func TestCloneRGBAIsIndependent(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 2, 2))
	src.SetRGBA(0, 0, color.RGBA{9, 9, 9, 255})

	dup := cloneRGBA(src)
	dup.SetRGBA(0, 0, color.RGBA{1, 1, 1, 255})
	if src.RGBAAt(0, 0).R != 9 {
		t.Error("clone shares pixels with the source")
	}
}

func TestCrop32TrimsUnusedColumns(t *testing.T) {
	strip := image.NewRGBA(image.Rect(0, 0, 10, 5))
	strip.SetRGBA(2, 3, color.RGBA{7, 0, 0, 255})

	out := crop32(strip, 4, 5)
	if out.Bounds().Dx() != 4 {
		t.Fatalf("trimmed width = %d, want 4", out.Bounds().Dx())
	}
	if out.RGBAAt(2, 3).R != 7 {
		t.Error("pixel lost in trim")
	}

	if got := crop32(strip, 10, 5); got != strip {
		t.Error("full-width trim should return the input")
	}
}
