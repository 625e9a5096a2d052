package darks

import (
	"context"
	"testing"
	"time"

	"github.com/banshee-data/allsky.report/internal/allsky/frame"
	"github.com/banshee-data/allsky.report/internal/allsky/indi"
	"github.com/banshee-data/allsky.report/internal/fsutil"
	"github.com/banshee-data/allsky.report/internal/timeutil"
)

func TestGeneratorSweepsGrid(t *testing.T) {
	lib, database, camID, dir := testLibrary(t)
	ctx := context.Background()

	client := indi.NewMockClient(func(seconds float64, gain, bin int) *frame.Raw {
		r := frame.NewRaw(8, 6, 16)
		for i := range r.Pix {
			r.Pix[i] = 500 // keeps DetectBits at a stable depth
		}
		return r
	})
	client.SetTemperature(12.5)

	gen := NewGenerator(GeneratorConfig{
		CameraIndex: 1,
		MaxExposure: 10,
		FrameCount:  3,
		DarkRoot:    dir,
		Profiles: []Profile{
			{Name: "night", Gain: 250, Bin: 1},
			{Name: "day", Gain: 0, Bin: 1},
		},
	}, client, lib, fsutil.OSFileSystem{}, timeutil.NewMockClock(time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)))

	if err := gen.Run(ctx, camID); err != nil {
		t.Fatal(err)
	}

	// Ladder 1, 5, 10 across two profiles: six masters, three frames each.
	rows, err := database.ListDarks(ctx, camID)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 6 {
		t.Fatalf("registered %d masters, want 6", len(rows))
	}
	if got := len(client.Exposures()); got != 18 {
		t.Errorf("commanded %d exposures, want 18", got)
	}

	fs := fsutil.OSFileSystem{}
	for _, row := range rows {
		if !fs.Exists(row.Filename) {
			t.Errorf("registered master %s missing on disk", row.Filename)
		}
		if row.TempC != 12.5 {
			t.Errorf("master temp %f, want 12.5", row.TempC)
		}
	}

	// Every master is findable by the library under its own identity.
	for _, row := range rows {
		if _, _, err := lib.Lookup(ctx, KeyFor(camID, row.BitDepth, float64(row.Exposure), row.Gain, row.Bin, row.TempC)); err != nil {
			t.Errorf("lookup of generated master exp=%d gain=%d: %v", row.Exposure, row.Gain, err)
		}
	}
}

func TestGeneratorHonoursCancellation(t *testing.T) {
	lib, database, camID, dir := testLibrary(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	gen := NewGenerator(GeneratorConfig{
		MaxExposure: 10,
		FrameCount:  2,
		DarkRoot:    dir,
		Profiles:    []Profile{{Name: "night", Gain: 250, Bin: 1}},
	}, indi.NewMockClient(nil), lib, fsutil.OSFileSystem{}, timeutil.NewMockClock(time.Now()))

	if err := gen.Run(ctx, camID); err != context.Canceled {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	rows, err := database.ListDarks(context.Background(), camID)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 0 {
		t.Errorf("cancelled run registered %d masters", len(rows))
	}
}
