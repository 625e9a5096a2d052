package acquisition

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/banshee-data/allsky.report/internal/allsky/aggregate"
	"github.com/banshee-data/allsky.report/internal/allsky/ephem"
	"github.com/banshee-data/allsky.report/internal/allsky/exposure"
	"github.com/banshee-data/allsky.report/internal/allsky/indi"
	"github.com/banshee-data/allsky.report/internal/allsky/pipeline"
	"github.com/banshee-data/allsky.report/internal/config"
	"github.com/banshee-data/allsky.report/internal/db"
	"github.com/banshee-data/allsky.report/internal/fsutil"
	"github.com/banshee-data/allsky.report/internal/timeutil"
)

func loopFixture(t *testing.T) (*Loop, *db.DB, *indi.MockClient) {
	t.Helper()
	dir := t.TempDir()
	store, err := db.NewDB(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	cam, err := store.GetOrCreateCamera(context.Background(), "cam")
	if err != nil {
		t.Fatal(err)
	}

	root := filepath.Join(dir, "images")
	// Moon mode disabled so the fixture resolves day/night from the sun alone.
	noMoon := 101.0
	cfg := &config.Config{ImageRoot: &root, MoonModePhase: &noMoon}
	client := indi.NewMockClient(nil)
	ctrl := exposure.New(90, 10, 0.000032, 60, 1)
	obs := ephem.Observer{LatDeg: 51.48}
	clock := timeutil.NewMockClock(time.Date(2026, 3, 10, 23, 0, 0, 0, time.UTC))

	return NewLoop(cfg, store, cam, client, ctrl, obs, fsutil.OSFileSystem{}, clock, 1), store, client
}

func TestCycleSpoolsAndEnqueues(t *testing.T) {
	l, store, client := loopFixture(t)
	ctx := context.Background()

	// Late evening at Greenwich: the sun is far below the horizon.
	night := time.Date(2026, 3, 10, 23, 0, 0, 0, time.UTC)
	if err := l.cycle(ctx, night); err != nil {
		t.Fatal(err)
	}

	task, err := store.Dequeue(ctx, db.QueueImage)
	if err != nil {
		t.Fatal(err)
	}
	if task == nil {
		t.Fatal("no image task queued")
	}
	it, err := pipeline.DecodeImageTask(task.Data)
	if err != nil {
		t.Fatal(err)
	}
	if !it.Night {
		t.Error("night cycle queued a day task")
	}
	if it.CameraIndex != 1 {
		t.Errorf("camera index = %d", it.CameraIndex)
	}
	if !(fsutil.OSFileSystem{}).Exists(it.Path) {
		t.Errorf("spool file %s missing", it.Path)
	}

	// The first cycle programmed the night profile.
	gain, bin := Profile(l.cfg, RegimeNight)
	if client.Gain() != gain || client.Bin() != bin {
		t.Errorf("camera at gain=%d bin=%d, want (%d,%d)", client.Gain(), client.Bin(), gain, bin)
	}
}

func TestExposureDeadlineCoversLongExposures(t *testing.T) {
	// A 120s exposure under a 65s timeout must still be allowed to finish.
	if d := exposureDeadline(65*time.Second, 120); d <= 120*time.Second {
		t.Errorf("deadline %s does not cover a 120s integration", d)
	}
	if d := exposureDeadline(65*time.Second, 1); d != 66*time.Second {
		t.Errorf("deadline = %s, want 66s", d)
	}
}

func TestExposureTimeoutSkipsCycle(t *testing.T) {
	dir := t.TempDir()
	store, err := db.NewDB(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	cam, err := store.GetOrCreateCamera(context.Background(), "cam")
	if err != nil {
		t.Fatal(err)
	}

	root := filepath.Join(dir, "images")
	noMoon := 101.0
	timeout := "40ms"
	cfg := &config.Config{ImageRoot: &root, MoonModePhase: &noMoon, ExposureTimeout: &timeout}
	client := indi.NewMockClient(nil)
	client.SetExposeDelay(500 * time.Millisecond)
	ctrl := exposure.New(90, 10, 0.000032, 60, 0.000032)
	obs := ephem.Observer{LatDeg: 51.48}
	clock := timeutil.NewMockClock(time.Date(2026, 3, 10, 23, 0, 0, 0, time.UTC))
	l := NewLoop(cfg, store, cam, client, ctrl, obs, fsutil.OSFileSystem{}, clock, 0)

	ctx := context.Background()
	night := time.Date(2026, 3, 10, 23, 0, 0, 0, time.UTC)
	err = l.cycle(ctx, night)
	if err == nil || !strings.Contains(err.Error(), "timed out") {
		t.Fatalf("cycle error = %v, want exposure timeout", err)
	}

	// The timed-out cycle enqueues nothing.
	task, err := store.Dequeue(ctx, db.QueueImage)
	if err != nil {
		t.Fatal(err)
	}
	if task != nil {
		t.Errorf("timed-out cycle queued a task: %s", task.Data)
	}
}

func TestNightToDayQueuesAggregation(t *testing.T) {
	l, store, _ := loopFixture(t)
	ctx := context.Background()

	night := time.Date(2026, 3, 10, 23, 0, 0, 0, time.UTC)
	if err := l.cycle(ctx, night); err != nil {
		t.Fatal(err)
	}
	morning := time.Date(2026, 3, 11, 10, 0, 0, 0, time.UTC)
	if err := l.cycle(ctx, morning); err != nil {
		t.Fatal(err)
	}

	task, err := store.Dequeue(ctx, db.QueueVideo)
	if err != nil {
		t.Fatal(err)
	}
	if task == nil {
		t.Fatal("no aggregation queued on the night to day crossing")
	}
	req, err := aggregate.DecodeRequest(task.Data)
	if err != nil {
		t.Fatal(err)
	}
	// The closed partition carries the evening's date.
	if req.DayDate != "20260310" {
		t.Errorf("aggregation dayDate = %s, want 20260310", req.DayDate)
	}
	if !req.Night || !req.Video || !req.Keogram || !req.Startrail {
		t.Errorf("aggregation request = %+v", req)
	}
}

func TestDayToNightDoesNotQueueAggregation(t *testing.T) {
	l, store, _ := loopFixture(t)
	ctx := context.Background()

	noon := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	if err := l.cycle(ctx, noon); err != nil {
		t.Fatal(err)
	}
	night := time.Date(2026, 3, 10, 23, 0, 0, 0, time.UTC)
	if err := l.cycle(ctx, night); err != nil {
		t.Fatal(err)
	}

	task, err := store.Dequeue(ctx, db.QueueVideo)
	if err != nil {
		t.Fatal(err)
	}
	if task != nil {
		t.Errorf("evening crossing queued an aggregation: %s", task.Data)
	}
}
