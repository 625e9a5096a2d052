// Command aggregate builds the timelapse, keogram and star-trail artefacts
// for one day partition on demand, sharing the daemon's lock file so manual
// runs and the nightly worker never collide.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os/signal"
	"syscall"
	"time"

	_ "modernc.org/sqlite"

	"github.com/banshee-data/allsky.report/internal/allsky/aggregate"
	"github.com/banshee-data/allsky.report/internal/allsky/ephem"
	"github.com/banshee-data/allsky.report/internal/config"
	"github.com/banshee-data/allsky.report/internal/db"
	"github.com/banshee-data/allsky.report/internal/fsutil"
)

var (
	configPath = flag.String("config", "config/allsky.json", "Path to the JSON configuration file")
	dayDate    = flag.String("day-date", "", "Partition date YYYYMMDD (default: last night)")
	day        = flag.Bool("day", false, "Aggregate the day side instead of the night side")
	video      = flag.Bool("video", true, "Build the timelapse video")
	keogram    = flag.Bool("keogram", true, "Build the keogram")
	startrail  = flag.Bool("startrail", true, "Build the star-trail stack")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	store, err := db.NewDB(cfg.GetDBPath())
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	camera, err := store.GetOrCreateCamera(ctx, cfg.GetCameraName())
	if err != nil {
		log.Fatalf("Failed to register camera: %v", err)
	}

	target := *dayDate
	if target == "" {
		target = ephem.DayDate(time.Now(), true)
	}

	engine := aggregate.NewEngine(cfg, store, fsutil.OSFileSystem{})
	err = engine.Run(ctx, aggregate.Request{
		DayDate:   target,
		Night:     !*day,
		CameraID:  camera.ID,
		Video:     *video,
		Keogram:   *keogram,
		Startrail: *startrail,
	})
	switch {
	case errors.Is(err, aggregate.ErrLockHeld):
		log.Fatalf("Another aggregation run is in progress (lock %s)", cfg.GetAggregateLock())
	case err != nil:
		log.Fatalf("Aggregation failed: %v", err)
	}
	log.Printf("Aggregation complete for %s", target)
}
