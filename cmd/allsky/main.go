// Command allsky runs the acquisition daemon: the capture loop, the image
// workers, the aggregation worker, the queue sweeper and the monitor HTTP
// server, all against one SQLite database.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"

	_ "modernc.org/sqlite"

	"github.com/banshee-data/allsky.report/internal/allsky/acquisition"
	"github.com/banshee-data/allsky.report/internal/allsky/aggregate"
	"github.com/banshee-data/allsky.report/internal/allsky/darks"
	"github.com/banshee-data/allsky.report/internal/allsky/ephem"
	"github.com/banshee-data/allsky.report/internal/allsky/exposure"
	"github.com/banshee-data/allsky.report/internal/allsky/indi"
	"github.com/banshee-data/allsky.report/internal/allsky/monitor"
	"github.com/banshee-data/allsky.report/internal/allsky/pipeline"
	"github.com/banshee-data/allsky.report/internal/config"
	"github.com/banshee-data/allsky.report/internal/db"
	"github.com/banshee-data/allsky.report/internal/fsutil"
	"github.com/banshee-data/allsky.report/internal/timeutil"
	"github.com/banshee-data/allsky.report/internal/version"
)

var (
	configPath  = flag.String("config", "config/allsky.json", "Path to the JSON configuration file")
	listen      = flag.String("listen", ":8080", "Monitor listen address")
	devMode     = flag.Bool("dev", false, "Run against the mock camera instead of an INDI server")
	cameraIndex = flag.Int("camera-index", 0, "Index of this camera in multi-camera rigs")
	showVersion = flag.Bool("version", false, "Print version information and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("allsky %s (%s, built %s)\n", version.Version, version.GitSHA, version.BuildTime)
		os.Exit(0)
	}

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

	var client indi.Client
	if *devMode {
		client = indi.NewMockClient(nil)
	} else {
		addr := fmt.Sprintf("%s:%d", getOr(cfg.IndiServer, "localhost"), getIntOr(cfg.IndiPort, 7624))
		client = indi.NewTCPClient(addr)
	}
	if err := client.Connect(ctx, cfg.GetCameraName()); err != nil {
		log.Fatalf("Failed to connect camera: %v", err)
	}
	defer client.Close()

	fs := fsutil.OSFileSystem{}
	clock := timeutil.RealClock{}
	obs := ephem.Observer{
		LatDeg:     cfg.GetLatitude(),
		LonDeg:     cfg.GetLongitude(),
		ElevationM: cfg.GetElevationM(),
	}
	ctrl := exposure.New(
		cfg.GetTargetADU(), cfg.GetTargetADUDev(),
		cfg.GetCcdExposureMin(), cfg.GetCcdExposureMax(), cfg.GetCcdExposureDef())
	lib := darks.NewLibrary(store, fs)
	pipe := pipeline.New(cfg, store, camera, lib, ctrl, obs, fs)
	loop := acquisition.NewLoop(cfg, store, camera, client, ctrl, obs, fs, clock, *cameraIndex)
	engine := aggregate.NewEngine(cfg, store, fs)
	webServer := monitor.NewWebServer(cfg, store, camera, ctrl, fs, *listen)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		loop.Run(ctx)
	}()

	for i := 0; i < cfg.GetImageWorkers(); i++ {
		worker := pipeline.NewWorker(store, pipe, clock, fmt.Sprintf("image-worker-%d", i))
		wg.Add(1)
		go func() {
			defer wg.Done()
			worker.Run(ctx)
		}()
	}

	videoWorker := aggregate.NewWorker(store, engine, clock)
	wg.Add(1)
	go func() {
		defer wg.Done()
		videoWorker.Run(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		runSweeper(ctx, cfg, store, clock)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := webServer.Start(); err != nil {
			log.Printf("monitor server: %v", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down")
	if err := webServer.Shutdown(context.Background()); err != nil {
		log.Printf("monitor shutdown: %v", err)
	}
	wg.Wait()
}

// runSweeper periodically expires RUNNING tasks older than the configured
// age, so a crashed worker never wedges its queue.
func runSweeper(ctx context.Context, cfg *config.Config, store *db.DB, clock timeutil.Clock) {
	ticker := clock.NewTicker(cfg.GetSweepInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			n, err := store.ExpireStale(ctx, cfg.GetTaskExpiry())
			if err != nil {
				log.Printf("sweeper: %v", err)
				continue
			}
			if n > 0 {
				log.Printf("sweeper: expired %d stale tasks", n)
			}
		}
	}
}

func getOr(s *string, def string) string {
	if s == nil || *s == "" {
		return def
	}
	return *s
}

func getIntOr(v *int, def int) int {
	if v == nil {
		return def
	}
	return *v
}
