// Command darkgen sweeps the camera through the dark-frame grid while the
// dome is covered, writing one master dark per (exposure, gain, bin) cell.
// Run it instead of the daemon; both want the camera.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os/signal"
	"syscall"

	_ "modernc.org/sqlite"

	"github.com/banshee-data/allsky.report/internal/allsky/darks"
	"github.com/banshee-data/allsky.report/internal/allsky/indi"
	"github.com/banshee-data/allsky.report/internal/config"
	"github.com/banshee-data/allsky.report/internal/db"
	"github.com/banshee-data/allsky.report/internal/fsutil"
	"github.com/banshee-data/allsky.report/internal/timeutil"
)

var (
	configPath  = flag.String("config", "config/allsky.json", "Path to the JSON configuration file")
	devMode     = flag.Bool("dev", false, "Run against the mock camera instead of an INDI server")
	cameraIndex = flag.Int("camera-index", 0, "Index of this camera in multi-camera rigs")
	flush       = flag.Bool("flush", false, "Delete all registered darks for this camera and exit")
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

	fs := fsutil.OSFileSystem{}
	lib := darks.NewLibrary(store, fs)

	if *flush {
		n, err := lib.Flush(ctx, camera.ID)
		if err != nil {
			log.Fatalf("Failed to flush darks: %v", err)
		}
		log.Printf("Flushed %d master darks", n)
		return
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

	dayGain, dayBin := cfg.GetDayProfile()
	nightGain, nightBin := cfg.GetNightProfile()
	moonGain, moonBin := cfg.GetMoonModeProfile()

	gen := darks.NewGenerator(darks.GeneratorConfig{
		CameraIndex: *cameraIndex,
		MaxExposure: cfg.GetCcdExposureMax(),
		FrameCount:  cfg.GetDarkFrameCount(),
		SigmaClip:   cfg.GetDarkSigmaClip(),
		DarkRoot:    cfg.GetDarkRoot(),
		Profiles: []darks.Profile{
			{Name: "day", Gain: dayGain, Bin: dayBin},
			{Name: "night", Gain: nightGain, Bin: nightBin},
			{Name: "moonmode", Gain: moonGain, Bin: moonBin},
		},
	}, client, lib, fs, timeutil.RealClock{})

	if err := gen.Run(ctx, camera.ID); err != nil {
		log.Fatalf("Dark generation failed: %v", err)
	}
	log.Println("Dark generation complete")
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
