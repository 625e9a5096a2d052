package darks

import (
	"context"
	"fmt"
	"math"
	"path/filepath"

	"github.com/banshee-data/allsky.report/internal/allsky/fits"
	"github.com/banshee-data/allsky.report/internal/allsky/frame"
	"github.com/banshee-data/allsky.report/internal/allsky/indi"
	"github.com/banshee-data/allsky.report/internal/fsutil"
	"github.com/banshee-data/allsky.report/internal/monitoring"
	"github.com/banshee-data/allsky.report/internal/timeutil"
)

// Profile is one regime's capture settings for the grid sweep.
type Profile struct {
	Name string
	Gain int
	Bin  int
}

// GeneratorConfig parameterises a grid run.
type GeneratorConfig struct {
	CameraIndex int     // ccd ordinal used in filenames
	MaxExposure float64 // seconds; ladder tops out at ceil(max)
	FrameCount  int     // frames per (exposure, profile) cell, default 10
	SigmaClip   bool    // sigma-clip reduction instead of average
	DarkRoot    string  // output directory
	Profiles    []Profile
}

// Generator drives the camera through the exposure/gain/bin grid and writes
// averaged or sigma-clipped master darks, registering each in the library.
type Generator struct {
	cfg    GeneratorConfig
	client indi.Client
	lib    *Library
	fs     fsutil.FileSystem
	clock  timeutil.Clock
}

// NewGenerator wires a generator.
func NewGenerator(cfg GeneratorConfig, client indi.Client, lib *Library, fs fsutil.FileSystem, clock timeutil.Clock) *Generator {
	if cfg.FrameCount <= 0 {
		cfg.FrameCount = 10
	}
	return &Generator{cfg: cfg, client: client, lib: lib, fs: fs, clock: clock}
}

// ExposureLadder returns the sweep exposures for maxExposure: 1, 5, 10, ...
// in steps of 5 up to ceil(max/5)*5, with ceil(max) appended when it is not
// already the last rung.
func ExposureLadder(maxExposure float64) []int {
	top := int(math.Ceil(maxExposure))
	if top < 1 {
		top = 1
	}
	ladder := []int{1}
	for e := 5; e <= int(math.Ceil(maxExposure/5))*5 && e <= top; e += 5 {
		ladder = append(ladder, e)
	}
	if ladder[len(ladder)-1] != top {
		ladder = append(ladder, top)
	}
	return ladder
}

// Run executes the full grid. Cells fail independently; the first error per
// cell is logged and the sweep continues.
func (g *Generator) Run(ctx context.Context, cameraID int64) error {
	if err := g.fs.MkdirAll(g.cfg.DarkRoot, 0o755); err != nil {
		return fmt.Errorf("create dark root: %w", err)
	}

	ladder := ExposureLadder(g.cfg.MaxExposure)
	for _, profile := range g.cfg.Profiles {
		if err := g.client.SetGain(profile.Gain); err != nil {
			return fmt.Errorf("set gain %d for %s: %w", profile.Gain, profile.Name, err)
		}
		if err := g.client.SetBin(profile.Bin); err != nil {
			return fmt.Errorf("set bin %d for %s: %w", profile.Bin, profile.Name, err)
		}

		for _, exp := range ladder {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if err := g.cell(ctx, cameraID, profile, exp); err != nil {
				monitoring.Logf("darkgen: cell %s exp=%ds failed: %v", profile.Name, exp, err)
			}
		}
	}
	return nil
}

// cell captures and reduces one (profile, exposure) master.
func (g *Generator) cell(ctx context.Context, cameraID int64, profile Profile, exposure int) error {
	stack := make([]*frame.Raw, 0, g.cfg.FrameCount)
	for i := 0; i < g.cfg.FrameCount; i++ {
		raw, err := g.client.Expose(ctx, float64(exposure))
		if err != nil {
			return fmt.Errorf("frame %d/%d: %w", i+1, g.cfg.FrameCount, err)
		}
		stack = append(stack, raw)
	}

	var master *frame.Raw
	if g.cfg.SigmaClip {
		master = SigmaClip(stack)
	} else {
		master = Average(stack)
	}

	bits := master.DetectBits()
	tempC, err := g.client.Temperature()
	if err != nil {
		return fmt.Errorf("read temperature: %w", err)
	}
	master.Meta.TempC = tempC
	master.Meta.Exposure = float64(exposure)

	name := fmt.Sprintf("dark_ccd%d_%dbit_%ds_gain%d_bin%d_%dc_%s.fit",
		g.cfg.CameraIndex, bits, exposure, profile.Gain, profile.Bin,
		int(math.Round(tempC)), g.clock.Now().Format("20060102"))
	path := filepath.Join(g.cfg.DarkRoot, name)

	if err := fits.WriteRaw(path, master, "Dark Frame"); err != nil {
		return err
	}

	key := Key{
		CameraID: cameraID,
		BitDepth: bits,
		Exposure: exposure,
		Gain:     profile.Gain,
		Bin:      profile.Bin,
		TempC:    tempC,
	}
	if err := g.lib.Add(ctx, path, key); err != nil {
		return err
	}
	monitoring.Logf("darkgen: wrote %s (%d frames, sigmaclip=%v)", name, len(stack), g.cfg.SigmaClip)
	return nil
}
