// Package config loads and validates the camera configuration.
//
// The schema mirrors the settings form of the web UI so the same JSON can be
// used for both startup configuration and runtime edits. Fields omitted from
// the JSON retain their defaults via the Get* accessors, so partial configs
// are safe.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultConfigPath is the path to the canonical defaults file. This is the
// single source of truth for all default camera values.
const DefaultConfigPath = "config/allsky.defaults.json"

// BayerPattern names accepted in the config file.
var validBayerPatterns = map[string]bool{
	"": true, "GRBG": true, "RGGB": true, "BGGR": true, "GBRG": true,
}

// RegimeProfile holds the gain/bin pair pushed to the camera for one of the
// three operating regimes (day, night, moon mode).
type RegimeProfile struct {
	Gain *int `json:"gain,omitempty"`
	Bin  *int `json:"bin,omitempty"`
}

// Config represents the root camera configuration.
type Config struct {
	// Site
	Latitude   *float64 `json:"latitude,omitempty"`
	Longitude  *float64 `json:"longitude,omitempty"`
	ElevationM *float64 `json:"elevation_m,omitempty"`

	// Camera
	CameraName    *string `json:"camera_name,omitempty"`
	IndiServer    *string `json:"indi_server,omitempty"`
	IndiPort      *int    `json:"indi_port,omitempty"`
	CcdBitDepth   *int    `json:"ccd_bit_depth,omitempty"` // storage width hint, 0 = detect
	BayerPattern  *string `json:"bayer_pattern,omitempty"`
	TempDisplayC  *bool   `json:"temp_display_c,omitempty"`
	CameraUUIDv5  *string `json:"camera_uuid_seed,omitempty"`
	GrayscaleDay  *bool   `json:"grayscale_day,omitempty"`
	GrayscaleNite *bool   `json:"grayscale_night,omitempty"`

	// Exposure control
	ExposurePeriod   *string  `json:"exposure_period,omitempty"` // duration string like "15s"
	CcdExposureMin   *float64 `json:"ccd_exposure_min,omitempty"`
	CcdExposureMax   *float64 `json:"ccd_exposure_max,omitempty"`
	CcdExposureDef   *float64 `json:"ccd_exposure_def,omitempty"`
	TargetADU        *float64 `json:"target_adu,omitempty"`
	TargetADUDev     *float64 `json:"target_adu_dev,omitempty"`
	ADURoi           []int    `json:"adu_roi,omitempty"` // x1,y1,x2,y2; empty = centre third
	NightSunAltDeg   *float64 `json:"night_sun_alt_deg,omitempty"`
	MoonModeAltDeg   *float64 `json:"moonmode_alt_deg,omitempty"`
	MoonModePhase    *float64 `json:"moonmode_phase_pct,omitempty"`
	Day              *RegimeProfile `json:"day,omitempty"`
	Night            *RegimeProfile `json:"night,omitempty"`
	MoonMode         *RegimeProfile `json:"moonmode,omitempty"`
	ExposureTimeout  *string  `json:"exposure_timeout,omitempty"` // duration string, default "65s"

	// Image pipeline
	ImageRoot       *string   `json:"image_root,omitempty"`
	ImageExt        *string   `json:"image_ext,omitempty"` // jpg or png
	ImageLabel      *bool     `json:"image_label,omitempty"`
	ExtraTextFile   *string   `json:"extra_text_file,omitempty"`
	ImageCrop       []int     `json:"image_crop,omitempty"` // x,y,w,h
	ImageFlipV      *bool     `json:"image_flip_v,omitempty"`
	ImageFlipH      *bool     `json:"image_flip_h,omitempty"`
	ImageScalePct   *int      `json:"image_scale_pct,omitempty"`
	ContrastDay     *bool     `json:"contrast_enhance_day,omitempty"`
	ContrastNight   *bool     `json:"contrast_enhance_night,omitempty"`
	AutoWB          *bool     `json:"auto_white_balance,omitempty"`
	WBFactors       []float64 `json:"wb_factors,omitempty"` // B,G,R gains for manual WB
	DetectStars     *bool     `json:"detect_stars,omitempty"`
	StarThreshold   *int      `json:"star_threshold,omitempty"`
	OrbMode         *bool     `json:"orb_overlay,omitempty"`
	FitsArchive     *bool     `json:"fits_archive,omitempty"`
	ExportRaw       *bool     `json:"export_raw,omitempty"`

	// Dark frames
	DarkRoot       *string `json:"dark_root,omitempty"`
	DarkFrameCount *int    `json:"dark_frame_count,omitempty"`
	DarkSigmaClip  *bool   `json:"dark_sigma_clip,omitempty"`

	// Aggregation
	FFMpegBin        *string `json:"ffmpeg_bin,omitempty"`
	FFMpegFramerate  *int    `json:"ffmpeg_framerate,omitempty"`
	FFMpegBitrate    *string `json:"ffmpeg_bitrate,omitempty"`
	FFMpegCodec      *string `json:"ffmpeg_codec,omitempty"`
	FFMpegScale      *string `json:"ffmpeg_scale,omitempty"`
	KeogramAngle     *float64 `json:"keogram_angle,omitempty"`
	KeogramHScale    *int    `json:"keogram_h_scale,omitempty"`
	KeogramVScale    *int    `json:"keogram_v_scale,omitempty"`
	KeogramLabel     *bool   `json:"keogram_label,omitempty"`
	StartrailsMaxADU *float64 `json:"startrails_max_adu,omitempty"`
	StartrailsCutoff *float64 `json:"startrails_pixel_cutoff_pct,omitempty"`
	StartrailsTL     *bool   `json:"startrails_timelapse,omitempty"`
	AggregateLock    *string `json:"aggregate_lock,omitempty"`

	// Queue
	DBPath       *string `json:"db_path,omitempty"`
	TaskExpiry   *string `json:"task_expiry,omitempty"`   // duration string, default "4h"
	SweepEvery   *string `json:"sweep_interval,omitempty"` // duration string, default "10m"
	ImageWorkers *int    `json:"image_workers,omitempty"`

	// Sync
	SyncEnabled *bool `json:"sync_enabled,omitempty"`
}

// Load loads a Config from a JSON file. The file is validated to ensure it
// has a .json extension and is under the max file size.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical defaults from DefaultConfigPath.
// It searches for the file in the current directory and common parent
// directories. Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *Config {
	// Try paths from current dir up to repo root
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath,    // from internal/config/
		"../../../" + DefaultConfigPath, // from internal/allsky packages
	}
	for _, path := range candidates {
		if cfg, err := Load(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are in range.
func (c *Config) Validate() error {
	if c.Latitude != nil && (*c.Latitude < -90 || *c.Latitude > 90) {
		return fmt.Errorf("latitude must be between -90 and 90, got %f", *c.Latitude)
	}
	if c.Longitude != nil && (*c.Longitude < -180 || *c.Longitude > 180) {
		return fmt.Errorf("longitude must be between -180 and 180, got %f", *c.Longitude)
	}
	if c.TargetADU != nil && *c.TargetADU <= 0 {
		return fmt.Errorf("target_adu must be positive, got %f", *c.TargetADU)
	}
	if c.CcdExposureMin != nil && c.CcdExposureMax != nil && *c.CcdExposureMin > *c.CcdExposureMax {
		return fmt.Errorf("ccd_exposure_min %f exceeds ccd_exposure_max %f", *c.CcdExposureMin, *c.CcdExposureMax)
	}
	if c.BayerPattern != nil && !validBayerPatterns[*c.BayerPattern] {
		return fmt.Errorf("bayer_pattern must be one of GRBG/RGGB/BGGR/GBRG or empty, got %q", *c.BayerPattern)
	}
	if c.ImageExt != nil && *c.ImageExt != "jpg" && *c.ImageExt != "png" {
		return fmt.Errorf("image_ext must be jpg or png, got %q", *c.ImageExt)
	}
	if len(c.ADURoi) != 0 && len(c.ADURoi) != 4 {
		return fmt.Errorf("adu_roi must have 4 elements (x1,y1,x2,y2), got %d", len(c.ADURoi))
	}
	if len(c.ImageCrop) != 0 && len(c.ImageCrop) != 4 {
		return fmt.Errorf("image_crop must have 4 elements (x,y,w,h), got %d", len(c.ImageCrop))
	}
	if len(c.WBFactors) != 0 && len(c.WBFactors) != 3 {
		return fmt.Errorf("wb_factors must have 3 elements (B,G,R), got %d", len(c.WBFactors))
	}
	if c.ImageScalePct != nil && (*c.ImageScalePct < 1 || *c.ImageScalePct > 100) {
		return fmt.Errorf("image_scale_pct must be 1-100, got %d", *c.ImageScalePct)
	}
	if c.KeogramHScale != nil && *c.KeogramHScale < 1 {
		return fmt.Errorf("keogram_h_scale must be positive, got %d", *c.KeogramHScale)
	}
	if c.KeogramVScale != nil && *c.KeogramVScale < 1 {
		return fmt.Errorf("keogram_v_scale must be positive, got %d", *c.KeogramVScale)
	}
	for _, field := range []struct {
		name string
		val  *string
	}{
		{"exposure_period", c.ExposurePeriod},
		{"exposure_timeout", c.ExposureTimeout},
		{"task_expiry", c.TaskExpiry},
		{"sweep_interval", c.SweepEvery},
	} {
		if field.val != nil && *field.val != "" {
			if _, err := time.ParseDuration(*field.val); err != nil {
				return fmt.Errorf("invalid %s %q: %w", field.name, *field.val, err)
			}
		}
	}
	return nil
}

func durationOr(s *string, def time.Duration) time.Duration {
	if s == nil || *s == "" {
		return def
	}
	d, err := time.ParseDuration(*s)
	if err != nil {
		return def
	}
	return d
}

// GetLatitude returns the site latitude in degrees.
func (c *Config) GetLatitude() float64 {
	if c.Latitude == nil {
		return 0
	}
	return *c.Latitude
}

// GetLongitude returns the site longitude in degrees.
func (c *Config) GetLongitude() float64 {
	if c.Longitude == nil {
		return 0
	}
	return *c.Longitude
}

// GetElevationM returns the site elevation in metres.
func (c *Config) GetElevationM() float64 {
	if c.ElevationM == nil {
		return 0
	}
	return *c.ElevationM
}

// GetCameraName returns the configured camera name.
func (c *Config) GetCameraName() string {
	if c.CameraName == nil {
		return "CCD Simulator"
	}
	return *c.CameraName
}

// GetBayerPattern returns the configured Bayer pattern string ("" = mono).
func (c *Config) GetBayerPattern() string {
	if c.BayerPattern == nil {
		return ""
	}
	return *c.BayerPattern
}

// GetExposurePeriod returns the acquisition period.
func (c *Config) GetExposurePeriod() time.Duration {
	return durationOr(c.ExposurePeriod, 15*time.Second)
}

// GetExposureTimeout returns how long to wait for a commanded exposure.
func (c *Config) GetExposureTimeout() time.Duration {
	return durationOr(c.ExposureTimeout, 65*time.Second)
}

// GetCcdExposureMin returns the minimum exposure in seconds.
func (c *Config) GetCcdExposureMin() float64 {
	if c.CcdExposureMin == nil {
		return 0.000032
	}
	return *c.CcdExposureMin
}

// GetCcdExposureMax returns the maximum exposure in seconds.
func (c *Config) GetCcdExposureMax() float64 {
	if c.CcdExposureMax == nil {
		return 15.0
	}
	return *c.CcdExposureMax
}

// GetCcdExposureDef returns the startup exposure in seconds.
func (c *Config) GetCcdExposureDef() float64 {
	if c.CcdExposureDef == nil {
		return 1.0
	}
	return *c.CcdExposureDef
}

// GetTargetADU returns the target mean brightness.
func (c *Config) GetTargetADU() float64 {
	if c.TargetADU == nil {
		return 75
	}
	return *c.TargetADU
}

// GetTargetADUDev returns the acceptable deviation around the target.
func (c *Config) GetTargetADUDev() float64 {
	if c.TargetADUDev == nil {
		return 10
	}
	return *c.TargetADUDev
}

// GetNightSunAltDeg returns the sun altitude below which it is night.
func (c *Config) GetNightSunAltDeg() float64 {
	if c.NightSunAltDeg == nil {
		return -6
	}
	return *c.NightSunAltDeg
}

// GetMoonModeAltDeg returns the moon altitude above which moon mode may engage.
func (c *Config) GetMoonModeAltDeg() float64 {
	if c.MoonModeAltDeg == nil {
		return 5
	}
	return *c.MoonModeAltDeg
}

// GetMoonModePhasePct returns the illuminated fraction (percent) above which
// moon mode may engage.
func (c *Config) GetMoonModePhasePct() float64 {
	if c.MoonModePhase == nil {
		return 50
	}
	return *c.MoonModePhase
}

func profileOr(p *RegimeProfile, gain, bin int) (int, int) {
	if p == nil {
		return gain, bin
	}
	if p.Gain != nil {
		gain = *p.Gain
	}
	if p.Bin != nil {
		bin = *p.Bin
	}
	return gain, bin
}

// GetDayProfile returns the day regime gain and bin.
func (c *Config) GetDayProfile() (gain, bin int) { return profileOr(c.Day, 0, 1) }

// GetNightProfile returns the night regime gain and bin.
func (c *Config) GetNightProfile() (gain, bin int) { return profileOr(c.Night, 100, 1) }

// GetMoonModeProfile returns the moon-mode regime gain and bin.
func (c *Config) GetMoonModeProfile() (gain, bin int) { return profileOr(c.MoonMode, 75, 1) }

// GetImageRoot returns the root of the persisted image tree.
func (c *Config) GetImageRoot() string {
	if c.ImageRoot == nil {
		return "images"
	}
	return *c.ImageRoot
}

// GetImageExt returns the finished-frame extension (jpg or png).
func (c *Config) GetImageExt() string {
	if c.ImageExt == nil {
		return "jpg"
	}
	return *c.ImageExt
}

// GetImageLabel reports whether label lines are drawn on finished frames.
func (c *Config) GetImageLabel() bool {
	if c.ImageLabel == nil {
		return true
	}
	return *c.ImageLabel
}

// GetExtraTextFile returns the optional extra label text file path.
func (c *Config) GetExtraTextFile() string {
	if c.ExtraTextFile == nil {
		return ""
	}
	return *c.ExtraTextFile
}

// GetImageScalePct returns the output scale percentage.
func (c *Config) GetImageScalePct() int {
	if c.ImageScalePct == nil {
		return 100
	}
	return *c.ImageScalePct
}

// GetImageFlipV reports whether output is flipped vertically.
func (c *Config) GetImageFlipV() bool { return c.ImageFlipV != nil && *c.ImageFlipV }

// GetImageFlipH reports whether output is flipped horizontally.
func (c *Config) GetImageFlipH() bool { return c.ImageFlipH != nil && *c.ImageFlipH }

// GetContrastEnhance reports whether CLAHE runs for the given regime.
func (c *Config) GetContrastEnhance(night bool) bool {
	if night {
		if c.ContrastNight == nil {
			return true
		}
		return *c.ContrastNight
	}
	if c.ContrastDay == nil {
		return false
	}
	return *c.ContrastDay
}

// GetGrayscale reports whether the grayscale path is used for the regime.
func (c *Config) GetGrayscale(night bool) bool {
	if night {
		return c.GrayscaleNite != nil && *c.GrayscaleNite
	}
	return c.GrayscaleDay != nil && *c.GrayscaleDay
}

// GetAutoWB reports whether automatic white balance is enabled.
func (c *Config) GetAutoWB() bool {
	if c.AutoWB == nil {
		return true
	}
	return *c.AutoWB
}

// GetWBFactors returns the manual white-balance gains (B, G, R).
func (c *Config) GetWBFactors() (b, g, r float64) {
	if len(c.WBFactors) != 3 {
		return 1, 1, 1
	}
	return c.WBFactors[0], c.WBFactors[1], c.WBFactors[2]
}

// GetDetectStars reports whether night-time star detection is enabled.
func (c *Config) GetDetectStars() bool {
	if c.DetectStars == nil {
		return true
	}
	return *c.DetectStars
}

// GetStarThreshold returns the 8-bit threshold for star candidates.
func (c *Config) GetStarThreshold() int {
	if c.StarThreshold == nil {
		return 190
	}
	return *c.StarThreshold
}

// GetOrbOverlay reports whether sun/moon orbs are drawn on the rim.
func (c *Config) GetOrbOverlay() bool {
	if c.OrbMode == nil {
		return true
	}
	return *c.OrbMode
}

// GetFitsArchive reports whether raw frames are archived as FITS.
func (c *Config) GetFitsArchive() bool { return c.FitsArchive != nil && *c.FitsArchive }

// GetExportRaw reports whether the 16-bit debayered export is written.
func (c *Config) GetExportRaw() bool { return c.ExportRaw != nil && *c.ExportRaw }

// GetDarkRoot returns the master-dark directory.
func (c *Config) GetDarkRoot() string {
	if c.DarkRoot == nil {
		return "darks"
	}
	return *c.DarkRoot
}

// GetDarkFrameCount returns the frames captured per dark-grid cell.
func (c *Config) GetDarkFrameCount() int {
	if c.DarkFrameCount == nil {
		return 10
	}
	return *c.DarkFrameCount
}

// GetDarkSigmaClip reports whether sigma-clip reduction is used for darks.
func (c *Config) GetDarkSigmaClip() bool { return c.DarkSigmaClip != nil && *c.DarkSigmaClip }

// GetFFMpegBin returns the encoder binary.
func (c *Config) GetFFMpegBin() string {
	if c.FFMpegBin == nil {
		return "ffmpeg"
	}
	return *c.FFMpegBin
}

// GetFFMpegFramerate returns the timelapse frame rate.
func (c *Config) GetFFMpegFramerate() int {
	if c.FFMpegFramerate == nil {
		return 25
	}
	return *c.FFMpegFramerate
}

// GetFFMpegBitrate returns the timelapse bitrate.
func (c *Config) GetFFMpegBitrate() string {
	if c.FFMpegBitrate == nil {
		return "2500k"
	}
	return *c.FFMpegBitrate
}

// GetFFMpegCodec returns the timelapse codec.
func (c *Config) GetFFMpegCodec() string {
	if c.FFMpegCodec == nil {
		return "libx264"
	}
	return *c.FFMpegCodec
}

// GetFFMpegScale returns the optional -vf scale argument ("" = none).
func (c *Config) GetFFMpegScale() string {
	if c.FFMpegScale == nil {
		return ""
	}
	return *c.FFMpegScale
}

// GetKeogramAngle returns the rotation angle for keogram strip extraction.
func (c *Config) GetKeogramAngle() float64 {
	if c.KeogramAngle == nil {
		return 0
	}
	return *c.KeogramAngle
}

// GetKeogramHScale returns the horizontal scale percentage (of frame count).
func (c *Config) GetKeogramHScale() int {
	if c.KeogramHScale == nil {
		return 100
	}
	return *c.KeogramHScale
}

// GetKeogramVScale returns the vertical scale percentage (of source height).
func (c *Config) GetKeogramVScale() int {
	if c.KeogramVScale == nil {
		return 33
	}
	return *c.KeogramVScale
}

// GetKeogramLabel reports whether the month/year label band is drawn.
func (c *Config) GetKeogramLabel() bool {
	if c.KeogramLabel == nil {
		return true
	}
	return *c.KeogramLabel
}

// GetStartrailsMaxADU returns the mean-luminance gate for stacking.
func (c *Config) GetStartrailsMaxADU() float64 {
	if c.StartrailsMaxADU == nil {
		return 50
	}
	return *c.StartrailsMaxADU
}

// GetStartrailsCutoffPct returns the bright-pixel percentage gate.
func (c *Config) GetStartrailsCutoffPct() float64 {
	if c.StartrailsCutoff == nil {
		return 1.0
	}
	return *c.StartrailsCutoff
}

// GetStartrailsTimelapse reports whether the rolling stack timelapse is made.
func (c *Config) GetStartrailsTimelapse() bool {
	if c.StartrailsTL == nil {
		return true
	}
	return *c.StartrailsTL
}

// GetAggregateLock returns the aggregation lock file path.
func (c *Config) GetAggregateLock() string {
	if c.AggregateLock == nil {
		return "/tmp/timelapse_video.lock"
	}
	return *c.AggregateLock
}

// GetDBPath returns the SQLite database path.
func (c *Config) GetDBPath() string {
	if c.DBPath == nil {
		return "allsky.db"
	}
	return *c.DBPath
}

// GetTaskExpiry returns the age after which RUNNING tasks are expired.
func (c *Config) GetTaskExpiry() time.Duration {
	return durationOr(c.TaskExpiry, 4*time.Hour)
}

// GetSweepInterval returns the sweeper period.
func (c *Config) GetSweepInterval() time.Duration {
	return durationOr(c.SweepEvery, 10*time.Minute)
}

// GetImageWorkers returns the number of image workers.
func (c *Config) GetImageWorkers() int {
	if c.ImageWorkers == nil {
		return 2
	}
	return *c.ImageWorkers
}

// GetSyncEnabled reports whether sync-API metadata is produced.
func (c *Config) GetSyncEnabled() bool { return c.SyncEnabled != nil && *c.SyncEnabled }
