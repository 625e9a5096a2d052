package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadValidConfig(t *testing.T) {
	path := writeConfig(t, "allsky.json", `{
		"latitude": 51.48,
		"longitude": -0.0015,
		"camera_name": "allsky-north",
		"target_adu": 90,
		"exposure_period": "1m",
		"night": {"gain": 250, "bin": 1}
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.GetLatitude() != 51.48 {
		t.Errorf("latitude = %f", cfg.GetLatitude())
	}
	if cfg.GetTargetADU() != 90 {
		t.Errorf("target_adu = %f", cfg.GetTargetADU())
	}
	if got := cfg.GetExposurePeriod(); got != time.Minute {
		t.Errorf("exposure_period = %v", got)
	}
	if gain, bin := cfg.GetNightProfile(); gain != 250 || bin != 1 {
		t.Errorf("night profile = (%d,%d)", gain, bin)
	}
}

func TestLoadRejectsNonJSONExtension(t *testing.T) {
	path := writeConfig(t, "allsky.yaml", "{}")
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), ".json") {
		t.Errorf("expected extension error, got %v", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.json")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoadMalformedJSON(t *testing.T) {
	path := writeConfig(t, "broken.json", "{not json")
	if _, err := Load(path); err == nil {
		t.Error("expected parse error")
	}
}

func TestValidateRanges(t *testing.T) {
	f := func(v float64) *float64 { return &v }
	s := func(v string) *string { return &v }
	i := func(v int) *int { return &v }

	cases := []struct {
		name string
		cfg  Config
	}{
		{"latitude", Config{Latitude: f(91)}},
		{"longitude", Config{Longitude: f(-200)}},
		{"target_adu", Config{TargetADU: f(0)}},
		{"exposure order", Config{CcdExposureMin: f(10), CcdExposureMax: f(1)}},
		{"bayer", Config{BayerPattern: s("XYZW")}},
		{"image_ext", Config{ImageExt: s("gif")}},
		{"adu_roi", Config{ADURoi: []int{1, 2}}},
		{"image_crop", Config{ImageCrop: []int{1, 2, 3}}},
		{"wb_factors", Config{WBFactors: []float64{1, 2}}},
		{"scale", Config{ImageScalePct: i(0)}},
		{"keogram scale", Config{KeogramHScale: i(0)}},
		{"duration", Config{ExposurePeriod: s("soon")}},
	}
	for _, c := range cases {
		if err := c.cfg.Validate(); err == nil {
			t.Errorf("%s: expected validation error", c.name)
		}
	}

	if err := (&Config{}).Validate(); err != nil {
		t.Errorf("empty config should validate: %v", err)
	}
}

func TestDefaultsWithoutFile(t *testing.T) {
	cfg := &Config{}

	if got := cfg.GetTargetADU(); got != 75 {
		t.Errorf("default target_adu = %f", got)
	}
	if got := cfg.GetNightSunAltDeg(); got != -6 {
		t.Errorf("default night sun altitude = %f", got)
	}
	if got := cfg.GetImageExt(); got != "jpg" {
		t.Errorf("default image_ext = %s", got)
	}
	if got := cfg.GetTaskExpiry(); got != 4*time.Hour {
		t.Errorf("default task_expiry = %v", got)
	}
	if gain, bin := cfg.GetDayProfile(); gain != 0 || bin != 1 {
		t.Errorf("default day profile = (%d,%d)", gain, bin)
	}
}

func TestDefaultsFileLoadsAndMatchesAccessors(t *testing.T) {
	cfg := MustLoadDefaultConfig()

	// The shipped defaults file must validate and restate the accessor
	// defaults, so a config generated from it behaves like no config at all.
	empty := &Config{}
	if got, want := cfg.GetTargetADU(), empty.GetTargetADU(); got != want {
		t.Errorf("defaults file target_adu = %f, accessor default %f", got, want)
	}
	if got, want := cfg.GetNightSunAltDeg(), empty.GetNightSunAltDeg(); got != want {
		t.Errorf("defaults file night sun altitude = %f, accessor default %f", got, want)
	}
	if got, want := cfg.GetImageExt(), empty.GetImageExt(); got != want {
		t.Errorf("defaults file image_ext = %s, accessor default %s", got, want)
	}
	if got, want := cfg.GetExposureTimeout(), empty.GetExposureTimeout(); got != want {
		t.Errorf("defaults file exposure_timeout = %v, accessor default %v", got, want)
	}
	if got, want := cfg.GetDarkFrameCount(), empty.GetDarkFrameCount(); got != want {
		t.Errorf("defaults file dark_frame_count = %d, accessor default %d", got, want)
	}
	gain, bin := cfg.GetMoonModeProfile()
	if wg, wb := empty.GetMoonModeProfile(); gain != wg || bin != wb {
		t.Errorf("defaults file moonmode profile = (%d,%d), accessor default (%d,%d)", gain, bin, wg, wb)
	}
}

func TestDurationFallsBackOnGarbage(t *testing.T) {
	// Validate catches bad durations on load, but accessors must still not
	// panic on a hand-built config.
	bad := "shortly"
	cfg := &Config{TaskExpiry: &bad}
	if got := cfg.GetTaskExpiry(); got != 4*time.Hour {
		t.Errorf("garbage duration returned %v, want the default", got)
	}
}
