package ephem

import (
	"math"
	"testing"
	"time"
)

func TestDayDateNightBucketsOneNight(t *testing.T) {
	// Both sides of midnight belong to the evening's date.
	evening := time.Date(2026, 3, 10, 22, 0, 0, 0, time.UTC)
	morning := time.Date(2026, 3, 11, 4, 30, 0, 0, time.UTC)

	if got := DayDate(evening, true); got != "20260310" {
		t.Errorf("evening night dayDate = %s, want 20260310", got)
	}
	if got := DayDate(morning, true); got != "20260310" {
		t.Errorf("morning night dayDate = %s, want 20260310", got)
	}
}

func TestDayDateDayKeepsCalendarDate(t *testing.T) {
	noon := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	if got := DayDate(noon, false); got != "20260310" {
		t.Errorf("day dayDate = %s, want 20260310", got)
	}

	// Early morning day frames stay on their own date too.
	dawn := time.Date(2026, 3, 11, 7, 0, 0, 0, time.UTC)
	if got := DayDate(dawn, false); got != "20260311" {
		t.Errorf("dawn day dayDate = %s, want 20260311", got)
	}
}

func TestNormHalf(t *testing.T) {
	cases := []struct{ in, want float64 }{
		{0, 0},
		{180, 180},
		{181, -179},
		{-180, 180},
		{360, 0},
		{-90, -90},
		{540, 180},
	}
	for _, c := range cases {
		if got := normHalf(c.in); math.Abs(got-c.want) > 1e-9 {
			t.Errorf("normHalf(%f) = %f, want %f", c.in, got, c.want)
		}
	}
}

func TestAtReturnsSaneRanges(t *testing.T) {
	obs := Observer{LatDeg: 51.48, LonDeg: -0.0015}
	st := obs.At(time.Date(2026, 6, 21, 12, 0, 0, 0, time.UTC))

	if st.SunAltDeg < -90 || st.SunAltDeg > 90 {
		t.Errorf("sun altitude %f out of range", st.SunAltDeg)
	}
	if st.MoonAltDeg < -90 || st.MoonAltDeg > 90 {
		t.Errorf("moon altitude %f out of range", st.MoonAltDeg)
	}
	if st.MoonFraction < 0 || st.MoonFraction > 100 {
		t.Errorf("moon fraction %f out of range", st.MoonFraction)
	}
	if st.SunHourAngleDeg <= -180 || st.SunHourAngleDeg > 180 {
		t.Errorf("sun hour angle %f not normalised", st.SunHourAngleDeg)
	}

	// Summer solstice noon at Greenwich: the sun is high and near the
	// meridian.
	if st.SunAltDeg < 50 {
		t.Errorf("solstice noon sun altitude %f, expected above 50", st.SunAltDeg)
	}
	if math.Abs(st.SunHourAngleDeg) > 15 {
		t.Errorf("solstice noon sun hour angle %f, expected near meridian", st.SunHourAngleDeg)
	}
}

func TestSunCrossesMeridianSign(t *testing.T) {
	obs := Observer{LatDeg: 40, LonDeg: 0}
	morning := obs.At(time.Date(2026, 3, 20, 8, 0, 0, 0, time.UTC))
	afternoon := obs.At(time.Date(2026, 3, 20, 16, 0, 0, 0, time.UTC))

	if morning.SunHourAngleDeg >= 0 {
		t.Errorf("morning hour angle %f, expected negative (east)", morning.SunHourAngleDeg)
	}
	if afternoon.SunHourAngleDeg <= 0 {
		t.Errorf("afternoon hour angle %f, expected positive (west)", afternoon.SunHourAngleDeg)
	}
}

func TestTwilightHourAngles(t *testing.T) {
	obs := Observer{LatDeg: 40, LonDeg: 0}
	at := time.Date(2026, 3, 20, 12, 0, 0, 0, time.UTC)

	civil, ok := obs.TwilightHourAngles(at, -6)
	if !ok {
		t.Fatal("civil twilight should exist at mid-latitude equinox")
	}
	astro, ok := obs.TwilightHourAngles(at, -18)
	if !ok {
		t.Fatal("astronomical twilight should exist at mid-latitude equinox")
	}
	if astro <= civil {
		t.Errorf("astronomical angle %f should exceed civil %f", astro, civil)
	}

	// Polar summer: the sun never reaches -18 at 80N in late June.
	polar := Observer{LatDeg: 80, LonDeg: 0}
	if _, ok := polar.TwilightHourAngles(time.Date(2026, 6, 21, 12, 0, 0, 0, time.UTC), -18); ok {
		t.Error("expected no astronomical twilight during polar day")
	}
}

func TestMoonPhaseName(t *testing.T) {
	cases := []struct {
		fraction float64
		waxing   bool
		want     string
	}{
		{0.5, true, "New Moon"},
		{99, false, "Full Moon"},
		{50, true, "First Quarter"},
		{50, false, "Last Quarter"},
		{20, true, "Waxing Crescent"},
		{20, false, "Waning Crescent"},
		{80, true, "Waxing Gibbous"},
		{80, false, "Waning Gibbous"},
	}
	for _, c := range cases {
		if got := MoonPhaseName(c.fraction, c.waxing); got != c.want {
			t.Errorf("MoonPhaseName(%f, %v) = %q, want %q", c.fraction, c.waxing, got, c.want)
		}
	}
}
