// Package ephem computes the sun/moon quantities the core decides on: sun
// altitude for the day/night regime, moon altitude and illuminated fraction
// for moon mode, hour angles for the orb perimeter overlay, and the dayDate
// bucketing rule.
//
// Altitudes and moon illumination come from the suncalc port. Hour angles
// need the bodies' right ascension against local sidereal time, which suncalc
// does not expose, so a compact low-precision solar/lunar position is
// computed here for that purpose only.
package ephem

import (
	"math"
	"time"

	"github.com/sixdouglas/suncalc"
)

const degPerRad = 180 / math.Pi

// Observer is a fixed site.
type Observer struct {
	LatDeg     float64
	LonDeg     float64
	ElevationM float64
}

// State is the ephemeris snapshot the acquisition loop reads once per
// iteration.
type State struct {
	SunAltDeg  float64
	MoonAltDeg float64

	// MoonFraction is the illuminated fraction in percent. MoonOK is false
	// when the phase could not be determined; the regime resolver treats
	// that as moon-mode off.
	MoonFraction float64
	MoonOK       bool
	MoonWaxing   bool

	// Hour angles in degrees, normalised to (-180, 180]. Negative values
	// are east of the meridian (body rising).
	SunHourAngleDeg  float64
	MoonHourAngleDeg float64
}

// At returns the ephemeris state for the observer at time t.
func (o Observer) At(t time.Time) State {
	sunPos := suncalc.GetPosition(t, o.LatDeg, o.LonDeg)
	moonPos := suncalc.GetMoonPosition(t, o.LatDeg, o.LonDeg)
	illum := suncalc.GetMoonIllumination(t)

	st := State{
		SunAltDeg:    sunPos.Altitude * degPerRad,
		MoonAltDeg:   moonPos.Altitude * degPerRad,
		MoonFraction: illum.Fraction * 100,
		MoonOK:       !math.IsNaN(illum.Fraction),
		MoonWaxing:   illum.Phase < 0.5,
	}

	lst := localSiderealDeg(t, o.LonDeg)
	sunRA, _ := sunRADec(t)
	moonRA, _ := moonRADec(t)
	st.SunHourAngleDeg = normHalf(lst - sunRA)
	st.MoonHourAngleDeg = normHalf(lst - moonRA)
	return st
}

// TwilightHourAngles returns the magnitude of the sun hour angle at which the
// sun sits at altDeg for the observer on the day of t. ok is false when the
// sun never reaches that altitude (polar day/night).
func (o Observer) TwilightHourAngles(t time.Time, altDeg float64) (hDeg float64, ok bool) {
	_, dec := sunRADec(t)
	lat := o.LatDeg / degPerRad
	alt := altDeg / degPerRad
	decR := dec / degPerRad
	cosH := (math.Sin(alt) - math.Sin(lat)*math.Sin(decR)) /
		(math.Cos(lat) * math.Cos(decR))
	if cosH < -1 || cosH > 1 {
		return 0, false
	}
	return math.Acos(cosH) * degPerRad, true
}

// DayDate is the calendar date a capture is bucketed into: for night frames
// the wallclock minus 12 hours, so a single astronomical night maps to one
// directory and one aggregation.
func DayDate(t time.Time, night bool) string {
	if night {
		t = t.Add(-12 * time.Hour)
	}
	return t.Format("20060102")
}

// MoonPhaseName maps an illuminated fraction (percent) and waxing flag onto
// the label text used on finished frames.
func MoonPhaseName(fractionPct float64, waxing bool) string {
	switch {
	case fractionPct < 2:
		return "New Moon"
	case fractionPct > 98:
		return "Full Moon"
	case fractionPct >= 48 && fractionPct <= 52:
		if waxing {
			return "First Quarter"
		}
		return "Last Quarter"
	case fractionPct < 50:
		if waxing {
			return "Waxing Crescent"
		}
		return "Waning Crescent"
	default:
		if waxing {
			return "Waxing Gibbous"
		}
		return "Waning Gibbous"
	}
}

// normHalf folds degrees into (-180, 180].
func normHalf(deg float64) float64 {
	deg = math.Mod(deg, 360)
	if deg > 180 {
		deg -= 360
	}
	if deg <= -180 {
		deg += 360
	}
	return deg
}

// daysSinceJ2000 returns fractional days since the J2000.0 epoch.
func daysSinceJ2000(t time.Time) float64 {
	return t.UTC().Sub(j2000).Seconds() / 86400.0
}

var j2000 = time.Date(2000, 1, 1, 12, 0, 0, 0, time.UTC)

// localSiderealDeg returns the local sidereal time in degrees.
func localSiderealDeg(t time.Time, lonDeg float64) float64 {
	n := daysSinceJ2000(t)
	gmst := 280.46061837 + 360.98564736629*n
	return math.Mod(math.Mod(gmst, 360)+360+lonDeg, 360)
}

// sunRADec returns the sun's right ascension and declination in degrees
// (low-precision series, good to a few arcminutes).
func sunRADec(t time.Time) (ra, dec float64) {
	n := daysSinceJ2000(t)
	l := rad(math.Mod(280.460+0.9856474*n, 360))
	g := rad(math.Mod(357.528+0.9856003*n, 360))
	lambda := l + rad(1.915)*math.Sin(g) + rad(0.020)*math.Sin(2*g)
	eps := rad(23.439 - 0.0000004*n)

	ra = math.Atan2(math.Cos(eps)*math.Sin(lambda), math.Cos(lambda)) * degPerRad
	dec = math.Asin(math.Sin(eps)*math.Sin(lambda)) * degPerRad
	return math.Mod(ra+360, 360), dec
}

// moonRADec returns the moon's right ascension and declination in degrees
// (truncated lunar series, good to a fraction of a degree, which is plenty
// for a rim overlay).
func moonRADec(t time.Time) (ra, dec float64) {
	n := daysSinceJ2000(t)
	lp := rad(math.Mod(218.316+13.176396*n, 360)) // mean longitude
	m := rad(math.Mod(134.963+13.064993*n, 360))  // mean anomaly
	f := rad(math.Mod(93.272+13.229350*n, 360))   // mean distance

	lambda := lp + rad(6.289)*math.Sin(m)
	beta := rad(5.128) * math.Sin(f)
	eps := rad(23.439 - 0.0000004*n)

	sinDec := math.Sin(beta)*math.Cos(eps) + math.Cos(beta)*math.Sin(eps)*math.Sin(lambda)
	dec = math.Asin(sinDec) * degPerRad
	y := math.Sin(lambda)*math.Cos(eps) - math.Tan(beta)*math.Sin(eps)
	ra = math.Atan2(y, math.Cos(lambda)) * degPerRad
	return math.Mod(ra+360, 360), dec
}

func rad(deg float64) float64 { return deg / degPerRad }
