// Package acquisition runs the capture cadence: resolve the operating regime
// from the ephemeris, command the exposure the controller asks for, spool the
// raw frame and hand it to the image queue.
package acquisition

import (
	"github.com/banshee-data/allsky.report/internal/allsky/ephem"
	"github.com/banshee-data/allsky.report/internal/config"
)

// Regime is one of the three operating modes. Day and night switch on sun
// altitude; moon mode is a sub-state of night entered when the moon is both
// high and bright enough to wash out the sky.
type Regime int

const (
	RegimeDay Regime = iota
	RegimeNight
	RegimeMoon
)

func (r Regime) String() string {
	switch r {
	case RegimeDay:
		return "day"
	case RegimeNight:
		return "night"
	case RegimeMoon:
		return "moonmode"
	}
	return "unknown"
}

// Night reports whether the regime is a night regime (moon mode included).
func (r Regime) Night() bool { return r != RegimeDay }

// Resolve classifies the sky state into a regime. When the ephemeris could
// not produce a moon phase, moon mode stays off and plain night wins.
func Resolve(cfg *config.Config, st ephem.State) Regime {
	if st.SunAltDeg >= cfg.GetNightSunAltDeg() {
		return RegimeDay
	}
	if st.MoonOK &&
		st.MoonAltDeg >= cfg.GetMoonModeAltDeg() &&
		st.MoonFraction >= cfg.GetMoonModePhasePct() {
		return RegimeMoon
	}
	return RegimeNight
}

// Profile returns the gain/bin pair configured for the regime.
func Profile(cfg *config.Config, r Regime) (gain, bin int) {
	switch r {
	case RegimeNight:
		return cfg.GetNightProfile()
	case RegimeMoon:
		return cfg.GetMoonModeProfile()
	}
	return cfg.GetDayProfile()
}
