package pipeline

import (
	"image"
	"image/color"
	"time"

	"github.com/banshee-data/allsky.report/internal/allsky/ephem"
)

// Orb rendering constants.
const (
	orbRadius   = 8
	tickLength  = 6
	civilAltDeg = -6
	astroAltDeg = -18
)

var (
	sunColor  = color.RGBA{R: 0xff, G: 0xd7, B: 0x00, A: 0xff}
	moonColor = color.RGBA{R: 0xc8, G: 0xc8, B: 0xc8, A: 0xff}
	tickColor = color.RGBA{R: 0x80, G: 0x80, B: 0xff, A: 0xff}
)

// orbPosition maps an hour angle in (-180, 180] onto the image border.
// P = width + height; |h| maps linearly onto [0, P/2] walked from top-centre,
// clockwise for h < 0 and counter-clockwise for h > 0. The track is
// continuous and monotone around the rim, and h = ±180 lands on the middle
// of the right/left edges so the orb crosses between them without jumping
// through the interior.
func orbPosition(width, height int, hourAngleDeg float64) (x, y int) {
	p := float64(width + height)
	dist := (hourAngleDeg / 180) * (p / 2) // signed; negative walks clockwise
	clockwise := dist < 0
	if clockwise {
		dist = -dist
	}
	return walkPerimeter(width, height, dist, clockwise)
}

// walkPerimeter walks dist pixels along the border from top-centre in the
// given direction and returns the landing point.
func walkPerimeter(width, height int, dist float64, clockwise bool) (int, int) {
	w := float64(width)
	h := float64(height)
	half := w / 2

	if clockwise {
		// Top edge to the right corner, then down the right edge.
		if dist <= half {
			return int(half + dist), 0
		}
		dist -= half
		if dist <= h {
			return width - 1, int(dist)
		}
		// Continue along the bottom for angles beyond the mapped range.
		dist -= h
		return clampInt(width-1-int(dist), 0, width-1), height - 1
	}

	// Counter-clockwise: top edge to the left corner, then down the left edge.
	if dist <= half {
		return int(half - dist), 0
	}
	dist -= half
	if dist <= h {
		return 0, int(dist)
	}
	dist -= h
	return clampInt(int(dist), 0, width-1), height - 1
}

// drawOrbs places the sun and moon glyphs on the rim and marks civil and
// astronomical dawn/dusk with short ticks at the hour angles where the sun
// crosses those altitudes.
func drawOrbs(img *image.RGBA, obs ephem.Observer, st ephem.State, at time.Time) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w < 4*orbRadius || h < 4*orbRadius {
		return
	}

	for _, alt := range []float64{civilAltDeg, astroAltDeg} {
		if ha, ok := obs.TwilightHourAngles(at, alt); ok {
			for _, signed := range []float64{ha, -ha} {
				x, y := orbPosition(w, h, signed)
				drawTick(img, b.Min.X+x, b.Min.Y+y)
			}
		}
	}

	sx, sy := orbPosition(w, h, st.SunHourAngleDeg)
	fillCircle(img, b.Min.X+sx, b.Min.Y+sy, orbRadius, sunColor)

	mc := moonColor
	if st.MoonOK {
		// Dim the glyph with the unilluminated fraction.
		scale := 0.3 + 0.7*st.MoonFraction/100
		mc = color.RGBA{
			R: uint8(float64(moonColor.R) * scale),
			G: uint8(float64(moonColor.G) * scale),
			B: uint8(float64(moonColor.B) * scale),
			A: 0xff,
		}
	}
	mx, my := orbPosition(w, h, st.MoonHourAngleDeg)
	fillCircle(img, b.Min.X+mx, b.Min.Y+my, orbRadius-2, mc)
}

func fillCircle(img *image.RGBA, cx, cy, r int, c color.RGBA) {
	b := img.Bounds()
	for dy := -r; dy <= r; dy++ {
		for dx := -r; dx <= r; dx++ {
			if dx*dx+dy*dy > r*r {
				continue
			}
			x, y := cx+dx, cy+dy
			if x < b.Min.X || x >= b.Max.X || y < b.Min.Y || y >= b.Max.Y {
				continue
			}
			img.SetRGBA(x, y, c)
		}
	}
}

// drawTick draws a short perpendicular mark pointing into the frame.
func drawTick(img *image.RGBA, x, y int) {
	b := img.Bounds()
	dx, dy := 0, 0
	switch {
	case y == b.Min.Y:
		dy = 1
	case y >= b.Max.Y-1:
		dy = -1
	case x == b.Min.X:
		dx = 1
	default:
		dx = -1
	}
	for i := 0; i < tickLength; i++ {
		px, py := x+dx*i, y+dy*i
		if px < b.Min.X || px >= b.Max.X || py < b.Min.Y || py >= b.Max.Y {
			break
		}
		img.SetRGBA(px, py, tickColor)
	}
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
