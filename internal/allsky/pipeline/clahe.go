package pipeline

import (
	"image"
	"math"
)

// CLAHE parameters: OpenCV defaults the original tuning settled on.
const (
	claheClipLimit = 3.0
	claheTilesX    = 8
	claheTilesY    = 8
)

// applyCLAHE runs contrast-limited adaptive histogram equalisation on the L
// channel of the image in LAB space, writing the result back in place.
// Per-tile histograms are clipped at claheClipLimit times the uniform bin
// height, excess redistributed, and pixel mappings bilinearly interpolated
// between tile centres.
func applyCLAHE(img *image.RGBA) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w < claheTilesX || h < claheTilesY {
		return
	}

	// Extract L channel (0..100 scaled to 0..255 for the histograms).
	lchan := make([]uint8, w*h)
	achan := make([]float64, w*h)
	bchan := make([]float64, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			o := img.PixOffset(b.Min.X+x, b.Min.Y+y)
			l, aa, bb := rgbToLab(img.Pix[o], img.Pix[o+1], img.Pix[o+2])
			i := y*w + x
			lchan[i] = uint8(clampF(l*255/100, 0, 255))
			achan[i] = aa
			bchan[i] = bb
		}
	}

	tileW := w / claheTilesX
	tileH := h / claheTilesY

	// Per-tile clipped CDF mapping.
	maps := make([][256]uint8, claheTilesX*claheTilesY)
	for ty := 0; ty < claheTilesY; ty++ {
		for tx := 0; tx < claheTilesX; tx++ {
			x0, y0 := tx*tileW, ty*tileH
			x1, y1 := x0+tileW, y0+tileH
			if tx == claheTilesX-1 {
				x1 = w
			}
			if ty == claheTilesY-1 {
				y1 = h
			}

			var hist [256]int
			n := 0
			for y := y0; y < y1; y++ {
				for x := x0; x < x1; x++ {
					hist[lchan[y*w+x]]++
					n++
				}
			}

			// Clip and redistribute.
			limit := int(claheClipLimit * float64(n) / 256)
			if limit < 1 {
				limit = 1
			}
			excess := 0
			for i := range hist {
				if hist[i] > limit {
					excess += hist[i] - limit
					hist[i] = limit
				}
			}
			per := excess / 256
			rem := excess % 256
			for i := range hist {
				hist[i] += per
				if i < rem {
					hist[i]++
				}
			}

			// CDF -> mapping.
			cum := 0
			m := &maps[ty*claheTilesX+tx]
			for i := 0; i < 256; i++ {
				cum += hist[i]
				m[i] = uint8(clampF(float64(cum)*255/float64(n), 0, 255))
			}
		}
	}

	// Interpolate between the four surrounding tile mappings per pixel.
	for y := 0; y < h; y++ {
		fy := (float64(y)-float64(tileH)/2)/float64(tileH)
		ty0 := int(math.Floor(fy))
		wy := fy - float64(ty0)
		ty1 := ty0 + 1
		if ty0 < 0 {
			ty0, ty1, wy = 0, 0, 0
		}
		if ty1 >= claheTilesY {
			ty0, ty1, wy = claheTilesY-1, claheTilesY-1, 0
		}
		for x := 0; x < w; x++ {
			fx := (float64(x)-float64(tileW)/2)/float64(tileW)
			tx0 := int(math.Floor(fx))
			wx := fx - float64(tx0)
			tx1 := tx0 + 1
			if tx0 < 0 {
				tx0, tx1, wx = 0, 0, 0
			}
			if tx1 >= claheTilesX {
				tx0, tx1, wx = claheTilesX-1, claheTilesX-1, 0
			}

			v := lchan[y*w+x]
			m00 := float64(maps[ty0*claheTilesX+tx0][v])
			m01 := float64(maps[ty0*claheTilesX+tx1][v])
			m10 := float64(maps[ty1*claheTilesX+tx0][v])
			m11 := float64(maps[ty1*claheTilesX+tx1][v])
			top := m00*(1-wx) + m01*wx
			bot := m10*(1-wx) + m11*wx
			lchan[y*w+x] = uint8(clampF(top*(1-wy)+bot*wy, 0, 255))
		}
	}

	// Back to RGB.
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := y*w + x
			r, g, bb := labToRGB(float64(lchan[i])*100/255, achan[i], bchan[i])
			o := img.PixOffset(b.Min.X+x, b.Min.Y+y)
			img.Pix[o] = r
			img.Pix[o+1] = g
			img.Pix[o+2] = bb
		}
	}
}

// sRGB <-> CIELAB under D65.

func rgbToLab(r8, g8, b8 uint8) (l, a, b float64) {
	// Linearise.
	lin := func(c uint8) float64 {
		v := float64(c) / 255
		if v <= 0.04045 {
			return v / 12.92
		}
		return math.Pow((v+0.055)/1.055, 2.4)
	}
	rl, gl, bl := lin(r8), lin(g8), lin(b8)

	x := 0.4124*rl + 0.3576*gl + 0.1805*bl
	y := 0.2126*rl + 0.7152*gl + 0.0722*bl
	z := 0.0193*rl + 0.1192*gl + 0.9505*bl

	// D65 white point.
	fx := labF(x / 0.95047)
	fy := labF(y / 1.0)
	fz := labF(z / 1.08883)

	return 116*fy - 16, 500 * (fx - fy), 200 * (fy - fz)
}

func labToRGB(l, a, b float64) (r8, g8, b8 uint8) {
	fy := (l + 16) / 116
	fx := fy + a/500
	fz := fy - b/200

	x := 0.95047 * labFInv(fx)
	y := 1.0 * labFInv(fy)
	z := 1.08883 * labFInv(fz)

	rl := 3.2406*x - 1.5372*y - 0.4986*z
	gl := -0.9689*x + 1.8758*y + 0.0415*z
	bl := 0.0557*x - 0.2040*y + 1.0570*z

	delin := func(v float64) uint8 {
		if v <= 0.0031308 {
			v = 12.92 * v
		} else {
			v = 1.055*math.Pow(v, 1/2.4) - 0.055
		}
		return uint8(clampF(v*255, 0, 255))
	}
	return delin(rl), delin(gl), delin(bl)
}

func labF(t float64) float64 {
	const delta = 6.0 / 29
	if t > delta*delta*delta {
		return math.Cbrt(t)
	}
	return t/(3*delta*delta) + 4.0/29
}

func labFInv(t float64) float64 {
	const delta = 6.0 / 29
	if t > delta {
		return t * t * t
	}
	return 3 * delta * delta * (t - 4.0/29)
}

func clampF(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
