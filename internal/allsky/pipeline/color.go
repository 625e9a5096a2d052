package pipeline

import (
	"image"
	"image/color"

	"github.com/banshee-data/allsky.report/internal/allsky/frame"
)

// Color is a planar 16-bit BGR image, the working representation between
// debayer and the 8-bit downshift.
type Color struct {
	B, G, R []uint16
	Width   int
	Height  int
}

// NewColor allocates a zeroed colour image.
func NewColor(width, height int) *Color {
	n := width * height
	return &Color{
		B:     make([]uint16, n),
		G:     make([]uint16, n),
		R:     make([]uint16, n),
		Width: width, Height: height,
	}
}

// MonoColor expands a mono frame into three identical planes, the grayscale
// path used when no Bayer pattern is configured or the regime selects mono.
func MonoColor(r *frame.Raw) *Color {
	c := &Color{
		B: make([]uint16, len(r.Pix)),
		G: make([]uint16, len(r.Pix)),
		R: r.Pix, Width: r.Width, Height: r.Height,
	}
	copy(c.B, r.Pix)
	copy(c.G, r.Pix)
	return c
}

// Debayer interpolates the mosaic into full BGR planes. Bilinear: each
// missing colour at a site is the mean of its available neighbours of that
// colour. Edges clamp.
func Debayer(r *frame.Raw, pattern frame.Bayer) *Color {
	if pattern == frame.BayerNone {
		return MonoColor(r)
	}
	out := NewColor(r.Width, r.Height)

	at := func(x, y int) uint32 {
		if x < 0 {
			x = 0
		}
		if x >= r.Width {
			x = r.Width - 1
		}
		if y < 0 {
			y = 0
		}
		if y >= r.Height {
			y = r.Height - 1
		}
		return uint32(r.Pix[y*r.Width+x])
	}
	cross := func(x, y int) uint16 {
		return uint16((at(x-1, y) + at(x+1, y) + at(x, y-1) + at(x, y+1)) / 4)
	}
	diag := func(x, y int) uint16 {
		return uint16((at(x-1, y-1) + at(x+1, y-1) + at(x-1, y+1) + at(x+1, y+1)) / 4)
	}
	horiz := func(x, y int) uint16 { return uint16((at(x-1, y) + at(x+1, y)) / 2) }
	vert := func(x, y int) uint16 { return uint16((at(x, y-1) + at(x, y+1)) / 2) }

	// filterAt returns which filter covers (x, y) for the pattern:
	// 'R', 'G' or 'B'.
	filterAt := func(x, y int) byte {
		// Pattern strings name the 2x2 tile row-major.
		var tile string
		switch pattern {
		case frame.BayerGRBG:
			tile = "GRBG"
		case frame.BayerRGGB:
			tile = "RGGB"
		case frame.BayerBGGR:
			tile = "BGGR"
		case frame.BayerGBRG:
			tile = "GBRG"
		}
		return tile[(y%2)*2+(x%2)]
	}

	for y := 0; y < r.Height; y++ {
		for x := 0; x < r.Width; x++ {
			i := y*r.Width + x
			v := uint16(at(x, y))
			switch filterAt(x, y) {
			case 'R':
				out.R[i] = v
				out.G[i] = cross(x, y)
				out.B[i] = diag(x, y)
			case 'B':
				out.B[i] = v
				out.G[i] = cross(x, y)
				out.R[i] = diag(x, y)
			case 'G':
				out.G[i] = v
				// Green sites: the row neighbours share one colour, the
				// column neighbours the other. Which is which depends on
				// the row's other filter.
				rowIsRed := filterAt(x+1, y) == 'R' || filterAt(x-1, y) == 'R'
				if rowIsRed {
					out.R[i] = horiz(x, y)
					out.B[i] = vert(x, y)
				} else {
					out.B[i] = horiz(x, y)
					out.R[i] = vert(x, y)
				}
			}
		}
	}
	return out
}

// ToRGBA downshifts the planes to 8 bits for the given detected depth and
// packs them into an image.RGBA for the finishing stages.
func (c *Color) ToRGBA(detectedBits int) *image.RGBA {
	shift := uint(0)
	if detectedBits > 8 {
		shift = uint(detectedBits - 8)
	}
	img := image.NewRGBA(image.Rect(0, 0, c.Width, c.Height))
	for i := 0; i < c.Width*c.Height; i++ {
		img.Pix[i*4+0] = uint8(c.R[i] >> shift)
		img.Pix[i*4+1] = uint8(c.G[i] >> shift)
		img.Pix[i*4+2] = uint8(c.B[i] >> shift)
		img.Pix[i*4+3] = 0xff
	}
	return img
}

// ToRGBA64 upshifts the planes from detectedBits to full 16-bit storage, the
// pre-downscale export format.
func (c *Color) ToRGBA64(detectedBits int) *image.RGBA64 {
	shift := uint(0)
	if detectedBits < 16 {
		shift = uint(16 - detectedBits)
	}
	img := image.NewRGBA64(image.Rect(0, 0, c.Width, c.Height))
	for y := 0; y < c.Height; y++ {
		for x := 0; x < c.Width; x++ {
			i := y*c.Width + x
			img.SetRGBA64(x, y, color.RGBA64{
				R: c.R[i] << shift,
				G: c.G[i] << shift,
				B: c.B[i] << shift,
				A: 0xffff,
			})
		}
	}
	return img
}

// luminance returns the 8-bit mean luminance (Rec.601) of the rectangle
// [x1,x2)x[y1,y2) of img, clipped to bounds.
func luminance(img *image.RGBA, x1, y1, x2, y2 int) float64 {
	b := img.Bounds()
	if x1 < b.Min.X {
		x1 = b.Min.X
	}
	if y1 < b.Min.Y {
		y1 = b.Min.Y
	}
	if x2 > b.Max.X {
		x2 = b.Max.X
	}
	if y2 > b.Max.Y {
		y2 = b.Max.Y
	}
	if x2 <= x1 || y2 <= y1 {
		return 0
	}
	var sum float64
	for y := y1; y < y2; y++ {
		for x := x1; x < x2; x++ {
			o := img.PixOffset(x, y)
			r := float64(img.Pix[o])
			g := float64(img.Pix[o+1])
			bb := float64(img.Pix[o+2])
			sum += 0.299*r + 0.587*g + 0.114*bb
		}
	}
	return sum / float64((x2-x1)*(y2-y1))
}
