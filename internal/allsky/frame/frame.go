// Package frame holds the raw sensor frame model and the integer pixel
// operations the pipeline is built on: bit-depth detection, the 8/16-bit
// shifts, region statistics and saturating subtraction.
package frame

import (
	"fmt"
	"math"
	"time"
)

// Bayer identifies the colour filter arrangement of the sensor, or None for
// mono sensors.
type Bayer int

const (
	BayerNone Bayer = iota
	BayerGRBG
	BayerRGGB
	BayerBGGR
	BayerGBRG
)

// ParseBayer maps the config/header spelling onto a Bayer value.
func ParseBayer(s string) (Bayer, error) {
	switch s {
	case "":
		return BayerNone, nil
	case "GRBG":
		return BayerGRBG, nil
	case "RGGB":
		return BayerRGGB, nil
	case "BGGR":
		return BayerBGGR, nil
	case "GBRG":
		return BayerGBRG, nil
	}
	return BayerNone, fmt.Errorf("unknown bayer pattern %q", s)
}

// String returns the FITS header spelling of the pattern.
func (b Bayer) String() string {
	switch b {
	case BayerGRBG:
		return "GRBG"
	case BayerRGGB:
		return "RGGB"
	case BayerBGGR:
		return "BGGR"
	case BayerGBRG:
		return "GBRG"
	}
	return ""
}

// Meta carries the capture metadata alongside a raw buffer.
type Meta struct {
	CapturedAt time.Time
	Exposure   float64 // seconds
	Gain       int
	Bin        int
	TempC      float64
	Bayer      Bayer
}

// Raw is a 2-D integer sample grid. 8-bit sources are widened to uint16 on
// decode; Bits records the storage width (8 or 16), not the detected depth.
type Raw struct {
	Pix    []uint16
	Width  int
	Height int
	Bits   int
	Meta   Meta
}

// NewRaw allocates a zeroed raw frame.
func NewRaw(width, height, bits int) *Raw {
	return &Raw{
		Pix:    make([]uint16, width*height),
		Width:  width,
		Height: height,
		Bits:   bits,
	}
}

// At returns the sample at (x, y). No bounds check; callers iterate within
// the frame.
func (r *Raw) At(x, y int) uint16 { return r.Pix[y*r.Width+x] }

// Set stores the sample at (x, y).
func (r *Raw) Set(x, y int, v uint16) { r.Pix[y*r.Width+x] = v }

// Clone returns a deep copy of the frame.
func (r *Raw) Clone() *Raw {
	out := &Raw{
		Pix:    make([]uint16, len(r.Pix)),
		Width:  r.Width,
		Height: r.Height,
		Bits:   r.Bits,
		Meta:   r.Meta,
	}
	copy(out.Pix, r.Pix)
	return out
}

// DetectBits scans for the maximum sample and classifies the frame into
// 8..16 bits, so a later 16->8 downshift preserves the stretch of sensors
// that deliver 10/12/14-bit data left-padded into 16-bit storage.
func (r *Raw) DetectBits() int {
	var max uint16
	for _, v := range r.Pix {
		if v > max {
			max = v
		}
	}
	bits := 8
	for max >= 1<<uint(bits) && bits < 16 {
		bits++
	}
	return bits
}

// Upshift widens a k-bit frame to 16-bit storage by the bit-depth-dependent
// left shift (8->16 shifts by 8, 9->16 by 7, ...). The receiver is modified.
func (r *Raw) Upshift(detectedBits int) {
	if detectedBits >= 16 {
		return
	}
	shift := uint(16 - detectedBits)
	for i, v := range r.Pix {
		r.Pix[i] = v << shift
	}
	r.Bits = 16
}

// Downshift8 reduces a frame with the given detected depth to 8 bits by
// integer division with 2^(detectedBits-8). The receiver is modified.
func (r *Raw) Downshift8(detectedBits int) {
	if detectedBits <= 8 {
		r.Bits = 8
		return
	}
	shift := uint(detectedBits - 8)
	for i, v := range r.Pix {
		r.Pix[i] = v >> shift
	}
	r.Bits = 8
}

// SubtractClamp subtracts dark from r with saturating arithmetic: samples
// never go negative. Frames must agree in geometry.
func (r *Raw) SubtractClamp(dark *Raw) error {
	if r.Width != dark.Width || r.Height != dark.Height {
		return fmt.Errorf("dark geometry %dx%d does not match frame %dx%d",
			dark.Width, dark.Height, r.Width, r.Height)
	}
	for i, v := range r.Pix {
		d := dark.Pix[i]
		if v > d {
			r.Pix[i] = v - d
		} else {
			r.Pix[i] = 0
		}
	}
	return nil
}

// Mean returns the average sample value of the whole frame.
func (r *Raw) Mean() float64 {
	if len(r.Pix) == 0 {
		return 0
	}
	var sum uint64
	for _, v := range r.Pix {
		sum += uint64(v)
	}
	return float64(sum) / float64(len(r.Pix))
}

// MeanRegion returns the average sample over the rectangle [x1,x2)x[y1,y2),
// clipped to the frame. Returns the whole-frame mean for a degenerate region.
func (r *Raw) MeanRegion(x1, y1, x2, y2 int) float64 {
	if x1 < 0 {
		x1 = 0
	}
	if y1 < 0 {
		y1 = 0
	}
	if x2 > r.Width {
		x2 = r.Width
	}
	if y2 > r.Height {
		y2 = r.Height
	}
	if x2 <= x1 || y2 <= y1 {
		return r.Mean()
	}
	var sum uint64
	for y := y1; y < y2; y++ {
		row := r.Pix[y*r.Width : (y+1)*r.Width]
		for x := x1; x < x2; x++ {
			sum += uint64(row[x])
		}
	}
	return float64(sum) / float64((x2-x1)*(y2-y1))
}

// CentreThird returns the centred 1/3 x 1/3 measurement region used when no
// ADU ROI is configured.
func (r *Raw) CentreThird() (x1, y1, x2, y2 int) {
	x1 = r.Width / 3
	y1 = r.Height / 3
	return x1, y1, x1 + r.Width/3, y1 + r.Height/3
}

// MaxValue returns the saturation level for the given bit depth.
func MaxValue(bits int) uint16 {
	if bits >= 16 {
		return math.MaxUint16
	}
	return uint16(1<<uint(bits)) - 1
}
