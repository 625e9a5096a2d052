package frame

import (
	"testing"
)

func TestParseBayerRoundTrip(t *testing.T) {
	for _, s := range []string{"", "GRBG", "RGGB", "BGGR", "GBRG"} {
		b, err := ParseBayer(s)
		if err != nil {
			t.Fatalf("ParseBayer(%q): %v", s, err)
		}
		if got := b.String(); got != s {
			t.Errorf("Bayer(%q).String() = %q", s, got)
		}
	}
	if _, err := ParseBayer("XYZW"); err == nil {
		t.Error("expected error for unknown pattern")
	}
}

func TestDetectBits(t *testing.T) {
	cases := []struct {
		max  uint16
		want int
	}{
		{0, 8},
		{255, 8},
		{256, 9},
		{1023, 10},
		{4095, 12},
		{16383, 14},
		{65535, 16},
	}
	for _, c := range cases {
		r := NewRaw(4, 4, 16)
		r.Pix[5] = c.max
		if got := r.DetectBits(); got != c.want {
			t.Errorf("DetectBits with max %d = %d, want %d", c.max, got, c.want)
		}
	}
}

func TestUpshiftThenDownshiftMatchesDirect(t *testing.T) {
	// A 12-bit sample shifted up to 16 and back down to 8 must land on the
	// same value as the direct 12->8 shift.
	for _, v := range []uint16{0, 1, 100, 2048, 4095} {
		direct := NewRaw(1, 1, 16)
		direct.Pix[0] = v
		direct.Downshift8(12)

		via16 := NewRaw(1, 1, 16)
		via16.Pix[0] = v
		via16.Upshift(12)
		via16.Downshift8(16)

		if direct.Pix[0] != via16.Pix[0] {
			t.Errorf("sample %d: direct %d != via16 %d", v, direct.Pix[0], via16.Pix[0])
		}
	}
}

func TestUpshiftWidth(t *testing.T) {
	r := NewRaw(1, 1, 16)
	r.Pix[0] = 0x0FFF // 12-bit full scale
	r.Upshift(12)
	if r.Pix[0] != 0xFFF0 {
		t.Errorf("Upshift(12) = %#04x, want 0xfff0", r.Pix[0])
	}
	if r.Bits != 16 {
		t.Errorf("Bits = %d, want 16", r.Bits)
	}
}

func TestSubtractClampSaturates(t *testing.T) {
	live := NewRaw(2, 2, 16)
	dark := NewRaw(2, 2, 16)
	live.Pix = []uint16{100, 50, 30, 0}
	dark.Pix = []uint16{40, 60, 30, 10}

	if err := live.SubtractClamp(dark); err != nil {
		t.Fatal(err)
	}
	want := []uint16{60, 0, 0, 0}
	for i, v := range want {
		if live.Pix[i] != v {
			t.Errorf("pix[%d] = %d, want %d", i, live.Pix[i], v)
		}
	}
}

func TestSubtractClampGeometryMismatch(t *testing.T) {
	live := NewRaw(4, 4, 16)
	dark := NewRaw(2, 2, 16)
	if err := live.SubtractClamp(dark); err == nil {
		t.Error("expected geometry error")
	}
}

func TestMeanRegion(t *testing.T) {
	r := NewRaw(6, 6, 16)
	for i := range r.Pix {
		r.Pix[i] = 10
	}
	// Brighten the centre third.
	x1, y1, x2, y2 := r.CentreThird()
	for y := y1; y < y2; y++ {
		for x := x1; x < x2; x++ {
			r.Set(x, y, 100)
		}
	}

	if got := r.MeanRegion(x1, y1, x2, y2); got != 100 {
		t.Errorf("centre region mean = %f, want 100", got)
	}
	if got := r.Mean(); got >= 100 || got <= 10 {
		t.Errorf("whole-frame mean = %f, want between 10 and 100", got)
	}

	// A degenerate region falls back to the whole frame.
	if got := r.MeanRegion(3, 3, 3, 3); got != r.Mean() {
		t.Errorf("degenerate region mean = %f, want whole-frame %f", got, r.Mean())
	}
}

func TestCentreThird(t *testing.T) {
	r := NewRaw(300, 90, 16)
	x1, y1, x2, y2 := r.CentreThird()
	if x1 != 100 || x2 != 200 || y1 != 30 || y2 != 60 {
		t.Errorf("CentreThird = (%d,%d)-(%d,%d)", x1, y1, x2, y2)
	}
}

func TestMaxValue(t *testing.T) {
	if got := MaxValue(8); got != 255 {
		t.Errorf("MaxValue(8) = %d", got)
	}
	if got := MaxValue(12); got != 4095 {
		t.Errorf("MaxValue(12) = %d", got)
	}
	if got := MaxValue(16); got != 65535 {
		t.Errorf("MaxValue(16) = %d", got)
	}
}
