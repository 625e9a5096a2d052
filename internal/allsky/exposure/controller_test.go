package exposure

import (
	"math"
	"testing"
)

// linearSky models a sky where measured ADU is proportional to exposure.
func linearSky(aduPerSecond float64) func(exp float64) float64 {
	return func(exp float64) float64 { return aduPerSecond * exp }
}

func TestSearchConvergesOnTarget(t *testing.T) {
	c := New(75, 10, 0.000032, 15, 1.0)
	sky := linearSky(20) // 75 ADU wants 3.75s

	exp := c.Exposure()
	for i := 0; i < 50 && !c.Stable(); i++ {
		exp = c.Update(sky(exp), exp)
	}

	if !c.Stable() {
		t.Fatalf("controller never reached the band, exposure=%f", exp)
	}
	adu := sky(c.Exposure())
	if adu < 65 || adu > 85 {
		t.Errorf("converged ADU %f outside band [65, 85]", adu)
	}
}

func TestSearchStepFormula(t *testing.T) {
	c := New(100, 5, 0.000032, 15, 2.0)

	// ADU 50 at 2s: next = 2 - (2 - 2*100/50)*1 = 4
	next := c.Update(50, 2.0)
	if math.Abs(next-4.0) > 1e-9 {
		t.Errorf("expected next exposure 4.0, got %f", next)
	}
}

func TestSearchBlackFrameDrivesExposureUp(t *testing.T) {
	c := New(75, 10, 0.000032, 15, 0.5)

	next := c.Update(0, 0.5)
	if next <= 0.5 {
		t.Errorf("black frame should increase exposure, got %f", next)
	}
}

func TestTrackerHoldsThenReentersSearch(t *testing.T) {
	c := New(75, 10, 0.000032, 15, 1.0)

	// Land inside the band: Track is adopted at this ADU.
	c.Update(75, 1.0)
	if !c.Stable() {
		t.Fatal("expected Track state after in-band sample")
	}
	if got := c.CurrentTarget(); got != 75 {
		t.Errorf("adopted target = %f, want 75", got)
	}

	// Five outliers are not enough: the window is six samples.
	for i := 0; i < 5; i++ {
		c.Update(120, 1.0)
	}
	if !c.Stable() {
		t.Error("tracker dropped to Search before the window was full")
	}

	// The sixth pushes the window mean out of the band.
	c.Update(120, 1.0)
	if c.Stable() {
		t.Error("tracker should have re-entered Search")
	}
}

func TestTrackerToleratesTransients(t *testing.T) {
	c := New(75, 10, 0.000032, 15, 1.0)
	c.Update(75, 1.0)

	// A single spike averaged with in-band samples stays inside the window.
	samples := []float64{75, 95, 75, 74, 76, 75}
	for _, adu := range samples {
		c.Update(adu, 1.0)
	}
	if !c.Stable() {
		t.Error("tracker should hold through a one-frame transient")
	}
}

func TestSubMillisecondWidensBand(t *testing.T) {
	c := New(75, 10, 0.000032, 15, 0.0005)

	// ADU 94 is outside target±10 but inside target±20, which applies below
	// one millisecond.
	c.Update(94, 0.0005)
	if !c.Stable() {
		t.Error("expected Track state with the doubled deviation band")
	}
}

func TestSubMillisecondHalvesStep(t *testing.T) {
	c := New(75, 20, 0.000032, 15, 0.0005)

	// ADU 150 at 0.0005s: full step would be 0.0005*75/150 = 0.00025;
	// half step lands midway at 0.000375.
	next := c.Update(150, 0.0005)
	if math.Abs(next-0.000375) > 1e-9 {
		t.Errorf("expected half-scale step to 0.000375, got %f", next)
	}
}

func TestExposureClampedToLimits(t *testing.T) {
	c := New(75, 10, 0.001, 15, 1.0)

	// Massive overexposure wants a tiny next exposure; the floor holds.
	next := c.Update(10000, 0.001)
	if next < 0.001 {
		t.Errorf("exposure %f below configured minimum", next)
	}

	c2 := New(75, 10, 0.000032, 15, 15)
	next = c2.Update(1, 15)
	if next > 15 {
		t.Errorf("exposure %f above configured maximum", next)
	}
}

func TestResetReturnsToSearch(t *testing.T) {
	c := New(75, 10, 0.000032, 15, 1.0)
	c.Update(75, 1.0)
	if !c.Stable() {
		t.Fatal("expected Track state")
	}

	c.Reset()
	if c.Stable() {
		t.Error("Reset should return to Search")
	}
	if _, full := c.HistoryMean(); full {
		t.Error("Reset should clear the tracker window")
	}
}
