// Package exposure implements the closed-loop exposure controller: a searcher
// that converges the next exposure onto a target mean brightness, and a
// tracker that holds the exposure steady through short-term fluctuations.
package exposure

import (
	"sync"

	"github.com/banshee-data/allsky.report/internal/monitoring"
)

// historySize is the tracker window: exposure only moves again once this many
// consecutive ADU samples average outside the adopted band.
const historySize = 6

// subMillisecond is the exposure below which the searcher halves its step and
// the deviation band doubles, preventing flapping at daylight saturation.
const subMillisecond = 0.001

// Controller keeps the measured ADU inside [target-dev, target+dev].
// It is written by the image worker after each frame and read by the
// acquisition loop at the top of each iteration, so all state is mutex
// guarded.
type Controller struct {
	mu sync.Mutex

	targetADU float64
	dev       float64
	expMin    float64
	expMax    float64

	// Search/track state. currentTarget is the ADU adopted when the band
	// was first reached; targetFound selects between the two regimes.
	currentTarget float64
	targetFound   bool
	history       []float64

	exposure float64 // next exposure, seconds
}

// New creates a controller with the configured band and exposure clamp,
// starting in Search state at the given initial exposure.
func New(targetADU, dev, expMin, expMax, initial float64) *Controller {
	return &Controller{
		targetADU: targetADU,
		dev:       dev,
		expMin:    expMin,
		expMax:    expMax,
		exposure:  clamp(initial, expMin, expMax),
	}
}

// Exposure returns the exposure the acquisition loop should command next.
func (c *Controller) Exposure() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exposure
}

// Stable reports whether the controller is in Track state.
func (c *Controller) Stable() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.targetFound
}

// CurrentTarget returns the adopted ADU target (the configured target until
// the band is first reached).
func (c *Controller) CurrentTarget() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.targetFound {
		return c.currentTarget
	}
	return c.targetADU
}

// HistoryMean returns the mean of the tracker window and whether it is full.
func (c *Controller) HistoryMean() (float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.historyMeanLocked()
}

func (c *Controller) historyMeanLocked() (float64, bool) {
	if len(c.history) < historySize {
		return 0, false
	}
	var sum float64
	for _, v := range c.history {
		sum += v
	}
	return sum / float64(len(c.history)), true
}

// Reset returns the controller to Search state. Called on regime transitions
// after the camera's gain/bin are reprogrammed.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.targetFound = false
	c.currentTarget = 0
	c.history = nil
}

// Update feeds the measured ADU for the frame captured at exposure seconds
// and returns the exposure for the next frame.
//
// Search: if ADU is inside the band, adopt it as the current target, switch
// to Track and keep the prevailing exposure. Otherwise step the exposure by
// exp - (exp - exp*target/adu)*scale, scale 0.5 below one millisecond.
//
// Track: append to the six-sample ring; once full, a window mean outside
// currentTarget±dev drops back to Search. Exposure is unchanged while
// tracking.
func (c *Controller) Update(adu, exp float64) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	dev := c.dev
	if exp < subMillisecond {
		dev *= 2
	}

	if !c.targetFound {
		if adu >= c.targetADU-dev && adu <= c.targetADU+dev {
			c.currentTarget = adu
			c.targetFound = true
			c.history = c.history[:0]
			monitoring.Logf("exposure: target found, adu=%.1f exposure=%.6fs", adu, exp)
			c.exposure = clamp(exp, c.expMin, c.expMax)
			return c.exposure
		}

		if adu <= 0 {
			adu = 0.1 // fully black frame: drive exposure hard upward
		}
		scale := 1.0
		if exp < subMillisecond {
			scale = 0.5
		}
		next := exp - (exp-exp*(c.targetADU/adu))*scale
		c.exposure = clamp(next, c.expMin, c.expMax)
		return c.exposure
	}

	c.history = append(c.history, adu)
	if len(c.history) > historySize {
		c.history = c.history[len(c.history)-historySize:]
	}
	if mean, full := c.historyMeanLocked(); full {
		if mean < c.currentTarget-dev || mean > c.currentTarget+dev {
			monitoring.Logf("exposure: mean adu %.1f left band %.1f±%.1f, re-entering search",
				mean, c.currentTarget, dev)
			c.targetFound = false
			c.currentTarget = 0
			c.history = nil
		}
	}
	c.exposure = clamp(exp, c.expMin, c.expMax)
	return c.exposure
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
