package darks

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/allsky.report/internal/allsky/frame"
)

// sigmaClipK is the rejection threshold in MAD-derived sigmas.
const sigmaClipK = 5.0

// madToSigma converts a median absolute deviation to a normal-equivalent
// standard deviation.
const madToSigma = 1.4826

// maxClipIters bounds the iterative rejection; the stack converges in two or
// three passes in practice.
const maxClipIters = 5

// Average reduces a stack of same-geometry frames to a master by per-pixel
// mean, ceiled and cast back to the native integer width.
func Average(stack []*frame.Raw) *frame.Raw {
	out := masterTemplate(stack)
	n := float64(len(stack))
	for i := range out.Pix {
		var sum float64
		for _, f := range stack {
			sum += float64(f.Pix[i])
		}
		out.Pix[i] = clampU16(math.Ceil(sum / n))
	}
	return out
}

// SigmaClip reduces a stack by iteratively rejecting samples more than
// sigmaClipK MAD-sigmas from the median, then averaging the survivors. Pixels
// where rejection eliminates everything fall back to the plain median.
func SigmaClip(stack []*frame.Raw) *frame.Raw {
	out := masterTemplate(stack)
	samples := make([]float64, len(stack))
	scratch := make([]float64, 0, len(stack))

	for i := range out.Pix {
		for j, f := range stack {
			samples[j] = float64(f.Pix[i])
		}
		out.Pix[i] = clampU16(math.Ceil(clipMean(samples, scratch)))
	}
	return out
}

// clipMean runs the rejection loop over one pixel's samples.
func clipMean(samples, scratch []float64) float64 {
	survivors := append(scratch[:0], samples...)
	for iter := 0; iter < maxClipIters; iter++ {
		med, sigma := medianMAD(survivors)
		if sigma == 0 {
			break
		}
		kept := survivors[:0]
		for _, v := range survivors {
			if math.Abs(v-med) <= sigmaClipK*sigma {
				kept = append(kept, v)
			}
		}
		if len(kept) == len(survivors) {
			break
		}
		if len(kept) == 0 {
			return med
		}
		survivors = kept
	}
	return stat.Mean(survivors, nil)
}

// medianMAD returns the median and the MAD-derived sigma of values. The
// input slice is sorted in place.
func medianMAD(values []float64) (median, sigma float64) {
	sort.Float64s(values)
	median = stat.Quantile(0.5, stat.Empirical, values, nil)

	devs := make([]float64, len(values))
	for i, v := range values {
		devs[i] = math.Abs(v - median)
	}
	sort.Float64s(devs)
	mad := stat.Quantile(0.5, stat.Empirical, devs, nil)
	return median, mad * madToSigma
}

func masterTemplate(stack []*frame.Raw) *frame.Raw {
	first := stack[0]
	out := frame.NewRaw(first.Width, first.Height, first.Bits)
	out.Meta = first.Meta
	return out
}

func clampU16(v float64) uint16 {
	if v < 0 {
		return 0
	}
	if v > math.MaxUint16 {
		return math.MaxUint16
	}
	return uint16(v)
}
