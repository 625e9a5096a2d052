package pipeline

import (
	"image"

	xdraw "golang.org/x/image/draw"
)

// autoWhiteBalance equalises the per-channel means onto their common average.
// Channels with a near-zero mean are left alone to avoid amplifying noise in
// black frames.
func autoWhiteBalance(img *image.RGBA) {
	b := img.Bounds()
	n := float64(b.Dx() * b.Dy())
	if n == 0 {
		return
	}

	var sumR, sumG, sumB float64
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			o := img.PixOffset(x, y)
			sumR += float64(img.Pix[o])
			sumG += float64(img.Pix[o+1])
			sumB += float64(img.Pix[o+2])
		}
	}
	meanR, meanG, meanB := sumR/n, sumG/n, sumB/n
	target := (meanR + meanG + meanB) / 3

	gain := func(mean float64) float64 {
		if mean < 1 {
			return 1
		}
		return target / mean
	}
	applyGains(img, gain(meanB), gain(meanG), gain(meanR))
}

// applyGains multiplies the B, G, R channels by the given factors, clamped.
func applyGains(img *image.RGBA, gb, gg, gr float64) {
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			o := img.PixOffset(x, y)
			img.Pix[o] = uint8(clampF(float64(img.Pix[o])*gr, 0, 255))
			img.Pix[o+1] = uint8(clampF(float64(img.Pix[o+1])*gg, 0, 255))
			img.Pix[o+2] = uint8(clampF(float64(img.Pix[o+2])*gb, 0, 255))
		}
	}
}

// crop returns the sub-image [x,y,w,h] clipped to bounds, copied so later
// stages own their pixels.
func crop(img *image.RGBA, x, y, w, h int) *image.RGBA {
	r := image.Rect(x, y, x+w, y+h).Intersect(img.Bounds())
	if r.Empty() {
		return img
	}
	out := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	xdraw.Draw(out, out.Bounds(), img, r.Min, xdraw.Src)
	return out
}

// flip mirrors the image vertically and/or horizontally in place.
func flip(img *image.RGBA, vertical, horizontal bool) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if vertical {
		for y := 0; y < h/2; y++ {
			for x := 0; x < w; x++ {
				swapPix(img, b.Min.X+x, b.Min.Y+y, b.Min.X+x, b.Min.Y+h-1-y)
			}
		}
	}
	if horizontal {
		for y := 0; y < h; y++ {
			for x := 0; x < w/2; x++ {
				swapPix(img, b.Min.X+x, b.Min.Y+y, b.Min.X+w-1-x, b.Min.Y+y)
			}
		}
	}
}

func swapPix(img *image.RGBA, x1, y1, x2, y2 int) {
	o1 := img.PixOffset(x1, y1)
	o2 := img.PixOffset(x2, y2)
	for i := 0; i < 4; i++ {
		img.Pix[o1+i], img.Pix[o2+i] = img.Pix[o2+i], img.Pix[o1+i]
	}
}

// scalePercent resamples the image to pct percent of its size using
// Catmull-Rom. 100 returns the input untouched.
func scalePercent(img *image.RGBA, pct int) *image.RGBA {
	if pct <= 0 || pct == 100 {
		return img
	}
	b := img.Bounds()
	w := b.Dx() * pct / 100
	h := b.Dy() * pct / 100
	if w < 1 || h < 1 {
		return img
	}
	out := image.NewRGBA(image.Rect(0, 0, w, h))
	xdraw.CatmullRom.Scale(out, out.Bounds(), img, b, xdraw.Src, nil)
	return out
}
