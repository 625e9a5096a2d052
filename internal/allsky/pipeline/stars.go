package pipeline

import "image"

// Star blob size bounds in pixels. Anything larger than maxBlob is a cloud
// edge, the moon, or a light; anything smaller than minBlob is shot noise.
const (
	minBlob = 2
	maxBlob = 60
)

// countStars thresholds the luminance of img and counts connected bright
// blobs within the size bounds. It is a candidate count, not photometry.
func countStars(img *image.RGBA, threshold int) int {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return 0
	}

	mask := make([]bool, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			o := img.PixOffset(b.Min.X+x, b.Min.Y+y)
			lum := (299*int(img.Pix[o]) + 587*int(img.Pix[o+1]) + 114*int(img.Pix[o+2])) / 1000
			mask[y*w+x] = lum >= threshold
		}
	}

	visited := make([]bool, w*h)
	stack := make([]int, 0, 256)
	count := 0

	for start := range mask {
		if !mask[start] || visited[start] {
			continue
		}
		// Flood fill the 4-connected component.
		size := 0
		stack = append(stack[:0], start)
		visited[start] = true
		for len(stack) > 0 {
			i := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			size++

			x, y := i%w, i/w
			neighbours := [4][2]int{{x - 1, y}, {x + 1, y}, {x, y - 1}, {x, y + 1}}
			for _, p := range neighbours {
				if p[0] < 0 || p[0] >= w || p[1] < 0 || p[1] >= h {
					continue
				}
				n := p[1]*w + p[0]
				if visited[n] || !mask[n] {
					continue
				}
				visited[n] = true
				stack = append(stack, n)
			}
		}
		if size >= minBlob && size <= maxBlob {
			count++
		}
	}
	return count
}
