package pipeline

import (
	"fmt"
	"image"
	"image/color"
	"strings"
	"time"

	"golang.org/x/image/font"
	"golang.org/x/image/font/inconsolata"
	"golang.org/x/image/math/fixed"

	"github.com/banshee-data/allsky.report/internal/allsky/ephem"
	"github.com/banshee-data/allsky.report/internal/fsutil"
	"github.com/banshee-data/allsky.report/internal/monitoring"
)

// Label layout: fixed position, one line per row, with a one-pixel shadow so
// text stays readable on bright skies.
const (
	labelX      = 15
	labelY      = 30
	labelLeadPx = 20
)

// LabelInfo is the per-frame data drawn onto finished frames.
type LabelInfo struct {
	Timestamp    time.Time
	Exposure     float64
	Gain         int
	TempC        float64
	MoonFraction float64 // percent
	MoonWaxing   bool
	MoonOK       bool
}

// drawLabel renders the standard label block plus any extra-text file lines.
func drawLabel(img *image.RGBA, info LabelInfo, extraTextFile string, fs fsutil.FileSystem) {
	lines := []string{
		info.Timestamp.Format("2006-01-02 15:04:05"),
		formatExposure(info.Exposure),
		fmt.Sprintf("Gain %d", info.Gain),
		fmt.Sprintf("Temp %.1fC", info.TempC),
	}
	if info.MoonOK {
		lines = append(lines, fmt.Sprintf("%s %.0f%%",
			ephem.MoonPhaseName(info.MoonFraction, info.MoonWaxing), info.MoonFraction))
	}

	if extraTextFile != "" {
		data, err := fs.ReadFile(extraTextFile)
		if err != nil {
			monitoring.Logf("label: cannot read extra text %s: %v", extraTextFile, err)
		} else {
			for _, l := range strings.Split(strings.TrimRight(string(data), "\n"), "\n") {
				lines = append(lines, l)
			}
		}
	}

	for i, line := range lines {
		drawText(img, labelX, labelY+i*labelLeadPx, line)
	}
}

func formatExposure(sec float64) string {
	if sec < 1 {
		return fmt.Sprintf("Exposure %.0fms", sec*1000)
	}
	return fmt.Sprintf("Exposure %.1fs", sec)
}

// drawText renders one line with a black drop shadow.
func drawText(img *image.RGBA, x, y int, s string) {
	drawString(img, x+1, y+1, s, color.RGBA{A: 0xff})
	drawString(img, x, y, s, color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff})
}

func drawString(img *image.RGBA, x, y int, s string, c color.Color) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: inconsolata.Regular8x16,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(s)
}
