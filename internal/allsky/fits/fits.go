// Package fits reads and writes the FITS files the core exchanges with
// itself: spooled raw frames between the acquisition loop and the image
// worker, master darks, and optional raw archival copies.
//
// Samples are stored per the unsigned 16-bit convention: BITPIX 16 with
// BZERO 32768, so files open correctly in standard astronomy tooling.
package fits

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/astrogo/fitsio"

	"github.com/banshee-data/allsky.report/internal/allsky/frame"
)

const bzero = 32768

// WriteRaw writes a raw frame to path with its capture metadata in the
// primary HDU header. imageType is the IMAGETYP card, e.g. "Light Frame" or
// "Dark Frame".
func WriteRaw(path string, r *frame.Raw, imageType string) error {
	w, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer w.Close()

	if err := EncodeRaw(w, r, imageType); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

// EncodeRaw writes a raw frame as a FITS stream.
func EncodeRaw(w io.Writer, r *frame.Raw, imageType string) error {
	f, err := fitsio.Create(w)
	if err != nil {
		return fmt.Errorf("create fits: %w", err)
	}
	defer f.Close()

	img := fitsio.NewImage(16, []int{r.Width, r.Height})
	defer img.Close()

	cards := []fitsio.Card{
		{Name: "BZERO", Value: bzero, Comment: "offset for unsigned 16-bit"},
		{Name: "BSCALE", Value: 1, Comment: ""},
		{Name: "IMAGETYP", Value: imageType, Comment: ""},
		{Name: "EXPTIME", Value: r.Meta.Exposure, Comment: "exposure (s)"},
		{Name: "GAIN", Value: r.Meta.Gain, Comment: "sensor gain"},
		{Name: "XBINNING", Value: r.Meta.Bin, Comment: ""},
		{Name: "YBINNING", Value: r.Meta.Bin, Comment: ""},
		{Name: "CCD-TEMP", Value: r.Meta.TempC, Comment: "sensor temperature (C)"},
		{Name: "BITDEPTH", Value: r.Bits, Comment: "native sample width"},
		{Name: "DATE-OBS", Value: r.Meta.CapturedAt.UTC().Format(time.RFC3339), Comment: ""},
	}
	if pat := r.Meta.Bayer.String(); pat != "" {
		cards = append(cards, fitsio.Card{Name: "BAYERPAT", Value: pat, Comment: "bayer pattern"})
	}
	if err := img.Header().Append(cards...); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	data := make([]int16, len(r.Pix))
	for i, v := range r.Pix {
		data[i] = int16(int(v) - bzero)
	}
	if err := img.Write(&data); err != nil {
		return fmt.Errorf("write data: %w", err)
	}
	if err := f.Write(img); err != nil {
		return fmt.Errorf("write hdu: %w", err)
	}
	return nil
}

// ReadRaw reads a frame previously written by WriteRaw (or any BITPIX 16
// file following the BZERO convention).
func ReadRaw(path string) (*frame.Raw, error) {
	rd, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer rd.Close()

	r, err := DecodeRaw(rd)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return r, nil
}

// DecodeRaw decodes a frame from an in-flight FITS stream, e.g. a camera
// driver BLOB.
func DecodeRaw(rd io.Reader) (*frame.Raw, error) {
	f, err := fitsio.Open(rd)
	if err != nil {
		return nil, fmt.Errorf("open fits: %w", err)
	}
	defer f.Close()

	hdu := f.HDU(0)
	img, ok := hdu.(fitsio.Image)
	if !ok {
		return nil, fmt.Errorf("primary HDU is not an image")
	}
	hdr := img.Header()
	axes := hdr.Axes()
	if len(axes) != 2 || axes[0] <= 0 || axes[1] <= 0 {
		return nil, fmt.Errorf("unexpected axes %v", axes)
	}

	data := make([]int16, axes[0]*axes[1])
	if err := img.Read(&data); err != nil {
		return nil, fmt.Errorf("read data: %w", err)
	}

	r := frame.NewRaw(axes[0], axes[1], 16)
	for i, v := range data {
		r.Pix[i] = uint16(int(v) + bzero)
	}

	// BITDEPTH is informational; the storage width stays 16 and callers
	// re-derive the native depth with DetectBits.
	if c := hdr.Get("EXPTIME"); c != nil {
		if v, ok := toFloat(c.Value); ok {
			r.Meta.Exposure = v
		}
	}
	if c := hdr.Get("GAIN"); c != nil {
		if v, ok := toInt(c.Value); ok {
			r.Meta.Gain = v
		}
	}
	if c := hdr.Get("XBINNING"); c != nil {
		if v, ok := toInt(c.Value); ok {
			r.Meta.Bin = v
		}
	}
	if c := hdr.Get("CCD-TEMP"); c != nil {
		if v, ok := toFloat(c.Value); ok {
			r.Meta.TempC = v
		}
	}
	if c := hdr.Get("BAYERPAT"); c != nil {
		if s, ok := c.Value.(string); ok {
			if b, err := frame.ParseBayer(s); err == nil {
				r.Meta.Bayer = b
			}
		}
	}
	if c := hdr.Get("DATE-OBS"); c != nil {
		if s, ok := c.Value.(string); ok {
			if ts, err := time.Parse(time.RFC3339, s); err == nil {
				r.Meta.CapturedAt = ts
			}
		}
	}
	return r, nil
}

func toFloat(v interface{}) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	}
	return 0, false
}

func toInt(v interface{}) (int, bool) {
	switch x := v.(type) {
	case int:
		return x, true
	case int64:
		return int(x), true
	case float64:
		return int(x), true
	}
	return 0, false
}
