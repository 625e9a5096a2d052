// Package indi defines the camera driver boundary. The driver is the only
// authority on raw bytes and sensor temperature; everything above it talks to
// the Client interface so tests and the dark generator can run against the
// mock without hardware.
package indi

import (
	"context"
	"errors"

	"github.com/banshee-data/allsky.report/internal/allsky/frame"
)

// ErrExposureTimeout is returned when the driver does not deliver a BLOB
// within the caller's deadline. The acquisition loop logs it and skips one
// cycle.
var ErrExposureTimeout = errors.New("indi: exposure timed out")

// ErrNoDevice is returned when no CCD device is available on the server.
var ErrNoDevice = errors.New("indi: no ccd device found")

// Client is a connection to one camera device.
type Client interface {
	// Connect establishes the driver session and selects the named device.
	Connect(ctx context.Context, device string) error

	// Expose commands a synchronous exposure of the given duration in
	// seconds and blocks until the raw frame arrives, ctx is done, or the
	// driver times out (ErrExposureTimeout).
	Expose(ctx context.Context, seconds float64) (*frame.Raw, error)

	// SetGain programs the sensor gain.
	SetGain(gain int) error

	// SetBin programs the binning mode.
	SetBin(bin int) error

	// Temperature reads the current sensor temperature in Celsius.
	Temperature() (float64, error)

	// Close tears down the driver session.
	Close() error
}
