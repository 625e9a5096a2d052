package indi

import (
	"context"
	"sync"
	"time"

	"github.com/banshee-data/allsky.report/internal/allsky/frame"
)

// MockClient is a scripted camera for tests and dry runs. Frames are served
// from a generator function so tests can shape brightness per exposure.
type MockClient struct {
	mu          sync.Mutex
	device      string
	gain        int
	bin         int
	tempC       float64
	connected   bool
	exposures   []float64
	frameFn     func(seconds float64, gain, bin int) *frame.Raw
	exposeDelay time.Duration
}

// NewMockClient creates a mock whose Expose returns frames produced by fn.
// A nil fn serves zeroed 16-bit 64x48 frames.
func NewMockClient(fn func(seconds float64, gain, bin int) *frame.Raw) *MockClient {
	if fn == nil {
		fn = func(seconds float64, gain, bin int) *frame.Raw {
			return frame.NewRaw(64, 48, 16)
		}
	}
	return &MockClient{frameFn: fn, bin: 1, tempC: 20}
}

// SetTemperature sets the mocked sensor temperature.
func (m *MockClient) SetTemperature(tempC float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tempC = tempC
}

// SetExposeDelay makes Expose block for d, for timeout tests.
func (m *MockClient) SetExposeDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.exposeDelay = d
}

// Exposures returns every exposure duration commanded so far.
func (m *MockClient) Exposures() []float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]float64, len(m.exposures))
	copy(out, m.exposures)
	return out
}

// Gain returns the last programmed gain.
func (m *MockClient) Gain() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gain
}

// Bin returns the last programmed bin.
func (m *MockClient) Bin() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bin
}

// Connect marks the mock connected.
func (m *MockClient) Connect(ctx context.Context, device string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.device = device
	m.connected = true
	return nil
}

// Expose serves the next scripted frame, stamping capture metadata.
func (m *MockClient) Expose(ctx context.Context, seconds float64) (*frame.Raw, error) {
	m.mu.Lock()
	m.exposures = append(m.exposures, seconds)
	fn := m.frameFn
	gain, bin, temp := m.gain, m.bin, m.tempC
	delay := m.exposeDelay
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ErrExposureTimeout
		case <-time.After(delay):
		}
	}

	raw := fn(seconds, gain, bin)
	raw.Meta = frame.Meta{
		CapturedAt: time.Now(),
		Exposure:   seconds,
		Gain:       gain,
		Bin:        bin,
		TempC:      temp,
		Bayer:      raw.Meta.Bayer,
	}
	return raw, nil
}

// SetGain programs the mocked gain.
func (m *MockClient) SetGain(gain int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gain = gain
	return nil
}

// SetBin programs the mocked bin.
func (m *MockClient) SetBin(bin int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bin = bin
	return nil
}

// Temperature returns the mocked sensor temperature.
func (m *MockClient) Temperature() (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tempC, nil
}

// Close marks the mock disconnected.
func (m *MockClient) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = false
	return nil
}

var _ Client = (*MockClient)(nil)
