package indi

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/banshee-data/allsky.report/internal/allsky/fits"
	"github.com/banshee-data/allsky.report/internal/allsky/frame"
	"github.com/banshee-data/allsky.report/internal/monitoring"
)

// Standard INDI property and element names the client drives.
const (
	propConnection  = "CONNECTION"
	propExposure    = "CCD_EXPOSURE"
	propGain        = "CCD_GAIN"
	propBinning     = "CCD_BINNING"
	propTemperature = "CCD_TEMPERATURE"

	elemConnect     = "CONNECT"
	elemExposure    = "CCD_EXPOSURE_VALUE"
	elemGain        = "GAIN"
	elemHorBin      = "HOR_BIN"
	elemVerBin      = "VER_BIN"
	elemTemperature = "CCD_TEMPERATURE_VALUE"
)

// dialTimeout bounds the initial TCP connect to the driver server.
const dialTimeout = 10 * time.Second

// TCPClient speaks the INDI XML protocol to a driver server, usually on
// port 7624. One client drives one device; frames arrive as base64 FITS
// BLOBs on the same stream as property updates.
type TCPClient struct {
	addr   string
	device string

	conn net.Conn

	mu      sync.Mutex
	numbers map[string]map[string]float64 // property -> element -> value

	blobCh chan *frame.Raw
	done   chan struct{}
}

var _ Client = (*TCPClient)(nil)

// NewTCPClient creates a client for the driver server at addr (host:port).
func NewTCPClient(addr string) *TCPClient {
	return &TCPClient{
		addr:    addr,
		numbers: make(map[string]map[string]float64),
		blobCh:  make(chan *frame.Raw, 1),
		done:    make(chan struct{}),
	}
}

// Connect dials the server, starts the reader, and brings the device up:
// property discovery, BLOB delivery on this connection, CONNECTION on.
func (c *TCPClient) Connect(ctx context.Context, device string) error {
	c.device = device

	d := net.Dialer{Timeout: dialTimeout}
	conn, err := d.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return fmt.Errorf("indi: dial %s: %w", c.addr, err)
	}
	c.conn = conn
	go c.readLoop()

	if err := c.send(fmt.Sprintf(`<getProperties version="1.7" device=%q/>`, device)); err != nil {
		return err
	}
	if err := c.send(fmt.Sprintf(`<enableBLOB device=%q>Also</enableBLOB>`, device)); err != nil {
		return err
	}
	if err := c.send(fmt.Sprintf(
		`<newSwitchVector device=%q name=%q><oneSwitch name=%q>On</oneSwitch></newSwitchVector>`,
		device, propConnection, elemConnect)); err != nil {
		return err
	}
	monitoring.Logf("indi: connected to %s, device %q", c.addr, device)
	return nil
}

// Expose commands an exposure and blocks until the frame BLOB arrives or ctx
// expires. A BLOB left over from an earlier, abandoned exposure is discarded
// first.
func (c *TCPClient) Expose(ctx context.Context, seconds float64) (*frame.Raw, error) {
	select {
	case stale := <-c.blobCh:
		_ = stale
	default:
	}

	msg := fmt.Sprintf(
		`<newNumberVector device=%q name=%q><oneNumber name=%q>%s</oneNumber></newNumberVector>`,
		c.device, propExposure, elemExposure, strconv.FormatFloat(seconds, 'f', -1, 64))
	if err := c.send(msg); err != nil {
		return nil, err
	}

	select {
	case raw := <-c.blobCh:
		return raw, nil
	case <-c.done:
		return nil, fmt.Errorf("indi: connection closed during exposure")
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			return nil, ErrExposureTimeout
		}
		return nil, ctx.Err()
	}
}

// SetGain programs the sensor gain.
func (c *TCPClient) SetGain(gain int) error {
	return c.send(fmt.Sprintf(
		`<newNumberVector device=%q name=%q><oneNumber name=%q>%d</oneNumber></newNumberVector>`,
		c.device, propGain, elemGain, gain))
}

// SetBin programs symmetric binning.
func (c *TCPClient) SetBin(bin int) error {
	return c.send(fmt.Sprintf(
		`<newNumberVector device=%q name=%q><oneNumber name=%q>%d</oneNumber><oneNumber name=%q>%d</oneNumber></newNumberVector>`,
		c.device, propBinning, elemHorBin, bin, elemVerBin, bin))
}

// Temperature returns the last CCD_TEMPERATURE value the driver reported.
func (c *TCPClient) Temperature() (float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if prop, ok := c.numbers[propTemperature]; ok {
		if v, ok := prop[elemTemperature]; ok {
			return v, nil
		}
	}
	return 0, fmt.Errorf("indi: no temperature reported yet")
}

// Close tears down the connection. The reader exits on the closed socket.
func (c *TCPClient) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

func (c *TCPClient) send(msg string) error {
	if c.conn == nil {
		return fmt.Errorf("indi: not connected")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.conn.Write([]byte(msg + "\n")); err != nil {
		return fmt.Errorf("indi: send: %w", err)
	}
	return nil
}

// numberVector is the wire shape shared by def/setNumberVector.
type numberVector struct {
	Device  string      `xml:"device,attr"`
	Name    string      `xml:"name,attr"`
	Numbers []oneNumber `xml:"oneNumber"`
}

type oneNumber struct {
	Name  string `xml:"name,attr"`
	Value string `xml:",chardata"`
}

type blobVector struct {
	Device string    `xml:"device,attr"`
	Name   string    `xml:"name,attr"`
	Blobs  []oneBLOB `xml:"oneBLOB"`
}

type oneBLOB struct {
	Name   string `xml:"name,attr"`
	Format string `xml:"format,attr"`
	Data   string `xml:",chardata"`
}

type messageElem struct {
	Device  string `xml:"device,attr"`
	Message string `xml:"message,attr"`
}

// readLoop consumes the server's XML stream, caching number values and
// delivering decoded frame BLOBs. It exits when the socket closes.
func (c *TCPClient) readLoop() {
	defer close(c.done)
	dec := xml.NewDecoder(c.conn)

	for {
		tok, err := dec.Token()
		if err != nil {
			monitoring.Logf("indi: read loop ended: %v", err)
			return
		}
		se, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}

		switch se.Name.Local {
		case "setNumberVector", "defNumberVector":
			var nv numberVector
			if err := dec.DecodeElement(&nv, &se); err != nil {
				monitoring.Logf("indi: bad number vector: %v", err)
				continue
			}
			c.storeNumbers(nv)
		case "setBLOBVector":
			var bv blobVector
			if err := dec.DecodeElement(&bv, &se); err != nil {
				monitoring.Logf("indi: bad blob vector: %v", err)
				continue
			}
			c.handleBlobs(bv)
		case "message":
			var m messageElem
			if err := dec.DecodeElement(&m, &se); err == nil && m.Message != "" {
				monitoring.Logf("indi: %s: %s", m.Device, m.Message)
			}
		default:
			if err := dec.Skip(); err != nil {
				monitoring.Logf("indi: read loop ended: %v", err)
				return
			}
		}
	}
}

func (c *TCPClient) storeNumbers(nv numberVector) {
	if nv.Device != "" && nv.Device != c.device {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	prop, ok := c.numbers[nv.Name]
	if !ok {
		prop = make(map[string]float64)
		c.numbers[nv.Name] = prop
	}
	for _, n := range nv.Numbers {
		if v, err := strconv.ParseFloat(strings.TrimSpace(n.Value), 64); err == nil {
			prop[n.Name] = v
		}
	}
}

// handleBlobs decodes FITS BLOBs and hands the newest frame to a waiting
// Expose. A frame nobody waits for is dropped.
func (c *TCPClient) handleBlobs(bv blobVector) {
	if bv.Device != "" && bv.Device != c.device {
		return
	}
	for _, b := range bv.Blobs {
		if !strings.Contains(strings.ToLower(b.Format), "fit") {
			continue
		}
		data, err := base64.StdEncoding.DecodeString(strings.Map(dropSpace, b.Data))
		if err != nil {
			monitoring.Logf("indi: blob %s: bad base64: %v", b.Name, err)
			continue
		}
		raw, err := fits.DecodeRaw(bytes.NewReader(data))
		if err != nil {
			monitoring.Logf("indi: blob %s: %v", b.Name, err)
			continue
		}
		select {
		case c.blobCh <- raw:
		default:
			monitoring.Logf("indi: dropping unclaimed frame from %s", bv.Name)
		}
	}
}

func dropSpace(r rune) rune {
	switch r {
	case ' ', '\n', '\r', '\t':
		return -1
	}
	return r
}
