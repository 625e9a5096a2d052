// Package darks owns the master-dark library: lookup of the best calibration
// frame for a live exposure, registration of new masters, and the generator
// that sweeps the camera through the exposure grid.
package darks

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/banshee-data/allsky.report/internal/allsky/fits"
	"github.com/banshee-data/allsky.report/internal/allsky/frame"
	"github.com/banshee-data/allsky.report/internal/db"
	"github.com/banshee-data/allsky.report/internal/fsutil"
	"github.com/banshee-data/allsky.report/internal/monitoring"
)

// ErrNoDark means no usable master dark exists for the requested identity.
// The pipeline skips calibration and marks the frame uncalibrated.
var ErrNoDark = errors.New("darks: no matching master dark")

// Key is the identity tuple a live frame is matched on. Exposure is the
// integer-ceiled live exposure in seconds.
type Key struct {
	CameraID int64
	BitDepth int
	Exposure int
	Gain     int
	Bin      int
	TempC    float64
}

// KeyFor builds a lookup key from live capture values.
func KeyFor(cameraID int64, bitDepth int, exposureSec float64, gain, bin int, tempC float64) Key {
	return Key{
		CameraID: cameraID,
		BitDepth: bitDepth,
		Exposure: int(math.Ceil(exposureSec)),
		Gain:     gain,
		Bin:      bin,
		TempC:    tempC,
	}
}

// Library matches live frames against the dark-frame index.
type Library struct {
	db *db.DB
	fs fsutil.FileSystem

	mu     sync.Mutex
	warned map[string]bool // one not-found warning per (gain, bin, temp bucket)
}

// NewLibrary creates a library over the given store and filesystem.
func NewLibrary(database *db.DB, fs fsutil.FileSystem) *Library {
	return &Library{db: database, fs: fs, warned: make(map[string]bool)}
}

// Lookup returns the master dark selected for key, reading the frame off
// disk. Selection: primary query within the temperature window, then the
// relaxed fallback, then ErrNoDark. A row whose file is missing on disk also
// yields ErrNoDark rather than a runtime error.
func (l *Library) Lookup(ctx context.Context, key Key) (*frame.Raw, *db.DarkFrame, error) {
	row, err := l.db.SelectDark(ctx, key.CameraID, key.BitDepth, key.Exposure, key.Gain, key.Bin, key.TempC)
	if err == sql.ErrNoRows {
		row, err = l.db.SelectDarkFallback(ctx, key.CameraID, key.BitDepth, key.Exposure, key.Gain, key.Bin)
	}
	if err == sql.ErrNoRows {
		l.warnOnce(key, "no dark row")
		return nil, nil, ErrNoDark
	}
	if err != nil {
		return nil, nil, fmt.Errorf("dark lookup: %w", err)
	}

	if !l.fs.Exists(row.Filename) {
		l.warnOnce(key, fmt.Sprintf("dark file missing: %s", row.Filename))
		return nil, nil, ErrNoDark
	}

	raw, err := fits.ReadRaw(row.Filename)
	if err != nil {
		l.warnOnce(key, fmt.Sprintf("dark file unreadable: %v", err))
		return nil, nil, ErrNoDark
	}
	return raw, row, nil
}

// Add registers a master dark under path. A prior row with the same path is
// replaced and its file unlinked first (the new file has already been written
// under the same name by then, so the unlink only fires when the old row
// pointed elsewhere on disk — the DB upsert is the authority).
func (l *Library) Add(ctx context.Context, path string, key Key) error {
	if prior, err := l.db.DarkByFilename(ctx, path); err == nil {
		monitoring.Logf("darks: replacing existing master %s (id=%d)", path, prior.ID)
	}
	_, err := l.db.InsertDark(ctx, &db.DarkFrame{
		CameraID: key.CameraID,
		Filename: path,
		BitDepth: key.BitDepth,
		Exposure: key.Exposure,
		Gain:     key.Gain,
		Bin:      key.Bin,
		TempC:    key.TempC,
	})
	return err
}

// Flush removes every dark row for the camera and unlinks the files.
func (l *Library) Flush(ctx context.Context, cameraID int64) (int, error) {
	rows, err := l.db.ListDarks(ctx, cameraID)
	if err != nil {
		return 0, err
	}
	for _, row := range rows {
		if l.fs.Exists(row.Filename) {
			if err := l.fs.Remove(row.Filename); err != nil {
				monitoring.Logf("darks: failed to unlink %s: %v", row.Filename, err)
			}
		}
		if err := l.db.DeleteDark(ctx, row.ID); err != nil {
			return 0, err
		}
	}
	return len(rows), nil
}

// tempBucketC groups warn-once messages so a slowly drifting sensor does not
// spam the log.
const tempBucketC = 5.0

func (l *Library) warnOnce(key Key, reason string) {
	bucket := int(math.Floor(key.TempC / tempBucketC))
	k := fmt.Sprintf("g%d_b%d_t%d", key.Gain, key.Bin, bucket)

	l.mu.Lock()
	seen := l.warned[k]
	l.warned[k] = true
	l.mu.Unlock()

	if !seen {
		monitoring.Logf("darks: %s (gain=%d bin=%d temp=%.1fC exposure=%ds), running uncalibrated",
			reason, key.Gain, key.Bin, key.TempC, key.Exposure)
	}
}
