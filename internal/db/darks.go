package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// DarkFrame is one master-dark row. Exposure is the integer-ceiled exposure
// in seconds; the library guarantees any returned dark has exposure >= the
// live frame's exposure.
type DarkFrame struct {
	ID         int64
	CreateDate time.Time
	CameraID   int64
	Filename   string
	BitDepth   int
	Exposure   int
	Gain       int
	Bin        int
	TempC      float64
}

// darkTempWindowC is the width of the temperature bucket accepted by the
// primary lookup: a dark no colder than the sensor and at most this much
// warmer.
const darkTempWindowC = 5.0

const darkColumns = `id, create_date, camera_id, filename, bitdepth, exposure, gain, binmode, temp`

func scanDark(row *sql.Row) (*DarkFrame, error) {
	d := &DarkFrame{}
	err := row.Scan(&d.ID, &d.CreateDate, &d.CameraID, &d.Filename,
		&d.BitDepth, &d.Exposure, &d.Gain, &d.Bin, &d.TempC)
	if err != nil {
		return nil, err
	}
	return d, nil
}

// SelectDark runs the primary dark query: identical camera/bitdepth/gain/bin,
// exposure at least the live exposure, dark temperature within
// [tempC, tempC+5]. Ties break toward the shortest exposure, the coolest
// temperature, then the oldest row. Returns sql.ErrNoRows when nothing fits.
func (db *DB) SelectDark(ctx context.Context, cameraID int64, bitDepth, exposure, gain, bin int, tempC float64) (*DarkFrame, error) {
	row := db.QueryRowContext(ctx, `
		SELECT `+darkColumns+`
		FROM darkframes
		WHERE camera_id = ? AND bitdepth = ? AND gain = ? AND binmode = ?
		  AND exposure >= ?
		  AND temp >= ? AND temp <= ?
		ORDER BY exposure ASC, temp ASC, create_date ASC
		LIMIT 1`,
		cameraID, bitDepth, gain, bin, exposure, tempC, tempC+darkTempWindowC)
	return scanDark(row)
}

// SelectDarkFallback is the relaxed query used when the primary finds no row:
// the temperature bounds are dropped and warmer darks are preferred so the
// subtraction errs toward over-correcting rather than leaving hot pixels.
func (db *DB) SelectDarkFallback(ctx context.Context, cameraID int64, bitDepth, exposure, gain, bin int) (*DarkFrame, error) {
	row := db.QueryRowContext(ctx, `
		SELECT `+darkColumns+`
		FROM darkframes
		WHERE camera_id = ? AND bitdepth = ? AND gain = ? AND binmode = ?
		  AND exposure >= ?
		ORDER BY exposure ASC, temp DESC, create_date ASC
		LIMIT 1`,
		cameraID, bitDepth, gain, bin, exposure)
	return scanDark(row)
}

// InsertDark registers a master dark. A row with the same filename is
// replaced; the caller is responsible for unlinking the superseded file.
func (db *DB) InsertDark(ctx context.Context, d *DarkFrame) (int64, error) {
	if d.CreateDate.IsZero() {
		d.CreateDate = time.Now().UTC()
	}
	res, err := db.ExecContext(ctx, `
		INSERT INTO darkframes (create_date, camera_id, filename, bitdepth, exposure, gain, binmode, temp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(filename) DO UPDATE SET
			create_date = excluded.create_date,
			camera_id   = excluded.camera_id,
			bitdepth    = excluded.bitdepth,
			exposure    = excluded.exposure,
			gain        = excluded.gain,
			binmode     = excluded.binmode,
			temp        = excluded.temp`,
		d.CreateDate, d.CameraID, d.Filename, d.BitDepth, d.Exposure, d.Gain, d.Bin, d.TempC)
	if err != nil {
		return 0, fmt.Errorf("insert dark %s: %w", d.Filename, err)
	}
	return res.LastInsertId()
}

// DarkByFilename fetches a dark row by path, or sql.ErrNoRows.
func (db *DB) DarkByFilename(ctx context.Context, filename string) (*DarkFrame, error) {
	row := db.QueryRowContext(ctx, `
		SELECT `+darkColumns+` FROM darkframes WHERE filename = ?`, filename)
	return scanDark(row)
}

// DeleteDark removes a dark row by id.
func (db *DB) DeleteDark(ctx context.Context, id int64) error {
	_, err := db.ExecContext(ctx, `DELETE FROM darkframes WHERE id = ?`, id)
	return err
}

// ListDarks returns all dark rows for a camera, oldest first.
func (db *DB) ListDarks(ctx context.Context, cameraID int64) ([]*DarkFrame, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT `+darkColumns+`
		FROM darkframes WHERE camera_id = ?
		ORDER BY create_date ASC`, cameraID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var darks []*DarkFrame
	for rows.Next() {
		d := &DarkFrame{}
		if err := rows.Scan(&d.ID, &d.CreateDate, &d.CameraID, &d.Filename,
			&d.BitDepth, &d.Exposure, &d.Gain, &d.Bin, &d.TempC); err != nil {
			return nil, err
		}
		darks = append(darks, d)
	}
	return darks, rows.Err()
}
