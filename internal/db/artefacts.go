package db

import (
	"context"
	"fmt"
	"time"
)

// Image is a finished-frame artefact row. The core is authoritative for these
// values; transfer workers and the sync API read them as-is.
type Image struct {
	ID         int64
	CreateDate time.Time
	CameraID   int64
	Filename   string
	DayDate    string // YYYYMMDD
	Night      bool
	UTCOffset  int // seconds east of UTC at capture
	Width      int
	Height     int
	Exposure   float64
	Gain       int
	Bin        int
	TempC      float64
	ADU        float64
	Stable     bool
	SQM        float64
	Stars      int
	Calibrated bool
	MoonMode   bool
	MoonPhase  float64 // illuminated fraction, percent
}

// InsertImage writes a finished-frame artefact row.
func (db *DB) InsertImage(ctx context.Context, img *Image) (int64, error) {
	if img.CreateDate.IsZero() {
		img.CreateDate = time.Now().UTC()
	}
	res, err := db.ExecContext(ctx, `
		INSERT INTO images (
			create_date, camera_id, filename, day_date, night, utc_offset,
			width, height, exposure, gain, binmode, temp,
			adu, stable, sqm, stars, calibrated, moonmode, moonphase
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		img.CreateDate, img.CameraID, img.Filename, img.DayDate, img.Night, img.UTCOffset,
		img.Width, img.Height, img.Exposure, img.Gain, img.Bin, img.TempC,
		img.ADU, img.Stable, img.SQM, img.Stars, img.Calibrated, img.MoonMode, img.MoonPhase)
	if err != nil {
		return 0, fmt.Errorf("insert image %s: %w", img.Filename, err)
	}
	return res.LastInsertId()
}

// ImagesForDay returns the filenames for one (camera, dayDate, night)
// partition ordered by capture time. This ordering is what makes keogram
// columns and timelapse sequence numbers line up with wall time.
func (db *DB) ImagesForDay(ctx context.Context, cameraID int64, dayDate string, night bool) ([]*Image, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, create_date, filename, width, height, exposure, adu, sqm
		FROM images
		WHERE camera_id = ? AND day_date = ? AND night = ?
		ORDER BY create_date ASC, id ASC`,
		cameraID, dayDate, night)
	if err != nil {
		return nil, fmt.Errorf("images for %s: %w", dayDate, err)
	}
	defer rows.Close()

	var imgs []*Image
	for rows.Next() {
		img := &Image{CameraID: cameraID, DayDate: dayDate, Night: night}
		if err := rows.Scan(&img.ID, &img.CreateDate, &img.Filename,
			&img.Width, &img.Height, &img.Exposure, &img.ADU, &img.SQM); err != nil {
			return nil, err
		}
		imgs = append(imgs, img)
	}
	return imgs, rows.Err()
}

// SQMSample is one point of the nightly sky-quality trend.
type SQMSample struct {
	CreateDate time.Time
	SQM        float64
	ADU        float64
	Exposure   float64
}

// SQMForDay returns the SQM/ADU/exposure series for one partition, for the
// monitor's trend plot and debug charts.
func (db *DB) SQMForDay(ctx context.Context, cameraID int64, dayDate string, night bool) ([]SQMSample, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT create_date, sqm, adu, exposure
		FROM images
		WHERE camera_id = ? AND day_date = ? AND night = ?
		ORDER BY create_date ASC`,
		cameraID, dayDate, night)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var samples []SQMSample
	for rows.Next() {
		var s SQMSample
		if err := rows.Scan(&s.CreateDate, &s.SQM, &s.ADU, &s.Exposure); err != nil {
			return nil, err
		}
		samples = append(samples, s)
	}
	return samples, rows.Err()
}

// InsertVideo records a timelapse artefact.
func (db *DB) InsertVideo(ctx context.Context, cameraID int64, filename, dayDate string, night bool, frameCount int) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO videos (create_date, camera_id, filename, day_date, night, frame_count)
		VALUES (?, ?, ?, ?, ?, ?)`,
		time.Now().UTC(), cameraID, filename, dayDate, night, frameCount)
	if err != nil {
		return fmt.Errorf("insert video %s: %w", filename, err)
	}
	return nil
}

// InsertKeogram records a keogram artefact.
func (db *DB) InsertKeogram(ctx context.Context, cameraID int64, filename, dayDate string, night bool, width, height int) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO keograms (create_date, camera_id, filename, day_date, night, width, height)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		time.Now().UTC(), cameraID, filename, dayDate, night, width, height)
	if err != nil {
		return fmt.Errorf("insert keogram %s: %w", filename, err)
	}
	return nil
}

// InsertStartrail records a star-trail composite artefact.
func (db *DB) InsertStartrail(ctx context.Context, cameraID int64, filename, dayDate string, stackedCount int, placeholder bool) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO startrails (create_date, camera_id, filename, day_date, stacked_count, placeholder)
		VALUES (?, ?, ?, ?, ?, ?)`,
		time.Now().UTC(), cameraID, filename, dayDate, stackedCount, placeholder)
	if err != nil {
		return fmt.Errorf("insert startrail %s: %w", filename, err)
	}
	return nil
}
