// Package db owns the SQLite store shared by the acquisition daemon and the
// CLIs: camera rows, the dark-frame index, the task queue and artefact rows.
package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// DB wraps the SQLite handle. Every worker opens its own DB; SQLite WAL mode
// plus the busy timeout make concurrent single-row writes safe.
type DB struct {
	*sql.DB
}

// NewDB opens (creating if necessary) the database at path and applies the
// embedded migrations.
func NewDB(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", path, err)
	}

	// One writer at a time; queue contention resolves via busy_timeout
	// rather than SQLITE_BUSY errors surfacing to workers.
	for _, pragma := range []string{
		`PRAGMA journal_mode = WAL`,
		`PRAGMA busy_timeout = 5000`,
		`PRAGMA foreign_keys = ON`,
	} {
		if _, err := sqlDB.Exec(pragma); err != nil {
			sqlDB.Close()
			return nil, fmt.Errorf("apply %s: %w", pragma, err)
		}
	}

	db := &DB{sqlDB}
	if err := db.MigrateUp(); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return db, nil
}

// Camera is a persisted camera row. Rows are created lazily on first connect;
// the configuration is then loaded with the camera's id injected, which breaks
// the config<->camera reference cycle.
type Camera struct {
	ID   int64
	Name string
	UUID string
}

// GetOrCreateCamera returns the camera row for name, minting a UUID and
// inserting the row on first connect.
func (db *DB) GetOrCreateCamera(ctx context.Context, name string) (*Camera, error) {
	cam := &Camera{Name: name}
	err := db.QueryRowContext(ctx,
		`SELECT id, uuid FROM cameras WHERE name = ?`, name,
	).Scan(&cam.ID, &cam.UUID)
	if err == nil {
		return cam, nil
	}
	if err != sql.ErrNoRows {
		return nil, fmt.Errorf("query camera %q: %w", name, err)
	}

	cam.UUID = uuid.NewString()
	res, err := db.ExecContext(ctx,
		`INSERT INTO cameras (name, uuid) VALUES (?, ?)`, name, cam.UUID)
	if err != nil {
		return nil, fmt.Errorf("insert camera %q: %w", name, err)
	}
	cam.ID, err = res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return cam, nil
}
