package darks

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/banshee-data/allsky.report/internal/allsky/fits"
	"github.com/banshee-data/allsky.report/internal/allsky/frame"
	"github.com/banshee-data/allsky.report/internal/db"
	"github.com/banshee-data/allsky.report/internal/fsutil"
)

func testLibrary(t *testing.T) (*Library, *db.DB, int64, string) {
	t.Helper()
	dir := t.TempDir()
	database, err := db.NewDB(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	cam, err := database.GetOrCreateCamera(context.Background(), "cam")
	if err != nil {
		t.Fatal(err)
	}
	return NewLibrary(database, fsutil.OSFileSystem{}), database, cam.ID, dir
}

func writeMaster(t *testing.T, dir, name string, value uint16) string {
	t.Helper()
	raw := frame.NewRaw(8, 6, 16)
	for i := range raw.Pix {
		raw.Pix[i] = value
	}
	path := filepath.Join(dir, name)
	if err := fits.WriteRaw(path, raw, "Dark Frame"); err != nil {
		t.Fatalf("write master: %v", err)
	}
	return path
}

func TestLookupReadsMasterOffDisk(t *testing.T) {
	lib, _, camID, dir := testLibrary(t)
	ctx := context.Background()

	path := writeMaster(t, dir, "master.fit", 42)
	key := KeyFor(camID, 16, 5, 100, 1, 10.0)
	if err := lib.Add(ctx, path, key); err != nil {
		t.Fatal(err)
	}

	raw, row, err := lib.Lookup(ctx, KeyFor(camID, 16, 4.2, 100, 1, 10.0))
	if err != nil {
		t.Fatal(err)
	}
	if row.Filename != path {
		t.Errorf("row filename = %s, want %s", row.Filename, path)
	}
	if raw.Pix[0] != 42 {
		t.Errorf("master pixel = %d, want 42", raw.Pix[0])
	}
}

func TestLookupEmptyLibrary(t *testing.T) {
	lib, _, camID, _ := testLibrary(t)

	_, _, err := lib.Lookup(context.Background(), KeyFor(camID, 16, 5, 100, 1, 10.0))
	if err != ErrNoDark {
		t.Errorf("expected ErrNoDark, got %v", err)
	}
}

func TestLookupMissingFileIsNoDark(t *testing.T) {
	lib, _, camID, dir := testLibrary(t)
	ctx := context.Background()

	// Row exists but the file was never written.
	key := KeyFor(camID, 16, 5, 100, 1, 10.0)
	if err := lib.Add(ctx, filepath.Join(dir, "gone.fit"), key); err != nil {
		t.Fatal(err)
	}

	if _, _, err := lib.Lookup(ctx, key); err != ErrNoDark {
		t.Errorf("expected ErrNoDark for missing file, got %v", err)
	}
}

func TestLookupCorruptFileIsNoDark(t *testing.T) {
	lib, _, camID, dir := testLibrary(t)
	ctx := context.Background()

	path := filepath.Join(dir, "corrupt.fit")
	if err := (fsutil.OSFileSystem{}).WriteFile(path, []byte("not a fits file"), 0o644); err != nil {
		t.Fatal(err)
	}
	key := KeyFor(camID, 16, 5, 100, 1, 10.0)
	if err := lib.Add(ctx, path, key); err != nil {
		t.Fatal(err)
	}

	if _, _, err := lib.Lookup(ctx, key); err != ErrNoDark {
		t.Errorf("expected ErrNoDark for unreadable file, got %v", err)
	}
}

func TestFlushRemovesRowsAndFiles(t *testing.T) {
	lib, database, camID, dir := testLibrary(t)
	ctx := context.Background()

	for i, name := range []string{"a.fit", "b.fit"} {
		path := writeMaster(t, dir, name, uint16(i+1))
		if err := lib.Add(ctx, path, KeyFor(camID, 16, float64(i+1), 100, 1, 10.0)); err != nil {
			t.Fatal(err)
		}
	}

	n, err := lib.Flush(ctx, camID)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("flushed %d rows, want 2", n)
	}

	rows, err := database.ListDarks(ctx, camID)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 0 {
		t.Errorf("%d rows remain after flush", len(rows))
	}
	fs := fsutil.OSFileSystem{}
	if fs.Exists(filepath.Join(dir, "a.fit")) || fs.Exists(filepath.Join(dir, "b.fit")) {
		t.Error("master files remain after flush")
	}
}
