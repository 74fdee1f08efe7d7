// Package testutil provides shared test helpers and in-memory fakes of the
// remote platform.
package testutil

import (
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/starford/bartermate/internal/localstore"
)

// TestStore opens a SQLite local store in a temporary directory that is
// closed automatically.
func TestStore(t *testing.T) localstore.Store {
	t.Helper()
	store, err := localstore.OpenSQLite(filepath.Join(t.TempDir(), "local.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

// Logger returns a logger that discards everything.
func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
