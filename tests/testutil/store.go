package testutil

import (
	"path/filepath"
	"testing"

	"github.com/nhle/taskmaster/internal/store"
)

// NewTestStore creates an in-memory SQLiteStore with all migrations applied.
// It automatically closes the store when the test completes.
func NewTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	return openStore(t, ":memory:")
}

// NewFileTestStore creates a SQLiteStore backed by a file in a temporary
// directory. Unlike the in-memory store it allows several pooled
// connections, so concurrent callers really race.
func NewFileTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	return openStore(t, filepath.Join(t.TempDir(), "taskmaster.db"))
}

func openStore(t *testing.T, path string) *store.SQLiteStore {
	t.Helper()

	s, err := store.NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("creating test store: %v", err)
	}

	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("closing test store: %v", err)
		}
	})

	return s
}
