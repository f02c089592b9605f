// Package helpers provides shared test fixtures.
package helpers

import (
	"testing"

	"github.com/KarimAziev/elfai/store"
)

// NewTestSQLiteStore returns an in-memory transcript archive, migrated and
// torn down with the test.
func NewTestSQLiteStore(t *testing.T) *store.SQLiteStore {
	t.Helper()

	s, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("failed to create sqlite store: %v", err)
	}

	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("failed to close store: %v", err)
		}
	})

	return s
}
