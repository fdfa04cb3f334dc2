// Package testutil provides helpers for examples and tests.
package testutil

import (
	"os"
	"testing"
)

// RemoveAll removes the path and any children. Errors are ignored.
//
// Usage:
//
//	defer testutil.RemoveAll(tmpDir)
func RemoveAll(path string) { _ = os.RemoveAll(path) }

// StoreRoot creates a temporary directory to root a filesystem store in and
// removes it when the test finishes.
func StoreRoot(tb testing.TB) string {
	tb.Helper()
	dir, err := os.MkdirTemp("", "storehouse-test-*")
	if err != nil {
		tb.Fatal(err)
	}
	tb.Cleanup(func() { RemoveAll(dir) })
	return dir
}
