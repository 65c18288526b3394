// Package store implements the relay's persistence layer: an append-only
// chat message log and an origin-keyed identity registry, both backed by a
// single bbolt database.
package store

import (
	"fmt"
	"os"
	"path/filepath"

	bolt "go.etcd.io/bbolt"
)

// OpenDB opens (creating if necessary) the bbolt database at path. The
// parent directory is created when missing.
func OpenDB(path string) (*bolt.DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("open db %s: %w", path, err)
	}
	return db, nil
}
