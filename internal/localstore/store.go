// Package localstore persists structured records on the device, keyed by name.
package localstore

import (
	"context"
	"fmt"
	"regexp"
)

// Drivers accepted by Open.
const (
	DriverSQLite = "sqlite"
	DriverFS     = "fs"
)

// Store is a local key-value store for JSON-serializable records.
// There are no transactions across keys; a single Set is atomic.
type Store interface {
	// Get decodes the record stored under key into dst.
	// It returns apperr.ErrNotFound when the key is absent.
	Get(ctx context.Context, key string, dst any) error
	// Set replaces the record stored under key.
	Set(ctx context.Context, key string, v any) error
	// Remove deletes key. Removing an absent key is not an error.
	Remove(ctx context.Context, key string) error
	Close() error
}

var keyRe = regexp.MustCompile(`^[a-z0-9][a-z0-9_.-]{0,127}$`)

func checkKey(key string) error {
	if !keyRe.MatchString(key) {
		return fmt.Errorf("localstore: invalid key %q", key)
	}
	return nil
}

// Open returns the store for the given driver.
func Open(driver, path string) (Store, error) {
	switch driver {
	case DriverSQLite, "":
		return OpenSQLite(path)
	case DriverFS:
		return NewFS(path)
	default:
		return nil, fmt.Errorf("localstore: unknown driver %q", driver)
	}
}
