package storage

import "errors"

// ErrNotFound is returned by single-record getters when no row matches.
var ErrNotFound = errors.New("storage: record not found")
