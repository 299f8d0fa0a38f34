package models

import "errors"

// Sentinel errors shared by every store backend.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrConflict indicates a uniqueness constraint rejected the write.
	ErrConflict = errors.New("record already exists")
)
