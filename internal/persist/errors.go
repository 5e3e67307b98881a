package persist

import "errors"

var (
	// ErrNotFound is returned by Load when nothing was saved for the key.
	ErrNotFound = errors.New("persist: no saved value")

	// ErrClosed is returned once the pool has been closed.
	ErrClosed = errors.New("persist: closed")
)
