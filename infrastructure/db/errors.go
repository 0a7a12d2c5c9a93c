package db

import "github.com/pkg/errors"

// ErrNotFound denotes that the requested item was not found in the store.
var ErrNotFound = errors.New("key not found")

// IsNotFoundError checks whether an error is (or wraps) ErrNotFound.
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound)
}
