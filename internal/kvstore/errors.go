package kvstore

import "errors"

// ErrKeyNotFound is returned when a requested key has no stored value.
var ErrKeyNotFound = errors.New("key not found")

// IsNotFound returns true if the error is an ErrKeyNotFound error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrKeyNotFound)
}
