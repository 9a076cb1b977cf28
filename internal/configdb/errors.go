package configdb

import (
	"errors"
)

var (
	// ErrConflict is returned by Commit when something the transaction read
	// changed in the store after the snapshot was taken.
	ErrConflict = errors.New("transaction conflict")

	// ErrNotFound is returned when updating or deleting a key that does not exist.
	ErrNotFound = errors.New("key not found")

	// ErrAlreadyExists is returned when creating a key that already exists.
	ErrAlreadyExists = errors.New("key already exists")

	// ErrMalformed is returned when a stored value cannot be decoded.
	ErrMalformed = errors.New("malformed value")
)

// IsConflict reports whether err is, or wraps, ErrConflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsNotFound reports whether err is, or wraps, ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsAlreadyExists reports whether err is, or wraps, ErrAlreadyExists.
func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}

// IsMalformed reports whether err is, or wraps, ErrMalformed.
func IsMalformed(err error) bool {
	return errors.Is(err, ErrMalformed)
}
