package store

import (
	"errors"
	"fmt"
	"io/fs"
)

// WrapError wraps an error with an operation context.
func WrapError(operation string, err error) error {
	return fmt.Errorf("%s: %w", operation, err)
}

// IsNotExist reports whether err came from a missing file or
// directory, at any wrap depth.
func IsNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
