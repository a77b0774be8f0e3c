package memory

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyInput         = errors.New("full_text is empty after chunking")
	ErrMissingIdentifiers = errors.New("user_id and avatar_id are required")
	ErrNoFileReference    = errors.New("one of file_path, file_name or file_url is required")
)

// IsClientError reports whether err was caused by invalid input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrEmptyInput) ||
		errors.Is(err, ErrMissingIdentifiers) ||
		errors.Is(err, ErrNoFileReference)
}

// StoreWriteError is returned when no index accepted the vectors.
type StoreWriteError struct {
	Index string
	Err   error
}

func (e *StoreWriteError) Error() string {
	return fmt.Sprintf("write to index %s failed: %v", e.Index, e.Err)
}

func (e *StoreWriteError) Unwrap() error { return e.Err }
