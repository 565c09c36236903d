package paste

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidArgument marks a create request that failed validation.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrNotFound is returned for pastes that are absent, expired or exhausted.
	// Callers cannot tell the three cases apart.
	ErrNotFound = errors.New("paste not found")
	// ErrStorageUnavailable is returned when the backing store cannot be reached.
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// InvalidArgumentError names the offending field and the reason it was rejected.
type InvalidArgumentError struct {
	Field  string
	Reason string
}

func (e *InvalidArgumentError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Is makes errors.Is(err, ErrInvalidArgument) hold for every InvalidArgumentError.
func (e *InvalidArgumentError) Is(target error) bool {
	return target == ErrInvalidArgument
}
