package capability

import "errors"

// Sentinel errors returned by registry operations. Callers classify with
// errors.Is; operations wrap these with the capability name.
var (
	// ErrNotFound indicates no capability is registered under the name.
	ErrNotFound = errors.New("capability not found")

	// ErrDuplicate indicates a registration collided with an existing name.
	ErrDuplicate = errors.New("capability already registered")

	// ErrInvalid indicates a descriptor that cannot be stored as given.
	ErrInvalid = errors.New("invalid capability")
)
