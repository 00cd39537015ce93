package store

import "errors"

// Error kinds surfaced to callers. The HTTP layer maps these to
// response status codes.
var (
	ErrNotFound   = errors.New("not found")
	ErrValidation = errors.New("validation failed")
)
