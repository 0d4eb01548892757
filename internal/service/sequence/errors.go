package sequence

import "errors"

// Sentinel errors for the sequence service layer.
var (
	ErrNotFound          = errors.New("sequence not found")
	ErrStepNotFound      = errors.New("sequence step not found")
	ErrInvalidTransition = errors.New("invalid sequence status transition")
)
