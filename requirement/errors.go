package requirement

import "errors"

// Sentinel errors for record store operations.
var (
	ErrNotFound       = errors.New("not found")
	ErrUseCaseExists  = errors.New("use case already loaded")
	ErrDuplicateID    = errors.New("duplicate requirement id")
	ErrGoverned       = errors.New("requirement has an open governance item")
	ErrUseCaseIDEmpty = errors.New("use case id is required")
)
