package selfcheck

import "errors"

// Sentinel error kinds for this package.
var (
	ErrCheckFailed   = errors.New("self-check failed")
	ErrInvalidConfig = errors.New("invalid self-check config")
)
