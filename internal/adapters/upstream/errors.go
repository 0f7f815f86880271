package upstream

import (
	"errors"
	"fmt"
)

// Sentinel kinds for upstream errors.
var (
	ErrUpstream    = errors.New("upstream error")
	ErrCircuitOpen = fmt.Errorf("%w: circuit open", ErrUpstream)
	ErrInvalidURL  = errors.New("invalid upstream url")
)
