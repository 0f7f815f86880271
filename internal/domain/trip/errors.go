package trip

import "errors"

// Sentinel kinds for key lookup errors.
var (
	ErrUnknownKey      = errors.New("unknown record field")
	ErrIncomparableKey = errors.New("record field is not sortable")
)
