package service

import "errors"

// Sentinel error kinds for this package.
var (
	ErrNoFetcher = errors.New("service has no upstream fetcher")
)
