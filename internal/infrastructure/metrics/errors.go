package metrics

import "errors"

var (
	// ErrDisabled indicates the metrics endpoint is disabled in config.
	ErrDisabled = errors.New("metrics: disabled in configuration")

	// ErrListenFailed is returned by Run when the listen address is unusable.
	ErrListenFailed = errors.New("metrics: listen failed")
)
