package beacon

import "errors"

var (
	// ErrDisabled indicates the beacon is disabled in config.
	ErrDisabled = errors.New("beacon: disabled in configuration")

	// ErrSocket is returned by Run when the UDP socket cannot be opened.
	ErrSocket = errors.New("beacon: socket error")
)
