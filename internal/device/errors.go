package device

import "errors"

// Domain errors for the device package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, device.ErrDeviceNotFound) {
//	    // handle not found case
//	}
var (
	// ErrDeviceNotFound is returned when no row matches a device id.
	ErrDeviceNotFound = errors.New("device: not found")

	// ErrDeviceExists is returned when provisioning a device id that already exists.
	ErrDeviceExists = errors.New("device: already exists")

	// ErrInvalidDevice is returned when device validation fails.
	ErrInvalidDevice = errors.New("device: invalid")

	// ErrInvalidDeviceID is returned when a device id is empty or too long.
	ErrInvalidDeviceID = errors.New("device: invalid device id")

	// ErrInvalidName is returned when a device name is empty or too long.
	ErrInvalidName = errors.New("device: invalid name")

	// ErrFieldTooLong is returned when a descriptive field exceeds its column width.
	ErrFieldTooLong = errors.New("device: field too long")
)
