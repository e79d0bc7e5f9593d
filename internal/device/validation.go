package device

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Column widths of the devices table.
const (
	maxDeviceIDLength    = 20
	maxNameLength        = 20
	maxLocationLength    = 20
	maxVersionLength     = 20
	maxDescriptionLength = 50
)

// ValidateDevice checks a device before it is provisioned.
// Returns an error describing the first validation failure found.
func ValidateDevice(d *Device) error {
	if d == nil {
		return ErrInvalidDevice
	}

	if err := ValidateDeviceID(d.DeviceID); err != nil {
		return err
	}

	if err := ValidateName(d.Name); err != nil {
		return err
	}

	fields := []struct {
		name  string
		value string
		max   int
	}{
		{"location", d.Location, maxLocationLength},
		{"description", d.Description, maxDescriptionLength},
		{"hardware_version", d.HardwareVersion, maxVersionLength},
		{"software_version", d.SoftwareVersion, maxVersionLength},
	}
	for _, f := range fields {
		if utf8.RuneCountInString(f.value) > f.max {
			return fmt.Errorf("%w: %s exceeds %d characters", ErrFieldTooLong, f.name, f.max)
		}
	}

	return nil
}

// ValidateDeviceID checks that a device id can be stored and used as a
// broker app id.
func ValidateDeviceID(id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: device id is required", ErrInvalidDeviceID)
	}
	if utf8.RuneCountInString(id) > maxDeviceIDLength {
		return fmt.Errorf("%w: device id exceeds %d characters", ErrInvalidDeviceID, maxDeviceIDLength)
	}
	if strings.ContainsAny(id, " \t\r\n") {
		return fmt.Errorf("%w: device id cannot contain whitespace", ErrInvalidDeviceID)
	}
	return nil
}

// ValidateName checks that a device name is present and fits its column.
func ValidateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidName)
	}
	if utf8.RuneCountInString(name) > maxNameLength {
		return fmt.Errorf("%w: name exceeds %d characters", ErrInvalidName, maxNameLength)
	}
	return nil
}

// GenerateID creates a new UUID for a device row.
func GenerateID() string {
	return uuid.New().String()
}
