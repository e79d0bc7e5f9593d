package device

import "time"

// Device is a provisioned grain-storage device.
// This matches the database schema in migrations/20260301_120000_devices.up.sql.
type Device struct {
	// Identity
	ID       string `json:"id"`
	DeviceID string `json:"device_id"`

	// Descriptive fields entered at provisioning time
	Name        string `json:"name"`
	Location    string `json:"location"`
	Description string `json:"description"`

	// Firmware reported by the device
	HardwareVersion string `json:"hardware_version"`
	SoftwareVersion string `json:"software_version"`

	// Presence, maintained by the tracker
	Connected bool `json:"connected"`

	// UserConfigured is set once an operator has reviewed the device.
	UserConfigured bool `json:"user_configured"`

	// Timestamps
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns an independent copy of the Device.
func (d *Device) Clone() *Device {
	if d == nil {
		return nil
	}
	c := *d
	return &c
}
