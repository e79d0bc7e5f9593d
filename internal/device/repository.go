package device

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
)

// Repository defines the interface for device persistence operations.
// This abstraction allows for different implementations (SQLite, mock, etc.)
// and enables unit testing without database dependencies.
type Repository interface {
	// GetByDeviceID retrieves a device by the id it reports on the broker.
	// Returns ErrDeviceNotFound if the device is not provisioned.
	GetByDeviceID(ctx context.Context, deviceID string) (*Device, error)

	// List retrieves all devices.
	List(ctx context.Context) ([]Device, error)

	// Create provisions a new device.
	// Returns ErrDeviceExists if the device id is already provisioned.
	Create(ctx context.Context, device *Device) error

	// Delete removes a device by device id.
	// Returns ErrDeviceNotFound if the device does not exist.
	Delete(ctx context.Context, deviceID string) error

	// SetConnected sets the connected flag and commits immediately.
	// Returns ErrDeviceNotFound if the device does not exist.
	SetConnected(ctx context.Context, deviceID string, connected bool) error

	// ResetConnected clears the connected flag on every device and returns
	// how many rows changed.
	ResetConnected(ctx context.Context) (int64, error)
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
// The db parameter should be an open SQLite connection.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const selectColumns = `
		SELECT id, device_id, name, location, description,
			hardware_version, software_version, connected, user_configured,
			created_at, updated_at
		FROM devices`

// GetByDeviceID retrieves a device by the id it reports on the broker.
func (r *SQLiteRepository) GetByDeviceID(ctx context.Context, deviceID string) (*Device, error) {
	query := selectColumns + `
		WHERE device_id = ?`

	row := r.db.QueryRowContext(ctx, query, deviceID)
	device, err := scanDevice(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("querying device by device_id: %w", err)
	}
	return device, nil
}

// List retrieves all devices.
func (r *SQLiteRepository) List(ctx context.Context) ([]Device, error) {
	query := selectColumns + `
		ORDER BY device_id`

	return r.queryDevices(ctx, query)
}

// Create provisions a new device.
func (r *SQLiteRepository) Create(ctx context.Context, device *Device) error {
	if err := ValidateDevice(device); err != nil {
		return err
	}

	if device.ID == "" {
		device.ID = GenerateID()
	}

	// Set timestamps if not set
	now := time.Now().UTC()
	if device.CreatedAt.IsZero() {
		device.CreatedAt = now
	}
	device.UpdatedAt = now

	query := `
		INSERT INTO devices (
			id, device_id, name, location, description,
			hardware_version, software_version, connected, user_configured,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		device.ID,
		device.DeviceID,
		device.Name,
		device.Location,
		device.Description,
		device.HardwareVersion,
		device.SoftwareVersion,
		boolToInt(device.Connected),
		boolToInt(device.UserConfigured),
		device.CreatedAt.Format(time.RFC3339),
		device.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrDeviceExists
		}
		return fmt.Errorf("inserting device: %w", err)
	}

	return nil
}

// Delete removes a device by device id.
func (r *SQLiteRepository) Delete(ctx context.Context, deviceID string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM devices WHERE device_id = ?", deviceID)
	if err != nil {
		return fmt.Errorf("deleting device: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrDeviceNotFound
	}

	return nil
}

// SetConnected sets the connected flag in its own transaction.
func (r *SQLiteRepository) SetConnected(ctx context.Context, deviceID string, connected bool) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	result, err := tx.ExecContext(ctx, `
		UPDATE devices
		SET connected = ?, updated_at = ?
		WHERE device_id = ?`,
		boolToInt(connected),
		time.Now().UTC().Format(time.RFC3339),
		deviceID,
	)
	if err != nil {
		return fmt.Errorf("updating connected flag: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrDeviceNotFound
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing connected flag: %w", err)
	}
	return nil
}

// ResetConnected clears every connected flag left over from a previous run.
func (r *SQLiteRepository) ResetConnected(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE devices
		SET connected = 0, updated_at = ?
		WHERE connected = 1`,
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return 0, fmt.Errorf("resetting connected flags: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return n, nil
}

// queryDevices executes a query and returns a slice of devices.
func (r *SQLiteRepository) queryDevices(ctx context.Context, query string, args ...any) ([]Device, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	var devices []Device
	for rows.Next() {
		device, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning device: %w", err)
		}
		devices = append(devices, *device)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating devices: %w", err)
	}

	return devices, nil
}

// rowScanner is an interface that sql.Row and sql.Rows both implement.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanDevice scans a row or rows result into a Device.
func scanDevice(scanner rowScanner) (*Device, error) {
	var d Device
	var connected, userConfigured int
	var createdAt, updatedAt string

	err := scanner.Scan(
		&d.ID,
		&d.DeviceID,
		&d.Name,
		&d.Location,
		&d.Description,
		&d.HardwareVersion,
		&d.SoftwareVersion,
		&connected,
		&userConfigured,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	d.Connected = connected != 0
	d.UserConfigured = userConfigured != 0

	var parseErr error
	d.CreatedAt, parseErr = time.Parse(time.RFC3339, createdAt)
	if parseErr != nil {
		return nil, fmt.Errorf("parsing created_at: %w", parseErr)
	}
	d.UpdatedAt, parseErr = time.Parse(time.RFC3339, updatedAt)
	if parseErr != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", parseErr)
	}

	return &d, nil
}

// boolToInt converts a boolean to 0/1 for SQLite storage.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// isUniqueConstraintError checks if an error is a SQLite unique constraint violation.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
