// Package domain defines the core interfaces and types for fleetwatch.
package domain

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrVehicleRequired is returned when an operation needs a vehicle id.
	ErrVehicleRequired = errors.New("vehicle id is required")
)

// EventQuery selects odometer events from the store.
type EventQuery struct {
	// VehicleID restricts results to one vehicle. Empty means all vehicles.
	VehicleID string

	// ExcludeID drops one event from the result (the event being edited).
	ExcludeID string

	// Limit caps the number of rows. Zero means no limit.
	Limit int

	// Descending orders newest first by (date, reading). Ascending otherwise.
	Descending bool
}

// EventStore is the narrow read/write surface the odometer core needs.
// Tests substitute an in-memory implementation.
type EventStore interface {
	// ListEvents returns events ordered by (vehicle, date, reading).
	ListEvents(ctx context.Context, q EventQuery) ([]*OdometerEvent, error)

	// CurrentMileage returns the vehicle's cached mileage snapshot, or nil
	// when none is recorded. Unknown vehicles yield ErrNotFound.
	CurrentMileage(ctx context.Context, vehicleID string) (*int64, error)

	// SetDistanceSincePrevious overwrites the derived distance field.
	SetDistanceSincePrevious(ctx context.Context, eventID string, distance int64) error
}

// TableScanner exposes generic row access for the health scorer.
type TableScanner interface {
	// CountRows returns the number of rows in table.
	CountRows(ctx context.Context, table string) (int64, error)

	// ScanRows streams every row of table to fn as a column map.
	ScanRows(ctx context.Context, table string, fn func(row map[string]any) error) error

	// ListColumn returns the non-null values of a column as strings.
	ListColumn(ctx context.Context, table, column string) ([]string, error)
}

// Repository defines the interface for data persistence.
type Repository interface {
	EventStore
	TableScanner

	// Odometer events
	SaveEvent(ctx context.Context, ev *OdometerEvent) error
	UpdateEvent(ctx context.Context, ev *OdometerEvent) error
	GetEvent(ctx context.Context, eventID string) (*OdometerEvent, error)

	// Vehicles
	SaveVehicle(ctx context.Context, v *Vehicle) error
	GetVehicle(ctx context.Context, vehicleID string) (*Vehicle, error)
	UpdateCurrentMileage(ctx context.Context, vehicleID string, mileage int64) error

	// Reference data
	SaveDriver(ctx context.Context, d *Driver) error
	SaveDepartment(ctx context.Context, d *Department) error
	SaveAssignmentType(ctx context.Context, id, name string) error
	SaveAssignment(ctx context.Context, a *Assignment) error

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string `mapstructure:"driver"`

	// SQLite specific
	SQLitePath string `mapstructure:"sqlitepath"`

	// PostgreSQL specific
	PostgresHost     string `mapstructure:"postgreshost"`
	PostgresPort     int    `mapstructure:"postgresport"`
	PostgresUser     string `mapstructure:"postgresuser"`
	PostgresPassword string `mapstructure:"postgrespassword"`
	PostgresDB       string `mapstructure:"postgresdb"`
	PostgresSSLMode  string `mapstructure:"postgressslmode"`

	// Connection pool settings
	MaxOpenConns    int           `mapstructure:"maxopenconns"`
	MaxIdleConns    int           `mapstructure:"maxidleconns"`
	ConnMaxLifetime time.Duration `mapstructure:"connmaxlifetime"`
}
