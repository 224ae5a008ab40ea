package repository

// Schema definitions for the fleetwatch database.
// Compatible with both SQLite and PostgreSQL.

const schemaDepartments = `
CREATE TABLE IF NOT EXISTS departments (
    id TEXT PRIMARY KEY,
    name TEXT,
    created_at TIMESTAMP NOT NULL
);
`

const schemaVehicles = `
CREATE TABLE IF NOT EXISTS vehicles (
    id TEXT PRIMARY KEY,
    license_plate TEXT,
    internal_number TEXT,
    status TEXT NOT NULL DEFAULT 'active',
    current_mileage INTEGER,
    department_id TEXT,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_vehicles_plate ON vehicles(license_plate);
`

const schemaDrivers = `
CREATE TABLE IF NOT EXISTS drivers (
    id TEXT PRIMARY KEY,
    full_name TEXT,
    code TEXT,
    created_at TIMESTAMP NOT NULL
);
`

const schemaAssignments = `
CREATE TABLE IF NOT EXISTS assignment_types (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS assignments (
    id TEXT PRIMARY KEY,
    vehicle_id TEXT,
    driver_id TEXT,
    type TEXT,
    created_at TIMESTAMP NOT NULL
);
`

// schemaRefuelRecords holds odometer events. refuel_date is stored as a
// YYYY-MM-DD string so ordering is identical on both drivers.
// vehicle_id and odometer_difference are nullable: imported legacy rows
// may lack either, and the health checks count them.
const schemaRefuelRecords = `
CREATE TABLE IF NOT EXISTS refuel_records (
    id TEXT PRIMARY KEY,
    vehicle_id TEXT,
    driver_id TEXT,
    refuel_date TEXT NOT NULL,
    odometer_reading INTEGER NOT NULL,
    odometer_difference INTEGER,
    liters DOUBLE PRECISION NOT NULL DEFAULT 0,
    cost_per_liter DOUBLE PRECISION NOT NULL DEFAULT 0,
    notes TEXT,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_refuel_records_vehicle ON refuel_records(vehicle_id, refuel_date, odometer_reading);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaDepartments,
		schemaVehicles,
		schemaDrivers,
		schemaAssignments,
		schemaRefuelRecords,
	}
}

// scannableTables lists the tables and columns the health scorer may read.
var scannableTables = map[string][]string{
	"refuel_records":   {"id", "vehicle_id", "driver_id", "refuel_date", "odometer_reading", "odometer_difference", "liters", "cost_per_liter", "notes", "created_at"},
	"vehicles":         {"id", "license_plate", "internal_number", "status", "current_mileage", "department_id", "created_at"},
	"drivers":          {"id", "full_name", "code", "created_at"},
	"assignments":      {"id", "vehicle_id", "driver_id", "type", "created_at"},
	"assignment_types": {"id", "name"},
	"departments":      {"id", "name", "created_at"},
}
