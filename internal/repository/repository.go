// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/opensource-fleet/fleetwatch/internal/domain"
)

var (
	ErrNotFound     = domain.ErrNotFound
	ErrInvalidInput = errors.New("invalid input")
)

// dateLayout is the stored form of refuel_date.
const dateLayout = "2006-01-02"

// maxVehicleWindow bounds windowed history reads. Unlimited queries are
// left alone so the sanitizer can walk a full history.
const maxVehicleWindow = 50

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveEvent inserts an odometer event. An empty VehicleID is stored as NULL.
func (r *SQLRepository) SaveEvent(ctx context.Context, ev *domain.OdometerEvent) error {
	if ev == nil || ev.ID == "" {
		return fmt.Errorf("%w: event id is required", ErrInvalidInput)
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO refuel_records (
			id, vehicle_id, driver_id, refuel_date, odometer_reading,
			odometer_difference, liters, cost_per_liter, notes, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		ev.ID, nullString(ev.VehicleID), nullString(ev.DriverID),
		ev.OccurredAt.UTC().Format(dateLayout), ev.OdometerReading,
		nullInt(ev.DistanceSincePrevious), ev.LitersFilled, ev.CostPerLiter,
		ev.Notes, ev.CreatedAt,
	)
	return err
}

// UpdateEvent rewrites the mutable fields of an existing event.
func (r *SQLRepository) UpdateEvent(ctx context.Context, ev *domain.OdometerEvent) error {
	if ev == nil || ev.ID == "" {
		return fmt.Errorf("%w: event id is required", ErrInvalidInput)
	}

	query := `
		UPDATE refuel_records
		SET vehicle_id = ?, driver_id = ?, refuel_date = ?, odometer_reading = ?,
			odometer_difference = ?, liters = ?, cost_per_liter = ?, notes = ?
		WHERE id = ?
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query),
		nullString(ev.VehicleID), nullString(ev.DriverID),
		ev.OccurredAt.UTC().Format(dateLayout), ev.OdometerReading,
		nullInt(ev.DistanceSincePrevious), ev.LitersFilled, ev.CostPerLiter,
		ev.Notes, ev.ID,
	)
	if err != nil {
		return err
	}
	return expectOneRow(result)
}

// GetEvent retrieves an event by ID.
func (r *SQLRepository) GetEvent(ctx context.Context, eventID string) (*domain.OdometerEvent, error) {
	query := `SELECT ` + eventColumns + ` FROM refuel_records WHERE id = ?`

	ev, err := scanEvent(r.db.QueryRowContext(ctx, r.rebind(query), eventID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return ev, err
}

// ListEvents returns events ordered by (vehicle, date, reading).
// Rows without a vehicle are never returned.
func (r *SQLRepository) ListEvents(ctx context.Context, q domain.EventQuery) ([]*domain.OdometerEvent, error) {
	var (
		where = []string{"vehicle_id IS NOT NULL"}
		args  []any
	)
	if q.VehicleID != "" {
		where = append(where, "vehicle_id = ?")
		args = append(args, q.VehicleID)
	}
	if q.ExcludeID != "" {
		where = append(where, "id <> ?")
		args = append(args, q.ExcludeID)
	}

	dir := "ASC"
	if q.Descending {
		dir = "DESC"
	}

	query := fmt.Sprintf(
		`SELECT %s FROM refuel_records WHERE %s ORDER BY vehicle_id, refuel_date %s, odometer_reading %s, id %s`,
		eventColumns, strings.Join(where, " AND "), dir, dir, dir,
	)

	limit := q.Limit
	if limit > maxVehicleWindow {
		limit = maxVehicleWindow
	}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*domain.OdometerEvent
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}

	return events, rows.Err()
}

// SetDistanceSincePrevious overwrites the derived distance of one event.
func (r *SQLRepository) SetDistanceSincePrevious(ctx context.Context, eventID string, distance int64) error {
	query := `UPDATE refuel_records SET odometer_difference = ? WHERE id = ?`

	result, err := r.db.ExecContext(ctx, r.rebind(query), distance, eventID)
	if err != nil {
		return err
	}
	return expectOneRow(result)
}

// SaveVehicle inserts or replaces a vehicle.
func (r *SQLRepository) SaveVehicle(ctx context.Context, v *domain.Vehicle) error {
	if v == nil || v.ID == "" {
		return fmt.Errorf("%w: vehicle id is required", ErrInvalidInput)
	}
	if v.Status == "" {
		v.Status = domain.VehicleActive
	}
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO vehicles (
			id, license_plate, internal_number, status, current_mileage, department_id, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			license_plate = excluded.license_plate,
			internal_number = excluded.internal_number,
			status = excluded.status,
			current_mileage = excluded.current_mileage,
			department_id = excluded.department_id
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		v.ID, v.LicensePlate, v.InternalNumber, v.Status,
		nullInt(v.CurrentMileage), nullString(v.DepartmentID), v.CreatedAt,
	)
	return err
}

// GetVehicle retrieves a vehicle by ID.
func (r *SQLRepository) GetVehicle(ctx context.Context, vehicleID string) (*domain.Vehicle, error) {
	query := `
		SELECT id, license_plate, internal_number, status, current_mileage, department_id, created_at
		FROM vehicles
		WHERE id = ?
	`

	var (
		v                           domain.Vehicle
		plate, internal, department sql.NullString
		mileage                     sql.NullInt64
	)

	err := r.db.QueryRowContext(ctx, r.rebind(query), vehicleID).Scan(
		&v.ID, &plate, &internal, &v.Status, &mileage, &department, &v.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	v.LicensePlate = plate.String
	v.InternalNumber = internal.String
	v.DepartmentID = department.String
	if mileage.Valid {
		v.CurrentMileage = &mileage.Int64
	}

	return &v, nil
}

// CurrentMileage returns the vehicle's mileage snapshot.
func (r *SQLRepository) CurrentMileage(ctx context.Context, vehicleID string) (*int64, error) {
	query := `SELECT current_mileage FROM vehicles WHERE id = ?`

	var mileage sql.NullInt64
	err := r.db.QueryRowContext(ctx, r.rebind(query), vehicleID).Scan(&mileage)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if !mileage.Valid {
		return nil, nil
	}
	return &mileage.Int64, nil
}

// UpdateCurrentMileage overwrites the vehicle's mileage snapshot.
func (r *SQLRepository) UpdateCurrentMileage(ctx context.Context, vehicleID string, mileage int64) error {
	query := `UPDATE vehicles SET current_mileage = ? WHERE id = ?`

	result, err := r.db.ExecContext(ctx, r.rebind(query), mileage, vehicleID)
	if err != nil {
		return err
	}
	return expectOneRow(result)
}

// SaveDriver inserts a driver row.
func (r *SQLRepository) SaveDriver(ctx context.Context, d *domain.Driver) error {
	query := `INSERT INTO drivers (id, full_name, code, created_at) VALUES (?, ?, ?, ?)`
	_, err := r.db.ExecContext(ctx, r.rebind(query), d.ID, nullString(d.FullName), nullString(d.Code), time.Now().UTC())
	return err
}

// SaveDepartment inserts a department row.
func (r *SQLRepository) SaveDepartment(ctx context.Context, d *domain.Department) error {
	query := `INSERT INTO departments (id, name, created_at) VALUES (?, ?, ?)`
	_, err := r.db.ExecContext(ctx, r.rebind(query), d.ID, nullString(d.Name), time.Now().UTC())
	return err
}

// SaveAssignmentType inserts an allowed assignment type.
func (r *SQLRepository) SaveAssignmentType(ctx context.Context, id, name string) error {
	query := `INSERT INTO assignment_types (id, name) VALUES (?, ?)`
	_, err := r.db.ExecContext(ctx, r.rebind(query), id, name)
	return err
}

// SaveAssignment inserts an assignment row.
func (r *SQLRepository) SaveAssignment(ctx context.Context, a *domain.Assignment) error {
	query := `INSERT INTO assignments (id, vehicle_id, driver_id, type, created_at) VALUES (?, ?, ?, ?, ?)`
	_, err := r.db.ExecContext(ctx, r.rebind(query),
		a.ID, nullString(a.VehicleID), nullString(a.DriverID), nullString(a.Type), time.Now().UTC(),
	)
	return err
}

// CountRows returns the number of rows in a scannable table.
func (r *SQLRepository) CountRows(ctx context.Context, table string) (int64, error) {
	if _, ok := scannableTables[table]; !ok {
		return 0, fmt.Errorf("%w: unknown table %q", ErrInvalidInput, table)
	}

	var n int64
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n)
	return n, err
}

// ScanRows streams every row of a scannable table as a column map.
// Byte slices become strings and timestamps become RFC 3339 strings so
// rows look the same regardless of driver.
func (r *SQLRepository) ScanRows(ctx context.Context, table string, fn func(row map[string]any) error) error {
	columns, ok := scannableTables[table]
	if !ok {
		return fmt.Errorf("%w: unknown table %q", ErrInvalidInput, table)
	}

	rows, err := r.db.QueryContext(ctx, "SELECT "+strings.Join(columns, ", ")+" FROM "+table)
	if err != nil {
		return err
	}
	defer rows.Close()

	values := make([]any, len(columns))
	ptrs := make([]any, len(columns))
	for i := range values {
		ptrs[i] = &values[i]
	}

	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return err
		}

		row := make(map[string]any, len(columns))
		for i, col := range columns {
			row[col] = normalize(values[i])
		}
		if err := fn(row); err != nil {
			return err
		}
	}

	return rows.Err()
}

// ListColumn returns the non-null values of one column.
func (r *SQLRepository) ListColumn(ctx context.Context, table, column string) ([]string, error) {
	columns, ok := scannableTables[table]
	if !ok || !slices.Contains(columns, column) {
		return nil, fmt.Errorf("%w: unknown column %s.%s", ErrInvalidInput, table, column)
	}

	rows, err := r.db.QueryContext(ctx, fmt.Sprintf("SELECT %s FROM %s WHERE %s IS NOT NULL", column, table, column))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v any
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, fmt.Sprint(normalize(v)))
	}

	return out, rows.Err()
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}

const eventColumns = `id, vehicle_id, driver_id, refuel_date, odometer_reading,
	odometer_difference, liters, cost_per_liter, notes, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(s rowScanner) (*domain.OdometerEvent, error) {
	var (
		ev                     domain.OdometerEvent
		vehicle, driver, notes sql.NullString
		date                   string
		distance               sql.NullInt64
	)

	if err := s.Scan(
		&ev.ID, &vehicle, &driver, &date, &ev.OdometerReading,
		&distance, &ev.LitersFilled, &ev.CostPerLiter, &notes, &ev.CreatedAt,
	); err != nil {
		return nil, err
	}

	occurred, err := time.Parse(dateLayout, date)
	if err != nil {
		return nil, fmt.Errorf("event %s: malformed refuel_date %q: %w", ev.ID, date, err)
	}

	ev.OccurredAt = occurred
	ev.VehicleID = vehicle.String
	ev.DriverID = driver.String
	ev.Notes = notes.String
	if distance.Valid {
		ev.DistanceSincePrevious = &distance.Int64
	}

	return &ev, nil
}

func expectOneRow(result sql.Result) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func normalize(v any) any {
	switch t := v.(type) {
	case []byte:
		return string(t)
	case time.Time:
		return t.UTC().Format(time.RFC3339)
	case int32:
		return int64(t)
	case float32:
		return float64(t)
	default:
		return v
	}
}
