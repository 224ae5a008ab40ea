package domain

import (
	"time"
)

// OdometerEvent is a single recorded odometer reading, usually captured
// together with a refuel.
type OdometerEvent struct {
	ID        string `json:"id"`
	VehicleID string `json:"vehicleId"`
	DriverID  string `json:"driverId,omitempty"`

	// OccurredAt is the calendar date of the reading.
	OccurredAt time.Time `json:"occurredAt"`

	// OdometerReading is the absolute odometer value in km.
	OdometerReading int64 `json:"odometerReading"`

	// DistanceSincePrevious is derived from the chronologically previous
	// event of the same vehicle. Nil until computed.
	DistanceSincePrevious *int64 `json:"distanceSincePrevious"`

	LitersFilled float64 `json:"litersFilled"`
	CostPerLiter float64 `json:"costPerLiter"`
	Notes        string  `json:"notes,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
}

// Vehicle is the fleet asset owning odometer events.
type Vehicle struct {
	ID             string `json:"id"`
	LicensePlate   string `json:"licensePlate"`
	InternalNumber string `json:"internalNumber,omitempty"`
	Status         string `json:"status"`

	// CurrentMileage is a cached snapshot that may lag behind events.
	CurrentMileage *int64 `json:"currentMileage"`

	DepartmentID string    `json:"departmentId,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Vehicle statuses.
const (
	VehicleActive      = "active"
	VehicleMaintenance = "maintenance"
	VehicleInactive    = "inactive"
	VehicleRetired     = "retired"
)

// Driver, Department and Assignment are reference rows scored by the
// database health checks.
type Driver struct {
	ID       string `json:"id"`
	FullName string `json:"fullName"`
	Code     string `json:"code"`
}

type Department struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Assignment struct {
	ID        string `json:"id"`
	VehicleID string `json:"vehicleId"`
	DriverID  string `json:"driverId"`
	Type      string `json:"type"`
}

// ValidationVerdict is the outcome of validating one candidate reading.
// Errors block acceptance; warnings and suggestions are advisory.
type ValidationVerdict struct {
	IsValid     bool     `json:"isValid"`
	Errors      []string `json:"errors"`
	Warnings    []string `json:"warnings"`
	Suggestions []string `json:"suggestions"`

	LastKnownReading *int64     `json:"lastKnownReading,omitempty"`
	LastKnownDate    *time.Time `json:"lastKnownDate,omitempty"`
	EstimatedReading *int64     `json:"estimatedReading,omitempty"`
}

// NewVerdict returns an empty valid verdict with non-nil slices.
func NewVerdict() *ValidationVerdict {
	return &ValidationVerdict{
		IsValid:     true,
		Errors:      []string{},
		Warnings:    []string{},
		Suggestions: []string{},
	}
}

// Quiet reports whether the verdict raised nothing at all.
func (v *ValidationVerdict) Quiet() bool {
	return len(v.Errors) == 0 && len(v.Warnings) == 0 && len(v.Suggestions) == 0
}

// LastReading is the most recent event for a vehicle.
type LastReading struct {
	VehicleID string    `json:"vehicleId"`
	Reading   int64     `json:"reading"`
	Date      time.Time `json:"date"`
	EventID   string    `json:"eventId"`
}

// RateProfile describes a vehicle's typical daily distance.
type RateProfile struct {
	VehicleID             string  `json:"vehicleId"`
	AverageDistancePerDay float64 `json:"averageDistancePerDay"`
	SamplePairs           int     `json:"samplePairs"`
	Fallback              bool    `json:"fallback"`
}

// SanitizeResult summarizes a bulk sanitizer run.
type SanitizeResult struct {
	FixedCount        int      `json:"fixedCount"`
	Warnings          []string `json:"warnings"`
	VehiclesProcessed int      `json:"vehiclesProcessed"`
	DurationMs        int64    `json:"durationMs"`
}
