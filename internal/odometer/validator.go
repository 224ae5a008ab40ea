// Package odometer validates odometer readings against vehicle history and
// repairs derived distances in bulk.
package odometer

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-fleet/fleetwatch/internal/domain"
	"github.com/opensource-fleet/fleetwatch/internal/metrics"
	"github.com/opensource-fleet/fleetwatch/internal/velocity"
)

var tracer = otel.Tracer("fleetwatch-odometer")

// Verdict messages that callers may match on.
const (
	MsgVehicleNotFound = "vehicle not found"
	MsgNotFinite       = "reading must be a finite number"
	MsgNegative        = "reading cannot be negative"
	MsgConsistent      = "reading looks consistent with history"
	MsgIncomplete      = "could not fully validate the reading"
)

// ValidateInput is a candidate reading for one vehicle.
type ValidateInput struct {
	VehicleID string
	Reading   float64
	Date      time.Time

	// ExcludeEventID drops the event being edited from the history.
	ExcludeEventID string
}

// Validator checks candidate readings against recent history.
type Validator struct {
	store domain.EventStore
	cfg   domain.OdometerConfig
}

// NewValidator creates a validator reading from store.
func NewValidator(store domain.EventStore, cfg domain.OdometerConfig) *Validator {
	return &Validator{store: store, cfg: cfg}
}

// Validate evaluates a candidate reading and returns a verdict. Store
// failures never surface as errors: they degrade to a warning so the
// caller can still let a user proceed.
func (v *Validator) Validate(ctx context.Context, in ValidateInput) *domain.ValidationVerdict {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "odometer.Validate",
		trace.WithAttributes(
			attribute.String("vehicle_id", in.VehicleID),
			attribute.Float64("reading", in.Reading),
		),
	)
	defer span.End()

	verdict, outcome := v.validate(ctx, in)

	span.SetAttributes(
		attribute.Bool("valid", verdict.IsValid),
		attribute.Int("warnings", len(verdict.Warnings)),
	)
	metrics.RecordVerdict(outcome, time.Since(start))

	return verdict
}

func (v *Validator) validate(ctx context.Context, in ValidateInput) (*domain.ValidationVerdict, string) {
	verdict := domain.NewVerdict()

	switch {
	case math.IsNaN(in.Reading) || math.IsInf(in.Reading, 0):
		reject(verdict, MsgNotFinite)
	case in.Reading < 0:
		reject(verdict, MsgNegative)
	case in.Reading > float64(v.cfg.MaxReading):
		reject(verdict, printer.Sprintf("reading exceeds the plausible maximum of %s km", km(v.cfg.MaxReading)))
	}
	if !verdict.IsValid {
		return verdict, metrics.OutcomeInvalid
	}

	reading := int64(math.Round(in.Reading))
	candidateDay := velocity.CalendarDate(in.Date)

	snapshot, err := v.store.CurrentMileage(ctx, in.VehicleID)
	if errors.Is(err, domain.ErrNotFound) {
		reject(verdict, MsgVehicleNotFound)
		return verdict, metrics.OutcomeInvalid
	}
	if err != nil {
		return v.degrade(verdict, in, err), metrics.OutcomeDegraded
	}

	window, err := v.store.ListEvents(ctx, domain.EventQuery{
		VehicleID:  in.VehicleID,
		ExcludeID:  in.ExcludeEventID,
		Limit:      v.cfg.HistoryWindow,
		Descending: true,
	})
	if err != nil {
		return v.degrade(verdict, in, err), metrics.OutcomeDegraded
	}

	var past, future []*domain.OdometerEvent
	for _, ev := range window {
		if velocity.CalendarDate(ev.OccurredAt).After(candidateDay) {
			future = append(future, ev)
		} else {
			past = append(past, ev)
		}
	}

	// The window is newest first, so the first past event is the latest
	// one on or before the candidate date.
	if len(past) > 0 {
		v.checkAgainstLast(verdict, reading, candidateDay, past[0], window)
	}

	if snapshot != nil && *snapshot > 0 && reading < *snapshot-v.cfg.SnapshotSlack {
		verdict.Warnings = append(verdict.Warnings,
			printer.Sprintf("reading is far below the vehicle's current mileage (%s km)", km(*snapshot)))
	}

	for _, ev := range future {
		if ev.OdometerReading < reading {
			verdict.Warnings = append(verdict.Warnings,
				printer.Sprintf("reading is above a later record %s (%s km on %s)", ev.ID, km(ev.OdometerReading), date(ev.OccurredAt)))
		}
	}

	if len(verdict.Warnings) == 0 && len(verdict.Errors) == 0 {
		verdict.Suggestions = append(verdict.Suggestions, MsgConsistent)
		return verdict, metrics.OutcomeConsistent
	}
	if !verdict.IsValid {
		return verdict, metrics.OutcomeInvalid
	}
	return verdict, metrics.OutcomeAdvisory
}

// checkAgainstLast compares the candidate with the latest past event.
func (v *Validator) checkAgainstLast(verdict *domain.ValidationVerdict, reading int64, candidateDay time.Time, last *domain.OdometerEvent, window []*domain.OdometerEvent) {
	lastReading := last.OdometerReading
	lastDate := last.OccurredAt
	verdict.LastKnownReading = &lastReading
	verdict.LastKnownDate = &lastDate

	if reading < lastReading {
		deficit := lastReading - reading
		if deficit > v.cfg.BackwardTolerance {
			reject(verdict, printer.Sprintf("reading is below the last record (%s km on %s): difference -%s km",
				km(lastReading), date(lastDate), km(deficit)))
		} else {
			verdict.Warnings = append(verdict.Warnings,
				printer.Sprintf("reading is slightly below the last record, check it: %s km vs %s km",
					km(reading), km(lastReading)))
		}
	}

	kmDiff := reading - lastReading
	days := velocity.DaysBetween(lastDate, candidateDay)
	if days < 0 {
		days = -days
	}

	if kmDiff > v.cfg.InteractiveJump {
		perDay := float64(kmDiff) / float64(max(days, 1))
		verdict.Warnings = append(verdict.Warnings,
			printer.Sprintf("very large increase: +%s km in %d days (%s km/day)", km(kmDiff), days, kmf(perDay)))
	}

	if days > 0 && float64(kmDiff)/float64(days) > v.cfg.DailyRateWarning {
		verdict.Warnings = append(verdict.Warnings,
			printer.Sprintf("daily average is very high: %s km/day", kmf(float64(kmDiff)/float64(days))))
	}

	if days > 0 {
		rate := velocity.EstimateDailyRate(window, v.cfg)
		estimated := int64(math.Round(float64(lastReading) + rate.PerDay*float64(days)))
		verdict.EstimatedReading = &estimated

		if math.Abs(float64(reading-estimated)) > v.cfg.EstimateMismatch {
			verdict.Suggestions = append(verdict.Suggestions,
				printer.Sprintf("based on history about %s km was expected (average %s km/day)", km(estimated), kmf(rate.PerDay)))
		}
	}
}

func (v *Validator) degrade(verdict *domain.ValidationVerdict, in ValidateInput, err error) *domain.ValidationVerdict {
	slog.Warn("odometer validation degraded",
		"vehicle_id", in.VehicleID,
		"error", err,
	)
	verdict.Warnings = append(verdict.Warnings, MsgIncomplete)
	return verdict
}

func reject(verdict *domain.ValidationVerdict, msg string) {
	verdict.IsValid = false
	verdict.Errors = append(verdict.Errors, msg)
}

// LastReading returns the most recent event of a vehicle by (date, reading).
func (v *Validator) LastReading(ctx context.Context, vehicleID string) (*domain.LastReading, error) {
	if vehicleID == "" {
		return nil, domain.ErrVehicleRequired
	}

	events, err := v.store.ListEvents(ctx, domain.EventQuery{
		VehicleID:  vehicleID,
		Limit:      1,
		Descending: true,
	})
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, domain.ErrNotFound
	}

	last := events[0]
	return &domain.LastReading{
		VehicleID: vehicleID,
		Reading:   last.OdometerReading,
		Date:      last.OccurredAt,
		EventID:   last.ID,
	}, nil
}
