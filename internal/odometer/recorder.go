package odometer

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-fleet/fleetwatch/internal/domain"
	"github.com/opensource-fleet/fleetwatch/internal/velocity"
)

// Recorder persists new and amended odometer events after validating them.
type Recorder struct {
	repo      domain.Repository
	validator *Validator
	bus       domain.EventBus
	cache     domain.Cache
}

// NewRecorder creates a recorder. bus and cache may be nil.
func NewRecorder(repo domain.Repository, validator *Validator, bus domain.EventBus, cache domain.Cache) *Recorder {
	return &Recorder{
		repo:      repo,
		validator: validator,
		bus:       bus,
		cache:     cache,
	}
}

// Record validates and stores a new event. An invalid verdict is returned
// as a *RejectedError and nothing is written.
func (r *Recorder) Record(ctx context.Context, ev *domain.OdometerEvent) (*domain.ValidationVerdict, error) {
	if ev.VehicleID == "" {
		return nil, domain.ErrVehicleRequired
	}
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	ev.OccurredAt = velocity.CalendarDate(ev.OccurredAt)
	ev.CreatedAt = time.Now().UTC()

	verdict := r.validator.Validate(ctx, ValidateInput{
		VehicleID: ev.VehicleID,
		Reading:   float64(ev.OdometerReading),
		Date:      ev.OccurredAt,
	})
	if !verdict.IsValid {
		return verdict, &RejectedError{Verdict: verdict}
	}

	if err := r.derive(ctx, ev); err != nil {
		return verdict, err
	}
	if err := r.repo.SaveEvent(ctx, ev); err != nil {
		return verdict, fmt.Errorf("failed to save event: %w", err)
	}

	r.afterWrite(ctx, ev, "", false)
	return verdict, nil
}

// Amend re-validates an edited event, ignoring its stored version, and
// overwrites it.
func (r *Recorder) Amend(ctx context.Context, ev *domain.OdometerEvent) (*domain.ValidationVerdict, error) {
	existing, err := r.repo.GetEvent(ctx, ev.ID)
	if err != nil {
		return nil, err
	}
	if ev.VehicleID == "" {
		ev.VehicleID = existing.VehicleID
	}
	ev.OccurredAt = velocity.CalendarDate(ev.OccurredAt)
	ev.CreatedAt = existing.CreatedAt

	verdict := r.validator.Validate(ctx, ValidateInput{
		VehicleID:      ev.VehicleID,
		Reading:        float64(ev.OdometerReading),
		Date:           ev.OccurredAt,
		ExcludeEventID: ev.ID,
	})
	if !verdict.IsValid {
		return verdict, &RejectedError{Verdict: verdict}
	}

	if err := r.derive(ctx, ev); err != nil {
		return verdict, err
	}
	if err := r.repo.UpdateEvent(ctx, ev); err != nil {
		return verdict, fmt.Errorf("failed to update event: %w", err)
	}

	previous := ""
	if existing.VehicleID != ev.VehicleID {
		previous = existing.VehicleID
	}
	r.afterWrite(ctx, ev, previous, true)
	return verdict, nil
}

// derive sets DistanceSincePrevious from the chronological predecessor.
func (r *Recorder) derive(ctx context.Context, ev *domain.OdometerEvent) error {
	history, err := r.repo.ListEvents(ctx, domain.EventQuery{
		VehicleID: ev.VehicleID,
		ExcludeID: ev.ID,
	})
	if err != nil {
		return fmt.Errorf("failed to load history: %w", err)
	}

	var prev *domain.OdometerEvent
	for _, h := range history {
		order := cmp.Or(
			velocity.CalendarDate(h.OccurredAt).Compare(ev.OccurredAt),
			cmp.Compare(h.OdometerReading, ev.OdometerReading),
		)
		if order > 0 {
			break
		}
		prev = h
	}

	var distance int64
	if prev != nil {
		distance = ev.OdometerReading - prev.OdometerReading
	}
	ev.DistanceSincePrevious = &distance
	return nil
}

// afterWrite advances the mileage snapshot and announces the event.
// previousVehicle names the vehicle an amended event was moved off, if any.
// Failures here are logged; the event itself is already stored.
func (r *Recorder) afterWrite(ctx context.Context, ev *domain.OdometerEvent, previousVehicle string, amended bool) {
	snapshot, err := r.repo.CurrentMileage(ctx, ev.VehicleID)
	if err == nil && (snapshot == nil || ev.OdometerReading > *snapshot) {
		err = r.repo.UpdateCurrentMileage(ctx, ev.VehicleID, ev.OdometerReading)
	}
	if err != nil {
		slog.Warn("failed to advance mileage snapshot",
			"vehicle_id", ev.VehicleID,
			"event_id", ev.ID,
			"error", err,
		)
	}

	if r.cache != nil {
		if err := r.cache.Delete(ctx, domain.CacheKeyHealthReport); err != nil {
			slog.Warn("failed to invalidate health report", "error", err)
		}
	}

	if r.bus == nil {
		return
	}
	payload, _ := json.Marshal(domain.RefuelRecorded{
		EventID:   ev.ID,
		VehicleID: ev.VehicleID,
		Reading:   ev.OdometerReading,
		Amended:   amended,

		PreviousVehicleID: previousVehicle,
	})
	if err := r.bus.Publish(ctx, domain.TopicRefuelRecorded, payload); err != nil {
		slog.Warn("failed to publish refuel event",
			"event_id", ev.ID,
			"error", err,
		)
	}
}
