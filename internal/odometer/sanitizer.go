package odometer

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/opensource-fleet/fleetwatch/internal/domain"
	"github.com/opensource-fleet/fleetwatch/internal/metrics"
	"github.com/opensource-fleet/fleetwatch/internal/velocity"
)

// Sanitizer recomputes the derived distance of every event.
type Sanitizer struct {
	store domain.EventStore
	cfg   domain.OdometerConfig
}

// NewSanitizer creates a sanitizer writing through store.
func NewSanitizer(store domain.EventStore, cfg domain.OdometerConfig) *Sanitizer {
	return &Sanitizer{store: store, cfg: cfg}
}

type groupResult struct {
	fixed    int
	warnings []string
}

// Sanitize walks the history of one vehicle, or of every vehicle when
// vehicleID is empty, and corrects derived distances. Vehicle groups run
// in parallel; records inside a group are walked strictly in order.
// A failed write abandons the rest of that vehicle's group only.
func (s *Sanitizer) Sanitize(ctx context.Context, vehicleID string) (*domain.SanitizeResult, error) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "odometer.Sanitize",
		trace.WithAttributes(attribute.String("vehicle_id", vehicleID)),
	)
	defer span.End()

	events, err := s.store.ListEvents(ctx, domain.EventQuery{VehicleID: vehicleID})
	if err != nil {
		return nil, fmt.Errorf("failed to load events: %w", err)
	}

	groups := groupByVehicle(events)
	ids := make([]string, 0, len(groups))
	for id := range groups {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	results := make([]groupResult, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(s.cfg.SanitizerWorkers, 1))
	for i, id := range ids {
		g.Go(func() error {
			results[i] = s.walk(gctx, id, groups[id])
			return nil
		})
	}
	_ = g.Wait()

	result := &domain.SanitizeResult{
		Warnings:          []string{},
		VehiclesProcessed: len(ids),
	}
	for _, r := range results {
		result.FixedCount += r.fixed
		result.Warnings = append(result.Warnings, r.warnings...)
	}
	result.DurationMs = time.Since(start).Milliseconds()

	span.SetAttributes(
		attribute.Int("fixed_count", result.FixedCount),
		attribute.Int("warnings", len(result.Warnings)),
	)
	metrics.RecordSanitize(result.FixedCount, len(result.Warnings), time.Since(start))

	slog.Info("sanitize completed",
		"vehicle_id", vehicleID,
		"vehicles", result.VehiclesProcessed,
		"fixed_count", result.FixedCount,
		"warnings", len(result.Warnings),
		"duration_ms", result.DurationMs,
	)

	if err := ctx.Err(); err != nil {
		return result, err
	}
	return result, nil
}

// walk corrects one vehicle's events, which must already be sorted.
func (s *Sanitizer) walk(ctx context.Context, vehicleID string, events []*domain.OdometerEvent) groupResult {
	var r groupResult

	for i, cur := range events {
		var expected int64
		if i > 0 {
			expected = cur.OdometerReading - events[i-1].OdometerReading
		}

		if cur.DistanceSincePrevious == nil || *cur.DistanceSincePrevious != expected {
			if err := s.store.SetDistanceSincePrevious(ctx, cur.ID, expected); err != nil {
				slog.Error("failed to store derived distance",
					"vehicle_id", vehicleID,
					"event_id", cur.ID,
					"error", err,
				)
				r.warnings = append(r.warnings,
					fmt.Sprintf("Record %s: could not store distance, skipped remaining records of vehicle %s", cur.ID, vehicleID))
				return r
			}
			r.fixed++
		}

		if expected < 0 {
			r.warnings = append(r.warnings, printer.Sprintf("Record %s: negative distance (%s km)", cur.ID, km(expected)))
		}
		if expected > s.cfg.BulkJump {
			r.warnings = append(r.warnings, printer.Sprintf("Record %s: very large jump (%s km)", cur.ID, km(expected)))
		}
	}

	return r
}

// groupByVehicle splits events per vehicle, each sorted by
// (date, reading). The event id breaks remaining ties so the walk is
// reproducible.
func groupByVehicle(events []*domain.OdometerEvent) map[string][]*domain.OdometerEvent {
	groups := make(map[string][]*domain.OdometerEvent)
	for _, ev := range events {
		groups[ev.VehicleID] = append(groups[ev.VehicleID], ev)
	}

	for _, g := range groups {
		slices.SortFunc(g, func(a, b *domain.OdometerEvent) int {
			return cmp.Or(
				velocity.CalendarDate(a.OccurredAt).Compare(velocity.CalendarDate(b.OccurredAt)),
				cmp.Compare(a.OdometerReading, b.OdometerReading),
				cmp.Compare(a.ID, b.ID),
			)
		})
	}

	return groups
}
