// Package velocity estimates how far a vehicle typically travels per day.
package velocity

import (
	"context"
	"fmt"
	"time"

	"github.com/opensource-fleet/fleetwatch/internal/domain"
)


// Estimate is the outcome of a rate estimation.
type Estimate struct {
	// PerDay is the average distance per day.
	PerDay float64

	// Pairs is the number of consecutive event pairs that passed the
	// plausibility filter.
	Pairs int

	// Fallback is true when PerDay is the configured default.
	Fallback bool
}

// EstimateDailyRate computes a robust average distance per day from events
// ordered newest first. Only the most recent events carrying a positive
// derived distance are considered, and a pair contributes only when both
// its day gap and distance are positive and the distance is below the
// plausibility ceiling. It performs no I/O.
func EstimateDailyRate(events []*domain.OdometerEvent, cfg domain.OdometerConfig) Estimate {
	fallback := Estimate{PerDay: cfg.FallbackRate, Fallback: true}

	if len(events) < 2 {
		return fallback
	}

	qualifying := make([]*domain.OdometerEvent, 0, cfg.RateSampleSize)
	for _, ev := range events {
		if ev.DistanceSincePrevious == nil || *ev.DistanceSincePrevious <= 0 {
			continue
		}
		qualifying = append(qualifying, ev)
		if len(qualifying) == cfg.RateSampleSize {
			break
		}
	}
	if len(qualifying) == 0 {
		return fallback
	}

	var totalKm, totalDays int64
	pairs := 0
	for i := 1; i < len(qualifying); i++ {
		newer, older := qualifying[i-1], qualifying[i]

		kmDiff := newer.OdometerReading - older.OdometerReading
		daysDiff := DaysBetween(older.OccurredAt, newer.OccurredAt)

		if daysDiff > 0 && kmDiff > 0 && kmDiff < cfg.RatePlausibility {
			totalKm += kmDiff
			totalDays += daysDiff
			pairs++
		}
	}

	if totalDays == 0 {
		return fallback
	}

	return Estimate{
		PerDay: float64(totalKm) / float64(totalDays),
		Pairs:  pairs,
	}
}

// DaysBetween returns the signed number of calendar days from a to b,
// comparing UTC dates and ignoring time of day.
func DaysBetween(a, b time.Time) int64 {
	return int64(CalendarDate(b).Sub(CalendarDate(a)).Hours() / 24)
}

// CalendarDate truncates t to midnight UTC of its UTC date.
func CalendarDate(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Service loads vehicle history and estimates its daily rate.
type Service struct {
	store domain.EventStore
	cfg   domain.OdometerConfig
}

// NewService creates a new velocity service.
func NewService(store domain.EventStore, cfg domain.OdometerConfig) *Service {
	return &Service{
		store: store,
		cfg:   cfg,
	}
}

// Profile returns the rate profile for a vehicle based on its recent
// history window.
func (s *Service) Profile(ctx context.Context, vehicleID string) (*domain.RateProfile, error) {
	if vehicleID == "" {
		return nil, domain.ErrVehicleRequired
	}

	events, err := s.store.ListEvents(ctx, domain.EventQuery{
		VehicleID:  vehicleID,
		Limit:      s.cfg.HistoryWindow,
		Descending: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}

	est := EstimateDailyRate(events, s.cfg)
	return &domain.RateProfile{
		VehicleID:             vehicleID,
		AverageDistancePerDay: est.PerDay,
		SamplePairs:           est.Pairs,
		Fallback:              est.Fallback,
	}, nil
}
