// Package worker reacts to fleet events published on the EventBus.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-fleet/fleetwatch/internal/domain"
)

// Sanitizer recomputes derived distances for a vehicle.
type Sanitizer interface {
	Sanitize(ctx context.Context, vehicleID string) (*domain.SanitizeResult, error)
}

// Worker re-sanitizes a vehicle's history after each recorded or amended
// refuel. A back-dated insert changes the derived distance of every later
// event, so the whole vehicle is walked again.
type Worker struct {
	bus       domain.EventBus
	sanitizer Sanitizer
	cache     domain.Cache

	mu            sync.Mutex
	subscriptions []domain.Subscription
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// NewWorker creates a new async worker. cache may be nil.
func NewWorker(bus domain.EventBus, sanitizer Sanitizer, cache domain.Cache) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:       bus,
		sanitizer: sanitizer,
		cache:     cache,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start subscribes to recorded refuels.
func (w *Worker) Start() error {
	sub, err := w.bus.Subscribe(w.ctx, domain.TopicRefuelRecorded, w.handleRefuel)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", domain.TopicRefuelRecorded, err)
	}

	w.mu.Lock()
	w.subscriptions = append(w.subscriptions, sub)
	w.mu.Unlock()

	slog.Info("worker started", "topic", domain.TopicRefuelRecorded)
	return nil
}

func (w *Worker) handleRefuel(ctx context.Context, msg *domain.Message) error {
	w.wg.Add(1)
	defer w.wg.Done()

	var ev domain.RefuelRecorded
	if err := json.Unmarshal(msg.Payload, &ev); err != nil {
		slog.Error("failed to parse refuel message",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}
	if ev.VehicleID == "" {
		return errors.New("refuel message without vehicle id")
	}

	if err := w.resanitize(ctx, ev, ev.VehicleID); err != nil {
		return err
	}
	// The vehicle an amend moved the event off lost a record mid-history.
	if ev.PreviousVehicleID != "" && ev.PreviousVehicleID != ev.VehicleID {
		return w.resanitize(ctx, ev, ev.PreviousVehicleID)
	}
	return nil
}

func (w *Worker) resanitize(ctx context.Context, ev domain.RefuelRecorded, vehicleID string) error {
	start := time.Now()

	result, err := w.sanitizer.Sanitize(ctx, vehicleID)
	if err != nil {
		slog.Error("re-sanitize failed",
			"vehicle_id", vehicleID,
			"event_id", ev.EventID,
			"error", err,
		)
		return err
	}

	if result.FixedCount > 0 && w.cache != nil {
		if err := w.cache.Delete(ctx, domain.CacheKeyHealthReport); err != nil {
			slog.Warn("failed to invalidate health report", "error", err)
		}
	}

	payload, _ := json.Marshal(domain.SanitizeCompleted{
		VehicleID:  vehicleID,
		FixedCount: result.FixedCount,
		Warnings:   len(result.Warnings),
		DurationMs: result.DurationMs,
	})
	if err := w.bus.Publish(ctx, domain.TopicSanitizeCompleted, payload); err != nil {
		slog.Error("failed to publish sanitize result",
			"vehicle_id", vehicleID,
			"error", err,
		)
	}

	slog.Info("refuel processed",
		"event_id", ev.EventID,
		"vehicle_id", vehicleID,
		"amended", ev.Amended,
		"fixed_count", result.FixedCount,
		"warnings", len(result.Warnings),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return nil
}

// Stop unsubscribes and waits for in-flight messages.
func (w *Worker) Stop() error {
	w.cancel()

	w.mu.Lock()
	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil
	w.mu.Unlock()

	w.wg.Wait()

	slog.Info("worker stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
