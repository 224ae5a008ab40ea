package odometer

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/opensource-fleet/fleetwatch/internal/domain"
)

func TestLatestSupersedes(t *testing.T) {
	store := newMemStore()
	store.add("e1", "veh-001", day(1), 100, nil)

	var calls atomic.Int32
	entered := make(chan struct{})
	store.listHook = func(ctx context.Context) error {
		if calls.Add(1) == 1 {
			close(entered)
			<-ctx.Done()
			return ctx.Err()
		}
		return nil
	}

	latest := NewLatest(NewValidator(store, domain.DefaultOdometerConfig()))
	ctx := context.Background()

	firstErr := make(chan error, 1)
	go func() {
		_, err := latest.Validate(ctx, "form-1/odometer", ValidateInput{VehicleID: "veh-001", Reading: 150, Date: day(2)})
		firstErr <- err
	}()

	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("first validation never started")
	}

	verdict, err := latest.Validate(ctx, "form-1/odometer", ValidateInput{VehicleID: "veh-001", Reading: 160, Date: day(2)})
	if err != nil {
		t.Fatalf("second validation failed: %v", err)
	}
	if !verdict.IsValid {
		t.Errorf("expected valid verdict, got %v", verdict.Errors)
	}

	select {
	case err := <-firstErr:
		if !errors.Is(err, ErrSuperseded) {
			t.Errorf("expected ErrSuperseded, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("first validation was not cancelled")
	}

	if n := latest.InFlight(); n != 0 {
		t.Errorf("expected no validations in flight, got %d", n)
	}
}

func TestLatestIndependentKeys(t *testing.T) {
	store := newMemStore()
	store.add("e1", "veh-001", day(1), 100, nil)
	latest := NewLatest(NewValidator(store, domain.DefaultOdometerConfig()))
	ctx := context.Background()

	for _, key := range []string{"form-1/odometer", "form-2/odometer"} {
		if _, err := latest.Validate(ctx, key, ValidateInput{VehicleID: "veh-001", Reading: 200, Date: day(2)}); err != nil {
			t.Errorf("key %s: unexpected error %v", key, err)
		}
	}
}

func TestLatestParentCancelled(t *testing.T) {
	store := newMemStore()
	store.addVehicle("veh-001", nil)
	latest := NewLatest(NewValidator(store, domain.DefaultOdometerConfig()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := latest.Validate(ctx, "k", ValidateInput{VehicleID: "veh-001", Reading: 1, Date: day(0)}); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
