package odometer

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/opensource-fleet/fleetwatch/internal/domain"
)

// memStore is an in-memory domain.EventStore.
type memStore struct {
	mu       sync.Mutex
	vehicles map[string]*int64
	events   map[string]*domain.OdometerEvent

	listErr    error
	mileageErr error
	writeErr   map[string]error
	listHook   func(ctx context.Context) error
	writes     int
}

func newMemStore() *memStore {
	return &memStore{
		vehicles: make(map[string]*int64),
		events:   make(map[string]*domain.OdometerEvent),
		writeErr: make(map[string]error),
	}
}

func (m *memStore) addVehicle(id string, snapshot *int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vehicles[id] = snapshot
}

func (m *memStore) add(id, vehicleID string, on time.Time, reading int64, dist *int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.vehicles[vehicleID]; !ok {
		m.vehicles[vehicleID] = nil
	}
	m.events[id] = &domain.OdometerEvent{
		ID:                    id,
		VehicleID:             vehicleID,
		OccurredAt:            on,
		OdometerReading:       reading,
		DistanceSincePrevious: dist,
	}
}

func (m *memStore) distance(id string) *int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.events[id].DistanceSincePrevious
}

func (m *memStore) ListEvents(ctx context.Context, q domain.EventQuery) ([]*domain.OdometerEvent, error) {
	if m.listHook != nil {
		if err := m.listHook(ctx); err != nil {
			return nil, err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.listErr != nil {
		return nil, m.listErr
	}

	var out []*domain.OdometerEvent
	for _, ev := range m.events {
		if q.VehicleID != "" && ev.VehicleID != q.VehicleID {
			continue
		}
		if ev.ID == q.ExcludeID {
			continue
		}
		cp := *ev
		out = append(out, &cp)
	}

	slices.SortFunc(out, func(a, b *domain.OdometerEvent) int {
		c := cmp.Or(
			cmp.Compare(a.VehicleID, b.VehicleID),
			a.OccurredAt.Compare(b.OccurredAt),
			cmp.Compare(a.OdometerReading, b.OdometerReading),
			cmp.Compare(a.ID, b.ID),
		)
		if q.Descending {
			return -c
		}
		return c
	})

	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (m *memStore) CurrentMileage(ctx context.Context, vehicleID string) (*int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.mileageErr != nil {
		return nil, m.mileageErr
	}
	snapshot, ok := m.vehicles[vehicleID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return snapshot, nil
}

func (m *memStore) SetDistanceSincePrevious(ctx context.Context, eventID string, distance int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.writeErr[eventID]; err != nil {
		return err
	}
	ev, ok := m.events[eventID]
	if !ok {
		return domain.ErrNotFound
	}
	ev.DistanceSincePrevious = &distance
	m.writes++
	return nil
}

func day(d int) time.Time {
	return time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, d)
}

func ptr(v int64) *int64 { return &v }
