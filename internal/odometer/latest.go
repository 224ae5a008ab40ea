package odometer

import (
	"context"
	"sync"

	"github.com/opensource-fleet/fleetwatch/internal/domain"
	"github.com/opensource-fleet/fleetwatch/internal/metrics"
)

// Latest runs at most one validation per key. Starting a new validation
// for a key cancels the one in flight, which then returns ErrSuperseded.
// Keys identify an input field, e.g. a form session plus field name.
type Latest struct {
	validator *Validator

	mu       sync.Mutex
	inflight map[string]*flight
}

type flight struct {
	cancel     context.CancelFunc
	superseded bool
}

// NewLatest wraps a validator with per-key single-flight semantics.
func NewLatest(v *Validator) *Latest {
	return &Latest{
		validator: v,
		inflight:  make(map[string]*flight),
	}
}

// Validate validates in under key, superseding any earlier call for key.
func (l *Latest) Validate(ctx context.Context, key string, in ValidateInput) (*domain.ValidationVerdict, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	f := &flight{cancel: cancel}

	l.mu.Lock()
	if prev, ok := l.inflight[key]; ok {
		prev.superseded = true
		prev.cancel()
	}
	l.inflight[key] = f
	l.mu.Unlock()

	verdict := l.validator.Validate(ctx, in)

	l.mu.Lock()
	superseded := f.superseded
	if l.inflight[key] == f {
		delete(l.inflight, key)
	}
	l.mu.Unlock()

	if superseded {
		metrics.SupersededTotal.Inc()
		return nil, ErrSuperseded
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return verdict, nil
}

// InFlight returns the number of keys with a validation running.
func (l *Latest) InFlight() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.inflight)
}
