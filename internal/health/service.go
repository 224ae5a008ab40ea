package health

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/opensource-fleet/fleetwatch/internal/domain"
)

// Service serves health reports through a cache and announces fresh ones
// on the event bus. Cache and bus may be nil.
type Service struct {
	scorer *Scorer
	cache  domain.Cache
	bus    domain.EventBus
	ttl    time.Duration
}

// NewService creates a report service.
func NewService(scorer *Scorer, cache domain.Cache, bus domain.EventBus, ttl time.Duration) *Service {
	return &Service{scorer: scorer, cache: cache, bus: bus, ttl: ttl}
}

// Scorer returns the underlying scorer.
func (s *Service) Scorer() *Scorer {
	return s.scorer
}

// Report returns the cached report, or scores the database when there is
// none or refresh is set.
func (s *Service) Report(ctx context.Context, refresh bool) (*domain.HealthReport, error) {
	if !refresh {
		if report := s.cached(ctx); report != nil {
			return report, nil
		}
	}

	report, err := s.scorer.ScoreDatabase(ctx)
	if err != nil {
		return nil, err
	}

	s.store(ctx, report)
	s.announce(ctx, report)
	return report, nil
}

// Invalidate drops the cached report.
func (s *Service) Invalidate(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, domain.CacheKeyHealthReport); err != nil {
		slog.Warn("failed to invalidate health report", "error", err)
	}
}

func (s *Service) cached(ctx context.Context) *domain.HealthReport {
	if s.cache == nil {
		return nil
	}

	data, err := s.cache.Get(ctx, domain.CacheKeyHealthReport)
	if err != nil {
		slog.Warn("health report cache read failed", "error", err)
		return nil
	}
	if data == nil {
		return nil
	}

	var report domain.HealthReport
	if err := json.Unmarshal(data, &report); err != nil {
		slog.Warn("discarding corrupt cached health report", "error", err)
		return nil
	}
	report.Markdown = Markdown(&report)
	return &report
}

func (s *Service) store(ctx context.Context, report *domain.HealthReport) {
	if s.cache == nil {
		return
	}

	data, err := json.Marshal(report)
	if err != nil {
		slog.Error("failed to encode health report", "error", err)
		return
	}
	if err := s.cache.Set(ctx, domain.CacheKeyHealthReport, data, s.ttl); err != nil {
		slog.Warn("failed to cache health report", "error", err)
	}
}

func (s *Service) announce(ctx context.Context, report *domain.HealthReport) {
	if s.bus == nil {
		return
	}

	scores := make(map[string]int, len(report.Tables))
	for _, t := range report.Tables {
		scores[t.Table] = t.Score
	}
	payload, err := json.Marshal(domain.HealthScored{
		OverallScore: report.OverallScore,
		TableScores:  scores,
		GeneratedAt:  report.GeneratedAt.UnixMilli(),
	})
	if err != nil {
		return
	}
	if err := s.bus.Publish(ctx, domain.TopicHealthScored, payload); err != nil {
		slog.Warn("failed to publish health score", "error", err)
	}
}
