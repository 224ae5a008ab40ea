package main

import (
	"fmt"
	"log/slog"

	"github.com/opensource-fleet/fleetwatch/internal/api"
	"github.com/opensource-fleet/fleetwatch/internal/bus"
	"github.com/opensource-fleet/fleetwatch/internal/cache"
	"github.com/opensource-fleet/fleetwatch/internal/domain"
	"github.com/opensource-fleet/fleetwatch/internal/health"
	"github.com/opensource-fleet/fleetwatch/internal/odometer"
	"github.com/opensource-fleet/fleetwatch/internal/repository"
	"github.com/opensource-fleet/fleetwatch/internal/rules"
	"github.com/opensource-fleet/fleetwatch/internal/velocity"
)

// app holds the wired components shared by the subcommands.
type app struct {
	repo  domain.Repository
	cache domain.Cache
	bus   domain.EventBus

	validator *odometer.Validator
	sanitizer *odometer.Sanitizer
	recorder  *odometer.Recorder
	rates     *velocity.Service
	engine    *rules.Engine
	importer  *rules.Importer
	scorer    *health.Scorer
	reports   *health.Service
}

// newApp initializes every component from cfg. Components are closed in
// reverse order by close, including on a partial failure.
func newApp(cfg *domain.Config) (*app, error) {
	a := &app{}
	ready := false
	defer func() {
		if !ready {
			a.close()
		}
	}()

	var err error
	a.repo, err = repository.New(cfg.Repository)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize repository: %w", err)
	}
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	a.cache, err = cache.New(cfg.Cache)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cache: %w", err)
	}
	slog.Info("cache initialized", "type", cfg.Cache.Type, "two_phase", cfg.Cache.EnableTwoPhase)

	a.bus, err = bus.New(cfg.EventBus)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize event bus: %w", err)
	}
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	a.engine, err = rules.NewEngine(cfg.Odometer.SanitizerWorkers)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize rule engine: %w", err)
	}
	if err = a.engine.LoadRules(rules.DefaultFlagRules()); err != nil {
		return nil, fmt.Errorf("failed to load import rules: %w", err)
	}
	slog.Info("import rules loaded", "rules_count", a.engine.RulesCount())

	rs, err := loadHealthRules(cfg.Health)
	if err != nil {
		return nil, err
	}

	a.validator = odometer.NewValidator(a.repo, cfg.Odometer)
	a.sanitizer = odometer.NewSanitizer(a.repo, cfg.Odometer)
	a.recorder = odometer.NewRecorder(a.repo, a.validator, a.bus, a.cache)
	a.rates = velocity.NewService(a.repo, cfg.Odometer)
	a.importer = rules.NewImporter(a.engine, a.repo, cfg.Odometer)
	a.scorer = health.NewScorer(a.repo, rs)
	a.reports = health.NewService(a.scorer, a.cache, a.bus, cfg.Health.ReportTTL)

	ready = true
	return a, nil
}

func loadHealthRules(cfg domain.HealthConfig) (*health.RuleSet, error) {
	if cfg.RulesPath == "" {
		rs, err := health.DefaultRuleSet()
		if err != nil {
			return nil, fmt.Errorf("failed to load default health rules: %w", err)
		}
		return rs, nil
	}

	rs, err := health.LoadFile(cfg.RulesPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load health rules: %w", err)
	}
	slog.Info("health rules loaded", "path", cfg.RulesPath, "tables", len(rs.Tables()))
	return rs, nil
}

func (a *app) deps() api.Deps {
	return api.Deps{
		Repo:      a.repo,
		Cache:     a.cache,
		Bus:       a.bus,
		Validator: a.validator,
		Sanitizer: a.sanitizer,
		Recorder:  a.recorder,
		Rates:     a.rates,
		Importer:  a.importer,
		Engine:    a.engine,
		Reports:   a.reports,
	}
}

func (a *app) close() {
	if a.engine != nil {
		_ = a.engine.Close()
	}
	if a.bus != nil {
		if err := a.bus.Close(); err != nil {
			slog.Warn("failed to close event bus", "error", err)
		}
	}
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			slog.Warn("failed to close cache", "error", err)
		}
	}
	if a.repo != nil {
		if err := a.repo.Close(); err != nil {
			slog.Warn("failed to close repository", "error", err)
		}
	}
}
