// Package rules provides the CEL-Go based import flag engine.
package rules

import (
	"bytes"
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"text/template"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/opensource-fleet/fleetwatch/internal/domain"
)

// Engine evaluates flag rules against staged refuel records.
type Engine struct {
	mu            sync.RWMutex
	env           *cel.Env
	compiledRules map[string]*CompiledRule
	maxWorkers    int
}

// CompiledRule holds a pre-compiled CEL program and message template.
type CompiledRule struct {
	Config  *domain.FlagRule
	Program cel.Program
	Message *template.Template
}

// NewEngine creates a new flag evaluation engine.
func NewEngine(maxWorkers int) (*Engine, error) {
	if maxWorkers <= 0 {
		maxWorkers = 10
	}

	env, err := cel.NewEnv(
		cel.Variable("odometer", cel.IntType),
		cel.Variable("liters", cel.DoubleType),
		cel.Variable("last_odometer", cel.IntType),
		cel.Variable("has_history", cel.BoolType),
		cel.Variable("avg_efficiency", cel.DoubleType),
		cel.Variable("jump", cel.IntType),
		cel.Variable("km_per_liter", cel.DoubleType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Engine{
		env:           env,
		compiledRules: make(map[string]*CompiledRule),
		maxWorkers:    maxWorkers,
	}, nil
}

// ValidateRule compiles and validates a rule without mutating loaded engine rules.
func (e *Engine) ValidateRule(cfg *domain.FlagRule) error {
	if cfg == nil {
		return fmt.Errorf("rule config is required")
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	_, err := e.compileRule(cfg)
	return err
}

// LoadRule compiles and loads a rule into the engine.
func (e *Engine) LoadRule(cfg *domain.FlagRule) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	compiled, err := e.compileRule(cfg)
	if err != nil {
		return err
	}

	e.compiledRules[cfg.ID] = compiled

	return nil
}

// LoadRules compiles and loads multiple rules.
func (e *Engine) LoadRules(configs []*domain.FlagRule) error {
	for _, cfg := range configs {
		if cfg.Enabled {
			if err := e.LoadRule(cfg); err != nil {
				return err
			}
		}
	}
	return nil
}

// Evaluate runs every loaded rule for one staged record in parallel and
// returns the raised flags ordered by rule id.
func (e *Engine) Evaluate(ctx context.Context, recordID string, in domain.FlagInput) ([]domain.Flag, error) {
	e.mu.RLock()
	rules := make([]*CompiledRule, 0, len(e.compiledRules))
	for _, rule := range e.compiledRules {
		rules = append(rules, rule)
	}
	e.mu.RUnlock()

	if len(rules) == 0 {
		return nil, nil
	}
	slices.SortFunc(rules, func(a, b *CompiledRule) int {
		return strings.Compare(a.Config.ID, b.Config.ID)
	})

	activation := Activation(in)

	// Limit concurrency with semaphore
	raised := make([]*domain.Flag, len(rules))
	errs := make([]error, len(rules))
	sem := make(chan struct{}, e.maxWorkers)
	var wg sync.WaitGroup

	for i, rule := range rules {
		wg.Add(1)
		go func(idx int, r *CompiledRule) {
			defer wg.Done()

			sem <- struct{}{}        // Acquire
			defer func() { <-sem }() // Release

			if ctx.Err() != nil {
				errs[idx] = ctx.Err()
				return
			}
			raised[idx], errs[idx] = e.evaluateRule(r, recordID, activation)
		}(i, rule)
	}

	wg.Wait()

	var flags []domain.Flag
	for i, f := range raised {
		if errs[i] != nil {
			return nil, errs[i]
		}
		if f != nil {
			flags = append(flags, *f)
		}
	}
	return flags, nil
}

// Activation builds the CEL variables for a staged record.
func Activation(in domain.FlagInput) map[string]any {
	jump := in.Odometer - in.LastOdometer
	var kmPerLiter float64
	if in.Liters > 0 {
		kmPerLiter = float64(jump) / in.Liters
	}

	return map[string]any{
		"odometer":       in.Odometer,
		"liters":         in.Liters,
		"last_odometer":  in.LastOdometer,
		"has_history":    in.HasHistory,
		"avg_efficiency": in.AvgEfficiency,
		"jump":           jump,
		"km_per_liter":   kmPerLiter,
	}
}

// evaluateRule returns a flag when the rule fires, nil otherwise.
func (e *Engine) evaluateRule(rule *CompiledRule, recordID string, activation map[string]any) (*domain.Flag, error) {
	out, _, err := rule.Program.Eval(activation)
	if err != nil {
		return nil, fmt.Errorf("rule %s: evaluation error: %w", rule.Config.ID, err)
	}
	if out != types.True {
		return nil, nil
	}

	var msg bytes.Buffer
	if err := rule.Message.Execute(&msg, activation); err != nil {
		return nil, fmt.Errorf("rule %s: message error: %w", rule.Config.ID, err)
	}

	return &domain.Flag{
		RuleID:     rule.Config.ID,
		RecordID:   recordID,
		Severity:   rule.Config.Severity,
		Message:    msg.String(),
		Suggestion: rule.Config.Suggestion,
	}, nil
}

// RulesCount returns the number of loaded rules.
func (e *Engine) RulesCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.compiledRules)
}

// ReloadRules clears all existing rules and loads new ones.
func (e *Engine) ReloadRules(configs []*domain.FlagRule) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	newRules := make(map[string]*CompiledRule)

	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}

		compiled, err := e.compileRule(cfg)
		if err != nil {
			return err
		}
		newRules[cfg.ID] = compiled
	}

	e.compiledRules = newRules

	return nil
}

// GetLoadedRules returns the currently loaded rule configurations.
func (e *Engine) GetLoadedRules() []*domain.FlagRule {
	e.mu.RLock()
	defer e.mu.RUnlock()

	rules := make([]*domain.FlagRule, 0, len(e.compiledRules))
	for _, compiled := range e.compiledRules {
		rules = append(rules, compiled.Config)
	}
	slices.SortFunc(rules, func(a, b *domain.FlagRule) int {
		return strings.Compare(a.ID, b.ID)
	})
	return rules
}

// Close cleans up the engine.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.compiledRules = make(map[string]*CompiledRule)
	return nil
}

var funcs = template.FuncMap{
	"fixed": func(v float64) string { return fmt.Sprintf("%.2f", v) },
}

func (e *Engine) compileRule(cfg *domain.FlagRule) (*CompiledRule, error) {
	switch cfg.Severity {
	case domain.FlagError, domain.FlagWarning:
	default:
		return nil, fmt.Errorf("rule %s: unknown severity %q", cfg.ID, cfg.Severity)
	}

	ast, issues := e.env.Compile(cfg.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile rule %s: %w", cfg.ID, issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("rule %s: expression must return bool, got %s", cfg.ID, ast.OutputType())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for rule %s: %w", cfg.ID, err)
	}

	msg, err := template.New(cfg.ID).Funcs(funcs).Option("missingkey=error").Parse(cfg.Message)
	if err != nil {
		return nil, fmt.Errorf("rule %s: invalid message template: %w", cfg.ID, err)
	}

	return &CompiledRule{
		Config:  cfg,
		Program: program,
		Message: msg,
	}, nil
}
