package health

import (
	_ "embed"
	"fmt"
	"os"
	"slices"

	"github.com/google/cel-go/cel"
	"gopkg.in/yaml.v3"

	"github.com/opensource-fleet/fleetwatch/internal/domain"
)

//go:embed rules.yaml
var defaultRules []byte

// File is the YAML layout of a rule set.
type File struct {
	// Tables lists the tables to score, in report order.
	Tables []string            `yaml:"tables"`
	Rules  []domain.HealthRule `yaml:"rules"`
}

// RuleSet is a compiled, immutable set of health rules.
type RuleSet struct {
	tables  []string
	byTable map[string][]*compiledRule
}

type compiledRule struct {
	domain.HealthRule
	program cel.Program
}

var env *cel.Env

func init() {
	var err error
	env, err = cel.NewEnv(
		cel.Variable("row", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("lookups", cel.MapType(cel.StringType, cel.ListType(cel.StringType))),
		cel.CrossTypeNumericComparisons(true),
	)
	if err != nil {
		panic(fmt.Sprintf("health: failed to create CEL environment: %v", err))
	}
}

// DefaultRuleSet returns the embedded rule set.
func DefaultRuleSet() (*RuleSet, error) {
	return Parse(defaultRules)
}

// LoadFile reads and compiles a YAML rule set.
func LoadFile(path string) (*RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rule set: %w", err)
	}
	return Parse(data)
}

// Parse decodes and compiles a YAML rule set.
func Parse(data []byte) (*RuleSet, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse rule set: %w", err)
	}
	return Compile(f.Tables, f.Rules)
}

// Compile builds a rule set. Tables without rules are still scored.
func Compile(tables []string, rules []domain.HealthRule) (*RuleSet, error) {
	rs := &RuleSet{
		tables:  slices.Clone(tables),
		byTable: make(map[string][]*compiledRule),
	}

	seen := make(map[string]bool)
	for _, r := range rules {
		if r.ID == "" || r.Table == "" {
			return nil, fmt.Errorf("rule %q: id and table are required", r.ID)
		}
		if seen[r.ID] {
			return nil, fmt.Errorf("rule %q: duplicate id", r.ID)
		}
		seen[r.ID] = true

		switch r.Type {
		case domain.IssueError, domain.IssueWarning, domain.IssueInfo:
		default:
			return nil, fmt.Errorf("rule %s: unknown type %q", r.ID, r.Type)
		}
		switch r.Severity {
		case domain.SeverityLow, domain.SeverityMedium, domain.SeverityHigh, domain.SeverityCritical:
		default:
			return nil, fmt.Errorf("rule %s: unknown severity %q", r.ID, r.Severity)
		}
		if r.Lookup != nil && (r.Lookup.Name == "" || r.Lookup.Table == "" || r.Lookup.Column == "") {
			return nil, fmt.Errorf("rule %s: lookup needs name, table and column", r.ID)
		}

		ast, issues := env.Compile(r.Expression)
		if issues != nil && issues.Err() != nil {
			return nil, fmt.Errorf("failed to compile rule %s: %w", r.ID, issues.Err())
		}
		if ast.OutputType() != cel.BoolType && ast.OutputType() != cel.DynType {
			return nil, fmt.Errorf("rule %s: expression must return bool, got %s", r.ID, ast.OutputType())
		}
		program, err := env.Program(ast)
		if err != nil {
			return nil, fmt.Errorf("failed to create program for rule %s: %w", r.ID, err)
		}

		rs.byTable[r.Table] = append(rs.byTable[r.Table], &compiledRule{HealthRule: r, program: program})
		if !slices.Contains(rs.tables, r.Table) {
			rs.tables = append(rs.tables, r.Table)
		}
	}

	return rs, nil
}

// Tables returns the scored tables in report order.
func (rs *RuleSet) Tables() []string {
	return slices.Clone(rs.tables)
}

// Rules returns the rule definitions for a table.
func (rs *RuleSet) Rules(table string) []domain.HealthRule {
	out := make([]domain.HealthRule, 0, len(rs.byTable[table]))
	for _, r := range rs.byTable[table] {
		out = append(out, r.HealthRule)
	}
	return out
}
