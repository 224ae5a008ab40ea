package domain

import "time"

// IssueType classifies a health issue.
type IssueType string

const (
	IssueError   IssueType = "error"
	IssueWarning IssueType = "warning"
	IssueInfo    IssueType = "info"
)

// Severity weights a health issue in the table score.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Weight returns the penalty weight of s. Unknown severities weigh 1.
func (s Severity) Weight() int {
	switch s {
	case SeverityCritical:
		return 8
	case SeverityHigh:
		return 4
	case SeverityMedium:
		return 2
	default:
		return 1
	}
}

// MaxSeverityWeight normalizes table scores.
const MaxSeverityWeight = 8

// Issue is one failed check with the number of offending rows.
type Issue struct {
	Type        IssueType `json:"type"`
	Field       string    `json:"field"`
	Count       int64     `json:"count"`
	Description string    `json:"description"`
	Severity    Severity  `json:"severity"`
}

// TableResult is the health of a single table.
type TableResult struct {
	Table        string  `json:"table"`
	TotalRecords int64   `json:"totalRecords"`
	Issues       []Issue `json:"issues"`
	Score        int     `json:"score"`
}

// HealthReport is the scored state of the whole database.
type HealthReport struct {
	Tables       []TableResult `json:"tables"`
	OverallScore int           `json:"overallScore"`
	GeneratedAt  time.Time     `json:"generatedAt"`
	Markdown     string        `json:"-"`
}

// HealthRule is one declarative check over a table's rows.
type HealthRule struct {
	ID          string    `json:"id" yaml:"id"`
	Table       string    `json:"table" yaml:"table"`
	Field       string    `json:"field" yaml:"field"`
	Type        IssueType `json:"type" yaml:"type"`
	Severity    Severity  `json:"severity" yaml:"severity"`
	Description string    `json:"description" yaml:"description"`

	// Expression is a CEL predicate over `row` (and `lookups` when set)
	// that is true for offending rows.
	Expression string `json:"expression" yaml:"expression"`

	// Lookup loads a reference column into lookups[Name]. The rule is
	// skipped when the loaded set is empty.
	Lookup *HealthLookup `json:"lookup,omitempty" yaml:"lookup,omitempty"`
}

// HealthLookup names a reference column for membership checks.
type HealthLookup struct {
	Name   string `json:"name" yaml:"name"`
	Table  string `json:"table" yaml:"table"`
	Column string `json:"column" yaml:"column"`
}
