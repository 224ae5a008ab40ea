// Package health scores the data quality of the fleet database.
//
// Each table is counted, its rows are streamed through the compiled CEL
// rules and every rule with offending rows becomes an Issue. Table scores
// weight issue counts by severity; the overall score is the
// record-weighted mean of the table scores.
package health

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/opensource-fleet/fleetwatch/internal/domain"
	"github.com/opensource-fleet/fleetwatch/internal/metrics"
)

var tracer = otel.Tracer("fleetwatch-health")

var printer = message.NewPrinter(language.English)

// Scorer computes health reports from a TableScanner.
type Scorer struct {
	scanner domain.TableScanner
	rules   atomic.Pointer[RuleSet]
	now     func() time.Time
}

// NewScorer creates a scorer using the given rule set.
func NewScorer(scanner domain.TableScanner, rs *RuleSet) *Scorer {
	s := &Scorer{scanner: scanner, now: time.Now}
	s.rules.Store(rs)
	return s
}

// SetRules swaps the active rule set. Running scans keep the set they
// started with.
func (s *Scorer) SetRules(rs *RuleSet) {
	s.rules.Store(rs)
}

// RuleSet returns the active rule set.
func (s *Scorer) RuleSet() *RuleSet {
	return s.rules.Load()
}

// ScoreDatabase scores every table of the active rule set.
func (s *Scorer) ScoreDatabase(ctx context.Context) (*domain.HealthReport, error) {
	ctx, span := tracer.Start(ctx, "health.ScoreDatabase")
	defer span.End()

	rs := s.rules.Load()
	report := &domain.HealthReport{
		Tables:      make([]domain.TableResult, 0, len(rs.tables)),
		GeneratedAt: s.now().UTC(),
	}

	tableScores := make(map[string]int, len(rs.tables))
	for _, table := range rs.tables {
		if err := ctx.Err(); err != nil {
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		result := s.scoreTable(ctx, rs, table)
		report.Tables = append(report.Tables, result)
		tableScores[table] = result.Score
	}

	report.OverallScore = OverallScore(report.Tables)
	report.Markdown = Markdown(report)

	span.SetAttributes(attribute.Int("overall_score", report.OverallScore))
	metrics.RecordHealthScore(report.OverallScore, tableScores)

	slog.Info("database health scored",
		"overall_score", report.OverallScore,
		"tables", len(report.Tables),
	)

	return report, nil
}

// ScoreTable scores a single table with the active rule set.
func (s *Scorer) ScoreTable(ctx context.Context, table string) domain.TableResult {
	return s.scoreTable(ctx, s.rules.Load(), table)
}

func (s *Scorer) scoreTable(ctx context.Context, rs *RuleSet, table string) domain.TableResult {
	ctx, span := tracer.Start(ctx, "health.ScoreTable")
	defer span.End()
	span.SetAttributes(attribute.String("table", table))

	result := domain.TableResult{Table: table, Issues: []domain.Issue{}}

	total, err := s.scanner.CountRows(ctx, table)
	if err != nil {
		return s.failed(span, result, err)
	}
	result.TotalRecords = total

	issues, err := s.evaluate(ctx, rs, table)
	if err != nil {
		return s.failed(span, result, err)
	}
	result.Issues = issues
	result.Score = TableScore(result.TotalRecords, result.Issues)

	span.SetAttributes(
		attribute.Int64("records", result.TotalRecords),
		attribute.Int("score", result.Score),
	)
	return result
}

// failed replaces the table's issues with a single critical issue. Partial
// counts from an interrupted scan are discarded.
func (s *Scorer) failed(span trace.Span, result domain.TableResult, err error) domain.TableResult {
	slog.Error("failed to score table", "table", result.Table, "error", err)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	result.Issues = []domain.Issue{{
		Type:        domain.IssueError,
		Field:       "general",
		Count:       0,
		Description: "Failed to validate " + strings.ReplaceAll(result.Table, "_", " "),
		Severity:    domain.SeverityCritical,
	}}
	result.Score = TableScore(result.TotalRecords, result.Issues)
	return result
}

func (s *Scorer) evaluate(ctx context.Context, rs *RuleSet, table string) ([]domain.Issue, error) {
	rules := rs.byTable[table]
	if len(rules) == 0 {
		return []domain.Issue{}, nil
	}

	lookups := make(map[string][]string)
	active := make([]*compiledRule, 0, len(rules))
	for _, r := range rules {
		if r.Lookup == nil {
			active = append(active, r)
			continue
		}
		if _, ok := lookups[r.Lookup.Name]; !ok {
			values, err := s.scanner.ListColumn(ctx, r.Lookup.Table, r.Lookup.Column)
			if err != nil {
				return nil, fmt.Errorf("failed to load lookup %s: %w", r.Lookup.Name, err)
			}
			lookups[r.Lookup.Name] = values
		}
		// Membership against an empty reference set would flag every row.
		if len(lookups[r.Lookup.Name]) > 0 {
			active = append(active, r)
		}
	}

	counts := make([]int64, len(active))
	err := s.scanner.ScanRows(ctx, table, func(row map[string]any) error {
		vars := map[string]any{"row": row, "lookups": lookups}
		for i, r := range active {
			out, _, err := r.program.Eval(vars)
			if err != nil {
				return fmt.Errorf("rule %s: %w", r.ID, err)
			}
			hit, ok := out.Value().(bool)
			if !ok {
				return fmt.Errorf("rule %s: expression returned %T, not bool", r.ID, out.Value())
			}
			if hit {
				counts[i]++
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	issues := []domain.Issue{}
	for i, r := range active {
		if counts[i] == 0 {
			continue
		}
		issues = append(issues, domain.Issue{
			Type:        r.Type,
			Field:       r.Field,
			Count:       counts[i],
			Description: r.Description,
			Severity:    r.Severity,
		})
	}
	return issues, nil
}

// TableScore maps weighted issue counts onto 0..100. An empty table
// scores 100.
func TableScore(totalRecords int64, issues []domain.Issue) int {
	if totalRecords <= 0 {
		return 100
	}

	var weighted float64
	for _, issue := range issues {
		weighted += float64(issue.Count) * float64(issue.Severity.Weight())
	}

	maxWeight := float64(totalRecords) * domain.MaxSeverityWeight
	score := math.Max(0, 100-(weighted/maxWeight)*100)
	return int(math.Round(score))
}

// OverallScore is the record-weighted mean of the table scores, or 100
// when no table has records.
func OverallScore(tables []domain.TableResult) int {
	var records, weighted int64
	for _, t := range tables {
		records += t.TotalRecords
		weighted += int64(t.Score) * t.TotalRecords
	}
	if records == 0 {
		return 100
	}
	return int(math.Round(float64(weighted) / float64(records)))
}

// Markdown renders the report as a human-readable document.
func Markdown(r *domain.HealthReport) string {
	var b strings.Builder

	b.WriteString("# Database Validation Report\n\n")
	fmt.Fprintf(&b, "Generated: %s\n\n", r.GeneratedAt.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(&b, "## Overall Score: %d/100\n\n", r.OverallScore)

	for _, t := range r.Tables {
		fmt.Fprintf(&b, "### %s\n", strings.ToUpper(t.Table))
		b.WriteString(printer.Sprintf("- **Records**: %d\n", t.TotalRecords))
		fmt.Fprintf(&b, "- **Score**: %d/100\n", t.Score)

		if len(t.Issues) > 0 {
			b.WriteString("- **Issues**:\n")
			for _, issue := range t.Issues {
				fmt.Fprintf(&b, "  %s %s: %d records\n", icon(issue.Type), issue.Description, issue.Count)
			}
		} else {
			b.WriteString("- **Issues**: None ✅\n")
		}
		b.WriteString("\n")
	}

	return b.String()
}

func icon(t domain.IssueType) string {
	switch t {
	case domain.IssueError:
		return "❌"
	case domain.IssueWarning:
		return "⚠️"
	case domain.IssueInfo:
		return "ℹ️"
	default:
		return "•"
	}
}
