package health

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/opensource-fleet/fleetwatch/internal/domain"
	"github.com/opensource-fleet/fleetwatch/internal/repository"
)

func newTestRepo(t *testing.T) domain.Repository {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "health-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpPath) })

	repo, err := repository.New(domain.RepositoryConfig{Driver: "sqlite", SQLitePath: tmpPath})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func ptr(v int64) *int64 { return &v }

func defaultScorer(t *testing.T, scanner domain.TableScanner) *Scorer {
	t.Helper()
	rs, err := DefaultRuleSet()
	if err != nil {
		t.Fatalf("DefaultRuleSet failed: %v", err)
	}
	s := NewScorer(scanner, rs)
	s.now = func() time.Time { return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC) }
	return s
}

func findIssue(result domain.TableResult, field string) *domain.Issue {
	for i := range result.Issues {
		if result.Issues[i].Field == field {
			return &result.Issues[i]
		}
	}
	return nil
}

func TestTableScore(t *testing.T) {
	tests := []struct {
		name   string
		total  int64
		issues []domain.Issue
		want   int
	}{
		{"empty table", 0, []domain.Issue{{Count: 5, Severity: domain.SeverityCritical}}, 100},
		{"no issues", 10, nil, 100},
		{"one medium of ten", 10, []domain.Issue{{Count: 1, Severity: domain.SeverityMedium}}, 98},
		{"all critical", 4, []domain.Issue{{Count: 4, Severity: domain.SeverityCritical}}, 0},
		{"floored at zero", 1, []domain.Issue{
			{Count: 1, Severity: domain.SeverityCritical},
			{Count: 1, Severity: domain.SeverityCritical},
		}, 0},
		{"unknown severity weighs one", 8, []domain.Issue{{Count: 8, Severity: "odd"}}, 88},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TableScore(tt.total, tt.issues); got != tt.want {
				t.Errorf("TableScore = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestOverallScore(t *testing.T) {
	if got := OverallScore(nil); got != 100 {
		t.Errorf("empty OverallScore = %d, want 100", got)
	}

	tables := []domain.TableResult{
		{Table: "a", TotalRecords: 3, Score: 100},
		{Table: "b", TotalRecords: 1, Score: 50},
		{Table: "c", TotalRecords: 0, Score: 0},
	}
	// (300 + 50) / 4 = 87.5
	if got := OverallScore(tables); got != 88 {
		t.Errorf("OverallScore = %d, want 88", got)
	}
}

func TestScoreDatabase(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	mustDo := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatalf("seed failed: %v", err)
		}
	}

	mustDo(repo.SaveVehicle(ctx, &domain.Vehicle{ID: "v1", LicensePlate: "AA-00-AA", CurrentMileage: ptr(1000)}))
	mustDo(repo.SaveVehicle(ctx, &domain.Vehicle{ID: "v2", LicensePlate: "", Status: "scrapped"}))
	mustDo(repo.SaveDriver(ctx, &domain.Driver{ID: "d1", FullName: "Ana Lima", Code: "A1"}))
	mustDo(repo.SaveDriver(ctx, &domain.Driver{ID: "d2", FullName: "Rui Dias"}))
	mustDo(repo.SaveAssignmentType(ctx, "t1", "pool"))
	mustDo(repo.SaveAssignment(ctx, &domain.Assignment{ID: "a1", VehicleID: "v1", DriverID: "d1", Type: "pool"}))
	mustDo(repo.SaveAssignment(ctx, &domain.Assignment{ID: "a2", VehicleID: "v1", DriverID: "d2", Type: "loan"}))

	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	events := []*domain.OdometerEvent{
		{ID: "e1", VehicleID: "v1", DriverID: "d1", OccurredAt: base, OdometerReading: 1000, LitersFilled: 40, CostPerLiter: 1.7},
		{ID: "e2", VehicleID: "v1", DriverID: "d1", OccurredAt: base.AddDate(0, 0, 5), OdometerReading: 900, DistanceSincePrevious: ptr(-100), LitersFilled: 250, CostPerLiter: 3.1},
		{ID: "e3", VehicleID: "v1", OccurredAt: base.AddDate(0, 0, 9), OdometerReading: 3000, DistanceSincePrevious: ptr(2100), LitersFilled: 30},
		{ID: "e4", DriverID: "d2", OccurredAt: base, OdometerReading: 50, LitersFilled: 10, CostPerLiter: 1.5},
	}
	for _, ev := range events {
		mustDo(repo.SaveEvent(ctx, ev))
	}

	s := defaultScorer(t, repo)
	report, err := s.ScoreDatabase(ctx)
	if err != nil {
		t.Fatalf("ScoreDatabase failed: %v", err)
	}

	byTable := make(map[string]domain.TableResult)
	for _, r := range report.Tables {
		byTable[r.Table] = r
		if r.Score < 0 || r.Score > 100 {
			t.Errorf("%s score %d out of range", r.Table, r.Score)
		}
	}

	t.Run("RefuelRecords", func(t *testing.T) {
		r := byTable["refuel_records"]
		if r.TotalRecords != 4 {
			t.Fatalf("expected 4 records, got %d", r.TotalRecords)
		}
		want := map[string]int64{
			"liters":         1,
			"cost_per_liter": 1,
			"vehicle_id":     1,
			"driver_id":      1,
		}
		for field, count := range want {
			issue := findIssue(r, field)
			if issue == nil || issue.Count != count {
				t.Errorf("%s: expected count %d, got %+v", field, count, issue)
			}
		}
		neg, jump := 0, 0
		for _, issue := range r.Issues {
			if issue.Field != "odometer_difference" {
				continue
			}
			if issue.Type == domain.IssueError {
				neg++
			} else {
				jump++
			}
		}
		if neg != 1 || jump != 1 {
			t.Errorf("expected one negative and one jump issue, got %d and %d", neg, jump)
		}
		// 1*4 + 1*2 + 1*2 + 1*2 + 1*8 + 1*8 = 26 of 32
		if r.Score != 19 {
			t.Errorf("expected score 19, got %d", r.Score)
		}
	})

	t.Run("Vehicles", func(t *testing.T) {
		r := byTable["vehicles"]
		if findIssue(r, "license_plate") == nil {
			t.Error("expected missing plate issue")
		}
		if findIssue(r, "status") == nil {
			t.Error("expected invalid status issue")
		}
		if findIssue(r, "current_mileage") != nil {
			t.Error("unexpected mileage issue")
		}
	})

	t.Run("Drivers", func(t *testing.T) {
		r := byTable["drivers"]
		if issue := findIssue(r, "code"); issue == nil || issue.Count != 1 {
			t.Errorf("expected one missing code, got %+v", issue)
		}
		if findIssue(r, "full_name") != nil {
			t.Error("unexpected missing name issue")
		}
	})

	t.Run("AssignmentsUseLookup", func(t *testing.T) {
		r := byTable["assignments"]
		if issue := findIssue(r, "type"); issue == nil || issue.Count != 1 {
			t.Errorf("expected one invalid type, got %+v", issue)
		}
	})

	t.Run("EmptyTableScoresFull", func(t *testing.T) {
		r := byTable["departments"]
		if r.TotalRecords != 0 || r.Score != 100 || len(r.Issues) != 0 {
			t.Errorf("unexpected departments result: %+v", r)
		}
	})

	t.Run("Markdown", func(t *testing.T) {
		md := report.Markdown
		for _, want := range []string{
			"# Database Validation Report\n\n",
			"## Overall Score: ",
			"### REFUEL_RECORDS\n- **Records**: 4\n",
			"  ❌ Records without vehicle reference: 1 records\n",
			"  ⚠️ Drivers without code: 1 records\n",
			"### DEPARTMENTS\n- **Records**: 0\n- **Score**: 100/100\n- **Issues**: None ✅\n\n",
		} {
			if !strings.Contains(md, want) {
				t.Errorf("markdown missing %q:\n%s", want, md)
			}
		}
	})
}

func TestAssignmentLookupSkippedWhenEmpty(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	if err := repo.SaveAssignment(ctx, &domain.Assignment{ID: "a1", Type: "anything"}); err != nil {
		t.Fatalf("SaveAssignment failed: %v", err)
	}

	r := defaultScorer(t, repo).ScoreTable(ctx, "assignments")
	if len(r.Issues) != 0 {
		t.Errorf("expected no issues without reference types, got %+v", r.Issues)
	}
}

type failingScanner struct {
	domain.TableScanner
	countErr error
	scanErr  error
}

func (f *failingScanner) CountRows(ctx context.Context, table string) (int64, error) {
	if f.countErr != nil {
		return 0, f.countErr
	}
	return 10, nil
}

func (f *failingScanner) ScanRows(ctx context.Context, table string, fn func(map[string]any) error) error {
	return f.scanErr
}

func (f *failingScanner) ListColumn(ctx context.Context, table, column string) ([]string, error) {
	return nil, nil
}

func TestScoreTableFailure(t *testing.T) {
	ctx := context.Background()

	t.Run("CountFails", func(t *testing.T) {
		s := defaultScorer(t, &failingScanner{countErr: errors.New("connection reset")})
		r := s.ScoreTable(ctx, "refuel_records")

		if len(r.Issues) != 1 {
			t.Fatalf("expected single general issue, got %+v", r.Issues)
		}
		issue := r.Issues[0]
		if issue.Field != "general" || issue.Severity != domain.SeverityCritical || issue.Count != 0 {
			t.Errorf("unexpected issue: %+v", issue)
		}
		if issue.Description != "Failed to validate refuel records" {
			t.Errorf("unexpected description %q", issue.Description)
		}
		if r.Score != 100 {
			t.Errorf("expected score 100 with no counted records, got %d", r.Score)
		}
	})

	t.Run("ScanFails", func(t *testing.T) {
		s := defaultScorer(t, &failingScanner{scanErr: errors.New("timeout")})
		r := s.ScoreTable(ctx, "drivers")

		if r.TotalRecords != 10 {
			t.Errorf("expected counted records to survive, got %d", r.TotalRecords)
		}
		if len(r.Issues) != 1 || r.Issues[0].Field != "general" {
			t.Errorf("expected general issue, got %+v", r.Issues)
		}
	})
}

func TestScoreDatabaseCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := defaultScorer(t, &failingScanner{})
	if _, err := s.ScoreDatabase(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
