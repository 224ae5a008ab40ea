package rules

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/opensource-fleet/fleetwatch/internal/domain"
	"github.com/opensource-fleet/fleetwatch/internal/metrics"
)

// Flag ids raised outside the CEL rule set.
const (
	FlagSameDayOrder = "same_day_order"
	FlagInvalidDate  = "invalid_date"
)

// dateLayouts are the accepted staged date formats, tried in order.
var dateLayouts = []string{
	"2006-01-02",
	"02/01/2006",
	"02-01-2006",
	time.RFC3339,
}

// ParseRefuelDate parses a staged date as YYYY-MM-DD, DD/MM/YYYY,
// DD-MM-YYYY or RFC 3339 and returns midnight UTC of that calendar date.
// An RFC 3339 timestamp keeps the date of its own offset.
func ParseRefuelDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			y, m, d := t.Date()
			return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}

// RecordResult is the outcome of checking one staged record.
type RecordResult struct {
	Record domain.StagedRefuel `json:"record"`
	Flags  []domain.Flag       `json:"flags"`
}

// Report is the outcome of checking a staged import batch.
type Report struct {
	Records  []RecordResult `json:"records"`
	Errors   int            `json:"errors"`
	Warnings int            `json:"warnings"`

	// Blocked is true while any record carries an error flag.
	Blocked bool `json:"blocked"`
}

// Importer checks staged refuel records against stored vehicle history.
type Importer struct {
	engine *Engine
	store  domain.EventStore
	cfg    domain.OdometerConfig
}

// NewImporter creates an importer using engine's loaded rules.
func NewImporter(engine *Engine, store domain.EventStore, cfg domain.OdometerConfig) *Importer {
	return &Importer{engine: engine, store: store, cfg: cfg}
}

type vehicleContext struct {
	last       int64
	hasHistory bool
	efficiency float64
}

// Check flags every staged record. Each record is compared with the
// vehicle's last stored reading, not with other staged records; ordering
// inside the batch is covered by the same-day check.
func (im *Importer) Check(ctx context.Context, records []domain.StagedRefuel) (*Report, error) {
	contexts := make(map[string]vehicleContext)
	report := &Report{Records: make([]RecordResult, len(records))}

	for i, rec := range records {
		result := RecordResult{Record: rec, Flags: []domain.Flag{}}

		if _, err := ParseRefuelDate(rec.Date); err != nil {
			result.Flags = append(result.Flags, domain.Flag{
				RuleID:     FlagInvalidDate,
				RecordID:   rec.ID,
				Severity:   domain.FlagError,
				Message:    err.Error(),
				Suggestion: "Use YYYY-MM-DD, DD/MM/YYYY or DD-MM-YYYY",
			})
		}

		vc, ok := contexts[rec.VehicleID]
		if !ok {
			var err error
			vc, err = im.loadContext(ctx, rec.VehicleID)
			if err != nil {
				return nil, err
			}
			contexts[rec.VehicleID] = vc
		}

		flags, err := im.engine.Evaluate(ctx, rec.ID, domain.FlagInput{
			Odometer:      rec.Odometer,
			Liters:        rec.Liters,
			LastOdometer:  vc.last,
			HasHistory:    vc.hasHistory,
			AvgEfficiency: vc.efficiency,
		})
		if err != nil {
			return nil, err
		}
		result.Flags = append(result.Flags, flags...)
		report.Records[i] = result
	}

	for _, idx := range SameDayMisordered(records) {
		report.Records[idx].Flags = append(report.Records[idx].Flags, domain.Flag{
			RuleID:     FlagSameDayOrder,
			RecordID:   records[idx].ID,
			Severity:   domain.FlagWarning,
			Message:    "Multiple refuels on same day - check ordering",
			Suggestion: "Ensure odometer progression is positive",
		})
	}

	for _, r := range report.Records {
		for _, f := range r.Flags {
			metrics.ImportFlagsTotal.WithLabelValues(f.RuleID, f.Severity).Inc()
			if f.Severity == domain.FlagError {
				report.Errors++
			} else {
				report.Warnings++
			}
		}
	}
	report.Blocked = report.Errors > 0

	return report, nil
}

func (im *Importer) loadContext(ctx context.Context, vehicleID string) (vehicleContext, error) {
	events, err := im.store.ListEvents(ctx, domain.EventQuery{
		VehicleID:  vehicleID,
		Limit:      im.cfg.HistoryWindow,
		Descending: true,
	})
	if err != nil {
		return vehicleContext{}, fmt.Errorf("failed to load history for %s: %w", vehicleID, err)
	}
	if len(events) == 0 {
		return vehicleContext{}, nil
	}
	return vehicleContext{
		last:       events[0].OdometerReading,
		hasHistory: true,
		efficiency: AverageEfficiency(events),
	}, nil
}

// AverageEfficiency returns km per liter over events with a positive
// derived distance and fuel amount, or 0 when none qualify.
func AverageEfficiency(events []*domain.OdometerEvent) float64 {
	var km int64
	var liters float64
	for _, ev := range events {
		if ev.DistanceSincePrevious == nil || *ev.DistanceSincePrevious <= 0 || ev.LitersFilled <= 0 {
			continue
		}
		km += *ev.DistanceSincePrevious
		liters += ev.LitersFilled
	}
	if liters == 0 {
		return 0
	}
	return float64(km) / liters
}

// sameDayGroups returns indexes of records sharing vehicle and calendar
// date, in input order, for groups of two or more. Dates written in
// different formats still group together; unparseable ones group by text.
func sameDayGroups(records []domain.StagedRefuel) [][]int {
	index := make(map[string][]int)
	var keys []string
	for i, r := range records {
		date := r.Date
		if t, err := ParseRefuelDate(r.Date); err == nil {
			date = t.Format("2006-01-02")
		}
		key := r.VehicleID + "|" + date
		if _, ok := index[key]; !ok {
			keys = append(keys, key)
		}
		index[key] = append(index[key], i)
	}

	var groups [][]int
	for _, k := range keys {
		if len(index[k]) > 1 {
			groups = append(groups, index[k])
		}
	}
	return groups
}

// SameDayMisordered returns the indexes of records whose odometer is not
// where ascending order would put it within their same-day group.
func SameDayMisordered(records []domain.StagedRefuel) []int {
	var out []int
	for _, group := range sameDayGroups(records) {
		sorted := make([]int64, len(group))
		for i, idx := range group {
			sorted[i] = records[idx].Odometer
		}
		slices.Sort(sorted)

		for i, idx := range group {
			if records[idx].Odometer != sorted[i] {
				out = append(out, idx)
			}
		}
	}
	slices.Sort(out)
	return out
}

// SortSameDay returns a copy of records where every same-day group is
// reordered by ascending odometer within the positions it occupies.
func SortSameDay(records []domain.StagedRefuel) []domain.StagedRefuel {
	out := slices.Clone(records)
	for _, group := range sameDayGroups(records) {
		members := make([]domain.StagedRefuel, len(group))
		for i, idx := range group {
			members[i] = records[idx]
		}
		slices.SortStableFunc(members, func(a, b domain.StagedRefuel) int {
			return cmp.Compare(a.Odometer, b.Odometer)
		})
		for i, idx := range group {
			out[idx] = members[i]
		}
	}
	return out
}
