package main

import (
	"context"
	"encoding/csv"
	"fmt"
	"math/rand/v2"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/opensource-fleet/fleetwatch/internal/domain"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Fill the database with synthetic fleet history",
	Long: `Generate vehicles with plausible refuel histories and inject anomalous
readings (typed backwards, digit dropped, implausible jump). Reference
rows for the health checks are created alongside, a few of them broken.
The target database is expected to be empty.

With --csv the refuel rows are written as a labeled file for cmd/replay
instead of being stored; vehicles are still created.

Examples:
  seed --vehicles 20 --events 50
  seed --vehicles 5 --events 30 --csv history.csv`,
	RunE: runSeed,
}

func init() {
	f := seedCmd.Flags()
	f.Int("vehicles", 10, "number of vehicles")
	f.Int("events", 30, "refuels per vehicle")
	f.Float64("anomalies", 0.05, "share of injected anomalous readings")
	f.Uint64("seed", 1, "random seed")
	f.String("csv", "", "write labeled rows to this file instead of storing them")

	rootCmd.AddCommand(seedCmd)
}

// seedRow is one generated refuel with its ground-truth label.
type seedRow struct {
	VehicleID string
	Date      time.Time
	Odometer  int64
	Liters    float64
	Price     float64
	Anomalous bool
}

// generateHistory produces date-ordered refuels for each vehicle. Anomalous
// readings do not move the vehicle's true odometer.
func generateHistory(rng *rand.Rand, vehicles, events int, anomalyRate float64, start time.Time) [][]seedRow {
	out := make([][]seedRow, vehicles)
	for v := range vehicles {
		id := vehicleID(v)
		odo := 5_000 + rng.Int64N(75_000)
		perDay := 30 + rng.Int64N(120)
		kmPerLiter := 10 + rng.Float64()*5
		day := start

		rows := make([]seedRow, 0, events)
		for range events {
			gap := 1 + rng.IntN(7)
			day = day.AddDate(0, 0, gap)
			distance := perDay*int64(gap) + rng.Int64N(40) - 20
			if distance < 1 {
				distance = 1
			}

			row := seedRow{
				VehicleID: id,
				Date:      day,
				Liters:    max(5, float64(distance)/kmPerLiter),
				Price:     1.2 + rng.Float64()*0.8,
			}

			if len(rows) > 0 && rng.Float64() < anomalyRate {
				row.Anomalous = true
				switch rng.IntN(3) {
				case 0:
					row.Odometer = odo - 300 - rng.Int64N(1200)
				case 1:
					row.Odometer = odo / 10
				default:
					row.Odometer = odo + 3_000 + rng.Int64N(5_000)
				}
			} else {
				odo += distance
				row.Odometer = odo
			}
			rows = append(rows, row)
		}
		out[v] = rows
	}
	return out
}

func vehicleID(i int) string {
	return fmt.Sprintf("veh-%03d", i+1)
}

func runSeed(cmd *cobra.Command, _ []string) error {
	f := cmd.Flags()
	vehicles, _ := f.GetInt("vehicles")
	events, _ := f.GetInt("events")
	anomalies, _ := f.GetFloat64("anomalies")
	seed, _ := f.GetUint64("seed")
	csvPath, _ := f.GetString("csv")

	if vehicles < 1 || events < 1 {
		return fmt.Errorf("--vehicles and --events must be positive")
	}

	ctx := cmd.Context()
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.close()

	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	start := time.Now().UTC().AddDate(0, 0, -8*events).Truncate(24 * time.Hour)
	history := generateHistory(rng, vehicles, events, anomalies, start)

	if err := seedReference(ctx, a.repo, vehicles); err != nil {
		return err
	}

	if csvPath != "" {
		if err := writeSeedCSV(csvPath, history); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Created %d vehicles, wrote %d labeled rows to %s\n", vehicles, vehicles*events, csvPath)
		return nil
	}

	stored, flagged := 0, 0
	for _, rows := range history {
		var prev int64
		for i, row := range rows {
			distance := int64(0)
			if i > 0 {
				distance = row.Odometer - prev
			}
			ev := &domain.OdometerEvent{
				ID:                    fmt.Sprintf("%s-ev-%04d", row.VehicleID, i+1),
				VehicleID:             row.VehicleID,
				OccurredAt:            row.Date,
				OdometerReading:       row.Odometer,
				DistanceSincePrevious: &distance,
				LitersFilled:          row.Liters,
				CostPerLiter:          row.Price,
				CreatedAt:             time.Now().UTC(),
			}
			if err := a.repo.SaveEvent(ctx, ev); err != nil {
				return fmt.Errorf("save event %s: %w", ev.ID, err)
			}
			prev = row.Odometer
			stored++
			if row.Anomalous {
				flagged++
			}
		}
		last := rows[len(rows)-1].Odometer
		if err := a.repo.UpdateCurrentMileage(ctx, rows[0].VehicleID, last); err != nil {
			return fmt.Errorf("update mileage: %w", err)
		}
	}
	a.reports.Invalidate(ctx)

	fmt.Fprintf(cmd.OutOrStdout(), "Created %d vehicles and %d refuels (%d anomalous)\n", vehicles, stored, flagged)
	return nil
}

// seedReference creates vehicles plus the reference rows the health rules
// inspect. One driver lacks a code and one assignment uses an unknown type.
func seedReference(ctx context.Context, repo domain.Repository, vehicles int) error {
	departments := []domain.Department{{ID: "dep-ops", Name: "Operations"}, {ID: "dep-sales", Name: "Sales"}}
	for i := range departments {
		if err := repo.SaveDepartment(ctx, &departments[i]); err != nil {
			return fmt.Errorf("save department: %w", err)
		}
	}
	for _, t := range []string{"permanent", "temporary"} {
		if err := repo.SaveAssignmentType(ctx, "at-"+t, t); err != nil {
			return fmt.Errorf("save assignment type: %w", err)
		}
	}

	for i := range vehicles {
		id := vehicleID(i)
		v := &domain.Vehicle{
			ID:             id,
			LicensePlate:   fmt.Sprintf("FW-%04d", i+1),
			InternalNumber: strconv.Itoa(100 + i),
			Status:         domain.VehicleActive,
			DepartmentID:   departments[i%len(departments)].ID,
		}
		if err := repo.SaveVehicle(ctx, v); err != nil {
			return fmt.Errorf("save vehicle: %w", err)
		}

		d := &domain.Driver{ID: fmt.Sprintf("drv-%03d", i+1), FullName: fmt.Sprintf("Driver %d", i+1), Code: fmt.Sprintf("D%03d", i+1)}
		if i == 0 {
			d.Code = ""
		}
		if err := repo.SaveDriver(ctx, d); err != nil {
			return fmt.Errorf("save driver: %w", err)
		}

		kind := "permanent"
		if i == vehicles-1 {
			kind = "loan"
		}
		if err := repo.SaveAssignment(ctx, &domain.Assignment{
			ID:        fmt.Sprintf("asg-%03d", i+1),
			VehicleID: id,
			DriverID:  d.ID,
			Type:      kind,
		}); err != nil {
			return fmt.Errorf("save assignment: %w", err)
		}
	}
	return nil
}

// writeSeedCSV writes vehicle_id,date,odometer,liters,anomalous rows,
// grouped by vehicle and in date order within each vehicle.
func writeSeedCSV(path string, history [][]seedRow) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create csv: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"vehicle_id", "date", "odometer", "liters", "anomalous"}); err != nil {
		return err
	}
	for _, rows := range history {
		for _, row := range rows {
			rec := []string{
				row.VehicleID,
				row.Date.Format("2006-01-02"),
				strconv.FormatInt(row.Odometer, 10),
				strconv.FormatFloat(row.Liters, 'f', 2, 64),
				strconv.FormatBool(row.Anomalous),
			}
			if err := w.Write(rec); err != nil {
				return err
			}
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	return f.Close()
}
