package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/opensource-fleet/fleetwatch/internal/odometer"
	"github.com/opensource-fleet/fleetwatch/internal/rules"
)

var errReadingRejected = errors.New("reading rejected")

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a single odometer reading against stored history",
	Long: `Run the reading validator once and print the verdict as JSON. The
command exits non-zero when the verdict carries errors.

Examples:
  validate --vehicle veh-001 --reading 48210 --date 2025-03-14
  validate --vehicle veh-001 --reading 48210 --date 14/03/2025 --exclude ev-123`,
	RunE: runValidate,
}

func init() {
	f := validateCmd.Flags()
	f.String("vehicle", "", "vehicle id")
	f.Float64("reading", 0, "odometer reading in km")
	f.String("date", "", "reading date (YYYY-MM-DD, DD/MM/YYYY, DD-MM-YYYY)")
	f.String("exclude", "", "event id to ignore (when editing a record)")
	_ = validateCmd.MarkFlagRequired("vehicle")
	_ = validateCmd.MarkFlagRequired("reading")
	_ = validateCmd.MarkFlagRequired("date")

	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, _ []string) error {
	f := cmd.Flags()
	vehicleID, _ := f.GetString("vehicle")
	reading, _ := f.GetFloat64("reading")
	rawDate, _ := f.GetString("date")
	exclude, _ := f.GetString("exclude")

	date, err := rules.ParseRefuelDate(rawDate)
	if err != nil {
		return err
	}

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.close()

	verdict := a.validator.Validate(cmd.Context(), odometer.ValidateInput{
		VehicleID:      vehicleID,
		Reading:        reading,
		Date:           date,
		ExcludeEventID: exclude,
	})

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(verdict); err != nil {
		return err
	}

	if !verdict.IsValid {
		return fmt.Errorf("%w: %d error(s)", errReadingRejected, len(verdict.Errors))
	}
	return nil
}
