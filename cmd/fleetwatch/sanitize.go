package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var sanitizeCmd = &cobra.Command{
	Use:   "sanitize",
	Short: "Recompute the derived distance of stored refuel records",
	Long: `Walk every vehicle's refuel history in date order and repair
distance_since_previous where it disagrees with the readings. Suspicious
jumps are reported as warnings and left untouched.

Examples:
  # Whole fleet
  sanitize

  # One vehicle
  sanitize --vehicle veh-001`,
	RunE: runSanitize,
}

func init() {
	sanitizeCmd.Flags().String("vehicle", "", "sanitize a single vehicle")
	rootCmd.AddCommand(sanitizeCmd)
}

func runSanitize(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	vehicleID, _ := cmd.Flags().GetString("vehicle")

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.close()

	result, err := a.sanitizer.Sanitize(ctx, vehicleID)
	if err != nil {
		return fmt.Errorf("sanitize: %w", err)
	}
	if result.FixedCount > 0 {
		a.reports.Invalidate(ctx)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Vehicles processed: %d\n", result.VehiclesProcessed)
	fmt.Fprintf(out, "Records fixed:      %d\n", result.FixedCount)
	fmt.Fprintf(out, "Duration:           %dms\n", result.DurationMs)
	if len(result.Warnings) > 0 {
		fmt.Fprintf(out, "\nWarnings (%d):\n", len(result.Warnings))
		for _, w := range result.Warnings {
			fmt.Fprintf(out, "  - %s\n", w)
		}
	}
	return nil
}
