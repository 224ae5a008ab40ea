package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Score the fleet database and print the report",
	Long: `Run every health rule against the database and print the markdown
report. The score always reflects the current data; the cached report
used by the API is replaced.

Examples:
  health
  health --out report.md
  health --json`,
	RunE: runHealth,
}

func init() {
	f := healthCmd.Flags()
	f.String("out", "", "write the markdown report to a file")
	f.Bool("json", false, "print the report as JSON")

	rootCmd.AddCommand(healthCmd)
}

func runHealth(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	outPath, _ := cmd.Flags().GetString("out")
	asJSON, _ := cmd.Flags().GetBool("json")

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.close()

	report, err := a.reports.Report(ctx, true)
	if err != nil {
		return fmt.Errorf("score database: %w", err)
	}

	if outPath != "" {
		if err := os.WriteFile(outPath, []byte(report.Markdown), 0o644); err != nil {
			return fmt.Errorf("write report: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Overall score %d/100, report written to %s\n", report.OverallScore, outPath)
		return nil
	}

	if asJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	fmt.Fprint(cmd.OutOrStdout(), report.Markdown)
	return nil
}
