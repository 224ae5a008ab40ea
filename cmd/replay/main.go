// Replay tool for measuring fleetwatch verdicts against labeled history.
//
// Usage:
//
//	go run ./cmd/replay -csv history.csv -url http://localhost:8080
//
// This tool:
//  1. Reads labeled refuel rows (vehicle_id,date,odometer,liters,anomalous)
//  2. Validates each row through POST /validate, paced by a rate limiter
//  3. Records clean rows through POST /refuels so later rows see them
//  4. Compares "verdict raised errors or warnings" with the label and
//     prints a confusion matrix
//
// Vehicles are replayed concurrently; rows of one vehicle stay in order.
package main

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Row is one labeled refuel from the CSV.
type Row struct {
	VehicleID string
	Date      string
	Odometer  int64
	Liters    float64
	Anomalous bool
}

// Verdict mirrors the validation response fields the replay needs.
type Verdict struct {
	IsValid  bool     `json:"isValid"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

// Flagged reports whether the verdict raised anything blocking or advisory.
func (v *Verdict) Flagged() bool {
	return len(v.Errors) > 0 || len(v.Warnings) > 0
}

// Metrics tracks replay results.
type Metrics struct {
	TruePositives  int64 // anomaly flagged
	FalsePositives int64 // clean row flagged
	TrueNegatives  int64 // clean row quiet
	FalseNegatives int64 // anomaly missed

	TotalProcessed   int64
	TotalAnomalous   int64
	TotalErrors      int64
	RecordFailures   int64
	ProcessingTimeMs int64
}

// Observe folds one verdict into the confusion matrix.
func (m *Metrics) Observe(flagged, anomalous bool) {
	atomic.AddInt64(&m.TotalProcessed, 1)
	if anomalous {
		atomic.AddInt64(&m.TotalAnomalous, 1)
	}
	switch {
	case flagged && anomalous:
		atomic.AddInt64(&m.TruePositives, 1)
	case flagged && !anomalous:
		atomic.AddInt64(&m.FalsePositives, 1)
	case !flagged && !anomalous:
		atomic.AddInt64(&m.TrueNegatives, 1)
	default:
		atomic.AddInt64(&m.FalseNegatives, 1)
	}
}

// Precision returns TP / (TP + FP), or 0 with no positives.
func (m *Metrics) Precision() float64 {
	if m.TruePositives+m.FalsePositives == 0 {
		return 0
	}
	return float64(m.TruePositives) / float64(m.TruePositives+m.FalsePositives)
}

// Recall returns TP / (TP + FN), or 0 with no anomalies.
func (m *Metrics) Recall() float64 {
	if m.TruePositives+m.FalseNegatives == 0 {
		return 0
	}
	return float64(m.TruePositives) / float64(m.TruePositives+m.FalseNegatives)
}

func main() {
	csvPath := flag.String("csv", "", "Path to labeled history CSV")
	baseURL := flag.String("url", "http://localhost:8080", "fleetwatch base URL")
	rps := flag.Float64("rps", 50, "Maximum requests per second")
	workers := flag.Int("workers", 4, "Vehicles replayed concurrently")
	limit := flag.Int("limit", 0, "Maximum rows to replay (0 = all)")
	verbose := flag.Bool("verbose", false, "Print each row result")
	flag.Parse()

	if *csvPath == "" {
		fmt.Println("Usage: replay -csv history.csv [-url http://localhost:8080]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fmt.Println("FLEETWATCH REPLAY")
	fmt.Printf("\nCSV File:  %s\n", *csvPath)
	fmt.Printf("URL:       %s\n", *baseURL)
	fmt.Printf("Rate:      %.0f req/s\n", *rps)
	fmt.Printf("Workers:   %d\n\n", *workers)

	client := &http.Client{Timeout: 10 * time.Second}
	if err := checkHealth(ctx, client, *baseURL); err != nil {
		fmt.Printf("ERROR: fleetwatch not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure fleetwatch is running:")
		fmt.Println("  go run ./cmd/fleetwatch serve")
		os.Exit(1)
	}
	fmt.Println("✓ fleetwatch is healthy")

	f, err := os.Open(*csvPath)
	if err != nil {
		fmt.Printf("ERROR: %v\n", err)
		os.Exit(1)
	}
	rows, err := ReadRows(f, *limit)
	f.Close()
	if err != nil {
		fmt.Printf("ERROR: Failed to read CSV: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("✓ Loaded %d rows\n", len(rows))

	r := &Replayer{
		client:  client,
		baseURL: strings.TrimRight(*baseURL, "/"),
		limiter: rate.NewLimiter(rate.Limit(*rps), 1),
		verbose: *verbose,
	}

	start := time.Now()
	metrics, err := r.Run(ctx, rows, *workers)
	if err != nil {
		fmt.Printf("ERROR: %v\n", err)
	}
	printResults(metrics, time.Since(start))
}

func checkHealth(ctx context.Context, client *http.Client, baseURL string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

// ReadRows parses a labeled CSV. Columns are located by header name;
// malformed rows are skipped.
func ReadRows(r io.Reader, limit int) ([]Row, error) {
	reader := csv.NewReader(r)

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	col := make(map[string]int)
	for i, name := range header {
		col[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, name := range []string{"vehicle_id", "date", "odometer", "anomalous"} {
		if _, ok := col[name]; !ok {
			return nil, fmt.Errorf("missing column %q", name)
		}
	}

	var rows []Row
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			continue
		}

		odometer, err := strconv.ParseInt(record[col["odometer"]], 10, 64)
		if err != nil {
			continue
		}
		row := Row{
			VehicleID: record[col["vehicle_id"]],
			Date:      record[col["date"]],
			Odometer:  odometer,
		}
		if i, ok := col["liters"]; ok {
			row.Liters, _ = strconv.ParseFloat(record[i], 64)
		}
		label := strings.ToLower(record[col["anomalous"]])
		row.Anomalous = label == "true" || label == "1"

		rows = append(rows, row)
		if limit > 0 && len(rows) >= limit {
			break
		}
	}
	return rows, nil
}

// groupRows splits rows per vehicle, keeping file order within a vehicle
// and first-appearance order across vehicles.
func groupRows(rows []Row) [][]Row {
	index := make(map[string]int)
	var groups [][]Row
	for _, row := range rows {
		i, ok := index[row.VehicleID]
		if !ok {
			i = len(groups)
			index[row.VehicleID] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], row)
	}
	return groups
}

// Replayer posts rows to a fleetwatch server.
type Replayer struct {
	client  *http.Client
	baseURL string
	limiter *rate.Limiter
	verbose bool
}

// Run replays every vehicle's rows and returns the confusion matrix.
func (r *Replayer) Run(ctx context.Context, rows []Row, workers int) (*Metrics, error) {
	metrics := &Metrics{}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, workers))

	for _, group := range groupRows(rows) {
		g.Go(func() error {
			for _, row := range group {
				if err := r.replayRow(gctx, row, metrics); err != nil {
					return err
				}
			}
			return nil
		})
	}

	return metrics, g.Wait()
}

// replayRow validates one row and, when it is labeled clean, records it.
// Only context cancellation aborts the run; request failures are counted.
func (r *Replayer) replayRow(ctx context.Context, row Row, m *Metrics) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return err
	}

	start := time.Now()
	verdict, err := r.validate(ctx, row)
	atomic.AddInt64(&m.ProcessingTimeMs, time.Since(start).Milliseconds())
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		atomic.AddInt64(&m.TotalErrors, 1)
		if r.verbose {
			fmt.Printf("ERROR: %s %s -> %v\n", row.VehicleID, row.Date, err)
		}
		return nil
	}

	flagged := verdict.Flagged()
	m.Observe(flagged, row.Anomalous)

	if r.verbose {
		status := "✓"
		if flagged != row.Anomalous {
			status = "✗"
		}
		fmt.Printf("%s %-10s | %s | %9d km | anomalous: %-5v | errors: %d warnings: %d\n",
			status, row.VehicleID, row.Date, row.Odometer, row.Anomalous, len(verdict.Errors), len(verdict.Warnings))
	}

	// Anomalous rows stand for entries a clerk would correct before saving.
	if row.Anomalous {
		return nil
	}
	if err := r.limiter.Wait(ctx); err != nil {
		return err
	}
	if err := r.record(ctx, row); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		atomic.AddInt64(&m.RecordFailures, 1)
		if r.verbose {
			fmt.Printf("RECORD FAILED: %s %s -> %v\n", row.VehicleID, row.Date, err)
		}
	}
	return nil
}

func (r *Replayer) validate(ctx context.Context, row Row) (*Verdict, error) {
	body := map[string]any{
		"vehicleId": row.VehicleID,
		"reading":   row.Odometer,
		"date":      row.Date,
	}
	var v Verdict
	if err := r.post(ctx, "/validate", body, http.StatusOK, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

func (r *Replayer) record(ctx context.Context, row Row) error {
	body := map[string]any{
		"vehicleId": row.VehicleID,
		"date":      row.Date,
		"odometer":  row.Odometer,
		"liters":    row.Liters,
	}
	return r.post(ctx, "/refuels", body, http.StatusCreated, nil)
}

func (r *Replayer) post(ctx context.Context, path string, body any, want int, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != want {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func printResults(m *Metrics, duration time.Duration) {
	fmt.Println("\nREPLAY RESULTS")

	fmt.Printf("\nDATASET\n")
	fmt.Printf("   Total Processed:  %d\n", m.TotalProcessed)
	fmt.Printf("   Anomalous:        %d\n", m.TotalAnomalous)
	fmt.Printf("   Clean:            %d\n", m.TotalProcessed-m.TotalAnomalous)
	fmt.Printf("   Errors:           %d\n", m.TotalErrors)
	fmt.Printf("   Record Failures:  %d\n", m.RecordFailures)

	fmt.Printf("\nCONFUSION MATRIX\n")
	fmt.Println("                        Verdict")
	fmt.Println("                  flagged      quiet")
	fmt.Println("              ┌──────────┬──────────┐")
	fmt.Printf("   Label   A  │ %8d │ %8d │  (TP, FN)\n", m.TruePositives, m.FalseNegatives)
	fmt.Println("              ├──────────┼──────────┤")
	fmt.Printf("           C  │ %8d │ %8d │  (FP, TN)\n", m.FalsePositives, m.TrueNegatives)
	fmt.Println("              └──────────┴──────────┘")

	precision, recall := m.Precision(), m.Recall()
	f1 := float64(0)
	if precision+recall > 0 {
		f1 = 2 * precision * recall / (precision + recall)
	}

	fmt.Printf("\nDETECTION\n")
	fmt.Printf("   Precision:  %.4f\n", precision)
	fmt.Printf("   Recall:     %.4f\n", recall)
	fmt.Printf("   F1-Score:   %.4f\n", f1)

	fmt.Printf("\nPERFORMANCE\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if m.TotalProcessed > 0 {
		fmt.Printf("   Avg Latency:      %.2f ms\n", float64(m.ProcessingTimeMs)/float64(m.TotalProcessed))
		fmt.Printf("   Throughput:       %.2f rows/sec\n", float64(m.TotalProcessed)/duration.Seconds())
	}
	fmt.Println()
}
