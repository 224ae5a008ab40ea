package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/opensource-fleet/fleetwatch/internal/cache"
	"github.com/opensource-fleet/fleetwatch/internal/domain"
	"github.com/opensource-fleet/fleetwatch/internal/health"
	"github.com/opensource-fleet/fleetwatch/internal/odometer"
	"github.com/opensource-fleet/fleetwatch/internal/repository"
	"github.com/opensource-fleet/fleetwatch/internal/rules"
	"github.com/opensource-fleet/fleetwatch/internal/velocity"
)

// createTestServer wires every handler dependency against a temp SQLite file.
func createTestServer(t *testing.T, cfg domain.ServerConfig) (*Server, domain.Repository) {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "api-test-*.db")
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

	engine, err := rules.NewEngine(4)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	if err := engine.LoadRules(rules.DefaultFlagRules()); err != nil {
		t.Fatalf("failed to load rules: %v", err)
	}

	rs, err := health.DefaultRuleSet()
	if err != nil {
		t.Fatalf("failed to load health rules: %v", err)
	}

	odoCfg := domain.DefaultOdometerConfig()
	c := cache.NewLRUCache(100)
	validator := odometer.NewValidator(repo, odoCfg)

	deps := Deps{
		Repo:      repo,
		Cache:     c,
		Validator: validator,
		Sanitizer: odometer.NewSanitizer(repo, odoCfg),
		Recorder:  odometer.NewRecorder(repo, validator, nil, c),
		Rates:     velocity.NewService(repo, odoCfg),
		Importer:  rules.NewImporter(engine, repo, odoCfg),
		Engine:    engine,
		Reports:   health.NewService(health.NewScorer(repo, rs), c, nil, time.Minute),
	}
	return NewServer(cfg, deps, "test-v1"), repo
}

func testConfig() domain.ServerConfig {
	return domain.ServerConfig{
		Host:         "localhost",
		Port:         8080,
		ReadTimeout:  30,
		WriteTimeout: 30,
	}
}

func doJSON(t *testing.T, server *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")

	rr := httptest.NewRecorder()
	server.Router().ServeHTTP(rr, req)
	return rr
}

func seedVehicle(t *testing.T, server *Server, id string) {
	t.Helper()
	rr := doJSON(t, server, http.MethodPost, "/vehicles", VehicleRequest{ID: id, LicensePlate: "PL-" + id})
	if rr.Code != http.StatusCreated {
		t.Fatalf("failed to create vehicle: %d %s", rr.Code, rr.Body.String())
	}
}

func seedRefuel(t *testing.T, server *Server, vehicleID, date string, odometer int64) RefuelResponse {
	t.Helper()
	rr := doJSON(t, server, http.MethodPost, "/refuels", RefuelRequest{
		VehicleID: vehicleID,
		Date:      date,
		Odometer:  &odometer,
		Liters:    40,
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("failed to record refuel: %d %s", rr.Code, rr.Body.String())
	}
	var resp RefuelResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode refuel: %v", err)
	}
	return resp
}

func decodeVerdict(t *testing.T, rr *httptest.ResponseRecorder) domain.ValidationVerdict {
	t.Helper()
	var v domain.ValidationVerdict
	if err := json.Unmarshal(rr.Body.Bytes(), &v); err != nil {
		t.Fatalf("failed to decode verdict: %v (%s)", err, rr.Body.String())
	}
	return v
}

func TestValidateEndpoint(t *testing.T) {
	server, _ := createTestServer(t, testConfig())
	seedVehicle(t, server, "veh-001")
	seedRefuel(t, server, "veh-001", "2025-03-01", 10000)

	reading := func(v float64) *float64 { return &v }

	t.Run("Consistent", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodPost, "/validate", ValidateRequest{
			VehicleID: "veh-001", Reading: reading(10300), Date: "2025-03-04",
		})
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}
		v := decodeVerdict(t, rr)
		if !v.IsValid {
			t.Errorf("expected valid verdict, got %v", v.Errors)
		}
		if v.Errors == nil || v.Warnings == nil || v.Suggestions == nil {
			t.Error("expected non-null verdict lists")
		}
		if v.LastKnownReading == nil || *v.LastKnownReading != 10000 {
			t.Errorf("expected last known reading 10000, got %v", v.LastKnownReading)
		}
	})

	t.Run("Backwards", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodPost, "/validate", ValidateRequest{
			VehicleID: "veh-001", Reading: reading(9000), Date: "2025-03-04",
		})
		v := decodeVerdict(t, rr)
		if v.IsValid {
			t.Error("expected invalid verdict for a reading far below the last one")
		}
	})

	t.Run("UnknownVehicleIsVerdict", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodPost, "/validate", ValidateRequest{
			VehicleID: "ghost", Reading: reading(100), Date: "2025-03-04",
		})
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
		v := decodeVerdict(t, rr)
		if v.IsValid || len(v.Errors) != 1 || v.Errors[0] != odometer.MsgVehicleNotFound {
			t.Errorf("expected vehicle-not-found verdict, got %+v", v)
		}
	})

	t.Run("AlternateDateFormat", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodPost, "/validate", ValidateRequest{
			VehicleID: "veh-001", Reading: reading(10300), Date: "04/03/2025",
		})
		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}
	})

	t.Run("KeyedValidation", func(t *testing.T) {
		var buf bytes.Buffer
		_ = json.NewEncoder(&buf).Encode(ValidateRequest{VehicleID: "veh-001", Reading: reading(10300), Date: "2025-03-04"})
		req := httptest.NewRequest(http.MethodPost, "/validate", &buf)
		req.Header.Set(ValidationKeyHeader, "form-1/odometer")

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}
		if n := server.Handler().latest.InFlight(); n != 0 {
			t.Errorf("expected no validations in flight, got %d", n)
		}
	})

	t.Run("MissingFields", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodPost, "/validate", map[string]any{"date": "2025-03-04"})
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("expected status 400, got %d", rr.Code)
		}
		var resp map[string]any
		_ = json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp["error"] != "vehicleId is required" {
			t.Errorf("unexpected error message: %v", resp["error"])
		}
	})

	t.Run("BadDate", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodPost, "/validate", ValidateRequest{
			VehicleID: "veh-001", Reading: reading(1), Date: "March 4th",
		})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("InvalidJSON", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/validate", strings.NewReader("{not json"))
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})
}

func TestValidateRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.ValidateRatePerMinute = 2
	server, _ := createTestServer(t, cfg)

	body := map[string]any{"vehicleId": "veh-x", "reading": 10, "date": "2025-03-01"}
	var last int
	for i := 0; i < 3; i++ {
		last = doJSON(t, server, http.MethodPost, "/validate", body).Code
	}
	if last != http.StatusTooManyRequests {
		t.Errorf("expected status 429 on third call, got %d", last)
	}

	// Other routes are not limited.
	if rr := doJSON(t, server, http.MethodGet, "/health", nil); rr.Code != http.StatusOK {
		t.Errorf("expected /health unaffected, got %d", rr.Code)
	}
}

func TestRefuelEndpoints(t *testing.T) {
	server, repo := createTestServer(t, testConfig())
	seedVehicle(t, server, "veh-001")

	first := seedRefuel(t, server, "veh-001", "2025-03-01", 10000)

	t.Run("Created", func(t *testing.T) {
		if first.Event.ID == "" {
			t.Error("expected generated event id")
		}
		if first.Event.DistanceSincePrevious == nil || *first.Event.DistanceSincePrevious != 0 {
			t.Errorf("expected distance 0, got %v", first.Event.DistanceSincePrevious)
		}
		if !first.Verdict.IsValid {
			t.Error("expected valid verdict")
		}
	})

	t.Run("Get", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodGet, "/refuels/"+first.Event.ID, nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
		var ev domain.OdometerEvent
		_ = json.Unmarshal(rr.Body.Bytes(), &ev)
		if ev.OdometerReading != 10000 {
			t.Errorf("expected reading 10000, got %d", ev.OdometerReading)
		}
	})

	t.Run("GetMissing", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodGet, "/refuels/nope", nil)
		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})

	t.Run("Rejected", func(t *testing.T) {
		odo := int64(5000)
		rr := doJSON(t, server, http.MethodPost, "/refuels", RefuelRequest{
			VehicleID: "veh-001", Date: "2025-03-05", Odometer: &odo,
		})
		if rr.Code != http.StatusUnprocessableEntity {
			t.Fatalf("expected status 422, got %d: %s", rr.Code, rr.Body.String())
		}
		var resp struct {
			Error   string                   `json:"error"`
			Verdict domain.ValidationVerdict `json:"verdict"`
		}
		_ = json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp.Verdict.IsValid || len(resp.Verdict.Errors) == 0 {
			t.Errorf("expected verdict with errors, got %+v", resp.Verdict)
		}

		events, _ := repo.ListEvents(t.Context(), domain.EventQuery{VehicleID: "veh-001"})
		if len(events) != 1 {
			t.Errorf("rejected reading must not be stored, have %d events", len(events))
		}
	})

	t.Run("MissingVehicle", func(t *testing.T) {
		odo := int64(1)
		rr := doJSON(t, server, http.MethodPost, "/refuels", RefuelRequest{Date: "2025-03-05", Odometer: &odo})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("NegativeLiters", func(t *testing.T) {
		odo := int64(10100)
		rr := doJSON(t, server, http.MethodPost, "/refuels", RefuelRequest{
			VehicleID: "veh-001", Date: "2025-03-05", Odometer: &odo, Liters: -1,
		})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("Amend", func(t *testing.T) {
		second := seedRefuel(t, server, "veh-001", "2025-03-03", 10400)

		// Without excluding itself, 10200 would be below the stored 10400.
		odo := int64(10200)
		rr := doJSON(t, server, http.MethodPut, "/refuels/"+second.Event.ID, RefuelRequest{
			Date: "2025-03-03", Odometer: &odo, Liters: 35,
		})
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		stored, err := repo.GetEvent(t.Context(), second.Event.ID)
		if err != nil {
			t.Fatalf("GetEvent failed: %v", err)
		}
		if stored.OdometerReading != 10200 || stored.VehicleID != "veh-001" {
			t.Errorf("unexpected stored event %+v", stored)
		}
		if stored.DistanceSincePrevious == nil || *stored.DistanceSincePrevious != 200 {
			t.Errorf("expected distance 200, got %v", stored.DistanceSincePrevious)
		}
	})

	t.Run("AmendMissing", func(t *testing.T) {
		odo := int64(1)
		rr := doJSON(t, server, http.MethodPut, "/refuels/nope", RefuelRequest{Date: "2025-03-03", Odometer: &odo})
		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})
}

func TestVehicleEndpoints(t *testing.T) {
	server, _ := createTestServer(t, testConfig())
	seedVehicle(t, server, "veh-001")

	t.Run("InvalidStatus", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodPost, "/vehicles", VehicleRequest{ID: "v2", LicensePlate: "X", Status: "flying"})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("Get", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodGet, "/vehicles/veh-001", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
		var v domain.Vehicle
		_ = json.Unmarshal(rr.Body.Bytes(), &v)
		if v.Status != domain.VehicleActive {
			t.Errorf("expected default status active, got %q", v.Status)
		}
	})

	t.Run("GetMissing", func(t *testing.T) {
		if rr := doJSON(t, server, http.MethodGet, "/vehicles/ghost", nil); rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})

	t.Run("LastReadingWithoutHistory", func(t *testing.T) {
		if rr := doJSON(t, server, http.MethodGet, "/vehicles/veh-001/last-reading", nil); rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})

	seedRefuel(t, server, "veh-001", "2025-03-01", 10000)
	seedRefuel(t, server, "veh-001", "2025-03-03", 10200)
	seedRefuel(t, server, "veh-001", "2025-03-07", 10600)

	t.Run("LastReading", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodGet, "/vehicles/veh-001/last-reading", nil)
		var last domain.LastReading
		_ = json.Unmarshal(rr.Body.Bytes(), &last)
		if last.Reading != 10600 {
			t.Errorf("expected last reading 10600, got %d", last.Reading)
		}
	})

	t.Run("Rate", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodGet, "/vehicles/veh-001/rate", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
		var p domain.RateProfile
		_ = json.Unmarshal(rr.Body.Bytes(), &p)
		if p.Fallback || p.SamplePairs != 1 || p.AverageDistancePerDay != 100 {
			t.Errorf("unexpected rate profile %+v", p)
		}
	})

	t.Run("Refuels", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodGet, "/vehicles/veh-001/refuels?limit=2", nil)
		var resp struct {
			Refuels []domain.OdometerEvent `json:"refuels"`
			Count   int                    `json:"count"`
		}
		_ = json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp.Count != 2 || resp.Refuels[0].OdometerReading != 10600 {
			t.Errorf("expected newest two refuels, got %+v", resp)
		}
	})

	t.Run("RefuelsBadLimit", func(t *testing.T) {
		if rr := doJSON(t, server, http.MethodGet, "/vehicles/veh-001/refuels?limit=zero", nil); rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})
}

func TestSanitizeEndpoint(t *testing.T) {
	server, repo := createTestServer(t, testConfig())
	seedVehicle(t, server, "veh-001")
	seedRefuel(t, server, "veh-001", "2025-03-01", 10000)
	second := seedRefuel(t, server, "veh-001", "2025-03-03", 10200)

	if err := repo.SetDistanceSincePrevious(t.Context(), second.Event.ID, 999); err != nil {
		t.Fatalf("failed to corrupt distance: %v", err)
	}

	t.Run("Vehicle", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodPost, "/sanitize", SanitizeRequest{VehicleID: "veh-001"})
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
		var result domain.SanitizeResult
		_ = json.Unmarshal(rr.Body.Bytes(), &result)
		if result.FixedCount != 1 {
			t.Errorf("expected 1 fix, got %d", result.FixedCount)
		}
	})

	t.Run("WholeFleetEmptyBody", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/sanitize", nil)
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		var result domain.SanitizeResult
		_ = json.Unmarshal(rr.Body.Bytes(), &result)
		if rr.Code != http.StatusOK || result.FixedCount != 0 {
			t.Errorf("expected idempotent rerun, got %d %+v", rr.Code, result)
		}
	})

	t.Run("EmptyChunkedBody", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/sanitize", strings.NewReader(""))
		req.ContentLength = -1
		req.Header.Set("Content-Type", "application/json")
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200 for empty chunked body, got %d: %s", rr.Code, rr.Body.String())
		}
	})

	t.Run("MalformedBody", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/sanitize", strings.NewReader("{"))
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})
}

func TestWriteErrorVehicleRequired(t *testing.T) {
	server, _ := createTestServer(t, testConfig())

	rr := httptest.NewRecorder()
	server.handler.writeError(rr, fmt.Errorf("profile: %w", domain.ErrVehicleRequired))
	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", rr.Code)
	}
}

func TestDatabaseHealthEndpoints(t *testing.T) {
	server, _ := createTestServer(t, testConfig())
	seedVehicle(t, server, "veh-001")
	seedRefuel(t, server, "veh-001", "2025-03-01", 10000)

	t.Run("JSON", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodGet, "/health/database?refresh=true", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
		var report domain.HealthReport
		_ = json.Unmarshal(rr.Body.Bytes(), &report)
		if len(report.Tables) != 5 {
			t.Errorf("expected 5 tables, got %d", len(report.Tables))
		}
		if report.OverallScore < 0 || report.OverallScore > 100 {
			t.Errorf("score out of range: %d", report.OverallScore)
		}
	})

	t.Run("Markdown", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodGet, "/health/database/report.md", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
		if !strings.HasPrefix(rr.Body.String(), "# Database Validation Report") {
			t.Errorf("unexpected markdown: %q", rr.Body.String())
		}
		if cd := rr.Header().Get("Content-Disposition"); !strings.HasPrefix(cd, "attachment;") {
			t.Errorf("expected attachment disposition, got %q", cd)
		}
	})
}

func TestImportEndpoints(t *testing.T) {
	server, _ := createTestServer(t, testConfig())
	seedVehicle(t, server, "veh-001")
	seedRefuel(t, server, "veh-001", "2025-03-01", 10000)

	t.Run("Flags", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodPost, "/import/validate", ImportRequest{
			Records: []domain.StagedRefuel{
				{ID: "r1", VehicleID: "veh-001", Date: "2025-03-02", Odometer: 9000, Liters: 30},
				{ID: "r2", VehicleID: "veh-001", Date: "2025-03-03", Odometer: 10300, Liters: 30},
			},
		})
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}
		var report rules.Report
		_ = json.Unmarshal(rr.Body.Bytes(), &report)
		if !report.Blocked || report.Errors == 0 {
			t.Errorf("expected a blocking error for the backwards record, got %+v", report)
		}
	})

	t.Run("EmptyBatch", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodPost, "/import/validate", ImportRequest{})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("RecordValidation", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodPost, "/import/validate", ImportRequest{
			Records: []domain.StagedRefuel{{ID: "r1", Date: "2025-03-02", Odometer: 1}},
		})
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("expected status 400, got %d", rr.Code)
		}
		if !strings.Contains(rr.Body.String(), "records[0].vehicleId is required") {
			t.Errorf("expected indexed field name, got %s", rr.Body.String())
		}
	})

	t.Run("Rules", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodGet, "/import/rules", nil)
		var resp struct {
			Count int `json:"count"`
		}
		_ = json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp.Count != len(rules.DefaultFlagRules()) {
			t.Errorf("expected %d rules, got %d", len(rules.DefaultFlagRules()), resp.Count)
		}
	})
}

func TestHealthEndpoint(t *testing.T) {
	server, _ := createTestServer(t, testConfig())

	t.Run("HealthCheck", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}

		var resp map[string]any
		json.Unmarshal(rr.Body.Bytes(), &resp)

		if resp["status"] != "healthy" {
			t.Errorf("expected status 'healthy', got '%v'", resp["status"])
		}
		if resp["version"] != "test-v1" {
			t.Errorf("expected version 'test-v1', got '%v'", resp["version"])
		}
		if rr.Header().Get("X-Request-ID") == "" {
			t.Error("expected X-Request-ID header in response")
		}
	})

	t.Run("ReadyCheck", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/ready", nil)

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}
	})

	t.Run("Metrics", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/metrics", nil)

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}
		if !strings.Contains(rr.Body.String(), "fleetwatch_") {
			t.Error("expected fleetwatch metrics in exposition")
		}
	})
}

func TestMiddleware(t *testing.T) {
	t.Run("TracingMiddlewareSetsRequestID", func(t *testing.T) {
		var capturedRequestID string

		handler := TracingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			capturedRequestID = GetRequestID(r.Context())
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if capturedRequestID == "" {
			t.Error("expected request ID to be set")
		}
		if rr.Header().Get("X-Request-ID") != capturedRequestID {
			t.Error("expected X-Request-ID response header to match context")
		}
	})

	t.Run("TracingMiddlewareKeepsIncomingID", func(t *testing.T) {
		handler := TracingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(RequestIDHeader, "req-42")
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if rr.Header().Get(RequestIDHeader) != "req-42" {
			t.Errorf("expected req-42, got %q", rr.Header().Get(RequestIDHeader))
		}
	})

	t.Run("CORSPreflight", func(t *testing.T) {
		handler := CORSMiddleware([]string{"https://fleet.example"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

		req := httptest.NewRequest(http.MethodOptions, "/validate", nil)
		req.Header.Set("Origin", "https://fleet.example")
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "https://fleet.example" {
			t.Errorf("expected allowed origin echoed, got %q", got)
		}
	})

	t.Run("RecoverMiddlewareHandlesPanic", func(t *testing.T) {
		handler := RecoverMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			panic("test panic")
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rr := httptest.NewRecorder()

		// Should not panic
		handler.ServeHTTP(rr, req)

		if rr.Code != http.StatusInternalServerError {
			t.Errorf("expected status 500, got %d", rr.Code)
		}
	})
}
