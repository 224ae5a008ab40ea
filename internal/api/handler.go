package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/opensource-fleet/fleetwatch/internal/domain"
	"github.com/opensource-fleet/fleetwatch/internal/health"
	"github.com/opensource-fleet/fleetwatch/internal/odometer"
	"github.com/opensource-fleet/fleetwatch/internal/repository"
	"github.com/opensource-fleet/fleetwatch/internal/rules"
	"github.com/opensource-fleet/fleetwatch/internal/velocity"
)

// Deps groups the components the handlers serve. Cache and Bus may be nil.
type Deps struct {
	Repo      domain.Repository
	Cache     domain.Cache
	Bus       domain.EventBus
	Validator *odometer.Validator
	Sanitizer *odometer.Sanitizer
	Recorder  *odometer.Recorder
	Rates     *velocity.Service
	Importer  *rules.Importer
	Engine    *rules.Engine
	Reports   *health.Service
}

// Handler holds dependencies for API handlers.
type Handler struct {
	Deps
	latest  *odometer.Latest
	version string
}

// NewHandler creates a new API handler.
func NewHandler(deps Deps, version string) *Handler {
	return &Handler{
		Deps:    deps,
		latest:  odometer.NewLatest(deps.Validator),
		version: version,
	}
}

// maxRefuelPage caps GET /vehicles/{id}/refuels.
const maxRefuelPage = 200

// ValidateRequest is the request body for POST /validate.
type ValidateRequest struct {
	VehicleID      string   `json:"vehicleId" validate:"required"`
	Reading        *float64 `json:"reading" validate:"required"`
	Date           string   `json:"date" validate:"required"`
	ExcludeEventID string   `json:"excludeEventId,omitempty"`

	// FieldKey is an alternative to the X-Validation-Key header.
	FieldKey string `json:"fieldKey,omitempty"`
}

// RefuelRequest is the request body for POST /refuels and PUT /refuels/{id}.
type RefuelRequest struct {
	VehicleID    string  `json:"vehicleId"`
	DriverID     string  `json:"driverId,omitempty"`
	Date         string  `json:"date" validate:"required"`
	Odometer     *int64  `json:"odometer" validate:"required"`
	Liters       float64 `json:"liters" validate:"gte=0"`
	CostPerLiter float64 `json:"costPerLiter" validate:"gte=0"`
	Notes        string  `json:"notes,omitempty"`
}

// RefuelResponse carries the stored event and the verdict it passed with.
type RefuelResponse struct {
	Event   *domain.OdometerEvent     `json:"event"`
	Verdict *domain.ValidationVerdict `json:"verdict"`
}

// VehicleRequest is the request body for POST /vehicles.
type VehicleRequest struct {
	ID             string `json:"id" validate:"required"`
	LicensePlate   string `json:"licensePlate" validate:"required"`
	InternalNumber string `json:"internalNumber,omitempty"`
	Status         string `json:"status,omitempty" validate:"omitempty,oneof=active maintenance inactive retired"`
	CurrentMileage *int64 `json:"currentMileage,omitempty" validate:"omitempty,gte=0"`
	DepartmentID   string `json:"departmentId,omitempty"`
}

// SanitizeRequest is the request body for POST /sanitize.
type SanitizeRequest struct {
	VehicleID string `json:"vehicleId,omitempty"`
}

// ImportRequest is the request body for POST /import/validate.
type ImportRequest struct {
	Records []domain.StagedRefuel `json:"records" validate:"required,min=1,dive"`
}

// Validate handles POST /validate.
func (h *Handler) Validate(w http.ResponseWriter, r *http.Request) {
	var req ValidateRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	date, err := rules.ParseRefuelDate(req.Date)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	in := odometer.ValidateInput{
		VehicleID:      req.VehicleID,
		Reading:        *req.Reading,
		Date:           date,
		ExcludeEventID: req.ExcludeEventID,
	}

	key := r.Header.Get(ValidationKeyHeader)
	if key == "" {
		key = req.FieldKey
	}
	if key == "" {
		writeJSON(w, http.StatusOK, h.Validator.Validate(r.Context(), in))
		return
	}

	verdict, err := h.latest.Validate(r.Context(), key, in)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, verdict)
}

// CreateRefuel handles POST /refuels.
func (h *Handler) CreateRefuel(w http.ResponseWriter, r *http.Request) {
	var req RefuelRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	ev, ok := refuelEvent(w, req)
	if !ok {
		return
	}

	verdict, err := h.Recorder.Record(r.Context(), ev)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, RefuelResponse{Event: ev, Verdict: verdict})
}

// UpdateRefuel handles PUT /refuels/{id}.
func (h *Handler) UpdateRefuel(w http.ResponseWriter, r *http.Request) {
	var req RefuelRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	ev, ok := refuelEvent(w, req)
	if !ok {
		return
	}
	ev.ID = chi.URLParam(r, "id")

	verdict, err := h.Recorder.Amend(r.Context(), ev)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, RefuelResponse{Event: ev, Verdict: verdict})
}

// GetRefuel handles GET /refuels/{id}.
func (h *Handler) GetRefuel(w http.ResponseWriter, r *http.Request) {
	ev, err := h.Repo.GetEvent(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

func refuelEvent(w http.ResponseWriter, req RefuelRequest) (*domain.OdometerEvent, bool) {
	date, err := rules.ParseRefuelDate(req.Date)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return nil, false
	}
	return &domain.OdometerEvent{
		VehicleID:       req.VehicleID,
		DriverID:        req.DriverID,
		OccurredAt:      date,
		OdometerReading: *req.Odometer,
		LitersFilled:    req.Liters,
		CostPerLiter:    req.CostPerLiter,
		Notes:           req.Notes,
	}, true
}

// CreateVehicle handles POST /vehicles.
func (h *Handler) CreateVehicle(w http.ResponseWriter, r *http.Request) {
	var req VehicleRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	v := &domain.Vehicle{
		ID:             req.ID,
		LicensePlate:   req.LicensePlate,
		InternalNumber: req.InternalNumber,
		Status:         req.Status,
		CurrentMileage: req.CurrentMileage,
		DepartmentID:   req.DepartmentID,
	}
	if err := h.Repo.SaveVehicle(r.Context(), v); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, v)
}

// GetVehicle handles GET /vehicles/{id}.
func (h *Handler) GetVehicle(w http.ResponseWriter, r *http.Request) {
	v, err := h.Repo.GetVehicle(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// LastReading handles GET /vehicles/{id}/last-reading.
func (h *Handler) LastReading(w http.ResponseWriter, r *http.Request) {
	last, err := h.Validator.LastReading(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, last)
}

// Rate handles GET /vehicles/{id}/rate.
func (h *Handler) Rate(w http.ResponseWriter, r *http.Request) {
	profile, err := h.Rates.Profile(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

// ListVehicleRefuels handles GET /vehicles/{id}/refuels, newest first.
func (h *Handler) ListVehicleRefuels(w http.ResponseWriter, r *http.Request) {
	vehicleID := chi.URLParam(r, "id")
	if _, err := h.Repo.GetVehicle(r.Context(), vehicleID); err != nil {
		h.writeError(w, err)
		return
	}

	limit := 50
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a positive integer"})
			return
		}
		limit = min(n, maxRefuelPage)
	}

	events, err := h.Repo.ListEvents(r.Context(), domain.EventQuery{
		VehicleID:  vehicleID,
		Limit:      limit,
		Descending: true,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	if events == nil {
		events = []*domain.OdometerEvent{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"vehicleId": vehicleID,
		"refuels":   events,
		"count":     len(events),
	})
}

// Sanitize handles POST /sanitize. An empty body sanitizes the whole fleet.
func (h *Handler) Sanitize(w http.ResponseWriter, r *http.Request) {
	var req SanitizeRequest
	if !decodeOptional(w, r, &req) {
		return
	}

	ctx := r.Context()
	result, err := h.Sanitizer.Sanitize(ctx, req.VehicleID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	if result.FixedCount > 0 && h.Reports != nil {
		h.Reports.Invalidate(ctx)
	}
	if h.Bus != nil {
		payload, _ := json.Marshal(domain.SanitizeCompleted{
			VehicleID:  req.VehicleID,
			FixedCount: result.FixedCount,
			Warnings:   len(result.Warnings),
			DurationMs: result.DurationMs,
		})
		if err := h.Bus.Publish(ctx, domain.TopicSanitizeCompleted, payload); err != nil {
			slog.Warn("failed to publish sanitize result", "error", err)
		}
	}

	writeJSON(w, http.StatusOK, result)
}

// DatabaseHealth handles GET /health/database.
func (h *Handler) DatabaseHealth(w http.ResponseWriter, r *http.Request) {
	report, err := h.Reports.Report(r.Context(), r.URL.Query().Get("refresh") == "true")
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// DatabaseHealthMarkdown handles GET /health/database/report.md.
func (h *Handler) DatabaseHealthMarkdown(w http.ResponseWriter, r *http.Request) {
	report, err := h.Reports.Report(r.Context(), r.URL.Query().Get("refresh") == "true")
	if err != nil {
		h.writeError(w, err)
		return
	}

	name := fmt.Sprintf("database-validation-report-%s.md", report.GeneratedAt.Format("2006-01-02"))
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(report.Markdown))
}

// ValidateImport handles POST /import/validate.
func (h *Handler) ValidateImport(w http.ResponseWriter, r *http.Request) {
	var req ImportRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	report, err := h.Importer.Check(r.Context(), req.Records)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// ListImportRules handles GET /import/rules.
func (h *Handler) ListImportRules(w http.ResponseWriter, r *http.Request) {
	loaded := h.Engine.GetLoadedRules()
	writeJSON(w, http.StatusOK, map[string]any{
		"rules": loaded,
		"count": len(loaded),
	})
}

// Health handles GET /health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	status := "healthy"
	checks := map[string]string{}

	if err := h.Repo.Ping(ctx); err != nil {
		status = "degraded"
		checks["repository"] = err.Error()
	} else {
		checks["repository"] = "ok"
	}

	if h.Cache != nil {
		if err := h.Cache.Ping(ctx); err != nil {
			status = "degraded"
			checks["cache"] = err.Error()
		} else {
			checks["cache"] = "ok"
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":  status,
		"version": h.version,
		"checks":  checks,
	})
}

// Ready handles GET /ready.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"ready": "true"})
}

// writeError maps core errors onto HTTP statuses.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var rejected *odometer.RejectedError
	switch {
	case errors.As(err, &rejected):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":   rejected.Error(),
			"verdict": rejected.Verdict,
		})
	case errors.Is(err, domain.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.Is(err, domain.ErrVehicleRequired),
		errors.Is(err, repository.ErrInvalidInput):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, odometer.ErrSuperseded):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	default:
		slog.Error("request failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}
