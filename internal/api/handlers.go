// Package api exposes HTTP handlers for the activity sync engine.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"example.com/activitysync/internal/auth"
	"example.com/activitysync/internal/domain"
	"example.com/activitysync/internal/observability"
)

// Handler coordinates HTTP requests with the engine service.
type Handler struct {
	service *domain.Service
}

// NewHandler builds a Handler.
func NewHandler(service *domain.Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes wires endpoints to the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/activities", h.getActivities)
	mux.HandleFunc("/v1/activities/sync-status", h.syncStatus)
	mux.HandleFunc("/v1/activities/", h.activityByID)
	mux.HandleFunc("/healthz", healthz)
}

// healthz reports a simple OK status for container health checks.
func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) activityByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/activities/")
	parts := strings.Split(rest, "/")
	if len(parts) == 2 && parts[1] == "tag" && parts[0] != "" {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
			return
		}
		h.setUserTag(w, r, parts[0])
		return
	}
	writeError(w, http.StatusNotFound, "not_found", "unknown route")
}

func (h *Handler) getActivities(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}

	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return
	}
	if !claims.HasScope(auth.ScopeActivitiesRead) && !claims.HasScope(auth.ScopeActivitiesWrite) {
		writeError(w, http.StatusForbidden, "forbidden", "scope activities:read required")
		return
	}

	ownerID := r.URL.Query().Get("owner_id")
	if strings.TrimSpace(ownerID) == "" {
		writeError(w, http.StatusBadRequest, "validation_failed", "missing owner_id parameter")
		return
	}

	windowDays := parsePositiveInt(r.URL.Query().Get("window_days"), 30)

	mode, err := domain.ParseFetchMode(r.URL.Query().Get("mode"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}

	result, err := h.service.GetActivities(r.Context(), ownerID, windowDays, mode)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNoCachedActivities):
			observability.RecordCacheMiss()
			writeJSON(w, http.StatusNotFound, NoCachedActivitiesResponse{
				Type:             "no_cached_activities",
				Detail:           "no stored activities for the requested window",
				RecommendRefresh: true,
			})
		case errors.Is(err, domain.ErrProviderThrottled):
			writeError(w, http.StatusTooManyRequests, "provider_throttled", err.Error())
		case errors.Is(err, domain.ErrProviderUnavailable):
			writeError(w, http.StatusBadGateway, "provider_unavailable", err.Error())
		default:
			writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		}
		return
	}
	if mode == domain.ModeCached {
		observability.RecordCacheHit()
	}

	items := make([]ActivityView, 0, len(result.Records))
	for _, rec := range result.Records {
		items = append(items, toActivityView(rec))
	}
	writeJSON(w, http.StatusOK, ActivitiesResponse{
		Items:               items,
		Source:              string(result.Source),
		EnrichmentCallsUsed: result.EnrichmentCallsUsed,
	})
}

func (h *Handler) setUserTag(w http.ResponseWriter, r *http.Request, activityID string) {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return
	}
	if !claims.HasScope(auth.ScopeActivitiesWrite) {
		writeError(w, http.StatusForbidden, "forbidden", "scope activities:write required")
		return
	}

	var req SetTagRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}

	tag, err := domain.ParseRunTag(req.Tag)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_tag", "tag must be one of easy, recovery, tempo, intervals, long")
		return
	}

	record, err := h.service.SetUserTag(r.Context(), req.OwnerID, activityID, tag)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, toActivityView(*record))
}

func (h *Handler) syncStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}

	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return
	}
	if !claims.HasScope(auth.ScopeActivitiesRead) && !claims.HasScope(auth.ScopeActivitiesWrite) {
		writeError(w, http.StatusForbidden, "forbidden", "scope activities:read required")
		return
	}

	ownerID := r.URL.Query().Get("owner_id")
	if strings.TrimSpace(ownerID) == "" {
		writeError(w, http.StatusBadRequest, "validation_failed", "missing owner_id parameter")
		return
	}
	windowDays := parsePositiveInt(r.URL.Query().Get("window_days"), 30)

	status, err := h.service.SyncStatus(r.Context(), ownerID, windowDays)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, SyncStatusResponse{
		Activities:    status.Activities,
		Runs:          status.Runs,
		Enriched:      status.Enriched,
		UserTagged:    status.UserTagged,
		LastFetchedAt: status.LastFetchedAt,
		WindowDays:    windowDays,
	})
}

func parsePositiveInt(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
		return parsed
	}
	return fallback
}

// SetTagRequest is the payload for POST /v1/activities/{id}/tag.
type SetTagRequest struct {
	OwnerID string `json:"owner_id"`
	Tag     string `json:"tag"`
}

// Validate ensures request correctness.
func (r SetTagRequest) Validate() error {
	if strings.TrimSpace(r.OwnerID) == "" {
		return errors.New("owner_id is required")
	}
	if strings.TrimSpace(r.Tag) == "" {
		return errors.New("tag is required")
	}
	return nil
}

// ActivityView exposes full details about an activity.
type ActivityView struct {
	ActivityID          string     `json:"activity_id"`
	OwnerID             string     `json:"owner_id"`
	Type                string     `json:"type"`
	StartTime           time.Time  `json:"start_time"`
	Date                string     `json:"date"`
	DistanceKm          float64    `json:"distance_km"`
	MovingTimeSec       int        `json:"moving_time_sec"`
	ElapsedTimeSec      int        `json:"elapsed_time_sec"`
	ElevationGainM      float64    `json:"elevation_gain_m"`
	AverageHeartRate    *float64   `json:"average_heart_rate,omitempty"`
	MaxHeartRate        *float64   `json:"max_heart_rate,omitempty"`
	Calories            int        `json:"calories"`
	CalorieSource       string     `json:"calorie_source"`
	IsRunActivity       bool       `json:"is_run_activity"`
	RunTag              string     `json:"run_tag,omitempty"`
	TaggedBy            string     `json:"tagged_by,omitempty"`
	UserOverride        bool       `json:"user_override"`
	Confidence          float64    `json:"confidence,omitempty"`
	TaggedAt            *time.Time `json:"tagged_at,omitempty"`
	SufferScore         *float64   `json:"suffer_score,omitempty"`
	GearID              string     `json:"gear_id,omitempty"`
	HasDetailedAnalysis bool       `json:"has_detailed_analysis"`
	FetchedAt           time.Time  `json:"fetched_at"`
}

// ActivitiesResponse packages list results with their serving source.
type ActivitiesResponse struct {
	Items               []ActivityView `json:"items"`
	Source              string         `json:"source"`
	EnrichmentCallsUsed int            `json:"enrichment_calls_used"`
}

// NoCachedActivitiesResponse tells callers to trigger a refresh.
type NoCachedActivitiesResponse struct {
	Type             string `json:"type"`
	Detail           string `json:"detail"`
	RecommendRefresh bool   `json:"recommend_refresh"`
}

// SyncStatusResponse summarises the stored window.
type SyncStatusResponse struct {
	Activities    int        `json:"activities"`
	Runs          int        `json:"runs"`
	Enriched      int        `json:"enriched"`
	UserTagged    int        `json:"user_tagged"`
	LastFetchedAt *time.Time `json:"last_fetched_at,omitempty"`
	WindowDays    int        `json:"window_days"`
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	payload := map[string]string{
		"type":   code,
		"detail": detail,
	}
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func toActivityView(rec domain.ActivityRecord) ActivityView {
	view := ActivityView{
		ActivityID:          rec.ID,
		OwnerID:             rec.OwnerID,
		Type:                rec.Type,
		StartTime:           rec.StartTime,
		Date:                rec.Date,
		DistanceKm:          rec.DistanceKm,
		MovingTimeSec:       rec.MovingTimeSec,
		ElapsedTimeSec:      rec.ElapsedTimeSec,
		ElevationGainM:      rec.ElevationGainM,
		AverageHeartRate:    rec.AverageHeartRate,
		MaxHeartRate:        rec.MaxHeartRate,
		Calories:            rec.Calories,
		CalorieSource:       string(rec.CalorieSource),
		IsRunActivity:       rec.IsRunActivity,
		RunTag:              string(rec.RunTag),
		TaggedBy:            string(rec.TaggedBy),
		UserOverride:        rec.UserOverride,
		Confidence:          rec.Confidence,
		SufferScore:         rec.SufferScore,
		GearID:              rec.GearID,
		HasDetailedAnalysis: rec.HasDetailedAnalysis,
		FetchedAt:           rec.FetchedAt,
	}
	if !rec.TaggedAt.IsZero() {
		taggedAt := rec.TaggedAt
		view.TaggedAt = &taggedAt
	}
	return view
}
