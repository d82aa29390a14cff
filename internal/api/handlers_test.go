package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"example.com/activitysync/internal/auth"
	"example.com/activitysync/internal/domain"
)

func authedRequest(method, target, body string, scopes ...string) *http.Request {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	scopeSet := make(map[string]struct{}, len(scopes))
	for _, scope := range scopes {
		scopeSet[scope] = struct{}{}
	}
	claims := &auth.Claims{
		Subject:   "tester",
		Scopes:    scopeSet,
		ExpiresAt: time.Now().Add(time.Hour),
	}
	return req.WithContext(auth.WithClaims(req.Context(), claims))
}

func TestGetActivitiesCacheMissRecommendsRefresh(t *testing.T) {
	service := domain.NewService(&mockStore{}, &mockRefresher{})
	handler := NewHandler(service)

	req := authedRequest(http.MethodGet, "/v1/activities?owner_id=owner-1&window_days=7&mode=cached", "", auth.ScopeActivitiesRead)
	rr := httptest.NewRecorder()
	handler.getActivities(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d: %s", rr.Code, rr.Body.String())
	}

	var resp NoCachedActivitiesResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !resp.RecommendRefresh {
		t.Fatalf("expected recommend_refresh to be set")
	}
	if resp.Type != "no_cached_activities" {
		t.Fatalf("unexpected type %q", resp.Type)
	}
}

func TestGetActivitiesCachedSuccess(t *testing.T) {
	now := time.Now().UTC()
	store := &mockStore{records: []domain.ActivityRecord{
		{ID: "a1", OwnerID: "owner-1", Type: "Run", StartTime: now.Add(-2 * time.Hour), DistanceKm: 10, Calories: 640, CalorieSource: domain.CalorieSourceDetail, IsRunActivity: true},
		{ID: "a2", OwnerID: "owner-1", Type: "Ride", StartTime: now.Add(-30 * time.Hour), DistanceKm: 42},
	}}
	service := domain.NewService(store, &mockRefresher{})
	handler := NewHandler(service)

	req := authedRequest(http.MethodGet, "/v1/activities?owner_id=owner-1&window_days=7", "", auth.ScopeActivitiesRead)
	rr := httptest.NewRecorder()
	handler.getActivities(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rr.Code, rr.Body.String())
	}

	var resp ActivitiesResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Source != "cache" {
		t.Fatalf("expected cache source got %q", resp.Source)
	}
	if len(resp.Items) != 2 {
		t.Fatalf("expected 2 items got %d", len(resp.Items))
	}
	if resp.Items[0].ActivityID != "a1" {
		t.Fatalf("expected newest first, got %s", resp.Items[0].ActivityID)
	}
	if resp.Items[0].CalorieSource != "detail" {
		t.Fatalf("unexpected calorie source %q", resp.Items[0].CalorieSource)
	}
}

func TestGetActivitiesRefreshModeUsesRefresher(t *testing.T) {
	refresher := &mockRefresher{result: &domain.RefreshResult{
		Records:             []domain.ActivityRecord{{ID: "a1", OwnerID: "owner-1"}},
		EnrichmentCallsUsed: 4,
	}}
	service := domain.NewService(&mockStore{}, refresher)
	handler := NewHandler(service)

	req := authedRequest(http.MethodGet, "/v1/activities?owner_id=owner-1&mode=refresh", "", auth.ScopeActivitiesRead)
	rr := httptest.NewRecorder()
	handler.getActivities(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rr.Code, rr.Body.String())
	}

	var resp ActivitiesResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Source != "provider" {
		t.Fatalf("expected provider source got %q", resp.Source)
	}
	if resp.EnrichmentCallsUsed != 4 {
		t.Fatalf("expected 4 enrichment calls got %d", resp.EnrichmentCallsUsed)
	}
	if refresher.calls != 1 {
		t.Fatalf("expected one refresh call got %d", refresher.calls)
	}
}

func TestGetActivitiesRequiresOwnerID(t *testing.T) {
	service := domain.NewService(&mockStore{}, &mockRefresher{})
	handler := NewHandler(service)

	req := authedRequest(http.MethodGet, "/v1/activities", "", auth.ScopeActivitiesRead)
	rr := httptest.NewRecorder()
	handler.getActivities(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", rr.Code)
	}
}

func TestGetActivitiesRequiresReadScope(t *testing.T) {
	service := domain.NewService(&mockStore{}, &mockRefresher{})
	handler := NewHandler(service)

	req := authedRequest(http.MethodGet, "/v1/activities?owner_id=owner-1", "")
	rr := httptest.NewRecorder()
	handler.getActivities(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 got %d", rr.Code)
	}
}

func TestSetUserTagRejectsInvalidTag(t *testing.T) {
	service := domain.NewService(&mockStore{}, &mockRefresher{})
	handler := NewHandler(service)

	req := authedRequest(http.MethodPost, "/v1/activities/A123/tag",
		`{"owner_id":"owner-1","tag":"sprint"}`, auth.ScopeActivitiesWrite)
	rr := httptest.NewRecorder()
	handler.setUserTag(rr, req, "A123")

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestSetUserTagCreatesStub(t *testing.T) {
	store := &mockStore{}
	service := domain.NewService(store, &mockRefresher{})
	handler := NewHandler(service)

	req := authedRequest(http.MethodPost, "/v1/activities/A999/tag",
		`{"owner_id":"owner-1","tag":"long"}`, auth.ScopeActivitiesWrite)
	rr := httptest.NewRecorder()
	handler.setUserTag(rr, req, "A999")

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rr.Code, rr.Body.String())
	}

	var view ActivityView
	if err := json.Unmarshal(rr.Body.Bytes(), &view); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if view.RunTag != "long" || view.TaggedBy != "user" || !view.UserOverride {
		t.Fatalf("unexpected tag state: %+v", view)
	}
	if len(store.tagged) != 1 {
		t.Fatalf("expected one tagged save got %d", len(store.tagged))
	}
}

func TestSetUserTagRequiresWriteScope(t *testing.T) {
	service := domain.NewService(&mockStore{}, &mockRefresher{})
	handler := NewHandler(service)

	req := authedRequest(http.MethodPost, "/v1/activities/A123/tag",
		`{"owner_id":"owner-1","tag":"tempo"}`, auth.ScopeActivitiesRead)
	rr := httptest.NewRecorder()
	handler.setUserTag(rr, req, "A123")

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 got %d", rr.Code)
	}
}

func TestSyncStatusSuccess(t *testing.T) {
	fetched := time.Now().UTC().Add(-10 * time.Minute)
	store := &mockStore{status: domain.SyncStatusSummary{
		Activities:    12,
		Runs:          7,
		Enriched:      5,
		UserTagged:    2,
		LastFetchedAt: &fetched,
	}}
	service := domain.NewService(store, &mockRefresher{})
	handler := NewHandler(service)

	req := authedRequest(http.MethodGet, "/v1/activities/sync-status?owner_id=owner-1&window_days=30", "", auth.ScopeActivitiesRead)
	rr := httptest.NewRecorder()
	handler.syncStatus(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rr.Code, rr.Body.String())
	}

	var resp SyncStatusResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Activities != 12 || resp.Runs != 7 || resp.Enriched != 5 || resp.UserTagged != 2 {
		t.Fatalf("unexpected summary: %+v", resp)
	}
	if resp.LastFetchedAt == nil {
		t.Fatalf("expected last_fetched_at to be set")
	}
}

type mockStore struct {
	records []domain.ActivityRecord
	tagged  []domain.ActivityRecord
	status  domain.SyncStatusSummary
}

func (m *mockStore) GetByIDs(ctx context.Context, ownerID string, ids []string) (map[string]domain.ActivityRecord, error) {
	return map[string]domain.ActivityRecord{}, nil
}

func (m *mockStore) Query(ctx context.Context, ownerID string, after, before time.Time) ([]domain.ActivityRecord, error) {
	out := make([]domain.ActivityRecord, 0, len(m.records))
	for _, rec := range m.records {
		if rec.StartTime.Before(after) || rec.StartTime.After(before) {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func (m *mockStore) BatchUpsert(ctx context.Context, ownerID string, records []domain.ActivityRecord) error {
	m.records = append(m.records, records...)
	return nil
}

func (m *mockStore) Get(ctx context.Context, ownerID, activityID string) (*domain.ActivityRecord, error) {
	for _, rec := range m.records {
		if rec.ID == activityID {
			return &rec, nil
		}
	}
	return nil, domain.ErrActivityNotFound
}

func (m *mockStore) SaveTagged(ctx context.Context, record domain.ActivityRecord) error {
	m.tagged = append(m.tagged, record)
	return nil
}

func (m *mockStore) Status(ctx context.Context, ownerID string, after, before time.Time) (domain.SyncStatusSummary, error) {
	return m.status, nil
}

type mockRefresher struct {
	result *domain.RefreshResult
	calls  int
}

func (m *mockRefresher) Refresh(ctx context.Context, ownerID string, windowDays int) (*domain.RefreshResult, error) {
	m.calls++
	if m.result == nil {
		return &domain.RefreshResult{}, nil
	}
	return m.result, nil
}
