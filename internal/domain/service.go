package domain

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"
)

// ActivityStore captures persistence operations for activity records.
type ActivityStore interface {
	// GetByIDs batch-reads previously stored records for the given provider IDs.
	GetByIDs(ctx context.Context, ownerID string, ids []string) (map[string]ActivityRecord, error)
	// Query returns the owner's records with StartTime inside [after, before].
	Query(ctx context.Context, ownerID string, after, before time.Time) ([]ActivityRecord, error)
	// BatchUpsert persists records idempotently on (owner_id, activity_id).
	BatchUpsert(ctx context.Context, ownerID string, records []ActivityRecord) error
	// Get fetches a single record.
	Get(ctx context.Context, ownerID, activityID string) (*ActivityRecord, error)
	// SaveTagged persists a user tagging action on a single record.
	SaveTagged(ctx context.Context, record ActivityRecord) error
	// Status summarises the owner's stored window.
	Status(ctx context.Context, ownerID string, after, before time.Time) (SyncStatusSummary, error)
}

// SyncStatusSummary describes how much of an owner's window has been synced,
// enriched, and tagged.
type SyncStatusSummary struct {
	Activities    int
	Runs          int
	Enriched      int
	UserTagged    int
	LastFetchedAt *time.Time
}

// RefreshResult is the outcome of one provider refresh.
type RefreshResult struct {
	Records             []ActivityRecord
	FromCache           bool
	EnrichmentCallsUsed int
	EnrichmentFailures  int
}

// Refresher drives the list → enrich → reconcile → persist pipeline.
type Refresher interface {
	Refresh(ctx context.Context, ownerID string, windowDays int) (*RefreshResult, error)
}

// FetchMode selects between the instant cache path and a provider refresh.
type FetchMode string

const (
	ModeCached  FetchMode = "cached"
	ModeRefresh FetchMode = "refresh"
)

// ParseFetchMode validates a caller-supplied mode, defaulting to cached.
func ParseFetchMode(raw string) (FetchMode, error) {
	switch raw {
	case "", string(ModeCached):
		return ModeCached, nil
	case string(ModeRefresh):
		return ModeRefresh, nil
	}
	return "", fmt.Errorf("unknown fetch mode %q", raw)
}

// ResultSource reports where a response was served from.
type ResultSource string

const (
	SourceCache    ResultSource = "cache"
	SourceProvider ResultSource = "provider"
)

// ActivitiesResult is the caller-facing payload of GetActivities.
type ActivitiesResult struct {
	Records             []ActivityRecord
	Source              ResultSource
	EnrichmentCallsUsed int
}

// Service is the engine's caller-facing API: cache-first reads, provider
// refreshes, and user tagging.
type Service struct {
	store     ActivityStore
	refresher Refresher
	now       func() time.Time
}

// NewService constructs a Service.
func NewService(store ActivityStore, refresher Refresher) *Service {
	return &Service{store: store, refresher: refresher, now: time.Now}
}

// GetActivities serves an owner's activity window. Cached mode never touches
// the network and returns ErrNoCachedActivities when the store holds nothing
// for the window. Refresh mode runs the full sync pipeline, falling back to
// the cached slice when the provider list call fails.
func (s *Service) GetActivities(ctx context.Context, ownerID string, windowDays int, mode FetchMode) (*ActivitiesResult, error) {
	if mode == ModeCached {
		records, err := s.ReadCached(ctx, ownerID, windowDays)
		if err != nil {
			return nil, err
		}
		return &ActivitiesResult{Records: records, Source: SourceCache}, nil
	}

	result, err := s.refresher.Refresh(ctx, ownerID, windowDays)
	if err != nil {
		return nil, err
	}
	source := SourceProvider
	if result.FromCache {
		source = SourceCache
	}
	return &ActivitiesResult{
		Records:             result.Records,
		Source:              source,
		EnrichmentCallsUsed: result.EnrichmentCallsUsed,
	}, nil
}

// ReadCached serves a time-bounded slice of the store without contacting the
// provider: deduplicated by ID, sorted by StartTime descending.
func (s *Service) ReadCached(ctx context.Context, ownerID string, windowDays int) ([]ActivityRecord, error) {
	after, before := Window(s.now(), windowDays)
	records, err := s.store.Query(ctx, ownerID, after, before)
	if err != nil {
		return nil, err
	}
	records = DedupeByID(records)
	SortByStartDesc(records)
	if len(records) == 0 {
		return nil, ErrNoCachedActivities
	}
	return records, nil
}

// SetUserTag validates the tag and marks the record as user-overridden so no
// future classification pass can alter it. When the activity has not been
// synced yet a minimal stub record is created, so the tag is never lost.
func (s *Service) SetUserTag(ctx context.Context, ownerID, activityID string, tag RunTag) (*ActivityRecord, error) {
	if _, ok := ValidTags[tag]; !ok {
		return nil, ErrInvalidTag
	}

	record, err := s.store.Get(ctx, ownerID, activityID)
	if err != nil && !errors.Is(err, ErrActivityNotFound) {
		return nil, err
	}
	if record == nil {
		record = &ActivityRecord{
			ID:            activityID,
			OwnerID:       ownerID,
			CalorieSource: CalorieSourceNone,
			IsRunActivity: true,
		}
	}

	record.RunTag = tag
	record.TaggedBy = TaggedByUser
	record.UserOverride = true
	record.Confidence = 1
	record.TaggedAt = s.now().UTC()

	if err := s.store.SaveTagged(ctx, *record); err != nil {
		return nil, err
	}
	return record, nil
}

// SyncStatus reports aggregate sync state for the owner's window.
func (s *Service) SyncStatus(ctx context.Context, ownerID string, windowDays int) (SyncStatusSummary, error) {
	after, before := Window(s.now(), windowDays)
	return s.store.Status(ctx, ownerID, after, before)
}

// Window converts a day count into the [after, before] instant pair used by
// store queries and provider list calls.
func Window(now time.Time, windowDays int) (after, before time.Time) {
	if windowDays <= 0 {
		windowDays = 30
	}
	before = now.UTC()
	after = before.AddDate(0, 0, -windowDays)
	return after, before
}

// DedupeByID keeps the first occurrence of each activity ID.
func DedupeByID(records []ActivityRecord) []ActivityRecord {
	seen := make(map[string]struct{}, len(records))
	out := records[:0]
	for _, rec := range records {
		if _, ok := seen[rec.ID]; ok {
			continue
		}
		seen[rec.ID] = struct{}{}
		out = append(out, rec)
	}
	return out
}

// SortByStartDesc orders records newest first, breaking ties by ID for
// deterministic output.
func SortByStartDesc(records []ActivityRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].StartTime.Equal(records[j].StartTime) {
			return records[i].ID > records[j].ID
		}
		return records[i].StartTime.After(records[j].StartTime)
	})
}
