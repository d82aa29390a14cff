// Package sync drives the provider refresh pipeline: list, enrich under
// budget, reconcile, classify, persist.
package sync

import (
	"context"
	"errors"
	"log"
	"sort"
	"time"

	"example.com/activitysync/internal/domain"
	"example.com/activitysync/internal/provider"
)

// ProviderClient is the slice of the provider API the orchestrator needs.
type ProviderClient interface {
	ListActivities(ctx context.Context, ownerID string, afterEpochSec, beforeEpochSec int64) (*provider.ListResult, error)
	GetActivityDetail(ctx context.Context, ownerID, activityID string) (*domain.ProviderDetail, error)
}

// Option configures optional orchestrator behaviour.
type Option func(*Orchestrator)

// WithLogger overrides the logger used for progress and failure reporting.
func WithLogger(logger *log.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// WithBudget overrides the per-refresh enrichment budget factory, e.g. to
// thread in a shared per-day allowance.
func WithBudget(factory func() Limiter) Option {
	return func(o *Orchestrator) {
		o.newBudget = factory
	}
}

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = now
	}
}

// Orchestrator implements domain.Refresher. One logical worker per refresh:
// detail calls are issued strictly sequentially with a fixed inter-call delay
// to stay under the provider's short-window rate limit.
type Orchestrator struct {
	provider  ProviderClient
	store     domain.ActivityStore
	newBudget func() Limiter
	callDelay time.Duration
	logger    *log.Logger
	now       func() time.Time
}

// NewOrchestrator constructs an Orchestrator with a fixed per-refresh
// enrichment cap and inter-call delay.
func NewOrchestrator(client ProviderClient, store domain.ActivityStore, maxEnrichmentCalls int, callDelay time.Duration, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		provider:  client,
		store:     store,
		newBudget: func() Limiter { return NewCallBudget(maxEnrichmentCalls) },
		callDelay: callDelay,
		logger:    log.New(log.Writer(), "[sync] ", log.LstdFlags),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Refresh runs the end-to-end pipeline for one owner window. The list call is
// the only guaranteed network operation; enrichment is best effort under the
// budget and a throttle signal cuts it short without failing the refresh.
// When the list call itself fails the cached slice is returned unchanged.
func (o *Orchestrator) Refresh(ctx context.Context, ownerID string, windowDays int) (*domain.RefreshResult, error) {
	after, before := domain.Window(o.now(), windowDays)

	listed, err := o.provider.ListActivities(ctx, ownerID, after.Unix(), before.Unix())
	if err != nil {
		o.logger.Printf("list failed for owner=%s, serving cache: %v", ownerID, err)
		refreshFallbackCounter.Inc()
		return o.cachedFallback(ctx, ownerID, after, before, err)
	}
	recordRateLimit(listed.RateLimitUsage, listed.RateLimitLimit)

	summaries := listed.Activities
	ids := make([]string, 0, len(summaries))
	for _, s := range summaries {
		ids = append(ids, s.ID)
	}

	previous, err := o.store.GetByIDs(ctx, ownerID, ids)
	if err != nil {
		return nil, err
	}

	details, callsUsed, failures := o.enrich(ctx, ownerID, summaries, previous)

	now := o.now()
	records := make([]domain.ActivityRecord, 0, len(summaries))
	for _, summary := range summaries {
		var prev *domain.ActivityRecord
		if p, ok := previous[summary.ID]; ok {
			prevCopy := p
			prev = &prevCopy
		}
		rec := domain.Merge(summary, details[summary.ID], prev, ownerID, now)
		domain.ApplyAutoTag(&rec, now)
		records = append(records, rec)
	}

	if len(records) > 0 {
		// The refresh deadline may have fired during enrichment. The batch
		// reconciled so far is persisted and returned rather than discarded,
		// so the write runs detached from the expired context.
		persistCtx := ctx
		if ctx.Err() != nil {
			persistCtx = context.WithoutCancel(ctx)
		}
		if err := o.store.BatchUpsert(persistCtx, ownerID, records); err != nil {
			return nil, err
		}
	}

	records = domain.DedupeByID(records)
	domain.SortByStartDesc(records)

	refreshCounter.WithLabelValues("provider").Inc()
	enrichmentCallsCounter.Add(float64(callsUsed))

	return &domain.RefreshResult{
		Records:             records,
		EnrichmentCallsUsed: callsUsed,
		EnrichmentFailures:  failures,
	}, nil
}

// enrich fetches detail data for candidates, sequentially and under budget,
// stopping early on throttling or context cancellation. Partial results are
// returned; individual fetch failures are counted and skipped.
func (o *Orchestrator) enrich(ctx context.Context, ownerID string, summaries []domain.ProviderSummary, previous map[string]domain.ActivityRecord) (map[string]*domain.ProviderDetail, int, int) {
	candidates := enrichmentCandidates(summaries, previous)
	details := make(map[string]*domain.ProviderDetail, len(candidates))
	budget := o.newBudget()
	failures := 0

	for i, summary := range candidates {
		if ctx.Err() != nil {
			o.logger.Printf("enrichment cut short by deadline after %d calls", budget.Used())
			break
		}
		if !budget.TryAcquire() {
			o.logger.Printf("enrichment budget exhausted with %d candidates remaining", len(candidates)-i)
			break
		}
		if i > 0 && o.callDelay > 0 {
			select {
			case <-ctx.Done():
				return details, budget.Used(), failures
			case <-time.After(o.callDelay):
			}
		}

		detail, err := o.provider.GetActivityDetail(ctx, ownerID, summary.ID)
		if err != nil {
			if errors.Is(err, domain.ErrProviderThrottled) {
				o.logger.Printf("provider throttled, stopping enrichment: %v", err)
				throttleStopCounter.Inc()
				break
			}
			o.logger.Printf("detail fetch failed for activity=%s: %v", summary.ID, err)
			enrichmentFailureCounter.Inc()
			failures++
			continue
		}
		details[summary.ID] = detail
	}

	return details, budget.Used(), failures
}

// enrichmentCandidates selects activities whose stored calories are still
// missing and whose type the provider computes calories for. Runs come
// first, then most recent.
func enrichmentCandidates(summaries []domain.ProviderSummary, previous map[string]domain.ActivityRecord) []domain.ProviderSummary {
	candidates := make([]domain.ProviderSummary, 0, len(summaries))
	for _, summary := range summaries {
		if !domain.CalorieBearingType(summary.Type) {
			continue
		}
		if summary.Calories > 0 {
			continue
		}
		if prev, ok := previous[summary.ID]; ok && prev.Calories > 0 {
			continue
		}
		candidates = append(candidates, summary)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		iRun, jRun := domain.IsRunType(candidates[i].Type), domain.IsRunType(candidates[j].Type)
		if iRun != jRun {
			return iRun
		}
		return candidates[i].StartTime.After(candidates[j].StartTime)
	})
	return candidates
}

// cachedFallback serves the stored slice when the provider is unreachable.
// An empty cache surfaces the original provider error.
func (o *Orchestrator) cachedFallback(ctx context.Context, ownerID string, after, before time.Time, cause error) (*domain.RefreshResult, error) {
	records, err := o.store.Query(ctx, ownerID, after, before)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, cause
	}
	records = domain.DedupeByID(records)
	domain.SortByStartDesc(records)
	refreshCounter.WithLabelValues("cache").Inc()
	return &domain.RefreshResult{Records: records, FromCache: true}, nil
}
