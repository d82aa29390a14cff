// Package postgres provides the pgx-backed activity store and outbox writes.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/activitysync/internal/domain"
	"example.com/activitysync/internal/events"
	"example.com/activitysync/internal/observability"
)

const activityColumns = `activity_id, owner_id, activity_type, started_at, activity_date,
        distance_km, moving_time_sec, elapsed_time_sec, elevation_gain_m,
        avg_heart_rate, max_heart_rate, calories, calorie_source,
        is_run, run_tag, tagged_by, user_override, tag_confidence, tagged_at,
        suffer_score, gear_id, has_detailed_analysis, fetched_at`

// Repository provides Postgres-backed persistence for activity records and
// outbox events.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetByIDs batch-reads previously stored records for the supplied provider IDs.
func (r *Repository) GetByIDs(ctx context.Context, ownerID string, ids []string) (map[string]domain.ActivityRecord, error) {
	out := make(map[string]domain.ActivityRecord, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	query := `SELECT ` + activityColumns + ` FROM activities
        WHERE owner_id=$1 AND activity_id = ANY($2)`

	tx, release, err := r.ownerTx(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	defer release()

	rows, err := tx.Query(ctx, query, ownerID, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		rec, err := scanActivity(rows)
		if err != nil {
			return nil, err
		}
		out[rec.ID] = rec
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return out, nil
}

// Query returns the owner's records whose StartTime falls inside the window,
// newest first.
func (r *Repository) Query(ctx context.Context, ownerID string, after, before time.Time) ([]domain.ActivityRecord, error) {
	query := `SELECT ` + activityColumns + ` FROM activities
        WHERE owner_id=$1 AND started_at >= $2 AND started_at <= $3
        ORDER BY started_at DESC, activity_id DESC`

	tx, release, err := r.ownerTx(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	defer release()

	rows, err := tx.Query(ctx, query, ownerID, after, before)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]domain.ActivityRecord, 0)
	for rows.Next() {
		rec, err := scanActivity(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return records, nil
}

// Get fetches a single record, returning domain.ErrActivityNotFound when absent.
func (r *Repository) Get(ctx context.Context, ownerID, activityID string) (*domain.ActivityRecord, error) {
	query := `SELECT ` + activityColumns + ` FROM activities
        WHERE owner_id=$1 AND activity_id=$2`

	tx, release, err := r.ownerTx(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	defer release()

	rows, err := tx.Query(ctx, query, ownerID, activityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		rows.Close()
		if err := tx.Commit(ctx); err != nil {
			return nil, err
		}
		return nil, domain.ErrActivityNotFound
	}
	rec, err := scanActivity(rows)
	if err != nil {
		return nil, err
	}
	rows.Close()
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return &rec, nil
}

// BatchUpsert persists a refresh batch idempotently on (owner_id, activity_id)
// and records an activity.synced outbox event inside the same transaction.
func (r *Repository) BatchUpsert(ctx context.Context, ownerID string, records []domain.ActivityRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	if _, err = tx.Exec(ctx, "SELECT set_config('app.owner_id', $1, true)", ownerID); err != nil {
		return err
	}

	batch := &pgx.Batch{}
	for _, rec := range records {
		batch.Queue(upsertActivitySQL, upsertArgs(rec)...)
	}
	br := tx.SendBatch(ctx, batch)
	for range records {
		if _, err = br.Exec(); err != nil {
			br.Close()
			return err
		}
	}
	if err = br.Close(); err != nil {
		return err
	}

	enriched, runs := 0, 0
	var newest time.Time
	for _, rec := range records {
		if rec.CalorieSource == domain.CalorieSourceDetail {
			enriched++
		}
		if rec.IsRunActivity {
			runs++
		}
		if rec.FetchedAt.After(newest) {
			newest = rec.FetchedAt
		}
	}

	if err = r.insertOutbox(ctx, tx, ownerID, ownerID, "activity.synced", events.ActivitySynced{
		OwnerID:       ownerID,
		Activities:    len(records),
		EnrichedCount: enriched,
		RunCount:      runs,
		OccurredAt:    newest,
	}, fmt.Sprintf("%s:synced:%d", ownerID, newest.UnixNano())); err != nil {
		return err
	}

	if err = tx.Commit(ctx); err != nil {
		return err
	}
	observability.RecordBatchPersisted(newest)
	return nil
}

// SaveTagged persists a user tagging action (upserting a stub row when the
// activity has not been synced yet) and records an activity.tagged event.
func (r *Repository) SaveTagged(ctx context.Context, rec domain.ActivityRecord) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	if _, err = tx.Exec(ctx, "SELECT set_config('app.owner_id', $1, true)", rec.OwnerID); err != nil {
		return err
	}

	if _, err = tx.Exec(ctx, upsertTagSQL,
		rec.ID, rec.OwnerID, rec.Type, nullIfZeroTime(rec.StartTime), rec.Date,
		rec.DistanceKm, rec.MovingTimeSec, rec.ElapsedTimeSec, rec.ElevationGainM,
		rec.AverageHeartRate, rec.MaxHeartRate, rec.Calories, string(rec.CalorieSource),
		rec.IsRunActivity,
		string(rec.RunTag), string(rec.TaggedBy), rec.UserOverride, rec.Confidence, rec.TaggedAt,
	); err != nil {
		return err
	}

	if err = r.insertOutbox(ctx, tx, rec.OwnerID, rec.ID, "activity.tagged", events.ActivityTagged{
		OwnerID:    rec.OwnerID,
		ActivityID: rec.ID,
		Tag:        string(rec.RunTag),
		TaggedBy:   string(rec.TaggedBy),
		OccurredAt: rec.TaggedAt,
	}, fmt.Sprintf("%s:%s:tagged:%d", rec.OwnerID, rec.ID, rec.TaggedAt.UnixNano())); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// Status computes aggregate counts over the owner's stored window.
func (r *Repository) Status(ctx context.Context, ownerID string, after, before time.Time) (domain.SyncStatusSummary, error) {
	const query = `SELECT COUNT(*),
            COUNT(*) FILTER (WHERE is_run),
            COUNT(*) FILTER (WHERE calorie_source = 'detail'),
            COUNT(*) FILTER (WHERE user_override),
            MAX(fetched_at)
        FROM activities
        WHERE owner_id=$1 AND started_at >= $2 AND started_at <= $3`

	tx, release, err := r.ownerTx(ctx, ownerID)
	if err != nil {
		return domain.SyncStatusSummary{}, err
	}
	defer release()

	var status domain.SyncStatusSummary
	row := tx.QueryRow(ctx, query, ownerID, after, before)
	if err := row.Scan(&status.Activities, &status.Runs, &status.Enriched, &status.UserTagged, &status.LastFetchedAt); err != nil {
		return domain.SyncStatusSummary{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.SyncStatusSummary{}, err
	}
	return status, nil
}

// ownerTx opens a transaction with the row-level-security owner binding set.
// The returned release rolls back unless the caller committed.
func (r *Repository) ownerTx(ctx context.Context, ownerID string) (pgx.Tx, func(), error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, nil, err
	}

	tx, err := conn.Begin(ctx)
	if err != nil {
		conn.Release()
		return nil, nil, err
	}

	if _, err := tx.Exec(ctx, "SELECT set_config('app.owner_id', $1, true)", ownerID); err != nil {
		tx.Rollback(ctx)
		conn.Release()
		return nil, nil, err
	}

	release := func() {
		tx.Rollback(ctx)
		conn.Release()
	}
	return tx, release, nil
}

func (r *Repository) insertOutbox(ctx context.Context, tx pgx.Tx, ownerID, aggregateID, eventType string, payload interface{}, dedupeKey string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	meta, ok := eventCatalog[eventType]
	if !ok {
		return fmt.Errorf("unknown event type: %s", eventType)
	}

	const stmt = `INSERT INTO outbox (owner_id, aggregate_type, aggregate_id, event_type, topic, schema_subject, partition_key, payload, dedupe_key)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
        ON CONFLICT (dedupe_key) DO NOTHING`

	_, err = tx.Exec(ctx, stmt,
		ownerID,
		"activity",
		aggregateID,
		eventType,
		meta.Topic,
		meta.SchemaSubject,
		meta.PartitionKeyFn(ownerID, aggregateID),
		body,
		dedupeKey,
	)
	return err
}

const upsertActivitySQL = `INSERT INTO activities (
        activity_id, owner_id, activity_type, started_at, activity_date,
        distance_km, moving_time_sec, elapsed_time_sec, elevation_gain_m,
        avg_heart_rate, max_heart_rate, calories, calorie_source,
        is_run, run_tag, tagged_by, user_override, tag_confidence, tagged_at,
        suffer_score, gear_id, has_detailed_analysis, fetched_at)
    VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23)
    ON CONFLICT (owner_id, activity_id) DO UPDATE SET
        activity_type = EXCLUDED.activity_type,
        activity_date = EXCLUDED.activity_date,
        distance_km = EXCLUDED.distance_km,
        moving_time_sec = EXCLUDED.moving_time_sec,
        elapsed_time_sec = EXCLUDED.elapsed_time_sec,
        elevation_gain_m = EXCLUDED.elevation_gain_m,
        avg_heart_rate = EXCLUDED.avg_heart_rate,
        max_heart_rate = EXCLUDED.max_heart_rate,
        calories = EXCLUDED.calories,
        calorie_source = EXCLUDED.calorie_source,
        is_run = EXCLUDED.is_run,
        run_tag = EXCLUDED.run_tag,
        tagged_by = EXCLUDED.tagged_by,
        user_override = EXCLUDED.user_override,
        tag_confidence = EXCLUDED.tag_confidence,
        tagged_at = EXCLUDED.tagged_at,
        suffer_score = EXCLUDED.suffer_score,
        gear_id = EXCLUDED.gear_id,
        has_detailed_analysis = EXCLUDED.has_detailed_analysis,
        fetched_at = EXCLUDED.fetched_at`

// upsertTagSQL refreshes only the identity and tag block so a stub created by
// a tagging action cannot clobber synced descriptive fields.
const upsertTagSQL = `INSERT INTO activities (
        activity_id, owner_id, activity_type, started_at, activity_date,
        distance_km, moving_time_sec, elapsed_time_sec, elevation_gain_m,
        avg_heart_rate, max_heart_rate, calories, calorie_source,
        is_run, run_tag, tagged_by, user_override, tag_confidence, tagged_at,
        fetched_at)
    VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19, NOW())
    ON CONFLICT (owner_id, activity_id) DO UPDATE SET
        run_tag = EXCLUDED.run_tag,
        tagged_by = EXCLUDED.tagged_by,
        user_override = EXCLUDED.user_override,
        tag_confidence = EXCLUDED.tag_confidence,
        tagged_at = EXCLUDED.tagged_at`

func upsertArgs(rec domain.ActivityRecord) []interface{} {
	return []interface{}{
		rec.ID, rec.OwnerID, rec.Type, rec.StartTime, rec.Date,
		rec.DistanceKm, rec.MovingTimeSec, rec.ElapsedTimeSec, rec.ElevationGainM,
		rec.AverageHeartRate, rec.MaxHeartRate, rec.Calories, string(rec.CalorieSource),
		rec.IsRunActivity, nullIfEmpty(string(rec.RunTag)), nullIfEmpty(string(rec.TaggedBy)),
		rec.UserOverride, rec.Confidence, nullIfZeroTime(rec.TaggedAt),
		rec.SufferScore, nullIfEmpty(rec.GearID), rec.HasDetailedAnalysis, rec.FetchedAt,
	}
}

func scanActivity(rows pgx.Rows) (domain.ActivityRecord, error) {
	var (
		rec           domain.ActivityRecord
		calorieSource string
		runTag        *string
		taggedBy      *string
		taggedAt      *time.Time
		gearID        *string
		startedAt     *time.Time
	)
	if err := rows.Scan(&rec.ID, &rec.OwnerID, &rec.Type, &startedAt, &rec.Date,
		&rec.DistanceKm, &rec.MovingTimeSec, &rec.ElapsedTimeSec, &rec.ElevationGainM,
		&rec.AverageHeartRate, &rec.MaxHeartRate, &rec.Calories, &calorieSource,
		&rec.IsRunActivity, &runTag, &taggedBy, &rec.UserOverride, &rec.Confidence, &taggedAt,
		&rec.SufferScore, &gearID, &rec.HasDetailedAnalysis, &rec.FetchedAt); err != nil {
		return domain.ActivityRecord{}, err
	}
	rec.CalorieSource = domain.CalorieSource(calorieSource)
	if startedAt != nil {
		rec.StartTime = startedAt.UTC()
	}
	if runTag != nil {
		rec.RunTag = domain.RunTag(*runTag)
	}
	if taggedBy != nil {
		rec.TaggedBy = domain.TagSource(*taggedBy)
	}
	if taggedAt != nil {
		rec.TaggedAt = taggedAt.UTC()
	}
	if gearID != nil {
		rec.GearID = *gearID
	}
	return rec, nil
}

func nullIfEmpty(value string) interface{} {
	if value == "" {
		return nil
	}
	return value
}

func nullIfZeroTime(value time.Time) interface{} {
	if value.IsZero() {
		return nil
	}
	return value
}

// EventMetadata describes how to route an outbox event.
type EventMetadata struct {
	Topic          string
	SchemaSubject  string
	PartitionKeyFn func(ownerID, aggregateID string) string
}

var eventCatalog = map[string]EventMetadata{
	"activity.synced": {
		Topic:         "activity_sync_events",
		SchemaSubject: "activity_sync_events-value",
		PartitionKeyFn: func(ownerID, _ string) string {
			return ownerID
		},
	},
	"activity.tagged": {
		Topic:         "activity_tag_events",
		SchemaSubject: "activity_tag_events-value",
		PartitionKeyFn: func(ownerID, aggregateID string) string {
			return fmt.Sprintf("%s:%s", ownerID, aggregateID)
		},
	},
}
