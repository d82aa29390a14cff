//go:build integration

package postgres

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	postgrescontainer "github.com/testcontainers/testcontainers-go/modules/postgres"

	"example.com/activitysync/internal/domain"
)

func testRecord(ownerID, activityID string, startedAt time.Time) domain.ActivityRecord {
	return domain.ActivityRecord{
		ID:            activityID,
		OwnerID:       ownerID,
		Type:          "Run",
		StartTime:     startedAt,
		Date:          startedAt.Format("2006-01-02"),
		DistanceKm:    10.5,
		MovingTimeSec: 3150,
		Calories:      640,
		CalorieSource: domain.CalorieSourceDetail,
		IsRunActivity: true,
		RunTag:        domain.TagTempo,
		TaggedBy:      domain.TaggedByAuto,
		Confidence:    0.8,
		TaggedAt:      startedAt.Add(time.Hour),
		FetchedAt:     startedAt.Add(time.Hour),
	}
}

func TestBatchUpsertIsIdempotentOnActivityID(t *testing.T) {
	ctx := context.Background()
	pool, cleanup := setupPostgres(t, ctx)
	defer cleanup()

	repo := NewRepository(pool)
	ownerID := uuid.NewString()
	startedAt := time.Now().UTC().Truncate(time.Second).Add(-24 * time.Hour)

	rec := testRecord(ownerID, "A123", startedAt)
	require.NoError(t, repo.BatchUpsert(ctx, ownerID, []domain.ActivityRecord{rec}))

	// Re-sync with fresher descriptive data must update in place, not duplicate.
	rec.DistanceKm = 10.61
	rec.Calories = 655
	require.NoError(t, repo.BatchUpsert(ctx, ownerID, []domain.ActivityRecord{rec}))

	records, err := repo.Query(ctx, ownerID, startedAt.Add(-time.Hour), time.Now().UTC())
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.InDelta(t, 10.61, records[0].DistanceKm, 0.0001)
	require.Equal(t, 655, records[0].Calories)
	require.Equal(t, domain.CalorieSourceDetail, records[0].CalorieSource)
}

func TestGetByIDsReturnsOnlyKnownRows(t *testing.T) {
	ctx := context.Background()
	pool, cleanup := setupPostgres(t, ctx)
	defer cleanup()

	repo := NewRepository(pool)
	ownerID := uuid.NewString()
	startedAt := time.Now().UTC().Truncate(time.Second).Add(-24 * time.Hour)

	require.NoError(t, repo.BatchUpsert(ctx, ownerID, []domain.ActivityRecord{
		testRecord(ownerID, "A1", startedAt),
		testRecord(ownerID, "A2", startedAt.Add(time.Hour)),
	}))

	out, err := repo.GetByIDs(ctx, ownerID, []string{"A1", "A2", "A3"})
	require.NoError(t, err)
	require.Len(t, out, 2)
	require.Contains(t, out, "A1")
	require.Contains(t, out, "A2")
	require.True(t, out["A1"].UserOverride == false)
	require.Equal(t, domain.TagTempo, out["A1"].RunTag)
}

func TestQueryIsScopedToOwner(t *testing.T) {
	ctx := context.Background()
	pool, cleanup := setupPostgres(t, ctx)
	defer cleanup()

	repo := NewRepository(pool)
	ownerA := uuid.NewString()
	ownerB := uuid.NewString()
	startedAt := time.Now().UTC().Truncate(time.Second).Add(-24 * time.Hour)

	require.NoError(t, repo.BatchUpsert(ctx, ownerA, []domain.ActivityRecord{testRecord(ownerA, "A1", startedAt)}))

	_, err := repo.Get(ctx, ownerB, "A1")
	require.ErrorIs(t, err, domain.ErrActivityNotFound)

	records, err := repo.Query(ctx, ownerB, startedAt.Add(-time.Hour), time.Now().UTC())
	require.NoError(t, err)
	require.Empty(t, records)
}

func TestSaveTaggedCreatesStubAndSurvivesResync(t *testing.T) {
	ctx := context.Background()
	pool, cleanup := setupPostgres(t, ctx)
	defer cleanup()

	repo := NewRepository(pool)
	ownerID := uuid.NewString()
	taggedAt := time.Now().UTC().Truncate(time.Second)

	stub := domain.ActivityRecord{
		ID:            "A777",
		OwnerID:       ownerID,
		CalorieSource: domain.CalorieSourceNone,
		IsRunActivity: true,
		RunTag:        domain.TagLong,
		TaggedBy:      domain.TaggedByUser,
		UserOverride:  true,
		Confidence:    1,
		TaggedAt:      taggedAt,
	}
	require.NoError(t, repo.SaveTagged(ctx, stub))

	stored, err := repo.Get(ctx, ownerID, "A777")
	require.NoError(t, err)
	require.Equal(t, domain.TagLong, stored.RunTag)
	require.True(t, stored.UserOverride)

	// A later sync upserting the full record keeps the override because the
	// orchestrator merged it in; the tag write path itself never clobbers
	// descriptive fields on conflict.
	startedAt := taggedAt.Add(-48 * time.Hour)
	synced := testRecord(ownerID, "A777", startedAt)
	synced.RunTag = stub.RunTag
	synced.TaggedBy = stub.TaggedBy
	synced.UserOverride = true
	synced.Confidence = 1
	synced.TaggedAt = taggedAt
	require.NoError(t, repo.BatchUpsert(ctx, ownerID, []domain.ActivityRecord{synced}))

	stored, err = repo.Get(ctx, ownerID, "A777")
	require.NoError(t, err)
	require.Equal(t, domain.TagLong, stored.RunTag)
	require.Equal(t, domain.TaggedByUser, stored.TaggedBy)
	require.InDelta(t, 10.5, stored.DistanceKm, 0.0001)
}

func TestBatchUpsertRecordsOutboxEvent(t *testing.T) {
	ctx := context.Background()
	pool, cleanup := setupPostgres(t, ctx)
	defer cleanup()

	repo := NewRepository(pool)
	ownerID := uuid.NewString()
	startedAt := time.Now().UTC().Truncate(time.Second).Add(-24 * time.Hour)

	require.NoError(t, repo.BatchUpsert(ctx, ownerID, []domain.ActivityRecord{testRecord(ownerID, "A1", startedAt)}))

	var eventType, topic string
	err := pool.QueryRow(ctx,
		`SELECT event_type, topic FROM outbox WHERE owner_id = $1`, ownerID).Scan(&eventType, &topic)
	require.NoError(t, err)
	require.Equal(t, "activity.synced", eventType)
	require.Equal(t, "activity_sync_events", topic)
}

func TestSaveTaggedRecordsOutboxEvent(t *testing.T) {
	ctx := context.Background()
	pool, cleanup := setupPostgres(t, ctx)
	defer cleanup()

	repo := NewRepository(pool)
	ownerID := uuid.NewString()

	rec := domain.ActivityRecord{
		ID: "A42", OwnerID: ownerID,
		RunTag: domain.TagRecovery, TaggedBy: domain.TaggedByUser,
		UserOverride: true, Confidence: 1,
		TaggedAt:      time.Now().UTC().Truncate(time.Second),
		CalorieSource: domain.CalorieSourceNone,
	}
	require.NoError(t, repo.SaveTagged(ctx, rec))

	var eventType, topic string
	err := pool.QueryRow(ctx,
		`SELECT event_type, topic FROM outbox WHERE owner_id = $1`, ownerID).Scan(&eventType, &topic)
	require.NoError(t, err)
	require.Equal(t, "activity.tagged", eventType)
	require.Equal(t, "activity_tag_events", topic)
}

func TestStatusSummarisesWindow(t *testing.T) {
	ctx := context.Background()
	pool, cleanup := setupPostgres(t, ctx)
	defer cleanup()

	repo := NewRepository(pool)
	ownerID := uuid.NewString()
	startedAt := time.Now().UTC().Truncate(time.Second).Add(-24 * time.Hour)

	run := testRecord(ownerID, "A1", startedAt)
	ride := testRecord(ownerID, "A2", startedAt.Add(time.Hour))
	ride.Type = "Ride"
	ride.IsRunActivity = false
	ride.CalorieSource = domain.CalorieSourcePreserved
	tagged := testRecord(ownerID, "A3", startedAt.Add(2*time.Hour))
	tagged.UserOverride = true
	tagged.TaggedBy = domain.TaggedByUser

	require.NoError(t, repo.BatchUpsert(ctx, ownerID, []domain.ActivityRecord{run, ride, tagged}))

	status, err := repo.Status(ctx, ownerID, startedAt.Add(-time.Hour), time.Now().UTC())
	require.NoError(t, err)
	require.Equal(t, 3, status.Activities)
	require.Equal(t, 2, status.Runs)
	require.Equal(t, 2, status.Enriched)
	require.Equal(t, 1, status.UserTagged)
	require.NotNil(t, status.LastFetchedAt)
}

func setupPostgres(t *testing.T, ctx context.Context) (*pgxpool.Pool, func()) {
	t.Helper()

	pg, err := postgrescontainer.RunContainer(ctx,
		postgrescontainer.WithDatabase("fitness"),
		postgrescontainer.WithUsername("platform"),
		postgrescontainer.WithPassword("platform"),
	)
	require.NoError(t, err)

	connStr, err := pg.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	require.NoError(t, waitForDatabase(ctx, connStr))

	runMigrations(t, ctx, connStr)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)

	cleanup := func() {
		pool.Close()
		_ = pg.Terminate(ctx)
	}
	return pool, cleanup
}

func runMigrations(t *testing.T, ctx context.Context, connStr string) {
	t.Helper()

	migrationsPath := resolvePath(t, "../../../db/postgres/migrations")
	files, err := filepath.Glob(filepath.Join(migrationsPath, "*.up.sql"))
	require.NoError(t, err)
	require.NotEmpty(t, files)
	sort.Strings(files)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	defer pool.Close()

	for _, file := range files {
		content, readErr := os.ReadFile(file)
		require.NoErrorf(t, readErr, "read migration %s", file)
		_, execErr := pool.Exec(ctx, string(content))
		require.NoErrorf(t, execErr, "execute migration %s", file)
	}
}

func waitForDatabase(ctx context.Context, connStr string) error {
	deadline := time.Now().Add(30 * time.Second)
	for {
		pool, err := pgxpool.New(ctx, connStr)
		if err == nil {
			err = pool.Ping(ctx)
			pool.Close()
			if err == nil {
				return nil
			}
		}
		if time.Now().After(deadline) {
			return err
		}
		time.Sleep(time.Second)
	}
}

func resolvePath(t *testing.T, rel string) string {
	t.Helper()
	_, file, _, ok := runtime.Caller(0)
	require.True(t, ok)
	return filepath.Join(filepath.Dir(file), rel)
}
