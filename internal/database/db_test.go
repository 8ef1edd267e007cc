package database

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jgoulah/meterscraper/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(filepath.Join(t.TempDir(), "meterscraper.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestReadings(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	base := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)
	readings := []models.Reading{
		{Time: base, KWh: 2.5},
		{Time: base.Add(12 * time.Hour), KWh: 1.5},
		{Time: base.Add(25 * time.Hour), KWh: 3.0},
	}

	n, err := db.InsertReadings(ctx, readings)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	t.Run("DuplicatesIgnored", func(t *testing.T) {
		n, err := db.InsertReadings(ctx, append(readings, models.Reading{Time: base.Add(48 * time.Hour), KWh: 0.5}))
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})

	t.Run("Since", func(t *testing.T) {
		got, err := db.ListReadings(ctx, base.Add(24*time.Hour))
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.True(t, got[0].Time.Equal(base.Add(25*time.Hour)))
		assert.Equal(t, 3.0, got[0].KWh)
		assert.Equal(t, 0.5, got[1].KWh)
	})

	t.Run("OffsetsNormalized", func(t *testing.T) {
		cest := time.FixedZone("CEST", 2*60*60)
		n, err := db.InsertReadings(ctx, []models.Reading{{Time: base.In(cest), KWh: 9}})
		require.NoError(t, err)
		assert.Zero(t, n, "same instant in another zone is a duplicate")
	})
}

func TestSnapshots(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	latest, err := db.LatestSnapshot(ctx)
	require.NoError(t, err)
	assert.Nil(t, latest)

	clock := time.Date(2024, 6, 2, 12, 0, 0, 0, time.UTC)
	db.now = func() time.Time { return clock }

	readingTime := time.Date(2024, 6, 2, 9, 0, 0, 0, time.UTC)
	first := models.Snapshot{ConsumptionToday: 3, CostToday: 0.6, PricePerKWh: 0.2, LastReadingTime: &readingTime}
	id1, err := db.InsertSnapshot(ctx, "browser", first)
	require.NoError(t, err)
	_, err = uuid.Parse(id1)
	require.NoError(t, err)

	clock = clock.Add(time.Hour)
	second := models.Snapshot{ConsumptionToday: 4, PricePerKWh: 0.2}
	id2, err := db.InsertSnapshot(ctx, "http", second)
	require.NoError(t, err)

	latest, err = db.LatestSnapshot(ctx)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, id2, latest.ID)
	assert.Equal(t, "http", latest.Strategy)
	assert.Equal(t, second, latest.Snapshot)

	all, err := db.ListSnapshots(ctx, 10)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, id1, all[1].ID)
	require.NotNil(t, all[1].Snapshot.LastReadingTime)
	assert.True(t, all[1].Snapshot.LastReadingTime.Equal(readingTime))

	unpublished, err := db.ListUnpublishedSnapshots(ctx)
	require.NoError(t, err)
	require.Len(t, unpublished, 2)
	assert.Equal(t, id1, unpublished[0].ID, "oldest first")

	require.NoError(t, db.MarkPublished(ctx, id1))

	unpublished, err = db.ListUnpublishedSnapshots(ctx)
	require.NoError(t, err)
	require.Len(t, unpublished, 1)
	assert.Equal(t, id2, unpublished[0].ID)
}

func TestReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "meterscraper.db")

	db, err := New(path)
	require.NoError(t, err)
	_, err = db.InsertReadings(ctx, []models.Reading{{Time: time.Unix(1717228800, 0), KWh: 1}})
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = New(path)
	require.NoError(t, err)
	defer db.Close()

	got, err := db.ListReadings(ctx, time.Time{})
	require.NoError(t, err)
	assert.Len(t, got, 1)
}
