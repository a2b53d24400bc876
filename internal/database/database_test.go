package database

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"ridesched/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	logger := zerolog.Nop()
	db, err := NewDB(":memory:", &logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func sampleItems() []models.QueueItem {
	enq := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)
	next := enq.Add(5 * time.Minute)
	return []models.QueueItem{
		{
			ID:          "b-second-by-id",
			Type:        models.OperationCreate,
			CalendarID:  "club@group.calendar.google.com",
			RideURL:     "https://ridewithgps.com/events/2",
			RideTitle:   "Tuesday Hills",
			RowNum:      14,
			UserEmail:   "leader@example.com",
			Params:      json.RawMessage(`{"summary":"Tuesday Hills","start":"2024-06-04T17:30:00Z"}`),
			EnqueuedAt:  enq,
			NextRetryAt: &next,
		},
		{
			ID:           "a-first-by-id",
			Type:         models.OperationDelete,
			RideURL:      "https://ridewithgps.com/events/3",
			EnqueuedAt:   enq.Add(-50 * time.Hour),
			AttemptCount: 12,
			LastError:    "calendar unavailable",
		},
	}
}

func TestQueueSnapshotRoundTrip(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	empty, err := db.LoadQueue(ctx)
	require.NoError(t, err)
	assert.Empty(t, empty)

	items := sampleItems()
	require.NoError(t, db.SaveQueue(ctx, items))

	loaded, err := db.LoadQueue(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 2)

	// order is the saved order, not id order
	assert.Equal(t, "b-second-by-id", loaded[0].ID)
	assert.Equal(t, "a-first-by-id", loaded[1].ID)

	assert.Equal(t, items[0].Type, loaded[0].Type)
	assert.Equal(t, items[0].CalendarID, loaded[0].CalendarID)
	assert.Equal(t, items[0].RideTitle, loaded[0].RideTitle)
	assert.Equal(t, 14, loaded[0].RowNum)
	assert.JSONEq(t, string(items[0].Params), string(loaded[0].Params))
	assert.True(t, items[0].EnqueuedAt.Equal(loaded[0].EnqueuedAt))
	require.NotNil(t, loaded[0].NextRetryAt)
	assert.True(t, items[0].NextRetryAt.Equal(*loaded[0].NextRetryAt))

	assert.Nil(t, loaded[1].NextRetryAt)
	assert.Nil(t, loaded[1].Params)
	assert.Equal(t, 12, loaded[1].AttemptCount)
	assert.Equal(t, "calendar unavailable", loaded[1].LastError)
}

func TestSaveQueueReplacesSnapshot(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.SaveQueue(ctx, sampleItems()))
	require.NoError(t, db.SaveQueue(ctx, sampleItems()[1:]))

	loaded, err := db.LoadQueue(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, "a-first-by-id", loaded[0].ID)

	require.NoError(t, db.SaveQueue(ctx, nil))
	loaded, err = db.LoadQueue(ctx)
	require.NoError(t, err)
	assert.Empty(t, loaded)
}

func TestSaveQueueRollsBackOnDuplicate(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	require.NoError(t, db.SaveQueue(ctx, sampleItems()))

	dup := sampleItems()
	dup[1].ID = dup[0].ID
	assert.Error(t, db.SaveQueue(ctx, dup))

	loaded, err := db.LoadQueue(ctx)
	require.NoError(t, err)
	assert.Len(t, loaded, 2, "failed save must leave the previous snapshot intact")
}

func TestProperties(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	_, err := db.GetProperty(ctx, "TRIGGER_TIME_RETRY_QUEUE")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, db.SetProperty(ctx, "TRIGGER_TIME_RETRY_QUEUE", "1000"))
	require.NoError(t, db.SetProperty(ctx, "TRIGGER_TIME_RETRY_QUEUE", "2000"))

	v, err := db.GetProperty(ctx, "TRIGGER_TIME_RETRY_QUEUE")
	require.NoError(t, err)
	assert.Equal(t, "2000", v)

	require.NoError(t, db.DeleteProperty(ctx, "TRIGGER_TIME_RETRY_QUEUE"))
	require.NoError(t, db.DeleteProperty(ctx, "TRIGGER_TIME_RETRY_QUEUE"))
	_, err = db.GetProperty(ctx, "TRIGGER_TIME_RETRY_QUEUE")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestNewDB_File(t *testing.T) {
	logger := zerolog.Nop()
	path := filepath.Join(t.TempDir(), "nested", "queue.db")
	db, err := NewDB(path, &logger)
	require.NoError(t, err)
	defer db.Close()

	assert.Equal(t, path, db.Path())
	assert.NoError(t, db.Ping(context.Background()))
}
