package export

import (
	"bytes"
	"testing"
	"time"

	"ridesched/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestWriteQueue(t *testing.T) {
	report := Report{
		GeneratedAt: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		Items: []models.DisplayItem{
			{ID: "a", Type: "create", RideTitle: "Sunday Ride", RowNum: "4", AgeMinutes: 10, Status: models.StatusPending},
			{ID: "b", Type: "delete", RideTitle: "Unknown", RowNum: "Unknown", AgeMinutes: 90, AttemptCount: 3,
				NextRetryAt: "2024-03-01T13:00:00Z", Status: models.StatusRetrying, LastError: "timeout"},
		},
		Statistics: models.Statistics{
			TotalItems: 2,
			DueNow:     1,
			ByAge:      models.AgeBuckets{LessThan1Hour: 1, LessThan24Hours: 2},
		},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteQueue(&buf, report))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{SheetQueue, SheetStatistics}, f.GetSheetList())

	rows, err := f.GetRows(SheetQueue)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "ID", rows[0][0])
	assert.Equal(t, "Sunday Ride", rows[1][2])
	assert.Equal(t, "retrying", rows[2][8])
	assert.Equal(t, "timeout", rows[2][9])

	total, err := f.GetCellValue(SheetStatistics, "B3")
	require.NoError(t, err)
	assert.Equal(t, "2", total)
	lt24, err := f.GetCellValue(SheetStatistics, "B6")
	require.NoError(t, err)
	assert.Equal(t, "2", lt24)
}

func TestWriteQueue_DeadLetters(t *testing.T) {
	report := Report{
		DeadLetters: []models.QueueItem{{
			ID:           "x",
			Type:         models.OperationUpdate,
			RideURL:      "https://example.com/r/1",
			EnqueuedAt:   time.Date(2024, 2, 27, 8, 0, 0, 0, time.UTC),
			AttemptCount: 40,
			LastError:    "gone",
		}},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteQueue(&buf, report))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	assert.Contains(t, f.GetSheetList(), SheetDeadLetters)
	url, err := f.GetCellValue(SheetDeadLetters, "D2")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/r/1", url)

	rows, err := f.GetRows(SheetQueue)
	require.NoError(t, err)
	assert.Len(t, rows, 1, "header only for an empty queue")
}
