package google

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"ridesched/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"
)

func setupMockServer(t *testing.T) (*http.ServeMux, *CalendarExecutor) {
	t.Helper()
	ctx := context.Background()
	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	srv, err := calendar.NewService(ctx, option.WithEndpoint(server.URL+"/calendar/v3/"), option.WithoutAuthentication())
	require.NoError(t, err)
	return mux, NewCalendarExecutorWithService(srv, "rides", 0, nil)
}

func params(t *testing.T, p EventParams) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(p)
	require.NoError(t, err)
	return raw
}

func TestCalendarExecutor_Create(t *testing.T) {
	mux, exec := setupMockServer(t)

	var got calendar.Event
	mux.HandleFunc("/calendar/v3/calendars/rides/events", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(calendar.Event{Id: "evt1"})
	})

	item := models.QueueItem{
		ID:        "q1",
		Type:      models.OperationCreate,
		RideURL:   "https://example.com/rides/1",
		RideTitle: "Sunday Ride",
		Params: params(t, EventParams{
			Start: "2024-03-03T09:00:00-08:00",
			End:   "2024-03-03T12:00:00-08:00",
		}),
	}

	require.NoError(t, exec.Execute(context.Background(), item))
	assert.Equal(t, "Sunday Ride", got.Summary)
	require.NotNil(t, got.Source)
	assert.Equal(t, "https://example.com/rides/1", got.Source.Url)
	require.NotNil(t, got.Start)
	assert.Equal(t, "2024-03-03T09:00:00-08:00", got.Start.DateTime)
}

func TestCalendarExecutor_CreateRequiresTimes(t *testing.T) {
	_, exec := setupMockServer(t)
	err := exec.Execute(context.Background(), models.QueueItem{Type: models.OperationCreate, RideURL: "u"})
	assert.True(t, errors.Is(err, ErrInvalidParams))
}

func TestCalendarExecutor_UpdateUsesItemCalendar(t *testing.T) {
	mux, exec := setupMockServer(t)

	called := false
	mux.HandleFunc("/calendar/v3/calendars/other/events/evt9", func(w http.ResponseWriter, r *http.Request) {
		called = true
		assert.Equal(t, http.MethodPatch, r.Method)
		_ = json.NewEncoder(w).Encode(calendar.Event{Id: "evt9"})
	})

	item := models.QueueItem{
		Type:       models.OperationUpdate,
		CalendarID: "other",
		RideURL:    "u",
		Params:     params(t, EventParams{EventID: "evt9", Location: "Park", Start: "2024-03-03", End: "2024-03-04"}),
	}
	require.NoError(t, exec.Execute(context.Background(), item))
	assert.True(t, called)
}

func TestCalendarExecutor_UpdateRequiresEventID(t *testing.T) {
	_, exec := setupMockServer(t)
	err := exec.Execute(context.Background(), models.QueueItem{Type: models.OperationUpdate, RideURL: "u"})
	assert.ErrorIs(t, err, ErrInvalidParams)
}

func TestCalendarExecutor_Delete(t *testing.T) {
	mux, exec := setupMockServer(t)

	mux.HandleFunc("/calendar/v3/calendars/rides/events/ok", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("/calendar/v3/calendars/rides/events/gone", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusGone)
	})
	mux.HandleFunc("/calendar/v3/calendars/rides/events/broken", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	ctx := context.Background()
	for _, tc := range []struct {
		name    string
		eventID string
		wantErr bool
	}{
		{"Deleted", "ok", false},
		{"AlreadyGone", "gone", false},
		{"Missing", "missing", false},
		{"ServerError", "broken", true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			item := models.QueueItem{Type: models.OperationDelete, RideURL: "u", Params: params(t, EventParams{EventID: tc.eventID})}
			err := exec.Execute(ctx, item)
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestEventTime(t *testing.T) {
	dt, err := eventTime("2024-03-03", "")
	require.NoError(t, err)
	assert.Equal(t, "2024-03-03", dt.Date)

	dt, err = eventTime("2024-03-03T10:00:00Z", "Europe/London")
	require.NoError(t, err)
	assert.Equal(t, "Europe/London", dt.TimeZone)

	dt, err = eventTime("", "")
	require.NoError(t, err)
	assert.Nil(t, dt)

	_, err = eventTime("next tuesday", "")
	assert.ErrorIs(t, err, ErrInvalidParams)
}

func TestDecodeParams(t *testing.T) {
	p, err := decodeParams(nil)
	require.NoError(t, err)
	assert.Empty(t, p.EventID)

	_, err = decodeParams(json.RawMessage(`{"eventId":`))
	assert.ErrorIs(t, err, ErrInvalidParams)
}
