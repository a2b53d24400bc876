package google

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"ridesched/internal/models"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2/google"
	"golang.org/x/time/rate"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// ErrInvalidParams is returned when an item's params cannot drive the call.
var ErrInvalidParams = errors.New("invalid calendar params")

const dateLayout = "2006-01-02"

// EventParams is the JSON shape stored in QueueItem.Params.
type EventParams struct {
	EventID     string `json:"eventId,omitempty"`
	Summary     string `json:"summary,omitempty"`
	Description string `json:"description,omitempty"`
	Location    string `json:"location,omitempty"`
	Start       string `json:"start,omitempty"`
	End         string `json:"end,omitempty"`
	TimeZone    string `json:"timeZone,omitempty"`
}

// CalendarExecutor replays queued ride operations against Google Calendar.
type CalendarExecutor struct {
	service         *calendar.Service
	defaultCalendar string
	limiter         *rate.Limiter
	logger          zerolog.Logger
}

// NewCalendarExecutor authenticates with a service account key file.
func NewCalendarExecutor(ctx context.Context, credentialsFile, calendarID string, rps float64, logger *zerolog.Logger) (*CalendarExecutor, error) {
	credentialsJSON, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("unable to read credentials file: %w", err)
	}

	config, err := google.JWTConfigFromJSON(credentialsJSON, calendar.CalendarEventsScope)
	if err != nil {
		return nil, fmt.Errorf("unable to parse credentials: %w", err)
	}

	srv, err := calendar.NewService(ctx, option.WithHTTPClient(config.Client(ctx)))
	if err != nil {
		return nil, fmt.Errorf("unable to create Calendar service: %w", err)
	}

	return NewCalendarExecutorWithService(srv, calendarID, rps, logger), nil
}

// NewCalendarExecutorWithService wraps an already configured service.
func NewCalendarExecutorWithService(srv *calendar.Service, calendarID string, rps float64, logger *zerolog.Logger) *CalendarExecutor {
	if calendarID == "" {
		calendarID = "primary"
	}
	limit := rate.Inf
	burst := 1
	if rps > 0 {
		limit = rate.Limit(rps)
		burst = int(rps)
		if burst < 1 {
			burst = 1
		}
	}
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "calendar").Logger()
	}
	return &CalendarExecutor{
		service:         srv,
		defaultCalendar: calendarID,
		limiter:         rate.NewLimiter(limit, burst),
		logger:          l,
	}
}

// Execute performs the item's operation. A nil error means the item is done.
func (e *CalendarExecutor) Execute(ctx context.Context, item models.QueueItem) error {
	params, err := decodeParams(item.Params)
	if err != nil {
		return err
	}

	if err := e.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	calendarID := item.CalendarID
	if calendarID == "" {
		calendarID = e.defaultCalendar
	}

	switch item.Type {
	case models.OperationCreate:
		return e.create(ctx, calendarID, item, params)
	case models.OperationUpdate:
		return e.update(ctx, calendarID, item, params)
	case models.OperationDelete:
		return e.delete(ctx, calendarID, params)
	default:
		return fmt.Errorf("%w: unknown operation type %q", ErrInvalidParams, item.Type)
	}
}

func (e *CalendarExecutor) create(ctx context.Context, calendarID string, item models.QueueItem, params EventParams) error {
	event, err := buildEvent(item, params)
	if err != nil {
		return err
	}
	if event.Start == nil || event.End == nil {
		return fmt.Errorf("%w: create requires start and end", ErrInvalidParams)
	}
	if params.EventID != "" {
		event.Id = params.EventID
	}

	created, err := e.service.Events.Insert(calendarID, event).Context(ctx).Do()
	if err != nil {
		if isStatus(err, http.StatusConflict) && params.EventID != "" {
			// Event already exists from an earlier attempt.
			return nil
		}
		return fmt.Errorf("failed to insert event: %w", err)
	}

	e.logger.Info().Str("event_id", created.Id).Str("ride_url", item.RideURL).Msg("calendar event created")
	return nil
}

func (e *CalendarExecutor) update(ctx context.Context, calendarID string, item models.QueueItem, params EventParams) error {
	if params.EventID == "" {
		return fmt.Errorf("%w: update requires eventId", ErrInvalidParams)
	}
	event, err := buildEvent(item, params)
	if err != nil {
		return err
	}

	if _, err := e.service.Events.Patch(calendarID, params.EventID, event).Context(ctx).Do(); err != nil {
		return fmt.Errorf("failed to patch event %s: %w", params.EventID, err)
	}

	e.logger.Info().Str("event_id", params.EventID).Str("ride_url", item.RideURL).Msg("calendar event updated")
	return nil
}

func (e *CalendarExecutor) delete(ctx context.Context, calendarID string, params EventParams) error {
	if params.EventID == "" {
		return fmt.Errorf("%w: delete requires eventId", ErrInvalidParams)
	}

	err := e.service.Events.Delete(calendarID, params.EventID).Context(ctx).Do()
	if err != nil {
		if isStatus(err, http.StatusNotFound) || isStatus(err, http.StatusGone) {
			return nil
		}
		return fmt.Errorf("failed to delete event %s: %w", params.EventID, err)
	}

	e.logger.Info().Str("event_id", params.EventID).Msg("calendar event deleted")
	return nil
}

func decodeParams(raw json.RawMessage) (EventParams, error) {
	var params EventParams
	if len(raw) == 0 || string(raw) == "null" {
		return params, nil
	}
	if err := json.Unmarshal(raw, &params); err != nil {
		return params, fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}
	return params, nil
}

func buildEvent(item models.QueueItem, params EventParams) (*calendar.Event, error) {
	event := &calendar.Event{
		Summary:     params.Summary,
		Description: params.Description,
		Location:    params.Location,
	}
	if event.Summary == "" {
		event.Summary = item.RideTitle
	}
	if item.RideURL != "" {
		event.Source = &calendar.EventSource{Url: item.RideURL, Title: item.RideTitle}
	}

	var err error
	if event.Start, err = eventTime(params.Start, params.TimeZone); err != nil {
		return nil, err
	}
	if event.End, err = eventTime(params.End, params.TimeZone); err != nil {
		return nil, err
	}
	return event, nil
}

// eventTime accepts either an all-day date or an RFC3339 timestamp.
func eventTime(value, tz string) (*calendar.EventDateTime, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	if _, err := time.Parse(dateLayout, value); err == nil {
		return &calendar.EventDateTime{Date: value}, nil
	}
	if _, err := time.Parse(time.RFC3339, value); err != nil {
		return nil, fmt.Errorf("%w: bad time %q", ErrInvalidParams, value)
	}
	return &calendar.EventDateTime{DateTime: value, TimeZone: tz}, nil
}

func isStatus(err error, code int) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == code
}
