package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"ridesched/internal/events"
	"ridesched/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	sent []tgbotapi.MessageConfig
	fail map[int64]bool
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	msg := c.(tgbotapi.MessageConfig)
	if f.fail[msg.ChatID] {
		return tgbotapi.Message{}, errors.New("chat not found")
	}
	f.sent = append(f.sent, msg)
	return tgbotapi.Message{}, nil
}

func abandonedItem() models.QueueItem {
	return models.QueueItem{
		ID:           "q1",
		Type:         models.OperationUpdate,
		RideURL:      "https://example.com/rides/7",
		RideTitle:    "Sat Hills",
		RowNum:       12,
		UserEmail:    "leader@example.com",
		EnqueuedAt:   time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC),
		AttemptCount: 20,
		LastError:    "rate limited",
	}
}

func TestNotifyAbandoned(t *testing.T) {
	sender := &fakeSender{}
	n := NewTelegramNotifierWithSender(sender, []int64{1, 2}, nil)

	require.NoError(t, n.NotifyAbandoned(context.Background(), abandonedItem()))
	require.Len(t, sender.sent, 2)
	text := sender.sent[0].Text
	assert.Contains(t, text, "Ride: Sat Hills")
	assert.Contains(t, text, "Row: 12")
	assert.Contains(t, text, "Attempts: 20")
	assert.Contains(t, text, "Last error: rate limited")
}

func TestNotifyAbandoned_PartialFailure(t *testing.T) {
	sender := &fakeSender{fail: map[int64]bool{1: true}}
	n := NewTelegramNotifierWithSender(sender, []int64{1, 2}, nil)

	err := n.NotifyAbandoned(context.Background(), abandonedItem())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chat 1")
	assert.Len(t, sender.sent, 1)
}

func TestHandler(t *testing.T) {
	sender := &fakeSender{}
	n := NewTelegramNotifierWithSender(sender, []int64{5}, nil)

	bus := events.NewEventBus(nil)
	bus.Subscribe(events.EventItemAbandoned, n.Handler())
	require.NoError(t, bus.PublishJSON(events.EventItemAbandoned, events.NewItemPayload(abandonedItem())))

	require.Len(t, sender.sent, 1)
	assert.Equal(t, int64(5), sender.sent[0].ChatID)
	assert.Contains(t, sender.sent[0].Text, "Operation: update")
	assert.Contains(t, sender.sent[0].Text, "Row: 12")
}

func TestFormatAbandoned_Placeholders(t *testing.T) {
	text := FormatAbandoned(events.ItemEventPayload{Type: "delete", RideURL: "u"})
	assert.Contains(t, text, "Ride: Unknown")
	assert.NotContains(t, text, "Queued:")
	assert.NotContains(t, text, "Row:")
	assert.NotContains(t, text, "Last error:")
}
