// Package notify escalates abandoned operations to a human over Telegram.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"ridesched/internal/domain"
	"ridesched/internal/events"
	"ridesched/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

// Sender is the part of *tgbotapi.BotAPI used for alerts.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

var _ domain.Notifier = (*TelegramNotifier)(nil)

type TelegramNotifier struct {
	sender  Sender
	chatIDs []int64
	logger  zerolog.Logger
}

// NewTelegramNotifier connects to the bot API with token.
func NewTelegramNotifier(token string, chatIDs []int64, logger *zerolog.Logger) (*TelegramNotifier, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	return NewTelegramNotifierWithSender(bot, chatIDs, logger), nil
}

func NewTelegramNotifierWithSender(sender Sender, chatIDs []int64, logger *zerolog.Logger) *TelegramNotifier {
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "notify").Logger()
	}
	return &TelegramNotifier{sender: sender, chatIDs: chatIDs, logger: l}
}

// NotifyAbandoned sends one alert per configured chat.
func (n *TelegramNotifier) NotifyAbandoned(_ context.Context, item models.QueueItem) error {
	return n.send(FormatAbandoned(events.NewItemPayload(item)))
}

// Handler subscribes the notifier to item_abandoned events.
func (n *TelegramNotifier) Handler() events.EventHandler {
	return func(event *events.Event) error {
		var payload events.ItemEventPayload
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			return fmt.Errorf("decode abandoned payload: %w", err)
		}
		return n.send(FormatAbandoned(payload))
	}
}

func (n *TelegramNotifier) send(text string) error {
	var errs []error
	for _, chatID := range n.chatIDs {
		msg := tgbotapi.NewMessage(chatID, text)
		msg.DisableWebPagePreview = true
		if _, err := n.sender.Send(msg); err != nil {
			n.logger.Error().Err(err).Int64("chat_id", chatID).Msg("failed to send alert")
			errs = append(errs, fmt.Errorf("chat %d: %w", chatID, err))
		}
	}
	return errors.Join(errs...)
}

// FormatAbandoned renders the alert text.
func FormatAbandoned(p events.ItemEventPayload) string {
	var b strings.Builder
	b.WriteString("⚠️ Ride operation abandoned\n\n")

	title := p.RideTitle
	if title == "" {
		title = "Unknown"
	}
	fmt.Fprintf(&b, "Ride: %s\n", title)
	if p.RowNum > 0 {
		fmt.Fprintf(&b, "Row: %d\n", p.RowNum)
	}
	fmt.Fprintf(&b, "Operation: %s\n", p.Type)
	fmt.Fprintf(&b, "URL: %s\n", p.RideURL)
	fmt.Fprintf(&b, "Attempts: %d\n", p.AttemptCount)
	if !p.EnqueuedAt.IsZero() {
		fmt.Fprintf(&b, "Queued: %s\n", p.EnqueuedAt.UTC().Format(time.RFC3339))
	}
	if p.UserEmail != "" {
		fmt.Fprintf(&b, "Requested by: %s\n", p.UserEmail)
	}
	if p.LastError != "" {
		fmt.Fprintf(&b, "Last error: %s\n", p.LastError)
	}
	return b.String()
}
