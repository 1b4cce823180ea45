// Package notify delivers alert and report summaries to chat channels.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Alias1177/Correlator/models"
)

// Notifier sends short messages about alerts and reports
type Notifier interface {
	SendAlert(ctx context.Context, a models.Alert) error
	SendReport(ctx context.Context, r models.Report, summary string) error
	Enabled() bool
}

// Sender is the subset of the bot API used for delivery
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Nop discards everything; used when no bot token is configured
type Nop struct{}

func (Nop) SendAlert(context.Context, models.Alert) error { return nil }
func (Nop) SendReport(context.Context, models.Report, string) error { return nil }
func (Nop) Enabled() bool { return false }

// Telegram broadcasts markdown messages to a fixed list of chats
type Telegram struct {
	bot     Sender
	chatIDs []int64
	delay   time.Duration
	logger  zerolog.Logger
}

// NewTelegram connects to the bot API. An empty token returns a Nop notifier.
func NewTelegram(token string, chatIDs []int64) (Notifier, error) {
	if token == "" || len(chatIDs) == 0 {
		return Nop{}, nil
	}
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("initializing telegram bot: %w", err)
	}
	return NewTelegramWithSender(bot, chatIDs), nil
}

// NewTelegramWithSender builds a notifier over an existing sender
func NewTelegramWithSender(bot Sender, chatIDs []int64) *Telegram {
	return &Telegram{
		bot:     bot,
		chatIDs: chatIDs,
		delay:   50 * time.Millisecond,
		logger:  log.With().Str("component", "notify").Logger(),
	}
}

func (t *Telegram) Enabled() bool { return true }

// SendAlert formats one alert
func (t *Telegram) SendAlert(ctx context.Context, a models.Alert) error {
	return t.broadcast(ctx, FormatAlert(a))
}

// SendReport sends the report title with a short summary
func (t *Telegram) SendReport(ctx context.Context, r models.Report, summary string) error {
	var b strings.Builder
	fmt.Fprintf(&b, "📊 *%s*\n", escape(r.Title))
	fmt.Fprintf(&b, "_%s report, %s_\n\n", escape(r.Type), r.CreatedAt.UTC().Format("2006-01-02 15:04 MST"))
	if summary != "" {
		b.WriteString(escape(summary))
	}
	return t.broadcast(ctx, b.String())
}

func (t *Telegram) broadcast(ctx context.Context, text string) error {
	var errs []error
	sent := 0
	for i, chatID := range t.chatIDs {
		if err := ctx.Err(); err != nil {
			return err
		}
		msg := tgbotapi.NewMessage(chatID, text)
		msg.ParseMode = tgbotapi.ModeMarkdown
		if _, err := t.bot.Send(msg); err != nil {
			t.logger.Error().Err(err).Int64("chat_id", chatID).Msg("Failed to send message")
			errs = append(errs, fmt.Errorf("chat %d: %w", chatID, err))
			continue
		}
		sent++
		if i < len(t.chatIDs)-1 && t.delay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(t.delay):
			}
		}
	}
	t.logger.Debug().Int("sent", sent).Int("failed", len(errs)).Msg("Broadcast completed")
	return errors.Join(errs...)
}

var severityIcon = map[string]string{
	models.SeverityHigh:   "🔴",
	models.SeverityMedium: "🟠",
	models.SeverityLow:    "🟡",
}

// FormatAlert renders an alert as a markdown message
func FormatAlert(a models.Alert) string {
	icon := severityIcon[a.Severity]
	if icon == "" {
		icon = "⚠️"
	}
	return fmt.Sprintf("%s *%s* (%s)\n%s\nvalue %.4f, threshold %.4f",
		icon,
		escape(strings.ToUpper(strings.ReplaceAll(a.Type, "_", " "))),
		a.Severity,
		escape(a.Message),
		a.Value,
		a.Threshold,
	)
}

var markdownEscaper = strings.NewReplacer("_", "\\_", "*", "\\*", "`", "\\`", "[", "\\[")

func escape(s string) string { return markdownEscaper.Replace(s) }
