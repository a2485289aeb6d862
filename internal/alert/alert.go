// Package alert forwards unexpected failures to operators.
package alert

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"
)

// maxCauseLength keeps operator messages under Telegram's 4096 character limit.
const maxCauseLength = 3500

// Sink receives (summary, cause) pairs for failures that need a human.
type Sink interface {
	Notify(ctx context.Context, summary string, cause error)
}

// LogSink only logs.
type LogSink struct {
	log *slog.Logger
}

// NewLogSink creates a Sink that writes to log at error level.
func NewLogSink(log *slog.Logger) *LogSink {
	return &LogSink{log: log}
}

// Notify logs the failure.
func (s *LogSink) Notify(_ context.Context, summary string, cause error) {
	s.log.Error(summary, "error", cause)
}

type telegramSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramSink logs every failure and posts it to an operator chat.
// Posts beyond the rate limit are only logged.
type TelegramSink struct {
	api     telegramSender
	chatID  int64
	limiter *rate.Limiter
	log     *slog.Logger
}

// NewTelegramSink creates a Sink posting to chatID at most once per interval,
// with bursts of up to burst messages.
func NewTelegramSink(api telegramSender, chatID int64, interval time.Duration, burst int, log *slog.Logger) *TelegramSink {
	return &TelegramSink{
		api:     api,
		chatID:  chatID,
		limiter: rate.NewLimiter(rate.Every(interval), burst),
		log:     log,
	}
}

// Notify logs the failure and, rate permitting, sends it to the operator chat.
func (s *TelegramSink) Notify(_ context.Context, summary string, cause error) {
	s.log.Error(summary, "error", cause)

	if !s.limiter.Allow() {
		s.log.Warn("operator alert suppressed by rate limit", "summary", summary)
		return
	}

	msg := tgbotapi.NewMessage(s.chatID, FormatAlert(summary, cause))
	msg.DisableWebPagePreview = true
	if _, err := s.api.Send(msg); err != nil {
		s.log.Error("send operator alert", "chat_id", s.chatID, "error", err)
	}
}

// FormatAlert renders an operator alert.
func FormatAlert(summary string, cause error) string {
	var b strings.Builder
	fmt.Fprintf(&b, "⚠️ %s", summary)
	if cause != nil {
		text := cause.Error()
		if utf8.RuneCountInString(text) > maxCauseLength {
			text = string([]rune(text)[:maxCauseLength]) + "…"
		}
		b.WriteString("\n\n")
		b.WriteString(text)
	}
	return b.String()
}
