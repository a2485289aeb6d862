package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"

	"highlight_bot/internal/dispatch"
	"highlight_bot/internal/model"
)

type messageSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Sender delivers highlight notifications as private messages.
type Sender struct {
	api     messageSender
	limiter *rate.Limiter
	log     *slog.Logger
}

// NewSender creates a Sender that sends at most perSecond messages per second.
func NewSender(api messageSender, perSecond float64, log *slog.Logger) *Sender {
	return &Sender{
		api:     api,
		limiter: rate.NewLimiter(rate.Limit(perSecond), 1),
		log:     log,
	}
}

// SendPrivate implements dispatch.Sender. Users who blocked the bot or never
// started a private chat with it yield dispatch.ErrRecipientUnreachable.
func (s *Sender) SendPrivate(ctx context.Context, userID int64, n model.Notification) error {
	if err := s.limiter.Wait(ctx); err != nil {
		// Wait fails early when the deadline cannot be met.
		return fmt.Errorf("wait for send slot: %w", context.DeadlineExceeded)
	}

	msg := tgbotapi.NewMessage(userID, FormatNotification(n))
	msg.DisableWebPagePreview = true

	errc := make(chan error, 1)
	go func() {
		_, err := s.api.Send(msg)
		errc <- err
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("send to %d: %w", userID, ctx.Err())
	case err := <-errc:
		if err != nil {
			return classifySendError(userID, err)
		}
		return nil
	}
}

func classifySendError(userID int64, err error) error {
	code, description, ok := apiError(err)
	if ok && isUnreachable(code, description) {
		return fmt.Errorf("send to %d: %w: %s", userID, dispatch.ErrRecipientUnreachable, description)
	}
	return fmt.Errorf("send to %d: %w", userID, err)
}

// isUnreachable reports whether a Bot API error means the user cannot be
// messaged at all.
func isUnreachable(code int, description string) bool {
	if code == 403 {
		return true
	}
	if code != 400 {
		return false
	}
	d := strings.ToLower(description)
	return strings.Contains(d, "chat not found") ||
		strings.Contains(d, "user is deactivated") ||
		strings.Contains(d, "peer_id_invalid")
}

func apiError(err error) (int, string, bool) {
	var ptr *tgbotapi.Error
	if errors.As(err, &ptr) && ptr != nil {
		return ptr.Code, ptr.Message, true
	}
	var val tgbotapi.Error
	if errors.As(err, &val) {
		return val.Code, val.Message, true
	}
	return 0, "", false
}
