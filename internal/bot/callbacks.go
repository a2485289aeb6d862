package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"highlight_bot/internal/registry"
)

const (
	actionClear  = "clear"
	actionCancel = "cancel"
)

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	if cb.Message == nil || cb.Message.Chat == nil || cb.From == nil {
		return
	}
	chatID := cb.Message.Chat.ID

	action, idStr, ok := strings.Cut(cb.Data, ":")
	if !ok {
		b.ack(cb, "")
		return
	}
	owner, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		b.ack(cb, "")
		return
	}

	b.log.Info("callback",
		"action", action,
		"chat_id", chatID,
		"user_id", cb.From.ID,
		"username", cb.From.UserName,
	)

	// Buttons act on the registration of whoever asked for them.
	if cb.From.ID != owner {
		b.ack(cb, "This button isn't for you.")
		return
	}
	b.ack(cb, "")

	switch action {
	case actionClear:
		key := b.commandKey(chatID, owner)
		n, err := b.registry.ClearTerms(ctx, key)
		switch {
		case errors.Is(err, registry.ErrNotTracking):
			b.editText(cb.Message, "You're not tracking any words.")
		case err != nil:
			b.log.Error("clear highlights", "chat_id", chatID, "user_id", owner, "error", err)
			b.editText(cb.Message, "Something went wrong. Please try again later.")
		default:
			b.editText(cb.Message, fmt.Sprintf("Deleted all your highlights (%d).", n))
		}
	case actionCancel:
		b.editText(cb.Message, "Cancelled.")
	}
}

func (b *Bot) ack(cb *tgbotapi.CallbackQuery, text string) {
	if _, err := b.api.Request(tgbotapi.NewCallback(cb.ID, text)); err != nil {
		b.log.Error("send callback ack", "error", err)
	}
}

// editText replaces the text of a confirmation prompt, removing its buttons.
func (b *Bot) editText(msg *tgbotapi.Message, text string) {
	edit := tgbotapi.NewEditMessageText(msg.Chat.ID, msg.MessageID, text)
	if _, err := b.api.Send(edit); err != nil {
		b.log.Error("edit message", "chat_id", msg.Chat.ID, "error", err)
	}
}
