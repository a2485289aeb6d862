package bot

import (
	"context"
	"errors"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"highlight_bot/internal/model"
	"highlight_bot/internal/registry"
)

const privateWelcome = `Welcome to Highlight Bot!

I send you a private message when someone mentions one of your highlighted words in a group while you're away. Keep this chat open: I can only message you after you've started me here.

Add me to a group, then use /help there to set up your highlights.`

const helpText = `Highlights:
/show — show your highlights and settings
/add [-c] <term> — add terms, one per line
    Surround a term with /slashes/ to add a regex.
    -c makes regexes case sensitive.
/remove <term> — remove a term
/clear — remove all your terms

Settings:
/delay <minutes> — how long you must be inactive before I notify you
/ignore_bots [on|off] — ignore messages from bots
/ignore_nsfw [on|off] — ignore chats marked as NSFW
/ignore_user <id> — ignore a user (or reply to one of their messages)
/ignore_chat [id] — ignore this chat or a linked one

Start a private chat with me first, or I can't notify you.`

func (b *Bot) handleHelp(chatID int64) {
	b.reply(chatID, helpText)
}

func (b *Bot) handleShow(ctx context.Context, chatID int64, key model.Key) {
	reg, err := b.registry.Get(ctx, key)
	if errors.Is(err, registry.ErrNotFound) {
		b.reply(chatID, "You're not tracking any words.")
		return
	}
	if err != nil {
		b.replyError(chatID, "show highlights", err)
		return
	}
	b.reply(chatID, FormatTrackedTerms(reg, b.chatTitle))
}

func (b *Bot) handleAdd(ctx context.Context, chatID int64, key model.Key, args string) {
	caseSensitive, terms, err := ParseAddArgs(args)
	if err != nil {
		b.reply(chatID, "You must specify one or more terms to add.\nUsage: /add [-c] <term>, one term per line")
		return
	}

	res, err := b.registry.AddTerms(ctx, key, terms, caseSensitive)
	switch {
	case errors.Is(err, registry.ErrInvalidPattern):
		b.reply(chatID, fmt.Sprintf("Invalid regex 🙁\n%v", err))
		return
	case errors.Is(err, registry.ErrListingTooLong):
		b.reply(chatID, "That would make your list of highlights too long. Remove some terms first.")
		return
	case errors.Is(err, registry.ErrNoTerms):
		b.reply(chatID, "You must specify one or more terms to add.")
		return
	case err != nil:
		b.replyError(chatID, "add highlights", err)
		return
	}

	text := fmt.Sprintf("Added %s.", plural(res.Added, "highlight"))
	if res.AlreadyPresent > 0 {
		text += "\nNote: some words were already being highlighted."
	}
	b.reply(chatID, text+"\n\n"+FormatTrackedTerms(res.Registration, b.chatTitle))
}

func (b *Bot) handleRemove(ctx context.Context, chatID int64, key model.Key, args string) {
	if args == "" {
		b.reply(chatID, "You must specify a term to remove.\nUsage: /remove <term>")
		return
	}

	removed, err := b.registry.RemoveTerm(ctx, key, args)
	switch {
	case errors.Is(err, registry.ErrNotTracking):
		b.reply(chatID, "You're not tracking any words.")
	case err != nil:
		b.replyError(chatID, "remove highlight", err)
	case !removed:
		b.reply(chatID, fmt.Sprintf("You are not tracking %s.", args))
	default:
		b.reply(chatID, "Deleted the highlight: "+args)
	}
}

func (b *Bot) handleClear(ctx context.Context, chatID int64, key model.Key) {
	reg, err := b.registry.Get(ctx, key)
	if errors.Is(err, registry.ErrNotFound) || (err == nil && len(reg.Terms) == 0) {
		b.reply(chatID, "You're not tracking any words.")
		return
	}
	if err != nil {
		b.replyError(chatID, "clear highlights", err)
		return
	}

	msg := tgbotapi.NewMessage(chatID, fmt.Sprintf("Delete all %s? This cannot be undone.", plural(len(reg.Terms), "highlight")))
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Yes, delete", fmt.Sprintf("%s:%d", actionClear, key.UserID)),
			tgbotapi.NewInlineKeyboardButtonData("Cancel", fmt.Sprintf("%s:%d", actionCancel, key.UserID)),
		),
	)
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send clear confirmation", "chat_id", chatID, "error", err)
	}
}

func (b *Bot) handleDelay(ctx context.Context, chatID int64, key model.Key, args string) {
	delay, err := ParseDelayArg(args)
	if err != nil {
		b.reply(chatID, "Usage: /delay <minutes>\n"+err.Error())
		return
	}

	prev, err := b.registry.SetDelay(ctx, key, delay)
	if err != nil {
		b.replyError(chatID, "set delay", err)
		return
	}
	mins := int(delay.Minutes())
	b.reply(chatID, fmt.Sprintf("Highlight delay changed from %s to %s.\nI will notify you if anyone says one of your highlights and you've been inactive for %s.",
		FormatDelay(prev), FormatDelay(delay), plural(mins, "minute")))
}

func (b *Bot) handleIgnoreBots(ctx context.Context, chatID int64, key model.Key, args string) {
	value, err := ParseToggleArg(args)
	if err != nil {
		b.reply(chatID, "Usage: /ignore_bots [on|off]")
		return
	}
	ignored, err := b.registry.SetIgnoreBots(ctx, key, value)
	if err != nil {
		b.replyError(chatID, "ignore bots", err)
		return
	}
	b.reply(chatID, fmt.Sprintf("I will %s if a bot says one of your highlights.", notifyPhrase(ignored)))
}

func (b *Bot) handleIgnoreNsfw(ctx context.Context, chatID int64, key model.Key, args string) {
	value, err := ParseToggleArg(args)
	if err != nil {
		b.reply(chatID, "Usage: /ignore_nsfw [on|off]")
		return
	}
	ignored, err := b.registry.SetIgnoreNsfw(ctx, key, value)
	if err != nil {
		b.replyError(chatID, "ignore nsfw", err)
		return
	}
	b.reply(chatID, fmt.Sprintf("I will %s if anyone says one of your highlights in an NSFW chat.", notifyPhrase(ignored)))
}

func (b *Bot) handleIgnoreUser(ctx context.Context, msg *tgbotapi.Message, key model.Key, args string) {
	chatID := msg.Chat.ID

	var target int64
	var name string
	switch {
	case msg.ReplyToMessage != nil && msg.ReplyToMessage.From != nil && args == "":
		target = msg.ReplyToMessage.From.ID
		name = DisplayName(msg.ReplyToMessage.From)
	default:
		id, err := ParseIDArg(args)
		if err != nil {
			b.reply(chatID, "Usage: /ignore_user <user id>, or reply to a message with /ignore_user")
			return
		}
		target = id
		name = fmt.Sprintf("user %d", id)
	}
	if target == key.UserID {
		b.reply(chatID, "Your own messages never trigger your highlights.")
		return
	}

	ignored, err := b.registry.ToggleIgnoredUser(ctx, key, target)
	if err != nil {
		b.replyError(chatID, "ignore user", err)
		return
	}
	b.reply(chatID, fmt.Sprintf("I will %s if %s says one of your highlights.", notifyPhrase(ignored), name))
}

func (b *Bot) handleIgnoreChat(ctx context.Context, chatID int64, key model.Key, args string) {
	target := chatID
	if args != "" {
		id, err := ParseIDArg(args)
		if err != nil {
			b.reply(chatID, "Usage: /ignore_chat [chat id]")
			return
		}
		if b.cfg.CommunityOf(id) != key.CommunityID {
			b.reply(chatID, fmt.Sprintf("Chat %d is not part of this group.", id))
			return
		}
		target = id
	}

	ignored, err := b.registry.ToggleIgnoredChannel(ctx, key, target)
	if err != nil {
		b.replyError(chatID, "ignore chat", err)
		return
	}
	name := b.chatTitle(target)
	if name == "" {
		name = fmt.Sprintf("chat %d", target)
	}
	b.reply(chatID, fmt.Sprintf("I will %s if anyone says one of your highlights in %s.", notifyPhrase(ignored), name))
}

func (b *Bot) replyError(chatID int64, action string, err error) {
	b.log.Error(action, "chat_id", chatID, "error", err)
	b.reply(chatID, "Something went wrong. Please try again later.")
}

func notifyPhrase(ignored bool) string {
	if ignored {
		return "not notify you anymore"
	}
	return "now notify you again"
}

// commandKey builds the registration key for a user in a chat.
func (b *Bot) commandKey(chatID, userID int64) model.Key {
	return model.Key{CommunityID: b.cfg.CommunityOf(chatID), UserID: userID}
}
