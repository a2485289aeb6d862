package bot

import (
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"highlight_bot/internal/model"
)

// supergroupPrefix is added to internal supergroup IDs by the Bot API.
const supergroupPrefix = 1000000000000

// MessageLink returns a t.me link to a message, or "" for chats that have none.
func MessageLink(chat *tgbotapi.Chat, messageID int) string {
	if chat == nil {
		return ""
	}
	if chat.UserName != "" {
		return fmt.Sprintf("https://t.me/%s/%d", chat.UserName, messageID)
	}
	if chat.IsSuperGroup() && chat.ID < -supergroupPrefix {
		return fmt.Sprintf("https://t.me/c/%d/%d", -chat.ID-supergroupPrefix, messageID)
	}
	return ""
}

// DisplayName returns the name shown for a user.
func DisplayName(u *tgbotapi.User) string {
	if u == nil {
		return ""
	}
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name != "" {
		return name
	}
	if u.UserName != "" {
		return "@" + u.UserName
	}
	return strconv.FormatInt(u.ID, 10)
}

func messageText(msg *tgbotapi.Message) string {
	if msg.Text != "" {
		return msg.Text
	}
	return msg.Caption
}

// toModel converts a group message into a pipeline message.
func (b *Bot) toModel(msg *tgbotapi.Message) model.Message {
	chatID := msg.Chat.ID
	community := b.cfg.CommunityOf(chatID)

	communityTitle := b.chatTitle(community)
	if communityTitle == "" {
		communityTitle = msg.Chat.Title
	}

	return model.Message{
		ID:             msg.MessageID,
		CommunityID:    community,
		CommunityTitle: communityTitle,
		ChannelID:      chatID,
		ChannelTitle:   msg.Chat.Title,
		ChannelNSFW:    b.cfg.IsNSFW(chatID) || b.cfg.IsNSFW(community),
		AuthorID:       msg.From.ID,
		AuthorName:     DisplayName(msg.From),
		AuthorIsBot:    msg.From.IsBot,
		Text:           messageText(msg),
		Link:           MessageLink(msg.Chat, msg.MessageID),
		CreatedAt:      msg.Time(),
	}
}

func (b *Bot) rememberTitle(chat *tgbotapi.Chat) {
	if chat == nil || chat.Title == "" {
		return
	}
	b.mu.Lock()
	b.titles[chat.ID] = chat.Title
	b.mu.Unlock()
}

func (b *Bot) chatTitle(chatID int64) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.titles[chatID]
}
