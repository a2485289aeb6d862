// Package bot connects the highlight pipeline and registry to Telegram.
package bot

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"highlight_bot/internal/config"
	"highlight_bot/internal/history"
	"highlight_bot/internal/model"
	"highlight_bot/internal/registry"
)

type telegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Observer records activity for messages that are not matched, such as commands.
type Observer interface {
	Observe(ctx context.Context, msg model.Message)
}

// Connect creates the Bot API client. The HTTP timeout leaves room for long polling.
func Connect(token string) (*tgbotapi.BotAPI, error) {
	api, err := tgbotapi.NewBotAPIWithClient(token, tgbotapi.APIEndpoint, &http.Client{Timeout: 90 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}
	return api, nil
}

// Bot handles group messages and user commands.
type Bot struct {
	api       telegramAPI
	registry  *registry.Registry
	history   *history.Buffer
	directory *Directory
	observer  Observer
	cfg       *config.Config
	log       *slog.Logger

	messages chan model.Message

	mu     sync.Mutex
	titles map[int64]string
}

// New creates a Bot.
func New(api telegramAPI, reg *registry.Registry, hist *history.Buffer, dir *Directory, observer Observer, cfg *config.Config, log *slog.Logger) *Bot {
	return &Bot{
		api:       api,
		registry:  reg,
		history:   hist,
		directory: dir,
		observer:  observer,
		cfg:       cfg,
		log:       log,
		messages:  make(chan model.Message, 256),
		titles:    make(map[int64]string),
	}
}

// Messages returns the group messages to be matched. The channel is closed
// when Run returns.
func (b *Bot) Messages() <-chan model.Message {
	return b.messages
}

// Run starts the bot's long-polling loop, blocking until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) {
	defer close(b.messages)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			b.handleUpdate(ctx, update)
		}
	}
}

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	switch {
	case update.CallbackQuery != nil:
		b.handleCallback(ctx, update.CallbackQuery)
	case update.MyChatMember != nil:
		b.handleMyChatMember(update.MyChatMember)
	case update.Message != nil:
		b.handleMessage(ctx, update.Message)
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.From == nil || msg.Chat == nil {
		return
	}

	if msg.Chat.IsPrivate() {
		if msg.IsCommand() {
			b.handlePrivateCommand(msg)
		}
		return
	}

	b.rememberTitle(msg.Chat)
	if msg.LeftChatMember != nil {
		b.directory.MarkMember(msg.Chat.ID, msg.LeftChatMember.ID, false)
		return
	}
	b.directory.MarkMember(msg.Chat.ID, msg.From.ID, true)

	text := messageText(msg)
	if text == "" {
		return
	}
	b.history.Record(model.HistoryEntry{
		ChatID:     msg.Chat.ID,
		MessageID:  msg.MessageID,
		AuthorName: DisplayName(msg.From),
		Text:       text,
		CreatedAt:  msg.Time(),
	})

	event := b.toModel(msg)
	if msg.IsCommand() {
		b.observer.Observe(ctx, event)
		if !b.cfg.IsUserAllowed(msg.From.ID) {
			b.reply(msg.Chat.ID, "Access denied.")
			return
		}
		b.handleCommand(ctx, msg)
		return
	}

	select {
	case b.messages <- event:
	case <-ctx.Done():
	}
}

func (b *Bot) handleMyChatMember(u *tgbotapi.ChatMemberUpdated) {
	if u.NewChatMember.HasLeft() || u.NewChatMember.WasKicked() {
		b.log.Info("removed from chat", "chat_id", u.Chat.ID, "title", u.Chat.Title)
		b.history.Forget(u.Chat.ID)
	}
}

// SendMessage sends a text message to the given chat.
func (b *Bot) SendMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.DisableWebPagePreview = true
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send message", "chat_id", chatID, "error", err)
	}
}

func (b *Bot) reply(chatID int64, text string) {
	b.SendMessage(chatID, text)
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	cmd := msg.Command()
	args := strings.TrimSpace(msg.CommandArguments())
	chatID := msg.Chat.ID
	key := b.commandKey(chatID, msg.From.ID)

	b.log.Debug("command", "cmd", cmd, "chat_id", chatID, "user_id", msg.From.ID)

	switch cmd {
	case "start", "help":
		b.handleHelp(chatID)
	case "show":
		b.handleShow(ctx, chatID, key)
	case "add":
		b.handleAdd(ctx, chatID, key, args)
	case "remove", "rm":
		b.handleRemove(ctx, chatID, key, args)
	case "clear":
		b.handleClear(ctx, chatID, key)
	case "delay":
		b.handleDelay(ctx, chatID, key, args)
	case "ignore_bots":
		b.handleIgnoreBots(ctx, chatID, key, args)
	case "ignore_nsfw":
		b.handleIgnoreNsfw(ctx, chatID, key, args)
	case "ignore_user":
		b.handleIgnoreUser(ctx, msg, key, args)
	case "ignore_chat":
		b.handleIgnoreChat(ctx, chatID, key, args)
	default:
		b.reply(chatID, "Unknown command. Use /help for a list of commands.")
	}
}

func (b *Bot) handlePrivateCommand(msg *tgbotapi.Message) {
	switch msg.Command() {
	case "start", "help":
		b.reply(msg.Chat.ID, privateWelcome)
	default:
		b.reply(msg.Chat.ID, "Highlights belong to a group. Send this command in the group you want to track.")
	}
}
