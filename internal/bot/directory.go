package bot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/sync/singleflight"
)

// DefaultMemberTTL is how long a membership answer is reused.
const DefaultMemberTTL = time.Minute

type chatMemberGetter interface {
	GetChatMember(config tgbotapi.GetChatMemberConfig) (tgbotapi.ChatMember, error)
}

type memberKey struct {
	chatID int64
	userID int64
}

type memberEntry struct {
	member  bool
	expires time.Time
}

// Directory answers membership questions with getChatMember.
// Answers are cached for a TTL and concurrent lookups for the same pair
// share one request.
type Directory struct {
	api   chatMemberGetter
	ttl   time.Duration
	log   *slog.Logger
	now   func() time.Time
	group singleflight.Group

	mu    sync.Mutex
	cache map[memberKey]memberEntry
}

// NewDirectory creates a Directory.
func NewDirectory(api chatMemberGetter, ttl time.Duration, log *slog.Logger) *Directory {
	return &Directory{
		api:   api,
		ttl:   ttl,
		log:   log,
		now:   time.Now,
		cache: make(map[memberKey]memberEntry),
	}
}

// IsMember implements dispatch.Directory.
func (d *Directory) IsMember(ctx context.Context, communityID, userID int64) (bool, error) {
	return d.lookup(ctx, communityID, userID)
}

// CanView implements dispatch.Directory. In Telegram every member of a chat
// can read it, so this is membership of the chat itself.
func (d *Directory) CanView(ctx context.Context, channelID, userID int64) (bool, error) {
	return d.lookup(ctx, channelID, userID)
}

// MarkMember records a membership fact observed from an update, such as a
// user posting in or leaving a chat.
func (d *Directory) MarkMember(chatID, userID int64, member bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cache[memberKey{chatID, userID}] = memberEntry{member: member, expires: d.now().Add(d.ttl)}
}

func (d *Directory) lookup(ctx context.Context, chatID, userID int64) (bool, error) {
	key := memberKey{chatID, userID}

	d.mu.Lock()
	entry, ok := d.cache[key]
	d.mu.Unlock()
	if ok && d.now().Before(entry.expires) {
		return entry.member, nil
	}

	ch := d.group.DoChan(fmt.Sprintf("%d:%d", chatID, userID), func() (any, error) {
		return d.fetch(chatID, userID)
	})
	select {
	case <-ctx.Done():
		return false, fmt.Errorf("get chat member %d in %d: %w", userID, chatID, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return false, res.Err
		}
		return res.Val.(bool), nil
	}
}

func (d *Directory) fetch(chatID, userID int64) (bool, error) {
	member, err := d.api.GetChatMember(tgbotapi.GetChatMemberConfig{
		ChatConfigWithUser: tgbotapi.ChatConfigWithUser{ChatID: chatID, UserID: userID},
	})
	var isMember bool
	switch {
	case err == nil:
		isMember = isActiveMember(member)
	case isUnknownMember(err):
		isMember = false
	default:
		return false, fmt.Errorf("get chat member %d in %d: %w", userID, chatID, err)
	}

	d.MarkMember(chatID, userID, isMember)
	d.log.Debug("membership resolved", "chat_id", chatID, "user_id", userID, "member", isMember)
	return isMember, nil
}

func isActiveMember(m tgbotapi.ChatMember) bool {
	switch {
	case m.IsCreator(), m.IsAdministrator():
		return true
	case m.Status == "member":
		return true
	case m.Status == "restricted":
		return m.IsMember
	}
	return false
}

// isUnknownMember reports whether getChatMember failed because the user is
// not known to the chat, which means not a member.
func isUnknownMember(err error) bool {
	code, description, ok := apiError(err)
	if !ok || code != 400 {
		return false
	}
	d := strings.ToLower(description)
	return strings.Contains(d, "user not found") ||
		strings.Contains(d, "member not found") ||
		strings.Contains(d, "participant_id_invalid")
}
