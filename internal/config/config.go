// Package config handles application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the application configuration.
type Config struct {
	TelegramBotToken string
	DatabasePath     string
	LogLevel         string
	AllowedUsers     []int64

	// OperatorChatID receives alerts about unexpected failures. Zero means
	// alerts are only logged.
	OperatorChatID int64

	DMCooldown      time.Duration
	DeliveryTimeout time.Duration
	ContextMessages int
	// SendRate caps outgoing private messages per second.
	SendRate float64

	NSFWChats []int64
	// LinkedChats maps a chat ID to the community chat it belongs to.
	LinkedChats map[int64]int64
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	token := os.Getenv("TELEGRAM_BOT_TOKEN")
	if token == "" {
		return nil, fmt.Errorf("TELEGRAM_BOT_TOKEN is required")
	}

	dbPath := os.Getenv("DATABASE_PATH")
	if dbPath == "" {
		dbPath = "./data/highlight.db"
	}

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "info"
	}

	allowedUsers, err := parseIDList("ALLOWED_USERS")
	if err != nil {
		return nil, err
	}

	var operator int64
	if raw := strings.TrimSpace(os.Getenv("OPERATOR_CHAT_ID")); raw != "" {
		operator, err = strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid OPERATOR_CHAT_ID %q: %w", raw, err)
		}
	}

	cooldown, err := parseDuration("DM_COOLDOWN", 5*time.Minute)
	if err != nil {
		return nil, err
	}
	timeout, err := parseDuration("DELIVERY_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, err
	}
	if timeout <= 0 {
		return nil, fmt.Errorf("DELIVERY_TIMEOUT must be positive")
	}

	contextMessages := 5
	if raw := strings.TrimSpace(os.Getenv("CONTEXT_MESSAGES")); raw != "" {
		contextMessages, err = strconv.Atoi(raw)
		if err != nil || contextMessages < 1 {
			return nil, fmt.Errorf("invalid CONTEXT_MESSAGES %q: must be a positive integer", raw)
		}
	}

	sendRate := 25.0
	if raw := strings.TrimSpace(os.Getenv("SEND_RATE")); raw != "" {
		sendRate, err = strconv.ParseFloat(raw, 64)
		if err != nil || sendRate <= 0 {
			return nil, fmt.Errorf("invalid SEND_RATE %q: must be a positive number", raw)
		}
	}

	nsfw, err := parseIDList("NSFW_CHATS")
	if err != nil {
		return nil, err
	}

	linked, err := parseLinkedChats(os.Getenv("LINKED_CHATS"))
	if err != nil {
		return nil, err
	}

	return &Config{
		TelegramBotToken: token,
		DatabasePath:     dbPath,
		LogLevel:         logLevel,
		AllowedUsers:     allowedUsers,
		OperatorChatID:   operator,
		DMCooldown:       cooldown,
		DeliveryTimeout:  timeout,
		ContextMessages:  contextMessages,
		SendRate:         sendRate,
		NSFWChats:        nsfw,
		LinkedChats:      linked,
	}, nil
}

// IsUserAllowed checks whether a user ID is in the allow list.
// Returns true if the allow list is empty (all users permitted).
func (c *Config) IsUserAllowed(userID int64) bool {
	if len(c.AllowedUsers) == 0 {
		return true
	}
	for _, id := range c.AllowedUsers {
		if id == userID {
			return true
		}
	}
	return false
}

// CommunityOf returns the community a chat belongs to. Unlinked chats are
// their own community.
func (c *Config) CommunityOf(chatID int64) int64 {
	if community, ok := c.LinkedChats[chatID]; ok {
		return community
	}
	return chatID
}

// IsNSFW reports whether the chat is marked as sensitive content.
func (c *Config) IsNSFW(chatID int64) bool {
	for _, id := range c.NSFWChats {
		if id == chatID {
			return true
		}
	}
	return false
}

func parseIDList(name string) ([]int64, error) {
	raw := os.Getenv(name)
	if raw == "" {
		return nil, nil
	}
	var ids []int64
	for _, s := range strings.Split(raw, ",") {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid ID %q in %s: %w", s, name, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func parseDuration(name string, def time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s must not be negative", name)
	}
	return d, nil
}

// parseLinkedChats reads "chat=community" pairs separated by commas.
func parseLinkedChats(raw string) (map[int64]int64, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	linked := make(map[int64]int64)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		chat, community, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("invalid LINKED_CHATS entry %q: want chat=community", pair)
		}
		chatID, err := strconv.ParseInt(strings.TrimSpace(chat), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid chat ID in LINKED_CHATS entry %q: %w", pair, err)
		}
		communityID, err := strconv.ParseInt(strings.TrimSpace(community), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid community ID in LINKED_CHATS entry %q: %w", pair, err)
		}
		linked[chatID] = communityID
	}
	return linked, nil
}
