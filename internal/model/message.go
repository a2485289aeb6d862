package model

import "time"

// Message is an inbound chat message, detached from the platform client.
type Message struct {
	ID             int
	CommunityID    int64
	CommunityTitle string
	ChannelID      int64
	ChannelTitle   string
	ChannelNSFW    bool
	AuthorID       int64
	AuthorName     string
	AuthorIsBot    bool
	Text           string
	Link           string
	CreatedAt      time.Time
}

// HistoryEntry is a message kept for the context window of a notification.
type HistoryEntry struct {
	ChatID     int64
	MessageID  int
	AuthorName string
	Text       string
	CreatedAt  time.Time
}

// Match is one matched term for one target user.
type Match struct {
	UserID  int64
	Display string
}

// Notification is the payload of a private highlight alert.
type Notification struct {
	CommunityTitle string
	ChannelTitle   string
	AuthorName     string
	Terms          []string
	Context        []HistoryEntry
	Link           string
	SentAt         time.Time
}
