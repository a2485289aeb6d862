// Package history keeps the most recent messages of each chat in memory.
// The Telegram Bot API cannot read chat history, so the context window of a
// notification is served from what the bot has seen itself.
package history

import (
	"context"
	"sync"

	"highlight_bot/internal/model"
)

// DefaultSize is the number of messages kept per chat.
const DefaultSize = 20

// Buffer is a per-chat ring of recent messages. It is safe for concurrent use.
type Buffer struct {
	mu    sync.Mutex
	size  int
	chats map[int64]*ring
}

type ring struct {
	entries []model.HistoryEntry
	next    int
	full    bool
}

// New creates a Buffer keeping size messages per chat.
func New(size int) *Buffer {
	if size <= 0 {
		size = DefaultSize
	}
	return &Buffer{size: size, chats: make(map[int64]*ring)}
}

// Record appends a message to its chat's ring, evicting the oldest.
func (b *Buffer) Record(e model.HistoryEntry) {
	b.mu.Lock()
	defer b.mu.Unlock()

	r, ok := b.chats[e.ChatID]
	if !ok {
		r = &ring{entries: make([]model.HistoryEntry, b.size)}
		b.chats[e.ChatID] = r
	}
	r.entries[r.next] = e
	r.next = (r.next + 1) % b.size
	if r.next == 0 {
		r.full = true
	}
}

// Recent returns up to limit messages of chatID with an ID not greater than
// uptoID, oldest first. The message uptoID itself is included.
func (b *Buffer) Recent(_ context.Context, chatID int64, uptoID int, limit int) ([]model.HistoryEntry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	r, ok := b.chats[chatID]
	if !ok || limit <= 0 {
		return nil, nil
	}

	ordered := r.ordered()
	var out []model.HistoryEntry
	for i := len(ordered) - 1; i >= 0 && len(out) < limit; i-- {
		if ordered[i].MessageID <= uptoID {
			out = append(out, ordered[i])
		}
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// Forget drops everything kept for chatID.
func (b *Buffer) Forget(chatID int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.chats, chatID)
}

func (r *ring) ordered() []model.HistoryEntry {
	if !r.full {
		return r.entries[:r.next]
	}
	out := make([]model.HistoryEntry, 0, len(r.entries))
	out = append(out, r.entries[r.next:]...)
	out = append(out, r.entries[:r.next]...)
	return out
}
