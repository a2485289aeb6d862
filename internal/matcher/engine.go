// Package matcher finds which registered users a message should alert.
package matcher

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"highlight_bot/internal/alert"
	"highlight_bot/internal/model"
	"highlight_bot/internal/pattern"
	"highlight_bot/internal/storage"
)

// DefaultDMCooldown is the minimum spacing between two notifications to one user.
const DefaultDMCooldown = 5 * time.Minute

// Source loads the terms whose registrations pass the eligibility prefilter.
type Source interface {
	ListCandidateTerms(ctx context.Context, q storage.CandidateQuery) ([]model.CandidateTerm, error)
}

// Engine matches messages against registered terms.
type Engine struct {
	src      Source
	cache    *pattern.Cache
	sink     alert.Sink
	log      *slog.Logger
	cooldown time.Duration
	now      func() time.Time
}

// New creates an Engine with the default DM cooldown.
func New(src Source, sink alert.Sink, log *slog.Logger) *Engine {
	return &Engine{
		src:      src,
		cache:    pattern.NewCache(),
		sink:     sink,
		log:      log,
		cooldown: DefaultDMCooldown,
		now:      time.Now,
	}
}

// SetCooldown overrides the DM cooldown.
func (e *Engine) SetCooldown(d time.Duration) {
	e.cooldown = d
}

// SetClock overrides the time source (useful for testing).
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// Cooldown returns the DM cooldown in effect.
func (e *Engine) Cooldown() time.Duration {
	return e.cooldown
}

// FindMatches returns one match per registered term found in msg.
// Registrations are filtered in storage before any pattern runs. A stored
// pattern that fails to compile is reported and skipped.
func (e *Engine) FindMatches(ctx context.Context, msg model.Message) ([]model.Match, error) {
	candidates, err := e.src.ListCandidateTerms(ctx, storage.CandidateQuery{
		CommunityID: msg.CommunityID,
		ChannelID:   msg.ChannelID,
		AuthorID:    msg.AuthorID,
		AuthorIsBot: msg.AuthorIsBot,
		ChannelNSFW: msg.ChannelNSFW,
		Now:         e.now(),
		DMCooldown:  e.cooldown,
	})
	if err != nil {
		return nil, fmt.Errorf("load candidate terms: %w", err)
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	var matches []model.Match
	for _, c := range candidates {
		re, err := e.cache.Get(c.Term)
		if err != nil {
			e.sink.Notify(ctx,
				fmt.Sprintf("Stored pattern %q of user %d in community %d does not compile", c.Pattern, c.UserID, msg.CommunityID),
				err)
			continue
		}
		if re.MatchString(msg.Text) {
			matches = append(matches, model.Match{UserID: c.UserID, Display: c.Display})
		}
	}

	e.log.Debug("matched message",
		"message_id", msg.ID,
		"community_id", msg.CommunityID,
		"candidates", len(candidates),
		"matches", len(matches),
	)
	return matches, nil
}
