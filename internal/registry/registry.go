// Package registry is the command-facing API over highlight registrations.
// It validates changes before they reach storage and reports enough state
// for a confirmation reply.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"highlight_bot/internal/model"
	"highlight_bot/internal/pattern"
	"highlight_bot/internal/storage"
)

var (
	// ErrNotFound is returned by Get for a user without a registration.
	ErrNotFound = storage.ErrNotFound
	// ErrInvalidPattern rejects a batch containing a regex that does not compile.
	ErrInvalidPattern = errors.New("invalid pattern")
	// ErrListingTooLong rejects a batch that would make a term listing too long to display.
	ErrListingTooLong = errors.New("term listing too long")
	// ErrNotTracking is returned when removing terms from a user who has none.
	ErrNotTracking = errors.New("not tracking any terms")
	// ErrNoTerms is returned when a batch holds no usable input.
	ErrNoTerms = errors.New("no terms given")
	// ErrInvalidDelay rejects a negative highlight delay.
	ErrInvalidDelay = errors.New("invalid delay")
)

// AddResult reports the outcome of AddTerms.
type AddResult struct {
	Added          int
	AlreadyPresent int
	Registration   *model.Registration
}

// Registry reads and changes registrations.
type Registry struct {
	store storage.Storage
	log   *slog.Logger
	now   func() time.Time
}

// New creates a Registry.
func New(store storage.Storage, log *slog.Logger) *Registry {
	return &Registry{store: store, log: log, now: time.Now}
}

// SetClock overrides the time source (useful for testing).
func (r *Registry) SetClock(now func() time.Time) {
	r.now = now
}

// Get returns the registration for key or ErrNotFound.
func (r *Registry) Get(ctx context.Context, key model.Key) (*model.Registration, error) {
	reg, err := r.store.GetRegistration(ctx, key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get registration: %w", err)
	}
	return reg, nil
}

// GetOrCreate returns the registration for key, creating one with default
// settings if needed. A new registration counts its owner as active now.
func (r *Registry) GetOrCreate(ctx context.Context, key model.Key) (*model.Registration, error) {
	reg, err := r.Get(ctx, key)
	if err == nil {
		return reg, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	if err := r.store.CreateRegistration(ctx, model.NewRegistration(key, r.now())); err != nil {
		return nil, fmt.Errorf("create registration: %w", err)
	}
	r.log.Info("registration created", "community_id", key.CommunityID, "user_id", key.UserID)
	return r.Get(ctx, key)
}

// AddTerms parses and stores inputs, one term each. Blank inputs are
// ignored. The whole batch is rejected if any regex is invalid or if the
// resulting listings would exceed pattern.MaxListingLength. Terms the user
// already tracks and repeats within the batch are counted in AlreadyPresent.
func (r *Registry) AddTerms(ctx context.Context, key model.Key, inputs []string, caseSensitive bool) (AddResult, error) {
	var terms []model.Term
	seen := make(map[string]bool)
	repeated := 0
	for _, in := range inputs {
		if strings.TrimSpace(in) == "" {
			continue
		}
		t, err := pattern.Parse(in, caseSensitive)
		if err != nil {
			if errors.Is(err, pattern.ErrEmpty) {
				continue
			}
			return AddResult{}, fmt.Errorf("%w %s: %w", ErrInvalidPattern, strings.TrimSpace(in), err)
		}
		if seen[t.Pattern] {
			repeated++
			continue
		}
		seen[t.Pattern] = true
		terms = append(terms, t)
	}
	if len(terms) == 0 {
		return AddResult{}, ErrNoTerms
	}

	reg, err := r.GetOrCreate(ctx, key)
	if err != nil {
		return AddResult{}, err
	}

	merged := append([]model.Term(nil), reg.Terms...)
	for _, t := range terms {
		if !reg.HasPattern(t.Pattern) {
			merged = append(merged, t)
		}
	}
	if !pattern.FitsListing(merged) {
		return AddResult{}, ErrListingTooLong
	}

	added, err := r.store.AddTerms(ctx, key, terms)
	if err != nil {
		return AddResult{}, fmt.Errorf("add terms: %w", err)
	}

	reg, err = r.Get(ctx, key)
	if err != nil {
		return AddResult{}, err
	}
	r.log.Info("terms added",
		"community_id", key.CommunityID,
		"user_id", key.UserID,
		"added", added,
		"total", len(reg.Terms),
	)
	return AddResult{
		Added:          added,
		AlreadyPresent: len(terms) - added + repeated,
		Registration:   reg,
	}, nil
}

// RemoveTerm removes the term the input refers to and reports whether the
// user was tracking it. Words are found regardless of case.
func (r *Registry) RemoveTerm(ctx context.Context, key model.Key, input string) (bool, error) {
	reg, err := r.trackedRegistration(ctx, key)
	if err != nil {
		return false, err
	}

	target, ok := findTerm(reg.Terms, input)
	if !ok {
		return false, nil
	}
	removed, err := r.store.RemoveTerm(ctx, key, target.Display)
	if err != nil {
		return false, fmt.Errorf("remove term: %w", err)
	}
	return removed, nil
}

// ClearTerms removes every term of the user and returns how many there were.
// Settings and ignore lists are kept.
func (r *Registry) ClearTerms(ctx context.Context, key model.Key) (int, error) {
	if _, err := r.trackedRegistration(ctx, key); err != nil {
		return 0, err
	}
	n, err := r.store.ClearTerms(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("clear terms: %w", err)
	}
	r.log.Info("terms cleared", "community_id", key.CommunityID, "user_id", key.UserID, "removed", n)
	return n, nil
}

// SetDelay sets how long the user must be inactive before being notified.
// It returns the previous delay.
func (r *Registry) SetDelay(ctx context.Context, key model.Key, delay time.Duration) (time.Duration, error) {
	if delay < 0 {
		return 0, ErrInvalidDelay
	}
	var prev time.Duration
	err := r.updateSettings(ctx, key, func(reg *model.Registration) {
		prev = reg.HighlightDelay
		reg.HighlightDelay = delay
	})
	return prev, err
}

// SetIgnoreBots sets whether messages from bots are ignored. A nil value
// toggles the current setting. It returns the new setting.
func (r *Registry) SetIgnoreBots(ctx context.Context, key model.Key, value *bool) (bool, error) {
	var result bool
	err := r.updateSettings(ctx, key, func(reg *model.Registration) {
		reg.IgnoreBots = resolve(reg.IgnoreBots, value)
		result = reg.IgnoreBots
	})
	return result, err
}

// SetIgnoreNsfw sets whether sensitive chats are ignored. A nil value
// toggles the current setting. It returns the new setting.
func (r *Registry) SetIgnoreNsfw(ctx context.Context, key model.Key, value *bool) (bool, error) {
	var result bool
	err := r.updateSettings(ctx, key, func(reg *model.Registration) {
		reg.IgnoreNsfw = resolve(reg.IgnoreNsfw, value)
		result = reg.IgnoreNsfw
	})
	return result, err
}

// ToggleIgnoredChannel flips whether channelID is ignored and returns the new state.
func (r *Registry) ToggleIgnoredChannel(ctx context.Context, key model.Key, channelID int64) (bool, error) {
	reg, err := r.GetOrCreate(ctx, key)
	if err != nil {
		return false, err
	}
	ignored := !reg.IgnoresChannel(channelID)
	if err := r.store.SetChannelIgnored(ctx, key, channelID, ignored); err != nil {
		return false, fmt.Errorf("toggle ignored channel: %w", err)
	}
	return ignored, nil
}

// ToggleIgnoredUser flips whether messages by userID are ignored and returns the new state.
func (r *Registry) ToggleIgnoredUser(ctx context.Context, key model.Key, userID int64) (bool, error) {
	reg, err := r.GetOrCreate(ctx, key)
	if err != nil {
		return false, err
	}
	ignored := !reg.IgnoresUser(userID)
	if err := r.store.SetUserIgnored(ctx, key, userID, ignored); err != nil {
		return false, fmt.Errorf("toggle ignored user: %w", err)
	}
	return ignored, nil
}

func (r *Registry) updateSettings(ctx context.Context, key model.Key, mutate func(reg *model.Registration)) error {
	reg, err := r.GetOrCreate(ctx, key)
	if err != nil {
		return err
	}
	mutate(reg)
	if err := r.store.UpdateSettings(ctx, reg); err != nil {
		return fmt.Errorf("update settings: %w", err)
	}
	return nil
}

func (r *Registry) trackedRegistration(ctx context.Context, key model.Key) (*model.Registration, error) {
	reg, err := r.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrNotTracking
	}
	if err != nil {
		return nil, err
	}
	if len(reg.Terms) == 0 {
		return nil, ErrNotTracking
	}
	return reg, nil
}

// findTerm locates the stored term for raw input: regexes by display,
// words by their normalized pattern.
func findTerm(terms []model.Term, input string) (model.Term, bool) {
	display := pattern.DisplayFor(input)
	for _, t := range terms {
		if t.Display == display {
			return t, true
		}
	}
	if pattern.IsRegexInput(strings.TrimSpace(input)) {
		return model.Term{}, false
	}
	parsed, err := pattern.Parse(input, false)
	if err != nil {
		return model.Term{}, false
	}
	for _, t := range terms {
		if !t.IsRegex() && t.Pattern == parsed.Pattern {
			return t, true
		}
	}
	return model.Term{}, false
}

func resolve(current bool, value *bool) bool {
	if value == nil {
		return !current
	}
	return *value
}
