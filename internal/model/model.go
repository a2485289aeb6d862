// Package model defines the domain types used across the application.
package model

import "time"

// Default registration settings.
const (
	DefaultHighlightDelay = 30 * time.Minute
	DefaultIgnoreBots     = true
	DefaultIgnoreNsfw     = false
)

// Key identifies a registration: one user within one community.
type Key struct {
	CommunityID int64
	UserID      int64
}

// Registration is a user's highlight configuration within one community.
type Registration struct {
	CommunityID     int64
	UserID          int64
	HighlightDelay  time.Duration
	IgnoreBots      bool
	IgnoreNsfw      bool
	LastActivity    time.Time
	LastNotified    time.Time
	Terms           []Term
	IgnoredChannels []int64
	IgnoredUsers    []int64
	CreatedAt       time.Time
}

// Key returns the registration's composite key.
func (r *Registration) Key() Key {
	return Key{CommunityID: r.CommunityID, UserID: r.UserID}
}

// HasPattern reports whether a term with the given normalized pattern exists.
func (r *Registration) HasPattern(pattern string) bool {
	for _, t := range r.Terms {
		if t.Pattern == pattern {
			return true
		}
	}
	return false
}

// IgnoresChannel reports whether messages from channelID are ignored.
func (r *Registration) IgnoresChannel(channelID int64) bool {
	for _, id := range r.IgnoredChannels {
		if id == channelID {
			return true
		}
	}
	return false
}

// IgnoresUser reports whether messages authored by userID are ignored.
func (r *Registration) IgnoresUser(userID int64) bool {
	for _, id := range r.IgnoredUsers {
		if id == userID {
			return true
		}
	}
	return false
}

// NewRegistration returns a registration with default settings.
func NewRegistration(key Key, now time.Time) *Registration {
	return &Registration{
		CommunityID:    key.CommunityID,
		UserID:         key.UserID,
		HighlightDelay: DefaultHighlightDelay,
		IgnoreBots:     DefaultIgnoreBots,
		IgnoreNsfw:     DefaultIgnoreNsfw,
		LastActivity:   now,
		CreatedAt:      now,
	}
}

// Term is one registered pattern.
type Term struct {
	ID            string
	Pattern       string
	Display       string
	CaseSensitive bool
	Regex         bool
	CreatedAt     time.Time
}

// IsRegex reports whether the term was registered as an explicit regex.
func (t Term) IsRegex() bool {
	return t.Regex
}

// CandidateTerm is a term whose registration passed the eligibility prefilter.
type CandidateTerm struct {
	UserID int64
	Term
}
