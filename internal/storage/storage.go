// Package storage defines the persistence interface and its implementations.
package storage

import (
	"context"
	"errors"
	"time"

	"highlight_bot/internal/model"
)

// ErrNotFound is returned when a registration does not exist.
var ErrNotFound = errors.New("not found")

// CandidateQuery describes an inbound message for the eligibility prefilter.
type CandidateQuery struct {
	CommunityID int64
	ChannelID   int64
	AuthorID    int64
	AuthorIsBot bool
	ChannelNSFW bool
	Now         time.Time
	DMCooldown  time.Duration
}

// Storage is the interface for all persistence operations.
type Storage interface {
	GetRegistration(ctx context.Context, key model.Key) (*model.Registration, error)
	CreateRegistration(ctx context.Context, reg *model.Registration) error
	UpdateSettings(ctx context.Context, reg *model.Registration) error

	AddTerms(ctx context.Context, key model.Key, terms []model.Term) (int, error)
	RemoveTerm(ctx context.Context, key model.Key, display string) (bool, error)
	ClearTerms(ctx context.Context, key model.Key) (int, error)

	SetChannelIgnored(ctx context.Context, key model.Key, channelID int64, ignored bool) error
	SetUserIgnored(ctx context.Context, key model.Key, userID int64, ignored bool) error

	ListCandidateTerms(ctx context.Context, q CandidateQuery) ([]model.CandidateTerm, error)

	TouchActivity(ctx context.Context, key model.Key, at time.Time) (bool, error)
	TouchNotified(ctx context.Context, key model.Key, at time.Time) (bool, error)

	Close() error
}
