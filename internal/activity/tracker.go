// Package activity records when users speak and when they were last notified.
package activity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"highlight_bot/internal/model"
)

// Store is the subset of storage the tracker writes to.
// Touch methods must only move timestamps forward and must not create rows.
type Store interface {
	TouchActivity(ctx context.Context, key model.Key, at time.Time) (bool, error)
	TouchNotified(ctx context.Context, key model.Key, at time.Time) (bool, error)
}

// Tracker maintains the per-registration activity and cooldown timestamps.
type Tracker struct {
	store Store
	log   *slog.Logger
}

// New creates a Tracker.
func New(store Store, log *slog.Logger) *Tracker {
	return &Tracker{store: store, log: log}
}

// RecordAuthorActivity notes that userID spoke in the community at ts.
// Users without a registration are skipped silently.
func (t *Tracker) RecordAuthorActivity(ctx context.Context, communityID, userID int64, ts time.Time) error {
	key := model.Key{CommunityID: communityID, UserID: userID}
	ok, err := t.store.TouchActivity(ctx, key, ts)
	if err != nil {
		return fmt.Errorf("record activity for %d in %d: %w", userID, communityID, err)
	}
	if ok {
		t.log.Debug("activity recorded", "community_id", communityID, "user_id", userID)
	}
	return nil
}

// RecordNotified notes that userID was sent (or attempted) a notification at ts.
func (t *Tracker) RecordNotified(ctx context.Context, communityID, userID int64, ts time.Time) error {
	key := model.Key{CommunityID: communityID, UserID: userID}
	if _, err := t.store.TouchNotified(ctx, key, ts); err != nil {
		return fmt.Errorf("record notified for %d in %d: %w", userID, communityID, err)
	}
	return nil
}

// RecordNotifiedBatch records ts for every user independently, so one failed
// write does not keep the others from being applied. Failures are joined.
func (t *Tracker) RecordNotifiedBatch(ctx context.Context, communityID int64, userIDs []int64, ts time.Time) error {
	var errs []error
	for _, uid := range userIDs {
		if err := t.RecordNotified(ctx, communityID, uid, ts); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
