// Package dispatch delivers highlight notifications to matched users.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"highlight_bot/internal/alert"
	"highlight_bot/internal/model"
)

// ErrRecipientUnreachable marks a delivery failure that is expected and
// absorbed: the user blocked the bot, never opened a private chat with it,
// or no longer exists.
var ErrRecipientUnreachable = errors.New("recipient unreachable")

// Defaults for Config.
const (
	DefaultContextSize     = 5
	DefaultDeliveryTimeout = 10 * time.Second
	DefaultConcurrency     = 4
)

// Directory answers membership and visibility questions about users.
type Directory interface {
	IsMember(ctx context.Context, communityID, userID int64) (bool, error)
	CanView(ctx context.Context, channelID, userID int64) (bool, error)
}

// History returns recent messages of a channel, oldest first.
type History interface {
	Recent(ctx context.Context, channelID int64, uptoID int, limit int) ([]model.HistoryEntry, error)
}

// Sender delivers a private notification. Implementations wrap
// ErrRecipientUnreachable for expected failures.
type Sender interface {
	SendPrivate(ctx context.Context, userID int64, n model.Notification) error
}

// Recorder stores when users were last notified.
type Recorder interface {
	RecordNotifiedBatch(ctx context.Context, communityID int64, userIDs []int64, ts time.Time) error
}

// Config tunes a Dispatcher.
type Config struct {
	ContextSize     int
	DeliveryTimeout time.Duration
	Concurrency     int
}

// Outcome is what happened to one target of a dispatch.
type Outcome string

// Possible outcomes.
const (
	OutcomeDelivered    Outcome = "delivered"
	OutcomeNotMember    Outcome = "not_member"
	OutcomeNoAccess     Outcome = "no_access"
	OutcomeLookupFailed Outcome = "lookup_failed"
	OutcomeUnreachable  Outcome = "unreachable"
	OutcomeTimedOut     Outcome = "timed_out"
	OutcomeFailed       Outcome = "failed"
)

// Attempted reports whether delivery was tried for the target.
func (o Outcome) Attempted() bool {
	switch o {
	case OutcomeDelivered, OutcomeUnreachable, OutcomeTimedOut, OutcomeFailed:
		return true
	}
	return false
}

// Target is one user and every term of theirs that matched.
type Target struct {
	UserID int64
	Terms  []string
}

// Result maps each target user to its outcome.
type Result map[int64]Outcome

// Dispatcher groups matches per user and delivers one notification each.
type Dispatcher struct {
	dir      Directory
	history  History
	sender   Sender
	recorder Recorder
	sink     alert.Sink
	log      *slog.Logger
	cfg      Config
	now      func() time.Time
}

// New creates a Dispatcher. Zero Config fields take their defaults.
func New(dir Directory, history History, sender Sender, recorder Recorder, sink alert.Sink, cfg Config, log *slog.Logger) *Dispatcher {
	if cfg.ContextSize <= 0 {
		cfg.ContextSize = DefaultContextSize
	}
	if cfg.DeliveryTimeout <= 0 {
		cfg.DeliveryTimeout = DefaultDeliveryTimeout
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	return &Dispatcher{
		dir:      dir,
		history:  history,
		sender:   sender,
		recorder: recorder,
		sink:     sink,
		log:      log,
		cfg:      cfg,
		now:      time.Now,
	}
}

// SetClock overrides the time source (useful for testing).
func (d *Dispatcher) SetClock(now func() time.Time) {
	d.now = now
}

// GroupByUser merges matches into one target per user, in order of first
// appearance, dropping repeated displays.
func GroupByUser(matches []model.Match) []Target {
	index := make(map[int64]int)
	var targets []Target
	for _, m := range matches {
		i, ok := index[m.UserID]
		if !ok {
			i = len(targets)
			index[m.UserID] = i
			targets = append(targets, Target{UserID: m.UserID})
		}
		if !containsString(targets[i].Terms, m.Display) {
			targets[i].Terms = append(targets[i].Terms, m.Display)
		}
	}
	return targets
}

// Dispatch notifies every matched user about msg. Failures for one target
// never affect the others. Once all targets are processed, the notification
// time of every attempted target is recorded.
func (d *Dispatcher) Dispatch(ctx context.Context, msg model.Message, matches []model.Match) Result {
	targets := GroupByUser(matches)
	result := make(Result, len(targets))
	if len(targets) == 0 {
		return result
	}

	base := model.Notification{
		CommunityTitle: msg.CommunityTitle,
		ChannelTitle:   msg.ChannelTitle,
		AuthorName:     msg.AuthorName,
		Link:           msg.Link,
		SentAt:         d.now(),
	}
	recent, err := d.history.Recent(ctx, msg.ChannelID, msg.ID, d.cfg.ContextSize)
	if err != nil {
		d.log.Warn("load context messages", "channel_id", msg.ChannelID, "message_id", msg.ID, "error", err)
	}
	base.Context = recent

	var mu sync.Mutex
	g := new(errgroup.Group)
	g.SetLimit(d.cfg.Concurrency)
	for _, target := range targets {
		g.Go(func() error {
			outcome := d.deliver(ctx, msg, target, base)
			mu.Lock()
			result[target.UserID] = outcome
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	var attempted []int64
	for _, target := range targets {
		if result[target.UserID].Attempted() {
			attempted = append(attempted, target.UserID)
		}
	}
	if len(attempted) > 0 {
		if err := d.recorder.RecordNotifiedBatch(ctx, msg.CommunityID, attempted, d.now()); err != nil {
			d.sink.Notify(ctx, fmt.Sprintf("Couldn't record notification time in community %d", msg.CommunityID), err)
		}
	}

	d.log.Info("dispatched highlights",
		"message_id", msg.ID,
		"community_id", msg.CommunityID,
		"channel_id", msg.ChannelID,
		"author_id", msg.AuthorID,
		"targets", len(targets),
		"attempted", len(attempted),
	)
	return result
}

func (d *Dispatcher) deliver(ctx context.Context, msg model.Message, target Target, base model.Notification) Outcome {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.DeliveryTimeout)
	defer cancel()

	log := d.log.With(
		"user_id", target.UserID,
		"message_id", msg.ID,
		"community_id", msg.CommunityID,
		"channel_id", msg.ChannelID,
		"author_id", msg.AuthorID,
	)

	member, err := d.dir.IsMember(ctx, msg.CommunityID, target.UserID)
	if err != nil {
		d.lookupFailed(ctx, log, fmt.Sprintf("Couldn't resolve member %d of community %d", target.UserID, msg.CommunityID), err)
		return OutcomeLookupFailed
	}
	if !member {
		log.Debug("target left community")
		return OutcomeNotMember
	}

	visible, err := d.dir.CanView(ctx, msg.ChannelID, target.UserID)
	if err != nil {
		d.lookupFailed(ctx, log, fmt.Sprintf("Couldn't check access of %d to channel %d", target.UserID, msg.ChannelID), err)
		return OutcomeLookupFailed
	}
	if !visible {
		log.Debug("target cannot view channel")
		return OutcomeNoAccess
	}

	n := base
	n.Terms = target.Terms
	err = d.sender.SendPrivate(ctx, target.UserID, n)
	switch {
	case err == nil:
		log.Debug("highlight delivered", "terms", len(target.Terms))
		return OutcomeDelivered
	case errors.Is(err, ErrRecipientUnreachable):
		log.Debug("target unreachable", "error", err)
		return OutcomeUnreachable
	case errors.Is(err, context.DeadlineExceeded):
		log.Warn("highlight delivery timed out", "timeout", d.cfg.DeliveryTimeout)
		return OutcomeTimedOut
	default:
		d.sink.Notify(ctx, fmt.Sprintf("Couldn't DM %d about message %d in %d", target.UserID, msg.ID, msg.ChannelID), err)
		return OutcomeFailed
	}
}

// lookupFailed escalates a failed membership lookup. Timeouts stay local to the target.
func (d *Dispatcher) lookupFailed(ctx context.Context, log *slog.Logger, summary string, err error) {
	if errors.Is(err, context.DeadlineExceeded) {
		log.Warn("membership lookup timed out", "error", err)
		return
	}
	d.sink.Notify(ctx, summary, err)
}

// JoinTerms lists terms in prose: "a", "a and b", "a, b, and c".
func JoinTerms(terms []string) string {
	switch len(terms) {
	case 0:
		return ""
	case 1:
		return terms[0]
	case 2:
		return terms[0] + " and " + terms[1]
	}
	return strings.Join(terms[:len(terms)-1], ", ") + ", and " + terms[len(terms)-1]
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
