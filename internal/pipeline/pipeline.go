// Package pipeline runs every inbound message through activity tracking,
// matching and dispatch.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"highlight_bot/internal/alert"
	"highlight_bot/internal/dispatch"
	"highlight_bot/internal/model"
)

// ActivityRecorder stores when a user last spoke.
type ActivityRecorder interface {
	RecordAuthorActivity(ctx context.Context, communityID, userID int64, ts time.Time) error
}

// Matcher finds the users a message should alert.
type Matcher interface {
	FindMatches(ctx context.Context, msg model.Message) ([]model.Match, error)
}

// Dispatcher delivers notifications for a set of matches.
type Dispatcher interface {
	Dispatch(ctx context.Context, msg model.Message, matches []model.Match) dispatch.Result
}

// Pipeline processes messages. Each submitted message runs in its own
// goroutine; Wait blocks until all of them are finished.
type Pipeline struct {
	activity   ActivityRecorder
	matcher    Matcher
	dispatcher Dispatcher
	sink       alert.Sink
	log        *slog.Logger

	wg sync.WaitGroup
}

// New creates a Pipeline.
func New(activity ActivityRecorder, matcher Matcher, dispatcher Dispatcher, sink alert.Sink, log *slog.Logger) *Pipeline {
	return &Pipeline{
		activity:   activity,
		matcher:    matcher,
		dispatcher: dispatcher,
		sink:       sink,
		log:        log,
	}
}

// Run submits every message received on msgs until the channel is closed
// or ctx is cancelled.
func (p *Pipeline) Run(ctx context.Context, msgs <-chan model.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			p.Submit(ctx, msg)
		}
	}
}

// Submit processes msg in the background. Work already started keeps
// running after ctx is cancelled; delivery attempts are bounded on their own.
func (p *Pipeline) Submit(ctx context.Context, msg model.Message) {
	ctx = context.WithoutCancel(ctx)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.recoverPanic(ctx, msg)
		p.Process(ctx, msg)
	}()
}

// Wait blocks until every submitted message has been processed.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}

// Observe records the author's activity without matching. Used for
// messages that are commands to the bot.
func (p *Pipeline) Observe(ctx context.Context, msg model.Message) {
	p.recordActivity(ctx, msg)
}

// Process runs msg through the whole pipeline synchronously.
// A matching failure aborts the message; nothing is dispatched.
func (p *Pipeline) Process(ctx context.Context, msg model.Message) dispatch.Result {
	p.recordActivity(ctx, msg)

	matches, err := p.matcher.FindMatches(ctx, msg)
	if err != nil {
		p.messageLogger(msg).Error("match message", "error", err)
		p.sink.Notify(ctx, fmt.Sprintf("Matching failed for message %d in %d", msg.ID, msg.ChannelID), err)
		return nil
	}
	if len(matches) == 0 {
		return nil
	}
	return p.dispatcher.Dispatch(ctx, msg, matches)
}

func (p *Pipeline) recordActivity(ctx context.Context, msg model.Message) {
	if msg.AuthorID == 0 {
		return
	}
	ts := msg.CreatedAt
	if ts.IsZero() {
		ts = time.Now()
	}
	if err := p.activity.RecordAuthorActivity(ctx, msg.CommunityID, msg.AuthorID, ts); err != nil {
		p.messageLogger(msg).Error("record author activity", "error", err)
		p.sink.Notify(ctx, fmt.Sprintf("Couldn't record activity of %d in %d", msg.AuthorID, msg.CommunityID), err)
	}
}

func (p *Pipeline) recoverPanic(ctx context.Context, msg model.Message) {
	r := recover()
	if r == nil {
		return
	}
	err := fmt.Errorf("panic: %v", r)
	p.messageLogger(msg).Error("pipeline panicked", "error", err, "stack", string(debug.Stack()))
	p.sink.Notify(ctx, fmt.Sprintf("Pipeline crashed on message %d in %d", msg.ID, msg.ChannelID), err)
}

func (p *Pipeline) messageLogger(msg model.Message) *slog.Logger {
	return p.log.With(
		"message_id", msg.ID,
		"community_id", msg.CommunityID,
		"channel_id", msg.ChannelID,
		"author_id", msg.AuthorID,
	)
}
