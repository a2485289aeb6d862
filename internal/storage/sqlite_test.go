package storage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"highlight_bot/internal/model"
)

var ignoreTermMeta = cmpopts.IgnoreFields(model.Term{}, "ID", "CreatedAt")

func newTestDB(t *testing.T) *SQLite {
	t.Helper()
	s, err := NewSQLite(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("new sqlite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedRegistration(t *testing.T, s *SQLite, key model.Key, mutate func(r *model.Registration)) *model.Registration {
	t.Helper()
	reg := model.NewRegistration(key, time.Time{})
	if mutate != nil {
		mutate(reg)
	}
	if err := s.CreateRegistration(context.Background(), reg); err != nil {
		t.Fatalf("seed registration: %v", err)
	}
	return reg
}

func seedTerms(t *testing.T, s *SQLite, key model.Key, terms ...model.Term) {
	t.Helper()
	if _, err := s.AddTerms(context.Background(), key, terms); err != nil {
		t.Fatalf("seed terms: %v", err)
	}
}

func TestGetRegistrationNotFound(t *testing.T) {
	s := newTestDB(t)
	_, err := s.GetRegistration(context.Background(), model.Key{CommunityID: 1, UserID: 2})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRegistrationRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)
	key := model.Key{CommunityID: -100123, UserID: 42}
	activity := time.Date(2026, 1, 2, 3, 4, 5, 6_000_000, time.UTC)

	seedRegistration(t, s, key, func(r *model.Registration) {
		r.HighlightDelay = 10 * time.Minute
		r.IgnoreBots = false
		r.IgnoreNsfw = true
		r.LastActivity = activity
	})
	seedTerms(t, s, key,
		model.Term{Pattern: "p1", Display: "one"},
		model.Term{Pattern: "p2", Display: "`/two/`", CaseSensitive: true, Regex: true},
	)
	if err := s.SetChannelIgnored(ctx, key, -100999, true); err != nil {
		t.Fatalf("ignore channel: %v", err)
	}
	if err := s.SetUserIgnored(ctx, key, 7, true); err != nil {
		t.Fatalf("ignore user: %v", err)
	}

	got, err := s.GetRegistration(ctx, key)
	if err != nil {
		t.Fatalf("get: %v", err)
	}

	want := &model.Registration{
		CommunityID:    key.CommunityID,
		UserID:         key.UserID,
		HighlightDelay: 10 * time.Minute,
		IgnoreBots:     false,
		IgnoreNsfw:     true,
		LastActivity:   activity,
		Terms: []model.Term{
			{Pattern: "p1", Display: "one"},
			{Pattern: "p2", Display: "`/two/`", CaseSensitive: true, Regex: true},
		},
		IgnoredChannels: []int64{-100999},
		IgnoredUsers:    []int64{7},
	}
	if diff := cmp.Diff(want, got, ignoreTermMeta, cmpopts.IgnoreFields(model.Registration{}, "CreatedAt")); diff != "" {
		t.Errorf("GetRegistration mismatch (-want +got):\n%s", diff)
	}
	for _, term := range got.Terms {
		if term.ID == "" {
			t.Errorf("term %q has no ID", term.Display)
		}
	}
}

func TestCreateRegistrationKeepsExisting(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)
	key := model.Key{CommunityID: 1, UserID: 2}

	seedRegistration(t, s, key, func(r *model.Registration) { r.HighlightDelay = time.Minute })
	seedRegistration(t, s, key, nil)

	got, err := s.GetRegistration(ctx, key)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if diff := cmp.Diff(time.Minute, got.HighlightDelay); diff != "" {
		t.Errorf("second create overwrote settings (-want +got):\n%s", diff)
	}
}

func TestUpdateSettings(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)
	key := model.Key{CommunityID: 1, UserID: 2}
	reg := seedRegistration(t, s, key, nil)

	reg.HighlightDelay = 0
	reg.IgnoreBots = false
	reg.IgnoreNsfw = true
	if err := s.UpdateSettings(ctx, reg); err != nil {
		t.Fatalf("update: %v", err)
	}

	got, err := s.GetRegistration(ctx, key)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if diff := cmp.Diff([3]any{time.Duration(0), false, true}, [3]any{got.HighlightDelay, got.IgnoreBots, got.IgnoreNsfw}); diff != "" {
		t.Errorf("settings mismatch (-want +got):\n%s", diff)
	}

	missing := model.NewRegistration(model.Key{CommunityID: 9, UserID: 9}, time.Time{})
	if err := s.UpdateSettings(ctx, missing); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for missing row, got %v", err)
	}
}

func TestAddTermsSkipsDuplicates(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)
	key := model.Key{CommunityID: 1, UserID: 2}
	seedRegistration(t, s, key, nil)

	added, err := s.AddTerms(ctx, key, []model.Term{{Pattern: "a", Display: "a"}, {Pattern: "b", Display: "b"}})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if diff := cmp.Diff(2, added); diff != "" {
		t.Errorf("first add count mismatch (-want +got):\n%s", diff)
	}

	added, err = s.AddTerms(ctx, key, []model.Term{{Pattern: "a", Display: "a"}, {Pattern: "c", Display: "c"}})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if diff := cmp.Diff(1, added); diff != "" {
		t.Errorf("second add count mismatch (-want +got):\n%s", diff)
	}

	// Same pattern for another user is independent.
	other := model.Key{CommunityID: 1, UserID: 3}
	added, err = s.AddTerms(ctx, other, []model.Term{{Pattern: "a", Display: "a"}})
	if err != nil {
		t.Fatalf("add other: %v", err)
	}
	if diff := cmp.Diff(1, added); diff != "" {
		t.Errorf("other user add count mismatch (-want +got):\n%s", diff)
	}
}

func TestRemoveAndClearTerms(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)
	key := model.Key{CommunityID: 1, UserID: 2}
	seedRegistration(t, s, key, nil)
	seedTerms(t, s, key,
		model.Term{Pattern: "a", Display: "a"},
		model.Term{Pattern: "b", Display: "`/b/`"},
		model.Term{Pattern: "c", Display: "c"},
	)

	removed, err := s.RemoveTerm(ctx, key, "`/b/`")
	if err != nil || !removed {
		t.Fatalf("remove existing: removed=%v err=%v", removed, err)
	}
	removed, err = s.RemoveTerm(ctx, key, "zzz")
	if err != nil || removed {
		t.Fatalf("remove missing: removed=%v err=%v", removed, err)
	}

	n, err := s.ClearTerms(ctx, key)
	if err != nil {
		t.Fatalf("clear: %v", err)
	}
	if diff := cmp.Diff(2, n); diff != "" {
		t.Errorf("clear count mismatch (-want +got):\n%s", diff)
	}

	got, err := s.GetRegistration(ctx, key)
	if err != nil {
		t.Fatalf("registration must survive clearing: %v", err)
	}
	if len(got.Terms) != 0 {
		t.Errorf("expected no terms, got %d", len(got.Terms))
	}
}

func TestIgnoreListsToggle(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)
	key := model.Key{CommunityID: 1, UserID: 2}
	seedRegistration(t, s, key, nil)

	for range 2 {
		if err := s.SetChannelIgnored(ctx, key, 5, true); err != nil {
			t.Fatalf("ignore: %v", err)
		}
	}
	if err := s.SetUserIgnored(ctx, key, 6, true); err != nil {
		t.Fatalf("ignore user: %v", err)
	}
	if err := s.SetUserIgnored(ctx, key, 6, false); err != nil {
		t.Fatalf("unignore user: %v", err)
	}

	got, err := s.GetRegistration(ctx, key)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if diff := cmp.Diff([]int64{5}, got.IgnoredChannels); diff != "" {
		t.Errorf("ignored channels mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int64(nil), got.IgnoredUsers); diff != "" {
		t.Errorf("ignored users mismatch (-want +got):\n%s", diff)
	}
}

func TestListCandidateTerms(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	const community = int64(-100)
	const channel = int64(-100)
	const author = int64(1)

	base := CandidateQuery{
		CommunityID: community,
		ChannelID:   channel,
		AuthorID:    author,
		Now:         now,
		DMCooldown:  5 * time.Minute,
	}

	tests := []struct {
		name   string
		mutate func(r *model.Registration)
		setup  func(t *testing.T, s *SQLite, key model.Key)
		query  func(q *CandidateQuery)
		userID int64
		want   bool
	}{
		{name: "eligible", userID: 2, want: true},
		{name: "author is excluded", userID: author, want: false},
		{
			name:   "bot author with ignore bots",
			userID: 2,
			mutate: func(r *model.Registration) { r.IgnoreBots = true },
			query:  func(q *CandidateQuery) { q.AuthorIsBot = true },
			want:   false,
		},
		{
			name:   "bot author without ignore bots",
			userID: 2,
			mutate: func(r *model.Registration) { r.IgnoreBots = false },
			query:  func(q *CandidateQuery) { q.AuthorIsBot = true },
			want:   true,
		},
		{
			name:   "nsfw channel with ignore nsfw",
			userID: 2,
			mutate: func(r *model.Registration) { r.IgnoreNsfw = true },
			query:  func(q *CandidateQuery) { q.ChannelNSFW = true },
			want:   false,
		},
		{
			name:   "nsfw channel without ignore nsfw",
			userID: 2,
			query:  func(q *CandidateQuery) { q.ChannelNSFW = true },
			want:   true,
		},
		{
			name:   "recently active",
			userID: 2,
			mutate: func(r *model.Registration) {
				r.HighlightDelay = 30 * time.Minute
				r.LastActivity = now.Add(-10 * time.Minute)
			},
			want: false,
		},
		{
			name:   "activity exactly at delay boundary",
			userID: 2,
			mutate: func(r *model.Registration) {
				r.HighlightDelay = 30 * time.Minute
				r.LastActivity = now.Add(-30 * time.Minute)
			},
			want: false,
		},
		{
			name:   "inactive long enough",
			userID: 2,
			mutate: func(r *model.Registration) {
				r.HighlightDelay = 30 * time.Minute
				r.LastActivity = now.Add(-31 * time.Minute)
			},
			want: true,
		},
		{
			name:   "notified within cooldown",
			userID: 2,
			mutate: func(r *model.Registration) { r.LastNotified = now.Add(-time.Minute) },
			want:   false,
		},
		{
			name:   "notified exactly at cooldown boundary",
			userID: 2,
			mutate: func(r *model.Registration) { r.LastNotified = now.Add(-5 * time.Minute) },
			want:   false,
		},
		{
			name:   "cooldown elapsed",
			userID: 2,
			mutate: func(r *model.Registration) { r.LastNotified = now.Add(-6 * time.Minute) },
			want:   true,
		},
		{
			name:   "ignored channel",
			userID: 2,
			setup: func(t *testing.T, s *SQLite, key model.Key) {
				if err := s.SetChannelIgnored(ctx, key, channel, true); err != nil {
					t.Fatal(err)
				}
			},
			want: false,
		},
		{
			name:   "other channel ignored",
			userID: 2,
			setup: func(t *testing.T, s *SQLite, key model.Key) {
				if err := s.SetChannelIgnored(ctx, key, -555, true); err != nil {
					t.Fatal(err)
				}
			},
			want: true,
		},
		{
			name:   "ignored author",
			userID: 2,
			setup: func(t *testing.T, s *SQLite, key model.Key) {
				if err := s.SetUserIgnored(ctx, key, author, true); err != nil {
					t.Fatal(err)
				}
			},
			want: false,
		},
		{
			name:   "other community",
			userID: 2,
			query:  func(q *CandidateQuery) { q.CommunityID = -200 },
			want:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestDB(t)
			key := model.Key{CommunityID: community, UserID: tt.userID}
			seedRegistration(t, s, key, func(r *model.Registration) {
				r.HighlightDelay = 0
				r.IgnoreBots = false
				if tt.mutate != nil {
					tt.mutate(r)
				}
			})
			seedTerms(t, s, key, model.Term{Pattern: "p", Display: "d"})
			if tt.setup != nil {
				tt.setup(t, s, key)
			}

			q := base
			if tt.query != nil {
				tt.query(&q)
			}
			got, err := s.ListCandidateTerms(ctx, q)
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			if diff := cmp.Diff(tt.want, len(got) == 1); diff != "" {
				t.Errorf("eligibility mismatch (-want +got):\n%s\ncandidates: %+v", diff, got)
			}
		})
	}
}

func TestListCandidateTermsReturnsEveryTerm(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)
	now := time.Now()

	for _, uid := range []int64{2, 3} {
		key := model.Key{CommunityID: 1, UserID: uid}
		seedRegistration(t, s, key, func(r *model.Registration) { r.HighlightDelay = 0 })
		seedTerms(t, s, key,
			model.Term{Pattern: "x", Display: "x"},
			model.Term{Pattern: "y", Display: "y"},
		)
	}

	got, err := s.ListCandidateTerms(ctx, CandidateQuery{CommunityID: 1, ChannelID: 1, AuthorID: 9, Now: now})
	if err != nil {
		t.Fatalf("list: %v", err)
	}

	want := []model.CandidateTerm{
		{UserID: 2, Term: model.Term{Pattern: "x", Display: "x"}},
		{UserID: 2, Term: model.Term{Pattern: "y", Display: "y"}},
		{UserID: 3, Term: model.Term{Pattern: "x", Display: "x"}},
		{UserID: 3, Term: model.Term{Pattern: "y", Display: "y"}},
	}
	if diff := cmp.Diff(want, got, ignoreTermMeta); diff != "" {
		t.Errorf("candidates mismatch (-want +got):\n%s", diff)
	}
}

func TestTouchIsMonotonic(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)
	key := model.Key{CommunityID: 1, UserID: 2}
	seedRegistration(t, s, key, nil)

	newer := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	older := newer.Add(-time.Hour)

	for _, at := range []time.Time{newer, older} {
		if ok, err := s.TouchActivity(ctx, key, at); err != nil || !ok {
			t.Fatalf("touch activity: ok=%v err=%v", ok, err)
		}
		if ok, err := s.TouchNotified(ctx, key, at); err != nil || !ok {
			t.Fatalf("touch notified: ok=%v err=%v", ok, err)
		}
	}

	got, err := s.GetRegistration(ctx, key)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if diff := cmp.Diff(newer, got.LastActivity); diff != "" {
		t.Errorf("last activity regressed (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(newer, got.LastNotified); diff != "" {
		t.Errorf("last notified regressed (-want +got):\n%s", diff)
	}
}

func TestTouchMissingRowIsNoop(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)
	key := model.Key{CommunityID: 1, UserID: 2}

	ok, err := s.TouchActivity(ctx, key, time.Now())
	if err != nil {
		t.Fatalf("touch: %v", err)
	}
	if ok {
		t.Error("touch reported an existing row")
	}
	if _, err := s.GetRegistration(ctx, key); !errors.Is(err, ErrNotFound) {
		t.Errorf("touch must not create a registration, got %v", err)
	}
}

func TestConcurrentTouchKeepsNewest(t *testing.T) {
	ctx := context.Background()
	s := newTestDB(t)
	key := model.Key{CommunityID: 1, UserID: 2}
	seedRegistration(t, s, key, nil)

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.TouchNotified(ctx, key, base.Add(time.Duration(i)*time.Second)); err != nil {
				t.Errorf("touch: %v", err)
			}
		}()
	}
	wg.Wait()

	got, err := s.GetRegistration(ctx, key)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if diff := cmp.Diff(base.Add(19*time.Second), got.LastNotified); diff != "" {
		t.Errorf("last notified mismatch (-want +got):\n%s", diff)
	}
}
