package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver registration.

	"highlight_bot/internal/model"
	"highlight_bot/migrations"
)

const timeLayout = "2006-01-02T15:04:05Z"

// SQLite implements Storage backed by a SQLite database.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at dsn and runs pending migrations.
func NewSQLite(ctx context.Context, dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite has a single writer; one connection also keeps ":memory:"
	// databases from splitting across the pool.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if _, err := migrations.Run(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLite{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// GetRegistration returns a registration with its terms and ignore lists.
// It returns ErrNotFound if the user never configured highlights in the community.
func (s *SQLite) GetRegistration(ctx context.Context, key model.Key) (*model.Registration, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT community_id, user_id, highlight_delay_ms, ignore_bots, ignore_nsfw,
		        last_activity_at, last_notified_at, created_at
		 FROM registrations WHERE community_id = ? AND user_id = ?`,
		key.CommunityID, key.UserID,
	)
	reg, err := scanRegistration(row)
	if err != nil {
		return nil, err
	}

	if reg.Terms, err = s.listTerms(ctx, key); err != nil {
		return nil, err
	}
	if reg.IgnoredChannels, err = s.listIDs(ctx,
		`SELECT channel_id FROM ignored_channels WHERE community_id = ? AND user_id = ? ORDER BY channel_id`, key,
	); err != nil {
		return nil, fmt.Errorf("list ignored channels: %w", err)
	}
	if reg.IgnoredUsers, err = s.listIDs(ctx,
		`SELECT ignored_user_id FROM ignored_users WHERE community_id = ? AND user_id = ? ORDER BY ignored_user_id`, key,
	); err != nil {
		return nil, fmt.Errorf("list ignored users: %w", err)
	}
	return reg, nil
}

// CreateRegistration inserts a registration unless one already exists for its key.
func (s *SQLite) CreateRegistration(ctx context.Context, reg *model.Registration) error {
	created := reg.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO registrations
		   (community_id, user_id, highlight_delay_ms, ignore_bots, ignore_nsfw,
		    last_activity_at, last_notified_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (community_id, user_id) DO NOTHING`,
		reg.CommunityID, reg.UserID, reg.HighlightDelay.Milliseconds(),
		boolToInt(reg.IgnoreBots), boolToInt(reg.IgnoreNsfw),
		toMillis(reg.LastActivity), toMillis(reg.LastNotified),
		created.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("insert registration: %w", err)
	}
	return nil
}

// UpdateSettings persists the delay and ignore flags of a registration.
func (s *SQLite) UpdateSettings(ctx context.Context, reg *model.Registration) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE registrations SET highlight_delay_ms = ?, ignore_bots = ?, ignore_nsfw = ?
		 WHERE community_id = ? AND user_id = ?`,
		reg.HighlightDelay.Milliseconds(), boolToInt(reg.IgnoreBots), boolToInt(reg.IgnoreNsfw),
		reg.CommunityID, reg.UserID,
	)
	if err != nil {
		return fmt.Errorf("update registration: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// AddTerms inserts terms in one transaction, skipping patterns the
// registration already has. It returns the number of terms inserted.
func (s *SQLite) AddTerms(ctx context.Context, key model.Key, terms []model.Term) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC().Format(timeLayout)
	added := 0
	for _, t := range terms {
		id := t.ID
		if id == "" {
			id = uuid.NewString()
		}
		res, err := tx.ExecContext(ctx,
			`INSERT INTO terms (id, community_id, user_id, pattern, display, case_sensitive, is_regex, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT (community_id, user_id, pattern) DO NOTHING`,
			id, key.CommunityID, key.UserID, t.Pattern, t.Display, boolToInt(t.CaseSensitive), boolToInt(t.Regex), now,
		)
		if err != nil {
			return 0, fmt.Errorf("insert term: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("rows affected: %w", err)
		}
		added += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit terms: %w", err)
	}
	return added, nil
}

// RemoveTerm deletes the term with the given display string.
// It reports whether a term was removed.
func (s *SQLite) RemoveTerm(ctx context.Context, key model.Key, display string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM terms WHERE community_id = ? AND user_id = ? AND display = ?`,
		key.CommunityID, key.UserID, display,
	)
	if err != nil {
		return false, fmt.Errorf("delete term: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

// ClearTerms deletes every term of a registration and returns how many were removed.
// The registration itself and its settings are kept.
func (s *SQLite) ClearTerms(ctx context.Context, key model.Key) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM terms WHERE community_id = ? AND user_id = ?`,
		key.CommunityID, key.UserID,
	)
	if err != nil {
		return 0, fmt.Errorf("clear terms: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return int(n), nil
}

// SetChannelIgnored adds or removes a channel from the registration's ignore list.
func (s *SQLite) SetChannelIgnored(ctx context.Context, key model.Key, channelID int64, ignored bool) error {
	query := `DELETE FROM ignored_channels WHERE community_id = ? AND user_id = ? AND channel_id = ?`
	if ignored {
		query = `INSERT OR IGNORE INTO ignored_channels (community_id, user_id, channel_id) VALUES (?, ?, ?)`
	}
	if _, err := s.db.ExecContext(ctx, query, key.CommunityID, key.UserID, channelID); err != nil {
		return fmt.Errorf("set channel ignored: %w", err)
	}
	return nil
}

// SetUserIgnored adds or removes an author from the registration's ignore list.
func (s *SQLite) SetUserIgnored(ctx context.Context, key model.Key, userID int64, ignored bool) error {
	query := `DELETE FROM ignored_users WHERE community_id = ? AND user_id = ? AND ignored_user_id = ?`
	if ignored {
		query = `INSERT OR IGNORE INTO ignored_users (community_id, user_id, ignored_user_id) VALUES (?, ?, ?)`
	}
	if _, err := s.db.ExecContext(ctx, query, key.CommunityID, key.UserID, userID); err != nil {
		return fmt.Errorf("set user ignored: %w", err)
	}
	return nil
}

// ListCandidateTerms returns the terms of every registration in the community
// that may be notified about the described message. All eligibility rules
// that need no pattern evaluation are applied here.
func (s *SQLite) ListCandidateTerms(ctx context.Context, q CandidateQuery) ([]model.CandidateTerm, error) {
	now := toMillis(q.Now)
	rows, err := s.db.QueryContext(ctx,
		`SELECT t.user_id, t.id, t.pattern, t.display, t.case_sensitive, t.is_regex, t.created_at
		 FROM terms t
		 JOIN registrations r ON r.community_id = t.community_id AND r.user_id = t.user_id
		 WHERE t.community_id = ?
		   AND t.user_id <> ?
		   AND NOT (? = 1 AND r.ignore_bots = 1)
		   AND NOT (? = 1 AND r.ignore_nsfw = 1)
		   AND r.last_activity_at + r.highlight_delay_ms < ?
		   AND r.last_notified_at + ? < ?
		   AND NOT EXISTS (
		       SELECT 1 FROM ignored_channels c
		       WHERE c.community_id = r.community_id AND c.user_id = r.user_id AND c.channel_id = ?)
		   AND NOT EXISTS (
		       SELECT 1 FROM ignored_users u
		       WHERE u.community_id = r.community_id AND u.user_id = r.user_id AND u.ignored_user_id = ?)
		 ORDER BY t.user_id, t.rowid`,
		q.CommunityID,
		q.AuthorID,
		boolToInt(q.AuthorIsBot),
		boolToInt(q.ChannelNSFW),
		now,
		q.DMCooldown.Milliseconds(), now,
		q.ChannelID,
		q.AuthorID,
	)
	if err != nil {
		return nil, fmt.Errorf("query candidate terms: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.CandidateTerm
	for rows.Next() {
		var c model.CandidateTerm
		var caseSensitive, regex int
		var created string
		if err := rows.Scan(&c.UserID, &c.ID, &c.Pattern, &c.Display, &caseSensitive, &regex, &created); err != nil {
			return nil, fmt.Errorf("scan candidate term: %w", err)
		}
		c.CaseSensitive = caseSensitive == 1
		c.Regex = regex == 1
		c.CreatedAt, _ = time.Parse(timeLayout, created)
		out = append(out, c)
	}
	return out, rows.Err()
}

// TouchActivity moves last_activity_at forward to at. It never moves the
// timestamp backwards and reports whether the registration exists.
func (s *SQLite) TouchActivity(ctx context.Context, key model.Key, at time.Time) (bool, error) {
	return s.touch(ctx,
		`UPDATE registrations SET last_activity_at = MAX(last_activity_at, ?)
		 WHERE community_id = ? AND user_id = ?`, key, at)
}

// TouchNotified moves last_notified_at forward to at. It never moves the
// timestamp backwards and reports whether the registration exists.
func (s *SQLite) TouchNotified(ctx context.Context, key model.Key, at time.Time) (bool, error) {
	return s.touch(ctx,
		`UPDATE registrations SET last_notified_at = MAX(last_notified_at, ?)
		 WHERE community_id = ? AND user_id = ?`, key, at)
}

func (s *SQLite) touch(ctx context.Context, query string, key model.Key, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, query, toMillis(at), key.CommunityID, key.UserID)
	if err != nil {
		return false, fmt.Errorf("touch registration: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

func (s *SQLite) listTerms(ctx context.Context, key model.Key) ([]model.Term, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, pattern, display, case_sensitive, is_regex, created_at
		 FROM terms WHERE community_id = ? AND user_id = ? ORDER BY rowid`,
		key.CommunityID, key.UserID,
	)
	if err != nil {
		return nil, fmt.Errorf("query terms: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var terms []model.Term
	for rows.Next() {
		var t model.Term
		var caseSensitive, regex int
		var created string
		if err := rows.Scan(&t.ID, &t.Pattern, &t.Display, &caseSensitive, &regex, &created); err != nil {
			return nil, fmt.Errorf("scan term: %w", err)
		}
		t.CaseSensitive = caseSensitive == 1
		t.Regex = regex == 1
		t.CreatedAt, _ = time.Parse(timeLayout, created)
		terms = append(terms, t)
	}
	return terms, rows.Err()
}

func (s *SQLite) listIDs(ctx context.Context, query string, key model.Key) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, query, key.CommunityID, key.UserID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// toMillis maps the zero time to 0 so "never" compares as the distant past.
func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRegistration(row scannable) (*model.Registration, error) {
	var r model.Registration
	var delayMS, lastActivity, lastNotified int64
	var ignoreBots, ignoreNsfw int
	var created sql.NullString
	err := row.Scan(&r.CommunityID, &r.UserID, &delayMS, &ignoreBots, &ignoreNsfw,
		&lastActivity, &lastNotified, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan registration: %w", err)
	}
	r.HighlightDelay = time.Duration(delayMS) * time.Millisecond
	r.IgnoreBots = ignoreBots == 1
	r.IgnoreNsfw = ignoreNsfw == 1
	r.LastActivity = fromMillis(lastActivity)
	r.LastNotified = fromMillis(lastNotified)
	if created.Valid {
		r.CreatedAt, _ = time.Parse(timeLayout, created.String)
	}
	return &r, nil
}
