package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"github.com/spigell/jobpilot/internal/model"
)

//go:embed schema.sql
var schema string

// Postgres implements Store over database/sql backed by a pgx pool.
type Postgres struct {
	db     *sql.DB
	pool   *pgxpool.Pool
	logger *zap.Logger
	now    func() time.Time
}

var _ Store = (*Postgres)(nil)

// Open connects to databaseURL, verifies the connection and returns a Postgres store.
func Open(ctx context.Context, databaseURL string, logger *zap.Logger) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.New: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping failed: %w", err)
	}

	pg := New(stdlib.OpenDBFromPool(pool), logger)
	pg.pool = pool
	return pg, nil
}

// New wraps an existing *sql.DB.
func New(db *sql.DB, logger *zap.Logger) *Postgres {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Postgres{db: db, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// Migrate creates missing tables.
func (s *Postgres) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Close releases the database handle and the underlying pool.
func (s *Postgres) Close() error {
	err := s.db.Close()
	if s.pool != nil {
		s.pool.Close()
	}
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

const postingColumns = `id, external_id, title, company, location, description, requirements,
	salary_min, salary_max, platform, source_url, scraped_at, is_active, embedding`

func scanPosting(row rowScanner) (*model.Posting, error) {
	var (
		p         model.Posting
		embedding []byte
	)
	if err := row.Scan(
		&p.ID, &p.ExternalID, &p.Title, &p.Company, &p.Location, &p.Description, &p.Requirements,
		&p.SalaryMin, &p.SalaryMax, &p.Platform, &p.SourceURL, &p.ScrapedAt, &p.IsActive, &embedding,
	); err != nil {
		return nil, err
	}
	if len(embedding) > 0 {
		if err := json.Unmarshal(embedding, &p.Embedding); err != nil {
			return nil, fmt.Errorf("decode embedding of %s: %w", p.ID, err)
		}
	}
	return &p, nil
}

// PostingExists reports whether a posting with externalID is stored.
func (s *Postgres) PostingExists(ctx context.Context, externalID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM postings WHERE external_id = $1)`, externalID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("posting exists: %w", err)
	}
	return exists, nil
}

// InsertPosting stores p; the first writer of an external id wins.
func (s *Postgres) InsertPosting(ctx context.Context, p *model.Posting) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.ScrapedAt.IsZero() {
		p.ScrapedAt = s.now()
	}

	var embedding any
	if len(p.Embedding) > 0 {
		raw, err := json.Marshal(p.Embedding)
		if err != nil {
			return fmt.Errorf("encode embedding: %w", err)
		}
		embedding = string(raw)
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO postings (`+postingColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14::jsonb)
		 ON CONFLICT (external_id) DO NOTHING`,
		p.ID, p.ExternalID, p.Title, p.Company, p.Location, p.Description, p.Requirements,
		p.SalaryMin, p.SalaryMax, p.Platform, p.SourceURL, p.ScrapedAt, p.IsActive, embedding,
	)
	if err != nil {
		return fmt.Errorf("insert posting %s: %w", p.ExternalID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert posting %s: %w", p.ExternalID, err)
	}
	if n == 0 {
		return fmt.Errorf("posting %s: %w", p.ExternalID, ErrDuplicate)
	}
	return nil
}

// GetPosting loads a posting by internal id.
func (s *Postgres) GetPosting(ctx context.Context, id string) (*model.Posting, error) {
	p, err := scanPosting(s.db.QueryRowContext(ctx,
		`SELECT `+postingColumns+` FROM postings WHERE id = $1`, id))
	if isMissing(err) {
		return nil, model.NotFoundError("posting", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get posting: %w", err)
	}
	return p, nil
}

// UnmatchedPostings lists active postings the user has no match for yet.
func (s *Postgres) UnmatchedPostings(ctx context.Context, userID string, limit int) ([]*model.Posting, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+postingColumns+`
		 FROM postings p
		 WHERE p.is_active
		   AND NOT EXISTS (SELECT 1 FROM matches m WHERE m.posting_id = p.id AND m.user_id = $1)
		 ORDER BY p.created_at, p.id
		 LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("unmatched postings query: %w", err)
	}
	defer rows.Close()

	postings := make([]*model.Posting, 0)
	for rows.Next() {
		p, err := scanPosting(rows)
		if err != nil {
			return nil, fmt.Errorf("unmatched postings scan: %w", err)
		}
		postings = append(postings, p)
	}
	return postings, rows.Err()
}

// DeactivatePosting clears the active flag. It is the only posting mutation.
func (s *Postgres) DeactivatePosting(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE postings SET is_active = FALSE WHERE id = $1`, id)
	if isMissing(err) {
		return model.NotFoundError("posting", id)
	}
	if err != nil {
		return fmt.Errorf("deactivate posting: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.NotFoundError("posting", id)
	}
	return nil
}

// GetProfile loads the profile of userID.
func (s *Postgres) GetProfile(ctx context.Context, userID string) (*model.Profile, error) {
	var (
		p           model.Profile
		skills      []byte
		preferences []byte
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, full_name, email, skills, experience, education, career_goals, preferences
		 FROM profiles WHERE user_id = $1`, userID,
	).Scan(&p.UserID, &p.FullName, &p.Email, &skills, &p.Experience, &p.Education, &p.CareerGoals, &preferences)
	if isMissing(err) {
		return nil, model.NotFoundError("profile", userID)
	}
	if err != nil {
		return nil, fmt.Errorf("get profile: %w", err)
	}
	if err := unmarshalOptional(skills, &p.Skills); err != nil {
		return nil, fmt.Errorf("decode skills: %w", err)
	}
	if err := unmarshalOptional(preferences, &p.Preferences); err != nil {
		return nil, fmt.Errorf("decode preferences: %w", err)
	}
	return &p, nil
}

const matchColumns = `id, user_id, posting_id, score, reasoning, skill_gaps, status, is_in_queue, calculated_at`

func scanMatch(row rowScanner) (*model.Match, error) {
	var (
		m    model.Match
		gaps []byte
	)
	if err := row.Scan(&m.ID, &m.UserID, &m.PostingID, &m.Score, &m.Reasoning, &gaps, &m.Status, &m.IsInQueue, &m.CalculatedAt); err != nil {
		return nil, err
	}
	if err := unmarshalOptional(gaps, &m.SkillGaps); err != nil {
		return nil, fmt.Errorf("decode skill gaps of %s: %w", m.ID, err)
	}
	if m.SkillGaps == nil {
		m.SkillGaps = []string{}
	}
	return &m, nil
}

// GetMatch loads a match by id.
func (s *Postgres) GetMatch(ctx context.Context, id string) (*model.Match, error) {
	m, err := scanMatch(s.db.QueryRowContext(ctx, `SELECT `+matchColumns+` FROM matches WHERE id = $1`, id))
	if isMissing(err) {
		return nil, model.NotFoundError("match", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get match: %w", err)
	}
	return m, nil
}

// FindMatch loads the match of a (user, posting) pair.
func (s *Postgres) FindMatch(ctx context.Context, userID, postingID string) (*model.Match, error) {
	m, err := scanMatch(s.db.QueryRowContext(ctx,
		`SELECT `+matchColumns+` FROM matches WHERE user_id = $1 AND posting_id = $2`, userID, postingID))
	if isMissing(err) {
		return nil, model.NotFoundError("match", userID+"/"+postingID)
	}
	if err != nil {
		return nil, fmt.Errorf("find match: %w", err)
	}
	return m, nil
}

// InsertMatch stores m; a concurrent writer of the same pair wins and its record is returned.
func (s *Postgres) InsertMatch(ctx context.Context, m *model.Match) (*model.Match, bool, error) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CalculatedAt.IsZero() {
		m.CalculatedAt = s.now()
	}
	if m.SkillGaps == nil {
		m.SkillGaps = []string{}
	}
	gaps, err := json.Marshal(m.SkillGaps)
	if err != nil {
		return nil, false, fmt.Errorf("encode skill gaps: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO matches (`+matchColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7, $8, $9)
		 ON CONFLICT (user_id, posting_id) DO NOTHING`,
		m.ID, m.UserID, m.PostingID, m.Score, m.Reasoning, string(gaps), m.Status, m.IsInQueue, m.CalculatedAt,
	)
	if err != nil {
		return nil, false, fmt.Errorf("insert match: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		existing, err := s.FindMatch(ctx, m.UserID, m.PostingID)
		if err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}
	return m, true, nil
}

// SetMatchReview records a human review decision.
func (s *Postgres) SetMatchReview(ctx context.Context, id string, status model.MatchStatus, inQueue bool) (*model.Match, error) {
	m, err := scanMatch(s.db.QueryRowContext(ctx,
		`UPDATE matches SET status = $1, is_in_queue = $2 WHERE id = $3 RETURNING `+matchColumns,
		status, inQueue, id))
	if isMissing(err) {
		return nil, model.NotFoundError("match", id)
	}
	if err != nil {
		return nil, fmt.Errorf("set match review: %w", err)
	}
	return m, nil
}

// ListMatches returns the user's matches scoring at least minScore, best first.
func (s *Postgres) ListMatches(ctx context.Context, userID string, minScore int) ([]*model.Match, error) {
	return s.queryMatches(ctx,
		`SELECT `+matchColumns+` FROM matches
		 WHERE user_id = $1 AND score >= $2 AND status <> 'Rejected'
		 ORDER BY score DESC, calculated_at`, userID, minScore)
}

// ListQueuedMatches returns the user's review queue.
func (s *Postgres) ListQueuedMatches(ctx context.Context, userID string) ([]*model.Match, error) {
	return s.queryMatches(ctx,
		`SELECT `+matchColumns+` FROM matches
		 WHERE user_id = $1 AND is_in_queue
		 ORDER BY score DESC, calculated_at`, userID)
}

// ListPendingMatches returns matches still awaiting a decision.
func (s *Postgres) ListPendingMatches(ctx context.Context, userID string) ([]*model.Match, error) {
	return s.queryMatches(ctx,
		`SELECT `+matchColumns+` FROM matches
		 WHERE user_id = $1 AND status = 'Pending'
		 ORDER BY score DESC, calculated_at`, userID)
}

func (s *Postgres) queryMatches(ctx context.Context, query string, args ...any) ([]*model.Match, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list matches query: %w", err)
	}
	defer rows.Close()

	matches := make([]*model.Match, 0)
	for rows.Next() {
		m, err := scanMatch(rows)
		if err != nil {
			return nil, fmt.Errorf("list matches scan: %w", err)
		}
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

// CountThrottleEvents counts a user's actions of one type in [from, to).
func (s *Postgres) CountThrottleEvents(ctx context.Context, userID string, action model.ActionType, from, to time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM throttle_events
		 WHERE user_id = $1 AND action_type = $2 AND occurred_at >= $3 AND occurred_at < $4`,
		userID, string(action), from, to,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count throttle events: %w", err)
	}
	return n, nil
}

// InsertThrottleEventBelow serialises writers of the same (user, action) with
// a transaction-scoped advisory lock, then counts and inserts.
func (s *Postgres) InsertThrottleEventBelow(ctx context.Context, ev *model.ThrottleEvent, ceiling int, from, to time.Time) (bool, error) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = s.now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin throttle tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`SELECT pg_advisory_xact_lock(hashtext($1))`, ev.UserID+":"+string(ev.ActionType)); err != nil {
		return false, fmt.Errorf("lock throttle ledger: %w", err)
	}

	var n int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM throttle_events
		 WHERE user_id = $1 AND action_type = $2 AND occurred_at >= $3 AND occurred_at < $4`,
		ev.UserID, string(ev.ActionType), from, to,
	).Scan(&n); err != nil {
		return false, fmt.Errorf("count throttle events: %w", err)
	}
	if n >= ceiling {
		return false, nil
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO throttle_events (id, user_id, action_type, platform, occurred_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		ev.ID, ev.UserID, string(ev.ActionType), ev.Platform, ev.Timestamp,
	); err != nil {
		return false, fmt.Errorf("insert throttle event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit throttle tx: %w", err)
	}
	return true, nil
}

// DeleteThrottleEvent removes one ledger entry by id.
func (s *Postgres) DeleteThrottleEvent(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM throttle_events WHERE id = $1`, id)
	if isMissing(err) {
		return model.NotFoundError("throttle event", id)
	}
	if err != nil {
		return fmt.Errorf("delete throttle event: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.NotFoundError("throttle event", id)
	}
	return nil
}

const applicationColumns = `id, user_id, match_id, status, sent_at, created_at, updated_at`

func scanApplication(row rowScanner) (*model.Application, error) {
	var a model.Application
	if err := row.Scan(&a.ID, &a.UserID, &a.MatchID, &a.Status, &a.SentAt, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	return &a, nil
}

// CreateApplication inserts app together with its first audit entry.
func (s *Postgres) CreateApplication(ctx context.Context, app *model.Application, entry *model.AuditEntry) error {
	now := s.now()
	if app.ID == "" {
		app.ID = uuid.NewString()
	}
	if app.CreatedAt.IsZero() {
		app.CreatedAt = now
	}
	app.UpdatedAt = app.CreatedAt

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin application tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO applications (`+applicationColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		app.ID, app.UserID, app.MatchID, string(app.Status), app.SentAt, app.CreatedAt, app.UpdatedAt,
	); err != nil {
		return fmt.Errorf("insert application: %w", err)
	}

	if entry != nil {
		entry.ApplicationID = app.ID
		if err := insertAudit(ctx, tx, entry, now); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit application tx: %w", err)
	}
	return nil
}

// GetApplication loads an application by id.
func (s *Postgres) GetApplication(ctx context.Context, id string) (*model.Application, error) {
	a, err := scanApplication(s.db.QueryRowContext(ctx,
		`SELECT `+applicationColumns+` FROM applications WHERE id = $1`, id))
	if isMissing(err) {
		return nil, model.NotFoundError("application", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get application: %w", err)
	}
	return a, nil
}

// GetApplicationByMatch loads the application created for matchID.
func (s *Postgres) GetApplicationByMatch(ctx context.Context, matchID string) (*model.Application, error) {
	a, err := scanApplication(s.db.QueryRowContext(ctx,
		`SELECT `+applicationColumns+` FROM applications WHERE match_id = $1`, matchID))
	if isMissing(err) {
		return nil, model.NotFoundError("application for match", matchID)
	}
	if err != nil {
		return nil, fmt.Errorf("get application by match: %w", err)
	}
	return a, nil
}

// TransitionApplication is a compare-and-set on status plus an audit append.
func (s *Postgres) TransitionApplication(ctx context.Context, id string, from, to model.ApplicationStatus, sentAt *time.Time, entry *model.AuditEntry) (*model.Application, error) {
	now := s.now()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transition tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	app, err := scanApplication(tx.QueryRowContext(ctx,
		`UPDATE applications
		 SET status = $1, sent_at = COALESCE($2, sent_at), updated_at = $3
		 WHERE id = $4 AND status = $5
		 RETURNING `+applicationColumns,
		string(to), sentAt, now, id, string(from)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("application %s: %w", id, ErrStaleStatus)
	}
	if err != nil {
		return nil, fmt.Errorf("update application status: %w", err)
	}

	if entry != nil {
		entry.ApplicationID = id
		if err := insertAudit(ctx, tx, entry, now); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transition tx: %w", err)
	}
	return app, nil
}

// AppendAudit writes a standalone audit entry.
func (s *Postgres) AppendAudit(ctx context.Context, entry *model.AuditEntry) error {
	return insertAudit(ctx, s.db, entry, s.now())
}

// ListAudit returns the audit trail of an application, oldest first.
func (s *Postgres) ListAudit(ctx context.Context, applicationID string) ([]*model.AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, application_id, action, from_status, to_status, notes, at
		 FROM audit_log WHERE application_id = $1 ORDER BY at, id`, applicationID)
	if err != nil {
		return nil, fmt.Errorf("list audit query: %w", err)
	}
	defer rows.Close()

	entries := make([]*model.AuditEntry, 0)
	for rows.Next() {
		var (
			e        model.AuditEntry
			from, to string
		)
		if err := rows.Scan(&e.ID, &e.ApplicationID, &e.Action, &from, &to, &e.Notes, &e.At); err != nil {
			return nil, fmt.Errorf("list audit scan: %w", err)
		}
		e.From, e.To = model.ApplicationStatus(from), model.ApplicationStatus(to)
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertAudit(ctx context.Context, db execer, entry *model.AuditEntry, now time.Time) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.At.IsZero() {
		entry.At = now
	}
	if _, err := db.ExecContext(ctx,
		`INSERT INTO audit_log (id, application_id, action, from_status, to_status, notes, at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		entry.ID, entry.ApplicationID, entry.Action, string(entry.From), string(entry.To), entry.Notes, entry.At,
	); err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

func unmarshalOptional(raw []byte, dst any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, dst)
}

// isMissing reports a lookup that found no row. An id that is not a valid
// uuid (22P02) cannot name a row either.
func isMissing(err error) bool {
	if errors.Is(err, sql.ErrNoRows) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "22P02"
}
