package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	_ "github.com/lib/pq"           // Postgres driver
	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/monetize-consult/server/internal/grammar"
)

// ErrNotFound is returned when a row addressed by id does not exist or is not
// visible to the caller.
var ErrNotFound = errors.New("store: not found")

var queryTimeout = 5 * time.Second

type SQLStore struct {
	db      *sql.DB
	dialect dialect
	codec   Codec
	now     func() time.Time
}

// Open picks the driver from the URL: postgres:// and postgresql:// go to
// lib/pq, anything else is treated as a SQLite data source.
func Open(databaseURL string, codec Codec) (*SQLStore, error) {
	if strings.HasPrefix(databaseURL, "postgres://") || strings.HasPrefix(databaseURL, "postgresql://") {
		return newSQLStore("postgres", databaseURL, dialectPostgres, codec)
	}
	return newSQLStore("sqlite3", databaseURL, dialectSQLite, codec)
}

func newSQLStore(driver, dataSourceName string, d dialect, codec Codec) (*SQLStore, error) {
	db, err := sql.Open(driver, dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if d == dialectSQLite {
		// One connection keeps :memory: databases coherent and serialises writers.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(2)
		db.SetConnMaxIdleTime(5 * time.Minute)
		db.SetConnMaxLifetime(30 * time.Minute)
	}

	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()
	if err = db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &SQLStore{db: db, dialect: d, codec: codec, now: func() time.Time { return time.Now().UTC() }}
	if err = s.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) initSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, s.dialect.schema())
	return err
}

func (s *SQLStore) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	return s.db.ExecContext(ctx, s.dialect.rebind(query), args...)
}

// timedRow holds the query deadline until the row is scanned.
type timedRow struct {
	*sql.Row
	cancel context.CancelFunc
}

func (r *timedRow) Scan(dest ...any) error {
	defer r.cancel()
	return r.Row.Scan(dest...)
}

// timedRows holds the query deadline until the rows are closed.
type timedRows struct {
	*sql.Rows
	cancel context.CancelFunc
}

func (r *timedRows) Close() error {
	defer r.cancel()
	return r.Rows.Close()
}

func (s *SQLStore) queryRow(ctx context.Context, query string, args ...any) *timedRow {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	return &timedRow{Row: s.db.QueryRowContext(ctx, s.dialect.rebind(query), args...), cancel: cancel}
}

func (s *SQLStore) query(ctx context.Context, query string, args ...any) (*timedRows, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(query), args...)
	if err != nil {
		cancel()
		return nil, err
	}
	return &timedRows{Rows: rows, cancel: cancel}, nil
}

// Session methods
func (s *SQLStore) CreateSession(ctx context.Context, sess *Session) error {
	sess.ID = uuid.NewString()
	sess.CreatedAt = s.now()
	sess.UpdatedAt = sess.CreatedAt

	_, err := s.exec(ctx,
		"INSERT INTO sessions (id, ip, user_agent, mode, user_id, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)",
		sess.ID, nullString(sess.IP), nullString(sess.UserAgent), string(sess.Mode), sess.UserID, sess.CreatedAt, sess.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}
	return nil
}

func (s *SQLStore) GetSession(ctx context.Context, id string) (*Session, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}
	var (
		sess   Session
		ip, ua sql.NullString
		userID sql.NullString
		mode   string
	)
	err := s.queryRow(ctx,
		"SELECT id, ip, user_agent, mode, user_id, created_at, updated_at FROM sessions WHERE id = ?", id).
		Scan(&sess.ID, &ip, &ua, &mode, &userID, &sess.CreatedAt, &sess.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	sess.IP = ip.String
	sess.UserAgent = ua.String
	sess.Mode = Mode(mode)
	sess.UserID = stringPtr(userID)
	return &sess, nil
}

func (s *SQLStore) TouchSession(ctx context.Context, id string) error {
	res, err := s.exec(ctx, "UPDATE sessions SET updated_at = ? WHERE id = ?", s.now(), id)
	if err != nil {
		return fmt.Errorf("failed to touch session: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return fmt.Errorf("touch session %s: %w", id, ErrNotFound)
	}
	return nil
}

// ListUserSessions returns the user's sessions, newest first, with the number
// of messages and the first user message of each.
func (s *SQLStore) ListUserSessions(ctx context.Context, userID string, limit, offset int) ([]SessionSummary, error) {
	rows, err := s.query(ctx, `
        SELECT
            s.id, s.mode, s.created_at, s.updated_at,
            (SELECT COUNT(*) FROM messages m WHERE m.session_id = s.id) AS message_count,
            (SELECT content FROM messages m WHERE m.session_id = s.id AND m.role = 'user'
                ORDER BY m.created_at ASC LIMIT 1) AS first_message
        FROM sessions s
        WHERE s.user_id = ?
        ORDER BY s.created_at DESC
        LIMIT ? OFFSET ?
    `, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []SessionSummary
	for rows.Next() {
		var (
			sum   SessionSummary
			mode  string
			first sql.NullString
		)
		if err := rows.Scan(&sum.ID, &mode, &sum.CreatedAt, &sum.UpdatedAt, &sum.MessageCount, &first); err != nil {
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}
		sum.Mode = Mode(mode)
		if first.Valid {
			content, err := s.codec.Decrypt(first.String)
			if err != nil {
				return nil, fmt.Errorf("decrypt first message of session %s: %w", sum.ID, err)
			}
			sum.FirstMessage = &content
		}
		sessions = append(sessions, sum)
	}
	return sessions, rows.Err()
}

// Message methods
func (s *SQLStore) CreateMessage(ctx context.Context, msg *Message) error {
	msg.ID = uuid.NewString()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = s.now()
	}
	content, err := s.codec.Encrypt(msg.Content)
	if err != nil {
		return fmt.Errorf("failed to encrypt message: %w", err)
	}

	_, err = s.exec(ctx,
		"INSERT INTO messages (id, session_id, role, content, created_at) VALUES (?, ?, ?, ?, ?)",
		msg.ID, msg.SessionID, string(msg.Role), content, msg.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to execute message insert: %w", err)
	}
	return nil
}

// ListMessages returns every message of a session in creation order.
func (s *SQLStore) ListMessages(ctx context.Context, sessionID string) ([]Message, error) {
	rows, err := s.query(ctx,
		"SELECT id, session_id, role, content, created_at FROM messages WHERE session_id = ? ORDER BY created_at ASC",
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()
	return s.scanMessages(rows)
}

// GetSessionMessages is ListMessages restricted to the session's owner.
func (s *SQLStore) GetSessionMessages(ctx context.Context, sessionID, userID string) ([]Message, error) {
	sess, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.UserID == nil || *sess.UserID != userID {
		return nil, ErrNotFound
	}
	return s.ListMessages(ctx, sessionID)
}

func (s *SQLStore) scanMessages(rows *timedRows) ([]Message, error) {
	messages := []Message{}
	for rows.Next() {
		var (
			msg  Message
			role string
		)
		if err := rows.Scan(&msg.ID, &msg.SessionID, &role, &msg.Content, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		msg.Role = Role(role)
		content, err := s.codec.Decrypt(msg.Content)
		if err != nil {
			return nil, fmt.Errorf("decrypt message %s: %w", msg.ID, err)
		}
		msg.Content = content
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// Evaluation methods
func (s *SQLStore) CreateEvaluation(ctx context.Context, ev *Evaluation) error {
	ev.ID = uuid.NewString()
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = s.now()
	}
	plan, err := s.codec.Encrypt(ev.PlanText)
	if err != nil {
		return fmt.Errorf("failed to encrypt plan text: %w", err)
	}
	full, err := s.codec.Encrypt(ev.FullResponse)
	if err != nil {
		return fmt.Errorf("failed to encrypt evaluation: %w", err)
	}

	sc := ev.Scores
	_, err = s.exec(ctx, `
        INSERT INTO evaluations (
            id, session_id, plan_text, score_total,
            score_product, score_pricing, score_sales,
            score_scale, score_finance, full_response, created_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.SessionID, plan, sc.Total,
		sc.Product, sc.Pricing, sc.Sales,
		sc.Scale, sc.Finance, full, ev.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to execute evaluation insert: %w", err)
	}
	return nil
}

func (s *SQLStore) ListUserEvaluations(ctx context.Context, userID string) ([]Evaluation, error) {
	rows, err := s.query(ctx, `
        SELECT
            e.id, e.session_id, e.plan_text, e.score_total,
            e.score_product, e.score_pricing, e.score_sales,
            e.score_scale, e.score_finance, e.created_at
        FROM evaluations e
        JOIN sessions s ON s.id = e.session_id
        WHERE s.user_id = ?
        ORDER BY e.created_at DESC
    `, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query evaluations: %w", err)
	}
	defer rows.Close()

	evaluations := []Evaluation{}
	for rows.Next() {
		var (
			ev   Evaluation
			plan sql.NullString
			sc   scoreColumns
		)
		t := sc.targets()
		if err := rows.Scan(&ev.ID, &ev.SessionID, &plan, t[0], t[1], t[2], t[3], t[4], t[5], &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan evaluation row: %w", err)
		}
		ev.Scores = sc.scores()
		if ev.PlanText, err = s.codec.Decrypt(plan.String); err != nil {
			return nil, fmt.Errorf("decrypt plan of evaluation %s: %w", ev.ID, err)
		}
		evaluations = append(evaluations, ev)
	}
	return evaluations, rows.Err()
}

// Feedback methods
func (s *SQLStore) CreateFeedback(ctx context.Context, fb *Feedback) error {
	fb.ID = uuid.NewString()
	fb.CreatedAt = s.now()
	content, err := s.codec.Encrypt(fb.Content)
	if err != nil {
		return fmt.Errorf("failed to encrypt feedback: %w", err)
	}
	_, err = s.exec(ctx,
		"INSERT INTO feedbacks (id, category, content, user_id, session_id, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		fb.ID, string(fb.Category), content, fb.UserID, fb.SessionID, fb.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to execute feedback insert: %w", err)
	}
	return nil
}

// Share token methods

// CreateShareToken returns the session's existing token, minting one only
// when none exists. The unique index on session_id settles concurrent callers.
func (s *SQLStore) CreateShareToken(ctx context.Context, sessionID string, createdBy *string) (*ShareToken, error) {
	existing, err := s.shareTokenBySession(ctx, sessionID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	tok := &ShareToken{
		Token:     strings.ReplaceAll(uuid.NewString(), "-", ""),
		SessionID: sessionID,
		CreatedBy: createdBy,
		CreatedAt: s.now(),
	}
	_, insertErr := s.exec(ctx,
		"INSERT INTO share_tokens (token, session_id, created_by, created_at) VALUES (?, ?, ?, ?)",
		tok.Token, tok.SessionID, tok.CreatedBy, tok.CreatedAt)
	if insertErr == nil {
		return tok, nil
	}
	if existing, err := s.shareTokenBySession(ctx, sessionID); err == nil {
		return existing, nil
	}
	return nil, fmt.Errorf("failed to insert share token: %w", insertErr)
}

func (s *SQLStore) GetShareToken(ctx context.Context, token string) (*ShareToken, error) {
	return s.scanShareToken(s.queryRow(ctx,
		"SELECT token, session_id, created_by, created_at FROM share_tokens WHERE token = ?", token))
}

func (s *SQLStore) shareTokenBySession(ctx context.Context, sessionID string) (*ShareToken, error) {
	return s.scanShareToken(s.queryRow(ctx,
		"SELECT token, session_id, created_by, created_at FROM share_tokens WHERE session_id = ?", sessionID))
}

func (s *SQLStore) scanShareToken(row *timedRow) (*ShareToken, error) {
	var (
		tok       ShareToken
		createdBy sql.NullString
	)
	if err := row.Scan(&tok.Token, &tok.SessionID, &createdBy, &tok.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get share token: %w", err)
	}
	tok.CreatedBy = stringPtr(createdBy)
	return &tok, nil
}

// Insight methods
func (s *SQLStore) CreateInsight(ctx context.Context, in *WeeklyInsight) error {
	in.ID = uuid.NewString()
	in.CreatedAt = s.now()
	stats, err := json.Marshal(in.UserStats)
	if err != nil {
		return fmt.Errorf("failed to marshal user stats: %w", err)
	}
	_, err = s.exec(ctx, `
        INSERT INTO insights (
            id, week_start, analysis, faq_additions,
            prompt_suggestions, knowledge_gaps, auto_applied, user_stats, created_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		in.ID, in.WeekStart, in.Analysis, in.FAQAdditions,
		in.PromptSuggestions, in.KnowledgeGaps, in.AutoApplied, string(stats), in.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to execute insight insert: %w", err)
	}
	return nil
}

// LatestFAQAdditions returns the FAQ block of the most recent auto-applied
// insight, or "" when there is none.
func (s *SQLStore) LatestFAQAdditions(ctx context.Context) (string, error) {
	var faq sql.NullString
	err := s.queryRow(ctx, `
        SELECT faq_additions FROM insights
        WHERE auto_applied = ? AND faq_additions IS NOT NULL
        ORDER BY created_at DESC
        LIMIT 1
    `, true).Scan(&faq)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("failed to get latest faq additions: %w", err)
	}
	return faq.String, nil
}

// Reporting queries used by the weekly analysis.

// RecentMessages describes up to limit messages created since the given time,
// oldest first. Only the length of each message leaves the store.
func (s *SQLStore) RecentMessages(ctx context.Context, since time.Time, limit int) ([]ActivityMessage, error) {
	rows, err := s.query(ctx, `
        SELECT m.role, m.content, s.mode, m.created_at
        FROM messages m
        JOIN sessions s ON s.id = m.session_id
        WHERE m.created_at >= ?
        ORDER BY m.created_at ASC
        LIMIT ?
    `, since.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent messages: %w", err)
	}
	defer rows.Close()

	var out []ActivityMessage
	for rows.Next() {
		var (
			am                  ActivityMessage
			role, content, mode string
		)
		if err := rows.Scan(&role, &content, &mode, &am.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan recent message: %w", err)
		}
		plain, err := s.codec.Decrypt(content)
		if err != nil {
			return nil, fmt.Errorf("decrypt recent message: %w", err)
		}
		am.Role = Role(role)
		am.Mode = Mode(mode)
		am.Length = utf8.RuneCountInString(plain)
		out = append(out, am)
	}
	return out, rows.Err()
}

// RecentEvaluationScores returns the scores of evaluations created since the
// given time, oldest first.
func (s *SQLStore) RecentEvaluationScores(ctx context.Context, since time.Time, limit int) ([]grammar.Scores, error) {
	rows, err := s.query(ctx, `
        SELECT score_total, score_product, score_pricing, score_sales, score_scale, score_finance
        FROM evaluations
        WHERE created_at >= ?
        ORDER BY created_at ASC
        LIMIT ?
    `, since.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent evaluations: %w", err)
	}
	defer rows.Close()

	var out []grammar.Scores
	for rows.Next() {
		var sc scoreColumns
		t := sc.targets()
		if err := rows.Scan(t[0], t[1], t[2], t[3], t[4], t[5]); err != nil {
			return nil, fmt.Errorf("failed to scan recent evaluation: %w", err)
		}
		out = append(out, sc.scores())
	}
	return out, rows.Err()
}

func (s *SQLStore) SessionStats(ctx context.Context, since time.Time) (SessionStats, error) {
	var st SessionStats
	err := s.queryRow(ctx, `
        SELECT
            COUNT(DISTINCT s.id),
            COUNT(DISTINCT s.user_id),
            COUNT(DISTINCT s.ip),
            COUNT(DISTINCT CASE WHEN s.mode = 'chat' THEN s.id END),
            COUNT(DISTINCT CASE WHEN s.mode = 'evaluate' THEN s.id END)
        FROM sessions s
        WHERE s.created_at >= ?
    `, since.UTC()).Scan(&st.TotalSessions, &st.LoggedInUsers, &st.UniqueIPs, &st.ChatSessions, &st.EvalSessions)
	if err != nil {
		return st, fmt.Errorf("failed to query session stats: %w", err)
	}
	return st, nil
}

// ReturningUsers counts signed-in users with more than one session in the window.
func (s *SQLStore) ReturningUsers(ctx context.Context, since time.Time) (int, error) {
	var n int
	err := s.queryRow(ctx, `
        SELECT COUNT(*) FROM (
            SELECT s.user_id
            FROM sessions s
            WHERE s.created_at >= ? AND s.user_id IS NOT NULL
            GROUP BY s.user_id
            HAVING COUNT(s.id) > 1
        ) returning_users
    `, since.UTC()).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to query returning users: %w", err)
	}
	return n, nil
}

// AvgMessagesPerSession is rounded to one decimal place.
func (s *SQLStore) AvgMessagesPerSession(ctx context.Context, since time.Time) (float64, error) {
	rows, err := s.query(ctx, `
        SELECT COUNT(m.id)
        FROM sessions s
        LEFT JOIN messages m ON m.session_id = s.id
        WHERE s.created_at >= ?
        GROUP BY s.id
    `, since.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to query messages per session: %w", err)
	}
	defer rows.Close()

	var sessions, total int
	for rows.Next() {
		var n int
		if err := rows.Scan(&n); err != nil {
			return 0, fmt.Errorf("failed to scan message count: %w", err)
		}
		sessions++
		total += n
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}
	if sessions == 0 {
		return 0, nil
	}
	avg := float64(total) / float64(sessions)
	return float64(int(avg*10+0.5)) / 10, nil
}

type scoreColumns [6]sql.NullInt64

func (c *scoreColumns) targets() [6]any {
	return [6]any{&c[0], &c[1], &c[2], &c[3], &c[4], &c[5]}
}

func (c *scoreColumns) scores() grammar.Scores {
	return grammar.Scores{
		Total:   intPtr(c[0]),
		Product: intPtr(c[1]),
		Pricing: intPtr(c[2]),
		Sales:   intPtr(c[3]),
		Scale:   intPtr(c[4]),
		Finance: intPtr(c[5]),
	}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func intPtr(ni sql.NullInt64) *int {
	if !ni.Valid {
		return nil
	}
	v := int(ni.Int64)
	return &v
}
