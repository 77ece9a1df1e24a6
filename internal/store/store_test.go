package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/monetize-consult/server/internal/grammar"
)

func newTestStore(t *testing.T) *SQLStore {
	t.Helper()
	codec, err := NewAESCodec(testKey())
	require.NoError(t, err)
	s, err := Open(":memory:", codec)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func strp(s string) *string { return &s }

func TestSessionLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	sess := &Session{IP: "203.0.113.7", UserAgent: "test", Mode: ModeChat, UserID: strp("user-1")}
	require.NoError(t, s.CreateSession(ctx, sess))
	require.NotEmpty(t, sess.ID)

	got, err := s.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, ModeChat, got.Mode)
	assert.Equal(t, "203.0.113.7", got.IP)
	require.NotNil(t, got.UserID)
	assert.Equal(t, "user-1", *got.UserID)

	require.NoError(t, s.TouchSession(ctx, sess.ID))

	_, err = s.GetSession(ctx, "not-a-uuid")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetSession(ctx, "00000000-0000-0000-0000-000000000000")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.TouchSession(ctx, "00000000-0000-0000-0000-000000000000"), ErrNotFound)
}

func TestMessagesAreEncryptedAtRest(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	sess := &Session{Mode: ModeChat}
	require.NoError(t, s.CreateSession(ctx, sess))

	base := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	require.NoError(t, s.CreateMessage(ctx, &Message{SessionID: sess.ID, Role: RoleUser, Content: "こんにちは", CreatedAt: base}))
	require.NoError(t, s.CreateMessage(ctx, &Message{SessionID: sess.ID, Role: RoleAssistant, Content: "ようこそ", CreatedAt: base.Add(time.Second)}))

	var raw string
	require.NoError(t, s.db.QueryRow("SELECT content FROM messages WHERE role = 'user'").Scan(&raw))
	assert.NotEqual(t, "こんにちは", raw)

	msgs, err := s.ListMessages(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, RoleUser, msgs[0].Role)
	assert.Equal(t, "こんにちは", msgs[0].Content)
	assert.Equal(t, RoleAssistant, msgs[1].Role)
	assert.Equal(t, "ようこそ", msgs[1].Content)
}

func TestGetSessionMessages_OwnerOnly(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	owned := &Session{Mode: ModeChat, UserID: strp("alice")}
	require.NoError(t, s.CreateSession(ctx, owned))
	require.NoError(t, s.CreateMessage(ctx, &Message{SessionID: owned.ID, Role: RoleUser, Content: "hi"}))
	anon := &Session{Mode: ModeChat}
	require.NoError(t, s.CreateSession(ctx, anon))

	msgs, err := s.GetSessionMessages(ctx, owned.ID, "alice")
	require.NoError(t, err)
	assert.Len(t, msgs, 1)

	_, err = s.GetSessionMessages(ctx, owned.ID, "mallory")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetSessionMessages(ctx, anon.ID, "alice")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListUserSessions(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	first := &Session{Mode: ModeChat, UserID: strp("alice")}
	require.NoError(t, s.CreateSession(ctx, first))
	require.NoError(t, s.CreateMessage(ctx, &Message{SessionID: first.ID, Role: RoleUser, Content: "最初の質問"}))
	require.NoError(t, s.CreateMessage(ctx, &Message{SessionID: first.ID, Role: RoleAssistant, Content: "回答"}))
	require.NoError(t, s.CreateSession(ctx, &Session{Mode: ModeChat, UserID: strp("bob")}))

	sessions, err := s.ListUserSessions(ctx, "alice", 5, 0)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, first.ID, sessions[0].ID)
	assert.Equal(t, 2, sessions[0].MessageCount)
	require.NotNil(t, sessions[0].FirstMessage)
	assert.Equal(t, "最初の質問", *sessions[0].FirstMessage)
}

func TestEvaluations(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	sess := &Session{Mode: ModeEvaluate, UserID: strp("alice")}
	require.NoError(t, s.CreateSession(ctx, sess))

	text := "【総合スコア: 85/100】【売り物: 18/20】"
	ev := &Evaluation{SessionID: sess.ID, PlanText: "カフェの事業計画", Scores: grammar.ParseScores(text), FullResponse: text}
	require.NoError(t, s.CreateEvaluation(ctx, ev))

	list, err := s.ListUserEvaluations(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "カフェの事業計画", list[0].PlanText)
	require.NotNil(t, list[0].Scores.Total)
	assert.Equal(t, 85, *list[0].Scores.Total)
	assert.Nil(t, list[0].Scores.Pricing)

	scores, err := s.RecentEvaluationScores(ctx, time.Now().Add(-time.Hour), 50)
	require.NoError(t, err)
	require.Len(t, scores, 1)
	assert.Equal(t, 18, *scores[0].Product)
}

func TestCreateShareToken_Idempotent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	sess := &Session{Mode: ModeChat}
	require.NoError(t, s.CreateSession(ctx, sess))

	a, err := s.CreateShareToken(ctx, sess.ID, strp("alice"))
	require.NoError(t, err)
	assert.Len(t, a.Token, 32)
	assert.NotContains(t, a.Token, "-")

	b, err := s.CreateShareToken(ctx, sess.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, a.Token, b.Token)

	got, err := s.GetShareToken(ctx, a.Token)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, got.SessionID)

	_, err = s.GetShareToken(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateFeedback(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	fb := &Feedback{Category: FeedbackBug, Content: "ボタンが動かない"}
	require.NoError(t, s.CreateFeedback(ctx, fb))
	assert.NotEmpty(t, fb.ID)

	var raw string
	require.NoError(t, s.db.QueryRow("SELECT content FROM feedbacks WHERE id = ?", fb.ID).Scan(&raw))
	plain, err := s.codec.Decrypt(raw)
	require.NoError(t, err)
	assert.Equal(t, "ボタンが動かない", plain)
}

func TestWeeklyReportingQueries(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	since := time.Now().UTC().Add(-7 * 24 * time.Hour)

	alice1 := &Session{IP: "10.0.0.1", Mode: ModeChat, UserID: strp("alice")}
	alice2 := &Session{IP: "10.0.0.1", Mode: ModeEvaluate, UserID: strp("alice")}
	anon := &Session{IP: "10.0.0.2", Mode: ModeChat}
	for _, sess := range []*Session{alice1, alice2, anon} {
		require.NoError(t, s.CreateSession(ctx, sess))
	}
	require.NoError(t, s.CreateMessage(ctx, &Message{SessionID: alice1.ID, Role: RoleUser, Content: "あいう"}))
	require.NoError(t, s.CreateMessage(ctx, &Message{SessionID: alice1.ID, Role: RoleAssistant, Content: "abcde"}))
	require.NoError(t, s.CreateMessage(ctx, &Message{SessionID: anon.ID, Role: RoleUser, Content: "x"}))

	stats, err := s.SessionStats(ctx, since)
	require.NoError(t, err)
	assert.Equal(t, SessionStats{TotalSessions: 3, LoggedInUsers: 1, UniqueIPs: 2, ChatSessions: 2, EvalSessions: 1}, stats)

	returning, err := s.ReturningUsers(ctx, since)
	require.NoError(t, err)
	assert.Equal(t, 1, returning)

	avg, err := s.AvgMessagesPerSession(ctx, since)
	require.NoError(t, err)
	assert.Equal(t, 1.0, avg)

	msgs, err := s.RecentMessages(ctx, since, 500)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, 3, msgs[0].Length)
	assert.Equal(t, ModeChat, msgs[0].Mode)

	faq, err := s.LatestFAQAdditions(ctx)
	require.NoError(t, err)
	assert.Empty(t, faq)

	require.NoError(t, s.CreateInsight(ctx, &WeeklyInsight{
		WeekStart:    time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
		Analysis:     "## 1. サマリー",
		FAQAdditions: strp("Q: a\nA: b"),
		AutoApplied:  true,
		UserStats:    UserStats{TotalSessions: 3},
	}))

	faq, err = s.LatestFAQAdditions(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Q: a\nA: b", faq)
}

func TestRebind(t *testing.T) {
	q := "SELECT * FROM t WHERE a = ? AND b = ?"
	assert.Equal(t, q, dialectSQLite.rebind(q))
	assert.Equal(t, "SELECT * FROM t WHERE a = $1 AND b = $2", dialectPostgres.rebind(q))
}

func TestReadsHonourQueryTimeout(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	sess := &Session{Mode: ModeChat}
	require.NoError(t, s.CreateSession(ctx, sess))

	// A non-positive timeout yields an already expired deadline.
	prev := queryTimeout
	queryTimeout = -time.Second
	t.Cleanup(func() { queryTimeout = prev })

	_, err := s.GetSession(ctx, sess.ID)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotErrorIs(t, err, ErrNotFound)

	_, err = s.ListMessages(ctx, sess.ID)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
