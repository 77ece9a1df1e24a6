package notify

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/monetize-consult/server/internal/store"
)

type sentMail struct {
	subject, text string
}

type recordingMailer struct {
	sent []sentMail
}

func (m *recordingMailer) Send(_ context.Context, subject, text string) error {
	m.sent = append(m.sent, sentMail{subject, text})
	return nil
}

func TestHighScore(t *testing.T) {
	m := &recordingMailer{}
	n := NewNotifier(m)

	plan := strings.Repeat("計", 800)
	require.NoError(t, n.HighScore(context.Background(), 85, plan, "【総合スコア: 85/100】"))

	require.Len(t, m.sent, 1)
	assert.Equal(t, "【スコア85点】事業計画評価通知 - マネタイズ相談", m.sent[0].subject)
	assert.Contains(t, m.sent[0].text, strings.Repeat("計", 500)+"\n\n── 評価内容 ──")
	assert.NotContains(t, m.sent[0].text, strings.Repeat("計", 501))
	assert.True(t, strings.HasSuffix(m.sent[0].text, "【総合スコア: 85/100】"))
}

func TestFeedback(t *testing.T) {
	m := &recordingMailer{}
	n := NewNotifier(m)
	at := time.Date(2026, 3, 2, 1, 30, 0, 0, time.UTC)

	require.NoError(t, n.Feedback(context.Background(), store.FeedbackImprovement, "ダークモード希望", Sender{}, at))
	require.NoError(t, n.Feedback(context.Background(), store.FeedbackBug, "落ちる", Sender{Name: "Taro", Email: "taro@example.com"}, at))

	require.Len(t, m.sent, 2)
	assert.Equal(t, "【フィードバック】改善要望 - マネタイズ相談", m.sent[0].subject)
	assert.Contains(t, m.sent[0].text, "ユーザー: 未ログイン")
	assert.Contains(t, m.sent[0].text, "日時: 2026/3/2 10:30:00")
	assert.Equal(t, "【フィードバック】バグ報告 - マネタイズ相談", m.sent[1].subject)
	assert.Contains(t, m.sent[1].text, "ユーザー: Taro (taro@example.com)")
}

func TestWeeklyReport(t *testing.T) {
	m := &recordingMailer{}
	n := NewNotifier(m)

	stats := store.UserStats{TotalSessions: 12, ChatSessions: 9, EvalSessions: 3, LoggedInUsers: 4, ReturningUsers: 2, AvgMessagesPerSession: 3.5}
	require.NoError(t, n.WeeklyReport(context.Background(), time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC), stats, "## 1. サマリー"))

	require.Len(t, m.sent, 1)
	assert.Equal(t, "【週次レポート】マネタイズ相談 分析レポート - 2026-03-02", m.sent[0].subject)
	assert.Contains(t, m.sent[0].text, "- 総セッション: 12（チャット: 9、評価: 3）")
	assert.Contains(t, m.sent[0].text, "- 平均メッセージ数/セッション: 3.5")
	assert.True(t, strings.HasSuffix(m.sent[0].text, "## 1. サマリー"))
}

func TestDisabledMailer(t *testing.T) {
	assert.NoError(t, NewDisabledMailer(zap.NewNop()).Send(context.Background(), "s", "t"))
}
