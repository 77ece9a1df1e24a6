package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/monetize-consult/server/internal/store"
)

const (
	subjectSuffix = " - マネタイズ相談"
	// PlanExcerptChars is how much of the plan a high-score email quotes.
	PlanExcerptChars = 500
)

var jst = time.FixedZone("JST", 9*60*60)

var categoryLabels = map[store.FeedbackCategory]string{
	store.FeedbackBug:         "バグ報告",
	store.FeedbackImprovement: "改善要望",
	store.FeedbackOther:       "その他",
}

// Sender identifies who submitted feedback. Both fields may be empty.
type Sender struct {
	Name  string
	Email string
}

func (s Sender) label() string {
	if s.Name == "" {
		return "未ログイン"
	}
	if s.Email != "" {
		return fmt.Sprintf("%s (%s)", s.Name, s.Email)
	}
	return s.Name
}

// Notifier formats operator notifications and hands them to a Mailer.
type Notifier struct {
	mailer Mailer
}

func NewNotifier(m Mailer) *Notifier {
	return &Notifier{mailer: m}
}

func (n *Notifier) HighScore(ctx context.Context, score int, plan, evaluation string) error {
	subject := fmt.Sprintf("【スコア%d点】事業計画評価通知%s", score, subjectSuffix)
	text := fmt.Sprintf("スコア%d/100の事業計画が提出されました。\n\n"+
		"── 事業計画（冒頭500文字）──\n%s\n\n"+
		"── 評価内容 ──\n%s", score, excerpt(plan, PlanExcerptChars), evaluation)
	return n.mailer.Send(ctx, subject, text)
}

func (n *Notifier) Feedback(ctx context.Context, category store.FeedbackCategory, content string, from Sender, at time.Time) error {
	label := categoryLabels[category]
	subject := fmt.Sprintf("【フィードバック】%s%s", label, subjectSuffix)
	text := fmt.Sprintf("カテゴリ: %s\n\n内容:\n%s\n\n───────────\nユーザー: %s\n日時: %s",
		label, content, from.label(), at.In(jst).Format("2006/1/2 15:04:05"))
	return n.mailer.Send(ctx, subject, text)
}

func (n *Notifier) WeeklyReport(ctx context.Context, weekStart time.Time, stats store.UserStats, analysis string) error {
	subject := fmt.Sprintf("【週次レポート】マネタイズ相談 分析レポート - %s", weekStart.Format(time.DateOnly))
	var b strings.Builder
	b.WriteString("週次分析レポート\n\n📊 統計サマリ\n")
	fmt.Fprintf(&b, "- 総セッション: %d（チャット: %d、評価: %d）\n", stats.TotalSessions, stats.ChatSessions, stats.EvalSessions)
	fmt.Fprintf(&b, "- ログインユーザー: %d\n", stats.LoggedInUsers)
	fmt.Fprintf(&b, "- リピーター: %d\n", stats.ReturningUsers)
	fmt.Fprintf(&b, "- 平均メッセージ数/セッション: %.1f\n\n", stats.AvgMessagesPerSession)
	b.WriteString(analysis)
	return n.mailer.Send(ctx, subject, b.String())
}

func excerpt(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
