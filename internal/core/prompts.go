package core

import (
	"fmt"
	"strings"

	"github.com/monetize-consult/server/internal/grammar"
	"github.com/monetize-consult/server/internal/store"
)

const chatSystemInstruction = `あなたは個人事業主や小規模事業者のマネタイズを支援する経験豊富なビジネスコンサルタントです。
相談者の事業を次の5つの軸で捉え、具体的で実行可能なアドバイスをしてください。

1. 売り物: 何を、誰に、どんな価値として提供するか
2. 値付け: 価値に見合った価格と価格体系
3. 売る人: 誰が、どのような導線で売るか
4. 売れる仕組み: 集客から購入までを再現できる仕組み
5. 売上管理: 数字の把握と改善のサイクル

回答のルール:
- 日本語で、結論から簡潔に答えてください。
- 抽象論ではなく、数字や具体例を交えて答えてください。
- 情報が足りない場合は、推測せずに確認の質問をしてください。
- 法務・税務など専門家の判断が必要な内容は、その旨を伝えてください。`

const evaluationInstruction = `あなたは事業計画を評価する専門のマネタイズコンサルタントです。
以下の事業計画を、5つの軸それぞれ20点満点、合計100点満点で評価してください。

評価軸:
1. 売り物（提供価値とターゲットの明確さ）
2. 値付け（価格設定の妥当性と収益性）
3. 売る人（販売体制と導線）
4. 売れる仕組み（集客と再現性）
5. 売上管理（数値計画と改善サイクル）

出力形式（記号と表記を厳密に守ってください）:
%s
%s
%s
%s
%s
%s

各軸のスコアの後に、評価の根拠と具体的な改善提案を書いてください。
最後に、最優先で取り組むべきアクションを3つ挙げてください。`

// EvaluationUserMessage is the single user turn of an evaluation request.
const EvaluationUserMessage = "この事業計画を5軸で評価してください。"

// BuildChatSystemPrompt combines the base instruction with reference
// material and the most recent FAQ additions. Empty parts are omitted.
func BuildChatSystemPrompt(knowledge, faq string) string {
	var b strings.Builder
	b.WriteString(chatSystemInstruction)
	if knowledge != "" {
		b.WriteString("\n\n## 参考ナレッジ\n")
		b.WriteString(knowledge)
	}
	if faq != "" {
		b.WriteString("\n\n## よくある質問と回答\n")
		b.WriteString(faq)
	}
	return b.String()
}

func BuildEvaluationSystemPrompt(planText string) string {
	format := fmt.Sprintf(evaluationInstruction,
		"【総合スコア: XX/100】",
		"【売り物: XX/20】",
		"【値付け: XX/20】",
		"【売る人: XX/20】",
		"【売れる仕組み: XX/20】",
		"【売上管理: XX/20】",
	)
	return format + "\n\n## 事業計画\n" + planText
}

// WeeklyData is the anonymised activity summarised for the weekly analysis.
type WeeklyData struct {
	Messages    []store.ActivityMessage
	Evaluations []grammar.Scores
	Stats       store.UserStats
}

func BuildWeeklyAnalysisPrompt(d WeeklyData) string {
	var chat strings.Builder
	for i, m := range d.Messages {
		if i > 0 {
			chat.WriteByte('\n')
		}
		fmt.Fprintf(&chat, "[%s][%s] (%d文字のメッセージ)", m.Mode, m.Role, m.Length)
	}
	var evals strings.Builder
	for i, s := range d.Evaluations {
		if i > 0 {
			evals.WriteString("\n---\n")
		}
		fmt.Fprintf(&evals, "[Score: %s/100] Product:%s Pricing:%s Sales:%s Scale:%s Finance:%s",
			scoreString(s.Total), scoreString(s.Product), scoreString(s.Pricing),
			scoreString(s.Sales), scoreString(s.Scale), scoreString(s.Finance))
	}

	st := d.Stats
	var b strings.Builder
	b.WriteString("あなたはマネタイズ相談AIサービスの改善アナリストです。以下は過去1週間のユーザー利用データです。\n\n")
	b.WriteString("## ユーザー統計\n")
	fmt.Fprintf(&b, "- 総セッション数: %d（チャット: %d、評価: %d）\n", st.TotalSessions, st.ChatSessions, st.EvalSessions)
	fmt.Fprintf(&b, "- ログインユーザー数: %d\n", st.LoggedInUsers)
	fmt.Fprintf(&b, "- ユニークIP数: %d\n", st.UniqueIPs)
	fmt.Fprintf(&b, "- リピートユーザー数: %d\n", st.ReturningUsers)
	fmt.Fprintf(&b, "- セッションあたり平均メッセージ数: %.1f\n\n", st.AvgMessagesPerSession)
	fmt.Fprintf(&b, "## チャットログ（%d件のメッセージ）\n%s\n\n", len(d.Messages), orNone(chat.String()))
	fmt.Fprintf(&b, "## 事業計画評価（%d件）\n%s\n\n", len(d.Evaluations), orNone(evals.String()))
	b.WriteString(weeklyTasks)
	return b.String()
}

const weeklyTasks = `## 分析タスク
以下の7つのセクションに分けて分析してください:

### 1. よくある質問トピック
ユーザーがよく質問するテーマを特定し、クラスタリングしてください。

### 2. 回答が不十分だった質問
AIが適切に回答できなかった、または情報が不足していた質問を特定してください。

### 3. ナレッジベースの不足領域
現在のナレッジベースに追加すべき情報を具体的に指摘してください。

### 4. プロンプト改善提案
システムプロンプトの改善案を具体的に提案してください。

### 5. 自動生成FAQ
頻出質問と理想的な回答のペアを3〜5個生成してください。以下の形式で:

Q: [質問]
A: [簡潔で正確な回答（2〜3文）]

### 6. ユーザー行動分析
- ログインユーザー vs 匿名ユーザーの利用傾向の違い
- リピートユーザーの相談テーマの変遷
- ユーザーがどこで会話を終了する傾向があるか（離脱ポイント）

### 7. 評価スコア傾向分析
- 今週の平均スコアと傾向
- 最も低スコアの軸（改善が必要な分野の推定）
- 高スコア事業計画の共通パターン`

func scoreString(n *int) string {
	if n == nil {
		return "null"
	}
	return fmt.Sprint(*n)
}

func orNone(s string) string {
	if s == "" {
		return "（なし）"
	}
	return s
}
