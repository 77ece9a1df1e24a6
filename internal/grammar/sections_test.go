package grammar

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleAnalysis = `## 1. 今週のサマリー
利用は安定しています。

## 2. よくある質問パターン
価格設定の相談が多い。

## 3. ナレッジベースの不足領域
- サブスクリプション価格の事例

## 4. プロンプト改善提案
- 具体的な数値例を求める

## 5. 自動生成FAQ（そのまま使える形式）
Q: 値付けはどう決める？
A: 原価ではなく価値から決めます。

## 6. 評価スコアの傾向
平均は60点台です。
`

func TestExtractSections(t *testing.T) {
	s := ExtractSections(sampleAnalysis)

	require.NotNil(t, s.KnowledgeGaps)
	assert.Equal(t, "- サブスクリプション価格の事例", *s.KnowledgeGaps)

	require.NotNil(t, s.PromptSuggestions)
	assert.Equal(t, "- 具体的な数値例を求める", *s.PromptSuggestions)

	require.NotNil(t, s.FAQAdditions)
	assert.Equal(t, "Q: 値付けはどう決める？\nA: 原価ではなく価値から決めます。", *s.FAQAdditions)
}

func TestExtractSections_LastSectionRunsToEnd(t *testing.T) {
	s := ExtractSections("### 5. 自動生成FAQ\nQ: a\nA: b\n")
	require.NotNil(t, s.FAQAdditions)
	assert.Equal(t, "Q: a\nA: b", *s.FAQAdditions)
}

func TestExtractSections_MissingOrEmpty(t *testing.T) {
	s := ExtractSections("## 3. ナレッジベースの不足領域\n\n## 4. プロンプト改善提案\n")
	assert.Nil(t, s.KnowledgeGaps)
	assert.Nil(t, s.PromptSuggestions)
	assert.Nil(t, s.FAQAdditions)
}
