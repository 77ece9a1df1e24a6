package core

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/monetize-consult/server/internal/store"
)

var highScoreDeltas = []string{
	"【総合スコア: 85/100】\n",
	"【売り物: 18/20】\n【値付け: 17/20】\n",
	"【売る人: 16/20】\n【売れる仕組み: 17/20】\n【売上管理: 17/20】",
}

func TestEvaluationService_FrameOrderAndPersistence(t *testing.T) {
	rig := newTestRig(t, &scriptedCompleter{deltas: highScoreDeltas})
	ctx := context.Background()
	sink := &recordingSink{}
	uid := "user-1"

	err := rig.eval.Stream(ctx, EvaluationRequest{
		PlanText:  strings.Repeat("計", 100),
		Truncated: true,
		Client:    Client{UserID: &uid},
	}, sink)
	require.NoError(t, err)
	require.True(t, sink.done)

	require.GreaterOrEqual(t, len(sink.frames), 4)
	_, isSession := sink.frames[0].(SessionFrame)
	assert.True(t, isSession)
	assert.Equal(t, TypeFrame{Type: FrameTruncationWarning}, sink.frames[1])
	assert.Equal(t, TypeFrame{Type: FrameEvaluationStart}, sink.frames[2])
	assert.IsType(t, TextFrame{}, sink.frames[3])

	req := rig.llm.lastRequest()
	assert.Equal(t, []Turn{{Role: store.RoleUser, Content: EvaluationUserMessage}}, req.Turns)
	assert.Equal(t, int32(evaluationMaxTokens), req.MaxTokens)
	require.NotNil(t, req.Temperature)
	assert.InDelta(t, 0.3, *req.Temperature, 1e-6)
	assert.Contains(t, req.System, strings.Repeat("計", 100))

	rig.drain(t)
	evals, err := rig.store.ListUserEvaluations(ctx, uid)
	require.NoError(t, err)
	require.Len(t, evals, 1)
	assert.Equal(t, 85, *evals[0].Scores.Total)
	assert.Equal(t, 18, *evals[0].Scores.Product)
	assert.Equal(t, strings.Repeat("計", 100), evals[0].PlanText)
	assert.Equal(t, []int{85}, rig.notifier.highScore)
}

func TestEvaluationService_NoWarningWhenNotTruncated(t *testing.T) {
	rig := newTestRig(t, &scriptedCompleter{deltas: []string{"【総合スコア: 80/100】"}})
	sink := &recordingSink{}

	require.NoError(t, rig.eval.Stream(context.Background(), EvaluationRequest{PlanText: "plan"}, sink))
	for _, f := range sink.frames {
		assert.NotEqual(t, TypeFrame{Type: FrameTruncationWarning}, f)
	}

	rig.drain(t)
	assert.Empty(t, rig.notifier.highScore, "80 is not above the threshold")
}

func TestEvaluationService_FailureRecordsNothing(t *testing.T) {
	llm := &scriptedCompleter{deltas: highScoreDeltas[:1], err: context.DeadlineExceeded}
	rig := newTestRig(t, llm)
	uid := "user-2"
	sink := &recordingSink{}

	require.Error(t, rig.eval.Stream(context.Background(), EvaluationRequest{PlanText: "plan", Client: Client{UserID: &uid}}, sink))

	rig.drain(t)
	evals, err := rig.store.ListUserEvaluations(context.Background(), uid)
	require.NoError(t, err)
	assert.Empty(t, evals)
	assert.Empty(t, rig.notifier.highScore)
}

func TestEvaluationService_PartialScoresStillNotify(t *testing.T) {
	rig := newTestRig(t, &scriptedCompleter{deltas: []string{"講評...【総合スコア: 85/100】...", "【売り物: 18/20】..."}})
	ctx := context.Background()
	uid := "user-2"

	require.NoError(t, rig.eval.Stream(ctx, EvaluationRequest{PlanText: "plan", Client: Client{UserID: &uid}}, &recordingSink{}))
	rig.drain(t)

	evals, err := rig.store.ListUserEvaluations(ctx, uid)
	require.NoError(t, err)
	require.Len(t, evals, 1)
	sc := evals[0].Scores
	require.NotNil(t, sc.Total)
	assert.Equal(t, 85, *sc.Total)
	require.NotNil(t, sc.Product)
	assert.Equal(t, 18, *sc.Product)
	assert.Nil(t, sc.Pricing)
	assert.Nil(t, sc.Sales)
	assert.Nil(t, sc.Scale)
	assert.Nil(t, sc.Finance)
	assert.Equal(t, []int{85}, rig.notifier.highScore)
}
