package core

import (
	"context"
	"time"

	"github.com/monetize-consult/server/internal/grammar"
	"github.com/monetize-consult/server/internal/store"
	"github.com/monetize-consult/server/internal/worker"
)

// HighScoreThreshold is the total above which an evaluation is reported to
// the operator.
const HighScoreThreshold = 80

// Dispatcher runs follow-up tasks after the response has been sent.
type Dispatcher interface {
	Submit(tasks ...worker.Task)
}

type FollowUpStore interface {
	CreateMessage(ctx context.Context, msg *store.Message) error
	CreateEvaluation(ctx context.Context, ev *store.Evaluation) error
	TouchSession(ctx context.Context, id string) error
}

type HighScoreNotifier interface {
	HighScore(ctx context.Context, score int, plan, evaluation string) error
}

// FollowUps turns a finished stream into independent persistence and
// notification tasks.
type FollowUps struct {
	store    FollowUpStore
	notifier HighScoreNotifier
	dispatch Dispatcher
}

func NewFollowUps(s FollowUpStore, n HighScoreNotifier, d Dispatcher) *FollowUps {
	return &FollowUps{store: s, notifier: n, dispatch: d}
}

// Chat records one exchange. Nothing is recorded without a session.
func (f *FollowUps) Chat(sessionID, userText, assistantText string, askedAt, answeredAt time.Time) {
	if sessionID == "" {
		return
	}
	f.dispatch.Submit(
		worker.Task{Name: "save_user_message", Run: func(ctx context.Context) error {
			return f.store.CreateMessage(ctx, &store.Message{
				SessionID: sessionID, Role: store.RoleUser, Content: userText, CreatedAt: askedAt,
			})
		}},
		worker.Task{Name: "save_assistant_message", Run: func(ctx context.Context) error {
			return f.store.CreateMessage(ctx, &store.Message{
				SessionID: sessionID, Role: store.RoleAssistant, Content: assistantText, CreatedAt: answeredAt,
			})
		}},
		f.touch(sessionID),
	)
}

// Evaluation records a finished evaluation and reports high scores. The
// notification is sent even when no session could be created.
func (f *FollowUps) Evaluation(sessionID, planText, response string, scores grammar.Scores, at time.Time) {
	var tasks []worker.Task
	if sessionID != "" {
		tasks = append(tasks,
			worker.Task{Name: "save_evaluation", Run: func(ctx context.Context) error {
				return f.store.CreateEvaluation(ctx, &store.Evaluation{
					SessionID: sessionID, PlanText: planText, Scores: scores, FullResponse: response, CreatedAt: at,
				})
			}},
			f.touch(sessionID),
		)
	}
	if scores.Total != nil && *scores.Total > HighScoreThreshold {
		total := *scores.Total
		tasks = append(tasks, worker.Task{Name: "notify_high_score", Run: func(ctx context.Context) error {
			return f.notifier.HighScore(ctx, total, planText, response)
		}})
	}
	if len(tasks) > 0 {
		f.dispatch.Submit(tasks...)
	}
}

func (f *FollowUps) touch(sessionID string) worker.Task {
	return worker.Task{Name: "touch_session", Run: func(ctx context.Context) error {
		return f.store.TouchSession(ctx, sessionID)
	}}
}
