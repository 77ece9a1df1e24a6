package core

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/monetize-consult/server/internal/grammar"
	"github.com/monetize-consult/server/internal/store"
)

const (
	evaluationMaxTokens   = 4096
	evaluationTemperature = float32(0.3)
)

// EvaluationRequest carries plan text that has already been extracted and
// cut to size. Truncated reports whether the cut happened.
type EvaluationRequest struct {
	PlanText  string
	Truncated bool
	Client    Client
}

type EvaluationService struct {
	store     SessionStore
	relay     *Relay
	followUps *FollowUps
	opts      StreamOptions
	logger    *zap.Logger
	now       func() time.Time
}

func NewEvaluationService(st SessionStore, relay *Relay, f *FollowUps, opts StreamOptions, logger *zap.Logger) *EvaluationService {
	return &EvaluationService{
		store:     st,
		relay:     relay,
		followUps: f,
		opts:      opts,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Stream evaluates the plan, then parses the scores out of the full response
// and hands the result to the follow-ups.
func (s *EvaluationService) Stream(ctx context.Context, req EvaluationRequest, sink EventSink) error {
	sessionID, created := resolveSession(ctx, s.store, s.logger, store.ModeEvaluate, "", req.Client)

	var preamble []any
	if created {
		preamble = append(preamble, SessionFrame{SessionID: sessionID})
	}
	if req.Truncated {
		preamble = append(preamble, TypeFrame{Type: FrameTruncationWarning})
	}
	preamble = append(preamble, TypeFrame{Type: FrameEvaluationStart})

	upstreamCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.Timeout)
	defer cancel()

	temperature := evaluationTemperature
	text, err := s.relay.Stream(upstreamCtx, string(store.ModeEvaluate), sink, preamble, CompletionRequest{
		Model:       s.opts.Model,
		System:      BuildEvaluationSystemPrompt(req.PlanText),
		Turns:       []Turn{{Role: store.RoleUser, Content: EvaluationUserMessage}},
		MaxTokens:   evaluationMaxTokens,
		Temperature: &temperature,
	})
	if err != nil {
		return err
	}

	scores := grammar.ParseScores(text)
	if !scores.Complete() {
		s.logger.Warn("evaluation response is missing score markers",
			zap.String("session_id", sessionID), zap.Bool("has_total", scores.Total != nil))
	}
	s.followUps.Evaluation(sessionID, req.PlanText, text, scores, s.now())
	return nil
}
