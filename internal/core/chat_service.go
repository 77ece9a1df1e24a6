package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/monetize-consult/server/internal/store"
)

const chatMaxTokens = 1024

var ErrInvalidTurns = errors.New("invalid messages")

// Client describes who made a request.
type Client struct {
	IP        string
	UserAgent string
	UserID    *string
}

type SessionStore interface {
	CreateSession(ctx context.Context, sess *store.Session) error
	GetSession(ctx context.Context, id string) (*store.Session, error)
}

type ChatStore interface {
	SessionStore
	LatestFAQAdditions(ctx context.Context) (string, error)
}

// StreamOptions configure one streaming path.
type StreamOptions struct {
	Model   string
	Timeout time.Duration
}

type ChatRequest struct {
	Turns     []Turn
	SessionID string
	Client    Client
}

type ChatService struct {
	store     ChatStore
	relay     *Relay
	followUps *FollowUps
	knowledge *KnowledgeBase
	opts      StreamOptions
	logger    *zap.Logger
	now       func() time.Time
}

func NewChatService(st ChatStore, relay *Relay, f *FollowUps, kb *KnowledgeBase, opts StreamOptions, logger *zap.Logger) *ChatService {
	return &ChatService{
		store:     st,
		relay:     relay,
		followUps: f,
		knowledge: kb,
		opts:      opts,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// ValidateTurns checks a conversation before any upstream call: it must be
// non-empty, use only user and assistant roles, and end with a non-empty user
// turn.
func ValidateTurns(turns []Turn) error {
	if len(turns) == 0 {
		return fmt.Errorf("%w: messages is required", ErrInvalidTurns)
	}
	for i, t := range turns {
		if t.Role != store.RoleUser && t.Role != store.RoleAssistant {
			return fmt.Errorf("%w: message %d has unknown role %q", ErrInvalidTurns, i, t.Role)
		}
	}
	last := turns[len(turns)-1]
	if last.Role != store.RoleUser || strings.TrimSpace(last.Content) == "" {
		return fmt.Errorf("%w: the last message must be a non-empty user message", ErrInvalidTurns)
	}
	return nil
}

// Stream answers the last user turn. The returned error is informational:
// by the time it is returned the client has already received an error frame.
func (s *ChatService) Stream(ctx context.Context, req ChatRequest, sink EventSink) error {
	askedAt := s.now()
	sessionID, created := resolveSession(ctx, s.store, s.logger, store.ModeChat, req.SessionID, req.Client)

	var preamble []any
	if created {
		preamble = append(preamble, SessionFrame{SessionID: sessionID})
	}

	upstreamCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.Timeout)
	defer cancel()

	text, err := s.relay.Stream(upstreamCtx, string(store.ModeChat), sink, preamble, CompletionRequest{
		Model:     s.opts.Model,
		System:    BuildChatSystemPrompt(s.knowledge.Text(), s.latestFAQ(upstreamCtx)),
		Turns:     req.Turns,
		MaxTokens: chatMaxTokens,
	})
	if err != nil {
		return err
	}

	s.followUps.Chat(sessionID, req.Turns[len(req.Turns)-1].Content, text, askedAt, s.now())
	return nil
}

func (s *ChatService) latestFAQ(ctx context.Context) string {
	faq, err := s.store.LatestFAQAdditions(ctx)
	if err != nil {
		s.logger.Warn("failed to load faq additions, continuing without them", zap.Error(err))
		return ""
	}
	return faq
}

// resolveSession reuses the client's session when it exists and belongs to
// the same caller, and creates a new one otherwise. A creation failure is
// logged and yields an empty id, in which case the exchange is not recorded.
func resolveSession(ctx context.Context, st SessionStore, logger *zap.Logger, mode store.Mode, existingID string, c Client) (string, bool) {
	if existingID != "" {
		sess, err := st.GetSession(ctx, existingID)
		switch {
		case err == nil && sameOwner(sess.UserID, c.UserID):
			return sess.ID, false
		case err == nil:
			logger.Info("session belongs to another caller, starting a new one", zap.String("session_id", existingID))
		case !errors.Is(err, store.ErrNotFound):
			logger.Warn("failed to look up session", zap.String("session_id", existingID), zap.Error(err))
		}
	}

	sess := &store.Session{IP: c.IP, UserAgent: c.UserAgent, Mode: mode, UserID: c.UserID}
	if err := st.CreateSession(ctx, sess); err != nil {
		logger.Error("failed to create session", zap.String("mode", string(mode)), zap.Error(err))
		return "", false
	}
	return sess.ID, true
}

// sameOwner matches anonymous with anonymous and a user with the same user.
func sameOwner(owner, caller *string) bool {
	if owner == nil || caller == nil {
		return owner == nil && caller == nil
	}
	return *owner == *caller
}
