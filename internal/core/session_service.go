package core

import (
	"context"
	"fmt"

	"github.com/monetize-consult/server/internal/store"
)

// RecentSessionLimit is how many sessions the history view lists.
const RecentSessionLimit = 5

type HistoryStore interface {
	GetSession(ctx context.Context, id string) (*store.Session, error)
	ListUserSessions(ctx context.Context, userID string, limit, offset int) ([]store.SessionSummary, error)
	GetSessionMessages(ctx context.Context, sessionID, userID string) ([]store.Message, error)
	ListMessages(ctx context.Context, sessionID string) ([]store.Message, error)
	ListUserEvaluations(ctx context.Context, userID string) ([]store.Evaluation, error)
	CreateShareToken(ctx context.Context, sessionID string, createdBy *string) (*store.ShareToken, error)
	GetShareToken(ctx context.Context, token string) (*store.ShareToken, error)
}

// SessionService serves past conversations: the owner's history and links
// shared with anyone holding the token.
type SessionService struct {
	store HistoryStore
}

func NewSessionService(st HistoryStore) *SessionService {
	return &SessionService{store: st}
}

func (s *SessionService) RecentSessions(ctx context.Context, userID string) ([]store.SessionSummary, error) {
	sessions, err := s.store.ListUserSessions(ctx, userID, RecentSessionLimit, 0)
	if err != nil {
		return nil, err
	}
	if sessions == nil {
		sessions = []store.SessionSummary{}
	}
	return sessions, nil
}

// SessionMessages returns store.ErrNotFound unless userID owns the session.
func (s *SessionService) SessionMessages(ctx context.Context, sessionID, userID string) ([]store.Message, error) {
	return s.store.GetSessionMessages(ctx, sessionID, userID)
}

func (s *SessionService) Evaluations(ctx context.Context, userID string) ([]store.Evaluation, error) {
	return s.store.ListUserEvaluations(ctx, userID)
}

// Share returns the session's share token, creating it on first use.
func (s *SessionService) Share(ctx context.Context, sessionID string, createdBy *string) (*store.ShareToken, error) {
	if _, err := s.store.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	tok, err := s.store.CreateShareToken(ctx, sessionID, createdBy)
	if err != nil {
		return nil, fmt.Errorf("failed to share session %s: %w", sessionID, err)
	}
	return tok, nil
}

func (s *SessionService) SharedMessages(ctx context.Context, token string) ([]store.Message, error) {
	tok, err := s.store.GetShareToken(ctx, token)
	if err != nil {
		return nil, err
	}
	return s.store.ListMessages(ctx, tok.SessionID)
}
