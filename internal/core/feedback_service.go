package core

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/monetize-consult/server/internal/notify"
	"github.com/monetize-consult/server/internal/store"
	"github.com/monetize-consult/server/internal/worker"
)

var (
	ErrEmptyFeedback   = errors.New("内容を入力してください")
	ErrInvalidCategory = errors.New("カテゴリが不正です")
)

type FeedbackStore interface {
	CreateFeedback(ctx context.Context, fb *store.Feedback) error
}

type FeedbackNotifier interface {
	Feedback(ctx context.Context, category store.FeedbackCategory, content string, from notify.Sender, at time.Time) error
}

type FeedbackRequest struct {
	Category  store.FeedbackCategory
	Content   string
	SessionID *string
	UserID    *string
	Sender    notify.Sender
}

// FeedbackService accepts feedback synchronously and records it in the
// background.
type FeedbackService struct {
	store    FeedbackStore
	notifier FeedbackNotifier
	dispatch Dispatcher
	now      func() time.Time
}

func NewFeedbackService(st FeedbackStore, n FeedbackNotifier, d Dispatcher) *FeedbackService {
	return &FeedbackService{store: st, notifier: n, dispatch: d, now: time.Now}
}

// Submit validates the feedback and queues saving it followed by the
// operator email. The email is only sent once the row is stored.
func (s *FeedbackService) Submit(req FeedbackRequest) error {
	content := strings.TrimSpace(req.Content)
	if content == "" {
		return ErrEmptyFeedback
	}
	if !req.Category.Valid() {
		return ErrInvalidCategory
	}
	at := s.now()
	sessionID := req.SessionID
	if sessionID != nil {
		if _, err := uuid.Parse(*sessionID); err != nil {
			sessionID = nil
		}
	}

	s.dispatch.Submit(worker.Task{Name: "save_feedback", Run: func(ctx context.Context) error {
		err := s.store.CreateFeedback(ctx, &store.Feedback{
			Category:  req.Category,
			Content:   content,
			UserID:    req.UserID,
			SessionID: sessionID,
		})
		if err != nil {
			return err
		}
		return s.notifier.Feedback(ctx, req.Category, content, req.Sender, at)
	}})
	return nil
}
