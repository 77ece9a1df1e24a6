package store

import (
	"time"

	"github.com/monetize-consult/server/internal/grammar"
)

type Mode string

const (
	ModeChat     Mode = "chat"
	ModeEvaluate Mode = "evaluate"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type FeedbackCategory string

const (
	FeedbackBug         FeedbackCategory = "bug"
	FeedbackImprovement FeedbackCategory = "improvement"
	FeedbackOther       FeedbackCategory = "other"
)

func (c FeedbackCategory) Valid() bool {
	switch c {
	case FeedbackBug, FeedbackImprovement, FeedbackOther:
		return true
	}
	return false
}

type Session struct {
	ID        string    `json:"id"` // UUID
	IP        string    `json:"-"`
	UserAgent string    `json:"-"`
	Mode      Mode      `json:"mode"`
	UserID    *string   `json:"-"` // Nil for anonymous sessions
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Message struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

type Evaluation struct {
	ID           string         `json:"id"`
	SessionID    string         `json:"session_id"`
	PlanText     string         `json:"plan_text"`
	Scores       grammar.Scores `json:"scores"`
	FullResponse string         `json:"-"`
	CreatedAt    time.Time      `json:"created_at"`
}

type Feedback struct {
	ID        string           `json:"id"`
	Category  FeedbackCategory `json:"category"`
	Content   string           `json:"content"`
	UserID    *string          `json:"user_id,omitempty"`
	SessionID *string          `json:"session_id,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
}

type ShareToken struct {
	Token     string    `json:"token"`
	SessionID string    `json:"session_id"`
	CreatedBy *string   `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

// UserStats is stored as JSON alongside each weekly insight.
type UserStats struct {
	TotalSessions         int     `json:"total_sessions"`
	LoggedInUsers         int     `json:"logged_in_users"`
	UniqueIPs             int     `json:"unique_ips"`
	ChatSessions          int     `json:"chat_sessions"`
	EvalSessions          int     `json:"eval_sessions"`
	ReturningUsers        int     `json:"returning_users"`
	AvgMessagesPerSession float64 `json:"avg_messages_per_session"`
}

type WeeklyInsight struct {
	ID                string    `json:"id"`
	WeekStart         time.Time `json:"week_start"`
	Analysis          string    `json:"analysis"`
	FAQAdditions      *string   `json:"faq_additions"`
	PromptSuggestions *string   `json:"prompt_suggestions"`
	KnowledgeGaps     *string   `json:"knowledge_gaps"`
	AutoApplied       bool      `json:"auto_applied"`
	UserStats         UserStats `json:"user_stats"`
	CreatedAt         time.Time `json:"created_at"`
}

// SessionSummary is one row of a user's session history.
type SessionSummary struct {
	ID           string    `json:"id"`
	Mode         Mode      `json:"mode"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	MessageCount int       `json:"message_count"`
	FirstMessage *string   `json:"first_message"`
}

// ActivityMessage describes a message without exposing its content.
type ActivityMessage struct {
	Role      Role
	Mode      Mode
	Length    int // characters
	CreatedAt time.Time
}

// SessionStats are the raw session counts for a reporting window.
type SessionStats struct {
	TotalSessions int
	LoggedInUsers int
	UniqueIPs     int
	ChatSessions  int
	EvalSessions  int
}
