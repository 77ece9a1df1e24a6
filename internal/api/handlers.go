package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/monetize-consult/server/internal/auth"
	"github.com/monetize-consult/server/internal/core"
	"github.com/monetize-consult/server/internal/notify"
	"github.com/monetize-consult/server/internal/ratelimit"
	"github.com/monetize-consult/server/internal/store"
)

// Headroom added to a stream's upstream timeout for the write deadline.
const writeGrace = 15 * time.Second

const weeklyRunTimeout = 10 * time.Minute

type RateLimiter interface {
	Allow(ctx context.Context, op ratelimit.Operation, identity string, authenticated bool) ratelimit.Decision
}

type TokenValidator interface {
	Validate(tokenString string) (*auth.Identity, error)
}

// Services are the operations the HTTP layer exposes.
type Services struct {
	Chat       *core.ChatService
	Evaluation *core.EvaluationService
	Feedback   *core.FeedbackService
	Sessions   *core.SessionService
	Insights   *core.InsightService
}

type Options struct {
	ChatTimeout       time.Duration
	EvaluationTimeout time.Duration
	CronSecret        string
}

type APIHandler struct {
	svc     Services
	limiter RateLimiter
	tokens  TokenValidator
	opts    Options
	logger  *zap.Logger
}

func NewAPIHandler(svc Services, limiter RateLimiter, tokens TokenValidator, opts Options, logger *zap.Logger) *APIHandler {
	return &APIHandler{svc: svc, limiter: limiter, tokens: tokens, opts: opts, logger: logger}
}

func (h *APIHandler) client(r *http.Request) core.Client {
	return core.Client{IP: clientIP(r), UserAgent: r.UserAgent(), UserID: userIDFrom(r.Context())}
}

// admit consumes one unit of the caller's quota and writes the 429 response
// when it is exhausted.
func (h *APIHandler) admit(w http.ResponseWriter, r *http.Request, op ratelimit.Operation) bool {
	identity, authenticated := clientIP(r), false
	if uid := userIDFrom(r.Context()); uid != nil {
		identity, authenticated = *uid, true
	}
	if d := h.limiter.Allow(r.Context(), op, identity, authenticated); !d.Allowed {
		writeError(w, http.StatusTooManyRequests, ratelimit.Message(op))
		return false
	}
	return true
}

// startStream commits the response to an event stream and lifts the server
// write timeout for its duration.
func (h *APIHandler) startStream(w http.ResponseWriter, timeout time.Duration) *sseSink {
	sink := newSSESink(w)
	if err := sink.rc.SetWriteDeadline(time.Now().Add(timeout + writeGrace)); err != nil && !errors.Is(err, http.ErrNotSupported) {
		h.logger.Warn("failed to extend write deadline", zap.Error(err))
	}
	setSSEHeaders(w)
	w.WriteHeader(http.StatusOK)
	return sink
}

type ChatRequest struct {
	Messages  []core.Turn `json:"messages"`
	SessionID string      `json:"sessionId"`
}

func (h *APIHandler) ChatHandler(w http.ResponseWriter, r *http.Request) {
	if !h.admit(w, r, ratelimit.OpChat) {
		return
	}
	var req ChatRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeInputError(w, err)
		return
	}
	if err := core.ValidateTurns(req.Messages); err != nil {
		writeError(w, http.StatusBadRequest, "messages is required")
		return
	}

	sink := h.startStream(w, h.opts.ChatTimeout)
	err := h.svc.Chat.Stream(r.Context(), core.ChatRequest{
		Turns:     req.Messages,
		SessionID: req.SessionID,
		Client:    h.client(r),
	}, sink)
	if err != nil {
		h.logger.Debug("chat stream ended with error", zap.Error(err))
	}
}

func (h *APIHandler) EvaluateHandler(w http.ResponseWriter, r *http.Request) {
	if !h.admit(w, r, ratelimit.OpEvaluate) {
		return
	}
	plan, err := readPlan(w, r)
	if err != nil {
		writeInputError(w, err)
		return
	}

	sink := h.startStream(w, h.opts.EvaluationTimeout)
	err = h.svc.Evaluation.Stream(r.Context(), core.EvaluationRequest{
		PlanText:  plan.text,
		Truncated: plan.truncated,
		Client:    h.client(r),
	}, sink)
	if err != nil {
		h.logger.Debug("evaluation stream ended with error", zap.Error(err))
	}
}

type FeedbackRequest struct {
	Category  string  `json:"category"`
	Content   string  `json:"content"`
	SessionID *string `json:"sessionId"`
}

func (h *APIHandler) FeedbackHandler(w http.ResponseWriter, r *http.Request) {
	var req FeedbackRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeInputError(w, err)
		return
	}

	fr := core.FeedbackRequest{
		Category:  store.FeedbackCategory(req.Category),
		Content:   req.Content,
		SessionID: req.SessionID,
		UserID:    userIDFrom(r.Context()),
	}
	if id := identityFrom(r.Context()); id != nil {
		fr.Sender = notify.Sender{Name: id.Name, Email: id.Email}
		if fr.Sender.Name == "" {
			fr.Sender.Name = id.UserID
		}
	}
	if err := h.svc.Feedback.Submit(fr); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type ShareRequest struct {
	SessionID string `json:"sessionId"`
}

type ShareResponse struct {
	Token string `json:"token"`
	URL   string `json:"url"`
}

func (h *APIHandler) CreateShareHandler(w http.ResponseWriter, r *http.Request) {
	var req ShareRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeInputError(w, err)
		return
	}
	if req.SessionID == "" {
		writeError(w, http.StatusBadRequest, "sessionId is required")
		return
	}

	tok, err := h.svc.Sessions.Share(r.Context(), req.SessionID, userIDFrom(r.Context()))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Session not found")
			return
		}
		h.logger.Error("failed to create share link", zap.String("session_id", req.SessionID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to create share link")
		return
	}
	writeJSON(w, http.StatusOK, ShareResponse{Token: tok.Token, URL: origin(r) + "/share/" + tok.Token})
}

type transcriptMessage struct {
	Role    store.Role `json:"role"`
	Content string     `json:"content"`
}

type transcriptResponse struct {
	Messages []transcriptMessage `json:"messages"`
}

func transcript(msgs []store.Message) transcriptResponse {
	out := make([]transcriptMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, transcriptMessage{Role: m.Role, Content: m.Content})
	}
	return transcriptResponse{Messages: out}
}

func (h *APIHandler) GetShareHandler(w http.ResponseWriter, r *http.Request) {
	msgs, err := h.svc.Sessions.SharedMessages(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Share link not found")
			return
		}
		h.logger.Error("failed to read shared session", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to load shared session")
		return
	}
	writeJSON(w, http.StatusOK, transcript(msgs))
}

func (h *APIHandler) ListSessionsHandler(w http.ResponseWriter, r *http.Request) {
	uid := *userIDFrom(r.Context())
	sessions, err := h.svc.Sessions.RecentSessions(r.Context(), uid)
	if err != nil {
		h.logger.Error("failed to list sessions", zap.String("user_id", uid), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to list sessions")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

func (h *APIHandler) SessionMessagesHandler(w http.ResponseWriter, r *http.Request) {
	uid := *userIDFrom(r.Context())
	sessionID := chi.URLParam(r, "sessionID")

	msgs, err := h.svc.Sessions.SessionMessages(r.Context(), sessionID, uid)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Session not found")
			return
		}
		h.logger.Error("failed to get session messages", zap.String("session_id", sessionID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to get session messages")
		return
	}
	writeJSON(w, http.StatusOK, transcript(msgs))
}

func (h *APIHandler) ListEvaluationsHandler(w http.ResponseWriter, r *http.Request) {
	uid := *userIDFrom(r.Context())
	evals, err := h.svc.Sessions.Evaluations(r.Context(), uid)
	if err != nil {
		h.logger.Error("failed to list evaluations", zap.String("user_id", uid), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to list evaluations")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"evaluations": evals})
}

type weeklyResponse struct {
	Message      string          `json:"message"`
	WeekStart    string          `json:"weekStart"`
	ChatMessages int             `json:"chatMessages"`
	Evaluations  int             `json:"evaluations"`
	UserStats    store.UserStats `json:"userStats"`
}

func (h *APIHandler) CronAnalyzeHandler(w http.ResponseWriter, r *http.Request) {
	if h.opts.CronSecret == "" {
		writeError(w, http.StatusServiceUnavailable, "Service unavailable")
		return
	}
	want := "Bearer " + h.opts.CronSecret
	if subtle.ConstantTimeCompare([]byte(r.Header.Get("Authorization")), []byte(want)) != 1 {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), weeklyRunTimeout)
	defer cancel()
	res, err := h.svc.Insights.RunWeekly(ctx, time.Now())
	if err != nil {
		if errors.Is(err, core.ErrAnalysisRunning) {
			writeError(w, http.StatusConflict, "Analysis already running")
			return
		}
		h.logger.Error("weekly analysis failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Analysis failed")
		return
	}
	if res.NoData {
		writeJSON(w, http.StatusOK, map[string]string{"message": "No data to analyze this week"})
		return
	}
	writeJSON(w, http.StatusOK, weeklyResponse{
		Message:      "Analysis complete",
		WeekStart:    res.WeekStart.Format(time.DateOnly),
		ChatMessages: res.ChatMessages,
		Evaluations:  res.Evaluations,
		UserStats:    res.UserStats,
	})
}

// origin rebuilds the scheme and host the client used.
func origin(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = strings.TrimSpace(strings.Split(proto, ",")[0])
	}
	host := r.Host
	if fwd := r.Header.Get("X-Forwarded-Host"); fwd != "" {
		host = strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	return scheme + "://" + host
}
