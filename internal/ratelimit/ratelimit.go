// Package ratelimit admits or rejects requests against per-identity daily
// quotas kept in Redis.
package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/monetize-consult/server/internal/metrics"
)

type Operation string

const (
	OpChat     Operation = "chat"
	OpEvaluate Operation = "eval"
)

// Messages returned to the client when a quota is exhausted.
const (
	ChatLimitMessage = "1日のチャット上限に達しました。明日またお試しください。"
	EvalLimitMessage = "1日の評価上限（5回）に達しました。明日またお試しください。"
)

// Quotas are the per-window allowances of each tier.
type Quotas struct {
	Chat       int
	ChatAuthed int
	Eval       int
	EvalAuthed int
}

// Decision is the outcome of one admission check. Remaining is -1 when the
// limiter could not consult Redis.
type Decision struct {
	Allowed   bool
	Remaining int
}

// slidingWindow trims entries older than the window, then records this
// request only if the count is still under the limit.
var slidingWindow = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
if count >= limit then
  return {0, 0}
end
redis.call('ZADD', key, now, ARGV[4])
redis.call('PEXPIRE', key, window)
return {1, limit - count - 1}
`)

type Limiter struct {
	rdb    redis.Scripter
	quotas Quotas
	window time.Duration
	logger *zap.Logger
	now    func() time.Time
}

// New returns a Limiter. A nil client yields a limiter that admits every
// request.
func New(rdb redis.Scripter, quotas Quotas, window time.Duration, logger *zap.Logger) *Limiter {
	return &Limiter{
		rdb:    rdb,
		quotas: quotas,
		window: window,
		logger: logger,
		now:    time.Now,
	}
}

// Allow consumes one unit of the caller's quota for op. identity is the user
// id when authenticated, the client IP otherwise.
func (l *Limiter) Allow(ctx context.Context, op Operation, identity string, authenticated bool) Decision {
	if l.rdb == nil {
		metrics.RecordRateLimit(string(op), "degraded")
		return Decision{Allowed: true, Remaining: -1}
	}
	if identity == "" {
		identity = "127.0.0.1"
	}
	prefix, limit := l.tier(op, authenticated)
	key := prefix + ":" + identity

	now := l.now().UnixMilli()
	member := strconv.FormatInt(now, 10) + "-" + uuid.NewString()
	res, err := slidingWindow.Run(ctx, l.rdb, []string{key}, now, l.window.Milliseconds(), limit, member).Int64Slice()
	if err == nil && len(res) != 2 {
		err = fmt.Errorf("unexpected script reply of length %d", len(res))
	}
	if err != nil {
		l.logger.Warn("rate limiter unavailable, admitting request", zap.String("key", prefix), zap.Error(err))
		metrics.RecordRateLimit(string(op), "degraded")
		return Decision{Allowed: true, Remaining: -1}
	}

	d := Decision{Allowed: res[0] == 1, Remaining: int(res[1])}
	if d.Allowed {
		metrics.RecordRateLimit(string(op), "allowed")
	} else {
		metrics.RecordRateLimit(string(op), "rejected")
	}
	return d
}

func (l *Limiter) tier(op Operation, authenticated bool) (string, int) {
	switch {
	case op == OpEvaluate && authenticated:
		return "ratelimit:eval:authed", l.quotas.EvalAuthed
	case op == OpEvaluate:
		return "ratelimit:eval", l.quotas.Eval
	case authenticated:
		return "ratelimit:chat:authed", l.quotas.ChatAuthed
	default:
		return "ratelimit:chat", l.quotas.Chat
	}
}

// Message is the rejection text for op.
func Message(op Operation) string {
	if op == OpEvaluate {
		return EvalLimitMessage
	}
	return ChatLimitMessage
}
