package core

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/monetize-consult/server/internal/notify"
	"github.com/monetize-consult/server/internal/store"
	"github.com/monetize-consult/server/internal/worker"
)

// scriptedCompleter replays deltas, then ends with err (io.EOF when nil).
type scriptedCompleter struct {
	deltas   []string
	err      error
	openErr  error
	complete string

	mu       sync.Mutex
	requests []CompletionRequest
}

func (c *scriptedCompleter) StreamCompletion(_ context.Context, req CompletionRequest) (DeltaStream, error) {
	c.mu.Lock()
	c.requests = append(c.requests, req)
	c.mu.Unlock()
	if c.openErr != nil {
		return nil, c.openErr
	}
	end := c.err
	if end == nil {
		end = io.EOF
	}
	return &scriptedStream{deltas: c.deltas, end: end}, nil
}

func (c *scriptedCompleter) Complete(_ context.Context, req CompletionRequest) (string, error) {
	c.mu.Lock()
	c.requests = append(c.requests, req)
	c.mu.Unlock()
	if c.err != nil {
		return "", c.err
	}
	return c.complete, nil
}

func (c *scriptedCompleter) lastRequest() CompletionRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.requests[len(c.requests)-1]
}

type scriptedStream struct {
	deltas []string
	end    error
}

func (s *scriptedStream) Next() (string, error) {
	if len(s.deltas) == 0 {
		return "", s.end
	}
	d := s.deltas[0]
	s.deltas = s.deltas[1:]
	return d, nil
}

// recordingSink keeps every frame. After failAfter successful sends it
// starts returning errors, imitating a client that went away.
type recordingSink struct {
	frames    []any
	done      bool
	failAfter int
}

var errClientGone = errors.New("write: broken pipe")

func (s *recordingSink) Send(frame any) error {
	if s.failAfter > 0 && len(s.frames) >= s.failAfter {
		return errClientGone
	}
	s.frames = append(s.frames, frame)
	return nil
}

func (s *recordingSink) Done() error {
	if s.failAfter > 0 && len(s.frames) >= s.failAfter {
		return errClientGone
	}
	s.done = true
	return nil
}

func (s *recordingSink) text() string {
	var b bytes.Buffer
	for _, f := range s.frames {
		if tf, ok := f.(TextFrame); ok {
			b.WriteString(tf.Text)
		}
	}
	return b.String()
}

type recordingNotifier struct {
	mu        sync.Mutex
	highScore []int
	feedback  []string
	weekly    []string
}

func (n *recordingNotifier) HighScore(_ context.Context, score int, _, _ string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.highScore = append(n.highScore, score)
	return nil
}

func (n *recordingNotifier) Feedback(_ context.Context, _ store.FeedbackCategory, content string, _ notify.Sender, _ time.Time) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.feedback = append(n.feedback, content)
	return nil
}

func (n *recordingNotifier) WeeklyReport(_ context.Context, _ time.Time, _ store.UserStats, analysis string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.weekly = append(n.weekly, analysis)
	return nil
}

func newTestStore(t *testing.T) *store.SQLStore {
	t.Helper()
	codec, err := store.NewAESCodec(bytes.Repeat([]byte{7}, 32))
	require.NoError(t, err)
	st, err := store.Open(":memory:", codec)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

// testRig wires the services against an in-memory store. drain waits for
// every follow-up task.
type testRig struct {
	store    *store.SQLStore
	llm      *scriptedCompleter
	notifier *recordingNotifier
	pool     *worker.Pool
	chat     *ChatService
	eval     *EvaluationService
}

func newTestRig(t *testing.T, llm *scriptedCompleter) *testRig {
	t.Helper()
	logger := zap.NewNop()
	st := newTestStore(t)
	n := &recordingNotifier{}
	pool := worker.NewPool(2, 16, 5*time.Second, logger)
	t.Cleanup(func() { pool.Shutdown(context.Background()) })

	relay := NewRelay(llm, logger)
	f := NewFollowUps(st, n, pool)
	opts := StreamOptions{Model: "test-model", Timeout: 5 * time.Second}
	return &testRig{
		store:    st,
		llm:      llm,
		notifier: n,
		pool:     pool,
		chat:     NewChatService(st, relay, f, &KnowledgeBase{text: "価格は価値で決める"}, opts, logger),
		eval:     NewEvaluationService(st, relay, f, opts, logger),
	}
}

func (r *testRig) drain(t *testing.T) {
	t.Helper()
	require.NoError(t, r.pool.Shutdown(context.Background()))
}
