package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/monetize-consult/server/internal/metrics"
)

// Relay forwards a model stream to a client while accumulating the full
// text.
type Relay struct {
	llm    Completer
	logger *zap.Logger
}

func NewRelay(llm Completer, logger *zap.Logger) *Relay {
	return &Relay{llm: llm, logger: logger}
}

// Stream writes preamble, then one text frame per non-empty delta, then the
// sentinel. It returns the concatenated deltas.
//
// ctx governs the upstream call only. If the client stops accepting writes
// the relay keeps reading the model until it finishes, so the caller can
// still persist the exchange. An upstream failure produces an error frame and
// a non-nil error; the partial text is discarded.
func (r *Relay) Stream(ctx context.Context, path string, sink EventSink, preamble []any, req CompletionRequest) (string, error) {
	start := time.Now()
	clientGone := false
	send := func(frame any) {
		if clientGone {
			return
		}
		if err := sink.Send(frame); err != nil {
			clientGone = true
			r.logger.Info("client stopped reading, draining upstream", zap.String("path", path), zap.Error(err))
		}
	}
	fail := func(err error) (string, error) {
		send(ErrorFrame{Error: StreamErrorMessage})
		r.logger.Error("upstream stream failed", zap.String("path", path), zap.Duration("elapsed", time.Since(start)), zap.Error(err))
		metrics.RecordStream(path, "upstream_error", time.Since(start).Seconds())
		return "", err
	}

	for _, frame := range preamble {
		send(frame)
	}

	stream, err := r.llm.StreamCompletion(ctx, req)
	if err != nil {
		return fail(fmt.Errorf("failed to open model stream: %w", err))
	}

	var full strings.Builder
	for {
		delta, err := stream.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fail(err)
		}
		if delta == "" {
			continue
		}
		full.WriteString(delta)
		metrics.RecordDelta(path)
		send(TextFrame{Text: delta})
	}

	if !clientGone {
		if err := sink.Done(); err != nil {
			clientGone = true
		}
	}
	outcome := "completed"
	if clientGone {
		outcome = "client_gone"
	}
	metrics.RecordStream(path, outcome, time.Since(start).Seconds())
	r.logger.Debug("stream finished",
		zap.String("path", path),
		zap.String("outcome", outcome),
		zap.Int("bytes", full.Len()),
		zap.Duration("elapsed", time.Since(start)))
	return full.String(), nil
}
