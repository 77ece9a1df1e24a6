package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/monetize-consult/server/internal/store"
)

// Turn is one message of a conversation sent to the model.
type Turn struct {
	Role    store.Role `json:"role"`
	Content string     `json:"content"`
}

type CompletionRequest struct {
	Model       string
	System      string
	Turns       []Turn // the last turn must be from the user
	MaxTokens   int32
	Temperature *float32
}

// DeltaStream yields text fragments in arrival order. Next returns io.EOF
// once the model has finished.
type DeltaStream interface {
	Next() (string, error)
}

// Completer is the model-facing port of the service.
type Completer interface {
	StreamCompletion(ctx context.Context, req CompletionRequest) (DeltaStream, error)
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

// LLMService talks to Gemini.
type LLMService struct {
	client *genai.Client
	logger *zap.Logger
}

func NewLLMService(ctx context.Context, apiKey string, logger *zap.Logger) (*LLMService, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &LLMService{client: client, logger: logger}, nil
}

func (s *LLMService) Close() {
	if s.client != nil {
		if err := s.client.Close(); err != nil {
			s.logger.Warn("error closing GenAI client", zap.Error(err))
		} else {
			s.logger.Info("GenAI client closed")
		}
	}
}

func (s *LLMService) model(req CompletionRequest) *genai.GenerativeModel {
	model := s.client.GenerativeModel(req.Model)
	if req.System != "" {
		model.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(req.System)},
		}
	}
	if req.MaxTokens > 0 {
		model.SetMaxOutputTokens(req.MaxTokens)
	}
	if req.Temperature != nil {
		model.SetTemperature(*req.Temperature)
	}
	return model
}

func (s *LLMService) StreamCompletion(ctx context.Context, req CompletionRequest) (DeltaStream, error) {
	history, last, err := splitTurns(req.Turns)
	if err != nil {
		return nil, err
	}
	chatSession := s.model(req).StartChat()
	chatSession.History = history
	return &geminiStream{iter: chatSession.SendMessageStream(ctx, genai.Text(last))}, nil
}

func (s *LLMService) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	history, last, err := splitTurns(req.Turns)
	if err != nil {
		return "", err
	}
	chatSession := s.model(req).StartChat()
	chatSession.History = history
	resp, err := chatSession.SendMessage(ctx, genai.Text(last))
	if err != nil {
		return "", fmt.Errorf("gemini chat completion request failed: %w", err)
	}
	text := responseText(resp)
	if text == "" {
		return "", errors.New("no content in gemini response")
	}
	return text, nil
}

// splitTurns converts all but the final turn into Gemini history.
func splitTurns(turns []Turn) ([]*genai.Content, string, error) {
	if len(turns) == 0 {
		return nil, "", errors.New("prompt history is empty for chat completion")
	}
	last := turns[len(turns)-1]
	if last.Role != store.RoleUser {
		return nil, "", errors.New("last message in history must be from the user")
	}
	history := make([]*genai.Content, 0, len(turns)-1)
	for _, t := range turns[:len(turns)-1] {
		role := "user"
		if t.Role == store.RoleAssistant {
			role = "model"
		}
		history = append(history, &genai.Content{
			Role:  role,
			Parts: []genai.Part{genai.Text(t.Content)},
		})
	}
	return history, last.Content, nil
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			b.WriteString(string(txt))
		}
	}
	return b.String()
}

type geminiStream struct {
	iter *genai.GenerateContentResponseIterator
}

func (g *geminiStream) Next() (string, error) {
	resp, err := g.iter.Next()
	if errors.Is(err, iterator.Done) {
		return "", io.EOF
	}
	if err != nil {
		return "", fmt.Errorf("gemini stream failed: %w", err)
	}
	return responseText(resp), nil
}
