package synthesis

import (
	"context"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/ragrelay/ragrelay/internal/models"
	"github.com/ragrelay/ragrelay/internal/types"
)

type StreamerConfig struct {
	Model       string
	Temperature float64
	MaxTokens   int
}

type Streamer struct {
	config StreamerConfig
	chat   types.ChatStreamer
	log    *zap.SugaredLogger
}

func NewWithConfig(config StreamerConfig, chat types.ChatStreamer, logger *zap.Logger) *Streamer {
	if config.Model == "" {
		config.Model = "default"
	}
	if config.Temperature == 0 {
		config.Temperature = 0.5
	}
	if config.MaxTokens == 0 {
		config.MaxTokens = 2000
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Streamer{
		config: config,
		chat:   chat,
		log:    logger.Sugar(),
	}
}

// Stream opens a completion stream over the composed prompt and forwards
// each token through emit, preserving order. Retrieval context is already
// inlined in the prompt, so backend-side RAG stays off. The backend's
// session id, when present, is emitted as its own event before any token.
// Emit returns false when the consumer is gone; streaming stops quietly.
func (s *Streamer) Stream(ctx context.Context, prompt string, sessionID string, emit func(models.StreamEvent) bool) error {
	stream, err := s.chat.ChatCompletionStream(ctx, models.ChatParams{
		Model:       s.config.Model,
		Messages:    []models.Message{{Role: "user", Content: prompt}},
		Temperature: s.config.Temperature,
		MaxTokens:   s.config.MaxTokens,
		Stream:      true,
		RAGEnabled:  false,
		SessionID:   sessionID,
	})
	if err != nil {
		return fmt.Errorf("opening completion stream: %w", err)
	}
	defer stream.Close()

	if id := stream.SessionID(); id != "" {
		if !emit(models.StreamEvent{SessionID: id}) {
			return nil
		}
	}

	tokens := 0
	for {
		token, err := stream.Recv()
		if err == io.EOF {
			s.log.Debugw("stream complete", "tokens", tokens)
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading completion stream: %w", err)
		}
		tokens++
		if !emit(models.StreamEvent{Token: token}) {
			return nil
		}
	}
}
