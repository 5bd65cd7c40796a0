package types

import (
	"context"

	"github.com/ragrelay/ragrelay/internal/models"
)

// ChatCaller performs a synchronous chat/completion call and returns the
// generated message content.
type ChatCaller interface {
	ChatCompletion(ctx context.Context, p models.ChatParams) (string, error)
}

// TokenStream yields incremental content deltas from a streaming chat call.
// Recv returns io.EOF once the backend signals end of stream.
type TokenStream interface {
	SessionID() string
	Recv() (string, error)
	Close() error
}

// ChatStreamer opens a streaming chat/completion call.
type ChatStreamer interface {
	ChatCompletionStream(ctx context.Context, p models.ChatParams) (TokenStream, error)
}

// Searcher issues one retrieval call against a named vector database.
type Searcher interface {
	Search(ctx context.Context, p models.SearchParams) ([]models.Passage, error)
}
