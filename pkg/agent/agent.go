// Package agent runs the full answer pipeline for one chat request: query
// expansion, retrieval fan-out, consolidation, citation building and
// streamed synthesis, delivered as an ordered event stream.
package agent

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ragrelay/ragrelay/internal/models"
	"github.com/ragrelay/ragrelay/internal/types"
	"github.com/ragrelay/ragrelay/pkg/expander"
	"github.com/ragrelay/ragrelay/pkg/retrieval"
	"github.com/ragrelay/ragrelay/pkg/synthesis"
)

type AgentConfig struct {
	Retrieval retrieval.RetrievalConfig
	Expander  expander.ExpanderConfig
	Synthesis synthesis.StreamerConfig
}

// Backend is the slice of the completion backend the agent needs.
type Backend interface {
	types.ChatCaller
	types.ChatStreamer
	types.Searcher
}

type Agent struct {
	config   AgentConfig
	backend  Backend
	expander *expander.Expander
	streamer *synthesis.Streamer
	log      *zap.SugaredLogger
}

func NewWithConfig(config AgentConfig, backend Backend, logger *zap.Logger) *Agent {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Agent{
		config:   config,
		backend:  backend,
		expander: expander.NewWithConfig(config.Expander, backend, logger),
		streamer: synthesis.NewWithConfig(config.Synthesis, backend, logger),
		log:      logger.Sugar(),
	}
}

// Answer processes one request and returns the event stream. The channel
// is closed after exactly one terminal event: a done marker on success or
// a single error event on failure. Cancelling ctx stops the pipeline and
// releases the channel.
func (a *Agent) Answer(ctx context.Context, req models.ChatRequest) <-chan models.StreamEvent {
	out := make(chan models.StreamEvent)
	go func() {
		defer close(out)
		a.run(ctx, req, out)
	}()
	return out
}

func (a *Agent) run(ctx context.Context, req models.ChatRequest, out chan<- models.StreamEvent) {
	requestID := uuid.NewString()
	log := a.log.With("request_id", requestID)

	emit := func(ev models.StreamEvent) bool {
		select {
		case out <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}
	fail := func(format string, args ...any) {
		emit(models.StreamEvent{Err: fmt.Sprintf(format, args...)})
	}

	if req.Prompt == "" {
		fail("prompt is required")
		return
	}
	log.Infow("answering request",
		"no_rag", req.NoRAG,
		"excerpts", len(req.Excerpts))

	var (
		analysis string
		passages []models.Passage
	)
	if !req.NoRAG {
		if !emit(models.StreamEvent{Token: "<think>\n"}) {
			return
		}
		if !emit(models.StreamEvent{Token: "Expanding your question into targeted searches...\n"}) {
			return
		}

		exp, err := a.expander.Expand(ctx, req.Prompt, req.Excerpts)
		if err != nil {
			log.Errorw("query expansion failed", "error", err)
			fail("query expansion failed: %v", err)
			return
		}
		analysis = exp.Analysis

		cfg := a.retrievalConfig(req)
		retriever := retrieval.NewWithConfig(cfg, a.backend, log.Desugar())
		databases := len(cfg.Databases)
		if databases == 0 {
			databases = 1
		}
		if !emit(models.StreamEvent{Token: fmt.Sprintf("Searching %d knowledge bases with %d queries...\n",
			databases, len(exp.Queries))}) {
			return
		}

		passages = retriever.Retrieve(ctx, req.Prompt, exp.Queries)
		log.Infow("retrieval complete", "queries", len(exp.Queries), "passages", len(passages))

		if !emit(models.StreamEvent{Token: fmt.Sprintf("Found %d relevant passages.\n", len(passages))}) {
			return
		}
		if !emit(models.StreamEvent{Token: "</think>\n\n"}) {
			return
		}

		if citations := retrieval.ToCitations(passages); len(citations) > 0 {
			if !emit(models.StreamEvent{Citations: citations}) {
				return
			}
		}
	}

	prompt := synthesis.BuildPrompt(req.Prompt, req.Excerpts, analysis, passages)
	if err := a.streamer.Stream(ctx, prompt, req.SessionID, emit); err != nil {
		log.Errorw("synthesis failed", "error", err)
		fail("synthesis failed: %v", err)
		return
	}

	emit(models.StreamEvent{Done: true})
}

// retrievalConfig applies the request's per-call knobs over the agent
// defaults.
func (a *Agent) retrievalConfig(req models.ChatRequest) retrieval.RetrievalConfig {
	cfg := a.config.Retrieval
	if req.TopK > 0 {
		cfg.TopK = req.TopK
	}
	if req.ScoreThreshold > 0 {
		cfg.ScoreThreshold = req.ScoreThreshold
	}
	return cfg
}
