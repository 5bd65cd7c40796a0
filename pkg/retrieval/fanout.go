// Package retrieval fans search queries out across vector databases in
// parallel and consolidates the results into a ranked, deduplicated context
// set with ordinal citations.
package retrieval

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/ragrelay/ragrelay/internal/models"
	"github.com/ragrelay/ragrelay/internal/types"
)

type RetrievalConfig struct {
	Databases      []string
	TopK           int
	ScoreThreshold float64

	// MaxPassages caps the consolidated context set.
	MaxPassages int

	// Document-level expansion: documents with at least two passages scoring
	// HighScore or better get a second, document-scoped search pass.
	HighScore       float64
	ExpandDocs      int
	ExpandTopK      int
	ExpandThreshold float64

	// SortByScore orders the final set by descending score instead of
	// first-seen order.
	SortByScore bool

	// OnFailure is invoked once per failed search call, after logging.
	OnFailure func(database string)
}

type Retriever struct {
	config RetrievalConfig
	search types.Searcher
	log    *zap.SugaredLogger
}

func NewWithConfig(config RetrievalConfig, search types.Searcher, logger *zap.Logger) *Retriever {
	if len(config.Databases) == 0 {
		config.Databases = []string{"medical_db"}
	}
	if config.TopK == 0 {
		config.TopK = 10
	}
	if config.ScoreThreshold == 0 {
		config.ScoreThreshold = 0.7
	}
	if config.MaxPassages == 0 {
		config.MaxPassages = 20
	}
	if config.HighScore == 0 {
		config.HighScore = 0.8
	}
	if config.ExpandDocs == 0 {
		config.ExpandDocs = 3
	}
	if config.ExpandTopK == 0 {
		config.ExpandTopK = 15
	}
	if config.ExpandThreshold == 0 {
		config.ExpandThreshold = 0.5
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Retriever{
		config: config,
		search: search,
		log:    logger.Sugar(),
	}
}

// FanOut runs every (query, database) pair concurrently and returns the
// passages in a deterministic order: by query, then by database, then by
// result rank. A failed call contributes nothing; the remaining calls are
// unaffected.
func (r *Retriever) FanOut(ctx context.Context, queries []string) []models.Passage {
	type slot struct {
		passages []models.Passage
	}

	databases := r.config.Databases
	slots := make([]slot, len(queries)*len(databases))

	var wg sync.WaitGroup
	for qi, query := range queries {
		for di, database := range databases {
			wg.Add(1)
			go func(idx int, query, database string) {
				defer wg.Done()

				passages, err := r.search.Search(ctx, models.SearchParams{
					Query:          query,
					Database:       database,
					TopK:           r.config.TopK,
					ScoreThreshold: r.config.ScoreThreshold,
				})
				if err != nil {
					r.log.Warnw("search failed",
						"query", query,
						"database", database,
						"error", err)
					if r.config.OnFailure != nil {
						r.config.OnFailure(database)
					}
					return
				}
				slots[idx] = slot{passages: passages}
			}(qi*len(databases)+di, query, database)
		}
	}
	wg.Wait()

	var all []models.Passage
	for _, s := range slots {
		all = append(all, s.passages...)
	}
	r.log.Debugw("fan-out complete",
		"queries", len(queries),
		"databases", len(databases),
		"passages", len(all))
	return all
}

// Retrieve is the full retrieval pass: fan-out, document expansion and
// consolidation. The question is re-used verbatim for document-scoped
// expansion searches.
func (r *Retriever) Retrieve(ctx context.Context, question string, queries []string) []models.Passage {
	passages := r.FanOut(ctx, queries)
	passages = append(passages, r.expandDocuments(ctx, question, passages)...)
	return r.Consolidate(passages)
}
