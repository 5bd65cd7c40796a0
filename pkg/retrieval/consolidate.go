package retrieval

import (
	"context"
	"sort"
	"sync"

	"github.com/ragrelay/ragrelay/internal/models"
)

const dedupPrefixLen = 100

// expandDocuments finds documents that the fan-out hit repeatedly with high
// scores and pulls more passages from just those documents. Best effort:
// failures only cost the extra passages.
func (r *Retriever) expandDocuments(ctx context.Context, question string, passages []models.Passage) []models.Passage {
	type docStats struct {
		key      string
		database string
		count    int
		maxScore float64
	}

	stats := make(map[string]*docStats)
	var order []string
	for _, p := range passages {
		key := p.Metadata.DocumentKey()
		if key == "" || p.Score < r.config.HighScore {
			continue
		}
		s, ok := stats[key]
		if !ok {
			s = &docStats{key: key, database: p.Metadata.Database}
			stats[key] = s
			order = append(order, key)
		}
		s.count++
		if p.Score > s.maxScore {
			s.maxScore = p.Score
		}
	}

	var candidates []*docStats
	for _, key := range order {
		if s := stats[key]; s.count >= 2 {
			candidates = append(candidates, s)
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].maxScore > candidates[j].maxScore
	})
	if len(candidates) > r.config.ExpandDocs {
		candidates = candidates[:r.config.ExpandDocs]
	}
	if len(candidates) == 0 {
		return nil
	}

	results := make([][]models.Passage, len(candidates))
	var wg sync.WaitGroup
	for i, c := range candidates {
		wg.Add(1)
		go func(i int, c *docStats) {
			defer wg.Done()

			extra, err := r.search.Search(ctx, models.SearchParams{
				Query:          question,
				Database:       c.database,
				TopK:           r.config.ExpandTopK,
				ScoreThreshold: r.config.ExpandThreshold,
				MetadataFilter: map[string]string{"source": c.key},
			})
			if err != nil {
				r.log.Debugw("document expansion failed", "document", c.key, "error", err)
				return
			}
			results[i] = extra
		}(i, c)
	}
	wg.Wait()

	var expanded []models.Passage
	for _, extra := range results {
		expanded = append(expanded, extra...)
	}
	if len(expanded) > 0 {
		r.log.Debugw("document expansion added passages",
			"documents", len(candidates),
			"passages", len(expanded))
	}
	return expanded
}

// Consolidate deduplicates passages by content prefix and caps the set at
// MaxPassages. Passages sharing the same first 100 characters collapse to
// one entry: the position of the first occurrence, the value of the last.
func (r *Retriever) Consolidate(passages []models.Passage) []models.Passage {
	index := make(map[string]int)
	var unique []models.Passage
	for _, p := range passages {
		key := contentKey(p.Content)
		if i, ok := index[key]; ok {
			unique[i] = p
			continue
		}
		index[key] = len(unique)
		unique = append(unique, p)
	}

	if r.config.SortByScore {
		sort.SliceStable(unique, func(i, j int) bool {
			return unique[i].Score > unique[j].Score
		})
	}

	if len(unique) > r.config.MaxPassages {
		unique = unique[:r.config.MaxPassages]
	}
	return unique
}

func contentKey(content string) string {
	runes := []rune(content)
	if len(runes) > dedupPrefixLen {
		runes = runes[:dedupPrefixLen]
	}
	return string(runes)
}
