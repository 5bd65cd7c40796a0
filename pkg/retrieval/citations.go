package retrieval

import (
	"fmt"

	"github.com/ragrelay/ragrelay/internal/models"
)

const snippetLen = 150

// ToCitations builds ordinal citations from a consolidated passage set.
// cite-N corresponds to passages[N] and to the "[Knowledge Base N+1]" label
// in the synthesis context.
func ToCitations(passages []models.Passage) []models.Citation {
	citations := make([]models.Citation, 0, len(passages))
	for i, p := range passages {
		source := p.Metadata.Source
		if source == "" {
			source = "Knowledge Base"
		}
		citations = append(citations, models.Citation{
			ID:      fmt.Sprintf("cite-%d", i),
			Source:  source,
			Page:    p.Metadata.Page,
			Score:   p.Score,
			Snippet: snippet(p.Content),
		})
	}
	return citations
}

func snippet(content string) string {
	runes := []rune(content)
	if len(runes) <= snippetLen {
		return content
	}
	return string(runes[:snippetLen])
}
