package backend

import (
	"strconv"

	"github.com/ragrelay/ragrelay/internal/models"
)

// ragResult is whatever the retrieval backend sent. Metadata keys vary by
// parser version, so the mapping to the canonical Passage happens here, once,
// at the boundary.
type ragResult struct {
	Content  string         `json:"content"`
	Score    float64        `json:"score"`
	Metadata map[string]any `json:"metadata"`
}

// normalizePassage is a total projection from a backend record to a Passage:
// unknown or missing metadata fields map to zero values, never to an error.
func normalizePassage(r ragResult, database string) models.Passage {
	meta := models.Metadata{Database: database}

	meta.Source = metaString(r.Metadata, "source")
	meta.DocumentID = metaString(r.Metadata, "document_id")
	if meta.DocumentID == "" {
		meta.DocumentID = metaString(r.Metadata, "file_hash")
	}
	meta.Page = metaInt(r.Metadata, "page")

	return models.Passage{
		Content:  r.Content,
		Score:    r.Score,
		Metadata: meta,
	}
}

func metaString(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func metaInt(m map[string]any, key string) int {
	if m == nil {
		return 0
	}
	switch v := m[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return 0
}
