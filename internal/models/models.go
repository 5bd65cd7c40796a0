package models

// Passage is the unit of retrieved or locally-chunked text. Passages are
// immutable and live only for the request that produced them.
type Passage struct {
	Content  string   `json:"content"`
	Score    float64  `json:"score"`
	Metadata Metadata `json:"metadata,omitempty"`
}

// Metadata carries backend-defined provenance for a passage. Database records
// which vector database returned the passage; the consolidator needs it for
// the document-expansion pass.
type Metadata struct {
	Source     string `json:"source,omitempty"`
	Page       int    `json:"page,omitempty"`
	DocumentID string `json:"document_id,omitempty"`
	Database   string `json:"-"`
}

// DocumentKey returns the identifier used to group passages by document,
// preferring the source path over the document id.
func (m Metadata) DocumentKey() string {
	if m.Source != "" {
		return m.Source
	}
	return m.DocumentID
}

// Citation is the UI-facing projection of a deduplicated passage.
type Citation struct {
	ID      string  `json:"id"`
	Source  string  `json:"source"`
	Page    int     `json:"page,omitempty"`
	Score   float64 `json:"score,omitempty"`
	Snippet string  `json:"snippet"`
}

// ChatRequest is the payload accepted by the streaming chat endpoints.
// Retrieval runs by default; NoRAG opts a request out of it.
type ChatRequest struct {
	Prompt         string   `json:"prompt"`
	Excerpts       []string `json:"excerpts,omitempty"`
	TopK           int      `json:"topK,omitempty"`
	ScoreThreshold float64  `json:"scoreThreshold,omitempty"`
	NoRAG          bool     `json:"noRag,omitempty"`
	SessionID      string   `json:"sessionId,omitempty"`
}

// StreamEvent is one frame of the caller-facing event stream. Exactly one
// field is set per event; a stream carries any number of token/citation
// events followed by exactly one terminal event (Done or Err).
type StreamEvent struct {
	Token     string     `json:"token,omitempty"`
	Citations []Citation `json:"citations,omitempty"`
	SessionID string     `json:"sessionId,omitempty"`
	Done      bool       `json:"done,omitempty"`
	Err       string     `json:"error,omitempty"`
}

// Terminal reports whether the event ends the stream.
func (e StreamEvent) Terminal() bool { return e.Done || e.Err != "" }

// Message is one turn of a model conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatParams describes one chat/completion call against the model backend.
type ChatParams struct {
	Model       string
	Messages    []Message
	Temperature float64
	MaxTokens   int
	Stream      bool
	RAGEnabled  bool
	Database    string
	TopK        int
	SessionID   string
}

// SearchParams describes one retrieval call against a vector database.
type SearchParams struct {
	Query          string            `json:"query"`
	Database       string            `json:"database,omitempty"`
	TopK           int               `json:"topK,omitempty"`
	ScoreThreshold float64           `json:"scoreThreshold,omitempty"`
	MetadataFilter map[string]string `json:"metadataFilter,omitempty"`
}
