// Package expander turns one user question into a bounded set of diverse
// search queries, either directly (trivial lookups) or through a fast model.
package expander

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/ragrelay/ragrelay/internal/models"
	"github.com/ragrelay/ragrelay/internal/types"
	"github.com/ragrelay/ragrelay/pkg/extract"
)

const queryGenerationPrompt = `Analyze the user's medical document and generate search queries.

STEP 1: Write a brief summary (2-3 sentences) of the key findings in the document
STEP 2: Generate 4-6 diverse search queries covering DIFFERENT aspects

OUTPUT FORMAT:
<summary>Brief 2-3 sentence summary of the medical document</summary>

<rag_question>first specific search query</rag_question>
<rag_question>second specific search query</rag_question>
<rag_question>third specific search query</rag_question>
<rag_question>fourth specific search query</rag_question>

IMPORTANT:
- Identify ALL abnormal values (high cholesterol, low vitamin D, high glucose, etc.)
- Create a DIFFERENT query for each major finding
- Be specific (don't just say "kidney disease" - mention the actual tests)
- Keep queries 5-15 words each

EXAMPLE:

Document shows: High LDL (145), Low Vitamin D (23.1), High Glucose (120), High Cholesterol (216)

<summary>Lab results show elevated LDL cholesterol at 145 mg/dL, vitamin D insufficiency at 23.1 ng/mL, and slightly elevated fasting glucose at 120 mg/dL.</summary>

<rag_question>LDL cholesterol 145 mg/dL cardiovascular risk</rag_question>
<rag_question>vitamin D insufficiency 23 ng/mL treatment supplementation</rag_question>
<rag_question>fasting glucose 120 mg/dL prediabetes screening</rag_question>
<rag_question>high total cholesterol 216 dietary lifestyle changes</rag_question>`

var (
	simpleQuestion = regexp.MustCompile(`(?i)^(what is|define|explain)\s+\w+\??$`)
	multiPart      = regexp.MustCompile(`(?i)\b(and|also|additionally|furthermore)\b`)
)

// Generic lead-ins that make a short query useless for vector search.
var genericPrefixes = []string{"what", "how", "explain", "tell me", "information about"}

type ExpanderConfig struct {
	FastModel   string
	MaxQueries  int
	Temperature float64
	MaxTokens   int

	// QualityFilter drops parsed queries that are too short, too long or
	// generic. Domain policy, off by default.
	QualityFilter bool
}

type Expander struct {
	config ExpanderConfig
	chat   types.ChatCaller
	log    *zap.SugaredLogger
}

func NewWithConfig(config ExpanderConfig, chat types.ChatCaller, logger *zap.Logger) *Expander {
	if config.FastModel == "" {
		config.FastModel = "fast"
	}
	if config.MaxQueries == 0 || config.MaxQueries > 8 {
		config.MaxQueries = 8
	}
	if config.Temperature == 0 {
		config.Temperature = 0.3
	}
	if config.MaxTokens == 0 {
		config.MaxTokens = 300
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Expander{
		config: config,
		chat:   chat,
		log:    logger.Sugar(),
	}
}

// Expansion is the outcome of query expansion. Analysis holds the fast
// model's full response (summary plus queries) when the model path ran; the
// synthesis prompt includes it as prior analysis.
type Expansion struct {
	Queries  []string
	Analysis string
}

// Direct reports whether the question bypassed the model.
func (e Expansion) Direct() bool { return e.Analysis == "" }

// Expand produces 1..MaxQueries search queries for the question. Trivial
// questions without local excerpts skip the model call entirely. A failed
// model call fails the whole expansion: silently degrading to a single
// un-expanded query would hurt retrieval without the caller knowing.
func (e *Expander) Expand(ctx context.Context, question string, excerpts []string) (Expansion, error) {
	question = strings.TrimSpace(question)

	if e.isSimple(question) && len(excerpts) == 0 {
		e.log.Debugw("simple question, using direct query", "question", question)
		return Expansion{Queries: []string{question}}, nil
	}

	content, err := e.chat.ChatCompletion(ctx, models.ChatParams{
		Model:       e.config.FastModel,
		Messages:    []models.Message{{Role: "user", Content: e.buildPrompt(question, excerpts)}},
		Temperature: e.config.Temperature,
		MaxTokens:   e.config.MaxTokens,
		RAGEnabled:  false,
	})
	if err != nil {
		return Expansion{}, fmt.Errorf("query generation failed: %w", err)
	}

	queries := extract.All(content, extract.TagRAGQuestion)
	if len(queries) == 0 {
		e.log.Infow("no rag_question tags in model output, falling back to original prompt")
		queries = []string{question}
	} else if e.config.QualityFilter {
		kept := filterQueries(queries)
		e.log.Debugw("quality filter applied", "before", len(queries), "after", len(kept))
		if len(kept) > 0 {
			queries = kept
		} else {
			queries = []string{question}
		}
	}

	if len(queries) > e.config.MaxQueries {
		queries = queries[:e.config.MaxQueries]
	}

	return Expansion{Queries: queries, Analysis: content}, nil
}

// isSimple matches trivial lookups: a "what is X" shape, at most five words
// and no conjunctions joining multiple asks.
func (e *Expander) isSimple(question string) bool {
	if !simpleQuestion.MatchString(question) {
		return false
	}
	if len(strings.Fields(question)) > 5 {
		return false
	}
	return !multiPart.MatchString(question)
}

func (e *Expander) buildPrompt(question string, excerpts []string) string {
	var sb strings.Builder
	sb.WriteString(queryGenerationPrompt)
	sb.WriteString("\n\n---\n\nQuestion: ")
	sb.WriteString(question)

	if len(excerpts) > 0 {
		sb.WriteString("\n\nUser's uploaded document excerpts:\n")
		for i, text := range excerpts {
			if i > 0 {
				sb.WriteString("\n\n")
			}
			fmt.Fprintf(&sb, "[%d] %s", i+1, text)
		}
	}
	return sb.String()
}

func filterQueries(queries []string) []string {
	var kept []string
	for _, q := range queries {
		words := len(strings.Fields(q))
		if words < 3 || words > 25 {
			continue
		}
		if isGeneric(q, words) {
			continue
		}
		kept = append(kept, q)
	}
	return kept
}

func isGeneric(q string, words int) bool {
	if words > 4 {
		return false
	}
	lower := strings.ToLower(strings.TrimSpace(q))
	for _, prefix := range genericPrefixes {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}
