// Package synthesis composes the final answer prompt from every context
// source and streams the model's response token by token.
package synthesis

import (
	"fmt"
	"strings"

	"github.com/ragrelay/ragrelay/internal/models"
)

// The backend strips system messages before they reach the model, so the
// instructions are prepended to the user message instead.
const instructions = `You are a knowledgeable medical records assistant. Answer the user's question using the context provided below.

FORMAT YOUR ANSWER AS:

**TL;DR:** One or two sentence direct answer.

**Key Findings:**
- The most important points, each grounded in the provided context
- Reference knowledge base passages as [Knowledge Base N] where relevant

**Additional Context:**
Supporting detail, caveats and related information.

**Suggested Questions:**
- Two or three follow-up questions the user might ask next

RULES:
- Use ONLY the provided context and the user's own documents; do not invent facts
- If the context does not answer the question, say so plainly
- Prefer specific values (lab numbers, dates, dosages) over vague statements
- This is informational assistance, not medical advice; remind the user to consult their clinician for decisions`

// BuildPrompt assembles the single user message for synthesis: the
// assistant instructions, the question, the user's uploaded excerpts, the
// prior analysis if query expansion ran through a model, and the retrieved
// passages labelled so the model can reference them as [Knowledge Base N].
func BuildPrompt(question string, excerpts []string, analysis string, passages []models.Passage) string {
	var sb strings.Builder
	sb.WriteString(instructions)
	sb.WriteString("\n\nQUESTION: ")
	sb.WriteString(question)

	if len(excerpts) > 0 {
		sb.WriteString("\n\nUSER'S UPLOADED DOCUMENTS:\n")
		for i, text := range excerpts {
			if i > 0 {
				sb.WriteString("\n\n")
			}
			fmt.Fprintf(&sb, "[Document %d]\n%s", i+1, text)
		}
	}

	if analysis != "" {
		sb.WriteString("\n\nINITIAL ANALYSIS:\n")
		sb.WriteString(analysis)
	}

	if len(passages) > 0 {
		sb.WriteString("\n\nRETRIEVED KNOWLEDGE:\n")
		for i, p := range passages {
			if i > 0 {
				sb.WriteString("\n\n")
			}
			fmt.Fprintf(&sb, "[Knowledge Base %d] Source: %s%s\n%s",
				i+1, sourceLabel(p), pageLabel(p), p.Content)
		}
	} else {
		sb.WriteString("\n\nRETRIEVED KNOWLEDGE: none found for this question.")
	}

	return sb.String()
}

func sourceLabel(p models.Passage) string {
	if p.Metadata.Source == "" {
		return "Knowledge Base"
	}
	return p.Metadata.Source
}

func pageLabel(p models.Passage) string {
	if p.Metadata.Page == 0 {
		return ""
	}
	return fmt.Sprintf(" (p.%d)", p.Metadata.Page)
}
