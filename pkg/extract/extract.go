// Package extract is the single home for scraping structured tags out of
// free-form model output. The tag contract with the model is inherently
// fragile, so every consumer goes through these helpers: absence of a tag
// means "no structured output", never an error.
package extract

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
)

// Tags the pipeline expects models to emit.
const (
	TagRAGQuestion = "rag_question"
	TagSummary     = "summary"
	TagDocType     = "doc_type"
	TagTask        = "task"
	TagAnswered    = "answered"
	TagValid       = "valid"
	TagQuote       = "quote"
)

var (
	patternMu sync.RWMutex
	patterns  = map[string]*regexp.Regexp{}

	thinkBlock = regexp.MustCompile(`(?s)<think>.*?</think>`)
)

func pattern(tag string) *regexp.Regexp {
	patternMu.RLock()
	re, ok := patterns[tag]
	patternMu.RUnlock()
	if ok {
		return re
	}

	re = regexp.MustCompile(fmt.Sprintf(`(?s)<%s>(.*?)</%s>`, regexp.QuoteMeta(tag), regexp.QuoteMeta(tag)))
	patternMu.Lock()
	patterns[tag] = re
	patternMu.Unlock()
	return re
}

// All returns every occurrence of <tag>...</tag> in content, trimmed, with
// empty values dropped. A missing tag yields nil.
func All(content, tag string) []string {
	var values []string
	for _, m := range pattern(tag).FindAllStringSubmatch(content, -1) {
		v := strings.TrimSpace(m[1])
		if v != "" {
			values = append(values, v)
		}
	}
	return values
}

// First returns the first occurrence of <tag>...</tag>, trimmed, and whether
// the tag was present at all.
func First(content, tag string) (string, bool) {
	m := pattern(tag).FindStringSubmatch(content)
	if m == nil {
		return "", false
	}
	return strings.TrimSpace(m[1]), true
}

// YesNo interprets the first <tag>...</tag> value as a yes/no answer. The
// second return is false when the tag is absent.
func YesNo(content, tag string) (bool, bool) {
	v, ok := First(content, tag)
	if !ok {
		return false, false
	}
	return strings.EqualFold(v, "yes"), true
}

// StripThink removes <think>...</think> reasoning blocks some models prepend
// to their answers.
func StripThink(content string) string {
	return strings.TrimSpace(thinkBlock.ReplaceAllString(content, ""))
}
