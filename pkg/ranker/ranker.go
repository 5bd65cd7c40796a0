package ranker

import (
	"regexp"
	"sort"
	"strings"
)

const headingBonus = 2.5

// Chunks beginning with a recognized section heading get a fixed boost.
var headingBoosts = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^impression`),
	regexp.MustCompile(`(?i)^assessment`),
	regexp.MustCompile(`(?i)^summary`),
	regexp.MustCompile(`(?i)^diagnos`),
}

// Tokens keep letters, digits, '.' and '%' so lab values like "101.2f" or
// "20%" survive tokenization.
func tokenize(query string) []string {
	return strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		switch {
		case r >= 'a' && r <= 'z':
			return false
		case r >= '0' && r <= '9':
			return false
		case r == '.' || r == '%':
			return false
		}
		return true
	})
}

// TopExcerpts scores chunks against the query by whole-word term overlap and
// returns the top k, highest score first. Ties preserve original chunk order;
// zero-scoring chunks are still eligible filler when fewer than k score.
func TopExcerpts(query string, chunks []string, k int) []string {
	if k <= 0 {
		k = 6
	}

	terms := tokenize(query)
	matchers := make([]*regexp.Regexp, 0, len(terms))
	for _, term := range terms {
		matchers = append(matchers, regexp.MustCompile(`\b`+regexp.QuoteMeta(term)+`\b`))
	}

	type scored struct {
		idx   int
		score float64
	}

	results := make([]scored, len(chunks))
	for i, chunk := range chunks {
		lower := strings.ToLower(chunk)

		var score float64
		for _, m := range matchers {
			score += float64(len(m.FindAllStringIndex(lower, -1)))
		}

		for _, pattern := range headingBoosts {
			if pattern.MatchString(chunk) {
				score += headingBonus
				break
			}
		}

		results[i] = scored{idx: i, score: score}
	}

	sort.SliceStable(results, func(a, b int) bool {
		return results[a].score > results[b].score
	})

	if k > len(results) {
		k = len(results)
	}

	top := make([]string, 0, k)
	for _, r := range results[:k] {
		top = append(top, chunks[r.idx])
	}
	return top
}
