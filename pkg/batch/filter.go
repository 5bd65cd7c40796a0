package batch

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	pageRef     = regexp.MustCompile(`(?i)^(see\s+)?(page|section|appendix|exhibit)\s+[\divx]+`)
	metaPhrase  = regexp.MustCompile(`(?i)^(note|n/?a|none|as follows|the following|this letter|please see)\b`)
	headerShape = regexp.MustCompile(`^[A-Z][A-Za-z\s]{0,40}:$`)
)

// quickReject drops obvious non-tasks before spending a model call on them.
// Returns the rejection reason and true when the candidate should be dropped.
func quickReject(task string) (string, bool) {
	task = strings.TrimSpace(task)

	if len(task) < 20 {
		return "too short", true
	}
	if len(task) > 1000 {
		return "too long", true
	}
	if len(strings.Fields(task)) < 4 {
		return "too few words", true
	}
	if pageRef.MatchString(task) {
		return "page reference", true
	}
	if metaPhrase.MatchString(task) {
		return "meta phrase", true
	}
	if headerShape.MatchString(task) {
		return "header", true
	}
	if isMostlyUpper(task) {
		return "all caps", true
	}
	return "", false
}

// isMostlyUpper flags shouting headers like "SECTION II REQUIREMENTS".
func isMostlyUpper(s string) bool {
	var letters, upper int
	for _, r := range s {
		if unicode.IsLetter(r) {
			letters++
			if unicode.IsUpper(r) {
				upper++
			}
		}
	}
	return letters >= 10 && upper*10 >= letters*8
}
