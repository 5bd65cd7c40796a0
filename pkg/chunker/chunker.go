package chunker

import (
	"regexp"
	"strings"
)

type ChunkerConfig struct {
	TargetSize int
	Overlap    int
}

type Chunker struct {
	config ChunkerConfig
}

func NewWithConfig(config ChunkerConfig) Chunker {
	if config.TargetSize == 0 {
		config.TargetSize = 1200
	}
	if config.Overlap == 0 {
		config.Overlap = 150
	}
	if config.Overlap >= config.TargetSize {
		config.Overlap = config.TargetSize / 4
	}

	return Chunker{config: config}
}

var (
	lineSplit = regexp.MustCompile(`\n+`)

	// Section headings start a new paragraph; a heading is never a
	// paragraph of its own.
	headingPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)^(abstract|impression|assessment|plan|lab results|cbc|cmp|history|findings|conclusion)[:\-\s]?`),
		regexp.MustCompile(`^.{1,70}:$`),
	}
)

// Chunk splits extracted document text into heading-aware, size-bounded
// passages. Paragraphs are accumulated until TargetSize; paragraphs that
// still exceed TargetSize*1.2 are sliced into overlapping windows.
func (c *Chunker) Chunk(text string) []string {
	var paragraphs []string
	var buffer []string

	flush := func() {
		if len(buffer) == 0 {
			return
		}
		combined := strings.TrimSpace(strings.Join(buffer, " "))
		if combined != "" {
			paragraphs = append(paragraphs, combined)
		}
		buffer = buffer[:0]
	}

	for _, rawLine := range lineSplit.Split(text, -1) {
		line := strings.TrimSpace(rawLine)
		if line == "" {
			continue
		}

		if isHeading(line) && len(buffer) > 0 {
			flush()
		}

		buffer = append(buffer, line)
		if len(strings.Join(buffer, " ")) >= c.config.TargetSize {
			flush()
		}
	}
	flush()

	var chunks []string
	limit := c.config.TargetSize + c.config.TargetSize/5
	stride := c.config.TargetSize - c.config.Overlap

	for _, para := range paragraphs {
		if len(para) <= limit {
			chunks = append(chunks, para)
			continue
		}
		for i := 0; i < len(para); i += stride {
			end := i + c.config.TargetSize
			if end > len(para) {
				end = len(para)
			}
			chunks = append(chunks, para[i:end])
			if end == len(para) {
				break
			}
		}
	}

	return chunks
}

func isHeading(line string) bool {
	for _, pattern := range headingPatterns {
		if pattern.MatchString(line) {
			return true
		}
	}
	return false
}
