package config

import (
	"fmt"
	"net/url"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	if c.Backend.BaseURL == "" {
		errors = append(errors, ValidationError{
			Field:   "backend.base_url",
			Message: "backend base URL is required",
		})
	} else if _, err := url.Parse(c.Backend.BaseURL); err != nil {
		errors = append(errors, ValidationError{
			Field:   "backend.base_url",
			Message: "invalid backend base URL",
		})
	}

	if c.Backend.Namespace == "" {
		errors = append(errors, ValidationError{
			Field:   "backend.namespace",
			Message: "namespace is required",
		})
	}

	if c.Backend.Project == "" {
		errors = append(errors, ValidationError{
			Field:   "backend.project",
			Message: "project is required",
		})
	}

	if c.Backend.RateLimit <= 0 {
		errors = append(errors, ValidationError{
			Field:   "backend.rate_limit",
			Message: "rate_limit must be positive",
		})
	}

	if len(c.Retrieval.Databases) == 0 {
		errors = append(errors, ValidationError{
			Field:   "retrieval.databases",
			Message: "at least one database is required",
		})
	}

	if c.Retrieval.TopK < 1 {
		errors = append(errors, ValidationError{
			Field:   "retrieval.top_k",
			Message: "top_k must be positive",
		})
	}

	if c.Retrieval.ScoreThreshold < 0 || c.Retrieval.ScoreThreshold > 1 {
		errors = append(errors, ValidationError{
			Field:   "retrieval.score_threshold",
			Message: "score_threshold must be between 0 and 1",
		})
	}

	if c.Retrieval.MaxPassages < 1 {
		errors = append(errors, ValidationError{
			Field:   "retrieval.max_passages",
			Message: "max_passages must be positive",
		})
	}

	if c.Expander.MaxQueries < 1 || c.Expander.MaxQueries > 8 {
		errors = append(errors, ValidationError{
			Field:   "expander.max_queries",
			Message: "max_queries must be between 1 and 8",
		})
	}

	if c.Expander.Temperature < 0 || c.Expander.Temperature > 2 {
		errors = append(errors, ValidationError{
			Field:   "expander.temperature",
			Message: "temperature must be between 0 and 2",
		})
	}

	if c.Synthesis.Temperature < 0 || c.Synthesis.Temperature > 2 {
		errors = append(errors, ValidationError{
			Field:   "synthesis.temperature",
			Message: "temperature must be between 0 and 2",
		})
	}

	if c.Synthesis.MaxTokens < 1 {
		errors = append(errors, ValidationError{
			Field:   "synthesis.max_tokens",
			Message: "max_tokens must be positive",
		})
	}

	if c.Chunker.TargetSize < 1 {
		errors = append(errors, ValidationError{
			Field:   "chunker.target_size",
			Message: "target_size must be positive",
		})
	}

	if c.Chunker.Overlap < 0 || c.Chunker.Overlap >= c.Chunker.TargetSize {
		errors = append(errors, ValidationError{
			Field:   "chunker.overlap",
			Message: "overlap must be non-negative and less than target_size",
		})
	}

	if c.Ranker.TopK < 1 {
		errors = append(errors, ValidationError{
			Field:   "ranker.top_k",
			Message: "top_k must be positive",
		})
	}

	return errors
}
