package config

import (
	"fmt"
	"net/url"
	"strconv"
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

	// Validate LLM config
	if !isHTTPURL(c.LLM.BaseURL) {
		errors = append(errors, ValidationError{
			Field:   "llm.base_url",
			Message: "invalid LLM provider URL",
		})
	}

	if c.LLM.MaxTokens < 1 || c.LLM.MaxTokens > 32768 {
		errors = append(errors, ValidationError{
			Field:   "llm.max_tokens",
			Message: "max_tokens must be between 1 and 32768",
		})
	}

	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		errors = append(errors, ValidationError{
			Field:   "llm.temperature",
			Message: "temperature must be between 0 and 2",
		})
	}

	if c.LLM.TopP <= 0 || c.LLM.TopP > 1 {
		errors = append(errors, ValidationError{
			Field:   "llm.top_p",
			Message: "top_p must be in (0, 1]",
		})
	}

	if c.LLM.MaxAttempts < 1 {
		errors = append(errors, ValidationError{
			Field:   "llm.max_attempts",
			Message: "max_attempts must be positive",
		})
	}

	if c.LLM.BackoffFactor < 1 {
		errors = append(errors, ValidationError{
			Field:   "llm.backoff_factor",
			Message: "backoff_factor must be at least 1",
		})
	}

	if c.LLM.MinInterval < 0 {
		errors = append(errors, ValidationError{
			Field:   "llm.min_interval",
			Message: "min_interval cannot be negative",
		})
	}

	// Validate Search config
	if !isHTTPURL(c.Search.BaseURL) {
		errors = append(errors, ValidationError{
			Field:   "search.base_url",
			Message: "invalid search provider URL",
		})
	}

	// Validate Extractor config
	if c.Extractor.RateLimit <= 0 {
		errors = append(errors, ValidationError{
			Field:   "extractor.rate_limit",
			Message: "rate_limit must be positive",
		})
	}

	if c.Extractor.MinTextLength < 1 {
		errors = append(errors, ValidationError{
			Field:   "extractor.min_text_length",
			Message: "min_text_length must be positive",
		})
	}

	// Validate Research config
	if c.Research.TopK < 1 || c.Research.TopK > 20 {
		errors = append(errors, ValidationError{
			Field:   "research.top_k",
			Message: "top_k must be between 1 and 20",
		})
	}

	// Validate Server config
	if port, err := strconv.Atoi(c.Server.Port); err != nil || port < 1 || port > 65535 {
		errors = append(errors, ValidationError{
			Field:   "server.port",
			Message: "port must be a number between 1 and 65535",
		})
	}

	// Validate Database config
	if c.Database.URL != "" {
		if u, err := url.Parse(c.Database.URL); err != nil || u.Scheme == "" {
			errors = append(errors, ValidationError{
				Field:   "database.url",
				Message: "invalid database URL",
			})
		}
	}

	if c.Database.VectorDim < 1 {
		errors = append(errors, ValidationError{
			Field:   "database.vector_dim",
			Message: "vector_dim must be positive",
		})
	}

	return errors
}

// Warnings lists missing credentials that degrade but do not prevent startup.
func (c *Config) Warnings() []string {
	var warnings []string
	if c.LLM.APIKey == "" {
		warnings = append(warnings, "OPENROUTER_API_KEY is not set: LLM calls will fail until it is configured")
	}
	if c.Search.APIKey == "" {
		warnings = append(warnings, "SERPER_API_KEY is not set: search falls back to LLM-suggested sources")
	}
	return warnings
}

func isHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
