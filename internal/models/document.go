package models

import (
	"strings"
	"time"
)

// ErrorAPIRateLimited tags a synthesis result produced without the LLM.
const ErrorAPIRateLimited = "API_RATE_LIMITED"

// SyntheticURLPrefix marks documents that were generated instead of fetched.
const SyntheticURLPrefix = "generated://content/"

// Document is one retrieved or generated unit of evidence.
type Document struct {
	URL           string     `json:"url"`
	Title         string     `json:"title"`
	Authors       []string   `json:"authors"`
	PublishDate   *time.Time `json:"publish_date,omitempty"`
	Text          string     `json:"text"`
	Summary       string     `json:"summary"`
	SourceSnippet string     `json:"source_snippet,omitempty"`
	Synthetic     bool       `json:"synthetic"`
	Error         string     `json:"error,omitempty"`
}

// Usable reports whether the document may be handed to the synthesizer.
// Synthetic documents always carry generated text.
func (d Document) Usable() bool {
	return d.Synthetic || strings.TrimSpace(d.Text) != ""
}

// DisplayTitle falls back to the URL when the document has no title.
func (d Document) DisplayTitle() string {
	if strings.TrimSpace(d.Title) == "" {
		return d.URL
	}
	return d.Title
}

// SearchHit is a candidate source before extraction.
type SearchHit struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet,omitempty"`
	Content string `json:"content,omitempty"`
}

// ModelDescriptor describes one LLM backend in the registry.
type ModelDescriptor struct {
	ID                string `json:"id" yaml:"id"`
	DisplayName       string `json:"name" yaml:"name"`
	Description       string `json:"description" yaml:"description"`
	ProviderName      string `json:"provider" yaml:"provider"`
	MaxTokens         int    `json:"max_tokens" yaml:"max_tokens"`
	SupportsStreaming bool   `json:"supports_streaming" yaml:"supports_streaming"`
	Backend           string `json:"-" yaml:"backend"`
}

// SynthesisResult is the answer produced for one question.
type SynthesisResult struct {
	Answer                string   `json:"answer"`
	Citations             []string `json:"citations"`
	SourceCount           int      `json:"source_count"`
	ModelUsed             string   `json:"model_used"`
	ModelID               string   `json:"model_id"`
	Error                 string   `json:"error,omitempty"`
	SuggestedAlternatives []string `json:"suggested_alternatives,omitempty"`
}

// Degraded reports whether the answer was assembled without the LLM.
func (r SynthesisResult) Degraded() bool {
	return r.Error != ""
}

// Message is a single chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)
