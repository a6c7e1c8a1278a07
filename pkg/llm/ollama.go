package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"

	"github.com/xhad/datallama/internal/models"
)

// OllamaConfig configures the local Ollama chat backend.
type OllamaConfig struct {
	Model   string
	BaseURL string
}

// LangchainBackend serves completions through any langchaingo model.
type LangchainBackend struct {
	llm llms.Model
}

// NewOllamaBackend connects to an Ollama server.
func NewOllamaBackend(config OllamaConfig) (*LangchainBackend, error) {
	if config.Model == "" {
		config.Model = "llama3"
	}
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:11434"
	}

	llm, err := ollama.New(ollama.WithModel(config.Model),
		ollama.WithServerURL(config.BaseURL))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize LLM: %w", err)
	}
	return NewLangchainBackend(llm), nil
}

// NewLangchainBackend wraps an existing langchaingo model.
func NewLangchainBackend(llm llms.Model) *LangchainBackend {
	return &LangchainBackend{llm: llm}
}

func (b *LangchainBackend) Complete(ctx context.Context, req Request) (string, error) {
	content := make([]llms.MessageContent, 0, len(req.Messages))
	for _, m := range req.Messages {
		content = append(content, llms.TextParts(messageType(m.Role), m.Content))
	}

	opts := []llms.CallOption{
		llms.WithModel(strings.TrimPrefix(req.Model, BackendOllama+"/")),
		llms.WithTemperature(req.Temperature),
	}
	if req.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(req.MaxTokens))
	}
	if req.TopP > 0 {
		opts = append(opts, llms.WithTopP(req.TopP))
	}

	resp, err := b.llm.GenerateContent(ctx, content, opts...)
	if err != nil {
		return "", fmt.Errorf("chat error: %w", err)
	}
	if resp == nil || len(resp.Choices) == 0 || resp.Choices[0] == nil {
		return "", fmt.Errorf("%w: no choices", ErrMalformedResponse)
	}

	text := strings.TrimSpace(resp.Choices[0].Content)
	if text == "" {
		return "", fmt.Errorf("%w: empty content", ErrMalformedResponse)
	}
	return text, nil
}

func messageType(role string) llms.ChatMessageType {
	switch role {
	case models.RoleSystem:
		return llms.ChatMessageTypeSystem
	case models.RoleAssistant:
		return llms.ChatMessageTypeAI
	default:
		return llms.ChatMessageTypeHuman
	}
}
