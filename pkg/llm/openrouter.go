package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/xhad/datallama/internal/models"
	"github.com/xhad/datallama/pkg/logger"
)

// Request is one chat completion call as handed to a Backend.
type Request struct {
	Model       string
	Messages    []models.Message
	MaxTokens   int
	Temperature float64
	TopP        float64
}

// Backend performs a single completion call with no retries. Provider
// rejections are reported as *StatusError.
type Backend interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// BackendFunc adapts a function to Backend.
type BackendFunc func(ctx context.Context, req Request) (string, error)

func (f BackendFunc) Complete(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

// OpenRouterConfig configures the OpenAI-compatible chat completions backend.
type OpenRouterConfig struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	SiteURL    string
	SiteName   string
	HTTPClient *http.Client
}

// OpenRouterBackend posts to {BaseURL}/chat/completions.
type OpenRouterBackend struct {
	config OpenRouterConfig
	client *http.Client
}

type chatRequest struct {
	Model       string           `json:"model"`
	Messages    []models.Message `json:"messages"`
	MaxTokens   int              `json:"max_tokens,omitempty"`
	Temperature float64          `json:"temperature"`
	TopP        float64          `json:"top_p,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Code    any    `json:"code"`
	} `json:"error,omitempty"`
}

const maxResponseBytes = 4 << 20

// NewOpenRouterBackend returns a backend with defaults applied.
func NewOpenRouterBackend(config OpenRouterConfig) *OpenRouterBackend {
	if config.BaseURL == "" {
		config.BaseURL = "https://openrouter.ai/api/v1"
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	if config.Timeout <= 0 {
		config.Timeout = 60 * time.Second
	}
	if config.SiteName == "" {
		config.SiteName = "datallama"
	}
	client := config.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: config.Timeout}
	}
	return &OpenRouterBackend{config: config, client: client}
}

func (b *OpenRouterBackend) Complete(ctx context.Context, req Request) (string, error) {
	if b.config.APIKey == "" {
		return "", ErrMissingAPIKey
	}

	payload, err := json.Marshal(chatRequest{
		Model:       req.Model,
		Messages:    req.Messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.config.BaseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+b.config.APIKey)
	if b.config.SiteURL != "" {
		httpReq.Header.Set("HTTP-Referer", b.config.SiteURL)
	}
	httpReq.Header.Set("X-Title", b.config.SiteName)

	resp, err := b.client.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", &StatusError{
			Code:       resp.StatusCode,
			RetryAfter: parseRetryAfter(resp.Header, time.Now()),
			Body:       logger.Truncate(strings.TrimSpace(string(body)), 300),
		}
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("%w: %s", ErrMalformedResponse, parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices", ErrMalformedResponse)
	}

	content := strings.TrimSpace(parsed.Choices[0].Message.Content)
	if content == "" {
		return "", fmt.Errorf("%w: empty content", ErrMalformedResponse)
	}
	return content, nil
}
