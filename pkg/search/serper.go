package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xhad/datallama/internal/models"
	"github.com/xhad/datallama/pkg/logger"
)

// retryBaseDelay controls the base duration for exponential backoff on HTTP
// 429 responses. Tests override this to avoid real sleeps.
var retryBaseDelay = time.Second

// SerperConfig configures the Serper web search API.
type SerperConfig struct {
	BaseURL     string
	APIKey      string
	Timeout     time.Duration
	MaxAttempts int
	Logger      *zap.Logger
}

// SerperProvider queries google.serper.dev.
type SerperProvider struct {
	config SerperConfig
	client *http.Client
	log    *zap.Logger
}

type serperRequest struct {
	Q              string `json:"q"`
	Num            int    `json:"num"`
	Type           string `json:"type"`
	ExtractContent bool   `json:"extractContent"`
}

type serperResponse struct {
	Organic []struct {
		Title   string `json:"title"`
		Link    string `json:"link"`
		Snippet string `json:"snippet"`
		Content string `json:"content"`
	} `json:"organic"`
}

func NewSerperProvider(config SerperConfig) *SerperProvider {
	if config.BaseURL == "" {
		config.BaseURL = "https://google.serper.dev"
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	if config.Timeout <= 0 {
		config.Timeout = 20 * time.Second
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 3
	}
	return &SerperProvider{
		config: config,
		client: &http.Client{Timeout: config.Timeout},
		log:    logger.OrNop(config.Logger),
	}
}

func (p *SerperProvider) Name() string { return "serper" }

// Search posts the query and returns organic results in response order.
func (p *SerperProvider) Search(ctx context.Context, query string, numResults int) ([]models.SearchHit, error) {
	if p.config.APIKey == "" {
		return nil, ErrNoAPIKey
	}

	payload, err := json.Marshal(serperRequest{Q: query, Num: numResults, Type: "search", ExtractContent: true})
	if err != nil {
		return nil, fmt.Errorf("encoding search request: %w", err)
	}

	for attempt := 0; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.BaseURL+"/search", bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("creating request: %w", err)
		}
		req.Header.Set("X-API-KEY", p.config.APIKey)
		req.Header.Set("Content-Type", "application/json")

		resp, err := p.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("serper request: %w", err)
		}

		switch resp.StatusCode {
		case http.StatusOK:
			defer resp.Body.Close()
			return decodeSerper(resp.Body, numResults)

		case http.StatusPaymentRequired:
			drain(resp)
			return nil, ErrCreditsExhausted

		case http.StatusTooManyRequests:
			drain(resp)
			if attempt+1 >= p.config.MaxAttempts {
				return nil, fmt.Errorf("serper rate limited after %d attempts", attempt+1)
			}
			backoff := time.Duration(math.Pow(2, float64(attempt))) * retryBaseDelay
			backoff += rand.N(retryBaseDelay/2 + 1)
			p.log.Warn("search rate limited, retrying",
				zap.Int("attempt", attempt+1),
				zap.Duration("backoff", backoff))

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}

		default:
			drain(resp)
			return nil, fmt.Errorf("serper returned HTTP %d", resp.StatusCode)
		}
	}
}

func decodeSerper(r io.Reader, n int) ([]models.SearchHit, error) {
	var sr serperResponse
	if err := json.NewDecoder(r).Decode(&sr); err != nil {
		return nil, fmt.Errorf("parsing serper response: %w", err)
	}

	var hits []models.SearchHit
	for _, o := range sr.Organic {
		if len(hits) >= n {
			break
		}
		if !validURL(o.Link) {
			continue
		}
		hits = append(hits, models.SearchHit{
			Title:   strings.TrimSpace(o.Title),
			URL:     o.Link,
			Snippet: o.Snippet,
			Content: o.Content,
		})
	}
	return hits, nil
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))
	resp.Body.Close()
}
