package extractor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/xhad/datallama/pkg/scraper"
)

var ErrNoAPIKey = errors.New("extraction API key is not configured")

// HostedConfig configures the hosted extraction API.
type HostedConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// HostedClient calls a scraping API that returns cleaned article text.
type HostedClient struct {
	config HostedConfig
	client *http.Client
}

type hostedRequest struct {
	URL            string `json:"url"`
	ExtractContent bool   `json:"extractContent"`
}

type hostedResponse struct {
	Title       string   `json:"title"`
	Authors     []string `json:"authors"`
	PublishDate string   `json:"publishDate"`
	Text        string   `json:"text"`
	Content     string   `json:"content"`
	Description string   `json:"description"`
	Metadata    struct {
		Title       string `json:"title"`
		OGTitle     string `json:"og:title"`
		Author      string `json:"author"`
		Description string `json:"description"`
		Published   string `json:"article:published_time"`
	} `json:"metadata"`
}

func NewHostedClient(config HostedConfig) *HostedClient {
	if config.BaseURL == "" {
		config.BaseURL = "https://scrape.serper.dev"
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	if config.Timeout <= 0 {
		config.Timeout = 15 * time.Second
	}
	return &HostedClient{
		config: config,
		client: &http.Client{Timeout: config.Timeout},
	}
}

// Extract asks the API for url's content. Non-200 replies are *scraper.StatusError.
func (c *HostedClient) Extract(ctx context.Context, url string) (scraper.Page, string, error) {
	if c.config.APIKey == "" {
		return scraper.Page{}, "", ErrNoAPIKey
	}

	payload, err := json.Marshal(hostedRequest{URL: url, ExtractContent: true})
	if err != nil {
		return scraper.Page{}, "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL, bytes.NewReader(payload))
	if err != nil {
		return scraper.Page{}, "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("X-API-KEY", c.config.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return scraper.Page{}, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))
		return scraper.Page{}, "", &scraper.StatusError{URL: url, Code: resp.StatusCode}
	}

	var hr hostedResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 5<<20)).Decode(&hr); err != nil {
		return scraper.Page{}, "", fmt.Errorf("parsing extraction response: %w", err)
	}

	page := scraper.Page{
		URL:     url,
		Title:   firstNonEmpty(hr.Title, hr.Metadata.OGTitle, hr.Metadata.Title),
		Authors: hr.Authors,
		Text:    strings.TrimSpace(firstNonEmpty(hr.Text, hr.Content)),
	}
	if len(page.Authors) == 0 && hr.Metadata.Author != "" {
		page.Authors = []string{hr.Metadata.Author}
	}
	if t, err := time.Parse(time.RFC3339, firstNonEmpty(hr.PublishDate, hr.Metadata.Published)); err == nil {
		page.PublishDate = &t
	}
	return page, firstNonEmpty(hr.Description, hr.Metadata.Description), nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
