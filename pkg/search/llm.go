package search

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/xhad/datallama/internal/models"
	"github.com/xhad/datallama/internal/types"
)

const linkListSystemPrompt = "You are a research assistant. Only return accessible, high-quality URLs with descriptive titles. " +
	"Focus on authoritative sources that allow content access."

const linkListPrompt = `Find reliable, accessible articles about: %s

Return %d high-quality URLs from reputable sources like:
- Medium, Harvard Business Review, McKinsey, Deloitte
- ProductPlan, Aha!, Roadmunk, UserVoice
- Academic institutions, government sites
- Well-known business and tech publications
- Avoid paywalled sites, sites that block scraping, or unreliable sources

Format exactly as:
1. Descriptive Article Title — https://example.com/full-url`

var urlRe = regexp.MustCompile(`https?://[^\s<>"')\]]+`)

// LLMProvider asks the model for a numbered "Title — URL" list.
type LLMProvider struct {
	completer types.Completer
	modelID   string
}

// NewLLMProvider searches via completer; an empty modelID uses the default model.
func NewLLMProvider(completer types.Completer, modelID string) *LLMProvider {
	return &LLMProvider{completer: completer, modelID: modelID}
}

func (p *LLMProvider) Name() string { return "llm" }

func (p *LLMProvider) Search(ctx context.Context, query string, numResults int) ([]models.SearchHit, error) {
	text, err := p.completer.Complete(ctx, []models.Message{
		{Role: models.RoleSystem, Content: linkListSystemPrompt},
		{Role: models.RoleUser, Content: fmt.Sprintf(linkListPrompt, query, numResults)},
	}, p.modelID)
	if err != nil {
		return nil, fmt.Errorf("llm search: %w", err)
	}
	return ParseLinkList(text, numResults), nil
}

// ParseLinkList extracts up to n hits from lines shaped "1. Title — URL".
// Lines without the separator fall back to the first URL on the line. Lines
// without a valid http(s) URL are skipped.
func ParseLinkList(text string, n int) []models.SearchHit {
	var hits []models.SearchHit
	for _, line := range strings.Split(text, "\n") {
		if len(hits) >= n {
			break
		}
		line = strings.TrimSpace(line)
		if line == "" || !strings.Contains(line, "http") {
			continue
		}

		if title, link, ok := strings.Cut(line, "—"); ok {
			link = cleanURL(link)
			if !validURL(link) {
				continue
			}
			hits = append(hits, models.SearchHit{Title: cleanTitle(title), URL: link})
			continue
		}

		raw := urlRe.FindString(line)
		link := cleanURL(raw)
		if !validURL(link) {
			continue
		}
		title := cleanTitle(strings.Replace(line, raw, "", 1))
		title = strings.TrimRight(title, " -:")
		if title == "" {
			title = "Article"
		}
		hits = append(hits, models.SearchHit{Title: title, URL: link})
	}
	return hits
}

func cleanTitle(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimLeft(s, "0123456789.-)* ")
	s = strings.Trim(s, "*_\"")
	return strings.TrimSpace(s)
}

func cleanURL(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, "<>()[]\"'")
	return strings.TrimRight(s, ".,;")
}

func validURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
