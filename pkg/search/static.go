package search

import (
	"context"
	"fmt"

	"github.com/xhad/datallama/internal/models"
)

// StaticProvider returns well-known publication homepages titled for the
// query. It never fails.
type StaticProvider struct{}

func (StaticProvider) Name() string { return "static" }

func (StaticProvider) Search(_ context.Context, query string, numResults int) ([]models.SearchHit, error) {
	hits := []models.SearchHit{
		{Title: fmt.Sprintf("Harvard Business Review insights on %s", query), URL: "https://hbr.org"},
		{Title: fmt.Sprintf("McKinsey analysis of %s", query), URL: "https://mckinsey.com"},
		{Title: fmt.Sprintf("Medium articles about %s", query), URL: "https://medium.com"},
	}
	return truncate(hits, numResults), nil
}
