package types

import (
	"context"

	"github.com/xhad/datallama/internal/models"
)

// Core interfaces shared by the pipeline stages.

// Completer sends one chat exchange to an LLM and returns its text.
type Completer interface {
	Complete(ctx context.Context, messages []models.Message, modelID string) (string, error)
}

// Searcher returns ranked candidate sources for a query.
type Searcher interface {
	Search(ctx context.Context, query string, numResults int) ([]models.SearchHit, error)
}

// Extractor turns a URL (and optional provider-supplied text) into a Document.
type Extractor interface {
	Extract(ctx context.Context, url, inline string) (models.Document, error)
}

// Embedder converts text into a vector for similarity lookups.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}
