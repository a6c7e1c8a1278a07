// Package search finds candidate sources for a question, falling back from a
// web search API to the LLM and finally to a fixed catalog.
package search

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/xhad/datallama/internal/models"
	"github.com/xhad/datallama/pkg/chain"
	"github.com/xhad/datallama/pkg/logger"
	"github.com/xhad/datallama/pkg/tracer"
)

// Provider is one way of turning a query into ranked hits.
type Provider interface {
	Name() string
	Search(ctx context.Context, query string, numResults int) ([]models.SearchHit, error)
}

var (
	ErrNoAPIKey         = errors.New("search API key is not configured")
	ErrCreditsExhausted = errors.New("search API credits exhausted")
	ErrNoResults        = errors.New("provider returned no results")
)

// Chain tries each provider in order and returns the first non-empty result.
type Chain struct {
	strategies []chain.Strategy[request, []models.SearchHit]
	log        *zap.Logger
}

type request struct {
	query string
	n     int
}

// NewChain builds a fallback chain over providers, in priority order.
func NewChain(log *zap.Logger, providers ...Provider) *Chain {
	c := &Chain{log: logger.OrNop(log)}
	for _, p := range providers {
		c.strategies = append(c.strategies, chain.Strategy[request, []models.SearchHit]{
			Name:    p.Name(),
			Attempt: attempt(p),
		})
	}
	return c
}

func (c *Chain) Name() string { return "chain" }

// Search returns at most numResults hits from the first provider that yields any.
func (c *Chain) Search(ctx context.Context, query string, numResults int) (hits []models.SearchHit, err error) {
	ctx, span := tracer.Start(ctx, "search")
	defer func() { tracer.End(span, err) }()

	if numResults <= 0 {
		return nil, nil
	}

	hits, name, err := chain.Run(ctx, request{query: query, n: numResults}, c.strategies...)
	if err != nil {
		c.log.Warn("all search providers failed", zap.String("query", query), zap.Error(err))
		return nil, err
	}

	c.log.Info("search completed",
		zap.String("provider", name),
		zap.Int("hits", len(hits)))
	return hits, nil
}

func attempt(p Provider) func(context.Context, request) ([]models.SearchHit, error) {
	return func(ctx context.Context, req request) ([]models.SearchHit, error) {
		hits, err := p.Search(ctx, req.query, req.n)
		if errors.Is(err, ErrNoAPIKey) {
			return nil, chain.ErrSkip
		}
		if err != nil {
			return nil, err
		}
		if len(hits) == 0 {
			return nil, fmt.Errorf("%s: %w", p.Name(), ErrNoResults)
		}
		return truncate(hits, req.n), nil
	}
}

func truncate(hits []models.SearchHit, n int) []models.SearchHit {
	if len(hits) > n {
		return hits[:n]
	}
	return hits
}
