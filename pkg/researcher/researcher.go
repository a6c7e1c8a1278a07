// Package researcher gathers the documents an answer is synthesized from:
// it over-fetches search candidates, extracts as many as it can, and tops up
// with generated material when too few sources survive.
package researcher

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/xhad/datallama/internal/models"
	"github.com/xhad/datallama/internal/types"
	"github.com/xhad/datallama/pkg/extractor"
	"github.com/xhad/datallama/pkg/logger"
	"github.com/xhad/datallama/pkg/tracer"
)

type ResearcherConfig struct {
	Searcher  types.Searcher
	Extractor types.Extractor
	Generator Generator
	// TopK is used when Run is called with a non-positive topK.
	TopK   int
	Logger *zap.Logger
}

type Researcher struct {
	config ResearcherConfig
	log    *zap.Logger
}

// Report summarizes what happened during a run.
type Report struct {
	Candidates int               `json:"candidates"`
	Real       int               `json:"real"`
	Synthetic  int               `json:"synthetic"`
	Failed     []string          `json:"failed,omitempty"`
	Reasons    map[string]string `json:"reasons,omitempty"`
	SearchErr  string            `json:"search_error,omitempty"`
}

func NewWithConfig(config ResearcherConfig) (*Researcher, error) {
	if config.Searcher == nil {
		return nil, fmt.Errorf("searcher is required")
	}
	if config.Extractor == nil {
		return nil, fmt.Errorf("extractor is required")
	}
	if config.Generator == nil {
		return nil, fmt.Errorf("generator is required")
	}
	if config.TopK <= 0 {
		config.TopK = 5
	}
	return &Researcher{config: config, log: logger.OrNop(config.Logger)}, nil
}

// Floor is the minimum number of documents a run returns for topK: two, or
// three when topK allows, and never more than topK.
func Floor(topK int) int {
	if topK < 1 {
		return 1
	}
	return min(topK, 3)
}

// Run returns between Floor(topK) and topK documents for query, real sources
// first. It never fails; search and extraction problems are recorded in the
// Report. obs may be nil.
func (r *Researcher) Run(ctx context.Context, query string, topK int, obs Observer) ([]models.Document, Report) {
	if topK <= 0 {
		topK = r.config.TopK
	}
	if obs == nil {
		obs = nopObserver{}
	}

	ctx, span := tracer.Start(ctx, "research")
	span.SetAttributes(attribute.String("query", query), attribute.Int("top_k", topK))
	defer span.End()

	var report Report
	r.log.Info("starting research", zap.String("query", query), zap.Int("top_k", topK))
	obs.OnEvent(Event{Type: EventSearchStarted, Message: "Searching for sources", Target: topK})

	hits, err := r.config.Searcher.Search(ctx, query, topK*2)
	if err != nil {
		report.SearchErr = err.Error()
		r.log.Warn("search failed, continuing without candidates", zap.Error(err))
		hits = nil
	}
	report.Candidates = len(hits)
	obs.OnEvent(Event{
		Type:    EventSearchDone,
		Message: fmt.Sprintf("Found %d potential sources", len(hits)),
		Target:  topK,
	})

	var selected []models.Document
	seen := make(map[string]bool)
	failed := make(map[string]bool)

	for _, hit := range hits {
		if len(selected) >= topK || ctx.Err() != nil {
			break
		}
		if seen[hit.URL] {
			continue
		}
		seen[hit.URL] = true

		obs.OnEvent(Event{Type: EventFetching, URL: hit.URL, Title: hit.Title, Collected: len(selected), Target: topK})
		doc, err := r.config.Extractor.Extract(ctx, hit.URL, hit.Content)
		if err == nil && !doc.Usable() {
			err = &extractor.ExtractionFailed{URL: hit.URL, Reason: extractor.ReasonTooShort}
		}
		if err != nil {
			if !failed[hit.URL] {
				failed[hit.URL] = true
				report.Failed = append(report.Failed, hit.URL)
			}
			if report.Reasons == nil {
				report.Reasons = make(map[string]string)
			}
			report.Reasons[hit.URL] = reason(err)
			r.log.Warn("failed to fetch source", zap.String("url", hit.URL), zap.Error(err))
			obs.OnEvent(Event{Type: EventFailed, URL: hit.URL, Title: hit.Title, Message: reason(err), Collected: len(selected), Target: topK})
			continue
		}

		doc.SourceSnippet = hit.Title
		if doc.Title == "" {
			doc.Title = hit.Title
		}
		selected = append(selected, doc)
		report.Real++
		obs.OnEvent(Event{Type: EventFetched, URL: hit.URL, Title: doc.DisplayTitle(), Collected: len(selected), Target: topK})
	}

	for floor := Floor(topK); len(selected) < floor; {
		url := fmt.Sprintf("%s%d", models.SyntheticURLPrefix, len(selected)+1)
		r.log.Info("too few sources, generating synthetic content",
			zap.Int("collected", len(selected)),
			zap.Int("floor", floor))

		doc := r.config.Generator.Generate(ctx, query, url)
		doc.URL = url
		doc.Synthetic = true
		selected = append(selected, doc)
		report.Synthetic++
		obs.OnEvent(Event{Type: EventSynthetic, URL: url, Title: doc.DisplayTitle(), Collected: len(selected), Target: topK})
	}

	r.log.Info("research completed",
		zap.Int("sources", len(selected)),
		zap.Int("synthetic", report.Synthetic),
		zap.Int("failed", len(report.Failed)))
	obs.OnEvent(Event{
		Type:      EventDone,
		Message:   fmt.Sprintf("Retrieved %d sources, %d failed", len(selected), len(report.Failed)),
		Collected: len(selected),
		Target:    topK,
	})
	return selected, report
}

func reason(err error) string {
	var failed *extractor.ExtractionFailed
	if errors.As(err, &failed) {
		return failed.Message()
	}
	return err.Error()
}
