// Package extractor turns a candidate URL into a Document, preferring text
// the search provider already returned, then a hosted extraction API, then a
// direct fetch of the page.
package extractor

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/xhad/datallama/internal/models"
	"github.com/xhad/datallama/pkg/chain"
	"github.com/xhad/datallama/pkg/logger"
	"github.com/xhad/datallama/pkg/processor"
	"github.com/xhad/datallama/pkg/scraper"
	"github.com/xhad/datallama/pkg/tracer"
)

// Fetcher downloads and parses a single page.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (scraper.Page, error)
}

// Hosted is a remote extraction service. It also returns a description that
// may be empty.
type Hosted interface {
	Extract(ctx context.Context, url string) (scraper.Page, string, error)
}

type ExtractorConfig struct {
	// MinInlineLength is the trimmed length inline text must exceed to be used as is.
	MinInlineLength int
	// MinTextLength is the trimmed length extracted text must exceed.
	MinTextLength int
	Hosted        Hosted
	Fetcher       Fetcher
	Processor     *processor.Processor
	Logger        *zap.Logger
}

type Extractor struct {
	config     ExtractorConfig
	strategies []chain.Strategy[input, models.Document]
	log        *zap.Logger
}

type input struct {
	url    string
	inline string
}

func NewWithConfig(config ExtractorConfig) *Extractor {
	if config.MinInlineLength == 0 {
		config.MinInlineLength = 100
	}
	if config.MinTextLength == 0 {
		config.MinTextLength = 50
	}
	if config.Fetcher == nil {
		config.Fetcher = scraper.NewWithConfig(scraper.ScraperConfig{Logger: config.Logger})
	}
	if config.Processor == nil {
		p := processor.NewWithConfig(processor.ProcessorConfig{})
		config.Processor = &p
	}

	e := &Extractor{config: config, log: logger.OrNop(config.Logger)}
	e.strategies = []chain.Strategy[input, models.Document]{
		{Name: "inline", Attempt: e.fromInline},
		{Name: "hosted", Attempt: e.fromHosted},
		{Name: "direct", Attempt: e.fromPage},
	}
	return e
}

// Extract returns a Document for url or an *ExtractionFailed carrying the
// most specific cause seen.
func (e *Extractor) Extract(ctx context.Context, url, inline string) (doc models.Document, err error) {
	ctx, span := tracer.Start(ctx, "extract")
	span.SetAttributes(attribute.String("url", url))
	defer func() { tracer.End(span, err) }()

	doc, strategy, err := chain.Run(ctx, input{url: url, inline: inline}, e.strategies...)
	if err == nil {
		e.log.Debug("extracted document",
			zap.String("url", url),
			zap.String("strategy", strategy),
			zap.Int("chars", utf8.RuneCountInString(doc.Text)))
		return doc, nil
	}

	failed := failure(url, err)
	e.log.Info("extraction failed",
		zap.String("url", url),
		zap.String("reason", string(failed.Reason)),
		zap.Error(failed.Err))
	return models.Document{URL: url, Error: failed.Message()}, failed
}

func (e *Extractor) fromInline(_ context.Context, in input) (models.Document, error) {
	text := strings.TrimSpace(in.inline)
	if utf8.RuneCountInString(text) <= e.config.MinInlineLength {
		return models.Document{}, chain.ErrSkip
	}
	return e.document(scraper.Page{URL: in.url, Text: text}), nil
}

func (e *Extractor) fromHosted(ctx context.Context, in input) (models.Document, error) {
	if e.config.Hosted == nil {
		return models.Document{}, chain.ErrSkip
	}

	page, description, err := e.config.Hosted.Extract(ctx, in.url)
	if errors.Is(err, ErrNoAPIKey) {
		return models.Document{}, chain.ErrSkip
	}
	if err != nil {
		return models.Document{}, err
	}
	if !e.longEnough(page.Text) {
		return models.Document{}, &ExtractionFailed{URL: in.url, Reason: ReasonTooShort}
	}

	doc := e.document(page)
	if strings.TrimSpace(description) != "" && doc.Summary == e.config.Processor.Fallback(doc.Text) {
		doc.Summary = strings.TrimSpace(description)
	}
	return doc, nil
}

func (e *Extractor) fromPage(ctx context.Context, in input) (models.Document, error) {
	page, err := e.config.Fetcher.Fetch(ctx, in.url)
	if err != nil {
		return models.Document{}, classify(in.url, err)
	}
	if !e.longEnough(page.Text) {
		return models.Document{}, &ExtractionFailed{URL: in.url, Reason: ReasonTooShort}
	}
	return e.document(page), nil
}

func (e *Extractor) longEnough(text string) bool {
	return utf8.RuneCountInString(strings.TrimSpace(text)) > e.config.MinTextLength
}

func (e *Extractor) document(page scraper.Page) models.Document {
	authors := page.Authors
	if authors == nil {
		authors = []string{}
	}
	text := strings.TrimSpace(page.Text)
	return models.Document{
		URL:         page.URL,
		Title:       strings.TrimSpace(page.Title),
		Authors:     authors,
		PublishDate: page.PublishDate,
		Text:        text,
		Summary:     e.config.Processor.Summarize(text),
	}
}

func failure(url string, err error) *ExtractionFailed {
	var exhausted *chain.Exhausted
	if errors.As(err, &exhausted) {
		if last := exhausted.Last(); last != nil {
			return classify(url, last)
		}
	}
	return classify(url, err)
}
