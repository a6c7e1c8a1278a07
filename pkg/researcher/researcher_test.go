package researcher

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xhad/datallama/internal/models"
	"github.com/xhad/datallama/pkg/extractor"
	"github.com/xhad/datallama/pkg/llm"
)

type searcherFunc func(ctx context.Context, query string, n int) ([]models.SearchHit, error)

func (f searcherFunc) Search(ctx context.Context, query string, n int) ([]models.SearchHit, error) {
	return f(ctx, query, n)
}

type extractorFunc func(ctx context.Context, url, inline string) (models.Document, error)

func (f extractorFunc) Extract(ctx context.Context, url, inline string) (models.Document, error) {
	return f(ctx, url, inline)
}

type completerFunc func(ctx context.Context, messages []models.Message, modelID string) (string, error)

func (f completerFunc) Complete(ctx context.Context, messages []models.Message, modelID string) (string, error) {
	return f(ctx, messages, modelID)
}

type detailedFunc func(ctx context.Context, messages []models.Message, modelID string) (llm.Completion, error)

func (f detailedFunc) Complete(ctx context.Context, messages []models.Message, modelID string) (string, error) {
	out, err := f(ctx, messages, modelID)
	return out.Text, err
}

func (f detailedFunc) CompleteDetailed(ctx context.Context, messages []models.Message, modelID string) (llm.Completion, error) {
	return f(ctx, messages, modelID)
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) OnEvent(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) count(t EventType) int {
	n := 0
	for _, e := range r.events {
		if e.Type == t {
			n++
		}
	}
	return n
}

func hitsFor(n int) []models.SearchHit {
	hits := make([]models.SearchHit, n)
	for i := range hits {
		hits[i] = models.SearchHit{Title: fmt.Sprintf("Source %d", i+1), URL: fmt.Sprintf("https://s%d.example", i+1)}
	}
	return hits
}

func okExtractor() extractorFunc {
	return func(_ context.Context, url, _ string) (models.Document, error) {
		return models.Document{URL: url, Text: "extracted text for " + url}, nil
	}
}

func alwaysFailing() (searcherFunc, extractorFunc) {
	s := func(context.Context, string, int) ([]models.SearchHit, error) {
		return nil, errors.New("search down")
	}
	e := func(_ context.Context, url, _ string) (models.Document, error) {
		return models.Document{}, &extractor.ExtractionFailed{URL: url, Reason: extractor.ReasonBlocked}
	}
	return s, e
}

func newTestResearcher(t *testing.T, s searcherFunc, e extractorFunc, c completerFunc) *Researcher {
	t.Helper()
	r, err := NewWithConfig(ResearcherConfig{
		Searcher:  s,
		Extractor: e,
		Generator: NewSyntheticGenerator(c, "", nil),
	})
	require.NoError(t, err)
	return r
}

func generated(context.Context, []models.Message, string) (string, error) {
	return "Generated business analysis.", nil
}

func TestFloor(t *testing.T) {
	assert.Equal(t, 1, Floor(1))
	assert.Equal(t, 2, Floor(2))
	assert.Equal(t, 3, Floor(3))
	assert.Equal(t, 3, Floor(10))
	assert.Equal(t, 1, Floor(0))
}

func TestRunCollectsTopK(t *testing.T) {
	var requested int
	s := searcherFunc(func(_ context.Context, _ string, n int) ([]models.SearchHit, error) {
		requested = n
		return hitsFor(n), nil
	})
	r := newTestResearcher(t, s, okExtractor(), generated)

	docs, report := r.Run(context.Background(), "pricing", 3, nil)

	assert.Equal(t, 6, requested)
	require.Len(t, docs, 3)
	for i, d := range docs {
		assert.Equal(t, fmt.Sprintf("https://s%d.example", i+1), d.URL)
		assert.Equal(t, fmt.Sprintf("Source %d", i+1), d.SourceSnippet)
		assert.Equal(t, fmt.Sprintf("Source %d", i+1), d.Title)
		assert.False(t, d.Synthetic)
	}
	assert.Equal(t, 3, report.Real)
	assert.Zero(t, report.Synthetic)
}

func TestRunSkipsFailuresAndKeepsOrder(t *testing.T) {
	s := searcherFunc(func(context.Context, string, int) ([]models.SearchHit, error) {
		hits := hitsFor(5)
		hits = append(hits, hits[0])
		return hits, nil
	})
	e := extractorFunc(func(_ context.Context, url, _ string) (models.Document, error) {
		if url == "https://s1.example" || url == "https://s3.example" {
			return models.Document{}, &extractor.ExtractionFailed{URL: url, Reason: extractor.ReasonNotFound}
		}
		return models.Document{URL: url, Title: "T " + url, Text: "body"}, nil
	})
	r := newTestResearcher(t, s, e, generated)
	rec := &recorder{}

	docs, report := r.Run(context.Background(), "pricing", 5, rec)

	require.Len(t, docs, 3)
	assert.Equal(t, "https://s2.example", docs[0].URL)
	assert.Equal(t, "https://s4.example", docs[1].URL)
	assert.Equal(t, "https://s5.example", docs[2].URL)
	assert.Equal(t, []string{"https://s1.example", "https://s3.example"}, report.Failed)
	assert.Equal(t, "Page not found (404)", report.Reasons["https://s1.example"])
	assert.Equal(t, 2, rec.count(EventFailed))
	assert.Equal(t, 3, rec.count(EventFetched))
	assert.Equal(t, EventDone, rec.events[len(rec.events)-1].Type)
}

func TestRunTotalCollapseReturnsSynthetic(t *testing.T) {
	for _, topK := range []int{1, 2, 3, 5} {
		t.Run(fmt.Sprintf("top_k=%d", topK), func(t *testing.T) {
			s, e := alwaysFailing()
			r := newTestResearcher(t, s, e, generated)

			docs, report := r.Run(context.Background(), "pricing", topK, nil)

			assert.GreaterOrEqual(t, len(docs), min(2, topK))
			assert.LessOrEqual(t, len(docs), topK)
			assert.Equal(t, len(docs), report.Synthetic)
			assert.NotEmpty(t, report.SearchErr)
			for i, d := range docs {
				assert.True(t, d.Synthetic)
				assert.Equal(t, fmt.Sprintf("generated://content/%d", i+1), d.URL)
				assert.NotEmpty(t, d.Text)
			}
		})
	}
}

func TestRunToppedUpAfterRealDocuments(t *testing.T) {
	s := searcherFunc(func(context.Context, string, int) ([]models.SearchHit, error) {
		return hitsFor(2), nil
	})
	e := extractorFunc(func(_ context.Context, url, _ string) (models.Document, error) {
		if url == "https://s2.example" {
			return models.Document{}, &extractor.ExtractionFailed{URL: url, Reason: extractor.ReasonTimeout}
		}
		return models.Document{URL: url, Text: "body"}, nil
	})
	r := newTestResearcher(t, s, e, generated)

	docs, _ := r.Run(context.Background(), "pricing", 5, nil)

	require.Len(t, docs, 3)
	assert.False(t, docs[0].Synthetic)
	assert.True(t, docs[1].Synthetic)
	assert.Equal(t, "generated://content/2", docs[1].URL)
	assert.Equal(t, "generated://content/3", docs[2].URL)
}

func TestRunUnusableDocumentCountsAsFailure(t *testing.T) {
	s := searcherFunc(func(context.Context, string, int) ([]models.SearchHit, error) {
		return hitsFor(1), nil
	})
	e := extractorFunc(func(_ context.Context, url, _ string) (models.Document, error) {
		return models.Document{URL: url, Text: "   "}, nil
	})
	r := newTestResearcher(t, s, e, generated)

	docs, report := r.Run(context.Background(), "pricing", 2, nil)

	assert.Len(t, docs, 2)
	assert.Equal(t, []string{"https://s1.example"}, report.Failed)
}

func TestSyntheticGenerator(t *testing.T) {
	var prompt string
	g := NewSyntheticGenerator(completerFunc(func(_ context.Context, messages []models.Message, _ string) (string, error) {
		prompt = messages[1].Content
		return strings.Repeat("x", 400), nil
	}), "", nil)

	doc := g.Generate(context.Background(), "OKRs", "generated://content/1")

	assert.Contains(t, prompt, "OKRs")
	assert.Equal(t, "Business Analysis: OKRs", doc.Title)
	assert.Equal(t, []string{SyntheticAuthor}, doc.Authors)
	assert.Equal(t, strings.Repeat("x", 300)+"...", doc.Summary)
	assert.True(t, doc.Synthetic)
	assert.Empty(t, doc.Error)
}

func TestSyntheticGeneratorFallsBackToStatic(t *testing.T) {
	g := NewSyntheticGenerator(completerFunc(func(context.Context, []models.Message, string) (string, error) {
		return "", errors.New("model unavailable")
	}), "", nil)

	doc := g.Generate(context.Background(), "OKRs", "generated://content/2")

	assert.True(t, doc.Synthetic)
	assert.Equal(t, "synthetic_generation_failed", doc.Error)
	assert.Contains(t, doc.Text, "This analysis covers key aspects of OKRs.")
	assert.Equal(t, "General analysis of OKRs concepts and applications.", doc.Summary)
	assert.True(t, doc.Usable())
}

func TestSyntheticGeneratorIgnoresDegradedReply(t *testing.T) {
	model := llm.DefaultRegistry().Default()
	g := NewSyntheticGenerator(detailedFunc(func(context.Context, []models.Message, string) (llm.Completion, error) {
		return llm.Completion{
			Text:     llm.DegradedResponse(model, errors.New("429 too many requests")),
			Model:    model.ID,
			Degraded: true,
		}, nil
	}), "", nil)

	doc := g.Generate(context.Background(), "What is a moat?", "generated://content/1")

	assert.Equal(t, "Information about What is a moat?", doc.Title)
	assert.Equal(t, "synthetic_generation_failed", doc.Error)
	assert.NotContains(t, doc.Text, "temporarily unavailable")
	assert.True(t, doc.Synthetic)
}
