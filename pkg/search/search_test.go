package search

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xhad/datallama/internal/models"
)

func init() {
	retryBaseDelay = time.Millisecond
}

type completerFunc func(ctx context.Context, messages []models.Message, modelID string) (string, error)

func (f completerFunc) Complete(ctx context.Context, messages []models.Message, modelID string) (string, error) {
	return f(ctx, messages, modelID)
}

type stubProvider struct {
	name  string
	hits  []models.SearchHit
	err   error
	calls int
}

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) Search(context.Context, string, int) ([]models.SearchHit, error) {
	s.calls++
	return s.hits, s.err
}

func serperServer(t *testing.T, handler http.HandlerFunc) (*SerperProvider, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		handler(w, r)
	}))
	t.Cleanup(srv.Close)
	return NewSerperProvider(SerperConfig{BaseURL: srv.URL, APIKey: "key"}), &hits
}

func TestSerperSearch(t *testing.T) {
	p, _ := serperServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search", r.URL.Path)
		assert.Equal(t, "key", r.Header.Get("X-API-KEY"))

		var body serperRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "rice vs kano", body.Q)
		assert.Equal(t, 2, body.Num)

		_, _ = w.Write([]byte(`{"organic":[
			{"title":"RICE","link":"https://a.example/rice","snippet":"s1","content":"long text"},
			{"title":"bad","link":"ftp://nope"},
			{"title":"Kano","link":"https://b.example/kano"},
			{"title":"Extra","link":"https://c.example"}
		]}`))
	})

	hits, err := p.Search(context.Background(), "rice vs kano", 2)
	require.NoError(t, err)
	assert.Equal(t, []models.SearchHit{
		{Title: "RICE", URL: "https://a.example/rice", Snippet: "s1", Content: "long text"},
		{Title: "Kano", URL: "https://b.example/kano"},
	}, hits)
}

func TestSerperRetriesRateLimit(t *testing.T) {
	var calls atomic.Int32
	p, _ := serperServer(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"organic":[{"title":"ok","link":"https://ok.example"}]}`))
	})

	hits, err := p.Search(context.Background(), "q", 5)
	require.NoError(t, err)
	assert.Len(t, hits, 1)
	assert.EqualValues(t, 3, calls.Load())
}

func TestSerperRateLimitExhausted(t *testing.T) {
	p, hits := serperServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := p.Search(context.Background(), "q", 5)
	assert.Error(t, err)
	assert.EqualValues(t, 3, hits.Load())
}

func TestSerperPaymentRequiredStopsImmediately(t *testing.T) {
	p, hits := serperServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
	})

	_, err := p.Search(context.Background(), "q", 5)
	assert.ErrorIs(t, err, ErrCreditsExhausted)
	assert.EqualValues(t, 1, hits.Load())
}

func TestSerperNoAPIKey(t *testing.T) {
	p := NewSerperProvider(SerperConfig{})
	_, err := p.Search(context.Background(), "q", 5)
	assert.ErrorIs(t, err, ErrNoAPIKey)
}

func TestParseLinkList(t *testing.T) {
	text := `Here are some sources:
1. RICE Scoring Explained — https://www.productplan.com/glossary/rice-scoring-model/
2. **Kano Model Guide** — https://www.interaction-design.org/literature/kano
3. Broken — not a url http
4. Kano vs RICE https://medium.com/@pm/kano-vs-rice.
5. https://hbr.org/2020/prioritization
6. Relative path — /just/a/path http`

	hits := ParseLinkList(text, 10)
	assert.Equal(t, []models.SearchHit{
		{Title: "RICE Scoring Explained", URL: "https://www.productplan.com/glossary/rice-scoring-model/"},
		{Title: "Kano Model Guide", URL: "https://www.interaction-design.org/literature/kano"},
		{Title: "Kano vs RICE", URL: "https://medium.com/@pm/kano-vs-rice"},
		{Title: "Article", URL: "https://hbr.org/2020/prioritization"},
	}, hits)

	assert.Len(t, ParseLinkList(text, 2), 2)
	assert.Empty(t, ParseLinkList("no links here", 5))
}

func TestLLMProvider(t *testing.T) {
	p := NewLLMProvider(completerFunc(func(_ context.Context, messages []models.Message, _ string) (string, error) {
		require.Len(t, messages, 2)
		assert.Contains(t, messages[1].Content, "pricing strategy")
		return "1. Pricing — https://a.example\n2. More — https://b.example", nil
	}), "")

	hits, err := p.Search(context.Background(), "pricing strategy", 1)
	require.NoError(t, err)
	assert.Equal(t, []models.SearchHit{{Title: "Pricing", URL: "https://a.example"}}, hits)
}

func TestStaticProvider(t *testing.T) {
	hits, err := StaticProvider{}.Search(context.Background(), "OKRs", 5)
	require.NoError(t, err)
	require.Len(t, hits, 3)
	assert.Equal(t, "Harvard Business Review insights on OKRs", hits[0].Title)
	assert.Equal(t, "https://hbr.org", hits[0].URL)

	hits, _ = StaticProvider{}.Search(context.Background(), "OKRs", 2)
	assert.Len(t, hits, 2)
}

func TestChainFallsThrough(t *testing.T) {
	primary := &stubProvider{name: "primary", err: ErrCreditsExhausted}
	secondary := &stubProvider{name: "secondary"}
	c := NewChain(nil, primary, secondary, StaticProvider{})

	hits, err := c.Search(context.Background(), "q", 2)
	require.NoError(t, err)
	assert.Len(t, hits, 2)
	assert.Equal(t, "https://hbr.org", hits[0].URL)
	assert.Equal(t, 1, primary.calls)
	assert.Equal(t, 1, secondary.calls)
}

func TestChainSkipsMissingKey(t *testing.T) {
	primary := &stubProvider{name: "primary", err: ErrNoAPIKey}
	secondary := &stubProvider{name: "secondary", hits: []models.SearchHit{
		{URL: "https://1.example"}, {URL: "https://2.example"}, {URL: "https://3.example"},
	}}
	c := NewChain(nil, primary, secondary)

	hits, err := c.Search(context.Background(), "q", 2)
	require.NoError(t, err)
	assert.Equal(t, []models.SearchHit{{URL: "https://1.example"}, {URL: "https://2.example"}}, hits)
}

func TestChainAllFail(t *testing.T) {
	boom := errors.New("boom")
	c := NewChain(nil, &stubProvider{name: "a", err: boom})

	_, err := c.Search(context.Background(), "q", 3)
	assert.ErrorIs(t, err, boom)
}
