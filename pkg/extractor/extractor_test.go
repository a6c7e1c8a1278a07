package extractor

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xhad/datallama/pkg/scraper"
)

var longText = strings.Repeat("Product teams rank initiatives with RICE and classify features with Kano. ", 4)

type stubFetcher struct {
	page  scraper.Page
	err   error
	calls int
}

func (s *stubFetcher) Fetch(_ context.Context, url string) (scraper.Page, error) {
	s.calls++
	s.page.URL = url
	return s.page, s.err
}

type stubHosted struct {
	page  scraper.Page
	desc  string
	err   error
	calls int
}

func (s *stubHosted) Extract(_ context.Context, url string) (scraper.Page, string, error) {
	s.calls++
	s.page.URL = url
	return s.page, s.desc, s.err
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

var _ net.Error = timeoutErr{}

func TestExtractInlineSkipsNetwork(t *testing.T) {
	fetcher := &stubFetcher{}
	hosted := &stubHosted{}
	e := NewWithConfig(ExtractorConfig{Fetcher: fetcher, Hosted: hosted})

	doc, err := e.Extract(context.Background(), "https://a.example", "  "+longText+"  ")
	require.NoError(t, err)
	assert.Equal(t, strings.TrimSpace(longText), doc.Text)
	assert.Equal(t, "https://a.example", doc.URL)
	assert.NotEmpty(t, doc.Summary)
	assert.NotNil(t, doc.Authors)
	assert.Zero(t, fetcher.calls)
	assert.Zero(t, hosted.calls)
}

func TestExtractShortInlineFallsThrough(t *testing.T) {
	fetcher := &stubFetcher{page: scraper.Page{Title: "Fetched", Text: longText}}
	e := NewWithConfig(ExtractorConfig{Fetcher: fetcher})

	doc, err := e.Extract(context.Background(), "https://a.example", "too short")
	require.NoError(t, err)
	assert.Equal(t, "Fetched", doc.Title)
	assert.Equal(t, 1, fetcher.calls)
}

func TestExtractPrefersHosted(t *testing.T) {
	fetcher := &stubFetcher{}
	hosted := &stubHosted{page: scraper.Page{Title: "Hosted", Text: longText, Authors: []string{"A. Writer"}}}
	e := NewWithConfig(ExtractorConfig{Fetcher: fetcher, Hosted: hosted})

	doc, err := e.Extract(context.Background(), "https://a.example", "")
	require.NoError(t, err)
	assert.Equal(t, "Hosted", doc.Title)
	assert.Equal(t, []string{"A. Writer"}, doc.Authors)
	assert.Zero(t, fetcher.calls)
}

func TestExtractHostedInsufficientFallsThrough(t *testing.T) {
	fetcher := &stubFetcher{page: scraper.Page{Title: "Direct", Text: longText}}
	hosted := &stubHosted{page: scraper.Page{Text: "tiny"}}
	e := NewWithConfig(ExtractorConfig{Fetcher: fetcher, Hosted: hosted})

	doc, err := e.Extract(context.Background(), "https://a.example", "")
	require.NoError(t, err)
	assert.Equal(t, "Direct", doc.Title)
	assert.Equal(t, 1, hosted.calls)
	assert.Equal(t, 1, fetcher.calls)
}

func TestExtractHostedWithoutKeyIsSkipped(t *testing.T) {
	fetcher := &stubFetcher{page: scraper.Page{Text: longText}}
	e := NewWithConfig(ExtractorConfig{Fetcher: fetcher, Hosted: NewHostedClient(HostedConfig{})})

	_, err := e.Extract(context.Background(), "https://a.example", "")
	require.NoError(t, err)
	assert.Equal(t, 1, fetcher.calls)
}

func TestExtractFailureReasons(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		text   string
		reason Reason
		msg    string
	}{
		{"blocked", &scraper.StatusError{Code: http.StatusForbidden}, "", ReasonBlocked, "Site blocks access (403 Forbidden)"},
		{"not found", &scraper.StatusError{Code: http.StatusNotFound}, "", ReasonNotFound, "Page not found (404)"},
		{"server", &scraper.StatusError{Code: http.StatusBadGateway}, "", ReasonHTTPError, "HTTP error: 502"},
		{"deadline", context.DeadlineExceeded, "", ReasonTimeout, "Request timeout"},
		{"net timeout", timeoutErr{}, "", ReasonTimeout, "Request timeout"},
		{"connection", &net.OpError{Op: "dial", Err: errors.New("refused")}, "", ReasonConnection, "Connection failed"},
		{"too short", nil, "short text", ReasonTooShort, "Article content too short or empty"},
		{"other", errors.New("parse failure"), "", ReasonExtraction, "Content extraction error: parse failure"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fetcher := &stubFetcher{page: scraper.Page{Text: tt.text}, err: tt.err}
			e := NewWithConfig(ExtractorConfig{Fetcher: fetcher})

			doc, err := e.Extract(context.Background(), "https://a.example", "")

			var failed *ExtractionFailed
			require.ErrorAs(t, err, &failed)
			assert.Equal(t, tt.reason, failed.Reason)
			assert.Equal(t, tt.msg, failed.Message())
			assert.Equal(t, "https://a.example", failed.URL)
			assert.Equal(t, tt.msg, doc.Error)
			assert.False(t, doc.Usable())
		})
	}
}

func TestHostedClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "key", r.Header.Get("X-API-KEY"))

		var body hostedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "https://a.example/post", body.URL)

		_, _ = w.Write([]byte(`{"text":"` + strings.TrimSpace(longText) + `",
			"metadata":{"og:title":"Meta Title","author":"Sam","description":"About RICE",
			"article:published_time":"2024-05-01T00:00:00Z"}}`))
	}))
	defer srv.Close()

	c := NewHostedClient(HostedConfig{BaseURL: srv.URL, APIKey: "key"})
	page, desc, err := c.Extract(context.Background(), "https://a.example/post")
	require.NoError(t, err)
	assert.Equal(t, "Meta Title", page.Title)
	assert.Equal(t, []string{"Sam"}, page.Authors)
	assert.Equal(t, "About RICE", desc)
	require.NotNil(t, page.PublishDate)
	assert.Equal(t, 2024, page.PublishDate.Year())
	assert.Equal(t, strings.TrimSpace(longText), page.Text)
}

func TestHostedClientStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	c := NewHostedClient(HostedConfig{BaseURL: srv.URL, APIKey: "key"})
	_, _, err := c.Extract(context.Background(), "https://a.example")

	var statusErr *scraper.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusForbidden, statusErr.Code)
}
