package scraper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xhad/datallama/pkg/logger"
)

// backoffBase controls the base duration for exponential backoff between
// fetch attempts. Tests override this to avoid real sleeps.
var backoffBase = time.Second

const maxPageBytes = 5 << 20

type ScraperConfig struct {
	RateLimit   float64 // requests per second
	Timeout     time.Duration
	MaxAttempts int
	UserAgent   string
	// IgnoreSelectors are removed from the page before text extraction.
	IgnoreSelectors []string
	OnProgress      func(url string)
	Logger          *zap.Logger
}

// Scraper fetches single article pages and parses them into a Page.
type Scraper struct {
	config  ScraperConfig
	client  *http.Client
	limiter *rate.Limiter
	log     *zap.Logger
}

// Page is the parsed content of one fetched URL.
type Page struct {
	URL         string
	Title       string
	Authors     []string
	PublishDate *time.Time
	Text        string
	ContentType string
}

// StatusError is a non-200 response from the page's server.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("received status code %d for URL: %s", e.Code, e.URL)
}

var defaultIgnoreSelectors = []string{
	"script", "style", "noscript", "iframe", "svg",
	"header", "footer", "aside", "form", "nav",
	"[role=navigation]", "[aria-hidden=true]",
	".cookie", ".cookies", ".newsletter", ".advertisement", ".share", ".social",
}

var browserHeaders = map[string]string{
	"Accept":                    "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8",
	"Accept-Language":           "en-US,en;q=0.9",
	"DNT":                       "1",
	"Upgrade-Insecure-Requests": "1",
	"Sec-Fetch-Dest":            "document",
	"Sec-Fetch-Mode":            "navigate",
	"Sec-Fetch-Site":            "none",
	"Cache-Control":             "max-age=0",
}

func NewWithConfig(config ScraperConfig) *Scraper {
	if config.Timeout == 0 {
		config.Timeout = 15 * time.Second
	}
	if config.RateLimit == 0 {
		config.RateLimit = 2 // 2 requests per second by default
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 3
	}
	if config.UserAgent == "" {
		config.UserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	}
	if len(config.IgnoreSelectors) == 0 {
		config.IgnoreSelectors = defaultIgnoreSelectors
	}

	return &Scraper{
		config: config,
		client: &http.Client{
			Timeout: config.Timeout,
		},
		limiter: rate.NewLimiter(rate.Limit(config.RateLimit), 1),
		log:     logger.OrNop(config.Logger),
	}
}

func New() *Scraper {
	return NewWithConfig(ScraperConfig{})
}

// Fetch downloads rawURL and parses it. Network errors and 5xx responses are
// retried with exponential backoff; other statuses fail at once.
func (s *Scraper) Fetch(ctx context.Context, rawURL string) (Page, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return Page{}, fmt.Errorf("invalid URL %q", rawURL)
	}

	if s.config.OnProgress != nil {
		s.config.OnProgress(rawURL)
	}

	var lastErr error
	for attempt := 0; attempt < s.config.MaxAttempts; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(math.Pow(2, float64(attempt-1))) * backoffBase
			select {
			case <-ctx.Done():
				return Page{}, ctx.Err()
			case <-time.After(backoff):
			}
		}

		page, err := s.fetchOnce(ctx, rawURL)
		if err == nil {
			return page, nil
		}
		lastErr = err
		if !retryable(err) || ctx.Err() != nil {
			break
		}
		s.log.Debug("fetch failed, retrying",
			zap.String("url", rawURL),
			zap.Int("attempt", attempt+1),
			zap.Error(err))
	}
	return Page{}, lastErr
}

func (s *Scraper) fetchOnce(ctx context.Context, rawURL string) (Page, error) {
	// Apply rate limiting
	if err := s.limiter.Wait(ctx); err != nil {
		return Page{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return Page{}, err
	}
	req.Header.Set("User-Agent", s.config.UserAgent)
	for k, v := range browserHeaders {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return Page{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))
		return Page{}, &StatusError{URL: rawURL, Code: resp.StatusCode}
	}

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return Page{}, err
	}

	page := s.Parse(doc)
	page.URL = rawURL
	page.ContentType = resp.Header.Get("Content-Type")
	return page, nil
}

// Parse extracts title, authors, publish date and body text from doc.
func (s *Scraper) Parse(doc *goquery.Document) Page {
	page := Page{
		Title:       extractTitle(doc),
		Authors:     extractAuthors(doc),
		PublishDate: extractPublishDate(doc),
	}

	for _, sel := range s.config.IgnoreSelectors {
		doc.Find(sel).Remove()
	}
	page.Text = s.extractMainContent(doc)
	return page
}

func retryable(err error) bool {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Code >= 500 || statusErr.Code == http.StatusTooManyRequests
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

func (s *Scraper) cleanContent(content string) string {
	// Remove extra whitespace
	content = strings.Join(strings.Fields(content), " ")

	// Remove common noise
	noisePatterns := []string{
		"Cookie Policy",
		"Accept Cookies",
		"Accept all cookies",
		"Privacy Policy",
		"Terms of Service",
		"Subscribe to our newsletter",
	}

	for _, pattern := range noisePatterns {
		content = strings.ReplaceAll(content, pattern, "")
	}

	return strings.TrimSpace(content)
}

func (s *Scraper) extractMainContent(doc *goquery.Document) string {
	// Try to find main content area
	selectors := []string{
		"article",
		"main",
		"[role=main]",
		"[itemprop=articleBody]",
		".post-content",
		".entry-content",
		".article-body",
		".content",
		"#content",
	}

	for _, selector := range selectors {
		selected := doc.Find(selector).First()
		if selected.Length() == 0 {
			continue
		}
		if content := s.paragraphs(selected); len(content) >= 200 {
			return content
		}
	}

	// Fall back to every paragraph on the page, then the raw body text
	if content := s.paragraphs(doc.Find("body")); content != "" {
		return content
	}
	return s.cleanContent(doc.Find("body").Text())
}

// paragraphs joins the headings, paragraphs and list items under sel, one per
// line, or sel's flattened text when it has none.
func (s *Scraper) paragraphs(sel *goquery.Selection) string {
	var parts []string
	sel.Find("h1, h2, h3, p, li, blockquote").Each(func(_ int, n *goquery.Selection) {
		if n.ParentsFiltered("p, li, blockquote").Length() > 0 {
			return
		}
		if text := s.cleanContent(n.Text()); text != "" {
			parts = append(parts, text)
		}
	})
	if len(parts) == 0 {
		return s.cleanContent(sel.Text())
	}
	return strings.Join(parts, "\n")
}

func extractTitle(doc *goquery.Document) string {
	candidates := []string{
		attr(doc, `meta[property="og:title"]`, "content"),
		doc.Find("title").First().Text(),
		doc.Find("h1").First().Text(),
	}
	for _, c := range candidates {
		if c = strings.Join(strings.Fields(c), " "); c != "" {
			return c
		}
	}
	return ""
}

func extractAuthors(doc *goquery.Document) []string {
	var authors []string
	seen := make(map[string]bool)
	add := func(name string) {
		name = strings.Join(strings.Fields(name), " ")
		name = strings.TrimPrefix(name, "By ")
		name = strings.TrimPrefix(name, "by ")
		if name == "" || len(name) > 100 || strings.HasPrefix(name, "http") || seen[name] {
			return
		}
		seen[name] = true
		authors = append(authors, name)
	}

	doc.Find(`meta[name="author"], meta[property="article:author"]`).Each(func(_ int, n *goquery.Selection) {
		if v, ok := n.Attr("content"); ok {
			add(v)
		}
	})
	doc.Find(`[rel="author"], [itemprop="author"] [itemprop="name"]`).Each(func(_ int, n *goquery.Selection) {
		add(n.Text())
	})
	return authors
}

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05Z0700",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"January 2, 2006",
	"Jan 2, 2006",
	"2 January 2006",
}

func extractPublishDate(doc *goquery.Document) *time.Time {
	candidates := []string{
		attr(doc, `meta[property="article:published_time"]`, "content"),
		attr(doc, `meta[itemprop="datePublished"]`, "content"),
		attr(doc, `time[datetime]`, "datetime"),
		attr(doc, `meta[name="date"]`, "content"),
		attr(doc, `meta[name="pubdate"]`, "content"),
	}
	for _, c := range candidates {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, c); err == nil {
				return &t
			}
		}
	}
	return nil
}

func attr(doc *goquery.Document, selector, name string) string {
	v, _ := doc.Find(selector).First().Attr(name)
	return v
}
