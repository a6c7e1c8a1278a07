package extractor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/xhad/datallama/pkg/scraper"
)

// Reason classifies why a URL could not be turned into a document.
type Reason string

const (
	ReasonBlocked    Reason = "blocked"
	ReasonNotFound   Reason = "not_found"
	ReasonHTTPError  Reason = "http_error"
	ReasonTimeout    Reason = "timeout"
	ReasonConnection Reason = "connection"
	ReasonTooShort   Reason = "too_short"
	ReasonExtraction Reason = "extraction_error"
)

// ExtractionFailed is returned by Extract when no strategy produced usable text.
type ExtractionFailed struct {
	URL    string
	Reason Reason
	Status int
	Err    error
}

func (e *ExtractionFailed) Error() string {
	return fmt.Sprintf("%s: %s", e.URL, e.Message())
}

func (e *ExtractionFailed) Unwrap() error { return e.Err }

// Message is a short human-readable cause.
func (e *ExtractionFailed) Message() string {
	switch e.Reason {
	case ReasonBlocked:
		return "Site blocks access (403 Forbidden)"
	case ReasonNotFound:
		return "Page not found (404)"
	case ReasonHTTPError:
		return fmt.Sprintf("HTTP error: %d", e.Status)
	case ReasonTimeout:
		return "Request timeout"
	case ReasonConnection:
		return "Connection failed"
	case ReasonTooShort:
		return "Article content too short or empty"
	default:
		if e.Err != nil {
			return fmt.Sprintf("Content extraction error: %v", e.Err)
		}
		return "Content extraction error"
	}
}

// classify maps a fetch error onto the most specific failure reason.
func classify(url string, err error) *ExtractionFailed {
	var failed *ExtractionFailed
	if errors.As(err, &failed) {
		return failed
	}

	out := &ExtractionFailed{URL: url, Reason: ReasonExtraction, Err: err}

	var statusErr *scraper.StatusError
	var netErr net.Error
	switch {
	case errors.As(err, &statusErr):
		out.Status = statusErr.Code
		switch statusErr.Code {
		case http.StatusForbidden:
			out.Reason = ReasonBlocked
		case http.StatusNotFound:
			out.Reason = ReasonNotFound
		default:
			out.Reason = ReasonHTTPError
		}
	case errors.Is(err, context.DeadlineExceeded):
		out.Reason = ReasonTimeout
	case errors.As(err, &netErr):
		if netErr.Timeout() {
			out.Reason = ReasonTimeout
		} else {
			out.Reason = ReasonConnection
		}
	}
	return out
}
