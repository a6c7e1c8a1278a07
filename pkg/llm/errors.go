package llm

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

var (
	ErrMissingAPIKey     = errors.New("LLM provider API key is not configured")
	ErrBadRequest        = errors.New("bad request")
	ErrUnauthorized      = errors.New("invalid API credentials")
	ErrPaymentRequired   = errors.New("insufficient provider credits")
	ErrMalformedResponse = errors.New("malformed completion response")
)

// StatusError is a non-200 reply from an LLM provider.
type StatusError struct {
	Code       int
	RetryAfter time.Duration
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("provider returned HTTP %d", e.Code)
	}
	return fmt.Sprintf("provider returned HTTP %d: %s", e.Code, e.Body)
}

// FatalError is a non-retryable failure that must reach the caller, such as
// bad credentials or an exhausted balance.
type FatalError struct {
	Model string
	Err   error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("model %s: %v", e.Model, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

// Hint is a short operator-facing suggestion for the failure.
func (e *FatalError) Hint() string {
	switch {
	case errors.Is(e.Err, ErrMissingAPIKey):
		return "Set OPENROUTER_API_KEY and restart the service."
	case errors.Is(e.Err, ErrUnauthorized):
		return "Check that the LLM provider API key is valid."
	case errors.Is(e.Err, ErrPaymentRequired):
		return "The LLM provider account has no remaining credits."
	case errors.Is(e.Err, ErrBadRequest):
		return "The provider rejected the request; try a different model."
	default:
		return "The LLM provider cannot serve this request."
	}
}

// parseRetryAfter reads a Retry-After header given in seconds or as an HTTP date.
func parseRetryAfter(h http.Header, now time.Time) time.Duration {
	v := strings.TrimSpace(h.Get("Retry-After"))
	if v == "" {
		return 0
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs * float64(time.Second))
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
