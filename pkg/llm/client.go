package llm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"net"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/xhad/datallama/internal/models"
	"github.com/xhad/datallama/internal/types"
	"github.com/xhad/datallama/pkg/logger"
	"github.com/xhad/datallama/pkg/tracer"
)

// ClientConfig represents the configuration for the model client.
type ClientConfig struct {
	Registry *Registry
	Gate     *Gate
	Clock    Clock
	// Backends maps a descriptor's Backend name to its implementation.
	Backends map[string]Backend
	Logger   *zap.Logger

	MaxAttempts   int
	BackoffFactor float64
	BaseDelay     time.Duration
	CallTimeout   time.Duration
	MaxTokens     int
	Temperature   float64
	TopP          float64

	// Jitter returns a random extra wait in [0, limit). Defaults to uniform.
	Jitter func(limit time.Duration) time.Duration
}

// Client sends chat exchanges to the registered backends under a shared
// rate gate, retrying transient failures and degrading when they persist.
type Client struct {
	config ClientConfig
	log    *zap.Logger
}

// NewWithConfig creates a Client, filling unset fields with defaults.
func NewWithConfig(config ClientConfig) (*Client, error) {
	if len(config.Backends) == 0 {
		return nil, fmt.Errorf("at least one backend is required")
	}
	if config.Registry == nil {
		config.Registry = DefaultRegistry()
	}
	if config.Clock == nil {
		config.Clock = SystemClock{}
	}
	if config.Gate == nil {
		config.Gate = NewGate(2*time.Second, config.Clock)
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 3
	}
	if config.BackoffFactor < 1 {
		config.BackoffFactor = 2
	}
	if config.BaseDelay <= 0 {
		config.BaseDelay = time.Second
	}
	if config.CallTimeout <= 0 {
		config.CallTimeout = 60 * time.Second
	}
	if config.MaxTokens <= 0 {
		config.MaxTokens = 2000
	}
	if config.Temperature < 0 || config.Temperature > 2 {
		return nil, fmt.Errorf("temperature must be between 0 and 2")
	}
	if config.Jitter == nil {
		config.Jitter = uniformJitter
	}

	return &Client{
		config: config,
		log:    logger.OrNop(config.Logger),
	}, nil
}

// Registry returns the model catalog the client resolves against.
func (c *Client) Registry() *Registry {
	return c.config.Registry
}

// Completion is the outcome of one logical model call.
type Completion struct {
	Text string
	// Model is the id that produced Text, which differs from the requested
	// one after a fallback to the default model.
	Model string
	// Degraded is set when Text explains a failure instead of answering.
	Degraded bool
}

// Complete resolves modelID (unknown ids use the default model) and returns the
// completion text. Transient failures that outlast the retry budget yield a
// degraded explanation instead of an error. A *FatalError is returned for
// credential, balance or request problems.
func (c *Client) Complete(ctx context.Context, messages []models.Message, modelID string) (string, error) {
	out, err := c.CompleteDetailed(ctx, messages, modelID)
	return out.Text, err
}

// CompleteDetailed is Complete with the serving model and degradation reported.
func (c *Client) CompleteDetailed(ctx context.Context, messages []models.Message, modelID string) (Completion, error) {
	model := c.config.Registry.Resolve(modelID)
	if modelID != "" && model.ID != modelID {
		c.log.Warn("unknown model, using default",
			zap.String("requested", modelID),
			zap.String("model", model.ID))
	}
	return c.complete(ctx, messages, model, c.config.MaxAttempts)
}

// DetailedCompleter is a completer that reports the serving model and
// degradation.
type DetailedCompleter interface {
	CompleteDetailed(ctx context.Context, messages []models.Message, modelID string) (Completion, error)
}

// Detailed calls c.CompleteDetailed when c implements DetailedCompleter.
// Otherwise the plain completion is reported as served by modelID.
func Detailed(ctx context.Context, c types.Completer, messages []models.Message, modelID string) (Completion, error) {
	if dc, ok := c.(DetailedCompleter); ok {
		return dc.CompleteDetailed(ctx, messages, modelID)
	}
	text, err := c.Complete(ctx, messages, modelID)
	return Completion{Text: text, Model: modelID}, err
}

func (c *Client) complete(ctx context.Context, messages []models.Message, model models.ModelDescriptor, attempts int) (out Completion, err error) {
	ctx, span := tracer.Start(ctx, "llm.complete")
	span.SetAttributes(attribute.String("llm.model", model.ID))
	defer func() { tracer.End(span, err) }()

	backend, ok := c.config.Backends[model.Backend]
	if !ok {
		return Completion{}, &FatalError{Model: model.ID, Err: fmt.Errorf("no backend registered for %q", model.Backend)}
	}

	req := Request{
		Model:       model.ID,
		Messages:    messages,
		MaxTokens:   c.maxTokens(model),
		Temperature: c.config.Temperature,
		TopP:        c.config.TopP,
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if err := c.config.Gate.Acquire(ctx); err != nil {
			lastErr = err
			break
		}

		text, err := c.call(ctx, backend, req)
		if err == nil {
			return Completion{Text: text, Model: model.ID}, nil
		}
		lastErr = err
		final := attempt == attempts-1

		wait := c.backoff(attempt)
		var statusErr *StatusError
		switch {
		case errors.Is(err, ErrMissingAPIKey):
			return Completion{}, &FatalError{Model: model.ID, Err: err}

		case errors.As(err, &statusErr):
			switch {
			case statusErr.Code == http.StatusTooManyRequests:
				if statusErr.RetryAfter > 0 && statusErr.RetryAfter < wait {
					wait = statusErr.RetryAfter
				}
				wait += c.config.Jitter(c.config.BaseDelay)
				c.log.Warn("model rate limited",
					zap.String("model", model.ID),
					zap.Int("attempt", attempt+1),
					zap.Duration("wait", wait))

			case statusErr.Code == http.StatusBadRequest:
				def := c.config.Registry.Default()
				if model.ID == def.ID {
					return Completion{}, &FatalError{Model: model.ID, Err: fmt.Errorf("%w: %s", ErrBadRequest, statusErr.Body)}
				}
				c.log.Warn("model rejected request, retrying with default",
					zap.String("model", model.ID),
					zap.String("default", def.ID))
				return c.complete(ctx, messages, def, max(1, attempts-attempt-1))

			case statusErr.Code == http.StatusUnauthorized:
				return Completion{}, &FatalError{Model: model.ID, Err: ErrUnauthorized}

			case statusErr.Code == http.StatusPaymentRequired:
				return Completion{}, &FatalError{Model: model.ID, Err: ErrPaymentRequired}

			default:
				c.log.Warn("model call failed",
					zap.String("model", model.ID),
					zap.Int("status", statusErr.Code),
					zap.Int("attempt", attempt+1))
			}

		case transient(err):
			c.log.Warn("model call failed",
				zap.String("model", model.ID),
				zap.Int("attempt", attempt+1),
				zap.Error(err))

		default:
			if final {
				return Completion{}, err
			}
			c.log.Warn("unexpected model error",
				zap.String("model", model.ID),
				zap.Int("attempt", attempt+1),
				zap.Error(err))
		}

		if final {
			break
		}
		if err := c.config.Clock.Sleep(ctx, wait); err != nil {
			lastErr = err
			break
		}
	}

	c.log.Error("model retries exhausted, returning degraded response",
		zap.String("model", model.ID),
		zap.Error(lastErr))
	return Completion{Text: DegradedResponse(model, lastErr), Model: model.ID, Degraded: true}, nil
}

func (c *Client) call(ctx context.Context, backend Backend, req Request) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.CallTimeout)
	defer cancel()
	return backend.Complete(ctx, req)
}

func (c *Client) backoff(attempt int) time.Duration {
	return time.Duration(math.Pow(c.config.BackoffFactor, float64(attempt)) * float64(c.config.BaseDelay))
}

func (c *Client) maxTokens(model models.ModelDescriptor) int {
	if model.MaxTokens > 0 && model.MaxTokens < c.config.MaxTokens {
		return model.MaxTokens
	}
	return c.config.MaxTokens
}

// transient reports errors worth retrying: network failures, timeouts and
// responses that did not carry a completion.
func transient(err error) bool {
	if errors.Is(err, ErrMalformedResponse) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

func uniformJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	return rand.N(limit)
}
