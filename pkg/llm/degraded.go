package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/xhad/datallama/internal/models"
)

// DegradedResponse explains, in place of a completion, why the model could
// not answer. It is never empty.
func DegradedResponse(model models.ModelDescriptor, cause error) string {
	name := model.DisplayName
	if name == "" {
		name = model.ID
	}
	provider := model.ProviderName
	if provider == "" {
		provider = "the provider"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "The %s model (%s) is temporarily unavailable", name, provider)

	var statusErr *StatusError
	switch {
	case errors.As(cause, &statusErr) && statusErr.Code == http.StatusTooManyRequests:
		b.WriteString(" because its rate limit was reached.")
	case errors.Is(cause, context.Canceled):
		b.WriteString(" because the request was cancelled.")
	case errors.Is(cause, context.DeadlineExceeded):
		b.WriteString(" because it did not respond in time.")
	case errors.As(cause, &statusErr):
		fmt.Fprintf(&b, " (HTTP %d).", statusErr.Code)
	default:
		b.WriteString(".")
	}

	b.WriteString("\n\nYou can:\n")
	b.WriteString("- wait a minute and ask again\n")
	b.WriteString("- pick a different model from /models\n")
	b.WriteString("- use a paid API key with higher limits\n")
	return b.String()
}
