package synthesizer

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/xhad/datallama/internal/models"
	"github.com/xhad/datallama/pkg/llm"
)

// Assertion is a short claim attributed to one source.
type Assertion struct {
	Assertion string `json:"assertion"`
	Type      string `json:"type"`
	Source    string `json:"source"`
}

// ExtractAssertions asks the model for the key claim of doc in one or two
// sentences. On failure or a degraded reply it falls back to the start of
// the text.
func (s *Synthesizer) ExtractAssertions(ctx context.Context, doc models.Document, modelID string) Assertion {
	text := strings.TrimSpace(doc.Text)
	prompt := fmt.Sprintf("Excerpt: %s...\n\nSource URL: %s\n\nSummarize the key assertion(s) from this excerpt in 1–2 sentences.",
		head(text, promptDocChars), doc.URL)

	out, err := llm.Detailed(ctx, s.completer, []models.Message{
		{Role: models.RoleSystem, Content: "You are a fact extractor."},
		{Role: models.RoleUser, Content: prompt},
	}, modelID)
	assertion := strings.TrimSpace(out.Text)
	if err != nil || out.Degraded || assertion == "" {
		s.log.Debug("assertion extraction failed",
			zap.String("url", doc.URL),
			zap.Bool("degraded", out.Degraded),
			zap.Error(err))
		assertion = "Fallback: " + head(text, 100)
	}

	return Assertion{Assertion: assertion, Type: "note", Source: doc.URL}
}

func head(s string, n int) string {
	runes := []rune(s)
	if len(runes) > n {
		return string(runes[:n])
	}
	return s
}
