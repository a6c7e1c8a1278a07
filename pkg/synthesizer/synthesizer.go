// Package synthesizer turns a question and its source documents into a cited
// answer.
package synthesizer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/xhad/datallama/internal/models"
	"github.com/xhad/datallama/internal/types"
	"github.com/xhad/datallama/pkg/citation"
	"github.com/xhad/datallama/pkg/llm"
	"github.com/xhad/datallama/pkg/logger"
	"github.com/xhad/datallama/pkg/tracer"
)

const systemPrompt = "You are an expert business analyst. Provide a structured, professional answer. " +
	"Cite sources inline with [1], [2], etc. Do NOT append a separate 'Sources' section."

const (
	promptDocuments = 5
	promptDocChars  = 500
	degradedSources = 3
	alternatives    = 3
)

type SynthesizerConfig struct {
	Completer types.Completer
	Registry  *llm.Registry
	Logger    *zap.Logger
}

type Synthesizer struct {
	completer types.Completer
	registry  *llm.Registry
	log       *zap.Logger
}

func NewWithConfig(config SynthesizerConfig) (*Synthesizer, error) {
	if config.Completer == nil {
		return nil, fmt.Errorf("completer is required")
	}
	if config.Registry == nil {
		config.Registry = llm.DefaultRegistry()
	}
	return &Synthesizer{
		completer: config.Completer,
		registry:  config.Registry,
		log:       logger.OrNop(config.Logger),
	}, nil
}

// Synthesize answers question from docs with modelID (empty or unknown ids use
// the default model). The result is always usable: when the model call fails
// a degraded answer listing the sources is returned. The error is non-nil
// only for fatal upstream failures, alongside that degraded result.
func (s *Synthesizer) Synthesize(ctx context.Context, question string, docs []models.Document, modelID string) (result models.SynthesisResult, err error) {
	model := s.registry.Resolve(modelID)

	ctx, span := tracer.Start(ctx, "synthesize")
	span.SetAttributes(attribute.String("llm.model", model.ID), attribute.Int("sources", len(docs)))
	defer func() { tracer.End(span, err) }()

	citations := citation.BuildList(docs)

	out, err := llm.Detailed(ctx, s.completer, []models.Message{
		{Role: models.RoleSystem, Content: systemPrompt},
		{Role: models.RoleUser, Content: buildPrompt(question, docs)},
	}, model.ID)
	raw := strings.TrimSpace(out.Text)
	if err == nil && raw == "" {
		err = errors.New("model returned an empty answer")
	}
	if err != nil {
		s.log.Error("synthesis failed, returning degraded answer",
			zap.String("model", model.ID),
			zap.Error(err))

		result = s.degraded(docs, citations, model, "")
		var fatal *llm.FatalError
		if errors.As(err, &fatal) {
			return result, err
		}
		return result, nil
	}
	if out.Model != "" && out.Model != model.ID {
		model = s.registry.Resolve(out.Model)
	}
	if out.Degraded {
		s.log.Warn("model unavailable, returning degraded answer", zap.String("model", model.ID))
		return s.degraded(docs, citations, model, raw), nil
	}

	s.log.Info("synthesis completed",
		zap.String("model", model.ID),
		zap.Int("sources", len(docs)),
		zap.Int("answer_chars", len(raw)))

	return models.SynthesisResult{
		Answer:      citation.RewriteMarkers(raw, docs),
		Citations:   citations,
		SourceCount: len(docs),
		ModelUsed:   model.DisplayName,
		ModelID:     model.ID,
	}, nil
}

func buildPrompt(question string, docs []models.Document) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n\n", question)

	if len(docs) > 0 {
		b.WriteString("Sources:\n")
		for i, doc := range docs {
			if i >= promptDocuments {
				break
			}
			fmt.Fprintf(&b, "[%d] %s\n%s\n\n", i+1, doc.DisplayTitle(), logger.Truncate(strings.TrimSpace(doc.Text), promptDocChars))
		}
	}

	b.WriteString("Answer clearly and cite sources inline using [1], [2], etc. Do NOT include a 'Sources' section.")
	return b.String()
}

func (s *Synthesizer) degraded(docs []models.Document, citations []string, model models.ModelDescriptor, explanation string) models.SynthesisResult {
	var b strings.Builder
	b.WriteString("AI synthesis is temporarily unavailable, so this answer could not be written automatically.")
	if explanation != "" {
		b.WriteString("\n\n")
		b.WriteString(explanation)
	}

	if len(docs) > 0 {
		b.WriteString("\n\nThe research found these sources:\n")
		for i, doc := range docs {
			if i >= degradedSources {
				break
			}
			fmt.Fprintf(&b, "%d. %s (%s)\n", i+1, doc.DisplayTitle(), doc.URL)
		}
	}
	b.WriteString("\nTry again in a minute or choose another model.")

	return models.SynthesisResult{
		Answer:                b.String(),
		Citations:             citations,
		SourceCount:           len(docs),
		ModelUsed:             model.DisplayName,
		ModelID:               model.ID,
		Error:                 models.ErrorAPIRateLimited,
		SuggestedAlternatives: s.registry.Alternatives(model.ID, alternatives),
	}
}
