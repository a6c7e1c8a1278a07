package researcher

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/xhad/datallama/internal/models"
	"github.com/xhad/datallama/internal/types"
	"github.com/xhad/datallama/pkg/llm"
	"github.com/xhad/datallama/pkg/logger"
)

const syntheticSystemPrompt = "You are a senior business analyst creating comprehensive content on business topics. " +
	"Provide detailed, practical insights."

const syntheticPrompt = `Generate comprehensive business analysis content about: %s

Provide a detailed analysis covering:
- Key concepts, definitions, and background
- Main advantages, disadvantages, and trade-offs
- Best practices, implementation strategies, and recommendations
- Real-world applications, use cases, and examples
- Comparison with alternative approaches when relevant

Write in a professional, analytical tone suitable for business professionals. Structure the content with clear sections and actionable insights.`

const SyntheticAuthor = "AI Research Assistant"

// Generator produces stand-in documents when too few real sources were found.
type Generator interface {
	Generate(ctx context.Context, query, url string) models.Document
}

// SyntheticGenerator writes a business analysis with the LLM. It never fails:
// when the model call errors or degrades, a short static overview is returned
// instead.
type SyntheticGenerator struct {
	completer types.Completer
	modelID   string
	log       *zap.Logger
}

func NewSyntheticGenerator(completer types.Completer, modelID string, log *zap.Logger) *SyntheticGenerator {
	return &SyntheticGenerator{completer: completer, modelID: modelID, log: logger.OrNop(log)}
}

func (g *SyntheticGenerator) Generate(ctx context.Context, query, url string) models.Document {
	out, err := llm.Detailed(ctx, g.completer, []models.Message{
		{Role: models.RoleSystem, Content: syntheticSystemPrompt},
		{Role: models.RoleUser, Content: fmt.Sprintf(syntheticPrompt, query)},
	}, g.modelID)
	text := strings.TrimSpace(out.Text)
	if err != nil || out.Degraded || text == "" {
		g.log.Warn("synthetic generation failed, using static overview",
			zap.String("url", url),
			zap.Bool("degraded", out.Degraded),
			zap.Error(err))
		return StaticDocument(query, url)
	}

	return models.Document{
		URL:       url,
		Title:     "Business Analysis: " + query,
		Authors:   []string{SyntheticAuthor},
		Text:      text,
		Summary:   logger.Truncate(text, 300),
		Synthetic: true,
	}
}

// StaticDocument is the foundational overview used when generation fails.
func StaticDocument(query, url string) models.Document {
	return models.Document{
		URL:     url,
		Title:   "Information about " + query,
		Authors: []string{},
		Text: fmt.Sprintf("This analysis covers key aspects of %s. While external sources were not accessible, "+
			"this provides foundational information based on established business principles and methodologies.", query),
		Summary:   fmt.Sprintf("General analysis of %s concepts and applications.", query),
		Synthetic: true,
		Error:     "synthetic_generation_failed",
	}
}
