package synthesizer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xhad/datallama/internal/models"
	"github.com/xhad/datallama/internal/types"
	"github.com/xhad/datallama/pkg/citation"
	"github.com/xhad/datallama/pkg/llm"
)

type completerFunc func(ctx context.Context, messages []models.Message, modelID string) (string, error)

func (f completerFunc) Complete(ctx context.Context, messages []models.Message, modelID string) (string, error) {
	return f(ctx, messages, modelID)
}

type detailedFunc func(ctx context.Context, messages []models.Message, modelID string) (llm.Completion, error)

func (f detailedFunc) Complete(ctx context.Context, messages []models.Message, modelID string) (string, error) {
	out, err := f(ctx, messages, modelID)
	return out.Text, err
}

func (f detailedFunc) CompleteDetailed(ctx context.Context, messages []models.Message, modelID string) (llm.Completion, error) {
	return f(ctx, messages, modelID)
}

func fiveDocs() []models.Document {
	docs := make([]models.Document, 5)
	for i := range docs {
		docs[i] = models.Document{
			URL:   fmt.Sprintf("https://source%d.example/article", i+1),
			Title: fmt.Sprintf("Article %d", i+1),
			Text:  strings.Repeat(fmt.Sprintf("body %d ", i+1), 200),
		}
	}
	return docs
}

func newTestSynthesizer(t *testing.T, c types.Completer) *Synthesizer {
	t.Helper()
	s, err := NewWithConfig(SynthesizerConfig{Completer: c})
	require.NoError(t, err)
	return s
}

func TestNewWithConfigRequiresCompleter(t *testing.T) {
	_, err := NewWithConfig(SynthesizerConfig{})
	assert.Error(t, err)
}

func TestSynthesizeLinksCitations(t *testing.T) {
	var gotModel string
	var messages []models.Message
	s := newTestSynthesizer(t, completerFunc(func(_ context.Context, m []models.Message, modelID string) (string, error) {
		gotModel = modelID
		messages = m
		return "RICE scores reach [1] while Kano groups features [2].", nil
	}))
	docs := fiveDocs()

	result, err := s.Synthesize(context.Background(), "Compare RICE and Kano prioritization", docs, "")
	require.NoError(t, err)

	assert.Equal(t, llm.DefaultModelID, gotModel)
	assert.Contains(t, result.Answer, citation.Link(1, docs[0].URL))
	assert.Contains(t, result.Answer, citation.Link(2, docs[1].URL))
	assert.NotContains(t, result.Answer, " [1] ")
	assert.Len(t, result.Citations, 5)
	assert.Equal(t, "[3] Article 3 — https://source3.example/article", result.Citations[2])
	assert.Equal(t, 5, result.SourceCount)
	assert.Equal(t, "Gemini 2.0 Flash", result.ModelUsed)
	assert.Equal(t, llm.DefaultModelID, result.ModelID)
	assert.False(t, result.Degraded())

	require.Len(t, messages, 2)
	assert.Equal(t, models.RoleSystem, messages[0].Role)
	assert.Contains(t, messages[1].Content, "Question: Compare RICE and Kano prioritization")
	assert.Contains(t, messages[1].Content, "[5] Article 5")
}

func TestSynthesizePromptLimitsDocuments(t *testing.T) {
	var prompt string
	s := newTestSynthesizer(t, completerFunc(func(_ context.Context, m []models.Message, _ string) (string, error) {
		prompt = m[1].Content
		return "answer", nil
	}))
	docs := append(fiveDocs(), models.Document{URL: "https://six.example", Title: "Article 6", Text: "six"})

	result, err := s.Synthesize(context.Background(), "question", docs, "")
	require.NoError(t, err)

	assert.NotContains(t, prompt, "Article 6")
	assert.Len(t, result.Citations, 6)
	for _, part := range strings.Split(prompt, "\n") {
		assert.LessOrEqual(t, len([]rune(part)), 503)
	}
}

func TestSynthesizeUsesRequestedModel(t *testing.T) {
	var gotModel string
	s := newTestSynthesizer(t, completerFunc(func(_ context.Context, _ []models.Message, modelID string) (string, error) {
		gotModel = modelID
		return "ok", nil
	}))

	result, err := s.Synthesize(context.Background(), "question", fiveDocs(), "qwen/qwen-2.5-72b-instruct:free")
	require.NoError(t, err)

	assert.Equal(t, "qwen/qwen-2.5-72b-instruct:free", gotModel)
	assert.Equal(t, "Qwen 2.5 72B Instruct", result.ModelUsed)
}

func TestSynthesizeDegradesOnError(t *testing.T) {
	s := newTestSynthesizer(t, completerFunc(func(context.Context, []models.Message, string) (string, error) {
		return "", errors.New("upstream timeout")
	}))
	docs := fiveDocs()

	result, err := s.Synthesize(context.Background(), "question", docs, "deepseek/deepseek-chat-v3-0324:free")
	require.NoError(t, err)

	assert.True(t, result.Degraded())
	assert.Equal(t, models.ErrorAPIRateLimited, result.Error)
	assert.Contains(t, result.Answer, "1. Article 1 (https://source1.example/article)")
	assert.Contains(t, result.Answer, "3. Article 3")
	assert.NotContains(t, result.Answer, "4. Article 4")
	assert.Len(t, result.Citations, 5)
	assert.Equal(t, "deepseek/deepseek-chat-v3-0324:free", result.ModelID)
	require.Len(t, result.SuggestedAlternatives, 3)
	assert.NotContains(t, result.SuggestedAlternatives, "deepseek/deepseek-chat-v3-0324:free")
}

func TestSynthesizeDegradesOnEmptyAnswer(t *testing.T) {
	s := newTestSynthesizer(t, completerFunc(func(context.Context, []models.Message, string) (string, error) {
		return "  \n", nil
	}))

	result, err := s.Synthesize(context.Background(), "question", fiveDocs(), "")
	require.NoError(t, err)
	assert.Equal(t, models.ErrorAPIRateLimited, result.Error)
}

func TestSynthesizeReportsClientDegradation(t *testing.T) {
	s := newTestSynthesizer(t, detailedFunc(func(_ context.Context, _ []models.Message, modelID string) (llm.Completion, error) {
		return llm.Completion{Text: "The model is busy.", Model: modelID, Degraded: true}, nil
	}))

	result, err := s.Synthesize(context.Background(), "question", fiveDocs(), "")
	require.NoError(t, err)

	assert.Equal(t, models.ErrorAPIRateLimited, result.Error)
	assert.Contains(t, result.Answer, "The model is busy.")
	assert.NotEmpty(t, result.SuggestedAlternatives)
}

func TestSynthesizeReportsFallbackModel(t *testing.T) {
	s := newTestSynthesizer(t, detailedFunc(func(context.Context, []models.Message, string) (llm.Completion, error) {
		return llm.Completion{Text: "answer [1]", Model: llm.DefaultModelID}, nil
	}))

	result, err := s.Synthesize(context.Background(), "question", fiveDocs(), "mistralai/mistral-7b-instruct:free")
	require.NoError(t, err)

	assert.Equal(t, llm.DefaultModelID, result.ModelID)
	assert.False(t, result.Degraded())
}

func TestSynthesizeReturnsFatalError(t *testing.T) {
	fatal := &llm.FatalError{Model: llm.DefaultModelID, Err: llm.ErrUnauthorized}
	s := newTestSynthesizer(t, completerFunc(func(context.Context, []models.Message, string) (string, error) {
		return "", fatal
	}))

	result, err := s.Synthesize(context.Background(), "question", fiveDocs(), "")

	require.Error(t, err)
	assert.ErrorIs(t, err, llm.ErrUnauthorized)
	assert.Equal(t, models.ErrorAPIRateLimited, result.Error)
	assert.NotEmpty(t, result.Answer)
}

func TestSynthesizeWithoutDocuments(t *testing.T) {
	s := newTestSynthesizer(t, completerFunc(func(_ context.Context, m []models.Message, _ string) (string, error) {
		assert.NotContains(t, m[1].Content, "Sources:")
		return "general answer", nil
	}))

	result, err := s.Synthesize(context.Background(), "question", nil, "")
	require.NoError(t, err)

	assert.Equal(t, "general answer", result.Answer)
	assert.Empty(t, result.Citations)
	assert.Zero(t, result.SourceCount)
}

func TestExtractAssertions(t *testing.T) {
	var prompt string
	s := newTestSynthesizer(t, completerFunc(func(_ context.Context, m []models.Message, _ string) (string, error) {
		prompt = m[1].Content
		return " Pricing drives retention. ", nil
	}))
	doc := models.Document{URL: "https://a.example", Text: strings.Repeat("a", 600)}

	got := s.ExtractAssertions(context.Background(), doc, "")

	assert.Equal(t, Assertion{Assertion: "Pricing drives retention.", Type: "note", Source: "https://a.example"}, got)
	assert.Contains(t, prompt, strings.Repeat("a", 500)+"...\n")
	assert.NotContains(t, prompt, strings.Repeat("a", 501))
}

func TestExtractAssertionsFallback(t *testing.T) {
	s := newTestSynthesizer(t, completerFunc(func(context.Context, []models.Message, string) (string, error) {
		return "", errors.New("down")
	}))
	doc := models.Document{URL: "https://a.example", Text: strings.Repeat("b", 150)}

	got := s.ExtractAssertions(context.Background(), doc, "")

	assert.Equal(t, "Fallback: "+strings.Repeat("b", 100), got.Assertion)
	assert.Equal(t, "https://a.example", got.Source)
}

func TestExtractAssertionsIgnoresDegradedReply(t *testing.T) {
	s := newTestSynthesizer(t, detailedFunc(func(_ context.Context, _ []models.Message, modelID string) (llm.Completion, error) {
		return llm.Completion{Text: "The model is temporarily unavailable.", Model: modelID, Degraded: true}, nil
	}))
	doc := models.Document{URL: "https://a.example", Text: strings.Repeat("c", 150)}

	got := s.ExtractAssertions(context.Background(), doc, "")

	assert.Equal(t, "Fallback: "+strings.Repeat("c", 100), got.Assertion)
}
