package llm_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"github.com/xhad/datallama/internal/models"
	"github.com/xhad/datallama/pkg/llm"
)

type recordingModel struct {
	messages []llms.MessageContent
	opts     llms.CallOptions
	reply    string
}

func (m *recordingModel) GenerateContent(_ context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	m.messages = messages
	for _, opt := range options {
		opt(&m.opts)
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: m.reply}}}, nil
}

func (m *recordingModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

func TestLangchainBackendComplete(t *testing.T) {
	model := &recordingModel{reply: " local answer "}
	backend := llm.NewLangchainBackend(model)

	text, err := backend.Complete(context.Background(), llm.Request{
		Model: "ollama/llama3",
		Messages: []models.Message{
			{Role: models.RoleSystem, Content: "be brief"},
			{Role: models.RoleUser, Content: "hi"},
			{Role: models.RoleAssistant, Content: "hello"},
		},
		MaxTokens:   100,
		Temperature: 0.2,
	})
	require.NoError(t, err)
	assert.Equal(t, "local answer", text)

	require.Len(t, model.messages, 3)
	assert.Equal(t, llms.ChatMessageTypeSystem, model.messages[0].Role)
	assert.Equal(t, llms.ChatMessageTypeHuman, model.messages[1].Role)
	assert.Equal(t, llms.ChatMessageTypeAI, model.messages[2].Role)
	assert.Equal(t, "llama3", model.opts.Model)
	assert.Equal(t, 100, model.opts.MaxTokens)
}

func TestLangchainBackendEmptyReply(t *testing.T) {
	backend := llm.NewLangchainBackend(&recordingModel{})

	_, err := backend.Complete(context.Background(), llm.Request{Model: "ollama/llama3"})
	assert.ErrorIs(t, err, llm.ErrMalformedResponse)
}
