package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/raphaelgruber/contentgraph/internal/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
)

type fakeLLM struct {
	messages []llms.MessageContent
	reply    string
	err      error
	info     map[string]any
}

func (f *fakeLLM) GenerateContent(_ context.Context, messages []llms.MessageContent, _ ...llms.CallOption) (*llms.ContentResponse, error) {
	f.messages = messages
	if f.err != nil {
		return nil, f.err
	}
	return &llms.ContentResponse{
		Choices: []*llms.ContentChoice{{Content: f.reply, GenerationInfo: f.info}},
	}, nil
}

func (f *fakeLLM) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, f, prompt, options...)
}

func textOf(t *testing.T, m llms.MessageContent) string {
	t.Helper()
	require.NotEmpty(t, m.Parts)
	part, ok := m.Parts[0].(llms.TextContent)
	require.True(t, ok)
	return part.Text
}

func TestModel_Summarize(t *testing.T) {
	fake := &fakeLLM{
		reply: "A short summary.",
		info:  map[string]any{"PromptTokens": 120, "CompletionTokens": 8},
	}
	mc := metrics.NewCollector()
	m := newModel(fake, "fake-model", mc)

	got, err := m.Summarize(context.Background(), "long text here", 150, "Name the main theme.")
	require.NoError(t, err)
	assert.Equal(t, "A short summary.", got)

	require.Len(t, fake.messages, 2)
	system := textOf(t, fake.messages[0])
	assert.Contains(t, system, "about 150 words")
	assert.Contains(t, system, "Name the main theme.")
	assert.Contains(t, textOf(t, fake.messages[1]), "long text here")

	snap := mc.Snapshot().Get(metrics.OpSummarize)
	require.NotNil(t, snap)
	require.NotNil(t, snap.TotalInputTokens)
	assert.Equal(t, int64(120), *snap.TotalInputTokens)
	assert.Equal(t, int64(8), *snap.TotalOutputTokens)
}

func TestModel_SummarizeFatalError(t *testing.T) {
	fake := &fakeLLM{err: errors.New("HTTP 401: invalid api key")}
	m := newModel(fake, "fake-model", nil)

	_, err := m.Summarize(context.Background(), "text", 50, "")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFatalAPI)
}

func TestTokenUsage(t *testing.T) {
	in, out := tokenUsage(map[string]any{"InputTokens": int64(7), "OutputTokens": 3.0})
	assert.Equal(t, int64(7), in)
	assert.Equal(t, int64(3), out)

	in, out = tokenUsage(nil)
	assert.Zero(t, in)
	assert.Zero(t, out)
}
