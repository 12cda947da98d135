package llm

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStripCodeFenceWithLanguageTag(t *testing.T) {
	raw := "```json\n{\"a\":1}\n```"
	assert.Equal(t, `{"a":1}`, StripCodeFence(raw))
}

func TestStripCodeFenceWithoutLanguageTag(t *testing.T) {
	raw := "```\n{\"a\":1}\n```"
	assert.Equal(t, `{"a":1}`, StripCodeFence(raw))
}

func TestStripCodeFenceNoFence(t *testing.T) {
	raw := `{"a":1}`
	assert.Equal(t, raw, StripCodeFence(raw))
}

func TestParseQuestionsResponseFiltersEmptyEntries(t *testing.T) {
	raw := `{"questions":[{"question":"q1","answer":"a1"},{"question":"","answer":"a2"},{"question":"q3","answer":"   "}]}`
	qs, err := ParseQuestionsResponse(raw)
	require.NoError(t, err)
	require.Len(t, qs, 1)
	assert.Equal(t, "q1", qs[0].Question)
}

func TestParseQuestionsResponseAllFilteredReturnsNoQuestions(t *testing.T) {
	raw := `{"questions":[{"question":"","answer":""}]}`
	_, err := ParseQuestionsResponse(raw)
	assert.ErrorIs(t, err, ErrNoQuestions)
}

func TestParseSummaryResponse(t *testing.T) {
	raw := "```json\n{\"title\":\"T\",\"summary\":\"S\",\"key_points\":[\"a\",\"b\"]}\n```"
	resp, err := ParseSummaryResponse(raw)
	require.NoError(t, err)
	assert.Equal(t, "T", resp.Title)
	assert.Equal(t, []string{"a", "b"}, resp.KeyPoints)
}

func TestTruncateForEmbedding(t *testing.T) {
	short := "hello"
	assert.Equal(t, short, TruncateForEmbedding(short))

	long := strings.Repeat("a", 9000)
	truncated := TruncateForEmbedding(long)
	assert.Len(t, truncated, maxEmbeddingInputChars)
}

func TestCheckFinishReasonStopIsNil(t *testing.T) {
	assert.NoError(t, CheckFinishReason(FinishStop, ""))
}

func TestCheckFinishReasonSafetyIsBlockedError(t *testing.T) {
	err := CheckFinishReason(FinishSafety, "hate_speech")
	require.Error(t, err)
	var be *BlockedError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, FinishSafety, be.Reason)
}

type fakeClient struct {
	text      string
	reason    FinishReason
	embedding []float64
	calls     int
}

func (f *fakeClient) GenerateText(ctx context.Context, params GenerateParams) (*GenerateResult, error) {
	f.calls++
	return &GenerateResult{Text: f.text, FinishReason: f.reason}, nil
}

func (f *fakeClient) GenerateEmbedding(ctx context.Context, model, text string) ([]float64, error) {
	return f.embedding, nil
}

func TestOrchestratorSummarizeHappyPath(t *testing.T) {
	client := &fakeClient{
		text:   `{"title":"T","summary":"S","key_points":["a"]}`,
		reason: FinishStop,
	}
	o := NewOrchestrator(client)
	resp, err := o.Summarize(context.Background(), SummaryRequest{Content: "article body", Model: "anthropic/claude-3"})
	require.NoError(t, err)
	assert.Equal(t, "T", resp.Title)
}

func TestOrchestratorSummarizePropagatesBlockedError(t *testing.T) {
	client := &fakeClient{text: "", reason: FinishSafety}
	o := NewOrchestrator(client)
	_, err := o.Summarize(context.Background(), SummaryRequest{Content: "x", Model: "anthropic/claude-3"})
	require.Error(t, err)
	var be *BlockedError
	require.ErrorAs(t, err, &be)
}

func TestOrchestratorEmbedBatch(t *testing.T) {
	client := &fakeClient{embedding: []float64{0.1, 0.2}}
	o := NewOrchestrator(client)
	out, err := o.EmbedBatch(context.Background(), "google/text-embedding-004", []string{"a", "b"})
	require.NoError(t, err)
	assert.Len(t, out, 2)
}

func TestRegistryDispatchesByProviderPrefix(t *testing.T) {
	anthropicClient := &fakeClient{text: `{"title":"A","summary":"S","key_points":[]}`, reason: FinishStop}
	reg := NewRegistry()
	reg.Register("anthropic", anthropicClient)

	_, err := reg.GenerateText(context.Background(), GenerateParams{Model: "anthropic/claude-3-haiku"})
	require.NoError(t, err)
	assert.Equal(t, 1, anthropicClient.calls)
}

func TestRegistryUnknownProviderErrors(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.GenerateText(context.Background(), GenerateParams{Model: "unknown/model"})
	assert.Error(t, err)
}

func TestRegistryMalformedModelErrors(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.GenerateText(context.Background(), GenerateParams{Model: "no-slash"})
	assert.Error(t, err)
}
