package expander_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ragrelay/ragrelay/internal/models"
	"github.com/ragrelay/ragrelay/pkg/expander"
)

type fakeChat struct {
	response string
	err      error
	calls    []models.ChatParams
}

func (f *fakeChat) ChatCompletion(_ context.Context, params models.ChatParams) (string, error) {
	f.calls = append(f.calls, params)
	return f.response, f.err
}

func TestExpandSimpleQuestionBypassesModel(t *testing.T) {
	chat := &fakeChat{}
	e := expander.NewWithConfig(expander.ExpanderConfig{}, chat, nil)

	exp, err := e.Expand(context.Background(), "What is diabetes?", nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"What is diabetes?"}, exp.Queries)
	assert.True(t, exp.Direct())
	assert.Empty(t, chat.calls, "trivial lookup should not hit the model")
}

func TestExpandSimpleQuestionWithExcerptsUsesModel(t *testing.T) {
	chat := &fakeChat{response: "<rag_question>diabetes glucose management</rag_question>"}
	e := expander.NewWithConfig(expander.ExpanderConfig{}, chat, nil)

	exp, err := e.Expand(context.Background(), "What is diabetes?", []string{"Glucose: 180 mg/dL"})
	require.NoError(t, err)

	require.Len(t, chat.calls, 1)
	assert.Contains(t, chat.calls[0].Messages[0].Content, "Glucose: 180 mg/dL")
	assert.Equal(t, []string{"diabetes glucose management"}, exp.Queries)
	assert.False(t, exp.Direct())
}

func TestExpandMultiPartQuestionUsesModel(t *testing.T) {
	chat := &fakeChat{response: `<summary>Two findings.</summary>

<rag_question>high LDL cholesterol treatment</rag_question>
<rag_question>low vitamin D supplementation</rag_question>`}
	e := expander.NewWithConfig(expander.ExpanderConfig{}, chat, nil)

	exp, err := e.Expand(context.Background(), "Explain my cholesterol and also my vitamin D", nil)
	require.NoError(t, err)

	require.Len(t, chat.calls, 1)
	assert.False(t, chat.calls[0].RAGEnabled)
	assert.Equal(t, "fast", chat.calls[0].Model)
	assert.Equal(t, []string{"high LDL cholesterol treatment", "low vitamin D supplementation"}, exp.Queries)
	assert.Equal(t, chat.response, exp.Analysis)
}

func TestExpandNoTagsFallsBackToQuestion(t *testing.T) {
	chat := &fakeChat{response: "I cannot generate queries for this."}
	e := expander.NewWithConfig(expander.ExpanderConfig{}, chat, nil)

	exp, err := e.Expand(context.Background(), "Summarize my latest lab panel results please", nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"Summarize my latest lab panel results please"}, exp.Queries)
}

func TestExpandModelErrorIsFatal(t *testing.T) {
	chat := &fakeChat{err: errors.New("backend down")}
	e := expander.NewWithConfig(expander.ExpanderConfig{}, chat, nil)

	_, err := e.Expand(context.Background(), "Summarize my latest lab panel results please", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "query generation failed")
}

func TestExpandCapsQueryCount(t *testing.T) {
	response := ""
	for i := 0; i < 10; i++ {
		response += "<rag_question>distinct medical search query number here</rag_question>\n"
	}
	chat := &fakeChat{response: response}
	e := expander.NewWithConfig(expander.ExpanderConfig{}, chat, nil)

	exp, err := e.Expand(context.Background(), "Summarize my latest lab panel results please", nil)
	require.NoError(t, err)

	assert.Len(t, exp.Queries, 8)
}

func TestExpandQualityFilter(t *testing.T) {
	chat := &fakeChat{response: `<rag_question>x</rag_question>
<rag_question>what now</rag_question>
<rag_question>LDL cholesterol 145 cardiovascular risk</rag_question>`}
	e := expander.NewWithConfig(expander.ExpanderConfig{QualityFilter: true}, chat, nil)

	exp, err := e.Expand(context.Background(), "Summarize my latest lab panel results please", nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"LDL cholesterol 145 cardiovascular risk"}, exp.Queries)
}

func TestExpandQualityFilterAllRejectedFallsBack(t *testing.T) {
	chat := &fakeChat{response: "<rag_question>what now</rag_question>"}
	e := expander.NewWithConfig(expander.ExpanderConfig{QualityFilter: true}, chat, nil)

	exp, err := e.Expand(context.Background(), "Summarize my latest lab panel results please", nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"Summarize my latest lab panel results please"}, exp.Queries)
}
