package extract_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ragrelay/ragrelay/pkg/extract"
)

func TestAll(t *testing.T) {
	content := `<summary>Lab results show elevated LDL.</summary>

<rag_question>LDL cholesterol 145 cardiovascular risk</rag_question>
<rag_question>  vitamin D insufficiency treatment  </rag_question>
<rag_question></rag_question>`

	queries := extract.All(content, extract.TagRAGQuestion)
	require.Len(t, queries, 2)
	assert.Equal(t, "LDL cholesterol 145 cardiovascular risk", queries[0])
	assert.Equal(t, "vitamin D insufficiency treatment", queries[1])
}

func TestAllMissingTag(t *testing.T) {
	assert.Nil(t, extract.All("no structured output here", extract.TagRAGQuestion))
}

func TestAllMultiline(t *testing.T) {
	content := "<task>submit the annual\nstability report</task>"

	tasks := extract.All(content, extract.TagTask)
	require.Len(t, tasks, 1)
	assert.Contains(t, tasks[0], "stability report")
}

func TestFirst(t *testing.T) {
	content := "<summary>first</summary><summary>second</summary>"

	v, ok := extract.First(content, extract.TagSummary)
	require.True(t, ok)
	assert.Equal(t, "first", v)

	_, ok = extract.First(content, extract.TagDocType)
	assert.False(t, ok)
}

func TestYesNo(t *testing.T) {
	yes, ok := extract.YesNo("<valid>Yes</valid>", extract.TagValid)
	assert.True(t, ok)
	assert.True(t, yes)

	no, ok := extract.YesNo("<valid>no</valid>", extract.TagValid)
	assert.True(t, ok)
	assert.False(t, no)

	_, ok = extract.YesNo("nothing", extract.TagValid)
	assert.False(t, ok)
}

func TestStripThink(t *testing.T) {
	content := "<think>reasoning\nover lines</think>The answer.<think>more</think>"
	assert.Equal(t, "The answer.", extract.StripThink(content))

	assert.Equal(t, "plain", extract.StripThink("plain"))
}
