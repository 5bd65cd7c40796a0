package batch

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ragrelay/ragrelay/internal/models"
	"github.com/ragrelay/ragrelay/pkg/backend"
)

type fakeBackend struct {
	mu      sync.Mutex
	project *backend.Project
	chunks  map[string][]models.Passage
	chat    func(models.ChatParams) (string, error)
}

func (f *fakeBackend) FetchProject(context.Context) (*backend.Project, error) {
	return f.project, nil
}

func (f *fakeBackend) DocumentChunks(_ context.Context, hash, _ string) ([]models.Passage, error) {
	return f.chunks[hash], nil
}

func (f *fakeBackend) ChatCompletion(_ context.Context, params models.ChatParams) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.chat(params)
}

func letterChunk(text string) models.Passage {
	// Padded past the minimum chunk length.
	return models.Passage{Content: text + strings.Repeat(" More letter body text follows.", 4)}
}

func newFakeBackend() *fakeBackend {
	f := &fakeBackend{
		project: &backend.Project{
			Datasets: []backend.Dataset{{Name: "letters", Files: []string{"doc-1", "doc-2"}}},
		},
		chunks: map[string][]models.Passage{
			"doc-1": {letterChunk("Please submit the revised safety report by June 30.")},
			"doc-2": {letterChunk("Provide updated contact information for the study coordinator."), {Content: "tiny"}},
		},
	}
	f.chat = func(p models.ChatParams) (string, error) {
		switch p.Model {
		case "question_extractor":
			return "<think>scanning</think><task>Submit the revised safety report by June 30</task>\n<task>FINAL NOTICE</task>", nil
		case "task_validator":
			if strings.Contains(p.Messages[0].Content, "already answered") {
				if p.Database != "corpus_chunked" || !p.RAGEnabled {
					return "", fmt.Errorf("answer check must query the corpus")
				}
				return "<answered>yes</answered><quote>Reports are due June 30.</quote>", nil
			}
			return "<valid>yes</valid>", nil
		}
		return "", fmt.Errorf("unexpected model %q", p.Model)
	}
	return f
}

func newTestRunner(t *testing.T, f *fakeBackend) *Runner {
	t.Helper()
	return NewWithConfig(BatchConfig{ResultsDir: t.TempDir()}, f, nil)
}

func TestRunFullPass(t *testing.T) {
	f := newFakeBackend()
	r := newTestRunner(t, f)

	path, err := r.Run(context.Background())
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var result RunResult
	require.NoError(t, json.Unmarshal(data, &result))

	assert.Equal(t, "letters", result.Dataset)
	assert.Equal(t, 2, result.Documents)
	// One real task per document; "FINAL NOTICE" fails the prefilter.
	assert.Equal(t, 2, result.Extracted)
	assert.Equal(t, 2, result.Rejected)
	assert.Equal(t, 2, result.Valid)
	assert.Equal(t, 2, result.Answered)
	require.Len(t, result.Tasks, 2)
	assert.Equal(t, "Reports are due June 30.", result.Tasks[0].Quote)

	p := r.Progress()
	assert.False(t, p.Running)
	assert.Equal(t, "done", p.Stage)
	assert.Equal(t, 2, p.ProcessedDocs)

	files, err := r.Results()
	require.NoError(t, err)
	assert.Equal(t, []string{path}, files)
}

func TestRunInvalidTasksSkipAnswering(t *testing.T) {
	f := newFakeBackend()
	var answerCalls int
	inner := f.chat
	f.chat = func(p models.ChatParams) (string, error) {
		if strings.Contains(p.Messages[0].Content, "already answered") {
			answerCalls++
		}
		if p.Model == "task_validator" && !strings.Contains(p.Messages[0].Content, "already answered") {
			return "<valid>no</valid>", nil
		}
		return inner(p)
	}
	r := newTestRunner(t, f)

	path, err := r.Run(context.Background())
	require.NoError(t, err)

	data, _ := os.ReadFile(path)
	var result RunResult
	require.NoError(t, json.Unmarshal(data, &result))

	assert.Zero(t, result.Valid)
	assert.Zero(t, result.Answered)
	assert.Zero(t, answerCalls)
}

func TestRunEmptyDataset(t *testing.T) {
	f := newFakeBackend()
	f.project.Datasets = nil
	r := newTestRunner(t, f)

	_, err := r.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no documents")
}

func TestRunRejectsConcurrentRuns(t *testing.T) {
	f := newFakeBackend()
	release := make(chan struct{})
	inner := f.chat
	f.chat = func(p models.ChatParams) (string, error) {
		<-release
		return inner(p)
	}
	r := newTestRunner(t, f)

	done := make(chan error, 1)
	go func() {
		_, err := r.Run(context.Background())
		done <- err
	}()

	// Wait until the first run is registered.
	for r.Progress().StartedAt.IsZero() {
		time.Sleep(time.Millisecond)
	}
	_, err := r.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already in progress")

	close(release)
	require.NoError(t, <-done)
}

func TestProgressIsolatedPerRun(t *testing.T) {
	f := newFakeBackend()
	r := newTestRunner(t, f)

	_, err := r.Run(context.Background())
	require.NoError(t, err)
	first := r.Progress()

	// Second run over one document must start from zero counters.
	f.project.Datasets[0].Files = []string{"doc-1"}
	_, err = r.Run(context.Background())
	require.NoError(t, err)
	second := r.Progress()

	assert.Equal(t, 2, first.ProcessedDocs)
	assert.Equal(t, 1, second.ProcessedDocs)
	assert.Equal(t, 1, second.Extracted)
	assert.Less(t, second.Extracted, first.Extracted)
}

func TestQuickReject(t *testing.T) {
	cases := []struct {
		task   string
		reason string
	}{
		{"fix it", "too short"},
		{strings.Repeat("x", 1001), "too long"},
		{"Submit quarterly compliance", "too few words"},
		{"See page 14 for the full submission checklist", "page reference"},
		{"Note: this letter supersedes prior correspondence entirely", "meta phrase"},
		{"SUBMIT ALL REQUIRED DOCUMENTATION IMMEDIATELY", "all caps"},
	}
	for _, tc := range cases {
		reason, rejected := quickReject(tc.task)
		assert.True(t, rejected, tc.task)
		assert.Equal(t, tc.reason, reason, tc.task)
	}

	_, rejected := quickReject("Submit the revised safety report before the June deadline")
	assert.False(t, rejected)
}
