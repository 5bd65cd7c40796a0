package server_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ragrelay/ragrelay/internal/models"
	"github.com/ragrelay/ragrelay/internal/types"
	"github.com/ragrelay/ragrelay/pkg/backend"
	"github.com/ragrelay/ragrelay/pkg/batch"
	"github.com/ragrelay/ragrelay/server"
)

type fakeAnswerer struct {
	events []models.StreamEvent
	req    models.ChatRequest
}

func (f *fakeAnswerer) Answer(_ context.Context, req models.ChatRequest) <-chan models.StreamEvent {
	f.req = req
	ch := make(chan models.StreamEvent, len(f.events))
	for _, ev := range f.events {
		ch <- ev
	}
	close(ch)
	return ch
}

type tokenStream struct {
	sessionID string
	tokens    []string
	pos       int
}

func (s *tokenStream) SessionID() string { return s.sessionID }

func (s *tokenStream) Recv() (string, error) {
	if s.pos >= len(s.tokens) {
		return "", io.EOF
	}
	t := s.tokens[s.pos]
	s.pos++
	return t, nil
}

func (s *tokenStream) Close() error { return nil }

type fakeBackend struct {
	stream       *tokenStream
	passages     []models.Passage
	searchErr    error
	healthErr    error
	uploaded     map[string]string
	processTask  string
	clearedName  string
	taskStatus   backend.Task
	searchParams models.SearchParams
}

func (f *fakeBackend) ChatCompletionStream(_ context.Context, _ models.ChatParams) (types.TokenStream, error) {
	if f.stream == nil {
		return nil, errors.New("stream unavailable")
	}
	return f.stream, nil
}

func (f *fakeBackend) Search(_ context.Context, params models.SearchParams) ([]models.Passage, error) {
	f.searchParams = params
	return f.passages, f.searchErr
}

func (f *fakeBackend) Health(context.Context) (map[string]any, error) {
	if f.healthErr != nil {
		return nil, f.healthErr
	}
	return map[string]any{"status": "healthy"}, nil
}

func (f *fakeBackend) DocumentChunks(_ context.Context, hash, _ string) ([]models.Passage, error) {
	if hash == "missing" {
		return nil, errors.New("not found")
	}
	return f.passages, nil
}

func (f *fakeBackend) UploadDataset(_ context.Context, dataset, filename string, file io.Reader) error {
	data, _ := io.ReadAll(file)
	if f.uploaded == nil {
		f.uploaded = make(map[string]string)
	}
	f.uploaded[dataset+"/"+filename] = string(data)
	return nil
}

func (f *fakeBackend) ProcessDataset(_ context.Context, _ string) (string, error) {
	return f.processTask, nil
}

func (f *fakeBackend) ClearDataset(_ context.Context, dataset string) error {
	f.clearedName = dataset
	return nil
}

func (f *fakeBackend) TaskStatus(_ context.Context, _ string) (backend.Task, error) {
	return f.taskStatus, nil
}

type fakeRunner struct {
	progress batch.Progress
	ran      chan struct{}
}

func (f *fakeRunner) Run(context.Context) (string, error) {
	if f.ran != nil {
		close(f.ran)
	}
	return "results/run.json", nil
}

func (f *fakeRunner) Progress() batch.Progress { return f.progress }

func (f *fakeRunner) Results() ([]string, error) {
	return []string{"results/2026-08-30/batch_1.json"}, nil
}

func newTestServer(a *fakeAnswerer, b *fakeBackend, r *fakeRunner) *httptest.Server {
	s := server.NewWithConfig(server.ServerConfig{Database: "medical_db"}, a, b, r, nil)
	return httptest.NewServer(s.Handler())
}

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	return resp
}

// decodeSSE parses "data: {...}" frames back into stream events.
func decodeSSE(t *testing.T, body io.Reader) []models.StreamEvent {
	t.Helper()
	raw, err := io.ReadAll(body)
	require.NoError(t, err)

	var events []models.StreamEvent
	for _, line := range strings.Split(string(raw), "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		var ev models.StreamEvent
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data:")), &ev))
		events = append(events, ev)
	}
	return events
}

func TestAgentChatStreamsSSE(t *testing.T) {
	a := &fakeAnswerer{events: []models.StreamEvent{
		{SessionID: "session-7"},
		{Citations: []models.Citation{{ID: "cite-0", Source: "labs.pdf"}}},
		{Token: "Your "},
		{Token: "glucose"},
		{Done: true},
	}}
	ts := newTestServer(a, &fakeBackend{}, nil)
	defer ts.Close()

	resp := postJSON(t, ts.URL+"/api/agent-chat", `{"prompt":"What do my labs show?"}`)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")

	events := decodeSSE(t, resp.Body)
	require.Len(t, events, 5)
	assert.Equal(t, "session-7", events[0].SessionID)
	assert.Equal(t, "cite-0", events[1].Citations[0].ID)
	assert.Equal(t, "Your ", events[2].Token)
	assert.True(t, events[4].Done)

	assert.False(t, a.req.NoRAG)
}

func TestAgentChatRequiresPrompt(t *testing.T) {
	ts := newTestServer(&fakeAnswerer{}, &fakeBackend{}, nil)
	defer ts.Close()

	resp := postJSON(t, ts.URL+"/api/agent-chat", `{}`)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "prompt is required", body["error"])
}

func TestChatPassthrough(t *testing.T) {
	b := &fakeBackend{stream: &tokenStream{sessionID: "session-2", tokens: []string{"hi", " there"}}}
	ts := newTestServer(&fakeAnswerer{}, b, nil)
	defer ts.Close()

	resp := postJSON(t, ts.URL+"/api/chat", `{"prompt":"hello"}`)
	defer resp.Body.Close()

	events := decodeSSE(t, resp.Body)
	require.Len(t, events, 4)
	assert.Equal(t, "session-2", events[0].SessionID)
	assert.Equal(t, "hi", events[1].Token)
	assert.True(t, events[3].Done)
}

func TestRAGProxy(t *testing.T) {
	b := &fakeBackend{passages: []models.Passage{{Content: "passage", Score: 0.9}}}
	ts := newTestServer(&fakeAnswerer{}, b, nil)
	defer ts.Close()

	resp := postJSON(t, ts.URL+"/api/rag", `{"query":"glucose"}`)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "medical_db", b.searchParams.Database, "default database applied")

	var body struct {
		Results []models.Passage `json:"results"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Results, 1)
	assert.Equal(t, "passage", body.Results[0].Content)
}

func TestRAGProxyRequiresQuery(t *testing.T) {
	ts := newTestServer(&fakeAnswerer{}, &fakeBackend{}, nil)
	defer ts.Close()

	resp := postJSON(t, ts.URL+"/api/rag", `{}`)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHealthUnreachable(t *testing.T) {
	b := &fakeBackend{healthErr: errors.New("connection refused")}
	ts := newTestServer(&fakeAnswerer{}, b, nil)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestChunksRequiresDocument(t *testing.T) {
	ts := newTestServer(&fakeAnswerer{}, &fakeBackend{}, nil)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/chunks")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestDatasetUpload(t *testing.T) {
	b := &fakeBackend{}
	ts := newTestServer(&fakeAnswerer{}, b, nil)
	defer ts.Close()

	var buf strings.Builder
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", "letter.txt")
	require.NoError(t, err)
	_, err = part.Write([]byte("letter body"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	resp, err := http.Post(ts.URL+"/api/datasets/letters/upload", w.FormDataContentType(), strings.NewReader(buf.String()))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "letter body", b.uploaded["letters/letter.txt"])
}

func TestDatasetProcessAndClear(t *testing.T) {
	b := &fakeBackend{processTask: "task-1"}
	ts := newTestServer(&fakeAnswerer{}, b, nil)
	defer ts.Close()

	resp := postJSON(t, ts.URL+"/api/datasets/letters/process", `{}`)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "task-1", body["taskId"])

	req, err := http.NewRequest(http.MethodDelete, ts.URL+"/api/datasets/letters", nil)
	require.NoError(t, err)
	clearResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer clearResp.Body.Close()

	assert.Equal(t, http.StatusOK, clearResp.StatusCode)
	assert.Equal(t, "letters", b.clearedName)
}

func TestBatchStart(t *testing.T) {
	r := &fakeRunner{ran: make(chan struct{})}
	ts := newTestServer(&fakeAnswerer{}, &fakeBackend{}, r)
	defer ts.Close()

	resp := postJSON(t, ts.URL+"/api/batch", `{}`)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	<-r.ran
}

func TestBatchStartConflict(t *testing.T) {
	r := &fakeRunner{progress: batch.Progress{Running: true}}
	ts := newTestServer(&fakeAnswerer{}, &fakeBackend{}, r)
	defer ts.Close()

	resp := postJSON(t, ts.URL+"/api/batch", `{}`)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestBatchProgress(t *testing.T) {
	r := &fakeRunner{progress: batch.Progress{Stage: "extracting", TotalDocs: 4, ProcessedDocs: 1}}
	ts := newTestServer(&fakeAnswerer{}, &fakeBackend{}, r)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/batch/progress")
	require.NoError(t, err)
	defer resp.Body.Close()

	var p batch.Progress
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&p))
	assert.Equal(t, "extracting", p.Stage)
	assert.Equal(t, 4, p.TotalDocs)
}

func TestBatchResults(t *testing.T) {
	ts := newTestServer(&fakeAnswerer{}, &fakeBackend{}, &fakeRunner{})
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/batch/results")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body struct {
		Files []string `json:"files"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, []string{"results/2026-08-30/batch_1.json"}, body.Files)
}

func TestMetricsExposed(t *testing.T) {
	ts := newTestServer(&fakeAnswerer{}, &fakeBackend{}, nil)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
