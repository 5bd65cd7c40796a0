// Package backend is the HTTP client for the model-serving and vector-search
// service. All network calls carry bounded timeouts and flow through a shared
// rate limiter; retrieval calls get one bounded retry because they are
// idempotent, chat calls never do.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/ragrelay/ragrelay/internal/models"
	"github.com/ragrelay/ragrelay/internal/types"
)

const sessionHeader = "X-Session-ID"

type BackendConfig struct {
	BaseURL   string
	Namespace string
	Project   string

	ChatTimeout   time.Duration
	SearchTimeout time.Duration
	HealthTimeout time.Duration

	RateLimit float64 // requests per second
}

type Client struct {
	config  BackendConfig
	client  *http.Client
	limiter *rate.Limiter
	log     *zap.SugaredLogger
}

func NewWithConfig(config BackendConfig, logger *zap.Logger) *Client {
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:8000"
	}
	if config.Namespace == "" {
		config.Namespace = "default"
	}
	if config.ChatTimeout == 0 {
		config.ChatTimeout = 60 * time.Second
	}
	if config.SearchTimeout == 0 {
		config.SearchTimeout = 15 * time.Second
	}
	if config.HealthTimeout == 0 {
		config.HealthTimeout = 5 * time.Second
	}
	if config.RateLimit == 0 {
		config.RateLimit = 20
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		config:  config,
		client:  &http.Client{},
		limiter: rate.NewLimiter(rate.Limit(config.RateLimit), int(config.RateLimit)+1),
		log:     logger.Sugar(),
	}
}

func (c *Client) projectURL(parts ...string) string {
	segments := []string{
		"v1", "projects",
		url.PathEscape(c.config.Namespace),
		url.PathEscape(c.config.Project),
	}
	segments = append(segments, parts...)
	return strings.TrimRight(c.config.BaseURL, "/") + "/" + strings.Join(segments, "/")
}

func (c *Client) postJSON(ctx context.Context, endpoint string, payload any) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.client.Do(req)
}

type chatRequest struct {
	Model       string           `json:"model"`
	Messages    []models.Message `json:"messages"`
	Temperature float64          `json:"temperature"`
	MaxTokens   int              `json:"max_tokens,omitempty"`
	Stream      bool             `json:"stream,omitempty"`
	RAGEnabled  bool             `json:"rag_enabled"`
	Database    string           `json:"database,omitempty"`
	TopK        int              `json:"top_k,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// ChatCompletion performs a synchronous chat call and returns the generated
// message content.
func (c *Client) ChatCompletion(ctx context.Context, p models.ChatParams) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.ChatTimeout)
	defer cancel()

	resp, err := c.postJSON(ctx, c.projectURL("chat", "completions"), chatRequest{
		Model:       p.Model,
		Messages:    p.Messages,
		Temperature: p.Temperature,
		MaxTokens:   p.MaxTokens,
		RAGEnabled:  p.RAGEnabled,
		Database:    p.Database,
		TopK:        p.TopK,
	})
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("chat completion returned status %d", resp.StatusCode)
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("chat completion: decoding response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("chat completion returned no choices")
	}
	return parsed.Choices[0].Message.Content, nil
}

// ChatCompletionStream opens a streaming chat call. The returned stream's
// session identifier, when present, comes from the response headers and is
// available before the first token. The stream is bound to ctx: cancelling
// the context abandons the response body.
func (c *Client) ChatCompletionStream(ctx context.Context, p models.ChatParams) (types.TokenStream, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	body, err := json.Marshal(chatRequest{
		Model:       p.Model,
		Messages:    p.Messages,
		Temperature: p.Temperature,
		MaxTokens:   p.MaxTokens,
		Stream:      true,
		RAGEnabled:  p.RAGEnabled,
		Database:    p.Database,
		TopK:        p.TopK,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.projectURL("chat", "completions"), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.SessionID != "" {
		req.Header.Set(sessionHeader, p.SessionID)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("chat stream failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("chat stream returned status %d", resp.StatusCode)
	}
	if resp.Body == nil {
		return nil, fmt.Errorf("chat stream returned no body")
	}

	return newChatStream(resp.Body, resp.Header.Get(sessionHeader), c.log), nil
}

type ragRequest struct {
	Query          string            `json:"query"`
	Database       string            `json:"database"`
	TopK           int               `json:"top_k"`
	ScoreThreshold float64           `json:"score_threshold,omitempty"`
	MetadataFilter map[string]string `json:"metadata_filter,omitempty"`
}

type ragResponse struct {
	Results []ragResult `json:"results"`
}

// Search issues one retrieval call against a named vector database. Transport
// errors and 5xx responses are retried once; other failures are permanent.
func (c *Client) Search(ctx context.Context, p models.SearchParams) ([]models.Passage, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.SearchTimeout)
	defer cancel()

	var passages []models.Passage
	operation := func() error {
		resp, err := c.postJSON(ctx, c.projectURL("rag", "query"), ragRequest{
			Query:          p.Query,
			Database:       p.Database,
			TopK:           p.TopK,
			ScoreThreshold: p.ScoreThreshold,
			MetadataFilter: p.MetadataFilter,
		})
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= http.StatusInternalServerError {
			return fmt.Errorf("rag query returned status %d", resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			return backoff.Permanent(fmt.Errorf("rag query returned status %d", resp.StatusCode))
		}

		var parsed ragResponse
		if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
			return backoff.Permanent(fmt.Errorf("rag query: decoding response: %w", err))
		}

		passages = passages[:0]
		for _, r := range parsed.Results {
			passages = append(passages, normalizePassage(r, p.Database))
		}
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(300*time.Millisecond), 1), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return nil, fmt.Errorf("rag query [%s] %q: %w", p.Database, p.Query, err)
	}
	return passages, nil
}

// Health checks the backend's health endpoint.
func (c *Client) Health(ctx context.Context) (map[string]any, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.HealthTimeout)
	defer cancel()

	endpoint := strings.TrimRight(c.config.BaseURL, "/") + "/health"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	var payload map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("health check: decoding response: %w", err)
	}
	return payload, nil
}

// Dataset is a named document collection hosted by the backend.
type Dataset struct {
	Name  string   `json:"name"`
	Files []string `json:"files"`
}

// Project is the backend's view of the configured project.
type Project struct {
	Name      string
	Namespace string
	Version   string
	Databases []string
	Datasets  []Dataset
}

// FetchProject retrieves the project configuration, including dataset file
// hashes and the vector databases the project exposes.
func (c *Client) FetchProject(ctx context.Context) (*Project, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.HealthTimeout)
	defer cancel()

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.projectURL(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("project fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("project fetch returned status %d", resp.StatusCode)
	}

	var payload struct {
		Project struct {
			Config struct {
				Name      string    `json:"name"`
				Namespace string    `json:"namespace"`
				Version   string    `json:"version"`
				Datasets  []Dataset `json:"datasets"`
				RAG       struct {
					Databases []struct {
						Name string `json:"name"`
					} `json:"databases"`
				} `json:"rag"`
			} `json:"config"`
		} `json:"project"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("project fetch: decoding response: %w", err)
	}

	project := &Project{
		Name:      payload.Project.Config.Name,
		Namespace: payload.Project.Config.Namespace,
		Version:   payload.Project.Config.Version,
		Datasets:  payload.Project.Config.Datasets,
	}
	for _, db := range payload.Project.Config.RAG.Databases {
		project.Databases = append(project.Databases, db.Name)
	}
	return project, nil
}

// Task is the status of a long-running backend job, e.g. dataset processing.
type Task struct {
	Status   string          `json:"status"`
	Progress float64         `json:"progress"`
	Result   json.RawMessage `json:"result,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// TaskStatus polls a backend task by id.
func (c *Client) TaskStatus(ctx context.Context, taskID string) (Task, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.HealthTimeout)
	defer cancel()

	if err := c.limiter.Wait(ctx); err != nil {
		return Task{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.projectURL("tasks", url.PathEscape(taskID)), nil)
	if err != nil {
		return Task{}, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return Task{}, fmt.Errorf("task status failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Task{}, fmt.Errorf("task status returned status %d", resp.StatusCode)
	}

	var task Task
	if err := json.NewDecoder(resp.Body).Decode(&task); err != nil {
		return Task{}, fmt.Errorf("task status: decoding response: %w", err)
	}
	return task, nil
}

// DocumentChunks fetches the indexed chunks of one document by its file hash.
// The backend has no direct listing endpoint, so this runs a generic query
// with a high result count and filters by hash client-side.
func (c *Client) DocumentChunks(ctx context.Context, documentHash, database string) ([]models.Passage, error) {
	results, err := c.Search(ctx, models.SearchParams{
		Query:    "document content",
		Database: database,
		TopK:     100,
	})
	if err != nil {
		return nil, err
	}

	var matching []models.Passage
	for _, p := range results {
		key := p.Metadata.DocumentID
		if key == "" {
			key = p.Metadata.Source
		}
		if key == "" {
			continue
		}
		if strings.Contains(documentHash, key) || strings.Contains(key, documentHash) {
			matching = append(matching, p)
		}
	}
	return matching, nil
}

func drainBody(r io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(r, 4096))
	return strings.TrimSpace(string(data))
}
