// Package server exposes the answer pipeline over HTTP: an SSE chat
// endpoint, a websocket relay, retrieval and dataset management proxies,
// and batch run controls.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/ragrelay/ragrelay/internal/models"
	"github.com/ragrelay/ragrelay/internal/types"
	"github.com/ragrelay/ragrelay/pkg/backend"
	"github.com/ragrelay/ragrelay/pkg/batch"
)

// Answerer runs the full answer pipeline for one request.
type Answerer interface {
	Answer(ctx context.Context, req models.ChatRequest) <-chan models.StreamEvent
}

// Backend is the slice of the completion backend the HTTP layer proxies.
type Backend interface {
	types.ChatStreamer
	types.Searcher
	Health(ctx context.Context) (map[string]any, error)
	DocumentChunks(ctx context.Context, documentHash, database string) ([]models.Passage, error)
	UploadDataset(ctx context.Context, dataset, filename string, file io.Reader) error
	ProcessDataset(ctx context.Context, dataset string) (string, error)
	ClearDataset(ctx context.Context, dataset string) error
	TaskStatus(ctx context.Context, taskID string) (backend.Task, error)
}

// BatchRunner triggers and reports offline batch runs.
type BatchRunner interface {
	Run(ctx context.Context) (string, error)
	Progress() batch.Progress
	Results() ([]string, error)
}

type ServerConfig struct {
	Addr string

	// Database is the default vector database for proxy endpoints.
	Database string
}

type Server struct {
	config  ServerConfig
	agent   Answerer
	backend Backend
	runner  BatchRunner
	echo    *echo.Echo
	log     *zap.SugaredLogger
}

func NewWithConfig(config ServerConfig, agent Answerer, b Backend, runner BatchRunner, logger *zap.Logger) *Server {
	if config.Addr == "" {
		config.Addr = ":8080"
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		config:  config,
		agent:   agent,
		backend: b,
		runner:  runner,
		log:     logger.Sugar(),
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	e.HTTPErrorHandler = s.errorHandler

	api := e.Group("/api")
	api.POST("/agent-chat", s.handleAgentChat)
	api.POST("/chat", s.handleChat)
	api.POST("/rag", s.handleRAG)
	api.GET("/health", s.handleHealth)
	api.GET("/chunks", s.handleChunks)
	api.POST("/datasets/:name/upload", s.handleDatasetUpload)
	api.POST("/datasets/:name/process", s.handleDatasetProcess)
	api.DELETE("/datasets/:name", s.handleDatasetClear)
	api.GET("/tasks/:id", s.handleTaskStatus)
	api.POST("/batch", s.handleBatchStart)
	api.GET("/batch/progress", s.handleBatchProgress)
	api.GET("/batch/results", s.handleBatchResults)

	e.GET("/ws", s.handleWebSocket)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	s.echo = e
	return s
}

// Handler exposes the routing tree, mainly for tests.
func (s *Server) Handler() http.Handler { return s.echo }

func (s *Server) Start() error {
	s.log.Infow("http server listening", "addr", s.config.Addr)
	return s.echo.Start(s.config.Addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) errorHandler(err error, c echo.Context) {
	code := http.StatusInternalServerError
	msg := err.Error()
	if he, ok := err.(*echo.HTTPError); ok {
		code = he.Code
		msg = fmt.Sprintf("%v", he.Message)
	}
	if c.Response().Committed {
		return
	}
	s.log.Warnw("request failed", "path", c.Path(), "status", code, "error", err)
	if writeErr := c.JSON(code, map[string]string{"error": msg}); writeErr != nil {
		s.log.Errorw("writing error response", "error", writeErr)
	}
}

// handleAgentChat streams the pipeline's events as server-sent events, one
// JSON object per event.
func (s *Server) handleAgentChat(c echo.Context) error {
	var req models.ChatRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Prompt == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "prompt is required")
	}

	ctx := c.Request().Context()
	events := s.agent.Answer(ctx, req)

	w := newSSEWriter(c)
	for ev := range events {
		if err := w.write(ev); err != nil {
			s.log.Debugw("client disconnected mid-stream", "error", err)
			return nil
		}
		if ev.Token != "" {
			tokensStreamed.Inc()
		}
	}
	return nil
}

// handleChat is the thin passthrough: backend-side RAG, no local pipeline.
func (s *Server) handleChat(c echo.Context) error {
	var req models.ChatRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Prompt == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "prompt is required")
	}

	ctx := c.Request().Context()
	stream, err := s.backend.ChatCompletionStream(ctx, models.ChatParams{
		Messages:   []models.Message{{Role: "user", Content: req.Prompt}},
		Stream:     true,
		RAGEnabled: !req.NoRAG,
		Database:   s.config.Database,
		TopK:       req.TopK,
		SessionID:  req.SessionID,
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	defer stream.Close()

	w := newSSEWriter(c)
	if id := stream.SessionID(); id != "" {
		if err := w.write(models.StreamEvent{SessionID: id}); err != nil {
			return nil
		}
	}
	for {
		token, err := stream.Recv()
		if err == io.EOF {
			return w.write(models.StreamEvent{Done: true})
		}
		if err != nil {
			return w.write(models.StreamEvent{Err: err.Error()})
		}
		tokensStreamed.Inc()
		if err := w.write(models.StreamEvent{Token: token}); err != nil {
			return nil
		}
	}
}

func (s *Server) handleRAG(c echo.Context) error {
	var params models.SearchParams
	if err := c.Bind(&params); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if params.Query == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query is required")
	}
	if params.Database == "" {
		params.Database = s.config.Database
	}

	passages, err := s.backend.Search(c.Request().Context(), params)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]any{"results": passages})
}

func (s *Server) handleHealth(c echo.Context) error {
	status, err := s.backend.Health(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "unreachable", "error": err.Error()})
	}
	return c.JSON(http.StatusOK, status)
}

func (s *Server) handleChunks(c echo.Context) error {
	document := c.QueryParam("document")
	if document == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "document is required")
	}
	database := c.QueryParam("database")
	if database == "" {
		database = s.config.Database
	}

	chunks, err := s.backend.DocumentChunks(c.Request().Context(), document, database)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]any{"chunks": chunks})
}

func (s *Server) handleDatasetUpload(c echo.Context) error {
	file, err := c.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "file is required")
	}
	src, err := file.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	defer src.Close()

	dataset := c.Param("name")
	if err := s.backend.UploadDataset(c.Request().Context(), dataset, file.Filename, src); err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	s.log.Infow("document uploaded", "dataset", dataset, "file", file.Filename)
	return c.JSON(http.StatusOK, map[string]string{"status": "uploaded", "file": file.Filename})
}

func (s *Server) handleDatasetProcess(c echo.Context) error {
	taskID, err := s.backend.ProcessDataset(c.Request().Context(), c.Param("name"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	return c.JSON(http.StatusAccepted, map[string]string{"taskId": taskID})
}

func (s *Server) handleDatasetClear(c echo.Context) error {
	if err := s.backend.ClearDataset(c.Request().Context(), c.Param("name")); err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "cleared"})
}

func (s *Server) handleTaskStatus(c echo.Context) error {
	task, err := s.backend.TaskStatus(c.Request().Context(), c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	return c.JSON(http.StatusOK, task)
}

func (s *Server) handleBatchStart(c echo.Context) error {
	if s.runner == nil {
		return echo.NewHTTPError(http.StatusNotImplemented, "batch runs not configured")
	}
	if s.runner.Progress().Running {
		return echo.NewHTTPError(http.StatusConflict, "batch run already in progress")
	}

	go func() {
		// Detached from the request: the run outlives the HTTP call.
		if _, err := s.runner.Run(context.Background()); err != nil {
			s.log.Errorw("batch run failed", "error", err)
		}
	}()
	return c.JSON(http.StatusAccepted, map[string]string{"status": "started"})
}

func (s *Server) handleBatchProgress(c echo.Context) error {
	if s.runner == nil {
		return echo.NewHTTPError(http.StatusNotImplemented, "batch runs not configured")
	}
	return c.JSON(http.StatusOK, s.runner.Progress())
}

func (s *Server) handleBatchResults(c echo.Context) error {
	if s.runner == nil {
		return echo.NewHTTPError(http.StatusNotImplemented, "batch runs not configured")
	}
	files, err := s.runner.Results()
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"files": files})
}

// sseWriter frames stream events as server-sent events and flushes after
// each one so tokens reach the client as they arrive.
type sseWriter struct {
	c       echo.Context
	started bool
}

func newSSEWriter(c echo.Context) *sseWriter {
	return &sseWriter{c: c}
}

func (w *sseWriter) write(ev models.StreamEvent) error {
	if !w.started {
		h := w.c.Response().Header()
		h.Set(echo.HeaderContentType, "text/event-stream")
		h.Set("Cache-Control", "no-cache")
		h.Set("Connection", "keep-alive")
		w.c.Response().WriteHeader(http.StatusOK)
		w.started = true
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w.c.Response(), "data: %s\n\n", data); err != nil {
		return err
	}
	w.c.Response().Flush()
	return nil
}
