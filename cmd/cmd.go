package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
	"go.uber.org/zap"

	"github.com/ragrelay/ragrelay/internal/models"
	"github.com/ragrelay/ragrelay/pkg/agent"
	"github.com/ragrelay/ragrelay/pkg/backend"
	"github.com/ragrelay/ragrelay/pkg/batch"
	"github.com/ragrelay/ragrelay/pkg/chunker"
	"github.com/ragrelay/ragrelay/pkg/config"
	"github.com/ragrelay/ragrelay/pkg/docload"
	"github.com/ragrelay/ragrelay/pkg/expander"
	"github.com/ragrelay/ragrelay/pkg/ranker"
	"github.com/ragrelay/ragrelay/pkg/retrieval"
	"github.com/ragrelay/ragrelay/pkg/synthesis"
	"github.com/ragrelay/ragrelay/server"
)

// loadConfig loads and validates the config file, printing each problem
// before failing.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if problems := cfg.Validate(); len(problems) > 0 {
		for _, p := range problems {
			color.Red("config: %s: %s", p.Field, p.Message)
		}
		return nil, fmt.Errorf("invalid configuration")
	}
	return cfg, nil
}

func newClient(cfg *config.Config, logger *zap.Logger) *backend.Client {
	return backend.NewWithConfig(backend.BackendConfig{
		BaseURL:       cfg.Backend.BaseURL,
		Namespace:     cfg.Backend.Namespace,
		Project:       cfg.Backend.Project,
		ChatTimeout:   time.Duration(cfg.Backend.ChatTimeout) * time.Second,
		SearchTimeout: time.Duration(cfg.Backend.SearchTimeout) * time.Second,
		HealthTimeout: time.Duration(cfg.Backend.HealthTimeout) * time.Second,
		RateLimit:     cfg.Backend.RateLimit,
	}, logger)
}

func newAgent(cfg *config.Config, client *backend.Client, logger *zap.Logger, onFailure func(string)) *agent.Agent {
	return agent.NewWithConfig(agent.AgentConfig{
		Retrieval: retrieval.RetrievalConfig{
			Databases:       cfg.Retrieval.Databases,
			TopK:            cfg.Retrieval.TopK,
			ScoreThreshold:  cfg.Retrieval.ScoreThreshold,
			MaxPassages:     cfg.Retrieval.MaxPassages,
			HighScore:       cfg.Retrieval.HighScore,
			ExpandDocs:      cfg.Retrieval.ExpandDocs,
			ExpandTopK:      cfg.Retrieval.ExpandTopK,
			ExpandThreshold: cfg.Retrieval.ExpandThreshold,
			SortByScore:     cfg.Retrieval.SortByScore,
			OnFailure:       onFailure,
		},
		Expander: expander.ExpanderConfig{
			FastModel:     cfg.Backend.FastModel,
			MaxQueries:    cfg.Expander.MaxQueries,
			Temperature:   cfg.Expander.Temperature,
			MaxTokens:     cfg.Expander.MaxTokens,
			QualityFilter: cfg.Expander.QualityFilter,
		},
		Synthesis: synthesis.StreamerConfig{
			Model:       cfg.Backend.Model,
			Temperature: cfg.Synthesis.Temperature,
			MaxTokens:   cfg.Synthesis.MaxTokens,
		},
	}, client, logger)
}

func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	addr := fs.String("addr", "", "listen address (overrides config)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}

	logger, err := zap.NewProduction()
	if err != nil {
		return err
	}
	defer logger.Sync()

	client := newClient(cfg, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := config.Refresh(ctx, cfg, client); err != nil {
		logger.Sugar().Warnw("project refresh failed, using local database list", "error", err)
	}
	cancel()

	a := newAgent(cfg, client, logger, func(database string) {
		server.RetrievalFailures.WithLabelValues(database).Inc()
	})
	runner := batch.NewWithConfig(batch.BatchConfig{
		Dataset:    cfg.Batch.Dataset,
		LettersDB:  cfg.Batch.LettersDB,
		CorpusDB:   cfg.Batch.CorpusDB,
		ResultsDir: cfg.Batch.ResultsDir,
		BatchSize:  cfg.Batch.BatchSize,
	}, client, logger)

	database := ""
	if len(cfg.Retrieval.Databases) > 0 {
		database = cfg.Retrieval.Databases[0]
	}
	srv := server.NewWithConfig(server.ServerConfig{
		Addr:     cfg.Server.Addr,
		Database: database,
	}, a, client, runner, logger)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case <-stop:
		color.Yellow("\nShutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func runAsk(args []string) error {
	fs := flag.NewFlagSet("ask", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	file := fs.String("file", "", "local document to include as context")
	noRAG := fs.Bool("no-rag", false, "skip knowledge base retrieval")
	if err := fs.Parse(args); err != nil {
		return err
	}
	question := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if question == "" {
		return fmt.Errorf("ask: question is required")
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}

	var excerpts []string
	if *file != "" {
		doc, err := docload.Load(*file)
		if err != nil {
			return fmt.Errorf("loading %s: %w", *file, err)
		}
		ck := chunker.NewWithConfig(chunker.ChunkerConfig{
			TargetSize: cfg.Chunker.TargetSize,
			Overlap:    cfg.Chunker.Overlap,
		})
		chunks := ck.Chunk(doc.Text)
		excerpts = ranker.TopExcerpts(question, chunks, cfg.Ranker.TopK)
		color.Cyan("Using %d excerpts from %s (%d chunks)", len(excerpts), filepath.Base(*file), len(chunks))
	}

	client := newClient(cfg, nil)
	a := newAgent(cfg, client, nil, nil)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT)
	defer cancel()

	var citations []models.Citation
	for ev := range a.Answer(ctx, models.ChatRequest{
		Prompt:   question,
		Excerpts: excerpts,
		NoRAG:    *noRAG,
	}) {
		switch {
		case ev.Err != "":
			return fmt.Errorf("%s", ev.Err)
		case len(ev.Citations) > 0:
			citations = ev.Citations
		case ev.Token != "":
			fmt.Print(ev.Token)
		}
	}
	fmt.Println()

	if len(citations) > 0 {
		color.Cyan("\nSources:")
		for _, c := range citations {
			if c.Page > 0 {
				fmt.Printf("  [%s] %s (p.%d)\n", c.ID, c.Source, c.Page)
			} else {
				fmt.Printf("  [%s] %s\n", c.ID, c.Source)
			}
		}
	}
	return nil
}

func runIngest(args []string) error {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	file := fs.String("file", "", "document to upload")
	dataset := fs.String("dataset", "", "target dataset (defaults to batch dataset)")
	preview := fs.String("preview", "", "print the top excerpts for this query instead of uploading")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *file == "" {
		return fmt.Errorf("ingest: -file is required")
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	if *dataset == "" {
		*dataset = cfg.Batch.Dataset
	}

	doc, err := docload.Load(*file)
	if err != nil {
		return fmt.Errorf("loading %s: %w", *file, err)
	}
	ck := chunker.NewWithConfig(chunker.ChunkerConfig{
		TargetSize: cfg.Chunker.TargetSize,
		Overlap:    cfg.Chunker.Overlap,
	})
	chunks := ck.Chunk(doc.Text)
	color.Cyan("Loaded %s: %d pages, %d chunks", filepath.Base(*file), doc.Pages, len(chunks))

	if *preview != "" {
		for i, excerpt := range ranker.TopExcerpts(*preview, chunks, cfg.Ranker.TopK) {
			color.Yellow("--- excerpt %d ---", i+1)
			fmt.Println(excerpt)
		}
		return nil
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT)
	defer cancel()

	client := newClient(cfg, nil)

	f, err := os.Open(*file)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := client.UploadDataset(ctx, *dataset, filepath.Base(*file), f); err != nil {
		return fmt.Errorf("upload failed: %w", err)
	}
	color.Green("Uploaded to dataset %q", *dataset)

	taskID, err := client.ProcessDataset(ctx, *dataset)
	if err != nil {
		return fmt.Errorf("processing failed to start: %w", err)
	}

	bar := progressbar.NewOptions(100,
		progressbar.OptionSetDescription("Indexing"),
		progressbar.OptionShowCount(),
	)
	for {
		task, err := client.TaskStatus(ctx, taskID)
		if err != nil {
			return fmt.Errorf("polling task %s: %w", taskID, err)
		}
		bar.Set(int(task.Progress * 100))
		switch task.Status {
		case "completed":
			bar.Finish()
			fmt.Println()
			color.Green("Document indexed")
			return nil
		case "failed":
			fmt.Println()
			return fmt.Errorf("indexing failed: %s", task.Error)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
}

func runBatch(args []string) error {
	fs := flag.NewFlagSet("batch", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}

	client := newClient(cfg, nil)
	runner := batch.NewWithConfig(batch.BatchConfig{
		Dataset:    cfg.Batch.Dataset,
		LettersDB:  cfg.Batch.LettersDB,
		CorpusDB:   cfg.Batch.CorpusDB,
		ResultsDir: cfg.Batch.ResultsDir,
		BatchSize:  cfg.Batch.BatchSize,
	}, client, nil)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT)
	defer cancel()

	done := make(chan struct{})
	var (
		path   string
		runErr error
	)
	go func() {
		defer close(done)
		path, runErr = runner.Run(ctx)
	}()

	bar := progressbar.NewOptions(-1,
		progressbar.OptionSetDescription("Processing"),
		progressbar.OptionSpinnerType(14),
	)
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
poll:
	for {
		select {
		case <-done:
			break poll
		case <-ticker.C:
			p := runner.Progress()
			bar.Describe(fmt.Sprintf("%s (%d/%d docs, %d tasks)",
				p.Stage, p.ProcessedDocs, p.TotalDocs, p.Extracted))
			bar.Add(1)
		}
	}
	fmt.Println()

	if runErr != nil {
		return runErr
	}
	p := runner.Progress()
	color.Green("Batch complete: %d documents, %d tasks extracted, %d valid, %d answered",
		p.ProcessedDocs, p.Extracted, p.Valid, p.Answered)
	color.Cyan("Results written to %s", path)
	return nil
}
