// Package batch runs the offline extraction pipeline: pull every letter in
// a dataset, extract actionable tasks chunk by chunk with a fast model,
// validate the candidates, then check which tasks the reference corpus can
// already answer. Results land as dated JSON files.
package batch

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ragrelay/ragrelay/internal/models"
	"github.com/ragrelay/ragrelay/internal/types"
	"github.com/ragrelay/ragrelay/pkg/backend"
	"github.com/ragrelay/ragrelay/pkg/extract"
)

// minChunkLen skips boilerplate fragments that cannot hold a real task.
const minChunkLen = 100

const extractionPrompt = `You extract actionable tasks from correspondence.

Read the letter excerpt below and list every concrete task, request or
required action it contains. Output each one wrapped in its own tag:

<task>first task, quoted or closely paraphrased from the text</task>
<task>second task</task>

Only output tasks that the letter explicitly asks for. If the excerpt
contains no tasks, output nothing.

LETTER EXCERPT:
`

const validationPrompt = `Decide whether the following candidate is a real, actionable task
extracted from a letter, rather than a header, a page reference or noise.

Candidate: %s

Answer with exactly one tag: <valid>yes</valid> or <valid>no</valid>`

const answerPrompt = `Using the retrieved reference material, decide whether the following task
is already answered or resolved by it.

Task: %s

Answer with <answered>yes</answered> or <answered>no</answered>. If yes,
include the most relevant supporting passage in a <quote>...</quote> tag.`

// Backend is the slice of the completion backend the runner needs.
type Backend interface {
	types.ChatCaller
	FetchProject(ctx context.Context) (*backend.Project, error)
	DocumentChunks(ctx context.Context, documentHash, database string) ([]models.Passage, error)
}

type BatchConfig struct {
	Dataset    string
	LettersDB  string
	CorpusDB   string
	ResultsDir string

	// BatchSize caps the number of documents per run.
	BatchSize int

	// Concurrency bounds parallel model calls during validation.
	Concurrency int

	ExtractModel  string
	ValidateModel string
}

// Progress is a point-in-time snapshot of a run.
type Progress struct {
	Running       bool      `json:"running"`
	Stage         string    `json:"stage"`
	TotalDocs     int       `json:"totalDocs"`
	ProcessedDocs int       `json:"processedDocs"`
	Extracted     int       `json:"extracted"`
	Rejected      int       `json:"rejected"`
	Valid         int       `json:"valid"`
	Answered      int       `json:"answered"`
	StartedAt     time.Time `json:"startedAt,omitempty"`
	FinishedAt    time.Time `json:"finishedAt,omitempty"`
	Error         string    `json:"error,omitempty"`
}

// TaskResult is one validated candidate task in the run output.
type TaskResult struct {
	Document string `json:"document"`
	Task     string `json:"task"`
	Valid    bool   `json:"valid"`
	Answered bool   `json:"answered"`
	Quote    string `json:"quote,omitempty"`
}

// RunResult is the persisted outcome of one batch run.
type RunResult struct {
	StartedAt  time.Time    `json:"startedAt"`
	FinishedAt time.Time    `json:"finishedAt"`
	Dataset    string       `json:"dataset"`
	Documents  int          `json:"documents"`
	Extracted  int          `json:"extracted"`
	Rejected   int          `json:"rejected"`
	Valid      int          `json:"valid"`
	Answered   int          `json:"answered"`
	Tasks      []TaskResult `json:"tasks"`
}

type Runner struct {
	config  BatchConfig
	backend Backend
	log     *zap.SugaredLogger

	mu       sync.Mutex
	progress Progress
	running  bool
}

func NewWithConfig(config BatchConfig, b Backend, logger *zap.Logger) *Runner {
	if config.Dataset == "" {
		config.Dataset = "letters"
	}
	if config.LettersDB == "" {
		config.LettersDB = "letters_full"
	}
	if config.CorpusDB == "" {
		config.CorpusDB = "corpus_chunked"
	}
	if config.ResultsDir == "" {
		config.ResultsDir = "results"
	}
	if config.BatchSize == 0 {
		config.BatchSize = 20
	}
	if config.Concurrency == 0 {
		config.Concurrency = 5
	}
	if config.ExtractModel == "" {
		config.ExtractModel = "question_extractor"
	}
	if config.ValidateModel == "" {
		config.ValidateModel = "task_validator"
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Runner{
		config:  config,
		backend: b,
		log:     logger.Sugar(),
	}
}

// Progress returns a snapshot of the current or most recent run. Each run
// starts from a fresh counter set; runs never see each other's numbers.
func (r *Runner) Progress() Progress {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.progress
}

func (r *Runner) update(fn func(*Progress)) {
	r.mu.Lock()
	fn(&r.progress)
	r.mu.Unlock()
}

// Run executes one batch pass and returns the written results file path.
// Only one run may be active at a time.
func (r *Runner) Run(ctx context.Context) (string, error) {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return "", fmt.Errorf("batch run already in progress")
	}
	r.running = true
	r.progress = Progress{Running: true, Stage: "listing documents", StartedAt: time.Now()}
	r.mu.Unlock()

	path, err := r.run(ctx)

	r.mu.Lock()
	r.running = false
	r.progress.Running = false
	r.progress.FinishedAt = time.Now()
	if err != nil {
		r.progress.Stage = "failed"
		r.progress.Error = err.Error()
	} else {
		r.progress.Stage = "done"
	}
	r.mu.Unlock()

	return path, err
}

func (r *Runner) run(ctx context.Context) (string, error) {
	project, err := r.backend.FetchProject(ctx)
	if err != nil {
		return "", fmt.Errorf("listing documents: %w", err)
	}

	var files []string
	for _, ds := range project.Datasets {
		if ds.Name == r.config.Dataset {
			files = ds.Files
			break
		}
	}
	if len(files) > r.config.BatchSize {
		files = files[:r.config.BatchSize]
	}
	if len(files) == 0 {
		return "", fmt.Errorf("dataset %q has no documents", r.config.Dataset)
	}
	r.update(func(p *Progress) {
		p.TotalDocs = len(files)
		p.Stage = "extracting"
	})
	r.log.Infow("batch run started", "dataset", r.config.Dataset, "documents", len(files))

	result := RunResult{
		StartedAt: time.Now(),
		Dataset:   r.config.Dataset,
		Documents: len(files),
	}

	var candidates []TaskResult
	for _, hash := range files {
		extracted, rejected, err := r.extractDocument(ctx, hash)
		if err != nil {
			return "", err
		}
		candidates = append(candidates, extracted...)
		r.update(func(p *Progress) {
			p.ProcessedDocs++
			p.Extracted += len(extracted)
			p.Rejected += rejected
		})
	}
	result.Extracted = len(candidates)

	r.update(func(p *Progress) { p.Stage = "validating" })
	validated, err := r.validate(ctx, candidates)
	if err != nil {
		return "", err
	}

	r.update(func(p *Progress) { p.Stage = "answering" })
	answered, err := r.answer(ctx, validated)
	if err != nil {
		return "", err
	}

	result.Tasks = answered
	for _, t := range answered {
		if t.Valid {
			result.Valid++
		}
		if t.Answered {
			result.Answered++
		}
	}
	r.mu.Lock()
	result.Rejected = r.progress.Rejected
	r.mu.Unlock()
	result.FinishedAt = time.Now()

	path, err := r.writeResult(result)
	if err != nil {
		return "", err
	}
	r.log.Infow("batch run complete",
		"tasks", len(result.Tasks),
		"valid", result.Valid,
		"answered", result.Answered,
		"results", path)
	return path, nil
}

// extractDocument pulls the indexed chunks of one letter and asks the
// extraction model for tasks in each chunk large enough to hold one.
func (r *Runner) extractDocument(ctx context.Context, hash string) ([]TaskResult, int, error) {
	chunks, err := r.backend.DocumentChunks(ctx, hash, r.config.LettersDB)
	if err != nil {
		return nil, 0, fmt.Errorf("fetching chunks for %s: %w", hash, err)
	}

	var (
		tasks    []TaskResult
		rejected int
	)
	for _, chunk := range chunks {
		if len(chunk.Content) < minChunkLen {
			continue
		}
		content, err := r.backend.ChatCompletion(ctx, models.ChatParams{
			Model:       r.config.ExtractModel,
			Messages:    []models.Message{{Role: "user", Content: extractionPrompt + chunk.Content}},
			Temperature: 0.1,
			RAGEnabled:  false,
		})
		if err != nil {
			return nil, 0, fmt.Errorf("task extraction for %s: %w", hash, err)
		}
		for _, task := range extract.All(extract.StripThink(content), extract.TagTask) {
			if reason, ok := quickReject(task); ok {
				r.log.Debugw("candidate rejected", "reason", reason, "task", task)
				rejected++
				continue
			}
			tasks = append(tasks, TaskResult{Document: hash, Task: task})
		}
	}
	return tasks, rejected, nil
}

// validate asks the validator model about every candidate in parallel.
func (r *Runner) validate(ctx context.Context, candidates []TaskResult) ([]TaskResult, error) {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(r.config.Concurrency)

	for i := range candidates {
		i := i
		g.Go(func() error {
			content, err := r.backend.ChatCompletion(ctx, models.ChatParams{
				Model:       r.config.ValidateModel,
				Messages:    []models.Message{{Role: "user", Content: fmt.Sprintf(validationPrompt, candidates[i].Task)}},
				Temperature: 0,
				RAGEnabled:  false,
			})
			if err != nil {
				return fmt.Errorf("validating candidate: %w", err)
			}
			yes, ok := extract.YesNo(extract.StripThink(content), extract.TagValid)
			candidates[i].Valid = ok && yes
			if candidates[i].Valid {
				r.update(func(p *Progress) { p.Valid++ })
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return candidates, nil
}

// answer checks valid tasks against the reference corpus with backend-side
// retrieval enabled.
func (r *Runner) answer(ctx context.Context, tasks []TaskResult) ([]TaskResult, error) {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(r.config.Concurrency)

	for i := range tasks {
		if !tasks[i].Valid {
			continue
		}
		i := i
		g.Go(func() error {
			content, err := r.backend.ChatCompletion(ctx, models.ChatParams{
				Model:      r.config.ValidateModel,
				Messages:   []models.Message{{Role: "user", Content: fmt.Sprintf(answerPrompt, tasks[i].Task)}},
				RAGEnabled: true,
				Database:   r.config.CorpusDB,
				TopK:       5,
			})
			if err != nil {
				return fmt.Errorf("answer check: %w", err)
			}
			content = extract.StripThink(content)
			yes, ok := extract.YesNo(content, extract.TagAnswered)
			tasks[i].Answered = ok && yes
			if tasks[i].Answered {
				if quote, ok := extract.First(content, extract.TagQuote); ok {
					tasks[i].Quote = quote
				}
				r.update(func(p *Progress) { p.Answered++ })
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return tasks, nil
}

// Results lists the result files of past runs, newest directory first.
func (r *Runner) Results() ([]string, error) {
	var files []string
	err := filepath.WalkDir(r.config.ResultsDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && filepath.Ext(path) == ".json" {
			files = append(files, path)
		}
		return nil
	})
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("listing results: %w", err)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(files)))
	return files, nil
}

func (r *Runner) writeResult(result RunResult) (string, error) {
	dir := filepath.Join(r.config.ResultsDir, result.FinishedAt.Format("2006-01-02"))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating results dir: %w", err)
	}

	path := filepath.Join(dir, fmt.Sprintf("batch_%d.json", result.FinishedAt.Unix()))
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("writing results: %w", err)
	}
	return path, nil
}
