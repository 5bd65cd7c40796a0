package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/ragrelay/ragrelay/pkg/backend"
)

type Config struct {
	Backend struct {
		BaseURL       string  `yaml:"base_url"`
		Namespace     string  `yaml:"namespace"`
		Project       string  `yaml:"project"`
		Model         string  `yaml:"model"`
		FastModel     string  `yaml:"fast_model"`
		ChatTimeout   int     `yaml:"chat_timeout_seconds"`
		SearchTimeout int     `yaml:"search_timeout_seconds"`
		HealthTimeout int     `yaml:"health_timeout_seconds"`
		RateLimit     float64 `yaml:"rate_limit"`
	} `yaml:"backend"`

	Retrieval struct {
		Databases       []string `yaml:"databases"`
		TopK            int      `yaml:"top_k"`
		ScoreThreshold  float64  `yaml:"score_threshold"`
		MaxPassages     int      `yaml:"max_passages"`
		HighScore       float64  `yaml:"high_score"`
		ExpandDocs      int      `yaml:"expand_docs"`
		ExpandTopK      int      `yaml:"expand_top_k"`
		ExpandThreshold float64  `yaml:"expand_threshold"`
		SortByScore     bool     `yaml:"sort_by_score"`
	} `yaml:"retrieval"`

	Expander struct {
		MaxQueries    int     `yaml:"max_queries"`
		Temperature   float64 `yaml:"temperature"`
		MaxTokens     int     `yaml:"max_tokens"`
		QualityFilter bool    `yaml:"quality_filter"`
	} `yaml:"expander"`

	Synthesis struct {
		Temperature float64 `yaml:"temperature"`
		MaxTokens   int     `yaml:"max_tokens"`
	} `yaml:"synthesis"`

	Chunker struct {
		TargetSize int `yaml:"target_size"`
		Overlap    int `yaml:"overlap"`
	} `yaml:"chunker"`

	Ranker struct {
		TopK int `yaml:"top_k"`
	} `yaml:"ranker"`

	Server struct {
		Addr string `yaml:"addr"`
	} `yaml:"server"`

	Batch struct {
		Dataset    string `yaml:"dataset"`
		LettersDB  string `yaml:"letters_db"`
		CorpusDB   string `yaml:"corpus_db"`
		ResultsDir string `yaml:"results_dir"`
		BatchSize  int    `yaml:"batch_size"`
	} `yaml:"batch"`
}

var (
	cacheMu sync.RWMutex
	cached  *Config
)

// Load reads configuration from path (or default locations when empty),
// merges environment overrides and applies defaults. The result is cached
// process-wide; call ClearCache to force a re-read.
func Load(path string) (*Config, error) {
	cacheMu.RLock()
	if cached != nil {
		c := cached
		cacheMu.RUnlock()
		return c, nil
	}
	cacheMu.RUnlock()

	cfg, err := load(path)
	if err != nil {
		return nil, err
	}

	cacheMu.Lock()
	cached = cfg
	cacheMu.Unlock()
	return cfg, nil
}

// ClearCache drops the cached configuration so the next Load re-reads it.
func ClearCache() {
	cacheMu.Lock()
	cached = nil
	cacheMu.Unlock()
}

func load(path string) (*Config, error) {
	if path == "" {
		locations := []string{
			"ragrelay.yaml",
			"ragrelay.yml",
			filepath.Join(os.Getenv("HOME"), ".config/ragrelay/config.yaml"),
			"/etc/ragrelay/config.yaml",
		}

		for _, loc := range locations {
			if _, err := os.Stat(loc); err == nil {
				path = loc
				break
			}
		}
	}

	config := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("error parsing config file: %w", err)
		}
	}

	mergeWithEnv(config)
	applyDefaults(config)
	return config, nil
}

func applyDefaults(config *Config) {
	if config.Backend.BaseURL == "" {
		config.Backend.BaseURL = "http://localhost:8000"
	}
	if config.Backend.Namespace == "" {
		config.Backend.Namespace = "default"
	}
	if config.Backend.Project == "" {
		config.Backend.Project = "medical-records-project"
	}
	if config.Backend.Model == "" {
		config.Backend.Model = "default"
	}
	if config.Backend.FastModel == "" {
		config.Backend.FastModel = "fast"
	}
	if config.Backend.ChatTimeout == 0 {
		config.Backend.ChatTimeout = 60
	}
	if config.Backend.SearchTimeout == 0 {
		config.Backend.SearchTimeout = 15
	}
	if config.Backend.HealthTimeout == 0 {
		config.Backend.HealthTimeout = 5
	}
	if config.Backend.RateLimit == 0 {
		config.Backend.RateLimit = 20
	}

	if len(config.Retrieval.Databases) == 0 {
		config.Retrieval.Databases = []string{"medical_db"}
	}
	if config.Retrieval.TopK == 0 {
		config.Retrieval.TopK = 10
	}
	if config.Retrieval.ScoreThreshold == 0 {
		config.Retrieval.ScoreThreshold = 0.7
	}
	if config.Retrieval.MaxPassages == 0 {
		config.Retrieval.MaxPassages = 20
	}
	if config.Retrieval.HighScore == 0 {
		config.Retrieval.HighScore = 0.8
	}
	if config.Retrieval.ExpandDocs == 0 {
		config.Retrieval.ExpandDocs = 3
	}
	if config.Retrieval.ExpandTopK == 0 {
		config.Retrieval.ExpandTopK = 15
	}
	if config.Retrieval.ExpandThreshold == 0 {
		config.Retrieval.ExpandThreshold = 0.5
	}

	if config.Expander.MaxQueries == 0 {
		config.Expander.MaxQueries = 8
	}
	if config.Expander.Temperature == 0 {
		config.Expander.Temperature = 0.3
	}
	if config.Expander.MaxTokens == 0 {
		config.Expander.MaxTokens = 300
	}

	if config.Synthesis.Temperature == 0 {
		config.Synthesis.Temperature = 0.5
	}
	if config.Synthesis.MaxTokens == 0 {
		config.Synthesis.MaxTokens = 2000
	}

	if config.Chunker.TargetSize == 0 {
		config.Chunker.TargetSize = 1200
	}
	if config.Chunker.Overlap == 0 {
		config.Chunker.Overlap = 150
	}

	if config.Ranker.TopK == 0 {
		config.Ranker.TopK = 6
	}

	if config.Server.Addr == "" {
		config.Server.Addr = ":8080"
	}

	if config.Batch.Dataset == "" {
		config.Batch.Dataset = "letters"
	}
	if config.Batch.LettersDB == "" {
		config.Batch.LettersDB = "letters_full"
	}
	if config.Batch.CorpusDB == "" {
		config.Batch.CorpusDB = "corpus_chunked"
	}
	if config.Batch.ResultsDir == "" {
		config.Batch.ResultsDir = "results"
	}
	if config.Batch.BatchSize == 0 {
		config.Batch.BatchSize = 20
	}
}

func mergeWithEnv(config *Config) {
	if baseURL := os.Getenv("RAGRELAY_BASE_URL"); baseURL != "" {
		config.Backend.BaseURL = baseURL
	}
	if ns := os.Getenv("RAGRELAY_NAMESPACE"); ns != "" {
		config.Backend.Namespace = ns
	}
	if project := os.Getenv("RAGRELAY_PROJECT"); project != "" {
		config.Backend.Project = project
	}
	if model := os.Getenv("RAGRELAY_MODEL"); model != "" {
		config.Backend.Model = model
	}
	if db := os.Getenv("RAGRELAY_DATABASE"); db != "" {
		config.Retrieval.Databases = []string{db}
	}
}

// ProjectFetcher loads the project configuration from the backend.
type ProjectFetcher interface {
	FetchProject(ctx context.Context) (*backend.Project, error)
}

// Refresh overlays the backend's project configuration onto cfg. The
// backend copy is the source of truth for which vector databases exist;
// the local database list is kept when the project reports none.
func Refresh(ctx context.Context, cfg *Config, fetcher ProjectFetcher) error {
	project, err := fetcher.FetchProject(ctx)
	if err != nil {
		return fmt.Errorf("project fetch failed: %w", err)
	}
	if len(project.Databases) > 0 {
		cfg.Retrieval.Databases = project.Databases
	}
	return nil
}
