// Package config provides configuration management for TraceMem.
//
// Settings are layered: built-in defaults, then an optional YAML file
// (TRACEMEM_CONFIG or ./tracemem.yaml), then a .env file, then environment
// variables. Later layers win. Most variables use the TRACEMEM_ prefix;
// OPENAI_API_KEY, ANTHROPIC_API_KEY and BASE_URL keep their conventional names.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is read when TRACEMEM_CONFIG is unset and the file exists.
const DefaultConfigFile = "tracemem.yaml"

// Config holds all configuration settings for TraceMem.
type Config struct {
	LLM      LLMConfig      `yaml:"llm"`
	Storage  StorageConfig  `yaml:"storage"`
	Paths    PathsConfig    `yaml:"paths"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Backup   BackupConfig   `yaml:"backup"`
	Log      LogConfig      `yaml:"log"`
}

// LLMConfig contains completion and embedding provider configuration.
type LLMConfig struct {
	Provider           string        `yaml:"provider"`             // openai, anthropic, ollama (default: openai)
	Model              string        `yaml:"model"`                // completion model (default: gpt-4o-mini)
	APIKey             string        `yaml:"api_key"`              // completion provider key
	BaseURL            string        `yaml:"base_url"`             // provider endpoint override
	Temperature        float64       `yaml:"temperature"`          // default: 0.1
	EmbeddingProvider  string        `yaml:"embedding_provider"`   // openai, ollama (default: follows Provider, openai for anthropic)
	EmbeddingModel     string        `yaml:"embedding_model"`      // default: text-embedding-3-small
	EmbeddingAPIKey    string        `yaml:"embedding_api_key"`    // default: OPENAI_API_KEY
	EmbeddingDimension int           `yaml:"embedding_dimension"`  // 0 means derived from the model
	EmbeddingBatchSize int           `yaml:"embedding_batch_size"` // default: 100
	MaxRetries         int           `yaml:"max_retries"`          // total attempts per call (default: 3)
	RetryDelay         time.Duration `yaml:"retry_delay"`          // base backoff (default: 1s)
	RequestsPerSecond  float64       `yaml:"requests_per_second"`  // 0 disables limiting
}

// StorageConfig contains vector and lexical index configuration.
type StorageConfig struct {
	Engine           string `yaml:"engine"`            // sqlite or postgres (default: sqlite)
	SQLitePath       string `yaml:"sqlite_path"`       // default: ./data/tracemem.db
	PostgresDSN      string `yaml:"postgres_dsn"`      // required for postgres
	CollectionPrefix string `yaml:"collection_prefix"` // default: tracemem
}

// PathsConfig contains file locations for cards and answer results.
type PathsConfig struct {
	CardsDir    string `yaml:"cards_dir"`    // default: ./cards
	ResultsPath string `yaml:"results_path"` // default: ./results/tracemem_results.json
}

// PipelineConfig tunes ingestion, clustering and retrieval.
type PipelineConfig struct {
	Workers        int   `yaml:"workers"`         // conversations processed concurrently (default: 5)
	ClusterSeed    int64 `yaml:"cluster_seed"`    // default: 42
	EpisodeTopK    int   `yaml:"episode_top_k"`   // default: 20
	HybridEpisodes bool  `yaml:"hybrid_episodes"` // fuse vector and keyword episode search
}

// BackupConfig contains snapshot configuration.
type BackupConfig struct {
	SnapshotDir string `yaml:"snapshot_dir"` // default: ./snapshots
	Keep        int    `yaml:"keep"`         // snapshots retained (default: 5)
}

// LogConfig contains logging configuration.
type LogConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: info)
	File  string `yaml:"file"`  // optional JSON log file
}

// Default returns a Config populated with built-in defaults only.
func Default() *Config {
	return &Config{
		LLM: LLMConfig{
			Provider:           "openai",
			Model:              "gpt-4o-mini",
			Temperature:        0.1,
			EmbeddingModel:     "text-embedding-3-small",
			EmbeddingBatchSize: 100,
			MaxRetries:         3,
			RetryDelay:         time.Second,
		},
		Storage: StorageConfig{
			Engine:           "sqlite",
			SQLitePath:       "./data/tracemem.db",
			CollectionPrefix: "tracemem",
		},
		Paths: PathsConfig{
			CardsDir:    "./cards",
			ResultsPath: "./results/tracemem_results.json",
		},
		Pipeline: PipelineConfig{
			Workers:     5,
			ClusterSeed: 42,
			EpisodeTopK: 20,
		},
		Backup: BackupConfig{
			SnapshotDir: "./snapshots",
			Keep:        5,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// LoadConfig loads configuration from all layers. The result is not
// validated; call Validate before use.
func LoadConfig() (*Config, error) {
	cfg := Default()

	path := os.Getenv("TRACEMEM_CONFIG")
	explicit := path != ""
	if !explicit {
		path = DefaultConfigFile
	}
	if err := cfg.loadYAML(path); err != nil {
		if explicit || !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	// godotenv never overrides variables already present in the environment.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: failed to load .env: %w", err)
	}

	cfg.applyEnv()
	return cfg, nil
}

// loadYAML overlays the YAML file at path onto c.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: failed to read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("config: failed to parse %s: %w", path, err)
	}
	return nil
}

// applyEnv overlays environment variables. Current values act as defaults.
func (c *Config) applyEnv() {
	l := &c.LLM
	l.Provider = strings.ToLower(getEnv("TRACEMEM_LLM_PROVIDER", l.Provider))
	l.Model = getEnv("TRACEMEM_LLM_MODEL", l.Model)
	l.BaseURL = getEnv("BASE_URL", l.BaseURL)
	l.Temperature = getEnvFloat("TRACEMEM_TEMPERATURE", l.Temperature)
	l.EmbeddingProvider = strings.ToLower(getEnv("TRACEMEM_EMBEDDING_PROVIDER", l.EmbeddingProvider))
	l.EmbeddingModel = getEnv("TRACEMEM_EMBEDDING_MODEL", l.EmbeddingModel)
	l.EmbeddingDimension = getEnvInt("TRACEMEM_EMBEDDING_DIMENSION", l.EmbeddingDimension)
	l.EmbeddingBatchSize = getEnvInt("TRACEMEM_EMBEDDING_BATCH_SIZE", l.EmbeddingBatchSize)
	l.MaxRetries = getEnvInt("TRACEMEM_MAX_RETRIES", l.MaxRetries)
	l.RetryDelay = getEnvDuration("TRACEMEM_RETRY_DELAY", l.RetryDelay)
	l.RequestsPerSecond = getEnvFloat("TRACEMEM_REQUESTS_PER_SECOND", l.RequestsPerSecond)

	switch l.Provider {
	case "anthropic":
		l.APIKey = getEnv("ANTHROPIC_API_KEY", l.APIKey)
	case "openai":
		l.APIKey = getEnv("OPENAI_API_KEY", l.APIKey)
	}
	l.EmbeddingAPIKey = getEnv("OPENAI_API_KEY", l.EmbeddingAPIKey)
	if l.EmbeddingProvider == "" {
		l.EmbeddingProvider = "openai"
		if l.Provider == "ollama" {
			l.EmbeddingProvider = "ollama"
		}
	}

	s := &c.Storage
	s.Engine = strings.ToLower(getEnv("TRACEMEM_STORAGE_ENGINE", s.Engine))
	s.SQLitePath = getEnv("TRACEMEM_SQLITE_PATH", s.SQLitePath)
	s.PostgresDSN = getEnv("TRACEMEM_POSTGRES_DSN", s.PostgresDSN)
	s.CollectionPrefix = getEnv("TRACEMEM_COLLECTION_PREFIX", s.CollectionPrefix)

	c.Paths.CardsDir = getEnv("TRACEMEM_CARDS_DIR", c.Paths.CardsDir)
	c.Paths.ResultsPath = getEnv("TRACEMEM_RESULTS_PATH", c.Paths.ResultsPath)

	c.Backup.SnapshotDir = getEnv("TRACEMEM_SNAPSHOT_DIR", c.Backup.SnapshotDir)
	c.Backup.Keep = getEnvInt("TRACEMEM_SNAPSHOT_KEEP", c.Backup.Keep)

	p := &c.Pipeline
	p.Workers = getEnvInt("TRACEMEM_WORKERS", p.Workers)
	p.ClusterSeed = int64(getEnvInt("TRACEMEM_CLUSTER_SEED", int(p.ClusterSeed)))
	p.EpisodeTopK = getEnvInt("TRACEMEM_EPISODE_TOP_K", p.EpisodeTopK)
	p.HybridEpisodes = getEnvBool("TRACEMEM_HYBRID_EPISODES", p.HybridEpisodes)

	c.Log.Level = getEnv("TRACEMEM_LOG_LEVEL", c.Log.Level)
	c.Log.File = getEnv("TRACEMEM_LOG_FILE", c.Log.File)
}

// Validate reports the first configuration problem found.
func (c *Config) Validate() error {
	if err := c.ValidateLLM(); err != nil {
		return err
	}
	if err := c.ValidateStorage(); err != nil {
		return err
	}
	if c.Pipeline.Workers <= 0 {
		return fmt.Errorf("config: workers must be positive, got %d", c.Pipeline.Workers)
	}
	return nil
}

// ValidateLLM checks the completion and embedding settings only.
func (c *Config) ValidateLLM() error {
	switch c.LLM.Provider {
	case "openai", "anthropic":
		if c.LLM.APIKey == "" {
			return fmt.Errorf("config: %s provider requires an API key", c.LLM.Provider)
		}
	case "ollama":
	default:
		return fmt.Errorf("config: unsupported LLM provider: %q", c.LLM.Provider)
	}

	switch c.LLM.EmbeddingProvider {
	case "openai":
		if c.LLM.EmbeddingAPIKey == "" {
			return errors.New("config: openai embeddings require OPENAI_API_KEY")
		}
	case "ollama":
	default:
		return fmt.Errorf("config: unsupported embedding provider: %q", c.LLM.EmbeddingProvider)
	}

	if c.LLM.MaxRetries <= 0 {
		return fmt.Errorf("config: max retries must be positive, got %d", c.LLM.MaxRetries)
	}
	if c.LLM.EmbeddingBatchSize <= 0 {
		return fmt.Errorf("config: embedding batch size must be positive, got %d", c.LLM.EmbeddingBatchSize)
	}
	return nil
}

// ValidateStorage checks the storage settings only. Commands that never call
// a provider, such as listing collections, validate with this alone.
func (c *Config) ValidateStorage() error {
	switch c.Storage.Engine {
	case "sqlite":
		if c.Storage.SQLitePath == "" {
			return errors.New("config: sqlite engine requires a database path")
		}
	case "postgres":
		if c.Storage.PostgresDSN == "" {
			return errors.New("config: postgres engine requires TRACEMEM_POSTGRES_DSN")
		}
	default:
		return fmt.Errorf("config: unsupported storage engine: %q", c.Storage.Engine)
	}
	if c.Storage.CollectionPrefix == "" {
		return errors.New("config: collection prefix must not be empty")
	}
	return nil
}

// getEnv retrieves a string environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable or returns a default value.
// If the environment variable exists but cannot be parsed as an integer,
// it returns the default value.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("500ms") or plain seconds ("2").
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		if secs, err := strconv.ParseFloat(value, 64); err == nil {
			return time.Duration(secs * float64(time.Second))
		}
	}
	return defaultValue
}

// getEnvBool retrieves a boolean environment variable or returns a default value.
// It recognizes "true", "1", "yes" as true and "false", "0", "no" as false (case-insensitive).
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		switch strings.ToLower(value) {
		case "true", "1", "yes":
			return true
		case "false", "0", "no":
			return false
		}
	}
	return defaultValue
}
