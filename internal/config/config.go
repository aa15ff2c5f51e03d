// Package config loads server configuration from the environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cast"
	"github.com/spf13/viper"

	"github.com/dshills/semcode-mcp/pkg/types"
)

// Environment variable names
const (
	EnvDataRoot          = "DATA_ROOT"
	EnvCollectionFolder  = "CHROMA_DB_FOLDER_NAME"
	EnvModelPath         = "SENTENCE_TRANSFORMER_PATH"
	EnvProvider          = "EMBEDDING_PROVIDER"
	EnvEndpoint          = "EMBEDDING_ENDPOINT"
	EnvAPIKey            = "EMBEDDING_API_KEY"
	EnvChunkMaxLines     = "CHUNK_MAX_LINES"
	EnvChunkOverlapLines = "CHUNK_OVERLAP_LINES"
	EnvMaxFileBytes      = "MAX_FILE_BYTES"
	EnvSearchTopK        = "SEARCH_TOP_K"
	EnvIndexWorkers      = "INDEX_WORKERS"
	EnvEmbedBatchSize    = "EMBED_BATCH_SIZE"
	EnvEmbedConcurrency  = "EMBED_CONCURRENCY"
	EnvLogLevel          = "LOG_LEVEL"
)

// Defaults
const (
	DefaultCollectionFolder = "default"
	DefaultModel            = "jinaai/jina-embeddings-v2-base-code"
	DefaultProvider         = "local"
	DefaultChunkMaxLines    = 40
	DefaultChunkOverlap     = 5
	DefaultMaxFileBytes     = 1 << 20
	DefaultSearchTopK       = 10
	DefaultEmbedBatchSize   = 32
	DefaultEmbedConcurrency = 2

	// CollectionName is the collection used inside the namespaced store
	CollectionName = "code_collection"
)

var knownProviders = map[string]bool{"local": true, "jina": true, "openai": true, "tei": true}

// Config holds all configuration for the server.
type Config struct {
	DataRoot         string
	CollectionFolder string
	ModelPath        string

	Provider string
	Endpoint string
	APIKey   string

	ChunkMaxLines     int
	ChunkOverlapLines int
	MaxFileBytes      int64

	SearchTopK       int
	IndexWorkers     int
	EmbedBatchSize   int
	EmbedConcurrency int

	LogLevel string
}

// Load reads a .env file if one exists (current directory, then up to five
// parents) and then builds the configuration from the environment.
// Variables already set take precedence over .env values.
func Load() (*Config, error) {
	loadDotEnv()
	return FromEnv()
}

// FromEnv builds and validates the configuration from environment variables only.
func FromEnv() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()

	home, _ := os.UserHomeDir()
	v.SetDefault(EnvDataRoot, filepath.Join(home, ".semcode"))
	v.SetDefault(EnvCollectionFolder, DefaultCollectionFolder)
	v.SetDefault(EnvModelPath, DefaultModel)
	v.SetDefault(EnvProvider, DefaultProvider)
	v.SetDefault(EnvChunkMaxLines, DefaultChunkMaxLines)
	v.SetDefault(EnvChunkOverlapLines, DefaultChunkOverlap)
	v.SetDefault(EnvMaxFileBytes, DefaultMaxFileBytes)
	v.SetDefault(EnvSearchTopK, DefaultSearchTopK)
	v.SetDefault(EnvIndexWorkers, runtime.NumCPU())
	v.SetDefault(EnvEmbedBatchSize, DefaultEmbedBatchSize)
	v.SetDefault(EnvEmbedConcurrency, DefaultEmbedConcurrency)
	v.SetDefault(EnvLogLevel, "info")

	cfg := &Config{
		DataRoot:         strings.TrimSpace(v.GetString(EnvDataRoot)),
		CollectionFolder: strings.TrimSpace(v.GetString(EnvCollectionFolder)),
		ModelPath:        strings.TrimSpace(v.GetString(EnvModelPath)),
		Provider:         strings.ToLower(strings.TrimSpace(v.GetString(EnvProvider))),
		Endpoint:         strings.TrimSpace(v.GetString(EnvEndpoint)),
		APIKey:           v.GetString(EnvAPIKey),
		LogLevel:         v.GetString(EnvLogLevel),
	}

	ints := []struct {
		key string
		dst *int
	}{
		{EnvChunkMaxLines, &cfg.ChunkMaxLines},
		{EnvChunkOverlapLines, &cfg.ChunkOverlapLines},
		{EnvSearchTopK, &cfg.SearchTopK},
		{EnvIndexWorkers, &cfg.IndexWorkers},
		{EnvEmbedBatchSize, &cfg.EmbedBatchSize},
		{EnvEmbedConcurrency, &cfg.EmbedConcurrency},
	}
	for _, opt := range ints {
		n, err := cast.ToIntE(v.Get(opt.key))
		if err != nil {
			return nil, fmt.Errorf("%w: %s must be an integer: %v", types.ErrConfiguration, opt.key, err)
		}
		*opt.dst = n
	}

	maxBytes, err := cast.ToInt64E(v.Get(EnvMaxFileBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: %s must be an integer: %v", types.ErrConfiguration, EnvMaxFileBytes, err)
	}
	cfg.MaxFileBytes = maxBytes

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks required fields and value ranges.
func (c *Config) Validate() error {
	if c.DataRoot == "" {
		return fmt.Errorf("%w: %s is required", types.ErrConfiguration, EnvDataRoot)
	}
	if c.CollectionFolder == "" || c.CollectionFolder == "." || c.CollectionFolder == ".." ||
		strings.ContainsAny(c.CollectionFolder, `/\`) {
		return fmt.Errorf("%w: %s must be a plain folder name, got %q",
			types.ErrConfiguration, EnvCollectionFolder, c.CollectionFolder)
	}
	if c.ModelPath == "" {
		return fmt.Errorf("%w: %s is required", types.ErrConfiguration, EnvModelPath)
	}
	if !knownProviders[c.Provider] {
		return fmt.Errorf("%w: unknown %s %q", types.ErrConfiguration, EnvProvider, c.Provider)
	}
	if c.Provider == "tei" && c.Endpoint == "" {
		return fmt.Errorf("%w: %s is required for the tei provider", types.ErrConfiguration, EnvEndpoint)
	}
	if c.ChunkMaxLines <= 0 {
		return fmt.Errorf("%w: %s must be positive", types.ErrConfiguration, EnvChunkMaxLines)
	}
	if c.ChunkOverlapLines < 0 || c.ChunkOverlapLines >= c.ChunkMaxLines {
		return fmt.Errorf("%w: %s must be in [0, %s)", types.ErrConfiguration, EnvChunkOverlapLines, EnvChunkMaxLines)
	}
	if c.MaxFileBytes <= 0 {
		return fmt.Errorf("%w: %s must be positive", types.ErrConfiguration, EnvMaxFileBytes)
	}
	if c.SearchTopK <= 0 || c.SearchTopK > 100 {
		return fmt.Errorf("%w: %s must be between 1 and 100", types.ErrConfiguration, EnvSearchTopK)
	}
	if c.IndexWorkers <= 0 || c.EmbedBatchSize <= 0 || c.EmbedConcurrency <= 0 {
		return fmt.Errorf("%w: %s, %s and %s must be positive",
			types.ErrConfiguration, EnvIndexWorkers, EnvEmbedBatchSize, EnvEmbedConcurrency)
	}
	return nil
}

// StoreDir is the directory holding the namespaced vector store.
func (c *Config) StoreDir() string {
	return filepath.Join(c.DataRoot, c.CollectionFolder)
}

// StorePath is the SQLite database file for the vector store.
func (c *Config) StorePath() string {
	return filepath.Join(c.StoreDir(), "index.db")
}

// ModelCacheDir holds cached model artifacts (persisted embeddings).
func (c *Config) ModelCacheDir() string {
	return filepath.Join(c.DataRoot, "embedding_cache")
}

// EnsureDirs creates the storage and cache directories.
func (c *Config) EnsureDirs() error {
	for _, dir := range []string{c.StoreDir(), c.ModelCacheDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("%w: failed to create %s: %v", types.ErrConfiguration, dir, err)
		}
	}
	return nil
}

// loadDotEnv loads the first .env found walking up from the working directory.
func loadDotEnv() {
	wd, err := os.Getwd()
	if err != nil {
		return
	}
	dir := wd
	for i := 0; i < 6; i++ {
		envPath := filepath.Join(dir, ".env")
		if _, err := os.Stat(envPath); err == nil {
			_ = godotenv.Load(envPath)
			return
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return
		}
		dir = parent
	}
}
