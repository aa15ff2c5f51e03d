package embedder

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/dshills/semcode-mcp/internal/logging"
)

// API key environment variables consulted when no key is configured
const (
	EnvJinaAPIKey   = "JINA_API_KEY"
	EnvOpenAIAPIKey = "OPENAI_API_KEY"
)

// Config holds embedder configuration
type Config struct {
	Provider    string
	ModelPath   string // Model identifier or local path
	Endpoint    string
	APIKey      string
	CacheDir    string // Directory for the on-disk cache; empty disables it
	CacheSize   int
	BatchSize   int
	Concurrency int
	Logger      *zap.Logger
}

// NewProvider builds the provider named by cfg.Provider. An empty provider
// selects the local model, which has no weights to load and ignores
// ModelPath.
func NewProvider(cfg Config) (Embedder, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", ProviderLocal:
		if cfg.ModelPath != "" && cfg.ModelPath != LocalModelName {
			logging.OrNop(cfg.Logger).Warn("local provider ignores the configured model; set EMBEDDING_PROVIDER to use it",
				zap.String("model_path", cfg.ModelPath),
				zap.String("model", LocalModelName))
		}
		return NewLocalProvider(), nil
	case ProviderJina:
		return NewJinaProvider(apiKey(cfg.APIKey, EnvJinaAPIKey), cfg.ModelPath)
	case ProviderOpenAI:
		return NewOpenAIProvider(apiKey(cfg.APIKey, EnvOpenAIAPIKey), cfg.ModelPath)
	case ProviderTEI:
		return NewTEIProvider(cfg.Endpoint, cfg.APIKey, cfg.ModelPath)
	default:
		return nil, fmt.Errorf("%w: unknown provider %s", ErrUnsupportedModel, cfg.Provider)
	}
}

// New builds the provider and wraps it in a Model with its caches. The
// returned Model has not been probed; call Load before use.
func New(cfg Config) (*Model, error) {
	provider, err := NewProvider(cfg)
	if err != nil {
		return nil, err
	}

	var disk *DiskCache
	if cfg.CacheDir != "" {
		disk, err = OpenDiskCache(cfg.CacheDir)
		if err != nil {
			_ = provider.Close()
			return nil, err
		}
	}

	return NewModel(provider, disk, ModelConfig{
		BatchSize:   cfg.BatchSize,
		Concurrency: cfg.Concurrency,
		CacheSize:   cfg.CacheSize,
		Logger:      cfg.Logger,
	}), nil
}

func apiKey(configured, env string) string {
	if configured != "" {
		return configured
	}
	return os.Getenv(env)
}
