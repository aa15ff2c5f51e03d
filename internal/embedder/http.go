package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync/atomic"
	"time"
)

// Provider names
const (
	ProviderJina   = "jina"
	ProviderOpenAI = "openai"
	ProviderTEI    = "tei"
	ProviderLocal  = "local"
)

// Default models and endpoints
const (
	DefaultJinaModel   = "jina-embeddings-v2-base-code"
	DefaultOpenAIModel = "text-embedding-3-small"

	JinaEndpoint   = "https://api.jina.ai/v1/embeddings"
	OpenAIEndpoint = "https://api.openai.com/v1/embeddings"
)

// Batch limits
const (
	DefaultBatchSize = 32
	MaxBatchSize     = 100
)

// knownDimensions lists output sizes for models whose dimension is fixed, so
// a store can be opened before the first request. Other models are probed.
var knownDimensions = map[string]int{
	"jina-embeddings-v2-base-code": 768,
	"jina-embeddings-v2-base-en":   768,
	"jina-embeddings-v2-small-en":  512,
	"jina-embeddings-v3":           1024,
	"text-embedding-3-small":       1536,
	"text-embedding-3-large":       3072,
	"text-embedding-ada-002":       1536,
}

// HTTPProvider implements Embedder against an OpenAI-compatible embeddings
// endpoint. Jina, OpenAI and text-embeddings-inference all accept the same
// {"model", "input"} request and return {"data": [{"index", "embedding"}]}.
type HTTPProvider struct {
	name       string
	endpoint   string
	apiKey     string
	model      string
	dimension  atomic.Int64
	httpClient *http.Client
	retry      RetryConfig
}

// HTTPConfig configures an HTTPProvider
type HTTPConfig struct {
	Name     string // Provider name reported by Provider()
	Endpoint string
	APIKey   string
	Model    string
	Timeout  time.Duration
	Retry    *RetryConfig
}

// NewHTTPProvider creates a provider for an OpenAI-compatible endpoint
func NewHTTPProvider(cfg HTTPConfig) (*HTTPProvider, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("%w: %s endpoint not set", ErrNoProviderEnabled, cfg.Name)
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("%w: %s model not set", ErrUnsupportedModel, cfg.Name)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	retry := DefaultRetryConfig()
	if cfg.Retry != nil {
		retry = *cfg.Retry
	}

	p := &HTTPProvider{
		name:       cfg.Name,
		endpoint:   cfg.Endpoint,
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		retry:      retry,
	}
	if dim, ok := knownDimensions[cfg.Model]; ok {
		p.dimension.Store(int64(dim))
	}
	return p, nil
}

// NewJinaProvider creates a provider for the Jina AI embeddings API. A
// Hugging Face style "jinaai/" prefix on the model is accepted.
func NewJinaProvider(apiKey, model string) (*HTTPProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: jina API key not set", ErrNoProviderEnabled)
	}
	model = strings.TrimPrefix(model, "jinaai/")
	if model == "" {
		model = DefaultJinaModel
	}
	return NewHTTPProvider(HTTPConfig{Name: ProviderJina, Endpoint: JinaEndpoint, APIKey: apiKey, Model: model})
}

// NewOpenAIProvider creates a provider for the OpenAI embeddings API. Model
// paths that are not OpenAI model names fall back to the default model.
func NewOpenAIProvider(apiKey, model string) (*HTTPProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: openai API key not set", ErrNoProviderEnabled)
	}
	if model == "" || strings.Contains(model, "/") {
		model = DefaultOpenAIModel
	}
	return NewHTTPProvider(HTTPConfig{Name: ProviderOpenAI, Endpoint: OpenAIEndpoint, APIKey: apiKey, Model: model})
}

// NewTEIProvider creates a provider for a self-hosted text-embeddings-inference
// server. endpoint is the full URL of its OpenAI-compatible route.
func NewTEIProvider(endpoint, apiKey, model string) (*HTTPProvider, error) {
	return NewHTTPProvider(HTTPConfig{Name: ProviderTEI, Endpoint: endpoint, APIKey: apiKey, Model: model})
}

func (p *HTTPProvider) GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error) {
	if err := ValidateRequest(req); err != nil {
		return nil, err
	}

	resp, err := p.GenerateBatch(ctx, BatchEmbeddingRequest{Texts: []string{req.Text}})
	if err != nil {
		return nil, err
	}
	if len(resp.Embeddings) == 0 {
		return nil, fmt.Errorf("%w: no embeddings returned", ErrProviderFailed)
	}
	return resp.Embeddings[0], nil
}

func (p *HTTPProvider) GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error) {
	if err := ValidateBatchRequest(req); err != nil {
		return nil, err
	}
	if len(req.Texts) > MaxBatchSize {
		return nil, fmt.Errorf("%w: max %d texts allowed", ErrBatchTooLarge, MaxBatchSize)
	}

	embeddings, err := retryWithBackoff(ctx, p.retry, func() ([]*Embedding, error) {
		return p.callAPI(ctx, req.Texts)
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrProviderFailed, p.name, err)
	}

	for i, emb := range embeddings {
		emb.Hash = ComputeHash(req.Texts[i])
	}

	return &BatchEmbeddingResponse{
		Embeddings: embeddings,
		Provider:   p.name,
		Model:      p.model,
	}, nil
}

type apiRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type apiResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Model string `json:"model"`
}

func (p *HTTPProvider) callAPI(ctx context.Context, texts []string) ([]*Embedding, error) {
	body, err := json.Marshal(apiRequest{Model: p.model, Input: texts})
	if err != nil {
		return nil, permanent(fmt.Errorf("marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("api call: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		apiErr := fmt.Errorf("api error %d: %s", resp.StatusCode, strings.TrimSpace(string(bodyBytes)))
		// Client errors other than throttling will not succeed on retry
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return nil, permanent(apiErr)
		}
		return nil, apiErr
	}

	var apiResp apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(apiResp.Data) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(apiResp.Data))
	}

	// Servers may return data out of order; index is authoritative
	sort.Slice(apiResp.Data, func(i, j int) bool { return apiResp.Data[i].Index < apiResp.Data[j].Index })

	embeddings := make([]*Embedding, len(apiResp.Data))
	for i, data := range apiResp.Data {
		if len(data.Embedding) == 0 {
			return nil, permanent(fmt.Errorf("empty embedding at index %d", data.Index))
		}
		if err := p.observeDimension(len(data.Embedding)); err != nil {
			return nil, permanent(err)
		}
		embeddings[i] = &Embedding{
			Vector:    NormalizeVector(data.Embedding),
			Dimension: len(data.Embedding),
			Provider:  p.name,
			Model:     p.model,
		}
	}

	return embeddings, nil
}

// observeDimension records the dimension on first use and rejects later
// responses of a different size
func (p *HTTPProvider) observeDimension(n int) error {
	if p.dimension.CompareAndSwap(0, int64(n)) {
		return nil
	}
	if got := p.dimension.Load(); got != int64(n) {
		return fmt.Errorf("%w: dimension changed from %d to %d", ErrUnsupportedModel, got, n)
	}
	return nil
}

// Dimension returns the embedding size, or 0 until it is known
func (p *HTTPProvider) Dimension() int {
	return int(p.dimension.Load())
}

func (p *HTTPProvider) Provider() string {
	return p.name
}

func (p *HTTPProvider) Model() string {
	return p.model
}

func (p *HTTPProvider) Close() error {
	p.httpClient.CloseIdleConnections()
	return nil
}
