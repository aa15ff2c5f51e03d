package embedder

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/dshills/semcode-mcp/internal/logging"
	"github.com/dshills/semcode-mcp/pkg/types"
)

// DefaultCacheSize is the in-memory LRU capacity in vectors
const DefaultCacheSize = 10000

const probeText = "func probe() {}"

// ModelConfig tunes how a Model drives its provider
type ModelConfig struct {
	BatchSize   int // Texts per provider call
	Concurrency int // Provider calls in flight
	CacheSize   int // In-memory LRU capacity
	Logger      *zap.Logger
}

// Model is the single loaded embedding model shared by indexing and search.
// It batches requests, bounds concurrent inference, and serves repeated
// texts from an in-memory LRU backed by an optional on-disk cache.
type Model struct {
	provider  Embedder
	cache     *Cache
	disk      *DiskCache
	sem       *semaphore.Weighted
	batchSize int
	logger    *zap.Logger

	mu     sync.RWMutex
	closed bool
}

// NewModel wraps a provider. disk may be nil. The Model owns both and closes
// them on Close.
func NewModel(provider Embedder, disk *DiskCache, cfg ModelConfig) *Model {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	cfg.BatchSize = min(cfg.BatchSize, MaxBatchSize)
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}

	return &Model{
		provider:  provider,
		cache:     NewCache(cfg.CacheSize),
		disk:      disk,
		sem:       semaphore.NewWeighted(int64(cfg.Concurrency)),
		batchSize: cfg.BatchSize,
		logger:    logging.OrNop(cfg.Logger),
	}
}

// Load checks that the provider answers and learns its dimension
func (m *Model) Load(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return fmt.Errorf("%w: model is closed", types.ErrModelUnavailable)
	}

	resp, err := m.provider.GenerateBatch(ctx, BatchEmbeddingRequest{Texts: []string{probeText}})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", types.ErrModelUnavailable, err)
	}
	if len(resp.Embeddings) != 1 || len(resp.Embeddings[0].Vector) == 0 {
		return fmt.Errorf("%w: probe returned no vector", types.ErrModelUnavailable)
	}
	if d := m.provider.Dimension(); d != 0 && d != len(resp.Embeddings[0].Vector) {
		return fmt.Errorf("%w: probe returned %d dimensions, expected %d",
			types.ErrModelUnavailable, len(resp.Embeddings[0].Vector), d)
	}

	m.logger.Info("embedding model ready",
		zap.String("model", m.Identifier()),
		zap.Int("dimension", m.Dimension()))
	return nil
}

// Identifier names the model generation as provider/model@dimension. Stored
// vectors are only comparable when their identifiers match.
func (m *Model) Identifier() string {
	return fmt.Sprintf("%s/%s@%d", m.provider.Provider(), m.provider.Model(), m.provider.Dimension())
}

// Dimension returns the vector size
func (m *Model) Dimension() int {
	return m.provider.Dimension()
}

// EmbedQuery embeds a single text
func (m *Model) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := m.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// Embed returns one vector per text, in input order. Identical texts are
// embedded once.
func (m *Model) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, fmt.Errorf("%w: model is closed", types.ErrModelUnavailable)
	}
	if len(texts) == 0 {
		return nil, nil
	}
	for i, t := range texts {
		if t == "" {
			return nil, fmt.Errorf("%w: text at index %d: %w", ErrInvalidInput, i, ErrEmptyText)
		}
	}

	hashes := make([]string, len(texts))
	vectors := make(map[string][]float32, len(texts))
	var missing []string
	missingText := make(map[string]string)

	for i, t := range texts {
		h := ComputeHash(t)
		hashes[i] = h
		if _, seen := vectors[h]; seen {
			continue
		}
		if _, queued := missingText[h]; queued {
			continue
		}
		if v, ok := m.cache.Get(h); ok {
			vectors[h] = v
			continue
		}
		missing = append(missing, h)
		missingText[h] = t
	}

	model := m.Identifier()
	if len(missing) > 0 && m.disk != nil {
		found, err := m.disk.Get(model, missing)
		if err != nil {
			m.logger.Warn("embedding cache read failed", zap.Error(err))
		}
		remaining := missing[:0]
		for _, h := range missing {
			if v, ok := found[h]; ok {
				vectors[h] = v
				m.cache.Set(h, v)
				continue
			}
			remaining = append(remaining, h)
		}
		missing = remaining
	}

	if len(missing) > 0 {
		computed, err := m.compute(ctx, missing, missingText)
		if err != nil {
			return nil, err
		}
		for h, v := range computed {
			vectors[h] = v
			m.cache.Set(h, v)
		}
		if m.disk != nil {
			if err := m.disk.Put(model, computed); err != nil {
				m.logger.Warn("embedding cache write failed", zap.Error(err))
			}
		}
	}

	out := make([][]float32, len(texts))
	for i, h := range hashes {
		v := vectors[h]
		cp := make([]float32, len(v))
		copy(cp, v)
		out[i] = cp
	}
	return out, nil
}

// compute runs provider batches concurrently, at most Concurrency at a time
func (m *Model) compute(ctx context.Context, hashes []string, texts map[string]string) (map[string][]float32, error) {
	var mu sync.Mutex
	result := make(map[string][]float32, len(hashes))

	g, gctx := errgroup.WithContext(ctx)
	for start := 0; start < len(hashes); start += m.batchSize {
		batch := hashes[start:min(start+m.batchSize, len(hashes))]

		if err := m.sem.Acquire(gctx, 1); err != nil {
			break
		}
		g.Go(func() error {
			defer m.sem.Release(1)

			req := BatchEmbeddingRequest{Texts: make([]string, len(batch))}
			for i, h := range batch {
				req.Texts[i] = texts[h]
			}

			resp, err := m.provider.GenerateBatch(gctx, req)
			if err != nil {
				return err
			}
			if len(resp.Embeddings) != len(batch) {
				return fmt.Errorf("%w: expected %d embeddings, got %d", ErrProviderFailed, len(batch), len(resp.Embeddings))
			}

			mu.Lock()
			for i, h := range batch {
				result[h] = resp.Embeddings[i].Vector
			}
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", types.ErrModelUnavailable, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// CacheStats counts cached vectors. Disk is -1 when there is no disk cache
// or it cannot be read.
type CacheStats struct {
	Memory int
	Disk   int
}

func (m *Model) CacheStats() CacheStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := CacheStats{Memory: m.cache.Size(), Disk: -1}
	if m.disk == nil || m.closed {
		return stats
	}
	n, err := m.disk.Count(m.Identifier())
	if err != nil {
		m.logger.Warn("embedding cache count failed", zap.Error(err))
		return stats
	}
	stats.Disk = n
	return stats
}

// Close releases the provider and the disk cache. Later calls fail with
// ErrModelUnavailable. Close is idempotent.
func (m *Model) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	m.cache.Clear()

	var errs []error
	if err := m.provider.Close(); err != nil {
		errs = append(errs, err)
	}
	if m.disk != nil {
		if err := m.disk.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
