package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dshills/semcode-mcp/internal/chunker"
	"github.com/dshills/semcode-mcp/internal/config"
	"github.com/dshills/semcode-mcp/internal/embedder"
	"github.com/dshills/semcode-mcp/internal/indexer"
	"github.com/dshills/semcode-mcp/internal/logging"
	"github.com/dshills/semcode-mcp/internal/searcher"
	"github.com/dshills/semcode-mcp/internal/storage"
	"github.com/dshills/semcode-mcp/pkg/types"
)

// DefaultRetryDelay is the pause before the single model load retry
const DefaultRetryDelay = 2 * time.Second

// State is the initialisation state of a Manager
type State string

const (
	StateUninitialized State = "uninitialized"
	StateInitializing  State = "initializing"
	StateReady         State = "ready"
	StateFailed        State = "failed"
	StateClosed        State = "closed"
)

// Runtime is the set of long-lived handles shared by every operation. It is
// built once by Start and torn down by Close.
type Runtime struct {
	Config     *config.Config
	Store      storage.VectorStore
	Model      *embedder.Model
	Chunker    *chunker.Chunker
	Indexer    *indexer.Indexer
	Searcher   *searcher.Searcher
	Collection string
}

// Status describes a Manager for status reporting
type Status struct {
	State     State
	Error     string // Last initialisation failure
	Model     string // Model identifier once loaded
	Dimension int
	StorePath string
	StartedAt time.Time // When the runtime became ready
}

// ModelFactory builds an unloaded model from embedder configuration
type ModelFactory func(embedder.Config) (*embedder.Model, error)

// Option configures a Manager
type Option func(*Manager)

// WithModelFactory replaces how the embedding model is constructed
func WithModelFactory(f ModelFactory) Option {
	return func(m *Manager) {
		m.newModel = f
	}
}

// WithRetryDelay sets the pause before retrying a failed model load
func WithRetryDelay(d time.Duration) Option {
	return func(m *Manager) {
		m.retryDelay = d
	}
}

// Manager owns the model and store handles. Start opens them once and Close
// releases them; every operation reaches them through the Runtime.
type Manager struct {
	cfg        *config.Config
	logger     *zap.Logger
	newModel   ModelFactory
	retryDelay time.Duration

	startMu sync.Mutex // Serialises Start and Close

	mu        sync.RWMutex
	state     State
	err       error
	rt        *Runtime
	startedAt time.Time
}

// NewManager validates cfg and returns an unstarted Manager. Invalid
// configuration fails with types.ErrConfiguration.
func NewManager(cfg *config.Config, logger *zap.Logger, opts ...Option) (*Manager, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: nil configuration", types.ErrConfiguration)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	m := &Manager{
		cfg:        cfg,
		logger:     logging.OrNop(logger),
		newModel:   embedder.New,
		retryDelay: DefaultRetryDelay,
		state:      StateUninitialized,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Config returns the manager's configuration
func (m *Manager) Config() *config.Config {
	return m.cfg
}

// Logger returns the manager's logger
func (m *Manager) Logger() *zap.Logger {
	return m.logger
}

// Start opens the store and loads the model, once. Later calls return the
// same Runtime. A failed start may be retried by calling Start again.
func (m *Manager) Start(ctx context.Context) (*Runtime, error) {
	m.startMu.Lock()
	defer m.startMu.Unlock()

	m.mu.Lock()
	switch m.state {
	case StateReady:
		rt := m.rt
		m.mu.Unlock()
		return rt, nil
	case StateClosed:
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: runtime is closed", types.ErrModelUnavailable)
	}
	m.state = StateInitializing
	m.err = nil
	m.mu.Unlock()

	rt, err := m.open(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		m.state = StateFailed
		m.err = err
		m.logger.Error("initialisation failed", zap.Error(err))
		return nil, err
	}
	m.state = StateReady
	m.rt = rt
	m.startedAt = time.Now()
	m.logger.Info("runtime ready",
		zap.String("store", m.cfg.StorePath()),
		zap.String("model", rt.Model.Identifier()))
	return rt, nil
}

// StartBackground runs Start on its own goroutine so callers can serve
// status requests while the model loads. Failures are reported by Status
// and Runtime.
func (m *Manager) StartBackground(ctx context.Context) {
	go func() {
		_, _ = m.Start(ctx)
	}()
}

// open builds the runtime, releasing whatever was opened if a later step fails
func (m *Manager) open(ctx context.Context) (rt *Runtime, err error) {
	if err := m.cfg.EnsureDirs(); err != nil {
		return nil, err
	}

	store, err := storage.NewSQLiteStorage(ctx, m.cfg.StorePath())
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = store.Close()
		}
	}()

	model, err := m.loadModel(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = model.Close()
		}
	}()

	chunk, err := chunker.New(chunker.Config{
		MaxLines:     m.cfg.ChunkMaxLines,
		OverlapLines: m.cfg.ChunkOverlapLines,
		MaxChars:     chunker.DefaultMaxChars,
		MaxFileBytes: m.cfg.MaxFileBytes,
	})
	if err != nil {
		return nil, err
	}

	search, err := searcher.NewSearcher(store, model, searcher.Config{
		Collection:  config.CollectionName,
		DefaultTopK: m.cfg.SearchTopK,
		Logger:      m.logger,
	})
	if err != nil {
		return nil, err
	}

	idx, err := indexer.New(store, model, chunk, indexer.Config{
		Collection:   config.CollectionName,
		Workers:      m.cfg.IndexWorkers,
		MaxFileBytes: m.cfg.MaxFileBytes,
		Logger:       m.logger,
		OnComplete:   func(*indexer.Statistics) { search.InvalidateCache() },
	})
	if err != nil {
		return nil, err
	}

	return &Runtime{
		Config:     m.cfg,
		Store:      store,
		Model:      model,
		Chunker:    chunk,
		Indexer:    idx,
		Searcher:   search,
		Collection: config.CollectionName,
	}, nil
}

// loadModel builds and probes the model, retrying the probe once after
// retryDelay. Failures wrap types.ErrModelUnavailable.
func (m *Manager) loadModel(ctx context.Context) (*embedder.Model, error) {
	ecfg := embedder.Config{
		Provider:    m.cfg.Provider,
		ModelPath:   m.cfg.ModelPath,
		Endpoint:    m.cfg.Endpoint,
		APIKey:      m.cfg.APIKey,
		CacheDir:    m.cfg.ModelCacheDir(),
		BatchSize:   m.cfg.EmbedBatchSize,
		Concurrency: m.cfg.EmbedConcurrency,
		Logger:      m.logger,
	}

	model, err := m.newModel(ecfg)
	if err != nil && ecfg.CacheDir != "" {
		// The disk cache is an optimisation; another process may hold it
		m.logger.Warn("embedding cache unavailable, continuing without it", zap.Error(err))
		ecfg.CacheDir = ""
		model, err = m.newModel(ecfg)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", types.ErrModelUnavailable, err)
	}

	err = model.Load(ctx)
	if err == nil {
		return model, nil
	}
	if ctx.Err() != nil {
		_ = model.Close()
		return nil, ctx.Err()
	}

	m.logger.Warn("model load failed, retrying", zap.Error(err), zap.Duration("delay", m.retryDelay))
	select {
	case <-time.After(m.retryDelay):
	case <-ctx.Done():
		_ = model.Close()
		return nil, ctx.Err()
	}

	if err := model.Load(ctx); err != nil {
		_ = model.Close()
		if errors.Is(err, types.ErrModelUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", types.ErrModelUnavailable, err)
	}
	return model, nil
}

// Runtime returns the started runtime. Before a successful Start, or after
// Close, it fails with types.ErrModelUnavailable.
func (m *Manager) Runtime() (*Runtime, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	switch m.state {
	case StateReady:
		return m.rt, nil
	case StateInitializing:
		return nil, fmt.Errorf("%w: still initializing", types.ErrModelUnavailable)
	case StateFailed:
		return nil, fmt.Errorf("%w: initialisation failed: %v", types.ErrModelUnavailable, m.err)
	case StateClosed:
		return nil, fmt.Errorf("%w: runtime is closed", types.ErrModelUnavailable)
	default:
		return nil, fmt.Errorf("%w: not initialized", types.ErrModelUnavailable)
	}
}

// Status reports the initialisation state
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st := Status{
		State:     m.state,
		StorePath: m.cfg.StorePath(),
		StartedAt: m.startedAt,
	}
	if m.err != nil {
		st.Error = m.err.Error()
	}
	if m.rt != nil {
		st.Model = m.rt.Model.Identifier()
		st.Dimension = m.rt.Model.Dimension()
	}
	return st
}

// Close releases the store and the model. It is safe to call more than once
// and on a Manager that never started.
func (m *Manager) Close() error {
	m.startMu.Lock()
	defer m.startMu.Unlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateClosed {
		return nil
	}
	m.state = StateClosed

	if m.rt == nil {
		return nil
	}
	var errs []error
	if err := m.rt.Store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}
	if err := m.rt.Model.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close model: %w", err))
	}
	m.logger.Info("runtime closed")
	return errors.Join(errs...)
}

// Run starts a Manager for cfg, calls fn with its Runtime and releases
// everything when fn returns, whether it fails, panics or ctx is cancelled.
func Run(ctx context.Context, cfg *config.Config, logger *zap.Logger, fn func(context.Context, *Runtime) error, opts ...Option) (err error) {
	m, err := NewManager(cfg, logger, opts...)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := m.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	rt, err := m.Start(ctx)
	if err != nil {
		return err
	}
	return fn(ctx, rt)
}
