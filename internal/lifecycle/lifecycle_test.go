package lifecycle

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/dshills/semcode-mcp/internal/config"
	"github.com/dshills/semcode-mcp/internal/embedder"
	"github.com/dshills/semcode-mcp/internal/indexer"
	"github.com/dshills/semcode-mcp/internal/searcher"
	"github.com/dshills/semcode-mcp/pkg/types"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		DataRoot:          t.TempDir(),
		CollectionFolder:  config.DefaultCollectionFolder,
		ModelPath:         config.DefaultModel,
		Provider:          "local",
		ChunkMaxLines:     config.DefaultChunkMaxLines,
		ChunkOverlapLines: config.DefaultChunkOverlap,
		MaxFileBytes:      config.DefaultMaxFileBytes,
		SearchTopK:        config.DefaultSearchTopK,
		IndexWorkers:      2,
		EmbedBatchSize:    8,
		EmbedConcurrency:  1,
		LogLevel:          "debug",
	}
}

// flakyProvider fails its first failures batches
type flakyProvider struct {
	*embedder.LocalProvider
	failures atomic.Int32
	calls    atomic.Int32
}

func (p *flakyProvider) GenerateBatch(ctx context.Context, req embedder.BatchEmbeddingRequest) (*embedder.BatchEmbeddingResponse, error) {
	p.calls.Add(1)
	if p.failures.Add(-1) >= 0 {
		return nil, errors.New("model weights not ready")
	}
	return p.LocalProvider.GenerateBatch(ctx, req)
}

func flakyFactory(p *flakyProvider) ModelFactory {
	return func(cfg embedder.Config) (*embedder.Model, error) {
		return embedder.NewModel(p, nil, embedder.ModelConfig{Logger: cfg.Logger}), nil
	}
}

func newFlaky(failures int32) *flakyProvider {
	p := &flakyProvider{LocalProvider: embedder.NewLocalProvider()}
	p.failures.Store(failures)
	return p
}

func TestNewManager_InvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.ChunkOverlapLines = cfg.ChunkMaxLines

	_, err := NewManager(cfg, nil)
	assert.ErrorIs(t, err, types.ErrConfiguration)

	_, err = NewManager(nil, nil)
	assert.ErrorIs(t, err, types.ErrConfiguration)
}

func TestManager_StartAndClose(t *testing.T) {
	cfg := testConfig(t)
	m, err := NewManager(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)

	_, err = m.Runtime()
	assert.ErrorIs(t, err, types.ErrModelUnavailable)
	assert.Equal(t, StateUninitialized, m.Status().State)

	rt, err := m.Start(context.Background())
	require.NoError(t, err)
	require.NotNil(t, rt)
	assert.Equal(t, config.CollectionName, rt.Collection)
	assert.FileExists(t, cfg.StorePath())
	assert.DirExists(t, cfg.ModelCacheDir())

	// Start is idempotent
	again, err := m.Start(context.Background())
	require.NoError(t, err)
	assert.Same(t, rt, again)

	got, err := m.Runtime()
	require.NoError(t, err)
	assert.Same(t, rt, got)

	st := m.Status()
	assert.Equal(t, StateReady, st.State)
	assert.Equal(t, "local/semcode-hash-v1@384", st.Model)
	assert.Equal(t, 384, st.Dimension)
	assert.False(t, st.StartedAt.IsZero())

	require.NoError(t, m.Close())
	require.NoError(t, m.Close())

	_, err = m.Runtime()
	assert.ErrorIs(t, err, types.ErrModelUnavailable)
	_, err = rt.Model.Embed(context.Background(), []string{"x"})
	assert.ErrorIs(t, err, types.ErrModelUnavailable)
	_, err = m.Start(context.Background())
	assert.ErrorIs(t, err, types.ErrModelUnavailable)
}

func TestManager_CloseWithoutStart(t *testing.T) {
	m, err := NewManager(testConfig(t), nil)
	require.NoError(t, err)
	assert.NoError(t, m.Close())
	assert.Equal(t, StateClosed, m.Status().State)
}

func TestManager_ModelLoadRetriedOnce(t *testing.T) {
	p := newFlaky(1)
	m, err := NewManager(testConfig(t), zaptest.NewLogger(t),
		WithModelFactory(flakyFactory(p)), WithRetryDelay(time.Millisecond))
	require.NoError(t, err)
	defer m.Close()

	_, err = m.Start(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), p.calls.Load())
}

func TestManager_ModelLoadFails(t *testing.T) {
	p := newFlaky(10)
	m, err := NewManager(testConfig(t), zaptest.NewLogger(t),
		WithModelFactory(flakyFactory(p)), WithRetryDelay(time.Millisecond))
	require.NoError(t, err)
	defer m.Close()

	_, err = m.Start(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrModelUnavailable)
	assert.Equal(t, int32(2), p.calls.Load())

	st := m.Status()
	assert.Equal(t, StateFailed, st.State)
	assert.Contains(t, st.Error, "model weights not ready")

	_, err = m.Runtime()
	assert.ErrorIs(t, err, types.ErrModelUnavailable)

	// A retried start fails the same way
	_, err = m.Start(context.Background())
	assert.ErrorIs(t, err, types.ErrModelUnavailable)
}

func TestManager_FactoryErrorFallsBackWithoutCache(t *testing.T) {
	var dirs []string
	factory := func(cfg embedder.Config) (*embedder.Model, error) {
		dirs = append(dirs, cfg.CacheDir)
		if cfg.CacheDir != "" {
			return nil, errors.New("cache locked")
		}
		return embedder.NewModel(embedder.NewLocalProvider(), nil, embedder.ModelConfig{}), nil
	}

	m, err := NewManager(testConfig(t), zaptest.NewLogger(t), WithModelFactory(factory))
	require.NoError(t, err)
	defer m.Close()

	_, err = m.Start(context.Background())
	require.NoError(t, err)
	require.Len(t, dirs, 2)
	assert.Empty(t, dirs[1])
}

func TestManager_StoreFailure(t *testing.T) {
	cfg := testConfig(t)
	// A directory where the database file should be
	require.NoError(t, os.MkdirAll(cfg.StorePath(), 0o755))

	m, err := NewManager(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer m.Close()

	_, err = m.Start(context.Background())
	assert.ErrorIs(t, err, types.ErrStorage)
	assert.Equal(t, StateFailed, m.Status().State)
}

func TestManager_StartBackground(t *testing.T) {
	m, err := NewManager(testConfig(t), zaptest.NewLogger(t))
	require.NoError(t, err)
	defer m.Close()

	m.StartBackground(context.Background())
	require.Eventually(t, func() bool {
		_, err := m.Runtime()
		return err == nil
	}, 10*time.Second, 10*time.Millisecond)
}

func TestRun_IndexAndSearch(t *testing.T) {
	cfg := testConfig(t)
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "foo.go"),
		[]byte("package foo\n\nfunc foo() int {\n\treturn 42\n}\n"), 0o644))

	var captured *Runtime
	err := Run(context.Background(), cfg, zaptest.NewLogger(t), func(ctx context.Context, rt *Runtime) error {
		captured = rt
		stats, err := rt.Indexer.Index(ctx, indexer.Request{Root: root})
		if err != nil {
			return err
		}
		assert.Equal(t, 1, stats.FilesIndexed)

		resp, err := rt.Searcher.Search(ctx, searcher.SearchRequest{Query: "function foo"})
		if err != nil {
			return err
		}
		require.NotEmpty(t, resp.Results)
		assert.Contains(t, resp.Results[0].Content, "func foo")
		return nil
	})
	require.NoError(t, err)

	// Everything was released on return
	_, err = captured.Model.Embed(context.Background(), []string{"x"})
	assert.ErrorIs(t, err, types.ErrModelUnavailable)

	// Data persists for the next run
	err = Run(context.Background(), cfg, nil, func(ctx context.Context, rt *Runtime) error {
		stats, err := rt.Store.Stats(ctx, rt.Collection)
		if err != nil {
			return err
		}
		assert.Positive(t, stats.Entries)
		return nil
	})
	require.NoError(t, err)
}

func TestRun_ReleasesOnError(t *testing.T) {
	boom := errors.New("boom")
	var captured *Runtime
	err := Run(context.Background(), testConfig(t), nil, func(_ context.Context, rt *Runtime) error {
		captured = rt
		return boom
	})
	assert.ErrorIs(t, err, boom)
	_, err = captured.Model.Embed(context.Background(), []string{"x"})
	assert.ErrorIs(t, err, types.ErrModelUnavailable)
}
