package indexer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/semcode-mcp/internal/chunker"
	"github.com/dshills/semcode-mcp/internal/discovery"
	"github.com/dshills/semcode-mcp/internal/logging"
	"github.com/dshills/semcode-mcp/internal/storage"
	"github.com/dshills/semcode-mcp/pkg/types"
)

// maxReportedErrors caps Statistics.Errors; FilesFailed keeps the full count
const maxReportedErrors = 100

// Embedder is the part of the embedding model the indexer needs
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Identifier() string
	Dimension() int
}

// Indexer coordinates the indexing pipeline: discover -> chunk -> embed -> store
type Indexer struct {
	store      storage.VectorStore
	model      Embedder
	chunker    *chunker.Chunker
	collection string
	logger     *zap.Logger
	walkOpts   []discovery.Option
	onComplete func(*Statistics)

	// Worker pool configuration
	workers int

	lock IndexLock

	mu      sync.Mutex
	lastRun *Statistics
	lastErr error
}

// Config contains configuration for the indexer
type Config struct {
	Collection   string   // Target collection
	Workers      int      // Number of concurrent workers (default: runtime.NumCPU())
	MaxFileBytes int64    // Discovery size ceiling (default: discovery.DefaultMaxFileBytes)
	IgnoreDirs   []string // Extra directory names to skip
	IgnoreGlobs  []string // Extra file name patterns to skip
	Logger       *zap.Logger

	// OnComplete runs after every run that changed the store, including
	// cancelled ones
	OnComplete func(*Statistics)
}

// Request selects what to index. An empty Paths runs in full mode over Root;
// otherwise only the listed files and directories are visited.
type Request struct {
	Root  string
	Paths []string // Absolute, or relative to Root
	Force bool     // Re-embed files even when their content is unchanged
}

// Mode reports "full" or "incremental"
func (r Request) Mode() string {
	if len(r.Paths) == 0 {
		return "full"
	}
	return "incremental"
}

// Statistics contains statistics about the indexing operation
type Statistics struct {
	Root               string
	Mode               string
	FilesScanned       int
	FilesIndexed       int
	FilesSkipped       int // Unchanged since the previous run
	FilesFailed        int
	FilesRemoved       int
	ChunksAdded        int
	ChunksRemoved      int
	ChunksUnchanged    int
	EmbeddingsComputed int
	CollectionReset    bool // Stored vectors came from another model and were dropped
	Duration           time.Duration
	Errors             []string
}

// counters is the concurrent form of Statistics
type counters struct {
	scanned, indexed, skipped, failed, removed atomic.Int32
	added, chunksRemoved, unchanged, embedded  atomic.Int32

	mu     sync.Mutex
	errors []string
}

func (c *counters) fileError(path string, err error) {
	c.failed.Add(1)
	c.note(path, err)
}

func (c *counters) note(path string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.errors) < maxReportedErrors {
		c.errors = append(c.errors, fmt.Sprintf("%s: %v", path, err))
	}
}

func (c *counters) statistics() *Statistics {
	c.mu.Lock()
	defer c.mu.Unlock()
	return &Statistics{
		FilesScanned:       int(c.scanned.Load()),
		FilesIndexed:       int(c.indexed.Load()),
		FilesSkipped:       int(c.skipped.Load()),
		FilesFailed:        int(c.failed.Load()),
		FilesRemoved:       int(c.removed.Load()),
		ChunksAdded:        int(c.added.Load()),
		ChunksRemoved:      int(c.chunksRemoved.Load()),
		ChunksUnchanged:    int(c.unchanged.Load()),
		EmbeddingsComputed: int(c.embedded.Load()),
		Errors:             append([]string(nil), c.errors...),
	}
}

// New creates a new Indexer writing to one collection of store
func New(store storage.VectorStore, model Embedder, ch *chunker.Chunker, cfg Config) (*Indexer, error) {
	if store == nil || model == nil || ch == nil {
		return nil, fmt.Errorf("%w: indexer needs a store, a model and a chunker", types.ErrConfiguration)
	}
	if cfg.Collection == "" {
		return nil, fmt.Errorf("%w: empty collection name", types.ErrConfiguration)
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}

	logger := logging.OrNop(cfg.Logger)
	opts := []discovery.Option{discovery.WithLogger(logger)}
	if cfg.MaxFileBytes > 0 {
		opts = append(opts, discovery.WithMaxFileBytes(cfg.MaxFileBytes))
	}
	if len(cfg.IgnoreDirs) > 0 {
		opts = append(opts, discovery.WithIgnoreDirs(cfg.IgnoreDirs...))
	}
	if len(cfg.IgnoreGlobs) > 0 {
		opts = append(opts, discovery.WithIgnoreGlobs(cfg.IgnoreGlobs...))
	}

	return &Indexer{
		store:      store,
		model:      model,
		chunker:    ch,
		collection: cfg.Collection,
		logger:     logger,
		walkOpts:   opts,
		onComplete: cfg.OnComplete,
		workers:    cfg.Workers,
	}, nil
}

// Running reports whether an index run is in progress
func (idx *Indexer) Running() bool {
	return idx.lock.Held()
}

// LastRun returns the statistics and error of the most recent run, or nil
// if none has finished
func (idx *Indexer) LastRun() (*Statistics, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.lastRun, idx.lastErr
}

// Index runs one indexing pass. Only one run may be active at a time; an
// overlapping call fails with types.ErrIndexingInProgress.
//
// Per-file failures are counted in the returned statistics and never abort
// the run. Model and storage failures abort it, as does cancellation; in
// those cases the partial statistics are returned with the error and every
// file committed so far stays committed.
func (idx *Indexer) Index(ctx context.Context, req Request) (*Statistics, error) {
	if !idx.lock.TryAcquire() {
		return nil, types.ErrIndexingInProgress
	}
	defer idx.lock.Release()

	stats, err := idx.run(ctx, req)

	idx.mu.Lock()
	idx.lastRun, idx.lastErr = stats, err
	idx.mu.Unlock()

	if stats != nil && idx.onComplete != nil {
		idx.onComplete(stats)
	}
	return stats, err
}

func (idx *Indexer) run(ctx context.Context, req Request) (*Statistics, error) {
	startTime := time.Now()

	walker, err := discovery.New(req.Root, idx.walkOpts...)
	if err != nil {
		return nil, err
	}
	root := walker.Root()
	logger := idx.logger.With(zap.String("root", root), zap.String("mode", req.Mode()))

	reset, err := idx.store.EnsureCollection(ctx, idx.collection, idx.model.Identifier(), idx.model.Dimension())
	if err != nil {
		return nil, err
	}
	if reset {
		logger.Warn("embedding model changed, collection was reset",
			zap.String("collection", idx.collection),
			zap.String("model", idx.model.Identifier()))
	}

	logger.Info("indexing started")
	c := &counters{}
	runErr := idx.indexScopes(ctx, walker, req, c)

	stats := c.statistics()
	stats.Root = root
	stats.Mode = req.Mode()
	stats.CollectionReset = reset
	stats.Duration = time.Since(startTime)

	if runErr != nil {
		logger.Error("indexing aborted", zap.Error(runErr), zap.Int("files_indexed", stats.FilesIndexed))
		return stats, runErr
	}

	logger.Info("indexing finished",
		zap.Int("files_scanned", stats.FilesScanned),
		zap.Int("files_indexed", stats.FilesIndexed),
		zap.Int("files_skipped", stats.FilesSkipped),
		zap.Int("files_failed", stats.FilesFailed),
		zap.Int("files_removed", stats.FilesRemoved),
		zap.Int("chunks_added", stats.ChunksAdded),
		zap.Int("chunks_removed", stats.ChunksRemoved),
		zap.Duration("duration", stats.Duration))
	return stats, nil
}

// indexScopes processes every file under the requested scopes concurrently,
// then removes stored files that were not seen under a walked directory
func (idx *Indexer) indexScopes(ctx context.Context, walker *discovery.Walker, req Request, c *counters) error {
	// Only this goroutine submits work, so seen and dirs need no lock
	seen := make(map[string]bool)
	var dirs []string

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(idx.workers)

	// Overlapping paths can name a file twice; one commit per file per run
	submit := func(sf types.SourceFile) {
		if seen[sf.Path] {
			return
		}
		seen[sf.Path] = true
		g.Go(func() error {
			return idx.indexFile(gctx, sf, req.Force, c)
		})
	}

	walk := func(w *discovery.Walker) {
		dirs = append(dirs, w.Root())
		for sf := range w.Files(gctx) {
			submit(sf)
		}
		for _, warning := range w.Warnings() {
			c.note(warning.Path, warning.Err)
		}
	}

	if len(req.Paths) == 0 {
		walk(walker)
	} else {
		for _, p := range req.Paths {
			if gctx.Err() != nil {
				break
			}
			idx.visitPath(gctx, walker, p, c, submit, walk)
		}
	}

	if err := g.Wait(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	for _, dir := range dirs {
		if err := idx.prune(ctx, dir, seen, c); err != nil {
			return err
		}
	}
	return nil
}

// visitPath resolves one incremental path: directories are walked, files are
// submitted, and files that vanished or are now filtered out are removed from
// the store
func (idx *Indexer) visitPath(ctx context.Context, walker *discovery.Walker, p string, c *counters,
	submit func(types.SourceFile), walk func(*discovery.Walker)) {

	if !filepath.IsAbs(p) {
		p = filepath.Join(walker.Root(), p)
	}
	p = filepath.Clean(p)

	if info, err := os.Stat(p); err == nil && info.IsDir() {
		sub, err := discovery.New(p, idx.walkOpts...)
		if err != nil {
			c.fileError(p, err)
			return
		}
		walk(sub)
		return
	}

	sf, err := walker.Describe(p)
	switch {
	case errors.Is(err, types.ErrNotFound), errors.Is(err, discovery.ErrExcluded):
		if err := idx.removeFile(ctx, filepath.ToSlash(p), c); err != nil {
			c.fileError(p, err)
		}
	case err != nil:
		c.fileError(p, err)
	default:
		submit(sf)
	}
}

// indexFile brings one file's stored chunks in line with its content. It
// returns an error only for failures that must abort the whole run.
func (idx *Indexer) indexFile(ctx context.Context, sf types.SourceFile, force bool, c *counters) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.scanned.Add(1)

	content, err := discovery.Load(&sf)
	if err != nil {
		idx.logger.Warn("skipping unreadable file", zap.String("path", sf.Path), zap.Error(err))
		c.fileError(sf.Path, err)
		return nil
	}

	prev, err := idx.store.GetFile(ctx, idx.collection, sf.Path)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	if !force && prev != nil && prev.ContentHash == sf.ContentHash {
		c.skipped.Add(1)
		c.unchanged.Add(int32(prev.ChunkCount))
		return nil
	}

	chunks, err := idx.chunker.Chunk(sf.Path, content)
	if err == nil {
		err = validateChunks(chunks)
	}
	if err != nil {
		idx.logger.Warn("skipping file", zap.String("path", sf.Path), zap.Error(err))
		c.fileError(sf.Path, err)
		return nil
	}

	existing, err := idx.store.ListEntryIDs(ctx, idx.collection, sf.Path)
	if err != nil {
		return err
	}
	stored := make(map[string]bool, len(existing))
	for _, id := range existing {
		stored[id] = true
	}

	// Chunk IDs cover location and content, so a stored ID is still valid
	keep := make(map[string]bool, len(chunks))
	var fresh []*types.Chunk
	for _, ch := range chunks {
		keep[ch.ID] = true
		if stored[ch.ID] && !force {
			c.unchanged.Add(1)
			continue
		}
		fresh = append(fresh, ch)
	}
	var stale []string
	for _, id := range existing {
		if !keep[id] {
			stale = append(stale, id)
		}
	}

	entries, err := idx.embed(ctx, fresh)
	if err != nil {
		return err
	}
	c.embedded.Add(int32(len(fresh)))

	removed, err := idx.commit(ctx, sf, stale, entries, len(chunks))
	if err != nil {
		return err
	}

	c.indexed.Add(1)
	c.added.Add(int32(len(entries)))
	c.chunksRemoved.Add(int32(removed))
	idx.logger.Debug("indexed file",
		zap.String("path", sf.Path),
		zap.Int("chunks", len(chunks)),
		zap.Int("embedded", len(entries)),
		zap.Int("removed", removed))
	return nil
}

// validateChunks rejects chunks whose id, hash or line range disagree before
// anything reaches the store
func validateChunks(chunks []*types.Chunk) error {
	for _, ch := range chunks {
		if err := ch.Validate(); err != nil {
			return fmt.Errorf("%w: chunk %s:%d-%d: %v", types.ErrFileAccess, ch.FilePath, ch.StartLine, ch.EndLine, err)
		}
	}
	return nil
}

// embed turns chunks into store entries. The model deduplicates identical
// texts and serves repeats from its cache.
func (idx *Indexer) embed(ctx context.Context, chunks []*types.Chunk) ([]storage.Entry, error) {
	if len(chunks) == 0 {
		return nil, nil
	}

	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		texts[i] = ch.Content
	}
	vectors, err := idx.model.Embed(ctx, texts)
	if err != nil {
		return nil, err
	}

	entries := make([]storage.Entry, len(chunks))
	for i, ch := range chunks {
		entries[i] = storage.Entry{
			ChunkID:     ch.ID,
			FilePath:    ch.FilePath,
			StartLine:   ch.StartLine,
			EndLine:     ch.EndLine,
			Content:     ch.Content,
			ContentHash: ch.ContentHash,
			Symbol:      ch.Symbol,
			Kind:        string(ch.Kind),
			Vector:      vectors[i],
		}
	}
	return entries, nil
}

// commit replaces a file's stale entries and records its state in one
// transaction
func (idx *Indexer) commit(ctx context.Context, sf types.SourceFile, stale []string, entries []storage.Entry, chunkCount int) (int, error) {
	tx, err := idx.store.BeginTx(ctx)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	removed, err := tx.Delete(ctx, idx.collection, stale)
	if err != nil {
		return 0, err
	}
	if err := tx.Upsert(ctx, idx.collection, entries); err != nil {
		return 0, err
	}
	state := &storage.FileState{
		Path:        sf.Path,
		ContentHash: sf.ContentHash,
		ModTime:     sf.ModTime,
		SizeBytes:   sf.Size,
		ChunkCount:  chunkCount,
	}
	if err := tx.UpsertFile(ctx, idx.collection, state); err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return removed, nil
}

// prune removes files recorded under dir that the walk no longer produced
func (idx *Indexer) prune(ctx context.Context, dir string, seen map[string]bool, c *counters) error {
	files, err := idx.store.ListFiles(ctx, idx.collection, filepath.ToSlash(dir))
	if err != nil {
		return err
	}
	for _, f := range files {
		if seen[f.Path] {
			continue
		}
		if err := idx.removeFile(ctx, f.Path, c); err != nil {
			return err
		}
	}
	return nil
}

// removeFile drops a file and all its entries. Unknown files are a no-op.
func (idx *Indexer) removeFile(ctx context.Context, path string, c *counters) error {
	ids, err := idx.store.ListEntryIDs(ctx, idx.collection, path)
	if err != nil {
		return err
	}
	_, err = idx.store.GetFile(ctx, idx.collection, path)
	known := err == nil
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	if !known && len(ids) == 0 {
		return nil
	}

	if err := idx.store.DeleteFile(ctx, idx.collection, path); err != nil {
		return err
	}
	c.removed.Add(1)
	c.chunksRemoved.Add(int32(len(ids)))
	idx.logger.Debug("removed file", zap.String("path", path), zap.Int("chunks", len(ids)))
	return nil
}
