package searcher

import (
	"cmp"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/dshills/semcode-mcp/internal/logging"
	"github.com/dshills/semcode-mcp/internal/storage"
	"github.com/dshills/semcode-mcp/pkg/types"
)

const (
	// DefaultTopK is the result count when a request does not set one
	DefaultTopK = 10

	// MaxTopK caps the result count of a single request
	MaxTopK = 100

	// MaxQueryBytes bounds the query text after trimming
	MaxQueryBytes = 8 << 10

	// SnippetLines is how many leading lines of a chunk form its snippet
	SnippetLines = 40

	// overFetch multiplies TopK when querying the store so merging
	// overlapping chunks still leaves enough results
	overFetch = 3

	defaultCacheSize = 1000
	defaultCacheTTL  = time.Hour
)

// QueryEmbedder is the part of the embedding model the searcher needs
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	Identifier() string
}

// SearchRequest contains parameters for a search operation
type SearchRequest struct {
	Query        string
	TopK         int      // Default DefaultTopK, capped at MaxTopK
	PathPrefixes []string // Absolute directories or files to search within
	FilePattern  string   // Glob over the file path, e.g. "*.go"
	MinScore     float64  // Drop results below this similarity
}

// SearchResponse contains search results and metadata
type SearchResponse struct {
	Results      []types.SearchResult
	TotalResults int
	Candidates   int // Store matches before merging
	Duration     time.Duration
	CacheHit     bool
}

// Config contains configuration for the searcher
type Config struct {
	Collection  string
	DefaultTopK int
	CacheSize   int           // Cached responses (default 1000)
	CacheTTL    time.Duration // Lifetime of a cached response (default 1h)
	Logger      *zap.Logger
}

// cacheEntry represents a cached search response with expiration time
type cacheEntry struct {
	response  *SearchResponse
	expiresAt time.Time
}

// Searcher answers natural-language queries against one collection
type Searcher struct {
	store       storage.VectorStore
	model       QueryEmbedder
	collection  string
	defaultTopK int
	cacheTTL    time.Duration
	logger      *zap.Logger

	cache   *lru.Cache[[32]byte, *cacheEntry]
	cacheMu sync.RWMutex
}

// NewSearcher creates a new Searcher instance
func NewSearcher(store storage.VectorStore, model QueryEmbedder, cfg Config) (*Searcher, error) {
	if store == nil || model == nil {
		return nil, fmt.Errorf("%w: searcher needs a store and a model", types.ErrConfiguration)
	}
	if cfg.Collection == "" {
		return nil, fmt.Errorf("%w: empty collection name", types.ErrConfiguration)
	}
	if cfg.DefaultTopK <= 0 {
		cfg.DefaultTopK = DefaultTopK
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = defaultCacheSize
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = defaultCacheTTL
	}

	cache, err := lru.New[[32]byte, *cacheEntry](cfg.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create LRU cache: %w", err)
	}

	return &Searcher{
		store:       store,
		model:       model,
		collection:  cfg.Collection,
		defaultTopK: min(cfg.DefaultTopK, MaxTopK),
		cacheTTL:    cfg.CacheTTL,
		logger:      logging.OrNop(cfg.Logger),
		cache:       cache,
	}, nil
}

// Search embeds the query, ranks stored chunks by cosine similarity and
// collapses overlapping chunks of the same file into their best match.
// Invalid input fails with types.ErrQuery.
//
// Cached responses are keyed by the collection generation, so any committed
// change to the store, from this process or another, makes them unreachable.
func (s *Searcher) Search(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	startTime := time.Now()

	if err := s.normalize(&req); err != nil {
		return nil, err
	}

	coll, err := s.collectionFor(ctx)
	if err != nil {
		return nil, err
	}
	if coll == nil {
		// Nothing indexed yet
		return &SearchResponse{Results: []types.SearchResult{}, Duration: time.Since(startTime)}, nil
	}

	key := computeQueryHash(req, coll.Generation)
	if cached, ok := s.checkCache(key); ok {
		cached.CacheHit = true
		cached.Duration = time.Since(startTime)
		return cached, nil
	}

	response, err := s.search(ctx, req)
	if err != nil {
		return nil, err
	}
	response.Duration = time.Since(startTime)

	// A writer that committed while we were querying may or may not be
	// reflected in response; only cache answers known to match the key
	if after, err := s.store.GetCollection(ctx, s.collection); err == nil && after.Generation == coll.Generation {
		s.storeInCache(key, response)
	}

	s.logger.Debug("search completed",
		zap.String("query", req.Query),
		zap.Int64("generation", coll.Generation),
		zap.Int("results", response.TotalResults),
		zap.Int("candidates", response.Candidates),
		zap.Duration("duration", response.Duration))
	return response, nil
}

// collectionFor returns the searched collection, or nil when nothing has been
// indexed. Vectors from another model cannot be compared with ours.
func (s *Searcher) collectionFor(ctx context.Context) (*storage.Collection, error) {
	coll, err := s.store.GetCollection(ctx, s.collection)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if coll.Model != s.model.Identifier() {
		return nil, fmt.Errorf("%w: collection %s holds vectors from %s, the loaded model is %s; re-index to search it",
			types.ErrStorage, s.collection, coll.Model, s.model.Identifier())
	}
	return coll, nil
}

func (s *Searcher) search(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	vector, err := s.model.EmbedQuery(ctx, req.Query)
	if err != nil {
		return nil, fmt.Errorf("failed to generate query embedding: %w", err)
	}

	filter := &storage.Filter{
		PathPrefixes: req.PathPrefixes,
		FilePattern:  req.FilePattern,
		MinScore:     req.MinScore,
	}
	matches, err := s.store.Query(ctx, s.collection, vector, req.TopK*overFetch, filter)
	if err != nil {
		return nil, err
	}

	merged := mergeOverlapping(matches)
	if len(merged) > req.TopK {
		merged = merged[:req.TopK]
	}

	results := make([]types.SearchResult, len(merged))
	for i, m := range merged {
		results[i] = types.SearchResult{
			ChunkID:         m.ChunkID,
			Rank:            i + 1,
			SimilarityScore: m.Score,
			File: &types.FileInfo{
				Path:      m.FilePath,
				StartLine: m.StartLine,
				EndLine:   m.EndLine,
			},
			Symbol:  m.Symbol,
			Snippet: snippet(m.Content),
			Content: m.Content,
		}
		if err := results[i].Validate(); err != nil {
			return nil, fmt.Errorf("%w: stored entry %s: %w", types.ErrStorage, m.ChunkID, err)
		}
	}

	return &SearchResponse{
		Results:      results,
		TotalResults: len(results),
		Candidates:   len(matches),
	}, nil
}

// normalize validates a request and fills in defaults
func (s *Searcher) normalize(req *SearchRequest) error {
	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		return fmt.Errorf("%w: query cannot be empty", types.ErrQuery)
	}
	if len(req.Query) > MaxQueryBytes {
		return fmt.Errorf("%w: query exceeds %d bytes", types.ErrQuery, MaxQueryBytes)
	}

	if req.TopK < 0 {
		return fmt.Errorf("%w: top_k must not be negative", types.ErrQuery)
	}
	if req.TopK == 0 {
		req.TopK = s.defaultTopK
	}
	req.TopK = min(req.TopK, MaxTopK)

	if req.MinScore < -1 || req.MinScore > 1 {
		return fmt.Errorf("%w: min_score must be between -1 and 1", types.ErrQuery)
	}

	if req.FilePattern != "" {
		if _, err := path.Match(req.FilePattern, ""); err != nil {
			return fmt.Errorf("%w: bad file pattern %q", types.ErrQuery, req.FilePattern)
		}
	}

	prefixes := make([]string, 0, len(req.PathPrefixes))
	for _, p := range req.PathPrefixes {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if !filepath.IsAbs(p) {
			return fmt.Errorf("%w: path filter %q must be absolute", types.ErrQuery, p)
		}
		prefixes = append(prefixes, filepath.ToSlash(filepath.Clean(p)))
	}
	slices.Sort(prefixes)
	req.PathPrefixes = slices.Compact(prefixes)
	return nil
}

// mergeOverlapping collapses chunks of the same file whose line ranges
// overlap or touch, keeping the best scoring chunk of each run. The result is
// ordered by score descending, then chunk id ascending.
func mergeOverlapping(matches []storage.Match) []storage.Match {
	byFile := make(map[string][]storage.Match)
	for _, m := range matches {
		byFile[m.FilePath] = append(byFile[m.FilePath], m)
	}

	merged := make([]storage.Match, 0, len(matches))
	for _, group := range byFile {
		slices.SortFunc(group, func(a, b storage.Match) int {
			if c := cmp.Compare(a.StartLine, b.StartLine); c != 0 {
				return c
			}
			return cmp.Compare(a.EndLine, b.EndLine)
		})

		best := group[0]
		end := best.EndLine
		for _, m := range group[1:] {
			if m.StartLine <= end+1 {
				if better(m, best) {
					best = m
				}
				end = max(end, m.EndLine)
				continue
			}
			merged = append(merged, best)
			best, end = m, m.EndLine
		}
		merged = append(merged, best)
	}

	slices.SortFunc(merged, func(a, b storage.Match) int {
		if better(a, b) {
			return -1
		}
		if better(b, a) {
			return 1
		}
		return 0
	})
	return merged
}

// better orders by score descending with ties broken by ascending chunk id
func better(a, b storage.Match) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	return a.ChunkID < b.ChunkID
}

// snippet returns the leading SnippetLines lines of content
func snippet(content string) string {
	lines := strings.SplitAfterN(content, "\n", SnippetLines+1)
	if len(lines) <= SnippetLines {
		return strings.TrimRight(content, "\n")
	}
	return strings.TrimRight(strings.Join(lines[:SnippetLines], ""), "\n")
}

// checkCache looks up a cached response
func (s *Searcher) checkCache(key [32]byte) (*SearchResponse, bool) {
	now := time.Now()

	s.cacheMu.RLock()
	entry, found := s.cache.Get(key)
	if !found {
		s.cacheMu.RUnlock()
		return nil, false
	}

	if now.After(entry.expiresAt) {
		s.cacheMu.RUnlock()

		s.cacheMu.Lock()
		s.cache.Remove(key)
		s.cacheMu.Unlock()
		return nil, false
	}

	response := copySearchResponse(entry.response)
	s.cacheMu.RUnlock()
	return response, true
}

// storeInCache saves a deep copy of response
func (s *Searcher) storeInCache(key [32]byte, response *SearchResponse) {
	entry := &cacheEntry{
		response:  copySearchResponse(response),
		expiresAt: time.Now().Add(s.cacheTTL),
	}

	s.cacheMu.Lock()
	s.cache.Add(key, entry)
	s.cacheMu.Unlock()
}

// InvalidateCache drops every cached response. Generation keys already keep
// stale answers from being served; purging after an index run frees them.
func (s *Searcher) InvalidateCache() {
	s.cacheMu.Lock()
	s.cache.Purge()
	s.cacheMu.Unlock()
}

// CacheLen returns the number of cached responses
func (s *Searcher) CacheLen() int {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()
	return s.cache.Len()
}

// copySearchResponse creates a deep copy of a SearchResponse
func copySearchResponse(src *SearchResponse) *SearchResponse {
	if src == nil {
		return nil
	}

	dst := *src
	dst.Results = make([]types.SearchResult, len(src.Results))
	for i, result := range src.Results {
		dst.Results[i] = result
		if result.File != nil {
			fileCopy := *result.File
			dst.Results[i].File = &fileCopy
		}
	}
	return &dst
}

// computeQueryHash derives the cache key of a normalized request against one
// generation of the collection
func computeQueryHash(req SearchRequest, generation int64) [32]byte {
	var data strings.Builder
	fmt.Fprintf(&data, "%d|", generation)
	data.WriteString(req.Query)
	fmt.Fprintf(&data, "|%d|%s|%.4f|", req.TopK, req.FilePattern, req.MinScore)
	data.WriteString(strings.Join(req.PathPrefixes, "\x00"))
	return sha256.Sum256([]byte(data.String()))
}
