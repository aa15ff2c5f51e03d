// Package embedder turns text into fixed-dimension vectors.
//
// A Provider implements the Embedder interface. The local provider is a
// deterministic feature-hashing model that runs in process; the HTTP provider
// speaks the OpenAI-compatible embeddings protocol used by Jina AI, OpenAI and
// text-embeddings-inference servers.
//
// # Basic Usage
//
//	model, err := embedder.New(embedder.Config{
//	    Provider: "local",
//	    CacheDir: "/var/lib/semcode/embedding_cache",
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer model.Close()
//
//	if err := model.Load(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	vectors, err := model.Embed(ctx, []string{"func Parse(path string) error"})
//
// # Model
//
// Model is the single shared handle to a provider. Embed splits its input into
// batches, runs at most Concurrency batches at once, embeds identical texts
// only once and returns vectors in input order. Vectors are looked up in an
// in-memory LRU, then in a bbolt file keyed by model identifier and content
// hash, and only then computed. After Close every call fails with
// types.ErrModelUnavailable.
//
// # Retries
//
// HTTP calls are retried with exponential backoff. Client errors other than
// 429 are not retried.
//
// All vectors are L2-normalised, so cosine similarity reduces to a dot product.
package embedder
