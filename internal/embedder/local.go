package embedder

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// Local model parameters
const (
	LocalModelName = "semcode-hash-v1"
	LocalDimension = 384
)

// Feature weights. Whole identifiers dominate, their parts and character
// trigrams let related spellings land near each other.
const (
	wordWeight    = 1.0
	partWeight    = 0.5
	trigramWeight = 0.25
)

// keywordAliases folds language keywords with the same meaning so that a
// query like "function foo" lands near "func foo", "def foo" or "fn foo".
var keywordAliases = map[string]string{
	"function":  "func",
	"def":       "func",
	"fn":        "func",
	"fun":       "func",
	"method":    "func",
	"class":     "type",
	"struct":    "type",
	"interface": "type",
	"trait":     "type",
	"const":     "var",
	"let":       "var",
}

// LocalProvider is a deterministic in-process embedding model based on
// signed feature hashing. It needs no network or model files, which makes it
// the default for offline use and the model used in tests.
type LocalProvider struct {
	dimension int
}

// NewLocalProvider creates the local hashing model
func NewLocalProvider() *LocalProvider {
	return &LocalProvider{dimension: LocalDimension}
}

func (l *LocalProvider) GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error) {
	if err := ValidateRequest(req); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return &Embedding{
		Vector:    l.embed(req.Text),
		Dimension: l.dimension,
		Provider:  ProviderLocal,
		Model:     LocalModelName,
		Hash:      ComputeHash(req.Text),
	}, nil
}

func (l *LocalProvider) GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error) {
	if err := ValidateBatchRequest(req); err != nil {
		return nil, err
	}

	embeddings := make([]*Embedding, len(req.Texts))
	for i, text := range req.Texts {
		emb, err := l.GenerateEmbedding(ctx, EmbeddingRequest{Text: text})
		if err != nil {
			return nil, fmt.Errorf("embedding text %d: %w", i, err)
		}
		embeddings[i] = emb
	}

	return &BatchEmbeddingResponse{
		Embeddings: embeddings,
		Provider:   ProviderLocal,
		Model:      LocalModelName,
	}, nil
}

func (l *LocalProvider) Dimension() int {
	return l.dimension
}

func (l *LocalProvider) Provider() string {
	return ProviderLocal
}

func (l *LocalProvider) Model() string {
	return LocalModelName
}

func (l *LocalProvider) Close() error {
	return nil
}

// embed maps text to an L2-normalised vector
func (l *LocalProvider) embed(text string) []float32 {
	vec := make([]float32, l.dimension)

	for _, word := range words(text) {
		lower := strings.ToLower(word)
		if alias, ok := keywordAliases[lower]; ok {
			lower = alias
		}
		l.add(vec, "w:"+lower, wordWeight)

		parts := splitIdentifier(word)
		if len(parts) > 1 {
			for _, part := range parts {
				l.add(vec, "w:"+part, partWeight)
			}
		}

		padded := "^" + lower + "$"
		if len(padded) > 4 {
			for i := 0; i+3 <= len(padded); i++ {
				l.add(vec, "t:"+padded[i:i+3], trigramWeight)
			}
		}
	}

	return NormalizeVector(vec)
}

// add hashes a feature into one bucket with a sign taken from the hash, which
// keeps collisions from only ever adding up
func (l *LocalProvider) add(vec []float32, feature string, weight float32) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(feature))
	sum := h.Sum64()

	idx := int(sum % uint64(l.dimension))
	if sum>>63 == 1 {
		weight = -weight
	}
	vec[idx] += weight
}

// words extracts identifier-like tokens and numbers
func words(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})
}

// splitIdentifier splits camelCase, PascalCase and snake_case identifiers into
// lowercase parts. "parseHTTPRequest" yields parse, http, request.
func splitIdentifier(word string) []string {
	var parts []string
	for _, chunk := range strings.Split(word, "_") {
		runes := []rune(chunk)
		start := 0
		for i := 1; i < len(runes); i++ {
			prev, cur := runes[i-1], runes[i]
			boundary := unicode.IsLower(prev) && unicode.IsUpper(cur) ||
				unicode.IsUpper(prev) && unicode.IsUpper(cur) && i+1 < len(runes) && unicode.IsLower(runes[i+1]) ||
				unicode.IsLetter(prev) != unicode.IsLetter(cur)
			if boundary {
				parts = append(parts, strings.ToLower(string(runes[start:i])))
				start = i
			}
		}
		if start < len(runes) {
			parts = append(parts, strings.ToLower(string(runes[start:])))
		}
	}
	return parts
}

// NormalizeVector normalizes a vector to unit length (for cosine similarity)
func NormalizeVector(v []float32) []float32 {
	var sum float64
	for _, val := range v {
		sum += float64(val) * float64(val)
	}

	if sum == 0 {
		return v
	}

	norm := float32(math.Sqrt(sum))
	result := make([]float32, len(v))
	for i, val := range v {
		result[i] = val / norm
	}

	return result
}
