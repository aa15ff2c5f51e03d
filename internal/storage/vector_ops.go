package storage

import (
	"cmp"
	"context"
	"encoding/binary"
	"math"
	"slices"
	"strings"
)

// searchVector scans the collection and ranks entries by cosine similarity
// computed in Go. Both drivers take this path so scores match across builds.
func searchVector(ctx context.Context, q querier, collection string, queryVector []float32, limit int, filter *Filter) ([]Match, error) {
	query := `
		SELECT chunk_id, file_path, start_line, end_line, content, content_hash, symbol, kind, vector
		FROM entries
		WHERE collection = ?
	`
	args := []any{collection}
	query, args = applyFilter(query, args, filter)

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr("vector search", err)
	}
	defer func() { _ = rows.Close() }()

	minScore := math.Inf(-1)
	if filter != nil && filter.MinScore > 0 {
		minScore = filter.MinScore
	}

	var candidates []Match
	for rows.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		var m Match
		var hash, blob []byte
		if err := rows.Scan(&m.ChunkID, &m.FilePath, &m.StartLine, &m.EndLine, &m.Content,
			&hash, &m.Symbol, &m.Kind, &blob); err != nil {
			return nil, storageErr("scan entry", err)
		}

		vector := deserializeVector(blob)
		if len(vector) != len(queryVector) {
			continue // Written under another dimension, skip
		}
		m.Score = cosineSimilarity(queryVector, vector)
		if m.Score < minScore {
			continue
		}
		copy(m.ContentHash[:], hash)
		candidates = append(candidates, m)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("vector search", err)
	}

	sortCandidates(candidates)
	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}
	return candidates, nil
}

// applyFilter appends the filter's path conditions to a WHERE clause over
// the entries table
func applyFilter(query string, args []any, filter *Filter) (string, []any) {
	if filter == nil {
		return query, args
	}

	if len(filter.PathPrefixes) > 0 {
		clause, clauseArgs := prefixClause("file_path", filter.PathPrefixes)
		query += " AND " + clause
		args = append(args, clauseArgs...)
	}

	if filter.FilePattern != "" {
		pattern := filter.FilePattern
		// Bare patterns like "*.go" match anywhere in the tree
		if !strings.HasPrefix(pattern, "/") && !strings.HasPrefix(pattern, "*") {
			pattern = "*/" + pattern
		}
		query += " AND file_path GLOB ?"
		args = append(args, pattern)
	}

	return query, args
}

// prefixClause matches column against each prefix as an exact path or a
// directory containing it. "/a/b" matches "/a/b/c.go" but not "/a/bc.go".
func prefixClause(column string, prefixes []string) (string, []any) {
	conditions := make([]string, 0, len(prefixes))
	args := make([]any, 0, len(prefixes)*2)
	for _, p := range prefixes {
		p = strings.TrimRight(p, "/")
		if p == "" {
			// The filesystem root contains everything
			conditions = append(conditions, "1 = 1")
			continue
		}
		conditions = append(conditions, "("+column+" = ? OR "+column+` LIKE ? ESCAPE '\')`)
		args = append(args, p, escapeLike(p)+"/%")
	}
	return "(" + strings.Join(conditions, " OR ") + ")", args
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

// serializeVector converts a float32 slice to a byte blob (little-endian)
func serializeVector(vector []float32) []byte {
	blob := make([]byte, len(vector)*4)
	for i, v := range vector {
		binary.LittleEndian.PutUint32(blob[i*4:], math.Float32bits(v))
	}
	return blob
}

// deserializeVector converts a byte blob back to a float32 slice
func deserializeVector(blob []byte) []float32 {
	vector := make([]float32, len(blob)/4)
	for i := range vector {
		bits := binary.LittleEndian.Uint32(blob[i*4:])
		vector[i] = math.Float32frombits(bits)
	}
	return vector
}

// cosineSimilarity computes the cosine similarity between two vectors.
// Zero vectors score 0.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}

// sortCandidates orders by score descending, breaking ties by ascending
// chunk id so equal scores come back in a stable order
func sortCandidates(candidates []Match) {
	slices.SortFunc(candidates, func(a, b Match) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return strings.Compare(a.ChunkID, b.ChunkID)
	})
}
