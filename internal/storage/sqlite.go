package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dshills/semcode-mcp/pkg/types"
)

var (
	// ErrNotFound is returned when a requested entity doesn't exist
	ErrNotFound = errors.New("not found")
)

// deleteBatchSize keeps IN lists under SQLite's host parameter limit
const deleteBatchSize = 500

// SQLiteStorage implements VectorStore using SQLite
type SQLiteStorage struct {
	db   *sql.DB
	path string
}

var _ VectorStore = (*SQLiteStorage)(nil)

// openDatabase opens a SQLite database with appropriate settings
func openDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dbPath)
	if err != nil {
		return nil, err
	}

	// SQLite benefits from a single writer; pragmas below stick to this one
	// long-lived connection
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA synchronous=NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}

	return db, nil
}

// NewSQLiteStorage opens or creates the store at dbPath and applies pending
// migrations. Failures wrap types.ErrStorage.
func NewSQLiteStorage(ctx context.Context, dbPath string) (*SQLiteStorage, error) {
	db, err := openDatabase(dbPath)
	if err != nil {
		return nil, storageErr("open database", err)
	}

	if err := ApplyMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, storageErr("apply migrations", err)
	}

	return &SQLiteStorage{db: db, path: dbPath}, nil
}

// storageErr classifies err as a storage failure while keeping the cause
// inspectable, so context cancellation is still recognisable
func storageErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", types.ErrStorage, op, err)
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// BeginTx starts a new transaction
func (s *SQLiteStorage) BeginTx(ctx context.Context) (Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, storageErr("begin transaction", err)
	}
	return &sqliteTx{tx: tx}, nil
}

// querier is an interface that both *sql.DB and *sql.Tx implement
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// sqliteTx wraps a SQL transaction
type sqliteTx struct {
	tx *sql.Tx
}

func (t *sqliteTx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return storageErr("commit", err)
	}
	return nil
}

func (t *sqliteTx) Rollback() error {
	return t.tx.Rollback()
}

func (t *sqliteTx) Upsert(ctx context.Context, collection string, entries []Entry) error {
	return upsertEntries(ctx, t.tx, collection, entries)
}

func (t *sqliteTx) Delete(ctx context.Context, collection string, chunkIDs []string) (int, error) {
	return deleteEntries(ctx, t.tx, collection, chunkIDs)
}

func (t *sqliteTx) UpsertFile(ctx context.Context, collection string, file *FileState) error {
	return upsertFile(ctx, t.tx, collection, file)
}

func (t *sqliteTx) DeleteFile(ctx context.Context, collection, path string) error {
	return deleteFile(ctx, t.tx, collection, path)
}

// withTx runs fn in a transaction, rolling back on error
func (s *SQLiteStorage) withTx(ctx context.Context, fn func(q querier) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("begin transaction", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return storageErr("commit", err)
	}
	return nil
}

// Collection operations

// EnsureCollection creates the collection if needed. An existing collection
// built with another model or dimension is emptied and re-pinned to the new
// one, and reset is true.
func (s *SQLiteStorage) EnsureCollection(ctx context.Context, name, model string, dimension int) (bool, error) {
	if name == "" || model == "" || dimension <= 0 {
		return false, fmt.Errorf("%w: collection needs a name, model and positive dimension", types.ErrStorage)
	}

	reset := false
	err := s.withTx(ctx, func(q querier) error {
		existing, err := getCollection(ctx, q, name)
		now := time.Now().UnixNano()

		switch {
		case errors.Is(err, ErrNotFound):
			_, err = q.ExecContext(ctx,
				`INSERT INTO collections (name, model, dimension, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
				name, model, dimension, now, now)
			if err != nil {
				return storageErr("create collection", err)
			}
			return nil
		case err != nil:
			return err
		case existing.Model == model && existing.Dimension == dimension:
			return nil
		}

		reset = true
		for _, stmt := range []string{
			`DELETE FROM entries WHERE collection = ?`,
			`DELETE FROM files WHERE collection = ?`,
		} {
			if _, err := q.ExecContext(ctx, stmt, name); err != nil {
				return storageErr("reset collection", err)
			}
		}
		_, err = q.ExecContext(ctx,
			`UPDATE collections SET model = ?, dimension = ?, generation = generation + 1, updated_at = ? WHERE name = ?`,
			model, dimension, now, name)
		if err != nil {
			return storageErr("reset collection", err)
		}
		return nil
	})
	return reset, err
}

func getCollection(ctx context.Context, q querier, name string) (*Collection, error) {
	var c Collection
	var created, updated int64
	err := q.QueryRowContext(ctx,
		`SELECT name, model, dimension, generation, created_at, updated_at FROM collections WHERE name = ?`, name).
		Scan(&c.Name, &c.Model, &c.Dimension, &c.Generation, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storageErr("get collection", err)
	}
	c.CreatedAt = time.Unix(0, created)
	c.UpdatedAt = time.Unix(0, updated)
	return &c, nil
}

func (s *SQLiteStorage) GetCollection(ctx context.Context, name string) (*Collection, error) {
	return getCollection(ctx, s.db, name)
}

// bumpGeneration marks a change to the collection's entries. It runs in the
// writer's transaction so the new generation becomes visible with the data.
func bumpGeneration(ctx context.Context, q querier, collection string) error {
	_, err := q.ExecContext(ctx,
		`UPDATE collections SET generation = generation + 1, updated_at = ? WHERE name = ?`,
		time.Now().UnixNano(), collection)
	if err != nil {
		return storageErr("bump generation", err)
	}
	return nil
}

// Entry operations

// upsertEntries writes entries with INSERT OR REPLACE so re-indexing the same
// chunk overwrites it
func upsertEntries(ctx context.Context, q querier, collection string, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}

	coll, err := getCollection(ctx, q, collection)
	if errors.Is(err, ErrNotFound) {
		return fmt.Errorf("%w: collection %s does not exist", types.ErrStorage, collection)
	}
	if err != nil {
		return err
	}

	stmt := `
		INSERT OR REPLACE INTO entries
			(collection, chunk_id, file_path, start_line, end_line, content, content_hash, symbol, kind, vector, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	now := time.Now().UnixNano()
	for i := range entries {
		e := &entries[i]
		if e.ChunkID == "" {
			return fmt.Errorf("%w: entry %d has no chunk id", types.ErrStorage, i)
		}
		if len(e.Vector) != coll.Dimension {
			return fmt.Errorf("%w: entry %s has dimension %d, collection %s expects %d",
				types.ErrStorage, e.ChunkID, len(e.Vector), collection, coll.Dimension)
		}
		_, err := q.ExecContext(ctx, stmt,
			collection, e.ChunkID, e.FilePath, e.StartLine, e.EndLine, e.Content,
			e.ContentHash[:], e.Symbol, e.Kind, serializeVector(e.Vector), now)
		if err != nil {
			return storageErr("upsert entry", err)
		}
	}
	return bumpGeneration(ctx, q, collection)
}

// Upsert writes entries in one transaction. A concurrent reader sees either
// none or all of them.
func (s *SQLiteStorage) Upsert(ctx context.Context, collection string, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	return s.withTx(ctx, func(q querier) error {
		return upsertEntries(ctx, q, collection, entries)
	})
}

// deleteEntries removes entries by id. Unknown ids are ignored.
func deleteEntries(ctx context.Context, q querier, collection string, chunkIDs []string) (int, error) {
	total := 0
	for start := 0; start < len(chunkIDs); start += deleteBatchSize {
		batch := chunkIDs[start:min(start+deleteBatchSize, len(chunkIDs))]

		args := make([]any, 0, len(batch)+1)
		args = append(args, collection)
		for _, id := range batch {
			args = append(args, id)
		}
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(batch)), ",")

		res, err := q.ExecContext(ctx,
			`DELETE FROM entries WHERE collection = ? AND chunk_id IN (`+placeholders+`)`, args...)
		if err != nil {
			return total, storageErr("delete entries", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return total, storageErr("delete entries", err)
		}
		total += int(n)
	}
	if total > 0 {
		if err := bumpGeneration(ctx, q, collection); err != nil {
			return total, err
		}
	}
	return total, nil
}

func (s *SQLiteStorage) Delete(ctx context.Context, collection string, chunkIDs []string) (int, error) {
	if len(chunkIDs) == 0 {
		return 0, nil
	}
	var n int
	err := s.withTx(ctx, func(q querier) error {
		var err error
		n, err = deleteEntries(ctx, q, collection, chunkIDs)
		return err
	})
	return n, err
}

// ListEntryIDs returns the chunk ids stored for a file, sorted. An empty
// filePath lists the whole collection.
func (s *SQLiteStorage) ListEntryIDs(ctx context.Context, collection, filePath string) ([]string, error) {
	query := `SELECT chunk_id FROM entries WHERE collection = ?`
	args := []any{collection}
	if filePath != "" {
		query += ` AND file_path = ?`
		args = append(args, filePath)
	}
	query += ` ORDER BY chunk_id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr("list entries", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, storageErr("scan entry id", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list entries", err)
	}
	return ids, nil
}

// Query returns the topK entries closest to vector by cosine similarity. A
// topK of zero or less returns every match.
func (s *SQLiteStorage) Query(ctx context.Context, collection string, vector []float32, topK int, filter *Filter) ([]Match, error) {
	coll, err := getCollection(ctx, s.db, collection)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(vector) != coll.Dimension {
		return nil, fmt.Errorf("%w: query has dimension %d, collection %s expects %d",
			types.ErrStorage, len(vector), collection, coll.Dimension)
	}

	return searchVector(ctx, s.db, collection, vector, topK, filter)
}

// File state operations

func upsertFile(ctx context.Context, q querier, collection string, f *FileState) error {
	indexedAt := f.IndexedAt
	if indexedAt.IsZero() {
		indexedAt = time.Now()
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO files (collection, path, content_hash, mod_time, size_bytes, chunk_count, indexed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(collection, path) DO UPDATE SET
			content_hash = excluded.content_hash,
			mod_time = excluded.mod_time,
			size_bytes = excluded.size_bytes,
			chunk_count = excluded.chunk_count,
			indexed_at = excluded.indexed_at
	`, collection, f.Path, f.ContentHash[:], unixNanos(f.ModTime), f.SizeBytes, f.ChunkCount, unixNanos(indexedAt))
	if err != nil {
		return storageErr("upsert file", err)
	}
	f.IndexedAt = indexedAt
	return nil
}

func (s *SQLiteStorage) UpsertFile(ctx context.Context, collection string, file *FileState) error {
	return upsertFile(ctx, s.db, collection, file)
}

// GetFile returns ErrNotFound when the file has never been indexed
func (s *SQLiteStorage) GetFile(ctx context.Context, collection, path string) (*FileState, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT path, content_hash, mod_time, size_bytes, chunk_count, indexed_at
		FROM files WHERE collection = ? AND path = ?
	`, collection, path)

	f, err := scanFile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storageErr("get file", err)
	}
	return f, nil
}

// deleteFile removes a file's state and all of its entries
func deleteFile(ctx context.Context, q querier, collection, path string) error {
	res, err := q.ExecContext(ctx, `DELETE FROM entries WHERE collection = ? AND file_path = ?`, collection, path)
	if err != nil {
		return storageErr("delete file entries", err)
	}
	if _, err := q.ExecContext(ctx, `DELETE FROM files WHERE collection = ? AND path = ?`, collection, path); err != nil {
		return storageErr("delete file", err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		return bumpGeneration(ctx, q, collection)
	}
	return nil
}

func (s *SQLiteStorage) DeleteFile(ctx context.Context, collection, path string) error {
	return s.withTx(ctx, func(q querier) error {
		return deleteFile(ctx, q, collection, path)
	})
}

// ListFiles returns file states sorted by path. A non-empty pathPrefix keeps
// only that path and paths under it as a directory.
func (s *SQLiteStorage) ListFiles(ctx context.Context, collection, pathPrefix string) ([]*FileState, error) {
	query := `
		SELECT path, content_hash, mod_time, size_bytes, chunk_count, indexed_at
		FROM files WHERE collection = ?
	`
	args := []any{collection}
	if pathPrefix != "" {
		clause, clauseArgs := prefixClause("path", []string{pathPrefix})
		query += " AND " + clause
		args = append(args, clauseArgs...)
	}
	query += " ORDER BY path"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr("list files", err)
	}
	defer func() { _ = rows.Close() }()

	var files []*FileState
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, storageErr("scan file", err)
		}
		files = append(files, f)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list files", err)
	}
	return files, nil
}

// unixNanos stores the zero time as 0 since UnixNano is undefined for it
func unixNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanFile(row scanner) (*FileState, error) {
	var f FileState
	var hash []byte
	var modTime, indexedAt int64
	if err := row.Scan(&f.Path, &hash, &modTime, &f.SizeBytes, &f.ChunkCount, &indexedAt); err != nil {
		return nil, err
	}
	copy(f.ContentHash[:], hash)
	f.ModTime = fromUnixNanos(modTime)
	f.IndexedAt = fromUnixNanos(indexedAt)
	return &f, nil
}

// Status operations

func (s *SQLiteStorage) Stats(ctx context.Context, collection string) (*CollectionStats, error) {
	stats := &CollectionStats{}

	coll, err := getCollection(ctx, s.db, collection)
	switch {
	case errors.Is(err, ErrNotFound):
	case err != nil:
		return nil, err
	default:
		stats.Collection = coll
	}

	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM entries WHERE collection = ?`, collection).Scan(&stats.Entries); err != nil {
		return nil, storageErr("count entries", err)
	}

	var last sql.NullInt64
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), MAX(indexed_at) FROM files WHERE collection = ?`, collection).Scan(&stats.Files, &last); err != nil {
		return nil, storageErr("count files", err)
	}
	if last.Valid {
		stats.LastIndexedAt = time.Unix(0, last.Int64)
	}

	if info, err := os.Stat(s.path); err == nil {
		stats.SizeBytes = info.Size()
	}
	return stats, nil
}
