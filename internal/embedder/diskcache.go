package embedder

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"
)

const diskCacheFile = "embeddings.bolt"

// DiskCache persists vectors across restarts in a bbolt file, one bucket per
// model identifier so that vectors of different models never mix.
type DiskCache struct {
	db *bbolt.DB
}

// OpenDiskCache opens or creates the cache file under dir
func OpenDiskCache(dir string) (*DiskCache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}

	db, err := bbolt.Open(filepath.Join(dir, diskCacheFile), 0o600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open embedding cache: %w", err)
	}
	return &DiskCache{db: db}, nil
}

// Get looks up vectors for the given content hashes. The result holds only
// the hashes that were found.
func (c *DiskCache) Get(model string, hashes []string) (map[string][]float32, error) {
	found := make(map[string][]float32)
	err := c.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(model))
		if b == nil {
			return nil
		}
		for _, h := range hashes {
			if data := b.Get([]byte(h)); data != nil {
				found[h] = decodeVector(data)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read embedding cache: %w", err)
	}
	return found, nil
}

// Put stores vectors keyed by content hash in one transaction
func (c *DiskCache) Put(model string, vectors map[string][]float32) error {
	if len(vectors) == 0 {
		return nil
	}
	err := c.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(model))
		if err != nil {
			return err
		}
		for h, v := range vectors {
			if err := b.Put([]byte(h), encodeVector(v)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("write embedding cache: %w", err)
	}
	return nil
}

// Count returns the number of cached vectors for a model
func (c *DiskCache) Count(model string) (int, error) {
	n := 0
	err := c.db.View(func(tx *bbolt.Tx) error {
		if b := tx.Bucket([]byte(model)); b != nil {
			n = b.Stats().KeyN
		}
		return nil
	})
	return n, err
}

// Close closes the underlying file
func (c *DiskCache) Close() error {
	return c.db.Close()
}

// encodeVector writes little-endian float32s. The storage package uses the
// same layout for its vector blobs.
func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(data []byte) []float32 {
	v := make([]float32, len(data)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[4*i:]))
	}
	return v
}
