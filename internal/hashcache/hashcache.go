// Package hashcache implements mediadb's local `(path, size, mtime) -> hash`
// cache so a re-import of an unchanged file skips re-hashing its bytes,
// grounded on the teacher's bbolt-backed bucket-per-namespace wrapper.
package hashcache

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"go.etcd.io/bbolt"

	"github.com/mediavault/engine/internal/engineerr"
	"github.com/mediavault/engine/internal/merkle"
)

var bucketName = []byte("hash_cache")

// Entry is one cached hash result.
type Entry struct {
	Hash    merkle.Hash `cbor:"hash"`
	Size    int64       `cbor:"size"`
	ModTime int64       `cbor:"modTimeUnixNano"`
}

// Cache wraps a bbolt database file dedicated to hash-cache lookups.
type Cache struct {
	db *bbolt.DB
}

// Open opens (creating if absent) the bbolt file at path and ensures the
// cache bucket exists.
func Open(path string) (*Cache, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, engineerr.New(engineerr.KindTransient, "hashcache.Open", path, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, engineerr.New(engineerr.KindTransient, "hashcache.Open", path, fmt.Errorf("create bucket: %w", err))
	}
	return &Cache{db: db}, nil
}

// Close releases the underlying bbolt file handle.
func (c *Cache) Close() error { return c.db.Close() }

func key(path string, size int64, modTime int64) []byte {
	k := make([]byte, 8+8+len(path))
	binary.BigEndian.PutUint64(k[0:8], uint64(size))
	binary.BigEndian.PutUint64(k[8:16], uint64(modTime))
	copy(k[16:], path)
	return k
}

// Lookup returns the cached hash for (path, size, modTime) if one exists and
// the stat triple still matches exactly.
func (c *Cache) Lookup(path string, size int64, modTime int64) (merkle.Hash, bool, error) {
	var entry Entry
	var found bool
	err := c.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketName)
		v := b.Get(key(path, size, modTime))
		if v == nil {
			return nil
		}
		if err := cbor.Unmarshal(v, &entry); err != nil {
			return fmt.Errorf("decode cache entry for %s: %w", path, err)
		}
		found = true
		return nil
	})
	if err != nil {
		return merkle.Hash{}, false, engineerr.New(engineerr.KindIntegrity, "hashcache.Lookup", path, err)
	}
	return entry.Hash, found, nil
}

// Store records the computed hash for (path, size, modTime).
func (c *Cache) Store(path string, size int64, modTime int64, h merkle.Hash) error {
	entry := Entry{Hash: h, Size: size, ModTime: modTime}
	data, err := cbor.Marshal(entry)
	if err != nil {
		return engineerr.New(engineerr.KindIntegrity, "hashcache.Store", path, err)
	}
	err = c.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketName)
		return b.Put(key(path, size, modTime), data)
	})
	if err != nil {
		return engineerr.New(engineerr.KindTransient, "hashcache.Store", path, err)
	}
	return nil
}

// Invalidate removes the cached entry stored for the exact (path, size,
// modTime) triple. Entries for the same path under a different size or
// modTime are left in place.
func (c *Cache) Invalidate(path string, size int64, modTime int64) error {
	err := c.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketName)
		return b.Delete(key(path, size, modTime))
	})
	if err != nil {
		return engineerr.New(engineerr.KindTransient, "hashcache.Invalidate", path, err)
	}
	return nil
}
