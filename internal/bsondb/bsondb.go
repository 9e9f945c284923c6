// Package bsondb implements the BSON document database: a set of named
// collections rolled up into one database-level Merkle tree, plus the
// `.db/config.json` sidecar tracking replication/sync timestamps.
package bsondb

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/mediavault/engine/internal/collection"
	"github.com/mediavault/engine/internal/engineerr"
	"github.com/mediavault/engine/internal/merkle"
	"github.com/mediavault/engine/internal/storage"
)

const databaseTreePath = ".db/bson/tree.dat"
const configPath = ".db/config.json"

// Config is the persisted `.db/config.json` sidecar.
type Config struct {
	Origin          string     `json:"origin,omitempty"`
	LastReplicatedAt *time.Time `json:"lastReplicatedAt,omitempty"`
	LastSyncedAt     *time.Time `json:"lastSyncedAt,omitempty"`
	LastModifiedAt   *time.Time `json:"lastModifiedAt,omitempty"`
}

// Database is the top-level BSON store: named collections plus their
// rolled-up Merkle tree.
type Database struct {
	st          storage.Storage
	collections map[string]*collection.Collection
	cfg         *Config
}

// Open loads (or lazily initializes) the database's config sidecar. A
// missing config.json is not an error — a brand-new database root has none
// until the first write.
func Open(ctx context.Context, st storage.Storage) (*Database, error) {
	cfg, err := loadConfig(ctx, st)
	if err != nil {
		return nil, err
	}
	return &Database{st: st, collections: map[string]*collection.Collection{}, cfg: cfg}, nil
}

func loadConfig(ctx context.Context, st storage.Storage) (*Config, error) {
	data, err := st.Read(ctx, configPath)
	if err == storage.ErrNotFound {
		return &Config{}, nil
	}
	if err != nil {
		return nil, engineerr.New(engineerr.KindTransient, "bsondb.loadConfig", configPath, err)
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, engineerr.New(engineerr.KindIntegrity, "bsondb.loadConfig", configPath, fmt.Errorf("decode config: %w", err))
	}
	return &cfg, nil
}

func (d *Database) saveConfig(ctx context.Context) error {
	data, err := json.MarshalIndent(d.cfg, "", "  ")
	if err != nil {
		return engineerr.New(engineerr.KindIntegrity, "bsondb.saveConfig", configPath, err)
	}
	if err := d.st.Write(ctx, configPath, "application/json", data); err != nil {
		return engineerr.New(engineerr.KindTransient, "bsondb.saveConfig", configPath, err)
	}
	return nil
}

// Config returns a copy of the current config sidecar.
func (d *Database) Config() Config { return *d.cfg }

// TouchLastModified stamps config.lastModifiedAt and persists it — called by
// mediadb on every import.
func (d *Database) TouchLastModified(ctx context.Context, at time.Time) error {
	d.cfg.LastModifiedAt = &at
	return d.saveConfig(ctx)
}

// TouchLastReplicated stamps config.lastReplicatedAt (destination side of a
// replicate run).
func (d *Database) TouchLastReplicated(ctx context.Context, at time.Time) error {
	d.cfg.LastReplicatedAt = &at
	return d.saveConfig(ctx)
}

// TouchLastSynced stamps config.lastSyncedAt.
func (d *Database) TouchLastSynced(ctx context.Context, at time.Time) error {
	d.cfg.LastSyncedAt = &at
	return d.saveConfig(ctx)
}

// CreateCollection creates and registers a new, empty named collection.
func (d *Database) CreateCollection(ctx context.Context, name string, bucketCount, capacity int) (*collection.Collection, error) {
	if _, ok := d.collections[name]; ok {
		return nil, engineerr.New(engineerr.KindAlreadyExists, "bsondb.CreateCollection", name, fmt.Errorf("collection exists"))
	}
	c, err := collection.Create(ctx, d.st, name, bucketCount, capacity)
	if err != nil {
		return nil, err
	}
	d.collections[name] = c
	if err := d.RebuildDatabaseMerkle(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// Collection returns a named collection, opening it from disk on first
// access if not yet loaded in this process.
func (d *Database) Collection(ctx context.Context, name string) (*collection.Collection, error) {
	if c, ok := d.collections[name]; ok {
		return c, nil
	}
	c, err := collection.Open(ctx, d.st, name)
	if err != nil {
		return nil, err
	}
	d.collections[name] = c
	return c, nil
}

// Collections lists every collection name currently tracked in this process.
// A full on-disk listing requires the caller's Storage.List over
// "collections/" — left to the orchestrator, since bsondb itself has no
// registry file beyond the Merkle tree's leaf names.
func (d *Database) Collections() []string {
	names := make([]string, 0, len(d.collections))
	for n := range d.collections {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// RebuildDatabaseMerkle recomputes the database-level Merkle tree from every
// registered collection's root hash and persists it.
func (d *Database) RebuildDatabaseMerkle(ctx context.Context) error {
	names := d.Collections()
	leaves := make([]*merkle.Node, 0, len(names))
	for _, name := range names {
		c := d.collections[name]
		tree, err := c.LoadCollectionMerkleTree(ctx)
		if err != nil {
			return err
		}
		var rootHash merkle.Hash
		if tree.Root != nil {
			rootHash = tree.Root.Hash
		}
		leaves = append(leaves, merkle.NewLeaf(name, rootHash, 0, time.Time{}))
	}
	tree := merkle.NewTree(leaves)
	data := merkle.Encode(tree)
	if err := d.st.Write(ctx, databaseTreePath, "application/octet-stream", data); err != nil {
		return engineerr.New(engineerr.KindTransient, "bsondb.RebuildDatabaseMerkle", databaseTreePath, err)
	}
	return nil
}

// LoadDatabaseMerkleTree reads the persisted database-level Merkle tree.
func (d *Database) LoadDatabaseMerkleTree(ctx context.Context) (*merkle.Tree, error) {
	data, err := d.st.Read(ctx, databaseTreePath)
	if err != nil {
		if err == storage.ErrNotFound {
			return merkle.NewTree(nil), nil
		}
		return nil, engineerr.New(engineerr.KindTransient, "bsondb.LoadDatabaseMerkleTree", databaseTreePath, err)
	}
	tree, err := merkle.Decode(data)
	if err != nil {
		return nil, engineerr.New(engineerr.KindIntegrity, "bsondb.LoadDatabaseMerkleTree", databaseTreePath, err)
	}
	return tree, nil
}

// RootHash returns the current database Merkle root hash, or the zero hash
// for an empty database.
func (d *Database) RootHash(ctx context.Context) (merkle.Hash, error) {
	tree, err := d.LoadDatabaseMerkleTree(ctx)
	if err != nil {
		return merkle.Hash{}, err
	}
	if tree.Root == nil {
		return merkle.Hash{}, nil
	}
	return tree.Root.Hash, nil
}
