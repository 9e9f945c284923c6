// Package collection implements a named set of shards reachable by a
// bucket-routing function, each with its own Merkle tree, rolled up into
// one collection-level Merkle tree, plus the collection's owned sort
// indices.
package collection

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/mediavault/engine/internal/engineerr"
	"github.com/mediavault/engine/internal/merkle"
	"github.com/mediavault/engine/internal/shard"
	"github.com/mediavault/engine/internal/sortindex"
	"github.com/mediavault/engine/internal/storage"
)

// manifest is the small persisted record of which buckets are currently
// occupied. It lives alongside the shard files themselves, distinct from
// the Merkle tree files under .db/bson/collections/<name>/.
type manifest struct {
	Name        string         `cbor:"name"`
	BucketCount int            `cbor:"bucketCount"`
	Capacity    int            `cbor:"capacity"`
	Buckets     map[int]string `cbor:"buckets"` // bucket index -> shard ID (shard.IDForBucket(bucket))
}

func manifestPath(name string) string {
	return fmt.Sprintf("collections/%s/manifest.dat", name)
}

func shardTreePath(name, shardID string) string {
	return fmt.Sprintf(".db/bson/collections/%s/shards/%s/tree.dat", name, shardID)
}

func collectionTreePath(name string) string {
	return fmt.Sprintf(".db/bson/collections/%s/tree.dat", name)
}

// Collection owns a set of shards and their sort indices.
type Collection struct {
	st  storage.Storage
	man *manifest

	// shardTrees caches each shard's loaded Merkle tree (leaves are
	// (recordId, recordHash)), rebuilt lazily on first touch.
	shardTrees map[string]*merkle.Tree
	indices    map[string]*sortindex.Index // key: field_direction
}

// Create initializes a brand-new, empty collection.
func Create(ctx context.Context, st storage.Storage, name string, bucketCount, capacity int) (*Collection, error) {
	if bucketCount <= 0 {
		bucketCount = shard.DefaultBucketCount
	}
	if capacity <= 0 {
		capacity = shard.DefaultCapacity
	}
	c := &Collection{
		st:         st,
		man:        &manifest{Name: name, BucketCount: bucketCount, Capacity: capacity, Buckets: map[int]string{}},
		shardTrees: map[string]*merkle.Tree{},
		indices:    map[string]*sortindex.Index{},
	}
	if err := c.saveManifest(ctx); err != nil {
		return nil, err
	}
	if err := c.rebuildCollectionMerkle(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// Open loads an existing collection's manifest.
func Open(ctx context.Context, st storage.Storage, name string) (*Collection, error) {
	data, err := st.Read(ctx, manifestPath(name))
	if err != nil {
		if err == storage.ErrNotFound {
			return nil, engineerr.New(engineerr.KindNotFound, "collection.Open", name, err)
		}
		return nil, engineerr.New(engineerr.KindTransient, "collection.Open", name, err)
	}
	var m manifest
	if err := cbor.Unmarshal(data, &m); err != nil {
		return nil, engineerr.New(engineerr.KindIntegrity, "collection.Open", name, fmt.Errorf("decode manifest: %w", err))
	}
	return &Collection{st: st, man: &m, shardTrees: map[string]*merkle.Tree{}, indices: map[string]*sortindex.Index{}}, nil
}

func (c *Collection) Name() string { return c.man.Name }

func (c *Collection) saveManifest(ctx context.Context) error {
	data, err := cbor.Marshal(c.man)
	if err != nil {
		return engineerr.New(engineerr.KindIntegrity, "collection.saveManifest", c.man.Name, err)
	}
	if err := c.st.Write(ctx, manifestPath(c.man.Name), "application/cbor", data); err != nil {
		return engineerr.New(engineerr.KindTransient, "collection.saveManifest", c.man.Name, err)
	}
	return nil
}

func (c *Collection) shardIDFor(recordID string) (string, int, error) {
	bucket, err := shard.Bucket(recordID, c.man.BucketCount)
	if err != nil {
		return "", 0, err
	}
	return c.man.Buckets[bucket], bucket, nil
}

func (c *Collection) loadOrCreateShard(ctx context.Context, recordID string) (*shard.Shard, int, error) {
	shardID, bucket, err := c.shardIDFor(recordID)
	if err != nil {
		return nil, 0, err
	}
	if shardID == "" {
		s := shard.New(bucket, c.man.Capacity)
		c.man.Buckets[bucket] = s.ID
		return s, bucket, nil
	}
	s, err := shard.Load(ctx, c.st, c.man.Name, shardID)
	if err != nil {
		return nil, 0, err
	}
	return s, bucket, nil
}

// GetOne resolves a record's shard and returns the record, if present.
func (c *Collection) GetOne(ctx context.Context, recordID string) (*shard.Record, error) {
	shardID, _, err := c.shardIDFor(recordID)
	if err != nil {
		return nil, err
	}
	if shardID == "" {
		return nil, engineerr.New(engineerr.KindNotFound, "collection.GetOne", recordID, fmt.Errorf("no shard for record"))
	}
	s, err := shard.Load(ctx, c.st, c.man.Name, shardID)
	if err != nil {
		return nil, err
	}
	r, ok := s.Records[recordID]
	if !ok {
		return nil, engineerr.New(engineerr.KindNotFound, "collection.GetOne", recordID, fmt.Errorf("record not in shard"))
	}
	return r, nil
}

// Fields is the update payload for UpdateOne: field path -> new value.
type Fields map[string]interface{}

// UpdateOne loads the record's shard, merges the given fields (stamping
// each touched field's _lastUpdated), saves the shard, updates any sort
// indices whose fields changed, and recomputes the shard/collection Merkle
// roots along the affected path.
func (c *Collection) UpdateOne(ctx context.Context, recordID string, fields Fields, now time.Time) (*shard.Record, error) {
	s, bucket, err := c.loadOrCreateShard(ctx, recordID)
	if err != nil {
		return nil, err
	}

	r, existed := s.Records[recordID]
	if !existed {
		r = shard.NewRecord(recordID)
	}

	old := r.Clone()
	for path, val := range fields {
		r.SetField(path, val, now)
	}
	s.Records[recordID] = r

	if err := c.applySortIndexUpdates(ctx, r, old, existed); err != nil {
		return nil, err
	}

	if err := shard.Save(ctx, c.st, c.man.Name, s); err != nil {
		return nil, err
	}
	c.man.Buckets[bucket] = s.ID
	if err := c.saveManifest(ctx); err != nil {
		return nil, err
	}

	if err := c.rebuildShardMerkle(ctx, s); err != nil {
		return nil, err
	}
	if err := c.rebuildCollectionMerkle(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

// SetInternalRecord writes r verbatim into its shard, preserving the
// caller's _lastUpdated timestamps exactly — used by sync's merge path,
// which has already computed the correct per-field timestamps.
func (c *Collection) SetInternalRecord(ctx context.Context, r *shard.Record) error {
	s, bucket, err := c.loadOrCreateShard(ctx, r.ID)
	if err != nil {
		return err
	}
	old, existed := s.Records[r.ID]
	s.Records[r.ID] = r

	if err := c.applySortIndexUpdates(ctx, r, old, existed); err != nil {
		return err
	}

	if err := shard.Save(ctx, c.st, c.man.Name, s); err != nil {
		return err
	}
	c.man.Buckets[bucket] = s.ID
	if err := c.saveManifest(ctx); err != nil {
		return err
	}
	if err := c.rebuildShardMerkle(ctx, s); err != nil {
		return err
	}
	return c.rebuildCollectionMerkle(ctx)
}

// DeleteOne removes a record from its shard, deleting the shard file
// entirely if it becomes empty.
func (c *Collection) DeleteOne(ctx context.Context, recordID string) error {
	shardID, bucket, err := c.shardIDFor(recordID)
	if err != nil {
		return err
	}
	if shardID == "" {
		return nil
	}
	s, err := shard.Load(ctx, c.st, c.man.Name, shardID)
	if err != nil {
		if k, ok := engineerr.KindOf(err); ok && k == engineerr.KindNotFound {
			return nil
		}
		return err
	}
	old, existed := s.Records[recordID]
	if !existed {
		return nil
	}
	if err := c.applySortIndexUpdates(ctx, nil, old, true); err != nil {
		return err
	}
	delete(s.Records, recordID)

	if len(s.Records) == 0 {
		if err := shard.Delete(ctx, c.st, c.man.Name, s.ID); err != nil {
			return err
		}
		delete(c.man.Buckets, bucket)
		delete(c.shardTrees, s.ID)
		_ = c.st.Delete(ctx, shardTreePath(c.man.Name, s.ID))
	} else {
		if err := shard.Save(ctx, c.st, c.man.Name, s); err != nil {
			return err
		}
		if err := c.rebuildShardMerkle(ctx, s); err != nil {
			return err
		}
	}
	if err := c.saveManifest(ctx); err != nil {
		return err
	}
	return c.rebuildCollectionMerkle(ctx)
}

func (c *Collection) applySortIndexUpdates(ctx context.Context, newRec *shard.Record, oldRec *shard.Record, oldExisted bool) error {
	for key, idx := range c.indices {
		field := idx.Meta().FieldName
		var newVal, oldVal interface{}
		if newRec != nil {
			newVal, _ = newRec.GetField(field)
		}
		if oldExisted && oldRec != nil {
			oldVal, _ = oldRec.GetField(field)
		}
		var recordID string
		if newRec != nil {
			recordID = newRec.ID
		} else {
			recordID = oldRec.ID
		}
		if newVal == nil && oldVal == nil {
			continue
		}
		var err error
		switch {
		case newVal == nil:
			err = idx.DeleteRecord(ctx, recordID, oldVal)
		case oldVal == nil:
			err = idx.AddRecord(ctx, recordID, newVal, nil)
		default:
			err = idx.UpdateRecord(ctx, recordID, newVal, oldVal, nil)
		}
		if err != nil {
			return fmt.Errorf("update sort index %s: %w", key, err)
		}
	}
	return nil
}

// --- Merkle maintenance ---

func (c *Collection) rebuildShardMerkle(ctx context.Context, s *shard.Shard) error {
	ids := make([]string, 0, len(s.Records))
	for id := range s.Records {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	leaves := make([]*merkle.Node, 0, len(ids))
	for _, id := range ids {
		h, err := s.Records[id].Hash()
		if err != nil {
			return err
		}
		leaves = append(leaves, merkle.NewLeaf(id, h, 0, time.Time{}))
	}
	tree := merkle.NewTree(leaves)
	c.shardTrees[s.ID] = tree

	data := merkle.Encode(tree)
	path := shardTreePath(c.man.Name, s.ID)
	if err := c.st.Write(ctx, path, "application/octet-stream", data); err != nil {
		return engineerr.New(engineerr.KindTransient, "collection.rebuildShardMerkle", path, err)
	}
	return nil
}

func (c *Collection) rebuildCollectionMerkle(ctx context.Context) error {
	bucketIDs := make([]string, 0, len(c.man.Buckets))
	for _, shardID := range c.man.Buckets {
		bucketIDs = append(bucketIDs, shardID)
	}
	sort.Strings(bucketIDs)

	leaves := make([]*merkle.Node, 0, len(bucketIDs))
	for _, shardID := range bucketIDs {
		tree, ok := c.shardTrees[shardID]
		if !ok {
			loaded, err := c.LoadShardMerkleTree(ctx, shardID)
			if err != nil {
				return err
			}
			tree = loaded
			c.shardTrees[shardID] = tree
		}
		var rootHash merkle.Hash
		if tree.Root != nil {
			rootHash = tree.Root.Hash
		}
		leaves = append(leaves, merkle.NewLeaf(shardID, rootHash, 0, time.Time{}))
	}
	tree := merkle.NewTree(leaves)

	data := merkle.Encode(tree)
	path := collectionTreePath(c.man.Name)
	if err := c.st.Write(ctx, path, "application/octet-stream", data); err != nil {
		return engineerr.New(engineerr.KindTransient, "collection.rebuildCollectionMerkle", path, err)
	}
	return nil
}

// LoadShardMerkleTree reads a shard's persisted Merkle tree file.
func (c *Collection) LoadShardMerkleTree(ctx context.Context, shardID string) (*merkle.Tree, error) {
	path := shardTreePath(c.man.Name, shardID)
	data, err := c.st.Read(ctx, path)
	if err != nil {
		if err == storage.ErrNotFound {
			return merkle.NewTree(nil), nil
		}
		return nil, engineerr.New(engineerr.KindTransient, "collection.LoadShardMerkleTree", path, err)
	}
	tree, err := merkle.Decode(data)
	if err != nil {
		return nil, engineerr.New(engineerr.KindIntegrity, "collection.LoadShardMerkleTree", path, err)
	}
	return tree, nil
}

// LoadCollectionMerkleTree reads the collection's persisted Merkle tree.
func (c *Collection) LoadCollectionMerkleTree(ctx context.Context) (*merkle.Tree, error) {
	path := collectionTreePath(c.man.Name)
	data, err := c.st.Read(ctx, path)
	if err != nil {
		if err == storage.ErrNotFound {
			return merkle.NewTree(nil), nil
		}
		return nil, engineerr.New(engineerr.KindTransient, "collection.LoadCollectionMerkleTree", path, err)
	}
	tree, err := merkle.Decode(data)
	if err != nil {
		return nil, engineerr.New(engineerr.KindIntegrity, "collection.LoadCollectionMerkleTree", path, err)
	}
	return tree, nil
}

// ShardIDs returns every currently-occupied bucket's shard ID (the bucket
// index as a decimal string, see shard.IDForBucket).
func (c *Collection) ShardIDs() []string {
	out := make([]string, 0, len(c.man.Buckets))
	for _, id := range c.man.Buckets {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// BucketCount returns the collection's fixed bucket count.
func (c *Collection) BucketCount() int { return c.man.BucketCount }

// EnsureSortIndex builds (or loads, if already built) the sort index for
// (field, direction) and registers it with the collection.
func (c *Collection) EnsureSortIndex(ctx context.Context, field string, dir sortindex.Direction, pageSize int) (*sortindex.Index, error) {
	key := field + "_" + string(dir)
	if idx, ok := c.indices[key]; ok {
		return idx, nil
	}

	idx, ok, err := sortindex.Load(ctx, c.st, c.man.Name, field, dir)
	if err != nil {
		return nil, err
	}
	if !ok {
		src := func(ctx context.Context, yield func(string, interface{}, map[string]interface{}) error) error {
			for _, shardID := range c.man.Buckets {
				s, err := shard.Load(ctx, c.st, c.man.Name, shardID)
				if err != nil {
					return err
				}
				for _, r := range s.Records {
					v, ok := r.GetField(field)
					if !ok {
						continue
					}
					if err := yield(r.ID, v, nil); err != nil {
						return err
					}
				}
			}
			return nil
		}
		idx, err = sortindex.Build(ctx, c.st, c.man.Name, field, dir, pageSize, src, nil)
		if err != nil {
			return nil, err
		}
	}
	c.indices[key] = idx
	return idx, nil
}

// DropSortIndex removes a previously ensured sort index.
func (c *Collection) DropSortIndex(ctx context.Context, field string, dir sortindex.Direction) error {
	key := field + "_" + string(dir)
	idx, ok := c.indices[key]
	if !ok {
		loaded, exists, err := sortindex.Load(ctx, c.st, c.man.Name, field, dir)
		if err != nil {
			return err
		}
		if !exists {
			return nil
		}
		idx = loaded
	}
	if err := idx.Delete(ctx); err != nil {
		return err
	}
	delete(c.indices, key)
	return nil
}
