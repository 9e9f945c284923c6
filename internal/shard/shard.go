package shard

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"

	"github.com/mediavault/engine/internal/engineerr"
	"github.com/mediavault/engine/internal/storage"
)

// DefaultCapacity is the typical fixed per-shard record capacity bound.
const DefaultCapacity = 1000

// DefaultBucketCount is the typical fixed bucket count N used by Bucket.
const DefaultBucketCount = 64

// Shard is a single-file partition of a collection: a bucket-derived
// identity and a bounded map of recordId -> Record. ID is the decimal
// string form of the bucket index (see Bucket) so that two independently
// created replicas holding the same logical bucket always name it the
// same way — the identity is a pure function of the bucket, not of when
// or where the shard was created.
type Shard struct {
	ID       string             `cbor:"id"`
	Records  map[string]*Record `cbor:"records"`
	Capacity int                `cbor:"-"`
}

// New creates an empty shard for the given bucket index.
func New(bucket, capacity int) *Shard {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Shard{ID: IDForBucket(bucket), Records: map[string]*Record{}, Capacity: capacity}
}

// IDForBucket returns the deterministic shard identity for a bucket index.
func IDForBucket(bucket int) string {
	return fmt.Sprintf("%d", bucket)
}

// Full reports whether the shard has reached its capacity bound.
func (s *Shard) Full() bool {
	return len(s.Records) >= s.Capacity
}

// Bucket computes the record-to-bucket routing function: the first 4 bytes
// of the record's UUID, read big-endian, modulo bucketCount. This is a
// pure, stable, publicly observable mapping from record ID to bucket
// index, and IDForBucket turns a bucket index into the shard's on-disk
// identity directly, so the same record always lands in the same shard
// name on every replica.
func Bucket(recordID string, bucketCount int) (int, error) {
	id, err := uuid.Parse(recordID)
	if err != nil {
		return 0, fmt.Errorf("shard: record id %q is not a uuid: %w", recordID, err)
	}
	if bucketCount <= 0 {
		bucketCount = DefaultBucketCount
	}
	raw := id[:4]
	n := binary.BigEndian.Uint32(raw)
	return int(n % uint32(bucketCount)), nil
}

// Path returns the on-disk path of a shard file within a collection:
// collections/<name>/shards/<shardId>.
func Path(collectionName, shardID string) string {
	return fmt.Sprintf("collections/%s/shards/%s", collectionName, shardID)
}

// Load reads and decodes a shard file. A missing shard is reported via
// engineerr.NotFound so callers can distinguish "not yet created" from a
// real I/O failure.
func Load(ctx context.Context, st storage.Storage, collectionName, shardID string) (*Shard, error) {
	path := Path(collectionName, shardID)
	data, err := st.Read(ctx, path)
	if err != nil {
		if err == storage.ErrNotFound {
			return nil, engineerr.New(engineerr.KindNotFound, "shard.Load", path, err)
		}
		return nil, engineerr.New(engineerr.KindTransient, "shard.Load", path, err)
	}
	var s Shard
	if err := cbor.Unmarshal(data, &s); err != nil {
		return nil, engineerr.New(engineerr.KindIntegrity, "shard.Load", path, fmt.Errorf("decode shard: %w", err))
	}
	if s.Capacity == 0 {
		s.Capacity = DefaultCapacity
	}
	return &s, nil
}

// Save writes the shard through st.Write. Whether the file is replaced
// atomically depends on the backend (the local backend writes a temp file
// and renames it over the target); Save does not check or log it.
func Save(ctx context.Context, st storage.Storage, collectionName string, s *Shard) error {
	data, err := cbor.Marshal(s)
	if err != nil {
		return engineerr.New(engineerr.KindIntegrity, "shard.Save", s.ID, fmt.Errorf("encode shard: %w", err))
	}
	path := Path(collectionName, s.ID)
	if err := st.Write(ctx, path, "application/cbor", data); err != nil {
		return engineerr.New(engineerr.KindTransient, "shard.Save", path, err)
	}
	return nil
}

// Delete removes a now-empty shard's file.
func Delete(ctx context.Context, st storage.Storage, collectionName, shardID string) error {
	path := Path(collectionName, shardID)
	if err := st.Delete(ctx, path); err != nil {
		return engineerr.New(engineerr.KindTransient, "shard.Delete", path, err)
	}
	return nil
}
