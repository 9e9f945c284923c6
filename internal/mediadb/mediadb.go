// Package mediadb implements the top-level orchestrator: addFile and
// getDatabaseSummary, wiring together filesdb, bsondb, collection, and the
// hash cache. Grounded on the teacher's upload pipeline shape
// (lib/handlers/scionic/upload/upload.go: validate -> store leaf -> update
// indices) and lib/stores/statistics's precomputed roll-up summary.
package mediadb

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"github.com/mediavault/engine/internal/bsondb"
	"github.com/mediavault/engine/internal/collection"
	"github.com/mediavault/engine/internal/engine"
	"github.com/mediavault/engine/internal/engineerr"
	"github.com/mediavault/engine/internal/filesdb"
	"github.com/mediavault/engine/internal/hashcache"
	"github.com/mediavault/engine/internal/merkle"
	"github.com/mediavault/engine/internal/sortindex"
	"github.com/mediavault/engine/internal/storage"
)

const metadataCollection = "metadata"

// Opener lazily provides a file's bytes, deferred until after the hash-cache
// lookup has had a chance to skip the read entirely.
type Opener func(ctx context.Context) (io.ReadCloser, error)

// Collaborators bundles every external collaborator AddFile needs.
type Collaborators struct {
	Cache       *hashcache.Cache
	UUIDs       engine.UuidGenerator
	Clock       engine.TimestampProvider
	Tooling     engine.MediaTooling
	Validator   engine.Validator
	Thumbnailer engine.Thumbnailer
	Progress    engine.ProgressFunc // optional
}

// MediaDB is the orchestrator tying the files tree and the "metadata"
// collection together.
type MediaDB struct {
	st    storage.Storage
	files *filesdb.FilesDB
	db    *bsondb.Database
	coll  *collection.Collection
	col   Collaborators
}

// Open loads (or creates) the files tree and BSON database rooted at st, and
// ensures the "metadata" collection exists.
func Open(ctx context.Context, st storage.Storage, col Collaborators, bucketCount, capacity int) (*MediaDB, error) {
	files, _, err := filesdb.OrCreate(ctx, st, false)
	if err != nil {
		return nil, err
	}
	db, err := bsondb.Open(ctx, st)
	if err != nil {
		return nil, err
	}
	coll, err := db.Collection(ctx, metadataCollection)
	if err != nil {
		if k, ok := engineerr.KindOf(err); !ok || k != engineerr.KindNotFound {
			return nil, err
		}
		coll, err = db.CreateCollection(ctx, metadataCollection, bucketCount, capacity)
		if err != nil {
			return nil, err
		}
	}
	return &MediaDB{st: st, files: files, db: db, coll: coll, col: col}, nil
}

func (m *MediaDB) progress(msg string) {
	if m.col.Progress != nil {
		m.col.Progress(msg)
	}
}

// AddFileResult reports what AddFile did.
type AddFileResult struct {
	RecordID string
	Deduped  bool // true if an identical-hash record already existed
}

// AddFile implements addFile: consult the hash cache to skip
// re-hashing unchanged files, dedupe against the metadata collection by
// content hash, validate, derive thumb/display, write three content blobs,
// record four new state changes (files Merkle + metadata record), and touch
// config.lastModifiedAt.
func (m *MediaDB) AddFile(ctx context.Context, path string, size int64, modTime time.Time, contentType string, open Opener) (*AddFileResult, error) {
	h, err := m.resolveHash(ctx, path, size, modTime, open)
	if err != nil {
		return nil, err
	}

	if existingID, found, err := m.findByHash(ctx, h); err != nil {
		return nil, err
	} else if found {
		m.progress(fmt.Sprintf("skip duplicate %s (hash already imported as %s)", path, existingID))
		return &AddFileResult{RecordID: existingID, Deduped: true}, nil
	}

	rc, err := open(ctx)
	if err != nil {
		return nil, engineerr.New(engineerr.KindTransient, "mediadb.AddFile", path, err)
	}
	defer rc.Close()
	assetBytes, err := io.ReadAll(rc)
	if err != nil {
		return nil, engineerr.New(engineerr.KindTransient, "mediadb.AddFile", path, fmt.Errorf("read file: %w", err))
	}

	mime := contentType
	if mime == "" {
		mime = mimetype.Detect(assetBytes).String()
	}

	info, err := m.col.Tooling.GetFileInfo(ctx, path, mime)
	if err != nil {
		return nil, engineerr.New(engineerr.KindIntegrity, "mediadb.AddFile", path, fmt.Errorf("get file info: %w", err))
	}
	if err := m.col.Validator.Validate(ctx, path, mime, info); err != nil {
		return nil, engineerr.New(engineerr.KindIntegrity, "mediadb.AddFile", path, fmt.Errorf("validate: %w", err))
	}
	derivatives, err := m.col.Thumbnailer.Derive(ctx, assetBytes, mime)
	if err != nil {
		return nil, engineerr.New(engineerr.KindTransient, "mediadb.AddFile", path, fmt.Errorf("derive thumbnails: %w", err))
	}

	id := m.col.UUIDs.Generate()
	assetName := fmt.Sprintf("asset/%s", id)
	displayName := fmt.Sprintf("display/%s", id)
	thumbName := fmt.Sprintf("thumb/%s", id)

	if err := m.writeBlob(ctx, assetName, mime, assetBytes, h); err != nil {
		return nil, err
	}
	displayHash := merkle.HashBytes(derivatives.Display)
	if err := m.writeBlob(ctx, displayName, mime, derivatives.Display, displayHash); err != nil {
		return nil, err
	}
	thumbHash := merkle.HashBytes(derivatives.Thumb)
	if err := m.writeBlob(ctx, thumbName, mime, derivatives.Thumb, thumbHash); err != nil {
		return nil, err
	}

	now := time.UnixMilli(m.col.Clock.Now())
	fields := collection.Fields{
		"hash":        fmt.Sprintf("%x", h),
		"mimeType":    mime,
		"size":        size,
		"assetPath":   assetName,
		"displayPath": displayName,
		"thumbPath":   thumbName,
		"importedAt":  now,
	}
	if _, err := m.coll.UpdateOne(ctx, id, fields, now); err != nil {
		return nil, err
	}

	if err := m.db.RebuildDatabaseMerkle(ctx); err != nil {
		return nil, err
	}
	if err := m.db.TouchLastModified(ctx, now); err != nil {
		return nil, err
	}

	m.progress(fmt.Sprintf("imported %s as %s", path, id))
	return &AddFileResult{RecordID: id}, nil
}

func (m *MediaDB) writeBlob(ctx context.Context, name, contentType string, data []byte, h merkle.Hash) error {
	if err := m.st.Write(ctx, name, contentType, data); err != nil {
		return engineerr.New(engineerr.KindTransient, "mediadb.writeBlob", name, err)
	}
	return m.files.AddLeaf(ctx, name, h, int64(len(data)), time.Now())
}

func (m *MediaDB) resolveHash(ctx context.Context, path string, size int64, modTime time.Time, open Opener) (merkle.Hash, error) {
	if m.col.Cache != nil {
		if h, ok, err := m.col.Cache.Lookup(path, size, modTime.UnixNano()); err == nil && ok {
			return h, nil
		}
	}

	rc, err := open(ctx)
	if err != nil {
		return merkle.Hash{}, engineerr.New(engineerr.KindTransient, "mediadb.resolveHash", path, err)
	}
	defer rc.Close()

	h, err := merkle.HashStream(rc)
	if err != nil {
		return merkle.Hash{}, engineerr.New(engineerr.KindIntegrity, "mediadb.resolveHash", path, err)
	}
	if m.col.Cache != nil {
		_ = m.col.Cache.Store(path, size, modTime.UnixNano(), h)
	}
	return h, nil
}

// findByHash looks up an existing metadata record by its content hash, using
// a sort index over the "hash" field, built lazily on first use.
func (m *MediaDB) findByHash(ctx context.Context, h merkle.Hash) (string, bool, error) {
	idx, err := m.coll.EnsureSortIndex(ctx, "hash", sortindex.Asc, sortindex.DefaultPageSize)
	if err != nil {
		return "", false, err
	}
	entries, err := idx.FindByValue(ctx, fmt.Sprintf("%x", h))
	if err != nil {
		return "", false, err
	}
	if len(entries) == 0 {
		return "", false, nil
	}
	return entries[0].RecordID, true, nil
}

// Summary is getDatabaseSummary's result.
type Summary struct {
	TotalImports int
	TotalFiles   int
	TotalSize    int64
}

// GetDatabaseSummary walks the metadata collection's shards, totaling
// imports, files (3 derivatives each), and bytes. Callers with a
// metaindex.Index wired in should prefer its precomputed Summarize instead;
// this path works from the collection alone, without requiring the
// optional secondary index.
func (m *MediaDB) GetDatabaseSummary(ctx context.Context) (Summary, error) {
	s := Summary{}
	for _, shardID := range m.coll.ShardIDs() {
		tree, err := m.coll.LoadShardMerkleTree(ctx, shardID)
		if err != nil {
			return Summary{}, err
		}
		s.TotalImports += len(tree.Leaves)
	}
	s.TotalFiles = s.TotalImports * 3

	assetNames, err := m.st.List(ctx, "asset/")
	if err != nil {
		return Summary{}, engineerr.New(engineerr.KindTransient, "mediadb.GetDatabaseSummary", "asset/", err)
	}
	for _, name := range assetNames {
		info, err := m.st.Info(ctx, name)
		if err != nil {
			return Summary{}, engineerr.New(engineerr.KindTransient, "mediadb.GetDatabaseSummary", name, err)
		}
		s.TotalSize += info.Length
	}
	return s, nil
}
