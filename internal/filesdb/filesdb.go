// Package filesdb implements the database's File MerkleTree: the database's
// identity (a fresh UUID minted at creation) plus the sorted-leaf Merkle
// tree over the binary content files (asset/display/thumb blobs) tracked by
// name, persisted at `.db/files.dat`. Shard files are not leaves of this
// tree; they are covered by the collection-level Merkle trees.
package filesdb

import (
	"context"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"

	"github.com/mediavault/engine/internal/engineerr"
	"github.com/mediavault/engine/internal/merkle"
	"github.com/mediavault/engine/internal/storage"
)

const filesTreePath = ".db/files.dat"

// Metadata is the File MerkleTree's small header, persisted alongside the
// tree in the same file.
type Metadata struct {
	ID            string `cbor:"id"`
	FilesImported int    `cbor:"filesImported"`
	IsPartial     bool   `cbor:"isPartial,omitempty"`
}

// FilesDB wraps a merkle.Tree with its database-identity metadata.
type FilesDB struct {
	st   storage.Storage
	Meta Metadata
	Tree *merkle.Tree
}

type onDisk struct {
	Meta Metadata `cbor:"meta"`
	Tree []byte   `cbor:"tree"`
}

// Create mints a fresh database identity and writes an empty files tree.
func Create(ctx context.Context, st storage.Storage, isPartial bool) (*FilesDB, error) {
	f := &FilesDB{
		st:   st,
		Meta: Metadata{ID: uuid.NewString(), IsPartial: isPartial},
		Tree: merkle.NewTree(nil),
	}
	if err := f.save(ctx); err != nil {
		return nil, err
	}
	return f, nil
}

// Load reads the persisted files tree. ok is false when no database has
// been created yet at this storage root.
func Load(ctx context.Context, st storage.Storage) (f *FilesDB, ok bool, err error) {
	data, readErr := st.Read(ctx, filesTreePath)
	if readErr == storage.ErrNotFound {
		return nil, false, nil
	}
	if readErr != nil {
		return nil, false, engineerr.New(engineerr.KindTransient, "filesdb.Load", filesTreePath, readErr)
	}
	var rec onDisk
	if err := cbor.Unmarshal(data, &rec); err != nil {
		return nil, false, engineerr.New(engineerr.KindIntegrity, "filesdb.Load", filesTreePath, fmt.Errorf("decode files.dat: %w", err))
	}
	tree, err := merkle.Decode(rec.Tree)
	if err != nil {
		return nil, false, engineerr.New(engineerr.KindIntegrity, "filesdb.Load", filesTreePath, err)
	}
	return &FilesDB{st: st, Meta: rec.Meta, Tree: tree}, true, nil
}

// OrCreate loads an existing files tree or creates a fresh one.
func OrCreate(ctx context.Context, st storage.Storage, isPartial bool) (f *FilesDB, created bool, err error) {
	f, ok, err := Load(ctx, st)
	if err != nil {
		return nil, false, err
	}
	if ok {
		return f, false, nil
	}
	f, err = Create(ctx, st, isPartial)
	return f, true, err
}

func (f *FilesDB) save(ctx context.Context) error {
	rec := onDisk{Meta: f.Meta, Tree: merkle.Encode(f.Tree)}
	data, err := cbor.Marshal(rec)
	if err != nil {
		return engineerr.New(engineerr.KindIntegrity, "filesdb.save", filesTreePath, err)
	}
	if err := f.st.Write(ctx, filesTreePath, "application/cbor", data); err != nil {
		return engineerr.New(engineerr.KindTransient, "filesdb.save", filesTreePath, err)
	}
	return nil
}

// Save persists the current tree and metadata. Exported so replicate/repair
// can flush periodically during a long walk.
func (f *FilesDB) Save(ctx context.Context) error { return f.save(ctx) }

// AddLeaf records a new file's content hash/size/modified time and persists.
func (f *FilesDB) AddLeaf(ctx context.Context, name string, contentHash merkle.Hash, size int64, lastModified time.Time) error {
	n := merkle.NewLeaf(name, contentHash, size, lastModified)
	if err := merkle.AddItem(f.Tree, n); err != nil {
		return engineerr.New(engineerr.KindAlreadyExists, "filesdb.AddLeaf", name, err)
	}
	f.Meta.FilesImported++
	f.Tree.Rebuild()
	return f.save(ctx)
}

// UpsertLeaf inserts or replaces name's leaf, for repair/replicate paths
// that overwrite a file in place.
func (f *FilesDB) UpsertLeaf(ctx context.Context, name string, contentHash merkle.Hash, size int64, lastModified time.Time) error {
	n := merkle.NewLeaf(name, contentHash, size, lastModified)
	merkle.UpsertItem(f.Tree, n)
	f.Tree.Rebuild()
	return f.save(ctx)
}

// PruneLeaf removes a file's leaf (used by replicate when deleting
// destination-only extras).
func (f *FilesDB) PruneLeaf(ctx context.Context, name string) error {
	merkle.PruneTree(f.Tree, name)
	f.Tree.Rebuild()
	return f.save(ctx)
}

// Find returns name's leaf node, if present.
func (f *FilesDB) Find(name string) (*merkle.Node, bool) {
	return f.Tree.Find(name)
}
