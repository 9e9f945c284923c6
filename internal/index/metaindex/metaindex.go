// Package metaindex is an optional badgerhold-backed secondary index over
// imported-record metadata. It is standalone: mediadb.GetDatabaseSummary and
// the CLI do not read or update it. Grounded on the teacher's
// lib/stores/badgerhold (cbor-encoded badgerhold.Store, struct-tag indices).
package metaindex

import (
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/timshannon/badgerhold/v4"
)

func cborEncode(value interface{}) ([]byte, error) { return cbor.Marshal(value) }
func cborDecode(data []byte, value interface{}) error { return cbor.Unmarshal(data, value) }

// AssetRecord is the denormalized view kept per imported asset, indexed by
// mime type and import time for cheap summary/listing queries.
type AssetRecord struct {
	RecordID   string    `boltholdKey:"RecordID"`
	Collection string    `boltholdIndex:"Collection"`
	MimeType   string    `boltholdIndex:"MimeType"`
	ImportedAt time.Time `boltholdIndex:"ImportedAt"`
	Size       int64
}

// Index wraps a badgerhold store dedicated to AssetRecord lookups.
type Index struct {
	store *badgerhold.Store
}

// Open opens (or creates) the badgerhold store rooted at dir.
func Open(dir string) (*Index, error) {
	opts := badgerhold.DefaultOptions
	opts.Encoder = cborEncode
	opts.Decoder = cborDecode
	opts.Dir = dir
	opts.ValueDir = dir

	store, err := badgerhold.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("metaindex: open %s: %w", dir, err)
	}
	return &Index{store: store}, nil
}

// Close releases the underlying badger handles.
func (i *Index) Close() error { return i.store.Close() }

// Upsert inserts or replaces an asset's summary entry.
func (i *Index) Upsert(rec AssetRecord) error {
	return i.store.Upsert(rec.RecordID, rec)
}

// Delete removes an asset's summary entry.
func (i *Index) Delete(recordID string) error {
	return i.store.Delete(recordID, AssetRecord{})
}

// Summary is the aggregate GetDatabaseSummary reads from the index.
type Summary struct {
	TotalImports int
	TotalFiles   int // 3 derivatives per import (asset+display+thumb)
	TotalSize    int64
}

// Summarize scans every indexed asset and totals counts/size.
func (i *Index) Summarize() (Summary, error) {
	var recs []AssetRecord
	if err := i.store.Find(&recs, badgerhold.Where("MimeType").Ne("")); err != nil && err != badgerhold.ErrNotFound {
		return Summary{}, fmt.Errorf("metaindex: summarize: %w", err)
	}
	s := Summary{TotalImports: len(recs), TotalFiles: len(recs) * 3}
	for _, r := range recs {
		s.TotalSize += r.Size
	}
	return s, nil
}

// ByCollection lists every indexed asset belonging to a given collection.
func (i *Index) ByCollection(collection string) ([]AssetRecord, error) {
	var recs []AssetRecord
	err := i.store.Find(&recs, badgerhold.Where("Collection").Eq(collection).SortBy("ImportedAt"))
	if err != nil && err != badgerhold.ErrNotFound {
		return nil, fmt.Errorf("metaindex: by collection %s: %w", collection, err)
	}
	return recs, nil
}

// ByMimeType lists every indexed asset of a given MIME type.
func (i *Index) ByMimeType(mime string) ([]AssetRecord, error) {
	var recs []AssetRecord
	err := i.store.Find(&recs, badgerhold.Where("MimeType").Eq(mime))
	if err != nil && err != badgerhold.ErrNotFound {
		return nil, fmt.Errorf("metaindex: by mime type %s: %w", mime, err)
	}
	return recs, nil
}
