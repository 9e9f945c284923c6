// Package shard implements the fixed-capacity, CBOR-encoded record map that
// is the engine's unit of on-disk storage for the document side.
package shard

import (
	"fmt"
	"strings"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/mediavault/engine/internal/merkle"
)

// Record is a single document: an immutable _id, arbitrary user fields, and
// a per-field _lastUpdated timestamp map. Every key in Fields must have a
// matching entry in LastUpdated.
type Record struct {
	ID          string                 `cbor:"id"`
	Fields      map[string]interface{} `cbor:"fields"`
	LastUpdated map[string]time.Time   `cbor:"lastUpdated"`
}

// NewRecord creates an empty record with the given id.
func NewRecord(id string) *Record {
	return &Record{ID: id, Fields: map[string]interface{}{}, LastUpdated: map[string]time.Time{}}
}

// SetField walks a dotted path ("user.name"), creating intermediate maps as
// needed, and records ts against the leaf path.
func (r *Record) SetField(path string, value interface{}, ts time.Time) {
	parts := strings.Split(path, ".")
	cur := r.Fields
	for i, p := range parts {
		if i == len(parts)-1 {
			cur[p] = value
			break
		}
		next, ok := cur[p].(map[string]interface{})
		if !ok {
			next = map[string]interface{}{}
			cur[p] = next
		}
		cur = next
	}
	r.LastUpdated[path] = ts
}

// GetField resolves a dotted path against Fields.
func (r *Record) GetField(path string) (interface{}, bool) {
	parts := strings.Split(path, ".")
	var cur interface{} = r.Fields
	for _, p := range parts {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		cur, ok = m[p]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// Validate checks the Record invariant: every top-level field key has a
// matching _lastUpdated entry. Nested paths are validated by construction
// (SetField always stamps the leaf path), so only top-level keys that were
// set by some other means (e.g. SetInternalRecord) are checked here.
func (r *Record) Validate() error {
	for k := range r.Fields {
		if _, ok := r.LastUpdated[k]; !ok {
			if !hasNestedTimestamp(r.LastUpdated, k) {
				return fmt.Errorf("record %s: field %q has no _lastUpdated entry", r.ID, k)
			}
		}
	}
	return nil
}

func hasNestedTimestamp(lastUpdated map[string]time.Time, prefix string) bool {
	for k := range lastUpdated {
		if k == prefix || strings.HasPrefix(k, prefix+".") {
			return true
		}
	}
	return false
}

// Clone deep-copies a record (used by merge, which must not mutate its
// inputs).
func (r *Record) Clone() *Record {
	out := NewRecord(r.ID)
	out.Fields = cloneValue(r.Fields).(map[string]interface{})
	for k, v := range r.LastUpdated {
		out.LastUpdated[k] = v
	}
	return out
}

func cloneValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, vv := range t {
			out[k] = cloneValue(vv)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, vv := range t {
			out[i] = cloneValue(vv)
		}
		return out
	default:
		return v
	}
}

// Hash computes the record's content hash for the shard Merkle tree: the
// CBOR encoding of the record, hashed with SHA-256. Map key order in CBOR
// (canonical mode) is deterministic, so two records with identical content
// hash identically regardless of field insertion order.
func (r *Record) Hash() (merkle.Hash, error) {
	encoded, err := canonicalEncMode.Marshal(r)
	if err != nil {
		return merkle.Hash{}, fmt.Errorf("encode record %s for hashing: %w", r.ID, err)
	}
	return merkle.HashBytes(encoded), nil
}

var canonicalEncMode = mustCanonicalMode()

func mustCanonicalMode() cbor.EncMode {
	opts := cbor.CanonicalEncOptions()
	mode, err := opts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("shard: building canonical CBOR mode: %v", err))
	}
	return mode
}
