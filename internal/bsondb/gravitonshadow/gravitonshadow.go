// Package gravitonshadow mirrors a database's Merkle root into a graviton
// tree each time RecordRoot is called (`mediactl inspect --record`), giving
// `mediactl inspect --at` point-in-time access to those recorded roots
// without re-walking collections. Optional: a
// database works without it, this is a read-side convenience.
//
// Grounded on the teacher's lib/stores/graviton.GravitonStore.InitStore
// snapshot/tree/commit dance.
package gravitonshadow

import (
	"fmt"

	"github.com/deroproject/graviton"
)

const treeName = "db_roots"

// Shadow wraps a graviton disk store dedicated to root-hash history.
type Shadow struct {
	db *graviton.Store
}

// Open opens (creating if absent) the graviton store at basepath.
func Open(basepath string) (*Shadow, error) {
	db, err := graviton.NewDiskStore(basepath)
	if err != nil {
		return nil, fmt.Errorf("gravitonshadow: open %s: %w", basepath, err)
	}
	snapshot, err := db.LoadSnapshot(0)
	if err != nil {
		return nil, fmt.Errorf("gravitonshadow: load snapshot: %w", err)
	}
	tree, err := snapshot.GetTree(treeName)
	if err != nil {
		return nil, fmt.Errorf("gravitonshadow: get tree: %w", err)
	}
	if _, err := graviton.Commit(tree); err != nil {
		return nil, fmt.Errorf("gravitonshadow: initial commit: %w", err)
	}
	return &Shadow{db: db}, nil
}

// RecordRoot stores rootHash under a fresh commit and returns the resulting
// graviton snapshot version, which RootAt later loads by number.
func (s *Shadow) RecordRoot(rootHash [32]byte) (uint64, error) {
	snapshot, err := s.db.LoadSnapshot(0)
	if err != nil {
		return 0, fmt.Errorf("gravitonshadow: load snapshot: %w", err)
	}
	tree, err := snapshot.GetTree(treeName)
	if err != nil {
		return 0, fmt.Errorf("gravitonshadow: get tree: %w", err)
	}
	if err := tree.Put(rootKeyMarker, rootHash[:]); err != nil {
		return 0, fmt.Errorf("gravitonshadow: put: %w", err)
	}
	version, err := graviton.Commit(tree)
	if err != nil {
		return 0, fmt.Errorf("gravitonshadow: commit: %w", err)
	}
	return version, nil
}

// RootAt returns the database root hash recorded at a given graviton commit
// version, for `mediactl inspect --at`.
func (s *Shadow) RootAt(version uint64) ([32]byte, bool, error) {
	snapshot, err := s.db.LoadSnapshot(version)
	if err != nil {
		return [32]byte{}, false, fmt.Errorf("gravitonshadow: load snapshot %d: %w", version, err)
	}
	tree, err := snapshot.GetTree(treeName)
	if err != nil {
		return [32]byte{}, false, fmt.Errorf("gravitonshadow: get tree: %w", err)
	}
	value, err := tree.Get(rootKeyMarker)
	if err != nil {
		return [32]byte{}, false, nil
	}
	var out [32]byte
	copy(out[:], value)
	return out, true, nil
}

var rootKeyMarker = []byte("root")

// Close releases the underlying graviton store.
func (s *Shadow) Close() {
	s.db.Close()
}
