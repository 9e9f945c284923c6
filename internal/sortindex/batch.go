package sortindex

import "context"

type pendingOp int

const (
	opAdd pendingOp = iota
	opUpdate
	opDelete
)

type pendingChange struct {
	op       pendingOp
	recordID string
	newValue interface{}
	oldValue interface{}
	view     map[string]interface{}
}

// BatchSortIndex accumulates AddRecord/UpdateRecord/DeleteRecord calls in
// memory until CommitChanges applies them. The index is not touched before
// the commit; the commit itself does not coalesce writes (see
// CommitChanges).
type BatchSortIndex struct {
	idx     *Index
	pending []pendingChange
}

// NewBatch wraps idx for batched mutation.
func NewBatch(idx *Index) *BatchSortIndex {
	return &BatchSortIndex{idx: idx}
}

func (b *BatchSortIndex) AddRecord(recordID string, value interface{}, view map[string]interface{}) {
	b.pending = append(b.pending, pendingChange{op: opAdd, recordID: recordID, newValue: value, view: view})
}

func (b *BatchSortIndex) UpdateRecord(recordID string, newValue, oldValue interface{}, view map[string]interface{}) {
	b.pending = append(b.pending, pendingChange{op: opUpdate, recordID: recordID, newValue: newValue, oldValue: oldValue, view: view})
}

func (b *BatchSortIndex) DeleteRecord(recordID string, oldValue interface{}) {
	b.pending = append(b.pending, pendingChange{op: opDelete, recordID: recordID, oldValue: oldValue})
}

// CommitChanges applies the pending changes in order through the index's own
// AddRecord/UpdateRecord/DeleteRecord, so each change writes its leaf pages
// and the meta file as it does on the non-batched path; pages and meta are
// not flushed once for the whole batch. It stops at the first error, and
// the pending list is cleared only after every change succeeded.
func (b *BatchSortIndex) CommitChanges(ctx context.Context) error {
	for _, c := range b.pending {
		var err error
		switch c.op {
		case opAdd:
			err = b.idx.AddRecord(ctx, c.recordID, c.newValue, c.view)
		case opUpdate:
			err = b.idx.UpdateRecord(ctx, c.recordID, c.newValue, c.oldValue, c.view)
		case opDelete:
			err = b.idx.DeleteRecord(ctx, c.recordID, c.oldValue)
		}
		if err != nil {
			return err
		}
	}
	b.pending = b.pending[:0]
	return nil
}
