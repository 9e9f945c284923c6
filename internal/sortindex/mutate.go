package sortindex

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/mediavault/engine/internal/engineerr"
)

// minFill is the occupancy fraction below which a leaf merges with a
// neighbor.
const minFill = 0.5

// AddRecord inserts (value, recordId) into the correct leaf, splitting the
// leaf if it overflows PageSize.
func (idx *Index) AddRecord(ctx context.Context, recordID string, value interface{}, view map[string]interface{}) error {
	if err := idx.requireReady("sortindex.AddRecord"); err != nil {
		return err
	}
	if err := idx.checkType(recordID, value); err != nil {
		return err
	}

	pageID, p, err := idx.findLeafFor(ctx, value)
	if err != nil {
		return err
	}

	entry := Entry{Value: value, RecordID: recordID, RecordView: view}
	less := lessFunc(idx.meta.DataType, idx.meta.Direction)
	i := sort.Search(len(p.Entries), func(i int) bool { return !less(p.Entries[i], entry) })
	p.Entries = append(p.Entries, Entry{})
	copy(p.Entries[i+1:], p.Entries[i:])
	p.Entries[i] = entry

	idx.meta.TotalEntries++
	if len(p.Entries) > idx.meta.PageSize {
		if err := idx.splitPage(ctx, p); err != nil {
			return err
		}
	} else {
		if err := idx.savePage(ctx, p); err != nil {
			return err
		}
		idx.updatePageRef(pageID, p)
	}
	return idx.saveMeta(ctx)
}

// UpdateRecord removes the entry for (recordID, old) and re-inserts it at
// new, when the indexed field's value changed.
func (idx *Index) UpdateRecord(ctx context.Context, recordID string, newValue, oldValue interface{}, view map[string]interface{}) error {
	if err := idx.requireReady("sortindex.UpdateRecord"); err != nil {
		return err
	}
	if oldValue != nil {
		if err := idx.DeleteRecord(ctx, recordID, oldValue); err != nil {
			return err
		}
	}
	if newValue == nil {
		return nil
	}
	return idx.AddRecord(ctx, recordID, newValue, view)
}

// DeleteRecord removes the entry for (recordID, oldValue), merging the leaf
// with a neighbor if it drops below minFill.
func (idx *Index) DeleteRecord(ctx context.Context, recordID string, oldValue interface{}) error {
	if err := idx.requireReady("sortindex.DeleteRecord"); err != nil {
		return err
	}

	pageID, p, err := idx.findLeafFor(ctx, oldValue)
	if err != nil {
		return err
	}
	removed := false
	for i, e := range p.Entries {
		if e.RecordID == recordID {
			p.Entries = append(p.Entries[:i], p.Entries[i+1:]...)
			removed = true
			break
		}
	}
	if !removed {
		return engineerr.New(engineerr.KindNotFound, "sortindex.DeleteRecord", recordID, fmt.Errorf("entry not found"))
	}
	idx.meta.TotalEntries--

	if len(p.Entries) == 0 && idx.meta.TotalPages > 1 {
		return idx.removePage(ctx, pageID, p)
	}
	if float64(len(p.Entries)) < float64(idx.meta.PageSize)*minFill && idx.meta.TotalPages > 1 {
		if merged, err := idx.tryMerge(ctx, pageID, p); err != nil {
			return err
		} else if merged {
			return idx.saveMeta(ctx)
		}
	}

	if err := idx.savePage(ctx, p); err != nil {
		return err
	}
	idx.updatePageRef(pageID, p)
	return idx.saveMeta(ctx)
}

func (idx *Index) checkType(recordID string, value interface{}) error {
	dt, err := inferType(value)
	if err != nil {
		return engineerr.New(engineerr.KindTypeMismatch, "sortindex.checkType", recordID, err)
	}
	if idx.meta.DataType == "" {
		idx.meta.DataType = dt
	} else if idx.meta.DataType != dt {
		return engineerr.New(engineerr.KindTypeMismatch, "sortindex.checkType", recordID,
			fmt.Errorf("field %q: expected %s, got %s", idx.meta.FieldName, idx.meta.DataType, dt))
	}
	return nil
}

// findLeafFor scans from the head for the leaf that does, or should, hold
// value (see query.go's walk for why this scans rather than seeks).
func (idx *Index) findLeafFor(ctx context.Context, value interface{}) (string, *Page, error) {
	if idx.meta.HeadPageID == "" {
		p := &Page{ID: newPageID()}
		idx.meta.HeadPageID = p.ID
		idx.meta.TotalPages = 1
		idx.meta.PageIndex = []pageRef{{PageID: p.ID}}
		return p.ID, p, nil
	}

	less := lessFunc(idx.meta.DataType, idx.meta.Direction)
	probe := Entry{Value: value}

	pageID := idx.meta.HeadPageID
	var last *Page
	var lastID string
	for pageID != "" {
		p, err := idx.loadPage(ctx, pageID)
		if err != nil {
			return "", nil, err
		}
		last, lastID = p, pageID
		if p.NextID == "" {
			break
		}
		next, err := idx.loadPage(ctx, p.NextID)
		if err != nil {
			return "", nil, err
		}
		if len(next.Entries) == 0 || !less(next.Entries[0], probe) {
			break
		}
		pageID = p.NextID
	}
	return lastID, last, nil
}

func newPageID() string {
	return uuid.NewString()
}

func (idx *Index) updatePageRef(pageID string, p *Page) {
	for i := range idx.meta.PageIndex {
		if idx.meta.PageIndex[i].PageID == pageID {
			if len(p.Entries) > 0 {
				idx.meta.PageIndex[i].First = p.Entries[0].Value
				idx.meta.PageIndex[i].FirstRec = p.Entries[0].RecordID
			}
			return
		}
	}
}

func (idx *Index) splitPage(ctx context.Context, p *Page) error {
	mid := len(p.Entries) / 2
	right := &Page{ID: newPageID(), Entries: append([]Entry{}, p.Entries[mid:]...), NextID: p.NextID, PrevID: p.ID}
	p.Entries = p.Entries[:mid]
	p.NextID = right.ID

	if right.NextID != "" {
		next, err := idx.loadPage(ctx, right.NextID)
		if err != nil {
			return err
		}
		next.PrevID = right.ID
		if err := idx.savePage(ctx, next); err != nil {
			return err
		}
	}

	if err := idx.savePage(ctx, p); err != nil {
		return err
	}
	if err := idx.savePage(ctx, right); err != nil {
		return err
	}

	idx.meta.TotalPages++
	idx.updatePageRef(p.ID, p)
	idx.insertPageRefAfter(p.ID, right)
	return nil
}

func (idx *Index) insertPageRefAfter(afterID string, p *Page) {
	ref := pageRef{PageID: p.ID}
	if len(p.Entries) > 0 {
		ref.First = p.Entries[0].Value
		ref.FirstRec = p.Entries[0].RecordID
	}
	for i, r := range idx.meta.PageIndex {
		if r.PageID == afterID {
			idx.meta.PageIndex = append(idx.meta.PageIndex, pageRef{})
			copy(idx.meta.PageIndex[i+2:], idx.meta.PageIndex[i+1:])
			idx.meta.PageIndex[i+1] = ref
			return
		}
	}
	idx.meta.PageIndex = append(idx.meta.PageIndex, ref)
}

func (idx *Index) removePageRef(pageID string) {
	for i, r := range idx.meta.PageIndex {
		if r.PageID == pageID {
			idx.meta.PageIndex = append(idx.meta.PageIndex[:i], idx.meta.PageIndex[i+1:]...)
			return
		}
	}
}

// removePage deletes an emptied leaf, relinking its neighbors.
func (idx *Index) removePage(ctx context.Context, pageID string, p *Page) error {
	if p.PrevID != "" {
		prev, err := idx.loadPage(ctx, p.PrevID)
		if err != nil {
			return err
		}
		prev.NextID = p.NextID
		if err := idx.savePage(ctx, prev); err != nil {
			return err
		}
	} else {
		idx.meta.HeadPageID = p.NextID
	}
	if p.NextID != "" {
		next, err := idx.loadPage(ctx, p.NextID)
		if err != nil {
			return err
		}
		next.PrevID = p.PrevID
		if err := idx.savePage(ctx, next); err != nil {
			return err
		}
	}
	path := pagePath(idx.collectionName, idx.meta.FieldName, idx.meta.Direction, pageID)
	_ = idx.st.Delete(ctx, path)

	idx.meta.TotalPages--
	idx.removePageRef(pageID)
	return idx.saveMeta(ctx)
}

// tryMerge merges an under-full leaf into its next neighbor (preferring
// next so the head pointer never needs updating), reporting whether a
// merge happened.
func (idx *Index) tryMerge(ctx context.Context, pageID string, p *Page) (bool, error) {
	if p.NextID == "" {
		return false, nil
	}
	next, err := idx.loadPage(ctx, p.NextID)
	if err != nil {
		return false, err
	}
	if len(p.Entries)+len(next.Entries) > idx.meta.PageSize {
		return false, nil
	}

	p.Entries = append(p.Entries, next.Entries...)
	p.NextID = next.NextID
	if next.NextID != "" {
		after, err := idx.loadPage(ctx, next.NextID)
		if err != nil {
			return false, err
		}
		after.PrevID = p.ID
		if err := idx.savePage(ctx, after); err != nil {
			return false, err
		}
	}
	if err := idx.savePage(ctx, p); err != nil {
		return false, err
	}
	path := pagePath(idx.collectionName, idx.meta.FieldName, idx.meta.Direction, next.ID)
	_ = idx.st.Delete(ctx, path)

	idx.meta.TotalPages--
	idx.removePageRef(next.ID)
	idx.updatePageRef(p.ID, p)
	return true, nil
}
