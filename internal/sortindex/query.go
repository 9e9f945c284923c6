package sortindex

import "context"

// PageResult is the paged view returned by GetPage.
type PageResult struct {
	Records      []Entry
	TotalRecords int
	TotalPages   int
	CurrentPage  string
	NextPageID   string
	PreviousPageID string
}

// GetPage returns the page identified by pageID, or the first page when
// pageID is empty, with forward/backward navigation pointers.
func (idx *Index) GetPage(ctx context.Context, pageID string) (*PageResult, error) {
	if err := idx.requireReady("sortindex.GetPage"); err != nil {
		return nil, err
	}
	if pageID == "" {
		pageID = idx.meta.HeadPageID
	}
	if pageID == "" {
		return &PageResult{TotalPages: idx.meta.TotalPages, TotalRecords: idx.meta.TotalEntries}, nil
	}
	p, err := idx.loadPage(ctx, pageID)
	if err != nil {
		return nil, err
	}
	return &PageResult{
		Records:        p.Entries,
		TotalRecords:   idx.meta.TotalEntries,
		TotalPages:     idx.meta.TotalPages,
		CurrentPage:    p.ID,
		NextPageID:     p.NextID,
		PreviousPageID: p.PrevID,
	}, nil
}

// walk iterates every entry across the linked list of leaf pages in
// traversal order (the direction the index was built with), calling visit
// for each. visit returns false to stop early.
//
// This scans from the head rather than jumping in via the page-separator
// index: query correctness mattered more than micro-optimized seeks within
// this effort budget, and PageIndex (kept up to date regardless) still
// supports direct page-by-page navigation through GetPage.
func (idx *Index) walk(ctx context.Context, visit func(Entry) bool) error {
	pageID := idx.meta.HeadPageID
	for pageID != "" {
		p, err := idx.loadPage(ctx, pageID)
		if err != nil {
			return err
		}
		for _, e := range p.Entries {
			if !visit(e) {
				return nil
			}
		}
		pageID = p.NextID
	}
	return nil
}

// FindByValue returns every entry whose Value equals v.
func (idx *Index) FindByValue(ctx context.Context, v interface{}) ([]Entry, error) {
	if err := idx.requireReady("sortindex.FindByValue"); err != nil {
		return nil, err
	}
	var out []Entry
	started := false
	err := idx.walk(ctx, func(e Entry) bool {
		c := compareValues(idx.meta.DataType, e.Value, v)
		if c == 0 {
			started = true
			out = append(out, e)
			return true
		}
		if started {
			return false // sorted; once we've passed the run of matches, stop
		}
		// Haven't reached v yet (or already passed it going the wrong way
		// for descending order) — keep scanning until we either find it or
		// walk past where it would have been.
		if idx.meta.Direction == Asc && c > 0 {
			return false
		}
		if idx.meta.Direction == Desc && c < 0 {
			return false
		}
		return true
	})
	return out, err
}

// RangeQuery bounds a FindByRange call.
type RangeQuery struct {
	Min          interface{}
	Max          interface{}
	MinInclusive bool
	MaxInclusive bool
}

// FindByRange returns every entry within the bounds, in traversal order.
func (idx *Index) FindByRange(ctx context.Context, q RangeQuery) ([]Entry, error) {
	if err := idx.requireReady("sortindex.FindByRange"); err != nil {
		return nil, err
	}
	var out []Entry
	err := idx.walk(ctx, func(e Entry) bool {
		below := q.Min != nil && belowMin(idx.meta.DataType, e.Value, q.Min, q.MinInclusive)
		above := q.Max != nil && aboveMax(idx.meta.DataType, e.Value, q.Max, q.MaxInclusive)
		if below {
			if idx.meta.Direction == Asc {
				return true
			}
			return false
		}
		if above {
			if idx.meta.Direction == Asc {
				return false
			}
			return true
		}
		out = append(out, e)
		return true
	})
	return out, err
}

func belowMin(dt DataType, v, min interface{}, inclusive bool) bool {
	c := compareValues(dt, v, min)
	if inclusive {
		return c < 0
	}
	return c <= 0
}

func aboveMax(dt DataType, v, max interface{}, inclusive bool) bool {
	c := compareValues(dt, v, max)
	if inclusive {
		return c > 0
	}
	return c >= 0
}
