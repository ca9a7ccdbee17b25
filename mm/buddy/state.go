package buddy

import (
	"fmt"
	"sort"

	"github.com/joshuapare/pagekit/mm"
)

// DumpState returns every free list, order 0 first. Read-only.
func (a *Allocator) DumpState() []FreeArea {
	areas := make([]FreeArea, len(a.heads))
	for order := range a.heads {
		areas[order].Order = order
		a.walk(order, func(f mm.Frame, _ *mm.Page) {
			areas[order].Frames = append(areas[order].Frames, f)
		})
	}
	return areas
}

// FreePageCount returns the number of pages currently free across all orders.
func (a *Allocator) FreePageCount() uint64 {
	var total uint64
	for order := range a.heads {
		a.walk(order, func(mm.Frame, *mm.Page) {
			total += blockSize(order)
		})
	}
	return total
}

// Stats returns a copy of the allocator counters.
func (a *Allocator) Stats() Stats {
	return a.stats
}

// walk calls fn for each block on the order free list, in list order.
func (a *Allocator) walk(order int, fn func(mm.Frame, *mm.Page)) {
	for cur := a.heads[order]; cur.Valid(); {
		p := a.host.PageAt(cur)
		if p == nil {
			return
		}
		fn(cur, p)
		cur = p.NextFree()
	}
}

// Verify checks the free-area table:
//   - every listed frame exists in the host and is aligned for its order
//   - each list is strictly ascending (so finite and duplicate-free)
//   - no frame is listed twice and no two free blocks overlap
//   - no free block below MaxOrder has its buddy free at the same order
//
// Returns an *InvariantError describing the first breach found.
func (a *Allocator) Verify() error {
	type span struct {
		start mm.Frame
		order int
	}
	var spans []span
	free := make(map[span]bool)

	for order := range a.heads {
		prev := mm.NoFrame
		for cur := a.heads[order]; cur.Valid(); {
			p := a.host.PageAt(cur)
			if p == nil {
				return verifyErr(order, cur, ErrCorrupt, "frame outside host")
			}
			if !frameAligned(cur, order) {
				return verifyErr(order, cur, ErrMisaligned, "")
			}
			if prev.Valid() && cur <= prev {
				return verifyErr(order, cur, ErrCorrupt, "list not ascending after 0x%X", uint64(prev))
			}
			s := span{start: cur, order: order}
			spans = append(spans, s)
			free[s] = true
			prev = cur
			cur = p.NextFree()
		}
	}

	sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })
	for i, cur := range spans {
		if i > 0 {
			prev := spans[i-1]
			if uint64(cur.start-prev.start) < blockSize(prev.order) {
				return verifyErr(cur.order, cur.start, ErrCorrupt,
					"overlaps order-%d block at 0x%X", prev.order, uint64(prev.start))
			}
		}
		buddy := a.buddyOf(a.host.PageAt(cur.start), cur.order)
		if buddy != nil && free[span{start: a.host.FrameOf(buddy), order: cur.order}] {
			return verifyErr(cur.order, cur.start, ErrCorrupt,
				"buddy 0x%X also free", uint64(a.host.FrameOf(buddy)))
		}
	}
	return nil
}

func verifyErr(order int, f mm.Frame, err error, format string, args ...any) error {
	return &InvariantError{
		Op:     "verify",
		Order:  order,
		Frame:  f,
		Err:    err,
		Detail: fmt.Sprintf(format, args...),
	}
}
