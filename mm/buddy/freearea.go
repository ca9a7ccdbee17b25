package buddy

import "github.com/joshuapare/pagekit/mm"

// slot is a position in a free list: the link that points at a block.
// prev == nil means the list head.
type slot struct {
	order int
	prev  *mm.Page
}

// block returns the block the slot points at, or nil at the end of a list.
func (a *Allocator) block(s slot) *mm.Page {
	next := a.heads[s.order]
	if s.prev != nil {
		next = s.prev.NextFree()
	}
	if !next.Valid() {
		return nil
	}
	return a.host.PageAt(next)
}

// insert links p into the order free list, keeping the list sorted by frame.
// Returns the slot that now points at p.
func (a *Allocator) insert(p *mm.Page, order int) slot {
	f := a.host.FrameOf(p)

	var prev *mm.Page
	cur := a.heads[order]
	for cur.Valid() && cur < f {
		prev = a.host.PageAt(cur)
		if prev == nil {
			violate("insert", order, cur, ErrCorrupt, "link to frame outside host")
		}
		cur = prev.NextFree()
	}
	if cur == f {
		violate("insert", order, f, ErrCorrupt, "block already on free list")
	}

	p.SetNextFree(cur)
	if prev == nil {
		a.heads[order] = f
	} else {
		prev.SetNextFree(f)
	}
	return slot{order: order, prev: prev}
}

// remove unlinks p from the order free list. p must be on the list.
func (a *Allocator) remove(p *mm.Page, order int) {
	f := a.host.FrameOf(p)

	var prev *mm.Page
	cur := a.heads[order]
	for cur.Valid() && cur != f {
		prev = a.host.PageAt(cur)
		if prev == nil {
			violate("remove", order, cur, ErrCorrupt, "link to frame outside host")
		}
		cur = prev.NextFree()
	}
	if cur != f {
		violate("remove", order, f, ErrNotOnList, "")
	}

	if prev == nil {
		a.heads[order] = p.NextFree()
	} else {
		prev.SetNextFree(p.NextFree())
	}
	p.SetNextFree(mm.NoFrame)
}

// contains reports whether p is on the order free list.
func (a *Allocator) contains(p *mm.Page, order int) bool {
	if p == nil {
		return false
	}
	f := a.host.FrameOf(p)
	for cur := a.heads[order]; cur.Valid() && cur <= f; {
		if cur == f {
			return true
		}
		next := a.host.PageAt(cur)
		if next == nil {
			violate("contains", order, cur, ErrCorrupt, "link to frame outside host")
		}
		cur = next.NextFree()
	}
	return false
}

// findContaining returns the free block of the given order whose range
// covers target, or nil.
func (a *Allocator) findContaining(target mm.Frame, order int) *mm.Page {
	for cur := a.heads[order]; cur.Valid() && cur <= target; {
		p := a.host.PageAt(cur)
		if p == nil {
			violate("find", order, cur, ErrCorrupt, "link to frame outside host")
		}
		if blockContains(cur, target, order) {
			return p
		}
		cur = p.NextFree()
	}
	return nil
}
