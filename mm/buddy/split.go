package buddy

import "github.com/joshuapare/pagekit/mm"

// split breaks the free block p of the given order into two order-1 halves,
// both of which end up on the order-1 free list. Returns the left half.
func (a *Allocator) split(p *mm.Page, order int) *mm.Page {
	if order <= 0 || order > a.maxOrder {
		violate("split", order, mm.NoFrame, ErrBadOrder, "cannot split order %d", order)
	}
	if p == nil {
		violate("split", order, mm.NoFrame, ErrCorrupt, "no block to split")
	}
	if !a.isAligned(p, order) {
		violate("split", order, a.host.FrameOf(p), ErrMisaligned, "")
	}

	left := p
	right := a.buddyOf(left, order-1)
	if right == nil {
		violate("split", order, a.host.FrameOf(p), ErrCorrupt, "right half outside host")
	}

	a.remove(left, order)
	a.insert(left, order-1)
	a.insert(right, order-1)

	a.stats.Splits++
	if logAlloc {
		debugLogf("split frame=0x%X order=%d -> 0x%X+0x%X",
			uint64(a.host.FrameOf(left)), order,
			uint64(a.host.FrameOf(left)), uint64(a.host.FrameOf(right)))
	}
	return left
}

// merge coalesces p and its buddy, both free at the given order, into one
// block on the order+1 list. Returns the slot of the merged block.
func (a *Allocator) merge(p *mm.Page, order int) slot {
	if order < 0 || order >= a.maxOrder {
		violate("merge", order, mm.NoFrame, ErrBadOrder, "cannot merge order %d", order)
	}
	if !a.isAligned(p, order) {
		violate("merge", order, a.host.FrameOf(p), ErrMisaligned, "")
	}
	buddy := a.buddyOf(p, order)
	if buddy == nil {
		violate("merge", order, a.host.FrameOf(p), ErrCorrupt, "buddy outside host")
	}

	left, right := p, buddy
	if a.host.FrameOf(buddy) < a.host.FrameOf(p) {
		left, right = buddy, p
	}

	a.remove(left, order)
	a.remove(right, order)

	a.stats.Merges++
	if logAlloc {
		debugLogf("merge frame=0x%X+0x%X order=%d -> 0x%X order=%d",
			uint64(a.host.FrameOf(left)), uint64(a.host.FrameOf(right)), order,
			uint64(a.host.FrameOf(left)), order+1)
	}
	return a.insert(left, order+1)
}
