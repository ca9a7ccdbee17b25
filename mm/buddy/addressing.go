package buddy

import (
	"math/bits"

	"github.com/joshuapare/pagekit/mm"
)

// blockSize returns the number of pages in a block of the given order.
func blockSize(order int) uint64 {
	return 1 << uint(order)
}

// frameAligned reports whether f is a multiple of blockSize(order).
func frameAligned(f mm.Frame, order int) bool {
	return uint64(f)&(blockSize(order)-1) == 0
}

// isAligned reports whether p can start a block of the given order.
func (a *Allocator) isAligned(p *mm.Page, order int) bool {
	return frameAligned(a.host.FrameOf(p), order)
}

// buddyOf returns the buddy of the order-sized block starting at p.
// Returns nil if order >= MaxOrder, p is not aligned for order, or the buddy
// frame does not exist in the host. Free-list membership is not checked.
func (a *Allocator) buddyOf(p *mm.Page, order int) *mm.Page {
	if order >= a.maxOrder || !a.isAligned(p, order) {
		return nil
	}
	f := a.host.FrameOf(p)
	if frameAligned(f, order+1) {
		// Left half: buddy follows.
		return a.host.PageAt(f + mm.Frame(blockSize(order)))
	}
	return a.host.PageAt(f - mm.Frame(blockSize(order)))
}

// blockContains reports whether frame target lies in the order-sized block starting at start.
func blockContains(start, target mm.Frame, order int) bool {
	return start <= target && uint64(target-start) < blockSize(order)
}

// largestFit returns the largest order <= maxOrder whose block starting at f
// is aligned and no longer than remaining pages.
func largestFit(f mm.Frame, remaining uint64, maxOrder int) int {
	order := maxOrder
	if f != 0 {
		order = min(order, bits.TrailingZeros64(uint64(f)))
	}
	return min(order, bits.Len64(remaining)-1)
}
