package buddy

import "github.com/joshuapare/pagekit/mm"

// reserveState is the state of a ReservePage descent.
type reserveState int

const (
	// searching: no free block found yet; scan the current order's list.
	searching reserveState = iota
	// tracking: a free block of the current order contains the target page.
	tracking
	// reserved: the target page was removed from the table. Terminal.
	reserved
	// notFound: no free block contains the target page. Terminal.
	notFound
)

func (s reserveState) String() string {
	switch s {
	case searching:
		return "SEARCHING"
	case tracking:
		return "TRACKING"
	case reserved:
		return "RESERVED"
	case notFound:
		return "NOT_FOUND"
	default:
		return "UNKNOWN"
	}
}

// reservation is the mutable state of one ReservePage call.
type reservation struct {
	state  reserveState
	order  int
	block  *mm.Page // free block containing target while tracking
	target mm.Frame
}

// ReservePage withdraws the page p from future allocation. p may be free on
// its own or be part of a larger free block; larger blocks are split down to
// order 0 and every sibling produced on the way stays free.
//
// Returns false if p is not currently free (already allocated or reserved).
func (a *Allocator) ReservePage(p *mm.Page) bool {
	if p == nil {
		violate("reserve", 0, mm.NoFrame, ErrCorrupt, "nil page")
	}

	r := reservation{
		state:  searching,
		order:  a.maxOrder,
		target: a.host.FrameOf(p),
	}
	for {
		switch r.state {
		case searching:
			if blk := a.findContaining(r.target, r.order); blk != nil {
				r.block = blk
				r.state = tracking
				continue
			}
			if r.order == 0 {
				r.state = notFound
				continue
			}
			r.order--

		case tracking:
			if r.order == 0 {
				// An order-0 block containing the target is the target.
				a.remove(r.block, 0)
				r.state = reserved
				continue
			}
			left := a.split(r.block, r.order)
			r.order--
			if blockContains(a.host.FrameOf(left), r.target, r.order) {
				r.block = left
			} else {
				r.block = a.buddyOf(left, r.order)
			}

		case reserved:
			a.stats.Reservations++
			if logAlloc {
				debugLogf("reserve frame=0x%X: %s", uint64(r.target), r.state)
			}
			return true

		case notFound:
			a.stats.ReservationMisses++
			if logAlloc {
				debugLogf("reserve frame=0x%X: %s", uint64(r.target), r.state)
			}
			return false
		}
	}
}
