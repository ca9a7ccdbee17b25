package buddy

import (
	"fmt"
	"os"

	"github.com/joshuapare/pagekit/mm"
)

// Runtime debug flag for allocation logging - controlled by PAGEKIT_LOG_ALLOC env var.
var logAlloc = os.Getenv("PAGEKIT_LOG_ALLOC") != ""

// Allocator is a binary buddy page allocator.
//
// The free-area table (heads) is its only mutable state; every free block is
// linked through the NextFree field of its first page descriptor.
type Allocator struct {
	host     Host
	maxOrder int

	// heads[k] is the first frame on the order-k free list, or mm.NoFrame.
	heads []mm.Frame

	initialized bool
	stats       Stats
}

// New creates an empty allocator over host.
//
// Parameters:
//   - host: descriptor/frame mapping for the pages being managed
//   - config: allocator parameters (use nil for DefaultConfig)
func New(host Host, config *Config) (*Allocator, error) {
	if host == nil {
		return nil, fmt.Errorf("%w: nil host", ErrBadConfig)
	}
	if config == nil {
		config = &DefaultConfig
	}
	if config.MaxOrder < 0 || config.MaxOrder > MaxSupportedOrder {
		return nil, fmt.Errorf("%w: max order %d not in 0..%d",
			ErrBadConfig, config.MaxOrder, MaxSupportedOrder)
	}

	a := &Allocator{
		host:     host,
		maxOrder: config.MaxOrder,
		heads:    make([]mm.Frame, config.MaxOrder+1),
	}
	for i := range a.heads {
		a.heads[i] = mm.NoFrame
	}
	return a, nil
}

// Name returns the algorithm name used for selection.
func (a *Allocator) Name() string { return AlgorithmName }

// MaxOrder returns the largest block order.
func (a *Allocator) MaxOrder() int { return a.maxOrder }

// Alloc removes a free block of 2^order pages from the table and returns its
// first page. The block is aligned to its size. Returns ErrNoMemory when no
// block of that order or larger is free.
//
// Panics with *InvariantError if order is outside 0..MaxOrder.
func (a *Allocator) Alloc(order int) (*mm.Page, error) {
	if order < 0 || order > a.maxOrder {
		violate("alloc", order, mm.NoFrame, ErrBadOrder, "max order %d", a.maxOrder)
	}
	a.stats.AllocCalls++

	// Walk up until some order has a free block.
	current := order
	for !a.heads[current].Valid() {
		current++
		if current > a.maxOrder {
			a.stats.AllocFailures++
			return nil, ErrNoMemory
		}
	}

	// Split back down, keeping the left half each time. Right halves stay
	// free at the intermediate orders.
	block := a.host.PageAt(a.heads[current])
	for current > order {
		block = a.split(block, current)
		current--
	}

	a.remove(block, order)
	if logAlloc {
		debugLogf("alloc order=%d -> frame=0x%X", order, uint64(a.host.FrameOf(block)))
	}
	return block, nil
}

// Free returns the block of 2^order pages starting at p to the table and
// coalesces it with its buddy for as long as the buddy is free.
//
// Panics with *InvariantError if the allocator is not initialized, order is
// outside 0..MaxOrder, p is nil or p is not aligned for order.
func (a *Allocator) Free(p *mm.Page, order int) {
	if !a.initialized {
		violate("free", order, mm.NoFrame, ErrNotInitialized, "")
	}
	if order < 0 || order > a.maxOrder {
		violate("free", order, mm.NoFrame, ErrBadOrder, "max order %d", a.maxOrder)
	}
	if p == nil {
		violate("free", order, mm.NoFrame, ErrCorrupt, "nil page")
	}
	if !a.isAligned(p, order) {
		violate("free", order, a.host.FrameOf(p), ErrMisaligned, "")
	}
	a.stats.FreeCalls++

	if logAlloc {
		debugLogf("free frame=0x%X order=%d", uint64(a.host.FrameOf(p)), order)
	}

	a.insert(p, order)

	// The buddy is recomputed at the merged block's new order before each
	// test; nothing coalesces past MaxOrder.
	for order < a.maxOrder {
		buddy := a.buddyOf(p, order)
		if !a.contains(buddy, order) {
			break
		}
		p = a.block(a.merge(p, order))
		order++
	}
}

func debugLogf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "[BUDDY] "+format+"\n", args...)
}
