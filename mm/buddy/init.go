package buddy

import (
	"fmt"

	"github.com/joshuapare/pagekit/mm"
)

// Init populates the free-area table with count pages starting at first,
// using the largest aligned blocks that fit. It may be called once.
//
// When first is aligned to the largest block size, blocks are laid down from
// MaxOrder downward: as many MaxOrder blocks as fit, then the remainder at
// each lower order. An unaligned first frame is covered by smaller aligned
// blocks until the next MaxOrder boundary.
func (a *Allocator) Init(first *mm.Page, count uint64) error {
	if a.initialized {
		return ErrAlreadyInitialized
	}
	if count == 0 {
		return ErrEmptyRange
	}
	if first == nil {
		return fmt.Errorf("%w: nil first page", ErrOutOfRange)
	}

	start := a.host.FrameOf(first)
	if uint64(start) > uint64(mm.NoFrame)-count || a.host.PageAt(start+mm.Frame(count-1)) == nil {
		return fmt.Errorf("%w: frames [0x%X, 0x%X+%d)", ErrOutOfRange, uint64(start), uint64(start), count)
	}

	f := start
	remaining := count

	// Unaligned head.
	for remaining > 0 && !frameAligned(f, a.maxOrder) {
		order := largestFit(f, remaining, a.maxOrder)
		a.insert(a.host.PageAt(f), order)
		f += mm.Frame(blockSize(order))
		remaining -= blockSize(order)
	}

	for order := a.maxOrder; remaining > 0 && order >= 0; order-- {
		size := blockSize(order)
		n := remaining / size
		for i := uint64(0); i < n; i++ {
			a.insert(a.host.PageAt(f), order)
			f += mm.Frame(size)
		}
		remaining -= n * size
	}

	a.initialized = true
	if logAlloc {
		debugLogf("init frames=[0x%X, 0x%X) pages=%d", uint64(start), uint64(f), count)
	}
	return nil
}
