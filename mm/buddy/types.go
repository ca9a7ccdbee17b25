package buddy

import "github.com/joshuapare/pagekit/mm"

const (
	// DefaultMaxOrder is the largest block order (2^16 pages) of the default configuration.
	DefaultMaxOrder = 16

	// MaxSupportedOrder bounds Config.MaxOrder.
	MaxSupportedOrder = 40

	// AlgorithmName identifies this algorithm for selection.
	AlgorithmName = "buddy"
)

// Host maps between page descriptors and frame numbers. *mm.Memory implements it.
type Host interface {
	// FrameOf returns the frame number described by p.
	FrameOf(p *mm.Page) mm.Frame

	// PageAt returns the descriptor for f, or nil if the host has no such frame.
	PageAt(f mm.Frame) *mm.Page
}

// Config holds allocator parameters.
type Config struct {
	// MaxOrder is the largest block order. Free lists exist for 0..MaxOrder inclusive.
	MaxOrder int
}

// DefaultConfig is used when New is given a nil config.
var DefaultConfig = Config{MaxOrder: DefaultMaxOrder}

// FreeArea is a snapshot of one free list.
type FreeArea struct {
	Order  int
	Frames []mm.Frame // block start frames, ascending
}

// Stats holds allocator counters.
type Stats struct {
	AllocCalls        int // Alloc calls
	AllocFailures     int // Alloc calls that returned ErrNoMemory
	FreeCalls         int // Free calls
	Splits            int // blocks split in two
	Merges            int // buddy pairs coalesced
	Reservations      int // successful ReservePage calls
	ReservationMisses int // ReservePage calls that found no free page
}
