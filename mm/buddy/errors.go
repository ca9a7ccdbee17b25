package buddy

import (
	"errors"
	"fmt"

	"github.com/joshuapare/pagekit/mm"
)

var (
	// ErrNoMemory indicates that no free block exists at or above the requested order.
	ErrNoMemory = errors.New("buddy: no free block large enough")

	// ErrEmptyRange indicates Init was given zero pages.
	ErrEmptyRange = errors.New("buddy: page range is empty")

	// ErrOutOfRange indicates Init was given a run that leaves the host memory.
	ErrOutOfRange = errors.New("buddy: page range outside host memory")

	// ErrAlreadyInitialized indicates Init was called twice.
	ErrAlreadyInitialized = errors.New("buddy: already initialized")

	// ErrBadConfig indicates an unusable allocator configuration.
	ErrBadConfig = errors.New("buddy: bad config")
)

// Contract violations. These are carried by *InvariantError panics.
var (
	// ErrBadOrder indicates an order outside 0..MaxOrder.
	ErrBadOrder = errors.New("order out of range")

	// ErrMisaligned indicates a block whose frame is not a multiple of its block size.
	ErrMisaligned = errors.New("block misaligned for order")

	// ErrNotOnList indicates a block assumed free was missing from its free list.
	ErrNotOnList = errors.New("block not on free list")

	// ErrCorrupt indicates the free-area table broke one of its invariants.
	ErrCorrupt = errors.New("free-area table corrupt")

	// ErrNotInitialized indicates Free before Init. Init would later lay
	// blocks over the freed pages.
	ErrNotInitialized = errors.New("allocator not initialized")
)

// InvariantError describes a contract violation. Alloc, Free, ReservePage and
// the internal list primitives panic with it; Verify returns it.
type InvariantError struct {
	Op     string   // operation that detected the violation
	Order  int      // order being operated on
	Frame  mm.Frame // frame involved, or mm.NoFrame
	Err    error    // one of ErrBadOrder, ErrMisaligned, ErrNotOnList, ErrCorrupt
	Detail string
}

func (e *InvariantError) Error() string {
	msg := fmt.Sprintf("buddy: %s: order %d", e.Op, e.Order)
	if e.Frame.Valid() {
		msg += fmt.Sprintf(" frame 0x%X", uint64(e.Frame))
	}
	msg += ": " + e.Err.Error()
	if e.Detail != "" {
		msg += " (" + e.Detail + ")"
	}
	return msg
}

func (e *InvariantError) Unwrap() error { return e.Err }

// violate aborts the current operation.
func violate(op string, order int, f mm.Frame, err error, format string, args ...any) {
	panic(&InvariantError{
		Op:     op,
		Order:  order,
		Frame:  f,
		Err:    err,
		Detail: fmt.Sprintf(format, args...),
	})
}
