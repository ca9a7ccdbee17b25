package mm

import "math"

// Frame is a physical page frame number.
type Frame uint64

// NoFrame marks the absence of a frame (end of a free list, failed lookup).
const NoFrame = Frame(math.MaxUint64)

// Valid returns true if f refers to a frame.
func (f Frame) Valid() bool {
	return f != NoFrame
}

// Address returns the byte address of the first byte of f for the given page size.
func (f Frame) Address(pageSize uint64) uint64 {
	return uint64(f) * pageSize
}
