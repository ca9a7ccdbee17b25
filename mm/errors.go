package mm

import "errors"

var (
	// ErrNoPages indicates a memory run with no pages was requested.
	ErrNoPages = errors.New("mm: memory must contain at least one page")

	// ErrPageSize indicates the page size is not a power of two of at least MinPageSize.
	ErrPageSize = errors.New("mm: page size must be a power of two >= 512")

	// ErrOutOfRange indicates a frame or frame run outside the memory.
	ErrOutOfRange = errors.New("mm: frame out of range")

	// ErrClosed indicates the memory was already closed.
	ErrClosed = errors.New("mm: memory closed")
)
