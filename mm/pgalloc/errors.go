package pgalloc

import (
	"errors"

	"github.com/joshuapare/pagekit/mm/buddy"
)

var (
	// ErrNoMemory indicates no free block of the requested order or larger.
	ErrNoMemory = buddy.ErrNoMemory

	// ErrUnknownAlgorithm indicates no algorithm is registered under the requested name.
	ErrUnknownAlgorithm = errors.New("pgalloc: unknown algorithm")

	// ErrNotInitialized indicates an operation before Init.
	ErrNotInitialized = errors.New("pgalloc: not initialized")

	// ErrReserveRange indicates some pages of a range could not be reserved.
	ErrReserveRange = errors.New("pgalloc: range not fully reserved")

	// ErrOutOfRange indicates a frame outside the managed memory.
	ErrOutOfRange = errors.New("pgalloc: frame out of range")
)
