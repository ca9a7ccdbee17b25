// Package buddy implements a binary buddy allocator for physical page frames.
//
// # Overview
//
// The allocator hands out naturally aligned blocks of 2^order contiguous
// pages. Free blocks are kept on one address-sorted, singly linked free list
// per order (0..MaxOrder inclusive). The links live inside the page
// descriptors themselves (mm.Page.NextFree), so the allocator needs no
// memory of its own beyond the list heads.
//
// # Operations
//
//   - Init(first, count): cover a run of pages with maximal aligned blocks
//   - Alloc(order): take a block, splitting larger blocks on the way down
//   - Free(page, order): return a block and coalesce with free buddies
//   - ReservePage(page): withdraw one specific page, splitting as needed
//   - DumpState(): snapshot of every free list
//
// # Orders
//
//	order 0:  1 page
//	order 1:  2 pages
//	order 2:  4 pages
//	...
//	order 16: 65536 pages (256MB with 4KB pages)
//
// A block of order k always starts on a frame divisible by 2^k. Its buddy is
// the other half of the order k+1 block it was split from.
//
// # Errors
//
// Running out of memory is ordinary: Alloc returns ErrNoMemory. Breaking the
// allocator's contract (freeing a misaligned block, an out-of-range order,
// a list that lost a block it should hold) panics with an *InvariantError.
//
// # Concurrency
//
// An Allocator is NOT safe for concurrent use. Callers wrap the whole table
// in a single lock (see package pgalloc); no operation blocks or yields.
//
// # Debugging
//
// Set PAGEKIT_LOG_ALLOC=1 to trace splits, merges and reservations on stderr.
package buddy
