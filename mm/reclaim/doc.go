// Package reclaim returns the backing memory of free page blocks to the
// operating system.
//
// # Overview
//
// The tracker accumulates byte ranges that are known to be free, coalesces
// them into sorted, non-overlapping ranges aligned to the OS page size, and
// releases each range with madvise(MADV_DONTNEED). The mapping itself stays
// valid. On linux a released range of an anonymous private mapping reads back
// as zeros; darwin and freebsd give no such guarantee, so callers must not
// rely on the contents of a released range.
//
// # Alignment
//
// Ranges are shrunk, never grown, to OS page boundaries: a partially covered
// OS page may still hold live data belonging to an allocated neighbour.
//
// # Usage
//
//	t := reclaim.NewTracker(0) // OS page size
//	t.Add(off, length)         // for each free block
//	n, err := t.Flush(ctx, data)
//
// On platforms without madvise, Flush coalesces and reports the ranges but
// releases nothing.
package reclaim
