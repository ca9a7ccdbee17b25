package reclaim

import (
	"context"
	"fmt"
	"os"
	"sort"
)

// defaultRangeCapacity is the pre-allocated capacity for pending ranges.
const defaultRangeCapacity = 64

// Range is a byte range relative to the start of the managed data.
type Range struct {
	Off int64 // Offset from the start of the data
	Len int64 // Length in bytes
}

// End returns the offset one past the range.
func (r Range) End() int64 { return r.Off + r.Len }

// Tracker accumulates free ranges and releases them in one pass.
//
// NOT thread-safe. Only one goroutine should use it at a time.
type Tracker struct {
	ranges   []Range
	pageSize int64

	// release hands one aligned range back to the OS. Replaced in tests.
	release func([]byte) error
}

// NewTracker creates a tracker that aligns ranges to pageSize bytes.
// A pageSize of zero uses the OS page size.
func NewTracker(pageSize int64) *Tracker {
	if pageSize <= 0 {
		pageSize = int64(os.Getpagesize())
	}
	return &Tracker{
		ranges:   make([]Range, 0, defaultRangeCapacity),
		pageSize: pageSize,
		release:  releaseRange,
	}
}

// PageSize returns the alignment used for released ranges.
func (t *Tracker) PageSize() int64 { return t.pageSize }

// Add records a free byte range. Empty ranges are ignored.
func (t *Tracker) Add(off, length int64) {
	if length <= 0 {
		return
	}
	t.ranges = append(t.ranges, Range{Off: off, Len: length})
}

// Pending returns the number of recorded, not yet flushed ranges.
func (t *Tracker) Pending() int { return len(t.ranges) }

// Flush coalesces the recorded ranges and releases each aligned range of
// data. Returns the number of bytes released.
//
// The context is checked before starting and between ranges. If cancelled
// midway, some ranges have been released and the rest are dropped.
func (t *Tracker) Flush(ctx context.Context, data []byte) (int64, error) {
	if len(t.ranges) == 0 {
		return 0, nil
	}
	defer t.Reset()

	if err := ctx.Err(); err != nil {
		return 0, err
	}

	var released int64
	for _, r := range t.coalesce() {
		if err := ctx.Err(); err != nil {
			return released, err
		}
		if r.Off < 0 || r.End() > int64(len(data)) {
			return released, fmt.Errorf("reclaim: range [%d, %d) outside %d bytes", r.Off, r.End(), len(data))
		}
		if err := t.release(data[r.Off:r.End()]); err != nil {
			return released, fmt.Errorf("reclaim: release [%d, %d): %w", r.Off, r.End(), err)
		}
		released += r.Len
	}
	return released, nil
}

// Reset drops all recorded ranges.
func (t *Tracker) Reset() {
	t.ranges = t.ranges[:0]
}

// DebugCoalescedRanges returns the ranges Flush would release (for testing/debugging).
func (t *Tracker) DebugCoalescedRanges() []Range {
	return t.coalesce()
}

// coalesce sorts the ranges, merges overlapping/adjacent ones, then shrinks
// each merged range inward to page boundaries, dropping any that vanish.
func (t *Tracker) coalesce() []Range {
	if len(t.ranges) == 0 {
		return nil
	}

	sorted := make([]Range, len(t.ranges))
	copy(sorted, t.ranges)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Off < sorted[j].Off
	})

	// Merge before aligning: two adjacent sub-page blocks can
	// together cover a whole OS page.
	merged := make([]Range, 0, len(sorted))
	current := sorted[0]
	for _, next := range sorted[1:] {
		if next.Off <= current.End() {
			if next.End() > current.End() {
				current.Len = next.End() - current.Off
			}
			continue
		}
		merged = append(merged, current)
		current = next
	}
	merged = append(merged, current)

	aligned := merged[:0]
	for _, r := range merged {
		start := (r.Off + t.pageSize - 1) / t.pageSize * t.pageSize
		end := r.End() / t.pageSize * t.pageSize
		if end > start {
			aligned = append(aligned, Range{Off: start, Len: end - start})
		}
	}
	return aligned
}
