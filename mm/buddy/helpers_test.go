package buddy

import (
	"errors"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joshuapare/pagekit/mm"
)

// ============================================================================
// Test Helpers
// ============================================================================

// newTestAllocator creates memory of the given size and an empty allocator over it.
func newTestAllocator(t testing.TB, pages uint64, maxOrder int, base mm.Frame) (*mm.Memory, *Allocator) {
	t.Helper()

	mem, err := mm.Open(mm.Options{Pages: pages, PageSize: mm.MinPageSize, Base: base})
	require.NoError(t, err)
	t.Cleanup(func() { _ = mem.Close() })

	a, err := New(mem, &Config{MaxOrder: maxOrder})
	require.NoError(t, err)
	return mem, a
}

// newInitializedAllocator creates an allocator that already covers all of memory.
func newInitializedAllocator(t testing.TB, pages uint64, maxOrder int) (*mm.Memory, *Allocator) {
	t.Helper()

	mem, a := newTestAllocator(t, pages, maxOrder, 0)
	require.NoError(t, a.Init(mem.First(), mem.Len()))
	require.NoError(t, a.Verify())
	return mem, a
}

// listing returns the free lists keyed by order, omitting empty orders.
func listing(a *Allocator) map[int][]mm.Frame {
	out := make(map[int][]mm.Frame)
	for _, area := range a.DumpState() {
		if len(area.Frames) > 0 {
			out[area.Order] = area.Frames
		}
	}
	return out
}

// requireCoverage checks that the free blocks cover exactly [start, start+n)
// with no gap and no overlap.
func requireCoverage(t *testing.T, a *Allocator, start mm.Frame, n uint64) {
	t.Helper()

	type blk struct {
		f    mm.Frame
		size uint64
	}
	var blocks []blk
	for _, area := range a.DumpState() {
		for _, f := range area.Frames {
			blocks = append(blocks, blk{f, blockSize(area.Order)})
		}
	}
	sort.Slice(blocks, func(i, j int) bool { return blocks[i].f < blocks[j].f })

	next := start
	for _, b := range blocks {
		require.Equal(t, next, b.f, "gap or overlap at frame 0x%X", uint64(b.f))
		next += mm.Frame(b.size)
	}
	require.Equal(t, start+mm.Frame(n), next, "coverage ends early or late")
}

// requireViolation runs fn and checks it panics with an *InvariantError wrapping want.
func requireViolation(t *testing.T, want error, fn func()) {
	t.Helper()

	var recovered any
	func() {
		defer func() { recovered = recover() }()
		fn()
	}()
	require.NotNil(t, recovered, "expected a contract violation panic")

	err, ok := recovered.(error)
	require.True(t, ok, "panic value %v is not an error", recovered)

	var ie *InvariantError
	require.True(t, errors.As(err, &ie), "panic %v is not an *InvariantError", err)
	require.ErrorIs(t, err, want)
}
