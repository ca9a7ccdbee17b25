package pgalloc

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshuapare/pagekit/mm"
	"github.com/joshuapare/pagekit/mm/buddy"
	"github.com/joshuapare/pagekit/mm/reclaim"
)

// newTestManager returns an initialized manager over pages heap pages.
func newTestManager(t *testing.T, pages uint64, maxOrder int) (*Manager, *prometheus.Registry) {
	t.Helper()

	mem, err := mm.Open(mm.Options{Pages: pages, PageSize: mm.MinPageSize})
	require.NoError(t, err)
	t.Cleanup(func() { _ = mem.Close() })

	reg := prometheus.NewRegistry()
	m, err := New(mem, Options{MaxOrder: maxOrder, Registerer: reg})
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })

	require.NoError(t, m.Init())
	return m, reg
}

// recoverViolation runs fn and returns the *buddy.InvariantError it panics with.
func recoverViolation(t *testing.T, fn func()) (ie *buddy.InvariantError) {
	t.Helper()

	defer func() {
		r := recover()
		require.NotNil(t, r, "expected panic")
		var ok bool
		ie, ok = r.(*buddy.InvariantError)
		require.True(t, ok, "panic value %T is not *buddy.InvariantError", r)
	}()
	fn()
	return nil
}

func TestRegistry(t *testing.T) {
	assert.Contains(t, Algorithms(), buddy.AlgorithmName)

	f, err := Lookup("buddy")
	require.NoError(t, err)
	require.NotNil(t, f)

	_, err = Lookup("slab")
	require.ErrorIs(t, err, ErrUnknownAlgorithm)

	assert.Panics(t, func() { Register("buddy", f) })
	assert.Panics(t, func() { Register("", f) })
	assert.Panics(t, func() { Register("nil-factory", nil) })
}

func TestNew_Errors(t *testing.T) {
	mem, err := mm.Open(mm.Options{Pages: 4, PageSize: mm.MinPageSize})
	require.NoError(t, err)
	defer mem.Close()

	_, err = New(nil, Options{})
	require.Error(t, err)

	_, err = New(mem, Options{Algorithm: "slab"})
	require.ErrorIs(t, err, ErrUnknownAlgorithm)

	_, err = New(mem, Options{MaxOrder: buddy.MaxSupportedOrder + 1})
	require.ErrorIs(t, err, buddy.ErrBadConfig)

	_, err = New(mem, Options{ReclaimMinOrder: -1})
	require.Error(t, err)
}

func TestNew_DefaultMaxOrder(t *testing.T) {
	m, _ := newTestManager(t, 4, 0)
	assert.Equal(t, buddy.DefaultMaxOrder, m.MaxOrder())
	assert.Equal(t, "buddy", m.Name())
}

func TestOperationsBeforeInit(t *testing.T) {
	mem, err := mm.Open(mm.Options{Pages: 4, PageSize: mm.MinPageSize})
	require.NoError(t, err)
	defer mem.Close()

	m, err := New(mem, Options{})
	require.NoError(t, err)

	_, err = m.AllocPages(0)
	require.ErrorIs(t, err, ErrNotInitialized)
	assert.False(t, m.ReservePage(mem.First()))
	_, err = m.ReserveRange(0, 1)
	require.ErrorIs(t, err, ErrNotInitialized)
	assert.Equal(t, uint64(0), m.FreePageCount())
}

func TestAllocFree_FlagsAndCounters(t *testing.T) {
	m, _ := newTestManager(t, 16, 4)
	mem := m.Memory()

	p, err := m.AllocPages(2)
	require.NoError(t, err)
	require.Equal(t, mm.Frame(0), mem.FrameOf(p))
	for f := mm.Frame(0); f < 4; f++ {
		assert.False(t, mem.PageAt(f).Has(mm.PageFree), "frame %d", f)
	}
	assert.True(t, mem.PageAt(4).Has(mm.PageFree))
	assert.Equal(t, uint64(12), m.FreePageCount())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.metrics.allocs.WithLabelValues("ok")))

	m.FreePages(p, 2)
	assert.Equal(t, uint64(16), m.FreePageCount())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.metrics.frees))
	for f := mm.Frame(0); f < 4; f++ {
		assert.True(t, mem.PageAt(f).Has(mm.PageFree), "frame %d", f)
	}
	require.NoError(t, m.Verify())
}

func TestFreePages_DoubleFreePanics(t *testing.T) {
	m, _ := newTestManager(t, 16, 4)

	p, err := m.AllocPages(1)
	require.NoError(t, err)
	m.FreePages(p, 1)

	ie := recoverViolation(t, func() { m.FreePages(p, 1) })
	require.ErrorIs(t, ie, buddy.ErrCorrupt)
	assert.Equal(t, "free", ie.Op)
	assert.Contains(t, ie.Error(), "double free")

	// The lock was released by the panic.
	assert.Equal(t, uint64(16), m.FreePageCount())
}

// Freeing at a larger order than allocated covers pages that are still free.
func TestFreePages_LargerOrderOverFreePagesPanics(t *testing.T) {
	m, _ := newTestManager(t, 16, 4)
	mem := m.Memory()

	p, err := m.AllocPages(0)
	require.NoError(t, err)
	require.Equal(t, mm.Frame(0), mem.FrameOf(p))

	ie := recoverViolation(t, func() { m.FreePages(p, 1) })
	require.ErrorIs(t, ie, buddy.ErrCorrupt)
	assert.Equal(t, mm.Frame(0), ie.Frame)
	assert.Contains(t, ie.Error(), "double free of frame 0x1")

	// Nothing changed: the table is intact and the real free still works.
	assert.Equal(t, uint64(15), m.FreePageCount())
	require.NoError(t, m.Verify())
	assert.False(t, p.Has(mm.PageFree))

	m.FreePages(p, 0)
	assert.Equal(t, uint64(16), m.FreePageCount())
	require.NoError(t, m.Verify())
}

func TestFreePages_BeforeInitPanics(t *testing.T) {
	mem, err := mm.Open(mm.Options{Pages: 16, PageSize: mm.MinPageSize})
	require.NoError(t, err)
	defer mem.Close()

	m, err := New(mem, Options{MaxOrder: 4})
	require.NoError(t, err)

	ie := recoverViolation(t, func() { m.FreePages(mem.PageAt(3), 0) })
	require.ErrorIs(t, ie, ErrNotInitialized)
	assert.Equal(t, uint64(0), m.FreePageCount())

	require.NoError(t, m.Init())
	assert.Equal(t, uint64(16), m.FreePageCount())
	require.NoError(t, m.Verify())
}

func TestAllocPages_Exhaustion(t *testing.T) {
	m, _ := newTestManager(t, 16, 4)

	_, err := m.AllocPages(4)
	require.NoError(t, err)

	_, err = m.AllocPages(0)
	require.ErrorIs(t, err, ErrNoMemory)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.metrics.allocs.WithLabelValues("no_memory")))
}

func TestReservePage(t *testing.T) {
	m, _ := newTestManager(t, 16, 4)
	mem := m.Memory()
	p := mem.PageAt(5)

	require.True(t, m.ReservePage(p))
	assert.True(t, p.Has(mm.PageReserved))
	assert.False(t, p.Has(mm.PageFree))
	assert.Equal(t, uint64(1), m.ReservedPages())
	assert.Equal(t, uint64(15), m.FreePageCount())

	require.False(t, m.ReservePage(p))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.metrics.reserves.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.metrics.reserves.WithLabelValues("not_free")))

	// A reserved page can be handed back.
	m.FreePages(p, 0)
	assert.False(t, p.Has(mm.PageReserved))
	assert.Equal(t, uint64(0), m.ReservedPages())
	assert.Equal(t, uint64(16), m.FreePageCount())
	require.NoError(t, m.Verify())
}

func TestReserveRange(t *testing.T) {
	m, _ := newTestManager(t, 16, 4)

	n, err := m.ReserveRange(4, 4)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), n)

	n, err = m.ReserveRange(2, 4)
	require.ErrorIs(t, err, ErrReserveRange)
	assert.Equal(t, uint64(2), n)
	assert.Contains(t, err.Error(), "2 of 4 pages not free, first at 0x4")
	assert.Equal(t, uint64(6), m.ReservedPages())
	assert.Equal(t, uint64(10), m.FreePageCount())

	_, err = m.ReserveRange(14, 4)
	require.ErrorIs(t, err, ErrOutOfRange)

	n, err = m.ReserveRange(0, 0)
	require.NoError(t, err)
	assert.Zero(t, n)
	require.NoError(t, m.Verify())
}

func TestStats(t *testing.T) {
	m, _ := newTestManager(t, 16, 4)

	_, err := m.AllocPages(1)
	require.NoError(t, err)
	require.True(t, m.ReservePage(m.Memory().PageAt(15)))

	s := m.Stats()
	assert.Equal(t, "buddy", s.Algorithm)
	assert.Equal(t, uint64(16), s.TotalPages)
	assert.Equal(t, uint64(13), s.FreePages)
	assert.Equal(t, uint64(1), s.ReservedPages)
	assert.Equal(t, uint64(mm.MinPageSize), s.PageSize)
	assert.Equal(t, 4, s.MaxOrder)
	assert.Equal(t, 1, s.Allocator.AllocCalls)
	assert.Equal(t, 1, s.Allocator.Reservations)
}

func TestDumpState_Logs(t *testing.T) {
	mem, err := mm.Open(mm.Options{Pages: 16, PageSize: mm.MinPageSize})
	require.NoError(t, err)
	defer mem.Close()

	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	m, err := New(mem, Options{MaxOrder: 4, Logger: log})
	require.NoError(t, err)
	require.NoError(t, m.Init())

	_, err = m.AllocPages(2)
	require.NoError(t, err)
	buf.Reset()

	areas := m.DumpState()
	require.Len(t, areas, 5)
	assert.Equal(t, []mm.Frame{4}, areas[2].Frames)
	assert.Equal(t, []mm.Frame{8}, areas[3].Frames)

	out := buf.String()
	assert.Contains(t, out, "BUDDY STATE:")
	assert.Contains(t, out, "[2] 4")
	assert.Contains(t, out, "[3] 8")
	assert.Contains(t, out, "[0]")
}

func TestMetrics_StateCollector(t *testing.T) {
	m, reg := newTestManager(t, 16, 4)

	_, err := m.AllocPages(2)
	require.NoError(t, err)

	expected := `
# HELP pagekit_free_pages Pages currently free.
# TYPE pagekit_free_pages gauge
pagekit_free_pages 12
# HELP pagekit_free_blocks Free blocks per order.
# TYPE pagekit_free_blocks gauge
pagekit_free_blocks{order="0"} 0
pagekit_free_blocks{order="1"} 0
pagekit_free_blocks{order="2"} 1
pagekit_free_blocks{order="3"} 1
pagekit_free_blocks{order="4"} 0
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"pagekit_free_pages", "pagekit_free_blocks"))
}

func TestMetrics_RegistrationConflict(t *testing.T) {
	mem, err := mm.Open(mm.Options{Pages: 4, PageSize: mm.MinPageSize})
	require.NoError(t, err)
	defer mem.Close()

	reg := prometheus.NewRegistry()
	first, err := New(mem, Options{Registerer: reg})
	require.NoError(t, err)

	_, err = New(mem, Options{Registerer: reg})
	var are prometheus.AlreadyRegisteredError
	require.True(t, errors.As(err, &are), "got %v", err)

	// The failed manager must not have removed the first one's collectors.
	require.NoError(t, first.Init())
	count, err := testutil.GatherAndCount(reg, "pagekit_free_pages")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	require.NoError(t, first.Close())
	second, err := New(mem, Options{Registerer: reg})
	require.NoError(t, err)
	require.NoError(t, second.Close())
}

func TestManager_ConcurrentAllocFree(t *testing.T) {
	m, _ := newTestManager(t, 64, 6)

	const workers = 8
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				order := (w + i) % 3
				p, err := m.AllocPages(order)
				if errors.Is(err, ErrNoMemory) {
					continue
				}
				if err != nil {
					errs <- err
					return
				}
				m.FreePages(p, order)
			}
		}(w)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	assert.Equal(t, uint64(64), m.FreePageCount())
	require.NoError(t, m.Verify())
	assert.Equal(t, map[int][]mm.Frame{6: {0}}, nonEmpty(m.DumpState()))
}

func TestReclaim_Disabled(t *testing.T) {
	m, _ := newTestManager(t, 16, 4)

	n, err := m.Reclaim(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestReclaim_Mmap(t *testing.T) {
	if !reclaim.Supported {
		t.Skip("reclaim not supported on this platform")
	}

	mem, err := mm.Open(mm.Options{Pages: 64, PageSize: 16384, Backing: mm.BackingMmap})
	require.NoError(t, err)
	defer mem.Close()
	if mem.Backing() != mm.BackingMmap {
		t.Skip("mmap backing not supported on this platform")
	}

	reg := prometheus.NewRegistry()
	m, err := New(mem, Options{Reclaim: true, ReclaimMinOrder: DefaultReclaimMinOrder, Registerer: reg})
	require.NoError(t, err)
	defer m.Close()
	require.NoError(t, m.Init())

	n, err := m.Reclaim(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(64*16384), n)

	_, err = m.AllocPages(5)
	require.NoError(t, err)

	n, err = m.Reclaim(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(32*16384), n)
	assert.Equal(t, float64(96*16384), testutil.ToFloat64(m.metrics.reclaimed))

	// Blocks below the minimum order are left alone.
	_, err = m.AllocPages(5)
	require.NoError(t, err)
	m.FreePages(m.Memory().PageAt(32), 5)
	_, err = m.AllocPages(2)
	require.NoError(t, err)
	n, err = m.Reclaim(context.Background())
	require.NoError(t, err)
	// Free: order 2 at 36, order 3 at 40, order 4 at 48. Only order 4 qualifies.
	assert.Equal(t, int64(16*16384), n)
}

func TestReclaim_MinOrderZeroReleasesSinglePages(t *testing.T) {
	if !reclaim.Supported {
		t.Skip("reclaim not supported on this platform")
	}

	mem, err := mm.Open(mm.Options{Pages: 64, PageSize: 16384, Backing: mm.BackingMmap})
	require.NoError(t, err)
	defer mem.Close()
	if mem.Backing() != mm.BackingMmap {
		t.Skip("mmap backing not supported on this platform")
	}

	m, err := New(mem, Options{Reclaim: true, ReclaimMinOrder: 0})
	require.NoError(t, err)
	defer m.Close()
	require.NoError(t, m.Init())

	// Leaves free blocks of every order 0..5 covering frames 1..63.
	_, err = m.AllocPages(0)
	require.NoError(t, err)

	n, err := m.Reclaim(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(63*16384), n)
}

func nonEmpty(areas []FreeArea) map[int][]mm.Frame {
	out := make(map[int][]mm.Frame)
	for _, a := range areas {
		if len(a.Frames) > 0 {
			out[a.Order] = a.Frames
		}
	}
	return out
}
