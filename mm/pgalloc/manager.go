package pgalloc

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/joshuapare/pagekit/mm"
	"github.com/joshuapare/pagekit/mm/buddy"
	"github.com/joshuapare/pagekit/mm/reclaim"
)

// DefaultReclaimMinOrder is the ReclaimMinOrder used by config.Default.
const DefaultReclaimMinOrder = 4

// Options controls New.
type Options struct {
	// Algorithm selects the registered algorithm. Default: "buddy".
	Algorithm string

	// MaxOrder is the largest block order. 0 selects the algorithm default.
	MaxOrder int

	// Logger receives operation logs. Default: discard.
	Logger *slog.Logger

	// Registerer receives the manager's Prometheus collectors. nil disables registration.
	Registerer prometheus.Registerer

	// Reclaim enables returning free block memory to the OS via Reclaim.
	// Only effective for mmap-backed memory.
	Reclaim bool

	// ReclaimMinOrder skips free blocks smaller than 2^ReclaimMinOrder pages.
	// 0 releases every free block.
	ReclaimMinOrder int
}

// Stats summarizes a Manager.
type Stats struct {
	Algorithm     string
	TotalPages    uint64
	FreePages     uint64
	ReservedPages uint64
	PageSize      uint64
	MaxOrder      int
	Allocator     buddy.Stats // zero unless the algorithm reports counters
}

// Manager serializes access to one page allocation algorithm over one memory.
type Manager struct {
	mu sync.Mutex

	mem *mm.Memory
	alg Algorithm
	log *slog.Logger

	metrics *metrics

	tracker    *reclaim.Tracker // nil when reclaim is disabled
	reclaimMin int

	initialized bool
	reserved    uint64
}

// New creates a Manager for mem. Call Init before allocating.
func New(mem *mm.Memory, opts Options) (*Manager, error) {
	if mem == nil {
		return nil, fmt.Errorf("pgalloc: nil memory")
	}
	name := opts.Algorithm
	if name == "" {
		name = buddy.AlgorithmName
	}
	factory, err := Lookup(name)
	if err != nil {
		return nil, err
	}
	alg, err := factory(mem, opts.MaxOrder)
	if err != nil {
		return nil, fmt.Errorf("pgalloc: create %s: %w", name, err)
	}

	if opts.ReclaimMinOrder < 0 {
		return nil, fmt.Errorf("pgalloc: negative reclaim min order %d", opts.ReclaimMinOrder)
	}

	log := opts.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	m := &Manager{
		mem:        mem,
		alg:        alg,
		log:        log.With("component", "pgalloc", "algorithm", alg.Name()),
		reclaimMin: opts.ReclaimMinOrder,
	}
	if opts.Reclaim && mem.Backing() == mm.BackingMmap && reclaim.Supported {
		m.tracker = reclaim.NewTracker(0)
	}

	m.metrics, err = newMetrics(m, opts.Registerer)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// Init hands the whole memory to the algorithm.
func (m *Manager) Init() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.alg.Init(m.mem.First(), m.mem.Len()); err != nil {
		return fmt.Errorf("pgalloc: init: %w", err)
	}
	for f := m.mem.Base(); f < m.mem.Base()+mm.Frame(m.mem.Len()); f++ {
		m.mem.PageAt(f).SetFlags(mm.PageFree)
	}
	m.initialized = true

	m.log.Info("page allocator initialized",
		"base", uint64(m.mem.Base()),
		"pages", m.mem.Len(),
		"page_size", m.mem.PageSize(),
		"max_order", m.alg.MaxOrder())
	return nil
}

// Name returns the algorithm name.
func (m *Manager) Name() string { return m.alg.Name() }

// Memory returns the managed memory.
func (m *Manager) Memory() *mm.Memory { return m.mem }

// MaxOrder returns the largest block order.
func (m *Manager) MaxOrder() int { return m.alg.MaxOrder() }

// AllocPages allocates 2^order contiguous pages. Returns ErrNoMemory when
// no block is available.
func (m *Manager) AllocPages(order int) (*mm.Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.initialized {
		return nil, ErrNotInitialized
	}

	p, err := m.alg.Alloc(order)
	if err != nil {
		m.metrics.allocs.WithLabelValues("no_memory").Inc()
		m.log.Debug("alloc failed", "order", order, "err", err)
		return nil, err
	}
	m.forEachPage(p, order, func(pg *mm.Page) { pg.ClearFlags(mm.PageFree) })

	m.metrics.allocs.WithLabelValues("ok").Inc()
	m.log.Debug("alloc", "order", order, "frame", uint64(m.mem.FrameOf(p)))
	return p, nil
}

// FreePages returns 2^order pages starting at p.
//
// Reserved pages may be freed; they become allocatable again.
// Panics with *buddy.InvariantError before Init, if any page of the block is
// already free, or on any contract violation reported by the algorithm.
func (m *Manager) FreePages(p *mm.Page, order int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.initialized {
		panic(&buddy.InvariantError{Op: "free", Order: order, Frame: mm.NoFrame, Err: ErrNotInitialized})
	}

	// Bad orders, nil and misaligned pages are left to the algorithm.
	if p != nil && order >= 0 && order <= m.alg.MaxOrder() {
		f := m.mem.FrameOf(p)
		if uint64(f)&(1<<uint(order)-1) == 0 {
			if dup := m.firstFree(p, order); dup.Valid() {
				panic(&buddy.InvariantError{
					Op:     "free",
					Order:  order,
					Frame:  f,
					Err:    buddy.ErrCorrupt,
					Detail: fmt.Sprintf("double free of frame 0x%X", uint64(dup)),
				})
			}
		}
	}

	m.alg.Free(p, order)
	m.forEachPage(p, order, func(pg *mm.Page) {
		if pg.Has(mm.PageReserved) {
			pg.ClearFlags(mm.PageReserved)
			m.reserved--
		}
		pg.SetFlags(mm.PageFree)
	})

	m.metrics.frees.Inc()
	m.log.Debug("free", "order", order, "frame", uint64(m.mem.FrameOf(p)))
}

// ReservePage withdraws p from future allocation. Returns false if p is not
// currently free.
func (m *Manager) ReservePage(p *mm.Page) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.initialized || p == nil {
		return false
	}
	return m.reserveLocked(p)
}

func (m *Manager) reserveLocked(p *mm.Page) bool {
	if !m.alg.ReservePage(p) {
		m.metrics.reserves.WithLabelValues("not_free").Inc()
		m.log.Debug("reserve failed", "frame", uint64(m.mem.FrameOf(p)))
		return false
	}
	p.ClearFlags(mm.PageFree)
	p.SetFlags(mm.PageReserved)
	m.reserved++

	m.metrics.reserves.WithLabelValues("ok").Inc()
	m.log.Debug("reserve", "frame", uint64(m.mem.FrameOf(p)))
	return true
}

// ReserveRange reserves n pages starting at frame start. Returns the number
// of pages reserved; pages that were not free are reported in an error
// wrapping ErrReserveRange.
func (m *Manager) ReserveRange(start mm.Frame, n uint64) (uint64, error) {
	if n == 0 {
		return 0, nil
	}
	if !m.mem.Contains(start) || n > m.mem.Len()-uint64(start-m.mem.Base()) {
		return 0, fmt.Errorf("%w: [0x%X, 0x%X+%d)", ErrOutOfRange, uint64(start), uint64(start), n)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.initialized {
		return 0, ErrNotInitialized
	}

	var done, missed uint64
	firstMiss := mm.NoFrame
	for f := start; f < start+mm.Frame(n); f++ {
		if m.reserveLocked(m.mem.PageAt(f)) {
			done++
			continue
		}
		missed++
		if !firstMiss.Valid() {
			firstMiss = f
		}
	}

	m.log.Info("reserved range", "start", uint64(start), "pages", n, "reserved", done)
	if missed > 0 {
		return done, fmt.Errorf("%w: %d of %d pages not free, first at 0x%X",
			ErrReserveRange, missed, n, uint64(firstMiss))
	}
	return done, nil
}

// DumpState logs every free list at debug level and returns the snapshot.
func (m *Manager) DumpState() []FreeArea {
	m.mu.Lock()
	areas := m.alg.DumpState()
	m.mu.Unlock()

	m.log.Debug("BUDDY STATE:")
	for _, area := range areas {
		var b strings.Builder
		fmt.Fprintf(&b, "[%d] ", area.Order)
		for _, f := range area.Frames {
			fmt.Fprintf(&b, "%x ", uint64(f))
		}
		m.log.Debug(strings.TrimSpace(b.String()))
	}
	return areas
}

// FreePageCount returns the number of free pages.
func (m *Manager) FreePageCount() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.alg.FreePageCount()
}

// ReservedPages returns the number of pages withdrawn by ReservePage and
// not freed since.
func (m *Manager) ReservedPages() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.reserved
}

// Stats returns a summary of the manager and, when available, algorithm counters.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Stats{
		Algorithm:     m.alg.Name(),
		TotalPages:    m.mem.Len(),
		FreePages:     m.alg.FreePageCount(),
		ReservedPages: m.reserved,
		PageSize:      m.mem.PageSize(),
		MaxOrder:      m.alg.MaxOrder(),
	}
	if sr, ok := m.alg.(interface{ Stats() buddy.Stats }); ok {
		s.Allocator = sr.Stats()
	}
	return s
}

// Verify checks the algorithm's internal invariants when it supports that.
func (m *Manager) Verify() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if v, ok := m.alg.(interface{ Verify() error }); ok {
		return v.Verify()
	}
	return nil
}

// Reclaim returns the backing memory of free blocks of at least
// 2^ReclaimMinOrder pages to the OS. Returns the bytes released; zero when
// reclaim is disabled or unsupported for the memory's backing.
func (m *Manager) Reclaim(ctx context.Context) (int64, error) {
	if m.tracker == nil {
		return 0, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	pageSize := int64(m.mem.PageSize())
	for _, area := range m.alg.DumpState() {
		if area.Order < m.reclaimMin {
			continue
		}
		blockBytes := pageSize << uint(area.Order)
		for _, f := range area.Frames {
			m.tracker.Add(int64(f-m.mem.Base())*pageSize, blockBytes)
		}
	}

	data, err := m.mem.Bytes(m.mem.Base(), m.mem.Len())
	if err != nil {
		m.tracker.Reset()
		return 0, fmt.Errorf("pgalloc: reclaim: %w", err)
	}
	n, err := m.tracker.Flush(ctx, data)
	m.metrics.reclaimed.Add(float64(n))
	m.log.Debug("reclaim", "bytes", n, "err", err)
	return n, err
}

// Close unregisters the manager's metrics. The memory is not closed.
func (m *Manager) Close() error {
	m.metrics.unregister()
	return nil
}

// firstFree returns the first frame of the block at p that is already free,
// or mm.NoFrame.
func (m *Manager) firstFree(p *mm.Page, order int) mm.Frame {
	dup := mm.NoFrame
	m.forEachPage(p, order, func(pg *mm.Page) {
		if !dup.Valid() && pg.Has(mm.PageFree) {
			dup = m.mem.FrameOf(pg)
		}
	})
	return dup
}

// forEachPage calls fn for each of the 2^order pages starting at p.
func (m *Manager) forEachPage(p *mm.Page, order int, fn func(*mm.Page)) {
	f := m.mem.FrameOf(p)
	for i := mm.Frame(0); i < mm.Frame(1)<<uint(order); i++ {
		if pg := m.mem.PageAt(f + i); pg != nil {
			fn(pg)
		}
	}
}
