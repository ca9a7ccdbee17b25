package mm

import (
	"fmt"
	"math/bits"

	"github.com/joshuapare/pagekit/internal/mmap"
)

const (
	// MinPageSize is the smallest supported page size.
	MinPageSize = 512

	// DefaultPageSize is the page size used when Options.PageSize is zero.
	DefaultPageSize = 4096
)

// Backing selects where page contents live.
type Backing int

const (
	// BackingHeap stores page contents in a Go slice.
	BackingHeap Backing = iota
	// BackingMmap stores page contents in an anonymous private mapping.
	// Falls back to BackingHeap on platforms without mmap.
	BackingMmap
)

// String returns the configuration name of the backing.
func (b Backing) String() string {
	switch b {
	case BackingHeap:
		return "heap"
	case BackingMmap:
		return "mmap"
	default:
		return fmt.Sprintf("Backing(%d)", int(b))
	}
}

// ParseBacking converts a configuration name into a Backing.
func ParseBacking(s string) (Backing, error) {
	switch s {
	case "", "heap":
		return BackingHeap, nil
	case "mmap":
		return BackingMmap, nil
	default:
		return BackingHeap, fmt.Errorf("mm: unknown backing %q", s)
	}
}

// Options controls Open.
type Options struct {
	Pages    uint64  // Number of page frames (required)
	PageSize uint64  // Bytes per page. Default: DefaultPageSize
	Base     Frame   // Frame number of the first page. Default: 0
	Backing  Backing // Storage for page contents. Default: BackingHeap
}

// Memory is a contiguous run of page frames and their descriptors.
//
// NOT thread-safe. Descriptor link fields are mutated by the page
// allocator under its own lock.
type Memory struct {
	base     Frame
	pageSize uint64
	pages    []Page
	data     []byte
	release  func() error
	backing  Backing
}

// Open creates the descriptors and backing storage for opts.Pages frames.
func Open(opts Options) (*Memory, error) {
	if opts.Pages == 0 {
		return nil, ErrNoPages
	}
	pageSize := opts.PageSize
	if pageSize == 0 {
		pageSize = DefaultPageSize
	}
	if pageSize < MinPageSize || bits.OnesCount64(pageSize) != 1 {
		return nil, fmt.Errorf("%w: got %d", ErrPageSize, pageSize)
	}
	if opts.Base > NoFrame-Frame(opts.Pages) {
		return nil, fmt.Errorf("%w: base %d + %d pages overflows", ErrOutOfRange, opts.Base, opts.Pages)
	}
	hi, size := bits.Mul64(opts.Pages, pageSize)
	if hi != 0 || size > uint64(^uint(0)>>1) {
		return nil, fmt.Errorf("mm: %d pages of %d bytes do not fit in memory", opts.Pages, pageSize)
	}

	m := &Memory{
		base:     opts.Base,
		pageSize: pageSize,
		pages:    make([]Page, opts.Pages),
		backing:  opts.Backing,
	}
	for i := range m.pages {
		m.pages[i] = Page{pfn: opts.Base + Frame(i), nextFree: NoFrame}
	}

	switch {
	case opts.Backing == BackingMmap && mmap.Supported:
		data, release, err := mmap.Anonymous(int(size))
		if err != nil {
			return nil, err
		}
		m.data, m.release = data, release
	default:
		m.backing = BackingHeap
		m.data = make([]byte, size)
		m.release = func() error { return nil }
	}
	return m, nil
}

// Close releases the backing storage. Descriptors stay readable.
func (m *Memory) Close() error {
	if m == nil || m.release == nil {
		return nil
	}
	err := m.release()
	m.release = nil
	m.data = nil
	return err
}

// Base returns the frame number of the first page.
func (m *Memory) Base() Frame { return m.base }

// Len returns the number of pages.
func (m *Memory) Len() uint64 { return uint64(len(m.pages)) }

// PageSize returns the number of bytes per page.
func (m *Memory) PageSize() uint64 { return m.pageSize }

// Backing returns the effective backing of the page contents.
func (m *Memory) Backing() Backing { return m.backing }

// First returns the descriptor of the first page.
func (m *Memory) First() *Page { return &m.pages[0] }

// Contains reports whether f lies inside the memory.
func (m *Memory) Contains(f Frame) bool {
	return f >= m.base && f-m.base < Frame(len(m.pages))
}

// PageAt returns the descriptor of frame f, or nil when f lies outside the memory.
func (m *Memory) PageAt(f Frame) *Page {
	if !m.Contains(f) {
		return nil
	}
	return &m.pages[f-m.base]
}

// FrameOf returns the frame number described by p.
func (m *Memory) FrameOf(p *Page) Frame {
	return p.pfn
}

// Bytes returns the backing storage of n pages starting at frame f.
func (m *Memory) Bytes(f Frame, n uint64) ([]byte, error) {
	if m.data == nil {
		return nil, ErrClosed
	}
	if n == 0 || !m.Contains(f) || n > m.Len()-uint64(f-m.base) {
		return nil, fmt.Errorf("%w: frames [%d, %d+%d)", ErrOutOfRange, f, f, n)
	}
	off := uint64(f-m.base) * m.pageSize
	return m.data[off : off+n*m.pageSize], nil
}
