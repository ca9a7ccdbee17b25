package mm

// PageFlags carry descriptive state about a page. They are informational:
// allocators never consult them to make decisions.
type PageFlags uint8

const (
	// PageFree is set while the page belongs to a free block.
	PageFree PageFlags = 1 << iota
	// PageReserved is set once the page has been withdrawn from allocation.
	PageReserved
)

// Page is a page descriptor. There is exactly one per frame in a Memory.
type Page struct {
	pfn      Frame
	nextFree Frame // link owned by the page allocator while the page heads a free block
	flags    PageFlags
}

// NextFree returns the frame of the next block on the free list this page
// heads a block on, or NoFrame.
//
// The link is reserved for page allocators.
func (p *Page) NextFree() Frame { return p.nextFree }

// SetNextFree sets the free-list link. Reserved for page allocators.
func (p *Page) SetNextFree(f Frame) { p.nextFree = f }

// Flags returns the page flags.
func (p *Page) Flags() PageFlags { return p.flags }

// SetFlags sets the given flags.
func (p *Page) SetFlags(f PageFlags) { p.flags |= f }

// ClearFlags clears the given flags.
func (p *Page) ClearFlags(f PageFlags) { p.flags &^= f }

// Has reports whether all of f are set.
func (p *Page) Has(f PageFlags) bool { return p.flags&f == f }
