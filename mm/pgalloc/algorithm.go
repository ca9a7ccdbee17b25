package pgalloc

import (
	"fmt"
	"sort"
	"sync"

	"github.com/joshuapare/pagekit/mm"
	"github.com/joshuapare/pagekit/mm/buddy"
)

// FreeArea is a snapshot of one free list.
type FreeArea = buddy.FreeArea

// Host maps between page descriptors and frame numbers.
type Host = buddy.Host

// Algorithm is a page allocation algorithm.
//
// Implementations:
//   - *buddy.Allocator: binary buddy system ("buddy")
//
// Algorithms are not safe for concurrent use; Manager serializes calls.
type Algorithm interface {
	// Name returns the name the algorithm is registered under.
	Name() string

	// Init hands count pages starting at first to the algorithm.
	Init(first *mm.Page, count uint64) error

	// Alloc returns the first page of 2^order free contiguous pages,
	// or ErrNoMemory.
	Alloc(order int) (*mm.Page, error)

	// Free returns 2^order pages starting at p. Panics on contract violation.
	Free(p *mm.Page, order int)

	// ReservePage withdraws p from future allocation. Returns false if p is not free.
	ReservePage(p *mm.Page) bool

	// DumpState returns every free list.
	DumpState() []FreeArea

	// FreePageCount returns the number of free pages.
	FreePageCount() uint64

	// MaxOrder returns the largest supported order.
	MaxOrder() int
}

// Factory creates an algorithm over host. maxOrder 0 selects the algorithm's default.
type Factory func(host Host, maxOrder int) (Algorithm, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

func init() {
	Register(buddy.AlgorithmName, func(host Host, maxOrder int) (Algorithm, error) {
		cfg := buddy.DefaultConfig
		if maxOrder != 0 {
			cfg.MaxOrder = maxOrder
		}
		return buddy.New(host, &cfg)
	})
}

// Register makes an algorithm available by name.
// Panics if name is empty, factory is nil or name is already registered.
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if name == "" || factory == nil {
		panic("pgalloc: Register with empty name or nil factory")
	}
	if _, dup := registry[name]; dup {
		panic("pgalloc: Register called twice for algorithm " + name)
	}
	registry[name] = factory
}

// Lookup returns the factory registered under name.
func Lookup(name string) (Factory, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	f, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, name)
	}
	return f, nil
}

// Algorithms returns the registered algorithm names, sorted.
func Algorithms() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
