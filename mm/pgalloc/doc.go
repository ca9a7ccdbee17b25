// Package pgalloc is the page-allocator front end used by the rest of the
// system.
//
// # Overview
//
// A Manager binds one mm.Memory to one allocation algorithm selected by
// name and serializes every operation behind a single lock covering the
// whole free-area table.
//
// # Usage
//
//	mem, _ := mm.Open(mm.Options{Pages: 65536})
//	m, err := pgalloc.New(mem, pgalloc.Options{Algorithm: "buddy"})
//	if err != nil {
//	    return err
//	}
//	if err := m.Init(); err != nil {
//	    return err
//	}
//	_, _ = m.ReserveRange(0, 16) // e.g. the kernel image
//
//	p, err := m.AllocPages(2) // 4 contiguous pages
//	if errors.Is(err, pgalloc.ErrNoMemory) {
//	    // out of memory: caller's policy
//	}
//	m.FreePages(p, 2)
//
// # Algorithms
//
// Algorithms register themselves with Register. The buddy allocator is
// registered as "buddy".
//
// # Observability
//
// Operations are logged through the configured *slog.Logger (debug level
// for individual operations) and counted in Prometheus metrics registered
// with Options.Registerer. Free-list gauges are computed at scrape time.
package pgalloc
