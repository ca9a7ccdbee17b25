// Package mm models the host side of physical page management: page frame
// numbers, page descriptors and the contiguous run of memory they describe.
//
// # Overview
//
// A Memory owns an array of page descriptors (one per page frame) together
// with the storage that backs those pages. Page allocators never own
// descriptors; they borrow the next-free link of a descriptor while the
// page is on one of their free lists.
//
// # Frames and Descriptors
//
// Frames are plain page frame numbers. The mapping between a frame and its
// descriptor is provided by Memory:
//
//	mem, err := mm.Open(mm.Options{Pages: 1024, PageSize: 4096})
//	if err != nil {
//	    return err
//	}
//	defer mem.Close()
//
//	p := mem.PageAt(16)      // descriptor for frame 16
//	f := mem.FrameOf(p)      // 16
//	buf, _ := mem.Bytes(f, 4) // backing storage of frames 16..19
//
// PageAt returns nil for frames outside the run, so buddy computations that
// fall off either end of memory resolve to "no such page".
//
// # Backing
//
// BackingHeap keeps page contents in an ordinary Go slice. BackingMmap uses
// an anonymous private mapping, which lets free pages be handed back to the
// operating system (see package reclaim).
package mm
