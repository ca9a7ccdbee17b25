//go:build linux || darwin || freebsd

package reclaim

import "golang.org/x/sys/unix"

// Supported reports whether Flush actually returns memory to the OS.
const Supported = true

// releaseRange drops the physical pages behind b. On linux an anonymous
// private range reads back as zeros; other systems may keep the old contents.
func releaseRange(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	return unix.Madvise(b, unix.MADV_DONTNEED)
}
