//go:build !linux && !darwin && !freebsd

package reclaim

// Supported reports whether Flush actually returns memory to the OS.
const Supported = false

// releaseRange is a no-op where madvise is unavailable.
func releaseRange([]byte) error { return nil }
