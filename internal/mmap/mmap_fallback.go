//go:build !unix

package mmap

// Supported reports whether anonymous mappings are available on this platform.
const Supported = false

// Anonymous allocates size zeroed bytes on the Go heap when mmap is not available.
func Anonymous(size int) ([]byte, func() error, error) {
	if size <= 0 {
		return []byte{}, func() error { return nil }, nil
	}
	return make([]byte, size), func() error { return nil }, nil
}
