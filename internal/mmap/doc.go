// Package mmap provides platform-specific helpers for mapping the memory
// that backs simulated page frames.
package mmap
