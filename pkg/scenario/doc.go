// Package scenario builds a page allocator from a config.Config and runs
// scripted steps against it.
package scenario
