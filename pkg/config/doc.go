// Package config loads pagekit configuration from YAML.
//
// A configuration describes the managed memory, the allocator, pages to
// reserve after initialization, reclaim, logging, and an optional script of
// steps for package scenario:
//
//	memory:
//	  pages: 65536
//	  page_size: 4096
//	  backing: mmap
//	allocator:
//	  algorithm: buddy
//	  max_order: 10
//	reserved:
//	  - { frame: 0, count: 16 }
//	script:
//	  - { op: alloc, order: 2, as: a }
//	  - { op: free, ref: a }
//
// Unknown keys are rejected.
package config
