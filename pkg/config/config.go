package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"gopkg.in/yaml.v3"

	"github.com/joshuapare/pagekit/internal/logger"
	"github.com/joshuapare/pagekit/mm"
	"github.com/joshuapare/pagekit/mm/buddy"
	"github.com/joshuapare/pagekit/mm/pgalloc"
)

// ErrInvalid indicates a configuration value failed validation.
var ErrInvalid = errors.New("config: invalid")

// Config is the top-level configuration document.
type Config struct {
	Memory    Memory    `yaml:"memory"`
	Allocator Allocator `yaml:"allocator"`
	Reserved  []Reserve `yaml:"reserved,omitempty"`
	Reclaim   Reclaim   `yaml:"reclaim"`
	Log       Log       `yaml:"log"`
	Script    []Step    `yaml:"script,omitempty"`
}

// Memory describes the page frames to manage.
type Memory struct {
	Pages     uint64 `yaml:"pages"`
	PageSize  uint64 `yaml:"page_size"`
	BaseFrame uint64 `yaml:"base_frame"`
	Backing   string `yaml:"backing"` // heap or mmap
}

// Allocator selects the page allocation algorithm.
type Allocator struct {
	Algorithm string `yaml:"algorithm"`
	MaxOrder  int    `yaml:"max_order"`
}

// Reserve withdraws Count pages starting at Frame right after initialization.
type Reserve struct {
	Frame uint64 `yaml:"frame"`
	Count uint64 `yaml:"count"`
}

// Reclaim controls returning free block memory to the OS. MinOrder is
// used as given; 0 releases every free block. Default sets 4.
type Reclaim struct {
	Enabled  bool `yaml:"enabled"`
	MinOrder int  `yaml:"min_order"`
}

// Log controls file logging (see internal/logger).
type Log struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir"`
	Level   string `yaml:"level"`
}

// Step is one scripted operation.
type Step struct {
	Op    string `yaml:"op"`
	Order int    `yaml:"order,omitempty"`
	As    string `yaml:"as,omitempty"`
	Ref   string `yaml:"ref,omitempty"`
	Frame uint64 `yaml:"frame,omitempty"`
	Pages uint64 `yaml:"pages,omitempty"`
}

// Step operations.
const (
	OpAlloc      = "alloc"
	OpFree       = "free"
	OpReserve    = "reserve"
	OpDump       = "dump"
	OpReclaim    = "reclaim"
	OpExpectFree = "expect_free"
	OpExpectFail = "expect_fail"
)

// Default returns a configuration for 256 MiB of 4 KiB heap-backed pages.
func Default() *Config {
	return &Config{
		Memory: Memory{
			Pages:    65536,
			PageSize: mm.DefaultPageSize,
			Backing:  mm.BackingHeap.String(),
		},
		Allocator: Allocator{
			Algorithm: buddy.AlgorithmName,
			MaxOrder:  buddy.DefaultMaxOrder,
		},
		Reclaim: Reclaim{MinOrder: pgalloc.DefaultReclaimMinOrder},
		Log:     Log{Level: "info"},
	}
}

// Load reads and validates the configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML over Default and validates the result.
// An empty document yields the defaults.
func Parse(data []byte) (*Config, error) {
	cfg := Default()

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: parse: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Marshal encodes cfg as YAML.
func Marshal(cfg *Config) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return nil, fmt.Errorf("config: encode: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Validate checks every field and returns the first problem found.
func (c *Config) Validate() error {
	if c.Memory.Pages == 0 {
		return invalid("memory.pages", "must be > 0")
	}
	if ps := c.Memory.PageSize; ps != 0 && (ps < mm.MinPageSize || ps&(ps-1) != 0) {
		return invalid("memory.page_size", "%d is not a power of two >= %d", ps, mm.MinPageSize)
	}
	if _, err := mm.ParseBacking(c.Memory.Backing); err != nil {
		return invalid("memory.backing", "%v", err)
	}
	if c.Memory.BaseFrame > uint64(mm.NoFrame)-c.Memory.Pages {
		return invalid("memory.base_frame", "base %d + %d pages overflows", c.Memory.BaseFrame, c.Memory.Pages)
	}

	if c.Allocator.Algorithm != "" {
		if _, err := pgalloc.Lookup(c.Allocator.Algorithm); err != nil {
			return invalid("allocator.algorithm", "%v", err)
		}
	}
	if c.Allocator.MaxOrder < 0 || c.Allocator.MaxOrder > buddy.MaxSupportedOrder {
		return invalid("allocator.max_order", "%d outside [0, %d]", c.Allocator.MaxOrder, buddy.MaxSupportedOrder)
	}

	end := c.Memory.BaseFrame + c.Memory.Pages
	for i, r := range c.Reserved {
		if r.Count == 0 {
			return invalid(fmt.Sprintf("reserved[%d].count", i), "must be > 0")
		}
		if r.Frame < c.Memory.BaseFrame || r.Frame >= end || r.Count > end-r.Frame {
			return invalid(fmt.Sprintf("reserved[%d]", i), "frames [%d, %d+%d) outside memory [%d, %d)",
				r.Frame, r.Frame, r.Count, c.Memory.BaseFrame, end)
		}
	}

	if c.Reclaim.MinOrder < 0 || c.Reclaim.MinOrder > buddy.MaxSupportedOrder {
		return invalid("reclaim.min_order", "%d outside [0, %d]", c.Reclaim.MinOrder, buddy.MaxSupportedOrder)
	}

	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		return invalid("log.level", "%v", err)
	}

	for i, s := range c.Script {
		if err := s.validate(); err != nil {
			return fmt.Errorf("%w: script[%d]: %v", ErrInvalid, i, err)
		}
	}
	return nil
}

func (s Step) validate() error {
	switch s.Op {
	case OpAlloc, OpExpectFail:
		if s.Order < 0 || s.Order > buddy.MaxSupportedOrder {
			return fmt.Errorf("order %d out of range", s.Order)
		}
	case OpFree:
		if s.Ref == "" {
			return errors.New("free needs ref")
		}
	case OpReserve, OpDump, OpReclaim, OpExpectFree:
	case "":
		return errors.New("missing op")
	default:
		return fmt.Errorf("unknown op %q", s.Op)
	}
	return nil
}

// MemoryOptions converts the memory section for mm.Open.
func (c *Config) MemoryOptions() (mm.Options, error) {
	backing, err := mm.ParseBacking(c.Memory.Backing)
	if err != nil {
		return mm.Options{}, err
	}
	return mm.Options{
		Pages:    c.Memory.Pages,
		PageSize: c.Memory.PageSize,
		Base:     mm.Frame(c.Memory.BaseFrame),
		Backing:  backing,
	}, nil
}

// ManagerOptions converts the allocator and reclaim sections for pgalloc.New.
func (c *Config) ManagerOptions(log *slog.Logger, reg prometheus.Registerer) pgalloc.Options {
	return pgalloc.Options{
		Algorithm:       c.Allocator.Algorithm,
		MaxOrder:        c.Allocator.MaxOrder,
		Logger:          log,
		Registerer:      reg,
		Reclaim:         c.Reclaim.Enabled,
		ReclaimMinOrder: c.Reclaim.MinOrder,
	}
}

// LoggerOptions converts the log section for logger.Init.
func (c *Config) LoggerOptions() (logger.Options, error) {
	level, err := logger.ParseLevel(c.Log.Level)
	if err != nil {
		return logger.Options{}, err
	}
	return logger.Options{Enabled: c.Log.Enabled, LogDir: c.Log.Dir, Level: level}, nil
}

func invalid(field, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", ErrInvalid, field, fmt.Sprintf(format, args...))
}
