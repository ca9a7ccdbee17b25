package scenario

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/joshuapare/pagekit/mm"
	"github.com/joshuapare/pagekit/mm/pgalloc"
	"github.com/joshuapare/pagekit/pkg/config"
)

var (
	// ErrUnknownRef indicates a free step names a block no alloc step bound.
	ErrUnknownRef = errors.New("scenario: unknown ref")

	// ErrDuplicateRef indicates an alloc step binds a name that is still live.
	ErrDuplicateRef = errors.New("scenario: ref already bound")

	// ErrUnknownOp indicates an unsupported step operation.
	ErrUnknownOp = errors.New("scenario: unknown op")

	// ErrExpectation indicates an expect_* step did not hold.
	ErrExpectation = errors.New("scenario: expectation failed")

	// ErrStepPanicked indicates the allocator panicked during a step.
	ErrStepPanicked = errors.New("scenario: step panicked")
)

// Env is an initialized allocator over its own memory.
type Env struct {
	Memory  *mm.Memory
	Manager *pgalloc.Manager
}

// Setup opens memory, creates and initializes a manager, and applies the
// configured reservations.
func Setup(cfg *config.Config, log *slog.Logger, reg prometheus.Registerer) (*Env, error) {
	memOpts, err := cfg.MemoryOptions()
	if err != nil {
		return nil, err
	}
	mem, err := mm.Open(memOpts)
	if err != nil {
		return nil, fmt.Errorf("scenario: open memory: %w", err)
	}

	mgr, err := pgalloc.New(mem, cfg.ManagerOptions(log, reg))
	if err != nil {
		_ = mem.Close()
		return nil, err
	}
	env := &Env{Memory: mem, Manager: mgr}

	if err := mgr.Init(); err != nil {
		_ = env.Close()
		return nil, err
	}
	for _, r := range cfg.Reserved {
		if _, err := mgr.ReserveRange(mm.Frame(r.Frame), r.Count); err != nil {
			_ = env.Close()
			return nil, err
		}
	}
	return env, nil
}

// Close unregisters the manager and releases the memory.
func (e *Env) Close() error {
	return errors.Join(e.Manager.Close(), e.Memory.Close())
}

// Result is the outcome of one step.
type Result struct {
	Index  int                `json:"index"`
	Op     string             `json:"op"`
	OK     bool               `json:"ok"`
	Frame  *mm.Frame          `json:"frame,omitempty"`
	Bytes  int64              `json:"bytes,omitempty"`
	State  []pgalloc.FreeArea `json:"state,omitempty"`
	Detail string             `json:"detail,omitempty"`
}

// Report collects step results.
type Report struct {
	Steps     []Result `json:"steps"`
	FreePages uint64   `json:"free_pages"`
}

// Failed returns the number of steps that did not succeed.
func (r *Report) Failed() int {
	n := 0
	for _, s := range r.Steps {
		if !s.OK {
			n++
		}
	}
	return n
}

type block struct {
	page  *mm.Page
	order int
}

type runner struct {
	m    *pgalloc.Manager
	live map[string]block
}

// Run executes steps in order against m.
//
// Allocation failures and reservation misses are recorded in the report and
// do not stop the run. Unknown ops, unknown refs, failed expectations and
// allocator panics stop the run and are returned with the partial report.
func Run(ctx context.Context, m *pgalloc.Manager, steps []config.Step) (*Report, error) {
	r := &runner{m: m, live: make(map[string]block)}
	report := &Report{}

	for i, step := range steps {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		res, err := r.step(ctx, i, step)
		report.Steps = append(report.Steps, res)
		if err != nil {
			report.FreePages = m.FreePageCount()
			return report, fmt.Errorf("step %d (%s): %w", i, step.Op, err)
		}
	}
	report.FreePages = m.FreePageCount()
	return report, nil
}

func (r *runner) step(ctx context.Context, i int, s config.Step) (res Result, err error) {
	res = Result{Index: i, Op: s.Op}
	defer func() {
		if p := recover(); p != nil {
			res.OK = false
			res.Detail = fmt.Sprint(p)
			if perr, ok := p.(error); ok {
				err = fmt.Errorf("%w: %w", ErrStepPanicked, perr)
				return
			}
			err = fmt.Errorf("%w: %v", ErrStepPanicked, p)
		}
	}()

	switch s.Op {
	case config.OpAlloc:
		if _, dup := r.live[s.As]; dup && s.As != "" {
			return res, fmt.Errorf("%w: %q", ErrDuplicateRef, s.As)
		}
		p, err := r.m.AllocPages(s.Order)
		if err != nil {
			if errors.Is(err, pgalloc.ErrNoMemory) {
				res.Detail = err.Error()
				return res, nil
			}
			return res, err
		}
		f := r.m.Memory().FrameOf(p)
		res.OK, res.Frame = true, &f
		if s.As != "" {
			r.live[s.As] = block{page: p, order: s.Order}
		}

	case config.OpFree:
		b, ok := r.live[s.Ref]
		if !ok {
			return res, fmt.Errorf("%w: %q", ErrUnknownRef, s.Ref)
		}
		f := r.m.Memory().FrameOf(b.page)
		res.Frame = &f
		r.m.FreePages(b.page, b.order)
		delete(r.live, s.Ref)
		res.OK = true

	case config.OpReserve:
		f := mm.Frame(s.Frame)
		res.Frame = &f
		p := r.m.Memory().PageAt(f)
		if p == nil {
			return res, fmt.Errorf("%w: 0x%X", pgalloc.ErrOutOfRange, s.Frame)
		}
		res.OK = r.m.ReservePage(p)
		if !res.OK {
			res.Detail = "page not free"
		}

	case config.OpDump:
		res.State = r.m.DumpState()
		res.OK = true

	case config.OpReclaim:
		n, err := r.m.Reclaim(ctx)
		if err != nil {
			return res, err
		}
		res.OK, res.Bytes = true, n

	case config.OpExpectFree:
		got := r.m.FreePageCount()
		if got != s.Pages {
			res.Detail = fmt.Sprintf("free pages %d, want %d", got, s.Pages)
			return res, fmt.Errorf("%w: %s", ErrExpectation, res.Detail)
		}
		res.OK = true

	case config.OpExpectFail:
		p, err := r.m.AllocPages(s.Order)
		if err == nil {
			r.m.FreePages(p, s.Order)
			res.Detail = fmt.Sprintf("order %d allocation succeeded", s.Order)
			return res, fmt.Errorf("%w: %s", ErrExpectation, res.Detail)
		}
		if !errors.Is(err, pgalloc.ErrNoMemory) {
			return res, err
		}
		res.OK = true

	default:
		return res, fmt.Errorf("%w: %q", ErrUnknownOp, s.Op)
	}
	return res, nil
}
