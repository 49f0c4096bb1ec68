// Package batch runs conversion batches: it bounds how many files are in
// flight, streams each outcome to a Sink as it completes, and emits one
// summary when every submitted path has been accounted for.
package batch

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/Skryldev/heic-converter/core"
	apperrors "github.com/Skryldev/heic-converter/errors"
)

// ErrCoordinatorReused is returned when Start or Run is called on a
// Coordinator that already ran a batch.
var ErrCoordinatorReused = errors.New("batch: coordinator already used")

// State is the lifecycle phase of a Coordinator.
type State int

const (
	StateIdle State = iota
	StateDispatching
	StateDraining
	StateCompleted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDispatching:
		return "dispatching"
	case StateDraining:
		return "draining"
	case StateCompleted:
		return "completed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// FileConverter converts one path. pipeline.Worker implements it.
type FileConverter interface {
	Convert(ctx context.Context, index int, path string) core.Outcome
}

// ConverterFunc adapts a function to FileConverter.
type ConverterFunc func(ctx context.Context, index int, path string) core.Outcome

func (f ConverterFunc) Convert(ctx context.Context, index int, path string) core.Outcome {
	return f(ctx, index, path)
}

// Options tunes a Coordinator.
type Options struct {
	// Workers caps how many files are converted at once. Values below 1 mean 1.
	Workers int
	// SlowFileThreshold logs a warning for files still running after this
	// long. 0 disables it. Slow files are never interrupted.
	SlowFileThreshold time.Duration
	Logger            core.Logger
}

// Coordinator runs exactly one batch.
type Coordinator struct {
	conv    FileConverter
	workers int
	slow    time.Duration
	log     core.Logger

	mu    sync.Mutex
	state State
}

// NewCoordinator returns an idle Coordinator that converts files with conv.
func NewCoordinator(conv FileConverter, opts Options) *Coordinator {
	if opts.Logger == nil {
		opts.Logger = core.NopLogger{}
	}
	return &Coordinator{
		conv:    conv,
		workers: max(opts.Workers, 1),
		slow:    opts.SlowFileThreshold,
		log:     opts.Logger,
	}
}

// State returns the current lifecycle phase.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Coordinator) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Run is the blocking form of Start.
func (c *Coordinator) Run(ctx context.Context, paths []string, sink Sink) (core.BatchSummary, error) {
	h, err := c.Start(ctx, paths, sink)
	if err != nil {
		return core.BatchSummary{}, err
	}
	return h.Wait(), nil
}

// Start launches the batch and returns at once. sink receives len(paths)
// outcomes, then the summary. Cancelling ctx stops dispatch: paths not yet
// started get a canceled failure while files already in flight run to the
// end. A nil sink discards everything.
func (c *Coordinator) Start(ctx context.Context, paths []string, sink Sink) (*Handle, error) {
	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return nil, ErrCoordinatorReused
	}
	c.state = StateDispatching
	c.mu.Unlock()

	if sink == nil {
		sink = FuncSink{}
	}
	paths = append([]string(nil), paths...)

	h := &Handle{batchID: uuid.NewString(), done: make(chan struct{})}
	start := time.Now()

	c.log.Info("batch.start",
		"batch_id", h.batchID,
		"total", len(paths),
		"workers", c.workers,
	)

	completions := make(chan core.Outcome, c.workers)
	go c.dispatch(ctx, paths, completions)
	go c.arbitrate(h, start, len(paths), completions, sink)

	return h, nil
}

// dispatch feeds paths into a sliding window of at most c.workers running
// conversions and reports every path on completions exactly once.
func (c *Coordinator) dispatch(ctx context.Context, paths []string, completions chan<- core.Outcome) {
	runCtx := context.WithoutCancel(ctx)

	var g errgroup.Group
	g.SetLimit(c.workers)

	for i, p := range paths {
		if ctx.Err() != nil {
			for j := i; j < len(paths); j++ {
				completions <- canceled(ctx, j, paths[j])
			}
			break
		}

		g.Go(func() error {
			// The slot may have opened only after cancellation.
			if ctx.Err() != nil {
				completions <- canceled(ctx, i, p)
				return nil
			}
			completions <- c.convert(runCtx, i, p)
			return nil
		})
	}

	c.mu.Lock()
	if c.state == StateDispatching {
		c.state = StateDraining
	}
	c.mu.Unlock()

	_ = g.Wait()
}

// convert runs one file, turning a panic into an internal failure and
// warning when the file is slow.
func (c *Coordinator) convert(ctx context.Context, index int, path string) (out core.Outcome) {
	if c.slow > 0 {
		started := time.Now()
		t := time.AfterFunc(c.slow, func() {
			c.log.Warn("batch.file.slow",
				"index", index,
				"path", path,
				"elapsed_ms", time.Since(started).Milliseconds(),
			)
		})
		defer t.Stop()
	}

	defer func() {
		if r := recover(); r != nil {
			out = core.Outcome{
				Err: apperrors.New(apperrors.CategoryInternal, "batch.convert",
					fmt.Errorf("panic: %v\n%s", r, debug.Stack())),
			}
		}
		out.Index, out.Path = index, path
		if out.Err == nil && out.Info == nil {
			out.Err = apperrors.New(apperrors.CategoryInternal, "batch.convert",
				errors.New("converter returned neither result nor error"))
		}
	}()

	return c.conv.Convert(ctx, index, path)
}

// arbitrate is the only goroutine that touches sink. It forwards outcomes as
// they arrive and emits the summary once total have been seen.
func (c *Coordinator) arbitrate(h *Handle, start time.Time, total int, completions <-chan core.Outcome, sink Sink) {
	summary := core.BatchSummary{BatchID: h.batchID, Total: total}

	for received := 0; received < total; received++ {
		o := <-completions
		if o.OK() {
			summary.Succeeded++
		} else {
			summary.Failed++
		}
		c.deliver(func() { sink.OnOutcome(o) })
	}

	if total == 0 {
		summary.Err = apperrors.New(apperrors.CategoryInput, "batch.start", apperrors.ErrEmptyInput)
	} else {
		summary.TotalTime = time.Since(start)
	}

	c.setState(StateCompleted)
	c.deliver(func() { sink.OnComplete(summary) })

	c.log.Info("batch.complete",
		"batch_id", summary.BatchID,
		"total", summary.Total,
		"succeeded", summary.Succeeded,
		"failed", summary.Failed,
		"total_ms", summary.TotalTime.Milliseconds(),
	)

	h.finish(summary)
}

// deliver calls into the sink, keeping a panicking sink from stalling the
// batch.
func (c *Coordinator) deliver(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("batch.sink.panic", "panic", fmt.Sprint(r))
		}
	}()
	fn()
}

func canceled(ctx context.Context, index int, path string) core.Outcome {
	return core.Outcome{
		Index: index,
		Path:  path,
		Err:   apperrors.Canceled("batch.dispatch", context.Cause(ctx)),
	}
}

// ── Handle ────────────────────────────────────────────────────────────────────

// Handle tracks a running batch.
type Handle struct {
	batchID string
	done    chan struct{}

	mu      sync.Mutex
	summary core.BatchSummary
}

// BatchID returns the identifier shared by the batch's log lines and summary.
func (h *Handle) BatchID() string { return h.batchID }

// Done is closed after the sink has received the summary.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Wait blocks until the batch completes and returns its summary.
func (h *Handle) Wait() core.BatchSummary {
	<-h.done
	return h.Summary()
}

// Summary returns the summary, or the zero value while the batch is running.
func (h *Handle) Summary() core.BatchSummary {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.summary
}

// Completed reports whether the summary has been emitted.
func (h *Handle) Completed() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

func (h *Handle) finish(s core.BatchSummary) {
	h.mu.Lock()
	h.summary = s
	h.mu.Unlock()
	close(h.done)
}
