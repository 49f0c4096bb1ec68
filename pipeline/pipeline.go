// Package pipeline wires the per-file conversion steps together and runs hooks
// around them.
package pipeline

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/Skryldev/heic-converter/core"
	apperrors "github.com/Skryldev/heic-converter/errors"
)

// Pipeline executes a sequence of Steps with hook support. A failing step
// stops the chain; nothing is retried.
type Pipeline struct {
	steps []core.Step
	hooks []core.Hook
}

// New returns an empty Pipeline.
func New() *Pipeline { return &Pipeline{} }

// Use appends a step to the pipeline.  Returns the same Pipeline for chaining.
func (p *Pipeline) Use(s ...core.Step) *Pipeline {
	p.steps = append(p.steps, s...)
	return p
}

// AddHook registers an observer.
func (p *Pipeline) AddHook(h core.Hook) *Pipeline {
	p.hooks = append(p.hooks, h)
	return p
}

// Steps returns the step names in execution order.
func (p *Pipeline) Steps() []string {
	names := make([]string, len(p.steps))
	for i, s := range p.steps {
		names[i] = s.Name()
	}
	return names
}

// Run executes the pipeline on c. It returns per-step timings and the first
// error, which always carries a category. When ctx is done the next step is
// not executed, but its hooks still run and see a canceled error.
func (p *Pipeline) Run(ctx context.Context, c *core.Conversion) (map[string]time.Duration, error) {
	timings := make(map[string]time.Duration, len(p.steps))

	for _, step := range p.steps {
		if err := ctx.Err(); err != nil {
			err = apperrors.Wrap(apperrors.CategoryCanceled, step.Name(), err)
			p.callHooksBefore(ctx, step.Name(), c)
			p.callHooksAfter(ctx, step.Name(), c, 0, err)
			return timings, err
		}

		elapsed, err := p.runStep(ctx, step, c)
		timings[step.Name()] = elapsed
		if err != nil {
			return timings, err
		}
	}
	return timings, nil
}

// runStep executes a single step between its hooks. A panic inside the step
// becomes an internal error.
func (p *Pipeline) runStep(ctx context.Context, step core.Step, c *core.Conversion) (elapsed time.Duration, err error) {
	p.callHooksBefore(ctx, step.Name(), c)

	start := time.Now()
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = apperrors.New(apperrors.CategoryInternal, step.Name(),
					fmt.Errorf("panic: %v\n%s", r, debug.Stack()))
			}
		}()
		err = step.Execute(ctx, c)
	}()
	elapsed = time.Since(start)

	if err != nil {
		err = apperrors.Wrap(apperrors.CategoryInternal, step.Name(), err)
	}

	p.callHooksAfter(ctx, step.Name(), c, elapsed, err)
	return elapsed, err
}

func (p *Pipeline) callHooksBefore(ctx context.Context, name string, c *core.Conversion) {
	for _, h := range p.hooks {
		h.BeforeStep(ctx, name, c)
	}
}

func (p *Pipeline) callHooksAfter(ctx context.Context, name string, c *core.Conversion, d time.Duration, err error) {
	for _, h := range p.hooks {
		h.AfterStep(ctx, name, c, d, err)
	}
}
