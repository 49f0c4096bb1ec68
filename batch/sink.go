package batch

import (
	"sync"

	"github.com/Skryldev/heic-converter/core"
)

// Sink receives the results of one batch: one OnOutcome call per submitted
// path, in completion order, then exactly one OnComplete call. The
// coordinator makes every call from a single goroutine, so implementations
// need no locking of their own against each other; they must not block for
// long, since a slow sink holds back the remaining outcomes.
type Sink interface {
	OnOutcome(o core.Outcome)
	OnComplete(s core.BatchSummary)
}

// FuncSink adapts two functions to Sink. Either may be nil.
type FuncSink struct {
	Outcome  func(core.Outcome)
	Complete func(core.BatchSummary)
}

func (f FuncSink) OnOutcome(o core.Outcome) {
	if f.Outcome != nil {
		f.Outcome(o)
	}
}

func (f FuncSink) OnComplete(s core.BatchSummary) {
	if f.Complete != nil {
		f.Complete(s)
	}
}

// ── Channel sink ──────────────────────────────────────────────────────────────

// ChanSink publishes every result as a core.Event on a channel and closes it
// after the complete event.
type ChanSink struct {
	events chan core.Event
}

// NewChanSink returns a ChanSink whose channel holds up to buffer events.
func NewChanSink(buffer int) *ChanSink {
	return &ChanSink{events: make(chan core.Event, max(buffer, 0))}
}

// Events returns the receive side of the channel.
func (c *ChanSink) Events() <-chan core.Event { return c.events }

func (c *ChanSink) OnOutcome(o core.Outcome) { c.events <- core.OutcomeEvent(o) }

func (c *ChanSink) OnComplete(s core.BatchSummary) {
	c.events <- core.CompleteEvent(s)
	close(c.events)
}

// ── Fan-out ───────────────────────────────────────────────────────────────────

// MultiSink forwards every call to each sink in order.
type MultiSink []Sink

func (m MultiSink) OnOutcome(o core.Outcome) {
	for _, s := range m {
		s.OnOutcome(o)
	}
}

func (m MultiSink) OnComplete(s core.BatchSummary) {
	for _, sk := range m {
		sk.OnComplete(s)
	}
}

// ── Collector ─────────────────────────────────────────────────────────────────

// Collector keeps every result in memory. It is safe to read while the batch
// is still running.
type Collector struct {
	mu       sync.Mutex
	outcomes []core.Outcome
	summary  *core.BatchSummary
}

// NewCollector returns an empty Collector.
func NewCollector() *Collector { return &Collector{} }

func (c *Collector) OnOutcome(o core.Outcome) {
	c.mu.Lock()
	c.outcomes = append(c.outcomes, o)
	c.mu.Unlock()
}

func (c *Collector) OnComplete(s core.BatchSummary) {
	c.mu.Lock()
	c.summary = &s
	c.mu.Unlock()
}

// Outcomes returns a copy of the outcomes received so far, in arrival order.
func (c *Collector) Outcomes() []core.Outcome {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]core.Outcome, len(c.outcomes))
	copy(out, c.outcomes)
	return out
}

// Summary returns the summary once it has arrived.
func (c *Collector) Summary() (core.BatchSummary, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.summary == nil {
		return core.BatchSummary{}, false
	}
	return *c.summary, true
}

// Progress returns the completion percentage (0-100) after received of total
// outcomes. An empty batch is complete.
func Progress(received, total int) float64 {
	if total <= 0 {
		return 100
	}
	if received >= total {
		return 100
	}
	if received <= 0 {
		return 0
	}
	return float64(received) * 100 / float64(total)
}

// compile-time interface checks
var (
	_ Sink = FuncSink{}
	_ Sink = (*ChanSink)(nil)
	_ Sink = MultiSink(nil)
	_ Sink = (*Collector)(nil)
)
