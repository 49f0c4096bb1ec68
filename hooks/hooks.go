// Package hooks provides production-ready Hook and Logger implementations.
package hooks

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Skryldev/heic-converter/core"
	apperrors "github.com/Skryldev/heic-converter/errors"
	"github.com/Skryldev/heic-converter/pipeline"
)

// ── Structured logger adapter ─────────────────────────────────────────────────

// SlogLogger wraps the standard library slog.Logger to satisfy core.Logger.
type SlogLogger struct {
	log *slog.Logger
}

// NewSlogLogger creates a logger backed by slog.
func NewSlogLogger(l *slog.Logger) *SlogLogger {
	if l == nil {
		l = slog.Default()
	}
	return &SlogLogger{log: l}
}

func (s *SlogLogger) Debug(msg string, fields ...interface{}) {
	s.log.Debug(msg, toAttrs(fields)...)
}
func (s *SlogLogger) Info(msg string, fields ...interface{}) {
	s.log.Info(msg, toAttrs(fields)...)
}
func (s *SlogLogger) Warn(msg string, fields ...interface{}) {
	s.log.Warn(msg, toAttrs(fields)...)
}
func (s *SlogLogger) Error(msg string, fields ...interface{}) {
	s.log.Error(msg, toAttrs(fields)...)
}

func toAttrs(fields []interface{}) []any { return fields }

// ── Logging hook ──────────────────────────────────────────────────────────────

// LoggingHook logs before/after each pipeline step.
type LoggingHook struct {
	logger core.Logger
}

// NewLoggingHook creates a LoggingHook.
func NewLoggingHook(l core.Logger) *LoggingHook { return &LoggingHook{logger: l} }

func (h *LoggingHook) BeforeStep(_ context.Context, stepName string, c *core.Conversion) {
	h.logger.Debug("pipeline.step.start",
		"step", stepName,
		"index", c.Index,
		"source", c.Source,
	)
}

func (h *LoggingHook) AfterStep(_ context.Context, stepName string, c *core.Conversion, d time.Duration, err error) {
	if err != nil {
		h.logger.Error("pipeline.step.error",
			"step", stepName,
			"source", c.Source,
			"category", apperrors.CategoryOf(err),
			"duration_ms", d.Milliseconds(),
			"error", err.Error(),
		)
		return
	}
	fields := []interface{}{
		"step", stepName,
		"source", c.Source,
		"duration_ms", d.Milliseconds(),
	}
	if c.Raster != nil {
		fields = append(fields, "width", c.Raster.Width, "height", c.Raster.Height, "orientation", c.Raster.Orientation)
	}
	if c.Written > 0 {
		fields = append(fields, "destination", c.Destination, "bytes", c.Written)
	}
	h.logger.Debug("pipeline.step.done", fields...)
}

// ── In-memory metrics collector ───────────────────────────────────────────────

// InMemoryMetrics accumulates metrics atomically; safe for concurrent use.
type InMemoryMetrics struct {
	mu sync.RWMutex

	stepDurationsMs map[string]int64 // cumulative ms per step
	stepCalls       map[string]int64 // call count per step
	stepErrors      map[string]int64
	errorCategories map[string]int64

	totalThroughputB int64
	totalMemoryB     int64
}

// NewInMemoryMetrics creates an empty metrics store.
func NewInMemoryMetrics() *InMemoryMetrics {
	return &InMemoryMetrics{
		stepDurationsMs: make(map[string]int64),
		stepCalls:       make(map[string]int64),
		stepErrors:      make(map[string]int64),
		errorCategories: make(map[string]int64),
	}
}

func (m *InMemoryMetrics) RecordProcessingTime(stepName string, d interface{ Seconds() float64 }) {
	ms := int64(d.Seconds() * 1000)
	m.mu.Lock()
	m.stepDurationsMs[stepName] += ms
	m.stepCalls[stepName]++
	m.mu.Unlock()
}

func (m *InMemoryMetrics) RecordThroughput(bytes int64) {
	atomic.AddInt64(&m.totalThroughputB, bytes)
}

func (m *InMemoryMetrics) RecordMemory(bytes int64) {
	atomic.AddInt64(&m.totalMemoryB, bytes)
}

func (m *InMemoryMetrics) RecordError(stepName string, category string) {
	m.mu.Lock()
	m.stepErrors[stepName]++
	m.errorCategories[category]++
	m.mu.Unlock()
}

// Snapshot returns a copy of current metrics.
func (m *InMemoryMetrics) Snapshot() MetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap := MetricsSnapshot{
		StepDurationsMs:  make(map[string]int64, len(m.stepDurationsMs)),
		StepCalls:        make(map[string]int64, len(m.stepCalls)),
		StepErrors:       make(map[string]int64, len(m.stepErrors)),
		ErrorCategories:  make(map[string]int64, len(m.errorCategories)),
		TotalThroughputB: atomic.LoadInt64(&m.totalThroughputB),
		TotalMemoryB:     atomic.LoadInt64(&m.totalMemoryB),
	}
	for k, v := range m.stepDurationsMs {
		snap.StepDurationsMs[k] = v
	}
	for k, v := range m.stepCalls {
		snap.StepCalls[k] = v
	}
	for k, v := range m.stepErrors {
		snap.StepErrors[k] = v
	}
	for k, v := range m.errorCategories {
		snap.ErrorCategories[k] = v
	}
	return snap
}

// MetricsSnapshot is an immutable point-in-time copy of metrics.
type MetricsSnapshot struct {
	StepDurationsMs  map[string]int64
	StepCalls        map[string]int64
	StepErrors       map[string]int64
	ErrorCategories  map[string]int64
	TotalThroughputB int64 // bytes written to destinations
	TotalMemoryB     int64 // cumulative source bytes held in memory
}

// ── Metrics hook ──────────────────────────────────────────────────────────────

// MetricsHook feeds pipeline events into a MetricsCollector.
type MetricsHook struct {
	collector core.MetricsCollector
}

// NewMetricsHook creates a MetricsHook.
func NewMetricsHook(c core.MetricsCollector) *MetricsHook { return &MetricsHook{collector: c} }

func (h *MetricsHook) BeforeStep(_ context.Context, _ string, _ *core.Conversion) {}

func (h *MetricsHook) AfterStep(_ context.Context, stepName string, c *core.Conversion, d time.Duration, err error) {
	h.collector.RecordProcessingTime(stepName, d)
	if err != nil {
		h.collector.RecordError(stepName, string(apperrors.CategoryOf(err)))
		return
	}
	switch stepName {
	case pipeline.StepRead:
		h.collector.RecordMemory(c.SourceSize)
	case pipeline.StepWrite:
		h.collector.RecordThroughput(c.Written)
	}
}

// ── Raster gauge ──────────────────────────────────────────────────────────────

// RasterGauge counts decoded rasters currently held in memory and remembers
// the peak. A raster is counted from a successful decode until the thumbnail
// step releases it, or until encode fails.
type RasterGauge struct {
	live atomic.Int64
	peak atomic.Int64
}

// NewRasterGauge returns a zeroed gauge.
func NewRasterGauge() *RasterGauge { return &RasterGauge{} }

func (g *RasterGauge) BeforeStep(_ context.Context, _ string, _ *core.Conversion) {}

func (g *RasterGauge) AfterStep(_ context.Context, stepName string, _ *core.Conversion, _ time.Duration, err error) {
	switch {
	case stepName == pipeline.StepDecode && err == nil:
		n := g.live.Add(1)
		for {
			p := g.peak.Load()
			if n <= p || g.peak.CompareAndSwap(p, n) {
				break
			}
		}
	case stepName == pipeline.StepEncode && err != nil, stepName == pipeline.StepThumbnail:
		g.live.Add(-1)
	}
}

// Live returns the number of rasters currently held.
func (g *RasterGauge) Live() int64 { return g.live.Load() }

// Peak returns the highest number of rasters held at once.
func (g *RasterGauge) Peak() int64 { return g.peak.Load() }
