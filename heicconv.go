// Package heicconv converts batches of HEIC/HEIF photos into JPEG (or PNG or
// WebP), writing a thumbnail-bearing outcome per file and one summary per
// batch.
package heicconv

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/Skryldev/heic-converter/adapters/decoder"
	"github.com/Skryldev/heic-converter/adapters/encoder"
	"github.com/Skryldev/heic-converter/adapters/storage"
	"github.com/Skryldev/heic-converter/batch"
	"github.com/Skryldev/heic-converter/config"
	"github.com/Skryldev/heic-converter/core"
	apperrors "github.com/Skryldev/heic-converter/errors"
	"github.com/Skryldev/heic-converter/hooks"
	"github.com/Skryldev/heic-converter/pipeline"
	"github.com/Skryldev/heic-converter/utils"
)

// Re-export Format constants for convenience.
const (
	JPEG = core.FormatJPEG
	PNG  = core.FormatPNG
	WebP = core.FormatWebP
)

// ErrClosed is returned by Start after Close.
var ErrClosed = errors.New("heicconv: converter closed")

// Backend is an alternative codec implementation, such as the libvips one in
// adapters/vips, that takes over every format it registers.
type Backend interface {
	core.Thumbnailer
	Register(reg core.Registry)
	Close() error
}

// BackendSettings is handed to a BackendFactory when the config selects its
// backend.
type BackendSettings struct {
	Quality          int
	ThumbnailQuality int
	Workers          int
	// Fallback makes thumbnails the backend cannot.
	Fallback core.Thumbnailer
	Logger   core.Logger
}

// BackendFactory builds a Backend from the resolved settings.
type BackendFactory func(BackendSettings) Backend

// DefaultConfig returns a sensible production configuration.
func DefaultConfig() config.Config { return config.Default() }

// Converter is the primary entry point. It is safe for concurrent use and
// can run any number of batches, each on its own coordinator.
type Converter struct {
	cfg     config.Config
	reg     *core.DefaultRegistry
	worker  *pipeline.Worker
	workers int
	logger  core.Logger
	metrics *hooks.InMemoryMetrics
	backend Backend

	mu     sync.Mutex
	closed bool
}

// New validates cfg and returns a fully wired Converter: HEIF, JPEG, PNG,
// GIF, TIFF, BMP and WebP sources; JPEG, PNG and WebP targets.
func New(cfg config.Config, opts ...Option) (*Converter, error) {
	if err := config.Validate(cfg); err != nil {
		return nil, apperrors.New(apperrors.CategoryConfig, "heicconv.new", err)
	}

	o := options{logger: core.NopLogger{}}
	for _, opt := range opts {
		opt(&o)
	}

	target := utils.ParseFormat(cfg.Format)

	reg := core.NewRegistry()
	reg.RegisterDecoder(core.FormatHEIF, decoder.NewHEIF())
	for _, f := range decoder.GenericFormats() {
		reg.RegisterDecoder(f, decoder.NewGeneric(f))
	}
	reg.RegisterDecoder(core.FormatWebP, decoder.NewWebP())
	reg.RegisterEncoder(core.FormatJPEG, encoder.NewJPEG(cfg.Quality))
	reg.RegisterEncoder(core.FormatPNG, encoder.NewPNG())
	reg.RegisterEncoder(core.FormatWebP, encoder.NewWebP(cfg.Quality))

	thumbs := o.thumbnailer
	if thumbs == nil {
		thumbs = pipeline.NewThumbnailer(cfg.ThumbnailQuality)
	}

	c := &Converter{
		cfg:     cfg,
		reg:     reg,
		workers: config.ResolveWorkers(context.Background(), cfg),
		logger:  o.logger,
		metrics: hooks.NewInMemoryMetrics(),
	}

	if cfg.Backend != config.BackendNative {
		build, ok := o.backends[cfg.Backend]
		if !ok {
			return nil, apperrors.New(apperrors.CategoryConfig, "heicconv.new",
				fmt.Errorf("backend %q is not linked into this build", cfg.Backend))
		}
		c.backend = build(BackendSettings{
			Quality:          cfg.Quality,
			ThumbnailQuality: cfg.ThumbnailQuality,
			Workers:          c.workers,
			Fallback:         thumbs,
			Logger:           o.logger,
		})
		c.backend.Register(reg)
		if o.thumbnailer == nil {
			thumbs = c.backend
		}
	}

	for f, d := range o.decoders {
		reg.RegisterDecoder(f, d)
	}
	for f, e := range o.encoders {
		reg.RegisterEncoder(f, e)
	}
	if _, ok := reg.EncoderFor(target); !ok {
		c.Close()
		return nil, apperrors.New(apperrors.CategoryConfig, "heicconv.new",
			fmt.Errorf("%w: target %q", apperrors.ErrUnsupportedFormat, cfg.Format))
	}

	reader, writer, err := c.gateway(o)
	if err != nil {
		c.Close()
		return nil, err
	}

	hs := []core.Hook{hooks.NewLoggingHook(o.logger), hooks.NewMetricsHook(c.metrics)}
	hs = append(hs, o.hooks...)

	c.worker = pipeline.NewWorker(pipeline.WorkerConfig{
		Registry:    reg,
		Reader:      reader,
		Writer:      writer,
		Thumbnailer: thumbs,
		Hooks:       hs,
		Target:      target,
		Options: core.EncodeOptions{
			Quality:      cfg.Quality,
			Lossless:     cfg.Lossless,
			PreserveEXIF: cfg.PreserveEXIF,
		},
		ThumbnailSize: cfg.ThumbnailSize,
		OutputDir:     cfg.OutputDir,
	})

	return c, nil
}

// gateway picks the source reader and destination writer.
func (c *Converter) gateway(o options) (core.SourceReader, core.DestinationWriter, error) {
	local := storage.NewLocal(storage.LocalOptions{
		MaxReadBytes: c.cfg.MaxImageBytes,
		Overwrite:    c.cfg.Collision != config.CollisionFail,
	})

	var reader core.SourceReader = local
	var writer core.DestinationWriter = local
	if o.reader != nil {
		reader = o.reader
	}
	if o.writer != nil {
		writer = o.writer
	}

	if c.cfg.S3.Enabled() && o.writer == nil {
		client := o.s3
		if client == nil {
			sc, err := storage.NewS3Client(context.Background(), c.cfg.S3)
			if err != nil {
				return nil, nil, err
			}
			client = sc
		}
		s3w, err := storage.NewS3(client, c.cfg.S3.Bucket, c.cfg.S3.Prefix, c.cfg.Collision != config.CollisionFail)
		if err != nil {
			return nil, nil, apperrors.New(apperrors.CategoryConfig, "heicconv.s3", err)
		}
		writer = s3w
	}

	g := storage.NewGateway(reader, writer)
	return g, g, nil
}

// Start launches a batch and returns at once; sink receives one outcome per
// path, in completion order, then the summary.
func (c *Converter) Start(ctx context.Context, paths []string, sink batch.Sink) (*batch.Handle, error) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}

	coord := batch.NewCoordinator(c.worker, batch.Options{
		Workers:           c.workers,
		SlowFileThreshold: c.cfg.SlowFileThreshold,
		Logger:            c.logger,
	})
	return coord.Start(ctx, paths, sink)
}

// Convert runs a batch to completion and returns its outcomes in completion
// order together with the summary.
func (c *Converter) Convert(ctx context.Context, paths []string) ([]core.Outcome, core.BatchSummary) {
	col := batch.NewCollector()
	h, err := c.Start(ctx, paths, col)
	if err != nil {
		return nil, core.BatchSummary{Total: len(paths), Err: err}
	}
	summary := h.Wait()
	return col.Outcomes(), summary
}

// ConvertFile converts a single file outside any batch.
func (c *Converter) ConvertFile(ctx context.Context, path string) core.Outcome {
	return c.worker.Convert(ctx, 0, path)
}

// Destination returns where the output for src will be written.
func (c *Converter) Destination(src string) string { return c.worker.Destination(src) }

// Workers returns the resolved concurrency limit.
func (c *Converter) Workers() int { return c.workers }

// Registry exposes the codec registry, e.g. to add formats.
func (c *Converter) Registry() *core.DefaultRegistry { return c.reg }

// Stats returns a snapshot of the per-step metrics gathered so far.
func (c *Converter) Stats() hooks.MetricsSnapshot { return c.metrics.Snapshot() }

// Close releases the codec backend, if any. Running batches are not
// interrupted, but Start fails afterwards.
func (c *Converter) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if c.backend != nil {
		return c.backend.Close()
	}
	return nil
}
