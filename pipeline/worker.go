package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime/debug"
	"time"

	"github.com/Skryldev/heic-converter/core"
	apperrors "github.com/Skryldev/heic-converter/errors"
	"github.com/Skryldev/heic-converter/utils"
)

// WorkerConfig wires the collaborators of a Worker.
type WorkerConfig struct {
	Registry    core.Registry
	Reader      core.SourceReader
	Writer      core.DestinationWriter
	Thumbnailer core.Thumbnailer
	Hooks       []core.Hook

	Target        core.Format
	Options       core.EncodeOptions
	ThumbnailSize int
	OutputDir     string // empty = next to the source
}

// Worker converts one source file end to end: read, decode, encode,
// thumbnail, write. It never panics and never returns an error; every path
// ends in an Outcome.
type Worker struct {
	pipeline  *Pipeline
	ext       string
	outputDir string
}

// NewWorker builds the step chain described by cfg.
func NewWorker(cfg WorkerConfig) *Worker {
	if cfg.Target == "" {
		cfg.Target = core.FormatJPEG
	}
	if cfg.Thumbnailer == nil {
		cfg.Thumbnailer = NewThumbnailer(0)
	}

	p := New().Use(
		&ReadStep{Reader: cfg.Reader},
		&DecodeStep{Registry: cfg.Registry},
		&EncodeStep{Registry: cfg.Registry, Format: cfg.Target, Options: cfg.Options},
		&ThumbnailStep{Thumbnailer: cfg.Thumbnailer, MaxDimension: cfg.ThumbnailSize},
		&WriteStep{Writer: cfg.Writer},
	)
	for _, h := range cfg.Hooks {
		p.AddHook(h)
	}

	return &Worker{pipeline: p, ext: cfg.Target.Extension(), outputDir: cfg.OutputDir}
}

// Destination returns the output path for src.
func (w *Worker) Destination(src string) string {
	return utils.DestinationPath(src, w.outputDir, w.ext)
}

// Convert processes the source at path, which sits at position index of its
// batch.
func (w *Worker) Convert(ctx context.Context, index int, path string) (out core.Outcome) {
	start := time.Now()
	c := &core.Conversion{
		Index:       index,
		Source:      path,
		Destination: w.Destination(path),
	}
	out = core.Outcome{Index: index, Path: path}

	defer func() {
		c.Raster.Release()
		if r := recover(); r != nil {
			out.Info = nil
			out.Err = apperrors.New(apperrors.CategoryInternal, "worker",
				fmt.Errorf("panic: %v\n%s", r, debug.Stack()))
		}
	}()

	if _, err := w.pipeline.Run(ctx, c); err != nil {
		out.Err = err
		return out
	}

	out.Info = &core.FileConversionInfo{
		OriginalFileName: filepath.Base(path),
		OriginalPath:     path,
		OriginalFileSize: c.SourceSize,
		NewFileName:      filepath.Base(c.Destination),
		NewPath:          c.Destination,
		NewFileSize:      c.Written,
		ConversionTime:   time.Since(start),
		Thumbnail:        c.Thumbnail,
	}
	return out
}
