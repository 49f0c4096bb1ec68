package vips

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/png"
	"runtime"
	"sync"
	"sync/atomic"

	govips "github.com/davidbyttow/govips/v2/vips"

	heicconv "github.com/Skryldev/heic-converter"
	"github.com/Skryldev/heic-converter/config"
	"github.com/Skryldev/heic-converter/core"
	apperrors "github.com/Skryldev/heic-converter/errors"
)

// BackendConfig configures the libvips backend.
type BackendConfig struct {
	DefaultQuality   int
	ThumbnailQuality int
	MaxCacheSize     int
	MaxWorkers       int
	ReportLeaks      bool

	// Fallback produces thumbnails for rasters that carry no libvips handle
	// or when libvips fails.
	Fallback core.Thumbnailer
	Logger   core.Logger
}

// Backend is a unified libvips-powered Decoder, Encoder and Thumbnailer.
// Safe for concurrent use across goroutines.
type Backend struct {
	cfg       BackendConfig
	closed    atomic.Bool
	closeOnce sync.Once
}

// ErrClosed is returned by Decode and Encode after Close.
var ErrClosed = errors.New("vips: backend closed")

// libvips can be started once per process; govips panics on a restart. Open
// backends are counted so the last Close can drop the operation cache.
var (
	startOnce    sync.Once
	openMu       sync.Mutex
	openBackends int
)

// NewBackend starts libvips on first use and returns a ready Backend.
func NewBackend(cfg BackendConfig) *Backend {
	if cfg.DefaultQuality <= 0 {
		cfg.DefaultQuality = 90
	}
	if cfg.ThumbnailQuality <= 0 {
		cfg.ThumbnailQuality = 75
	}
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = runtime.NumCPU()
	}
	if cfg.Logger == nil {
		cfg.Logger = core.NopLogger{}
	}
	startOnce.Do(func() {
		log := cfg.Logger
		govips.LoggingSettings(func(domain string, level govips.LogLevel, msg string) {
			switch level {
			case govips.LogLevelError, govips.LogLevelCritical:
				log.Error("libvips", "domain", domain, "msg", msg)
			case govips.LogLevelWarning:
				log.Warn("libvips", "domain", domain, "msg", msg)
			default:
				log.Debug("libvips", "domain", domain, "msg", msg)
			}
		}, govips.LogLevelWarning)
		govips.Startup(&govips.Config{
			ConcurrencyLevel: cfg.MaxWorkers,
			MaxCacheSize:     cfg.MaxCacheSize,
			ReportLeaks:      cfg.ReportLeaks,
			CollectStats:     true,
		})
	})
	openMu.Lock()
	openBackends++
	openMu.Unlock()
	return &Backend{cfg: cfg}
}

// Close retires the backend. libvips itself keeps running; the operation
// cache is cleared once no backend is open. Close is idempotent.
func (b *Backend) Close() error {
	b.closeOnce.Do(func() {
		b.closed.Store(true)
		openMu.Lock()
		defer openMu.Unlock()
		openBackends--
		if openBackends == 0 {
			govips.ClearCache()
		}
	})
	return nil
}

// Shutdown stops libvips for the rest of the process. No Backend can be
// created afterwards; call it only on the way out.
func Shutdown() {
	govips.Shutdown()
}

// Register installs the backend's codecs into reg.
func (b *Backend) Register(reg core.Registry) { RegisterBackend(reg, b) }

// WithBackend links libvips into a Converter as the "vips" backend.
// Selecting that backend in the config without this option is an error.
func WithBackend() heicconv.Option {
	return heicconv.WithBackend(config.BackendVips, func(s heicconv.BackendSettings) heicconv.Backend {
		return NewBackend(BackendConfig{
			DefaultQuality:   s.Quality,
			ThumbnailQuality: s.ThumbnailQuality,
			MaxWorkers:       s.Workers,
			Fallback:         s.Fallback,
			Logger:           s.Logger,
		})
	})
}

// ─── Decoder ──────────────────────────────────────────────────────────────────

func (b *Backend) CanDecode(f core.Format) bool {
	switch f {
	case core.FormatHEIF, core.FormatJPEG, core.FormatPNG, core.FormatWebP, core.FormatTIFF, core.FormatGIF:
		return true
	}
	return false
}

// Decode loads data with libvips and rotates it upright. The returned raster
// keeps the libvips handle for Encode and MakeThumbnail; Release closes it.
func (b *Backend) Decode(ctx context.Context, data []byte) (*core.RasterImage, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryDecode, "vips.decode", err)
	}
	if b.closed.Load() {
		return nil, apperrors.New(apperrors.CategoryDecode, "vips.decode", ErrClosed)
	}

	ref, err := govips.NewImageFromBuffer(data)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryDecode, "vips.decode", err)
	}

	orientation := ref.Orientation()
	if err := ref.AutoRotate(); err != nil {
		ref.Close()
		return nil, apperrors.Wrap(apperrors.CategoryDecode, "vips.decode.autorotate", err)
	}

	// Keep a Go-side copy so the rest of the pipeline can work without libvips.
	buf, _, err := ref.ExportPng(govips.NewPngExportParams())
	if err != nil {
		ref.Close()
		return nil, apperrors.Wrap(apperrors.CategoryDecode, "vips.decode.export", err)
	}
	img, err := png.Decode(bytes.NewReader(buf))
	if err != nil {
		ref.Close()
		return nil, apperrors.Wrap(apperrors.CategoryDecode, "vips.decode.export", err)
	}

	out := core.NewRasterImage(img, vipsFormatToCore(ref.Format()))
	out.ColorSpace = vipsInterpretationToColorSpace(ref.Interpretation())
	if orientation >= 1 && orientation <= 8 {
		out.Orientation = orientation
	}
	return out.WithNative(ref, ref.Close), nil
}

// ─── Encoder ──────────────────────────────────────────────────────────────────

func (b *Backend) CanEncode(f core.Format) bool {
	switch f {
	case core.FormatJPEG, core.FormatPNG, core.FormatWebP:
		return true
	}
	return false
}

// encodeTarget carries the target format; Backend.For binds one per format
// so the Registry can hand out a format-specific encoder.
type encodeTarget struct {
	*Backend
	format core.Format
}

// For returns an Encoder that exports to format.
func (b *Backend) For(format core.Format) core.Encoder {
	return &encodeTarget{Backend: b, format: format}
}

func (t *encodeTarget) CanEncode(f core.Format) bool { return f == t.format && t.Backend.CanEncode(f) }

func (t *encodeTarget) Encode(ctx context.Context, img *core.RasterImage, opts core.EncodeOptions) ([]byte, error) {
	return t.Backend.encode(ctx, img, t.format, opts)
}

func (b *Backend) encode(ctx context.Context, img *core.RasterImage, format core.Format, opts core.EncodeOptions) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryEncode, "vips.encode", err)
	}
	if b.closed.Load() {
		return nil, apperrors.New(apperrors.CategoryEncode, "vips.encode", ErrClosed)
	}
	if img == nil || (img.Image == nil && img.Native() == nil) {
		return nil, apperrors.New(apperrors.CategoryEncode, "vips.encode", apperrors.ErrEmptyInput)
	}

	ref, owned, err := refFor(img)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryEncode, "vips.encode", err)
	}
	if owned {
		defer ref.Close()
	}

	quality := opts.Quality
	if quality <= 0 {
		quality = b.cfg.DefaultQuality
	}

	switch format {
	case core.FormatJPEG:
		ep := govips.NewJpegExportParams()
		ep.Quality = quality
		ep.StripMetadata = !opts.PreserveEXIF
		buf, _, err := ref.ExportJpeg(ep)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CategoryEncode, "vips.encode.jpeg", err)
		}
		return buf, nil

	case core.FormatPNG:
		ep := govips.NewPngExportParams()
		ep.StripMetadata = !opts.PreserveEXIF
		buf, _, err := ref.ExportPng(ep)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CategoryEncode, "vips.encode.png", err)
		}
		return buf, nil

	case core.FormatWebP:
		ep := govips.NewWebpExportParams()
		ep.Quality = quality
		ep.Lossless = opts.Lossless
		ep.StripMetadata = !opts.PreserveEXIF
		buf, _, err := ref.ExportWebp(ep)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CategoryEncode, "vips.encode.webp", err)
		}
		return buf, nil

	default:
		return nil, apperrors.New(apperrors.CategoryEncode, "vips.encode",
			fmt.Errorf("%w: %s", apperrors.ErrUnsupportedFormat, format))
	}
}

// ─── Thumbnailer ──────────────────────────────────────────────────────────────

// MakeThumbnail scales a copy of the libvips handle so its longer side is
// maxDimension and exports it as JPEG. Rasters without a handle, and any
// libvips failure, go to the configured fallback.
func (b *Backend) MakeThumbnail(img *core.RasterImage, maxDimension int) []byte {
	if out, err := b.thumbnail(img, maxDimension); err == nil {
		return out
	}
	if b.cfg.Fallback != nil {
		return b.cfg.Fallback.MakeThumbnail(img, maxDimension)
	}
	return nil
}

func (b *Backend) thumbnail(img *core.RasterImage, maxDimension int) ([]byte, error) {
	ref, ok := img.Native().(*govips.ImageRef)
	if !ok || ref == nil {
		return nil, fmt.Errorf("no libvips handle")
	}
	cp, err := ref.Copy()
	if err != nil {
		return nil, err
	}
	defer cp.Close()

	if err := cp.Thumbnail(maxDimension, maxDimension, govips.InterestingNone); err != nil {
		return nil, err
	}
	ep := govips.NewJpegExportParams()
	ep.Quality = b.cfg.ThumbnailQuality
	ep.StripMetadata = true
	buf, _, err := cp.ExportJpeg(ep)
	return buf, err
}

// ─── RegisterBackend ──────────────────────────────────────────────────────────

// RegisterBackend replaces the native codecs with libvips for every format
// it handles.
func RegisterBackend(reg core.Registry, b *Backend) {
	for _, f := range []core.Format{core.FormatHEIF, core.FormatJPEG, core.FormatPNG, core.FormatWebP, core.FormatTIFF, core.FormatGIF} {
		reg.RegisterDecoder(f, b)
	}
	for _, f := range []core.Format{core.FormatJPEG, core.FormatPNG, core.FormatWebP} {
		reg.RegisterEncoder(f, b.For(f))
	}
}

// ─── helpers ──────────────────────────────────────────────────────────────────

// refFor returns the raster's libvips handle, or loads its pixels into a new
// one that the caller must close (owned == true).
func refFor(img *core.RasterImage) (ref *govips.ImageRef, owned bool, err error) {
	if r, ok := img.Native().(*govips.ImageRef); ok && r != nil {
		return r, false, nil
	}
	if img.Image == nil || img.Image.Bounds().Empty() {
		return nil, false, apperrors.ErrInvalidDimensions
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img.Image); err != nil {
		return nil, false, err
	}
	r, err := govips.NewImageFromBuffer(buf.Bytes())
	if err != nil {
		return nil, false, err
	}
	return r, true, nil
}

func vipsFormatToCore(f govips.ImageType) core.Format {
	switch f {
	case govips.ImageTypeHEIF:
		return core.FormatHEIF
	case govips.ImageTypeJPEG:
		return core.FormatJPEG
	case govips.ImageTypePNG:
		return core.FormatPNG
	case govips.ImageTypeWEBP:
		return core.FormatWebP
	case govips.ImageTypeTIFF:
		return core.FormatTIFF
	case govips.ImageTypeGIF:
		return core.FormatGIF
	default:
		return core.FormatUnknown
	}
}

func vipsInterpretationToColorSpace(i govips.Interpretation) core.ColorSpace {
	switch i {
	case govips.InterpretationSRGB, govips.InterpretationRGB16:
		return core.ColorSpaceRGB
	case govips.InterpretationBW:
		return core.ColorSpaceGray
	case govips.InterpretationCMYK:
		return core.ColorSpaceCMYK
	default:
		return core.ColorSpaceRGB
	}
}

// compile-time interface checks
var _ core.Decoder = (*Backend)(nil)
var _ core.Encoder = (*encodeTarget)(nil)
var _ core.Thumbnailer = (*Backend)(nil)
var _ heicconv.Backend = (*Backend)(nil)
