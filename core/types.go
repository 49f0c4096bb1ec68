package core

import (
	"context"
	"image"
	"time"
)

// Format identifies an image codec.
type Format string

const (
	FormatHEIF    Format = "heif"
	FormatJPEG    Format = "jpeg"
	FormatPNG     Format = "png"
	FormatWebP    Format = "webp"
	FormatTIFF    Format = "tiff"
	FormatGIF     Format = "gif"
	FormatBMP     Format = "bmp"
	FormatUnknown Format = "unknown"
)

// Extension returns the canonical file extension (with the leading dot) used
// for files written in format f.
func (f Format) Extension() string {
	switch f {
	case FormatJPEG:
		return ".jpg"
	case FormatHEIF:
		return ".heic"
	case FormatUnknown, "":
		return ""
	}
	return "." + string(f)
}

// ColorSpace represents the image colour model.
type ColorSpace string

const (
	ColorSpaceRGB   ColorSpace = "rgb"
	ColorSpaceRGBA  ColorSpace = "rgba"
	ColorSpaceYCbCr ColorSpace = "ycbcr"
	ColorSpaceCMYK  ColorSpace = "cmyk"
	ColorSpaceGray  ColorSpace = "gray"
)

// RasterImage is the decoded, display-upright pixel representation of one
// source file. It is owned by the worker that decoded it and must not be
// shared across workers.
type RasterImage struct {
	Image      image.Image
	Width      int
	Height     int
	Format     Format // source container format
	ColorSpace ColorSpace

	// Orientation is the EXIF orientation (1-8) found in the source. It has
	// already been applied to Image.
	Orientation int

	// EXIF holds the TIFF-structured EXIF payload of the source with the
	// orientation tag reset to 1. Nil when the source carried none.
	EXIF []byte

	native  any
	release func()
}

// NewRasterImage wraps img, filling the dimensions from its bounds.
func NewRasterImage(img image.Image, format Format) *RasterImage {
	b := img.Bounds()
	return &RasterImage{
		Image:       img,
		Width:       b.Dx(),
		Height:      b.Dy(),
		Format:      format,
		Orientation: 1,
	}
}

// WithNative attaches a backend-specific handle (for example a libvips image)
// and the function that frees it.
func (r *RasterImage) WithNative(native any, release func()) *RasterImage {
	r.native = native
	r.release = release
	return r
}

// Native returns the backend handle attached with WithNative, if any.
func (r *RasterImage) Native() any { return r.native }

// Release drops the pixel buffer and frees any backend handle. It is safe to
// call more than once.
func (r *RasterImage) Release() {
	if r == nil {
		return
	}
	if r.release != nil {
		r.release()
		r.release = nil
	}
	r.native = nil
	r.Image = nil
}

// EncodeOptions carries format-specific encoding parameters.
type EncodeOptions struct {
	Quality      int  // 1-100; 0 = use encoder default
	Lossless     bool // WebP lossless mode
	PreserveEXIF bool // carry RasterImage.EXIF into the output when the format allows it
}

// Conversion is the per-file state threaded through the worker pipeline.
type Conversion struct {
	Index       int
	Source      string
	Destination string

	// Data holds the source bytes until the decode step consumes them.
	Data       []byte
	SourceSize int64

	Raster    *RasterImage
	Encoded   []byte
	Thumbnail []byte
	Written   int64
}

// FileConversionInfo describes one successfully converted file.
type FileConversionInfo struct {
	OriginalFileName string
	OriginalPath     string
	OriginalFileSize int64
	NewFileName      string
	NewPath          string
	NewFileSize      int64
	ConversionTime   time.Duration
	Thumbnail        []byte
}

// Outcome is the result of processing one path of a batch. Exactly one of
// Info and Err is set.
type Outcome struct {
	Index int // position of Path in the submitted batch
	Path  string
	Info  *FileConversionInfo
	Err   error
}

// OK reports whether the outcome is a success.
func (o Outcome) OK() bool { return o.Err == nil && o.Info != nil }

// Tag returns "success" or "error".
func (o Outcome) Tag() EventType {
	if o.OK() {
		return EventSuccess
	}
	return EventError
}

// Description returns the human-readable failure description, or "" for a
// success.
func (o Outcome) Description() string {
	if o.Err == nil {
		return ""
	}
	return o.Err.Error()
}

// BatchSummary is the terminal aggregate of one batch.
type BatchSummary struct {
	BatchID   string
	Total     int
	Succeeded int
	Failed    int
	TotalTime time.Duration

	// Err is set only when the batch could not start at all (for example an
	// empty path list). Per-file failures never set it.
	Err error
}

// Step is one stage of the per-file pipeline. Implementations mutate c and
// must be safe for concurrent use across goroutines.
type Step interface {
	Name() string
	Execute(ctx context.Context, c *Conversion) error
}

// Hook is an optional observer invoked around pipeline steps.
type Hook interface {
	BeforeStep(ctx context.Context, stepName string, c *Conversion)
	AfterStep(ctx context.Context, stepName string, c *Conversion, d time.Duration, err error)
}
