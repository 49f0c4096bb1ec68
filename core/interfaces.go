package core

import (
	"context"
)

// Decoder turns the raw bytes of one source file into a display-upright
// RasterImage. Implementations live in adapters/decoder/ and adapters/vips/.
type Decoder interface {
	// Decode fails with a decode-category error when data is not a valid or
	// supported container.
	Decode(ctx context.Context, data []byte) (*RasterImage, error)
	// CanDecode reports whether this decoder handles the given format.
	CanDecode(format Format) bool
}

// Encoder serialises a RasterImage to bytes in a target format.
// Implementations live in adapters/encoder/ and adapters/vips/.
type Encoder interface {
	Encode(ctx context.Context, img *RasterImage, opts EncodeOptions) ([]byte, error)
	CanEncode(format Format) bool
}

// Thumbnailer downsamples a RasterImage so that its longer side equals
// maxDimension and returns the encoded thumbnail. It never fails for a
// successfully decoded image.
type Thumbnailer interface {
	MakeThumbnail(img *RasterImage, maxDimension int) []byte
}

// SourceReader loads source files. Implementations live in adapters/storage/.
type SourceReader interface {
	ReadAll(ctx context.Context, path string) ([]byte, error)
}

// DestinationWriter persists converted files and reports the byte count
// written. Implementations live in adapters/storage/.
type DestinationWriter interface {
	WriteAll(ctx context.Context, path string, data []byte) (int64, error)
}

// MetricsCollector receives performance observations from the pipeline.
type MetricsCollector interface {
	RecordProcessingTime(stepName string, d interface{ Seconds() float64 })
	RecordThroughput(bytes int64)
	RecordMemory(bytes int64)
	RecordError(stepName string, category string)
}

// Logger is a minimal structured logging interface.
type Logger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
}

// NopLogger discards everything.
type NopLogger struct{}

func (NopLogger) Debug(string, ...interface{}) {}
func (NopLogger) Info(string, ...interface{})  {}
func (NopLogger) Warn(string, ...interface{})  {}
func (NopLogger) Error(string, ...interface{}) {}

// Registry maps Format values to Decoder/Encoder implementations.
type Registry interface {
	DecoderFor(format Format) (Decoder, bool)
	EncoderFor(format Format) (Encoder, bool)
	RegisterDecoder(format Format, d Decoder)
	RegisterEncoder(format Format, e Encoder)
}
