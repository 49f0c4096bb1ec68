package heicconv

import (
	"log/slog"

	"github.com/Skryldev/heic-converter/adapters/storage"
	"github.com/Skryldev/heic-converter/config"
	"github.com/Skryldev/heic-converter/core"
	"github.com/Skryldev/heic-converter/hooks"
)

// Option configures a Converter at construction time.
type Option func(*options)

type options struct {
	logger      core.Logger
	hooks       []core.Hook
	decoders    map[core.Format]core.Decoder
	encoders    map[core.Format]core.Encoder
	reader      core.SourceReader
	writer      core.DestinationWriter
	s3          storage.S3Client
	thumbnailer core.Thumbnailer
	backends    map[config.Backend]BackendFactory
}

// WithLogger sets the logger used by the pipeline and the batch coordinator.
func WithLogger(l core.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithSlog is WithLogger for a *slog.Logger.
func WithSlog(l *slog.Logger) Option {
	return WithLogger(hooks.NewSlogLogger(l))
}

// WithHook appends a step hook after the built-in logging and metrics hooks.
func WithHook(h core.Hook) Option {
	return func(o *options) { o.hooks = append(o.hooks, h) }
}

// WithDecoder registers d for format f, replacing the built-in one.
func WithDecoder(f core.Format, d core.Decoder) Option {
	return func(o *options) {
		if o.decoders == nil {
			o.decoders = make(map[core.Format]core.Decoder)
		}
		o.decoders[f] = d
	}
}

// WithEncoder registers e for format f, replacing the built-in one.
func WithEncoder(f core.Format, e core.Encoder) Option {
	return func(o *options) {
		if o.encoders == nil {
			o.encoders = make(map[core.Format]core.Encoder)
		}
		o.encoders[f] = e
	}
}

// WithReader replaces the local filesystem source reader.
func WithReader(r core.SourceReader) Option {
	return func(o *options) { o.reader = r }
}

// WithWriter replaces the destination writer. It takes precedence over S3
// settings in the config.
func WithWriter(w core.DestinationWriter) Option {
	return func(o *options) { o.writer = w }
}

// WithS3Client supplies the client used when the config enables S3 output.
func WithS3Client(c storage.S3Client) Option {
	return func(o *options) { o.s3 = c }
}

// WithThumbnailer replaces the thumbnail generator.
func WithThumbnailer(t core.Thumbnailer) Option {
	return func(o *options) { o.thumbnailer = t }
}

// WithBackend links a codec backend under name. It is used only when the
// config selects that backend; selecting a backend that was never linked is a
// config error.
func WithBackend(name config.Backend, build BackendFactory) Option {
	return func(o *options) {
		if o.backends == nil {
			o.backends = make(map[config.Backend]BackendFactory)
		}
		o.backends[name] = build
	}
}
