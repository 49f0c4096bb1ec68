package storage

import (
	"context"

	"github.com/Skryldev/heic-converter/core"
)

// Gateway pairs a source reader with a destination writer so sources and
// outputs can live in different places (local disk in, S3 out).
type Gateway struct {
	core.SourceReader
	core.DestinationWriter
}

// NewGateway combines r and w.
func NewGateway(r core.SourceReader, w core.DestinationWriter) *Gateway {
	return &Gateway{SourceReader: r, DestinationWriter: w}
}

func (g *Gateway) ReadAll(ctx context.Context, path string) ([]byte, error) {
	return g.SourceReader.ReadAll(ctx, path)
}

func (g *Gateway) WriteAll(ctx context.Context, path string, data []byte) (int64, error) {
	return g.DestinationWriter.WriteAll(ctx, path, data)
}
