package decoder

import (
	"bytes"
	"context"

	"golang.org/x/image/webp"

	"github.com/Skryldev/heic-converter/core"
	apperrors "github.com/Skryldev/heic-converter/errors"
)

// WebP decodes WebP images using golang.org/x/image/webp.
type WebP struct{}

func NewWebP() *WebP { return &WebP{} }

func (w *WebP) CanDecode(format core.Format) bool {
	return format == core.FormatWebP
}

func (w *WebP) Decode(ctx context.Context, data []byte) (*core.RasterImage, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryDecode, "webp.decode", err)
	}

	img, err := webp.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryDecode, "webp.decode", err)
	}

	return raster("webp.decode", img, core.FormatWebP)
}
