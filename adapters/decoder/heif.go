package decoder

import (
	"bytes"
	"context"
	"fmt"

	"github.com/jdeng/goheif"

	"github.com/Skryldev/heic-converter/adapters/exifmeta"
	"github.com/Skryldev/heic-converter/core"
	apperrors "github.com/Skryldev/heic-converter/errors"
)

func init() {
	// Decoded planes must be copied into Go memory: libde265 frees its own
	// buffers when the decoder is released.
	goheif.SafeEncoding = true
}

// HEIF decodes HEIC/HEIF containers with goheif (libde265). The EXIF
// orientation is applied to the pixels and the EXIF block is kept on the
// raster, with orientation reset to 1, for encoders that can carry it.
type HEIF struct{}

// NewHEIF returns an initialised HEIF decoder.
func NewHEIF() *HEIF { return &HEIF{} }

func (h *HEIF) CanDecode(format core.Format) bool {
	return format == core.FormatHEIF
}

func (h *HEIF) Decode(ctx context.Context, data []byte) (out *core.RasterImage, err error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryDecode, "heif.decode", err)
	}

	// libde265 panics on some malformed streams.
	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = apperrors.New(apperrors.CategoryDecode, "heif.decode", fmt.Errorf("corrupt container: %v", r))
		}
	}()

	img, err := goheif.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryDecode, "heif.decode", err)
	}

	// A missing or unreadable Exif item is not a decode failure.
	var tiff []byte
	if raw, err := goheif.ExtractExif(bytes.NewReader(data)); err == nil {
		tiff, _ = exifmeta.Extract(raw)
	}

	orientation := exifmeta.Orientation(tiff)
	out, err = raster("heif.decode", exifmeta.Apply(img, orientation), core.FormatHEIF)
	if err != nil {
		return nil, err
	}
	out.Orientation = orientation
	if tiff != nil {
		if reset, err := exifmeta.ResetOrientation(tiff); err == nil {
			out.EXIF = reset
		}
	}
	return out, nil
}
