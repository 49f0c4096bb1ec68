// Package encoder provides format-specific image encoders.
package encoder

import (
	"bytes"
	"context"
	"image/jpeg"

	"github.com/Skryldev/heic-converter/adapters/exifmeta"
	"github.com/Skryldev/heic-converter/core"
	apperrors "github.com/Skryldev/heic-converter/errors"
)

// JPEG encodes images to JPEG format. With EncodeOptions.PreserveEXIF the
// raster's EXIF block is spliced in as an APP1 segment.
type JPEG struct {
	DefaultQuality int // used when EncodeOptions.Quality == 0
}

func NewJPEG(defaultQuality int) *JPEG {
	if defaultQuality <= 0 {
		defaultQuality = jpeg.DefaultQuality
	}
	return &JPEG{DefaultQuality: defaultQuality}
}

func (j *JPEG) CanEncode(format core.Format) bool {
	return format == core.FormatJPEG
}

func (j *JPEG) Encode(ctx context.Context, img *core.RasterImage, opts core.EncodeOptions) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryEncode, "jpeg.encode", err)
	}
	if err := checkRaster(img); err != nil {
		return nil, apperrors.New(apperrors.CategoryEncode, "jpeg.encode", err)
	}

	quality := opts.Quality
	if quality <= 0 {
		quality = j.DefaultQuality
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img.Image, &jpeg.Options{Quality: quality}); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryEncode, "jpeg.encode", err)
	}

	if opts.PreserveEXIF && len(img.EXIF) > 0 {
		return exifmeta.InsertJPEG(buf.Bytes(), img.EXIF), nil
	}
	return buf.Bytes(), nil
}
