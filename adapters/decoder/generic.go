package decoder

import (
	"bytes"
	"context"

	"github.com/disintegration/imaging"

	"github.com/Skryldev/heic-converter/core"
	apperrors "github.com/Skryldev/heic-converter/errors"
	"github.com/Skryldev/heic-converter/utils"
)

// Generic decodes the formats registered with the image package (JPEG, PNG,
// GIF, TIFF, BMP) through imaging, which also applies the EXIF orientation
// of JPEG and TIFF sources.
type Generic struct {
	formats map[core.Format]bool
}

// NewGeneric returns a decoder for the given formats. With no arguments it
// handles JPEG, PNG, GIF, TIFF and BMP.
func NewGeneric(formats ...core.Format) *Generic {
	if len(formats) == 0 {
		formats = GenericFormats()
	}
	g := &Generic{formats: make(map[core.Format]bool, len(formats))}
	for _, f := range formats {
		g.formats[f] = true
	}
	return g
}

// GenericFormats lists the formats NewGeneric handles by default.
func GenericFormats() []core.Format {
	return []core.Format{core.FormatJPEG, core.FormatPNG, core.FormatGIF, core.FormatTIFF, core.FormatBMP}
}

func (g *Generic) CanDecode(format core.Format) bool { return g.formats[format] }

func (g *Generic) Decode(ctx context.Context, data []byte) (*core.RasterImage, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryDecode, "image.decode", err)
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryDecode, "image.decode", err)
	}

	return raster("image.decode", img, utils.DetectFormat(data))
}
