// Package decoder provides format-specific image decoders.
package decoder

import (
	"image"

	"github.com/Skryldev/heic-converter/core"
	apperrors "github.com/Skryldev/heic-converter/errors"
)

// colorSpace returns the colour space of an image.Image.
func colorSpace(img image.Image) core.ColorSpace {
	switch img.(type) {
	case *image.Gray, *image.Gray16:
		return core.ColorSpaceGray
	case *image.RGBA, *image.NRGBA, *image.RGBA64, *image.NRGBA64:
		return core.ColorSpaceRGBA
	case *image.CMYK:
		return core.ColorSpaceCMYK
	case *image.YCbCr:
		return core.ColorSpaceYCbCr
	}
	return core.ColorSpaceRGB
}

// raster wraps a decoded image, rejecting empty pixel areas.
func raster(op string, img image.Image, format core.Format) (*core.RasterImage, error) {
	if img == nil || img.Bounds().Empty() {
		return nil, apperrors.New(apperrors.CategoryDecode, op, apperrors.ErrInvalidDimensions)
	}
	r := core.NewRasterImage(img, format)
	r.ColorSpace = colorSpace(img)
	return r, nil
}
