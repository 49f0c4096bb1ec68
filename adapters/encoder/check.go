package encoder

import (
	"github.com/Skryldev/heic-converter/core"
	apperrors "github.com/Skryldev/heic-converter/errors"
)

func checkRaster(img *core.RasterImage) error {
	if img == nil || img.Image == nil {
		return apperrors.ErrEmptyInput
	}
	if img.Image.Bounds().Empty() {
		return apperrors.ErrInvalidDimensions
	}
	return nil
}
