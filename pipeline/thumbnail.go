package pipeline

import (
	"bytes"
	"image"
	"image/jpeg"

	xdraw "golang.org/x/image/draw"

	"github.com/Skryldev/heic-converter/core"
	"github.com/Skryldev/heic-converter/utils"
)

// DefaultThumbnailSize is the longer side of a thumbnail when none is set.
const DefaultThumbnailSize = 200

// Thumbnailer scales rasters with x/image/draw and encodes them as JPEG.
// Output depends only on the input pixels and the settings, so the same
// raster always yields the same bytes.
type Thumbnailer struct {
	Quality int
	// Interpolator controls quality vs speed. Defaults to draw.CatmullRom;
	// draw.NearestNeighbor is used if it panics.
	Interpolator xdraw.Interpolator
}

// NewThumbnailer returns a Thumbnailer encoding at quality (default 75).
func NewThumbnailer(quality int) *Thumbnailer {
	if quality <= 0 || quality > 100 {
		quality = 75
	}
	return &Thumbnailer{Quality: quality, Interpolator: xdraw.CatmullRom}
}

// MakeThumbnail returns a JPEG whose longer side is maxDimension. A nil or
// empty raster yields nil.
func (t *Thumbnailer) MakeThumbnail(img *core.RasterImage, maxDimension int) []byte {
	if img == nil || img.Image == nil || img.Image.Bounds().Empty() {
		return nil
	}
	if maxDimension <= 0 {
		maxDimension = DefaultThumbnailSize
	}

	src := img.Image
	sb := src.Bounds()
	w, h := utils.ScaleToFit(sb.Dx(), sb.Dy(), maxDimension)
	dst := image.NewRGBA(image.Rect(0, 0, w, h))

	if !t.scale(t.interpolator(), dst, src) {
		dst = image.NewRGBA(image.Rect(0, 0, w, h))
		xdraw.NearestNeighbor.Scale(dst, dst.Bounds(), src, sb, xdraw.Src, nil)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: t.Quality}); err != nil {
		return nil
	}
	return buf.Bytes()
}

func (t *Thumbnailer) interpolator() xdraw.Interpolator {
	if t.Interpolator == nil {
		return xdraw.CatmullRom
	}
	return t.Interpolator
}

// scale reports false when the interpolator panicked.
func (t *Thumbnailer) scale(in xdraw.Interpolator, dst *image.RGBA, src image.Image) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	in.Scale(dst, dst.Bounds(), src, src.Bounds(), xdraw.Src, nil)
	return true
}

var _ core.Thumbnailer = (*Thumbnailer)(nil)
