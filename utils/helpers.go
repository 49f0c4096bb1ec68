package utils

import (
	"encoding/binary"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/Skryldev/heic-converter/core"
)

// mimeFormats maps detected MIME types to codec formats.
var mimeFormats = map[string]core.Format{
	"image/heic":          core.FormatHEIF,
	"image/heic-sequence": core.FormatHEIF,
	"image/heif":          core.FormatHEIF,
	"image/heif-sequence": core.FormatHEIF,
	"image/jpeg":          core.FormatJPEG,
	"image/png":           core.FormatPNG,
	"image/webp":          core.FormatWebP,
	"image/tiff":          core.FormatTIFF,
	"image/gif":           core.FormatGIF,
	"image/bmp":           core.FormatBMP,
}

// heifBrands are ISO BMFF brands of HEVC-coded HEIF images and sequences.
var heifBrands = map[string]bool{
	"heic": true, "heix": true, "heim": true, "heis": true,
	"hevc": true, "hevx": true, "hevm": true, "hevs": true,
	"mif1": true, "msf1": true,
}

// DetectFormat sniffs the leading bytes of data and returns the image format.
// The file name never participates: a ".heic" holding JPEG bytes is JPEG.
// mimetype only looks at the major brand of an ftyp box, so containers whose
// HEIF brand is listed among the compatible brands are caught afterwards.
func DetectFormat(data []byte) core.Format {
	if len(data) < 4 {
		return core.FormatUnknown
	}
	mt := mimetype.Detect(data)
	for m := mt; m != nil; m = m.Parent() {
		if f, ok := mimeFormats[m.String()]; ok {
			return f
		}
	}
	if hasHEIFBrand(data) {
		return core.FormatHEIF
	}
	return core.FormatUnknown
}

// hasHEIFBrand reports whether data opens with an ftyp box naming a HEIF
// brand. AVIF files list mif1 too and are rejected by their major brand.
func hasHEIFBrand(data []byte) bool {
	if len(data) < 16 || string(data[4:8]) != "ftyp" {
		return false
	}
	major := string(data[8:12])
	if major == "avif" || major == "avis" {
		return false
	}
	if heifBrands[major] {
		return true
	}
	end := min(int(binary.BigEndian.Uint32(data[:4])), len(data))
	for off := 16; off+4 <= end; off += 4 {
		if heifBrands[string(data[off:off+4])] {
			return true
		}
	}
	return false
}

// ParseFormat maps a user-facing target name ("jpeg", "jpg", "png", "webp")
// to a Format.
func ParseFormat(name string) core.Format {
	switch strings.ToLower(strings.TrimPrefix(name, ".")) {
	case "jpeg", "jpg":
		return core.FormatJPEG
	case "png":
		return core.FormatPNG
	case "webp":
		return core.FormatWebP
	}
	return core.FormatUnknown
}

// IsHEIFPath reports whether path carries a .heic or .heif extension, in any
// case.
func IsHEIFPath(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".heic", ".heif":
		return true
	}
	return false
}

// DestinationPath derives the output path for src: the extension is replaced
// with ext, and the file lands in outputDir when it is non-empty, otherwise
// next to the source. The result depends on nothing but its arguments.
func DestinationPath(src, outputDir, ext string) string {
	base := filepath.Base(src)
	name := strings.TrimSuffix(base, filepath.Ext(base)) + ext
	if outputDir != "" {
		return filepath.Join(outputDir, name)
	}
	return filepath.Join(filepath.Dir(src), name)
}

// ScaleToFit computes (w, h) so that the longer side equals maxDim while the
// aspect ratio is kept. Neither side drops below 1.
func ScaleToFit(srcW, srcH, maxDim int) (int, int) {
	if srcW <= 0 || srcH <= 0 || maxDim <= 0 {
		return 0, 0
	}
	if srcW >= srcH {
		h := int(float64(srcH)*float64(maxDim)/float64(srcW) + 0.5)
		return maxDim, max(h, 1)
	}
	w := int(float64(srcW)*float64(maxDim)/float64(srcH) + 0.5)
	return max(w, 1), maxDim
}

// CloneBytes returns a copy of b (safe for use after the source buffer is released).
func CloneBytes(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
