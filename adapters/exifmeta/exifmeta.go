// Package exifmeta reads and rewrites the EXIF metadata that travels with a
// converted image: the orientation tag and the JPEG APP1 segment.
package exifmeta

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
	"github.com/dsoprea/go-exif/v3"
	exifcommon "github.com/dsoprea/go-exif/v3/common"
)

const (
	tagOrientation = 0x0112
	typeShort      = 3

	// maxAPP1Payload is the largest body a JPEG marker segment can carry
	// (65535 minus the two length bytes).
	maxAPP1Payload = 65533
)

var exifPreamble = []byte("Exif\x00\x00")

// Extract locates the TIFF-structured EXIF block inside data (a HEIF Exif
// item, an APP1 body, or a whole file). It returns nil, nil when there is
// none.
func Extract(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, nil
	}
	raw, err := exif.SearchAndExtractExif(data)
	if err != nil {
		if errors.Is(err, exif.ErrNoExif) {
			return nil, nil
		}
		return nil, fmt.Errorf("exifmeta: search: %w", err)
	}
	if _, err := exif.ParseExifHeader(raw); err != nil {
		return nil, fmt.Errorf("exifmeta: header: %w", err)
	}
	return raw, nil
}

// Orientation returns the EXIF orientation (1-8) stored in IFD0 of tiff, or
// 1 when the tag is absent or unreadable.
func Orientation(tiff []byte) int {
	if len(tiff) == 0 {
		return 1
	}

	im := exifcommon.NewIfdMapping()
	if err := exifcommon.LoadStandardIfds(im); err != nil {
		return 1
	}
	ti := exif.NewTagIndex()

	_, index, err := exif.Collect(im, ti, tiff)
	if err != nil || index.RootIfd == nil {
		return 1
	}

	tags, err := index.RootIfd.FindTagWithName("Orientation")
	if err != nil || len(tags) == 0 {
		return 1
	}
	val, err := tags[0].Value()
	if err != nil {
		return 1
	}

	var o int
	switch v := val.(type) {
	case []uint16:
		if len(v) > 0 {
			o = int(v[0])
		}
	case uint16:
		o = int(v)
	}
	if o < 1 || o > 8 {
		return 1
	}
	return o
}

// ResetOrientation returns a copy of tiff whose IFD0 orientation tag is 1.
// Data without an orientation tag is returned unchanged (still copied).
func ResetOrientation(tiff []byte) ([]byte, error) {
	out := bytes.Clone(tiff)

	eh, err := exif.ParseExifHeader(out)
	if err != nil {
		return nil, fmt.Errorf("exifmeta: header: %w", err)
	}
	order := eh.ByteOrder

	off := int(eh.FirstIfdOffset)
	if off+2 > len(out) {
		return nil, fmt.Errorf("exifmeta: IFD0 offset %d out of range", off)
	}
	count := int(order.Uint16(out[off:]))
	entries := out[off+2:]

	for i := 0; i < count; i++ {
		e := i * 12
		if e+12 > len(entries) {
			return nil, fmt.Errorf("exifmeta: IFD0 truncated at entry %d", i)
		}
		if order.Uint16(entries[e:]) != tagOrientation {
			continue
		}
		if order.Uint16(entries[e+2:]) != typeShort {
			return out, nil
		}
		value := entries[e+8 : e+12]
		clear(value)
		order.PutUint16(value, 1)
		return out, nil
	}
	return out, nil
}

// Apply transforms img so that it displays upright for the given EXIF
// orientation. Orientation 1 and unknown values return img as is.
func Apply(img image.Image, orientation int) image.Image {
	switch orientation {
	case 2:
		return imaging.FlipH(img)
	case 3:
		return imaging.Rotate180(img)
	case 4:
		return imaging.FlipV(img)
	case 5:
		return imaging.Transpose(img)
	case 6:
		return imaging.Rotate270(img)
	case 7:
		return imaging.Transverse(img)
	case 8:
		return imaging.Rotate90(img)
	}
	return img
}

// APP1 builds a complete JPEG APP1 segment (marker, length, Exif preamble
// and tiff). ok is false when the payload does not fit in one segment.
func APP1(tiff []byte) (seg []byte, ok bool) {
	body := len(exifPreamble) + len(tiff)
	if len(tiff) == 0 || body > maxAPP1Payload {
		return nil, false
	}
	seg = make([]byte, 0, 4+body)
	seg = append(seg, 0xFF, 0xE1)
	seg = binary.BigEndian.AppendUint16(seg, uint16(body+2))
	seg = append(seg, exifPreamble...)
	seg = append(seg, tiff...)
	return seg, true
}

// InsertJPEG splices tiff into jpegData as an APP1 segment directly after
// the SOI marker. jpegData is returned untouched when it is not a JPEG or the
// metadata cannot fit.
func InsertJPEG(jpegData, tiff []byte) []byte {
	if len(jpegData) < 2 || jpegData[0] != 0xFF || jpegData[1] != 0xD8 {
		return jpegData
	}
	seg, ok := APP1(tiff)
	if !ok {
		return jpegData
	}

	out := make([]byte, 0, len(jpegData)+len(seg))
	out = append(out, jpegData[:2]...)
	out = append(out, seg...)
	out = append(out, jpegData[2:]...)
	return out
}
