package utils_test

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/Skryldev/heic-converter/core"
	"github.com/Skryldev/heic-converter/utils"
)

func encodedJPEG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return buf.Bytes()
}

func encodedPNG(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 8, 8))); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return buf.Bytes()
}

func TestDetectFormat(t *testing.T) {
	pad := func(box string) []byte { return append([]byte(box), make([]byte, 32)...) }
	heic := pad("\x00\x00\x00\x18ftypheic\x00\x00\x00\x00mif1heic")

	cases := []struct {
		name string
		data []byte
		want core.Format
	}{
		{"jpeg", encodedJPEG(t), core.FormatJPEG},
		{"png", encodedPNG(t), core.FormatPNG},
		{"heic brand", heic, core.FormatHEIF},
		{"heic compatible brand", pad("\x00\x00\x00\x18ftypmiaf\x00\x00\x00\x00miafheic"), core.FormatHEIF},
		{"hevc major brand", pad("\x00\x00\x00\x14ftyphevc\x00\x00\x00\x00msf1"), core.FormatHEIF},
		{"avif", pad("\x00\x00\x00\x1cftypavif\x00\x00\x00\x00avifmif1miaf"), core.FormatUnknown},
		{"mp4", pad("\x00\x00\x00\x18ftypisom\x00\x00\x02\x00isommp41"), core.FormatUnknown},
		{"too short", []byte{0xFF, 0xD8}, core.FormatUnknown},
		{"text", []byte("definitely not an image"), core.FormatUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := utils.DetectFormat(tc.data); got != tc.want {
				t.Errorf("got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestParseFormat(t *testing.T) {
	cases := map[string]core.Format{
		"jpeg": core.FormatJPEG,
		"JPG":  core.FormatJPEG,
		".png": core.FormatPNG,
		"webp": core.FormatWebP,
		"heic": core.FormatUnknown,
		"":     core.FormatUnknown,
	}
	for in, want := range cases {
		if got := utils.ParseFormat(in); got != want {
			t.Errorf("%q: got %q, want %q", in, got, want)
		}
	}
}

func TestDestinationPath(t *testing.T) {
	cases := []struct {
		src, dir, ext, want string
	}{
		{"/photos/IMG_0001.HEIC", "", ".jpg", "/photos/IMG_0001.jpg"},
		{"/photos/IMG_0001.heic", "/out", ".jpg", "/out/IMG_0001.jpg"},
		{"/photos/archive.tar.heif", "", ".png", "/photos/archive.tar.png"},
		{"/photos/noext", "", ".jpg", "/photos/noext.jpg"},
	}
	for _, tc := range cases {
		if got := utils.DestinationPath(tc.src, tc.dir, tc.ext); got != tc.want {
			t.Errorf("DestinationPath(%q, %q): got %q, want %q", tc.src, tc.dir, got, tc.want)
		}
	}
}

func TestScaleToFit(t *testing.T) {
	cases := []struct {
		w, h, max, wantW, wantH int
	}{
		{4032, 3024, 200, 200, 150},
		{3024, 4032, 200, 150, 200},
		{100, 100, 200, 200, 200},
		{10000, 10, 200, 200, 1},
		{0, 10, 200, 0, 0},
	}
	for _, tc := range cases {
		w, h := utils.ScaleToFit(tc.w, tc.h, tc.max)
		if w != tc.wantW || h != tc.wantH {
			t.Errorf("ScaleToFit(%d,%d,%d): got %dx%d, want %dx%d", tc.w, tc.h, tc.max, w, h, tc.wantW, tc.wantH)
		}
	}
}

func TestIsHEIFPath(t *testing.T) {
	for path, want := range map[string]bool{
		"a.heic": true, "b.HEIF": true, "c.HeIc": true, "d.jpg": false, "heic": false,
	} {
		if got := utils.IsHEIFPath(path); got != want {
			t.Errorf("%q: got %v, want %v", path, got, want)
		}
	}
}

func TestExpandPaths(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.heic", "a.HEIF", "c.jpg", "._a.heic"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "nested.heic"), 0o755); err != nil {
		t.Fatal(err)
	}

	got, err := utils.ExpandPaths([]string{dir, "/missing/file.heic", "/tmp/explicit.jpg"})
	if err != nil {
		t.Fatalf("ExpandPaths: %v", err)
	}
	want := []string{
		filepath.Join(dir, "a.HEIF"),
		filepath.Join(dir, "b.heic"),
		"/missing/file.heic",
		"/tmp/explicit.jpg",
	}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("[%d]: got %q, want %q", i, got[i], want[i])
		}
	}
}

func TestLimitedReader(t *testing.T) {
	data := bytes.Repeat([]byte{1}, 100)

	exact, err := utils.DrainReader(context.Background(), &utils.LimitedReader{R: bytes.NewReader(data), Max: 100}, 7)
	if err != nil || len(exact) != 100 {
		t.Fatalf("exact size: got %d bytes, err %v", len(exact), err)
	}

	_, err = utils.DrainReader(context.Background(), &utils.LimitedReader{R: bytes.NewReader(data), Max: 99}, 7)
	if !errors.Is(err, utils.ErrLimitExceeded) {
		t.Fatalf("got %v, want ErrLimitExceeded", err)
	}

	n, err := io.Copy(io.Discard, &utils.LimitedReader{R: bytes.NewReader(data)})
	if err != nil || n != 100 {
		t.Errorf("unlimited: got %d, %v", n, err)
	}
}

func TestDrainReader_ContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := utils.DrainReader(ctx, bytes.NewReader([]byte("abc")), 0); !errors.Is(err, context.Canceled) {
		t.Errorf("got %v, want context.Canceled", err)
	}
}
