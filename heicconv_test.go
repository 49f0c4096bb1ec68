package heicconv_test

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
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	heicconv "github.com/Skryldev/heic-converter"
	"github.com/Skryldev/heic-converter/batch"
	"github.com/Skryldev/heic-converter/config"
	"github.com/Skryldev/heic-converter/core"
	apperrors "github.com/Skryldev/heic-converter/errors"
	"github.com/Skryldev/heic-converter/hooks"
)

// ── Test helpers ──────────────────────────────────────────────────────────────

func newRedJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 255, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		t.Fatalf("encode jpeg: %v", err)
	}
	return buf.Bytes()
}

// writePhoto stores a decodable source under name. size > 0 pads the file
// to exactly that many bytes; decoders stop at the end-of-image marker.
func writePhoto(t *testing.T, dir, name string, size int) string {
	t.Helper()
	data := newRedJPEG(t, 640, 480)
	if size > 0 {
		if size < len(data) {
			t.Fatalf("size %d below encoded size %d", size, len(data))
		}
		data = append(data, make([]byte, size-len(data))...)
	}
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func writeCorrupt(t *testing.T, dir, name string) string {
	t.Helper()
	data := append([]byte("\x00\x00\x00\x18ftypheic\x00\x00\x00\x00mif1heic"), bytes.Repeat([]byte{0xEE}, 512)...)
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func testConfig() config.Config {
	cfg := heicconv.DefaultConfig()
	cfg.Workers = 2
	cfg.SlowFileThreshold = 0
	return cfg
}

func newConverter(t *testing.T, cfg config.Config, opts ...heicconv.Option) *heicconv.Converter {
	t.Helper()
	conv, err := heicconv.New(cfg, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { conv.Close() })
	return conv
}

// ── Scenarios ─────────────────────────────────────────────────────────────────

func TestConvert_SingleFile(t *testing.T) {
	dir := t.TempDir()
	src := writePhoto(t, dir, "a.heic", 500000)
	conv := newConverter(t, testConfig())

	outcomes, summary := conv.Convert(context.Background(), []string{src})

	if len(outcomes) != 1 {
		t.Fatalf("outcomes: got %d, want 1", len(outcomes))
	}
	o := outcomes[0]
	if !o.OK() {
		t.Fatalf("expected success, got %v", o.Err)
	}
	if o.Info.OriginalFileName != "a.heic" || o.Info.OriginalFileSize != 500000 {
		t.Errorf("original: got %q %d", o.Info.OriginalFileName, o.Info.OriginalFileSize)
	}
	if o.Info.NewFileName != "a.jpg" {
		t.Errorf("new name: got %q, want a.jpg", o.Info.NewFileName)
	}
	info, err := os.Stat(filepath.Join(dir, "a.jpg"))
	if err != nil {
		t.Fatalf("output missing: %v", err)
	}
	if info.Size() != o.Info.NewFileSize || info.Size() == 0 {
		t.Errorf("new size: file %d, reported %d", info.Size(), o.Info.NewFileSize)
	}

	out, err := os.ReadFile(filepath.Join(dir, "a.jpg"))
	if err != nil {
		t.Fatal(err)
	}
	img, err := jpeg.Decode(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("output is not a JPEG: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 640 || b.Dy() != 480 {
		t.Errorf("output: got %dx%d, want 640x480", b.Dx(), b.Dy())
	}

	thumb, err := jpeg.DecodeConfig(bytes.NewReader(o.Info.Thumbnail))
	if err != nil {
		t.Fatalf("thumbnail: %v", err)
	}
	if max(thumb.Width, thumb.Height) != 200 {
		t.Errorf("thumbnail: got %dx%d", thumb.Width, thumb.Height)
	}

	if summary.Total != 1 || summary.Succeeded != 1 || summary.Failed != 0 || summary.Err != nil {
		t.Errorf("summary: %+v", summary)
	}
	if summary.TotalTime < o.Info.ConversionTime {
		t.Errorf("total time %v below conversion time %v", summary.TotalTime, o.Info.ConversionTime)
	}
}

func TestConvert_ValidAndCorrupted(t *testing.T) {
	dir := t.TempDir()
	good := writePhoto(t, dir, "a.heic", 0)
	bad := writeCorrupt(t, dir, "b.heic")
	conv := newConverter(t, testConfig())

	outcomes, summary := conv.Convert(context.Background(), []string{good, bad})

	if len(outcomes) != 2 {
		t.Fatalf("outcomes: got %d, want 2", len(outcomes))
	}
	for _, o := range outcomes {
		switch o.Path {
		case good:
			if !o.OK() {
				t.Errorf("good file failed: %v", o.Err)
			}
		case bad:
			if o.OK() {
				t.Fatal("corrupted file succeeded")
			}
			if !apperrors.IsCategory(o.Err, apperrors.CategoryDecode) {
				t.Errorf("got %v, want decode error", o.Err)
			}
			if o.Index != 1 {
				t.Errorf("index: got %d, want 1", o.Index)
			}
		default:
			t.Errorf("unexpected path %q", o.Path)
		}
	}
	if summary.Total != 2 || summary.Succeeded != 1 || summary.Failed != 1 {
		t.Errorf("summary: %+v", summary)
	}
	if _, err := os.Stat(filepath.Join(dir, "b.jpg")); !errors.Is(err, os.ErrNotExist) {
		t.Error("corrupted file must not produce output")
	}
}

func TestConvert_EmptyBatch(t *testing.T) {
	conv := newConverter(t, testConfig())

	outcomes, summary := conv.Convert(context.Background(), nil)
	if len(outcomes) != 0 {
		t.Errorf("outcomes: got %d, want 0", len(outcomes))
	}
	if summary.Total != 0 || summary.TotalTime != 0 {
		t.Errorf("summary: %+v", summary)
	}
	if !errors.Is(summary.Err, apperrors.ErrEmptyInput) {
		t.Errorf("got %v, want ErrEmptyInput", summary.Err)
	}
}

func TestConvert_OverwriteIsDeterministic(t *testing.T) {
	dir := t.TempDir()
	src := writePhoto(t, dir, "a.heic", 0)
	conv := newConverter(t, testConfig())
	ctx := context.Background()

	first := conv.ConvertFile(ctx, src)
	if !first.OK() {
		t.Fatalf("first run: %v", first.Err)
	}
	a, _ := os.ReadFile(first.Info.NewPath)

	second := conv.ConvertFile(ctx, src)
	if !second.OK() {
		t.Fatalf("second run: %v", second.Err)
	}
	b, _ := os.ReadFile(second.Info.NewPath)

	if !bytes.Equal(a, b) {
		t.Error("re-converting the same source must give identical output")
	}
	if !bytes.Equal(first.Info.Thumbnail, second.Info.Thumbnail) {
		t.Error("thumbnails differ between runs")
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 2 {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Errorf("directory: got %v, want source and one output", names)
	}
}

func TestConvert_CollisionFail(t *testing.T) {
	dir := t.TempDir()
	src := writePhoto(t, dir, "a.heic", 0)
	if err := os.WriteFile(filepath.Join(dir, "a.jpg"), []byte("keep me"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := testConfig()
	cfg.Collision = config.CollisionFail
	conv := newConverter(t, cfg)

	o := conv.ConvertFile(context.Background(), src)
	if !errors.Is(o.Err, apperrors.ErrDestinationExists) {
		t.Fatalf("got %v, want ErrDestinationExists", o.Err)
	}
	if !apperrors.IsCategory(o.Err, apperrors.CategoryIO) {
		t.Errorf("category: got %q", apperrors.CategoryOf(o.Err))
	}
	got, _ := os.ReadFile(filepath.Join(dir, "a.jpg"))
	if string(got) != "keep me" {
		t.Error("existing destination was modified")
	}
}

func TestConvert_OutputDirAndFormats(t *testing.T) {
	for _, tc := range []struct {
		format string
		ext    string
		check  func([]byte) error
	}{
		{"jpeg", ".jpg", func(b []byte) error { _, err := jpeg.Decode(bytes.NewReader(b)); return err }},
		{"png", ".png", func(b []byte) error { _, err := png.Decode(bytes.NewReader(b)); return err }},
		{"webp", ".webp", func(b []byte) error {
			if len(b) < 12 || string(b[8:12]) != "WEBP" {
				return errors.New("missing WEBP signature")
			}
			return nil
		}},
	} {
		t.Run(tc.format, func(t *testing.T) {
			dir := t.TempDir()
			src := writePhoto(t, dir, "IMG_7.HEIC", 0)

			cfg := testConfig()
			cfg.Format = tc.format
			cfg.OutputDir = filepath.Join(dir, "converted")
			conv := newConverter(t, cfg)

			o := conv.ConvertFile(context.Background(), src)
			if !o.OK() {
				t.Fatalf("convert: %v", o.Err)
			}
			want := filepath.Join(dir, "converted", "IMG_7"+tc.ext)
			if o.Info.NewPath != want || conv.Destination(src) != want {
				t.Fatalf("destination: got %q, want %q", o.Info.NewPath, want)
			}
			data, err := os.ReadFile(want)
			if err != nil {
				t.Fatal(err)
			}
			if err := tc.check(data); err != nil {
				t.Errorf("output: %v", err)
			}
		})
	}
}

func TestConvert_ConcurrencyBound(t *testing.T) {
	dir := t.TempDir()
	var srcs []string
	for i := 0; i < 12; i++ {
		srcs = append(srcs, writePhoto(t, dir, "p"+string(rune('a'+i))+".heic", 0))
	}

	gauge := hooks.NewRasterGauge()
	cfg := testConfig()
	cfg.Workers = 3
	conv := newConverter(t, cfg, heicconv.WithHook(gauge))

	_, summary := conv.Convert(context.Background(), srcs)
	if summary.Succeeded != 12 {
		t.Fatalf("summary: %+v", summary)
	}
	if gauge.Peak() > 3 || gauge.Peak() < 1 {
		t.Errorf("peak rasters: got %d, want 1..3", gauge.Peak())
	}
	if gauge.Live() != 0 {
		t.Errorf("rasters still held: %d", gauge.Live())
	}

	snap := conv.Stats()
	if snap.StepCalls["write"] != 12 {
		t.Errorf("write calls: got %d", snap.StepCalls["write"])
	}
}

func TestConvert_Duplicates(t *testing.T) {
	dir := t.TempDir()
	src := writePhoto(t, dir, "a.heic", 0)
	conv := newConverter(t, testConfig())

	outcomes, summary := conv.Convert(context.Background(), []string{src, src, src})
	if len(outcomes) != 3 || summary.Total != 3 {
		t.Fatalf("got %d outcomes, summary %+v", len(outcomes), summary)
	}
	if summary.Succeeded != 3 {
		t.Errorf("summary: %+v", summary)
	}
}

func TestStart_StreamsEvents(t *testing.T) {
	dir := t.TempDir()
	srcs := []string{writePhoto(t, dir, "a.heic", 0), writeCorrupt(t, dir, "b.heic"), filepath.Join(dir, "missing.heic")}
	conv := newConverter(t, testConfig())

	sink := batch.NewChanSink(0)
	h, err := conv.Start(context.Background(), srcs, sink)
	if err != nil {
		t.Fatal(err)
	}

	var success, failure, complete int
	for ev := range sink.Events() {
		switch ev.Type {
		case core.EventSuccess:
			success++
		case core.EventError:
			failure++
			if ev.Error.Path == "" || ev.Error.Error == "" {
				t.Errorf("error event without details: %+v", ev.Error)
			}
		case core.EventComplete:
			complete++
			if success+failure != 3 {
				t.Error("complete event arrived before all outcomes")
			}
			if ev.Complete.BatchID != h.BatchID() {
				t.Errorf("batch id: got %q, want %q", ev.Complete.BatchID, h.BatchID())
			}
		}
	}
	if success != 1 || failure != 2 || complete != 1 {
		t.Errorf("events: success=%d failure=%d complete=%d", success, failure, complete)
	}
}

func TestStart_AfterClose(t *testing.T) {
	conv, err := heicconv.New(testConfig())
	if err != nil {
		t.Fatal(err)
	}
	if err := conv.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := conv.Start(context.Background(), []string{"a.heic"}, nil); !errors.Is(err, heicconv.ErrClosed) {
		t.Errorf("got %v, want ErrClosed", err)
	}
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Quality = 0
	_, err := heicconv.New(cfg)
	if !apperrors.IsCategory(err, apperrors.CategoryConfig) {
		t.Fatalf("got %v, want config error", err)
	}
	if !strings.Contains(err.Error(), "Quality") {
		t.Errorf("error does not name the field: %v", err)
	}
}

func TestNew_Registry(t *testing.T) {
	conv := newConverter(t, testConfig())
	reg := conv.Registry()

	for _, f := range []core.Format{core.FormatHEIF, core.FormatJPEG, core.FormatPNG, core.FormatWebP} {
		if _, ok := reg.DecoderFor(f); !ok {
			t.Errorf("no decoder for %s", f)
		}
	}
	for _, f := range []core.Format{heicconv.JPEG, heicconv.PNG, heicconv.WebP} {
		if _, ok := reg.EncoderFor(f); !ok {
			t.Errorf("no encoder for %s", f)
		}
	}
	if conv.Workers() != 2 {
		t.Errorf("workers: got %d", conv.Workers())
	}
}

func TestNew_BackendNotLinked(t *testing.T) {
	cfg := testConfig()
	cfg.Backend = config.BackendVips

	_, err := heicconv.New(cfg)
	if !apperrors.IsCategory(err, apperrors.CategoryConfig) {
		t.Fatalf("got %v, want config error", err)
	}
	if !strings.Contains(err.Error(), "not linked") {
		t.Errorf("unexpected message: %v", err)
	}
}

type fakeBackend struct {
	settings heicconv.BackendSettings
	closed   int
}

func (b *fakeBackend) Register(reg core.Registry) {
	reg.RegisterEncoder(core.FormatJPEG, encoderFunc(func(context.Context, *core.RasterImage, core.EncodeOptions) ([]byte, error) {
		return []byte("from backend"), nil
	}))
}

func (b *fakeBackend) MakeThumbnail(img *core.RasterImage, maxDimension int) []byte {
	return b.settings.Fallback.MakeThumbnail(img, maxDimension)
}

func (b *fakeBackend) Close() error {
	b.closed++
	return nil
}

type encoderFunc func(context.Context, *core.RasterImage, core.EncodeOptions) ([]byte, error)

func (f encoderFunc) CanEncode(core.Format) bool { return true }

func (f encoderFunc) Encode(ctx context.Context, img *core.RasterImage, opts core.EncodeOptions) ([]byte, error) {
	return f(ctx, img, opts)
}

func TestNew_LinkedBackend(t *testing.T) {
	var built *fakeBackend
	link := heicconv.WithBackend(config.BackendVips, func(s heicconv.BackendSettings) heicconv.Backend {
		built = &fakeBackend{settings: s}
		return built
	})

	t.Run("native config ignores it", func(t *testing.T) {
		built = nil
		newConverter(t, testConfig(), link)
		if built != nil {
			t.Error("backend built for the native config")
		}
	})

	t.Run("selected backend takes over", func(t *testing.T) {
		built = nil
		dir := t.TempDir()
		src := writePhoto(t, dir, "a.heic", 0)

		cfg := testConfig()
		cfg.Backend = config.BackendVips
		conv, err := heicconv.New(cfg, link)
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		if built == nil {
			t.Fatal("backend not built")
		}
		if built.settings.Quality != cfg.Quality || built.settings.Workers != 2 || built.settings.Fallback == nil {
			t.Errorf("settings: %+v", built.settings)
		}

		out := conv.ConvertFile(context.Background(), src)
		if !out.OK() {
			t.Fatalf("ConvertFile: %v", out.Err)
		}
		data, err := os.ReadFile(out.Info.NewPath)
		if err != nil {
			t.Fatal(err)
		}
		if string(data) != "from backend" {
			t.Errorf("output not written by the backend encoder: %q", data)
		}
		if len(out.Info.Thumbnail) == 0 {
			t.Error("missing thumbnail")
		}

		conv.Close()
		conv.Close()
		if built.closed != 1 {
			t.Errorf("backend closed %d times, want 1", built.closed)
		}
	})
}

// ── Real HEIC ─────────────────────────────────────────────────────────────────

func TestConvert_HEICPhoto(t *testing.T) {
	if testing.Short() {
		t.Skip("decodes a 12 MP photo")
	}
	fixture, err := os.ReadFile(filepath.Join("adapters", "decoder", "testdata", "orientation-6.heic"))
	if err != nil {
		t.Fatal(err)
	}
	dir := t.TempDir()
	photo := filepath.Join(dir, "IMG_0001.HEIC")
	if err := os.WriteFile(photo, fixture, 0o644); err != nil {
		t.Fatal(err)
	}
	bad := writeCorrupt(t, dir, "IMG_0002.heic")
	conv := newConverter(t, testConfig())

	outcomes, summary := conv.Convert(context.Background(), []string{photo, bad})

	if summary.Total != 2 || summary.Succeeded != 1 || summary.Failed != 1 {
		t.Fatalf("summary: %+v", summary)
	}
	for _, o := range outcomes {
		if o.Path != photo {
			continue
		}
		if !o.OK() {
			t.Fatalf("photo failed: %v", o.Err)
		}
		if o.Info.NewFileName != "IMG_0001.jpg" || o.Info.OriginalFileSize != int64(len(fixture)) {
			t.Errorf("info: %+v", o.Info)
		}
		out, err := os.ReadFile(o.Info.NewPath)
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(out[:4], []byte{0xFF, 0xD8, 0xFF, 0xE1}) {
			t.Errorf("output starts % X, want SOI followed by APP1", out[:4])
		}
		cfg, err := jpeg.DecodeConfig(bytes.NewReader(out))
		if err != nil {
			t.Fatalf("output is not a JPEG: %v", err)
		}
		if cfg.Width != 3024 || cfg.Height != 4032 {
			t.Errorf("output %dx%d, want upright 3024x4032", cfg.Width, cfg.Height)
		}
		thumb, err := jpeg.DecodeConfig(bytes.NewReader(o.Info.Thumbnail))
		if err != nil {
			t.Fatalf("thumbnail: %v", err)
		}
		if thumb.Width != 150 || thumb.Height != 200 {
			t.Errorf("thumbnail %dx%d, want 150x200", thumb.Width, thumb.Height)
		}
	}
}

// ── S3 destination ────────────────────────────────────────────────────────────

type memS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (m *memS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.objects[*in.Key] = body
	m.mu.Unlock()
	return &s3.PutObjectOutput{}, nil
}

func (m *memS3) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[*in.Key]; !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{}, nil
}

func TestConvert_S3Destination(t *testing.T) {
	dir := t.TempDir()
	src := writePhoto(t, dir, "a.heic", 0)

	cfg := testConfig()
	cfg.S3 = config.S3Config{Bucket: "photos", Region: "us-east-1", Prefix: "converted"}
	store := &memS3{objects: map[string][]byte{}}
	conv := newConverter(t, cfg, heicconv.WithS3Client(store))

	o := conv.ConvertFile(context.Background(), src)
	if !o.OK() {
		t.Fatalf("convert: %v", o.Err)
	}
	obj, ok := store.objects["converted/a.jpg"]
	if !ok {
		t.Fatalf("object missing, have %v", store.objects)
	}
	if int64(len(obj)) != o.Info.NewFileSize {
		t.Errorf("size: object %d, reported %d", len(obj), o.Info.NewFileSize)
	}
	if _, err := os.Stat(filepath.Join(dir, "a.jpg")); !errors.Is(err, os.ErrNotExist) {
		t.Error("nothing should be written locally")
	}
}
