package pipeline

import (
	"context"
	"fmt"

	"github.com/Skryldev/heic-converter/core"
	apperrors "github.com/Skryldev/heic-converter/errors"
	"github.com/Skryldev/heic-converter/utils"
)

// Step names, in the order the worker runs them.
const (
	StepRead      = "read"
	StepDecode    = "decode"
	StepEncode    = "encode"
	StepThumbnail = "thumbnail"
	StepWrite     = "write"
)

// ── Read ──────────────────────────────────────────────────────────────────────

// ReadStep loads the source bytes.
type ReadStep struct {
	Reader core.SourceReader
}

func (s *ReadStep) Name() string { return StepRead }

func (s *ReadStep) Execute(ctx context.Context, c *core.Conversion) error {
	data, err := s.Reader.ReadAll(ctx, c.Source)
	if err != nil {
		return apperrors.Wrap(apperrors.CategoryIO, s.Name(), err)
	}
	c.Data = data
	c.SourceSize = int64(len(data))
	return nil
}

// ── Decode ────────────────────────────────────────────────────────────────────

// DecodeStep sniffs the source format from its bytes and decodes it with the
// matching registry decoder. The source bytes are dropped afterwards.
type DecodeStep struct {
	Registry core.Registry
}

func (s *DecodeStep) Name() string { return StepDecode }

func (s *DecodeStep) Execute(ctx context.Context, c *core.Conversion) error {
	if len(c.Data) == 0 {
		return apperrors.New(apperrors.CategoryDecode, s.Name(), apperrors.ErrEmptyInput)
	}

	format := utils.DetectFormat(c.Data)
	dec, ok := s.Registry.DecoderFor(format)
	if !ok {
		return apperrors.New(apperrors.CategoryDecode, s.Name(),
			fmt.Errorf("%w: %s", apperrors.ErrUnsupportedFormat, format))
	}

	img, err := dec.Decode(ctx, c.Data)
	if err != nil {
		return apperrors.Wrap(apperrors.CategoryDecode, s.Name(), err)
	}
	c.Raster = img
	c.Data = nil
	return nil
}

// ── Encode ────────────────────────────────────────────────────────────────────

// EncodeStep serialises the raster into the target format.
type EncodeStep struct {
	Registry core.Registry
	Format   core.Format
	Options  core.EncodeOptions
}

func (s *EncodeStep) Name() string { return StepEncode }

func (s *EncodeStep) Execute(ctx context.Context, c *core.Conversion) error {
	enc, ok := s.Registry.EncoderFor(s.Format)
	if !ok {
		return apperrors.New(apperrors.CategoryEncode, s.Name(),
			fmt.Errorf("%w: %s", apperrors.ErrUnsupportedFormat, s.Format))
	}

	data, err := enc.Encode(ctx, c.Raster, s.Options)
	if err != nil {
		return apperrors.Wrap(apperrors.CategoryEncode, s.Name(), err)
	}
	c.Encoded = data
	return nil
}

// ── Thumbnail ─────────────────────────────────────────────────────────────────

// ThumbnailStep derives the thumbnail and then releases the raster; nothing
// after it needs pixels.
type ThumbnailStep struct {
	Thumbnailer  core.Thumbnailer
	MaxDimension int
}

func (s *ThumbnailStep) Name() string { return StepThumbnail }

func (s *ThumbnailStep) Execute(_ context.Context, c *core.Conversion) error {
	defer func() {
		c.Raster.Release()
		c.Raster = nil
	}()
	c.Thumbnail = s.Thumbnailer.MakeThumbnail(c.Raster, s.MaxDimension)
	return nil
}

// ── Write ─────────────────────────────────────────────────────────────────────

// WriteStep persists the encoded bytes at the destination path.
type WriteStep struct {
	Writer core.DestinationWriter
}

func (s *WriteStep) Name() string { return StepWrite }

func (s *WriteStep) Execute(ctx context.Context, c *core.Conversion) error {
	n, err := s.Writer.WriteAll(ctx, c.Destination, c.Encoded)
	if err != nil {
		return apperrors.Wrap(apperrors.CategoryIO, s.Name(), err)
	}
	c.Written = n
	c.Encoded = nil
	return nil
}

// compile-time interface checks
var (
	_ core.Step = (*ReadStep)(nil)
	_ core.Step = (*DecodeStep)(nil)
	_ core.Step = (*EncodeStep)(nil)
	_ core.Step = (*ThumbnailStep)(nil)
	_ core.Step = (*WriteStep)(nil)
)
