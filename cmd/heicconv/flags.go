package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	altsrc "github.com/urfave/cli-altsrc/v3"
	"github.com/urfave/cli-altsrc/v3/yaml"
	"github.com/urfave/cli/v3"

	heicconv "github.com/Skryldev/heic-converter"
	"github.com/Skryldev/heic-converter/config"
)

var version = "dev"

func cmd() *cli.Command {
	return &cli.Command{
		Name:    "heicconv",
		Usage:   "Batch HEIC/HEIF to JPEG converter",
		Version: version,
		Commands: []*cli.Command{
			convertCommand(),
			watchCommand(),
		},
	}
}

// setup resolves the logger and configuration shared by every sub-command.
func setup(ctx context.Context, cmd *cli.Command) (*slog.Logger, config.Config, error) {
	log, ok := ctx.Value(loggerKey{}).(*slog.Logger)
	if !ok {
		return nil, config.Config{}, errors.New("failed to get logger from context")
	}

	cfg := config.Load(cmd)

	if level, ok := ctx.Value(levelKey{}).(*slog.LevelVar); ok {
		if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
			return nil, cfg, fmt.Errorf("invalid log level %q: %w", cfg.LogLevel, err)
		}
	}

	return log, cfg, nil
}

func newConverter(log *slog.Logger, cfg config.Config) (*heicconv.Converter, error) {
	opts := append([]heicconv.Option{heicconv.WithSlog(log)}, backendOptions()...)
	conv, err := heicconv.New(cfg, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create converter: %w", err)
	}
	return conv, nil
}

func flags() []cli.Flag {
	var configFile string

	return []cli.Flag{
		&cli.StringFlag{
			Name:        "config",
			Aliases:     []string{"c"},
			Validator:   validateConfig,
			Usage:       "Load configuration from `FILE`",
			Destination: &configFile,
		},
		&cli.StringFlag{
			Name:      "format",
			Aliases:   []string{"f"},
			Usage:     "Set output format (jpeg, png, webp)",
			Value:     "jpeg",
			Sources:   cli.NewValueSourceChain(yaml.YAML("output.format", altsrc.NewStringPtrSourcer(&configFile))),
			Validator: validateFormat,
		},
		&cli.IntFlag{
			Name:    "quality",
			Aliases: []string{"q"},
			Usage:   "Set output quality (1-100)",
			Value:   90,
			Sources: cli.NewValueSourceChain(yaml.YAML("output.quality", altsrc.NewStringPtrSourcer(&configFile))),
		},
		&cli.BoolFlag{
			Name:    "lossless",
			Usage:   "Encode WebP output losslessly",
			Sources: cli.NewValueSourceChain(yaml.YAML("output.lossless", altsrc.NewStringPtrSourcer(&configFile))),
		},
		&cli.BoolFlag{
			Name:    "preserve-exif",
			Usage:   "Copy source EXIF metadata into JPEG output",
			Value:   true,
			Sources: cli.NewValueSourceChain(yaml.YAML("output.preserve_exif", altsrc.NewStringPtrSourcer(&configFile))),
		},
		&cli.StringFlag{
			Name:    "output-dir",
			Aliases: []string{"o"},
			Usage:   "Write output to `DIR` instead of next to each source",
			Sources: cli.NewValueSourceChain(yaml.YAML("output.dir", altsrc.NewStringPtrSourcer(&configFile))),
		},
		&cli.StringFlag{
			Name:    "collision",
			Usage:   "Set behaviour for existing destinations (overwrite, fail)",
			Value:   string(config.CollisionOverwrite),
			Sources: cli.NewValueSourceChain(yaml.YAML("output.collision", altsrc.NewStringPtrSourcer(&configFile))),
		},
		&cli.IntFlag{
			Name:    "thumbnail-size",
			Usage:   "Set the longer side of thumbnails in pixels",
			Value:   200,
			Sources: cli.NewValueSourceChain(yaml.YAML("thumbnail.size", altsrc.NewStringPtrSourcer(&configFile))),
		},
		&cli.IntFlag{
			Name:    "thumbnail-quality",
			Usage:   "Set thumbnail JPEG quality (1-100)",
			Value:   75,
			Sources: cli.NewValueSourceChain(yaml.YAML("thumbnail.quality", altsrc.NewStringPtrSourcer(&configFile))),
		},
		&cli.IntFlag{
			Name:    "workers",
			Aliases: []string{"w"},
			Usage:   "Set the number of files converted at once (0 = auto)",
			Sources: cli.NewValueSourceChain(yaml.YAML("batch.workers", altsrc.NewStringPtrSourcer(&configFile))),
		},
		&cli.Int64Flag{
			Name:    "memory-per-worker",
			Usage:   "Set the memory budget per worker in bytes for auto concurrency",
			Value:   256 << 20,
			Sources: cli.NewValueSourceChain(yaml.YAML("batch.memory_per_worker", altsrc.NewStringPtrSourcer(&configFile))),
		},
		&cli.DurationFlag{
			Name:    "slow-file",
			Usage:   "Warn about files still converting after this long (0 = off)",
			Value:   30 * time.Second,
			Sources: cli.NewValueSourceChain(yaml.YAML("batch.slow_file", altsrc.NewStringPtrSourcer(&configFile))),
		},
		&cli.StringFlag{
			Name:    "backend",
			Usage:   "Set codec backend (native, or vips when built with -tags vips)",
			Value:   string(config.BackendNative),
			Sources: cli.NewValueSourceChain(yaml.YAML("codec.backend", altsrc.NewStringPtrSourcer(&configFile))),
		},
		&cli.Int64Flag{
			Name:    "max-image-bytes",
			Usage:   "Reject sources larger than this many bytes (0 = no limit)",
			Sources: cli.NewValueSourceChain(yaml.YAML("codec.max_image_bytes", altsrc.NewStringPtrSourcer(&configFile))),
		},
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "Set log level (debug, info, warn, error)",
			Value:   "info",
			Sources: cli.NewValueSourceChain(yaml.YAML("log.level", altsrc.NewStringPtrSourcer(&configFile))),
		},
		&cli.StringFlag{
			Name:    "s3-bucket",
			Usage:   "Upload output to this S3 bucket instead of the local disk",
			Sources: cli.NewValueSourceChain(yaml.YAML("s3.bucket", altsrc.NewStringPtrSourcer(&configFile))),
		},
		&cli.StringFlag{
			Name:    "s3-region",
			Usage:   "Set S3 region",
			Sources: cli.NewValueSourceChain(yaml.YAML("s3.region", altsrc.NewStringPtrSourcer(&configFile))),
		},
		&cli.StringFlag{
			Name:    "s3-endpoint",
			Usage:   "Set a custom S3 endpoint URL",
			Sources: cli.NewValueSourceChain(yaml.YAML("s3.endpoint", altsrc.NewStringPtrSourcer(&configFile))),
		},
		&cli.StringFlag{
			Name:    "s3-prefix",
			Usage:   "Set the key prefix for uploaded objects",
			Sources: cli.NewValueSourceChain(yaml.YAML("s3.prefix", altsrc.NewStringPtrSourcer(&configFile))),
		},
		&cli.StringFlag{
			Name:    "s3-access-key-id",
			Usage:   "Set S3 access key ID",
			Sources: cli.EnvVars("HEICCONV_S3_ACCESS_KEY_ID"),
		},
		&cli.StringFlag{
			Name:    "s3-secret-access-key",
			Usage:   "Set S3 secret access key",
			Sources: cli.EnvVars("HEICCONV_S3_SECRET_ACCESS_KEY"),
		},
		&cli.BoolFlag{
			Name:    "s3-path-style",
			Usage:   "Use path-style S3 addressing",
			Sources: cli.NewValueSourceChain(yaml.YAML("s3.path_style", altsrc.NewStringPtrSourcer(&configFile))),
		},
	}
}

func validateDirectory(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%q does not exist", dir)
		}
		return fmt.Errorf("failed to stat %q: %w", dir, err)
	}

	if !info.IsDir() {
		return fmt.Errorf("%q is not a directory", dir)
	}

	return nil
}

func validateConfig(config string) error {
	info, err := os.Stat(config)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%q does not exist", config)
		}
		return fmt.Errorf("failed to stat %q: %w", config, err)
	}

	if info.IsDir() {
		return fmt.Errorf("%q is a directory, not a file", config)
	}

	ext := filepath.Ext(info.Name())
	if ext != ".yml" && ext != ".yaml" {
		return fmt.Errorf("invalid extension %q", config)
	}

	return nil
}

func validateFormat(format string) error {
	switch strings.ToLower(format) {
	case "jpeg", "png", "webp":
		return nil
	}
	return fmt.Errorf("unsupported output format %q", format)
}
