package config

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/urfave/cli/v3"
)

// Backend selects the codec implementation.
type Backend string

const (
	BackendNative Backend = "native"
	BackendVips   Backend = "vips"
)

// CollisionPolicy decides what happens when a destination file already exists.
type CollisionPolicy string

const (
	CollisionOverwrite CollisionPolicy = "overwrite"
	CollisionFail      CollisionPolicy = "fail"
)

// Config is the top-level configuration struct. Start from Default() and
// override only what you need.
type Config struct {
	// Worker window. 0 resolves at runtime through ResolveWorkers.
	Workers         int   `validate:"gte=0"`
	MemoryPerWorker int64 `validate:"gte=0"` // bytes; 0 = no memory cap on auto resolution

	// Target encoding.
	Format       string `validate:"oneof=jpeg png webp"`
	Quality      int    `validate:"gte=1,lte=100"`
	Lossless     bool
	PreserveEXIF bool

	// Thumbnails.
	ThumbnailSize    int `validate:"gte=1,lte=4096"`
	ThumbnailQuality int `validate:"gte=1,lte=100"`

	// Destination.
	OutputDir string
	Collision CollisionPolicy `validate:"oneof=overwrite fail"`

	Backend       Backend `validate:"oneof=native vips"`
	MaxImageBytes int64   `validate:"gte=0"` // 0 = no limit

	// SlowFileThreshold logs a warning for files still converting after this
	// long. 0 disables it.
	SlowFileThreshold time.Duration `validate:"gte=0"`

	S3 S3Config

	LogLevel string `validate:"oneof=debug info warn error"`
}

// S3Config configures the optional S3 destination writer. An empty Bucket
// keeps output on the local filesystem.
type S3Config struct {
	Bucket          string
	Region          string `validate:"required_with=Bucket"`
	Endpoint        string `validate:"omitempty,url"` // optional custom endpoint (MinIO, R2, etc.)
	Prefix          string
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
}

// Enabled reports whether output should go to S3.
func (c S3Config) Enabled() bool { return c.Bucket != "" }

// Default returns a Config populated with sensible production defaults.
func Default() Config {
	return Config{
		Workers:           0, // resolved at runtime
		MemoryPerWorker:   256 << 20,
		Format:            "jpeg",
		Quality:           90,
		PreserveEXIF:      true,
		ThumbnailSize:     200,
		ThumbnailQuality:  75,
		Collision:         CollisionOverwrite,
		Backend:           BackendNative,
		SlowFileThreshold: 30 * time.Second,
		LogLevel:          "info",
	}
}

var validate = validator.New()

// Validate returns an error if the configuration is inconsistent.
func Validate(c Config) error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed on %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// ResolveWorkers returns the effective worker count. An explicit Workers value
// wins; otherwise the logical CPU count is used, capped by available memory
// divided by MemoryPerWorker. The result is never below 1.
func ResolveWorkers(ctx context.Context, c Config) int {
	if c.Workers > 0 {
		return c.Workers
	}

	n, err := cpu.CountsWithContext(ctx, true)
	if err != nil || n < 1 {
		n = runtime.NumCPU()
	}

	if c.MemoryPerWorker > 0 {
		if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil && vm.Available > 0 {
			byMem := int(vm.Available / uint64(c.MemoryPerWorker))
			if byMem < n {
				n = byMem
			}
		}
	}

	return max(n, 1)
}

// Load maps command flags onto a Config. Flags absent from cmd keep their
// Default() values.
func Load(cmd *cli.Command) Config {
	c := Default()

	if cmd.IsSet("workers") {
		c.Workers = int(cmd.Int("workers"))
	}
	if cmd.IsSet("memory-per-worker") {
		c.MemoryPerWorker = cmd.Int64("memory-per-worker")
	}
	if cmd.IsSet("format") {
		c.Format = strings.ToLower(cmd.String("format"))
	}
	if cmd.IsSet("quality") {
		c.Quality = int(cmd.Int("quality"))
	}
	if cmd.IsSet("lossless") {
		c.Lossless = cmd.Bool("lossless")
	}
	if cmd.IsSet("preserve-exif") {
		c.PreserveEXIF = cmd.Bool("preserve-exif")
	}
	if cmd.IsSet("thumbnail-size") {
		c.ThumbnailSize = int(cmd.Int("thumbnail-size"))
	}
	if cmd.IsSet("thumbnail-quality") {
		c.ThumbnailQuality = int(cmd.Int("thumbnail-quality"))
	}
	if cmd.IsSet("output-dir") {
		c.OutputDir = cmd.String("output-dir")
	}
	if cmd.IsSet("collision") {
		c.Collision = CollisionPolicy(cmd.String("collision"))
	}
	if cmd.IsSet("backend") {
		c.Backend = Backend(cmd.String("backend"))
	}
	if cmd.IsSet("max-image-bytes") {
		c.MaxImageBytes = cmd.Int64("max-image-bytes")
	}
	if cmd.IsSet("slow-file") {
		c.SlowFileThreshold = cmd.Duration("slow-file")
	}
	if cmd.IsSet("log-level") {
		c.LogLevel = cmd.String("log-level")
	}

	c.S3 = S3Config{
		Bucket:          cmd.String("s3-bucket"),
		Region:          cmd.String("s3-region"),
		Endpoint:        cmd.String("s3-endpoint"),
		Prefix:          cmd.String("s3-prefix"),
		AccessKeyID:     cmd.String("s3-access-key-id"),
		SecretAccessKey: cmd.String("s3-secret-access-key"),
		UsePathStyle:    cmd.Bool("s3-path-style"),
	}

	return c
}
