// Package storage provides the source reader and destination writers used by
// the conversion worker.
package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	apperrors "github.com/Skryldev/heic-converter/errors"
	"github.com/Skryldev/heic-converter/utils"
)

// LocalOptions configures the local filesystem gateway.
type LocalOptions struct {
	Permissions  os.FileMode // default 0644
	MaxReadBytes int64       // 0 = no limit
	ChunkSize    int         // read chunk size; default 32 KiB

	// Overwrite replaces existing destinations. When false, writing to an
	// existing path fails with ErrDestinationExists.
	Overwrite bool
}

// Local reads sources from and writes destinations to the local filesystem.
// Writes land in a temporary file next to the destination and are renamed
// into place, so a failed write never leaves a torn file behind.
type Local struct {
	opts LocalOptions
}

// NewLocal creates a Local gateway.
func NewLocal(opts LocalOptions) *Local {
	if opts.Permissions == 0 {
		opts.Permissions = 0o644
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = 32 * 1024
	}
	return &Local{opts: opts}
}

func (l *Local) ReadAll(ctx context.Context, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryIO, "local.read", err)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryIO, "local.read.open", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryIO, "local.read.stat", err)
	}
	if info.IsDir() {
		return nil, apperrors.New(apperrors.CategoryIO, "local.read", fmt.Errorf("%s is a directory", path))
	}
	if limit := l.opts.MaxReadBytes; limit > 0 && info.Size() > limit {
		return nil, apperrors.New(apperrors.CategoryInput, "local.read",
			fmt.Errorf("%w: %d > %d bytes", apperrors.ErrTooLarge, info.Size(), limit))
	}

	data, err := utils.DrainReader(ctx, &utils.LimitedReader{R: f, Max: l.opts.MaxReadBytes}, l.opts.ChunkSize)
	if err != nil {
		if errors.Is(err, utils.ErrLimitExceeded) {
			return nil, apperrors.New(apperrors.CategoryInput, "local.read", apperrors.ErrTooLarge)
		}
		return nil, apperrors.Wrap(apperrors.CategoryIO, "local.read", err)
	}
	return data, nil
}

func (l *Local) WriteAll(ctx context.Context, path string, data []byte) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, apperrors.Wrap(apperrors.CategoryIO, "local.write", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, apperrors.Wrap(apperrors.CategoryIO, "local.write.mkdir", err)
	}
	if !l.opts.Overwrite {
		if ok, err := l.Exists(ctx, path); err != nil {
			return 0, err
		} else if ok {
			return 0, apperrors.New(apperrors.CategoryIO, "local.write",
				fmt.Errorf("%w: %s", apperrors.ErrDestinationExists, path))
		}
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return 0, apperrors.Wrap(apperrors.CategoryIO, "local.write.create", err)
	}
	tmpName := tmp.Name()

	n, err := tmp.Write(data)
	if err == nil {
		err = tmp.Sync()
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Chmod(tmpName, l.opts.Permissions)
	}
	if err != nil {
		_ = os.Remove(tmpName)
		return 0, apperrors.Wrap(apperrors.CategoryIO, "local.write", err)
	}

	if err := l.commit(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return 0, err
	}
	return int64(n), nil
}

// commit moves tmp to path. Without Overwrite a hard link claims the
// destination atomically, so two writers racing for one path cannot both win.
func (l *Local) commit(tmp, path string) error {
	if l.opts.Overwrite {
		if err := os.Rename(tmp, path); err != nil {
			return apperrors.Wrap(apperrors.CategoryIO, "local.write.rename", err)
		}
		return nil
	}

	if err := os.Link(tmp, path); err != nil {
		if errors.Is(err, os.ErrExist) {
			return apperrors.New(apperrors.CategoryIO, "local.write",
				fmt.Errorf("%w: %s", apperrors.ErrDestinationExists, path))
		}
		return apperrors.Wrap(apperrors.CategoryIO, "local.write.link", err)
	}
	_ = os.Remove(tmp)
	return nil
}

// Exists reports whether path is present.
func (l *Local) Exists(ctx context.Context, path string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, apperrors.Wrap(apperrors.CategoryIO, "local.exists", err)
	}
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, apperrors.Wrap(apperrors.CategoryIO, "local.exists.stat", err)
}
