package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// HEIFPaths lists the .heic/.heif files directly inside dir, skipping
// AppleDouble "._" companions. The result is in directory order (sorted by
// name).
func HEIFPaths(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), "._") {
			continue
		}
		if IsHEIFPath(entry.Name()) {
			out = append(out, filepath.Join(dir, entry.Name()))
		}
	}
	return out, nil
}

// ExpandPaths replaces every directory in args with the HEIF files it holds.
// Plain file arguments pass through unchanged, whatever their extension, so
// the batch reports them individually.
func ExpandPaths(args []string) ([]string, error) {
	out := make([]string, 0, len(args))
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil || !info.IsDir() {
			out = append(out, arg)
			continue
		}
		files, err := HEIFPaths(arg)
		if err != nil {
			return nil, fmt.Errorf("failed to list %q: %w", arg, err)
		}
		out = append(out, files...)
	}
	return out, nil
}
