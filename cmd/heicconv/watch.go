package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/urfave/cli/v3"

	"github.com/Skryldev/heic-converter/utils"
)

func watchCommand() *cli.Command {
	return &cli.Command{
		Name:  "watch",
		Usage: "Watch a directory and convert HEIC/HEIF files as they appear",
		Flags: append(flags(),
			&cli.StringFlag{
				Name:      "dir",
				Aliases:   []string{"d"},
				Usage:     "Set directory to watch for new files",
				Required:  true,
				Validator: validateDirectory,
			},
			&cli.DurationFlag{
				Name:  "settle",
				Usage: "Wait this long after the last new file before starting a batch",
				Value: 2 * time.Second,
			},
			&cli.BoolFlag{
				Name:  "existing",
				Usage: "Convert files already present in the directory on start",
			},
		),
		Action: runWatch,
	}
}

func runWatch(ctx context.Context, cmd *cli.Command) error {
	log, cfg, err := setup(ctx, cmd)
	if err != nil {
		return err
	}

	conv, err := newConverter(log, cfg)
	if err != nil {
		return err
	}
	defer conv.Close()

	dir := cmd.String("dir")
	settle := max(cmd.Duration("settle"), 0)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %q: %w", dir, err)
	}

	events := newEventWriter(os.Stdout, log)
	var running sync.WaitGroup
	defer running.Wait()

	submit := func(paths []string) {
		h, err := conv.Start(ctx, paths, events)
		if err != nil {
			log.ErrorContext(ctx, "failed to start batch", slog.String("err", err.Error()))
			return
		}
		log.InfoContext(ctx, "batch started", slog.String("batch_id", h.BatchID()), slog.Int("files", len(paths)))
		running.Add(1)
		go func() {
			defer running.Done()
			h.Wait()
		}()
	}

	if cmd.Bool("existing") {
		paths, err := utils.HEIFPaths(dir)
		if err != nil {
			return fmt.Errorf("failed to list %q: %w", dir, err)
		}
		if len(paths) > 0 {
			submit(paths)
		}
	}

	log.InfoContext(ctx, "watching directory", slog.String("dir", dir), slog.Duration("settle", settle))

	p := newPending()
	timer := time.NewTimer(settle)
	timer.Stop()

	for {
		select {
		case <-ctx.Done():
			log.InfoContext(ctx, "stopped watching", slog.String("dir", dir))
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
				continue
			}
			if !watchable(ev.Name) {
				continue
			}
			if p.add(ev.Name) {
				log.DebugContext(ctx, "new file", slog.String("path", ev.Name))
			}
			timer.Reset(settle)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.WarnContext(ctx, "watcher error", slog.String("err", err.Error()))

		case <-timer.C:
			if paths := p.drain(); len(paths) > 0 {
				submit(paths)
			}
		}
	}
}

func watchable(path string) bool {
	return utils.IsHEIFPath(path) && !strings.HasPrefix(filepath.Base(path), "._")
}

// pending collects paths in arrival order without duplicates.
type pending struct {
	paths []string
	seen  map[string]struct{}
}

func newPending() *pending { return &pending{seen: make(map[string]struct{})} }

func (p *pending) add(path string) bool {
	if _, ok := p.seen[path]; ok {
		return false
	}
	p.seen[path] = struct{}{}
	p.paths = append(p.paths, path)
	return true
}

func (p *pending) drain() []string {
	out := p.paths
	p.paths = nil
	p.seen = make(map[string]struct{})
	return out
}
