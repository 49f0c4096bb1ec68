package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/urfave/cli/v3"

	"github.com/Skryldev/heic-converter/batch"
	"github.com/Skryldev/heic-converter/core"
	"github.com/Skryldev/heic-converter/utils"
)

func convertCommand() *cli.Command {
	return &cli.Command{
		Name:      "convert",
		Usage:     "Convert HEIC/HEIF files and stream JSON-lines events to stdout",
		ArgsUsage: "PATH...",
		Flags: append(flags(),
			&cli.BoolFlag{
				Name:  "strict",
				Usage: "Exit with status 1 when any file fails",
			},
		),
		Action: runConvert,
	}
}

func runConvert(ctx context.Context, cmd *cli.Command) error {
	log, cfg, err := setup(ctx, cmd)
	if err != nil {
		return err
	}

	paths, err := utils.ExpandPaths(cmd.Args().Slice())
	if err != nil {
		return err
	}

	conv, err := newConverter(log, cfg)
	if err != nil {
		return err
	}
	defer conv.Close()

	events := newEventWriter(os.Stdout, log)

	h, err := conv.Start(ctx, paths, events)
	if err != nil {
		return fmt.Errorf("failed to start batch: %w", err)
	}
	summary := h.Wait()

	if summary.Err != nil {
		return fmt.Errorf("batch %s did not run: %w", summary.BatchID, summary.Err)
	}
	if err := events.Err(); err != nil {
		return fmt.Errorf("failed to write events: %w", err)
	}
	if cmd.Bool("strict") && summary.Failed > 0 {
		return fmt.Errorf("%d of %d files failed", summary.Failed, summary.Total)
	}

	return nil
}

// eventWriter streams batch results as JSON lines. It may be shared by
// several batches.
type eventWriter struct {
	log *slog.Logger

	mu  sync.Mutex
	enc *json.Encoder
	err error
}

func newEventWriter(w io.Writer, log *slog.Logger) *eventWriter {
	return &eventWriter{log: log, enc: json.NewEncoder(w)}
}

func (e *eventWriter) OnOutcome(o core.Outcome) {
	e.write(core.OutcomeEvent(o))
	if !o.OK() {
		e.log.Warn("file failed", slog.String("path", o.Path), slog.String("err", o.Description()))
	}
}

func (e *eventWriter) OnComplete(s core.BatchSummary) {
	e.write(core.CompleteEvent(s))
	e.log.Info("batch completed",
		slog.String("batch_id", s.BatchID),
		slog.Int("succeeded", s.Succeeded),
		slog.Int("failed", s.Failed),
		slog.Float64("progress", batch.Progress(s.Succeeded+s.Failed, s.Total)),
		slog.Duration("total_time", s.TotalTime),
	)
}

func (e *eventWriter) write(ev core.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return
	}
	e.err = e.enc.Encode(ev)
}

// Err returns the first write error, if any.
func (e *eventWriter) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}

var _ batch.Sink = (*eventWriter)(nil)
