package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

type loggerKey struct{}

type levelKey struct{}

func main() {
	ctx := context.Background()

	level := new(slog.LevelVar)
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))

	ctx = context.WithValue(ctx, loggerKey{}, log)
	ctx = context.WithValue(ctx, levelKey{}, level)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	err := cmd().Run(ctx, os.Args)
	shutdownBackends()
	if err != nil {
		fmt.Fprintf(os.Stderr, "stopped heicconv due to the error %q\n", err)
		stop()
		os.Exit(1)
	}
}
