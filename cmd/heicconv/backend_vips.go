//go:build vips

package main

import (
	heicconv "github.com/Skryldev/heic-converter"
	"github.com/Skryldev/heic-converter/adapters/vips"
)

func backendOptions() []heicconv.Option {
	return []heicconv.Option{vips.WithBackend()}
}

func shutdownBackends() { vips.Shutdown() }
