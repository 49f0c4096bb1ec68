//go:build !vips

package main

import heicconv "github.com/Skryldev/heic-converter"

// Built without the vips tag: --backend vips is rejected at startup.
func backendOptions() []heicconv.Option { return nil }

func shutdownBackends() {}
