package esh

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// Options configures a State at Open time. It replaces the teacher's
// stringly-typed Config map (config.go) with typed fields: this
// module's runtime knobs are a small, fixed set (GC pacing, logging,
// the print output writer), unlike the teacher's open-ended grammar-loader
// settings, so a plain struct is the better fit while keeping the same
// "one place for runtime knobs" idea.
type Options struct {
	// GCFreq is how many allocations elapse between automatic GC steps.
	// Zero selects DefaultGCFreq.
	GCFreq int

	// GCStepSize bounds how many objects a single automatic GC step
	// traces before yielding. Zero selects DefaultGCStepSize.
	GCStepSize int

	// Logger receives structured diagnostics (lifecycle, GC sweeps,
	// coroutine switches). The zero value is a disabled logger, so
	// embedding the VM costs nothing by default.
	Logger zerolog.Logger

	// Stdout is where the `print` builtin writes. Nil selects
	// os.Stdout.
	Stdout io.Writer
}

const (
	DefaultGCFreq     = 256
	DefaultGCStepSize = 64
)

func defaultOptions() Options {
	return Options{
		GCFreq:     DefaultGCFreq,
		GCStepSize: DefaultGCStepSize,
		Logger:     zerolog.Nop(),
		Stdout:     os.Stdout,
	}
}

func (o Options) normalize() Options {
	if o.GCFreq <= 0 {
		o.GCFreq = DefaultGCFreq
	}
	if o.GCStepSize <= 0 {
		o.GCStepSize = DefaultGCStepSize
	}
	if o.Stdout == nil {
		o.Stdout = os.Stdout
	}
	return o
}
