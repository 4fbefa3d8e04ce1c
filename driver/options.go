package driver

import "github.com/chazu/grass/vm"

// Options configures a Driver.
type Options struct {
	// HotThreshold is the number of visits a loop position may have
	// before the next visit records it.
	HotThreshold uint64

	// MaxTraces bounds the trace cache (oldest evicted first). Zero
	// means unbounded.
	MaxTraces int

	// Optimize runs the dead-store optimizer over each finished trace.
	Optimize bool

	// Disabled turns every merge point into a no-op, leaving all work
	// to the embedding interpreter.
	Disabled bool
}

// DefaultOptions returns the options used by New when none are given.
func DefaultOptions() Options {
	return Options{HotThreshold: vm.DefaultHotThreshold}
}

// Option mutates Options.
type Option func(*Options)

// WithOptions replaces all options at once, e.g. with values loaded from
// a manifest.
func WithOptions(o Options) Option {
	return func(opts *Options) { *opts = o }
}

func WithHotThreshold(n uint64) Option {
	return func(opts *Options) { opts.HotThreshold = n }
}

func WithMaxTraces(n int) Option {
	return func(opts *Options) { opts.MaxTraces = n }
}

func WithOptimize(on bool) Option {
	return func(opts *Options) { opts.Optimize = on }
}

func WithDisabled(off bool) Option {
	return func(opts *Options) { opts.Disabled = off }
}
