// Package obslog builds the structured logger the orchestrator writes
// execution lifecycle and security events to. It wires logiface (the
// generic structured-logging facade) to stumpy (its pooled, allocation
// conscious JSON backend), following the same injected *Logger field
// pattern the rest of the pack uses rather than a global/package logger.
package obslog

import (
	"io"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

// Logger is the concrete logger type threaded through the engine:
// logiface's generic builder API over stumpy's pooled JSON events.
type Logger = logiface.Logger[*stumpy.Event]

// Option configures New.
type Option func(*options)

type options struct {
	writer io.Writer
	level  logiface.Level
}

// WithWriter overrides the destination stream. Defaults to io.Discard,
// so an engine consumer that never calls WithWriter gets no unexpected
// output on its own stderr.
func WithWriter(w io.Writer) Option {
	return func(o *options) { o.writer = w }
}

// WithLevel overrides the minimum enabled level. Defaults to
// LevelInformational, matching stumpy's own zero-value behavior.
func WithLevel(level logiface.Level) Option {
	return func(o *options) { o.level = level }
}

// New builds a ready-to-use Logger, writing one JSON object per line.
// With no options, it is silent (io.Discard) - callers opt in to actual
// output via WithWriter.
func New(opts ...Option) *Logger {
	o := options{writer: io.Discard, level: logiface.LevelInformational}
	for _, opt := range opts {
		opt(&o)
	}
	return stumpy.L.New(
		stumpy.L.WithStumpy(stumpy.WithWriter(o.writer)),
		stumpy.L.WithLevel(o.level),
	)
}

// Fields is a convenience for attaching a batch of key/value pairs to a
// single builder, for call sites logging several related values at once
// (e.g. the orchestrator's execution-summary line).
func Fields(b *logiface.Builder[*stumpy.Event], fields map[string]any) *logiface.Builder[*stumpy.Event] {
	for k, v := range fields {
		b = b.Interface(k, v)
	}
	return b
}
