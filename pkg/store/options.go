package store

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dyluth/parley/pkg/metrics"
)

// Option configures a Map or Collection.
type Option func(*options)

type options struct {
	logger  zerolog.Logger
	metrics *metrics.Metrics
}

func newOptions(opts []Option) options {
	o := options{logger: log.Logger}
	for _, opt := range opts {
		opt(&o)
	}
	o.logger = o.logger.With().Str("component", "store").Logger()
	return o
}

// WithLogger sets the logger used to report hook and follower failures.
// Defaults to the global zerolog logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithMetrics reports hook, materializer and storage activity to m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// notify dispatches hooks and reports each outcome.
func notify[F any](o *options, kind string, hooks *Hooks[F], call func(F)) {
	hooks.Dispatch(func(fn F) {
		call(fn)
		o.metrics.HookCalled(kind)
	}, func(i int, r any) {
		o.logger.Error().
			Str("kind", kind).
			Int("hook", i).
			Interface("panic", r).
			Msg("hook panicked; continuing with remaining hooks")
		o.metrics.HookFailed(kind)
	})
}

// recovering runs fn, logging and counting a panic instead of propagating it.
func (o *options) recovering(kind string, fn func()) bool {
	r := invokeRecovering(fn)
	if r == nil {
		return true
	}
	o.logger.Error().Str("kind", kind).Interface("panic", r).Msg("callback panicked")
	o.metrics.HookFailed(kind)
	return false
}
