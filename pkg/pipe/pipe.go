// Package pipe provides named chains of stages that transform an item before
// it is committed. A chain is fail-fast: the first stage that returns an
// error (or panics) aborts the run and no later stage sees the item.
//
// Registries are explicit values. Stages are registered once at process
// start and pipelines are looked up by name on the hot path:
//
//	reg := pipe.NewRegistry()
//	reg.Register("preSendMessage", trim, rejectEmpty)
//
//	out, err := reg.Get("preSendMessage").Run(ctx, contact, msg)
//
// Looking up a name nobody registered yields the identity pipeline, which
// returns its arguments unchanged.
package pipe

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dyluth/parley/pkg/metrics"
)

// Tuple is the argument list passed from stage to stage.
type Tuple []any

// Stage transforms the output of the previous stage. Returning a nil Tuple
// with a nil error passes the input through unchanged.
type Stage func(ctx context.Context, args Tuple) (Tuple, error)

// Result is the outcome of an asynchronous run.
type Result struct {
	Out Tuple
	Err error
}

// Option configures a Registry.
type Option func(*options)

type options struct {
	logger  zerolog.Logger
	metrics *metrics.Metrics
}

// WithLogger sets the logger used to report stage failures.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithMetrics records stage durations and failures in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// Registry maps pipeline names to pipelines. Safe for concurrent use.
type Registry struct {
	opts options

	mu        sync.RWMutex
	pipelines map[string]*Pipeline
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	o := options{logger: log.Logger}
	for _, opt := range opts {
		opt(&o)
	}
	o.logger = o.logger.With().Str("component", "pipe").Logger()
	return &Registry{opts: o, pipelines: make(map[string]*Pipeline)}
}

// Register appends stages to the named pipeline, creating it if needed.
func (r *Registry) Register(name string, stages ...Stage) {
	p := r.Get(name)
	p.mu.Lock()
	p.stages = append(p.stages, stages...)
	p.mu.Unlock()
}

// Get returns the named pipeline. It never fails: an unknown name yields an
// empty pipeline that later registrations under that name extend.
func (r *Registry) Get(name string) *Pipeline {
	r.mu.RLock()
	p, ok := r.pipelines[name]
	r.mu.RUnlock()
	if ok {
		return p
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.pipelines[name]; ok {
		return p
	}
	p = &Pipeline{name: name, opts: &r.opts}
	r.pipelines[name] = p
	return p
}

// Names returns the known pipeline names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.pipelines))
	for name := range r.pipelines {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Reset drops every pipeline. Pipelines already handed out keep their stages.
func (r *Registry) Reset() {
	r.mu.Lock()
	r.pipelines = make(map[string]*Pipeline)
	r.mu.Unlock()
}

// Pipeline is an ordered list of stages.
type Pipeline struct {
	name string
	opts *options

	mu     sync.RWMutex
	stages []Stage
}

// Name returns the name the pipeline is registered under.
func (p *Pipeline) Name() string { return p.name }

// Len returns the number of stages.
func (p *Pipeline) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.stages)
}

// Run feeds args to the first stage and each stage's output to the next,
// returning the last output. With no stages the arguments come back as is.
//
// ctx is checked before every stage; a cancelled context stops the run
// before the next stage starts. Failures are returned as *StageError.
func (p *Pipeline) Run(ctx context.Context, args ...any) (Tuple, error) {
	p.mu.RLock()
	stages := slices.Clone(p.stages)
	p.mu.RUnlock()

	current := Tuple(slices.Clone(args))
	for i, stage := range stages {
		if err := ctx.Err(); err != nil {
			return nil, &StageError{Pipeline: p.name, Index: i, Err: err}
		}

		start := time.Now()
		out, err := invoke(ctx, stage, current)
		p.opts.metrics.StageObserved(p.name, time.Since(start), err != nil)
		if err != nil {
			p.opts.logger.Debug().
				Err(err).
				Str("pipeline", p.name).
				Int("stage", i).
				Msg("stage rejected item")
			return nil, &StageError{Pipeline: p.name, Index: i, Err: err}
		}
		if out != nil {
			current = out
		}
	}
	return current, nil
}

// Go runs the pipeline on its own goroutine. The returned channel receives
// exactly one Result and is then closed.
func (p *Pipeline) Go(ctx context.Context, args ...any) <-chan Result {
	ch := make(chan Result, 1)
	go func() {
		defer close(ch)
		out, err := p.Run(ctx, args...)
		ch <- Result{Out: out, Err: err}
	}()
	return ch
}

func invoke(ctx context.Context, stage Stage, args Tuple) (out Tuple, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, &PanicError{Value: r}
		}
	}()
	return stage(ctx, args)
}
