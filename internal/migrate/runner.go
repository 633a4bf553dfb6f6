package migrate

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/visualize-admin/visualization-tool-sub010/internal/version"
)

// Decoder validates a document against the schema of the registry's current
// version. It must not default or coerce anything.
type Decoder interface {
	Decode(doc Document) error
}

// DecoderFunc adapts a function to Decoder.
type DecoderFunc func(doc Document) error

func (f DecoderFunc) Decode(doc Document) error { return f(doc) }

// Options configures one Migrate call.
type Options struct {
	// ToVersion defaults to the registry's current version.
	ToVersion string
}

// Result is the outcome of a successful run.
type Result struct {
	Document Document  `json:"document"`
	From     string    `json:"from"`
	To       string    `json:"to"`
	Applied  []string  `json:"applied"`
	Warnings []Warning `json:"warnings"`
}

// Runner applies a registry's steps. It holds no per-document state and is
// safe for concurrent use.
type Runner struct {
	registry *Registry
	decoder  Decoder
	resolver DimensionResolver
	timeout  time.Duration
	logger   *log.Logger
}

// Option configures a Runner.
type Option func(*Runner)

// WithDecoder sets the validation gate run when migrating to the current version.
func WithDecoder(d Decoder) Option {
	return func(r *Runner) { r.decoder = d }
}

// WithResolver injects the dimension metadata resolver used by best-effort steps.
func WithResolver(res DimensionResolver) Option {
	return func(r *Runner) { r.resolver = res }
}

// WithLookupTimeout bounds each resolver call.
func WithLookupTimeout(d time.Duration) Option {
	return func(r *Runner) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithLogger replaces the default logger.
func WithLogger(l *log.Logger) Option {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewRunner returns a runner over reg.
func NewRunner(reg *Registry, opts ...Option) *Runner {
	r := &Runner{
		registry: reg,
		timeout:  DefaultLookupTimeout,
		logger:   log.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Runner) Registry() *Registry { return r.registry }

// Migrate moves doc to opts.ToVersion (or the current version). The input is
// never modified.
func (r *Runner) Migrate(ctx context.Context, doc Document, opts Options) (Result, error) {
	reg := r.registry
	family := reg.family

	source, ok := doc.Version()
	if !ok || source == "" {
		return Result{}, &UnknownSourceVersionError{Family: family}
	}
	if _, err := version.Parse(source); err != nil {
		return Result{}, &UnknownSourceVersionError{Family: family, Version: source, Err: err}
	}
	from, ok := reg.position(source)
	if !ok {
		return Result{}, &UnknownSourceVersionError{Family: family, Version: source}
	}

	target := opts.ToVersion
	if target == "" {
		target = reg.current
	}
	order, err := version.Compare(source, target)
	if err != nil {
		return Result{}, err
	}
	to, ok := reg.position(target)
	if !ok {
		return Result{}, &UnknownTargetVersionError{Family: family, Version: target}
	}

	env := &Env{family: family, resolver: r.resolver, timeout: r.timeout, logger: r.logger}
	current := doc.Clone()
	applied := make([]string, 0)

	switch order {
	case version.Same:
	case version.Before:
		for i := from; i < to; i++ {
			step := reg.steps[i]
			current, err = r.apply(ctx, env, step, step.Up, step.To, current)
			if err != nil {
				return Result{}, err
			}
			applied = append(applied, step.label())
		}
	case version.After:
		for i := from - 1; i >= to; i-- {
			if step := reg.steps[i]; step.Down == nil {
				return Result{}, &IrreversibleMigrationError{Family: family, From: step.From, To: step.To}
			}
		}
		for i := from - 1; i >= to; i-- {
			step := reg.steps[i]
			current, err = r.apply(ctx, env, step, step.Down, step.From, current)
			if err != nil {
				return Result{}, err
			}
			applied = append(applied, fmt.Sprintf("%s -> %s", step.To, step.From))
		}
	}

	if got, _ := current.Version(); got != target {
		return Result{}, &MigrationInvariantViolationError{Family: family, Step: "result", Expected: target, Got: got}
	}

	if r.decoder != nil && target == reg.current {
		if err := r.decoder.Decode(current); err != nil {
			return Result{}, err
		}
	}

	return Result{
		Document: current,
		From:     source,
		To:       target,
		Applied:  applied,
		Warnings: env.Warnings(),
	}, nil
}

func (r *Runner) apply(ctx context.Context, env *Env, step Step, fn Transform, want string, doc Document) (out Document, err error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("migrate %s at %s: %w", r.registry.family, step.label(), err)
	}
	env.step = step.label()

	defer func() {
		if p := recover(); p != nil {
			r.logger.Printf("migrate: %s step %s panicked: %v", r.registry.family, step.label(), p)
			out = nil
			err = &MigrationInvariantViolationError{
				Family: r.registry.family,
				Step:   step.label(),
				Reason: fmt.Sprintf("step panicked: %v", p),
			}
		}
	}()

	out, err = fn(ctx, env, doc.Clone())
	if err != nil {
		if isTaxonomy(err) {
			return nil, err
		}
		return nil, &StepError{Family: r.registry.family, From: step.From, To: step.To, Err: err}
	}
	if got, _ := out.Version(); got != want {
		r.logger.Printf("migrate: %s step %s produced version %q, want %s", r.registry.family, step.label(), got, want)
		return nil, &MigrationInvariantViolationError{Family: r.registry.family, Step: step.label(), Expected: want, Got: got}
	}
	return out, nil
}

func isTaxonomy(err error) bool {
	switch err.(type) {
	case *MigrationInvariantViolationError, *StepError, *UnknownSourceVersionError,
		*UnknownTargetVersionError, *IrreversibleMigrationError, *ValidationError:
		return true
	}
	return false
}
