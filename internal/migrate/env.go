package migrate

import (
	"context"
	"fmt"
	"log"
	"time"
)

// DefaultLookupTimeout bounds a single resolver call made by a step.
const DefaultLookupTimeout = 2 * time.Second

// DimensionMetadata is what a metadata catalogue knows about a dimension.
type DimensionMetadata struct {
	CubeIri     string `json:"cubeIri"`
	DimensionID string `json:"dimensionId"`
	Label       string `json:"label,omitempty"`
	TimeUnit    string `json:"timeUnit,omitempty"`
	ScaleType   string `json:"scaleType,omitempty"`
}

// DimensionResolver looks up dimension metadata. Steps use it on a best-effort
// basis only; a nil metadata with a nil error means "not found".
type DimensionResolver interface {
	ResolveDimension(ctx context.Context, cubeIri, dimensionID string) (*DimensionMetadata, error)
}

// Warning is a non-fatal inconsistency found while migrating.
type Warning struct {
	Step    string         `json:"step"`
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// Env carries per-run capabilities into transforms. A fresh Env is created
// for every Migrate call.
type Env struct {
	family   string
	step     string
	resolver DimensionResolver
	timeout  time.Duration
	logger   *log.Logger
	warnings []Warning
}

// NewEnv builds an Env for calling transforms outside a Runner, mainly in tests.
func NewEnv(resolver DimensionResolver, timeout time.Duration) *Env {
	if timeout <= 0 {
		timeout = DefaultLookupTimeout
	}
	return &Env{resolver: resolver, timeout: timeout, logger: log.Default()}
}

// Warn records a non-fatal inconsistency for the current step.
func (e *Env) Warn(code, message string, details map[string]any) {
	if e == nil {
		return
	}
	e.warnings = append(e.warnings, Warning{Step: e.step, Code: code, Message: message, Details: details})
}

// Warnings returns what has been recorded so far.
func (e *Env) Warnings() []Warning {
	if e == nil {
		return nil
	}
	out := make([]Warning, len(e.warnings))
	copy(out, e.warnings)
	return out
}

// Resolver exposes the injected resolver for nested runs.
func (e *Env) Resolver() DimensionResolver {
	if e == nil {
		return nil
	}
	return e.resolver
}

// ResolveDimension asks the injected resolver, bounded by the lookup timeout.
// It never blocks past the timeout and never fails: on error, timeout or a
// missing resolver it records a warning and returns false so the step can use
// its documented fallback.
func (e *Env) ResolveDimension(ctx context.Context, cubeIri, dimensionID string) (*DimensionMetadata, bool) {
	if e == nil || e.resolver == nil {
		return nil, false
	}
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	type answer struct {
		meta *DimensionMetadata
		err  error
	}
	ch := make(chan answer, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- answer{err: fmt.Errorf("resolver panic: %v", r)}
			}
		}()
		meta, err := e.resolver.ResolveDimension(ctx, cubeIri, dimensionID)
		ch <- answer{meta: meta, err: err}
	}()

	select {
	case got := <-ch:
		if got.err != nil {
			e.lookupFailed(cubeIri, dimensionID, got.err)
			return nil, false
		}
		if got.meta == nil {
			return nil, false
		}
		return got.meta, true
	case <-ctx.Done():
		e.lookupFailed(cubeIri, dimensionID, ctx.Err())
		return nil, false
	}
}

func (e *Env) lookupFailed(cubeIri, dimensionID string, err error) {
	if e.logger != nil {
		e.logger.Printf("migrate: %s dimension lookup %s %s failed: %v", e.family, cubeIri, dimensionID, err)
	}
	e.Warn("lookup-failed", "dimension metadata lookup failed, using fallback", map[string]any{
		"cubeIri":     cubeIri,
		"dimensionId": dimensionID,
		"error":       err.Error(),
	})
}

// Inherit returns runner options carrying this Env's resolver, timeout and
// logger into a nested run.
func (e *Env) Inherit() []Option {
	if e == nil {
		return nil
	}
	return []Option{WithResolver(e.resolver), WithLookupTimeout(e.timeout), WithLogger(e.logger)}
}
