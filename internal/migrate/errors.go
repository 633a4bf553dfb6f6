package migrate

import (
	"errors"
	"fmt"
	"strings"

	"github.com/visualize-admin/visualization-tool-sub010/internal/version"
)

// InvalidVersionError is the version package's error, re-exported so callers
// of the engine only need this package for errors.As checks.
type InvalidVersionError = version.InvalidVersionError

var ErrEmptyRegistry = errors.New("registry has no steps")

// NonContiguousChainError reports a gap or a backwards step in a registry.
type NonContiguousChainError struct {
	Family string
	Index  int
	To     string
	Next   string
}

func (e *NonContiguousChainError) Error() string {
	if e.Next == "" {
		return fmt.Sprintf("%s registry: step %d does not move forward (to %s)", e.Family, e.Index, e.To)
	}
	return fmt.Sprintf("%s registry: step %d ends at %s but step %d starts at %s", e.Family, e.Index, e.To, e.Index+1, e.Next)
}

// DuplicateVersionError reports a from-version that occurs twice.
type DuplicateVersionError struct {
	Family  string
	Version string
}

func (e *DuplicateVersionError) Error() string {
	return fmt.Sprintf("%s registry: duplicate step from version %s", e.Family, e.Version)
}

// MissingUpError reports a step without a forward transform.
type MissingUpError struct {
	Family string
	From   string
	To     string
}

func (e *MissingUpError) Error() string {
	return fmt.Sprintf("%s registry: step %s -> %s has no up transform", e.Family, e.From, e.To)
}

// UnknownSourceVersionError means the document cannot be placed on the chain.
// Callers should treat the document as unloadable.
type UnknownSourceVersionError struct {
	Family  string
	Version string
	Err     error
}

func (e *UnknownSourceVersionError) Error() string {
	if e.Version == "" {
		return fmt.Sprintf("%s document has no version", e.Family)
	}
	return fmt.Sprintf("%s document has unknown version %q", e.Family, e.Version)
}

func (e *UnknownSourceVersionError) Unwrap() error { return e.Err }

// UnknownTargetVersionError means the requested target is not on the chain.
type UnknownTargetVersionError struct {
	Family  string
	Version string
}

func (e *UnknownTargetVersionError) Error() string {
	return fmt.Sprintf("%s registry does not know target version %s", e.Family, e.Version)
}

// IrreversibleMigrationError names the boundary a downgrade cannot cross.
type IrreversibleMigrationError struct {
	Family string
	From   string
	To     string
}

func (e *IrreversibleMigrationError) Error() string {
	return fmt.Sprintf("%s migration %s -> %s cannot be reversed", e.Family, e.From, e.To)
}

// MigrationInvariantViolationError signals a bug in a step: the document did
// not end up at the version the step or the run promised.
type MigrationInvariantViolationError struct {
	Family   string
	Step     string
	Expected string
	Got      string
	Reason   string
}

func (e *MigrationInvariantViolationError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s migration %s: %s", e.Family, e.Step, e.Reason)
	}
	return fmt.Sprintf("%s migration %s: expected version %s, got %q", e.Family, e.Step, e.Expected, e.Got)
}

// StepError wraps a failure returned by a step's transform.
type StepError struct {
	Family string
	From   string
	To     string
	Err    error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s migration %s -> %s: %v", e.Family, e.From, e.To, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// ValidationError is returned by decoders when a document does not match the
// schema of its version.
type ValidationError struct {
	Family   string
	Version  string
	Problems []string
	Err      error
}

func (e *ValidationError) Error() string {
	if len(e.Problems) == 0 {
		return fmt.Sprintf("%s document %s is invalid", e.Family, e.Version)
	}
	return fmt.Sprintf("%s document %s is invalid: %s", e.Family, e.Version, strings.Join(e.Problems, "; "))
}

func (e *ValidationError) Unwrap() error { return e.Err }

// Recoverable reports whether err concerns a single document, so the caller
// should drop that document and show a "could not load" state.
func Recoverable(err error) bool {
	var (
		unknown      *UnknownSourceVersionError
		target       *UnknownTargetVersionError
		irreversible *IrreversibleMigrationError
		invalid      *ValidationError
	)
	return errors.As(err, &unknown) || errors.As(err, &target) || errors.As(err, &irreversible) || errors.As(err, &invalid)
}
