package migrate

import (
	"github.com/visualize-admin/visualization-tool-sub010/internal/version"
)

// Registry is a validated, immutable chain of steps for one document family.
type Registry struct {
	family  string
	steps   []Step
	byFrom  map[string]int
	current string
}

// NewRegistry validates steps and returns the registry. The chain must be
// contiguous, strictly increasing and every step must have an Up transform.
func NewRegistry(family string, steps []Step) (*Registry, error) {
	if len(steps) == 0 {
		return nil, ErrEmptyRegistry
	}
	byFrom := make(map[string]int, len(steps))
	for i, step := range steps {
		from, err := version.Parse(step.From)
		if err != nil {
			return nil, err
		}
		to, err := version.Parse(step.To)
		if err != nil {
			return nil, err
		}
		if step.Up == nil {
			return nil, &MissingUpError{Family: family, From: step.From, To: step.To}
		}
		if _, ok := byFrom[step.From]; ok {
			return nil, &DuplicateVersionError{Family: family, Version: step.From}
		}
		if from.Compare(to) != version.Before {
			return nil, &NonContiguousChainError{Family: family, Index: i, To: step.To}
		}
		if i+1 < len(steps) && steps[i+1].From != step.To {
			return nil, &NonContiguousChainError{Family: family, Index: i, To: step.To, Next: steps[i+1].From}
		}
		byFrom[step.From] = i
	}

	owned := make([]Step, len(steps))
	copy(owned, steps)
	return &Registry{
		family:  family,
		steps:   owned,
		byFrom:  byFrom,
		current: owned[len(owned)-1].To,
	}, nil
}

// MustRegistry is NewRegistry for package-level catalogues. A broken chain is
// a programming error and stops the process at start-up.
func MustRegistry(family string, steps []Step) *Registry {
	reg, err := NewRegistry(family, steps)
	if err != nil {
		panic(err)
	}
	return reg
}

func (r *Registry) Family() string { return r.family }

// CurrentVersion is the final To of the chain.
func (r *Registry) CurrentVersion() string { return r.current }

// FirstVersion is the From of the first step.
func (r *Registry) FirstVersion() string { return r.steps[0].From }

// Len is the number of steps.
func (r *Registry) Len() int { return len(r.steps) }

// Steps returns a copy of the chain.
func (r *Registry) Steps() []Step {
	out := make([]Step, len(r.steps))
	copy(out, r.steps)
	return out
}

// Versions lists every version on the chain in ascending order.
func (r *Registry) Versions() []string {
	out := make([]string, 0, len(r.steps)+1)
	for _, step := range r.steps {
		out = append(out, step.From)
	}
	return append(out, r.current)
}

// FindStepIndex returns the index of the step starting at v.
func (r *Registry) FindStepIndex(v string) (int, bool) {
	i, ok := r.byFrom[v]
	return i, ok
}

// IsKnownVersion reports whether v is on the chain.
func (r *Registry) IsKnownVersion(v string) bool {
	if _, ok := r.byFrom[v]; ok {
		return true
	}
	return v == r.current
}

// position is the number of steps needed to reach v from the first version.
func (r *Registry) position(v string) (int, bool) {
	if i, ok := r.byFrom[v]; ok {
		return i, true
	}
	if v == r.current {
		return len(r.steps), true
	}
	return 0, false
}
