package migrate

import (
	"context"
	"fmt"
)

// Transform rewrites one document between two adjacent versions. It receives
// a private copy it may modify and must return the document stamped with the
// step's target version.
type Transform func(ctx context.Context, env *Env, doc Document) (Document, error)

// Step is one edge of a registry chain. Down is nil when the change cannot be
// undone.
type Step struct {
	From string
	To   string
	Name string
	Up   Transform
	Down Transform
}

// Reversible reports whether the step can be applied downwards.
func (s Step) Reversible() bool {
	return s.Down != nil
}

func (s Step) label() string {
	return fmt.Sprintf("%s -> %s", s.From, s.To)
}
