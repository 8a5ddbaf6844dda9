// Package rules defines the Evaluator surface the Local Store Facade calls
// before submitting content-bearing mutations. What a rule actually checks
// (schema compatibility, validity, field-name conventions, ...) is left to
// the evaluator implementation; this package only fixes the shape
// collaborators plug into.
package rules

import "github.com/cuemby/curator/pkg/types"

// Evaluator checks a candidate content write against a rule's opaque
// config before the facade submits it to the journal. An Evaluator must be
// safe for concurrent use and must not mutate content or refs.
type Evaluator interface {
	Evaluate(ruleType, config string, content []byte, declaredType string, refs []types.ArtifactReference) error
}

// NoopEvaluator always allows the write. It is the evaluator core.New and
// facade.New fall back to when none is configured, and a convenient
// stand-in in tests.
type NoopEvaluator struct{}

func (NoopEvaluator) Evaluate(string, string, []byte, string, []types.ArtifactReference) error {
	return nil
}

// Chain runs each Evaluator in order and fails on the first error, so a
// global rule and an artifact-scoped rule of different types can both be
// enforced on one write.
type Chain []Evaluator

func (c Chain) Evaluate(ruleType, config string, content []byte, declaredType string, refs []types.ArtifactReference) error {
	for _, e := range c {
		if e == nil {
			continue
		}
		if err := e.Evaluate(ruleType, config, content, declaredType, refs); err != nil {
			return err
		}
	}
	return nil
}
