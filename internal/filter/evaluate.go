package filter

import (
	"errors"
	"fmt"

	"component-deployer/internal/component"
)

// ErrEvaluation matches every *EvaluationError via errors.Is.
var ErrEvaluation = errors.New("unsupported filter evaluation")

// EvaluationError is raised when a predicate uses an operator its bucket
// cannot evaluate. It indicates a configuration error, not a content problem.
type EvaluationError struct {
	Bucket   Bucket
	Operator Operator
	Value    string
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("unexpected operator for %s: %s%s%s", e.Bucket, e.Bucket, e.Operator, e.Value)
}

func (e *EvaluationError) Is(target error) bool {
	return target == ErrEvaluation
}

// Evaluate compares actual against expected. Equality operators use string
// equality, ordering operators lexicographic comparison. OpNoop is never
// valid here.
func Evaluate(op Operator, actual, expected string) bool {
	switch op {
	case OpEQ:
		return actual == expected
	case OpNE:
		return actual != expected
	case OpLT:
		return actual < expected
	case OpGT:
		return actual > expected
	case OpLE:
		return actual <= expected
	case OpGE:
		return actual >= expected
	}
	panic(fmt.Sprintf("filter: operator %s cannot be evaluated", op))
}

// MatchTags evaluates every tag and tag attribute predicate against the
// component's tags. All predicates must hold.
func (e *Expression) MatchTags(tags []component.Tag) (bool, error) {
	for _, p := range e.tag {
		ok, err := matchTagPresence(p, tags)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	for _, p := range e.tagAttribute {
		if !matchTagAttribute(p, tags) {
			return false, nil
		}
	}
	return true, nil
}

func matchTagPresence(p Predicate, tags []component.Tag) (bool, error) {
	found := false
	for _, t := range tags {
		if t.Name == p.Value {
			found = true
			break
		}
	}
	switch p.Operator {
	case OpEQ:
		return found, nil
	case OpNE:
		return !found, nil
	}
	return false, &EvaluationError{Bucket: BucketTag, Operator: p.Operator, Value: p.Value}
}

// matchTagAttribute holds when any tag carries a string attribute named
// p.AttrName that satisfies the comparison.
func matchTagAttribute(p Predicate, tags []component.Tag) bool {
	for _, t := range tags {
		v, ok := t.StringAttr(p.AttrName)
		if ok && Evaluate(p.Operator, v, p.Value) {
			return true
		}
	}
	return false
}

// MatchCoordinates evaluates group, artifact, version and free-text
// predicates client-side. It is used when the listing came from a content
// selector and these predicates were not pushed down to the store.
func (e *Expression) MatchCoordinates(c *component.Component) bool {
	for _, p := range e.group {
		if !Evaluate(p.Operator, c.Group, p.Value) {
			return false
		}
	}
	for _, p := range e.artifact {
		if !Evaluate(p.Operator, c.Name, p.Value) {
			return false
		}
	}
	for _, p := range e.version {
		if !Evaluate(p.Operator, c.Version, p.Value) {
			return false
		}
	}
	if e.freeText != nil {
		ft := *e.freeText
		if c.Version != ft && c.Name != ft && c.Group != ft {
			return false
		}
	}
	return true
}
