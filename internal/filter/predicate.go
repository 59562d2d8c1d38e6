// Package filter implements the component filter language: a small
// "attribute op value & ..." syntax parsed into an Expression, evaluated
// client-side for tags and compiled into a store query fragment for
// coordinates.
package filter

import "fmt"

// Bucket names the attribute a predicate applies to.
type Bucket int

const (
	BucketGroup Bucket = iota
	BucketArtifact
	BucketVersion
	BucketTag
	BucketTagAttribute
	BucketFreeText
)

func (b Bucket) String() string {
	switch b {
	case BucketGroup:
		return "group"
	case BucketArtifact:
		return "artifact"
	case BucketVersion:
		return "version"
	case BucketTag:
		return "tag"
	case BucketTagAttribute:
		return "tagAttr"
	case BucketFreeText:
		return "freeText"
	}
	return fmt.Sprintf("bucket(%d)", int(b))
}

// Operator is a comparison operator. OpNoop marks a bare free-text token.
type Operator int

const (
	OpNoop Operator = iota
	OpEQ
	OpNE
	OpLT
	OpGT
	OpLE
	OpGE
)

func (o Operator) String() string {
	switch o {
	case OpEQ:
		return "="
	case OpNE:
		return "!="
	case OpLT:
		return "<"
	case OpGT:
		return ">"
	case OpLE:
		return "<="
	case OpGE:
		return ">="
	}
	return "noop"
}

// Predicate is one parsed filter condition.
type Predicate struct {
	Bucket   Bucket
	Operator Operator
	Value    string
	AttrName string // tag attribute key, BucketTagAttribute only
}

func (p Predicate) String() string {
	if p.Bucket == BucketTagAttribute {
		return fmt.Sprintf("tagAttr=%s%s%s", p.AttrName, p.Operator, p.Value)
	}
	if p.Bucket == BucketFreeText {
		return p.Value
	}
	return fmt.Sprintf("%s%s%s", p.Bucket, p.Operator, p.Value)
}

// Expression is a parsed filter. It is immutable: accessors return copies.
type Expression struct {
	group        []Predicate
	artifact     []Predicate
	version      []Predicate
	tag          []Predicate
	tagAttribute []Predicate
	freeText     *string
	watermark    *int64
}

func (e *Expression) Group() []Predicate        { return clonePredicates(e.group) }
func (e *Expression) Artifact() []Predicate     { return clonePredicates(e.artifact) }
func (e *Expression) Version() []Predicate      { return clonePredicates(e.version) }
func (e *Expression) Tag() []Predicate          { return clonePredicates(e.tag) }
func (e *Expression) TagAttribute() []Predicate { return clonePredicates(e.tagAttribute) }

// FreeText returns the single free-text value, if any.
func (e *Expression) FreeText() (string, bool) {
	if e.freeText == nil {
		return "", false
	}
	return *e.freeText, true
}

// Watermark returns the epoch-seconds watermark, if any.
func (e *Expression) Watermark() (int64, bool) {
	if e.watermark == nil {
		return 0, false
	}
	return *e.watermark, true
}

// HasCoordinateFilters reports whether any group, artifact, version or
// free-text predicate is present, i.e. whether the store can narrow the
// listing.
func (e *Expression) HasCoordinateFilters() bool {
	return len(e.group) > 0 || len(e.artifact) > 0 || len(e.version) > 0 || e.freeText != nil
}

// HasTagFilters reports whether any tag or tag attribute predicate is present.
func (e *Expression) HasTagFilters() bool {
	return len(e.tag) > 0 || len(e.tagAttribute) > 0
}

// IsEmpty reports whether the expression carries no predicate at all.
func (e *Expression) IsEmpty() bool {
	return !e.HasCoordinateFilters() && !e.HasTagFilters()
}

func (e *Expression) String() string {
	var parts []Predicate
	parts = append(parts, e.group...)
	parts = append(parts, e.artifact...)
	parts = append(parts, e.version...)
	parts = append(parts, e.tag...)
	parts = append(parts, e.tagAttribute...)
	s := ""
	for i, p := range parts {
		if i > 0 {
			s += "&"
		}
		s += p.String()
	}
	if e.freeText != nil {
		if s != "" {
			s += "&"
		}
		s += *e.freeText
	}
	return s
}

func clonePredicates(ps []Predicate) []Predicate {
	if len(ps) == 0 {
		return nil
	}
	out := make([]Predicate, len(ps))
	copy(out, ps)
	return out
}
