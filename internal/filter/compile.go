package filter

import (
	"fmt"
	"strings"
	"time"
)

// Store columns the compiler targets.
const (
	ColumnGroup    = "namespace"
	ColumnArtifact = "name"
	ColumnVersion  = "version"
	ColumnCreated  = "created"
)

// Placeholder used for every free-text comparison.
const freeTextParam = "unspecified"

// Fragment is a compiled WHERE fragment with named ":param" placeholders.
type Fragment struct {
	SQL    string
	Params map[string]any
}

// IsEmpty reports whether nothing was compiled.
func (f Fragment) IsEmpty() bool {
	return f.SQL == ""
}

// Compile turns the coordinate predicates, the watermark and the free text
// of e into a store query fragment. Tag and tag attribute predicates are
// never compiled; they are always evaluated client-side.
func Compile(e *Expression) Fragment {
	var clauses []string
	params := map[string]any{}

	add := func(column, prefix string, preds []Predicate) {
		for i, p := range preds {
			name := fmt.Sprintf("%s%d", prefix, i+1)
			clauses = append(clauses, fmt.Sprintf("%s %s :%s", column, p.Operator, name))
			params[name] = p.Value
		}
	}
	add(ColumnGroup, "groupId", e.group)
	add(ColumnArtifact, "artifactId", e.artifact)
	add(ColumnVersion, "version", e.version)

	if e.watermark != nil {
		clauses = append(clauses, fmt.Sprintf("%s > :created", ColumnCreated))
		params["created"] = time.Unix(*e.watermark, 0).UTC()
	}
	if e.freeText != nil {
		clauses = append(clauses, fmt.Sprintf("(%s = :%s OR %s = :%s OR %s = :%s)",
			ColumnVersion, freeTextParam, ColumnArtifact, freeTextParam, ColumnGroup, freeTextParam))
		params[freeTextParam] = *e.freeText
	}

	return Fragment{SQL: strings.Join(clauses, " AND "), Params: params}
}
