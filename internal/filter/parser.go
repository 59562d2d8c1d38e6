package filter

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrParse matches every *ParseError via errors.Is.
var ErrParse = errors.New("invalid filter")

// ParseError reports a malformed filter. It always carries the offending
// token and the full filter text.
type ParseError struct {
	Reason string
	Token  string
	Filter string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: token %q in filter %q", e.Reason, e.Token, e.Filter)
}

func (e *ParseError) Is(target error) bool {
	return target == ErrParse
}

// Term is the attribute/operator/value split of a single token.
type Term struct {
	Attribute string
	Operator  Operator
	Value     string
}

type opToken struct {
	text   string
	op     Operator
	minPos int
}

// Operator detection order. "!=" and "<>" only count when something precedes
// them, so a token starting with a comparison is not split on them.
var opTokens = []opToken{
	{"!=", OpNE, 1},
	{"<>", OpNE, 1},
	{"<=", OpLE, 0},
	{">=", OpGE, 0},
	{"<", OpLT, 0},
	{">", OpGT, 0},
	{"=", OpEQ, 0},
}

var (
	tokenSeparator = regexp.MustCompile(`\s*&\s*`)
	tagAttrClause  = regexp.MustCompile(`(?i)^tagAttr\s*=(.+)$`)
)

// SplitTerm splits a token on the first operator found in detection order.
// A token without an operator is free text and comes back with OpNoop and
// the whole trimmed token as Value.
func SplitTerm(token string) Term {
	token = strings.TrimSpace(token)
	for _, ot := range opTokens {
		idx := strings.Index(token, ot.text)
		if idx < 0 || idx < ot.minPos {
			continue
		}
		return Term{
			Attribute: strings.TrimSpace(token[:idx]),
			Operator:  ot.op,
			Value:     strings.TrimSpace(token[idx+len(ot.text):]),
		}
	}
	return Term{Operator: OpNoop, Value: token}
}

// ParseTerm splits a single "attribute op value" token and rejects blank
// tokens and operator tokens missing either side.
func ParseTerm(token string) (Term, error) {
	if strings.TrimSpace(token) == "" {
		return Term{}, &ParseError{Reason: "blank token", Token: token, Filter: token}
	}
	term := SplitTerm(token)
	if term.Operator == OpNoop {
		return term, nil
	}
	if term.Attribute == "" {
		return Term{}, &ParseError{Reason: "missing attribute", Token: token, Filter: token}
	}
	if term.Value == "" {
		return Term{}, &ParseError{Reason: "missing value", Token: token, Filter: token}
	}
	return term, nil
}

// Option tweaks Parse.
type Option func(*Expression)

// WithWatermark attaches a creation watermark in epoch seconds.
func WithWatermark(epochSeconds int64) Option {
	return func(e *Expression) {
		wm := epochSeconds
		e.watermark = &wm
	}
}

// Parse turns filter text into an Expression. Empty text yields an empty
// expression. Tokens are separated by '&'; there is no escaping, so values
// cannot contain '&'.
func Parse(text string, opts ...Option) (*Expression, error) {
	e := &Expression{}
	for _, opt := range opts {
		opt(e)
	}

	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return e, nil
	}

	for _, token := range tokenSeparator.Split(trimmed, -1) {
		if err := e.addToken(token, text); err != nil {
			return nil, err
		}
	}
	return e, nil
}

func (e *Expression) addToken(token, filter string) error {
	fail := func(reason string) error {
		return &ParseError{Reason: reason, Token: token, Filter: filter}
	}

	if strings.TrimSpace(token) == "" {
		return fail("blank token")
	}

	term := SplitTerm(token)
	if term.Operator == OpNoop {
		if e.freeText != nil {
			return fail("only one free text search is allowed")
		}
		v := term.Value
		e.freeText = &v
		return nil
	}
	if term.Attribute == "" {
		return fail("missing attribute")
	}
	if term.Value == "" {
		return fail("missing value")
	}

	switch strings.ToLower(term.Attribute) {
	case "group":
		if !equality(term.Operator) {
			return fail(fmt.Sprintf("operator %s not supported for group, use = or !=", term.Operator))
		}
		e.group = append(e.group, Predicate{Bucket: BucketGroup, Operator: term.Operator, Value: term.Value})
	case "name", "artifact":
		if !equality(term.Operator) {
			return fail(fmt.Sprintf("operator %s not supported for %s, use = or !=", term.Operator, strings.ToLower(term.Attribute)))
		}
		e.artifact = append(e.artifact, Predicate{Bucket: BucketArtifact, Operator: term.Operator, Value: term.Value})
	case "version":
		e.version = append(e.version, Predicate{Bucket: BucketVersion, Operator: term.Operator, Value: term.Value})
	case "tag":
		e.tag = append(e.tag, Predicate{Bucket: BucketTag, Operator: term.Operator, Value: term.Value})
	default:
		m := tagAttrClause.FindStringSubmatch(strings.TrimSpace(token))
		if m == nil {
			return fail(fmt.Sprintf("unknown attribute %q", term.Attribute))
		}
		nested := SplitTerm(m[1])
		switch {
		case nested.Operator == OpNoop:
			return fail("missing operator in tagAttr clause")
		case nested.Attribute == "":
			return fail("missing attribute in tagAttr clause")
		case nested.Value == "":
			return fail("missing value in tagAttr clause")
		}
		e.tagAttribute = append(e.tagAttribute, Predicate{
			Bucket:   BucketTagAttribute,
			Operator: nested.Operator,
			Value:    nested.Value,
			AttrName: nested.Attribute,
		})
	}
	return nil
}

func equality(op Operator) bool {
	return op == OpEQ || op == OpNE
}
