package check

import (
	"context"
	"fmt"
	"regexp"

	"github.com/gobwas/glob"

	"component-deployer/internal/browser"
	"component-deployer/internal/component"
)

// FieldRule constrains one coordinate of a component.
type FieldRule struct {
	Field    string // group, name or version
	Operator string // pattern, min_length, max_length, allowed
	Value    any
	Message  string

	pattern *regexp.Regexp
	allowed []glob.Glob
	length  int
}

// Coordinates applies field rules to group, name and version. Every broken
// rule is reported.
//
// Settings: rules, a list of {field, operator, value, message}.
type Coordinates struct {
	name  string
	rules []*FieldRule
}

func NewCoordinates(name string, settings map[string]any, _ Deps) (browser.ValidationCheck, error) {
	raw, ok := settings["rules"]
	if !ok {
		return nil, fmt.Errorf("setting rules is required")
	}
	items, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("setting rules must be a list")
	}

	c := &Coordinates{name: name}
	for i, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("rules[%d] must be a map", i)
		}
		field, _ := m["field"].(string)
		op, _ := m["operator"].(string)
		msg, _ := m["message"].(string)
		r, err := compileFieldRule(field, op, m["value"], msg)
		if err != nil {
			return nil, fmt.Errorf("rules[%d]: %w", i, err)
		}
		c.rules = append(c.rules, r)
	}
	return c, nil
}

func compileFieldRule(field, op string, value any, msg string) (*FieldRule, error) {
	switch field {
	case "group", "name", "version":
	default:
		return nil, fmt.Errorf("unknown field %q", field)
	}
	r := &FieldRule{Field: field, Operator: op, Value: value, Message: msg}

	switch op {
	case "pattern":
		s, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("pattern value must be a string")
		}
		re, err := regexp.Compile(s)
		if err != nil {
			return nil, fmt.Errorf("compile pattern: %w", err)
		}
		r.pattern = re
	case "min_length", "max_length":
		n, ok := toFloat64(value)
		if !ok {
			return nil, fmt.Errorf("%s value must be a number", op)
		}
		r.length = int(n)
	case "allowed":
		patterns, err := toStrings("value", value)
		if err != nil {
			return nil, err
		}
		for _, p := range patterns {
			g, err := glob.Compile(p, '.', ':')
			if err != nil {
				return nil, fmt.Errorf("compile glob %q: %w", p, err)
			}
			r.allowed = append(r.allowed, g)
		}
	default:
		return nil, fmt.Errorf("unknown operator %q", op)
	}

	if r.Message == "" {
		r.Message = fmt.Sprintf("%s failed %s validation", field, op)
	}
	return r, nil
}

// Broken reports whether val violates the rule.
func (r *FieldRule) Broken(val string) bool {
	switch r.Operator {
	case "pattern":
		return !r.pattern.MatchString(val)
	case "min_length":
		return len(val) < r.length
	case "max_length":
		return len(val) > r.length
	case "allowed":
		for _, g := range r.allowed {
			if g.Match(val) {
				return false
			}
		}
		return true
	}
	return false
}

func (c *Coordinates) Name() string { return c.name }

func (c *Coordinates) Validate(_ context.Context, _ browser.TaskConfig, comp *component.Component, sink browser.FailureSink) {
	for _, r := range c.rules {
		if r.Broken(coordinate(comp, r.Field)) {
			sink.Fail(comp, r.Message)
		}
	}
}

func coordinate(c *component.Component, field string) string {
	switch field {
	case "group":
		return c.Group
	case "name":
		return c.Name
	}
	return c.Version
}
