package check

import (
	"context"
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"component-deployer/internal/browser"
	"component-deployer/internal/component"
)

// Expression fails a component when its violation expression is true.
//
// Settings: violation (required), message.
type Expression struct {
	name       string
	expression string
	message    string
	program    *vm.Program
}

func NewExpression(name string, settings map[string]any, _ Deps) (browser.ValidationCheck, error) {
	src, err := settingString(settings, "violation")
	if err != nil {
		return nil, err
	}
	if src == "" {
		return nil, fmt.Errorf("setting violation is required")
	}
	msg, err := settingString(settings, "message")
	if err != nil {
		return nil, err
	}
	if msg == "" {
		msg = fmt.Sprintf("violates %s", src)
	}

	prog, err := expr.Compile(src, expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("compile expression: %w", err)
	}
	return &Expression{name: name, expression: src, message: msg, program: prog}, nil
}

func (e *Expression) Name() string { return e.name }

func (e *Expression) Validate(_ context.Context, task browser.TaskConfig, c *component.Component, sink browser.FailureSink) {
	result, err := expr.Run(e.program, expressionEnv(task, c))
	if err != nil {
		sink.Fail(c, fmt.Sprintf("expression evaluation error: %v", err))
		return
	}
	if violated, ok := result.(bool); ok && violated {
		sink.Fail(c, e.message)
	}
}

// expressionEnv exposes a component to expressions.
func expressionEnv(task browser.TaskConfig, c *component.Component) map[string]any {
	tags := make(map[string]any, len(c.Tags))
	for _, t := range c.Tags {
		attrs := make(map[string]any, len(t.Attributes))
		for k, v := range t.Attributes {
			attrs[k] = v.Interface()
		}
		tags[t.Name] = attrs
	}
	assets := make([]any, 0, len(c.Assets))
	for _, a := range c.Assets {
		assets = append(assets, map[string]any{
			"path":         a.Path,
			"content_type": a.ContentType,
			"size":         a.Size,
		})
	}
	return map[string]any{
		"component": map[string]any{
			"group":      c.Group,
			"name":       c.Name,
			"version":    c.Version,
			"created_at": c.CreatedAt,
			"repository": c.Repository,
		},
		"group":    c.Group,
		"name":     c.Name,
		"version":  c.Version,
		"tags":     tags,
		"assets":   assets,
		"settings": task.Settings,
	}
}
