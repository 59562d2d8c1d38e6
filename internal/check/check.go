// Package check provides the built-in validation checks and a registry that
// instantiates them from task configuration.
package check

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"

	"component-deployer/internal/browser"
	"component-deployer/internal/config"
)

// ErrInvalidCheck marks check configuration errors.
var ErrInvalidCheck = errors.New("invalid check configuration")

// AssetOpener reads asset content by blob reference.
type AssetOpener interface {
	Open(ctx context.Context, ref string) (io.ReadCloser, error)
}

// Deps carries what checks may need beyond their settings.
type Deps struct {
	Assets AssetOpener
}

// Factory creates a check named name from its settings.
type Factory func(name string, settings map[string]any, deps Deps) (browser.ValidationCheck, error)

var (
	factories = make(map[string]Factory)
	mu        sync.RWMutex
)

// Register makes a check type available to Build.
func Register(checkType string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	factories[checkType] = f
}

// Types lists the registered check types.
func Types() []string {
	mu.RLock()
	defer mu.RUnlock()
	types := make([]string, 0, len(factories))
	for t := range factories {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Build instantiates checks in configuration order. A check without a name
// is named after its type.
func Build(specs []config.CheckConfig, deps Deps) ([]browser.ValidationCheck, error) {
	checks := make([]browser.ValidationCheck, 0, len(specs))
	for i, spec := range specs {
		mu.RLock()
		f, ok := factories[spec.Type]
		mu.RUnlock()
		if !ok {
			return nil, fmt.Errorf("%w: checks[%d]: unknown check type %q", ErrInvalidCheck, i, spec.Type)
		}
		name := spec.Name
		if name == "" {
			name = spec.Type
		}
		c, err := f(name, spec.Settings, deps)
		if err != nil {
			return nil, fmt.Errorf("%w: check %s: %v", ErrInvalidCheck, name, err)
		}
		checks = append(checks, c)
	}
	return checks, nil
}

func init() {
	Register("expression", NewExpression)
	Register("coordinates", NewCoordinates)
	Register("required-assets", NewRequiredAssets)
	Register("checksum", NewChecksum)
}

func settingString(settings map[string]any, key string) (string, error) {
	v, ok := settings[key]
	if !ok || v == nil {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("setting %s must be a string", key)
	}
	return s, nil
}

func settingBool(settings map[string]any, key string) (bool, error) {
	v, ok := settings[key]
	if !ok || v == nil {
		return false, nil
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("setting %s must be a boolean", key)
	}
	return b, nil
}

func settingStrings(settings map[string]any, key string) ([]string, error) {
	v, ok := settings[key]
	if !ok || v == nil {
		return nil, nil
	}
	return toStrings(key, v)
}

func toStrings(key string, v any) ([]string, error) {
	switch list := v.(type) {
	case string:
		return []string{list}, nil
	case []string:
		return list, nil
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("setting %s must be a list of strings", key)
			}
			out = append(out, s)
		}
		return out, nil
	}
	return nil, fmt.Errorf("setting %s must be a list of strings", key)
}

// toFloat64 converts numeric types to float64.
func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	}
	return 0, false
}
