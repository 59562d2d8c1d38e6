package component

import (
	"encoding/json"
	"fmt"
)

// Tag is a label attached to a component, optionally carrying attributes.
type Tag struct {
	Name       string
	Attributes map[string]AttrValue
}

// NewTag builds a tag from loosely typed attributes, as decoded from JSON.
func NewTag(name string, attrs map[string]any) Tag {
	t := Tag{Name: name, Attributes: make(map[string]AttrValue, len(attrs))}
	for k, v := range attrs {
		t.Attributes[k] = FromAny(v)
	}
	return t
}

// StringAttr returns the attribute value when it exists and is string typed.
func (t Tag) StringAttr(key string) (string, bool) {
	v, ok := t.Attributes[key]
	if !ok {
		return "", false
	}
	return v.AsString()
}

// AttrValue holds a tag attribute value. Only string values take part in
// filter evaluation; every other JSON type is carried as is.
type AttrValue struct {
	str      string
	isString bool
	raw      any
}

// String wraps a string attribute value.
func String(s string) AttrValue {
	return AttrValue{str: s, isString: true}
}

// FromAny wraps a decoded attribute value. Strings become the string
// variant, anything else is kept as is.
func FromAny(v any) AttrValue {
	if s, ok := v.(string); ok {
		return String(s)
	}
	return AttrValue{raw: v}
}

// AsString returns the value and true for the string variant.
func (v AttrValue) AsString() (string, bool) {
	return v.str, v.isString
}

// Interface returns the underlying value.
func (v AttrValue) Interface() any {
	if v.isString {
		return v.str
	}
	return v.raw
}

func (v AttrValue) String() string {
	if v.isString {
		return v.str
	}
	return fmt.Sprintf("%v", v.raw)
}

func (v AttrValue) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Interface())
}

func (v *AttrValue) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*v = FromAny(raw)
	return nil
}

// EncodeAttributes serializes a tag's attributes for storage.
func EncodeAttributes(attrs map[string]AttrValue) (string, error) {
	if len(attrs) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(attrs)
	if err != nil {
		return "", fmt.Errorf("encode tag attributes: %w", err)
	}
	return string(b), nil
}

// DecodeAttributes parses attributes stored by EncodeAttributes.
func DecodeAttributes(s string) (map[string]AttrValue, error) {
	attrs := map[string]AttrValue{}
	if s == "" {
		return attrs, nil
	}
	if err := json.Unmarshal([]byte(s), &attrs); err != nil {
		return nil, fmt.Errorf("decode tag attributes: %w", err)
	}
	return attrs, nil
}
