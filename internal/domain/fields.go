package domain

import "strings"

// Value is one normalized submitted field value: either a single string or
// a list of strings (multi-select inputs such as checkboxes).
type Value struct {
	Single string
	List   []string
}

// String wraps a scalar field value.
func String(s string) Value {
	return Value{Single: s}
}

// List wraps a multi-value field.
func List(items ...string) Value {
	if items == nil {
		items = []string{}
	}
	return Value{List: items}
}

// IsList reports whether the value carries multiple entries.
func (v Value) IsList() bool {
	return v.List != nil
}

// Flatten renders the value as a single string. Lists are joined with ", ".
func (v Value) Flatten() string {
	if v.IsList() {
		return strings.Join(v.List, ", ")
	}
	return v.Single
}

// Fields is a normalized submission: field slug to value.
type Fields map[string]Value
