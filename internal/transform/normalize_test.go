package transform

import "testing"

func TestNormalizeUnwrapsDataContainer(t *testing.T) {
	raw := map[string]any{
		"data": map[string]any{
			"lastname": "Dupont",
		},
	}

	fields := Normalize(raw)
	if got := fields["lastname"].Flatten(); got != "Dupont" {
		t.Errorf(`lastname = %q, want "Dupont"`, got)
	}
	if _, ok := fields["data"]; ok {
		t.Error("container key leaked into fields")
	}
}

func TestNormalizeDropsInternalKeys(t *testing.T) {
	raw := map[string]any{
		"__token":  "abc",
		"lastname": "Dupont",
	}

	fields := Normalize(raw)
	if _, ok := fields["__token"]; ok {
		t.Error("internal key not dropped")
	}
	if _, ok := fields["lastname"]; !ok {
		t.Error("regular key dropped")
	}
}

func TestNormalizeCoercion(t *testing.T) {
	raw := map[string]any{
		"scalar":  "x",
		"list":    []any{"a", "b"},
		"strings": []string{"c", "d"},
		"number":  float64(42),
		"decimal": 1.5,
		"flag":    true,
		"empty":   nil,
	}

	fields := Normalize(raw)

	tests := []struct {
		key  string
		want string
		list bool
	}{
		{"scalar", "x", false},
		{"list", "a, b", true},
		{"strings", "c, d", true},
		{"number", "42", false},
		{"decimal", "1.5", false},
		{"flag", "true", false},
		{"empty", "", false},
	}
	for _, tc := range tests {
		value, ok := fields[tc.key]
		if !ok {
			t.Errorf("%s: missing", tc.key)
			continue
		}
		if got := value.Flatten(); got != tc.want {
			t.Errorf("%s: Flatten() = %q, want %q", tc.key, got, tc.want)
		}
		if value.IsList() != tc.list {
			t.Errorf("%s: IsList() = %v, want %v", tc.key, value.IsList(), tc.list)
		}
	}
}

func TestNormalizeEmpty(t *testing.T) {
	if got := Normalize(nil); len(got) != 0 {
		t.Errorf("Normalize(nil) = %v, want empty", got)
	}
	if got := Normalize(map[string]any{}); len(got) != 0 {
		t.Errorf("Normalize(empty) = %v, want empty", got)
	}
}
