package crypto

import (
	"bytes"
	"testing"
)

func TestCanonicalizeJSON(t *testing.T) {
	// invalid json
	jsonData := []byte(`{"test": "value"`)
	_, err := CanonicalizeJSON(jsonData)
	if err == nil {
		t.Fatalf("CanonicalizeJSON() expected error, got nil")
	}
}

func TestCanonicalize(t *testing.T) {
	type inner struct {
		B string `json:"b"`
		A int    `json:"a"`
	}
	type outer struct {
		Z     inner  `json:"z"`
		Alpha string `json:"alpha"`
	}

	tests := []struct {
		name string
		in   any
		want string
	}{
		{
			name: "struct fields are sorted",
			in:   outer{Z: inner{B: "x", A: 1}, Alpha: "first"},
			want: `{"alpha":"first","z":{"a":1,"b":"x"}}`,
		},
		{
			name: "map insertion order does not matter",
			in:   map[string]any{"y": 2, "x": 1.50},
			want: `{"x":1.5,"y":2}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Canonicalize(tt.in)
			if err != nil {
				t.Fatalf("Canonicalize() error = %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("Canonicalize() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestCanonicalize_Deterministic(t *testing.T) {
	a, err := Canonicalize(map[string]any{"one": 1, "two": []int{2, 3}, "three": map[string]string{"c": "d", "a": "b"}})
	if err != nil {
		t.Fatalf("Canonicalize() error = %v", err)
	}
	b, err := CanonicalizeJSON([]byte(`{"two":[2,3],"three":{"a":"b","c":"d"},"one":1}`))
	if err != nil {
		t.Fatalf("CanonicalizeJSON() error = %v", err)
	}
	if !bytes.Equal(a, b) {
		t.Errorf("expected identical canonical bytes, got %s and %s", a, b)
	}
}
