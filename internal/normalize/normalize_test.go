package normalize

import (
	"errors"
	"reflect"
	"testing"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"well-formed unchanged", `{"Área": "5 hectáreas"}`, `{"Área": "5 hectáreas"}`},
		{"fence with language tag", "```json\n{\"a\": 1}\n```", `{"a": 1}`},
		{"fence without tag", "```\n{\"a\": 1}\n```", `{"a": 1}`},
		{"single-line fence", "```json{\"a\": 1}```", `{"a": 1}`},
		{"dangling comma", `{"Área": "5 ha",`, `{"Área": "5 ha"}`},
		{"missing opening brace", `"a": 1}`, `{"a": 1}`},
		{"missing closing brace", `{"a": 1`, `{"a": 1}`},
		{"bare pair", `"a": 1`, `{"a": 1}`},
		{"empty input", "", "{}"},
		{"surrounding whitespace", "  {\"a\": 1}\n", `{"a": 1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Normalize(tt.in); got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	inputs := []string{
		`{"Área": "5 hectáreas"}`,
		`{"a": 1, "b": null}`,
		"```json\n{\"a\": 1}\n```",
		`{"Área": "5 ha",`,
		"",
	}
	for _, in := range inputs {
		once := Normalize(in)
		twice := Normalize(once)
		if once != twice {
			t.Errorf("Normalize not idempotent for %q: %q != %q", in, once, twice)
		}
	}
}

func TestParse(t *testing.T) {
	obj, err := Parse(`{"Área": "5 hectáreas", "n": 3, "b": true, "x": null}`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if obj["Área"] != "5 hectáreas" || obj["n"] != float64(3) || obj["b"] != true {
		t.Errorf("unexpected object: %v", obj)
	}
	if v, ok := obj["x"]; !ok || v != nil {
		t.Errorf("null value not preserved: %v", obj)
	}
}

func TestParseMalformed(t *testing.T) {
	for _, in := range []string{`not json`, `{"a": }`, `[1, 2]`, `"just a string"`} {
		if _, err := Parse(in); !errors.Is(err, ErrMalformedResponse) {
			t.Errorf("Parse(%q): expected ErrMalformedResponse, got %v", in, err)
		}
	}
}

func TestNormalizeThenParseRepairsTruncation(t *testing.T) {
	// The §8 truncation scenario: dangling comma, no closing brace.
	obj, err := Parse(Normalize(`{"Área": "5 ha",`))
	if err != nil {
		t.Fatalf("Parse(Normalize): %v", err)
	}
	if obj["Área"] != "5 ha" {
		t.Errorf("field lost in repair: %v", obj)
	}
}

func TestFallbackExtract(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want map[string]any
	}{
		{
			"pair embedded in prose",
			`Claro, aquí tienes los datos: "Ubicación": "Almería". Espero que sirva.`,
			map[string]any{"Ubicación": "Almería"},
		},
		{
			"mixed value types",
			`junk "a": "x" junk "n": 3.5 junk "b": true junk "z": null`,
			map[string]any{"a": "x", "n": 3.5, "b": true, "z": nil},
		},
		{
			"no matches",
			"completamente inservible",
			map[string]any{},
		},
		{
			"ignores non-scalar values",
			`"lista": [1,2], "ok": "sí"`,
			map[string]any{"ok": "sí"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FallbackExtract(tt.in)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("FallbackExtract(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}
