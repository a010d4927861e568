// Package normalize repairs the raw text an LLM returns when asked for
// a JSON object. Models wrap output in markdown fences, truncate at the
// token cap mid-object, or pad the JSON with prose; normalization is a
// layered defense: a deterministic cleanup pass, a strict parse, and a
// pattern-matching fallback that salvages whatever key/value pairs are
// recognizable.
package normalize

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

// ErrMalformedResponse is returned by Parse when the candidate text is
// not a valid JSON object.
var ErrMalformedResponse = errors.New("malformed response")

// Normalize applies the deterministic repair pass. It never fails and
// is idempotent on already-well-formed JSON objects:
//   - strips a leading/trailing markdown code fence, with or without a
//     language tag
//   - converts a trailing dangling comma into a closing brace (the
//     signature of output truncated at the token cap)
//   - ensures the text starts with '{' and ends with '}'
func Normalize(raw string) string {
	s := strings.TrimSpace(raw)

	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		if idx := strings.IndexByte(s, '\n'); idx >= 0 && isLangTag(strings.TrimSpace(s[:idx])) {
			s = s[idx+1:]
		} else {
			s = strings.TrimLeftFunc(s, unicode.IsLetter)
		}
	}
	if strings.HasSuffix(s, "```") {
		s = s[:len(s)-3]
	}
	s = strings.TrimSpace(s)

	if strings.HasSuffix(s, ",") {
		s = s[:len(s)-1] + "}"
	}
	if !strings.HasPrefix(s, "{") {
		s = "{" + s
	}
	if !strings.HasSuffix(s, "}") {
		s = s + "}"
	}
	return s
}

func isLangTag(s string) bool {
	if len(s) > 12 {
		return false
	}
	for _, r := range s {
		if !unicode.IsLetter(r) {
			return false
		}
	}
	return true
}

// Parse strictly decodes a candidate JSON object.
func Parse(candidate string) (map[string]any, error) {
	var out map[string]any
	if err := json.Unmarshal([]byte(candidate), &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return out, nil
}

// pairRE matches `"key": value` where value is a quoted string, null,
// a number, or a boolean. Anything else in the surrounding text is
// ignored.
var pairRE = regexp.MustCompile(
	`"((?:[^"\\]|\\.)+)"\s*:\s*("(?:[^"\\]|\\.)*"|null|true|false|-?\d+(?:\.\d+)?)`)

// FallbackExtract scans arbitrary text for quoted key/value pairs and
// rebuilds a minimal JSON object from whatever matches. Used only after
// Parse has failed. Zero matches yield an empty map; it never fails.
func FallbackExtract(raw string) map[string]any {
	matches := pairRE.FindAllStringSubmatch(raw, -1)
	if len(matches) == 0 {
		return map[string]any{}
	}

	var b strings.Builder
	b.WriteByte('{')
	for i, m := range matches {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteByte('"')
		b.WriteString(m[1])
		b.WriteString(`":`)
		b.WriteString(m[2])
	}
	b.WriteByte('}')

	out, err := Parse(b.String())
	if err != nil {
		// A pair whose escapes survived the regex but not the parser;
		// salvage nothing rather than guess.
		return map[string]any{}
	}
	return out
}
