package extract

import (
	"strings"
	"unicode"
)

// denyPhrases are placeholder phrases LLMs emit instead of omitting a
// field they could not fill. Matching is by substring on the
// lower-cased, punctuation-trimmed value, so entries must be long
// enough not to collide with real data ("na" would reject "Granada").
var denyPhrases = []string{
	"no mencionado",
	"no mencionada",
	"no disponible",
	"no especificado",
	"no especificada",
	"no indicado",
	"no indicada",
	"no aplica",
	"no se sabe",
	"no proporcionado",
	"desconocido",
	"desconocida",
	"ninguno",
	"ninguna",
	"n/a",
	"pendiente",
	"sin datos",
	"sin información",
	"sin especificar",
	"por determinar",
	"not specified",
	"not available",
	"not mentioned",
	"not provided",
	"unknown",
	"tbd",
}

// ValueFilter classifies extracted values as informative or placeholder
// noise. Placeholder values are dropped rather than written into the
// answer set, so an omitted field stays genuinely absent.
type ValueFilter struct {
	deny []string
}

// NewValueFilter returns a filter with the standard deny-list.
func NewValueFilter() *ValueFilter {
	return &ValueFilter{deny: denyPhrases}
}

// Accept reports whether the value carries real information. Rejects
// nil, empty strings, boolean false (an uninformative default), strings
// shorter than two characters unless fully numeric, and strings
// containing a deny-list phrase. Numbers and true pass.
func (f *ValueFilter) Accept(value any) bool {
	switch v := value.(type) {
	case nil:
		return false
	case bool:
		return v
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return false
		}
		if len([]rune(s)) < 2 && !isNumeric(s) {
			return false
		}
		probe := strings.TrimRightFunc(strings.ToLower(s), func(r rune) bool {
			return unicode.IsPunct(r) || unicode.IsSpace(r)
		})
		for _, phrase := range f.deny {
			if strings.Contains(probe, phrase) {
				return false
			}
		}
		return true
	default:
		// JSON decoding only yields numbers beyond the cases above.
		return true
	}
}

func isNumeric(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return len(s) > 0
}
