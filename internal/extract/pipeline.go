// Package extract turns free-form project descriptions into a partial
// field→value map by querying an LLM oracle and distrusting everything
// it returns: responses are repaired, strictly parsed, salvaged by
// pattern matching when parsing fails, and filtered for placeholder
// noise. A batch that fails contributes nothing; it never aborts the
// rest of the extraction.
package extract

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/solterra/agroform/internal/llm"
	"github.com/solterra/agroform/internal/logger"
	"github.com/solterra/agroform/internal/normalize"
)

// ErrInvalidRequest is returned when the caller supplies no text or no
// fields. It is the only error Extract returns; oracle and parse
// failures degrade into Diagnostics instead.
var ErrInvalidRequest = errors.New("invalid extraction request")

const (
	// Inputs below this word count get the strict prompt and smaller
	// batches: less context means less room for the model to infer.
	shortInputWords = 40

	shortBatchSize = 3
	longBatchSize  = 6

	maxResponseTokens = 1500
)

// Field is one requested extraction target. Validation is an optional
// hint rendered into the prompt, e.g. an exact option list for an
// enumerated field.
type Field struct {
	Name       string
	Validation string
}

// Diagnostic records why a batch contributed less than expected.
type Diagnostic struct {
	Batch  int      `json:"batch"`
	Fields []string `json:"fields"`
	Reason string   `json:"reason"`
}

// Result is the outcome of one Extract call. Fields holds accepted
// values; AutoCompleted lists their names in first-seen order;
// Diagnostics records degraded batches.
type Result struct {
	Fields        map[string]any `json:"fields"`
	AutoCompleted []string       `json:"auto_completed_fields"`
	Diagnostics   []Diagnostic   `json:"diagnostics,omitempty"`
}

// Pipeline extracts structured fields from unstructured text.
type Pipeline struct {
	provider llm.Provider
	filter   *ValueFilter
	log      *logger.Logger
}

// NewPipeline creates an extraction pipeline over the given provider.
func NewPipeline(provider llm.Provider, log *logger.Logger) *Pipeline {
	if log == nil {
		log = logger.NewNop()
	}
	return &Pipeline{provider: provider, filter: NewValueFilter(), log: log}
}

// Extract requests the given fields from the text, batch by batch.
// Batches run sequentially; a failed batch is logged, recorded as a
// Diagnostic, and skipped. When the same field comes back from more
// than one batch the later value wins.
func (p *Pipeline) Extract(ctx context.Context, text string, fields []Field) (*Result, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: text is empty", ErrInvalidRequest)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: no fields requested", ErrInvalidRequest)
	}

	short := len(strings.Fields(text)) < shortInputWords
	batchSize := longBatchSize
	if short {
		batchSize = shortBatchSize
	}

	result := &Result{Fields: make(map[string]any)}
	for i, batch := range partition(fields, batchSize) {
		names := fieldNames(batch)
		raw, err := p.provider.Complete(ctx, text, llm.CompletionOpts{
			System:      systemPrompt(batch, short),
			Temperature: 0,
			MaxTokens:   maxResponseTokens,
			Format:      "json",
		})
		if err != nil {
			p.log.Warn("extract: oracle call failed, skipping batch",
				"batch", i, "fields", names, "error", err)
			result.Diagnostics = append(result.Diagnostics, Diagnostic{
				Batch: i, Fields: names, Reason: fmt.Sprintf("oracle call failed: %v", err),
			})
			continue
		}

		parsed, err := normalize.Parse(normalize.Normalize(raw))
		if err != nil {
			parsed = normalize.FallbackExtract(raw)
			if len(parsed) == 0 {
				p.log.Warn("extract: unparseable response, skipping batch",
					"batch", i, "fields", names)
				result.Diagnostics = append(result.Diagnostics, Diagnostic{
					Batch: i, Fields: names, Reason: "unparseable response",
				})
				continue
			}
		}

		for _, f := range batch {
			value, ok := parsed[f.Name]
			if !ok || !p.filter.Accept(value) {
				continue
			}
			if _, seen := result.Fields[f.Name]; !seen {
				result.AutoCompleted = append(result.AutoCompleted, f.Name)
			}
			result.Fields[f.Name] = value
		}
	}

	p.log.Debug("extract: done",
		"fields_requested", len(fields),
		"fields_extracted", len(result.Fields),
		"batches_failed", len(result.Diagnostics))
	return result, nil
}

func partition(fields []Field, size int) [][]Field {
	var batches [][]Field
	for start := 0; start < len(fields); start += size {
		end := start + size
		if end > len(fields) {
			end = len(fields)
		}
		batches = append(batches, fields[start:end])
	}
	return batches
}

func fieldNames(fields []Field) []string {
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.Name
	}
	return names
}

// systemPrompt builds the Spanish extraction instructions for one
// batch. Short inputs get the strict variant: no inference at all, only
// explicitly mentioned data.
func systemPrompt(batch []Field, short bool) string {
	var lines []string
	for _, f := range batch {
		line := "- " + f.Name
		if f.Validation != "" {
			line += " (" + f.Validation + ")"
		}
		lines = append(lines, line)
	}
	fieldList := strings.Join(lines, "\n")

	var b strings.Builder
	b.WriteString("Eres un asistente experto en agricultura que extrae información estructurada ")
	b.WriteString("de descripciones de proyectos agrícolas. A partir del texto proporcionado por el usuario, ")
	b.WriteString("extrae únicamente los siguientes campos en formato JSON. ")
	b.WriteString("Usa exactamente los nombres de campo proporcionados:\n")
	b.WriteString(fieldList)
	b.WriteString("\n\n")
	if short {
		b.WriteString("Extrae solo los datos mencionados de forma explícita en el texto. ")
		b.WriteString("No deduzcas, no infieras y no completes nada que no esté escrito literalmente. ")
	} else {
		b.WriteString("Rellena solo los campos que puedas deducir con alta confianza a partir del texto. ")
	}
	b.WriteString("Si algún campo no está presente o no puedes deducirlo con certeza, omítelo del JSON. ")
	b.WriteString("No uses valores como 'no mencionado', 'ninguno' o 'pendiente'. ")
	b.WriteString("No inventes datos. No añadas explicaciones.")
	return b.String()
}
