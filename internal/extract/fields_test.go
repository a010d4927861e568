package extract

import (
	"testing"

	"github.com/solterra/agroform/internal/catalog"
)

func TestFieldsFromCatalog(t *testing.T) {
	cat, err := catalog.Parse([]byte(`
first_question: cultivo
questions:
  - id: cultivo
    text: "¿Qué cultivo vas a plantar?"
    input: text
    routing:
      next: riego
  - id: riego
    text: "¿La parcela tiene riego?"
    input: select
    options: ["sí", "no"]
    routing:
      select:
        "sí": superficie
        "no": end
  - id: superficie
    text: "¿Cuántas hectáreas?"
    input: number
  - id: aviso
    text: "Recuerda revisar la normativa local."
    input: info
`))
	if err != nil {
		t.Fatalf("parsing catalog: %v", err)
	}

	fields := FieldsFromCatalog(cat)
	byName := make(map[string]Field, len(fields))
	for _, f := range fields {
		byName[f.Name] = f
	}

	if _, ok := byName["aviso"]; ok {
		t.Error("info questions must not become extraction fields")
	}
	if hint := byName["riego"].Validation; hint != "opciones válidas exactas: 'sí', 'no'" {
		t.Errorf("riego validation hint = %q", hint)
	}
	if byName["cultivo"].Validation != "" {
		t.Errorf("cultivo must have no hint: %q", byName["cultivo"].Validation)
	}
	if len(fields) != 3 {
		t.Errorf("fields = %v", fields)
	}
}
