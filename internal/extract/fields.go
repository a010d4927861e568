package extract

import "github.com/solterra/agroform/internal/catalog"

// FieldsFromCatalog derives extraction targets from the catalog: every
// question id becomes a field, and enumerated questions carry their
// exact option literals as a validation hint. Informational steps are
// skipped; they hold no data.
func FieldsFromCatalog(cat *catalog.Catalog) []Field {
	ids := cat.IDs()
	fields := make([]Field, 0, len(ids))
	for _, id := range ids {
		q, _ := cat.Get(id)
		if q.Input == catalog.InputInfo {
			continue
		}
		f := Field{Name: id}
		if len(q.Options) > 0 {
			hint := "opciones válidas exactas: "
			for i, opt := range q.Options {
				if i > 0 {
					hint += ", "
				}
				hint += "'" + opt + "'"
			}
			f.Validation = hint
		}
		fields = append(fields, f)
	}
	return fields
}
