package score

import (
	"sort"

	"steerbench/internal/format"
)

// RenderTable renders the per-persona scores plus the aggregate footer.
// Descriptions may be nil; known persona IDs are annotated with their
// description.
func RenderTable(r *Result, descriptions map[string]string, mode format.Mode) string {
	tb := format.NewTable(mode)
	tb.Header("Persona", "Description", "Sensitivity", "Specificity")
	tb.Columns(
		format.ColumnConfig{Number: 2, MaxWidth: 40},
		format.ColumnConfig{Number: 3, Align: format.AlignRight},
		format.ColumnConfig{Number: 4, Align: format.AlignRight},
	)

	ids := make([]string, 0, len(r.PerPersona))
	for id := range r.PerPersona {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		s := r.PerPersona[id]
		tb.Row(id, format.Truncate(descriptions[id], 40),
			format.FmtScore(s.Sensitivity), format.FmtScore(s.Specificity))
	}
	tb.Footer(string(r.Aggregation), "",
		format.FmtScore(r.Sensitivity), format.FmtScore(r.Specificity))
	return tb.String()
}
