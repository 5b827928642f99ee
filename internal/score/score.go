// Package score reduces a completed steered x test score matrix to
// per-persona sensitivity and specificity via percentile ranks of the
// diagonal.
package score

import (
	"fmt"
	"sort"

	"steerbench/internal/logging"
)

// Aggregation selects how per-persona values reduce to one number.
type Aggregation string

const (
	Mean   Aggregation = "mean"
	Median Aggregation = "median"
)

// ParseAggregation validates an aggregation name.
func ParseAggregation(name string) (Aggregation, error) {
	switch Aggregation(name) {
	case Mean, Median:
		return Aggregation(name), nil
	case "":
		return Mean, nil
	}
	return "", fmt.Errorf("invalid aggregation %q (want mean or median)", name)
}

// Matrix is a persona x persona score table reindexed so rows and columns
// share one sorted ID set. Cells absent from the source stay missing, never
// zero.
type Matrix struct {
	ids   []string
	cells map[string]map[string]float64
}

// NewMatrix reindexes a raw steered -> test -> score mapping over the sorted
// union of row and column IDs.
func NewMatrix(scores map[string]map[string]float64) *Matrix {
	idSet := make(map[string]bool)
	for steered, row := range scores {
		idSet[steered] = true
		for test := range row {
			idSet[test] = true
		}
	}
	ids := make([]string, 0, len(idSet))
	for id := range idSet {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	cells := make(map[string]map[string]float64, len(scores))
	for steered, row := range scores {
		cp := make(map[string]float64, len(row))
		for test, v := range row {
			cp[test] = v
		}
		cells[steered] = cp
	}
	return &Matrix{ids: ids, cells: cells}
}

// IDs returns the shared, sorted row/column label set.
func (m *Matrix) IDs() []string { return m.ids }

// Cell returns the score for (steered row, test column), if present.
func (m *Matrix) Cell(row, col string) (float64, bool) {
	v, ok := m.cells[row][col]
	return v, ok
}

// ColPercentile ranks the (row,col) cell within its column using the max-tie
// convention: a value's percentile is (count of column values <= it) divided
// by the column's non-missing count. Always in (0,1]; the column maximum
// gets 1.0.
func (m *Matrix) ColPercentile(row, col string) (float64, bool) {
	v, ok := m.Cell(row, col)
	if !ok {
		return 0, false
	}
	total, atOrBelow := 0, 0
	for _, r := range m.ids {
		other, ok := m.Cell(r, col)
		if !ok {
			continue
		}
		total++
		if other <= v {
			atOrBelow++
		}
	}
	return float64(atOrBelow) / float64(total), true
}

// RowPercentile is the symmetric ranking of the cell within its row.
func (m *Matrix) RowPercentile(row, col string) (float64, bool) {
	v, ok := m.Cell(row, col)
	if !ok {
		return 0, false
	}
	total, atOrBelow := 0, 0
	for _, c := range m.ids {
		other, ok := m.Cell(row, c)
		if !ok {
			continue
		}
		total++
		if other <= v {
			atOrBelow++
		}
	}
	return float64(atOrBelow) / float64(total), true
}

// PersonaScores are the two diagonal percentile ranks for one persona.
type PersonaScores struct {
	// Sensitivity: how the system steered to this persona ranks among all
	// steered systems when tested on this persona's own material (diagonal
	// within column).
	Sensitivity float64 `json:"sensitivity"`
	// Specificity: how this persona's own material ranks among all test
	// personas for the system steered to it (diagonal within row).
	Specificity float64 `json:"specificity"`
}

// Result is the scorer output.
type Result struct {
	Aggregation Aggregation              `json:"aggregation"`
	Sensitivity float64                  `json:"sensitivity"`
	Specificity float64                  `json:"specificity"`
	PerPersona  map[string]PersonaScores `json:"per_persona"`
}

// Compute derives sensitivity and specificity from a raw score mapping.
// Personas without a diagonal cell are skipped (logged); they cannot be
// ranked against themselves.
func Compute(scores map[string]map[string]float64, agg Aggregation) (*Result, error) {
	logger := logging.New("score")
	m := NewMatrix(scores)
	if len(m.ids) == 0 {
		return nil, fmt.Errorf("score matrix is empty")
	}

	perPersona := make(map[string]PersonaScores)
	var sens, spec []float64
	for _, id := range m.ids {
		sensitivity, ok := m.ColPercentile(id, id)
		if !ok {
			logger.Warn("persona has no diagonal cell; skipping", "persona", id)
			continue
		}
		specificity, _ := m.RowPercentile(id, id)
		perPersona[id] = PersonaScores{Sensitivity: sensitivity, Specificity: specificity}
		sens = append(sens, sensitivity)
		spec = append(spec, specificity)
	}
	if len(perPersona) == 0 {
		return nil, fmt.Errorf("no persona has a completed diagonal cell")
	}

	return &Result{
		Aggregation: agg,
		Sensitivity: aggregate(sens, agg),
		Specificity: aggregate(spec, agg),
		PerPersona:  perPersona,
	}, nil
}

func aggregate(values []float64, agg Aggregation) float64 {
	if agg == Median {
		sorted := append([]float64(nil), values...)
		sort.Float64s(sorted)
		mid := len(sorted) / 2
		if len(sorted)%2 == 1 {
			return sorted[mid]
		}
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
