package dataset

import (
	"encoding/csv"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"strings"

	"steerbench/internal/logging"
)

// Column aliases accepted in source CSVs. The first matching header wins.
var (
	personaDescCols = []string{"persona_description", "description"}
	frameworkCols   = []string{"framework", "framework_name"}
	responseCols    = []string{"response", "statement"}
	labelCols       = []string{"correct_response", "is_agree"}
)

// Load reads personas and observations from CSV, deterministically samples at
// most maxPersonas personas (0 = all) using seed, and filters observations to
// the sampled persona set. Returns a DataLoadError on missing columns or when
// no observation references a sampled persona.
func Load(personasPath, observationsPath string, maxPersonas int, seed int64) (*Dataset, error) {
	logger := logging.New("dataset")

	personas, err := loadPersonas(personasPath)
	if err != nil {
		return nil, err
	}
	personas = samplePersonas(personas, maxPersonas, seed)

	ids := make(map[string]bool, len(personas))
	for _, p := range personas {
		ids[p.ID] = true
	}

	observations, err := loadObservations(observationsPath, ids)
	if err != nil {
		return nil, err
	}
	if len(observations) == 0 {
		return nil, &DataLoadError{
			Path: observationsPath,
			Msg:  "no observation references a sampled persona",
		}
	}

	d := New(personas, observations)
	d.PersonasPath = personasPath
	d.ObservationsPath = observationsPath
	d.MaxPersonas = maxPersonas
	d.Seed = seed

	logger.Info("dataset loaded",
		"personas", len(personas), "observations", len(observations),
		"max_personas", maxPersonas, "seed", seed)
	return d, nil
}

// samplePersonas draws n personas without replacement, deterministic given
// seed, preserving source order among the selected. n<=0 or n>=len keeps all.
func samplePersonas(personas []Persona, n int, seed int64) []Persona {
	if n <= 0 || n >= len(personas) {
		return personas
	}
	rng := rand.New(rand.NewSource(seed))
	perm := rng.Perm(len(personas))
	picked := perm[:n]
	sort.Ints(picked)
	out := make([]Persona, 0, n)
	for _, i := range picked {
		out = append(out, personas[i])
	}
	return out
}

func loadPersonas(path string) ([]Persona, error) {
	rows, header, err := readCSV(path)
	if err != nil {
		return nil, err
	}

	idCol, ok := header["persona_id"]
	if !ok {
		return nil, &DataLoadError{Path: path, Msg: "missing required column persona_id"}
	}
	descCol, ok := findColumn(header, personaDescCols)
	if !ok {
		return nil, &DataLoadError{Path: path, Msg: "missing required column persona_description"}
	}
	fwCol, ok := findColumn(header, frameworkCols)
	if !ok {
		return nil, &DataLoadError{Path: path, Msg: "missing required column framework"}
	}

	personas := make([]Persona, 0, len(rows))
	for _, row := range rows {
		personas = append(personas, Persona{
			ID:          row[idCol],
			Description: row[descCol],
			Framework:   row[fwCol],
		})
	}
	return personas, nil
}

func loadObservations(path string, personaIDs map[string]bool) ([]Observation, error) {
	rows, header, err := readCSV(path)
	if err != nil {
		return nil, err
	}

	idCol, ok := header["persona_id"]
	if !ok {
		return nil, &DataLoadError{Path: path, Msg: "missing required column persona_id"}
	}
	respCol, ok := findColumn(header, responseCols)
	if !ok {
		return nil, &DataLoadError{Path: path, Msg: "missing required column response/statement"}
	}
	labelCol, ok := findColumn(header, labelCols)
	if !ok {
		return nil, &DataLoadError{Path: path, Msg: "missing required column correct_response/is_agree"}
	}
	scenarioCol, hasScenario := header["scenario"]
	scenarioIDCol, hasScenarioID := header["scenario_id"]

	observations := make([]Observation, 0, len(rows))
	for i, row := range rows {
		if !personaIDs[row[idCol]] {
			continue
		}
		label, err := parseLabel(row[labelCol])
		if err != nil {
			return nil, &DataLoadError{
				Path: path,
				Msg:  fmt.Sprintf("row %d: %v", i+2, err),
			}
		}
		o := Observation{
			PersonaID:       row[idCol],
			Response:        row[respCol],
			CorrectResponse: label,
		}
		if hasScenario {
			o.Scenario = row[scenarioCol]
		}
		if hasScenarioID {
			o.ScenarioID = row[scenarioIDCol]
		}
		o.ID = GenerateObservationID(o.PersonaID, o.Response, o.CorrectResponse)
		observations = append(observations, o)
	}
	return observations, nil
}

// parseLabel coerces the label column to one of the two sentinels. Accepts
// the sentinels themselves or is_agree booleans.
func parseLabel(raw string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "y", "yes", "true", "1":
		return Agree, nil
	case "n", "no", "false", "0":
		return Disagree, nil
	}
	return "", fmt.Errorf("invalid label %q", raw)
}

// readCSV reads all records from path and returns the data rows plus a
// lower-cased header index.
func readCSV(path string) ([][]string, map[string]int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, &DataLoadError{Path: path, Msg: "open", Err: err}
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, nil, &DataLoadError{Path: path, Msg: "parse csv", Err: err}
	}
	if len(records) == 0 {
		return nil, nil, &DataLoadError{Path: path, Msg: "empty file"}
	}

	header := make(map[string]int, len(records[0]))
	for i, name := range records[0] {
		header[strings.ToLower(strings.TrimSpace(name))] = i
	}
	return records[1:], header, nil
}

func findColumn(header map[string]int, names []string) (int, bool) {
	for _, name := range names {
		if i, ok := header[name]; ok {
			return i, true
		}
	}
	return 0, false
}
