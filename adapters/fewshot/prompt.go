package fewshot

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"

	"steerbench/internal/dataset"
)

//go:embed templates/preamble.tmpl
var preambleTmpl string

var preamble = template.Must(template.New("preamble").
	Funcs(template.FuncMap{"inc": func(i int) int { return i + 1 }}).
	Parse(preambleTmpl))

// renderPreamble builds the system prompt for one persona. The persona and
// observation sections are individually optional so either can be ablated.
func renderPreamble(p dataset.Persona, obs []dataset.Observation, includePersona, includeObs bool) (string, error) {
	var sb strings.Builder
	err := preamble.Execute(&sb, struct {
		Description         string
		Observations        []dataset.Observation
		IncludePersona      bool
		IncludeObservations bool
	}{
		Description:         p.Description,
		Observations:        obs,
		IncludePersona:      includePersona,
		IncludeObservations: includeObs,
	})
	if err != nil {
		return "", err
	}
	return sb.String(), nil
}

// renderQuery is the per-observation user message.
func renderQuery(obs dataset.Observation) string {
	return fmt.Sprintf("Scenario: %s\nResponse: %s", obs.Scenario, obs.Response)
}

// renderBatchQuery numbers several observations into one message and asks for
// a JSON array of verdicts in the same order.
func renderBatchQuery(obs []dataset.Observation) string {
	var sb strings.Builder
	sb.WriteString("Evaluate each of the following scenario/response pairs independently.\n\n")
	for i, o := range obs {
		fmt.Fprintf(&sb, "%d. Scenario: %s\nResponse: %s\n", i+1, o.Scenario, o.Response)
	}
	fmt.Fprintf(&sb, "\nRespond with a JSON array of exactly %d booleans, one per pair in order: true if the response is consistent with the persona, false otherwise. Respond in valid JSON and nothing else.", len(obs))
	return sb.String()
}

// decodeModelJSON parses model output that may arrive wrapped in markdown
// code fences or surrounded by prose.
func decodeModelJSON(content string, v any) error {
	s := strings.TrimSpace(content)
	if i := strings.Index(s, "```"); i >= 0 {
		s = s[i+3:]
		s = strings.TrimPrefix(s, "json")
		if j := strings.Index(s, "```"); j >= 0 {
			s = s[:j]
		}
	}
	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return fmt.Errorf("no JSON value found")
	}
	end := strings.LastIndexAny(s, "}]")
	if end < start {
		return fmt.Errorf("unterminated JSON value")
	}
	return json.Unmarshal([]byte(s[start:end+1]), v)
}
