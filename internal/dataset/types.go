// Package dataset loads personas and labeled observations from CSV sources
// and produces the deterministic steer/test split used by the evaluation
// engine.
package dataset

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
)

// Sentinel labels for the binary agree/disagree judgment.
const (
	Agree    = "Y"
	Disagree = "N"
)

// Persona is one behavioral profile under evaluation. Immutable once loaded.
type Persona struct {
	ID          string `json:"persona_id"`
	Description string `json:"persona_description"`
	Framework   string `json:"framework"`
}

// Observation is one labeled statement belonging to exactly one persona.
// CorrectResponse is always Agree or Disagree. Scenario fields are empty in
// the statements-only variant. Immutable once loaded.
type Observation struct {
	ID              string `json:"observation_id"`
	PersonaID       string `json:"persona_id"`
	Response        string `json:"response"`
	Scenario        string `json:"scenario"`
	ScenarioID      string `json:"scenario_id"`
	CorrectResponse string `json:"correct_response"`
}

// shortHash returns the first 8 hex chars of the MD5 of text. Used for
// content-addressed persona and observation IDs so re-loading the same
// source yields stable identifiers.
func shortHash(text string) string {
	sum := md5.Sum([]byte(text))
	return hex.EncodeToString(sum[:])[:8]
}

// GeneratePersonaID derives a stable persona ID from framework and
// description, matching the ID scheme of the persona generation tooling.
func GeneratePersonaID(framework, description string) string {
	return shortHash(fmt.Sprintf("%s %s", framework, description))
}

// GenerateObservationID derives a stable observation ID from the owning
// persona, the response text and the label.
func GenerateObservationID(personaID, response, correctResponse string) string {
	return shortHash(fmt.Sprintf("%s_%s_%s", personaID, response, correctResponse))
}

// Dataset is an owned pair of persona and observation containers plus
// provenance. Observations always reference a persona present in the persona
// set; per-persona observation order is insertion order and stable across
// calls.
type Dataset struct {
	personas     []Persona
	personaByID  map[string]int
	observations map[string][]Observation

	// Provenance.
	PersonasPath     string
	ObservationsPath string
	MaxPersonas      int
	Seed             int64
}

// New assembles a Dataset from already-loaded personas and observations.
// Observations referencing unknown personas are dropped.
func New(personas []Persona, observations []Observation) *Dataset {
	d := &Dataset{
		personas:     personas,
		personaByID:  make(map[string]int, len(personas)),
		observations: make(map[string][]Observation),
	}
	for i, p := range personas {
		d.personaByID[p.ID] = i
	}
	for _, o := range observations {
		if _, ok := d.personaByID[o.PersonaID]; !ok {
			continue
		}
		d.observations[o.PersonaID] = append(d.observations[o.PersonaID], o)
	}
	return d
}

// Personas returns all personas in load order.
func (d *Dataset) Personas() []Persona {
	return d.personas
}

// Persona returns the persona with the given ID.
func (d *Dataset) Persona(id string) (Persona, bool) {
	i, ok := d.personaByID[id]
	if !ok {
		return Persona{}, false
	}
	return d.personas[i], true
}

// Observations returns all observations for a persona in insertion order.
// The returned slice must not be mutated.
func (d *Dataset) Observations(personaID string) []Observation {
	return d.observations[personaID]
}

// NumObservations returns the total observation count across all personas.
func (d *Dataset) NumObservations() int {
	n := 0
	for _, obs := range d.observations {
		n += len(obs)
	}
	return n
}

// withProvenance copies provenance fields from src.
func (d *Dataset) withProvenance(src *Dataset) *Dataset {
	d.PersonasPath = src.PersonasPath
	d.ObservationsPath = src.ObservationsPath
	d.MaxPersonas = src.MaxPersonas
	d.Seed = src.Seed
	return d
}
