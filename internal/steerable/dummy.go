package steerable

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"

	"steerbench/internal/dataset"
)

const dummyStateType = "dummy"

func init() {
	Register("dummy", func(config map[string]any) (Steerable, error) {
		return NewDummy(), nil
	})
}

// Dummy is a backend for smoke runs and tests. Predictions are a pure
// function of (steered persona, response text), so runs are reproducible and
// need no external service.
type Dummy struct{}

// NewDummy returns the dummy backend.
func NewDummy() *Dummy { return &Dummy{} }

func (d *Dummy) Capabilities() Capabilities {
	return Capabilities{ConcurrentSteering: true, BatchInference: true, StatePersistence: true}
}

func (d *Dummy) Steer(_ context.Context, persona dataset.Persona, steerObs []dataset.Observation) (Steered, error) {
	return &dummySteered{persona: persona, steerObs: steerObs}, nil
}

func (d *Dummy) Restore(_ context.Context, state State) (Steered, error) {
	if state.Type != dummyStateType {
		return nil, fmt.Errorf("dummy: cannot restore state of type %q", state.Type)
	}
	var payload dummyState
	if err := json.Unmarshal(state.Payload, &payload); err != nil {
		return nil, fmt.Errorf("dummy: decode state: %w", err)
	}
	return &dummySteered{
		persona: dataset.Persona{
			ID:          state.PersonaID,
			Description: payload.PersonaDescription,
			Framework:   payload.PersonaFramework,
		},
	}, nil
}

type dummyState struct {
	PersonaDescription string `json:"persona_description"`
	PersonaFramework   string `json:"persona_framework"`
}

type dummySteered struct {
	persona  dataset.Persona
	steerObs []dataset.Observation
}

func (s *dummySteered) Persona() dataset.Persona { return s.persona }

func (s *dummySteered) Infer(_ context.Context, obs dataset.Observation) (string, error) {
	h := fnv.New32a()
	fmt.Fprintf(h, "%s|%s", s.persona.ID, obs.Response)
	if h.Sum32()%2 == 0 {
		return dataset.Agree, nil
	}
	return dataset.Disagree, nil
}

func (s *dummySteered) InferBatch(ctx context.Context, obs []dataset.Observation) ([]string, error) {
	labels := make([]string, len(obs))
	for i, o := range obs {
		label, err := s.Infer(ctx, o)
		if err != nil {
			return nil, err
		}
		labels[i] = label
	}
	return labels, nil
}

func (s *dummySteered) State() (State, error) {
	payload, err := json.Marshal(dummyState{
		PersonaDescription: s.persona.Description,
		PersonaFramework:   s.persona.Framework,
	})
	if err != nil {
		return State{}, err
	}
	return State{Type: dummyStateType, PersonaID: s.persona.ID, Payload: payload}, nil
}
