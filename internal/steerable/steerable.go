// Package steerable defines the two-phase contract every behavior-prediction
// backend implements: calibrate once per persona (Steer), then answer binary
// queries about unseen observations (Infer). The evaluation engine depends
// only on these interfaces and the capability flags, never on a concrete
// backend type.
package steerable

import (
	"context"
	"encoding/json"

	"steerbench/internal/dataset"
)

// Capabilities advertises optional backend behavior. Callers branch on these
// flags, never on the concrete implementation.
type Capabilities struct {
	// ConcurrentSteering: Steer and Restore may be called concurrently for
	// different personas.
	ConcurrentSteering bool
	// BatchInference: the Steered instances support InferBatch.
	BatchInference bool
	// StatePersistence: Steered instances expose a snapshot via State and the
	// factory can rebuild them via Restore without re-running calibration.
	StatePersistence bool
}

// Steerable is the factory/calibrator role.
type Steerable interface {
	Capabilities() Capabilities

	// Steer calibrates a new instance to the persona using its steer-set
	// observations. The observations are read-only for the backend.
	Steer(ctx context.Context, persona dataset.Persona, steerObs []dataset.Observation) (Steered, error)

	// Restore rebuilds a steered instance from a persisted snapshot without
	// repeating calibration. Only meaningful when StatePersistence is set.
	Restore(ctx context.Context, state State) (Steered, error)
}

// Steered is one calibrated instance. Infer always returns one of the two
// sentinel labels; any internal representation is coerced before returning.
type Steered interface {
	Persona() dataset.Persona

	Infer(ctx context.Context, obs dataset.Observation) (string, error)

	// InferBatch answers several observations in one backend round trip,
	// returning labels in input order. Callers must check the factory's
	// BatchInference capability first.
	InferBatch(ctx context.Context, obs []dataset.Observation) ([]string, error)

	// State returns the serializable calibration snapshot. Only meaningful
	// when the factory reports StatePersistence.
	State() (State, error)
}

// State is the tagged-variant snapshot of one steered instance. Type names
// the backend that owns the payload encoding; the engine treats the payload
// as opaque.
type State struct {
	Type      string          `json:"state_type"`
	PersonaID string          `json:"persona_id"`
	Payload   json.RawMessage `json:"payload"`
}
