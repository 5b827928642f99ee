package eval

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"steerbench/internal/dataset"
	"steerbench/internal/logging"
	"steerbench/internal/retry"
	"steerbench/internal/steerable"
)

// Phase is the engine's position in its lifecycle.
type Phase string

const (
	PhaseCreated     Phase = "CREATED"
	PhaseCalibrating Phase = "CALIBRATING"
	PhaseTesting     Phase = "TESTING"
	PhaseComplete    Phase = "COMPLETE"
)

// Engine evaluates one steerable backend against a dataset: calibrate one
// steered instance per persona, then test every instance on every persona's
// test set, persisting each pair's outcome as soon as it completes.
type Engine struct {
	cfg      Config
	backend  steerable.Steerable
	data     *dataset.Dataset
	steerSet *dataset.Dataset
	testSet  *dataset.Dataset
	exp      *Experiment
	policy   retry.Policy
	logger   *slog.Logger

	mu      sync.Mutex
	phase   Phase
	steered map[string]steerable.Steered
}

// NewEngine splits the dataset and opens (or resumes) the experiment
// directory. cfg must already be defaulted and validated.
func NewEngine(cfg Config, backend steerable.Steerable, data *dataset.Dataset) (*Engine, error) {
	steerSet, testSet, err := data.Split(cfg.SteerObservationsPerPersona, cfg.RandomSeed)
	if err != nil {
		return nil, err
	}
	exp, err := Open(cfg)
	if err != nil {
		return nil, err
	}
	return &Engine{
		cfg:      cfg,
		backend:  backend,
		data:     data,
		steerSet: steerSet,
		testSet:  testSet,
		exp:      exp,
		policy:   cfg.RetryPolicy(),
		logger:   logging.New("eval"),
		phase:    PhaseCreated,
		steered:  make(map[string]steerable.Steered),
	}, nil
}

// Experiment exposes the engine's durable state, e.g. for scoring.
func (e *Engine) Experiment() *Experiment { return e.exp }

// Phase returns the engine's current lifecycle phase.
func (e *Engine) Phase() Phase {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.phase
}

func (e *Engine) setPhase(p Phase) {
	e.mu.Lock()
	e.phase = p
	e.mu.Unlock()
	e.logger.Info("phase", "phase", string(p))
}

// Run drives the experiment to completion: CREATED -> CALIBRATING ->
// TESTING -> COMPLETE. A terminated process leaves durable per-pair state
// behind; re-running with resume completes only the unset cells.
func (e *Engine) Run(ctx context.Context) error {
	e.setPhase(PhaseCalibrating)
	if err := e.calibrate(ctx); err != nil {
		return fmt.Errorf("calibration: %w", err)
	}

	e.setPhase(PhaseTesting)
	if err := e.test(ctx); err != nil {
		return fmt.Errorf("testing: %w", err)
	}

	e.setPhase(PhaseComplete)
	return nil
}

// concurrency is the bound for both phases; sequential mode is a limit of 1.
func (e *Engine) concurrency() int {
	if !e.cfg.RunConcurrent {
		return 1
	}
	return e.cfg.MaxConcurrent
}

// calibrate produces exactly one steered instance per persona, restoring
// from persisted snapshots where they exist. Parallel only when the backend
// declares steering concurrency-safe.
func (e *Engine) calibrate(ctx context.Context) error {
	personas := e.data.Personas()

	if e.backend.Capabilities().ConcurrentSteering && e.cfg.RunConcurrent {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(e.concurrency())
		for _, p := range personas {
			g.Go(func() error { return e.calibratePersona(gctx, p) })
		}
		return g.Wait()
	}

	for _, p := range personas {
		if err := e.calibratePersona(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

// calibratePersona restores or freshly calibrates one persona. New snapshots
// are written through before returning, so a crash mid-calibration loses at
// most one persona's progress.
func (e *Engine) calibratePersona(ctx context.Context, p dataset.Persona) error {
	caps := e.backend.Capabilities()

	if caps.StatePersistence {
		if state, ok := e.exp.State(p.ID); ok {
			e.logger.Info("restoring steered instance", "persona", p.ID)
			var inst steerable.Steered
			err := e.policy.Do(ctx, e.logger, "restore", func() error {
				var err error
				inst, err = e.backend.Restore(ctx, state)
				return err
			})
			if err != nil {
				return fmt.Errorf("restore persona %s: %w", p.ID, err)
			}
			e.setSteered(p.ID, inst)
			return nil
		}
	}

	e.logger.Info("calibrating steered instance", "persona", p.ID, "description", p.Description)
	steerObs := e.steerSet.Observations(p.ID)
	var inst steerable.Steered
	err := e.policy.Do(ctx, e.logger, "steer", func() error {
		var err error
		inst, err = e.backend.Steer(ctx, p, steerObs)
		return err
	})
	if err != nil {
		return fmt.Errorf("calibrate persona %s: %w", p.ID, err)
	}

	if caps.StatePersistence {
		state, err := inst.State()
		if err != nil {
			return fmt.Errorf("snapshot persona %s: %w", p.ID, err)
		}
		if err := e.exp.SetState(p.ID, state); err != nil {
			return fmt.Errorf("persist snapshot for persona %s: %w", p.ID, err)
		}
	}
	e.setSteered(p.ID, inst)
	return nil
}

func (e *Engine) setSteered(personaID string, inst steerable.Steered) {
	e.mu.Lock()
	e.steered[personaID] = inst
	e.mu.Unlock()
}

// test walks the full steered x test Cartesian product. Completed cells are
// skipped; a pair failure is contained, logged, and left unset for the next
// resume. Pairs are independent and may complete in any order.
func (e *Engine) test(ctx context.Context) error {
	personas := e.data.Personas()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency())

	for _, steeredPersona := range personas {
		e.mu.Lock()
		inst := e.steered[steeredPersona.ID]
		e.mu.Unlock()
		if inst == nil {
			return fmt.Errorf("no steered instance for persona %s", steeredPersona.ID)
		}

		for _, testPersona := range personas {
			if e.exp.HasScore(steeredPersona.ID, testPersona.ID) {
				continue
			}
			sp, tp := steeredPersona, testPersona
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				if err := e.evalPair(gctx, inst, sp, tp); err != nil {
					e.logger.Error("pair evaluation failed",
						"steered", sp.ID, "test", tp.ID, "error", err)
				}
				return nil
			})
		}
	}
	return g.Wait()
}

// evalPair tests one steered instance against one persona's test set,
// truncated to MaxObservations. Cached responses are reused without backend
// calls. On success the full response map and the accuracy score are
// persisted before returning.
func (e *Engine) evalPair(ctx context.Context, inst steerable.Steered, steeredPersona, testPersona dataset.Persona) error {
	obs := e.testSet.Observations(testPersona.ID)
	if len(obs) > e.cfg.MaxObservations {
		obs = obs[:e.cfg.MaxObservations]
	}
	if len(obs) == 0 {
		return fmt.Errorf("persona %s has no test observations", testPersona.ID)
	}

	e.logger.Info("testing pair", "steered", steeredPersona.ID, "test", testPersona.ID, "observations", len(obs))

	records := make(map[string]ResponseRecord, len(obs))
	var pending []dataset.Observation
	for _, o := range obs {
		if rec, ok := e.exp.Response(steeredPersona.ID, testPersona.ID, o.ID); ok {
			records[o.ID] = rec
			continue
		}
		pending = append(pending, o)
	}

	var err error
	if e.backend.Capabilities().BatchInference && e.cfg.InferenceBatchSize > 1 {
		err = e.inferBatched(ctx, inst, steeredPersona, pending, records)
	} else {
		err = e.inferSingly(ctx, inst, steeredPersona, pending, records)
	}
	if err != nil {
		return err
	}

	correct := 0
	for _, rec := range records {
		if rec.Response == rec.CorrectResponse {
			correct++
		}
	}
	score := float64(correct) / float64(len(obs))

	if err := e.exp.SetResponses(steeredPersona.ID, testPersona.ID, records); err != nil {
		return fmt.Errorf("persist responses: %w", err)
	}
	if err := e.exp.SetScore(steeredPersona.ID, testPersona.ID, score); err != nil {
		return fmt.Errorf("persist score: %w", err)
	}

	e.logger.Info("pair complete", "steered", steeredPersona.ID, "test", testPersona.ID,
		"score", score, "correct", correct, "evaluated", len(obs))
	return nil
}

func (e *Engine) inferSingly(ctx context.Context, inst steerable.Steered, steeredPersona dataset.Persona, pending []dataset.Observation, records map[string]ResponseRecord) error {
	for _, o := range pending {
		var label string
		err := e.policy.Do(ctx, e.logger, "infer", func() error {
			var err error
			label, err = inst.Infer(ctx, o)
			return err
		})
		if err != nil {
			return err
		}
		if err := validLabel(label, steeredPersona.ID, o.ID); err != nil {
			return err
		}
		records[o.ID] = ResponseRecord{Response: label, CorrectResponse: o.CorrectResponse}
	}
	return nil
}

func (e *Engine) inferBatched(ctx context.Context, inst steerable.Steered, steeredPersona dataset.Persona, pending []dataset.Observation, records map[string]ResponseRecord) error {
	size := e.cfg.InferenceBatchSize
	for start := 0; start < len(pending); start += size {
		end := start + size
		if end > len(pending) {
			end = len(pending)
		}
		chunk := pending[start:end]

		var labels []string
		err := e.policy.Do(ctx, e.logger, "infer_batch", func() error {
			var err error
			labels, err = inst.InferBatch(ctx, chunk)
			return err
		})
		if err != nil {
			return err
		}
		if len(labels) != len(chunk) {
			return &steerable.InferenceError{
				PersonaID: steeredPersona.ID,
				Msg:       fmt.Sprintf("batch returned %d labels for %d observations", len(labels), len(chunk)),
			}
		}
		for i, o := range chunk {
			if err := validLabel(labels[i], steeredPersona.ID, o.ID); err != nil {
				return err
			}
			records[o.ID] = ResponseRecord{Response: labels[i], CorrectResponse: o.CorrectResponse}
		}
	}
	return nil
}

// validLabel enforces the sentinel-only contract on backend output.
func validLabel(label, personaID, observationID string) error {
	if label != dataset.Agree && label != dataset.Disagree {
		return &steerable.InferenceError{
			PersonaID:     personaID,
			ObservationID: observationID,
			Msg:           fmt.Sprintf("backend returned %q, want %q or %q", label, dataset.Agree, dataset.Disagree),
		}
	}
	return nil
}
