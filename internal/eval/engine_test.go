package eval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"steerbench/internal/dataset"
	"steerbench/internal/steerable"
)

// mockBackend counts backend calls and predicts via a pluggable function.
// Default prediction is "always agree".
type mockBackend struct {
	mu           sync.Mutex
	steerCalls   int
	restoreCalls int
	inferCalls   int

	caps     steerable.Capabilities
	predict  func(steeredID string, obs dataset.Observation) string
	inferErr func(steeredID string, obs dataset.Observation) error
}

func newMockBackend() *mockBackend {
	return &mockBackend{
		caps:    steerable.Capabilities{ConcurrentSteering: true, StatePersistence: true},
		predict: func(string, dataset.Observation) string { return dataset.Agree },
	}
}

func (m *mockBackend) Capabilities() steerable.Capabilities { return m.caps }

func (m *mockBackend) Steer(_ context.Context, persona dataset.Persona, _ []dataset.Observation) (steerable.Steered, error) {
	m.mu.Lock()
	m.steerCalls++
	m.mu.Unlock()
	return &mockSteered{backend: m, persona: persona}, nil
}

func (m *mockBackend) Restore(_ context.Context, state steerable.State) (steerable.Steered, error) {
	m.mu.Lock()
	m.restoreCalls++
	m.mu.Unlock()
	var persona dataset.Persona
	if err := json.Unmarshal(state.Payload, &persona); err != nil {
		return nil, err
	}
	return &mockSteered{backend: m, persona: persona}, nil
}

func (m *mockBackend) counts() (steer, restore, infer int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.steerCalls, m.restoreCalls, m.inferCalls
}

type mockSteered struct {
	backend *mockBackend
	persona dataset.Persona
}

func (s *mockSteered) Persona() dataset.Persona { return s.persona }

func (s *mockSteered) Infer(_ context.Context, obs dataset.Observation) (string, error) {
	s.backend.mu.Lock()
	s.backend.inferCalls++
	s.backend.mu.Unlock()
	if s.backend.inferErr != nil {
		if err := s.backend.inferErr(s.persona.ID, obs); err != nil {
			return "", err
		}
	}
	return s.backend.predict(s.persona.ID, obs), nil
}

func (s *mockSteered) InferBatch(ctx context.Context, obs []dataset.Observation) ([]string, error) {
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

func (s *mockSteered) State() (steerable.State, error) {
	payload, err := json.Marshal(s.persona)
	if err != nil {
		return steerable.State{}, err
	}
	return steerable.State{Type: "mock", PersonaID: s.persona.ID, Payload: payload}, nil
}

// testDataset builds personas p0..pn-1 with the given per-persona label
// layout: agreeCount agree then disagreeCount disagree observations.
func testDataset(nPersonas, agreeCount, disagreeCount int) *dataset.Dataset {
	var personas []dataset.Persona
	var observations []dataset.Observation
	for i := 0; i < nPersonas; i++ {
		p := dataset.Persona{ID: fmt.Sprintf("p%d", i), Description: fmt.Sprintf("persona %d", i), Framework: "test"}
		personas = append(personas, p)
		for j := 0; j < agreeCount; j++ {
			resp := fmt.Sprintf("agree %d/%d", i, j)
			observations = append(observations, dataset.Observation{
				ID:        dataset.GenerateObservationID(p.ID, resp, dataset.Agree),
				PersonaID: p.ID, Response: resp, CorrectResponse: dataset.Agree,
			})
		}
		for j := 0; j < disagreeCount; j++ {
			resp := fmt.Sprintf("disagree %d/%d", i, j)
			observations = append(observations, dataset.Observation{
				ID:        dataset.GenerateObservationID(p.ID, resp, dataset.Disagree),
				PersonaID: p.ID, Response: resp, CorrectResponse: dataset.Disagree,
			})
		}
	}
	return dataset.New(personas, observations)
}

func testConfig(t *testing.T, name string) Config {
	t.Helper()
	cfg := Config{
		SteerableSystemType: "mock",
		PersonasPath:        "personas.csv",
		ObservationsPath:    "observations.csv",
		OutputBaseDir:       t.TempDir(),
		ExperimentName:      name,
		RetryBaseDelayMS:    1,
	}
	return cfg.WithDefaults()
}

func TestEngine_RunToCompletion(t *testing.T) {
	// 5 agree / 5 disagree per persona; steer takes 2+2, test set is 3/3.
	// The always-agree backend scores exactly 0.5 on every pair.
	data := testDataset(3, 5, 5)
	backend := newMockBackend()
	cfg := testConfig(t, "complete")

	engine, err := NewEngine(cfg, backend, data)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	if engine.Phase() != PhaseCreated {
		t.Errorf("initial phase = %s, want %s", engine.Phase(), PhaseCreated)
	}
	if err := engine.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if engine.Phase() != PhaseComplete {
		t.Errorf("final phase = %s, want %s", engine.Phase(), PhaseComplete)
	}

	matrix := engine.Experiment().ScoreMatrix()
	if len(matrix) != 3 {
		t.Fatalf("matrix rows = %d, want 3", len(matrix))
	}
	for steered, row := range matrix {
		if len(row) != 3 {
			t.Fatalf("row %s has %d cells, want 3", steered, len(row))
		}
		for test, score := range row {
			if score != 0.5 {
				t.Errorf("score[%s][%s] = %v, want 0.5", steered, test, score)
			}
		}
	}

	steer, _, _ := backend.counts()
	if steer != 3 {
		t.Errorf("steer calls = %d, want 3", steer)
	}
}

func TestEngine_AllAgreeTestSetScoresOne(t *testing.T) {
	// 8 agree / 2 disagree: steer takes 2+2, leaving a 6 agree / 0 disagree
	// test set. The always-agree backend must score exactly 1.0.
	data := testDataset(1, 8, 2)
	backend := newMockBackend()
	cfg := testConfig(t, "all-agree")

	engine, err := NewEngine(cfg, backend, data)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	if err := engine.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	matrix := engine.Experiment().ScoreMatrix()
	if got := matrix["p0"]["p0"]; got != 1.0 {
		t.Errorf("score = %v, want 1.0", got)
	}
}

func TestEngine_ScoreIsExactFraction(t *testing.T) {
	// Backend agrees only with responses containing "agree 0/0": per persona
	// test set of 6 (3 agree / 3 disagree), the correct answers are the 3
	// disagrees plus at most one agree.
	data := testDataset(1, 5, 5)
	backend := newMockBackend()
	backend.predict = func(_ string, obs dataset.Observation) string {
		if obs.Response == "agree 0/0" {
			return dataset.Agree
		}
		return dataset.Disagree
	}
	cfg := testConfig(t, "fraction")

	engine, err := NewEngine(cfg, backend, data)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	if err := engine.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	// Count expected correct answers against the actual test split.
	_, testSet, err := data.Split(cfg.SteerObservationsPerPersona, cfg.RandomSeed)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	obs := testSet.Observations("p0")
	correct := 0
	for _, o := range obs {
		predicted := dataset.Disagree
		if o.Response == "agree 0/0" {
			predicted = dataset.Agree
		}
		if predicted == o.CorrectResponse {
			correct++
		}
	}
	want := float64(correct) / float64(len(obs))

	if got := engine.Experiment().ScoreMatrix()["p0"]["p0"]; got != want {
		t.Errorf("score = %v, want exact fraction %v", got, want)
	}
}

func TestEngine_ResumeIdempotence(t *testing.T) {
	data := testDataset(3, 5, 5)
	backend := newMockBackend()
	cfg := testConfig(t, "resume")

	engine, err := NewEngine(cfg, backend, data)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	if err := engine.Run(context.Background()); err != nil {
		t.Fatalf("first Run: %v", err)
	}
	firstMatrix := engine.Experiment().ScoreMatrix()
	steerBefore, _, inferBefore := backend.counts()

	cfg.Resume = true
	resumed, err := NewEngine(cfg, backend, data)
	if err != nil {
		t.Fatalf("NewEngine(resume): %v", err)
	}
	if err := resumed.Run(context.Background()); err != nil {
		t.Fatalf("resumed Run: %v", err)
	}

	steerAfter, restoreAfter, inferAfter := backend.counts()
	if steerAfter != steerBefore {
		t.Errorf("resume recalibrated: steer calls %d -> %d", steerBefore, steerAfter)
	}
	if restoreAfter != 3 {
		t.Errorf("restore calls = %d, want 3", restoreAfter)
	}
	if inferAfter != inferBefore {
		t.Errorf("resume re-queried the backend: infer calls %d -> %d", inferBefore, inferAfter)
	}
	if diff := cmp.Diff(firstMatrix, resumed.Experiment().ScoreMatrix()); diff != "" {
		t.Errorf("score matrix changed across resume:\n%s", diff)
	}
}

func TestEngine_ResumePartial(t *testing.T) {
	// 2 of 9 pairs persisted, all snapshots present: resume must calibrate
	// nothing and compute exactly the remaining 7 pairs.
	data := testDataset(3, 5, 5)
	backend := newMockBackend()
	cfg := testConfig(t, "partial")

	exp, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	for _, p := range data.Personas() {
		steered, _ := backend.Steer(context.Background(), p, nil)
		state, _ := steered.State()
		if err := exp.SetState(p.ID, state); err != nil {
			t.Fatalf("SetState: %v", err)
		}
	}
	if err := exp.SetScore("p0", "p0", 0.5); err != nil {
		t.Fatalf("SetScore: %v", err)
	}
	if err := exp.SetScore("p0", "p1", 0.5); err != nil {
		t.Fatalf("SetScore: %v", err)
	}

	steerBefore, _, _ := backend.counts()

	cfg.Resume = true
	engine, err := NewEngine(cfg, backend, data)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	if err := engine.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	steerAfter, _, infer := backend.counts()
	if steerAfter != steerBefore {
		t.Errorf("resume calibrated %d new instances, want 0", steerAfter-steerBefore)
	}
	// 7 remaining pairs x 6 test observations each.
	if infer != 7*6 {
		t.Errorf("infer calls = %d, want %d", infer, 7*6)
	}
	if got := engine.Experiment().NumScores(); got != 9 {
		t.Errorf("completed pairs = %d, want 9", got)
	}
}

func TestEngine_InferenceErrorContainedToPair(t *testing.T) {
	data := testDataset(3, 5, 5)
	backend := newMockBackend()
	backend.inferErr = func(steeredID string, obs dataset.Observation) error {
		if steeredID == "p1" && obs.PersonaID == "p2" {
			return &steerable.InferenceError{PersonaID: steeredID, ObservationID: obs.ID, Msg: "wrong schema"}
		}
		return nil
	}
	cfg := testConfig(t, "contained")

	engine, err := NewEngine(cfg, backend, data)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	if err := engine.Run(context.Background()); err != nil {
		t.Fatalf("Run must contain per-pair failures, got: %v", err)
	}

	exp := engine.Experiment()
	if exp.HasScore("p1", "p2") {
		t.Error("failing pair must be left unset")
	}
	if got := exp.NumScores(); got != 8 {
		t.Errorf("completed pairs = %d, want 8", got)
	}
}

func TestEngine_ConcurrentRun(t *testing.T) {
	data := testDataset(4, 5, 5)
	backend := newMockBackend()
	cfg := testConfig(t, "concurrent")
	cfg.RunConcurrent = true
	cfg.MaxConcurrent = 4

	engine, err := NewEngine(cfg, backend, data)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	if err := engine.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := engine.Experiment().NumScores(); got != 16 {
		t.Errorf("completed pairs = %d, want 16", got)
	}
}

func TestEngine_TransientErrorsRetried(t *testing.T) {
	data := testDataset(1, 5, 5)
	backend := newMockBackend()
	var failures sync.Map
	backend.inferErr = func(steeredID string, obs dataset.Observation) error {
		// Fail each observation exactly once.
		if _, seen := failures.LoadOrStore(obs.ID, true); !seen {
			return steerable.Transient("infer", errors.New("rate limited"))
		}
		return nil
	}
	cfg := testConfig(t, "transient")

	engine, err := NewEngine(cfg, backend, data)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	if err := engine.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := engine.Experiment().ScoreMatrix()["p0"]["p0"]; got != 0.5 {
		t.Errorf("score = %v, want 0.5 after retries", got)
	}
}
