package eval

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"steerbench/internal/logging"
	"steerbench/internal/steerable"
)

// ConfigConflictError reports a fresh run aimed at an existing experiment
// directory without resume. Surfaced before any work begins so an existing
// run is never silently overwritten.
type ConfigConflictError struct {
	Dir string
}

func (e *ConfigConflictError) Error() string {
	return fmt.Sprintf("experiment directory %s already exists; pass resume to continue it", e.Dir)
}

// ResponseRecord is one persisted inference outcome: the predicted label and
// the ground-truth label for a single observation.
type ResponseRecord struct {
	Response        string `json:"response"`
	CorrectResponse string `json:"correct_response"`
}

// Experiment is the durable identity of one run: a named directory holding
// the score matrix, per-observation responses, steered-state snapshots and a
// copy of the configuration. In-memory maps are caches over the files; every
// mutation writes through to disk, so partial progress survives a crash. A
// single process owns a directory at a time; there is no cross-process lock.
type Experiment struct {
	Name string
	Dir  string

	mu        sync.Mutex
	scores    map[string]map[string]float64                   // steered -> test -> accuracy
	responses map[string]map[string]map[string]ResponseRecord // steered -> test -> observation -> record
	states    map[string]steerable.State                      // persona -> snapshot
}

// Open creates or resumes the experiment directory for cfg. A fresh run into
// an existing directory is a ConfigConflictError. The configuration is
// persisted immediately on creation, before any calibration, so a crash
// right after directory creation still leaves a reproducible config.
func Open(cfg Config) (*Experiment, error) {
	logger := logging.New("experiment")
	dir := filepath.Join(cfg.OutputBaseDir, cfg.ExperimentName)

	if _, err := os.Stat(dir); err == nil && !cfg.Resume {
		return nil, &ConfigConflictError{Dir: dir}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create experiment dir: %w", err)
	}

	e := &Experiment{
		Name:      cfg.ExperimentName,
		Dir:       dir,
		scores:    make(map[string]map[string]float64),
		responses: make(map[string]map[string]map[string]ResponseRecord),
		states:    make(map[string]steerable.State),
	}

	if cfg.Resume {
		if err := e.loadState(); err != nil {
			return nil, err
		}
		logger.Info("experiment resumed", "name", e.Name, "dir", dir,
			"pairs", e.NumScores(), "snapshots", e.NumStates())
	} else {
		logger.Info("experiment created", "name", e.Name, "dir", dir)
	}

	// Written once at creation; resume keeps the original copy.
	if _, err := os.Stat(e.configPath()); os.IsNotExist(err) {
		if err := writeJSON(e.configPath(), cfg); err != nil {
			return nil, fmt.Errorf("persist config: %w", err)
		}
	}
	return e, nil
}

func (e *Experiment) configPath() string {
	return filepath.Join(e.Dir, fmt.Sprintf("config_%s.json", e.Name))
}

func (e *Experiment) scoresPath() string {
	return filepath.Join(e.Dir, fmt.Sprintf("scores_%s.json", e.Name))
}

func (e *Experiment) responsesPath() string {
	return filepath.Join(e.Dir, fmt.Sprintf("responses_%s.json", e.Name))
}

func (e *Experiment) statesPath() string {
	return filepath.Join(e.Dir, fmt.Sprintf("steered_states_%s.json", e.Name))
}

// loadState populates the in-memory caches from whatever files exist.
func (e *Experiment) loadState() error {
	if err := readJSONIfExists(e.scoresPath(), &e.scores); err != nil {
		return err
	}
	if err := readJSONIfExists(e.responsesPath(), &e.responses); err != nil {
		return err
	}
	return readJSONIfExists(e.statesPath(), &e.states)
}

// HasScore reports whether the (steered, test) cell is already durable. A
// persisted cell is final and never recomputed within a run.
func (e *Experiment) HasScore(steeredID, testID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.scores[steeredID][testID]
	return ok
}

// SetScore records the accuracy for a pair and writes the score file through
// to disk before returning.
func (e *Experiment) SetScore(steeredID, testID string, score float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.scores[steeredID] == nil {
		e.scores[steeredID] = make(map[string]float64)
	}
	e.scores[steeredID][testID] = score
	return writeJSON(e.scoresPath(), e.scores)
}

// ScoreMatrix returns a deep copy of the persisted score matrix.
func (e *Experiment) ScoreMatrix() map[string]map[string]float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]map[string]float64, len(e.scores))
	for steered, row := range e.scores {
		cp := make(map[string]float64, len(row))
		for test, v := range row {
			cp[test] = v
		}
		out[steered] = cp
	}
	return out
}

// Response returns the cached record for one observation of a pair, if any.
func (e *Experiment) Response(steeredID, testID, observationID string) (ResponseRecord, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	rec, ok := e.responses[steeredID][testID][observationID]
	return rec, ok
}

// SetResponses records the full response map for a pair and writes through.
func (e *Experiment) SetResponses(steeredID, testID string, records map[string]ResponseRecord) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.responses[steeredID] == nil {
		e.responses[steeredID] = make(map[string]map[string]ResponseRecord)
	}
	e.responses[steeredID][testID] = records
	return writeJSON(e.responsesPath(), e.responses)
}

// State returns the persisted calibration snapshot for a persona, if any.
func (e *Experiment) State(personaID string) (steerable.State, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.states[personaID]
	return st, ok
}

// SetState persists a calibration snapshot, written through before the next
// persona is calibrated so a crash loses at most one persona's progress.
func (e *Experiment) SetState(personaID string, state steerable.State) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.states[personaID] = state
	return writeJSON(e.statesPath(), e.states)
}

// NumScores returns the number of durable matrix cells.
func (e *Experiment) NumScores() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, row := range e.scores {
		n += len(row)
	}
	return n
}

// NumStates returns the number of persisted calibration snapshots.
func (e *Experiment) NumStates() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.states)
}

// LoadScores reads a score matrix straight from an experiment directory,
// without opening the experiment for writing. Used by the scorer and the
// status surface.
func LoadScores(dir, name string) (map[string]map[string]float64, error) {
	path := filepath.Join(dir, fmt.Sprintf("scores_%s.json", name))
	scores := make(map[string]map[string]float64)
	if err := readJSONIfExists(path, &scores); err != nil {
		return nil, err
	}
	return scores, nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	return os.WriteFile(path, data, 0o644)
}

func readJSONIfExists(path string, v any) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	return nil
}
